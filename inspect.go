package kldd

import (
	"errors"
	"log/slog"
)

// Inspector resolves the dependencies of kernel module files.
//
// An Inspector holds no per-file state and may be used from several
// goroutines at once.
type Inspector struct {
	cfg *inspectConfig
}

// NewInspector returns an Inspector configured by opts.
// Without options it searches [DefaultSearchRoots] using access(2).
func NewInspector(opts ...Option) *Inspector {
	return &Inspector{cfg: newInspectConfig(opts...)}
}

// Roots returns the search roots in use.
func (in *Inspector) Roots() SearchRoots {
	return in.cfg.roots
}

// Inspect opens path, walks its dynamic sections and resolves every declared
// dependency followed by the parent kernel images.
//
// Inspect never returns nil. Failures are recorded in [Report.Err] together
// with whatever was resolved before the failure.
func (in *Inspector) Inspect(path string) *Report {
	logger := in.cfg.logger
	r := &Report{Path: path}

	img, err := openImage(path, logger)
	if err != nil {
		r.Err = toModuleError(path, err)
		return r
	}
	defer func() {
		if err := img.Close(); err != nil {
			logger.Warn("error closing module file", slog.String("path", path), slog.Any("error", err))
		}
	}()

	r.Class = img.Class
	r.Type = img.Type

	exists := in.tracedExists(path)
	names, walkErr := img.NeededDependencies(img.DynamicSections())
	for _, name := range names {
		found, err := in.cfg.roots.Resolve(name, img.Class, exists)
		r.Dependencies = append(r.Dependencies, found...)
		if err != nil {
			r.Warnings = append(r.Warnings, &ModuleError{Path: path, Kind: KindFormat, Reason: name + ": " + err.Error(), Err: err})
		}
	}
	if walkErr != nil {
		r.Err = toModuleError(path, walkErr)
		return r
	}

	r.Parents = in.cfg.roots.Parents(img.Class, exists)

	if in.cfg.btf {
		res := probeBTF(img)
		r.BTF = &res
	}
	return r
}

func (in *Inspector) tracedExists(module string) ExistsFunc {
	logger := in.cfg.logger
	return func(p string) bool {
		ok := in.cfg.exists(p)
		logger.Debug("candidate", slog.String("module", module), slog.String("path", p), slog.Bool("exists", ok))
		return ok
	}
}

// toModuleError classifies err for path.
func toModuleError(path string, err error) *ModuleError {
	var me *ModuleError
	if errors.As(err, &me) {
		return me
	}

	kind := KindFormat
	if errors.Is(err, ErrSectionTableTooLarge) {
		kind = KindAllocation
	}
	reason := err.Error()
	if errors.Is(err, ErrNotKernelModule) {
		reason = ErrNotKernelModule.Error()
	}
	return &ModuleError{Path: path, Kind: kind, Reason: reason, Err: err}
}
