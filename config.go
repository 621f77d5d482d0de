package kldd

import (
	"io"
	"log/slog"
)

// SearchRoots are the two directories a module's dependencies are looked up in.
//
// Index 0 is the platform-specific kernel tree and also holds the unix
// image; index 1 is the generic kernel tree and holds genunix. Both are always
// checked, the order only affects the order of reported paths.
type SearchRoots [2]string

// DefaultSearchRoots is where the kernel loader looks for modules.
var DefaultSearchRoots = SearchRoots{
	"/platform/i86pc/kernel",
	"/kernel",
}

// ExistsFunc reports whether a path exists.
type ExistsFunc func(path string) bool

// inspectConfig holds the configuration for an [Inspector].
type inspectConfig struct {
	roots  SearchRoots
	exists ExistsFunc
	logger *slog.Logger
	btf    bool
}

// Option configures an [Inspector].
type Option func(*inspectConfig)

// WithSearchRoots replaces [DefaultSearchRoots].
func WithSearchRoots(platform, generic string) Option {
	return func(c *inspectConfig) {
		c.roots = SearchRoots{platform, generic}
	}
}

// WithExistenceCheck replaces the access(2) based existence check.
func WithExistenceCheck(fn ExistsFunc) Option {
	return func(c *inspectConfig) {
		if fn != nil {
			c.exists = fn
		}
	}
}

// WithLogger sets the logger used for debug tracing and close failures.
func WithLogger(logger *slog.Logger) Option {
	return func(c *inspectConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithBTF also reports whether each module carries BTF type information.
func WithBTF() Option {
	return func(c *inspectConfig) {
		c.btf = true
	}
}

func newInspectConfig(opts ...Option) *inspectConfig {
	cfg := &inspectConfig{
		roots:  DefaultSearchRoots,
		exists: pathExists,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
