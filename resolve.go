package kldd

import (
	"errors"
	"fmt"
	"strings"
)

// Platform limits enforced on candidate paths.
const (
	MaxPathLen = 4096 // PATH_MAX, including the terminating NUL
	MaxNameLen = 255  // NAME_MAX
)

// ErrPathTooLong is returned for candidates that exceed [MaxPathLen] or [MaxNameLen].
var ErrPathTooLong = errors.New("path too long")

// 64-bit modules live in an amd64 subdirectory of each module directory.
const archDir = "amd64"

// Parent kernel images, reported for every module.
const (
	UnixParent    = "unix (parent)"
	GenunixParent = "genunix (parent dependency)"
)

// ModulePath returns the name used to look dependency name up for class.
//
// For 64-bit modules a name with a directory component gets amd64 inserted
// after its first component ("misc/foo" becomes "misc/amd64/foo"). Names
// without a '/' and all 32-bit names are returned unchanged.
func ModulePath(name string, class Class) string {
	if class != Class64 {
		return name
	}
	dir, rest, ok := strings.Cut(name, "/")
	if !ok {
		return name
	}
	var b strings.Builder
	b.Grow(len(name) + len(archDir) + 1)
	b.WriteString(dir)
	b.WriteByte('/')
	b.WriteString(archDir)
	b.WriteByte('/')
	b.WriteString(rest)
	return b.String()
}

// Candidates returns the path name would have under each root, in root order.
func (r SearchRoots) Candidates(name string, class Class) []string {
	rel := ModulePath(name, class)
	out := make([]string, 0, len(r))
	for _, root := range r {
		out = append(out, joinRoot(root, rel))
	}
	return out
}

// Resolve returns every existing candidate for the dependency name.
//
// Each root is checked independently. Candidates that break the platform path
// limits are not checked; they are reported through the returned error, which
// may accompany resolved paths from the other root.
func (r SearchRoots) Resolve(name string, class Class, exists ExistsFunc) ([]ResolvedPath, error) {
	var (
		found []ResolvedPath
		errs  []error
	)
	for _, p := range r.Candidates(name, class) {
		if err := checkPathLimits(p); err != nil {
			errs = append(errs, err)
			continue
		}
		if exists(p) {
			found = append(found, ResolvedPath{Name: name, Path: p})
		}
	}
	return found, errors.Join(errs...)
}

// Parents returns the parent kernel images that exist for class.
func (r SearchRoots) Parents(class Class, exists ExistsFunc) []ResolvedPath {
	unix, genunix := "unix", "genunix"
	if class == Class64 {
		unix = archDir + "/" + unix
		genunix = archDir + "/" + genunix
	}

	var found []ResolvedPath
	if p := joinRoot(r[0], unix); exists(p) {
		found = append(found, ResolvedPath{Name: UnixParent, Path: p})
	}
	if p := joinRoot(r[1], genunix); exists(p) {
		found = append(found, ResolvedPath{Name: GenunixParent, Path: p})
	}
	return found
}

// joinRoot concatenates without cleaning, so reported paths are exactly
// root/rel.
func joinRoot(root, rel string) string {
	return root + "/" + rel
}

func checkPathLimits(p string) error {
	if len(p) >= MaxPathLen {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrPathTooLong, len(p), MaxPathLen-1)
	}
	for _, c := range strings.Split(p, "/") {
		if len(c) > MaxNameLen {
			return fmt.Errorf("%w: component of %d bytes (max %d)", ErrPathTooLong, len(c), MaxNameLen)
		}
	}
	return nil
}
