package kldd

import (
	"debug/elf"
	"fmt"
)

// ProbeResult represents the outcome of an optional module probe.
type ProbeResult struct {
	// Supported indicates whether the probed property is present.
	Supported bool
	// Error is non-nil if the probe itself failed (not just absent).
	Error error
}

// Class is the architecture class of a module image.
type Class int

const (
	// ClassNone means the class is unknown or invalid.
	ClassNone Class = iota
	// Class32 is a 32-bit module.
	Class32
	// Class64 is a 64-bit module.
	Class64
)

func (c Class) String() string {
	switch c {
	case Class32:
		return "ELF32"
	case Class64:
		return "ELF64"
	case ClassNone:
		return "none"
	default:
		return fmt.Sprintf("Class(%d)", int(c))
	}
}

func classFromELF(c elf.Class) Class {
	switch c {
	case elf.ELFCLASS32:
		return Class32
	case elf.ELFCLASS64:
		return Class64
	default:
		return ClassNone
	}
}

// ObjectType tells relocatable objects (kernel modules) apart from everything else.
type ObjectType int

const (
	// ObjectOther is any ELF type other than ET_REL.
	ObjectOther ObjectType = iota
	// ObjectRelocatable is an ET_REL object, i.e. a kernel module.
	ObjectRelocatable
)

func (t ObjectType) String() string {
	if t == ObjectRelocatable {
		return "relocatable"
	}
	return "other"
}

// ErrorKind classifies failures.
//
// Only [KindFatal] and [KindUsage] terminate a run; every other kind is
// reported against a single file and processing continues.
type ErrorKind int

const (
	// KindFatal is a process-wide precondition failure.
	KindFatal ErrorKind = iota
	// KindUsage means no input was given.
	KindUsage
	// KindIO is a stat or open failure.
	KindIO
	// KindFormat covers non-ELF inputs, non-modules and malformed tables.
	KindFormat
	// KindAllocation means working storage for a file could not be sized.
	KindAllocation
)

var kindNames = map[ErrorKind]string{
	KindFatal:      "fatal",
	KindUsage:      "usage",
	KindIO:         "io",
	KindFormat:     "format",
	KindAllocation: "allocation",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// ModuleError is the per-file error carried by a [Report].
type ModuleError struct {
	Path   string
	Kind   ErrorKind
	Reason string
	Err    error
}

func (e *ModuleError) Error() string {
	if e.Err != nil && e.Reason == "" {
		return fmt.Sprintf("%s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

func (e *ModuleError) Unwrap() error {
	return e.Err
}

// ResolvedPath pairs a dependency name with an existing file that satisfies it.
type ResolvedPath struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Report holds everything learned about one module file.
type Report struct {
	Path         string
	Class        Class
	Type         ObjectType
	Dependencies []ResolvedPath
	// Parents is empty unless the dynamic sections were walked completely.
	Parents []ResolvedPath
	// BTF is only populated when the inspector was built with [WithBTF].
	BTF *ProbeResult
	// Warnings are non-fatal problems, such as candidates over the path limits.
	Warnings []*ModuleError
	Err      *ModuleError
}

// Failed reports whether processing of the file stopped early.
func (r *Report) Failed() bool {
	return r.Err != nil
}
