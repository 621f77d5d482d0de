package kldd

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"log/slog"
)

var (
	// ErrNotKernelModule is returned for ELF objects that are not ET_REL.
	ErrNotKernelModule = errors.New("not a kernel module, use the standard dependency lister ldd(1)")

	// ErrNoSectionData means the contents of a dynamic section could not be read.
	ErrNoSectionData = errors.New("no data")

	// ErrTruncatedDynamic means the walk reached a partial dynamic entry.
	ErrTruncatedDynamic = errors.New("truncated dynamic section")
)

// DynamicEntry is one (tag, value) pair of a dynamic section.
type DynamicEntry struct {
	Tag   elf.DynTag
	Value uint64
}

// dynTable is an index-addressable view over a dynamic section's bytes.
type dynTable struct {
	data  []byte
	class Class
	order binary.ByteOrder
}

func (t dynTable) entrySize() int {
	if t.class == Class64 {
		return 16
	}
	return 8
}

// entry decodes the i-th entry. ok is false once the table is exhausted.
func (t dynTable) entry(i int) (e DynamicEntry, ok bool, err error) {
	size := t.entrySize()
	off := i * size
	if off >= len(t.data) {
		return DynamicEntry{}, false, nil
	}
	if len(t.data)-off < size {
		return DynamicEntry{}, false, fmt.Errorf("%w: entry %d has %d of %d bytes", ErrTruncatedDynamic, i, len(t.data)-off, size)
	}
	b := t.data[off : off+size]
	if t.class == Class64 {
		return DynamicEntry{
			Tag:   elf.DynTag(int64(t.order.Uint64(b[0:8]))),
			Value: t.order.Uint64(b[8:16]),
		}, true, nil
	}
	return DynamicEntry{
		Tag:   elf.DynTag(int32(t.order.Uint32(b[0:4]))),
		Value: uint64(t.order.Uint32(b[4:8])),
	}, true, nil
}

// walkNeeded collects dependency names from the leading DT_NEEDED run of a
// dynamic table. Names that are empty or outside strtab are skipped.
func walkNeeded(t dynTable, strtab []byte) ([]string, error) {
	var names []string
	for i := 0; ; i++ {
		e, ok, err := t.entry(i)
		if err != nil {
			return names, err
		}
		if !ok || e.Tag != elf.DT_NEEDED {
			return names, nil
		}
		if name := cString(strtab, e.Value); name != "" {
			names = append(names, name)
		}
	}
}

// cString returns the NUL-terminated string at off, or "" when absent.
func cString(strtab []byte, off uint64) string {
	if off >= uint64(len(strtab)) {
		return ""
	}
	s := strtab[off:]
	end := bytes.IndexByte(s, 0)
	if end < 0 {
		return ""
	}
	return string(s[:end])
}

// NeededDependencies walks every section in sections and returns the declared
// dependency names in section order, then entry order.
//
// On error the names gathered before the failing section are returned along
// with it. Non-relocatable images fail with [ErrNotKernelModule] before any
// section is read.
func (m *ModuleImage) NeededDependencies(sections iter.Seq[SectionRecord]) ([]string, error) {
	if m.Type != ObjectRelocatable {
		return nil, ErrNotKernelModule
	}

	var names []string
	for rec := range sections {
		if rec.data == nil {
			return names, fmt.Errorf("%w in %s section", ErrNoSectionData, rec.label())
		}
		data, err := rec.data.Data()
		if err != nil {
			return names, fmt.Errorf("%w in %s section: %w", ErrNoSectionData, rec.label(), err)
		}

		strtab, ok := m.stringTable(rec.Link)
		if !ok {
			m.logger.Debug("dynamic section has no usable string table",
				slog.String("path", m.Path),
				slog.String("section", rec.label()),
				slog.Uint64("link", uint64(rec.Link)),
			)
		}

		found, err := walkNeeded(dynTable{data: data, class: m.Class, order: m.ByteOrder}, strtab)
		names = append(names, found...)
		if err != nil {
			return names, fmt.Errorf("%s section: %w", rec.label(), err)
		}
	}
	return names, nil
}
