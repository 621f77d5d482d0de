package kldd

import (
	"debug/elf"
	"fmt"
	"iter"
	"log/slog"
)

// SectionRecord describes one dynamic-linking section of a module.
type SectionRecord struct {
	// Name is empty when the image has no section name string table.
	Name   string
	Index  int
	Header elf.SectionHeader
	// Link is the index of the associated string table.
	Link uint32

	data sectionData
}

// label names the section in diagnostics.
func (r SectionRecord) label() string {
	if r.Name == "" {
		return fmt.Sprintf("[%d]", r.Index)
	}
	return r.Name
}

// sectionData is satisfied by *elf.Section.
type sectionData interface {
	Data() ([]byte, error)
}

// DynamicSections yields every SHT_DYNAMIC section in file order.
//
// The sequence reads the image's section table and is only valid while the
// image is open.
func (m *ModuleImage) DynamicSections() iter.Seq[SectionRecord] {
	return func(yield func(SectionRecord) bool) {
		if m == nil || m.elf == nil {
			return
		}
		for i, s := range m.elf.Sections {
			if s.Type != elf.SHT_DYNAMIC {
				continue
			}
			m.logger.Debug("dynamic section", slog.String("path", m.Path), slog.Int("index", i), slog.String("name", s.Name))
			rec := SectionRecord{
				Name:   s.Name,
				Index:  i,
				Header: s.SectionHeader,
				Link:   s.Link,
				data:   s,
			}
			if !yield(rec) {
				return
			}
		}
	}
}

// stringTable returns the raw bytes of the string table at index link.
func (m *ModuleImage) stringTable(link uint32) ([]byte, bool) {
	if m.elf == nil || int(link) >= len(m.elf.Sections) {
		return nil, false
	}
	s := m.elf.Sections[link]
	if s.Type != elf.SHT_STRTAB {
		return nil, false
	}
	data, err := s.Data()
	if err != nil {
		return nil, false
	}
	return data, true
}
