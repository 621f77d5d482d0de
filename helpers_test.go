package kldd

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// testSection is one section of a synthesised ELF file. Section indexes start
// at 1; index 0 is the null section and the section name string table is
// appended last.
type testSection struct {
	name string
	typ  elf.SectionType
	link uint32
	data []byte
}

type testELF struct {
	class    elf.Class
	typ      elf.Type
	order    binary.ByteOrder
	sections []testSection
}

// bytes lays out: ELF header, section contents, section header table.
func (e testELF) bytes(t *testing.T) []byte {
	t.Helper()

	order := e.order
	if order == nil {
		order = binary.LittleEndian
	}

	var shstrtab bytes.Buffer
	shstrtab.WriteByte(0)
	nameOff := make([]uint32, len(e.sections))
	for i, s := range e.sections {
		nameOff[i] = uint32(shstrtab.Len())
		shstrtab.WriteString(s.name)
		shstrtab.WriteByte(0)
	}
	shstrtabNameOff := uint32(shstrtab.Len())
	shstrtab.WriteString(".shstrtab")
	shstrtab.WriteByte(0)

	all := append([]testSection{}, e.sections...)
	all = append(all, testSection{typ: elf.SHT_STRTAB, data: shstrtab.Bytes()})
	nameOff = append(nameOff, shstrtabNameOff)

	is64 := e.class == elf.ELFCLASS64
	ehsize, shentsize := 52, 40
	if is64 {
		ehsize, shentsize = 64, 64
	}

	var body bytes.Buffer
	offsets := make([]int, len(all))
	for i, s := range all {
		for (ehsize+body.Len())%8 != 0 {
			body.WriteByte(0)
		}
		offsets[i] = ehsize + body.Len()
		body.Write(s.data)
	}
	for (ehsize+body.Len())%8 != 0 {
		body.WriteByte(0)
	}
	shoff := ehsize + body.Len()
	shnum := len(all) + 1
	shstrndx := len(all)

	var ident [elf.EI_NIDENT]byte
	copy(ident[:], elfMagic)
	ident[elf.EI_CLASS] = byte(e.class)
	if order == binary.BigEndian {
		ident[elf.EI_DATA] = byte(elf.ELFDATA2MSB)
	} else {
		ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	}
	ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	var out bytes.Buffer
	if is64 {
		require.NoError(t, binary.Write(&out, order, elf.Header64{
			Ident:     ident,
			Type:      uint16(e.typ),
			Machine:   uint16(elf.EM_X86_64),
			Version:   uint32(elf.EV_CURRENT),
			Shoff:     uint64(shoff),
			Ehsize:    uint16(ehsize),
			Shentsize: uint16(shentsize),
			Shnum:     uint16(shnum),
			Shstrndx:  uint16(shstrndx),
		}))
	} else {
		require.NoError(t, binary.Write(&out, order, elf.Header32{
			Ident:     ident,
			Type:      uint16(e.typ),
			Machine:   uint16(elf.EM_386),
			Version:   uint32(elf.EV_CURRENT),
			Shoff:     uint32(shoff),
			Ehsize:    uint16(ehsize),
			Shentsize: uint16(shentsize),
			Shnum:     uint16(shnum),
			Shstrndx:  uint16(shstrndx),
		}))
	}
	out.Write(body.Bytes())

	// Null section.
	out.Write(make([]byte, shentsize))
	for i, s := range all {
		var entsize uint64
		if s.typ == elf.SHT_DYNAMIC {
			entsize = 8
			if is64 {
				entsize = 16
			}
		}
		if is64 {
			require.NoError(t, binary.Write(&out, order, elf.Section64{
				Name:      nameOff[i],
				Type:      uint32(s.typ),
				Off:       uint64(offsets[i]),
				Size:      uint64(len(s.data)),
				Link:      s.link,
				Addralign: 1,
				Entsize:   entsize,
			}))
		} else {
			require.NoError(t, binary.Write(&out, order, elf.Section32{
				Name:      nameOff[i],
				Type:      uint32(s.typ),
				Off:       uint32(offsets[i]),
				Size:      uint32(len(s.data)),
				Link:      s.link,
				Addralign: 1,
				Entsize:   uint32(entsize),
			}))
		}
	}
	return out.Bytes()
}

// dynEntry is a (tag, value) pair for dynamicBytes.
type dynEntry struct {
	tag elf.DynTag
	val uint64
}

func dynamicBytes(class elf.Class, order binary.ByteOrder, entries ...dynEntry) []byte {
	if order == nil {
		order = binary.LittleEndian
	}
	var b bytes.Buffer
	for _, e := range entries {
		if class == elf.ELFCLASS64 {
			_ = binary.Write(&b, order, elf.Dyn64{Tag: int64(e.tag), Val: e.val})
		} else {
			_ = binary.Write(&b, order, elf.Dyn32{Tag: int32(e.tag), Val: uint32(e.val)})
		}
	}
	return b.Bytes()
}

// strtab builds a string table and returns the offset of each string.
func strtab(names ...string) ([]byte, []uint64) {
	var b bytes.Buffer
	b.WriteByte(0)
	offs := make([]uint64, len(names))
	for i, n := range names {
		offs[i] = uint64(b.Len())
		b.WriteString(n)
		b.WriteByte(0)
	}
	return b.Bytes(), offs
}

// moduleELF returns a module with one .dynamic section (index 2) linked to a
// .dynstr (index 1), declaring needed in order and ending with DT_NULL.
func moduleELF(class elf.Class, typ elf.Type, needed ...string) testELF {
	str, offs := strtab(needed...)
	entries := make([]dynEntry, 0, len(needed)+1)
	for _, off := range offs {
		entries = append(entries, dynEntry{elf.DT_NEEDED, off})
	}
	entries = append(entries, dynEntry{elf.DT_NULL, 0})
	return testELF{
		class: class,
		typ:   typ,
		sections: []testSection{
			{name: ".dynstr", typ: elf.SHT_STRTAB, data: str},
			{name: ".dynamic", typ: elf.SHT_DYNAMIC, link: 1, data: dynamicBytes(class, nil, entries...)},
		},
	}
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

// kernelTree creates two search roots holding the given relative files.
func kernelTree(t *testing.T, platform, generic []string) (string, string) {
	t.Helper()
	base := t.TempDir()
	root0 := filepath.Join(base, "platform", "i86pc", "kernel")
	root1 := filepath.Join(base, "kernel")
	require.NoError(t, os.MkdirAll(root0, 0o755))
	require.NoError(t, os.MkdirAll(root1, 0o755))
	for _, f := range platform {
		writeFile(t, root0, f, nil)
	}
	for _, f := range generic {
		writeFile(t, root1, f, nil)
	}
	return root0, root1
}
