package kldd

import (
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
)

var (
	// ErrStaleLibrary is returned by [CheckVersion] when the ELF reader cannot
	// handle the current ELF version.
	ErrStaleLibrary = errors.New("ELF library is out of date")

	// ErrNotELF means the input does not carry the ELF magic.
	ErrNotELF = errors.New("invalid file type")

	// ErrMalformedSections means the section header count or the section
	// name string table index cannot be read.
	ErrMalformedSections = errors.New("malformed section headers")

	// ErrSectionTableTooLarge means the section header table does not fit the file.
	ErrSectionTableTooLarge = errors.New("cannot allocate space for section table")
)

const elfMagic = "\x7fELF"

// shnXIndex marks a section name string table index stored in section 0.
const shnXIndex = 0xffff

// readerVersion is the newest ELF version the reader understands.
var readerVersion = elf.EV_CURRENT

// CheckVersion must succeed once before any module is opened.
func CheckVersion() error {
	if readerVersion == elf.EV_NONE {
		return ErrStaleLibrary
	}
	return nil
}

// ModuleImage is an open, ELF-structured input file.
//
// It must be released with [ModuleImage.Close].
type ModuleImage struct {
	Path      string
	Class     Class
	Type      ObjectType
	ByteOrder binary.ByteOrder

	// SectionCount and SectionNameIndex come from the raw header, with
	// extended numbering through section 0 applied.
	SectionCount     int
	SectionNameIndex int

	file *os.File
	// reader is what elf and BTF decoding read through. It is file, or file
	// with e_shstrndx cleared when that index names no string table.
	reader io.ReaderAt
	elf    *elf.File
	logger *slog.Logger
}

// Open opens path and validates it as ELF-structured data.
//
// Errors are always of type *[ModuleError].
func Open(path string) (*ModuleImage, error) {
	return openImage(path, slog.Default())
}

func openImage(path string, logger *slog.Logger) (*ModuleImage, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, &ModuleError{Path: path, Kind: KindIO, Reason: pathErrorReason(err), Err: err}
	}
	if !fi.Mode().IsRegular() {
		return nil, &ModuleError{
			Path:   path,
			Kind:   KindFormat,
			Reason: ErrNotELF.Error(),
			Err:    fmt.Errorf("%w: %s", ErrNotELF, fi.Mode().Type()),
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, &ModuleError{Path: path, Kind: KindIO, Reason: "cannot read", Err: err}
	}

	img, err := newImage(path, f, fi.Size(), logger)
	if err != nil {
		if closeErr := f.Close(); closeErr != nil {
			logger.Warn("error closing module file", slog.String("path", path), slog.Any("error", closeErr))
		}
		return nil, err
	}
	return img, nil
}

func newImage(path string, f *os.File, size int64, logger *slog.Logger) (*ModuleImage, error) {
	var magic [len(elfMagic)]byte
	if _, err := f.ReadAt(magic[:], 0); err != nil || string(magic[:]) != elfMagic {
		return nil, &ModuleError{Path: path, Kind: KindFormat, Reason: ErrNotELF.Error(), Err: ErrNotELF}
	}

	counts, err := readSectionCounts(f, size)
	if err != nil {
		kind := KindFormat
		if errors.Is(err, ErrSectionTableTooLarge) {
			kind = KindAllocation
		}
		return nil, &ModuleError{Path: path, Kind: kind, Reason: err.Error(), Err: err}
	}

	var r io.ReaderAt = f
	if counts.shstrndx != 0 && counts.shstrtype != elf.SHT_STRTAB {
		// Section names are then unavailable, the tables themselves are not.
		logger.Debug("section name index does not name a string table",
			slog.String("path", path),
			slog.Int("index", counts.shstrndx),
			slog.String("type", counts.shstrtype.String()),
		)
		r = clearNameIndex(f, counts)
	}

	ef, err := elf.NewFile(r)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrMalformedSections, err)
		return nil, &ModuleError{Path: path, Kind: KindFormat, Reason: err.Error(), Err: err}
	}

	img := &ModuleImage{
		Path:             path,
		Class:            classFromELF(ef.Class),
		Type:             ObjectOther,
		ByteOrder:        ef.ByteOrder,
		SectionCount:     counts.shnum,
		SectionNameIndex: counts.shstrndx,
		file:             f,
		reader:           r,
		elf:              ef,
		logger:           logger,
	}
	if ef.Type == elf.ET_REL {
		img.Type = ObjectRelocatable
	}

	logger.Debug("opened module",
		slog.String("path", path),
		slog.String("class", img.Class.String()),
		slog.String("type", img.Type.String()),
		slog.Int("sections", img.SectionCount),
	)
	return img, nil
}

// Close releases the underlying file.
func (m *ModuleImage) Close() error {
	if m == nil || m.file == nil {
		return nil
	}
	err := m.file.Close()
	m.file = nil
	m.reader = nil
	m.elf = nil
	return err
}

// pathErrorReason strips the operation and path from *fs.PathError so the
// reason reads like strerror(3).
func pathErrorReason(err error) string {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return pe.Err.Error()
	}
	return err.Error()
}

type sectionCounts struct {
	shnum    int
	shstrndx int
	// shstrtype is the type of section shstrndx.
	shstrtype elf.SectionType

	class elf.Class
	order binary.ByteOrder
}

type rawHeader struct {
	shoff     uint64
	shentsize uint64
	shnum     uint64
	shstrndx  uint64
}

// readSectionCounts decodes the section header count and the section name
// string table index straight from the file header.
func readSectionCounts(r io.ReaderAt, size int64) (sectionCounts, error) {
	var ident [elf.EI_NIDENT]byte
	if _, err := r.ReadAt(ident[:], 0); err != nil {
		return sectionCounts{}, fmt.Errorf("%w: cannot read identification: %w", ErrMalformedSections, err)
	}

	var order binary.ByteOrder
	switch elf.Data(ident[elf.EI_DATA]) {
	case elf.ELFDATA2LSB:
		order = binary.LittleEndian
	case elf.ELFDATA2MSB:
		order = binary.BigEndian
	default:
		return sectionCounts{}, fmt.Errorf("%w: unknown data encoding %d", ErrMalformedSections, ident[elf.EI_DATA])
	}

	class := elf.Class(ident[elf.EI_CLASS])
	sr := io.NewSectionReader(r, 0, size)

	var (
		hdr       rawHeader
		wantEntSz uint64
	)
	switch class {
	case elf.ELFCLASS32:
		var h elf.Header32
		if err := binary.Read(sr, order, &h); err != nil {
			return sectionCounts{}, fmt.Errorf("%w: cannot read file header: %w", ErrMalformedSections, err)
		}
		hdr = rawHeader{uint64(h.Shoff), uint64(h.Shentsize), uint64(h.Shnum), uint64(h.Shstrndx)}
		wantEntSz = uint64(binary.Size(elf.Section32{}))
	case elf.ELFCLASS64:
		var h elf.Header64
		if err := binary.Read(sr, order, &h); err != nil {
			return sectionCounts{}, fmt.Errorf("%w: cannot read file header: %w", ErrMalformedSections, err)
		}
		hdr = rawHeader{h.Shoff, uint64(h.Shentsize), uint64(h.Shnum), uint64(h.Shstrndx)}
		wantEntSz = uint64(binary.Size(elf.Section64{}))
	default:
		return sectionCounts{}, fmt.Errorf("%w: unknown class %d", ErrMalformedSections, ident[elf.EI_CLASS])
	}

	if hdr.shoff == 0 {
		if hdr.shnum != 0 {
			return sectionCounts{}, fmt.Errorf("%w: %d sections without a section header table", ErrMalformedSections, hdr.shnum)
		}
		return sectionCounts{class: class, order: order}, nil
	}
	if hdr.shentsize < wantEntSz {
		return sectionCounts{}, fmt.Errorf("%w: section header entry size %d", ErrMalformedSections, hdr.shentsize)
	}

	// Extended numbering keeps the real values in section 0.
	if hdr.shnum == 0 || hdr.shstrndx == shnXIndex {
		size0, link0, err := readSection0(sr, order, class, hdr.shoff)
		if err != nil {
			return sectionCounts{}, err
		}
		if hdr.shnum == 0 {
			hdr.shnum = size0
		}
		if hdr.shstrndx == shnXIndex {
			hdr.shstrndx = uint64(link0)
		}
	}

	if hdr.shnum > uint64(size)/hdr.shentsize || hdr.shoff > uint64(size)-hdr.shnum*hdr.shentsize {
		return sectionCounts{}, fmt.Errorf("%w: %d entries at offset %d", ErrSectionTableTooLarge, hdr.shnum, hdr.shoff)
	}
	if hdr.shnum > 0 && hdr.shstrndx >= hdr.shnum {
		return sectionCounts{}, fmt.Errorf("%w: section name string table index %d out of range", ErrMalformedSections, hdr.shstrndx)
	}

	counts := sectionCounts{shnum: int(hdr.shnum), shstrndx: int(hdr.shstrndx), class: class, order: order}
	if hdr.shstrndx != 0 {
		// sh_type follows sh_name in both layouts.
		var typ [4]byte
		if _, err := r.ReadAt(typ[:], int64(hdr.shoff+hdr.shstrndx*hdr.shentsize+4)); err != nil {
			return sectionCounts{}, fmt.Errorf("%w: cannot read section %d: %w", ErrMalformedSections, hdr.shstrndx, err)
		}
		counts.shstrtype = elf.SectionType(order.Uint32(typ[:]))
	}
	return counts, nil
}

// clearNameIndex presents r with e_shstrndx set to SHN_UNDEF, so the section
// table decodes with every name empty.
func clearNameIndex(r io.ReaderAt, counts sectionCounts) io.ReaderAt {
	off := int64(50)
	if counts.class == elf.ELFCLASS64 {
		off = 62
	}
	return headerPatch{r: r, off: off, patch: make([]byte, 2)}
}

// headerPatch overlays patch at off on every read of r.
type headerPatch struct {
	r     io.ReaderAt
	off   int64
	patch []byte
}

func (p headerPatch) ReadAt(b []byte, off int64) (int, error) {
	n, err := p.r.ReadAt(b, off)
	for i, c := range p.patch {
		if pos := p.off + int64(i) - off; pos >= 0 && pos < int64(n) {
			b[pos] = c
		}
	}
	return n, err
}

func readSection0(sr *io.SectionReader, order binary.ByteOrder, class elf.Class, off uint64) (uint64, uint32, error) {
	if off > uint64(sr.Size()) {
		return 0, 0, fmt.Errorf("%w: section header offset %d past end of file", ErrMalformedSections, off)
	}
	if _, err := sr.Seek(int64(off), io.SeekStart); err != nil {
		return 0, 0, fmt.Errorf("%w: %w", ErrMalformedSections, err)
	}
	if class == elf.ELFCLASS32 {
		var s elf.Section32
		if err := binary.Read(sr, order, &s); err != nil {
			return 0, 0, fmt.Errorf("%w: cannot read section 0: %w", ErrMalformedSections, err)
		}
		return uint64(s.Size), s.Link, nil
	}
	var s elf.Section64
	if err := binary.Read(sr, order, &s); err != nil {
		return 0, 0, fmt.Errorf("%w: cannot read section 0: %w", ErrMalformedSections, err)
	}
	return s.Size, s.Link, nil
}
