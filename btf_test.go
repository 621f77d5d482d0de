package kldd

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// intBTF returns a BTF blob holding a single 32-bit "int".
func intBTF(order binary.ByteOrder) []byte {
	strs := []byte("\x00int\x00")

	var types bytes.Buffer
	_ = binary.Write(&types, order, []uint32{
		1,       // name_off
		1 << 24, // info: BTF_KIND_INT
		4,       // size
		32,      // encoding, offset 0, 32 bits
	})

	var b bytes.Buffer
	_ = binary.Write(&b, order, struct {
		Magic   uint16
		Version uint8
		Flags   uint8
		HdrLen  uint32
		TypeOff uint32
		TypeLen uint32
		StrOff  uint32
		StrLen  uint32
	}{0xeb9f, 1, 0, 24, 0, uint32(types.Len()), uint32(types.Len()), uint32(len(strs))})
	b.Write(types.Bytes())
	b.Write(strs)
	return b.Bytes()
}

// withBTF adds a .BTF section and the symbol table the BTF loader needs.
func withBTF(mod testELF, data []byte) testELF {
	symSize := 16
	if mod.class == elf.ELFCLASS64 {
		symSize = 24
	}
	mod.sections = append(mod.sections,
		testSection{name: ".symtab", typ: elf.SHT_SYMTAB, link: 1, data: make([]byte, symSize)},
		testSection{name: ".BTF", typ: elf.SHT_PROGBITS, data: data},
	)
	return mod
}

func TestProbeBTF(t *testing.T) {
	t.Run("module without BTF", func(t *testing.T) {
		img := openTestImage(t, moduleELF(elf.ELFCLASS64, elf.ET_REL, "misc/foo"))
		res := probeBTF(img)
		assert.False(t, res.Supported)
		assert.NoError(t, res.Error)
	})

	t.Run("valid BTF", func(t *testing.T) {
		mod := withBTF(moduleELF(elf.ELFCLASS64, elf.ET_REL, "misc/foo"), intBTF(binary.LittleEndian))
		img := openTestImage(t, mod)

		res := probeBTF(img)
		assert.True(t, res.Supported)
		assert.NoError(t, res.Error)
	})

	t.Run("undecodable BTF section is still reported", func(t *testing.T) {
		mod := withBTF(moduleELF(elf.ELFCLASS64, elf.ET_REL, "misc/foo"), []byte{0xde, 0xad, 0xbe, 0xef})
		img := openTestImage(t, mod)

		res := probeBTF(img)
		assert.True(t, res.Supported)
		assert.Error(t, res.Error)
	})

	t.Run("closed image", func(t *testing.T) {
		img := openTestImage(t, moduleELF(elf.ELFCLASS32, elf.ET_REL))
		require.NoError(t, img.Close())
		res := probeBTF(img)
		assert.False(t, res.Supported)
		assert.Error(t, res.Error)
	})
}

func TestInspect_WithBTF(t *testing.T) {
	root0, root1 := kernelTree(t, nil, []string{"misc/amd64/foo"})
	plain := writeFile(t, t.TempDir(), "plain", moduleELF(elf.ELFCLASS64, elf.ET_REL, "misc/foo").bytes(t))
	typed := writeFile(t, t.TempDir(), "typed",
		withBTF(moduleELF(elf.ELFCLASS64, elf.ET_REL, "misc/foo"), intBTF(binary.LittleEndian)).bytes(t))

	r := NewInspector(WithSearchRoots(root0, root1)).Inspect(typed)
	assert.Nil(t, r.BTF)

	in := NewInspector(WithSearchRoots(root0, root1), WithBTF())

	r = in.Inspect(plain)
	require.NotNil(t, r.BTF)
	assert.False(t, r.BTF.Supported)

	r = in.Inspect(typed)
	require.Nil(t, r.Err)
	require.NotNil(t, r.BTF)
	assert.True(t, r.BTF.Supported)
	assert.NoError(t, r.BTF.Error)

	rc := NewRunConfig("kldd", 1)
	rc.ShowBTF = true
	var out, errOut bytes.Buffer
	require.NoError(t, WriteText(&out, &errOut, r, rc))
	assert.Equal(t, "\tmisc/foo =>\t"+root1+"/misc/amd64/foo\n\tBTF =>\tpresent\n", out.String())
	assert.Empty(t, errOut.String())
}
