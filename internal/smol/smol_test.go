package smol

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smolstub/binject/internal/config"
	"github.com/smolstub/binject/internal/format"
	"github.com/smolstub/binject/internal/format/elf"
)

func TestMagicIs32Bytes(t *testing.T) {
	assert.Len(t, Magic(), 32)
}

func TestMagicAssemblesFromThreeParts(t *testing.T) {
	want := magicPart1 + magicPart2 + magicPart3
	got := Magic()
	assert.Equal(t, want, string(got[:len(want)]))
	assert.NotEqual(t, want, magicPart1, "no single part alone should equal the assembled marker")
}

func TestEncodeDecodeSectionRoundTrips(t *testing.T) {
	payload := []byte("a decompressed node binary, in miniature")
	section, err := EncodeSection(payload, nil)
	require.NoError(t, err)

	out, err := decodeSection(section)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestEncodeDecodeSectionRoundTripsWithEmbeddedSMFG(t *testing.T) {
	payload := []byte("a decompressed node binary, with an embedded updater config")
	embedded, err := config.SerializeSMFGEmbedded(config.SMFG{Command: "self-update"})
	require.NoError(t, err)
	require.Len(t, embedded, config.EmbeddedSize)

	section, err := EncodeSection(payload, embedded)
	require.NoError(t, err)
	assert.Equal(t, byte(1), section[magicLen+35], "smol_config_flag must be set when an embedded SMFG is present")

	out, err := decodeSection(section)
	require.NoError(t, err)
	assert.Equal(t, payload, out, "decodeSection must skip over the embedded SMFG before decompressing")
}

func TestDecodeSectionRejectsMissingMagic(t *testing.T) {
	_, err := decodeSection([]byte("no marker anywhere in here"))
	require.Error(t, err)
	fe, ok := format.As(err)
	require.True(t, ok)
	assert.Equal(t, format.KindDecompressError, fe.Kind)
}

func TestDecodeSectionRejectsTruncatedHeader(t *testing.T) {
	section := append(append([]byte{}, Magic()...), []byte("short")...)
	_, err := decodeSection(section)
	require.Error(t, err)
	fe, ok := format.As(err)
	require.True(t, ok)
	assert.Equal(t, format.KindDecompressError, fe.Kind)
}

func TestDecodeSectionRejectsBadCompressedSize(t *testing.T) {
	section, err := EncodeSection([]byte("x"), nil)
	require.NoError(t, err)
	// corrupt compressed_size (first 8 bytes after the marker) to exceed
	// what's actually present in the section.
	binary.LittleEndian.PutUint64(section[magicLen:magicLen+8], uint64(len(section)+1000))
	_, err = decodeSection(section)
	require.Error(t, err)
	fe, ok := format.As(err)
	require.True(t, ok)
	assert.Equal(t, format.KindDecompressError, fe.Kind)
}

func TestDecodeSectionRejectsZeroUncompressedSize(t *testing.T) {
	section, err := EncodeSection([]byte("x"), nil)
	require.NoError(t, err)
	binary.LittleEndian.PutUint64(section[magicLen+8:magicLen+16], 0)
	_, err = decodeSection(section)
	require.Error(t, err)
	fe, ok := format.As(err)
	require.True(t, ok)
	assert.Equal(t, format.KindDecompressError, fe.Kind)
}

// buildStubELF writes a minimal ELF executable carrying a PRESSED_DATA
// section, mirroring inject's own fixture-building approach so the SMOL
// extract/repack paths can be exercised end-to-end against the pure-Go
// ELF adapter without cgo or a real Node binary.
func buildStubELF(t *testing.T, path string, pressedContent []byte) {
	t.Helper()
	require.NoError(t, writeBareELF(path))

	a := elf.New(nil)
	img, err := a.Parse(path)
	require.NoError(t, err)
	require.NoError(t, a.AddSection(img, format.AddSectionOpts{
		Name:    "PRESSED_DATA",
		Content: pressedContent,
	}))
	require.NoError(t, a.Write(img, path))
}

func TestExtractBinaryEndToEnd(t *testing.T) {
	dir := t.TempDir()
	stub := filepath.Join(dir, "stub")
	payload := []byte("the real node executable bytes")
	section, err := EncodeSection(payload, nil)
	require.NoError(t, err)
	buildStubELF(t, stub, section)

	out := filepath.Join(dir, "extracted")
	require.NoError(t, ExtractBinary(stub, out))

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	fi, err := os.Stat(out)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), fi.Mode().Perm())
}

func TestExtractBinaryErrorsWhenSectionMissing(t *testing.T) {
	dir := t.TempDir()
	stub := filepath.Join(dir, "stub")
	require.NoError(t, writeBareELF(stub))

	err := ExtractBinary(stub, filepath.Join(dir, "out"))
	require.Error(t, err)
	fe, ok := format.As(err)
	require.True(t, ok)
	assert.Equal(t, format.KindSectionNotFound, fe.Kind)
}

func TestRepackReplacesPayload(t *testing.T) {
	dir := t.TempDir()
	stub := filepath.Join(dir, "stub")
	first, err := EncodeSection([]byte("first payload"), nil)
	require.NoError(t, err)
	buildStubELF(t, stub, first)

	second, err := EncodeSection([]byte("a much longer second payload that changes section size"), nil)
	require.NoError(t, err)

	out := filepath.Join(dir, "repacked")
	require.NoError(t, Repack(nil, fakeOps{}, stub, second, out))

	extracted := filepath.Join(dir, "final")
	require.NoError(t, ExtractBinary(out, extracted))
	got, err := os.ReadFile(extracted)
	require.NoError(t, err)
	assert.Equal(t, "a much longer second payload that changes section size", string(got))
}

type fakeOps struct{}

func (fakeOps) RequiresSigning() bool                 { return false }
func (fakeOps) Sign(string) error                     { return nil }
func (fakeOps) FinalizeRename(tmp, dest string) error { return os.Rename(tmp, dest) }

// writeBareELF writes a minimal valid 64-bit little-endian ELF executable
// with one .text section (plus the null section and .shstrtab) and no
// PRESSED_DATA section, to exercise AddSection against a realistic
// starting layout.
func writeBareELF(path string) error {
	const ehdrSize = 64
	const shdrSize = 64

	textOff := uint64(ehdrSize)
	textContent := []byte("ENTRYPOINT")
	textSize := uint64(len(textContent))

	shstrtab := append([]byte{0}, []byte(".text\x00")...)
	shstrtabNameOff := uint32(len(shstrtab))
	shstrtab = append(shstrtab, []byte(".shstrtab\x00")...)

	shstrtabOff := textOff + textSize
	shoff := shstrtabOff + uint64(len(shstrtab))

	buf := make([]byte, shoff+3*shdrSize)

	buf[0], buf[1], buf[2], buf[3] = 0x7f, 'E', 'L', 'F'
	buf[4] = 2 // ELFCLASS64
	buf[5] = 1 // ELFDATA2LSB
	buf[6] = 1 // EV_CURRENT

	le := binary.LittleEndian
	le.PutUint16(buf[16:], 2)
	le.PutUint16(buf[18:], 62)
	le.PutUint32(buf[20:], 1)
	le.PutUint64(buf[32:], shoff)
	le.PutUint16(buf[52:], ehdrSize)
	le.PutUint16(buf[58:], shdrSize)
	le.PutUint16(buf[60:], 3)
	le.PutUint16(buf[62:], 2)

	copy(buf[textOff:], textContent)
	copy(buf[shstrtabOff:], shstrtab)

	writeShdr64(buf, shoff, 0, 0, 0, 0, 0)
	writeShdr64(buf, shoff+shdrSize, 1, 1, textOff, textSize, 0x2)
	writeShdr64(buf, shoff+2*shdrSize, shstrtabNameOff, 3, shstrtabOff, uint64(len(shstrtab)), 0)

	return os.WriteFile(path, buf, 0o755)
}

func writeShdr64(buf []byte, off uint64, name uint32, typ uint32, fileOff, size uint64, flags uint64) {
	le := binary.LittleEndian
	s := buf[off : off+64]
	le.PutUint32(s[0:], name)
	le.PutUint32(s[4:], typ)
	le.PutUint64(s[8:], flags)
	le.PutUint64(s[24:], fileOff)
	le.PutUint64(s[32:], size)
	le.PutUint64(s[48:], 1)
}
