// Package pe adapts the standard library's debug/pe reader into the
// format.Adapter surface, with a hand-written COFF section-table
// serializer for mutation. As with internal/format/elf, no write-capable
// third-party PE library exists in the retrieved example pack.
package pe

import (
	"bytes"
	stdpe "debug/pe"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/smolstub/binject/internal/format"
)

// canonicalNames is the PE section-name table SPEC_FULL.md §4.1 fixes,
// resolving the Open Question in spec §9: PE names are capped at 8
// bytes, so the long Mach-O/ELF names cannot be reused verbatim.
var canonicalNames = map[string]string{
	"NODE_SEA_BLOB":   "NODE_SEA",
	"SMOL_VFS_BLOB":   "SMOLVFSB",
	"SMOL_VFS_CONFIG": "SMOLVFSC",
	"PRESSED_DATA":    ".PRESSED",
	".PRESSED_DATA":   ".PRESSED",
	"SMOL_CONFIG":     "SMOLCFG",
}

// CanonicalName maps a logical section name to its PE-safe form.
func CanonicalName(name string) string {
	if n, ok := canonicalNames[name]; ok {
		return n
	}
	return name
}

type section struct {
	name            string
	virtualSize     uint32
	virtualAddress  uint32
	sizeOfRawData   uint32
	pointerToRaw    uint32
	characteristics uint32
	content         []byte // nil for sections still backed by the source file
	isNew           bool
}

// Image holds the COFF header, optional header bytes (copied verbatim —
// binject never touches the data directories), and section table.
type Image struct {
	path   string
	raw    []byte
	is64   bool
	coffAt uint32 // file offset of the IMAGE_FILE_HEADER
	fhdr   stdpe.FileHeader
	// optHeaderBytes is the optional header exactly as it appears in the
	// source file; binject does not need to interpret it to add a
	// section, only to know its length so the new section table lands
	// after it.
	optHeaderBytes []byte
	sections       []section
}

func (im *Image) Variant() format.Variant { return format.VariantPE }
func (im *Image) Path() string            { return im.path }

type Adapter struct {
	Log *logrus.Logger
}

func New(log *logrus.Logger) *Adapter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Adapter{Log: log}
}

// Sniff reports whether data looks like a PE image: "MZ" at offset 0 and
// "PE\0\0" at the offset the MZ header's e_lfanew field names.
func Sniff(data []byte) bool {
	if len(data) < 0x40 || data[0] != 'M' || data[1] != 'Z' {
		return false
	}
	lfanew := binary.LittleEndian.Uint32(data[0x3c:])
	if uint64(lfanew)+4 > uint64(len(data)) {
		return false
	}
	return bytes.Equal(data[lfanew:lfanew+4], []byte("PE\x00\x00"))
}

func (a *Adapter) Parse(path string) (format.Image, error) {
	if err := format.CheckSIP(path); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, format.Wrap(format.KindInvalidFormat, "pe.Parse", err)
	}
	if !Sniff(raw) {
		return nil, format.Wrap(format.KindInvalidFormat, "pe.Parse", fmt.Errorf("not a PE image"))
	}
	f, err := stdpe.NewFile(bytes.NewReader(raw))
	if err != nil {
		return nil, format.Wrap(format.KindInvalidFormat, "pe.Parse", err)
	}
	defer f.Close()

	lfanew := binary.LittleEndian.Uint32(raw[0x3c:])
	coffAt := lfanew + 4 // past "PE\0\0"

	_, is64 := f.OptionalHeader.(*stdpe.OptionalHeader64)
	optSize := uint32(f.FileHeader.SizeOfOptionalHeader)
	optStart := coffAt + 20
	optEnd := optStart + optSize
	if uint64(optEnd) > uint64(len(raw)) {
		return nil, format.Wrap(format.KindInvalidFormat, "pe.Parse", fmt.Errorf("optional header out of range"))
	}

	im := &Image{
		path:           path,
		raw:            raw,
		is64:           is64,
		coffAt:         coffAt,
		fhdr:           f.FileHeader,
		optHeaderBytes: append([]byte(nil), raw[optStart:optEnd]...),
	}
	for _, s := range f.Sections {
		im.sections = append(im.sections, section{
			name:            s.Name,
			virtualSize:     s.VirtualSize,
			virtualAddress:  s.VirtualAddress,
			sizeOfRawData:   s.Size,
			pointerToRaw:    s.Offset,
			characteristics: uint32(s.Characteristics),
		})
	}
	return im, nil
}

func asImage(img format.Image) (*Image, error) {
	im, ok := img.(*Image)
	if !ok {
		return nil, format.Wrap(format.KindInvalidArgs, "pe", fmt.Errorf("not a PE image"))
	}
	return im, nil
}

func (a *Adapter) ListSections(img format.Image) ([]format.SectionInfo, error) {
	im, err := asImage(img)
	if err != nil {
		return nil, err
	}
	var out []format.SectionInfo
	for _, s := range im.sections {
		out = append(out, format.SectionInfo{Name: s.name, Size: uint64(s.sizeOfRawData), Offset: uint64(s.pointerToRaw)})
	}
	return out, nil
}

func (a *Adapter) GetSection(img format.Image, _, name string) ([]byte, bool, error) {
	im, err := asImage(img)
	if err != nil {
		return nil, false, err
	}
	want := CanonicalName(name)
	for _, s := range im.sections {
		if s.name != name && s.name != want {
			continue
		}
		if s.content != nil {
			return append([]byte(nil), s.content...), true, nil
		}
		end := uint64(s.pointerToRaw) + uint64(s.sizeOfRawData)
		if end > uint64(len(im.raw)) {
			return nil, false, format.Wrap(format.KindInvalidFormat, "pe.GetSection", fmt.Errorf("section %s out of range", name))
		}
		return append([]byte(nil), im.raw[s.pointerToRaw:end]...), true, nil
	}
	return nil, false, nil
}

func (a *Adapter) AddSection(img format.Image, opts format.AddSectionOpts) error {
	im, err := asImage(img)
	if err != nil {
		return err
	}
	name := CanonicalName(opts.Name)
	if err := format.CheckSectionName(format.VariantPE, name); err != nil {
		return err
	}
	im.sections = append(im.sections, section{
		name:            name,
		virtualSize:     uint32(len(opts.Content)),
		sizeOfRawData:   uint32(len(opts.Content)),
		characteristics: 0x40000040, // IMAGE_SCN_CNT_INITIALIZED_DATA | IMAGE_SCN_MEM_READ
		content:         append([]byte(nil), opts.Content...),
		isNew:           true,
	})
	a.Log.WithField("section", name).Debug("pe: added section")
	return nil
}

func (a *Adapter) RemoveSection(img format.Image, _, name string, _ bool) (bool, error) {
	im, err := asImage(img)
	if err != nil {
		return false, err
	}
	want := CanonicalName(name)
	for i, s := range im.sections {
		if s.name == name || s.name == want {
			im.sections = append(im.sections[:i:i], im.sections[i+1:]...)
			a.Log.WithField("section", name).Debug("pe: removed section")
			return true, nil
		}
	}
	return false, nil
}

// PatchSectionContent overwrites an already-present section's bytes in
// place, mirroring internal/format/elf's approach: a section added
// earlier this call has its buffered content patched directly, while a
// section still backed by the source file is patched inside the
// original raw buffer at its original file offset. newContent must match
// the section's current size exactly.
func (a *Adapter) PatchSectionContent(img format.Image, _, name string, newContent []byte) error {
	im, err := asImage(img)
	if err != nil {
		return err
	}
	want := CanonicalName(name)
	for i := range im.sections {
		s := &im.sections[i]
		if s.name != name && s.name != want {
			continue
		}
		if uint64(len(newContent)) != uint64(s.sizeOfRawData) {
			return format.Wrap(format.KindInvalidArgs, "pe.PatchSectionContent", fmt.Errorf("patch must preserve section length"))
		}
		if s.content != nil {
			copy(s.content, newContent)
			return nil
		}
		end := uint64(s.pointerToRaw) + uint64(s.sizeOfRawData)
		if end > uint64(len(im.raw)) {
			return format.Wrap(format.KindWriteFailed, "pe.PatchSectionContent", fmt.Errorf("section %s out of range", name))
		}
		copy(im.raw[s.pointerToRaw:end], newContent)
		return nil
	}
	return format.Wrap(format.KindSectionNotFound, "pe.PatchSectionContent", fmt.Errorf("section %s not found", name))
}

func (a *Adapter) RemoveSegment(format.Image, string) error {
	return format.Wrap(format.KindInvalidArgs, "pe.RemoveSegment", fmt.Errorf("PE has no segment layer"))
}

func (a *Adapter) HasCodeSignature(format.Image) (bool, error) { return false, nil }
func (a *Adapter) RemoveCodeSignature(format.Image) error      { return nil }

func (a *Adapter) Write(img format.Image, path string) error {
	im, err := asImage(img)
	if err != nil {
		return err
	}
	out, err := serialize(im)
	if err != nil {
		return format.Wrap(format.KindWriteFailed, "pe.Write", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return format.Wrap(format.KindWriteFailed, "pe.Write", err)
	}
	return nil
}
