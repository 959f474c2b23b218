// Package elf adapts the standard library's debug/elf reader into the
// format.Adapter surface. No third-party ELF library with mutation/write
// support exists anywhere in the retrieved example pack (other_examples
// contributes single, non-importable reference files only — see
// DESIGN.md), so unlike the Mach-O adapter this one's serializer is
// entirely hand-written, grounded directly on the ELF64 object format
// debug/elf itself parses.
package elf

import (
	"bytes"
	stdelf "debug/elf"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/smolstub/binject/internal/format"
)

type section struct {
	name    string
	addr    uint64
	offset  uint64
	size    uint64
	align   uint64
	typ     uint32
	flags   uint64
	content []byte // nil for sections copied verbatim from the source
	isNew   bool
}

// Image holds the full ELF64 layout binject needs to add/remove sections
// and re-serialize without an external writer library.
type Image struct {
	path      string
	raw       []byte
	byteOrder binary.ByteOrder
	ehdr      stdelf.Header64
	sections  []section
	shstrtab  int // index of the section header string table
}

func (im *Image) Variant() format.Variant { return format.VariantELF }
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

// Sniff reports whether data begins with the ELF magic.
func Sniff(data []byte) bool {
	return len(data) >= 4 && data[0] == 0x7f && data[1] == 'E' && data[2] == 'L' && data[3] == 'F'
}

func (a *Adapter) Parse(path string) (format.Image, error) {
	if err := format.CheckSIP(path); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, format.Wrap(format.KindInvalidFormat, "elf.Parse", err)
	}
	f, err := stdelf.NewFile(bytes.NewReader(raw))
	if err != nil {
		return nil, format.Wrap(format.KindInvalidFormat, "elf.Parse", err)
	}
	defer f.Close()
	if f.Class != stdelf.ELFCLASS64 {
		return nil, format.Wrap(format.KindInvalidFormat, "elf.Parse", fmt.Errorf("only 64-bit ELF is supported"))
	}

	bo := byteOrderOf(f)
	var ehdr stdelf.Header64
	if err := readStruct(raw, 0, bo, &ehdr); err != nil {
		return nil, format.Wrap(format.KindInvalidFormat, "elf.Parse", err)
	}

	im := &Image{path: path, raw: raw, byteOrder: bo, ehdr: ehdr, shstrtab: int(ehdr.Shstrndx)}
	for _, s := range f.Sections {
		im.sections = append(im.sections, section{
			name:   s.Name,
			addr:   s.Addr,
			offset: s.Offset,
			size:   s.Size,
			align:  s.Addralign,
			typ:    uint32(s.Type),
			flags:  uint64(s.Flags),
		})
	}
	return im, nil
}

func byteOrderOf(f *stdelf.File) binary.ByteOrder {
	if f.Data == stdelf.ELFDATA2MSB {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func readStruct(raw []byte, off int, bo binary.ByteOrder, v any) error {
	r := bytes.NewReader(raw[off:])
	return binary.Read(r, bo, v)
}

func asImage(img format.Image) (*Image, error) {
	im, ok := img.(*Image)
	if !ok {
		return nil, format.Wrap(format.KindInvalidArgs, "elf", fmt.Errorf("not an ELF image"))
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
		out = append(out, format.SectionInfo{Name: s.name, Size: s.size, Offset: s.offset})
	}
	return out, nil
}

func (a *Adapter) GetSection(img format.Image, _, name string) ([]byte, bool, error) {
	im, err := asImage(img)
	if err != nil {
		return nil, false, err
	}
	for _, s := range im.sections {
		if s.name != name {
			continue
		}
		if s.content != nil {
			return append([]byte(nil), s.content...), true, nil
		}
		if s.offset+s.size > uint64(len(im.raw)) {
			return nil, false, format.Wrap(format.KindInvalidFormat, "elf.GetSection", fmt.Errorf("section %s out of range", name))
		}
		return append([]byte(nil), im.raw[s.offset:s.offset+s.size]...), true, nil
	}
	return nil, false, nil
}

func (a *Adapter) AddSection(img format.Image, opts format.AddSectionOpts) error {
	im, err := asImage(img)
	if err != nil {
		return err
	}
	if err := format.CheckSectionName(format.VariantELF, opts.Name); err != nil {
		return err
	}
	align := uint64(opts.Alignment)
	if align == 0 {
		align = 4
	}
	im.sections = append(im.sections, section{
		name:    opts.Name,
		size:    uint64(len(opts.Content)),
		align:   align,
		typ:     1, // SHT_PROGBITS
		flags:   0,
		content: append([]byte(nil), opts.Content...),
		isNew:   true,
	})
	a.Log.WithField("section", opts.Name).Debug("elf: added section")
	return nil
}

func (a *Adapter) RemoveSection(img format.Image, _, name string, _ bool) (bool, error) {
	im, err := asImage(img)
	if err != nil {
		return false, err
	}
	for i, s := range im.sections {
		if s.name == name {
			im.sections = append(im.sections[:i:i], im.sections[i+1:]...)
			a.Log.WithField("section", name).Debug("elf: removed section")
			return true, nil
		}
	}
	return false, nil
}

// PatchSectionContent overwrites an already-present section's bytes in
// place. A section added earlier this call has its buffered content
// patched directly; a section still backed by the source file is patched
// inside the original raw buffer at its original offset, so serialize's
// verbatim copy of unchanged bytes picks up the change. newContent must
// match the section's current size exactly.
func (a *Adapter) PatchSectionContent(img format.Image, _, name string, newContent []byte) error {
	im, err := asImage(img)
	if err != nil {
		return err
	}
	for i := range im.sections {
		s := &im.sections[i]
		if s.name != name {
			continue
		}
		if uint64(len(newContent)) != s.size {
			return format.Wrap(format.KindInvalidArgs, "elf.PatchSectionContent", fmt.Errorf("patch must preserve section length"))
		}
		if s.content != nil {
			copy(s.content, newContent)
			return nil
		}
		end := s.offset + s.size
		if end > uint64(len(im.raw)) {
			return format.Wrap(format.KindWriteFailed, "elf.PatchSectionContent", fmt.Errorf("section %s out of range", name))
		}
		copy(im.raw[s.offset:end], newContent)
		return nil
	}
	return format.Wrap(format.KindSectionNotFound, "elf.PatchSectionContent", fmt.Errorf("section %s not found", name))
}

// RemoveSegment: ELF has no intermediate segment layer over sections
// (spec §4.1); the batch injector never calls this on an ELF target.
func (a *Adapter) RemoveSegment(format.Image, string) error {
	return format.Wrap(format.KindInvalidArgs, "elf.RemoveSegment", fmt.Errorf("ELF has no segment layer"))
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
		return format.Wrap(format.KindWriteFailed, "elf.Write", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return format.Wrap(format.KindWriteFailed, "elf.Write", err)
	}
	return nil
}
