// Package macho adapts github.com/blacktop/go-macho's reader/FileTOC
// primitives into the format.Adapter surface the injector drives.
//
// go-macho gives us parsing (NewFile), in-memory mutation of the table of
// contents (FileTOC.AddSegment/AddSection/Put), and code-signature blob
// parsing, but no generic "mutate and rewrite a Mach-O to disk" call: Put
// only serializes the header and load commands, not section content, and
// never relocates existing section bytes when the load-command area
// grows. The known workaround the specification calls for (§9, Design
// Notes) lives entirely in writer.go and is not visible to format.Adapter
// callers.
package macho

import (
	"bytes"
	"fmt"
	"os"

	gomacho "github.com/blacktop/go-macho"
	"github.com/blacktop/go-macho/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/smolstub/binject/internal/format"
)

// segSnapshot records a segment's layout as it was at parse time, before
// any mutation, so writer.go knows what must shift and by how much.
type segSnapshot struct {
	name       string
	origOffset uint64
	origFilesz uint64
}

type secSnapshot struct {
	segName    string
	name       string
	origOffset uint64
	origSize   uint64
	zerofill   bool
}

// Image wraps a parsed *gomacho.File plus the bookkeeping writer.go needs
// to reproduce the hybrid rewrite workaround.
type Image struct {
	path string
	raw  []byte // full original file contents
	f    *gomacho.File

	fat *fatHeader // non-nil if the source was a fat binary

	origTOCSize uint32
	origSegs    []segSnapshot
	origSecs    []secSnapshot

	// pendingContent holds the bytes for sections added via AddSection
	// this call, keyed by (segment, name); writer.go lays them out at
	// file end once final offsets are known.
	pendingContent []pendingSection
}

type pendingSection struct {
	segName string
	name    string
	content []byte
}

func (im *Image) Variant() format.Variant { return format.VariantMachO }
func (im *Image) Path() string            { return im.path }

// Adapter implements format.Adapter for Mach-O 64-bit (thin or fat, slice
// 0) executables.
type Adapter struct {
	Log *logrus.Logger
}

func New(log *logrus.Logger) *Adapter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Adapter{Log: log}
}

// Sniff reports whether data begins with a recognized Mach-O magic,
// including the 32-bit magic that Parse must subsequently reject.
func Sniff(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	be := beUint32(data)
	le := leUint32(data)
	switch be {
	case uint32(types.Magic32), uint32(types.Magic64), fatMagicBE:
		return true
	}
	switch le {
	case uint32(types.Magic32), uint32(types.Magic64), fatMagicBE:
		return true
	}
	return false
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
func leUint32(b []byte) uint32 {
	return uint32(b[3])<<24 | uint32(b[2])<<16 | uint32(b[1])<<8 | uint32(b[0])
}

func (a *Adapter) Parse(path string) (format.Image, error) {
	if err := format.CheckSIP(path); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, format.Wrap(format.KindInvalidFormat, "macho.Parse", err)
	}
	if len(raw) < 4 {
		return nil, format.Wrap(format.KindInvalidFormat, "macho.Parse", fmt.Errorf("file too small"))
	}

	be := beUint32(raw)
	if be == fatMagicBE {
		fh, err := parseFat(raw)
		if err != nil {
			return nil, format.Wrap(format.KindInvalidFormat, "macho.Parse", err)
		}
		slice0, err := fh.slice0()
		if err != nil {
			return nil, format.Wrap(format.KindInvalidFormat, "macho.Parse", err)
		}
		im, err := a.parseThin(path, slice0)
		if err != nil {
			return nil, err
		}
		im.fat = fh
		return im, nil
	}

	if be == uint32(types.Magic32) || leUint32(raw) == uint32(types.Magic32) {
		return nil, format.Wrap(format.KindInvalidFormat, "macho.Parse", fmt.Errorf("32-bit Mach-O is not supported"))
	}

	return a.parseThin(path, raw)
}

func (a *Adapter) parseThin(path string, raw []byte) (*Image, error) {
	f, err := gomacho.NewFile(bytes.NewReader(raw))
	if err != nil {
		return nil, format.Wrap(format.KindInvalidFormat, "macho.Parse", err)
	}
	im := &Image{path: path, raw: raw, f: f}
	im.origTOCSize = f.TOCSize()
	for _, seg := range f.Segments() {
		im.origSegs = append(im.origSegs, segSnapshot{
			name:       seg.Name,
			origOffset: seg.Offset,
			origFilesz: seg.Filesz,
		})
		for _, sec := range f.GetSectionsForSegment(seg.Name) {
			im.origSecs = append(im.origSecs, secSnapshot{
				segName:    seg.Name,
				name:       sec.Name,
				origOffset: uint64(sec.Offset),
				origSize:   sec.Size,
				zerofill:   sec.Flags&0xff == 1, // S_ZEROFILL
			})
		}
	}
	return im, nil
}

func asImage(img format.Image) (*Image, error) {
	im, ok := img.(*Image)
	if !ok {
		return nil, format.Wrap(format.KindInvalidArgs, "macho", fmt.Errorf("not a Mach-O image"))
	}
	return im, nil
}

func (a *Adapter) ListSections(img format.Image) ([]format.SectionInfo, error) {
	im, err := asImage(img)
	if err != nil {
		return nil, err
	}
	var out []format.SectionInfo
	for _, seg := range im.f.Segments() {
		for _, sec := range im.f.GetSectionsForSegment(seg.Name) {
			out = append(out, format.SectionInfo{
				Segment: seg.Name,
				Name:    sec.Name,
				Size:    sec.Size,
				Offset:  uint64(sec.Offset),
			})
		}
	}
	return out, nil
}

func (a *Adapter) GetSection(img format.Image, segment, name string) ([]byte, bool, error) {
	im, err := asImage(img)
	if err != nil {
		return nil, false, err
	}
	var sec *gomacho.Section
	if segment != "" {
		sec = im.f.Section(segment, name)
	} else {
		for _, s := range im.f.Segments() {
			if c := im.f.Section(s.Name, name); c != nil {
				sec = c
				break
			}
		}
	}
	if sec == nil {
		return nil, false, nil
	}
	data, err := sec.Data()
	if err != nil {
		return nil, false, format.Wrap(format.KindSectionNotFound, "macho.GetSection", err)
	}
	return data, true, nil
}

// AddSection creates the segment (RWX) if it doesn't exist, then appends
// the section to it, in that order, per spec §4.1: "this ordering is
// required so that load-command sizes are computed correctly."
func (a *Adapter) AddSection(img format.Image, opts format.AddSectionOpts) error {
	im, err := asImage(img)
	if err != nil {
		return err
	}
	if err := format.CheckSectionName(format.VariantMachO, opts.Name); err != nil {
		return err
	}

	seg := im.f.Segment(opts.Segment)
	if seg == nil {
		newSeg := &gomacho.Segment{
			SegmentHeader: gomacho.SegmentHeader{
				LoadCmd: types.LC_SEGMENT_64,
				Name:    opts.Segment,
				Maxprot: 0x7, // RWX
				Prot:    0x7, // RWX
			},
		}
		im.f.FileTOC.AddSegment(newSeg)
		a.Log.WithField("segment", opts.Segment).Debug("macho: created segment")
	}

	align := opts.Alignment
	if align == 0 {
		align = 4
	}
	newSec := &gomacho.Section{
		SectionHeader: gomacho.SectionHeader{
			Name:  opts.Name,
			Seg:   opts.Segment,
			Size:  uint64(len(opts.Content)),
			Align: log2(align),
			Flags: types.SectionFlag(0), // S_REGULAR
		},
	}
	im.f.FileTOC.AddSection(newSec)
	im.pendingContent = append(im.pendingContent, pendingSection{
		segName: opts.Segment,
		name:    opts.Name,
		content: opts.Content,
	})
	a.Log.WithFields(logrus.Fields{"segment": opts.Segment, "section": opts.Name, "bytes": len(opts.Content)}).
		Debug("macho: added section")
	return nil
}

func log2(v uint32) uint32 {
	var n uint32
	for v > 1 {
		v >>= 1
		n++
	}
	return n
}

// RemoveSection removes a named section from a segment's TOC entry.
// clearBytes is honored implicitly: removed section content is never
// copied forward by writer.go.
func (a *Adapter) RemoveSection(img format.Image, segment, name string, clearBytes bool) (bool, error) {
	im, err := asImage(img)
	if err != nil {
		return false, err
	}
	seg := im.f.Segment(segment)
	if seg == nil {
		return false, nil
	}
	found := false
	var kept []*gomacho.Section
	for i := uint32(0); i < seg.Nsect; i++ {
		sec := im.f.Sections[i+seg.Firstsect]
		if sec.Name == name {
			found = true
			continue
		}
		kept = append(kept, sec)
	}
	if !found {
		return false, nil
	}
	rebuildSections(im.f, seg, kept)
	// drop any pending (not-yet-written) content for this name too, so
	// overwrite semantics (remove-then-add within one call) behave.
	var pc []pendingSection
	for _, p := range im.pendingContent {
		if p.segName == segment && p.name == name {
			continue
		}
		pc = append(pc, p)
	}
	im.pendingContent = pc
	a.Log.WithFields(logrus.Fields{"segment": segment, "section": name}).Debug("macho: removed section")
	return true, nil
}

// rebuildSections replaces seg's sections with kept, updating seg's
// Nsect/Len and recomputing Firstsect for every segment (removal can
// shift indices for segments that come after seg in the global Sections
// slice).
func rebuildSections(f *gomacho.File, seg *gomacho.Segment, kept []*gomacho.Section) {
	before := f.Sections[:seg.Firstsect]
	after := f.Sections[seg.Firstsect+seg.Nsect:]

	sectionStructSize := uint32(80) // sizeof(section_64)
	removedCount := seg.Nsect - uint32(len(kept))

	newAll := append(append(append([]*gomacho.Section{}, before...), kept...), after...)
	f.Sections = newAll

	delta := removedCount * sectionStructSize
	seg.Len -= delta
	seg.Nsect = uint32(len(kept))
	f.SizeCommands -= delta

	// fix up Firstsect for every segment after this one
	cursor := uint32(0)
	for _, s := range f.Segments() {
		s.Firstsect = cursor
		if s.Name == seg.Name {
			s.Nsect = uint32(len(kept))
		}
		cursor += s.Nsect
	}
}

// PatchSectionContent overwrites an already-present section's bytes in
// place: a pending (added-this-call) section's buffered content is
// patched directly, while a section that was already on disk at parse
// time is patched inside the original raw buffer at its original offset,
// so writer.go's copy-forward-unchanged-sections pass picks up the change
// without relocating anything. newContent must match the section's
// current length exactly.
func (a *Adapter) PatchSectionContent(img format.Image, segment, name string, newContent []byte) error {
	im, err := asImage(img)
	if err != nil {
		return err
	}
	for i := range im.pendingContent {
		p := &im.pendingContent[i]
		if p.segName == segment && p.name == name {
			if len(newContent) != len(p.content) {
				return format.Wrap(format.KindInvalidArgs, "macho.PatchSectionContent", fmt.Errorf("patch must preserve section length"))
			}
			copy(p.content, newContent)
			return nil
		}
	}
	for _, sec := range im.origSecs {
		if sec.segName != segment || sec.name != name {
			continue
		}
		if sec.zerofill || sec.origOffset == 0 {
			return format.Wrap(format.KindInvalidArgs, "macho.PatchSectionContent", fmt.Errorf("section %s/%s has no file-backed bytes to patch", segment, name))
		}
		if uint64(len(newContent)) != sec.origSize {
			return format.Wrap(format.KindInvalidArgs, "macho.PatchSectionContent", fmt.Errorf("patch must preserve section length"))
		}
		end := sec.origOffset + sec.origSize
		if end > uint64(len(im.raw)) {
			return format.Wrap(format.KindWriteFailed, "macho.PatchSectionContent", fmt.Errorf("section %s/%s out of range", segment, name))
		}
		copy(im.raw[sec.origOffset:end], newContent)
		return nil
	}
	return format.Wrap(format.KindSectionNotFound, "macho.PatchSectionContent", fmt.Errorf("section %s/%s not found", segment, name))
}

// RemoveSegment drops an entire segment and its sections from the TOC.
// Used by the batch injector to idempotently replace NODE_SEA (spec §4.4).
func (a *Adapter) RemoveSegment(img format.Image, name string) error {
	im, err := asImage(img)
	if err != nil {
		return err
	}
	seg := im.f.Segment(name)
	if seg == nil {
		return nil
	}
	rebuildSections(im.f, seg, nil)

	var kept []gomacho.Load
	segStructSize := uint32(72) // sizeof(segment_command_64), not counting sections
	for _, l := range im.f.Loads {
		if s, ok := l.(*gomacho.Segment); ok && s.Name == name {
			im.f.SizeCommands -= segStructSize
			im.f.NCommands--
			continue
		}
		kept = append(kept, l)
	}
	im.f.Loads = kept

	var pc []pendingSection
	for _, p := range im.pendingContent {
		if p.segName != name {
			pc = append(pc, p)
		}
	}
	im.pendingContent = pc
	a.Log.WithField("segment", name).Debug("macho: removed segment")
	return nil
}

func (a *Adapter) HasCodeSignature(img format.Image) (bool, error) {
	im, err := asImage(img)
	if err != nil {
		return false, err
	}
	return im.f.CodeSignature() != nil, nil
}

// RemoveCodeSignature drops the LC_CODE_SIGNATURE load command, if any,
// ahead of a rewrite (spec §4.2 step 4: signatures must be removed
// *before* the temp file is rendered, not patched in place afterward).
func (a *Adapter) RemoveCodeSignature(img format.Image) error {
	im, err := asImage(img)
	if err != nil {
		return err
	}
	var kept []gomacho.Load
	removed := false
	for _, l := range im.f.Loads {
		if l.Command() == types.LC_CODE_SIGNATURE {
			removed = true
			im.f.SizeCommands -= l.LoadSize(&im.f.FileTOC)
			im.f.NCommands--
			continue
		}
		kept = append(kept, l)
	}
	if removed {
		im.f.Loads = kept
		a.Log.Debug("macho: removed existing code signature load command")
	}
	return nil
}

func (a *Adapter) Write(img format.Image, path string) error {
	im, err := asImage(img)
	if err != nil {
		return err
	}
	slice0, err := rewriteThin(im)
	if err != nil {
		return format.Wrap(format.KindWriteFailed, "macho.Write", err)
	}
	out := slice0
	if im.fat != nil {
		out = im.fat.reassemble(slice0)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return format.Wrap(format.KindWriteFailed, "macho.Write", errors.Wrap(err, "write output"))
	}
	return nil
}
