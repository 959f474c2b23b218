package macho

import (
	"fmt"
)

// rewriteThin reproduces, by hand, the one piece go-macho's FileTOC does
// not do for us: relocating existing section bytes when the load-command
// region grows, then laying out newly-added section content at file end.
// This is the "hybrid workaround" named in spec §9 — gated entirely
// behind the format.Adapter boundary so Injector/BatchInjector never see
// it.
func rewriteThin(im *Image) ([]byte, error) {
	newTOC := im.f.TOCSize()

	var delta uint64
	if newTOC > im.origTOCSize {
		grown := uint64(newTOC - im.origTOCSize)
		const pageSize = 0x1000
		if rem := grown % pageSize; rem != 0 {
			grown += pageSize - rem
		}
		delta = grown
	}

	origSegByName := make(map[string]segSnapshot, len(im.origSegs))
	for _, s := range im.origSegs {
		origSegByName[s.name] = s
	}
	origSecByKey := make(map[string]secSnapshot, len(im.origSecs))
	for _, s := range im.origSecs {
		origSecByKey[s.segName+"/"+s.name] = s
	}

	// Pass 1: shift/resize segments and sections that existed at parse
	// time. __PAGEZERO (offset 0, filesz 0) is left untouched; the
	// segment that contains the Mach-O header (offset 0, filesz > 0,
	// conventionally __TEXT) absorbs delta into its own Filesz instead
	// of moving.
	for _, seg := range im.f.Segments() {
		snap, existed := origSegByName[seg.Name]
		if !existed {
			continue // brand-new segment, handled in pass 2
		}
		switch {
		case snap.origOffset == 0 && snap.origFilesz == 0:
			// __PAGEZERO-like: no file backing, nothing to do.
		case snap.origOffset == 0:
			seg.Offset = 0
			seg.Filesz = snap.origFilesz + delta
		default:
			seg.Offset = snap.origOffset + delta
			seg.Filesz = snap.origFilesz
		}
	}
	for _, sec := range im.f.Sections {
		snap, existed := origSecByKey[sec.Seg+"/"+sec.Name]
		if !existed {
			continue // brand-new section, handled in pass 2
		}
		if snap.zerofill || snap.origOffset == 0 {
			continue // no file backing to move
		}
		sec.Offset = uint32(snap.origOffset + delta)
	}

	// Pass 2: lay out newly-added section content after everything that
	// already had a place on disk.
	var cursor uint64
	for _, seg := range im.f.Segments() {
		if seg.Filesz == 0 {
			continue
		}
		if end := seg.Offset + seg.Filesz; end > cursor {
			cursor = end
		}
	}
	if cursor == 0 {
		cursor = uint64(len(im.raw)) + delta
	}

	type chunk struct {
		offset uint64
		data   []byte
	}
	var chunks []chunk
	newSegSpan := map[string][2]uint64{} // name -> [minOffset, maxEnd]

	for _, p := range im.pendingContent {
		sec := im.f.Section(p.segName, p.name)
		if sec == nil {
			return nil, fmt.Errorf("internal error: pending section %s/%s vanished before write", p.segName, p.name)
		}
		align := uint64(1) << sec.Align
		if align == 0 {
			align = 1
		}
		if rem := cursor % align; rem != 0 {
			cursor += align - rem
		}
		sec.Offset = uint32(cursor)
		chunks = append(chunks, chunk{offset: cursor, data: p.content})

		span := newSegSpan[p.segName]
		if span[0] == 0 || cursor < span[0] {
			span[0] = cursor
		}
		end := cursor + uint64(len(p.content))
		if end > span[1] {
			span[1] = end
		}
		newSegSpan[p.segName] = span

		cursor += uint64(len(p.content))
	}

	// Reconcile segment spans: newly-created segments adopt the span of
	// their sections; pre-existing segments that gained a new trailing
	// section grow to cover it.
	for _, seg := range im.f.Segments() {
		span, ok := newSegSpan[seg.Name]
		if !ok {
			continue
		}
		if _, existed := origSegByName[seg.Name]; !existed {
			seg.Offset = span[0]
			seg.Filesz = span[1] - span[0]
		} else if span[1] > seg.Offset+seg.Filesz {
			seg.Filesz = span[1] - seg.Offset
		}
	}

	total := cursor
	out := make([]byte, total)

	hdrBuf := make([]byte, newTOC)
	im.f.FileTOC.Put(hdrBuf)
	copy(out, hdrBuf)

	// Copy forward every section that already had file-backed content.
	for _, sec := range im.origSecs {
		if sec.zerofill || sec.origOffset == 0 {
			continue
		}
		newOff := sec.origOffset + delta
		if sec.origOffset+sec.origSize > uint64(len(im.raw)) {
			// defensive: original section read would overrun; skip rather
			// than panic on a malformed/adversarial input (spec §1 Non-goals).
			continue
		}
		srcEnd := sec.origOffset + sec.origSize
		if srcEnd > uint64(len(im.raw)) {
			srcEnd = uint64(len(im.raw))
		}
		n := copy(out[newOff:], im.raw[sec.origOffset:srcEnd])
		_ = n
	}
	// Segments with file content but no sections of their own (rare, but
	// __LINKEDIT is sometimes modeled without going through the section
	// loop above if it has zero sections) are copied at the segment
	// level as a fallback.
	for _, seg := range im.origSegs {
		if seg.origFilesz == 0 {
			continue
		}
		if hasSectionsCopied(im.origSecs, seg.name) {
			continue
		}
		newOff := seg.origOffset + delta
		srcEnd := seg.origOffset + seg.origFilesz
		if srcEnd > uint64(len(im.raw)) {
			srcEnd = uint64(len(im.raw))
		}
		copy(out[newOff:], im.raw[seg.origOffset:srcEnd])
	}

	for _, c := range chunks {
		copy(out[c.offset:], c.data)
	}

	return out, nil
}

func hasSectionsCopied(secs []secSnapshot, segName string) bool {
	for _, s := range secs {
		if s.segName == segName {
			return true
		}
	}
	return false
}
