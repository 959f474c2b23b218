package elf

import (
	stdelf "debug/elf"
	"encoding/binary"
)

// elf64Shdr mirrors Elf64_Shdr; debug/elf doesn't export an on-disk
// struct we can reuse for writing, so this is hand-laid-out to match the
// ELF64 spec exactly.
type elf64Shdr struct {
	Name      uint32
	Type      uint32
	Flags     uint64
	Addr      uint64
	Off       uint64
	Size      uint64
	Link      uint32
	Info      uint32
	Addralign uint64
	Entsize   uint64
}

const elf64ShdrSize = 64
const elf64EhdrSize = 64

// serialize rebuilds a full ELF64 image: original header/program-header
// region and every pre-existing section's bytes are copied verbatim at
// their original file offsets (never relocated — only appended-to), a
// fresh .shstrtab is built to hold any newly-added section names, and the
// section header table is rewritten at file end pointing at the
// (possibly new) section contents.
func serialize(im *Image) ([]byte, error) {
	bo := im.byteOrder

	// 1. Figure out where new content starts: end of the highest
	// pre-existing section's file-backed range (sections with no file
	// backing, e.g. SHT_NOBITS, are skipped).
	var cursor uint64
	for _, s := range im.sections {
		if s.isNew || s.typ == 8 /* SHT_NOBITS */ {
			continue
		}
		if end := s.offset + s.size; end > cursor {
			cursor = end
		}
	}
	if cursor == 0 {
		cursor = uint64(len(im.raw))
	}

	// 2. Build the new shstrtab contents (every section name, including
	// kept ones, laid out fresh — simplest way to guarantee new, longer
	// names fit without perturbing old section data).
	strtab := []byte{0}
	nameOff := make([]uint32, len(im.sections))
	for i, s := range im.sections {
		nameOff[i] = uint32(len(strtab))
		strtab = append(strtab, []byte(s.name)...)
		strtab = append(strtab, 0)
	}
	shstrtabNameOff := uint32(len(strtab))
	strtab = append(strtab, []byte(".shstrtab\x00")...)

	align := func(v, a uint64) uint64 {
		if a <= 1 {
			return v
		}
		if rem := v % a; rem != 0 {
			return v + (a - rem)
		}
		return v
	}

	type placed struct {
		section
		newOffset uint64
	}
	placedSecs := make([]placed, len(im.sections))

	// place new sections' content
	for i, s := range im.sections {
		if !s.isNew {
			placedSecs[i] = placed{section: s, newOffset: s.offset}
			continue
		}
		cursor = align(cursor, s.align)
		placedSecs[i] = placed{section: s, newOffset: cursor}
		cursor += s.size
	}

	shstrtabOff := align(cursor, 8)
	cursor = shstrtabOff + uint64(len(strtab))

	shoff := align(cursor, 8)
	shnum := len(placedSecs) + 1 // +1 for .shstrtab itself
	cursor = shoff + uint64(shnum)*elf64ShdrSize

	out := make([]byte, cursor)

	// 3. Copy the original file's header + program headers + every
	// pre-existing section's bytes verbatim (offsets unchanged).
	copy(out, im.raw)

	// 4. Copy new section content.
	for _, p := range placedSecs {
		if p.isNew {
			copy(out[p.newOffset:], p.content)
		}
	}
	copy(out[shstrtabOff:], strtab)

	// 5. Write the section header table.
	for i, p := range placedSecs {
		writeShdr(out, shoff+uint64(i)*elf64ShdrSize, bo, elf64Shdr{
			Name:      nameOff[i],
			Type:      p.typ,
			Flags:     p.flags,
			Addr:      p.addr,
			Off:       p.newOffset,
			Size:      p.size,
			Addralign: p.align,
		})
	}
	writeShdr(out, shoff+uint64(len(placedSecs))*elf64ShdrSize, bo, elf64Shdr{
		Name:      shstrtabNameOff,
		Type:      3, // SHT_STRTAB
		Off:       shstrtabOff,
		Size:      uint64(len(strtab)),
		Addralign: 1,
	})

	// 6. Patch the ELF header's section-header fields.
	ehdr := im.ehdr
	ehdr.Shoff = shoff
	ehdr.Shnum = uint16(shnum)
	ehdr.Shstrndx = uint16(shnum - 1)
	writeEhdr(out, bo, ehdr)

	return out, nil
}

func writeShdr(buf []byte, off uint64, bo binary.ByteOrder, s elf64Shdr) {
	b := buf[off : off+elf64ShdrSize]
	bo.PutUint32(b[0:], s.Name)
	bo.PutUint32(b[4:], s.Type)
	bo.PutUint64(b[8:], s.Flags)
	bo.PutUint64(b[16:], s.Addr)
	bo.PutUint64(b[24:], s.Off)
	bo.PutUint64(b[32:], s.Size)
	bo.PutUint32(b[40:], s.Link)
	bo.PutUint32(b[44:], s.Info)
	bo.PutUint64(b[48:], s.Addralign)
	bo.PutUint64(b[56:], s.Entsize)
}

// writeEhdr patches only the section-header-table fields serialize()
// changed; every other header byte is left as copied from the source
// file.
func writeEhdr(buf []byte, bo binary.ByteOrder, e stdelf.Header64) {
	bo.PutUint64(buf[40:], e.Shoff)
	bo.PutUint16(buf[58:], e.Shentsize)
	bo.PutUint16(buf[60:], e.Shnum)
	bo.PutUint16(buf[62:], e.Shstrndx)
}
