package pe

import (
	stdpe "debug/pe"
	"encoding/binary"
)

const sectionHeaderSize = 40

// fileAlignment is used to pad new section content; binject does not
// parse the optional header's own FileAlignment field (see Image doc
// comment) so it falls back to the common COFF default.
const fileAlignment = 0x200

// serialize rebuilds a PE/COFF image: the DOS stub, PE signature,
// IMAGE_FILE_HEADER, and optional header are copied forward unchanged
// (only NumberOfSections is patched); pre-existing sections keep their
// original file offsets; new sections are appended, file-aligned, after
// the highest pre-existing section's raw data, with a freshly written
// section table directly after the optional header.
func serialize(im *Image) ([]byte, error) {
	align := func(v uint32) uint32 {
		if rem := v % fileAlignment; rem != 0 {
			return v + (fileAlignment - rem)
		}
		return v
	}

	shdrTableOff := im.coffAt + 20 + uint32(len(im.optHeaderBytes))
	dataStart := align(shdrTableOff + uint32(len(im.sections))*sectionHeaderSize)

	var cursor uint32
	for _, s := range im.sections {
		if s.isNew {
			continue
		}
		if end := s.pointerToRaw + s.sizeOfRawData; end > cursor {
			cursor = end
		}
	}
	if cursor < dataStart {
		cursor = dataStart
	}

	type placed struct {
		section
		newPointer uint32
	}
	placedSecs := make([]placed, len(im.sections))
	for i, s := range im.sections {
		if !s.isNew {
			placedSecs[i] = placed{section: s, newPointer: s.pointerToRaw}
			continue
		}
		cursor = align(cursor)
		placedSecs[i] = placed{section: s, newPointer: cursor}
		cursor += align(s.sizeOfRawData)
	}

	out := make([]byte, cursor)

	// DOS header + stub + "PE\0\0" + IMAGE_FILE_HEADER + optional header,
	// all copied verbatim from the source up to the original section
	// table (which we overwrite below).
	copy(out, im.raw[:im.coffAt])

	fhdr := im.fhdr
	fhdr.NumberOfSections = uint16(len(placedSecs))
	writeFileHeader(out[im.coffAt:], fhdr)
	copy(out[im.coffAt+20:], im.optHeaderBytes)

	for i, p := range placedSecs {
		writeSectionHeader(out[shdrTableOff+uint32(i)*sectionHeaderSize:], p.section, p.newPointer)
	}

	for _, p := range placedSecs {
		if p.isNew {
			copy(out[p.newPointer:], p.content)
			continue
		}
		end := p.pointerToRaw + p.sizeOfRawData
		if uint64(end) > uint64(len(im.raw)) {
			end = uint32(len(im.raw))
		}
		copy(out[p.newPointer:], im.raw[p.pointerToRaw:end])
	}

	return out, nil
}

func writeFileHeader(b []byte, h stdpe.FileHeader) {
	binary.LittleEndian.PutUint16(b[0:], h.Machine)
	binary.LittleEndian.PutUint16(b[2:], h.NumberOfSections)
	binary.LittleEndian.PutUint32(b[4:], h.TimeDateStamp)
	binary.LittleEndian.PutUint32(b[8:], h.PointerToSymbolTable)
	binary.LittleEndian.PutUint32(b[12:], h.NumberOfSymbols)
	binary.LittleEndian.PutUint16(b[16:], h.SizeOfOptionalHeader)
	binary.LittleEndian.PutUint16(b[18:], h.Characteristics)
}

func writeSectionHeader(b []byte, s section, pointerToRaw uint32) {
	var name [8]byte
	copy(name[:], s.name)
	copy(b[0:8], name[:])
	binary.LittleEndian.PutUint32(b[8:], s.virtualSize)
	binary.LittleEndian.PutUint32(b[12:], s.virtualAddress)
	binary.LittleEndian.PutUint32(b[16:], s.sizeOfRawData)
	binary.LittleEndian.PutUint32(b[20:], pointerToRaw)
	binary.LittleEndian.PutUint32(b[24:], 0) // PointerToRelocations
	binary.LittleEndian.PutUint32(b[28:], 0) // PointerToLinenumbers
	binary.LittleEndian.PutUint16(b[32:], 0) // NumberOfRelocations
	binary.LittleEndian.PutUint16(b[34:], 0) // NumberOfLinenumbers
	binary.LittleEndian.PutUint32(b[36:], s.characteristics)
}
