package inject

import (
	"encoding/binary"
	"os"
)

// buildMinimalELF writes a tiny, valid 64-bit little-endian ELF executable
// to path: a null section, a ".text" section carrying content, and the
// .shstrtab section naming them. It exists purely to exercise the
// injector end-to-end against the pure-Go ELF adapter, which needs no
// cgo or codesign subprocess the way the Mach-O/darwin-signing path does.
func buildMinimalELF(path string, textContent []byte) error {
	const ehdrSize = 64
	const shdrSize = 64

	textOff := uint64(ehdrSize)
	textSize := uint64(len(textContent))

	shstrtab := append([]byte{0}, []byte(".text\x00")...)
	shstrtabNameOff := uint32(len(shstrtab))
	shstrtab = append(shstrtab, []byte(".shstrtab\x00")...)

	shstrtabOff := textOff + textSize
	shoff := shstrtabOff + uint64(len(shstrtab))

	buf := make([]byte, shoff+3*shdrSize)

	// e_ident
	buf[0], buf[1], buf[2], buf[3] = 0x7f, 'E', 'L', 'F'
	buf[4] = 2 // ELFCLASS64
	buf[5] = 1 // ELFDATA2LSB
	buf[6] = 1 // EV_CURRENT

	le := binary.LittleEndian
	le.PutUint16(buf[16:], 2)  // e_type: ET_EXEC
	le.PutUint16(buf[18:], 62) // e_machine: EM_X86_64
	le.PutUint32(buf[20:], 1)  // e_version
	le.PutUint64(buf[32:], shoff)
	le.PutUint16(buf[52:], ehdrSize)  // e_ehsize
	le.PutUint16(buf[58:], shdrSize)  // e_shentsize
	le.PutUint16(buf[60:], 3)         // e_shnum
	le.PutUint16(buf[62:], 2)         // e_shstrndx

	copy(buf[textOff:], textContent)
	copy(buf[shstrtabOff:], shstrtab)

	const textNameOff = 1 // shstrtab[0] is the leading NUL, ".text" starts at 1

	writeShdr64(buf, shoff, 0, 0, 0, 0, 0) // null section
	writeShdr64(buf, shoff+shdrSize, textNameOff, 1 /* SHT_PROGBITS */, textOff, textSize, 0x2 /* SHF_ALLOC */)
	writeShdr64(buf, shoff+2*shdrSize, shstrtabNameOff, 3 /* SHT_STRTAB */, shstrtabOff, uint64(len(shstrtab)), 0)

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
	le.PutUint64(s[48:], 1) // addralign
}

type fakeOps struct{}

func (fakeOps) RequiresSigning() bool             { return false }
func (fakeOps) Sign(string) error                 { return nil }
func (fakeOps) FinalizeRename(tmp, dest string) error {
	return os.Rename(tmp, dest)
}
