package smol

import (
	"encoding/binary"
	"fmt"

	"github.com/smolstub/binject/internal/format"
)

const (
	smolConfigMagic   = 0x534d4647 // "SMFG" as a big-endian uint32, spec §4.5
	smolConfigMinSize = 1200
	nodeVersionOffset = 8 + 16 + 128 + 256 + 512 + 128 + 64 + 64 // 1176, per spec §4.5
	nodeVersionMaxLen = 15
)

func smolConfigSectionName(variant format.Variant) string {
	if variant == format.VariantMachO {
		return "__SMOL_CONFIG"
	}
	if variant == format.VariantPE {
		return "SMOLCFG"
	}
	return "SMOL_CONFIG"
}

// ExtractNodeVersion implements spec §4.5's smol_extract_node_version:
// find the SMOL_CONFIG section, validate its header, and read the
// length-prefixed nodeVersion field at the fixed offset the standalone
// SMFG layout puts it at (the embedded layout has no nodeVersion slot).
func ExtractNodeVersion(binaryPath string) (string, error) {
	adapter, err := detect(binaryPath)
	if err != nil {
		return "", err
	}
	img, err := adapter.Parse(binaryPath)
	if err != nil {
		return "", err
	}

	segment := ""
	if img.Variant() == format.VariantMachO {
		segment = smolSegment
	}
	section, ok, err := adapter.GetSection(img, segment, smolConfigSectionName(img.Variant()))
	if err != nil {
		return "", err
	}
	if !ok {
		return "", format.Wrap(format.KindSectionNotFound, "smol.ExtractNodeVersion", fmt.Errorf("SMOL_CONFIG section not found"))
	}
	if len(section) < smolConfigMinSize {
		return "", format.Wrap(format.KindInvalidFormat, "smol.ExtractNodeVersion",
			fmt.Errorf("SMOL_CONFIG section too small: %d bytes", len(section)))
	}

	magic := binary.BigEndian.Uint32(section[0:4])
	version := binary.LittleEndian.Uint32(section[4:8])
	if magic != smolConfigMagic {
		return "", format.Wrap(format.KindInvalidFormat, "smol.ExtractNodeVersion", fmt.Errorf("bad SMOL_CONFIG magic"))
	}
	if version < 2 {
		return "", format.Wrap(format.KindInvalidFormat, "smol.ExtractNodeVersion", fmt.Errorf("SMOL_CONFIG version %d too old", version))
	}

	length := int(section[nodeVersionOffset])
	if length < 1 || length > nodeVersionMaxLen {
		return "", format.Wrap(format.KindInvalidFormat, "smol.ExtractNodeVersion", fmt.Errorf("nodeVersion length %d out of range", length))
	}
	start := nodeVersionOffset + 1
	if start+length > len(section) {
		return "", format.Wrap(format.KindInvalidFormat, "smol.ExtractNodeVersion", fmt.Errorf("nodeVersion field out of range"))
	}
	return string(section[start : start+length]), nil
}
