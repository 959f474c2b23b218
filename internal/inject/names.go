package inject

import "github.com/smolstub/binject/internal/format"

// seaSegment is the Mach-O segment the SEA blob and its siblings live
// under (spec §3's section-naming table); ELF and PE have no segment
// layer so this is unused there.
const seaSegment = "NODE_SEA"

// sectionName resolves the per-format on-disk section name for a logical
// payload name. Mach-O section names carry the "__" prefix and are
// capped at 16 bytes including it; ELF/PE use the bare name (the PE
// adapter further canonicalizes it to fit the 8-byte limit).
func sectionName(variant format.Variant, logical string) string {
	if variant == format.VariantMachO {
		return "__" + logical
	}
	return logical
}

const (
	logicalSEABlob   = "NODE_SEA_BLOB"
	logicalVFSBlob   = "SMOL_VFS_BLOB"
	logicalVFSConfig = "SMOL_VFS_CONFIG"
)
