package inject

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/smolstub/binject/internal/format"
)

func TestSectionNameMachOAddsPrefix(t *testing.T) {
	assert.Equal(t, "__NODE_SEA_BLOB", sectionName(format.VariantMachO, logicalSEABlob))
	assert.Equal(t, "__SMOL_VFS_BLOB", sectionName(format.VariantMachO, logicalVFSBlob))
	assert.Equal(t, "__SMOL_VFS_CONFIG", sectionName(format.VariantMachO, logicalVFSConfig))
}

func TestSectionNameELFAndPEAreBare(t *testing.T) {
	assert.Equal(t, logicalSEABlob, sectionName(format.VariantELF, logicalSEABlob))
	assert.Equal(t, logicalSEABlob, sectionName(format.VariantPE, logicalSEABlob))
}
