package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		KindInvalidArgs:      "InvalidArgs",
		KindInvalidFormat:    "InvalidFormat",
		KindPermissionDenied: "PermissionDenied",
		KindSectionNotFound:  "SectionNotFound",
		KindWriteFailed:      "WriteFailed",
		KindDecompressError:  "DecompressError",
		KindTooLong:          "TooLong",
		Kind(999):            "Unknown",
	}
	for k, want := range cases {
		assert.Equal(t, want, k.String())
	}
}

func TestVariantString(t *testing.T) {
	assert.Equal(t, "macho", VariantMachO.String())
	assert.Equal(t, "elf", VariantELF.String())
	assert.Equal(t, "pe", VariantPE.String())
	assert.Equal(t, "unknown", VariantUnknown.String())
}

func TestWrapAndAs(t *testing.T) {
	cause := assert.AnError
	err := Wrap(KindSectionNotFound, "test.op", cause)

	fe, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, KindSectionNotFound, fe.Kind)
	assert.Equal(t, "test.op", fe.Op)
	assert.ErrorIs(t, err, cause)
}

func TestWrapNilCause(t *testing.T) {
	err := Wrap(KindInvalidArgs, "test.op", nil)
	fe, ok := As(err)
	require.True(t, ok)
	assert.Nil(t, fe.Err)
	assert.Contains(t, fe.Error(), "InvalidArgs")
}

func TestAsRejectsForeignError(t *testing.T) {
	_, ok := As(assert.AnError)
	assert.False(t, ok)
}

func TestCheckSectionName(t *testing.T) {
	require.NoError(t, CheckSectionName(VariantPE, "NODE_SEA"))
	err := CheckSectionName(VariantPE, "TOO_LONG_NAME")
	require.Error(t, err)
	fe, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, KindInvalidArgs, fe.Kind)

	require.NoError(t, CheckSectionName(VariantMachO, "__NODE_SEA_BLOB"))
	assert.Error(t, CheckSectionName(VariantMachO, "__THIS_NAME_IS_WAY_TOO_LONG"))

	// ELF has no enforced cap.
	require.NoError(t, CheckSectionName(VariantELF, "A_VERY_VERY_VERY_LONG_SECTION_NAME"))
}

func TestCheckSIP(t *testing.T) {
	require.NoError(t, CheckSIP("/Users/me/project/app"))
	require.NoError(t, CheckSIP("app"))

	err := CheckSIP("/usr/bin/env")
	require.Error(t, err)
	fe, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, KindPermissionDenied, fe.Kind)

	assert.Error(t, CheckSIP("/System/Library/foo"))
	assert.Error(t, CheckSIP("/bin/sh"))
}
