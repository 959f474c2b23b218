package inject

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlipFuseFlipsFinalByte(t *testing.T) {
	content := []byte("xxxNODE_SEA_FUSE_abc123UNFLIPPED:0yyy")
	out, ok := flipFuse(content)
	require.True(t, ok)
	assert.Equal(t, []byte("xxxNODE_SEA_FUSE_abc123UNFLIPPED:1yyy"), out)
	// original slice is untouched; flipFuse returns a copy.
	assert.True(t, bytes.Contains(content, []byte("UNFLIPPED:0")))
}

func TestFlipFuseMissingMarkerIsNotAnError(t *testing.T) {
	out, ok := flipFuse([]byte("no fuse marker in here at all"))
	assert.False(t, ok)
	assert.Equal(t, []byte("no fuse marker in here at all"), out)
}

func TestFlipFuseRequiresExactSuffix(t *testing.T) {
	// prefix present, but the blob was already flipped (":1") — flipFuse
	// must not re-flip an already-flipped marker.
	out, ok := flipFuse([]byte("NODE_SEA_FUSE_xUNFLIPPED:1"))
	assert.False(t, ok)
	assert.Equal(t, []byte("NODE_SEA_FUSE_xUNFLIPPED:1"), out)
}

func TestFlipFuseFirstMatchWins(t *testing.T) {
	content := []byte("NODE_SEA_FUSE_aUNFLIPPED:0...NODE_SEA_FUSE_bUNFLIPPED:0")
	out, ok := flipFuse(content)
	require.True(t, ok)
	assert.True(t, bytes.HasPrefix(out, []byte("NODE_SEA_FUSE_aUNFLIPPED:1")))
	assert.True(t, bytes.HasSuffix(out, []byte("NODE_SEA_FUSE_bUNFLIPPED:0")))
}
