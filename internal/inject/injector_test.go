package inject

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smolstub/binject/internal/format"
)

func newTestInjector() *Injector {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return New(log, fakeOps{})
}

func TestInjectAddsSectionAndVerifyExtractRoundTrip(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "app")
	require.NoError(t, buildMinimalELF(exe, []byte("ENTRYPOINT")))

	j := newTestInjector()

	payload := []byte("a fake Node SEA blob, no fuse marker here")
	require.NoError(t, j.Inject(exe, Section{Name: logicalSEABlob, Content: payload}))

	ok, err := j.Verify(exe, logicalSEABlob)
	require.NoError(t, err)
	assert.True(t, ok)

	out := filepath.Join(dir, "extracted.bin")
	require.NoError(t, j.Extract(exe, logicalSEABlob, out))
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestInjectOverwritesExistingSection(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "app")
	require.NoError(t, buildMinimalELF(exe, []byte("ENTRYPOINT")))

	j := newTestInjector()
	require.NoError(t, j.Inject(exe, Section{Name: logicalVFSBlob, Content: []byte("first")}))
	require.NoError(t, j.Inject(exe, Section{Name: logicalVFSBlob, Content: []byte("second-and-longer")}))

	sections, err := j.List(exe)
	require.NoError(t, err)
	var matches int
	for _, s := range sections {
		if s.Name == logicalVFSBlob {
			matches++
		}
	}
	assert.Equal(t, 1, matches, "overwrite semantics: only one section with this name should remain")
}

// TestInjectFlipsFuseInHostSectionNotPayload covers spec §4.3 step 6 and
// scenario S4: the fuse marker lives in a section the host binary already
// carries (here, .text) — never in the blob being injected. The first
// Inject call must flip that pre-existing section's marker byte in
// place, and a second Inject call (the blob itself carries no marker, so
// the already-flipped .text section is the only candidate) must leave it
// untouched rather than re-flipping or erroring.
func TestInjectFlipsFuseInHostSectionNotPayload(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "app")
	hostText := []byte("prefixNODE_SEA_FUSE_xUNFLIPPED:0suffix")
	require.NoError(t, buildMinimalELF(exe, hostText))

	j := newTestInjector()
	blob := []byte("a fake Node SEA blob, no fuse marker in the payload")
	require.NoError(t, j.Inject(exe, Section{Name: logicalSEABlob, Content: blob}))

	out := filepath.Join(dir, "sea.bin")
	require.NoError(t, j.Extract(exe, logicalSEABlob, out))
	extracted, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, blob, extracted, "the injected payload itself must be unmodified")

	adapter, err := j.detect(exe)
	require.NoError(t, err)
	img, err := adapter.Parse(exe)
	require.NoError(t, err)
	textContent, ok, err := adapter.GetSection(img, "", ".text")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, string(textContent), "UNFLIPPED:1", "the host's pre-existing .text section should carry the flipped marker")

	// A second injection scans again, finds no unflipped marker, and must
	// leave the already-flipped .text section exactly as it is.
	require.NoError(t, j.Inject(exe, Section{Name: logicalSEABlob, Content: blob}))
	img2, err := adapter.Parse(exe)
	require.NoError(t, err)
	textContent2, ok, err := adapter.GetSection(img2, "", ".text")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, textContent, textContent2, "re-injecting must not mutate an already-flipped section")
}

func TestVerifyFalseWhenSectionMissing(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "app")
	require.NoError(t, buildMinimalELF(exe, []byte("ENTRYPOINT")))

	j := newTestInjector()
	ok, err := j.Verify(exe, logicalSEABlob)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExtractErrorsWhenSectionMissing(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "app")
	require.NoError(t, buildMinimalELF(exe, []byte("ENTRYPOINT")))

	j := newTestInjector()
	err := j.Extract(exe, logicalSEABlob, filepath.Join(dir, "out.bin"))
	require.Error(t, err)
	fe, ok := format.As(err)
	require.True(t, ok)
	assert.Equal(t, format.KindSectionNotFound, fe.Kind)
}

func TestInjectBatchVFSCompatWritesZeroLengthSection(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "app")
	require.NoError(t, buildMinimalELF(exe, []byte("ENTRYPOINT")))

	j := newTestInjector()
	require.NoError(t, j.InjectBatch(exe, BatchSpec{
		SEABlob:   []byte("sea-blob-content"),
		VFSCompat: true,
	}))

	sections, err := j.List(exe)
	require.NoError(t, err)
	var found bool
	for _, s := range sections {
		if s.Name == logicalVFSBlob {
			found = true
			assert.EqualValues(t, 0, s.Size)
		}
	}
	assert.True(t, found, "vfs_compat must still write a zero-length marker section")
}

func TestInjectBatchInstallsAllThreeSections(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "app")
	require.NoError(t, buildMinimalELF(exe, []byte("ENTRYPOINT")))

	j := newTestInjector()
	require.NoError(t, j.InjectBatch(exe, BatchSpec{
		SEABlob:   []byte("sea"),
		VFSBlob:   []byte("vfs-archive-bytes"),
		VFSConfig: []byte("vfs-config-366-bytes-or-whatever-fixture"),
	}))

	names := map[string]bool{}
	sections, err := j.List(exe)
	require.NoError(t, err)
	for _, s := range sections {
		names[s.Name] = true
	}
	assert.True(t, names[logicalSEABlob])
	assert.True(t, names[logicalVFSBlob])
	assert.True(t, names[logicalVFSConfig])
}
