package vfs

import (
	"archive/tar"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smolstub/binject/internal/format"
)

func TestDetectSourceType(t *testing.T) {
	dir := t.TempDir()

	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	typ, err := DetectSourceType(sub)
	require.NoError(t, err)
	assert.Equal(t, SourceDir, typ)

	tgz := filepath.Join(dir, "archive.tar.gz")
	require.NoError(t, os.WriteFile(tgz, []byte("x"), 0o644))
	typ, err = DetectSourceType(tgz)
	require.NoError(t, err)
	assert.Equal(t, SourceTarGz, typ)

	tarOnly := filepath.Join(dir, "archive.tar")
	require.NoError(t, os.WriteFile(tarOnly, []byte("x"), 0o644))
	typ, err = DetectSourceType(tarOnly)
	require.NoError(t, err)
	assert.Equal(t, SourceTar, typ)

	other := filepath.Join(dir, "payload.bin")
	require.NoError(t, os.WriteFile(other, []byte("x"), 0o644))
	typ, err = DetectSourceType(other)
	require.NoError(t, err)
	assert.Equal(t, SourceInvalid, typ)

	typ, err = DetectSourceType(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Equal(t, SourceNotFound, typ)
}

func TestResolveRelative(t *testing.T) {
	base := "/home/user/project/app"
	assert.Equal(t, "/abs/path", ResolveRelative(base, "/abs/path"))
	assert.Equal(t, "/home/user/project/vfs", ResolveRelative(base, "vfs"))
}

func TestCreateArchiveFromDirRoundTrips(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "nested", "b.txt"), []byte("world"), 0o644))

	archivePath, err := CreateArchiveFromDir(nil, src)
	require.NoError(t, err)
	defer os.Remove(archivePath)

	f, err := os.Open(archivePath)
	require.NoError(t, err)
	defer f.Close()
	gr, err := gzip.NewReader(f)
	require.NoError(t, err)
	tr := tar.NewReader(gr)

	names := map[string]string{}
	for {
		hdr, err := tr.Next()
		if err != nil {
			break
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		buf := make([]byte, hdr.Size)
		_, _ = tr.Read(buf)
		names[hdr.Name] = string(buf)
	}
	assert.Equal(t, "hello", names["a.txt"])
	assert.Equal(t, "world", names["nested/b.txt"])
}

func TestCompressTarRoundTrips(t *testing.T) {
	dir := t.TempDir()
	tarPath := filepath.Join(dir, "in.tar")
	f, err := os.Create(tarPath)
	require.NoError(t, err)
	tw := tar.NewWriter(f)
	content := []byte("payload bytes")
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "f.bin", Size: int64(len(content)), Mode: 0o644}))
	_, err = tw.Write(content)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, f.Close())

	archivePath, err := CompressTar(nil, tarPath)
	require.NoError(t, err)
	defer os.Remove(archivePath)

	rf, err := os.Open(archivePath)
	require.NoError(t, err)
	defer rf.Close()
	gr, err := gzip.NewReader(rf)
	require.NoError(t, err)
	tr := tar.NewReader(gr)
	hdr, err := tr.Next()
	require.NoError(t, err)
	assert.Equal(t, "f.bin", hdr.Name)
}

func TestCheckSizeGuardsRejectsOverHardLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "huge")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(hardFailBytes+1))
	require.NoError(t, f.Close())

	err = checkSizeGuards(nil, path)
	require.Error(t, err)
	fe, ok := format.As(err)
	require.True(t, ok)
	assert.Equal(t, format.KindInvalidArgs, fe.Kind)
}
