// Package vfs implements the staging operations of spec §4.7: detecting
// what kind of thing a VFS source is, resolving relative paths against a
// base file, and packing a directory (or an existing tar) into a
// GZIP-compressed archive ready to embed as a section.
package vfs

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/smolstub/binject/internal/format"
)

// SourceType classifies a VFS source path (spec §4.7 detect_source_type).
type SourceType int

const (
	SourceUnknown SourceType = iota
	SourceNotFound
	SourceDir
	SourceTar
	SourceTarGz
	SourceInvalid
)

// DetectSourceType classifies path without reading its contents, beyond
// the stat needed to tell a directory from a regular file.
func DetectSourceType(path string) (SourceType, error) {
	fi, err := os.Stat(path)
	if os.IsNotExist(err) {
		return SourceNotFound, nil
	}
	if err != nil {
		return SourceUnknown, format.Wrap(format.KindInvalidArgs, "vfs.DetectSourceType", err)
	}
	if fi.IsDir() {
		return SourceDir, nil
	}
	switch {
	case hasSuffix(path, ".tar.gz"):
		return SourceTarGz, nil
	case hasSuffix(path, ".tar"):
		return SourceTar, nil
	default:
		return SourceInvalid, nil
	}
}

func hasSuffix(path, suffix string) bool {
	if len(path) < len(suffix) {
		return false
	}
	return path[len(path)-len(suffix):] == suffix
}

// ResolveRelative implements spec §4.7's resolve_relative: an absolute
// source is returned unchanged; a relative one is joined against the
// directory containing baseFilePath. This is documented as Unix-only —
// callers on Windows rely on the OS's own path resolution instead.
func ResolveRelative(baseFilePath, source string) string {
	if filepath.IsAbs(source) {
		return source
	}
	return filepath.Join(filepath.Dir(baseFilePath), source)
}

// Size guards named in spec §4.7 and §5.
const (
	hardFailBytes = 1 << 30         // 1 GB
	warnBytes     = 100 * (1 << 20) // 100 MB
)

// CreateArchiveFromDir tars then gzips (level 9) dir into a freshly
// created temp file ending in .tar.gz, returned to the caller, who owns
// unlinking it after injection.
func CreateArchiveFromDir(log *logrus.Logger, dir string) (string, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	tmp, err := os.CreateTemp("", "binject-vfs-*.tar.gz")
	if err != nil {
		return "", format.Wrap(format.KindWriteFailed, "vfs.CreateArchiveFromDir", err)
	}
	archivePath := tmp.Name()

	if err := writeTarGz(tmp, dir); err != nil {
		tmp.Close()
		os.Remove(archivePath)
		return "", format.Wrap(format.KindWriteFailed, "vfs.CreateArchiveFromDir", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(archivePath)
		return "", format.Wrap(format.KindWriteFailed, "vfs.CreateArchiveFromDir", err)
	}

	if err := checkSizeGuards(log, archivePath); err != nil {
		os.Remove(archivePath)
		return "", err
	}
	return archivePath, nil
}

// CompressTar implements spec §4.7's compress_tar: read an existing tar
// fully into memory and GZIP (level 9) it to a fresh temp file, applying
// the same size guards and temp-file discipline as CreateArchiveFromDir.
func CompressTar(log *logrus.Logger, tarPath string) (string, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	data, err := os.ReadFile(tarPath)
	if err != nil {
		return "", format.Wrap(format.KindInvalidArgs, "vfs.CompressTar", err)
	}

	tmp, err := os.CreateTemp("", "binject-vfs-*.tar.gz")
	if err != nil {
		return "", format.Wrap(format.KindWriteFailed, "vfs.CompressTar", err)
	}
	archivePath := tmp.Name()

	gw, err := gzip.NewWriterLevel(tmp, gzip.BestCompression)
	if err != nil {
		tmp.Close()
		os.Remove(archivePath)
		return "", format.Wrap(format.KindWriteFailed, "vfs.CompressTar", err)
	}
	if _, err := gw.Write(data); err != nil {
		gw.Close()
		tmp.Close()
		os.Remove(archivePath)
		return "", format.Wrap(format.KindWriteFailed, "vfs.CompressTar", err)
	}
	if err := gw.Close(); err != nil {
		tmp.Close()
		os.Remove(archivePath)
		return "", format.Wrap(format.KindWriteFailed, "vfs.CompressTar", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(archivePath)
		return "", format.Wrap(format.KindWriteFailed, "vfs.CompressTar", err)
	}

	if err := checkSizeGuards(log, archivePath); err != nil {
		os.Remove(archivePath)
		return "", err
	}
	return archivePath, nil
}

func writeTarGz(w io.Writer, dir string) error {
	gw, err := gzip.NewWriterLevel(w, gzip.BestCompression)
	if err != nil {
		return errors.Wrap(err, "vfs: create gzip writer")
	}
	defer gw.Close()
	tw := tar.NewWriter(gw)
	defer tw.Close()

	return filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
}

func checkSizeGuards(log *logrus.Logger, path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return format.Wrap(format.KindWriteFailed, "vfs.checkSizeGuards", err)
	}
	size := fi.Size()
	if size > hardFailBytes {
		return format.Wrap(format.KindInvalidArgs, "vfs.checkSizeGuards",
			fmt.Errorf("archive %s is %d bytes, exceeding the 1GB hard limit", path, size))
	}
	if size > warnBytes {
		log.WithField("bytes", size).Warn("vfs: archive exceeds 100MB")
	}
	return nil
}
