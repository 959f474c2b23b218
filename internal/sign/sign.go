// Package sign implements the atomic, optionally-signed rewrite contract
// of spec §4.2: render to a sibling temp file, fsync, chmod, sign, rename
// over the destination only once the temp file is complete and valid.
package sign

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/smolstub/binject/internal/format"
)

// PlatformOps is the capability set named in spec §9 (Design Notes):
// platform-specific behavior (macOS codesign, Windows rename-before-
// unlink) lives behind this interface instead of scattered build tags
// through the rest of the core. Exactly one implementation is compiled
// in, selected by build tag (sign_darwin.go / sign_windows.go /
// sign_other.go).
type PlatformOps interface {
	// RequiresSigning reports whether Sign must be called before the
	// temp file is renamed into place.
	RequiresSigning() bool
	// Sign ad-hoc signs the file at path in place.
	Sign(path string) error
	// FinalizeRename performs the final temp->dest rename, doing
	// whatever platform-specific preparation (e.g. removing dest first
	// on Windows) that requires.
	FinalizeRename(tmp, dest string) error
}

// Render writes a mutated image to path; the Mach-O/ELF/PE adapters'
// Write method satisfies this signature directly.
type Render func(path string) error

// AtomicWrite implements the full sequence in spec §4.2 and §4.3 step 7:
// render to a temp file, fsync, chmod 0755, sign, and atomically rename
// over dest. Removing any existing code signature is the caller's job,
// done on the in-memory image before AtomicWrite is called.
// On any failure after the temp file is created, it is unlinked before
// the error is returned.
func AtomicWrite(log *logrus.Logger, ops PlatformOps, dest string, render Render) (err error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return format.Wrap(format.KindWriteFailed, "sign.AtomicWrite", errors.Wrap(err, "mkdir parent"))
	}

	tmp := fmt.Sprintf("%s.tmp.%d", dest, os.Getpid())
	defer func() {
		if err != nil {
			os.Remove(tmp)
		}
	}()

	if err = render(tmp); err != nil {
		return format.Wrap(format.KindWriteFailed, "sign.AtomicWrite", errors.Wrap(err, "render temp file"))
	}

	if err = fsync(tmp); err != nil {
		return format.Wrap(format.KindWriteFailed, "sign.AtomicWrite", errors.Wrap(err, "fsync temp file"))
	}

	if err = chmodExecutable(tmp); err != nil {
		return format.Wrap(format.KindWriteFailed, "sign.AtomicWrite", errors.Wrap(err, "chmod temp file"))
	}

	if ops.RequiresSigning() {
		if err = ops.Sign(tmp); err != nil {
			return format.Wrap(format.KindWriteFailed, "sign.AtomicWrite", errors.Wrap(err, "sign temp file"))
		}
		// Verification is advisory only (spec §4.2 step 5): a failure
		// here is logged as a warning, never surfaced as an error.
		if verr := verify(tmp); verr != nil {
			log.WithError(verr).Warn("sign: signature verification failed (advisory)")
		}
		log.WithField("path", dest).Debug("sign: signed temp file")
	}

	if err = ops.FinalizeRename(tmp, dest); err != nil {
		return format.Wrap(format.KindWriteFailed, "sign.AtomicWrite", errors.Wrap(err, "rename temp into place"))
	}

	log.WithField("path", dest).Info("sign: wrote and committed binary")
	return nil
}

func fsync(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

func chmodExecutable(path string) error {
	return os.Chmod(path, 0o755)
}

// verify is advisory only (spec §4.2 step 5). It shells out to whichever
// codesign is first on PATH and reports success when none is found; on
// platforms where signing never happens this is never invoked, so it
// doesn't need a build-tag split.
func verify(path string) error {
	bin, err := exec.LookPath("codesign")
	if err != nil {
		return nil
	}
	cmd := exec.Command(bin, "--verify", "--strict", path)
	if out, err := cmd.CombinedOutput(); err != nil {
		return errors.Wrapf(err, "codesign --verify: %s", string(out))
	}
	return nil
}
