//go:build darwin

package sign

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/pkg/errors"
)

const codesignPath = "/usr/bin/codesign"

// Darwin ad-hoc signs every rewritten binary: Gatekeeper and the dynamic
// loader both refuse to run an unsigned or signature-stale Mach-O on
// modern macOS, and binject has just invalidated any signature the
// original file carried by mutating its load commands.
type Darwin struct{}

func NewPlatformOps() PlatformOps { return Darwin{} }

func (Darwin) RequiresSigning() bool { return true }

func (Darwin) Sign(path string) error {
	if fi, err := os.Stat(codesignPath); err != nil || fi.Mode()&0o111 == 0 {
		return fmt.Errorf("codesign not found or not executable at %s", codesignPath)
	}
	out, err := runRetryEINTR(path)
	if err == nil {
		return nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 127 {
		return errors.Wrap(err, "codesign binary missing")
	}
	return errors.Wrapf(err, "codesign: %s", string(out))
}

func (Darwin) FinalizeRename(tmp, dest string) error {
	return os.Rename(tmp, dest)
}

// runRetryEINTR runs codesign against path, retrying with a fresh
// *exec.Cmd if the kernel interrupts the wait with EINTR — a Cmd can't
// be reused once Run/Output has been called on it.
func runRetryEINTR(path string) ([]byte, error) {
	for {
		cmd := exec.Command(codesignPath, "--sign", "-", "--force", path)
		out, err := cmd.CombinedOutput()
		if errors.Is(err, syscall.EINTR) {
			continue
		}
		return out, err
	}
}
