//go:build windows

package sign

import "os"

// Windows never signs (no ad-hoc equivalent in scope — spec Non-goals),
// but os.Rename cannot replace an existing file on this platform, so the
// destination has to be unlinked first. This narrows the atomicity
// guarantee to "no partial file is ever visible at dest", not "dest never
// has a moment without any file at all".
type Windows struct{}

func NewPlatformOps() PlatformOps { return Windows{} }

func (Windows) RequiresSigning() bool { return false }
func (Windows) Sign(string) error     { return nil }

func (Windows) FinalizeRename(tmp, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		if err := os.Remove(dest); err != nil {
			return err
		}
	}
	return os.Rename(tmp, dest)
}
