package inject

import (
	"bytes"

	"github.com/smolstub/binject/internal/format"
)

// fuseUnflippedSuffix and fuseTagPrefix together spell the Node.js SEA
// fuse marker: a fixed-width ASCII tag ending in ":0" (unflipped, fuses
// disabled) or ":1" (flipped, fuses active). The marker lives in data the
// host runtime already carries (spec glossary: "a magic string in the
// host runtime's data"), typically the __TEXT,__cstring constant pool —
// never in a payload binject injects. Flipping is a single in-place byte
// change — the marker's length, and therefore every other offset in its
// section, never moves.
var (
	fuseUnflippedSuffix = []byte("UNFLIPPED:0")
	fuseTagPrefix       = []byte("NODE_SEA_FUSE_")
)

// flipFuse finds the fuse marker inside content and flips it from
// unflipped to flipped, returning the mutated copy and whether a marker
// was found. A missing marker is not an error — spec §4.3 treats it as a
// no-op the caller logs as a warning, since not every section carries
// fuses.
func flipFuse(content []byte) ([]byte, bool) {
	idx := bytes.Index(content, fuseTagPrefix)
	if idx < 0 {
		return content, false
	}
	end := idx + len(fuseTagPrefix)
	rest := content[end:]
	suffixIdx := bytes.Index(rest, fuseUnflippedSuffix)
	if suffixIdx < 0 {
		return content, false
	}
	// The last byte of "UNFLIPPED:0" is the '0' that flips to '1'.
	flipPos := end + suffixIdx + len(fuseUnflippedSuffix) - 1
	out := append([]byte(nil), content...)
	out[flipPos] = '1'
	return out, true
}

// flipFuseInImage implements spec §4.3 step 6 and §4.4 step 2: scan every
// section already present in img — not anything being injected this
// call — for the fuse marker, and rewrite the first match's last marker
// byte in place via the adapter's PatchSectionContent. It stops at the
// first match; finding no marker anywhere is reported back to the caller
// to log as a warning, never as an error.
func flipFuseInImage(adapter format.Adapter, img format.Image) (bool, error) {
	infos, err := adapter.ListSections(img)
	if err != nil {
		return false, err
	}
	for _, info := range infos {
		content, ok, err := adapter.GetSection(img, info.Segment, info.Name)
		if err != nil {
			return false, err
		}
		if !ok {
			continue
		}
		flipped, found := flipFuse(content)
		if !found {
			continue
		}
		if err := adapter.PatchSectionContent(img, info.Segment, info.Name, flipped); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}
