package config

import (
	"encoding/binary"
	"fmt"

	"github.com/smolstub/binject/internal/format"
)

// putLP1 writes a 1-byte-length-prefixed string into a fixed (1+max)-byte
// slot at out[cursor:], returning the cursor past the slot. Values longer
// than max fail the whole serialization (spec §4.6: "return Err(TooLong)
// otherwise").
func putLP1(out []byte, cursor int, s string, max int, field string) (int, error) {
	if len(s) > max {
		return 0, tooLong(field, len(s), max)
	}
	slot := out[cursor : cursor+1+max]
	slot[0] = byte(len(s))
	copy(slot[1:], s)
	return cursor + 1 + max, nil
}

// putLP2 is putLP1 with a 2-byte little-endian length prefix, for the
// slots the layouts give a 2-byte prefix (SMFG command and url, SVFG
// source).
func putLP2(out []byte, cursor int, s string, max int, field string) (int, error) {
	if len(s) > max {
		return 0, tooLong(field, len(s), max)
	}
	slot := out[cursor : cursor+2+max]
	binary.LittleEndian.PutUint16(slot[0:2], uint16(len(s)))
	copy(slot[2:], s)
	return cursor + 2 + max, nil
}

func tooLong(field string, got, max int) error {
	return format.Wrap(format.KindTooLong, "config.serialize",
		fmt.Errorf("%s: %d bytes exceeds max of %d", field, got, max))
}

func errInvalidURL(url string) error {
	return fmt.Errorf("url %q must start with http:// or https://", url)
}

func errLayoutMismatch(got, want int) error {
	return fmt.Errorf("serialized length %d does not match expected %d", got, want)
}
