package config

import (
	"encoding/binary"
	"fmt"

	"github.com/smolstub/binject/internal/format"
)

const svfgMagic = 0x47465653 // "SVFG" read as a little-endian uint32: wire bytes 53 56 46 47

// Size is the fixed total length of the SVFG blob.
const Size = 366

const (
	svfgModeMax   = 32
	svfgSourceMax = 256
	svfgPrefixMax = 64
)

// validModes are the only values Mode may hold (spec §3).
var validModes = map[string]bool{
	"on-disk":   true,
	"in-memory": true,
	"compat":    true,
}

// SVFG is the caller-facing input to SerializeSVFG.
type SVFG struct {
	Mode   string
	Source string
	Prefix string
}

// SerializeSVFG packs cfg into the 366-byte fixed SVFG layout.
func SerializeSVFG(cfg SVFG) ([]byte, error) {
	if !validModes[cfg.Mode] {
		return nil, format.Wrap(format.KindInvalidArgs, "config.SerializeSVFG",
			fmt.Errorf("mode %q must be one of on-disk, in-memory, compat", cfg.Mode))
	}

	out := make([]byte, Size)
	binary.LittleEndian.PutUint32(out[0:4], svfgMagic)
	binary.LittleEndian.PutUint16(out[4:6], 1) // version

	cursor := 6
	var err error
	cursor, err = putLP1(out, cursor, cfg.Mode, svfgModeMax, "mode")
	if err != nil {
		return nil, err
	}
	cursor, err = putLP2(out, cursor, cfg.Source, svfgSourceMax, "source")
	if err != nil {
		return nil, err
	}
	cursor, err = putLP1(out, cursor, cfg.Prefix, svfgPrefixMax, "prefix")
	if err != nil {
		return nil, err
	}
	// 4 reserved zero bytes pad the layout out to the fixed 366-byte size;
	// left for a future field rather than folded into an existing slot.
	cursor += 4

	if cursor != Size {
		return nil, format.Wrap(format.KindInvalidArgs, "config.SerializeSVFG", errLayoutMismatch(cursor, Size))
	}
	return out, nil
}
