package smol

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	lzfse "github.com/blacktop/lzfse-cgo"

	"github.com/smolstub/binject/internal/config"
)

// EncodeSection builds a §3-layout compressed-payload section from raw
// payload bytes: marker, header, an optional embedded SMFG, then the
// LZFSE-compressed payload. It is the inverse of decodeSection and
// exists mainly to build test fixtures and to let smol_repack callers go
// straight from a new payload to new_section_data without duplicating
// the header logic themselves. embeddedSMFG is nil for the common case
// (smol_config_flag stays 0); when non-nil it must be exactly
// config.EmbeddedSize bytes and is written with the flag set to 1.
func EncodeSection(payload []byte, embeddedSMFG []byte) ([]byte, error) {
	compressed, err := lzfse.EncodeBuffer(payload)
	if err != nil {
		return nil, err
	}

	cacheKey := make([]byte, 16)
	_, _ = rand.Read(cacheKey)

	section := make([]byte, 0, magicLen+headerLen+len(embeddedSMFG)+len(compressed))
	section = append(section, Magic()...)

	header := make([]byte, headerLen)
	binary.LittleEndian.PutUint64(header[0:8], uint64(len(compressed)))
	binary.LittleEndian.PutUint64(header[8:16], uint64(len(payload)))
	copy(header[16:32], cacheKey)
	// platform_metadata[3] defaults to zero.
	if embeddedSMFG != nil {
		if len(embeddedSMFG) != config.EmbeddedSize {
			return nil, fmt.Errorf("embedded SMFG must be %d bytes, got %d", config.EmbeddedSize, len(embeddedSMFG))
		}
		header[35] = 1
	}
	section = append(section, header...)
	if embeddedSMFG != nil {
		section = append(section, embeddedSMFG...)
	}
	section = append(section, compressed...)
	return section, nil
}
