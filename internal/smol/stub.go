package smol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	lzfse "github.com/blacktop/lzfse-cgo"
	"github.com/sirupsen/logrus"

	"github.com/smolstub/binject/internal/config"
	"github.com/smolstub/binject/internal/format"
	"github.com/smolstub/binject/internal/sign"
)

const smolSegment = "SMOL"

// pressedSectionName resolves the on-disk name of the compressed-payload
// section for a given format (spec §3's naming table).
func pressedSectionName(variant format.Variant) string {
	if variant == format.VariantMachO {
		return "__PRESSED_DATA"
	}
	return "PRESSED_DATA"
}

// ExtractBinary implements spec §4.5's smol_extract_binary: locate the
// compressed section, find the magic marker inside it, validate and read
// the metadata header, then LZFSE-decompress the payload to outputPath.
func ExtractBinary(stubPath, outputPath string) error {
	adapter, err := detect(stubPath)
	if err != nil {
		return err
	}
	img, err := adapter.Parse(stubPath)
	if err != nil {
		return err
	}

	section, ok, err := locatePressed(adapter, img)
	if err != nil {
		return err
	}
	if !ok {
		return format.Wrap(format.KindSectionNotFound, "smol.ExtractBinary", fmt.Errorf("no compressed-payload section found"))
	}

	payload, err := decodeSection(section)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return format.Wrap(format.KindWriteFailed, "smol.ExtractBinary", err)
	}
	if err := os.WriteFile(outputPath, payload, 0o755); err != nil {
		return format.Wrap(format.KindWriteFailed, "smol.ExtractBinary", err)
	}
	return nil
}

// locatePressed searches the SMOL segment on Mach-O, and the flat
// section table otherwise, for the compressed payload, accepting either
// spelling ELF/PE may use.
func locatePressed(adapter format.Adapter, img format.Image) ([]byte, bool, error) {
	segment := ""
	if img.Variant() == format.VariantMachO {
		segment = smolSegment
	}
	for _, name := range []string{pressedSectionName(img.Variant()), ".PRESSED_DATA", "PRESSED_DATA"} {
		content, ok, err := adapter.GetSection(img, segment, name)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return content, true, nil
		}
	}
	return nil, false, nil
}

// decodeSection finds the magic marker inside section, validates the
// header that follows it, and LZFSE-decompresses the payload.
func decodeSection(section []byte) ([]byte, error) {
	markerOff := bytes.Index(section, Magic())
	if markerOff < 0 {
		return nil, format.Wrap(format.KindDecompressError, "smol.decodeSection", fmt.Errorf("magic marker not found in section"))
	}
	headerStart := markerOff + magicLen
	if headerStart+headerLen > len(section) {
		return nil, format.Wrap(format.KindDecompressError, "smol.decodeSection", fmt.Errorf("section too small for header"))
	}
	header := section[headerStart : headerStart+headerLen]
	compressedSize := binary.LittleEndian.Uint64(header[0:8])
	uncompressedSize := binary.LittleEndian.Uint64(header[8:16])
	// cache_key [16] and platform_metadata[3] are not used by the decoder;
	// smol_config_flag[1] is consulted right here, since it changes where
	// the compressed payload starts.
	configFlag := header[35]

	if uncompressedSize == 0 || uncompressedSize > maxUncompressed {
		return nil, format.Wrap(format.KindDecompressError, "smol.decodeSection", fmt.Errorf("uncompressed_size %d out of range", uncompressedSize))
	}
	payloadStart := headerStart + headerLen
	if configFlag == 1 {
		// spec §3: when smol_config_flag is set, a 1176-byte embedded SMFG
		// sits between the header and the compressed payload.
		payloadStart += config.EmbeddedSize
		if payloadStart > len(section) {
			return nil, format.Wrap(format.KindDecompressError, "smol.decodeSection", fmt.Errorf("section too small for embedded SMFG"))
		}
	}
	maxCompressed := uint64(len(section) - payloadStart)
	if compressedSize == 0 || compressedSize > maxCompressed {
		return nil, format.Wrap(format.KindDecompressError, "smol.decodeSection", fmt.Errorf("compressed_size %d out of range (max %d)", compressedSize, maxCompressed))
	}

	compressed := section[payloadStart : uint64(payloadStart)+compressedSize]
	out, err := lzfse.DecodeBuffer(compressed)
	if err != nil {
		return nil, format.Wrap(format.KindDecompressError, "smol.decodeSection", err)
	}
	if uint64(len(out)) != uncompressedSize {
		return nil, format.Wrap(format.KindDecompressError, "smol.decodeSection",
			fmt.Errorf("decompressed %d bytes, header promised %d", len(out), uncompressedSize))
	}
	return out, nil
}

// Repack implements spec §4.5's smol_repack: replace the entire SMOL
// segment with a single fresh compressed-payload section and commit the
// result via the shared sign/atomic-write path, regardless of whether
// newSectionData is larger or smaller than the original.
func Repack(log *logrus.Logger, ops sign.PlatformOps, stubPath string, newSectionData []byte, outputPath string) error {
	if log == nil {
		log = logrus.StandardLogger()
	}
	adapter, err := detect(stubPath)
	if err != nil {
		return err
	}
	img, err := adapter.Parse(stubPath)
	if err != nil {
		return err
	}

	if img.Variant() == format.VariantMachO {
		if err := adapter.RemoveSegment(img, smolSegment); err != nil {
			return err
		}
	} else {
		for _, name := range []string{pressedSectionName(img.Variant()), ".PRESSED_DATA", "PRESSED_DATA"} {
			if _, err := adapter.RemoveSection(img, "", name, true); err != nil {
				return err
			}
		}
	}

	segment := ""
	if img.Variant() == format.VariantMachO {
		segment = smolSegment
	}
	if err := adapter.AddSection(img, format.AddSectionOpts{
		Segment: segment,
		Name:    pressedSectionName(img.Variant()),
		Content: newSectionData,
	}); err != nil {
		return err
	}

	hasSig, err := adapter.HasCodeSignature(img)
	if err != nil {
		return err
	}
	if hasSig {
		if err := adapter.RemoveCodeSignature(img); err != nil {
			return err
		}
	}

	return sign.AtomicWrite(log, ops, outputPath, func(tmp string) error {
		return adapter.Write(img, tmp)
	})
}
