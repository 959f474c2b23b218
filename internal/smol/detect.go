package smol

import (
	"fmt"
	"os"

	"github.com/smolstub/binject/internal/format"
	"github.com/smolstub/binject/internal/format/elf"
	"github.com/smolstub/binject/internal/format/macho"
	"github.com/smolstub/binject/internal/format/pe"
)

// detect mirrors internal/inject's format dispatch; the two packages
// each drive the Format Adapter for a different slice of the spec (SMOL
// stub vs. SEA/VFS sections) and neither depends on the other.
func detect(path string) (format.Adapter, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, format.Wrap(format.KindInvalidFormat, "smol.detect", err)
	}
	switch {
	case macho.Sniff(raw):
		return macho.New(nil), nil
	case elf.Sniff(raw):
		return elf.New(nil), nil
	case pe.Sniff(raw):
		return pe.New(nil), nil
	default:
		return nil, format.Wrap(format.KindInvalidFormat, "smol.detect", fmt.Errorf("%s: unrecognized executable format", path))
	}
}
