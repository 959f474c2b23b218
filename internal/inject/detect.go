package inject

import (
	"fmt"
	"os"

	"github.com/smolstub/binject/internal/format"
	"github.com/smolstub/binject/internal/format/elf"
	"github.com/smolstub/binject/internal/format/macho"
	"github.com/smolstub/binject/internal/format/pe"
)

// detect reads path and returns the adapter for its format. The PE
// sniff needs to follow the DOS stub's e_lfanew pointer, which isn't
// bounded to a small fixed prefix, so this reads the whole file rather
// than a head slice; the chosen adapter's Parse re-reads it once more,
// which is a modest cost next to the rewrite this precedes.
func (j *Injector) detect(path string) (format.Adapter, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, format.Wrap(format.KindInvalidFormat, "inject.detect", err)
	}

	switch {
	case macho.Sniff(raw):
		return j.macho, nil
	case elf.Sniff(raw):
		return j.elf, nil
	case pe.Sniff(raw):
		return j.pe, nil
	default:
		return nil, format.Wrap(format.KindInvalidFormat, "inject.detect", fmt.Errorf("%s: unrecognized executable format", path))
	}
}
