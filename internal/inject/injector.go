// Package inject implements the single-section operations of spec §4.3
// (inject, list, extract, verify) on top of the per-format adapters in
// internal/format, plus the one-shot SEA fuse flip.
package inject

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/smolstub/binject/internal/format"
	"github.com/smolstub/binject/internal/format/elf"
	"github.com/smolstub/binject/internal/format/macho"
	"github.com/smolstub/binject/internal/format/pe"
	"github.com/smolstub/binject/internal/sign"
)

// Injector performs the single-executable, single-section operations:
// inject, list, extract, verify.
type Injector struct {
	Log   *logrus.Logger
	Ops   sign.PlatformOps
	macho *macho.Adapter
	elf   *elf.Adapter
	pe    *pe.Adapter
}

func New(log *logrus.Logger, ops sign.PlatformOps) *Injector {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Injector{
		Log:   log,
		Ops:   ops,
		macho: macho.New(log),
		elf:   elf.New(log),
		pe:    pe.New(log),
	}
}

// Section names one payload to add, using the logical vocabulary of
// spec §3's naming table (logicalSEABlob, logicalVFSBlob,
// logicalVFSConfig, or a caller-defined name for anything else); Inject
// resolves it to the on-disk segment/section name for the target
// format.
type Section struct {
	Name    string
	Content []byte
}

// Inject adds a single named section to executable and signs/renames the
// result into place, per spec §4.3 steps 1-7. §4.3 step 1's null-data
// guard ("data==null && size!=0 is rejected, size==0 is a valid zero-
// length VFS-compat section") is enforced by the caller passing
// Content directly: a nil Content is always size 0 and always valid.
// If the target is the SEA blob, every section already present in the
// image is scanned for the fuse marker (spec §4.3 step 6 — the marker
// lives in the host runtime's own data, never in the blob being added)
// and the first match is flipped in place; a missing marker only logs
// a warning, it is never an error.
func (j *Injector) Inject(executable string, sec Section) error {
	adapter, err := j.detect(executable)
	if err != nil {
		return err
	}
	img, err := adapter.Parse(executable)
	if err != nil {
		return err
	}

	name := sectionName(img.Variant(), sec.Name)
	segment := ""
	if img.Variant() == format.VariantMachO {
		segment = seaSegment
	}

	// Overwrite semantics (spec §4.3 step 3): remove any existing
	// section of the same name before adding the fresh one.
	if _, err := adapter.RemoveSection(img, segment, name, true); err != nil {
		return err
	}

	if sec.Name == logicalSEABlob {
		flipped, err := flipFuseInImage(adapter, img)
		if err != nil {
			return err
		}
		if flipped {
			j.Log.Info("inject: flipped SEA fuse")
		} else {
			j.Log.Warn("inject: no fuse marker found in any existing section, leaving image unmodified")
		}
	}

	if err := adapter.AddSection(img, format.AddSectionOpts{
		Segment: segment,
		Name:    name,
		Content: sec.Content,
	}); err != nil {
		return err
	}

	return j.writeSigned(adapter, img, executable)
}

// List enumerates every section in executable, regardless of whether
// binject put it there.
func (j *Injector) List(executable string) ([]format.SectionInfo, error) {
	adapter, err := j.detect(executable)
	if err != nil {
		return nil, err
	}
	img, err := adapter.Parse(executable)
	if err != nil {
		return nil, err
	}
	return adapter.ListSections(img)
}

// Extract writes the named section's raw content to outputPath, 0755
// (spec §4.3 extract). logicalName is one of the names in spec §3's
// naming table (logicalSEABlob, logicalVFSBlob, logicalVFSConfig); on
// Mach-O the search covers every segment, matching the spec's "NODE_SEA
// then SMOL" order loosely (both are scanned, not assumed).
func (j *Injector) Extract(executable, logicalName, outputPath string) error {
	adapter, err := j.detect(executable)
	if err != nil {
		return err
	}
	img, err := adapter.Parse(executable)
	if err != nil {
		return err
	}
	name := sectionName(img.Variant(), logicalName)
	content, ok, err := adapter.GetSection(img, "", name)
	if err != nil {
		return err
	}
	if !ok || len(content) == 0 {
		return format.Wrap(format.KindSectionNotFound, "inject.Extract", fmt.Errorf("section %q not found or empty", name))
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return format.Wrap(format.KindWriteFailed, "inject.Extract", err)
	}
	if err := os.WriteFile(outputPath, content, 0o755); err != nil {
		return format.Wrap(format.KindWriteFailed, "inject.Extract", err)
	}
	return nil
}

// Verify reports whether the named section exists and is non-empty
// (spec §4.3 verify).
func (j *Injector) Verify(executable, logicalName string) (bool, error) {
	adapter, err := j.detect(executable)
	if err != nil {
		return false, err
	}
	img, err := adapter.Parse(executable)
	if err != nil {
		return false, err
	}
	name := sectionName(img.Variant(), logicalName)
	content, ok, err := adapter.GetSection(img, "", name)
	if err != nil {
		return false, err
	}
	return ok && len(content) > 0, nil
}

// writeSigned removes any existing code signature before the image is
// rendered (a stale signature over changed bytes is worse than none)
// and commits img over executable using the atomic-write-and-sign
// sequence in internal/sign.
func (j *Injector) writeSigned(adapter format.Adapter, img format.Image, executable string) error {
	hasSig, err := adapter.HasCodeSignature(img)
	if err != nil {
		return err
	}
	if hasSig {
		if err := adapter.RemoveCodeSignature(img); err != nil {
			return errors.Wrap(err, "inject: remove stale code signature")
		}
	}
	return sign.AtomicWrite(j.Log, j.Ops, executable, func(tmp string) error {
		return adapter.Write(img, tmp)
	})
}
