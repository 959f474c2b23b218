package inject

import (
	"github.com/pkg/errors"

	"github.com/smolstub/binject/internal/format"
)

// BatchSpec is the full set of sections the "one-shot packaging" batch
// operation (spec §4.4) installs in a single rewrite.
type BatchSpec struct {
	SEABlob []byte
	// VFSBlob may be empty: under vfs_compat mode a zero-length VFS blob
	// section is still written, as a marker the loader checks for rather
	// than omitted outright.
	VFSBlob   []byte
	VFSCompat bool
	// VFSConfig is the fixed-size SVFG blob (366 bytes) — see
	// internal/config.
	VFSConfig []byte
}

// InjectBatch installs the SEA blob, VFS blob, and VFS config sections in
// that order in a single rewrite, flipping the SEA fuse along the way
// (spec §4.4 step 2: scan the image's existing sections for the fuse
// marker before the NODE_SEA segment is touched). The operation is
// one-shot: on Mach-O targets, if the NODE_SEA segment is already
// present, InjectBatch treats that as proof the fuse was already
// flipped and skips scanning for the marker again entirely — spec §9
// calls out that a post-mutation content re-scan has been observed to
// be unstable across repeated mutation cycles, so segment presence is
// the idempotence proxy instead. When the segment already exists it is
// removed and rebuilt fresh (spec §4.4 step 2) rather than patched in
// place.
func (j *Injector) InjectBatch(executable string, spec BatchSpec) error {
	adapter, err := j.detect(executable)
	if err != nil {
		return err
	}
	img, err := adapter.Parse(executable)
	if err != nil {
		return err
	}

	alreadyFlipped, err := j.segmentAlreadyPresent(adapter, img)
	if err != nil {
		return err
	}

	if alreadyFlipped {
		j.Log.Info("inject: NODE_SEA segment already present, skipping fuse scan")
	} else {
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

	if img.Variant() == format.VariantMachO {
		if err := adapter.RemoveSegment(img, seaSegment); err != nil {
			return errors.Wrap(err, "inject: remove existing NODE_SEA segment")
		}
	}

	segment := ""
	if img.Variant() == format.VariantMachO {
		segment = seaSegment
	}

	if len(spec.SEABlob) > 0 {
		if err := adapter.AddSection(img, format.AddSectionOpts{
			Segment: segment,
			Name:    sectionName(img.Variant(), logicalSEABlob),
			Content: spec.SEABlob,
		}); err != nil {
			return errors.Wrap(err, "inject: add SEA blob section")
		}
	}

	if len(spec.VFSBlob) > 0 || spec.VFSCompat {
		if err := adapter.AddSection(img, format.AddSectionOpts{
			Segment: segment,
			Name:    sectionName(img.Variant(), logicalVFSBlob),
			Content: spec.VFSBlob,
		}); err != nil {
			return errors.Wrap(err, "inject: add VFS blob section")
		}
	}

	if len(spec.VFSConfig) > 0 {
		if err := adapter.AddSection(img, format.AddSectionOpts{
			Segment: segment,
			Name:    sectionName(img.Variant(), logicalVFSConfig),
			Content: spec.VFSConfig,
		}); err != nil {
			return errors.Wrap(err, "inject: add VFS config section")
		}
	}

	return j.writeSigned(adapter, img, executable)
}

// segmentAlreadyPresent checks for the SEA segment on Mach-O targets
// (the idempotence proxy spec §9 names; a segment is seen through the
// sections ListSections reports in it) and falls back to checking for
// the SEA blob section directly on ELF/PE, which have no segment layer
// to probe.
func (j *Injector) segmentAlreadyPresent(adapter format.Adapter, img format.Image) (bool, error) {
	if img.Variant() == format.VariantMachO {
		infos, err := adapter.ListSections(img)
		if err != nil {
			return false, err
		}
		for _, info := range infos {
			if info.Segment == seaSegment {
				return true, nil
			}
		}
		return false, nil
	}
	_, ok, err := adapter.GetSection(img, "", sectionName(img.Variant(), logicalSEABlob))
	return ok, err
}
