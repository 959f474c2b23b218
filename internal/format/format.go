// Package format defines the three-variant object-file abstraction
// (Mach-O / ELF / PE) that the injector drives. Each variant lives in its
// own sub-package and implements Adapter; nothing in this package parses
// bytes itself.
package format

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is the error taxonomy shared by every adapter and by the injector,
// signing, SMOL, and config-serializer layers above them. It is the
// "design-level kind" named in the specification's error-handling section,
// not a concrete Go type hierarchy.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidArgs
	KindInvalidFormat
	KindPermissionDenied
	KindSectionNotFound
	KindWriteFailed
	KindDecompressError
	KindTooLong
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgs:
		return "InvalidArgs"
	case KindInvalidFormat:
		return "InvalidFormat"
	case KindPermissionDenied:
		return "PermissionDenied"
	case KindSectionNotFound:
		return "SectionNotFound"
	case KindWriteFailed:
		return "WriteFailed"
	case KindDecompressError:
		return "DecompressError"
	case KindTooLong:
		return "TooLong"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type carried through the core. Kind survives
// errors.Wrap/errors.Cause chains so callers can recover it with As.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap builds a *Error, wrapping cause (if any) with errors.Wrap so stack
// context from pkg/errors is preserved for diagnostics.
func Wrap(kind Kind, op string, cause error) error {
	if cause != nil {
		cause = errors.Wrap(cause, op)
	}
	return &Error{Kind: kind, Op: op, Err: cause}
}

// As reports whether err (or any error in its chain) is a *Error and, if
// so, returns it.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// Variant identifies which object-file format an image was parsed as.
type Variant int

const (
	VariantUnknown Variant = iota
	VariantMachO
	VariantELF
	VariantPE
)

func (v Variant) String() string {
	switch v {
	case VariantMachO:
		return "macho"
	case VariantELF:
		return "elf"
	case VariantPE:
		return "pe"
	default:
		return "unknown"
	}
}

// SectionType mirrors the format-specific "type flag" spec §3 attaches to
// sections; Regular is the only value the injector ever emits.
type SectionType int

const (
	SectionRegular SectionType = iota
)

// SectionInfo is what ListSections reports: enough to present an
// inventory of a binary's injected payloads without exposing the
// underlying library's representation.
type SectionInfo struct {
	Segment string // empty for ELF/PE, which have no intermediate layer
	Name    string
	Size    uint64
	Offset  uint64
}

// AddSectionOpts configures AddSection. Alignment is a power-of-two byte
// alignment; the injector leaves it 0, which the Mach-O and ELF adapters
// treat as 4 (2^2). The PE adapter ignores it and pads new section data
// to its own file alignment.
type AddSectionOpts struct {
	Segment   string // Mach-O only; ignored by ELF/PE adapters
	Name      string
	Content   []byte
	Alignment uint32
	Type      SectionType
}

// Image is a parsed, in-memory object file ready for mutation. Adapter
// methods that mutate take an Image and change it in place; none of them
// touch disk except Write.
type Image interface {
	Variant() Variant
	Path() string
}

// Adapter is implemented once per object-file variant. None of its
// methods except Parse and Write perform file I/O.
type Adapter interface {
	Parse(path string) (Image, error)
	ListSections(img Image) ([]SectionInfo, error)
	GetSection(img Image, segment, name string) ([]byte, bool, error)
	AddSection(img Image, opts AddSectionOpts) error
	RemoveSection(img Image, segment, name string, clearBytes bool) (bool, error)

	// PatchSectionContent overwrites an already-present section's bytes
	// in place, without relocating the section or touching any other
	// section's offset. newContent must have exactly the same length as
	// the section's current size; a length mismatch is KindInvalidArgs.
	// This is how the SEA fuse flip (spec §4.3 step 6) rewrites a single
	// marker byte inside a section that already existed on disk — e.g.
	// the host's own __TEXT,__cstring — without going through the
	// remove/add path newly injected content uses.
	PatchSectionContent(img Image, segment, name string, newContent []byte) error

	// RemoveSegment is Mach-O-only; ELF/PE adapters return
	// KindInvalidArgs since they have no segment layer (spec §4.1).
	RemoveSegment(img Image, name string) error

	HasCodeSignature(img Image) (bool, error)
	RemoveCodeSignature(img Image) error

	// Write emits the mutated image to path. Implementations MUST NOT
	// request rebuilding of any string/linkedit-adjacent metadata the
	// fuse flip depends on (spec §4.1).
	Write(img Image, path string) error
}

// MaxSectionNameLen returns the format-specific section-name length
// limit named in spec §3/§9. PE is 8 bytes; Mach-O is 16 including the
// leading "__"; ELF has no practical cap enforced here.
func MaxSectionNameLen(v Variant) int {
	switch v {
	case VariantPE:
		return 8
	case VariantMachO:
		return 16
	default:
		return 0 // unbounded
	}
}

// CheckSectionName validates name against the format's limit.
func CheckSectionName(v Variant, name string) error {
	if max := MaxSectionNameLen(v); max > 0 && len(name) > max {
		return Wrap(KindInvalidArgs, "format.CheckSectionName",
			fmt.Errorf("section name %q exceeds %s limit of %d bytes", name, v, max))
	}
	return nil
}

// sipPrefixes are the macOS System Integrity Protection roots the
// injector must never write under (spec §4.1).
var sipPrefixes = []string{
	"/System/",
	"/usr/bin/",
	"/usr/sbin/",
	"/usr/libexec/",
	"/bin/",
	"/sbin/",
}

// CheckSIP rejects absolute paths under a SIP-protected root.
func CheckSIP(path string) error {
	for _, p := range sipPrefixes {
		if len(path) >= len(p) && path[:len(p)] == p {
			return Wrap(KindPermissionDenied, "format.CheckSIP",
				fmt.Errorf("%s is under a SIP-protected path %s", path, p))
		}
	}
	return nil
}
