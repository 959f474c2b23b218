// Package binject is the narrow entry surface named in spec §2's Runtime
// façade and enumerated in §6's External Interfaces: inject, list,
// extract, verify, inject_batch, smol_extract_binary, smol_repack,
// smol_extract_node_version, serialize_smfg, serialize_svfg. It wires
// the format adapters, signing, injector, SMOL, config, and VFS layers
// together behind operations a CLI (or any other caller) can drive
// without knowing any of their internals.
package binject

import (
	"runtime"

	"github.com/sirupsen/logrus"

	"github.com/smolstub/binject/internal/config"
	"github.com/smolstub/binject/internal/inject"
	"github.com/smolstub/binject/internal/sign"
	"github.com/smolstub/binject/internal/smol"
)

// Facade is the single object a caller needs. Log defaults to
// logrus.StandardLogger() when nil is passed to New, matching the
// "pass a context explicitly through the façade" guidance in spec §9
// (no process-global debug flag).
type Facade struct {
	Log      *logrus.Logger
	injector *inject.Injector
	ops      sign.PlatformOps
}

// New builds a Facade. log may be nil.
func New(log *logrus.Logger) *Facade {
	if log == nil {
		log = logrus.StandardLogger()
	}
	ops := sign.NewPlatformOps()
	return &Facade{
		Log:      log,
		injector: inject.New(log, ops),
		ops:      ops,
	}
}

// Inject adds a single named payload section to executable.
func (f *Facade) Inject(executable, logicalName string, data []byte) error {
	return f.injector.Inject(executable, inject.Section{Name: logicalName, Content: data})
}

// InjectBatch installs SEA blob, VFS blob, and VFS config in one rewrite.
func (f *Facade) InjectBatch(executable string, spec inject.BatchSpec) error {
	return f.injector.InjectBatch(executable, spec)
}

// List enumerates every section in executable.
func (f *Facade) List(executable string) ([]SectionSummary, error) {
	infos, err := f.injector.List(executable)
	if err != nil {
		return nil, err
	}
	out := make([]SectionSummary, len(infos))
	for i, s := range infos {
		out[i] = SectionSummary{Segment: s.Segment, Section: s.Name, Size: s.Size}
	}
	return out, nil
}

// SectionSummary is the façade-level shape of §6's list() result.
type SectionSummary struct {
	Segment string
	Section string
	Size    uint64
}

// Extract writes a named section's content to outputPath.
func (f *Facade) Extract(executable, logicalName, outputPath string) error {
	return f.injector.Extract(executable, logicalName, outputPath)
}

// Verify reports whether a named section exists and is non-empty.
func (f *Facade) Verify(executable, logicalName string) (bool, error) {
	return f.injector.Verify(executable, logicalName)
}

// SmolExtractBinary decompresses a SMOL stub's embedded payload to
// outputPath.
func (f *Facade) SmolExtractBinary(stubPath, outputPath string) error {
	return smol.ExtractBinary(stubPath, outputPath)
}

// SmolRepack replaces a SMOL stub's compressed payload section.
func (f *Facade) SmolRepack(stubPath string, newSectionData []byte, outputPath string) error {
	return smol.Repack(f.Log, f.ops, stubPath, newSectionData, outputPath)
}

// SmolExtractNodeVersion reads the embedded Node.js version string out of
// a stub's SMOL_CONFIG section.
func (f *Facade) SmolExtractNodeVersion(binaryPath string) (string, error) {
	return smol.ExtractNodeVersion(binaryPath)
}

// SerializeSMFG packs an updater-config struct into its fixed-size blob.
func (f *Facade) SerializeSMFG(cfg config.SMFG) ([]byte, error) {
	return config.SerializeSMFG(cfg)
}

// SerializeSVFG packs a VFS-config struct into its fixed-size blob.
func (f *Facade) SerializeSVFG(cfg config.SVFG) ([]byte, error) {
	return config.SerializeSVFG(cfg)
}

// Platform reports the OS the binary, and so its PlatformOps, was built
// for.
func Platform() string { return runtime.GOOS }
