// Package config implements the two fixed-size binary configuration
// blobs the stub protocol reads at startup: SMFG (updater config) and
// SVFG (VFS config). Both serializers are pure byte-packers — no
// reflection, no JSON — matching spec §4.6's requirement that identical
// inputs always yield identical bytes.
package config

import (
	"encoding/binary"
	"strings"

	"github.com/smolstub/binject/internal/format"
)

const smfgMagic = 0x53464d47 // PutUint32LE of this value writes wire bytes 47 4D 46 53

// SMFG is the caller-facing input to SerializeSMFG. Any string left
// empty takes the default named in spec §4.6.
type SMFG struct {
	Prompt         bool
	PromptDefault  byte // 'y'/'Y'/'n'/'N'; anything else normalizes to 'n'
	Interval       uint64
	NotifyInterval uint64
	Binname        string
	Command        string
	URL            string
	Tag            string
	SkipEnv        string
	FakeArgvEnv    string
	NodeVersion    string
}

const (
	smfgBinnameMax     = 127
	smfgCommandMax     = 254
	smfgURLMax         = 510
	smfgTagMax         = 127
	smfgSkipEnvMax     = 63
	smfgFakeArgvEnvMax = 63
	smfgNodeVersionMax = 15

	// StandaloneSize is the total size of the SMFG blob written to
	// __SMOL_CONFIG / SMOL_CONFIG (spec §3, §9 open question resolution).
	StandaloneSize = 1192
)

// defaults mirror spec §4.6's "default values on null".
const (
	defaultCommand        = "self-update"
	defaultFakeArgvEnv    = "SMOL_FAKE_ARGV"
	defaultInterval       = 86_400_000
	defaultNotifyInterval = 86_400_000
	defaultPromptDefault  = 'n'
)

func normalizePromptDefault(b byte) byte {
	switch b {
	case 'y', 'Y':
		return 'y'
	case 'n', 'N':
		return 'n'
	default:
		return defaultPromptDefault
	}
}

// SerializeSMFG packs cfg into the 1192-byte standalone SMFG layout.
// Every string is validated against its slot's max length; URL, if
// non-empty, must start with "http://" or "https://".
func SerializeSMFG(cfg SMFG) ([]byte, error) {
	out := make([]byte, StandaloneSize)
	binary.LittleEndian.PutUint32(out[0:4], smfgMagic)
	binary.LittleEndian.PutUint16(out[4:6], 1) // version

	prompt := byte(0)
	if cfg.Prompt {
		prompt = 1
	}
	out[6] = prompt
	out[7] = normalizePromptDefault(orDefaultByte(cfg.PromptDefault))

	interval := cfg.Interval
	if interval == 0 {
		interval = defaultInterval
	}
	notifyInterval := cfg.NotifyInterval
	if notifyInterval == 0 {
		notifyInterval = defaultNotifyInterval
	}
	binary.LittleEndian.PutUint64(out[8:16], interval)
	binary.LittleEndian.PutUint64(out[16:24], notifyInterval)

	command := cfg.Command
	if command == "" {
		command = defaultCommand
	}
	fakeArgvEnv := cfg.FakeArgvEnv
	if fakeArgvEnv == "" {
		fakeArgvEnv = defaultFakeArgvEnv
	}

	if cfg.URL != "" && !strings.HasPrefix(cfg.URL, "http://") && !strings.HasPrefix(cfg.URL, "https://") {
		return nil, format.Wrap(format.KindInvalidArgs, "config.SerializeSMFG",
			errInvalidURL(cfg.URL))
	}

	cursor := 24
	var err error
	cursor, err = putLP1(out, cursor, cfg.Binname, smfgBinnameMax, "binname")
	if err != nil {
		return nil, err
	}
	cursor, err = putLP2(out, cursor, command, smfgCommandMax, "command")
	if err != nil {
		return nil, err
	}
	cursor, err = putLP2(out, cursor, cfg.URL, smfgURLMax, "url")
	if err != nil {
		return nil, err
	}
	cursor, err = putLP1(out, cursor, cfg.Tag, smfgTagMax, "tag")
	if err != nil {
		return nil, err
	}
	cursor, err = putLP1(out, cursor, cfg.SkipEnv, smfgSkipEnvMax, "skipEnv")
	if err != nil {
		return nil, err
	}
	cursor, err = putLP1(out, cursor, fakeArgvEnv, smfgFakeArgvEnvMax, "fakeArgvEnv")
	if err != nil {
		return nil, err
	}
	cursor, err = putLP1(out, cursor, cfg.NodeVersion, smfgNodeVersionMax, "nodeVersion")
	if err != nil {
		return nil, err
	}

	if cursor != StandaloneSize {
		return nil, format.Wrap(format.KindInvalidArgs, "config.SerializeSMFG", errLayoutMismatch(cursor, StandaloneSize))
	}
	return out, nil
}

// EmbeddedSize is the stub-embedded SMFG variant's size: the standalone
// layout minus the trailing nodeVersion slot (1 length byte + 15 data
// bytes) (spec §9 open question).
const EmbeddedSize = StandaloneSize - (1 + smfgNodeVersionMax)

// SerializeSMFGEmbedded packs cfg into the 1176-byte variant carried
// inside a SMOL stub's metadata header.
func SerializeSMFGEmbedded(cfg SMFG) ([]byte, error) {
	full, err := SerializeSMFG(cfg)
	if err != nil {
		return nil, err
	}
	return full[:EmbeddedSize], nil
}

func orDefaultByte(b byte) byte {
	if b == 0 {
		return defaultPromptDefault
	}
	return b
}
