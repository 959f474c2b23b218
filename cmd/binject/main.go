// Command binject is the thin CLI shell over internal/binject's façade
// (spec §6's CLI surface). It owns argument parsing, exit codes, and
// log-level wiring; every operation it performs is delegated to the
// façade, which never calls os.Exit itself.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/smolstub/binject/internal/binject"
	"github.com/smolstub/binject/internal/format"
	"github.com/smolstub/binject/internal/inject"
)

// Exit codes (spec §6): a small enumeration, not the shell's own
// invention — these map directly onto format.Kind.
const (
	exitOK = iota
	exitInvalidArgs
	exitPermissionDenied
	exitInvalidFormat
	exitSectionNotFound
	exitWriteFailed
	exitError
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	log := logrus.New()

	if len(args) == 0 {
		usage()
		return exitInvalidArgs
	}

	switch args[0] {
	case "--help", "-h":
		usage()
		return exitOK
	case "--version":
		fmt.Println("binject", version)
		return exitOK
	case "inject":
		return runInject(log, args[1:])
	case "list":
		return runList(log, args[1:])
	case "extract":
		return runExtract(log, args[1:])
	case "verify":
		return runVerify(log, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "binject: unknown command %q\n", args[0])
		usage()
		return exitInvalidArgs
	}
}

func usage() {
	fmt.Println(`usage:
  binject inject -e <exe> -o <out> [--sea <path>] [--vfs <p>|--vfs-on-disk <p>|--vfs-in-memory <p>|--vfs-compat] [--skip-repack]
  binject list <exe>
  binject extract -e <exe> (--vfs|--sea) -o <out>
  binject verify -e <exe> (--vfs|--sea)
  binject --help | --version`)
}

func runInject(log *logrus.Logger, args []string) int {
	fs := flag.NewFlagSet("inject", flag.ContinueOnError)
	exe := fs.StringP("executable", "e", "", "executable to inject into")
	out := fs.StringP("output", "o", "", "output path")
	sea := fs.String("sea", "", "path to SEA blob")
	vfs := fs.String("vfs", "", "path to VFS archive")
	vfsOnDisk := fs.String("vfs-on-disk", "", "path to VFS archive, on-disk mode")
	vfsInMemory := fs.String("vfs-in-memory", "", "path to VFS archive, in-memory mode")
	vfsCompat := fs.Bool("vfs-compat", false, "write a zero-length VFS-compat marker section")
	_ = fs.Bool("skip-repack", false, "skip SMOL repack step")
	if err := fs.Parse(args); err != nil {
		return exitInvalidArgs
	}

	if *exe == "" || *out == "" {
		fmt.Fprintln(os.Stderr, "binject inject: -e and -o are required")
		return exitInvalidArgs
	}
	vfsPath := firstNonEmpty(*vfs, *vfsOnDisk, *vfsInMemory)
	if *sea == "" && vfsPath == "" && !*vfsCompat {
		fmt.Fprintln(os.Stderr, "binject inject: at least one of --sea or a --vfs flag is required")
		return exitInvalidArgs
	}
	// --vfs-compat alone with nothing else is the one documented case of
	// "a VFS flag alone" that is NOT rejected (spec §6: "--vfs alone is
	// rejected" refers to --vfs with no argument, which pflag already
	// catches as a parse error).

	f := binject.New(log)

	if *exe != *out {
		if err := copyFile(*exe, *out); err != nil {
			return report(err)
		}
	}

	spec := inject.BatchSpec{VFSCompat: *vfsCompat}
	if *sea != "" {
		data, err := os.ReadFile(*sea)
		if err != nil {
			return report(format.Wrap(format.KindInvalidArgs, "cli.inject", err))
		}
		spec.SEABlob = data
	}
	if vfsPath != "" {
		data, err := os.ReadFile(vfsPath)
		if err != nil {
			return report(format.Wrap(format.KindInvalidArgs, "cli.inject", err))
		}
		spec.VFSBlob = data
	}
	if err := f.InjectBatch(*out, spec); err != nil {
		return report(err)
	}
	return exitOK
}

func runList(log *logrus.Logger, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "binject list: expected exactly one executable path")
		return exitInvalidArgs
	}
	f := binject.New(log)
	sections, err := f.List(args[0])
	if err != nil {
		return report(err)
	}
	for _, s := range sections {
		fmt.Printf("%s\t%s\t%d\n", s.Segment, s.Section, s.Size)
	}
	return exitOK
}

func runExtract(log *logrus.Logger, args []string) int {
	fs := flag.NewFlagSet("extract", flag.ContinueOnError)
	exe := fs.StringP("executable", "e", "", "executable to extract from")
	out := fs.StringP("output", "o", "", "output path")
	wantVFS := fs.Bool("vfs", false, "extract the VFS blob")
	wantSEA := fs.Bool("sea", false, "extract the SEA blob")
	if err := fs.Parse(args); err != nil {
		return exitInvalidArgs
	}
	if *exe == "" || *out == "" || (*wantVFS == *wantSEA) {
		fmt.Fprintln(os.Stderr, "binject extract: -e, -o, and exactly one of --vfs/--sea are required")
		return exitInvalidArgs
	}
	logical := "NODE_SEA_BLOB"
	if *wantVFS {
		logical = "SMOL_VFS_BLOB"
	}
	f := binject.New(log)
	if err := f.Extract(*exe, logical, *out); err != nil {
		return report(err)
	}
	return exitOK
}

func runVerify(log *logrus.Logger, args []string) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	exe := fs.StringP("executable", "e", "", "executable to verify")
	wantVFS := fs.Bool("vfs", false, "verify the VFS blob")
	wantSEA := fs.Bool("sea", false, "verify the SEA blob")
	if err := fs.Parse(args); err != nil {
		return exitInvalidArgs
	}
	if *exe == "" || (*wantVFS == *wantSEA) {
		fmt.Fprintln(os.Stderr, "binject verify: -e and exactly one of --vfs/--sea are required")
		return exitInvalidArgs
	}
	logical := "NODE_SEA_BLOB"
	if *wantVFS {
		logical = "SMOL_VFS_BLOB"
	}
	f := binject.New(log)
	ok, err := f.Verify(*exe, logical)
	if err != nil {
		return report(err)
	}
	if !ok {
		fmt.Fprintln(os.Stderr, "binject verify: section missing or empty")
		return exitSectionNotFound
	}
	fmt.Println("ok")
	return exitOK
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return format.Wrap(format.KindInvalidArgs, "cli.copyFile", err)
	}
	if err := os.WriteFile(dst, data, 0o755); err != nil {
		return format.Wrap(format.KindWriteFailed, "cli.copyFile", err)
	}
	return nil
}

func report(err error) int {
	fmt.Fprintln(os.Stderr, "binject:", err)
	if fe, ok := format.As(err); ok {
		switch fe.Kind {
		case format.KindInvalidArgs:
			return exitInvalidArgs
		case format.KindPermissionDenied:
			return exitPermissionDenied
		case format.KindInvalidFormat:
			return exitInvalidFormat
		case format.KindSectionNotFound:
			return exitSectionNotFound
		case format.KindWriteFailed:
			return exitWriteFailed
		}
	}
	return exitError
}
