package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/profile"
	"github.com/spf13/pflag"

	"github.com/openmsi/msistream/internal/errors"
)

var version = "0.1.0-dev (compiled manually)"

// GlobalOptions holds all global options for msistream.
type GlobalOptions struct {
	Quiet      bool
	Verbose    int
	CPUProfile string
	MemProfile string

	stdout io.Writer
	stderr io.Writer

	// verbosity is set as follows:
	//  0 means: don't print any messages except errors, this is used when --quiet is specified
	//  1 is the default: print essential messages
	//  2 means: print more messages, report minor things, this is used when --verbose is specified
	verbosity uint
}

var globalOptions = GlobalOptions{
	stdout: os.Stdout,
	stderr: os.Stderr,
}

var profiler interface{ Stop() }

func init() {
	f := cmdRoot.PersistentFlags()
	addGlobalFlags(f)
}

func addGlobalFlags(f *pflag.FlagSet) {
	f.BoolVarP(&globalOptions.Quiet, "quiet", "q", false, "do not output comprehensive progress report")
	f.CountVarP(&globalOptions.Verbose, "verbose", "v", "be verbose")
	f.StringVar(&globalOptions.CPUProfile, "cpu-profile", "", "write a CPU profile to the `directory`")
	f.StringVar(&globalOptions.MemProfile, "mem-profile", "", "write a memory profile to the `directory`")
}

func startProfiler() error {
	if globalOptions.CPUProfile != "" && globalOptions.MemProfile != "" {
		return errors.Fatal("--cpu-profile and --mem-profile cannot be specified at the same time")
	}

	switch {
	case globalOptions.CPUProfile != "":
		profiler = profile.Start(profile.CPUProfile, profile.ProfilePath(globalOptions.CPUProfile))
	case globalOptions.MemProfile != "":
		profiler = profile.Start(profile.MemProfile, profile.ProfilePath(globalOptions.MemProfile))
	}
	return nil
}

func stopProfiler() {
	if profiler != nil {
		profiler.Stop()
		profiler = nil
	}
}

// Printf writes the message to the configured stdout stream.
func Printf(format string, args ...interface{}) {
	_, err := fmt.Fprintf(globalOptions.stdout, format, args...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unable to write to stdout: %v\n", err)
	}
}

// Verbosef calls Printf to write the message when the verbosity is >= 1, the
// default. --quiet suppresses these messages.
func Verbosef(format string, args ...interface{}) {
	if globalOptions.verbosity >= 1 {
		Printf(format, args...)
	}
}

// Warnf writes the message to the configured stderr stream.
func Warnf(format string, args ...interface{}) {
	_, err := fmt.Fprintf(globalOptions.stderr, format, args...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unable to write to stderr: %v\n", err)
	}
}
