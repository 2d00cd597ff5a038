package main

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/openmsi/msistream/internal/debug"
	"github.com/openmsi/msistream/internal/errors"
)

func init() {
	// don't import `go.uber.org/automaxprocs` to disable the log output
	_, _ = maxprocs.Set()
}

// cmdRoot is the base command when no other command has been specified.
var cmdRoot = &cobra.Command{
	Use:   "msistream",
	Short: "Stream lab data files through a message bus",
	Long: `
msistream watches directories for new data files, splits them into chunks and
produces them to a Kafka topic, and reassembles them again on the consuming
side.
`,
	SilenceErrors:     true,
	SilenceUsage:      true,
	DisableAutoGenTag: true,

	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		// set verbosity, default is one
		globalOptions.verbosity = 1
		if globalOptions.Quiet && globalOptions.Verbose > 0 {
			return errors.Fatal("--quiet and --verbose cannot be specified at the same time")
		}

		switch {
		case globalOptions.Verbose > 0:
			globalOptions.verbosity = 2
		case globalOptions.Quiet:
			globalOptions.verbosity = 0
		}

		return startProfiler()
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		stopProfiler()
	},
}

func main() {
	debug.Log("main %#v", os.Args)
	debug.Log("msistream %s compiled with %v on %v/%v",
		version, runtime.Version(), runtime.GOOS, runtime.GOARCH)

	ctx := createGlobalContext(os.Stderr)
	err := cmdRoot.ExecuteContext(ctx)

	var exitCode int
	switch {
	case err == nil:
		exitCode = 0
	case errors.Is(err, context.Canceled):
		exitCode = 130
	default:
		exitCode = 1
	}

	if err != nil {
		if errors.IsFatal(err) {
			fmt.Fprintf(globalOptions.stderr, "%v\n", err)
		} else {
			fmt.Fprintf(globalOptions.stderr, "%+v\n", err)
		}
	}
	Exit(exitCode)
}
