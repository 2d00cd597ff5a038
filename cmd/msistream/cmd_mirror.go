package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/openmsi/msistream/internal/bus"
	"github.com/openmsi/msistream/internal/errors"
	"github.com/openmsi/msistream/internal/mirror"
)

var cmdMirror = &cobra.Command{
	Use:   "mirror [flags] DIR",
	Short: "Consume chunked files and reassemble them below a directory",
	Long: `
The "mirror" command consumes chunk records from the configured topic,
deduplicates redelivered chunks, reassembles the files below DIR and verifies
every finished file against its recorded hash. When the broker config file
has an [s3] section, each completed file is additionally copied into the
configured bucket. The command runs until interrupted.

EXIT STATUS
===========

Exit status is 0 after a clean shutdown.
Exit status is 1 if consuming or mirroring failed.
`,
	Args:              cobra.ExactArgs(1),
	DisableAutoGenTag: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMirror(cmd, mirrorOptions, args[0])
	},
}

// MirrorOptions bundles all options for the mirror command.
type MirrorOptions struct {
	Config string
	Topic  string
}

var mirrorOptions MirrorOptions

func init() {
	cmdRoot.AddCommand(cmdMirror)

	f := cmdMirror.Flags()
	f.StringVar(&mirrorOptions.Config, "config", "", "`file` with the broker configuration")
	f.StringVar(&mirrorOptions.Topic, "topic", "", "`topic` to consume chunks from")

	_ = cmdMirror.MarkFlagRequired("config")
	_ = cmdMirror.MarkFlagRequired("topic")
}

func runMirror(cmd *cobra.Command, opts MirrorOptions, dir string) error {
	cfg, err := bus.LoadConfig(opts.Config)
	if err != nil {
		return err
	}

	store, err := mirror.NewObjectStore(cfg)
	if err != nil {
		return err
	}

	consumer, err := bus.NewConsumer(cfg, opts.Topic)
	if err != nil {
		return err
	}
	defer func() {
		_ = consumer.Close()
	}()

	receiver, err := mirror.NewReceiver(dir, store)
	if err != nil {
		return err
	}
	receiver.Completed = func(path string) {
		Verbosef("completed %v\n", path)
	}

	Verbosef("mirroring topic %v below %v\n", opts.Topic, dir)

	ctx := cmd.Context()
	for {
		_, value, err := consumer.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			return err
		}
		if err := receiver.Process(ctx, value); err != nil {
			return err
		}
	}

	received, duplicate, finished := receiver.Stats()
	Verbosef("received %d chunks (%d duplicates dropped), completed %d files\n",
		received, duplicate, finished)
	return nil
}
