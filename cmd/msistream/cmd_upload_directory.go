package main

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/openmsi/msistream/internal/bus"
	"github.com/openmsi/msistream/internal/datafile"
	"github.com/openmsi/msistream/internal/debug"
	"github.com/openmsi/msistream/internal/errors"
	"github.com/openmsi/msistream/internal/uploader"
)

var cmdUploadDirectory = &cobra.Command{
	Use:   "upload-directory [flags] DIR",
	Short: "Watch a directory and upload new files as chunks",
	Long: `
The "upload-directory" command watches DIR for new files. Every file whose
name matches the admit pattern is split into chunks and produced to the
configured topic. Type "check" (or "c") to print the upload progress and
"quit" (or "q") to stop; a SIGINT or SIGTERM stops the watch as well. On
shutdown all partially enqueued files are finished and the producer is
flushed before the command returns.

EXIT STATUS
===========

Exit status is 0 if the shutdown drained cleanly.
Exit status is 1 if there was an unrecoverable producer error.
`,
	Args:              cobra.ExactArgs(1),
	DisableAutoGenTag: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runUploadDirectory(cmd, uploadDirectoryOptions, args[0])
	},
}

// UploadDirectoryOptions bundles all options for the upload-directory
// command.
type UploadDirectoryOptions struct {
	Config         string
	Topic          string
	Regex          string
	ChunkSize      int64
	Workers        int
	QueueSize      int
	UploadExisting bool
	MinWait        time.Duration
	MaxWait        time.Duration
}

var uploadDirectoryOptions UploadDirectoryOptions

func init() {
	cmdRoot.AddCommand(cmdUploadDirectory)

	f := cmdUploadDirectory.Flags()
	f.StringVar(&uploadDirectoryOptions.Config, "config", "", "`file` with the broker configuration")
	f.StringVar(&uploadDirectoryOptions.Topic, "topic", "", "`topic` to produce chunks to")
	f.StringVar(&uploadDirectoryOptions.Regex, "regex", `^[^.].*$`, "upload only files whose basename matches this regular `expression`")
	f.Int64Var(&uploadDirectoryOptions.ChunkSize, "chunk-size", 512*1024, "`bytes` per chunk (a power of two is recommended)")
	f.IntVar(&uploadDirectoryOptions.Workers, "workers", 2, "`number` of producer worker threads")
	f.IntVar(&uploadDirectoryOptions.QueueSize, "queue-size", 3000, "maximum `number` of chunks in the upload queue")
	f.BoolVar(&uploadDirectoryOptions.UploadExisting, "upload-existing", false, "also upload files already present at startup")
	f.DurationVar(&uploadDirectoryOptions.MinWait, "min-wait", 50*time.Millisecond, "shortest pause between directory scans")
	f.DurationVar(&uploadDirectoryOptions.MaxWait, "max-wait", 60*time.Second, "longest pause between directory scans")

	_ = cmdUploadDirectory.MarkFlagRequired("config")
	_ = cmdUploadDirectory.MarkFlagRequired("topic")
}

func runUploadDirectory(cmd *cobra.Command, opts UploadDirectoryOptions, dir string) error {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return errors.Wrap(err, "Abs")
	}
	fi, err := os.Stat(dir)
	if err != nil || !fi.IsDir() {
		return errors.Fatalf("%v is not a directory", dir)
	}

	if opts.ChunkSize > 0 && opts.ChunkSize&(opts.ChunkSize-1) != 0 {
		Warnf("chunk size %d is not a power of two\n", opts.ChunkSize)
	}

	cfg, err := bus.LoadConfig(opts.Config)
	if err != nil {
		return err
	}

	producer, err := bus.NewKafkaProducer(cfg, opts.Topic)
	if err != nil {
		return err
	}

	ctrl, err := uploader.New(uploader.Config{
		WatchedDir:     dir,
		AdmitPattern:   opts.Regex,
		ChunkSize:      opts.ChunkSize,
		WorkerCount:    opts.Workers,
		QueueCapacity:  opts.QueueSize,
		UploadExisting: opts.UploadExisting,
		MinWait:        opts.MinWait,
		MaxWait:        opts.MaxWait,
	}, producer)
	if err != nil {
		_ = producer.Close()
		return err
	}

	if opts.UploadExisting {
		Verbosef("uploading files in/added to %v to topic %v using %d workers\n", dir, opts.Topic, opts.Workers)
	} else {
		Verbosef("uploading new files added to %v to topic %v using %d workers\n", dir, opts.Topic, opts.Workers)
	}

	ctrl.Start(cmd.Context())
	go watchCommands(ctrl)

	err = ctrl.AwaitTermination()

	printUploadSummary(ctrl.Registry())
	return err
}

// watchCommands reads single line commands from stdin until stdin is closed
// or a quit command arrives: "check" prints the progress, "quit" requests the
// shutdown.
func watchCommands(ctrl *uploader.Controller) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		switch strings.TrimSpace(strings.ToLower(sc.Text())) {
		case "q", "quit":
			Verbosef("will quit after all currently enqueued files are done being transferred\n")
			ctrl.RequestStop()
			return
		case "c", "check":
			printProgress(ctrl.Registry())
		default:
		}
	}
	debug.Log("stdin closed, no more commands")
}

func printProgress(registry *datafile.Registry) {
	Printf("the following files have been recognized so far:\n")
	for _, f := range registry.Files() {
		if !f.ToUpload() {
			continue
		}
		Printf("\t%s\n", f.StatusMsg())
	}
}

func printUploadSummary(registry *datafile.Registry) {
	var uploaded, failed []*datafile.File
	for _, f := range registry.Files() {
		if !f.ToUpload() {
			continue
		}
		switch f.State() {
		case datafile.FullyAcked, datafile.FullyEnqueued:
			uploaded = append(uploaded, f)
		case datafile.Failed:
			failed = append(failed, f)
		}
	}

	Verbosef("%d file(s) uploaded:\n", len(uploaded))
	for _, f := range uploaded {
		Verbosef("\t%s\n", f.Path())
	}
	for _, f := range failed {
		Warnf("upload of %s failed: %v\n", f.Path(), f.Err())
	}
}
