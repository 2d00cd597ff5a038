package main

import (
	"github.com/spf13/cobra"

	"github.com/openmsi/msistream/internal/bus"
	"github.com/openmsi/msistream/internal/uploader"
)

var cmdUploadFile = &cobra.Command{
	Use:   "upload-file [flags] FILE",
	Short: "Chunk and upload a single file",
	Long: `
The "upload-file" command splits one file into chunks and produces it to the
configured topic, then waits until every chunk has been acknowledged by the
broker.

EXIT STATUS
===========

Exit status is 0 if the whole file was delivered.
Exit status is 1 if the file could not be read or delivered.
`,
	Args:              cobra.ExactArgs(1),
	DisableAutoGenTag: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runUploadFile(cmd, uploadFileOptions, args[0])
	},
}

// UploadFileOptions bundles all options for the upload-file command.
type UploadFileOptions struct {
	Config    string
	Topic     string
	ChunkSize int64
	Workers   int
	QueueSize int
}

var uploadFileOptions UploadFileOptions

func init() {
	cmdRoot.AddCommand(cmdUploadFile)

	f := cmdUploadFile.Flags()
	f.StringVar(&uploadFileOptions.Config, "config", "", "`file` with the broker configuration")
	f.StringVar(&uploadFileOptions.Topic, "topic", "", "`topic` to produce chunks to")
	f.Int64Var(&uploadFileOptions.ChunkSize, "chunk-size", 512*1024, "`bytes` per chunk (a power of two is recommended)")
	f.IntVar(&uploadFileOptions.Workers, "workers", 2, "`number` of producer worker threads")
	f.IntVar(&uploadFileOptions.QueueSize, "queue-size", 3000, "maximum `number` of chunks in the upload queue")

	_ = cmdUploadFile.MarkFlagRequired("config")
	_ = cmdUploadFile.MarkFlagRequired("topic")
}

func runUploadFile(cmd *cobra.Command, opts UploadFileOptions, path string) error {
	cfg, err := bus.LoadConfig(opts.Config)
	if err != nil {
		return err
	}

	producer, err := bus.NewKafkaProducer(cfg, opts.Topic)
	if err != nil {
		return err
	}

	f, err := uploader.UploadSingleFile(cmd.Context(), producer, path, opts.ChunkSize, opts.Workers, opts.QueueSize)
	if err != nil {
		return err
	}

	Verbosef("done uploading %v: %s\n", path, f.StatusMsg())
	return nil
}
