// delimload parses delimited text files into keyed XML-style envelopes,
// printing them or loading them into the document store.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/delimload/internal/config"
	"github.com/JonMunkholm/delimload/internal/ingest"
	"github.com/JonMunkholm/delimload/internal/logging"
)

var version = "dev"

// options are the flags shared by every command.
type options struct {
	jobFile   string
	job       ingest.Job
	logLevel  string
	logFormat string
	quiet     bool
}

func main() {
	godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if msg := ingest.MapError(err); msg.Code != "ERR000" {
			fmt.Fprintln(os.Stderr, ingest.FormatUserError(err))
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "delimload",
		Short: "Parse delimited text files into keyed documents",
		Long: `delimload reads a delimited text file whose first line is a header,
takes one column as the document identifier and turns every row into a
<root>-wrapped envelope with one element per column.

Settings come from INGEST_* environment variables, then the --job YAML
file, then flags; later sources win field by field.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := root.PersistentFlags()
	f.StringVar(&opts.jobFile, "job", "", "YAML job file with delimiter, id_column, encoding, uri_prefix, uri_suffix")
	f.StringVarP(&opts.job.Delimiter, "delimiter", "d", "", `field delimiter, one character or "tab"`)
	f.StringVarP(&opts.job.IDColumn, "id-column", "c", "", "identifier column name (default: first column)")
	f.StringVarP(&opts.job.Encoding, "encoding", "e", "", "input character set, e.g. windows-1252")
	f.StringVar(&opts.job.URIPrefix, "uri-prefix", "", "prefix for every document URI")
	f.StringVar(&opts.job.URISuffix, "uri-suffix", "", "suffix for every document URI")
	f.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error (default from LOG_LEVEL)")
	f.StringVar(&opts.logFormat, "log-format", "", "log format: text, json (default from LOG_FORMAT)")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "hide the progress bar")

	root.AddCommand(newParseCmd(opts), newLoadCmd(opts), newRollbackCmd(opts), newResetCmd(opts))
	return root
}

// settings resolves the ingest configuration, the effective job and the
// logger for a command. The database is not needed.
func (o *options) settings(cmd *cobra.Command) (*config.IngestConfig, ingest.Job, *slog.Logger, error) {
	cfg, lg, err := config.LoadIngest()
	if err != nil {
		return nil, ingest.Job{}, nil, err
	}

	job := ingest.JobFromConfig(*cfg)
	if o.jobFile != "" {
		fileJob, err := ingest.LoadJob(o.jobFile)
		if err != nil {
			return nil, ingest.Job{}, nil, err
		}
		job = job.Merge(fileJob)
	}
	job = job.Merge(o.job)
	if err := job.Validate(); err != nil {
		return nil, ingest.Job{}, nil, err
	}

	return cfg, job, o.logger(cmd.ErrOrStderr(), lg), nil
}

func (o *options) logger(w io.Writer, lg *config.LoggingConfig) *slog.Logger {
	level, format := lg.Level, lg.Format
	if o.logLevel != "" {
		level = o.logLevel
	}
	if o.logFormat != "" {
		format = o.logFormat
	}
	log := logging.New(w, level, format)
	slog.SetDefault(log)
	return log
}

// newBar returns a percentage bar on w, or a silent one.
func (o *options) newBar(w io.Writer, description string) *progressbar.ProgressBar {
	if o.quiet {
		return progressbar.DefaultSilent(100, description)
	}
	return progressbar.NewOptions(100,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(progressThrottle),
		progressbar.OptionClearOnFinish(),
	)
}
