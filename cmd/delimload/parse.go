package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/delimload/internal/delimited"
)

const progressThrottle = 100 * time.Millisecond

// barInterval is how many records are read between bar updates.
const barInterval = 500

// parsedLine is one JSON line of parse output. Valid records carry Key and
// Payload; rejected rows carry Error and Text.
type parsedLine struct {
	Line    int    `json:"line"`
	Key     string `json:"key,omitempty"`
	Payload string `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
	Text    string `json:"text,omitempty"`
}

type parseSummary struct {
	records, valid, invalid int
}

func newParseCmd(opts *options) *cobra.Command {
	var skipInvalid bool

	cmd := &cobra.Command{
		Use:   "parse FILE",
		Short: "Print every record of FILE as a JSON line",
		Long: `parse reads FILE and writes one JSON object per data row to stdout:
{"line":2,"key":"...","payload":"<root>...</root>"} for valid rows and
{"line":3,"error":"...","text":"..."} for rejected ones.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, job, log, err := opts.settings(cmd)
			if err != nil {
				return err
			}

			path := args[0]
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			info, err := f.Stat()
			if err != nil {
				f.Close()
				return err
			}

			// Open closes f.
			rd, err := job.Open(f, info.Size(), log)
			if err != nil {
				return err
			}
			defer rd.Close()

			bar := opts.newBar(cmd.ErrOrStderr(), filepath.Base(path))
			sum, err := parseAll(rd, filepath.Base(path), cmd.OutOrStdout(), skipInvalid, func(fraction float64) {
				bar.Set(int(fraction * 100))
			})
			bar.Finish()
			if err != nil {
				return err
			}

			log.Info("parse complete", "file", path, "records", sum.records, "valid", sum.valid, "invalid", sum.invalid)
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipInvalid, "skip-invalid", false, "omit rejected rows from the output")
	return cmd
}

// parseAll writes every record of rd to w as JSON lines.
func parseAll(rd *delimited.Reader, fileName string, w io.Writer, skipInvalid bool, progress func(float64)) (parseSummary, error) {
	var sum parseSummary

	if err := rd.Init(); err != nil {
		return sum, err
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	for {
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return sum, err
		}
		sum.records++

		var out parsedLine
		switch r := rec.(type) {
		case delimited.Valid:
			sum.valid++
			text := &delimited.Text{}
			if err := r.Fill(&delimited.FileContent{FileName: fileName, Content: text}); err != nil {
				return sum, fmt.Errorf("line %d: %w", r.Line, err)
			}
			out = parsedLine{Line: r.Line, Key: r.Key, Payload: text.Value}
		case delimited.Invalid:
			sum.invalid++
			if skipInvalid {
				continue
			}
			out = parsedLine{Line: r.Line, Error: r.Reason.Error(), Text: r.Text}
		}

		if err := enc.Encode(out); err != nil {
			return sum, fmt.Errorf("write output: %w", err)
		}
		if sum.records%barInterval == 0 {
			progress(rd.Progress())
		}
	}

	progress(rd.Progress())
	return sum, nil
}
