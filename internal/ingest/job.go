package ingest

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/delimload/internal/config"
	"github.com/JonMunkholm/delimload/internal/delimited"
	"github.com/JonMunkholm/delimload/internal/uri"
)

// Job describes how one file is parsed. Empty fields mean "use the
// default": a comma delimiter, the first column as identifier, UTF-8 input
// and bare escaped identifiers as URIs.
type Job struct {
	Delimiter string `yaml:"delimiter" json:"delimiter,omitempty"`
	IDColumn  string `yaml:"id_column" json:"id_column,omitempty"`
	Encoding  string `yaml:"encoding" json:"encoding,omitempty"`
	URIPrefix string `yaml:"uri_prefix" json:"uri_prefix,omitempty"`
	URISuffix string `yaml:"uri_suffix" json:"uri_suffix,omitempty"`
}

// JobFromConfig returns the job configured through INGEST_* variables.
func JobFromConfig(cfg config.IngestConfig) Job {
	return Job{
		Delimiter: cfg.Delimiter,
		IDColumn:  cfg.IDColumn,
		Encoding:  cfg.Encoding,
		URIPrefix: cfg.URIPrefix,
		URISuffix: cfg.URISuffix,
	}
}

// LoadJob reads a YAML job file.
//
//	delimiter: ";"
//	id_column: sku
//	encoding: windows-1252
//	uri_prefix: /products/
//	uri_suffix: .xml
func LoadJob(path string) (Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Job{}, fmt.Errorf("read job file: %w", err)
	}

	var j Job
	if err := yaml.Unmarshal(data, &j); err != nil {
		return Job{}, fmt.Errorf("parse job file %s: %w", path, err)
	}
	if err := j.Validate(); err != nil {
		return Job{}, fmt.Errorf("job file %s: %w", path, err)
	}
	return j, nil
}

// Merge returns j with every non-empty field of over applied on top.
func (j Job) Merge(over Job) Job {
	if over.Delimiter != "" {
		j.Delimiter = over.Delimiter
	}
	if over.IDColumn != "" {
		j.IDColumn = over.IDColumn
	}
	if over.Encoding != "" {
		j.Encoding = over.Encoding
	}
	if over.URIPrefix != "" {
		j.URIPrefix = over.URIPrefix
	}
	if over.URISuffix != "" {
		j.URISuffix = over.URISuffix
	}
	return j
}

// Validate checks the delimiter and encoding.
func (j Job) Validate() error {
	if _, err := j.delimiter(); err != nil {
		return err
	}
	if _, err := delimited.LookupEncoding(j.Encoding); err != nil {
		return err
	}
	return nil
}

func (j Job) delimiter() (rune, error) {
	if j.Delimiter == "" {
		return delimited.DefaultDelimiter, nil
	}
	return delimited.ParseDelimiter(j.Delimiter)
}

// Open builds a Reader over body. body is closed with the Reader when it
// implements io.Closer, including when Open fails.
func (j Job) Open(body io.Reader, size int64, log *slog.Logger) (*delimited.Reader, error) {
	closeBody := func() {
		if c, ok := body.(io.Closer); ok {
			c.Close()
		}
	}

	delim, err := j.delimiter()
	if err != nil {
		closeBody()
		return nil, err
	}

	src, err := delimited.NewStreamSource(body, size, j.Encoding)
	if err != nil {
		closeBody()
		return nil, err
	}

	enc := uri.Encoder{Prefix: j.URIPrefix, Suffix: j.URISuffix}
	rd, err := delimited.NewReader(src, delimited.Options{
		Delimiter: delim,
		IDColumn:  j.IDColumn,
		Encoder:   enc.Encode,
		Logger:    log,
	})
	if err != nil {
		src.Close()
		return nil, err
	}
	return rd, nil
}
