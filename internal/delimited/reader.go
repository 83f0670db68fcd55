package delimited

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/JonMunkholm/delimload/internal/uri"
)

// DefaultDelimiter is used when Options.Delimiter is zero.
const DefaultDelimiter = ','

// URIEncoder turns a trimmed identifier value into a document URI.
type URIEncoder func(id string) (string, error)

// Options configures a Reader.
type Options struct {
	// Delimiter separates fields. Zero means DefaultDelimiter.
	Delimiter rune

	// IDColumn names the identifier column. Empty selects the first column.
	IDColumn string

	// Encoder derives document keys. Nil uses uri.Default.
	Encoder URIEncoder

	// Logger receives row diagnostics. Nil uses slog.Default().
	Logger *slog.Logger
}

// ParseDelimiter validates a configured delimiter. It accepts exactly one
// character, plus the spellings `\t` and "tab" for a tab.
func ParseDelimiter(s string) (rune, error) {
	switch strings.ToLower(s) {
	case `\t`, "tab":
		return '\t', nil
	}
	if utf8.RuneCountInString(s) != 1 {
		return 0, fmt.Errorf("%w: %q must be a single character", ErrInvalidDelimiter, s)
	}
	r, _ := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || r == '\n' || r == '\r' {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDelimiter, s)
	}
	return r, nil
}

type state int

const (
	stateUninitialized state = iota
	stateHeaderPending
	stateReady
	stateExhausted
	stateFailed
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateUninitialized:
		return "uninitialized"
	case stateHeaderPending:
		return "header-pending"
	case stateReady:
		return "ready"
	case stateExhausted:
		return "exhausted"
	case stateFailed:
		return "failed"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Reader parses one delimited stream. It is not safe for concurrent use;
// give each stream its own Reader.
type Reader struct {
	opts   Options
	src    LineSource
	cur    *cursor
	log    *slog.Logger
	header *header

	state    state
	err      error
	released bool
}

// NewReader creates a Reader that owns src. The header is resolved on the
// first call to Init or Next.
func NewReader(src LineSource, opts Options) (*Reader, error) {
	if src == nil {
		return nil, errors.New("delimited: nil line source")
	}

	if opts.Delimiter == 0 {
		opts.Delimiter = DefaultDelimiter
	}
	if opts.Delimiter == utf8.RuneError || opts.Delimiter == '\n' || opts.Delimiter == '\r' {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDelimiter, opts.Delimiter)
	}
	opts.IDColumn = strings.TrimSpace(opts.IDColumn)
	if opts.Encoder == nil {
		opts.Encoder = uri.Default.Encode
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Reader{
		opts:  opts,
		src:   src,
		cur:   newCursor(src),
		log:   log,
		state: stateUninitialized,
	}, nil
}

// Init resolves the header. It is called by Next and only does work once.
// A configured identifier column missing from the header fails with
// ErrIDColumnNotFound; the Reader is then unusable. An empty stream is not
// an error: Next reports io.EOF.
func (r *Reader) Init() error {
	switch r.state {
	case stateUninitialized:
	case stateFailed:
		return r.err
	case stateClosed:
		return ErrClosed
	default:
		return nil
	}

	r.state = stateHeaderPending

	line, err := r.cur.nextNonBlank()
	if err == io.EOF {
		r.exhaust()
		return nil
	}
	if err != nil {
		return r.fail(err)
	}

	h, err := resolveHeader(line, r.opts.Delimiter, r.opts.IDColumn)
	if err != nil {
		r.log.Debug("header did not contain id column", "header", line, "id_column", r.opts.IDColumn)
		return r.fail(err)
	}

	r.header = h
	r.state = stateReady
	return nil
}

// Next returns the record for the next non-blank data line, or io.EOF when
// the stream is exhausted. Row problems are reported as Invalid records,
// never as errors. A non-nil, non-EOF error is fatal.
func (r *Reader) Next() (Record, error) {
	if err := r.Init(); err != nil {
		return nil, err
	}

	switch r.state {
	case stateExhausted:
		return nil, io.EOF
	case stateFailed:
		return nil, r.err
	case stateClosed:
		return nil, ErrClosed
	}

	line, err := r.cur.nextNonBlank()
	if err == io.EOF {
		r.exhaust()
		return nil, io.EOF
	}
	if err != nil {
		return nil, r.fail(err)
	}

	return r.parseRow(r.cur.line, line), nil
}

// Header returns the resolved column names, or nil before resolution.
func (r *Reader) Header() []string {
	if r.header == nil {
		return nil
	}
	out := make([]string, len(r.header.columns))
	copy(out, r.header.columns)
	return out
}

// IDColumn returns the index of the identifier column, or -1 before
// resolution.
func (r *Reader) IDColumn() int {
	if r.header == nil {
		return -1
	}
	return r.header.idIndex
}

// Progress reports the fraction of the stream consumed, in [0, 1].
func (r *Reader) Progress() float64 {
	return r.cur.progress()
}

// Close releases the source. It is idempotent and safe after a failed Init.
func (r *Reader) Close() error {
	if r.state != stateFailed {
		r.state = stateClosed
	}
	return r.release()
}

func (r *Reader) exhaust() {
	r.state = stateExhausted
	if err := r.release(); err != nil {
		r.log.Warn("failed to close exhausted source", "error", err)
	}
}

func (r *Reader) fail(err error) error {
	r.state = stateFailed
	r.err = err
	if cerr := r.release(); cerr != nil {
		r.log.Warn("failed to close source", "error", cerr)
	}
	return err
}

func (r *Reader) release() error {
	if r.released {
		return nil
	}
	r.released = true
	return r.src.Close()
}
