package delimited

import (
	"fmt"
	"strings"
)

const (
	rootStart = "<root>"
	rootEnd   = "</root>"
)

// Field is one column value of a data row.
type Field struct {
	Name  string
	Value string
}

// Record is the result of parsing one data row. It is either Valid or
// Invalid.
type Record interface {
	// LineNumber is the 1-based physical line of the row in the stream.
	LineNumber() int

	record()
}

// Valid is a row with a usable document key.
type Valid struct {
	Line    int
	Key     string
	Payload string
	Fields  []Field
}

// Invalid is a row that produced no document. Reason wraps one of
// ErrFieldCount, ErrEmptyID or ErrURIEncoding.
type Invalid struct {
	Line   int
	Text   string
	Reason error
}

func (v Valid) LineNumber() int   { return v.Line }
func (v Invalid) LineNumber() int { return v.Line }

func (Valid) record()   {}
func (Invalid) record() {}

// Fill stores the envelope in p.
func (v Valid) Fill(p Payload) error {
	if p == nil {
		return ErrUnsupportedPayload
	}
	return p.SetText(v.Payload)
}

// Err describes why the row was rejected, including its line number.
func (v Invalid) Err() error {
	return fmt.Errorf("line %d: %w", v.Line, v.Reason)
}

// parseRow turns a data line into a Record using the resolved header.
func (r *Reader) parseRow(lineNo int, line string) Record {
	h := r.header
	values := splitFields(line, r.opts.Delimiter)

	if len(values) != len(h.columns) {
		r.log.Error("row is inconsistent with column definition",
			"line", lineNo,
			"columns", len(h.columns),
			"fields", len(values),
			"text", line,
		)
		return Invalid{
			Line:   lineNo,
			Text:   line,
			Reason: fmt.Errorf("%w: expected %d fields, got %d", ErrFieldCount, len(h.columns), len(values)),
		}
	}

	id := strings.TrimSpace(values[h.idIndex])
	if id == "" {
		r.log.Error("column used for uri id is empty",
			"line", lineNo,
			"column", h.idName(),
			"text", line,
		)
		return Invalid{
			Line:   lineNo,
			Text:   line,
			Reason: fmt.Errorf("%w: column %q", ErrEmptyID, h.idName()),
		}
	}

	key, err := r.opts.Encoder(id)
	if err != nil || key == "" {
		r.log.Error("failed to encode uri id",
			"line", lineNo,
			"id", id,
			"error", err,
		)
		if err == nil {
			err = fmt.Errorf("empty uri for %q", id)
		}
		return Invalid{
			Line:   lineNo,
			Text:   line,
			Reason: fmt.Errorf("%w: %v", ErrURIEncoding, err),
		}
	}

	fields := make([]Field, len(h.columns))
	for i, name := range h.columns {
		fields[i] = Field{Name: name, Value: values[i]}
	}

	return Valid{
		Line:    lineNo,
		Key:     key,
		Payload: envelope(fields),
		Fields:  fields,
	}
}

// envelope wraps each field in tags named after its column. Values are
// written as-is, without markup escaping.
func envelope(fields []Field) string {
	size := len(rootStart) + len(rootEnd)
	for _, f := range fields {
		size += 2*len(f.Name) + len(f.Value) + 5
	}

	var b strings.Builder
	b.Grow(size)
	b.WriteString(rootStart)
	for _, f := range fields {
		b.WriteByte('<')
		b.WriteString(f.Name)
		b.WriteByte('>')
		b.WriteString(f.Value)
		b.WriteString("</")
		b.WriteString(f.Name)
		b.WriteByte('>')
	}
	b.WriteString(rootEnd)
	return b.String()
}
