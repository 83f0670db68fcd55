package delimited

import (
	"io"
	"strings"
)

// cursor pulls lines from a LineSource and counts consumed bytes.
// It is the only writer of consumed.
type cursor struct {
	src       LineSource
	total     int64
	consumed  int64
	line      int
	exhausted bool
}

func newCursor(src LineSource) *cursor {
	return &cursor{
		src:   src,
		total: src.Size(),
	}
}

// next returns the next line. Every returned line is counted by its UTF-8
// byte length; the line terminator is not part of the count.
func (c *cursor) next() (string, error) {
	if c.exhausted {
		return "", io.EOF
	}

	line, err := c.src.NextLine()
	if err == io.EOF {
		c.finish()
		return "", io.EOF
	}
	if err != nil {
		return "", err
	}

	c.line++
	c.consumed += int64(len(line))
	return line, nil
}

// nextNonBlank skips blank and whitespace-only lines. Skipped lines still
// count toward progress.
func (c *cursor) nextNonBlank() (string, error) {
	for {
		line, err := c.next()
		if err != nil {
			return "", err
		}
		if !isBlank(line) {
			return line, nil
		}
	}
}

// finish marks the stream as fully consumed.
func (c *cursor) finish() {
	c.exhausted = true
	if c.total > 0 {
		c.consumed = c.total
	}
}

// progress returns consumed/total in [0, 1]. An exhausted cursor reports 1
// regardless of how the byte counts line up.
func (c *cursor) progress() float64 {
	if c.exhausted {
		return 1
	}
	if c.total <= 0 {
		return 0
	}

	p := float64(c.consumed) / float64(c.total)
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}

func isBlank(line string) bool {
	return strings.TrimSpace(line) == ""
}
