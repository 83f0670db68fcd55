// Package uri derives document URIs from identifier values.
package uri

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	// ErrEmptyID is returned for empty or whitespace-only identifiers.
	ErrEmptyID = errors.New("empty id")

	// ErrInvalidURI is returned when the assembled URI does not parse.
	ErrInvalidURI = errors.New("invalid uri")
)

// Encoder builds URIs of the form Prefix + escaped(id) + Suffix.
type Encoder struct {
	// Prefix is prepended verbatim, e.g. "/people/".
	Prefix string

	// Suffix is appended verbatim, e.g. ".xml".
	Suffix string
}

// Default encodes ids with no prefix or suffix.
var Default = Encoder{}

// Encode escapes id as a single path segment and wraps it with the prefix
// and suffix. The id is trimmed first.
func (e Encoder) Encode(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrEmptyID
	}

	s := e.Prefix + url.PathEscape(id) + e.Suffix

	if _, err := url.Parse(s); err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidURI, s, err)
	}
	return s, nil
}
