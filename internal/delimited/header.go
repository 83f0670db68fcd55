package delimited

import (
	"fmt"
	"strings"
)

// utf8BOM is the byte-order mark some editors write at the start of a file.
const utf8BOM = "\xEF\xBB\xBF"

// header is the resolved column layout of a stream. It is written once by
// resolveHeader and never modified afterwards.
type header struct {
	columns []string
	idIndex int
}

// resolveHeader splits the header line and locates the identifier column.
// With no idName the first column is used; otherwise the first column whose
// trimmed name equals idName.
func resolveHeader(line string, delim rune, idName string) (*header, error) {
	columns := splitFields(line, delim)
	for i, col := range columns {
		columns[i] = stripBOM(col)
	}

	idIndex := -1
	if idName == "" {
		if len(columns) > 0 {
			idIndex = 0
		}
	} else {
		for i, col := range columns {
			if strings.TrimSpace(col) == idName {
				idIndex = i
				break
			}
		}
	}

	if idIndex < 0 {
		return nil, fmt.Errorf("%w: %q", ErrIDColumnNotFound, idName)
	}

	return &header{columns: columns, idIndex: idIndex}, nil
}

func (h *header) idName() string {
	return h.columns[h.idIndex]
}

// stripBOM removes a leading UTF-8 byte-order mark. Values shorter than the
// mark are returned unchanged.
func stripBOM(s string) string {
	if len(s) < len(utf8BOM) {
		return s
	}
	return strings.TrimPrefix(s, utf8BOM)
}

// splitFields splits line on delim. Interior empty fields are kept and
// trailing empty fields are dropped, so "a,,b,," has three fields.
func splitFields(line string, delim rune) []string {
	fields := strings.Split(line, string(delim))

	n := len(fields)
	for n > 0 && fields[n-1] == "" {
		n--
	}
	return fields[:n]
}
