package delimited

import "errors"

// Fatal errors. Once one of these is returned the reader is unusable.
var (
	// ErrIDColumnNotFound is returned when the configured identifier column
	// is not present in the header.
	ErrIDColumnNotFound = errors.New("id column not found in header")

	// ErrInvalidDelimiter is returned for empty or multi-character delimiters.
	ErrInvalidDelimiter = errors.New("invalid delimiter")

	// ErrUnknownEncoding is returned when an encoding name cannot be resolved.
	ErrUnknownEncoding = errors.New("unknown encoding")

	// ErrClosed is returned by Next after Close.
	ErrClosed = errors.New("reader closed")
)

// Row errors. These are reasons carried by Invalid records.
var (
	// ErrFieldCount means the row does not have one value per header column.
	ErrFieldCount = errors.New("inconsistent with column definition")

	// ErrEmptyID means the identifier column value is empty or whitespace.
	ErrEmptyID = errors.New("column used for uri id is empty")

	// ErrURIEncoding means the identifier could not be turned into a URI.
	ErrURIEncoding = errors.New("uri encoding failed")
)

// ErrUnsupportedPayload is returned when a payload cannot hold text.
var ErrUnsupportedPayload = errors.New("payload does not accept text")
