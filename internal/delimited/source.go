package delimited

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// LineSource supplies decoded text lines of known total byte length.
type LineSource interface {
	// NextLine returns the next line without its terminator, or io.EOF.
	NextLine() (string, error)

	// Size is the total length of the underlying stream in bytes, or a
	// value <= 0 when unknown.
	Size() int64

	Close() error
}

// readBufferSize matches the buffer the upload path uses for multipart files.
const readBufferSize = 64 * 1024

// StreamSource reads lines from an io.Reader, decoding them from a named
// character set when one is given.
type StreamSource struct {
	br     *bufio.Reader
	closer io.Closer
	size   int64
	err    error
	closed bool
}

// LookupEncoding resolves a character set name such as "utf-8",
// "windows-1252" or "shift_jis". An empty name returns a nil encoding,
// meaning the input is read as UTF-8.
func LookupEncoding(name string) (encoding.Encoding, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, name)
	}
	return enc, nil
}

// NewStreamSource wraps r. size is the stream's total byte length (<= 0 if
// unknown). If r is an io.Closer it is closed by Close.
func NewStreamSource(r io.Reader, size int64, encodingName string) (*StreamSource, error) {
	enc, err := LookupEncoding(encodingName)
	if err != nil {
		return nil, err
	}

	s := &StreamSource{size: size}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}

	var in io.Reader = r
	if enc != nil {
		in = transform.NewReader(r, enc.NewDecoder())
	}
	s.br = bufio.NewReaderSize(in, readBufferSize)

	return s, nil
}

// OpenFile opens path and returns a source sized from the file's metadata.
func OpenFile(path, encodingName string) (*StreamSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	src, err := NewStreamSource(f, info.Size(), encodingName)
	if err != nil {
		f.Close()
		return nil, err
	}
	return src, nil
}

// NextLine implements LineSource. Lines end at '\n'; a trailing '\r' is
// removed. A final line without a terminator is still returned.
func (s *StreamSource) NextLine() (string, error) {
	if s.closed {
		return "", ErrClosed
	}
	if s.err != nil {
		return "", s.err
	}

	line, err := s.br.ReadString('\n')
	if err != nil {
		if err != io.EOF {
			s.err = fmt.Errorf("read line: %w", err)
			return "", s.err
		}
		s.err = io.EOF
		if line != "" {
			return trimLineEnd(line), nil
		}
		return "", io.EOF
	}

	return trimLineEnd(line), nil
}

// Size implements LineSource.
func (s *StreamSource) Size() int64 {
	return s.size
}

// Close releases the wrapped reader. Calling it more than once is a no-op.
func (s *StreamSource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

func trimLineEnd(line string) string {
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r")
}
