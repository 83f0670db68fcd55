package delimited

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func collectLines(t *testing.T, src LineSource) []string {
	t.Helper()
	var lines []string
	for {
		line, err := src.NextLine()
		if err == io.EOF {
			return lines
		}
		if err != nil {
			t.Fatalf("NextLine() error = %v", err)
		}
		lines = append(lines, line)
	}
}

func TestStreamSource_Lines(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"empty", "", nil},
		{"single line no newline", "a,b", []string{"a,b"}},
		{"lf", "a\nb\n", []string{"a", "b"}},
		{"crlf", "a\r\nb\r\n", []string{"a", "b"}},
		{"blank lines kept", "a\n\n\nb", []string{"a", "", "", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := NewStreamSource(strings.NewReader(tt.input), int64(len(tt.input)), "")
			if err != nil {
				t.Fatal(err)
			}
			got := collectLines(t, src)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("lines mismatch (-want +got):\n%s", diff)
			}
			// EOF is sticky.
			if _, err := src.NextLine(); err != io.EOF {
				t.Errorf("NextLine() after EOF error = %v, want io.EOF", err)
			}
		})
	}
}

func TestStreamSource_DecodesCharset(t *testing.T) {
	// "café" in windows-1252
	input := []byte("id,name\n1,caf\xe9\n")
	src, err := NewStreamSource(strings.NewReader(string(input)), int64(len(input)), "windows-1252")
	if err != nil {
		t.Fatalf("NewStreamSource() error = %v", err)
	}

	got := collectLines(t, src)
	want := []string{"id,name", "1,café"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
}

func TestStreamSource_UnknownEncoding(t *testing.T) {
	_, err := NewStreamSource(strings.NewReader(""), 0, "klingon-8")
	if !errors.Is(err, ErrUnknownEncoding) {
		t.Errorf("NewStreamSource() error = %v, want ErrUnknownEncoding", err)
	}
}

func TestStreamSource_NextLineAfterClose(t *testing.T) {
	src, _ := NewStreamSource(strings.NewReader("a\n"), 2, "")
	src.Close()
	if _, err := src.NextLine(); !errors.Is(err, ErrClosed) {
		t.Errorf("NextLine() after Close error = %v, want ErrClosed", err)
	}
}

func TestLookupEncoding(t *testing.T) {
	enc, err := LookupEncoding("")
	if err != nil || enc != nil {
		t.Errorf("LookupEncoding(\"\") = %v, %v; want nil, nil", enc, err)
	}
	for _, name := range []string{"utf-8", "UTF-8", "latin1", "iso-8859-1", "shift_jis"} {
		if _, err := LookupEncoding(name); err != nil {
			t.Errorf("LookupEncoding(%q) error = %v", name, err)
		}
	}
}

func TestOpenFile(t *testing.T) {
	content := "id,name\n1,Alice\n"
	path := filepath.Join(t.TempDir(), "people.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	src, err := OpenFile(path, "")
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	defer src.Close()

	if src.Size() != int64(len(content)) {
		t.Errorf("Size() = %d, want %d", src.Size(), len(content))
	}
	if got := collectLines(t, src); len(got) != 2 {
		t.Errorf("got %d lines, want 2", len(got))
	}
}

func TestOpenFile_Missing(t *testing.T) {
	_, err := OpenFile(filepath.Join(t.TempDir(), "nope.csv"), "")
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("OpenFile() error = %v, want os.ErrNotExist", err)
	}
}
