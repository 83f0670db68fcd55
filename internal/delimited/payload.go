package delimited

// Payload is an output slot for a record's envelope.
type Payload interface {
	SetText(text string) error
}

// Text is a plain text payload.
type Text struct {
	Value string
}

// SetText implements Payload.
func (t *Text) SetText(text string) error {
	t.Value = text
	return nil
}

// FileContent tags a payload with the file it was read from. SetText is
// forwarded to Content.
type FileContent struct {
	FileName string
	Content  Payload
}

// SetText implements Payload. It fails with ErrUnsupportedPayload when
// Content is nil.
func (f *FileContent) SetText(text string) error {
	if f.Content == nil {
		return ErrUnsupportedPayload
	}
	return f.Content.SetText(text)
}
