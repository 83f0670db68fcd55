// Package delimited turns a delimited-text stream into one document per row.
//
// The first non-blank line of the stream is the header. One header column is
// the identifier column; its value on each row becomes the document key
// after URI encoding. Every other non-blank line is a data row and yields
// exactly one [Record]:
//
//   - [Valid] carries the key and a root-wrapped envelope of the row,
//     e.g. <root><id>1</id><name>Alice</name></root>
//   - [Invalid] carries the reason the row could not be used
//
// Row problems never stop the stream. The only fatal parse error is a
// configured identifier column that the header does not contain
// ([ErrIDColumnNotFound]); I/O errors from the source are also fatal.
//
// Splitting is plain single-character splitting. Quoted fields and escaped
// delimiters are not recognised.
//
// # Usage
//
//	src, err := delimited.OpenFile("people.csv", "")
//	if err != nil {
//	    return err
//	}
//	r, err := delimited.NewReader(src, delimited.Options{IDColumn: "id"})
//	if err != nil {
//	    src.Close()
//	    return err
//	}
//	defer r.Close()
//
//	for {
//	    rec, err := r.Next()
//	    if err == io.EOF {
//	        break
//	    }
//	    if err != nil {
//	        return err
//	    }
//	    switch rec := rec.(type) {
//	    case delimited.Valid:
//	        store(rec.Key, rec.Payload)
//	    case delimited.Invalid:
//	        skipped = append(skipped, rec)
//	    }
//	}
package delimited
