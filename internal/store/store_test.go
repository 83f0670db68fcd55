package store

import (
	"testing"

	"github.com/google/uuid"
)

func TestDocument_SetText(t *testing.T) {
	d := &Document{URI: "1"}
	if err := d.SetText("<root><id>1</id></root>"); err != nil {
		t.Fatalf("SetText() error = %v", err)
	}
	if d.Content != "<root><id>1</id></root>" {
		t.Errorf("Content = %q", d.Content)
	}
}

func TestToPgText(t *testing.T) {
	if got := toPgText(""); got.Valid {
		t.Errorf("toPgText(\"\").Valid = true, want false")
	}
	got := toPgText("people.csv")
	if !got.Valid || got.String != "people.csv" {
		t.Errorf("toPgText(\"people.csv\") = %+v", got)
	}
}

func TestToPgUUID(t *testing.T) {
	if got := toPgUUID(uuid.Nil); got.Valid {
		t.Error("toPgUUID(uuid.Nil).Valid = true, want false")
	}

	id := uuid.New()
	got := toPgUUID(id)
	if !got.Valid {
		t.Fatal("toPgUUID(id).Valid = false, want true")
	}
	if uuid.UUID(got.Bytes) != id {
		t.Errorf("toPgUUID(id).Bytes = %v, want %v", uuid.UUID(got.Bytes), id)
	}
}
