package spreadsheet

import (
	"bytes"
	"testing"
	"time"
)

func TestWriterRoundTrip(t *testing.T) {
	w, err := NewWriter("Контингент")
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.Title("Список контингента"); err != nil {
		t.Fatal(err)
	}
	w.Skip(1)
	if err := w.Header("№ п/п", "ФИО", "Дата рождения"); err != nil {
		t.Fatal(err)
	}
	birth := time.Date(1985, 3, 14, 0, 0, 0, 0, time.UTC)
	if err := w.Append(1, "Иванов Иван", &birth); err != nil {
		t.Fatal(err)
	}
	if w.Row() != 4 {
		t.Errorf("expected 4 rows written, got %d", w.Row())
	}

	data, err := w.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	rows, err := ReadFirstSheet(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("ReadFirstSheet: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected 4 rows, got %d: %v", len(rows), rows)
	}
	if rows[0][0] != "Список контингента" {
		t.Errorf("unexpected title %q", rows[0][0])
	}
	if rows[2][1] != "ФИО" || rows[3][1] != "Иванов Иван" || rows[3][2] != "14.03.1985" {
		t.Errorf("unexpected rows %v", rows[2:])
	}
}

func TestReadFirstSheet_Garbage(t *testing.T) {
	if _, err := ReadFirstSheet(bytes.NewReader([]byte("not a workbook"))); err == nil {
		t.Fatal("expected error for non-xlsx input")
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"14.03.1985", "1985-03-14"},
		{"14.03.1985г", "1985-03-14"},
		{"14.03.1985 г.", "1985-03-14"},
		{"1985-03-14", "1985-03-14"},
		{"31120", "1985-03-14"},
	}
	for _, tt := range tests {
		got, err := ParseDate(tt.in)
		if err != nil {
			t.Errorf("ParseDate(%q): %v", tt.in, err)
			continue
		}
		if got.Format("2006-01-02") != tt.want {
			t.Errorf("ParseDate(%q) = %s, want %s", tt.in, got.Format("2006-01-02"), tt.want)
		}
	}

	if d, err := ParseDate("  "); err != nil || d != nil {
		t.Errorf("expected nil date for blank input, got %v %v", d, err)
	}
	if _, err := ParseDate("вчера"); err == nil {
		t.Error("expected error for unparseable date")
	}
}
