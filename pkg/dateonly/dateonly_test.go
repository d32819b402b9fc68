package dateonly

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	d, err := Parse("2024-03-15")
	if err != nil {
		t.Fatal(err)
	}
	if d.String() != "2024-03-15" {
		t.Errorf("got %s", d)
	}
	d, err = Parse("2024-03-15T23:10:00Z")
	if err != nil || d.String() != "2024-03-15" {
		t.Errorf("expected timestamp truncated to its day, got %s %v", d, err)
	}
	if _, err := Parse("15.03.2024"); err == nil {
		t.Error("expected error for dotted date")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	type payload struct {
		Visit Date  `json:"visit"`
		Until *Date `json:"until"`
	}
	var p payload
	if err := json.Unmarshal([]byte(`{"visit":"2024-05-01","until":null}`), &p); err != nil {
		t.Fatal(err)
	}
	if p.Visit.String() != "2024-05-01" || p.Until != nil {
		t.Fatalf("unexpected %+v", p)
	}
	out, _ := json.Marshal(p)
	if string(out) != `{"visit":"2024-05-01","until":null}` {
		t.Errorf("got %s", out)
	}
	if b, _ := json.Marshal(Date{}); string(b) != "null" {
		t.Errorf("zero date should encode as null, got %s", b)
	}
}

func TestBetween(t *testing.T) {
	from, to := MustParse("2024-01-01"), MustParse("2024-01-31")
	if !MustParse("2024-01-01").Between(from, to) || !MustParse("2024-01-31").Between(from, to) {
		t.Error("bounds are inclusive")
	}
	if MustParse("2024-02-01").Between(from, to) {
		t.Error("date after range must not match")
	}
}

func TestOf(t *testing.T) {
	loc := time.FixedZone("ALMT", 5*3600)
	d := Of(time.Date(2024, 6, 1, 23, 30, 0, 0, loc))
	if d.String() != "2024-06-01" || d.Location() != time.UTC {
		t.Errorf("got %s in %s", d, d.Location())
	}
	if d.AddDays(1).String() != "2024-06-02" {
		t.Error("AddDays")
	}
}
