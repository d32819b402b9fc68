package contingent

import (
	"errors"
	"testing"
)

func TestParseRows_HeaderMapping(t *testing.T) {
	rows := [][]string{
		{"СПИСОК лиц"},
		{},
		{"№ п/п", "ФИО", "ИИН", "Дата рождения", "Пол", "Участок", "Должность", "Стаж по должности", "Вредность", "Телефон", "Квартал"},
		{"1", "Иванов Иван", "8501 0130 0123", "01.01.1985", "муж", "Цех 1", "Сварщик", "5 лет", "шум; пыль, вибрация", "+7 701 000 0000", "2 квартал"},
		{},
		{"2", "", "", "", "", "", "", "", "", "", ""},
		{"3", "Петрова Анна", "", "", "жен", "Офис", "Бухгалтер"},
	}
	parsed, noName, err := parseRows(rows)
	if err != nil {
		t.Fatalf("parseRows: %v", err)
	}
	if noName != 1 {
		t.Errorf("expected 1 nameless row, got %d", noName)
	}
	if len(parsed) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(parsed))
	}

	e := parsed[0].Employee
	if parsed[0].Row != 4 {
		t.Errorf("expected sheet row 4, got %d", parsed[0].Row)
	}
	if e.IIN != "850101300123" {
		t.Errorf("unexpected IIN %q", e.IIN)
	}
	if e.BirthDate == nil || e.BirthDate.String() != "1985-01-01" {
		t.Errorf("unexpected birth date %v", e.BirthDate)
	}
	if e.Department != "Цех 1" || e.Position != "Сварщик" || e.Gender != GenderMale {
		t.Errorf("unexpected employee %+v", e)
	}
	if e.PositionExperienceYears == nil || *e.PositionExperienceYears != 5 {
		t.Errorf("unexpected position experience %v", e.PositionExperienceYears)
	}
	if e.TotalExperienceYears != nil {
		t.Errorf("unmapped total experience should stay nil")
	}
	if len(e.HarmfulFactors) != 3 || e.HarmfulFactors[1] != "пыль" {
		t.Errorf("unexpected factors %v", e.HarmfulFactors)
	}
	if e.Phone != "+7 701 000 0000" || e.Quarter != "2 квартал" {
		t.Errorf("unexpected phone/quarter %q/%q", e.Phone, e.Quarter)
	}

	p := parsed[1].Employee
	if p.Gender != GenderFemale || len(p.IIN) != 12 {
		t.Errorf("unexpected second row %+v", p)
	}
}

func TestParseRows_NoHeader(t *testing.T) {
	rows := [][]string{{"a"}, {"b"}, {"c"}, {"d"}, {"e"}, {"ФИО"}}
	if _, _, err := parseRows(rows); !errors.Is(err, ErrHeaderNotFound) {
		t.Fatalf("expected ErrHeaderNotFound, got %v", err)
	}
}

func TestParseRows_DefaultColumns(t *testing.T) {
	rows := [][]string{
		{"№ п/п"},
		{"1", "Иванов", "", "", "Цех", "Токарь"},
	}
	parsed, _, err := parseRows(rows)
	if err != nil {
		t.Fatal(err)
	}
	if len(parsed) != 1 {
		t.Fatalf("expected one row, got %d", len(parsed))
	}
	e := parsed[0].Employee
	if e.Name != "Иванов" || e.Department != "Цех" || e.Position != "Токарь" {
		t.Errorf("expected default column positions, got %+v", e)
	}
}

func TestImportIIN(t *testing.T) {
	if got := importIIN("", []string{"1", "Иванов", "77011234567"}, "Иванов", nil, 5); got != "77011234567" {
		t.Errorf("expected digit cell fallback, got %q", got)
	}
	a := importIIN("", []string{"Иванов"}, "Иванов", nil, 5)
	b := importIIN("", []string{"Иванов"}, "Иванов", nil, 6)
	if len(a) != 12 || a == b {
		t.Errorf("expected distinct synthetic ids, got %q and %q", a, b)
	}
	if got := importIIN("123", nil, "Иванов", nil, 5); len(got) != 12 || got == "123" {
		t.Errorf("short IIN should be replaced, got %q", got)
	}
}

func TestParseGender(t *testing.T) {
	tests := map[string]string{
		"мужской": GenderMale,
		"Male":    GenderMale,
		"ЖЕН":     GenderFemale,
		"female":  GenderFemale,
		"-":       "",
	}
	for in, want := range tests {
		if got := ParseGender(in); got != want {
			t.Errorf("ParseGender(%q) = %q, want %q", in, got, want)
		}
	}
}
