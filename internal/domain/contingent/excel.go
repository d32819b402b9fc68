package contingent

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/medcrm/medcrm/internal/domain/identity"
	"github.com/medcrm/medcrm/internal/platform/apperr"
	"github.com/medcrm/medcrm/internal/platform/spreadsheet"
	"github.com/medcrm/medcrm/pkg/dateonly"
)

var ErrHeaderNotFound = apperr.BadRequest("Не найдены заголовки таблицы")

// headerScanRows is how many leading rows may hold the column titles.
const headerScanRows = 5

// columnKeywords maps a field to the lower-cased header fragments that
// identify its column. Order matters: the first matching field wins, so the
// experience columns are tried before the plain position column.
var columnKeywords = []struct {
	field    string
	keywords []string
}{
	{"number", []string{"№ п/п", "номер"}},
	{"name", []string{"фио", "ф.и.о"}},
	{"birth_date", []string{"дата рождения"}},
	{"total_experience", []string{"общий стаж"}},
	{"position_experience", []string{"стаж по должности", "стаж по занимаемой"}},
	{"last_examination", []string{"последний медосмотр", "дата последнего"}},
	{"gender", []string{"пол"}},
	{"department", []string{"объект", "участок"}},
	{"position", []string{"должность"}},
	{"harmful_factors", []string{"вредность", "профессиональная"}},
	{"notes", []string{"примечание"}},
	{"iin", []string{"иин", "иип"}},
	{"phone", []string{"телефон"}},
	{"quarter", []string{"квартал"}},
}

// Default 1-based positions used when a header is missing.
var defaultColumns = map[string]int{"name": 2, "department": 5, "position": 6}

// TemplateHeaders are the column titles of the import template.
var TemplateHeaders = []string{
	"№ п/п",
	"ФИО",
	"Дата рождения",
	"Пол",
	"Объект или участок",
	"Занимаемая должность",
	"Общий стаж",
	"Стаж по занимаемой должности",
	"Дата последнего медосмотра",
	"Профессиональная вредность",
	"Примечание",
}

type importRow struct {
	Row      int
	Employee *Employee
}

type sheetLayout struct {
	headerRow int
	columns   map[string]int
}

func findLayout(rows [][]string) (*sheetLayout, error) {
	for i := 0; i < len(rows) && i < headerScanRows; i++ {
		for _, v := range rows[i] {
			if strings.Contains(v, "ФИО") || strings.Contains(v, "№ п/п") {
				return &sheetLayout{headerRow: i, columns: mapColumns(rows[i])}, nil
			}
		}
	}
	return nil, ErrHeaderNotFound
}

func mapColumns(header []string) map[string]int {
	cols := make(map[string]int)
	for idx, v := range header {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
	match:
		for _, ck := range columnKeywords {
			for _, kw := range ck.keywords {
				if strings.Contains(v, kw) {
					cols[ck.field] = idx + 1
					break match
				}
			}
		}
	}
	return cols
}

// cell returns the trimmed value of field in row, or "" when the column is
// unmapped or the row is short.
func (l *sheetLayout) cell(row []string, field string) string {
	col, ok := l.columns[field]
	if !ok {
		col, ok = defaultColumns[field]
	}
	if !ok || col < 1 || col > len(row) {
		return ""
	}
	return strings.TrimSpace(row[col-1])
}

func (l *sheetLayout) mapped(field string) bool {
	_, ok := l.columns[field]
	return ok
}

// parseRows converts the data rows below the header into employees. Rows
// without a name are counted and dropped.
func parseRows(rows [][]string) ([]importRow, int, error) {
	layout, err := findLayout(rows)
	if err != nil {
		return nil, 0, err
	}
	var out []importRow
	noName := 0
	for i := layout.headerRow + 1; i < len(rows); i++ {
		row := rows[i]
		if isEmptyRow(row) {
			continue
		}
		name := layout.cell(row, "name")
		if name == "" || name == "None" {
			noName++
			continue
		}
		rowNum := i + 1
		e := &Employee{
			Name:                name,
			Department:          layout.cell(row, "department"),
			Position:            layout.cell(row, "position"),
			RequiresExamination: true,
			HarmfulFactors:      []string{},
		}
		if layout.mapped("birth_date") {
			e.BirthDate = parseDate(layout.cell(row, "birth_date"))
		}
		if layout.mapped("gender") {
			e.Gender = ParseGender(layout.cell(row, "gender"))
		}
		if layout.mapped("total_experience") {
			e.TotalExperienceYears = parseYears(layout.cell(row, "total_experience"))
		}
		if layout.mapped("position_experience") {
			e.PositionExperienceYears = parseYears(layout.cell(row, "position_experience"))
		}
		if layout.mapped("last_examination") {
			e.LastExaminationDate = parseDate(layout.cell(row, "last_examination"))
		}
		if layout.mapped("harmful_factors") {
			e.HarmfulFactors = SplitFactors(layout.cell(row, "harmful_factors"))
		}
		if layout.mapped("notes") {
			e.Notes = layout.cell(row, "notes")
		}
		if layout.mapped("phone") {
			e.Phone = layout.cell(row, "phone")
		}
		if layout.mapped("quarter") {
			e.Quarter = layout.cell(row, "quarter")
		}
		var rawIIN string
		if layout.mapped("iin") {
			rawIIN = layout.cell(row, "iin")
		}
		e.IIN = importIIN(rawIIN, row, name, e.BirthDate, rowNum)
		out = append(out, importRow{Row: rowNum, Employee: e})
	}
	return out, noName, nil
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func parseDate(s string) *dateonly.Date {
	t, err := spreadsheet.ParseDate(s)
	if err != nil || t == nil {
		return nil
	}
	d := dateonly.Of(*t)
	return &d
}

func parseYears(s string) *int {
	s = strings.TrimSpace(strings.NewReplacer("лет", "", "года", "").Replace(s))
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}

// importIIN picks the identifier of an imported row: the IIN cell, else the
// first all-digit cell of at least 10 characters. Rows without one get a
// stable synthetic id derived from name, birth date and row number.
func importIIN(raw string, row []string, name string, birth *dateonly.Date, rowNum int) string {
	if raw == "" {
		for _, v := range row {
			v = strings.TrimSpace(v)
			if len(v) >= 10 && identity.CleanDigits(v) == v {
				raw = v
				break
			}
		}
	}
	iin := identity.CleanDigits(raw)
	if len(iin) > 20 {
		iin = iin[:20]
	}
	if len(iin) >= 10 {
		return iin
	}
	birthKey := "unknown"
	if birth != nil {
		birthKey = birth.String()
	}
	sum := md5.Sum([]byte(fmt.Sprintf("%s_%s_%d", name, birthKey, rowNum)))
	return hex.EncodeToString(sum[:])[:12]
}

// Template renders the blank import workbook with two example rows.
func Template() ([]byte, error) {
	w, err := spreadsheet.NewWriter("Список контингента")
	if err != nil {
		return nil, err
	}
	if err := w.Title("СПИСОК лиц, подлежащих обязательному медицинскому осмотру"); err != nil {
		return nil, err
	}
	if err := w.Title("согласно приказу и.о. Министра здравоохранения Республики Казахстан от 15 октября 2020 года № ҚР ДСМ-131/2020"); err != nil {
		return nil, err
	}
	if err := w.Title("1 квартал"); err != nil {
		return nil, err
	}
	if err := w.Header(TemplateHeaders...); err != nil {
		return nil, err
	}
	examples := [][]interface{}{
		{"1", "Иванов Иван Иванович", "29.03.1976", "мужской", `ТОО "Компания" - Отдел`, "Оператор", "20", "18", "22.01.2024г", "п.33 «Профессии и работы»", ""},
		{"2", "Петрова Мария Петровна", "15.05.1985", "женский", `ТОО "Компания" - Офис`, "Бухгалтер", "15", "10", "24.01.2024г", "п.14 «Работа на ПК»", ""},
	}
	for _, row := range examples {
		if err := w.Append(row...); err != nil {
			return nil, err
		}
	}
	return w.Bytes()
}
