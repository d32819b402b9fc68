// Package spreadsheet reads and writes .xlsx workbooks for contingent imports
// and report exports.
package spreadsheet

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// ContentType is the MIME type of generated workbooks.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ReadFirstSheet returns the raw cell values of the first worksheet. Dates
// stored as Excel serials come back as numbers; see ParseDate.
func ReadFirstSheet(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return rows, nil
}

var dateLayouts = []string{"02.01.2006", "2006-01-02", "02/01/2006", "2006-01-02 15:04:05"}

// ParseDate accepts dd.mm.yyyy (optionally followed by "г" or "г."), ISO dates
// and Excel serial numbers. Empty input yields nil.
func ParseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSuffix(s, "."), "г"))
	if s == "" {
		return nil, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	if serial, err := strconv.ParseFloat(s, 64); err == nil && serial > 0 {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err == nil {
			d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return &d, nil
		}
	}
	return nil, fmt.Errorf("unrecognised date %q", s)
}

// Writer builds a single-sheet workbook row by row.
type Writer struct {
	f      *excelize.File
	sheet  string
	bold   int
	row    int
	widths map[int]float64
}

// NewWriter creates a workbook whose only sheet is named sheet.
func NewWriter(sheet string) (*Writer, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		f.Close()
		return nil, err
	}
	bold, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{WrapText: true, Vertical: "center"},
	})
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Writer{f: f, sheet: sheet, bold: bold, widths: map[int]float64{}}, nil
}

// Row returns the 1-based index of the last written row.
func (w *Writer) Row() int { return w.row }

// Skip leaves n empty rows.
func (w *Writer) Skip(n int) { w.row += n }

// Title writes a bold single-cell row.
func (w *Writer) Title(text string) error {
	w.row++
	cell, _ := excelize.CoordinatesToCellName(1, w.row)
	if err := w.f.SetCellValue(w.sheet, cell, text); err != nil {
		return err
	}
	return w.f.SetCellStyle(w.sheet, cell, cell, w.bold)
}

// Header writes a bold row of column titles.
func (w *Writer) Header(titles ...string) error {
	values := make([]interface{}, len(titles))
	for i, t := range titles {
		values[i] = t
	}
	if err := w.Append(values...); err != nil {
		return err
	}
	first, _ := excelize.CoordinatesToCellName(1, w.row)
	last, _ := excelize.CoordinatesToCellName(len(titles), w.row)
	return w.f.SetCellStyle(w.sheet, first, last, w.bold)
}

// Append writes values as the next row.
func (w *Writer) Append(values ...interface{}) error {
	w.row++
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, w.row)
		if err != nil {
			return err
		}
		if t, ok := v.(*time.Time); ok {
			if t == nil {
				v = ""
			} else {
				v = t.Format("02.01.2006")
			}
		}
		if err := w.f.SetCellValue(w.sheet, cell, v); err != nil {
			return err
		}
		w.track(i+1, fmt.Sprint(v))
	}
	return nil
}

func (w *Writer) track(col int, text string) {
	width := float64(len([]rune(text))) + 2
	if width > 50 {
		width = 50
	}
	if width > w.widths[col] {
		w.widths[col] = width
	}
}

// Bytes finalises column widths and serialises the workbook.
func (w *Writer) Bytes() ([]byte, error) {
	defer w.f.Close()
	for col, width := range w.widths {
		name, err := excelize.ColumnNumberToName(col)
		if err != nil {
			return nil, err
		}
		if err := w.f.SetColWidth(w.sheet, name, name, width); err != nil {
			return nil, err
		}
	}
	var buf bytes.Buffer
	if err := w.f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
