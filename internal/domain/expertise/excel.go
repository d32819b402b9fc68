package expertise

import (
	"time"

	"github.com/medcrm/medcrm/internal/platform/spreadsheet"
)

var verdictLabels = map[string]string{
	VerdictFit:            "Годен",
	VerdictTemporaryUnfit: "Временно не годен",
	VerdictPermanentUnfit: "Постоянно не годен",
}

func statRows(s Stats) [][]interface{} {
	return [][]interface{}{
		{"Всего осмотрено", s.TotalExamined},
		{"Здоровы", s.Healthy},
		{"Временные противопоказания", s.TemporaryContraindications},
		{"Постоянные противопоказания", s.PermanentContraindications},
		{"Выявлено профзаболеваний", s.OccupationalDiseases},
	}
}

func header(w *spreadsheet.Writer, title, subtitle, department string) error {
	if err := w.Title(title); err != nil {
		return err
	}
	if err := w.Append(subtitle); err != nil {
		return err
	}
	if err := w.Append("Дата формирования: " + time.Now().Format("02.01.2006 15:04")); err != nil {
		return err
	}
	if department != "" {
		if err := w.Append("Отдел: " + department); err != nil {
			return err
		}
	}
	w.Skip(1)
	if err := w.Header("Показатель", "Количество"); err != nil {
		return err
	}
	return nil
}

type deptStats struct {
	name      string
	total     int
	healthy   int
	temporary int
	permanent int
}

func summaryWorkbook(items []*Expertise, department string) ([]byte, error) {
	w, err := spreadsheet.NewWriter("Сводный отчет")
	if err != nil {
		return nil, err
	}
	if err := header(w, "СВОДНЫЙ ОТЧЕТ", "по результатам медицинских осмотров", department); err != nil {
		return nil, err
	}
	for _, row := range statRows(ComputeStats(items)) {
		if err := w.Append(row...); err != nil {
			return nil, err
		}
	}

	var depts []*deptStats
	index := map[string]*deptStats{}
	for _, e := range items {
		d, ok := index[e.Department]
		if !ok {
			d = &deptStats{name: e.Department}
			index[e.Department] = d
			depts = append(depts, d)
		}
		d.total++
		switch e.Verdict() {
		case VerdictFit:
			d.healthy++
		case VerdictTemporaryUnfit:
			d.temporary++
		case VerdictPermanentUnfit:
			d.permanent++
		}
	}
	w.Skip(1)
	if err := w.Title("Статистика по отделам"); err != nil {
		return nil, err
	}
	if err := w.Header("Отдел", "Всего", "Здоровы", "Временные", "Постоянные"); err != nil {
		return nil, err
	}
	for _, d := range depts {
		if err := w.Append(d.name, d.total, d.healthy, d.temporary, d.permanent); err != nil {
			return nil, err
		}
	}

	w.Skip(1)
	if err := w.Title("Результаты экспертизы"); err != nil {
		return nil, err
	}
	if err := w.Header("ФИО", "ИИН", "Должность", "Отдел", "Заключение", "Группа здоровья", "Дата заключения", "Причина"); err != nil {
		return nil, err
	}
	for _, e := range items {
		group := ""
		if e.HealthGroup != nil {
			group = *e.HealthGroup
		}
		verdictDate := ""
		if !e.VerdictDate.IsZero() {
			verdictDate = e.VerdictDate.Format("02.01.2006")
		}
		if err := w.Append(e.PatientName, e.IIN, e.Position, e.Department, verdictLabels[e.Verdict()], group, verdictDate, e.Reason); err != nil {
			return nil, err
		}
	}
	return w.Bytes()
}

func finalActWorkbook(items []*Expertise, department string) ([]byte, error) {
	w, err := spreadsheet.NewWriter("Заключительный акт")
	if err != nil {
		return nil, err
	}
	if err := header(w, "ЗАКЛЮЧИТЕЛЬНЫЙ АКТ", "по результатам обязательных медицинских осмотров", department); err != nil {
		return nil, err
	}
	for _, row := range statRows(ComputeStats(items)) {
		if err := w.Append(row...); err != nil {
			return nil, err
		}
	}

	w.Skip(1)
	if err := w.Title("Лица с противопоказаниями"); err != nil {
		return nil, err
	}
	if err := w.Header("ФИО", "Должность", "Отдел", "Заключение", "Рекомендации"); err != nil {
		return nil, err
	}
	for _, e := range items {
		if e.Verdict() == VerdictFit {
			continue
		}
		if err := w.Append(e.PatientName, e.Position, e.Department, verdictLabels[e.Verdict()], e.Recommendation()); err != nil {
			return nil, err
		}
	}

	w.Skip(2)
	if err := w.Title("Подписи:"); err != nil {
		return nil, err
	}
	for _, line := range []string{
		"Главный врач клиники: _________________",
		"Представитель работодателя: _________________",
		"Представитель СЭС: _________________",
	} {
		if err := w.Append(line); err != nil {
			return nil, err
		}
	}
	return w.Bytes()
}
