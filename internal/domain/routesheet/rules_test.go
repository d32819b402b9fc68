package routesheet

import (
	"reflect"
	"testing"

	"github.com/google/uuid"

	"github.com/medcrm/medcrm/internal/domain/doctor"
)

func TestSpecialists(t *testing.T) {
	rules := DefaultRules()
	tests := []struct {
		name     string
		position string
		factors  []string
		want     []string
	}{
		{"unknown position", "Инженер", nil, []string{"Терапевт"}},
		{"accountant", "Бухгалтер", nil, []string{"Терапевт", "Окулист", "Невропатолог"}},
		{"accountant vibration deduped", "Бухгалтер", []string{"Вибрация"}, []string{"Терапевт", "Окулист", "Невропатолог"}},
		{"dust adds two", "Инженер", []string{"Пыль угольная"}, []string{"Терапевт", "ЛОР", "Рентгенолог"}},
		{"driver chemicals", "Водитель", []string{"химические вещества"},
			[]string{"Профпатолог", "Окулист", "Невропатолог", "Терапевт"}},
		{"welder noise", "Сварщик", []string{"шум"},
			[]string{"Профпатолог", "ЛОР", "Окулист", "Хирург", "Невропатолог", "Терапевт", "Рентгенолог"}},
		{"factor order kept", "Инженер", []string{"высотные работы", "излучение"},
			[]string{"Терапевт", "Невропатолог", "Окулист", "Рентгенолог"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rules.Specialists(tt.position, tt.factors)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Specialists(%q, %v) = %v, want %v", tt.position, tt.factors, got, tt.want)
			}
		})
	}
}

func TestGenerateServices(t *testing.T) {
	rules := DefaultRules()
	cabinet := "12"
	okulist := &doctor.Doctor{ID: uuid.New(), Specialization: "Окулист", Cabinet: &cabinet}
	pick := func(spec string) *doctor.Doctor {
		if spec == "Окулист" {
			return okulist
		}
		return nil
	}

	services := rules.GenerateServices("Бухгалтер", nil, pick)
	if len(services) != 3 {
		t.Fatalf("expected 3 services, got %d", len(services))
	}
	wantTimes := []string{"09:00", "09:15", "09:30"}
	for i, svc := range services {
		if svc.ID != []string{"0", "1", "2"}[i] {
			t.Errorf("service %d id = %q", i, svc.ID)
		}
		if svc.Time != wantTimes[i] {
			t.Errorf("service %d time = %q, want %q", i, svc.Time, wantTimes[i])
		}
		if svc.Status != ServicePending {
			t.Errorf("service %d status = %q", i, svc.Status)
		}
	}
	if services[0].Cabinet != NoCabinet || services[0].DoctorID != "" {
		t.Errorf("unassigned service should have no cabinet or doctor: %+v", services[0])
	}
	if services[1].Cabinet != "12" || services[1].DoctorID != okulist.ID.String() {
		t.Errorf("assigned service should carry the doctor: %+v", services[1])
	}
}

func TestGenerateServices_Fallback(t *testing.T) {
	rules := &Rules{FallbackSpecialist: "Терапевт"}
	services := rules.GenerateServices("", nil, func(string) *doctor.Doctor { return nil })
	if len(services) != 1 || services[0].Specialization != "Терапевт" || services[0].Time != "09:00" {
		t.Errorf("unexpected fallback services %+v", services)
	}
}

func names(specs []TestSpec) []string {
	out := make([]string, 0, len(specs))
	for _, s := range specs {
		out = append(out, s.Name)
	}
	return out
}

func TestRequiredTests(t *testing.T) {
	rules := DefaultRules()
	tests := []struct {
		name       string
		position   string
		factors    []string
		lab        []string
		functional []string
	}{
		{"base only", "Бухгалтер", nil, []string{"ОАК", "ОАМ"}, []string{}},
		{"welder", "Сварщик", nil, []string{"ОАК", "ОАМ", "Биохимия", "Тяжелые металлы"}, []string{"Флюорография"}},
		{"driver", "Водитель", nil, []string{"ОАК", "ОАМ", "Алкоголь/наркотики"}, []string{"Электрокардиограмма"}},
		{"noise vibration dust", "Токарь", []string{"Шум", "вибрация", "пыль"},
			[]string{"ОАК", "ОАМ", "Мокрота"}, []string{"Проверка слуха", "Функция дыхания"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lab, functional := rules.RequiredTests(tt.position, tt.factors)
			if got := names(lab); !reflect.DeepEqual(got, tt.lab) {
				t.Errorf("lab = %v, want %v", got, tt.lab)
			}
			if got := names(functional); !reflect.DeepEqual(got, tt.functional) {
				t.Errorf("functional = %v, want %v", got, tt.functional)
			}
		})
	}
}

func TestParseRules_RequiresFallback(t *testing.T) {
	if _, err := ParseRules([]byte("default_specialists: [Терапевт]\n")); err == nil {
		t.Error("expected error without fallback_specialist")
	}
}
