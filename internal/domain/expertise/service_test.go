package expertise

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medcrm/medcrm/internal/domain/identity"
	"github.com/medcrm/medcrm/internal/domain/referral"
	"github.com/medcrm/medcrm/internal/domain/routesheet"
	"github.com/medcrm/medcrm/internal/platform/apperr"
	"github.com/medcrm/medcrm/internal/platform/db"
	"github.com/medcrm/medcrm/internal/platform/spreadsheet"
	"github.com/medcrm/medcrm/pkg/dateonly"
)

// -- Mocks --

type mockUsers map[uuid.UUID]*identity.User

func (m mockUsers) GetByID(_ context.Context, id uuid.UUID) (*identity.User, error) {
	u, ok := m[id]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	return u, nil
}

type mockRepo struct {
	items map[uuid.UUID]*Expertise
}

func (m *mockRepo) Create(_ context.Context, e *Expertise) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	m.items[e.ID] = e
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Expertise, error) {
	e, ok := m.items[id]
	if !ok {
		return nil, ErrExpertiseNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *mockRepo) Update(_ context.Context, e *Expertise) error {
	m.items[e.ID] = e
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(m.items, id)
	return nil
}

func (m *mockRepo) List(ctx context.Context, f Filter, _, _ int) ([]*Expertise, int, error) {
	items, err := m.Find(ctx, f)
	return items, len(items), err
}

func (m *mockRepo) Find(_ context.Context, f Filter) ([]*Expertise, error) {
	var out []*Expertise
	for _, e := range m.items {
		if e.ClinicID != f.ClinicID || (f.Department != "" && e.Department != f.Department) {
			continue
		}
		if f.WithVerdict && e.FinalVerdict == nil {
			continue
		}
		if f.NonFit && (e.Verdict() == VerdictFit || e.FinalVerdict == nil) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *mockRepo) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*Expertise, error) {
	var out []*Expertise
	for _, e := range m.items {
		if e.PatientID == patientID {
			out = append(out, e)
		}
	}
	return out, nil
}

type mockSheets struct {
	sheets     map[uuid.UUID]*routesheet.RouteSheet
	lab        []*routesheet.Test
	functional []*routesheet.Test
}

func (m *mockSheets) Sheet(_ context.Context, id uuid.UUID) (*routesheet.RouteSheet, error) {
	s, ok := m.sheets[id]
	if !ok {
		return nil, routesheet.ErrRouteSheetNotFound
	}
	return s, nil
}

func (m *mockSheets) PatientSheets(_ context.Context, patientID uuid.UUID) ([]*routesheet.RouteSheet, error) {
	var out []*routesheet.RouteSheet
	for _, s := range m.sheets {
		if s.PatientID == patientID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockSheets) SheetTests(_ context.Context, id uuid.UUID) ([]*routesheet.Test, []*routesheet.Test, error) {
	pick := func(tests []*routesheet.Test) []*routesheet.Test {
		var out []*routesheet.Test
		for _, t := range tests {
			if t.RouteSheetID != nil && *t.RouteSheetID == id {
				out = append(out, t)
			}
		}
		return out
	}
	return pick(m.lab), pick(m.functional), nil
}

type mockReferrals struct {
	issued []*referral.Referral
}

func (m *mockReferrals) FindActive(_ context.Context, patientID uuid.UUID, referralType string) (*referral.Referral, error) {
	for _, r := range m.issued {
		if r.PatientID == patientID && r.ReferralType == referralType && r.Active() {
			return r, nil
		}
	}
	return nil, nil
}

func (m *mockReferrals) Issue(_ context.Context, r *referral.Referral) error {
	r.ID = uuid.New()
	r.Status = referral.StatusCreated
	m.issued = append(m.issued, r)
	return nil
}

type testEnv struct {
	svc       *Service
	repo      *mockRepo
	sheets    *mockSheets
	referrals *mockReferrals
	clinic    uuid.UUID
	employer  uuid.UUID
}

var today = dateonly.MustParse("2026-03-10")

func newEnv() *testEnv {
	clinic := &identity.User{ID: uuid.New(), Role: identity.RoleClinic}
	employer := &identity.User{ID: uuid.New(), Role: identity.RoleEmployer}
	env := &testEnv{
		repo:      &mockRepo{items: map[uuid.UUID]*Expertise{}},
		sheets:    &mockSheets{sheets: map[uuid.UUID]*routesheet.RouteSheet{}},
		referrals: &mockReferrals{},
		clinic:    clinic.ID,
		employer:  employer.ID,
	}
	env.svc = NewService(env.repo, env.sheets, env.referrals,
		mockUsers{clinic.ID: clinic, employer.ID: employer}, db.NoopTxRunner{}, zerolog.Nop())
	env.svc.today = func() dateonly.Date { return today }
	return env
}

func (env *testEnv) sheet(patientID uuid.UUID, statuses ...string) *routesheet.RouteSheet {
	s := &routesheet.RouteSheet{ID: uuid.New(), ClinicID: env.clinic, PatientID: patientID}
	for i, st := range statuses {
		s.Services = append(s.Services, routesheet.Visit{ID: uuid.NewString(), Name: string(rune('A' + i)), Status: st})
	}
	env.sheets.sheets[s.ID] = s
	return s
}

func strp(s string) *string { return &s }

// -- Tests --

func TestAssignHealthGroup(t *testing.T) {
	tests := []struct {
		name        string
		verdict     string
		conclusions []Conclusion
		reason      string
		want        string
	}{
		{"no verdict", "", nil, "", ""},
		{"fit healthy", VerdictFit, []Conclusion{{Conclusion: ConclusionHealthy}}, "", "1"},
		{"fit with pathology", VerdictFit, []Conclusion{{Conclusion: ConclusionUnhealthy}}, "", "2"},
		{"temporary with harmful factor", VerdictTemporaryUnfit, []Conclusion{{Notes: "Признаки ВПФ"}}, "", "3"},
		{"temporary with phrase", VerdictTemporaryUnfit, []Conclusion{{Notes: "воздействие: вредный фактор"}}, "", "3"},
		{"temporary plain", VerdictTemporaryUnfit, []Conclusion{{Notes: "ОРВИ"}}, "", "4"},
		{"permanent rehab", VerdictPermanentUnfit, nil, "Нужна Реабилитация", "6"},
		{"permanent profpathology", VerdictPermanentUnfit, nil, "к профпатологу", "6"},
		{"permanent", VerdictPermanentUnfit, nil, "", "5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Expertise{DoctorConclusions: tt.conclusions, Reason: tt.reason}
			if tt.verdict != "" {
				e.FinalVerdict = strp(tt.verdict)
			}
			if got := AssignHealthGroup(e); got != tt.want {
				t.Errorf("AssignHealthGroup = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReferralTypeFor(t *testing.T) {
	want := map[string]string{
		"1": "", "3": "",
		"4": referral.TypeProfpathology,
		"5": referral.TypeSpecialist,
		"6": referral.TypeRehabilitation,
	}
	for group, typ := range want {
		if got := ReferralTypeFor(group); got != typ {
			t.Errorf("ReferralTypeFor(%s) = %q, want %q", group, got, typ)
		}
	}
}

func TestCheckCompleteness(t *testing.T) {
	env := newEnv()
	ctx := context.Background()
	patient := uuid.New()

	errs, err := env.svc.CheckCompleteness(ctx, patient, nil)
	if err != nil || len(errs) != 1 || errs[0] != msgSheetMissing {
		t.Fatalf("no sheet: got %v, %v", errs, err)
	}
	missing := uuid.New()
	if errs, _ := env.svc.CheckCompleteness(ctx, patient, &missing); len(errs) != 1 || errs[0] != msgSheetMissing {
		t.Errorf("unknown sheet: got %v", errs)
	}

	s := env.sheet(patient, routesheet.ServiceCompleted, routesheet.ServicePending, routesheet.ServicePending)
	env.sheets.lab = []*routesheet.Test{
		{RouteSheetID: &s.ID, PatientID: patient, Status: routesheet.TestInProgress},
		{RouteSheetID: &s.ID, PatientID: patient, Status: routesheet.TestCompleted},
	}
	env.sheets.functional = []*routesheet.Test{
		{RouteSheetID: &s.ID, PatientID: uuid.New(), Status: routesheet.TestPending},
	}
	errs, err = env.svc.CheckCompleteness(ctx, patient, &s.ID)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"Не все врачи завершили осмотр. Осталось: 2",
		"Не все лабораторные исследования завершены. Осталось: 1",
	}
	if strings.Join(errs, "|") != strings.Join(want, "|") {
		t.Errorf("got %v, want %v", errs, want)
	}

	res, err := env.svc.CheckReadiness(ctx, patient, &s.ID)
	if err != nil || res.IsReady {
		t.Errorf("expected not ready, got %+v, %v", res, err)
	}
	if _, err := env.svc.CheckReadiness(ctx, uuid.Nil, nil); !errors.Is(err, ErrPatientRequired) {
		t.Errorf("expected ErrPatientRequired, got %v", err)
	}
}

func TestCreate(t *testing.T) {
	env := newEnv()
	ctx := context.Background()
	patient := uuid.New()

	s := env.sheet(patient, routesheet.ServicePending)
	_, err := env.svc.Create(ctx, env.clinic, Input{PatientID: patient, PatientName: "Иванов", RouteSheetID: &s.ID})
	if apperr.Status(err) != http.StatusBadRequest || !strings.Contains(err.Error(), "Осталось: 1") {
		t.Fatalf("expected incomplete error, got %v", err)
	}

	s.Services[0].Status = routesheet.ServiceCompleted
	e, err := env.svc.Create(ctx, env.clinic, Input{PatientID: patient, PatientName: "Иванов", RouteSheetID: &s.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.ClinicID != env.clinic || e.DoctorConclusions == nil {
		t.Errorf("unexpected expertise %+v", e)
	}

	if _, err := env.svc.Create(ctx, env.employer, Input{PatientID: patient}); !errors.Is(err, ErrClinicOnly) {
		t.Errorf("expected ErrClinicOnly, got %v", err)
	}
	if _, err := env.svc.Get(ctx, env.employer, e.ID); !errors.Is(err, ErrExpertiseNotFound) {
		t.Errorf("other account must not see the expertise, got %v", err)
	}
}

func TestUpdate_VerdictCascade(t *testing.T) {
	env := newEnv()
	ctx := context.Background()
	patient := uuid.New()
	env.sheet(patient, routesheet.ServiceCompleted)

	e, err := env.svc.Create(ctx, env.clinic, Input{PatientID: patient, PatientName: "Петров"})
	if err != nil {
		t.Fatal(err)
	}

	in := Input{PatientID: patient, PatientName: "Петров", FinalVerdict: strp(VerdictPermanentUnfit)}
	got, err := env.svc.Update(ctx, env.clinic, e.ID, in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.HealthGroup == nil || *got.HealthGroup != "5" {
		t.Fatalf("expected group 5, got %v", got.HealthGroup)
	}
	if got.VerdictDate != today || !got.RequiresReferral || got.ReferralType != referral.TypeSpecialist {
		t.Errorf("unexpected cascade state %+v", got)
	}
	if !got.ReferralSent || got.ReferralDate != today {
		t.Errorf("expected referral to be marked sent")
	}
	if len(env.referrals.issued) != 1 {
		t.Fatalf("expected 1 referral, got %d", len(env.referrals.issued))
	}
	r := env.referrals.issued[0]
	if r.Reason != "Требуется направление согласно группе здоровья 5" || r.ExpertiseID == nil || *r.ExpertiseID != e.ID {
		t.Errorf("unexpected referral %+v", r)
	}

	// A second save keeps the sent flag and issues nothing new.
	in.HealthGroup = strp("5")
	if _, err := env.svc.Update(ctx, env.clinic, e.ID, in); err != nil {
		t.Fatal(err)
	}
	if len(env.referrals.issued) != 1 {
		t.Errorf("expected no duplicate referral, got %d", len(env.referrals.issued))
	}
}

func TestUpdate_ActiveReferralExists(t *testing.T) {
	env := newEnv()
	ctx := context.Background()
	patient := uuid.New()
	env.sheet(patient, routesheet.ServiceCompleted)
	env.referrals.issued = append(env.referrals.issued, &referral.Referral{
		PatientID: patient, ReferralType: referral.TypeProfpathology, Status: referral.StatusSent,
	})

	e, err := env.svc.Create(ctx, env.clinic, Input{PatientID: patient, PatientName: "Сидоров"})
	if err != nil {
		t.Fatal(err)
	}
	got, err := env.svc.Update(ctx, env.clinic, e.ID, Input{
		PatientID: patient, PatientName: "Сидоров", FinalVerdict: strp(VerdictTemporaryUnfit),
	})
	if err != nil {
		t.Fatal(err)
	}
	if *got.HealthGroup != "4" || got.ReferralType != referral.TypeProfpathology {
		t.Errorf("unexpected group/type %v %q", *got.HealthGroup, got.ReferralType)
	}
	if got.ReferralSent || len(env.referrals.issued) != 1 {
		t.Errorf("expected the active referral to be reused")
	}
}

func TestUpdate_Validation(t *testing.T) {
	env := newEnv()
	ctx := context.Background()
	patient := uuid.New()
	env.sheet(patient, routesheet.ServiceCompleted)
	e, err := env.svc.Create(ctx, env.clinic, Input{PatientID: patient, PatientName: "X"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.svc.Update(ctx, env.clinic, e.ID, Input{PatientID: patient, FinalVerdict: strp("ok")}); !errors.Is(err, ErrInvalidVerdict) {
		t.Errorf("expected ErrInvalidVerdict, got %v", err)
	}
	if _, err := env.svc.Update(ctx, env.clinic, e.ID, Input{PatientID: patient, HealthGroup: strp("7")}); !errors.Is(err, ErrInvalidGroup) {
		t.Errorf("expected ErrInvalidGroup, got %v", err)
	}
}

func seedVerdicts(env *testEnv) {
	add := func(dept, verdict string, conclusions []Conclusion, reason string) {
		e := &Expertise{ID: uuid.New(), ClinicID: env.clinic, PatientID: uuid.New(), PatientName: "P " + verdict,
			Department: dept, DoctorConclusions: conclusions, Reason: reason}
		if verdict != "" {
			e.FinalVerdict = strp(verdict)
		}
		env.repo.items[e.ID] = e
	}
	add("Цех", VerdictFit, nil, "")
	add("Цех", VerdictTemporaryUnfit, []Conclusion{{Conclusion: ConclusionUnhealthy, Notes: "Профзаболевание: тугоухость"}}, "")
	add("Офис", VerdictPermanentUnfit, []Conclusion{{Recommendations: "Лечение у кардиолога"}}, "")
	add("Офис", VerdictTemporaryUnfit, nil, "")
	add("Офис", "", nil, "")
}

func TestFinalActStats(t *testing.T) {
	env := newEnv()
	seedVerdicts(env)
	ctx := context.Background()

	stats, err := env.svc.FinalActStats(ctx, env.clinic, "")
	if err != nil {
		t.Fatal(err)
	}
	want := Stats{TotalExamined: 4, Healthy: 1, TemporaryContraindications: 2, PermanentContraindications: 1, OccupationalDiseases: 1}
	if stats != want {
		t.Errorf("got %+v, want %+v", stats, want)
	}

	stats, _ = env.svc.FinalActStats(ctx, env.clinic, "Офис")
	if stats.TotalExamined != 2 || stats.Healthy != 0 {
		t.Errorf("department filter: got %+v", stats)
	}
}

func TestHealthPlanItems(t *testing.T) {
	env := newEnv()
	seedVerdicts(env)

	items, err := env.svc.HealthPlanItems(context.Background(), env.clinic, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 non-fit items, got %d", len(items))
	}
	recs := map[string]bool{}
	for _, it := range items {
		recs[it.Recommendation] = true
	}
	for _, want := range []string{"Профзаболевание: тугоухость", "Лечение у кардиолога", "Требуется дополнительное обследование"} {
		if !recs[want] {
			t.Errorf("missing recommendation %q in %v", want, recs)
		}
	}
}

func TestExports(t *testing.T) {
	env := newEnv()
	seedVerdicts(env)
	ctx := context.Background()

	data, err := env.svc.SummaryReport(ctx, env.clinic, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	rows, err := spreadsheet.ReadFirstSheet(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) == 0 || rows[0][0] != "СВОДНЫЙ ОТЧЕТ" {
		t.Errorf("unexpected first row %v", rows)
	}

	data, err = env.svc.FinalAct(ctx, env.clinic, "")
	if err != nil {
		t.Fatal(err)
	}
	rows, err = spreadsheet.ReadFirstSheet(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if rows[0][0] != "ЗАКЛЮЧИТЕЛЬНЫЙ АКТ" {
		t.Errorf("unexpected first row %v", rows[0])
	}
}
