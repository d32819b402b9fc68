package routesheet

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/medcrm/medcrm/internal/domain/contingent"
	"github.com/medcrm/medcrm/internal/domain/doctor"
	"github.com/medcrm/medcrm/internal/domain/identity"
	"github.com/medcrm/medcrm/internal/platform/apperr"
	"github.com/medcrm/medcrm/internal/platform/db"
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

func (m mockUsers) add(role, clinicRole string) *identity.User {
	u := &identity.User{ID: uuid.New(), Role: role}
	if clinicRole != "" {
		u.ClinicRole = &clinicRole
	}
	m[u.ID] = u
	return u
}

type mockEmployees map[uuid.UUID]*contingent.Employee

func (m mockEmployees) Employee(_ context.Context, id uuid.UUID) (*contingent.Employee, error) {
	e, ok := m[id]
	if !ok {
		return nil, contingent.ErrEmployeeNotFound
	}
	return e, nil
}

func (m mockEmployees) Locate(_ context.Context, actor *identity.User, c contingent.Criteria) (*contingent.Employee, error) {
	for _, e := range m {
		if e.IIN == c.IIN && (e.OwnerID == actor.ID || actor.IsClinic()) {
			return e, nil
		}
	}
	return nil, contingent.ErrNotInRegistry
}

type mockDoctors []*doctor.Doctor

func (m mockDoctors) FirstBySpecialization(_ context.Context, clinicID uuid.UUID, spec string) (*doctor.Doctor, error) {
	for _, d := range m {
		if d.ClinicID == clinicID && d.Specialization == spec {
			return d, nil
		}
	}
	return nil, nil
}

func (m mockDoctors) ForClinicUser(_ context.Context, clinicID uuid.UUID) (*doctor.Doctor, error) {
	for _, d := range m {
		if d.ClinicID == clinicID {
			return d, nil
		}
	}
	return nil, doctor.ErrDoctorNotFound
}

// mockPlans maps employee ids to the clinic whose approved plan covers them
// on covered.
type mockPlans struct {
	covered dateonly.Date
	clinics map[uuid.UUID]uuid.UUID
}

func (m *mockPlans) CoveringClinic(_ context.Context, clinicID *uuid.UUID, employeeID uuid.UUID, date dateonly.Date) (uuid.UUID, error) {
	c, ok := m.clinics[employeeID]
	if !ok || date != m.covered || (clinicID != nil && *clinicID != c) {
		return uuid.Nil, nil
	}
	return c, nil
}

type mockSheetRepo struct {
	items map[uuid.UUID]*RouteSheet
}

func (m *mockSheetRepo) Create(_ context.Context, s *RouteSheet) error {
	for _, o := range m.items {
		if o.ClinicID == s.ClinicID && o.PatientID == s.PatientID && o.VisitDate == s.VisitDate {
			return &pgconn.PgError{Code: "23505"}
		}
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.CreatedAt = time.Now()
	m.items[s.ID] = s
	return nil
}

func (m *mockSheetRepo) GetByID(_ context.Context, id uuid.UUID) (*RouteSheet, error) {
	s, ok := m.items[id]
	if !ok {
		return nil, ErrRouteSheetNotFound
	}
	return s, nil
}

func (m *mockSheetRepo) UpdateServices(_ context.Context, s *RouteSheet) error {
	if _, ok := m.items[s.ID]; !ok {
		return ErrRouteSheetNotFound
	}
	m.items[s.ID] = s
	return nil
}

func (m *mockSheetRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(m.items, id)
	return nil
}

func (m *mockSheetRepo) List(_ context.Context, f Filter, limit, offset int) ([]*RouteSheet, int, error) {
	var out []*RouteSheet
	for _, s := range m.items {
		if f.ClinicID != nil && s.ClinicID != *f.ClinicID {
			continue
		}
		if f.PatientID != nil && s.PatientID != *f.PatientID {
			continue
		}
		out = append(out, s)
	}
	return out, len(out), nil
}

func (m *mockSheetRepo) FindByPatientDate(_ context.Context, clinicID, patientID uuid.UUID, d dateonly.Date) (*RouteSheet, error) {
	for _, s := range m.items {
		if s.ClinicID == clinicID && s.PatientID == patientID && s.VisitDate == d {
			return s, nil
		}
	}
	return nil, ErrRouteSheetNotFound
}

func (m *mockSheetRepo) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*RouteSheet, error) {
	var out []*RouteSheet
	for _, s := range m.items {
		if s.PatientID == patientID {
			out = append(out, s)
		}
	}
	return out, nil
}

type mockTestRepo struct {
	items map[uuid.UUID]*Test
}

func (m *mockTestRepo) Create(_ context.Context, t *Test) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	m.items[t.ID] = t
	return nil
}

func (m *mockTestRepo) GetByID(_ context.Context, id uuid.UUID) (*Test, error) {
	t, ok := m.items[id]
	if !ok {
		return nil, ErrTestNotFound
	}
	return t, nil
}

func (m *mockTestRepo) Update(_ context.Context, t *Test) error {
	m.items[t.ID] = t
	return nil
}

func (m *mockTestRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(m.items, id)
	return nil
}

func (m *mockTestRepo) List(_ context.Context, f TestFilter, limit, offset int) ([]*Test, int, error) {
	var out []*Test
	for _, t := range m.items {
		if f.RouteSheetID != nil && (t.RouteSheetID == nil || *t.RouteSheetID != *f.RouteSheetID) {
			continue
		}
		out = append(out, t)
	}
	return out, len(out), nil
}

func (m *mockTestRepo) ListBySheet(_ context.Context, id uuid.UUID) ([]*Test, error) {
	out, _, err := m.List(context.Background(), TestFilter{RouteSheetID: &id}, 0, 0)
	return out, err
}

type testEnv struct {
	svc        *Service
	users      mockUsers
	employees  mockEmployees
	doctors    *mockDoctors
	plans      *mockPlans
	sheets     *mockSheetRepo
	lab        *mockTestRepo
	functional *mockTestRepo
}

var visitDay = dateonly.MustParse("2026-03-02")

func newTestEnv() *testEnv {
	env := &testEnv{
		users:      mockUsers{},
		employees:  mockEmployees{},
		doctors:    &mockDoctors{},
		plans:      &mockPlans{covered: visitDay, clinics: map[uuid.UUID]uuid.UUID{}},
		sheets:     &mockSheetRepo{items: map[uuid.UUID]*RouteSheet{}},
		lab:        &mockTestRepo{items: map[uuid.UUID]*Test{}},
		functional: &mockTestRepo{items: map[uuid.UUID]*Test{}},
	}
	env.svc = NewService(env.sheets, env.lab, env.functional, env.employees, env.doctors, env.plans, env.users,
		db.NoopTxRunner{}, nil, "https://crm.example.kz/", zerolog.Nop())
	return env
}

func (env *testEnv) employee(owner *identity.User, iin, position string, factors ...string) *contingent.Employee {
	e := &contingent.Employee{
		ID: uuid.New(), OwnerID: owner.ID, Name: "Сотрудник " + iin, IIN: iin,
		Position: position, Department: "Цех", HarmfulFactors: factors,
	}
	env.employees[e.ID] = e
	return e
}

func (env *testEnv) addDoctor(clinic *identity.User, spec string) *doctor.Doctor {
	d := &doctor.Doctor{ID: uuid.New(), ClinicID: clinic.ID, Name: "Dr " + spec, Specialization: spec}
	*env.doctors = append(*env.doctors, d)
	return d
}

func wantStatus(t *testing.T, err error, status int) {
	t.Helper()
	if got := apperr.Status(err); got != status {
		t.Fatalf("expected status %d, got %d (%v)", status, got, err)
	}
}

// -- Tests --

func TestGenerate_CreatesSheetAndTests(t *testing.T) {
	env := newTestEnv()
	clinic := env.users.add(identity.RoleClinic, "manager")
	employer := env.users.add(identity.RoleEmployer, "")
	e := env.employee(employer, "900101300123", "Сварщик", "шум")
	lor := env.addDoctor(clinic, "ЛОР")

	sheet, created, err := env.svc.Generate(context.Background(), clinic.ID, e, visitDay)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !created {
		t.Error("expected created")
	}
	if len(sheet.Services) != 7 {
		t.Errorf("expected 7 services, got %d", len(sheet.Services))
	}
	if svc := sheet.Service("1"); svc == nil || svc.DoctorID != lor.ID.String() {
		t.Errorf("ЛОР service should be assigned: %+v", svc)
	}
	if len(env.lab.items) != 4 {
		t.Errorf("expected 4 lab tests, got %d", len(env.lab.items))
	}
	if len(env.functional.items) != 2 {
		t.Errorf("expected 2 functional tests, got %d", len(env.functional.items))
	}
	for _, test := range env.lab.items {
		if test.RouteSheetID == nil || *test.RouteSheetID != sheet.ID || test.Status != TestPending {
			t.Errorf("unexpected lab test %+v", test)
		}
	}

	again, created, err := env.svc.Generate(context.Background(), clinic.ID, e, visitDay)
	if err != nil {
		t.Fatalf("Generate again: %v", err)
	}
	if created || again.ID != sheet.ID {
		t.Error("second Generate should return the existing sheet")
	}
	if len(env.sheets.items) != 1 || len(env.lab.items) != 4 {
		t.Error("second Generate must not create anything")
	}
}

func TestCreateByIIN(t *testing.T) {
	env := newTestEnv()
	clinic := env.users.add(identity.RoleClinic, "receptionist")
	employer := env.users.add(identity.RoleEmployer, "")
	e := env.employee(employer, "900101300123", "Бухгалтер")
	ctx := context.Background()
	day := visitDay

	_, _, err := env.svc.CreateByIIN(ctx, clinic, CreateByIINInput{IIN: e.IIN})
	if !errors.Is(err, ErrVisitDateRequired) {
		t.Fatalf("expected ErrVisitDateRequired, got %v", err)
	}
	_, _, err = env.svc.CreateByIIN(ctx, clinic, CreateByIINInput{VisitDate: &day})
	if !errors.Is(err, ErrCriteriaRequired) {
		t.Fatalf("expected ErrCriteriaRequired, got %v", err)
	}
	_, _, err = env.svc.CreateByIIN(ctx, clinic, CreateByIINInput{IIN: e.IIN, VisitDate: &day})
	if !errors.Is(err, ErrNoApprovedPlan) {
		t.Fatalf("expected ErrNoApprovedPlan, got %v", err)
	}

	env.plans.clinics[e.ID] = clinic.ID
	sheet, created, err := env.svc.CreateByIIN(ctx, clinic, CreateByIINInput{IIN: e.IIN, VisitDate: &day})
	if err != nil || !created {
		t.Fatalf("CreateByIIN: created=%v err=%v", created, err)
	}
	if sheet.ClinicID != clinic.ID || sheet.PatientID != e.ID || sheet.IIN != e.IIN {
		t.Errorf("unexpected sheet %+v", sheet)
	}

	_, created, err = env.svc.CreateByIIN(ctx, clinic, CreateByIINInput{IIN: e.IIN, VisitDate: &day})
	if err != nil || created {
		t.Fatalf("repeat should return existing sheet: created=%v err=%v", created, err)
	}

	other := visitDay.AddDays(1)
	_, _, err = env.svc.CreateByIIN(ctx, clinic, CreateByIINInput{IIN: e.IIN, VisitDate: &other})
	if !errors.Is(err, ErrNoApprovedPlan) {
		t.Fatalf("uncovered day: expected ErrNoApprovedPlan, got %v", err)
	}
}

func TestCreateByIIN_EmployerUsesPlanClinic(t *testing.T) {
	env := newTestEnv()
	clinic := env.users.add(identity.RoleClinic, "manager")
	employer := env.users.add(identity.RoleEmployer, "")
	e := env.employee(employer, "900101300123", "Водитель")
	env.plans.clinics[e.ID] = clinic.ID
	day := visitDay

	sheet, created, err := env.svc.CreateByIIN(context.Background(), employer, CreateByIINInput{IIN: e.IIN, VisitDate: &day})
	if err != nil || !created {
		t.Fatalf("CreateByIIN: created=%v err=%v", created, err)
	}
	if sheet.ClinicID != clinic.ID {
		t.Errorf("sheet should belong to the plan clinic, got %s", sheet.ClinicID)
	}

	otherClinic := env.users.add(identity.RoleClinic, "manager")
	_, _, err = env.svc.CreateByIIN(context.Background(), otherClinic, CreateByIINInput{IIN: e.IIN, VisitDate: &day})
	if !errors.Is(err, ErrNoApprovedPlan) {
		t.Fatalf("foreign clinic: expected ErrNoApprovedPlan, got %v", err)
	}
}

func TestCreate_ClinicOnly(t *testing.T) {
	env := newTestEnv()
	employer := env.users.add(identity.RoleEmployer, "")
	e := env.employee(employer, "900101300123", "Бухгалтер")
	day := visitDay
	_, _, err := env.svc.Create(context.Background(), employer, CreateInput{PatientID: &e.ID, VisitDate: &day})
	wantStatus(t, err, http.StatusForbidden)
}

func TestVisibility(t *testing.T) {
	env := newTestEnv()
	clinic := env.users.add(identity.RoleClinic, "manager")
	employer := env.users.add(identity.RoleEmployer, "")
	stranger := env.users.add(identity.RoleEmployer, "")
	otherClinic := env.users.add(identity.RoleClinic, "manager")
	e := env.employee(employer, "900101300123", "Бухгалтер")
	sheet, _, err := env.svc.Generate(context.Background(), clinic.ID, e, visitDay)
	if err != nil {
		t.Fatal(err)
	}

	for _, u := range []*identity.User{clinic, employer} {
		if _, err := env.svc.Get(context.Background(), u, sheet.ID); err != nil {
			t.Errorf("%s should see the sheet: %v", u.Role, err)
		}
	}
	for _, u := range []*identity.User{stranger, otherClinic} {
		if _, err := env.svc.Get(context.Background(), u, sheet.ID); !errors.Is(err, ErrRouteSheetNotFound) {
			t.Errorf("expected not found, got %v", err)
		}
	}
	if err := env.svc.Delete(context.Background(), employer, sheet.ID); !errors.Is(err, ErrRouteSheetNotFound) {
		t.Errorf("employer must not delete: %v", err)
	}
	if err := env.svc.Delete(context.Background(), clinic, sheet.ID); err != nil {
		t.Errorf("clinic delete: %v", err)
	}
}

func TestUpdateServiceStatus(t *testing.T) {
	env := newTestEnv()
	clinic := env.users.add(identity.RoleClinic, "doctor")
	employer := env.users.add(identity.RoleEmployer, "")
	e := env.employee(employer, "900101300123", "Бухгалтер")
	sheet, _, err := env.svc.Generate(context.Background(), clinic.ID, e, visitDay)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	_, err = env.svc.UpdateServiceStatus(ctx, clinic, sheet.ID, "0", "done")
	wantStatus(t, err, http.StatusBadRequest)
	_, err = env.svc.UpdateServiceStatus(ctx, clinic, sheet.ID, "99", ServiceCompleted)
	wantStatus(t, err, http.StatusNotFound)

	_, err = env.svc.UpdateServiceStatus(ctx, clinic, sheet.ID, "0", ServiceCompleted)
	if !errors.Is(err, ErrDoctorProfile) {
		t.Fatalf("expected ErrDoctorProfile, got %v", err)
	}

	env.addDoctor(clinic, "Окулист")
	_, err = env.svc.UpdateServiceStatus(ctx, clinic, sheet.ID, "0", ServiceCompleted)
	wantStatus(t, err, http.StatusForbidden)
	if !strings.Contains(err.Error(), "(Окулист). Данная услуга: Терапевт") {
		t.Errorf("unexpected message %q", err.Error())
	}

	updated, err := env.svc.UpdateServiceStatus(ctx, clinic, sheet.ID, "1", ServiceCompleted)
	if err != nil {
		t.Fatalf("UpdateServiceStatus: %v", err)
	}
	if updated.Service("1").Status != ServiceCompleted || updated.CompletedServices() != 1 {
		t.Errorf("service not completed: %+v", updated.Services)
	}
}

func TestUpdateServiceStatus_RoleGate(t *testing.T) {
	env := newTestEnv()
	manager := env.users.add(identity.RoleClinic, "manager")
	employer := env.users.add(identity.RoleEmployer, "")
	e := env.employee(employer, "900101300123", "Бухгалтер")
	sheet, _, err := env.svc.Generate(context.Background(), manager.ID, e, visitDay)
	if err != nil {
		t.Fatal(err)
	}
	for _, u := range []*identity.User{manager, employer} {
		_, err := env.svc.UpdateServiceStatus(context.Background(), u, sheet.ID, "0", ServiceCompleted)
		if !errors.Is(err, ErrOnlyDoctor) {
			t.Errorf("%s: expected ErrOnlyDoctor, got %v", u.Role, err)
		}
	}

	pp := "profpathologist"
	manager.ClinicRole = &pp
	if _, err := env.svc.UpdateServiceStatus(context.Background(), manager, sheet.ID, "0", ServiceCompleted); err != nil {
		t.Errorf("profpathologist should be allowed: %v", err)
	}
}

func TestPayload(t *testing.T) {
	env := newTestEnv()
	sheet := &RouteSheet{ID: uuid.New(), PatientID: uuid.New(), PatientName: "Иванов", IIN: "900101300123", VisitDate: visitDay}
	p := env.svc.Payload(sheet)
	if p.URL != "https://crm.example.kz/dashboard/clinic/route-sheet?id="+sheet.ID.String() {
		t.Errorf("unexpected url %q", p.URL)
	}
	data, _ := json.Marshal(p)
	if !strings.Contains(string(data), `"visit_date":"2026-03-02"`) {
		t.Errorf("unexpected payload %s", data)
	}
}

func TestTests_CreateAndComplete(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	missing := uuid.New()

	_, err := env.svc.CreateTest(ctx, KindLaboratory, TestInput{RouteSheetID: &missing, TestType: "ОАК", TestName: "ОАК"})
	if !errors.Is(err, ErrUnknownRouteSheet) {
		t.Fatalf("expected ErrUnknownRouteSheet, got %v", err)
	}
	_, err = env.svc.CreateTest(ctx, KindLaboratory, TestInput{TestType: "ОАК", TestName: "ОАК", Status: "done"})
	if !errors.Is(err, ErrInvalidTestStatus) {
		t.Fatalf("expected ErrInvalidTestStatus, got %v", err)
	}

	test, err := env.svc.CreateTest(ctx, KindFunctional, TestInput{PatientID: uuid.New(), TestType: "ЭКГ", TestName: "Электрокардиограмма"})
	if err != nil {
		t.Fatalf("CreateTest: %v", err)
	}
	if test.Status != TestPending || test.PerformedAt != nil {
		t.Errorf("unexpected new test %+v", test)
	}
	if len(env.functional.items) != 1 || len(env.lab.items) != 0 {
		t.Error("test stored in the wrong table")
	}

	done, err := env.svc.UpdateTestStatus(ctx, KindFunctional, test.ID, TestCompleted, map[string]interface{}{"hr": 72})
	if err != nil {
		t.Fatalf("UpdateTestStatus: %v", err)
	}
	if done.PerformedAt == nil || done.Results["hr"] != 72 {
		t.Errorf("completed test should be stamped: %+v", done)
	}

	if _, err := env.svc.GetTest(ctx, KindLaboratory, test.ID); !errors.Is(err, ErrTestNotFound) {
		t.Errorf("laboratory table should not have it: %v", err)
	}
}
