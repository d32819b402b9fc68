package contingent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

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

func (m mockUsers) add(role string) *identity.User {
	u := &identity.User{ID: uuid.New(), Role: role, RegistrationData: map[string]interface{}{"name": role}}
	m[u.ID] = u
	return u
}

type mockDoctors map[uuid.UUID]*doctor.Doctor

func (m mockDoctors) Find(_ context.Context, id uuid.UUID) (*doctor.Doctor, error) {
	d, ok := m[id]
	if !ok {
		return nil, doctor.ErrDoctorNotFound
	}
	return d, nil
}

type mockEmployeeRepo struct {
	items map[uuid.UUID]*Employee
	users mockUsers
	seq   int
}

func newMockEmployeeRepo(users mockUsers) *mockEmployeeRepo {
	return &mockEmployeeRepo{items: make(map[uuid.UUID]*Employee), users: users}
}

func (m *mockEmployeeRepo) Create(_ context.Context, e *Employee) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	m.seq++
	e.CreatedAt = time.Unix(int64(m.seq), 0)
	e.UpdatedAt = e.CreatedAt
	m.items[e.ID] = e
	return nil
}

func (m *mockEmployeeRepo) GetByID(_ context.Context, id uuid.UUID) (*Employee, error) {
	e, ok := m.items[id]
	if !ok {
		return nil, ErrEmployeeNotFound
	}
	return e, nil
}

func (m *mockEmployeeRepo) Update(_ context.Context, e *Employee) error {
	if _, ok := m.items[e.ID]; !ok {
		return ErrEmployeeNotFound
	}
	m.items[e.ID] = e
	return nil
}

func (m *mockEmployeeRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(m.items, id)
	return nil
}

func (m *mockEmployeeRepo) visible(f Filter) []*Employee {
	var out []*Employee
	for _, e := range m.items {
		owner := m.users[e.OwnerID]
		if f.Matches(e, owner.IsEmployer()) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *mockEmployeeRepo) List(_ context.Context, f Filter, limit, offset int) ([]*Employee, int, error) {
	items := m.visible(f)
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, len(items), nil
}

func (m *mockEmployeeRepo) FindOne(_ context.Context, f Filter, l Lookup) (*Employee, error) {
	for _, e := range m.visible(f) {
		switch {
		case l.ID != nil:
			if e.ID == *l.ID {
				return e, nil
			}
		case l.IIN != "":
			if e.IIN == l.IIN {
				return e, nil
			}
		case l.PhoneDigits != "":
			if strings.Contains(identity.CleanDigits(e.Phone), l.PhoneDigits) {
				return e, nil
			}
		case l.Name != "":
			if strings.Contains(strings.ToLower(e.Name), strings.ToLower(l.Name)) {
				return e, nil
			}
		}
	}
	return nil, ErrEmployeeNotFound
}

func (m *mockEmployeeRepo) HasDuplicate(_ context.Context, ownerID uuid.UUID, iin, name string, birth *dateonly.Date) (bool, error) {
	for _, e := range m.items {
		if e.OwnerID != ownerID {
			continue
		}
		if len(iin) >= 10 && e.IIN == iin {
			return true, nil
		}
		sameBirth := (birth == nil && e.BirthDate == nil) ||
			(birth != nil && e.BirthDate != nil && birth.Equal(e.BirthDate.Time))
		if e.Name == name && sameBirth {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockEmployeeRepo) DeleteByOwner(_ context.Context, ownerID uuid.UUID) (int, error) {
	n := 0
	for id, e := range m.items {
		if e.OwnerID == ownerID {
			delete(m.items, id)
			n++
		}
	}
	return n, nil
}

type testEnv struct {
	svc     *Service
	repo    *mockEmployeeRepo
	users   mockUsers
	doctors mockDoctors
}

func newTestEnv() *testEnv {
	users := mockUsers{}
	env := &testEnv{users: users, repo: newMockEmployeeRepo(users), doctors: mockDoctors{}}
	env.svc = NewService(env.repo, users, env.doctors, db.NoopTxRunner{}, zerolog.Nop())
	return env
}

func (env *testEnv) seed(t *testing.T, owner *identity.User, name, iin, phone string) *Employee {
	t.Helper()
	e, err := env.svc.Create(context.Background(), owner, Input{Name: name, IIN: iin, Phone: phone, Position: "Сварщик"})
	if err != nil {
		t.Fatalf("seed %s: %v", name, err)
	}
	return e
}

// -- Tests --

func TestCreate_ValidatesIIN(t *testing.T) {
	env := newTestEnv()
	employer := env.users.add(identity.RoleEmployer)

	_, err := env.svc.Create(context.Background(), employer, Input{Name: "Иванов", IIN: "12345"})
	if !errors.Is(err, identity.ErrInvalidIIN) {
		t.Fatalf("expected ErrInvalidIIN, got %v", err)
	}

	e, err := env.svc.Create(context.Background(), employer, Input{Name: " Иванов ", IIN: "1234 5678 9012"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if e.IIN != "123456789012" || e.Name != "Иванов" || !e.RequiresExamination {
		t.Errorf("unexpected employee %+v", e)
	}
	if e.HarmfulFactors == nil {
		t.Error("expected empty harmful factors slice, got nil")
	}
}

func TestCreate_RequiresName(t *testing.T) {
	env := newTestEnv()
	employer := env.users.add(identity.RoleEmployer)
	if _, err := env.svc.Create(context.Background(), employer, Input{}); !errors.Is(err, ErrNameRequired) {
		t.Fatalf("expected ErrNameRequired, got %v", err)
	}
	if _, err := env.svc.Create(context.Background(), employer, Input{Name: "A", Gender: "x"}); !errors.Is(err, ErrInvalidGender) {
		t.Fatalf("expected ErrInvalidGender, got %v", err)
	}
}

func TestVisibility(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	employerA := env.users.add(identity.RoleEmployer)
	employerB := env.users.add(identity.RoleEmployer)
	clinic := env.users.add(identity.RoleClinic)
	otherClinic := env.users.add(identity.RoleClinic)

	a := env.seed(t, employerA, "Иванов", "", "")
	env.seed(t, employerB, "Петров", "", "")
	own := env.seed(t, clinic, "Сидоров", "", "")
	env.seed(t, otherClinic, "Козлов", "", "")

	items, total, err := env.svc.List(ctx, clinic, "", 20, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || len(items) != 3 {
		t.Errorf("clinic expected 3 rows, got %d", total)
	}

	items, _, _ = env.svc.List(ctx, employerA, "", 20, 0)
	if len(items) != 1 || items[0].ID != a.ID {
		t.Errorf("employer expected only own row, got %d", len(items))
	}

	if _, err := env.svc.Get(ctx, employerB, a.ID); !errors.Is(err, ErrEmployeeNotFound) {
		t.Errorf("expected not found for foreign employer, got %v", err)
	}
	if _, err := env.svc.Get(ctx, otherClinic, own.ID); !errors.Is(err, ErrEmployeeNotFound) {
		t.Errorf("expected clinic rows hidden from other clinics, got %v", err)
	}
	if _, err := env.svc.Get(ctx, clinic, a.ID); err != nil {
		t.Errorf("clinic should see employer rows: %v", err)
	}
}

func TestUpdate_OwnerOnly(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	employer := env.users.add(identity.RoleEmployer)
	clinic := env.users.add(identity.RoleClinic)
	e := env.seed(t, employer, "Иванов", "", "")

	if _, err := env.svc.Update(ctx, clinic, e.ID, Input{Name: "Другой"}); !errors.Is(err, ErrEmployeeNotFound) {
		t.Fatalf("expected clinic update to fail, got %v", err)
	}
	up, err := env.svc.Update(ctx, employer, e.ID, Input{Name: "Иванов И.И.", HarmfulFactors: []string{"шум"}})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if up.Name != "Иванов И.И." || len(up.HarmfulFactors) != 1 {
		t.Errorf("unexpected update result %+v", up)
	}
}

func TestDeleteAll(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	employer := env.users.add(identity.RoleEmployer)
	other := env.users.add(identity.RoleEmployer)
	env.seed(t, employer, "A", "", "")
	env.seed(t, employer, "B", "", "")
	env.seed(t, other, "C", "", "")

	n, err := env.svc.DeleteAll(ctx, employer)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 deleted, got %d (%v)", n, err)
	}
	if len(env.repo.items) != 1 {
		t.Errorf("expected other owner's row to remain")
	}
}

func TestUploadExcel_TemplateAndDuplicates(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	employer := env.users.add(identity.RoleEmployer)

	data, err := Template()
	if err != nil {
		t.Fatalf("Template: %v", err)
	}
	res, err := env.svc.UploadExcel(ctx, employer, bytes.NewReader(data), nil)
	if err != nil {
		t.Fatalf("UploadExcel: %v", err)
	}
	if res.Created != 2 || res.Skipped != 0 {
		t.Fatalf("expected 2 created, got %+v", res)
	}
	first := res.Employees[0]
	if first.Name != "Иванов Иван Иванович" || first.Gender != GenderMale || first.Position != "Оператор" {
		t.Errorf("unexpected first row %+v", first)
	}
	if first.BirthDate == nil || first.BirthDate.String() != "1976-03-29" {
		t.Errorf("unexpected birth date %v", first.BirthDate)
	}
	if first.LastExaminationDate == nil || first.LastExaminationDate.String() != "2024-01-22" {
		t.Errorf("unexpected last examination %v", first.LastExaminationDate)
	}
	if first.TotalExperienceYears == nil || *first.TotalExperienceYears != 20 ||
		first.PositionExperienceYears == nil || *first.PositionExperienceYears != 18 {
		t.Errorf("unexpected experience %v/%v", first.TotalExperienceYears, first.PositionExperienceYears)
	}
	if len(first.IIN) != 12 {
		t.Errorf("expected synthetic 12 char IIN, got %q", first.IIN)
	}
	if res.Employees[1].Gender != GenderFemale {
		t.Errorf("expected female second row, got %q", res.Employees[1].Gender)
	}

	res, err = env.svc.UploadExcel(ctx, employer, bytes.NewReader(data), nil)
	if err != nil {
		t.Fatalf("second UploadExcel: %v", err)
	}
	if res.Created != 0 || res.Skipped != 2 || res.SkippedReasons["duplicate"] != 2 {
		t.Errorf("expected duplicates skipped, got %+v", res)
	}
}

func TestUploadExcel_Garbage(t *testing.T) {
	env := newTestEnv()
	employer := env.users.add(identity.RoleEmployer)
	_, err := env.svc.UploadExcel(context.Background(), employer, strings.NewReader("nope"), nil)
	if apperr.Status(err) != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestFindByQR(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	employer := env.users.add(identity.RoleEmployer)
	clinic := env.users.add(identity.RoleClinic)
	e := env.seed(t, employer, "Иванов Иван", "123456789012", "")

	payload, _ := json.Marshal(QRPayload{Type: QRType, EmployeeID: e.ID.String()})
	found, err := env.svc.FindByQR(ctx, clinic, string(payload))
	if err != nil || found.ID != e.ID {
		t.Fatalf("lookup by id failed: %v", err)
	}

	found, err = env.svc.FindByQR(ctx, clinic, `{"type":"employee","employee_id":"bogus","name":"иван"}`)
	if err != nil || found.ID != e.ID {
		t.Fatalf("lookup by name failed: %v", err)
	}

	_, err = env.svc.FindByQR(ctx, clinic, `{"type":"employee","iin":"000000000000"}`)
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Status != http.StatusNotFound || ae.Details == nil {
		t.Fatalf("expected 404 with qr_data details, got %v", err)
	}

	cases := map[string]error{
		"":                    ErrQRDataRequired,
		"{not json":           ErrInvalidQRFormat,
		`{"type":"contract"}`: ErrInvalidQRType,
	}
	for in, want := range cases {
		if _, err := env.svc.FindByQR(ctx, clinic, in); !errors.Is(err, want) {
			t.Errorf("FindByQR(%q) = %v, want %v", in, err, want)
		}
	}
}

func TestQRCode(t *testing.T) {
	env := newTestEnv()
	employer := env.users.add(identity.RoleEmployer)
	e := env.seed(t, employer, "Иванов", "", "")
	png, err := env.svc.QRCode(context.Background(), employer, e.ID)
	if err != nil {
		t.Fatalf("QRCode: %v", err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Error("expected PNG output")
	}
}

func TestLocate(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	employer := env.users.add(identity.RoleEmployer)
	clinic := env.users.add(identity.RoleClinic)
	other := env.users.add(identity.RoleEmployer)
	e := env.seed(t, employer, "Иванов Иван", "123456789012", "+7 701 555 1234")

	got, err := env.svc.Locate(ctx, employer, Criteria{Phone: "7015551234"})
	if err != nil || got.ID != e.ID {
		t.Fatalf("expected own lookup by phone, got %v", err)
	}
	got, err = env.svc.Locate(ctx, clinic, Criteria{IIN: "123456789012"})
	if err != nil || got.ID != e.ID {
		t.Fatalf("expected clinic fallback to employer rows, got %v", err)
	}
	if _, err := env.svc.Locate(ctx, other, Criteria{IIN: "123456789012"}); !errors.Is(err, ErrNotInRegistry) {
		t.Errorf("expected ErrNotInRegistry for other employer, got %v", err)
	}
	if _, err := env.svc.Locate(ctx, clinic, Criteria{Name: "Нет такого"}); !errors.Is(err, ErrNotFoundByPhone) {
		t.Errorf("expected ErrNotFoundByPhone, got %v", err)
	}
}

func TestRouteSheetInfo(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	employer := env.users.add(identity.RoleEmployer)
	e := env.seed(t, employer, "Иванов", "", "")

	cab := "101"
	doc := &doctor.Doctor{ID: uuid.New(), Name: "Др. Ахметов", Specialization: "Терапевт", Cabinet: &cab}
	env.doctors[doc.ID] = doc
	e.latestSheet = &latestSheet{
		VisitDate: dateonly.MustParse("2024-03-01"),
		Services: []sheetService{
			{Name: "ЛОР", Specialization: "ЛОР", Cabinet: "5", DoctorID: uuid.NewString(), Time: "09:15"},
			{Name: "Терапевт", Specialization: "Терапевт", DoctorID: doc.ID.String(), Time: "09:00"},
			{Name: "Окулист", Time: "09:30"},
		},
	}

	got, err := env.svc.Get(ctx, employer, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	info := got.RouteSheetInfo
	if info == nil {
		t.Fatal("expected route sheet info")
	}
	if info.ServicesCount != 3 || info.TimeRange == nil || *info.TimeRange != "09:00 - 09:30" {
		t.Errorf("unexpected info %+v", info)
	}
	if len(info.Doctors) != 2 {
		t.Fatalf("expected 2 doctors, got %d", len(info.Doctors))
	}
	if info.Doctors[0].Name != "ЛОР" || info.Doctors[0].Cabinet != "5" {
		t.Errorf("unresolved doctor should fall back to service data, got %+v", info.Doctors[0])
	}
	if info.Doctors[1].Name != "Др. Ахметов" || info.Doctors[1].Cabinet != "101" {
		t.Errorf("expected resolved doctor, got %+v", info.Doctors[1])
	}
}
