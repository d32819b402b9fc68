package doctor

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/medcrm/medcrm/internal/domain/identity"
)

// -- Mock Repository --

type mockDoctorRepo struct {
	doctors map[uuid.UUID]*Doctor
	seq     int
}

func newMockDoctorRepo() *mockDoctorRepo {
	return &mockDoctorRepo{doctors: make(map[uuid.UUID]*Doctor)}
}

func (m *mockDoctorRepo) Create(_ context.Context, d *Doctor) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	m.seq++
	d.CreatedAt = time.Unix(int64(m.seq), 0)
	d.UpdatedAt = d.CreatedAt
	m.doctors[d.ID] = d
	return nil
}

func (m *mockDoctorRepo) GetByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	d, ok := m.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return d, nil
}

func (m *mockDoctorRepo) Update(_ context.Context, d *Doctor) error {
	if _, ok := m.doctors[d.ID]; !ok {
		return ErrDoctorNotFound
	}
	m.doctors[d.ID] = d
	return nil
}

func (m *mockDoctorRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(m.doctors, id)
	return nil
}

func (m *mockDoctorRepo) sorted(clinicID uuid.UUID) []*Doctor {
	var out []*Doctor
	for _, d := range m.doctors {
		if d.ClinicID == clinicID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *mockDoctorRepo) ListByClinic(_ context.Context, clinicID uuid.UUID, limit, offset int) ([]*Doctor, int, error) {
	items := m.sorted(clinicID)
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, len(items), nil
}

func (m *mockDoctorRepo) FirstInClinic(_ context.Context, clinicID uuid.UUID) (*Doctor, error) {
	items := m.sorted(clinicID)
	if len(items) == 0 {
		return nil, ErrDoctorNotFound
	}
	return items[0], nil
}

func (m *mockDoctorRepo) FindBySpecialization(_ context.Context, clinicID uuid.UUID, specialization string) ([]*Doctor, error) {
	var out []*Doctor
	for _, d := range m.sorted(clinicID) {
		if d.Specialization == specialization {
			out = append(out, d)
		}
	}
	return out, nil
}

type mockUsers map[uuid.UUID]*identity.User

func (m mockUsers) GetByID(_ context.Context, id uuid.UUID) (*identity.User, error) {
	u, ok := m[id]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	return u, nil
}

func (m mockUsers) add(role string) *identity.User {
	u := &identity.User{ID: uuid.New(), Role: role, Phone: uuid.NewString()[:8]}
	m[u.ID] = u
	return u
}

func newTestService() (*Service, *mockDoctorRepo, mockUsers) {
	repo := newMockDoctorRepo()
	users := mockUsers{}
	return NewService(repo, users), repo, users
}

func TestCreate_ClinicOnly(t *testing.T) {
	svc, _, users := newTestService()
	employer := users.add(identity.RoleEmployer)

	_, err := svc.Create(context.Background(), employer.ID, Input{Name: "Иванов", Specialization: "ЛОР"})
	if !errors.Is(err, ErrClinicOnly) {
		t.Fatalf("expected ErrClinicOnly, got %v", err)
	}
}

func TestCreate_NormalisesFields(t *testing.T) {
	svc, _, users := newTestService()
	clinic := users.add(identity.RoleClinic)

	d, err := svc.Create(context.Background(), clinic.ID, Input{
		Name:           " Иванов И.И. ",
		Specialization: "ЛОР",
		IIN:            "8501 0112 3456",
		Phone:          "8 (701) 123-45-67",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if d.ClinicID != clinic.ID {
		t.Errorf("expected clinic owner, got %s", d.ClinicID)
	}
	if d.Name != "Иванов И.И." || d.IIN != "850101123456" || d.Phone != "8 701 123 4567" {
		t.Errorf("unexpected doctor %+v", d)
	}
}

func TestCreate_InvalidIIN(t *testing.T) {
	svc, _, users := newTestService()
	clinic := users.add(identity.RoleClinic)
	_, err := svc.Create(context.Background(), clinic.ID, Input{Name: "A", Specialization: "ЛОР", IIN: "123"})
	if !errors.Is(err, identity.ErrInvalidIIN) {
		t.Fatalf("expected ErrInvalidIIN, got %v", err)
	}
}

func TestGet_ScopedToClinic(t *testing.T) {
	svc, _, users := newTestService()
	ctx := context.Background()
	clinic := users.add(identity.RoleClinic)
	other := users.add(identity.RoleClinic)

	d, err := svc.Create(ctx, clinic.ID, Input{Name: "A", Specialization: "ЛОР"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Get(ctx, other.ID, d.ID); !errors.Is(err, ErrDoctorNotFound) {
		t.Errorf("expected ErrDoctorNotFound for another clinic, got %v", err)
	}
	if err := svc.Delete(ctx, other.ID, d.ID); !errors.Is(err, ErrDoctorNotFound) {
		t.Errorf("expected delete to be refused, got %v", err)
	}
	if err := svc.Delete(ctx, clinic.ID, d.ID); err != nil {
		t.Errorf("Delete: %v", err)
	}
}

func TestList_NewestFirst(t *testing.T) {
	svc, _, users := newTestService()
	ctx := context.Background()
	clinic := users.add(identity.RoleClinic)
	first, _ := svc.Create(ctx, clinic.ID, Input{Name: "A", Specialization: "ЛОР"})
	second, _ := svc.Create(ctx, clinic.ID, Input{Name: "B", Specialization: "Окулист"})

	items, total, err := svc.List(ctx, clinic.ID, 20, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || items[0].ID != second.ID || items[1].ID != first.ID {
		t.Errorf("unexpected order %+v", items)
	}
}

func TestFirstBySpecialization(t *testing.T) {
	svc, _, users := newTestService()
	ctx := context.Background()
	clinic := users.add(identity.RoleClinic)
	lor, _ := svc.Create(ctx, clinic.ID, Input{Name: "A", Specialization: "ЛОР"})
	_, _ = svc.Create(ctx, clinic.ID, Input{Name: "B", Specialization: "ЛОР"})

	d, err := svc.FirstBySpecialization(ctx, clinic.ID, "ЛОР")
	if err != nil || d == nil || d.ID != lor.ID {
		t.Fatalf("expected first ЛОР doctor, got %v %v", d, err)
	}
	d, err = svc.FirstBySpecialization(ctx, clinic.ID, "Хирург")
	if err != nil || d != nil {
		t.Fatalf("expected nil for missing specialization, got %v %v", d, err)
	}
}
