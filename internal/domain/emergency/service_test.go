package emergency

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medcrm/medcrm/internal/domain/contingent"
	"github.com/medcrm/medcrm/internal/domain/identity"
	"github.com/medcrm/medcrm/internal/platform/notification"
)

type mockUsers map[uuid.UUID]*identity.User

func (m mockUsers) GetByID(_ context.Context, id uuid.UUID) (*identity.User, error) {
	u, ok := m[id]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	return u, nil
}

type mockEmployees map[uuid.UUID]*contingent.Employee

func (m mockEmployees) Employee(_ context.Context, id uuid.UUID) (*contingent.Employee, error) {
	e, ok := m[id]
	if !ok {
		return nil, contingent.ErrEmployeeNotFound
	}
	return e, nil
}

type mockRepo struct {
	items map[uuid.UUID]*Notification
}

func (m *mockRepo) Create(_ context.Context, n *Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	m.items[n.ID] = n
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Notification, error) {
	n, ok := m.items[id]
	if !ok {
		return nil, ErrNotificationNotFound
	}
	return n, nil
}

func (m *mockRepo) Update(_ context.Context, n *Notification) error {
	if _, ok := m.items[n.ID]; !ok {
		return ErrNotificationNotFound
	}
	m.items[n.ID] = n
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(m.items, id)
	return nil
}

func (m *mockRepo) ListByClinic(_ context.Context, clinicID uuid.UUID, limit, offset int) ([]*Notification, int, error) {
	var out []*Notification
	for _, n := range m.items {
		if n.ClinicID == clinicID {
			out = append(out, n)
		}
	}
	return out, len(out), nil
}

type fixture struct {
	svc      *Service
	sender   *notification.MockSender
	clinic   *identity.User
	employer *identity.User
	employee *contingent.Employee
}

func setup() *fixture {
	clinic := &identity.User{ID: uuid.New(), Role: identity.RoleClinic, Phone: "77010000001"}
	employer := &identity.User{ID: uuid.New(), Role: identity.RoleEmployer, Phone: "77010000002"}
	emp := &contingent.Employee{ID: uuid.New(), OwnerID: employer.ID, Name: "Петров П.П."}
	sender := &notification.MockSender{}
	svc := NewService(
		&mockRepo{items: make(map[uuid.UUID]*Notification)},
		mockUsers{clinic.ID: clinic, employer.ID: employer},
		mockEmployees{emp.ID: emp},
		sender,
		zerolog.Nop(),
	)
	return &fixture{svc: svc, sender: sender, clinic: clinic, employer: employer, employee: emp}
}

func (f *fixture) input() Input {
	return Input{
		PatientID:   f.employee.ID,
		PatientName: f.employee.Name,
		Position:    "сварщик",
		Department:  "цех 1",
		DiseaseType: "профзаболевание",
		Diagnosis:   "J62",
	}
}

func TestCreate(t *testing.T) {
	f := setup()
	ctx := context.Background()

	n, err := f.svc.Create(ctx, f.clinic.ID, f.input())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.ClinicID != f.clinic.ID || n.Sent() {
		t.Errorf("unexpected notification %+v", n)
	}

	if _, err := f.svc.Create(ctx, f.employer.ID, f.input()); !errors.Is(err, ErrClinicOnly) {
		t.Errorf("expected ErrClinicOnly, got %v", err)
	}

	in := f.input()
	in.DiseaseType = ""
	if _, err := f.svc.Create(ctx, f.clinic.ID, in); !errors.Is(err, ErrFieldsRequired) {
		t.Errorf("expected ErrFieldsRequired, got %v", err)
	}
}

func TestGet_OtherClinic(t *testing.T) {
	f := setup()
	ctx := context.Background()
	n, err := f.svc.Create(ctx, f.clinic.ID, f.input())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Get(ctx, f.employer.ID, n.ID); !errors.Is(err, ErrNotificationNotFound) {
		t.Errorf("expected ErrNotificationNotFound, got %v", err)
	}
	if err := f.svc.Delete(ctx, f.employer.ID, n.ID); !errors.Is(err, ErrNotificationNotFound) {
		t.Errorf("expected ErrNotificationNotFound on delete, got %v", err)
	}
}

func TestSend(t *testing.T) {
	f := setup()
	ctx := context.Background()
	n, err := f.svc.Create(ctx, f.clinic.ID, f.input())
	if err != nil {
		t.Fatal(err)
	}

	msg, err := f.svc.Send(ctx, f.clinic.ID, n.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg != SentMessage {
		t.Errorf("got message %q", msg)
	}
	got, _ := f.svc.Get(ctx, f.clinic.ID, n.ID)
	if !got.SentToTSB || !got.SentToEmployer || got.SentAt == nil {
		t.Errorf("notification not flagged as sent: %+v", got)
	}

	msgs := f.sender.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message to the employer, got %d", len(msgs))
	}
	if msgs[0].Phone != f.employer.Phone || !strings.Contains(msgs[0].Text, "J62") {
		t.Errorf("unexpected message %+v", msgs[0])
	}
}

func TestSend_PatientOutsideContingent(t *testing.T) {
	f := setup()
	ctx := context.Background()
	in := f.input()
	in.PatientID = uuid.New()
	n, err := f.svc.Create(ctx, f.clinic.ID, in)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Send(ctx, f.clinic.ID, n.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.sender.Messages()) != 0 {
		t.Errorf("no employer should be notified")
	}
}
