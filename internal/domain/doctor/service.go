package doctor

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/medcrm/medcrm/internal/domain/identity"
	"github.com/medcrm/medcrm/internal/platform/apperr"
)

var (
	ErrDoctorNotFound = apperr.NotFound("Doctor not found")
	ErrClinicOnly     = apperr.BadRequest("Only clinics can add doctors")
)

// UserLookup resolves the acting account.
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*identity.User, error)
}

type Service struct {
	repo  Repository
	users UserLookup
}

func NewService(repo Repository, users UserLookup) *Service {
	return &Service{repo: repo, users: users}
}

// Input carries the writable doctor fields.
type Input struct {
	Name           string                 `json:"name"`
	Specialization string                 `json:"specialization"`
	Cabinet        *string                `json:"cabinet"`
	WorkSchedule   map[string]interface{} `json:"work_schedule"`
	IIN            string                 `json:"iin"`
	Phone          string                 `json:"phone"`
	Email          string                 `json:"email"`
}

func (in Input) apply(d *Doctor) error {
	if strings.TrimSpace(in.Name) == "" {
		return apperr.BadRequest("name is required")
	}
	if strings.TrimSpace(in.Specialization) == "" {
		return apperr.BadRequest("specialization is required")
	}
	iin, err := identity.CleanIIN(in.IIN)
	if err != nil {
		return err
	}
	phone, err := FormatPhone(in.Phone)
	if err != nil {
		return err
	}
	d.Name = strings.TrimSpace(in.Name)
	d.Specialization = strings.TrimSpace(in.Specialization)
	d.Cabinet = in.Cabinet
	d.WorkSchedule = in.WorkSchedule
	if d.WorkSchedule == nil {
		d.WorkSchedule = map[string]interface{}{}
	}
	d.IIN = iin
	d.Phone = phone
	d.Email = strings.TrimSpace(in.Email)
	return nil
}

func (s *Service) Create(ctx context.Context, actorID uuid.UUID, in Input) (*Doctor, error) {
	actor, err := s.users.GetByID(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !actor.IsClinic() {
		return nil, ErrClinicOnly
	}
	d := &Doctor{ClinicID: actor.ID}
	if err := in.apply(d); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Get returns a doctor of the acting clinic.
func (s *Service) Get(ctx context.Context, actorID, id uuid.UUID) (*Doctor, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.ClinicID != actorID {
		return nil, ErrDoctorNotFound
	}
	return d, nil
}

func (s *Service) Update(ctx context.Context, actorID, id uuid.UUID, in Input) (*Doctor, error) {
	d, err := s.Get(ctx, actorID, id)
	if err != nil {
		return nil, err
	}
	if err := in.apply(d); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) Delete(ctx context.Context, actorID, id uuid.UUID) error {
	if _, err := s.Get(ctx, actorID, id); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}

func (s *Service) List(ctx context.Context, actorID uuid.UUID, limit, offset int) ([]*Doctor, int, error) {
	return s.repo.ListByClinic(ctx, actorID, limit, offset)
}

// Find returns any doctor by id. Used to resolve service assignments.
func (s *Service) Find(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return s.repo.GetByID(ctx, id)
}

// FirstBySpecialization returns the clinic's first doctor of a specialization,
// or nil when the clinic has none.
func (s *Service) FirstBySpecialization(ctx context.Context, clinicID uuid.UUID, specialization string) (*Doctor, error) {
	items, err := s.repo.FindBySpecialization(ctx, clinicID, specialization)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return items[0], nil
}

// ForClinicUser returns the doctor record linked to a clinic account.
func (s *Service) ForClinicUser(ctx context.Context, clinicID uuid.UUID) (*Doctor, error) {
	return s.repo.FirstInClinic(ctx, clinicID)
}
