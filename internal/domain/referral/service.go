package referral

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medcrm/medcrm/internal/domain/identity"
	"github.com/medcrm/medcrm/internal/platform/apperr"
)

var (
	ErrReferralNotFound = apperr.NotFound("Referral not found")
	ErrClinicOnly       = apperr.Forbidden("Only clinics can issue referrals")
	ErrInvalidStatus    = apperr.BadRequest("Invalid status")
	ErrInvalidType      = apperr.BadRequest("referral_type must be rehabilitation, profpathology or specialist")
	ErrPatientRequired  = apperr.BadRequest("patient_id and patient_name are required")
)

type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*identity.User, error)
}

type Service struct {
	repo   Repository
	users  UserLookup
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, users UserLookup, logger zerolog.Logger) *Service {
	return &Service{repo: repo, users: users, logger: logger, now: time.Now}
}

type Input struct {
	ExpertiseID        *uuid.UUID `json:"expertise"`
	PatientID          uuid.UUID  `json:"patient_id"`
	PatientName        string     `json:"patient_name"`
	IIN                string     `json:"iin"`
	ReferralType       string     `json:"referral_type"`
	TargetOrganization string     `json:"target_organization"`
	Reason             string     `json:"reason"`
	Notes              string     `json:"notes"`
}

func (in Input) apply(r *Referral) error {
	if in.PatientID == uuid.Nil || strings.TrimSpace(in.PatientName) == "" {
		return ErrPatientRequired
	}
	if !ValidType(in.ReferralType) {
		return ErrInvalidType
	}
	r.ExpertiseID = in.ExpertiseID
	r.PatientID = in.PatientID
	r.PatientName = strings.TrimSpace(in.PatientName)
	r.IIN = strings.TrimSpace(in.IIN)
	r.ReferralType = in.ReferralType
	r.TargetOrganization = in.TargetOrganization
	r.Reason = in.Reason
	r.Notes = in.Notes
	return nil
}

func (s *Service) Create(ctx context.Context, actorID uuid.UUID, in Input) (*Referral, error) {
	u, err := s.users.GetByID(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !u.IsClinic() {
		return nil, ErrClinicOnly
	}
	r := &Referral{ClinicID: actorID}
	if err := in.apply(r); err != nil {
		return nil, err
	}
	if err := s.Issue(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Issue stores a new referral in status created.
func (s *Service) Issue(ctx context.Context, r *Referral) error {
	r.Status = StatusCreated
	if err := s.repo.Create(ctx, r); err != nil {
		return err
	}
	s.logger.Info().Str("referral_id", r.ID.String()).Str("patient_id", r.PatientID.String()).
		Str("type", r.ReferralType).Msg("referral issued")
	return nil
}

// FindActive returns the open referral of a patient and type, or nil.
func (s *Service) FindActive(ctx context.Context, patientID uuid.UUID, referralType string) (*Referral, error) {
	r, err := s.repo.FindActive(ctx, patientID, referralType)
	if errors.Is(err, ErrReferralNotFound) {
		return nil, nil
	}
	return r, err
}

func (s *Service) Get(ctx context.Context, actorID, id uuid.UUID) (*Referral, error) {
	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.ClinicID != actorID {
		return nil, ErrReferralNotFound
	}
	return r, nil
}

func (s *Service) Update(ctx context.Context, actorID, id uuid.UUID, in Input) (*Referral, error) {
	r, err := s.Get(ctx, actorID, id)
	if err != nil {
		return nil, err
	}
	if err := in.apply(r); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Service) Delete(ctx context.Context, actorID, id uuid.UUID) error {
	if _, err := s.Get(ctx, actorID, id); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}

func (s *Service) List(ctx context.Context, actorID uuid.UUID, patientID *uuid.UUID, status string, limit, offset int) ([]*Referral, int, error) {
	return s.repo.List(ctx, Filter{ClinicID: actorID, PatientID: patientID, Status: status}, limit, offset)
}

// UpdateStatus moves the referral to status, stamping sent, accepted and
// completed times.
func (s *Service) UpdateStatus(ctx context.Context, actorID, id uuid.UUID, status string) (*Referral, error) {
	if !validStatuses[status] {
		return nil, ErrInvalidStatus
	}
	r, err := s.Get(ctx, actorID, id)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	switch status {
	case StatusSent:
		r.SentAt = &now
	case StatusAccepted:
		r.AcceptedAt = &now
	case StatusCompleted:
		r.CompletedAt = &now
	}
	r.Status = status
	if err := s.repo.Update(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}
