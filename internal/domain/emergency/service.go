package emergency

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medcrm/medcrm/internal/domain/contingent"
	"github.com/medcrm/medcrm/internal/domain/identity"
	"github.com/medcrm/medcrm/internal/platform/apperr"
	"github.com/medcrm/medcrm/internal/platform/notification"
)

var (
	ErrNotificationNotFound = apperr.NotFound("Emergency notification not found")
	ErrClinicOnly           = apperr.Forbidden("Only clinics can issue emergency notifications")
	ErrFieldsRequired       = apperr.BadRequest("patient_id, patient_name and disease_type are required")
)

// SentMessage is returned once a notice has been dispatched.
const SentMessage = "Экстренное извещение отправлено в ТСБ/СЭБН и работодателю"

type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*identity.User, error)
}

type EmployeeLookup interface {
	Employee(ctx context.Context, id uuid.UUID) (*contingent.Employee, error)
}

type Service struct {
	repo      Repository
	users     UserLookup
	employees EmployeeLookup
	notifier  notification.Notifier
	templates *notification.TemplateEngine
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(repo Repository, users UserLookup, employees EmployeeLookup, notifier notification.Notifier, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		users:     users,
		employees: employees,
		notifier:  notifier,
		templates: notification.NewTemplateEngine(),
		logger:    logger,
		now:       time.Now,
	}
}

type Input struct {
	PatientID   uuid.UUID `json:"patient_id"`
	PatientName string    `json:"patient_name"`
	IIN         string    `json:"iin"`
	Position    string    `json:"position"`
	Department  string    `json:"department"`
	DiseaseType string    `json:"disease_type"`
	Diagnosis   string    `json:"diagnosis"`
	DoctorName  string    `json:"doctor_name"`
}

func (in Input) apply(n *Notification) error {
	if in.PatientID == uuid.Nil || strings.TrimSpace(in.PatientName) == "" || strings.TrimSpace(in.DiseaseType) == "" {
		return ErrFieldsRequired
	}
	n.PatientID = in.PatientID
	n.PatientName = strings.TrimSpace(in.PatientName)
	n.IIN = in.IIN
	n.Position = in.Position
	n.Department = in.Department
	n.DiseaseType = strings.TrimSpace(in.DiseaseType)
	n.Diagnosis = in.Diagnosis
	n.DoctorName = in.DoctorName
	return nil
}

func (s *Service) Create(ctx context.Context, actorID uuid.UUID, in Input) (*Notification, error) {
	u, err := s.users.GetByID(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !u.IsClinic() {
		return nil, ErrClinicOnly
	}
	n := &Notification{ClinicID: actorID}
	if err := in.apply(n); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

func (s *Service) Get(ctx context.Context, actorID, id uuid.UUID) (*Notification, error) {
	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.ClinicID != actorID {
		return nil, ErrNotificationNotFound
	}
	return n, nil
}

func (s *Service) Update(ctx context.Context, actorID, id uuid.UUID, in Input) (*Notification, error) {
	n, err := s.Get(ctx, actorID, id)
	if err != nil {
		return nil, err
	}
	if err := in.apply(n); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

func (s *Service) Delete(ctx context.Context, actorID, id uuid.UUID) error {
	if _, err := s.Get(ctx, actorID, id); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}

func (s *Service) List(ctx context.Context, actorID uuid.UUID, limit, offset int) ([]*Notification, int, error) {
	return s.repo.ListByClinic(ctx, actorID, limit, offset)
}

// Send marks the notice as delivered to the sanitary service and the
// employer. When the patient belongs to an employer's contingent the employer
// also gets a WhatsApp message.
func (s *Service) Send(ctx context.Context, actorID, id uuid.UUID) (string, error) {
	n, err := s.Get(ctx, actorID, id)
	if err != nil {
		return "", err
	}
	now := s.now().UTC()
	n.SentToTSB = true
	n.SentToEmployer = true
	n.SentAt = &now
	if err := s.repo.Update(ctx, n); err != nil {
		return "", err
	}
	s.logger.Info().Str("notification_id", n.ID.String()).Str("disease_type", n.DiseaseType).Msg("emergency notification sent")
	s.notifyEmployer(ctx, n)
	return SentMessage, nil
}

func (s *Service) notifyEmployer(ctx context.Context, n *Notification) {
	emp, err := s.employees.Employee(ctx, n.PatientID)
	if err != nil {
		s.logger.Debug().Err(err).Str("patient_id", n.PatientID.String()).Msg("patient is not in a contingent")
		return
	}
	employer, err := s.users.GetByID(ctx, emp.OwnerID)
	if err != nil || employer.Phone == "" {
		return
	}
	clinicName := ""
	if clinic, err := s.users.GetByID(ctx, n.ClinicID); err == nil {
		clinicName = clinic.DisplayName()
	}
	text, err := s.templates.Render(notification.TemplateEmergency, map[string]string{
		"clinic_name":  clinicName,
		"patient_name": n.PatientName,
		"position":     n.Position,
		"department":   n.Department,
		"disease_type": n.DiseaseType,
		"diagnosis":    n.Diagnosis,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("render emergency notice")
		return
	}
	if err := s.notifier.Notify(ctx, notification.Message{Phone: employer.Phone, Text: text, Kind: "emergency"}); err != nil {
		s.logger.Error().Err(err).Str("chat_id", notification.ChatID(employer.Phone)).Msg("emergency notice delivery failed")
	}
}
