package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medcrm/medcrm/internal/domain/doctor"
	"github.com/medcrm/medcrm/internal/domain/routesheet"
	"github.com/medcrm/medcrm/internal/platform/apperr"
	"github.com/medcrm/medcrm/internal/platform/db"
	"github.com/medcrm/medcrm/internal/platform/websocket"
	"github.com/medcrm/medcrm/pkg/dateonly"
)

var (
	ErrEntryNotFound      = apperr.NotFound("Queue entry not found")
	ErrPatientRequired    = apperr.BadRequest("patient_id and patient_name are required")
	ErrInvalidPriority    = apperr.BadRequest("priority must be normal, urgent or vip")
	ErrInvalidStatus      = apperr.BadRequest("Invalid status")
	ErrAddInputRequired   = apperr.BadRequest("route_sheet_id and service_id are required")
	ErrSheetNotFound      = apperr.NotFound("Route sheet not found")
	ErrServiceNotFound    = apperr.NotFound("Service not found in route sheet")
	ErrAlreadyQueued      = apperr.BadRequest("Пациент уже в очереди для этой услуги")
	ErrAlreadyCalled      = apperr.BadRequest("Пациент уже вызван или находится на приеме")
	ErrCannotStart        = apperr.BadRequest("Неверный статус для начала приема")
	ErrNotInExamination   = apperr.BadRequest("Пациент не находится на приеме")
	ErrCannotSkipFinished = apperr.BadRequest("Нельзя пропустить завершенного пациента")
)

// currentLimit caps the live board.
const currentLimit = 500

type SheetSource interface {
	Sheet(ctx context.Context, id uuid.UUID) (*routesheet.RouteSheet, error)
}

type DoctorFinder interface {
	Find(ctx context.Context, id uuid.UUID) (*doctor.Doctor, error)
}

type Service struct {
	repo    Repository
	sheets  SheetSource
	doctors DoctorFinder
	events  websocket.Publisher
	tx      db.TxRunner
	logger  zerolog.Logger
	now     func() time.Time
}

func NewService(repo Repository, sheets SheetSource, doctors DoctorFinder, events websocket.Publisher, tx db.TxRunner, logger zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		sheets:  sheets,
		doctors: doctors,
		events:  events,
		tx:      tx,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *Service) publish(ctx context.Context, eventType string, e *Entry) {
	data, err := json.Marshal(e)
	if err != nil {
		s.logger.Error().Err(err).Msg("marshal queue entry")
		return
	}
	err = s.events.Publish(ctx, websocket.Event{
		Type:       eventType,
		Topic:      websocket.QueueTopic(e.ClinicID),
		ClinicID:   e.ClinicID.String(),
		ResourceID: e.ID.String(),
		Timestamp:  s.now().UTC(),
		Data:       data,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("entry_id", e.ID.String()).Msg("publish queue event")
	}
}

// add numbers e within the clinic's day and stores it.
func (s *Service) add(ctx context.Context, e *Entry) error {
	e.Status = StatusWaiting
	if e.Priority == "" {
		e.Priority = PriorityNormal
	}
	if !ValidPriority(e.Priority) {
		return ErrInvalidPriority
	}
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		n, err := s.repo.NextNumber(ctx, e.ClinicID, dateonly.Of(s.now().UTC()))
		if err != nil {
			return err
		}
		e.QueueNumber = n
		return s.repo.Create(ctx, e)
	})
	if err != nil {
		return err
	}
	s.logger.Info().Str("clinic_id", e.ClinicID.String()).Int("queue_number", e.QueueNumber).
		Str("service", e.ServiceName).Msg("patient queued")
	s.publish(ctx, "queue.added", e)
	return nil
}

type Input struct {
	RouteSheetID *uuid.UUID `json:"route_sheet_id"`
	DoctorID     *uuid.UUID `json:"doctor_id"`
	PatientID    uuid.UUID  `json:"patient_id"`
	PatientName  string     `json:"patient_name"`
	IIN          string     `json:"iin"`
	ServiceName  string     `json:"service_name"`
	Cabinet      string     `json:"cabinet"`
	Priority     string     `json:"priority"`
	Notes        string     `json:"notes"`
}

func (s *Service) Create(ctx context.Context, clinicID uuid.UUID, in Input) (*Entry, error) {
	if in.PatientID == uuid.Nil || strings.TrimSpace(in.PatientName) == "" {
		return nil, ErrPatientRequired
	}
	e := &Entry{
		ClinicID:     clinicID,
		RouteSheetID: in.RouteSheetID,
		DoctorID:     in.DoctorID,
		PatientID:    in.PatientID,
		PatientName:  strings.TrimSpace(in.PatientName),
		IIN:          in.IIN,
		ServiceName:  in.ServiceName,
		Cabinet:      in.Cabinet,
		Priority:     in.Priority,
		Notes:        in.Notes,
	}
	if err := s.add(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

type AddInput struct {
	RouteSheetID uuid.UUID `json:"route_sheet_id"`
	ServiceID    string    `json:"service_id"`
	Priority     string    `json:"priority"`
}

// AddFromRouteSheet queues the patient of a route sheet for one of its
// services. The doctor is taken from the service when it still exists.
func (s *Service) AddFromRouteSheet(ctx context.Context, clinicID uuid.UUID, in AddInput) (*Entry, error) {
	if in.RouteSheetID == uuid.Nil || in.ServiceID == "" {
		return nil, ErrAddInputRequired
	}
	sheet, err := s.sheets.Sheet(ctx, in.RouteSheetID)
	if err != nil {
		if errors.Is(err, routesheet.ErrRouteSheetNotFound) {
			return nil, ErrSheetNotFound
		}
		return nil, err
	}
	if sheet.ClinicID != clinicID {
		return nil, ErrSheetNotFound
	}
	svc := sheet.Service(in.ServiceID)
	if svc == nil {
		return nil, ErrServiceNotFound
	}
	existing, err := s.repo.FindActive(ctx, clinicID, sheet.ID, svc.Name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrAlreadyQueued
	}

	sheetID := sheet.ID
	e := &Entry{
		ClinicID:     clinicID,
		RouteSheetID: &sheetID,
		PatientID:    sheet.PatientID,
		PatientName:  sheet.PatientName,
		IIN:          sheet.IIN,
		ServiceName:  svc.Name,
		Cabinet:      svc.Cabinet,
		Priority:     in.Priority,
	}
	if id, err := uuid.Parse(svc.DoctorID); err == nil {
		if d, err := s.doctors.Find(ctx, id); err == nil {
			e.DoctorID = &d.ID
		}
	}
	if err := s.add(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) Get(ctx context.Context, clinicID, id uuid.UUID) (*Entry, error) {
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.ClinicID != clinicID {
		return nil, ErrEntryNotFound
	}
	return e, nil
}

type UpdateInput struct {
	DoctorID *uuid.UUID `json:"doctor_id"`
	Cabinet  *string    `json:"cabinet"`
	Priority *string    `json:"priority"`
	Status   *string    `json:"status"`
	Notes    *string    `json:"notes"`
}

func (s *Service) Update(ctx context.Context, clinicID, id uuid.UUID, in UpdateInput) (*Entry, error) {
	e, err := s.Get(ctx, clinicID, id)
	if err != nil {
		return nil, err
	}
	if in.Priority != nil {
		if !ValidPriority(*in.Priority) {
			return nil, ErrInvalidPriority
		}
		e.Priority = *in.Priority
	}
	if in.Status != nil {
		if !validStatuses[*in.Status] {
			return nil, ErrInvalidStatus
		}
		e.Status = *in.Status
	}
	if in.DoctorID != nil {
		e.DoctorID = in.DoctorID
	}
	if in.Cabinet != nil {
		e.Cabinet = *in.Cabinet
	}
	if in.Notes != nil {
		e.Notes = *in.Notes
	}
	if err := s.repo.Update(ctx, e); err != nil {
		return nil, err
	}
	s.publish(ctx, "queue.updated", e)
	return e, nil
}

func (s *Service) Delete(ctx context.Context, clinicID, id uuid.UUID) error {
	e, err := s.Get(ctx, clinicID, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.publish(ctx, "queue.removed", e)
	return nil
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Entry, int, error) {
	return s.repo.List(ctx, f, limit, offset)
}

// Current returns the live board of a clinic, optionally for one doctor.
func (s *Service) Current(ctx context.Context, clinicID uuid.UUID, doctorID *uuid.UUID) ([]*Entry, error) {
	items, _, err := s.repo.List(ctx, Filter{ClinicID: clinicID, DoctorID: doctorID, ActiveOnly: true}, currentLimit, 0)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*Entry{}
	}
	return items, nil
}

func (s *Service) transition(ctx context.Context, clinicID, id uuid.UUID, fn func(e *Entry, now time.Time) error) (*Entry, error) {
	e, err := s.Get(ctx, clinicID, id)
	if err != nil {
		return nil, err
	}
	if err := fn(e, s.now().UTC()); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, e); err != nil {
		return nil, err
	}
	s.publish(ctx, "queue."+e.Status, e)
	return e, nil
}

func (s *Service) Call(ctx context.Context, clinicID, id uuid.UUID) (*Entry, error) {
	return s.transition(ctx, clinicID, id, func(e *Entry, now time.Time) error {
		if e.Status != StatusWaiting {
			return ErrAlreadyCalled
		}
		e.Status = StatusCalled
		e.CalledAt = &now
		return nil
	})
}

func (s *Service) Start(ctx context.Context, clinicID, id uuid.UUID) (*Entry, error) {
	return s.transition(ctx, clinicID, id, func(e *Entry, now time.Time) error {
		if e.Status != StatusCalled && e.Status != StatusWaiting {
			return ErrCannotStart
		}
		e.Status = StatusInProgress
		e.StartedAt = &now
		if e.CalledAt == nil {
			e.CalledAt = &now
		}
		return nil
	})
}

func (s *Service) Complete(ctx context.Context, clinicID, id uuid.UUID) (*Entry, error) {
	return s.transition(ctx, clinicID, id, func(e *Entry, now time.Time) error {
		if e.Status != StatusInProgress {
			return ErrNotInExamination
		}
		e.Status = StatusCompleted
		e.CompletedAt = &now
		return nil
	})
}

func (s *Service) Skip(ctx context.Context, clinicID, id uuid.UUID) (*Entry, error) {
	return s.transition(ctx, clinicID, id, func(e *Entry, _ time.Time) error {
		if e.Status == StatusCompleted {
			return ErrCannotSkipFinished
		}
		e.Status = StatusSkipped
		return nil
	})
}
