package healthplan

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medcrm/medcrm/internal/platform/apperr"
	"github.com/medcrm/medcrm/pkg/dateonly"
)

var (
	ErrPlanNotFound           = apperr.NotFound("Health improvement plan not found")
	ErrRecommendationNotFound = apperr.NotFound("Recommendation not found")
	ErrInvalidPlanStatus      = apperr.BadRequest("Invalid plan status")
	ErrInvalidYear            = apperr.BadRequest("Invalid year")
	ErrInvalidStatus          = apperr.BadRequest("Invalid status")
	ErrInvalidType            = apperr.BadRequest("Invalid recommendation_type")
	ErrRecommendationRequired = apperr.BadRequest("patient_id, patient_name and recommendation are required")
)

type Service struct {
	plans           PlanRepository
	recommendations RecommendationRepository
	logger          zerolog.Logger
	now             func() time.Time
}

func NewService(plans PlanRepository, recommendations RecommendationRepository, logger zerolog.Logger) *Service {
	return &Service{plans: plans, recommendations: recommendations, logger: logger, now: time.Now}
}

// -- Plans --

type PlanInput struct {
	Year     int                    `json:"year"`
	PlanData map[string]interface{} `json:"plan_data"`
	Status   string                 `json:"status"`
}

func (s *Service) applyPlan(p *Plan, in PlanInput) error {
	if in.Year == 0 {
		in.Year = s.now().Year()
	}
	if in.Year < 2000 || in.Year > 2100 {
		return ErrInvalidYear
	}
	p.Year = in.Year
	if in.PlanData != nil {
		p.PlanData = in.PlanData
	}
	if in.Status != "" {
		return s.setPlanStatus(p, in.Status)
	}
	if p.Status == "" {
		p.Status = PlanDraft
	}
	return nil
}

// setPlanStatus stamps approved_by_tsb_at the first time a plan is approved.
func (s *Service) setPlanStatus(p *Plan, status string) error {
	if !planStatuses[status] {
		return ErrInvalidPlanStatus
	}
	p.Status = status
	if status == PlanApproved && p.ApprovedByTSBAt == nil {
		now := s.now().UTC()
		p.ApprovedByTSBAt = &now
	}
	return nil
}

func (s *Service) CreatePlan(ctx context.Context, actorID uuid.UUID, in PlanInput) (*Plan, error) {
	p := &Plan{OwnerID: actorID}
	if err := s.applyPlan(p, in); err != nil {
		return nil, err
	}
	if err := s.plans.Create(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info().Str("plan_id", p.ID.String()).Int("year", p.Year).Msg("health improvement plan created")
	return p, nil
}

func (s *Service) GetPlan(ctx context.Context, actorID, id uuid.UUID) (*Plan, error) {
	p, err := s.plans.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.OwnerID != actorID {
		return nil, ErrPlanNotFound
	}
	return p, nil
}

func (s *Service) UpdatePlan(ctx context.Context, actorID, id uuid.UUID, in PlanInput) (*Plan, error) {
	p, err := s.GetPlan(ctx, actorID, id)
	if err != nil {
		return nil, err
	}
	if err := s.applyPlan(p, in); err != nil {
		return nil, err
	}
	if err := s.plans.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) UpdatePlanStatus(ctx context.Context, actorID, id uuid.UUID, status string) (*Plan, error) {
	p, err := s.GetPlan(ctx, actorID, id)
	if err != nil {
		return nil, err
	}
	if err := s.setPlanStatus(p, status); err != nil {
		return nil, err
	}
	if err := s.plans.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) DeletePlan(ctx context.Context, actorID, id uuid.UUID) error {
	if _, err := s.GetPlan(ctx, actorID, id); err != nil {
		return err
	}
	return s.plans.Delete(ctx, id)
}

func (s *Service) ListPlans(ctx context.Context, actorID uuid.UUID, limit, offset int) ([]*Plan, int, error) {
	return s.plans.ListByOwner(ctx, actorID, limit, offset)
}

// -- Recommendations --

type RecommendationInput struct {
	PatientID          uuid.UUID `json:"patient_id"`
	PatientName        string    `json:"patient_name"`
	Recommendation     string    `json:"recommendation"`
	RecommendationType string    `json:"recommendation_type"`
	Status             string    `json:"status"`
	Notes              string    `json:"notes"`
}

func (s *Service) applyRecommendation(r *Recommendation, in RecommendationInput) error {
	if in.PatientID == uuid.Nil || strings.TrimSpace(in.PatientName) == "" || strings.TrimSpace(in.Recommendation) == "" {
		return ErrRecommendationRequired
	}
	if !recommendationTypes[in.RecommendationType] {
		return ErrInvalidType
	}
	r.PatientID = in.PatientID
	r.PatientName = strings.TrimSpace(in.PatientName)
	r.Recommendation = strings.TrimSpace(in.Recommendation)
	r.RecommendationType = in.RecommendationType
	r.Notes = in.Notes
	if in.Status != "" {
		return s.setStatus(r, in.Status)
	}
	if r.Status == "" {
		r.Status = StatusPending
	}
	return nil
}

func (s *Service) setStatus(r *Recommendation, status string) error {
	if !recommendationStatuses[status] {
		return ErrInvalidStatus
	}
	r.Status = status
	if status == StatusCompleted && r.CompletionDate.IsZero() {
		r.CompletionDate = dateonly.Of(s.now())
	}
	return nil
}

func (s *Service) CreateRecommendation(ctx context.Context, actorID uuid.UUID, in RecommendationInput) (*Recommendation, error) {
	r := &Recommendation{OwnerID: actorID}
	if err := s.applyRecommendation(r, in); err != nil {
		return nil, err
	}
	if err := s.recommendations.Create(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Service) GetRecommendation(ctx context.Context, actorID, id uuid.UUID) (*Recommendation, error) {
	r, err := s.recommendations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.OwnerID != actorID {
		return nil, ErrRecommendationNotFound
	}
	return r, nil
}

func (s *Service) UpdateRecommendation(ctx context.Context, actorID, id uuid.UUID, in RecommendationInput) (*Recommendation, error) {
	r, err := s.GetRecommendation(ctx, actorID, id)
	if err != nil {
		return nil, err
	}
	if err := s.applyRecommendation(r, in); err != nil {
		return nil, err
	}
	if err := s.recommendations.Update(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// UpdateStatus moves a recommendation to status; notes replace the stored
// notes only when given.
func (s *Service) UpdateStatus(ctx context.Context, actorID, id uuid.UUID, status string, notes *string) (*Recommendation, error) {
	r, err := s.GetRecommendation(ctx, actorID, id)
	if err != nil {
		return nil, err
	}
	if err := s.setStatus(r, status); err != nil {
		return nil, err
	}
	if notes != nil {
		r.Notes = *notes
	}
	if err := s.recommendations.Update(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Service) DeleteRecommendation(ctx context.Context, actorID, id uuid.UUID) error {
	if _, err := s.GetRecommendation(ctx, actorID, id); err != nil {
		return err
	}
	return s.recommendations.Delete(ctx, id)
}

func (s *Service) ListRecommendations(ctx context.Context, actorID uuid.UUID, patientID *uuid.UUID, status string, limit, offset int) ([]*Recommendation, int, error) {
	return s.recommendations.List(ctx, RecommendationFilter{OwnerID: actorID, PatientID: patientID, Status: status}, limit, offset)
}
