package healthplan

import (
	"context"

	"github.com/google/uuid"
)

type PlanRepository interface {
	Create(ctx context.Context, p *Plan) error
	GetByID(ctx context.Context, id uuid.UUID) (*Plan, error)
	Update(ctx context.Context, p *Plan) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*Plan, int, error)
}

// RecommendationFilter narrows ListByOwner; empty fields are ignored.
type RecommendationFilter struct {
	OwnerID   uuid.UUID
	PatientID *uuid.UUID
	Status    string
}

type RecommendationRepository interface {
	Create(ctx context.Context, r *Recommendation) error
	GetByID(ctx context.Context, id uuid.UUID) (*Recommendation, error)
	Update(ctx context.Context, r *Recommendation) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f RecommendationFilter, limit, offset int) ([]*Recommendation, int, error)
}
