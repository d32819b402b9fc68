package expertise

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, e *Expertise) error
	GetByID(ctx context.Context, id uuid.UUID) (*Expertise, error)
	Update(ctx context.Context, e *Expertise) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*Expertise, int, error)
	// Find returns every expertise matching f, unpaginated.
	Find(ctx context.Context, f Filter) ([]*Expertise, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Expertise, error)
}
