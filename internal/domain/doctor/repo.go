package doctor

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, d *Doctor) error
	GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	Update(ctx context.Context, d *Doctor) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByClinic(ctx context.Context, clinicID uuid.UUID, limit, offset int) ([]*Doctor, int, error)
	// FirstInClinic returns the oldest doctor record of the clinic.
	FirstInClinic(ctx context.Context, clinicID uuid.UUID) (*Doctor, error)
	// FindBySpecialization returns the clinic's doctors of one specialization, oldest first.
	FindBySpecialization(ctx context.Context, clinicID uuid.UUID, specialization string) ([]*Doctor, error)
}
