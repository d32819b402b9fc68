package referral

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, r *Referral) error
	GetByID(ctx context.Context, id uuid.UUID) (*Referral, error)
	Update(ctx context.Context, r *Referral) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*Referral, int, error)
	// FindActive returns the newest active referral of a patient and type.
	FindActive(ctx context.Context, patientID uuid.UUID, referralType string) (*Referral, error)
}
