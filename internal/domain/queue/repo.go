package queue

import (
	"context"

	"github.com/google/uuid"

	"github.com/medcrm/medcrm/pkg/dateonly"
)

type Repository interface {
	// NextNumber locks the clinic's queue for the surrounding transaction and
	// returns the number the next entry of day gets.
	NextNumber(ctx context.Context, clinicID uuid.UUID, day dateonly.Date) (int, error)
	Create(ctx context.Context, e *Entry) error
	GetByID(ctx context.Context, id uuid.UUID) (*Entry, error)
	Update(ctx context.Context, e *Entry) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*Entry, int, error)
	// FindActive returns the active entry of a route sheet service, if any.
	FindActive(ctx context.Context, clinicID, routeSheetID uuid.UUID, serviceName string) (*Entry, error)
}
