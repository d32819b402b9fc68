package contingent

import (
	"context"

	"github.com/google/uuid"

	"github.com/medcrm/medcrm/pkg/dateonly"
)

type Repository interface {
	Create(ctx context.Context, e *Employee) error
	GetByID(ctx context.Context, id uuid.UUID) (*Employee, error)
	Update(ctx context.Context, e *Employee) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*Employee, int, error)
	// FindOne returns the oldest visible employee matching l.
	FindOne(ctx context.Context, f Filter, l Lookup) (*Employee, error)
	// HasDuplicate reports whether owner already has an employee with iin,
	// or with the same name and birth date.
	HasDuplicate(ctx context.Context, ownerID uuid.UUID, iin, name string, birth *dateonly.Date) (bool, error)
	DeleteByOwner(ctx context.Context, ownerID uuid.UUID) (int, error)
}
