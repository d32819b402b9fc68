package contract

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, c *Contract) error
	GetByID(ctx context.Context, id uuid.UUID) (*Contract, error)
	Update(ctx context.Context, c *Contract) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*Contract, int, error)
	// ListUnlinked returns contracts that carry an employer_bin but no
	// employer. A non-empty bin restricts the result to that normalised BIN.
	ListUnlinked(ctx context.Context, bin string) ([]*Contract, error)
}

// HistoryRepository is append-only.
type HistoryRepository interface {
	Append(ctx context.Context, h *History) error
	ListByContract(ctx context.Context, contractID uuid.UUID) ([]*History, error)
}
