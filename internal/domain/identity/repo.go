package identity

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByPhone(ctx context.Context, phone string) (*User, error)
	Update(ctx context.Context, u *User) error
	TouchLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	List(ctx context.Context, role string, limit, offset int) ([]*User, int, error)
	// FindEmployerByBIN returns the oldest employer whose registered bin or
	// inn equals the already-normalised bin.
	FindEmployerByBIN(ctx context.Context, bin string) (*User, error)
}
