package calendarplan

import (
	"context"

	"github.com/google/uuid"

	"github.com/medcrm/medcrm/pkg/dateonly"
)

type Repository interface {
	Create(ctx context.Context, p *CalendarPlan) error
	GetByID(ctx context.Context, id uuid.UUID) (*CalendarPlan, error)
	// FindVisible returns plan id when it matches f.
	FindVisible(ctx context.Context, f Filter, id uuid.UUID) (*CalendarPlan, error)
	Update(ctx context.Context, p *CalendarPlan) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*CalendarPlan, int, error)
	// CoveringClinic returns the clinic of the oldest approved or sent plan
	// listing employeeID whose period contains date, or uuid.Nil. A nil
	// clinicID matches every clinic.
	CoveringClinic(ctx context.Context, clinicID *uuid.UUID, employeeID uuid.UUID, date dateonly.Date) (uuid.UUID, error)
}
