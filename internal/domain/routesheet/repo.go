package routesheet

import (
	"context"

	"github.com/google/uuid"

	"github.com/medcrm/medcrm/pkg/dateonly"
)

type Repository interface {
	Create(ctx context.Context, r *RouteSheet) error
	GetByID(ctx context.Context, id uuid.UUID) (*RouteSheet, error)
	UpdateServices(ctx context.Context, r *RouteSheet) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*RouteSheet, int, error)
	FindByPatientDate(ctx context.Context, clinicID, patientID uuid.UUID, visitDate dateonly.Date) (*RouteSheet, error)
	// ListByPatient returns every sheet of a patient, newest visit first.
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*RouteSheet, error)
}

// TestRepository stores one kind of test (laboratory or functional).
type TestRepository interface {
	Create(ctx context.Context, t *Test) error
	GetByID(ctx context.Context, id uuid.UUID) (*Test, error)
	Update(ctx context.Context, t *Test) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f TestFilter, limit, offset int) ([]*Test, int, error)
	ListBySheet(ctx context.Context, routeSheetID uuid.UUID) ([]*Test, error)
}
