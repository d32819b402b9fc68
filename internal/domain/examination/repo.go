package examination

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, e *DoctorExamination) error
	GetByID(ctx context.Context, id uuid.UUID) (*DoctorExamination, error)
	Update(ctx context.Context, e *DoctorExamination) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*DoctorExamination, int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*DoctorExamination, error)
}
