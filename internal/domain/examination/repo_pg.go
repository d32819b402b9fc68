package examination

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medcrm/medcrm/internal/platform/db"
)

type examinationRepoPG struct{ pool *pgxpool.Pool }

func NewExaminationRepoPG(pool *pgxpool.Pool) Repository { return &examinationRepoPG{pool: pool} }

func (r *examinationRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const examCols = `id, patient_id, doctor_id, doctor_name, specialization, conclusion, notes, examination_date,
	doctor_signature, recommendations, created_at`

func scanExam(row pgx.Row) (*DoctorExamination, error) {
	var e DoctorExamination
	err := row.Scan(&e.ID, &e.PatientID, &e.DoctorID, &e.DoctorName, &e.Specialization, &e.Conclusion,
		&e.Notes, &e.ExaminationDate, &e.DoctorSignature, &e.Recommendations, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrExaminationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func collectExams(rows pgx.Rows) ([]*DoctorExamination, error) {
	defer rows.Close()
	var items []*DoctorExamination
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func (r *examinationRepoPG) Create(ctx context.Context, e *DoctorExamination) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO doctor_examinations (id, patient_id, doctor_id, doctor_name, specialization, conclusion, notes,
			examination_date, doctor_signature, recommendations)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at`,
		e.ID, e.PatientID, e.DoctorID, e.DoctorName, e.Specialization, e.Conclusion, e.Notes,
		e.ExaminationDate, e.DoctorSignature, e.Recommendations,
	).Scan(&e.CreatedAt)
}

func (r *examinationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*DoctorExamination, error) {
	return scanExam(r.conn(ctx).QueryRow(ctx, `SELECT `+examCols+` FROM doctor_examinations WHERE id = $1`, id))
}

func (r *examinationRepoPG) Update(ctx context.Context, e *DoctorExamination) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE doctor_examinations SET doctor_name=$2, specialization=$3, conclusion=$4, notes=$5,
			examination_date=$6, doctor_signature=$7, recommendations=$8
		WHERE id = $1`,
		e.ID, e.DoctorName, e.Specialization, e.Conclusion, e.Notes, e.ExaminationDate,
		e.DoctorSignature, e.Recommendations)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrExaminationNotFound
	}
	return nil
}

func (r *examinationRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM doctor_examinations WHERE id = $1`, id)
	return err
}

func (r *examinationRepoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*DoctorExamination, int, error) {
	where := ` WHERE doctor_id = $1`
	args := []interface{}{f.DoctorID}
	if f.PatientID != nil {
		args = append(args, *f.PatientID)
		where += ` AND patient_id = $2`
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM doctor_examinations`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	n := len(args)
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+examCols+` FROM doctor_examinations`+where+
		fmt.Sprintf(` ORDER BY examination_date DESC LIMIT $%d OFFSET $%d`, n+1, n+2), args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectExams(rows)
	return items, total, err
}

func (r *examinationRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*DoctorExamination, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+examCols+` FROM doctor_examinations
		WHERE patient_id = $1 ORDER BY examination_date DESC`, patientID)
	if err != nil {
		return nil, err
	}
	return collectExams(rows)
}
