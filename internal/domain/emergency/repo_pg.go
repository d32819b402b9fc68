package emergency

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medcrm/medcrm/internal/platform/db"
)

type notificationRepoPG struct{ pool *pgxpool.Pool }

func NewNotificationRepoPG(pool *pgxpool.Pool) Repository { return &notificationRepoPG{pool: pool} }

func (r *notificationRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const noticeCols = `id, clinic_id, patient_id, patient_name, iin, position, department, disease_type, diagnosis,
	doctor_name, sent_to_tsb, sent_to_employer, sent_at, created_at`

func scanNotice(row pgx.Row) (*Notification, error) {
	var n Notification
	err := row.Scan(&n.ID, &n.ClinicID, &n.PatientID, &n.PatientName, &n.IIN, &n.Position, &n.Department,
		&n.DiseaseType, &n.Diagnosis, &n.DoctorName, &n.SentToTSB, &n.SentToEmployer, &n.SentAt, &n.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotificationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *notificationRepoPG) Create(ctx context.Context, n *Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO emergency_notifications (id, clinic_id, patient_id, patient_name, iin, position, department,
			disease_type, diagnosis, doctor_name, sent_to_tsb, sent_to_employer, sent_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING created_at`,
		n.ID, n.ClinicID, n.PatientID, n.PatientName, n.IIN, n.Position, n.Department,
		n.DiseaseType, n.Diagnosis, n.DoctorName, n.SentToTSB, n.SentToEmployer, n.SentAt,
	).Scan(&n.CreatedAt)
}

func (r *notificationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Notification, error) {
	return scanNotice(r.conn(ctx).QueryRow(ctx, `SELECT `+noticeCols+` FROM emergency_notifications WHERE id = $1`, id))
}

func (r *notificationRepoPG) Update(ctx context.Context, n *Notification) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE emergency_notifications SET patient_name=$2, iin=$3, position=$4, department=$5, disease_type=$6,
			diagnosis=$7, doctor_name=$8, sent_to_tsb=$9, sent_to_employer=$10, sent_at=$11
		WHERE id = $1`,
		n.ID, n.PatientName, n.IIN, n.Position, n.Department, n.DiseaseType, n.Diagnosis, n.DoctorName,
		n.SentToTSB, n.SentToEmployer, n.SentAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func (r *notificationRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM emergency_notifications WHERE id = $1`, id)
	return err
}

func (r *notificationRepoPG) ListByClinic(ctx context.Context, clinicID uuid.UUID, limit, offset int) ([]*Notification, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM emergency_notifications WHERE clinic_id = $1`, clinicID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+noticeCols+` FROM emergency_notifications
		WHERE clinic_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, clinicID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Notification
	for rows.Next() {
		n, err := scanNotice(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, n)
	}
	return items, total, rows.Err()
}
