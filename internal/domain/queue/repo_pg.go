package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medcrm/medcrm/internal/platform/db"
	"github.com/medcrm/medcrm/pkg/dateonly"
)

type queueRepoPG struct{ pool *pgxpool.Pool }

func NewQueueRepoPG(pool *pgxpool.Pool) Repository { return &queueRepoPG{pool: pool} }

func (r *queueRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const entryCols = `id, clinic_id, route_sheet_id, doctor_id, patient_id, patient_name, iin, service_name, cabinet,
	status, priority, queue_number, added_at, called_at, started_at, completed_at, notes`

const boardOrder = ` ORDER BY CASE priority WHEN 'vip' THEN 0 WHEN 'urgent' THEN 1 ELSE 2 END, queue_number, added_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.ClinicID, &e.RouteSheetID, &e.DoctorID, &e.PatientID, &e.PatientName, &e.IIN,
		&e.ServiceName, &e.Cabinet, &e.Status, &e.Priority, &e.QueueNumber, &e.AddedAt, &e.CalledAt,
		&e.StartedAt, &e.CompletedAt, &e.Notes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *queueRepoPG) NextNumber(ctx context.Context, clinicID uuid.UUID, day dateonly.Date) (int, error) {
	if _, err := r.conn(ctx).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "queue:"+clinicID.String()); err != nil {
		return 0, fmt.Errorf("lock queue: %w", err)
	}
	var last int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(MAX(queue_number), 0) FROM queue_entries
		WHERE clinic_id = $1 AND (added_at AT TIME ZONE 'UTC')::date = $2`,
		clinicID, day,
	).Scan(&last)
	if err != nil {
		return 0, err
	}
	return last + 1, nil
}

func (r *queueRepoPG) Create(ctx context.Context, e *Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO queue_entries (id, clinic_id, route_sheet_id, doctor_id, patient_id, patient_name, iin,
			service_name, cabinet, status, priority, queue_number, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING added_at`,
		e.ID, e.ClinicID, e.RouteSheetID, e.DoctorID, e.PatientID, e.PatientName, e.IIN,
		e.ServiceName, e.Cabinet, e.Status, e.Priority, e.QueueNumber, e.Notes,
	).Scan(&e.AddedAt)
}

func (r *queueRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return scanEntry(r.conn(ctx).QueryRow(ctx, `SELECT `+entryCols+` FROM queue_entries WHERE id = $1`, id))
}

func (r *queueRepoPG) Update(ctx context.Context, e *Entry) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE queue_entries SET doctor_id=$2, patient_name=$3, iin=$4, service_name=$5, cabinet=$6, status=$7,
			priority=$8, called_at=$9, started_at=$10, completed_at=$11, notes=$12
		WHERE id = $1`,
		e.ID, e.DoctorID, e.PatientName, e.IIN, e.ServiceName, e.Cabinet, e.Status, e.Priority,
		e.CalledAt, e.StartedAt, e.CompletedAt, e.Notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (r *queueRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM queue_entries WHERE id = $1`, id)
	return err
}

func whereFilter(f Filter) (string, []interface{}) {
	clauses := []string{"clinic_id = $1"}
	args := []interface{}{f.ClinicID}
	add := func(clause string, v interface{}) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.DoctorID != nil {
		add("doctor_id = $%d", *f.DoctorID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.Date != nil {
		add("(added_at AT TIME ZONE 'UTC')::date = $%d", *f.Date)
	}
	if f.ActiveOnly {
		add("status = ANY($%d)", ActiveStatuses)
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r *queueRepoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Entry, int, error) {
	where, args := whereFilter(f)
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM queue_entries`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	n := len(args)
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+entryCols+` FROM queue_entries`+where+boardOrder+
		fmt.Sprintf(` LIMIT $%d OFFSET $%d`, n+1, n+2), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}

func (r *queueRepoPG) FindActive(ctx context.Context, clinicID, routeSheetID uuid.UUID, serviceName string) (*Entry, error) {
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx, `SELECT `+entryCols+` FROM queue_entries
		WHERE clinic_id = $1 AND route_sheet_id = $2 AND service_name = $3 AND status = ANY($4)
		LIMIT 1`, clinicID, routeSheetID, serviceName, ActiveStatuses))
	if errors.Is(err, ErrEntryNotFound) {
		return nil, nil
	}
	return e, err
}
