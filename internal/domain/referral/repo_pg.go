package referral

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medcrm/medcrm/internal/platform/db"
)

type referralRepoPG struct{ pool *pgxpool.Pool }

func NewReferralRepoPG(pool *pgxpool.Pool) Repository { return &referralRepoPG{pool: pool} }

func (r *referralRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const referralCols = `id, clinic_id, expertise_id, patient_id, patient_name, iin, referral_type, target_organization,
	reason, status, sent_at, accepted_at, completed_at, notes, created_at, updated_at`

func scanReferral(row pgx.Row) (*Referral, error) {
	var ref Referral
	err := row.Scan(&ref.ID, &ref.ClinicID, &ref.ExpertiseID, &ref.PatientID, &ref.PatientName, &ref.IIN,
		&ref.ReferralType, &ref.TargetOrganization, &ref.Reason, &ref.Status, &ref.SentAt, &ref.AcceptedAt,
		&ref.CompletedAt, &ref.Notes, &ref.CreatedAt, &ref.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrReferralNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

func (r *referralRepoPG) Create(ctx context.Context, ref *Referral) error {
	if ref.ID == uuid.Nil {
		ref.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO referrals (id, clinic_id, expertise_id, patient_id, patient_name, iin, referral_type,
			target_organization, reason, status, sent_at, accepted_at, completed_at, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING created_at, updated_at`,
		ref.ID, ref.ClinicID, ref.ExpertiseID, ref.PatientID, ref.PatientName, ref.IIN, ref.ReferralType,
		ref.TargetOrganization, ref.Reason, ref.Status, ref.SentAt, ref.AcceptedAt, ref.CompletedAt, ref.Notes,
	).Scan(&ref.CreatedAt, &ref.UpdatedAt)
}

func (r *referralRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Referral, error) {
	return scanReferral(r.conn(ctx).QueryRow(ctx, `SELECT `+referralCols+` FROM referrals WHERE id = $1`, id))
}

func (r *referralRepoPG) Update(ctx context.Context, ref *Referral) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE referrals SET patient_name=$2, iin=$3, referral_type=$4, target_organization=$5, reason=$6,
			status=$7, sent_at=$8, accepted_at=$9, completed_at=$10, notes=$11, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		ref.ID, ref.PatientName, ref.IIN, ref.ReferralType, ref.TargetOrganization, ref.Reason,
		ref.Status, ref.SentAt, ref.AcceptedAt, ref.CompletedAt, ref.Notes,
	).Scan(&ref.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrReferralNotFound
	}
	return err
}

func (r *referralRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM referrals WHERE id = $1`, id)
	return err
}

func (r *referralRepoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Referral, int, error) {
	where := ` WHERE clinic_id = $1`
	args := []interface{}{f.ClinicID}
	if f.PatientID != nil {
		args = append(args, *f.PatientID)
		where += fmt.Sprintf(` AND patient_id = $%d`, len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM referrals`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	n := len(args)
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+referralCols+` FROM referrals`+where+
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, n+1, n+2), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Referral
	for rows.Next() {
		ref, err := scanReferral(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, ref)
	}
	return items, total, rows.Err()
}

func (r *referralRepoPG) FindActive(ctx context.Context, patientID uuid.UUID, referralType string) (*Referral, error) {
	return scanReferral(r.conn(ctx).QueryRow(ctx, `SELECT `+referralCols+` FROM referrals
		WHERE patient_id = $1 AND referral_type = $2 AND status = ANY($3)
		ORDER BY created_at DESC LIMIT 1`, patientID, referralType, ActiveStatuses))
}
