package expertise

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medcrm/medcrm/internal/platform/db"
)

type expertiseRepoPG struct{ pool *pgxpool.Pool }

func NewExpertiseRepoPG(pool *pgxpool.Pool) Repository { return &expertiseRepoPG{pool: pool} }

func (r *expertiseRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const expertiseCols = `id, clinic_id, patient_id, patient_name, iin, position, department, route_sheet_id,
	doctor_conclusions, final_verdict, health_group, verdict_date, profpathologist_name, profpathologist_signature,
	temporary_unfit_until, reason, requires_referral, referral_type, referral_sent, referral_date, created_at, updated_at`

func scanExpertise(row pgx.Row) (*Expertise, error) {
	var e Expertise
	err := row.Scan(&e.ID, &e.ClinicID, &e.PatientID, &e.PatientName, &e.IIN, &e.Position, &e.Department,
		&e.RouteSheetID, &e.DoctorConclusions, &e.FinalVerdict, &e.HealthGroup, &e.VerdictDate,
		&e.ProfpathologistName, &e.ProfpathologistSignature, &e.TemporaryUnfitUntil, &e.Reason,
		&e.RequiresReferral, &e.ReferralType, &e.ReferralSent, &e.ReferralDate, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrExpertiseNotFound
	}
	if err != nil {
		return nil, err
	}
	if e.DoctorConclusions == nil {
		e.DoctorConclusions = []Conclusion{}
	}
	return &e, nil
}

func collectExpertises(rows pgx.Rows) ([]*Expertise, error) {
	defer rows.Close()
	var items []*Expertise
	for rows.Next() {
		e, err := scanExpertise(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func (r *expertiseRepoPG) Create(ctx context.Context, e *Expertise) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.DoctorConclusions == nil {
		e.DoctorConclusions = []Conclusion{}
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO expertises (id, clinic_id, patient_id, patient_name, iin, position, department, route_sheet_id,
			doctor_conclusions, final_verdict, health_group, verdict_date, profpathologist_name,
			profpathologist_signature, temporary_unfit_until, reason, requires_referral, referral_type,
			referral_sent, referral_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		RETURNING created_at, updated_at`,
		e.ID, e.ClinicID, e.PatientID, e.PatientName, e.IIN, e.Position, e.Department, e.RouteSheetID,
		e.DoctorConclusions, e.FinalVerdict, e.HealthGroup, e.VerdictDate, e.ProfpathologistName,
		e.ProfpathologistSignature, e.TemporaryUnfitUntil, e.Reason, e.RequiresReferral, e.ReferralType,
		e.ReferralSent, e.ReferralDate,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
}

func (r *expertiseRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Expertise, error) {
	return scanExpertise(r.conn(ctx).QueryRow(ctx, `SELECT `+expertiseCols+` FROM expertises WHERE id = $1`, id))
}

func (r *expertiseRepoPG) Update(ctx context.Context, e *Expertise) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE expertises SET patient_name=$2, iin=$3, position=$4, department=$5, route_sheet_id=$6,
			doctor_conclusions=$7, final_verdict=$8, health_group=$9, verdict_date=$10, profpathologist_name=$11,
			profpathologist_signature=$12, temporary_unfit_until=$13, reason=$14, requires_referral=$15,
			referral_type=$16, referral_sent=$17, referral_date=$18, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		e.ID, e.PatientName, e.IIN, e.Position, e.Department, e.RouteSheetID, e.DoctorConclusions,
		e.FinalVerdict, e.HealthGroup, e.VerdictDate, e.ProfpathologistName, e.ProfpathologistSignature,
		e.TemporaryUnfitUntil, e.Reason, e.RequiresReferral, e.ReferralType, e.ReferralSent, e.ReferralDate,
	).Scan(&e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrExpertiseNotFound
	}
	return err
}

func (r *expertiseRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM expertises WHERE id = $1`, id)
	return err
}

func whereFilter(f Filter) (string, []interface{}) {
	clauses := []string{"clinic_id = $1"}
	args := []interface{}{f.ClinicID}
	add := func(clause string, v interface{}) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.Department != "" {
		add("department = $%d", f.Department)
	}
	if f.WithVerdict {
		clauses = append(clauses, "final_verdict IS NOT NULL")
	}
	if f.NonFit {
		clauses = append(clauses, "final_verdict IN ('temporary_unfit', 'permanent_unfit')")
	}
	if f.VerdictFrom != nil {
		add("verdict_date >= $%d", *f.VerdictFrom)
	}
	if f.VerdictTo != nil {
		add("verdict_date <= $%d", *f.VerdictTo)
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r *expertiseRepoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Expertise, int, error) {
	where, args := whereFilter(f)
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM expertises`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	n := len(args)
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+expertiseCols+` FROM expertises`+where+
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, n+1, n+2), args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectExpertises(rows)
	return items, total, err
}

func (r *expertiseRepoPG) Find(ctx context.Context, f Filter) ([]*Expertise, error) {
	where, args := whereFilter(f)
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+expertiseCols+` FROM expertises`+where+
		` ORDER BY department, patient_name`, args...)
	if err != nil {
		return nil, err
	}
	return collectExpertises(rows)
}

func (r *expertiseRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Expertise, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+expertiseCols+` FROM expertises
		WHERE patient_id = $1 ORDER BY created_at DESC`, patientID)
	if err != nil {
		return nil, err
	}
	return collectExpertises(rows)
}
