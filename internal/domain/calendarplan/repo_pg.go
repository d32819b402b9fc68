package calendarplan

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medcrm/medcrm/internal/platform/db"
	"github.com/medcrm/medcrm/pkg/dateonly"
)

type planRepoPG struct{ pool *pgxpool.Pool }

func NewPlanRepoPG(pool *pgxpool.Pool) Repository { return &planRepoPG{pool: pool} }

func (r *planRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const planCols = `p.id, p.clinic_id, p.contract_id, c.contract_number, p.department, p.start_date, p.end_date,
	p.employee_ids, p.departments_info, p.harmful_factors, p.selected_doctors, p.status, p.clinic_name,
	p.clinic_director, p.employer_name, p.employer_representative, p.ses_representative, p.rejection_reason,
	p.rejected_by_employer_at, p.approved_by_clinic_at, p.approved_by_employer_at, p.sent_to_ses_at,
	p.created_at, p.updated_at`

const planFrom = ` FROM calendar_plans p LEFT JOIN contracts c ON c.id = p.contract_id`

func scanPlan(row pgx.Row) (*CalendarPlan, error) {
	var p CalendarPlan
	err := row.Scan(&p.ID, &p.ClinicID, &p.ContractID, &p.ContractNumber, &p.Department, &p.StartDate, &p.EndDate,
		&p.EmployeeIDs, &p.DepartmentsInfo, &p.HarmfulFactors, &p.SelectedDoctors, &p.Status, &p.ClinicName,
		&p.ClinicDirector, &p.EmployerName, &p.EmployerRepresentative, &p.SESRepresentative, &p.RejectionReason,
		&p.RejectedByEmployerAt, &p.ApprovedByClinicAt, &p.ApprovedByEmployerAt, &p.SentToSESAt,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, err
	}
	normalize(&p)
	return &p, nil
}

// normalize replaces nil collections so they encode as [].
func normalize(p *CalendarPlan) {
	if p.EmployeeIDs == nil {
		p.EmployeeIDs = []uuid.UUID{}
	}
	if p.DepartmentsInfo == nil {
		p.DepartmentsInfo = []Window{}
	}
	if p.HarmfulFactors == nil {
		p.HarmfulFactors = []string{}
	}
	if p.SelectedDoctors == nil {
		p.SelectedDoctors = []interface{}{}
	}
}

func (r *planRepoPG) Create(ctx context.Context, p *CalendarPlan) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	normalize(p)
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO calendar_plans (id, clinic_id, contract_id, department, start_date, end_date, employee_ids,
			departments_info, harmful_factors, selected_doctors, status, clinic_name, clinic_director,
			employer_name, employer_representative, ses_representative)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		RETURNING created_at, updated_at`,
		p.ID, p.ClinicID, p.ContractID, p.Department, p.StartDate, p.EndDate, p.EmployeeIDs,
		p.DepartmentsInfo, p.HarmfulFactors, p.SelectedDoctors, p.Status, p.ClinicName, p.ClinicDirector,
		p.EmployerName, p.EmployerRepresentative, p.SESRepresentative,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *planRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*CalendarPlan, error) {
	return scanPlan(r.conn(ctx).QueryRow(ctx, `SELECT `+planCols+planFrom+` WHERE p.id = $1`, id))
}

func (r *planRepoPG) FindVisible(ctx context.Context, f Filter, id uuid.UUID) (*CalendarPlan, error) {
	where, args := whereFilter(f)
	args = append(args, id)
	return scanPlan(r.conn(ctx).QueryRow(ctx, `SELECT `+planCols+planFrom+where+
		fmt.Sprintf(` AND p.id = $%d`, len(args)), args...))
}

func (r *planRepoPG) Update(ctx context.Context, p *CalendarPlan) error {
	normalize(p)
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE calendar_plans SET contract_id=$2, department=$3, start_date=$4, end_date=$5, employee_ids=$6,
			departments_info=$7, harmful_factors=$8, selected_doctors=$9, status=$10, clinic_name=$11,
			clinic_director=$12, employer_name=$13, employer_representative=$14, ses_representative=$15,
			rejection_reason=$16, rejected_by_employer_at=$17, approved_by_clinic_at=$18,
			approved_by_employer_at=$19, sent_to_ses_at=$20, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.ContractID, p.Department, p.StartDate, p.EndDate, p.EmployeeIDs,
		p.DepartmentsInfo, p.HarmfulFactors, p.SelectedDoctors, p.Status, p.ClinicName,
		p.ClinicDirector, p.EmployerName, p.EmployerRepresentative, p.SESRepresentative,
		p.RejectionReason, p.RejectedByEmployerAt, p.ApprovedByClinicAt,
		p.ApprovedByEmployerAt, p.SentToSESAt,
	).Scan(&p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrPlanNotFound
	}
	return err
}

func (r *planRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM calendar_plans WHERE id = $1`, id)
	return err
}

// whereFilter always returns a WHERE clause; a filter without a scope
// matches nothing.
func whereFilter(f Filter) (string, []interface{}) {
	var args []interface{}
	add := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	scope := "FALSE"
	switch {
	case f.ClinicID != nil:
		scope = "p.clinic_id = " + add(*f.ClinicID)
	case f.EmployerID != nil:
		ids := f.ContractIDs
		if ids == nil {
			ids = []uuid.UUID{}
		}
		scope = "(p.contract_id = ANY(" + add(ids) + "::uuid[]) OR p.employee_ids && ARRAY(" +
			"SELECT id FROM contingent_employees WHERE owner_id = " + add(*f.EmployerID) + "))"
	}
	where := " WHERE " + scope
	if f.Status != "" {
		where += " AND p.status = " + add(f.Status)
	}
	return where, args
}

func (r *planRepoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*CalendarPlan, int, error) {
	where, args := whereFilter(f)
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*)`+planFrom+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	n := len(args)
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+planCols+planFrom+where+
		fmt.Sprintf(` ORDER BY p.created_at DESC LIMIT $%d OFFSET $%d`, n+1, n+2), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*CalendarPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *planRepoPG) CoveringClinic(ctx context.Context, clinicID *uuid.UUID, employeeID uuid.UUID, date dateonly.Date) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT clinic_id FROM calendar_plans
		WHERE status IN ('approved', 'sent_to_ses')
		  AND $1::uuid = ANY(employee_ids)
		  AND start_date <= $2 AND end_date >= $2
		  AND ($3::uuid IS NULL OR clinic_id = $3)
		ORDER BY created_at
		LIMIT 1`, employeeID, date, clinicID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, nil
	}
	return id, err
}
