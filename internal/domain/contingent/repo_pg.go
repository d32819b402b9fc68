package contingent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medcrm/medcrm/internal/platform/db"
	"github.com/medcrm/medcrm/pkg/dateonly"
)

type employeeRepoPG struct{ pool *pgxpool.Pool }

func NewEmployeeRepoPG(pool *pgxpool.Pool) Repository { return &employeeRepoPG{pool: pool} }

func (r *employeeRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const employeeCols = `e.id, e.owner_id, e.contract_id, e.name, e.birth_date, e.gender, e.department,
	e.position, e.total_experience_years, e.position_experience_years, e.last_examination_date,
	e.harmful_factors, e.notes, e.iin, e.phone, e.requires_examination, e.next_examination_date,
	e.quarter, e.created_at, e.updated_at,
	c.contract_number, NULLIF(u.registration_data->>'name', ''), rs.visit_date, rs.services`

const employeeFrom = ` FROM contingent_employees e
	LEFT JOIN contracts c ON c.id = e.contract_id
	LEFT JOIN users u ON u.id = c.employer_id
	LEFT JOIN LATERAL (
		SELECT visit_date, services FROM route_sheets
		WHERE patient_id = e.id ORDER BY visit_date DESC LIMIT 1
	) rs ON TRUE`

func scanEmployee(row pgx.Row) (*Employee, error) {
	var e Employee
	var visit *dateonly.Date
	var services []byte
	err := row.Scan(&e.ID, &e.OwnerID, &e.ContractID, &e.Name, &e.BirthDate, &e.Gender, &e.Department,
		&e.Position, &e.TotalExperienceYears, &e.PositionExperienceYears, &e.LastExaminationDate,
		&e.HarmfulFactors, &e.Notes, &e.IIN, &e.Phone, &e.RequiresExamination, &e.NextExaminationDate,
		&e.Quarter, &e.CreatedAt, &e.UpdatedAt,
		&e.ContractNumber, &e.EmployerName, &visit, &services)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEmployeeNotFound
	}
	if err != nil {
		return nil, err
	}
	if e.HarmfulFactors == nil {
		e.HarmfulFactors = []string{}
	}
	if visit != nil {
		ls := &latestSheet{VisitDate: *visit}
		if len(services) > 0 {
			// Legacy rows may hold a non-array value; treat those as empty.
			_ = json.Unmarshal(services, &ls.Services)
		}
		e.latestSheet = ls
	}
	return &e, nil
}

func (r *employeeRepoPG) Create(ctx context.Context, e *Employee) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.HarmfulFactors == nil {
		e.HarmfulFactors = []string{}
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO contingent_employees (id, owner_id, contract_id, name, birth_date, gender, department,
			position, total_experience_years, position_experience_years, last_examination_date,
			harmful_factors, notes, iin, phone, requires_examination, next_examination_date, quarter)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		RETURNING created_at, updated_at`,
		e.ID, e.OwnerID, e.ContractID, e.Name, e.BirthDate, e.Gender, e.Department,
		e.Position, e.TotalExperienceYears, e.PositionExperienceYears, e.LastExaminationDate,
		e.HarmfulFactors, e.Notes, e.IIN, e.Phone, e.RequiresExamination, e.NextExaminationDate, e.Quarter,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
}

func (r *employeeRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Employee, error) {
	return scanEmployee(r.conn(ctx).QueryRow(ctx, `SELECT `+employeeCols+employeeFrom+` WHERE e.id = $1`, id))
}

func (r *employeeRepoPG) Update(ctx context.Context, e *Employee) error {
	if e.HarmfulFactors == nil {
		e.HarmfulFactors = []string{}
	}
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE contingent_employees SET contract_id=$2, name=$3, birth_date=$4, gender=$5, department=$6,
			position=$7, total_experience_years=$8, position_experience_years=$9, last_examination_date=$10,
			harmful_factors=$11, notes=$12, iin=$13, phone=$14, requires_examination=$15,
			next_examination_date=$16, quarter=$17, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		e.ID, e.ContractID, e.Name, e.BirthDate, e.Gender, e.Department,
		e.Position, e.TotalExperienceYears, e.PositionExperienceYears, e.LastExaminationDate,
		e.HarmfulFactors, e.Notes, e.IIN, e.Phone, e.RequiresExamination,
		e.NextExaminationDate, e.Quarter,
	).Scan(&e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrEmployeeNotFound
	}
	return err
}

func (r *employeeRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM contingent_employees WHERE id = $1`, id)
	return err
}

// whereFilter renders f as a WHERE clause starting at placeholder $1.
func whereFilter(f Filter) (string, []interface{}) {
	var args []interface{}
	var or []string
	if f.OwnerID != uuid.Nil {
		args = append(args, f.OwnerID)
		or = append(or, fmt.Sprintf("e.owner_id = $%d", len(args)))
	}
	if f.IncludeEmployers {
		or = append(or, "e.owner_id IN (SELECT id FROM users WHERE role = 'employer')")
	}
	clause := "FALSE"
	if len(or) > 0 {
		clause = "(" + strings.Join(or, " OR ") + ")"
	}
	if f.Department != "" {
		args = append(args, f.Department)
		clause += fmt.Sprintf(" AND e.department = $%d", len(args))
	}
	return " WHERE " + clause, args
}

func (r *employeeRepoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Employee, int, error) {
	where, args := whereFilter(f)
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM contingent_employees e`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	n := len(args)
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+employeeCols+employeeFrom+where+
		fmt.Sprintf(` ORDER BY e.created_at DESC LIMIT $%d OFFSET $%d`, n+1, n+2), args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectEmployees(rows)
	return items, total, err
}

func (r *employeeRepoPG) FindOne(ctx context.Context, f Filter, l Lookup) (*Employee, error) {
	where, args := whereFilter(f)
	var cond string
	switch {
	case l.ID != nil:
		args = append(args, *l.ID)
		cond = "e.id = $%d"
	case l.IIN != "":
		args = append(args, l.IIN)
		cond = "e.iin = $%d"
	case l.PhoneDigits != "":
		args = append(args, l.PhoneDigits)
		cond = "strpos(regexp_replace(e.phone, '\\D', '', 'g'), $%d) > 0"
	case strings.TrimSpace(l.Name) != "":
		args = append(args, strings.TrimSpace(l.Name))
		cond = "strpos(lower(e.name), lower($%d)) > 0"
	default:
		return nil, ErrEmployeeNotFound
	}
	return scanEmployee(r.conn(ctx).QueryRow(ctx, `SELECT `+employeeCols+employeeFrom+where+
		" AND "+fmt.Sprintf(cond, len(args))+` ORDER BY e.created_at LIMIT 1`, args...))
}

func (r *employeeRepoPG) HasDuplicate(ctx context.Context, ownerID uuid.UUID, iin, name string, birth *dateonly.Date) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM contingent_employees
			WHERE owner_id = $1
				AND ((length($2::text) >= 10 AND iin = $2::text) OR (name = $3 AND birth_date IS NOT DISTINCT FROM $4::date))
		)`, ownerID, iin, name, birth).Scan(&exists)
	return exists, err
}

func (r *employeeRepoPG) DeleteByOwner(ctx context.Context, ownerID uuid.UUID) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM contingent_employees WHERE owner_id = $1`, ownerID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func collectEmployees(rows pgx.Rows) ([]*Employee, error) {
	defer rows.Close()
	var items []*Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}
