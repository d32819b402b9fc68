package routesheet

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

type routeSheetRepoPG struct{ pool *pgxpool.Pool }

func NewRouteSheetRepoPG(pool *pgxpool.Pool) Repository { return &routeSheetRepoPG{pool: pool} }

func (r *routeSheetRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const sheetCols = `id, clinic_id, patient_id, patient_name, iin, position, department, visit_date, services, created_at`

func scanSheet(row pgx.Row) (*RouteSheet, error) {
	var s RouteSheet
	err := row.Scan(&s.ID, &s.ClinicID, &s.PatientID, &s.PatientName, &s.IIN, &s.Position, &s.Department,
		&s.VisitDate, &s.Services, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRouteSheetNotFound
	}
	if err != nil {
		return nil, err
	}
	if s.Services == nil {
		s.Services = []Visit{}
	}
	return &s, nil
}

func (r *routeSheetRepoPG) Create(ctx context.Context, s *RouteSheet) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Services == nil {
		s.Services = []Visit{}
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO route_sheets (id, clinic_id, patient_id, patient_name, iin, position, department, visit_date, services)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at`,
		s.ID, s.ClinicID, s.PatientID, s.PatientName, s.IIN, s.Position, s.Department, s.VisitDate, s.Services,
	).Scan(&s.CreatedAt)
}

func (r *routeSheetRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*RouteSheet, error) {
	return scanSheet(r.conn(ctx).QueryRow(ctx, `SELECT `+sheetCols+` FROM route_sheets WHERE id = $1`, id))
}

func (r *routeSheetRepoPG) UpdateServices(ctx context.Context, s *RouteSheet) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE route_sheets SET services = $2 WHERE id = $1`, s.ID, s.Services)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRouteSheetNotFound
	}
	return nil
}

func (r *routeSheetRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM route_sheets WHERE id = $1`, id)
	return err
}

func whereFilter(f Filter) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	add := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.ClinicID != nil {
		clauses = append(clauses, "clinic_id = "+add(*f.ClinicID))
	}
	if f.EmployerID != nil {
		clauses = append(clauses, "patient_id IN (SELECT id FROM contingent_employees WHERE owner_id = "+add(*f.EmployerID)+")")
	}
	if f.PatientID != nil {
		clauses = append(clauses, "patient_id = "+add(*f.PatientID))
	}
	if f.VisitDate != nil {
		clauses = append(clauses, "visit_date = "+add(*f.VisitDate))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r *routeSheetRepoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*RouteSheet, int, error) {
	where, args := whereFilter(f)
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM route_sheets`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	n := len(args)
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+sheetCols+` FROM route_sheets`+where+
		fmt.Sprintf(` ORDER BY visit_date DESC, created_at DESC LIMIT $%d OFFSET $%d`, n+1, n+2), args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectSheets(rows)
	return items, total, err
}

func (r *routeSheetRepoPG) FindByPatientDate(ctx context.Context, clinicID, patientID uuid.UUID, visitDate dateonly.Date) (*RouteSheet, error) {
	return scanSheet(r.conn(ctx).QueryRow(ctx, `SELECT `+sheetCols+` FROM route_sheets
		WHERE clinic_id = $1 AND patient_id = $2 AND visit_date = $3`, clinicID, patientID, visitDate))
}

func (r *routeSheetRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*RouteSheet, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+sheetCols+` FROM route_sheets
		WHERE patient_id = $1 ORDER BY visit_date DESC, created_at DESC`, patientID)
	if err != nil {
		return nil, err
	}
	return collectSheets(rows)
}

func collectSheets(rows pgx.Rows) ([]*RouteSheet, error) {
	defer rows.Close()
	var items []*RouteSheet
	for rows.Next() {
		s, err := scanSheet(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

// -- Tests --

type testRepoPG struct {
	pool  *pgxpool.Pool
	table string
}

// NewLaboratoryTestRepoPG stores tests in laboratory_tests.
func NewLaboratoryTestRepoPG(pool *pgxpool.Pool) TestRepository {
	return &testRepoPG{pool: pool, table: "laboratory_tests"}
}

// NewFunctionalTestRepoPG stores tests in functional_tests.
func NewFunctionalTestRepoPG(pool *pgxpool.Pool) TestRepository {
	return &testRepoPG{pool: pool, table: "functional_tests"}
}

func (r *testRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const testCols = `id, route_sheet_id, patient_id, patient_name, test_type, test_name, status, results,
	notes, performed_by, performed_at, created_at, updated_at`

func scanTest(row pgx.Row) (*Test, error) {
	var t Test
	err := row.Scan(&t.ID, &t.RouteSheetID, &t.PatientID, &t.PatientName, &t.TestType, &t.TestName, &t.Status,
		&t.Results, &t.Notes, &t.PerformedBy, &t.PerformedAt, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTestNotFound
	}
	if err != nil {
		return nil, err
	}
	if t.Results == nil {
		t.Results = map[string]interface{}{}
	}
	return &t, nil
}

func (r *testRepoPG) Create(ctx context.Context, t *Test) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Results == nil {
		t.Results = map[string]interface{}{}
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO `+r.table+` (id, route_sheet_id, patient_id, patient_name, test_type, test_name, status,
			results, notes, performed_by, performed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		t.ID, t.RouteSheetID, t.PatientID, t.PatientName, t.TestType, t.TestName, t.Status,
		t.Results, t.Notes, t.PerformedBy, t.PerformedAt,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (r *testRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Test, error) {
	return scanTest(r.conn(ctx).QueryRow(ctx, `SELECT `+testCols+` FROM `+r.table+` WHERE id = $1`, id))
}

func (r *testRepoPG) Update(ctx context.Context, t *Test) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE `+r.table+` SET route_sheet_id=$2, patient_id=$3, patient_name=$4, test_type=$5, test_name=$6,
			status=$7, results=$8, notes=$9, performed_by=$10, performed_at=$11, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		t.ID, t.RouteSheetID, t.PatientID, t.PatientName, t.TestType, t.TestName,
		t.Status, t.Results, t.Notes, t.PerformedBy, t.PerformedAt,
	).Scan(&t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrTestNotFound
	}
	return err
}

func (r *testRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM `+r.table+` WHERE id = $1`, id)
	return err
}

func (r *testRepoPG) List(ctx context.Context, f TestFilter, limit, offset int) ([]*Test, int, error) {
	var clauses []string
	var args []interface{}
	if f.PatientID != nil {
		args = append(args, *f.PatientID)
		clauses = append(clauses, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if f.RouteSheetID != nil {
		args = append(args, *f.RouteSheetID)
		clauses = append(clauses, fmt.Sprintf("route_sheet_id = $%d", len(args)))
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM `+r.table+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	n := len(args)
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+testCols+` FROM `+r.table+where+
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, n+1, n+2), args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectTests(rows)
	return items, total, err
}

func (r *testRepoPG) ListBySheet(ctx context.Context, routeSheetID uuid.UUID) ([]*Test, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+testCols+` FROM `+r.table+`
		WHERE route_sheet_id = $1 ORDER BY created_at`, routeSheetID)
	if err != nil {
		return nil, err
	}
	return collectTests(rows)
}

func collectTests(rows pgx.Rows) ([]*Test, error) {
	defer rows.Close()
	var items []*Test
	for rows.Next() {
		t, err := scanTest(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}
