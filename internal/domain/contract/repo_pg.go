package contract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/medcrm/medcrm/internal/platform/db"
)

type contractRepoPG struct{ pool *pgxpool.Pool }

func NewContractRepoPG(pool *pgxpool.Pool) Repository { return &contractRepoPG{pool: pool} }

func (r *contractRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

// Money columns travel as text so decimals never pass through float64.
const contractCols = `id, employer_id, clinic_id, employer_bin, employer_phone, contract_number,
	contract_date, amount::text, people_count, execution_date, status, scan_files, notes,
	approved_by_employer_at, approved_by_clinic_at, sent_at, executed_at, execution_type,
	executed_by_clinic_at, execution_notes, confirmed_by_employer_at, employer_rejection_reason,
	rejection_reason, is_subcontracted, subcontract_status, original_clinic_id, subcontractor_clinic_id,
	subcontracted_at, subcontract_accepted_at, subcontract_rejected_at, subcontract_rejection_reason,
	subcontract_amount::text, created_at, updated_at`

func scanContract(row pgx.Row) (*Contract, error) {
	var c Contract
	var amount string
	var subAmount *string
	err := row.Scan(&c.ID, &c.EmployerID, &c.ClinicID, &c.EmployerBIN, &c.EmployerPhone, &c.ContractNumber,
		&c.ContractDate, &amount, &c.PeopleCount, &c.ExecutionDate, &c.Status, &c.ScanFiles, &c.Notes,
		&c.ApprovedByEmployerAt, &c.ApprovedByClinicAt, &c.SentAt, &c.ExecutedAt, &c.ExecutionType,
		&c.ExecutedByClinicAt, &c.ExecutionNotes, &c.ConfirmedByEmployerAt, &c.EmployerRejectionReason,
		&c.RejectionReason, &c.IsSubcontracted, &c.SubcontractStatus, &c.OriginalClinicID, &c.SubcontractorClinicID,
		&c.SubcontractedAt, &c.SubcontractAcceptedAt, &c.SubcontractRejectedAt, &c.SubcontractRejectionReason,
		&subAmount, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrContractNotFound
	}
	if err != nil {
		return nil, err
	}
	if c.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	if subAmount != nil {
		d, err := decimal.NewFromString(*subAmount)
		if err != nil {
			return nil, fmt.Errorf("parse subcontract amount: %w", err)
		}
		c.SubcontractAmount = &d
	}
	if c.ScanFiles == nil {
		c.ScanFiles = []ScanFile{}
	}
	return &c, nil
}

func decimalArg(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func (r *contractRepoPG) Create(ctx context.Context, c *Contract) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.ScanFiles == nil {
		c.ScanFiles = []ScanFile{}
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO contracts (id, employer_id, clinic_id, employer_bin, employer_phone, contract_number,
			contract_date, amount, people_count, execution_date, status, scan_files, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8::numeric,$9,$10,$11,$12,$13)
		RETURNING created_at, updated_at`,
		c.ID, c.EmployerID, c.ClinicID, c.EmployerBIN, c.EmployerPhone, c.ContractNumber,
		c.ContractDate, c.Amount.String(), c.PeopleCount, c.ExecutionDate, c.Status, c.ScanFiles, c.Notes,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
}

func (r *contractRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Contract, error) {
	return scanContract(r.conn(ctx).QueryRow(ctx, `SELECT `+contractCols+` FROM contracts WHERE id = $1`, id))
}

func (r *contractRepoPG) Update(ctx context.Context, c *Contract) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE contracts SET employer_id=$2, clinic_id=$3, employer_bin=$4, employer_phone=$5,
			contract_number=$6, contract_date=$7, amount=$8::numeric, people_count=$9, execution_date=$10,
			status=$11, scan_files=$12, notes=$13, approved_by_employer_at=$14, approved_by_clinic_at=$15,
			sent_at=$16, executed_at=$17, execution_type=$18, executed_by_clinic_at=$19, execution_notes=$20,
			confirmed_by_employer_at=$21, employer_rejection_reason=$22, rejection_reason=$23,
			is_subcontracted=$24, subcontract_status=$25, original_clinic_id=$26, subcontractor_clinic_id=$27,
			subcontracted_at=$28, subcontract_accepted_at=$29, subcontract_rejected_at=$30,
			subcontract_rejection_reason=$31, subcontract_amount=$32::numeric, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		c.ID, c.EmployerID, c.ClinicID, c.EmployerBIN, c.EmployerPhone,
		c.ContractNumber, c.ContractDate, c.Amount.String(), c.PeopleCount, c.ExecutionDate,
		c.Status, c.ScanFiles, c.Notes, c.ApprovedByEmployerAt, c.ApprovedByClinicAt,
		c.SentAt, c.ExecutedAt, c.ExecutionType, c.ExecutedByClinicAt, c.ExecutionNotes,
		c.ConfirmedByEmployerAt, c.EmployerRejectionReason, c.RejectionReason,
		c.IsSubcontracted, c.SubcontractStatus, c.OriginalClinicID, c.SubcontractorClinicID,
		c.SubcontractedAt, c.SubcontractAcceptedAt, c.SubcontractRejectedAt,
		c.SubcontractRejectionReason, decimalArg(c.SubcontractAmount),
	).Scan(&c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrContractNotFound
	}
	return err
}

// whereFilter renders f as a WHERE clause starting at placeholder $1.
func whereFilter(f Filter) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	add := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	switch {
	case f.EmployerID != nil:
		or := []string{"employer_id = " + add(*f.EmployerID)}
		if len(f.BINs) > 0 {
			or = append(or, "employer_bin = ANY("+add(f.BINs)+")")
		}
		clauses = append(clauses, "("+strings.Join(or, " OR ")+")")
	case f.ClinicID != nil:
		p := add(*f.ClinicID)
		clauses = append(clauses, "(clinic_id = "+p+" OR original_clinic_id = "+p+" OR subcontractor_clinic_id = "+p+")")
	default:
		clauses = append(clauses, "FALSE")
	}
	if f.Status != "" {
		clauses = append(clauses, "status = "+add(f.Status))
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r *contractRepoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Contract, int, error) {
	where, args := whereFilter(f)
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM contracts`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	n := len(args)
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+contractCols+` FROM contracts`+where+
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, n+1, n+2), args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectContracts(rows)
	return items, total, err
}

func (r *contractRepoPG) ListUnlinked(ctx context.Context, bin string) ([]*Contract, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+contractCols+` FROM contracts
		WHERE employer_id IS NULL AND employer_bin <> ''
			AND ($1 = '' OR regexp_replace(employer_bin, '\s', '', 'g') = $1)
		ORDER BY created_at`, bin)
	if err != nil {
		return nil, err
	}
	return collectContracts(rows)
}

func collectContracts(rows pgx.Rows) ([]*Contract, error) {
	defer rows.Close()
	var items []*Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

// -- History --

type historyRepoPG struct{ pool *pgxpool.Pool }

func NewHistoryRepoPG(pool *pgxpool.Pool) HistoryRepository { return &historyRepoPG{pool: pool} }

func (r *historyRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

func (r *historyRepoPG) Append(ctx context.Context, h *History) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	if h.Changes == nil {
		h.Changes = map[string]interface{}{}
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO contract_history (id, contract_id, action, user_id, user_role, user_name, comment,
			old_status, new_status, changes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at`,
		h.ID, h.ContractID, h.Action, h.UserID, h.UserRole, h.UserName, h.Comment,
		h.OldStatus, h.NewStatus, h.Changes,
	).Scan(&h.CreatedAt)
}

func (r *historyRepoPG) ListByContract(ctx context.Context, contractID uuid.UUID) ([]*History, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, contract_id, action, user_id, user_role, user_name, comment, old_status, new_status,
			changes, created_at
		FROM contract_history WHERE contract_id = $1 ORDER BY created_at DESC`, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*History
	for rows.Next() {
		var h History
		if err := rows.Scan(&h.ID, &h.ContractID, &h.Action, &h.UserID, &h.UserRole, &h.UserName, &h.Comment,
			&h.OldStatus, &h.NewStatus, &h.Changes, &h.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &h)
	}
	return items, rows.Err()
}
