package healthplan

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medcrm/medcrm/internal/platform/db"
)

// -- Plans --

type planRepoPG struct{ pool *pgxpool.Pool }

func NewPlanRepoPG(pool *pgxpool.Pool) PlanRepository { return &planRepoPG{pool: pool} }

func (r *planRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const planCols = `id, owner_id, year, plan_data, status, approved_by_tsb_at, created_at, updated_at`

func scanPlan(row pgx.Row) (*Plan, error) {
	var p Plan
	err := row.Scan(&p.ID, &p.OwnerID, &p.Year, &p.PlanData, &p.Status, &p.ApprovedByTSBAt, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, err
	}
	if p.PlanData == nil {
		p.PlanData = map[string]interface{}{}
	}
	return &p, nil
}

func (r *planRepoPG) Create(ctx context.Context, p *Plan) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.PlanData == nil {
		p.PlanData = map[string]interface{}{}
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO health_improvement_plans (id, owner_id, year, plan_data, status, approved_by_tsb_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at, updated_at`,
		p.ID, p.OwnerID, p.Year, p.PlanData, p.Status, p.ApprovedByTSBAt,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *planRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Plan, error) {
	return scanPlan(r.conn(ctx).QueryRow(ctx, `SELECT `+planCols+` FROM health_improvement_plans WHERE id = $1`, id))
}

func (r *planRepoPG) Update(ctx context.Context, p *Plan) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE health_improvement_plans SET year=$2, plan_data=$3, status=$4, approved_by_tsb_at=$5, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.Year, p.PlanData, p.Status, p.ApprovedByTSBAt,
	).Scan(&p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrPlanNotFound
	}
	return err
}

func (r *planRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM health_improvement_plans WHERE id = $1`, id)
	return err
}

func (r *planRepoPG) ListByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*Plan, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM health_improvement_plans WHERE owner_id = $1`, ownerID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+planCols+` FROM health_improvement_plans
		WHERE owner_id = $1 ORDER BY year DESC, created_at DESC LIMIT $2 OFFSET $3`, ownerID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

// -- Recommendations --

type recommendationRepoPG struct{ pool *pgxpool.Pool }

func NewRecommendationRepoPG(pool *pgxpool.Pool) RecommendationRepository {
	return &recommendationRepoPG{pool: pool}
}

func (r *recommendationRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const recommendationCols = `id, owner_id, patient_id, patient_name, recommendation, recommendation_type, status,
	completion_date, notes, created_at, updated_at`

func scanRecommendation(row pgx.Row) (*Recommendation, error) {
	var rec Recommendation
	err := row.Scan(&rec.ID, &rec.OwnerID, &rec.PatientID, &rec.PatientName, &rec.Recommendation,
		&rec.RecommendationType, &rec.Status, &rec.CompletionDate, &rec.Notes, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecommendationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *recommendationRepoPG) Create(ctx context.Context, rec *Recommendation) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO recommendations (id, owner_id, patient_id, patient_name, recommendation, recommendation_type,
			status, completion_date, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		rec.ID, rec.OwnerID, rec.PatientID, rec.PatientName, rec.Recommendation, rec.RecommendationType,
		rec.Status, rec.CompletionDate, rec.Notes,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
}

func (r *recommendationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Recommendation, error) {
	return scanRecommendation(r.conn(ctx).QueryRow(ctx, `SELECT `+recommendationCols+` FROM recommendations WHERE id = $1`, id))
}

func (r *recommendationRepoPG) Update(ctx context.Context, rec *Recommendation) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE recommendations SET patient_name=$2, recommendation=$3, recommendation_type=$4, status=$5,
			completion_date=$6, notes=$7, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		rec.ID, rec.PatientName, rec.Recommendation, rec.RecommendationType, rec.Status, rec.CompletionDate, rec.Notes,
	).Scan(&rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrRecommendationNotFound
	}
	return err
}

func (r *recommendationRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM recommendations WHERE id = $1`, id)
	return err
}

func (r *recommendationRepoPG) List(ctx context.Context, f RecommendationFilter, limit, offset int) ([]*Recommendation, int, error) {
	where := ` WHERE owner_id = $1`
	args := []interface{}{f.OwnerID}
	if f.PatientID != nil {
		args = append(args, *f.PatientID)
		where += fmt.Sprintf(` AND patient_id = $%d`, len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM recommendations`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	n := len(args)
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+recommendationCols+` FROM recommendations`+where+
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, n+1, n+2), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Recommendation
	for rows.Next() {
		rec, err := scanRecommendation(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rec)
	}
	return items, total, rows.Err()
}
