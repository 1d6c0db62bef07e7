package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tatibku/tatibku/internal/platform/db"
	"github.com/tatibku/tatibku/internal/shared"
)

// Repository provides access to the violation and sanction-type catalogs.
type Repository interface {
	ListViolations(ctx context.Context, filter ListFilter) ([]Violation, int, error)
	GetViolation(ctx context.Context, id int64) (Violation, error)
	CreateViolation(ctx context.Context, v Violation) (int64, error)
	UpdateViolation(ctx context.Context, id int64, v Violation) error
	AllowedSanctionIDs(ctx context.Context, violationID int64) ([]int64, error)

	ListSanctionTypes(ctx context.Context, filter ListFilter) ([]SanctionType, int, error)
	GetSanctionType(ctx context.Context, id int64) (SanctionType, error)
	CreateSanctionType(ctx context.Context, st SanctionType) (int64, error)
	UpdateSanctionType(ctx context.Context, id int64, st SanctionType) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the pgx-backed catalog repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) ListViolations(ctx context.Context, filter ListFilter) ([]Violation, int, error) {
	query := `SELECT id, code, name, points, active, created_at, updated_at FROM violations WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM violations WHERE 1=1`
	var args []interface{}
	argCount := 0

	if filter.Search != "" {
		argCount++
		clause := ` AND (name ILIKE $` + strconv.Itoa(argCount) + ` OR code ILIKE $` + strconv.Itoa(argCount) + `)`
		query += clause
		countQuery += clause
		args = append(args, "%"+filter.Search+"%")
	}

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += " ORDER BY code ASC"
	p := shared.NewPagination(filter.Page, filter.PerPage, total)
	argCount++
	query += " LIMIT $" + strconv.Itoa(argCount)
	args = append(args, p.PerPage)
	argCount++
	query += " OFFSET $" + strconv.Itoa(argCount)
	args = append(args, p.Offset())

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var violations []Violation
	for rows.Next() {
		var v Violation
		if err := rows.Scan(&v.ID, &v.Code, &v.Name, &v.Points, &v.Active, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, 0, err
		}
		violations = append(violations, v)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	for i := range violations {
		ids, err := r.AllowedSanctionIDs(ctx, violations[i].ID)
		if err != nil {
			return nil, 0, err
		}
		violations[i].AllowedSanctionTypeIDs = ids
	}
	return violations, total, nil
}

func (r *repository) GetViolation(ctx context.Context, id int64) (Violation, error) {
	var v Violation
	err := r.pool.QueryRow(ctx,
		`SELECT id, code, name, points, active, created_at, updated_at FROM violations WHERE id = $1`, id).
		Scan(&v.ID, &v.Code, &v.Name, &v.Points, &v.Active, &v.CreatedAt, &v.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Violation{}, fmt.Errorf("%w: violation %d", shared.ErrNotFound, id)
	}
	if err != nil {
		return Violation{}, err
	}
	ids, err := r.allowedIDs(ctx, id)
	if err != nil {
		return Violation{}, err
	}
	v.AllowedSanctionTypeIDs = ids
	return v, nil
}

func (r *repository) CreateViolation(ctx context.Context, v Violation) (int64, error) {
	var id int64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO violations (code, name, points, active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, NOW(), NOW())
			RETURNING id
		`, v.Code, v.Name, v.Points, v.Active).Scan(&id)
		if err != nil {
			return err
		}
		return replaceAllowedSanctions(ctx, tx, id, v.AllowedSanctionTypeIDs)
	})
	return id, err
}

func (r *repository) UpdateViolation(ctx context.Context, id int64, v Violation) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE violations SET code = $1, name = $2, points = $3, active = $4, updated_at = NOW()
			WHERE id = $5
		`, v.Code, v.Name, v.Points, v.Active, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: violation %d", shared.ErrNotFound, id)
		}
		return replaceAllowedSanctions(ctx, tx, id, v.AllowedSanctionTypeIDs)
	})
}

func replaceAllowedSanctions(ctx context.Context, tx pgx.Tx, violationID int64, sanctionIDs []int64) error {
	if _, err := tx.Exec(ctx, `DELETE FROM violation_sanction_types WHERE violation_id = $1`, violationID); err != nil {
		return err
	}
	for _, sid := range sanctionIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO violation_sanction_types (violation_id, sanction_type_id) VALUES ($1, $2)`,
			violationID, sid); err != nil {
			return err
		}
	}
	return nil
}

// AllowedSanctionIDs returns the allowed-sanction set, or NotFound when the
// violation itself is unknown.
func (r *repository) AllowedSanctionIDs(ctx context.Context, violationID int64) ([]int64, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM violations WHERE id = $1)`, violationID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: violation %d", shared.ErrNotFound, violationID)
	}
	return r.allowedIDs(ctx, violationID)
}

func (r *repository) allowedIDs(ctx context.Context, violationID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT sanction_type_id FROM violation_sanction_types WHERE violation_id = $1 ORDER BY sanction_type_id`,
		violationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *repository) ListSanctionTypes(ctx context.Context, filter ListFilter) ([]SanctionType, int, error) {
	query := `SELECT id, name, level, duration_days, active, created_at, updated_at FROM sanction_types WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM sanction_types WHERE 1=1`
	var args []interface{}
	argCount := 0

	if filter.Search != "" {
		argCount++
		clause := ` AND name ILIKE $` + strconv.Itoa(argCount)
		query += clause
		countQuery += clause
		args = append(args, "%"+filter.Search+"%")
	}

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += " ORDER BY level ASC, id ASC"
	p := shared.NewPagination(filter.Page, filter.PerPage, total)
	argCount++
	query += " LIMIT $" + strconv.Itoa(argCount)
	args = append(args, p.PerPage)
	argCount++
	query += " OFFSET $" + strconv.Itoa(argCount)
	args = append(args, p.Offset())

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var types []SanctionType
	for rows.Next() {
		st, err := scanSanctionType(rows)
		if err != nil {
			return nil, 0, err
		}
		types = append(types, st)
	}
	return types, total, rows.Err()
}

func scanSanctionType(row pgx.Row) (SanctionType, error) {
	var st SanctionType
	var duration pgtype.Int4
	err := row.Scan(&st.ID, &st.Name, &st.Level, &duration, &st.Active, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return SanctionType{}, err
	}
	if duration.Valid {
		val := int(duration.Int32)
		st.DurationDays = &val
	}
	return st, nil
}

func (r *repository) GetSanctionType(ctx context.Context, id int64) (SanctionType, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, level, duration_days, active, created_at, updated_at FROM sanction_types WHERE id = $1`, id)
	st, err := scanSanctionType(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return SanctionType{}, fmt.Errorf("%w: sanction type %d", shared.ErrNotFound, id)
	}
	return st, err
}

func (r *repository) CreateSanctionType(ctx context.Context, st SanctionType) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO sanction_types (name, level, duration_days, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING id
	`, st.Name, string(st.Level), st.DurationDays, st.Active).Scan(&id)
	return id, err
}

func (r *repository) UpdateSanctionType(ctx context.Context, id int64, st SanctionType) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE sanction_types SET name = $1, level = $2, duration_days = $3, active = $4, updated_at = NOW()
		WHERE id = $5
	`, st.Name, string(st.Level), st.DurationDays, st.Active, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: sanction type %d", shared.ErrNotFound, id)
	}
	return nil
}
