package students

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tatibku/tatibku/internal/shared"
)

// Repository reads the student directory.
type Repository interface {
	Get(ctx context.Context, id int64) (Student, error)
	GetByNISN(ctx context.Context, nisn string) (Student, error)
	List(ctx context.Context, filter ListFilter) ([]Student, int, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the pgx-backed student repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const studentColumns = `id, nisn, full_name, class_level, guardian, active, created_at, updated_at`

func (r *repository) Get(ctx context.Context, id int64) (Student, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+studentColumns+` FROM students WHERE id = $1`, id)
	return scanStudent(row)
}

func (r *repository) GetByNISN(ctx context.Context, nisn string) (Student, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+studentColumns+` FROM students WHERE nisn = $1`, nisn)
	return scanStudent(row)
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]Student, int, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM students WHERE 1=1`
	var args []interface{}
	argCount := 0

	if filter.Search != "" {
		argCount++
		clause := ` AND (full_name ILIKE $` + strconv.Itoa(argCount) + ` OR nisn ILIKE $` + strconv.Itoa(argCount) + `)`
		query += clause
		countQuery += clause
		args = append(args, "%"+filter.Search+"%")
	}
	if filter.ClassLevel != "" {
		argCount++
		clause := ` AND class_level = $` + strconv.Itoa(argCount)
		query += clause
		countQuery += clause
		args = append(args, filter.ClassLevel)
	}

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}

	query += " ORDER BY full_name ASC, id ASC"
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

	var list []Student
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

func scanStudent(row pgx.Row) (Student, error) {
	var s Student
	var guardian pgtype.Text
	err := row.Scan(&s.ID, &s.NISN, &s.FullName, &s.ClassLevel, &guardian, &s.Active, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Student{}, shared.ErrNotFound
	}
	if err != nil {
		return Student{}, err
	}
	if guardian.Valid {
		s.Guardian = &guardian.String
	}
	return s, nil
}
