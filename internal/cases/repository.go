package cases

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tatibku/tatibku/internal/platform/db"
	"github.com/tatibku/tatibku/internal/shared"
)

// RepositoryPort describes read-side repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetCase(ctx context.Context, id int64) (Case, error)
	GetCaseByNumber(ctx context.Context, number string) (Case, error)
	ListCases(ctx context.Context, filter ListCasesFilter) ([]CaseWithDetails, int, error)
	GetAction(ctx context.Context, id int64) (Action, error)
	ListActions(ctx context.Context, caseID int64) ([]ActionWithDetails, error)
	LatestAction(ctx context.Context, caseID int64) (*Action, error)
	ListDueFollowUps(ctx context.Context, asOf time.Time) ([]FollowUpReminder, error)
}

// TxRepository is the mutation surface, only reachable inside WithTx so the
// timeline write and the status re-projection commit together.
type TxRepository interface {
	NextCaseSeq(ctx context.Context, year int) (int, error)
	CreateCase(ctx context.Context, c Case) (int64, error)
	LockCase(ctx context.Context, id int64) (Case, error)
	UpdateCaseStatus(ctx context.Context, id int64, status CaseStatus) error
	GetActionAny(ctx context.Context, id int64) (Action, error)
	LatestActionForUpdate(ctx context.Context, caseID int64) (*Action, error)
	InsertAction(ctx context.Context, a Action) (int64, error)
	ApplyActionEdit(ctx context.Context, id int64, edit EditActionInput, editorID int64, at time.Time) error
	SoftDeleteAction(ctx context.Context, id, actorID int64, at time.Time) error
	ActiveActions(ctx context.Context, caseID int64) ([]Action, error)
}

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

type repository struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewRepository constructs the pgx-backed repository.
func NewRepository(pool *pgxpool.Pool) RepositoryPort {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{db: tx})
	})
}

const caseColumns = `id, case_number, student_id, violation_id, class_level, description,
	violation_date, location, witnesses, evidence_urls, status, input_by_id, created_at, updated_at`

func scanCase(row pgx.Row) (Case, error) {
	var c Case
	var location, witnesses pgtype.Text
	var violationDate pgtype.Date
	var createdAt, updatedAt pgtype.Timestamptz
	err := row.Scan(
		&c.ID, &c.CaseNumber, &c.StudentID, &c.ViolationID, &c.ClassLevel, &c.Description,
		&violationDate, &location, &witnesses, &c.EvidenceURLs, &c.Status, &c.InputByID,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return Case{}, err
	}
	if violationDate.Valid {
		c.ViolationDate = violationDate.Time
	}
	if location.Valid {
		val := location.String
		c.Location = &val
	}
	if witnesses.Valid {
		val := witnesses.String
		c.Witnesses = &val
	}
	if createdAt.Valid {
		c.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		c.UpdatedAt = updatedAt.Time
	}
	return c, nil
}

func (r *repository) GetCase(ctx context.Context, id int64) (Case, error) {
	row := r.db.QueryRow(ctx, `SELECT `+caseColumns+` FROM violation_cases WHERE id = $1`, id)
	c, err := scanCase(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Case{}, fmt.Errorf("%w: case %d", shared.ErrNotFound, id)
	}
	return c, err
}

func (r *repository) GetCaseByNumber(ctx context.Context, number string) (Case, error) {
	row := r.db.QueryRow(ctx, `SELECT `+caseColumns+` FROM violation_cases WHERE case_number = $1`, number)
	c, err := scanCase(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Case{}, fmt.Errorf("%w: case %s", shared.ErrNotFound, number)
	}
	return c, err
}

func (r *repository) ListCases(ctx context.Context, filter ListCasesFilter) ([]CaseWithDetails, int, error) {
	conditions := []string{"1=1"}
	var args []interface{}
	argPos := 0

	if filter.StudentID != nil {
		argPos++
		conditions = append(conditions, "vc.student_id = $"+strconv.Itoa(argPos))
		args = append(args, *filter.StudentID)
	}
	if filter.Status != nil {
		argPos++
		conditions = append(conditions, "vc.status = $"+strconv.Itoa(argPos))
		args = append(args, string(*filter.Status))
	}
	if filter.Year != nil {
		argPos++
		conditions = append(conditions, "EXTRACT(YEAR FROM vc.created_at) = $"+strconv.Itoa(argPos))
		args = append(args, *filter.Year)
	}
	if filter.Search != "" {
		argPos++
		conditions = append(conditions, "(vc.case_number ILIKE $"+strconv.Itoa(argPos)+" OR s.full_name ILIKE $"+strconv.Itoa(argPos)+")")
		args = append(args, "%"+filter.Search+"%")
	}

	whereClause := "WHERE " + conditions[0]
	for i := 1; i < len(conditions); i++ {
		whereClause += " AND " + conditions[i]
	}

	countQuery := `SELECT COUNT(*) FROM violation_cases vc JOIN students s ON vc.student_id = s.id ` + whereClause
	var total int
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	p := shared.NewPagination(filter.Page, filter.PerPage, total)
	query := fmt.Sprintf(`
		SELECT vc.id, vc.case_number, vc.student_id, vc.violation_id, vc.class_level, vc.description,
		       vc.violation_date, vc.location, vc.witnesses, vc.evidence_urls, vc.status, vc.input_by_id,
		       vc.created_at, vc.updated_at,
		       s.full_name AS student_name,
		       v.name AS violation_name,
		       u.full_name AS input_by_name
		FROM violation_cases vc
		JOIN students s ON vc.student_id = s.id
		JOIN violations v ON vc.violation_id = v.id
		JOIN users u ON vc.input_by_id = u.id
		%s
		ORDER BY vc.created_at DESC, vc.id DESC
		LIMIT $%d OFFSET $%d
	`, whereClause, argPos+1, argPos+2)
	args = append(args, p.PerPage, p.Offset())

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var results []CaseWithDetails
	for rows.Next() {
		var cw CaseWithDetails
		var location, witnesses pgtype.Text
		var violationDate pgtype.Date
		var createdAt, updatedAt pgtype.Timestamptz
		err := rows.Scan(
			&cw.ID, &cw.CaseNumber, &cw.StudentID, &cw.ViolationID, &cw.ClassLevel, &cw.Description,
			&violationDate, &location, &witnesses, &cw.EvidenceURLs, &cw.Status, &cw.InputByID,
			&createdAt, &updatedAt,
			&cw.StudentName, &cw.ViolationName, &cw.InputByName,
		)
		if err != nil {
			return nil, 0, err
		}
		if violationDate.Valid {
			cw.ViolationDate = violationDate.Time
		}
		if location.Valid {
			val := location.String
			cw.Location = &val
		}
		if witnesses.Valid {
			val := witnesses.String
			cw.Witnesses = &val
		}
		if createdAt.Valid {
			cw.CreatedAt = createdAt.Time
		}
		if updatedAt.Valid {
			cw.UpdatedAt = updatedAt.Time
		}
		results = append(results, cw)
	}
	return results, total, rows.Err()
}

const actionColumns = `id, case_id, sanction_type_id, description, follow_up_date, notes,
	evidence_urls, is_completed, action_by_id, created_at, edited_by_id, edited_at, deleted_by_id, deleted_at`

func scanAction(row pgx.Row) (Action, error) {
	var a Action
	var followUpDate pgtype.Date
	var notes pgtype.Text
	var createdAt, editedAt, deletedAt pgtype.Timestamptz
	var editedBy, deletedBy pgtype.Int8
	err := row.Scan(
		&a.ID, &a.CaseID, &a.SanctionTypeID, &a.Description, &followUpDate, &notes,
		&a.EvidenceURLs, &a.IsCompleted, &a.ActionByID, &createdAt,
		&editedBy, &editedAt, &deletedBy, &deletedAt,
	)
	if err != nil {
		return Action{}, err
	}
	if followUpDate.Valid {
		val := followUpDate.Time
		a.FollowUpDate = &val
	}
	if notes.Valid {
		val := notes.String
		a.Notes = &val
	}
	if createdAt.Valid {
		a.CreatedAt = createdAt.Time
	}
	if editedBy.Valid {
		val := editedBy.Int64
		a.EditedByID = &val
	}
	if editedAt.Valid {
		val := editedAt.Time
		a.EditedAt = &val
	}
	if deletedBy.Valid {
		val := deletedBy.Int64
		a.DeletedByID = &val
	}
	if deletedAt.Valid {
		val := deletedAt.Time
		a.DeletedAt = &val
	}
	return a, nil
}

// GetAction loads an action by id, including soft-deleted ones: the audit
// trail stays retrievable even after deletion.
func (r *repository) GetAction(ctx context.Context, id int64) (Action, error) {
	row := r.db.QueryRow(ctx, `SELECT `+actionColumns+` FROM case_actions WHERE id = $1`, id)
	a, err := scanAction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Action{}, fmt.Errorf("%w: action %d", shared.ErrNotFound, id)
	}
	return a, err
}

// ListActions returns the non-deleted timeline newest first, with the
// catalog snapshot and actor display names resolved at call time.
func (r *repository) ListActions(ctx context.Context, caseID int64) ([]ActionWithDetails, error) {
	rows, err := r.db.Query(ctx, `
		SELECT ca.id, ca.case_id, ca.sanction_type_id, ca.description, ca.follow_up_date, ca.notes,
		       ca.evidence_urls, ca.is_completed, ca.action_by_id, ca.created_at,
		       ca.edited_by_id, ca.edited_at, ca.deleted_by_id, ca.deleted_at,
		       st.name AS sanction_type_name,
		       st.level AS sanction_level,
		       u.full_name AS action_by_name,
		       ue.full_name AS edited_by_name
		FROM case_actions ca
		JOIN sanction_types st ON ca.sanction_type_id = st.id
		JOIN users u ON ca.action_by_id = u.id
		LEFT JOIN users ue ON ca.edited_by_id = ue.id
		WHERE ca.case_id = $1 AND ca.deleted_at IS NULL
		ORDER BY ca.created_at DESC, ca.id DESC
	`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []ActionWithDetails
	for rows.Next() {
		var aw ActionWithDetails
		var followUpDate pgtype.Date
		var notes, editedByName pgtype.Text
		var createdAt, editedAt, deletedAt pgtype.Timestamptz
		var editedBy, deletedBy pgtype.Int8
		err := rows.Scan(
			&aw.ID, &aw.CaseID, &aw.SanctionTypeID, &aw.Description, &followUpDate, &notes,
			&aw.EvidenceURLs, &aw.IsCompleted, &aw.ActionByID, &createdAt,
			&editedBy, &editedAt, &deletedBy, &deletedAt,
			&aw.SanctionTypeName, &aw.SanctionLevel, &aw.ActionByName, &editedByName,
		)
		if err != nil {
			return nil, err
		}
		if followUpDate.Valid {
			val := followUpDate.Time
			aw.FollowUpDate = &val
		}
		if notes.Valid {
			val := notes.String
			aw.Notes = &val
		}
		if createdAt.Valid {
			aw.CreatedAt = createdAt.Time
		}
		if editedBy.Valid {
			val := editedBy.Int64
			aw.EditedByID = &val
		}
		if editedAt.Valid {
			val := editedAt.Time
			aw.EditedAt = &val
		}
		if editedByName.Valid {
			val := editedByName.String
			aw.EditedByName = &val
		}
		actions = append(actions, aw)
	}
	return actions, rows.Err()
}

// LatestAction returns the newest non-deleted action or nil when the
// timeline is empty.
func (r *repository) LatestAction(ctx context.Context, caseID int64) (*Action, error) {
	row := r.db.QueryRow(ctx, `SELECT `+actionColumns+` FROM case_actions
		WHERE case_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC, id DESC LIMIT 1`, caseID)
	a, err := scanAction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListDueFollowUps finds open actions whose follow-up date has arrived.
func (r *repository) ListDueFollowUps(ctx context.Context, asOf time.Time) ([]FollowUpReminder, error) {
	rows, err := r.db.Query(ctx, `
		SELECT ca.id, ca.case_id, vc.case_number, s.full_name, ca.description, ca.follow_up_date, ca.action_by_id
		FROM case_actions ca
		JOIN violation_cases vc ON ca.case_id = vc.id
		JOIN students s ON vc.student_id = s.id
		WHERE ca.deleted_at IS NULL
		  AND ca.is_completed = FALSE
		  AND ca.follow_up_date IS NOT NULL
		  AND ca.follow_up_date <= $1
		ORDER BY ca.follow_up_date ASC, ca.id ASC
	`, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reminders []FollowUpReminder
	for rows.Next() {
		var rem FollowUpReminder
		var followUpDate pgtype.Date
		if err := rows.Scan(&rem.ActionID, &rem.CaseID, &rem.CaseNumber, &rem.StudentName, &rem.Description, &followUpDate, &rem.ActionByID); err != nil {
			return nil, err
		}
		if followUpDate.Valid {
			rem.FollowUpDate = followUpDate.Time
		}
		reminders = append(reminders, rem)
	}
	return reminders, rows.Err()
}

type txRepository struct {
	db dbtx
}

// NextCaseSeq atomically increments the per-year counter. The upsert makes
// allocation race-free: two concurrent openers serialize on the year row.
func (r *txRepository) NextCaseSeq(ctx context.Context, year int) (int, error) {
	var seq int
	err := r.db.QueryRow(ctx, `
		INSERT INTO case_number_sequences (year, seq)
		VALUES ($1, 1)
		ON CONFLICT (year)
		DO UPDATE SET seq = case_number_sequences.seq + 1
		RETURNING seq
	`, year).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq, nil
}

func (r *txRepository) CreateCase(ctx context.Context, c Case) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO violation_cases (case_number, student_id, violation_id, class_level, description,
			violation_date, location, witnesses, evidence_urls, status, input_by_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		RETURNING id
	`, c.CaseNumber, c.StudentID, c.ViolationID, c.ClassLevel, c.Description,
		c.ViolationDate, c.Location, c.Witnesses, evidenceOrEmpty(c.EvidenceURLs),
		string(c.Status), c.InputByID, c.CreatedAt).Scan(&id)
	return id, err
}

// LockCase takes the per-case row lock serializing concurrent appends,
// edits and deletes on the same case.
func (r *txRepository) LockCase(ctx context.Context, id int64) (Case, error) {
	row := r.db.QueryRow(ctx, `SELECT `+caseColumns+` FROM violation_cases WHERE id = $1 FOR UPDATE`, id)
	c, err := scanCase(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Case{}, fmt.Errorf("%w: case %d", shared.ErrNotFound, id)
	}
	return c, err
}

func (r *txRepository) UpdateCaseStatus(ctx context.Context, id int64, status CaseStatus) error {
	tag, err := r.db.Exec(ctx, `UPDATE violation_cases SET status = $1, updated_at = NOW() WHERE id = $2`,
		string(status), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: case %d", shared.ErrNotFound, id)
	}
	return nil
}

func (r *txRepository) GetActionAny(ctx context.Context, id int64) (Action, error) {
	row := r.db.QueryRow(ctx, `SELECT `+actionColumns+` FROM case_actions WHERE id = $1`, id)
	a, err := scanAction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Action{}, fmt.Errorf("%w: action %d", shared.ErrNotFound, id)
	}
	return a, err
}

func (r *txRepository) LatestActionForUpdate(ctx context.Context, caseID int64) (*Action, error) {
	row := r.db.QueryRow(ctx, `SELECT `+actionColumns+` FROM case_actions
		WHERE case_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC, id DESC LIMIT 1 FOR UPDATE`, caseID)
	a, err := scanAction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *txRepository) InsertAction(ctx context.Context, a Action) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO case_actions (case_id, sanction_type_id, description, follow_up_date, notes,
			evidence_urls, is_completed, action_by_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, a.CaseID, a.SanctionTypeID, a.Description, a.FollowUpDate, a.Notes,
		evidenceOrEmpty(a.EvidenceURLs), a.IsCompleted, a.ActionByID, a.CreatedAt).Scan(&id)
	return id, err
}

// ApplyActionEdit updates only the provided fields and unconditionally stamps
// the edit audit columns.
func (r *txRepository) ApplyActionEdit(ctx context.Context, id int64, edit EditActionInput, editorID int64, at time.Time) error {
	query := "UPDATE case_actions SET edited_by_id = $1, edited_at = $2"
	args := []interface{}{editorID, at}
	argPos := 2

	if edit.SanctionTypeID != nil {
		argPos++
		query += ", sanction_type_id = $" + strconv.Itoa(argPos)
		args = append(args, *edit.SanctionTypeID)
	}
	if edit.Description != nil {
		argPos++
		query += ", description = $" + strconv.Itoa(argPos)
		args = append(args, *edit.Description)
	}
	if edit.FollowUpDate != nil {
		argPos++
		query += ", follow_up_date = $" + strconv.Itoa(argPos)
		args = append(args, *edit.FollowUpDate)
	}
	if edit.Notes != nil {
		argPos++
		query += ", notes = $" + strconv.Itoa(argPos)
		args = append(args, *edit.Notes)
	}
	if edit.EvidenceURLs != nil {
		argPos++
		query += ", evidence_urls = $" + strconv.Itoa(argPos)
		args = append(args, evidenceOrEmpty(*edit.EvidenceURLs))
	}
	if edit.IsCompleted != nil {
		argPos++
		query += ", is_completed = $" + strconv.Itoa(argPos)
		args = append(args, *edit.IsCompleted)
	}

	argPos++
	query += " WHERE id = $" + strconv.Itoa(argPos) + " AND deleted_at IS NULL"
	args = append(args, id)

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: action %d is deleted", shared.ErrConflict, id)
	}
	return nil
}

// SoftDeleteAction sets the tombstone. The guarded WHERE keeps the first
// deletion's audit stamp intact if a second delete races in.
func (r *txRepository) SoftDeleteAction(ctx context.Context, id, actorID int64, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE case_actions SET deleted_by_id = $1, deleted_at = $2
		WHERE id = $3 AND deleted_at IS NULL
	`, actorID, at, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: action %d already deleted", shared.ErrConflict, id)
	}
	return nil
}

func (r *txRepository) ActiveActions(ctx context.Context, caseID int64) ([]Action, error) {
	rows, err := r.db.Query(ctx, `SELECT `+actionColumns+` FROM case_actions
		WHERE case_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC, id DESC`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

func evidenceOrEmpty(urls []string) []string {
	if urls == nil {
		return []string{}
	}
	return urls
}
