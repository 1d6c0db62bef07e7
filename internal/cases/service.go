package cases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tatibku/tatibku/internal/platform/db"
	"github.com/tatibku/tatibku/internal/shared"
)

// maxTxAttempts bounds retries on transient persistence failures before the
// caller sees ErrUnavailable.
const maxTxAttempts = 3

// CatalogPort exposes the violation/sanction catalog reads the engine needs.
type CatalogPort interface {
	ValidateViolation(ctx context.Context, id int64) error
	IsEligible(ctx context.Context, violationID, sanctionTypeID int64) (bool, error)
}

// StudentPort validates student references against the directory.
type StudentPort interface {
	ValidateStudent(ctx context.Context, id int64) error
}

// AuditPort records mutations into the audit trail.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort deduplicates retried appends.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service orchestrates the case lifecycle: it owns the append-guard, the
// per-case serialization point and the status re-projection after every
// timeline mutation. Nothing else writes to cases or their timelines.
type Service struct {
	repo        RepositoryPort
	catalog     CatalogPort
	students    StudentPort
	audit       AuditPort
	idempotency IdempotencyPort
	logger      *slog.Logger
	now         func() time.Time
}

// NewService constructs the lifecycle service.
func NewService(repo RepositoryPort, catalog CatalogPort, students StudentPort, audit AuditPort, idem IdempotencyPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		catalog:     catalog,
		students:    students,
		audit:       audit,
		idempotency: idem,
		logger:      logger,
		now:         time.Now,
	}
}

// WithClock overrides the clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// OpenCase validates the referenced student and violation, allocates the
// year-scoped case number and persists the case as PENDING.
func (s *Service) OpenCase(ctx context.Context, input OpenCaseInput, actorID int64) (Case, error) {
	if err := s.students.ValidateStudent(ctx, input.StudentID); err != nil {
		return Case{}, err
	}
	if err := s.catalog.ValidateViolation(ctx, input.ViolationID); err != nil {
		return Case{}, err
	}

	now := s.now()
	c := Case{
		StudentID:     input.StudentID,
		ViolationID:   input.ViolationID,
		ClassLevel:    input.ClassLevel,
		Description:   input.Description,
		ViolationDate: input.ViolationDate,
		Location:      input.Location,
		Witnesses:     input.Witnesses,
		EvidenceURLs:  input.EvidenceURLs,
		Status:        StatusPending,
		InputByID:     actorID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := s.retryTx(ctx, func(ctx context.Context, tx TxRepository) error {
		seq, err := tx.NextCaseSeq(ctx, now.Year())
		if err != nil {
			return fmt.Errorf("allocate case number: %w", err)
		}
		c.CaseNumber = FormatCaseNumber(now.Year(), seq)
		id, err := tx.CreateCase(ctx, c)
		if err != nil {
			return fmt.Errorf("create case: %w", err)
		}
		c.ID = id
		return nil
	})
	if err != nil {
		return Case{}, err
	}

	s.recordAudit(ctx, actorID, "case.open", "case", c.ID, map[string]any{
		"case_number": c.CaseNumber,
		"student_id":  c.StudentID,
	})
	return c, nil
}

// AppendAction appends a timeline action subject to the append-guard: when
// the latest non-deleted action is already completed, the case is considered
// resolved and must be reopened by editing that action first.
func (s *Service) AppendAction(ctx context.Context, caseID int64, input AppendActionInput, actorID int64) (Action, error) {
	c, err := s.repo.GetCase(ctx, caseID)
	if err != nil {
		return Action{}, err
	}
	if c.Status == StatusDibatalkan {
		return Action{}, fmt.Errorf("%w: case %s is cancelled", shared.ErrConflict, c.CaseNumber)
	}

	eligible, err := s.catalog.IsEligible(ctx, c.ViolationID, input.SanctionTypeID)
	if err != nil {
		return Action{}, err
	}
	if !eligible {
		return Action{}, fmt.Errorf("%w: sanction type %d is not allowed for violation %d",
			shared.ErrValidation, input.SanctionTypeID, c.ViolationID)
	}

	if input.IdempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, "cases.append"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return Action{}, fmt.Errorf("%w: request already processed", shared.ErrConflict)
			}
			return Action{}, err
		}
	}

	now := s.now()
	action := Action{
		CaseID:         caseID,
		SanctionTypeID: input.SanctionTypeID,
		Description:    input.Description,
		FollowUpDate:   input.FollowUpDate,
		Notes:          input.Notes,
		EvidenceURLs:   input.EvidenceURLs,
		IsCompleted:    input.IsCompleted,
		ActionByID:     actorID,
		CreatedAt:      now,
	}

	err = s.retryTx(ctx, func(ctx context.Context, tx TxRepository) error {
		// The row lock is the serialization point: the latest-action check
		// and the insert are atomic with respect to concurrent appends on
		// the same case.
		locked, err := tx.LockCase(ctx, caseID)
		if err != nil {
			return err
		}
		if locked.Status == StatusDibatalkan {
			return fmt.Errorf("%w: case %s is cancelled", shared.ErrConflict, locked.CaseNumber)
		}
		latest, err := tx.LatestActionForUpdate(ctx, caseID)
		if err != nil {
			return err
		}
		if latest != nil && latest.IsCompleted {
			return fmt.Errorf("%w: last action already completed; edit it to reopen before adding a new one", shared.ErrConflict)
		}

		id, err := tx.InsertAction(ctx, action)
		if err != nil {
			return fmt.Errorf("insert action: %w", err)
		}
		action.ID = id

		return s.reproject(ctx, tx, locked)
	})
	if err != nil {
		if input.IdempotencyKey != "" && s.idempotency != nil {
			if delErr := s.idempotency.Delete(ctx, input.IdempotencyKey); delErr != nil {
				s.logger.Warn("idempotency rollback failed", slog.Any("error", delErr))
			}
		}
		return Action{}, err
	}

	s.recordAudit(ctx, actorID, "action.append", "action", action.ID, map[string]any{
		"case_id":          caseID,
		"sanction_type_id": action.SanctionTypeID,
		"is_completed":     action.IsCompleted,
	})
	return action, nil
}

// EditAction applies a partial update. It always stamps the edit audit
// columns and always re-projects the owning case's status from the full
// timeline, since editing an older action must not override what a newer
// one implies.
func (s *Service) EditAction(ctx context.Context, actionID int64, input EditActionInput, actorID int64) (Action, error) {
	existing, err := s.repo.GetAction(ctx, actionID)
	if err != nil {
		return Action{}, err
	}
	if existing.Deleted() {
		return Action{}, fmt.Errorf("%w: cannot edit a deleted action", shared.ErrConflict)
	}
	if input.Empty() {
		return Action{}, fmt.Errorf("%w: no fields to update", shared.ErrValidation)
	}

	if input.SanctionTypeID != nil && *input.SanctionTypeID != existing.SanctionTypeID {
		c, err := s.repo.GetCase(ctx, existing.CaseID)
		if err != nil {
			return Action{}, err
		}
		eligible, err := s.catalog.IsEligible(ctx, c.ViolationID, *input.SanctionTypeID)
		if err != nil {
			return Action{}, err
		}
		if !eligible {
			return Action{}, fmt.Errorf("%w: sanction type %d is not allowed for violation %d",
				shared.ErrValidation, *input.SanctionTypeID, c.ViolationID)
		}
	}

	now := s.now()
	var updated Action
	err = s.retryTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.LockCase(ctx, existing.CaseID)
		if err != nil {
			return err
		}
		if err := tx.ApplyActionEdit(ctx, actionID, input, actorID, now); err != nil {
			return err
		}
		updated, err = tx.GetActionAny(ctx, actionID)
		if err != nil {
			return err
		}
		return s.reproject(ctx, tx, locked)
	})
	if err != nil {
		return Action{}, err
	}

	s.recordAudit(ctx, actorID, "action.edit", "action", actionID, map[string]any{
		"case_id": existing.CaseID,
	})
	return updated, nil
}

// DeleteAction soft-deletes a timeline action. Deleting an already-deleted
// action is a conflict, mirroring the edit-on-deleted rule, so a stale client
// learns its view is outdated instead of silently re-stamping the tombstone.
func (s *Service) DeleteAction(ctx context.Context, actionID, actorID int64) error {
	existing, err := s.repo.GetAction(ctx, actionID)
	if err != nil {
		return err
	}
	if existing.Deleted() {
		return fmt.Errorf("%w: action %d already deleted", shared.ErrConflict, actionID)
	}

	now := s.now()
	err = s.retryTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.LockCase(ctx, existing.CaseID)
		if err != nil {
			return err
		}
		if err := tx.SoftDeleteAction(ctx, actionID, actorID, now); err != nil {
			return err
		}
		return s.reproject(ctx, tx, locked)
	})
	if err != nil {
		return err
	}

	s.recordAudit(ctx, actorID, "action.delete", "action", actionID, map[string]any{
		"case_id": existing.CaseID,
	})
	return nil
}

// CancelCase is the administrative cancellation; DIBATALKAN is absorbing.
func (s *Service) CancelCase(ctx context.Context, caseID, actorID int64) (Case, error) {
	var cancelled Case
	err := s.retryTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.LockCase(ctx, caseID)
		if err != nil {
			return err
		}
		if locked.Status == StatusDibatalkan {
			return fmt.Errorf("%w: case %s already cancelled", shared.ErrConflict, locked.CaseNumber)
		}
		if err := tx.UpdateCaseStatus(ctx, caseID, StatusDibatalkan); err != nil {
			return err
		}
		locked.Status = StatusDibatalkan
		cancelled = locked
		return nil
	})
	if err != nil {
		return Case{}, err
	}

	s.recordAudit(ctx, actorID, "case.cancel", "case", caseID, map[string]any{
		"case_number": cancelled.CaseNumber,
	})
	return cancelled, nil
}

// GetCase loads a single case.
func (s *Service) GetCase(ctx context.Context, id int64) (Case, error) {
	return s.repo.GetCase(ctx, id)
}

// GetCaseByNumber loads a case by its human identifier.
func (s *Service) GetCaseByNumber(ctx context.Context, number string) (Case, error) {
	return s.repo.GetCaseByNumber(ctx, number)
}

// ListCases delegates to the repository.
func (s *Service) ListCases(ctx context.Context, filter ListCasesFilter) ([]CaseWithDetails, int, error) {
	return s.repo.ListCases(ctx, filter)
}

// ListActions returns the case's non-deleted timeline, newest first.
func (s *Service) ListActions(ctx context.Context, caseID int64) ([]ActionWithDetails, error) {
	if _, err := s.repo.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	return s.repo.ListActions(ctx, caseID)
}

// LatestAction returns the newest non-deleted action or nil. The client uses
// it to decide whether "add action" is available.
func (s *Service) LatestAction(ctx context.Context, caseID int64) (*Action, error) {
	if _, err := s.repo.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	return s.repo.LatestAction(ctx, caseID)
}

// reproject recomputes the case status from the just-committed timeline and
// persists it when it changed. Runs inside the mutation's transaction.
func (s *Service) reproject(ctx context.Context, tx TxRepository, locked Case) error {
	timeline, err := tx.ActiveActions(ctx, locked.ID)
	if err != nil {
		return err
	}
	status := ProjectStatus(locked.Status, timeline)
	if status == locked.Status {
		return nil
	}
	return tx.UpdateCaseStatus(ctx, locked.ID, status)
}

func (s *Service) retryTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	var err error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		if err = s.repo.WithTx(ctx, fn); err == nil || !db.Retryable(err) {
			return err
		}
		s.logger.Warn("retrying transaction", slog.Int("attempt", attempt+1), slog.Any("error", err))
	}
	return fmt.Errorf("%w: %v", shared.ErrUnavailable, err)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entity string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	log := shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
		At:       s.now(),
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
