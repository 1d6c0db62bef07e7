package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"golang.org/x/sync/singleflight"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/tatibku/tatibku/internal/platform/cache"
	"github.com/tatibku/tatibku/internal/shared"
)

// Service mediates catalog reads and admin mutations. The allowed-sanction
// sets are cached in Redis because eligibility is checked on every append.
type Service struct {
	repo     Repository
	cache    *cache.JSONCache
	logger   *slog.Logger
	collator *collate.Collator
	group    singleflight.Group
}

// NewService constructs the catalog service.
func NewService(repo Repository, c *cache.JSONCache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		cache:    c,
		logger:   logger,
		collator: collate.New(language.Indonesian),
	}
}

func allowedSetKey(violationID int64) string {
	return "catalog:violation:" + strconv.FormatInt(violationID, 10) + ":sanctions"
}

// IsEligible reports whether the sanction type is configured as allowed for
// the violation. Unknown violations are NotFound; the check has no side
// effects beyond cache priming.
func (s *Service) IsEligible(ctx context.Context, violationID, sanctionTypeID int64) (bool, error) {
	ids, err := s.allowedSet(ctx, violationID)
	if err != nil {
		return false, err
	}
	return slices.Contains(ids, sanctionTypeID), nil
}

func (s *Service) allowedSet(ctx context.Context, violationID int64) ([]int64, error) {
	key := allowedSetKey(violationID)
	var cached []int64
	hit, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		s.logger.Warn("catalog cache read failed", slog.Any("error", err))
	}
	if hit {
		return cached, nil
	}

	// Collapse concurrent misses for the same violation into one query.
	v, err, _ := s.group.Do(key, func() (any, error) {
		ids, err := s.repo.AllowedSanctionIDs(ctx, violationID)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Set(ctx, key, ids); err != nil {
			s.logger.Warn("catalog cache write failed", slog.Any("error", err))
		}
		return ids, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]int64), nil
}

// ValidateViolation confirms the violation exists.
func (s *Service) ValidateViolation(ctx context.Context, id int64) error {
	_, err := s.repo.GetViolation(ctx, id)
	return err
}

// ValidateSanctionType confirms the sanction type exists.
func (s *Service) ValidateSanctionType(ctx context.Context, id int64) error {
	_, err := s.repo.GetSanctionType(ctx, id)
	return err
}

// GetViolation loads one violation with its allowed-sanction set.
func (s *Service) GetViolation(ctx context.Context, id int64) (Violation, error) {
	return s.repo.GetViolation(ctx, id)
}

// ListViolations lists violations, name-sorted with Indonesian collation.
func (s *Service) ListViolations(ctx context.Context, filter ListFilter) ([]Violation, int, error) {
	violations, total, err := s.repo.ListViolations(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	slices.SortStableFunc(violations, func(a, b Violation) int {
		return s.collator.CompareString(a.Name, b.Name)
	})
	return violations, total, nil
}

// CreateViolation inserts a new catalog entry after checking the allowed set
// references existing sanction types.
func (s *Service) CreateViolation(ctx context.Context, input CreateViolationInput) (Violation, error) {
	if err := s.validateSanctionRefs(ctx, input.AllowedSanctionTypeIDs); err != nil {
		return Violation{}, err
	}
	id, err := s.repo.CreateViolation(ctx, Violation{
		Code:                   input.Code,
		Name:                   input.Name,
		Points:                 input.Points,
		Active:                 true,
		AllowedSanctionTypeIDs: input.AllowedSanctionTypeIDs,
	})
	if err != nil {
		return Violation{}, fmt.Errorf("create violation: %w", err)
	}
	s.invalidate(ctx, id)
	return s.repo.GetViolation(ctx, id)
}

// UpdateViolation replaces the entry and its allowed set, then drops the
// cached set so eligibility checks see the new configuration.
func (s *Service) UpdateViolation(ctx context.Context, id int64, input UpdateViolationInput) (Violation, error) {
	existing, err := s.repo.GetViolation(ctx, id)
	if err != nil {
		return Violation{}, err
	}
	if input.Code != nil {
		existing.Code = *input.Code
	}
	if input.Name != nil {
		existing.Name = *input.Name
	}
	if input.Points != nil {
		existing.Points = *input.Points
	}
	if input.Active != nil {
		existing.Active = *input.Active
	}
	if input.AllowedSanctionTypeIDs != nil {
		if err := s.validateSanctionRefs(ctx, *input.AllowedSanctionTypeIDs); err != nil {
			return Violation{}, err
		}
		existing.AllowedSanctionTypeIDs = *input.AllowedSanctionTypeIDs
	}
	if err := s.repo.UpdateViolation(ctx, id, existing); err != nil {
		return Violation{}, err
	}
	s.invalidate(ctx, id)
	return s.repo.GetViolation(ctx, id)
}

// ListSanctionTypes lists sanction types, name-sorted within each level.
func (s *Service) ListSanctionTypes(ctx context.Context, filter ListFilter) ([]SanctionType, int, error) {
	types, total, err := s.repo.ListSanctionTypes(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	slices.SortStableFunc(types, func(a, b SanctionType) int {
		if d := levelRank(a.Level) - levelRank(b.Level); d != 0 {
			return d
		}
		return s.collator.CompareString(a.Name, b.Name)
	})
	return types, total, nil
}

// GetSanctionType loads one sanction type.
func (s *Service) GetSanctionType(ctx context.Context, id int64) (SanctionType, error) {
	return s.repo.GetSanctionType(ctx, id)
}

// CreateSanctionType inserts a new sanction type.
func (s *Service) CreateSanctionType(ctx context.Context, input CreateSanctionTypeInput) (SanctionType, error) {
	id, err := s.repo.CreateSanctionType(ctx, SanctionType{
		Name:         input.Name,
		Level:        input.Level,
		DurationDays: input.DurationDays,
		Active:       true,
	})
	if err != nil {
		return SanctionType{}, fmt.Errorf("create sanction type: %w", err)
	}
	return s.repo.GetSanctionType(ctx, id)
}

// UpdateSanctionType applies a partial update.
func (s *Service) UpdateSanctionType(ctx context.Context, id int64, input UpdateSanctionTypeInput) (SanctionType, error) {
	existing, err := s.repo.GetSanctionType(ctx, id)
	if err != nil {
		return SanctionType{}, err
	}
	if input.Name != nil {
		existing.Name = *input.Name
	}
	if input.Level != nil {
		existing.Level = *input.Level
	}
	if input.DurationDays != nil {
		existing.DurationDays = input.DurationDays
	}
	if input.Active != nil {
		existing.Active = *input.Active
	}
	if err := s.repo.UpdateSanctionType(ctx, id, existing); err != nil {
		return SanctionType{}, err
	}
	return s.repo.GetSanctionType(ctx, id)
}

// WarmCache primes the allowed-set cache for every violation. Run by the
// background worker after deploys and on a schedule.
func (s *Service) WarmCache(ctx context.Context) error {
	violations, _, err := s.repo.ListViolations(ctx, ListFilter{PerPage: 1000})
	if err != nil {
		return err
	}
	for _, v := range violations {
		if err := s.cache.Set(ctx, allowedSetKey(v.ID), v.AllowedSanctionTypeIDs); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) validateSanctionRefs(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		if _, err := s.repo.GetSanctionType(ctx, id); err != nil {
			return fmt.Errorf("%w: sanction type %d does not exist", shared.ErrValidation, id)
		}
	}
	return nil
}

func levelRank(level SanctionLevel) int {
	switch level {
	case LevelRingan:
		return 0
	case LevelSedang:
		return 1
	case LevelBerat:
		return 2
	}
	return 3
}

func (s *Service) invalidate(ctx context.Context, violationID int64) {
	if err := s.cache.Delete(ctx, allowedSetKey(violationID)); err != nil {
		s.logger.Warn("catalog cache invalidation failed", slog.Any("error", err))
	}
}
