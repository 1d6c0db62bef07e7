package students

import (
	"context"
	"errors"
	"fmt"

	"github.com/tatibku/tatibku/internal/shared"
)

// Service exposes read access to the student directory.
type Service struct {
	repo Repository
}

// NewService constructs the students service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Get(ctx context.Context, id int64) (Student, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) GetByNISN(ctx context.Context, nisn string) (Student, error) {
	return s.repo.GetByNISN(ctx, nisn)
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]Student, int, error) {
	return s.repo.List(ctx, filter)
}

// ValidateStudent memastikan siswa ada dan masih aktif sebelum dipakai
// sebagai subjek kasus.
func (s *Service) ValidateStudent(ctx context.Context, id int64) error {
	st, err := s.repo.Get(ctx, id)
	if errors.Is(err, shared.ErrNotFound) {
		return fmt.Errorf("%w: student %d not found", shared.ErrValidation, id)
	}
	if err != nil {
		return err
	}
	if !st.Active {
		return fmt.Errorf("%w: student %d is not active", shared.ErrValidation, id)
	}
	return nil
}
