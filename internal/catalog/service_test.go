package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/tatibku/tatibku/internal/platform/cache"
	"github.com/tatibku/tatibku/internal/shared"
)

// memCatalogRepo is an in-memory Repository; allowedReads counts how often
// the allowed-set is fetched so cache behavior is observable.
type memCatalogRepo struct {
	violations   map[int64]Violation
	sanctions    map[int64]SanctionType
	nextID       int64
	allowedReads int
}

func newMemCatalogRepo() *memCatalogRepo {
	return &memCatalogRepo{
		violations: make(map[int64]Violation),
		sanctions:  make(map[int64]SanctionType),
	}
}

func (m *memCatalogRepo) addViolation(v Violation) Violation {
	m.nextID++
	v.ID = m.nextID
	m.violations[v.ID] = v
	return v
}

func (m *memCatalogRepo) addSanction(st SanctionType) SanctionType {
	m.nextID++
	st.ID = m.nextID
	m.sanctions[st.ID] = st
	return st
}

func (m *memCatalogRepo) ListViolations(_ context.Context, _ ListFilter) ([]Violation, int, error) {
	var out []Violation
	for _, v := range m.violations {
		out = append(out, v)
	}
	return out, len(out), nil
}

func (m *memCatalogRepo) GetViolation(_ context.Context, id int64) (Violation, error) {
	v, ok := m.violations[id]
	if !ok {
		return Violation{}, shared.ErrNotFound
	}
	return v, nil
}

func (m *memCatalogRepo) CreateViolation(_ context.Context, v Violation) (int64, error) {
	return m.addViolation(v).ID, nil
}

func (m *memCatalogRepo) UpdateViolation(_ context.Context, id int64, v Violation) error {
	if _, ok := m.violations[id]; !ok {
		return shared.ErrNotFound
	}
	v.ID = id
	m.violations[id] = v
	return nil
}

func (m *memCatalogRepo) AllowedSanctionIDs(_ context.Context, violationID int64) ([]int64, error) {
	v, ok := m.violations[violationID]
	if !ok {
		return nil, shared.ErrNotFound
	}
	m.allowedReads++
	return v.AllowedSanctionTypeIDs, nil
}

func (m *memCatalogRepo) ListSanctionTypes(_ context.Context, _ ListFilter) ([]SanctionType, int, error) {
	var out []SanctionType
	for _, st := range m.sanctions {
		out = append(out, st)
	}
	return out, len(out), nil
}

func (m *memCatalogRepo) GetSanctionType(_ context.Context, id int64) (SanctionType, error) {
	st, ok := m.sanctions[id]
	if !ok {
		return SanctionType{}, shared.ErrNotFound
	}
	return st, nil
}

func (m *memCatalogRepo) CreateSanctionType(_ context.Context, st SanctionType) (int64, error) {
	return m.addSanction(st).ID, nil
}

func (m *memCatalogRepo) UpdateSanctionType(_ context.Context, id int64, st SanctionType) error {
	if _, ok := m.sanctions[id]; !ok {
		return shared.ErrNotFound
	}
	st.ID = id
	m.sanctions[id] = st
	return nil
}

func newCacheForTest(t *testing.T) *cache.JSONCache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewJSONCache(client, time.Minute)
}

func TestIsEligibleUsesCachedAllowedSet(t *testing.T) {
	repo := newMemCatalogRepo()
	teguran := repo.addSanction(SanctionType{Name: "Teguran lisan", Level: LevelRingan, Active: true})
	skorsing := repo.addSanction(SanctionType{Name: "Skorsing", Level: LevelBerat, Active: true})
	v := repo.addViolation(Violation{
		Code:                   "TL-001",
		Name:                   "Terlambat",
		Active:                 true,
		AllowedSanctionTypeIDs: []int64{teguran.ID},
	})

	svc := NewService(repo, newCacheForTest(t), nil)

	ok, err := svc.IsEligible(context.Background(), v.ID, teguran.ID)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = svc.IsEligible(context.Background(), v.ID, skorsing.ID)
	require.NoError(t, err)
	require.False(t, ok)

	// Second lookup rode the cache.
	require.Equal(t, 1, repo.allowedReads)
}

func TestIsEligibleUnknownViolation(t *testing.T) {
	repo := newMemCatalogRepo()
	svc := NewService(repo, newCacheForTest(t), nil)

	_, err := svc.IsEligible(context.Background(), 999, 1)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestUpdateViolationInvalidatesAllowedSet(t *testing.T) {
	repo := newMemCatalogRepo()
	teguran := repo.addSanction(SanctionType{Name: "Teguran lisan", Level: LevelRingan, Active: true})
	skorsing := repo.addSanction(SanctionType{Name: "Skorsing", Level: LevelBerat, Active: true})
	v := repo.addViolation(Violation{
		Code:                   "KB-002",
		Name:                   "Merokok",
		Active:                 true,
		AllowedSanctionTypeIDs: []int64{teguran.ID},
	})

	svc := NewService(repo, newCacheForTest(t), nil)

	ok, err := svc.IsEligible(context.Background(), v.ID, skorsing.ID)
	require.NoError(t, err)
	require.False(t, ok)

	allowed := []int64{teguran.ID, skorsing.ID}
	_, err = svc.UpdateViolation(context.Background(), v.ID, UpdateViolationInput{
		AllowedSanctionTypeIDs: &allowed,
	})
	require.NoError(t, err)

	// The stale cached set was dropped, so the new configuration applies.
	ok, err = svc.IsEligible(context.Background(), v.ID, skorsing.ID)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCreateViolationRejectsUnknownSanctionRefs(t *testing.T) {
	repo := newMemCatalogRepo()
	svc := NewService(repo, newCacheForTest(t), nil)

	_, err := svc.CreateViolation(context.Background(), CreateViolationInput{
		Code:                   "XX-001",
		Name:                   "Uji",
		AllowedSanctionTypeIDs: []int64{42},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, repo.violations)
}

func TestListSanctionTypesOrdersByLevelThenName(t *testing.T) {
	repo := newMemCatalogRepo()
	repo.addSanction(SanctionType{Name: "Skorsing", Level: LevelBerat, Active: true})
	repo.addSanction(SanctionType{Name: "Teguran tertulis", Level: LevelRingan, Active: true})
	repo.addSanction(SanctionType{Name: "Pemanggilan orang tua", Level: LevelSedang, Active: true})
	repo.addSanction(SanctionType{Name: "Teguran lisan", Level: LevelRingan, Active: true})

	svc := NewService(repo, newCacheForTest(t), nil)

	types, total, err := svc.ListSanctionTypes(context.Background(), ListFilter{})
	require.NoError(t, err)
	require.Equal(t, 4, total)

	names := make([]string, 0, len(types))
	for _, st := range types {
		names = append(names, st.Name)
	}
	require.Equal(t, []string{
		"Teguran lisan",
		"Teguran tertulis",
		"Pemanggilan orang tua",
		"Skorsing",
	}, names)
}

func TestWarmCachePrimesAllowedSets(t *testing.T) {
	repo := newMemCatalogRepo()
	teguran := repo.addSanction(SanctionType{Name: "Teguran lisan", Level: LevelRingan, Active: true})
	v := repo.addViolation(Violation{
		Code:                   "TL-001",
		Name:                   "Terlambat",
		Active:                 true,
		AllowedSanctionTypeIDs: []int64{teguran.ID},
	})

	svc := NewService(repo, newCacheForTest(t), nil)
	require.NoError(t, svc.WarmCache(context.Background()))

	ok, err := svc.IsEligible(context.Background(), v.ID, teguran.ID)
	require.NoError(t, err)
	require.True(t, ok)
	// Warmed, so eligibility never hit the repository.
	require.Equal(t, 0, repo.allowedReads)
}
