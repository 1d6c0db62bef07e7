package cases

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tatibku/tatibku/internal/shared"
)

// memRepo is an in-memory RepositoryPort. A single mutex serializes WithTx,
// which is the same guarantee the row lock gives per case, just coarser.
type memRepo struct {
	mu           sync.Mutex
	cases        map[int64]*Case
	actions      map[int64]*Action
	seqs         map[int]int
	nextCaseID   int64
	nextActionID int64
}

func newMemRepo() *memRepo {
	return &memRepo{
		cases:   make(map[int64]*Case),
		actions: make(map[int64]*Action),
		seqs:    make(map[int]int),
	}
}

func (m *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, &memTx{repo: m})
}

func (m *memRepo) GetCase(_ context.Context, id int64) (Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[id]
	if !ok {
		return Case{}, shared.ErrNotFound
	}
	return *c, nil
}

func (m *memRepo) GetCaseByNumber(_ context.Context, number string) (Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.cases {
		if c.CaseNumber == number {
			return *c, nil
		}
	}
	return Case{}, shared.ErrNotFound
}

func (m *memRepo) ListCases(_ context.Context, filter ListCasesFilter) ([]CaseWithDetails, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []CaseWithDetails
	for _, c := range m.cases {
		if filter.StudentID != nil && c.StudentID != *filter.StudentID {
			continue
		}
		if filter.Status != nil && c.Status != *filter.Status {
			continue
		}
		out = append(out, CaseWithDetails{Case: *c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, len(out), nil
}

func (m *memRepo) GetAction(_ context.Context, id int64) (Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actions[id]
	if !ok {
		return Action{}, shared.ErrNotFound
	}
	return *a, nil
}

func (m *memRepo) ListActions(_ context.Context, caseID int64) ([]ActionWithDetails, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ActionWithDetails
	for _, a := range m.actions {
		if a.CaseID != caseID || a.Deleted() {
			continue
		}
		out = append(out, ActionWithDetails{Action: *a})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (m *memRepo) LatestAction(_ context.Context, caseID int64) (*Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latestLocked(caseID), nil
}

func (m *memRepo) ListDueFollowUps(_ context.Context, asOf time.Time) ([]FollowUpReminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []FollowUpReminder
	for _, a := range m.actions {
		if a.Deleted() || a.IsCompleted || a.FollowUpDate == nil || a.FollowUpDate.After(asOf) {
			continue
		}
		out = append(out, FollowUpReminder{
			ActionID:     a.ID,
			CaseID:       a.CaseID,
			FollowUpDate: *a.FollowUpDate,
			ActionByID:   a.ActionByID,
		})
	}
	return out, nil
}

func (m *memRepo) latestLocked(caseID int64) *Action {
	var latest *Action
	for _, a := range m.actions {
		if a.CaseID != caseID || a.Deleted() {
			continue
		}
		if latest == nil || a.CreatedAt.After(latest.CreatedAt) ||
			(a.CreatedAt.Equal(latest.CreatedAt) && a.ID > latest.ID) {
			latest = a
		}
	}
	if latest == nil {
		return nil
	}
	cp := *latest
	return &cp
}

// memTx mutates the repo under the WithTx lock.
type memTx struct {
	repo *memRepo
}

func (t *memTx) NextCaseSeq(_ context.Context, year int) (int, error) {
	t.repo.seqs[year]++
	return t.repo.seqs[year], nil
}

func (t *memTx) CreateCase(_ context.Context, c Case) (int64, error) {
	for _, existing := range t.repo.cases {
		if existing.CaseNumber == c.CaseNumber {
			return 0, errors.New("duplicate case number")
		}
	}
	t.repo.nextCaseID++
	c.ID = t.repo.nextCaseID
	t.repo.cases[c.ID] = &c
	return c.ID, nil
}

func (t *memTx) LockCase(_ context.Context, id int64) (Case, error) {
	c, ok := t.repo.cases[id]
	if !ok {
		return Case{}, shared.ErrNotFound
	}
	return *c, nil
}

func (t *memTx) UpdateCaseStatus(_ context.Context, id int64, status CaseStatus) error {
	c, ok := t.repo.cases[id]
	if !ok {
		return shared.ErrNotFound
	}
	c.Status = status
	return nil
}

func (t *memTx) GetActionAny(_ context.Context, id int64) (Action, error) {
	a, ok := t.repo.actions[id]
	if !ok {
		return Action{}, shared.ErrNotFound
	}
	return *a, nil
}

func (t *memTx) LatestActionForUpdate(_ context.Context, caseID int64) (*Action, error) {
	return t.repo.latestLocked(caseID), nil
}

func (t *memTx) InsertAction(_ context.Context, a Action) (int64, error) {
	t.repo.nextActionID++
	a.ID = t.repo.nextActionID
	t.repo.actions[a.ID] = &a
	return a.ID, nil
}

func (t *memTx) ApplyActionEdit(_ context.Context, id int64, edit EditActionInput, editorID int64, at time.Time) error {
	a, ok := t.repo.actions[id]
	if !ok {
		return shared.ErrNotFound
	}
	if a.Deleted() {
		return shared.ErrConflict
	}
	if edit.SanctionTypeID != nil {
		a.SanctionTypeID = *edit.SanctionTypeID
	}
	if edit.Description != nil {
		a.Description = *edit.Description
	}
	if edit.FollowUpDate != nil {
		a.FollowUpDate = edit.FollowUpDate
	}
	if edit.Notes != nil {
		a.Notes = edit.Notes
	}
	if edit.EvidenceURLs != nil {
		a.EvidenceURLs = *edit.EvidenceURLs
	}
	if edit.IsCompleted != nil {
		a.IsCompleted = *edit.IsCompleted
	}
	a.EditedByID = &editorID
	a.EditedAt = &at
	return nil
}

func (t *memTx) SoftDeleteAction(_ context.Context, id, actorID int64, at time.Time) error {
	a, ok := t.repo.actions[id]
	if !ok {
		return shared.ErrNotFound
	}
	if a.Deleted() {
		return shared.ErrConflict
	}
	a.DeletedByID = &actorID
	a.DeletedAt = &at
	return nil
}

func (t *memTx) ActiveActions(_ context.Context, caseID int64) ([]Action, error) {
	var out []Action
	for _, a := range t.repo.actions {
		if a.CaseID == caseID && !a.Deleted() {
			out = append(out, *a)
		}
	}
	return out, nil
}

type stubCatalog struct {
	mu       sync.Mutex
	eligible map[[2]int64]bool
	missing  map[int64]bool
}

func newStubCatalog() *stubCatalog {
	return &stubCatalog{eligible: make(map[[2]int64]bool), missing: make(map[int64]bool)}
}

func (c *stubCatalog) allow(violationID, sanctionTypeID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eligible[[2]int64{violationID, sanctionTypeID}] = true
}

func (c *stubCatalog) ValidateViolation(_ context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.missing[id] {
		return shared.ErrValidation
	}
	return nil
}

func (c *stubCatalog) IsEligible(_ context.Context, violationID, sanctionTypeID int64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eligible[[2]int64{violationID, sanctionTypeID}], nil
}

type stubStudents struct {
	missing map[int64]bool
}

func (s *stubStudents) ValidateStudent(_ context.Context, id int64) error {
	if s.missing[id] {
		return shared.ErrValidation
	}
	return nil
}

type recordingAudit struct {
	mu      sync.Mutex
	records []shared.AuditLog
}

func (r *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, log)
	return nil
}

func (r *recordingAudit) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.Action)
	}
	return out
}

type memIdempotency struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemIdempotency() *memIdempotency {
	return &memIdempotency{seen: make(map[string]bool)}
}

func (s *memIdempotency) CheckAndInsert(_ context.Context, key, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[key] {
		return shared.ErrIdempotencyConflict
	}
	s.seen[key] = true
	return nil
}

func (s *memIdempotency) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, key)
	return nil
}

type fixture struct {
	repo     *memRepo
	catalog  *stubCatalog
	students *stubStudents
	audit    *recordingAudit
	idem     *memIdempotency
	service  *Service
	clock    *stepClock
}

// stepClock hands out strictly increasing timestamps so timeline ordering is
// deterministic even within one test.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:     newMemRepo(),
		catalog:  newStubCatalog(),
		students: &stubStudents{missing: make(map[int64]bool)},
		audit:    &recordingAudit{},
		idem:     newMemIdempotency(),
		clock:    &stepClock{now: time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)},
	}
	f.service = NewService(f.repo, f.catalog, f.students, f.audit, f.idem, nil).
		WithClock(f.clock.Now)
	return f
}

func (f *fixture) openCase(t *testing.T) Case {
	t.Helper()
	f.catalog.allow(10, 100)
	c, err := f.service.OpenCase(context.Background(), OpenCaseInput{
		StudentID:     1,
		ViolationID:   10,
		ClassLevel:    "XI-A",
		Description:   "terlambat tiga kali dalam seminggu",
		ViolationDate: time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC),
	}, 7)
	require.NoError(t, err)
	return c
}

func TestOpenCaseAssignsSequentialNumbers(t *testing.T) {
	f := newFixture(t)

	first := f.openCase(t)
	second := f.openCase(t)

	require.Equal(t, "VC-2025-001", first.CaseNumber)
	require.Equal(t, "VC-2025-002", second.CaseNumber)
	require.Equal(t, StatusPending, first.Status)
	require.Equal(t, int64(7), first.InputByID)
	require.Contains(t, f.audit.actions(), "case.open")
}

func TestOpenCaseRejectsUnknownReferences(t *testing.T) {
	f := newFixture(t)
	f.students.missing[99] = true

	_, err := f.service.OpenCase(context.Background(), OpenCaseInput{
		StudentID:     99,
		ViolationID:   10,
		ClassLevel:    "XI-A",
		Description:   "x",
		ViolationDate: time.Now(),
	}, 7)
	require.ErrorIs(t, err, shared.ErrValidation)

	// Nothing persisted, nothing audited.
	require.Empty(t, f.repo.cases)
	require.Empty(t, f.audit.actions())
}

func TestAppendActionMovesCaseToProses(t *testing.T) {
	f := newFixture(t)
	c := f.openCase(t)

	a, err := f.service.AppendAction(context.Background(), c.ID, AppendActionInput{
		SanctionTypeID: 100,
		Description:    "teguran lisan oleh wali kelas",
	}, 7)
	require.NoError(t, err)
	require.False(t, a.IsCompleted)

	got, err := f.service.GetCase(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, StatusProses, got.Status)
}

func TestAppendGuardBlocksAfterCompletion(t *testing.T) {
	f := newFixture(t)
	c := f.openCase(t)

	a, err := f.service.AppendAction(context.Background(), c.ID, AppendActionInput{
		SanctionTypeID: 100,
		Description:    "teguran lisan",
		IsCompleted:    true,
	}, 7)
	require.NoError(t, err)

	got, err := f.service.GetCase(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, StatusSelesai, got.Status)

	_, err = f.service.AppendAction(context.Background(), c.ID, AppendActionInput{
		SanctionTypeID: 100,
		Description:    "tindakan tambahan",
	}, 7)
	require.ErrorIs(t, err, shared.ErrConflict)

	// Reopening by editing the completed action lifts the guard.
	reopen := false
	_, err = f.service.EditAction(context.Background(), a.ID, EditActionInput{IsCompleted: &reopen}, 7)
	require.NoError(t, err)

	got, err = f.service.GetCase(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, StatusProses, got.Status)

	_, err = f.service.AppendAction(context.Background(), c.ID, AppendActionInput{
		SanctionTypeID: 100,
		Description:    "tindakan tambahan",
	}, 7)
	require.NoError(t, err)
}

func TestDeleteActionReprojectsFromRemainingTimeline(t *testing.T) {
	f := newFixture(t)
	c := f.openCase(t)

	first, err := f.service.AppendAction(context.Background(), c.ID, AppendActionInput{
		SanctionTypeID: 100,
		Description:    "pembinaan",
	}, 7)
	require.NoError(t, err)

	second, err := f.service.AppendAction(context.Background(), c.ID, AppendActionInput{
		SanctionTypeID: 100,
		Description:    "pemanggilan orang tua",
		IsCompleted:    true,
	}, 7)
	require.NoError(t, err)

	got, _ := f.service.GetCase(context.Background(), c.ID)
	require.Equal(t, StatusSelesai, got.Status)

	// Dropping the completing action falls back to the older open one.
	require.NoError(t, f.service.DeleteAction(context.Background(), second.ID, 7))
	got, _ = f.service.GetCase(context.Background(), c.ID)
	require.Equal(t, StatusProses, got.Status)

	// Emptying the timeline holds the last known status.
	require.NoError(t, f.service.DeleteAction(context.Background(), first.ID, 7))
	got, _ = f.service.GetCase(context.Background(), c.ID)
	require.Equal(t, StatusProses, got.Status)

	// Tombstoned rows keep their payload for the audit trail.
	row, err := f.repo.GetAction(context.Background(), second.ID)
	require.NoError(t, err)
	require.True(t, row.Deleted())
	require.Equal(t, "pemanggilan orang tua", row.Description)
	require.Equal(t, int64(7), *row.DeletedByID)

	// Deleting again is a conflict, not a silent re-stamp.
	err = f.service.DeleteAction(context.Background(), second.ID, 7)
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestEditActionRules(t *testing.T) {
	f := newFixture(t)
	c := f.openCase(t)

	a, err := f.service.AppendAction(context.Background(), c.ID, AppendActionInput{
		SanctionTypeID: 100,
		Description:    "teguran",
	}, 7)
	require.NoError(t, err)

	_, err = f.service.EditAction(context.Background(), a.ID, EditActionInput{}, 7)
	require.ErrorIs(t, err, shared.ErrValidation)

	badSanction := int64(999)
	_, err = f.service.EditAction(context.Background(), a.ID, EditActionInput{SanctionTypeID: &badSanction}, 7)
	require.ErrorIs(t, err, shared.ErrValidation)

	notes := "orang tua sudah dihubungi"
	updated, err := f.service.EditAction(context.Background(), a.ID, EditActionInput{Notes: &notes}, 8)
	require.NoError(t, err)
	require.Equal(t, notes, *updated.Notes)
	require.Equal(t, int64(8), *updated.EditedByID)
	require.NotNil(t, updated.EditedAt)
	// Untouched fields survive a partial edit.
	require.Equal(t, "teguran", updated.Description)

	require.NoError(t, f.service.DeleteAction(context.Background(), a.ID, 7))
	_, err = f.service.EditAction(context.Background(), a.ID, EditActionInput{Notes: &notes}, 7)
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestEditOlderActionDoesNotOverrideNewer(t *testing.T) {
	f := newFixture(t)
	c := f.openCase(t)

	older, err := f.service.AppendAction(context.Background(), c.ID, AppendActionInput{
		SanctionTypeID: 100,
		Description:    "teguran pertama",
	}, 7)
	require.NoError(t, err)

	_, err = f.service.AppendAction(context.Background(), c.ID, AppendActionInput{
		SanctionTypeID: 100,
		Description:    "teguran kedua",
	}, 7)
	require.NoError(t, err)

	// Completing the older action must not finish the case while the
	// newer one is still open.
	done := true
	_, err = f.service.EditAction(context.Background(), older.ID, EditActionInput{IsCompleted: &done}, 7)
	require.NoError(t, err)

	got, _ := f.service.GetCase(context.Background(), c.ID)
	require.Equal(t, StatusProses, got.Status)
}

func TestCancelCaseIsAbsorbing(t *testing.T) {
	f := newFixture(t)
	c := f.openCase(t)

	cancelled, err := f.service.CancelCase(context.Background(), c.ID, 7)
	require.NoError(t, err)
	require.Equal(t, StatusDibatalkan, cancelled.Status)

	_, err = f.service.CancelCase(context.Background(), c.ID, 7)
	require.ErrorIs(t, err, shared.ErrConflict)

	_, err = f.service.AppendAction(context.Background(), c.ID, AppendActionInput{
		SanctionTypeID: 100,
		Description:    "x",
	}, 7)
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestAppendActionIneligibleSanction(t *testing.T) {
	f := newFixture(t)
	c := f.openCase(t)

	_, err := f.service.AppendAction(context.Background(), c.ID, AppendActionInput{
		SanctionTypeID: 999,
		Description:    "skorsing",
	}, 7)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, f.repo.actions)
}

func TestAppendActionIdempotencyReplay(t *testing.T) {
	f := newFixture(t)
	c := f.openCase(t)

	input := AppendActionInput{
		SanctionTypeID: 100,
		Description:    "teguran",
		IdempotencyKey: "req-abc",
	}
	_, err := f.service.AppendAction(context.Background(), c.ID, input, 7)
	require.NoError(t, err)

	_, err = f.service.AppendAction(context.Background(), c.ID, input, 7)
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Len(t, f.repo.actions, 1)
}

func TestAppendActionReleasesKeyOnGuardConflict(t *testing.T) {
	f := newFixture(t)
	c := f.openCase(t)

	_, err := f.service.AppendAction(context.Background(), c.ID, AppendActionInput{
		SanctionTypeID: 100,
		Description:    "selesai",
		IsCompleted:    true,
	}, 7)
	require.NoError(t, err)

	blocked := AppendActionInput{
		SanctionTypeID: 100,
		Description:    "tindakan baru",
		IdempotencyKey: "req-retry",
	}
	_, err = f.service.AppendAction(context.Background(), c.ID, blocked, 7)
	require.ErrorIs(t, err, shared.ErrConflict)

	// The key was released, so a retry after reopening is not mistaken
	// for a replay.
	require.False(t, f.idem.seen["req-retry"])
}

func TestConcurrentOpenCaseUniqueNumbers(t *testing.T) {
	f := newFixture(t)
	f.catalog.allow(10, 100)

	type result struct {
		number string
		err    error
	}

	const n = 20
	var wg sync.WaitGroup
	results := make(chan result, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := f.service.OpenCase(context.Background(), OpenCaseInput{
				StudentID:     1,
				ViolationID:   10,
				ClassLevel:    "XI-A",
				Description:   "concurrent open",
				ViolationDate: time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC),
			}, 7)
			results <- result{number: c.CaseNumber, err: err}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[string]bool, n)
	for res := range results {
		require.NoError(t, res.err)
		require.False(t, seen[res.number], "duplicate case number %s", res.number)
		seen[res.number] = true
	}
	require.Len(t, seen, n)
}

func TestConcurrentAppendGuard(t *testing.T) {
	f := newFixture(t)
	c := f.openCase(t)

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.AppendAction(context.Background(), c.ID, AppendActionInput{
				SanctionTypeID: 100,
				Description:    "penutupan kasus",
				IsCompleted:    true,
			}, 7)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, shared.ErrConflict)
	}
	// Only one completing append can win; everyone else hits the guard.
	require.Equal(t, 1, succeeded)

	got, _ := f.service.GetCase(context.Background(), c.ID)
	require.Equal(t, StatusSelesai, got.Status)
}

func TestListDueFollowUps(t *testing.T) {
	f := newFixture(t)
	c := f.openCase(t)

	due := time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)
	_, err := f.service.AppendAction(context.Background(), c.ID, AppendActionInput{
		SanctionTypeID: 100,
		Description:    "pembinaan",
		FollowUpDate:   &due,
	}, 7)
	require.NoError(t, err)

	reminders, err := f.repo.ListDueFollowUps(context.Background(), due.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, reminders, 1)

	none, err := f.repo.ListDueFollowUps(context.Background(), due.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Empty(t, none)
}
