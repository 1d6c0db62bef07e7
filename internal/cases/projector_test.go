package cases

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func action(id int64, createdAt time.Time, completed bool, deletedAt *time.Time) Action {
	return Action{
		ID:          id,
		CreatedAt:   createdAt,
		IsCompleted: completed,
		DeletedAt:   deletedAt,
	}
}

func TestProjectStatusEmptyTimeline(t *testing.T) {
	require.Equal(t, StatusPending, ProjectStatus("", nil))
	require.Equal(t, StatusPending, ProjectStatus(StatusPending, nil))
	require.Equal(t, StatusProses, ProjectStatus(StatusProses, nil))
	require.Equal(t, StatusSelesai, ProjectStatus(StatusSelesai, []Action{}))
}

func TestProjectStatusLatestActionDecides(t *testing.T) {
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	timeline := []Action{
		action(1, base, true, nil),
		action(2, base.Add(time.Hour), false, nil),
	}
	require.Equal(t, StatusProses, ProjectStatus(StatusPending, timeline))

	timeline[1].IsCompleted = true
	require.Equal(t, StatusSelesai, ProjectStatus(StatusPending, timeline))
}

func TestProjectStatusIgnoresDeletedActions(t *testing.T) {
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	deletedAt := base.Add(2 * time.Hour)

	timeline := []Action{
		action(1, base, false, nil),
		action(2, base.Add(time.Hour), true, &deletedAt),
	}
	// Tombstoned completion does not finish the case.
	require.Equal(t, StatusProses, ProjectStatus(StatusSelesai, timeline))
}

func TestProjectStatusAllDeletedKeepsCurrent(t *testing.T) {
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	deletedAt := base.Add(time.Hour)

	timeline := []Action{
		action(1, base, true, &deletedAt),
	}
	require.Equal(t, StatusSelesai, ProjectStatus(StatusSelesai, timeline))
	require.Equal(t, StatusProses, ProjectStatus(StatusProses, timeline))
}

func TestProjectStatusCancelledIsAbsorbing(t *testing.T) {
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	timeline := []Action{
		action(1, base, true, nil),
	}
	require.Equal(t, StatusDibatalkan, ProjectStatus(StatusDibatalkan, timeline))
	require.Equal(t, StatusDibatalkan, ProjectStatus(StatusDibatalkan, nil))
}

func TestProjectStatusTieBreaksOnID(t *testing.T) {
	at := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	timeline := []Action{
		action(2, at, true, nil),
		action(1, at, false, nil),
	}
	require.Equal(t, StatusSelesai, ProjectStatus(StatusPending, timeline))

	timeline = []Action{
		action(2, at, false, nil),
		action(1, at, true, nil),
	}
	require.Equal(t, StatusProses, ProjectStatus(StatusPending, timeline))
}

func TestFormatCaseNumber(t *testing.T) {
	require.Equal(t, "VC-2025-001", FormatCaseNumber(2025, 1))
	require.Equal(t, "VC-2025-042", FormatCaseNumber(2025, 42))
	require.Equal(t, "VC-2026-1000", FormatCaseNumber(2026, 1000))
}
