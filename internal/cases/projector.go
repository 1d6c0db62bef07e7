package cases

import "fmt"

// ProjectStatus derives a case's status from its action timeline. It is pure
// and total: it never errors, and an empty or already-filtered timeline yields
// a defined result.
//
// Rules:
//   - DIBATALKAN is absorbing; no timeline state projects over it.
//   - An empty timeline (after dropping tombstoned actions) keeps the current
//     status, so a case never regresses to PENDING once actions existed.
//   - Otherwise the single latest non-deleted action decides: completed means
//     SELESAI, open means PROSES.
func ProjectStatus(current CaseStatus, timeline []Action) CaseStatus {
	if current == StatusDibatalkan {
		return current
	}
	latest, ok := latestActive(timeline)
	if !ok {
		if current == "" {
			return StatusPending
		}
		return current
	}
	if latest.IsCompleted {
		return StatusSelesai
	}
	return StatusProses
}

// latestActive returns the most recently created non-deleted action. Ties on
// created_at fall back to the higher id, matching the repository ordering.
func latestActive(timeline []Action) (Action, bool) {
	var latest Action
	found := false
	for _, a := range timeline {
		if a.Deleted() {
			continue
		}
		if !found || a.CreatedAt.After(latest.CreatedAt) ||
			(a.CreatedAt.Equal(latest.CreatedAt) && a.ID > latest.ID) {
			latest = a
			found = true
		}
	}
	return latest, found
}

// FormatCaseNumber renders the human identifier for a case: VC-<year>-<seq>,
// with the per-year sequence zero-padded to three digits.
func FormatCaseNumber(year, seq int) string {
	return fmt.Sprintf("VC-%d-%03d", year, seq)
}
