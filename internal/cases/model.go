package cases

import "time"

// CaseStatus is the derived lifecycle state of a disciplinary case.
type CaseStatus string

const (
	StatusPending    CaseStatus = "PENDING"
	StatusProses     CaseStatus = "PROSES"
	StatusSelesai    CaseStatus = "SELESAI"
	StatusDibatalkan CaseStatus = "DIBATALKAN"
)

// Case is a disciplinary record opened against a student for one violation.
// Status is denormalized onto the row but only ever written by re-projection
// inside the same transaction as the timeline mutation that caused it.
type Case struct {
	ID            int64      `json:"id" db:"id"`
	CaseNumber    string     `json:"case_number" db:"case_number"`
	StudentID     int64      `json:"student_id" db:"student_id"`
	ViolationID   int64      `json:"violation_id" db:"violation_id"`
	ClassLevel    string     `json:"class_level" db:"class_level"`
	Description   string     `json:"description" db:"description"`
	ViolationDate time.Time  `json:"violation_date" db:"violation_date"`
	Location      *string    `json:"location,omitempty" db:"location"`
	Witnesses     *string    `json:"witnesses,omitempty" db:"witnesses"`
	EvidenceURLs  []string   `json:"evidence_urls" db:"evidence_urls"`
	Status        CaseStatus `json:"status" db:"status"`
	InputByID     int64      `json:"input_by_id" db:"input_by_id"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// Action is one remedial step recorded against a case. Rows are append-only:
// edits stamp edited_by/edited_at in place and deletion only sets the
// tombstone columns, never removes the row.
type Action struct {
	ID             int64      `json:"id" db:"id"`
	CaseID         int64      `json:"case_id" db:"case_id"`
	SanctionTypeID int64      `json:"sanction_type_id" db:"sanction_type_id"`
	Description    string     `json:"description" db:"description"`
	FollowUpDate   *time.Time `json:"follow_up_date,omitempty" db:"follow_up_date"`
	Notes          *string    `json:"notes,omitempty" db:"notes"`
	EvidenceURLs   []string   `json:"evidence_urls" db:"evidence_urls"`
	IsCompleted    bool       `json:"is_completed" db:"is_completed"`
	ActionByID     int64      `json:"action_by_id" db:"action_by_id"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	EditedByID     *int64     `json:"edited_by_id,omitempty" db:"edited_by_id"`
	EditedAt       *time.Time `json:"edited_at,omitempty" db:"edited_at"`
	DeletedByID    *int64     `json:"deleted_by_id,omitempty" db:"deleted_by_id"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// Deleted reports whether the action carries a tombstone.
func (a Action) Deleted() bool {
	return a.DeletedAt != nil
}

// ActionWithDetails joins the catalog snapshot and actor display names at
// read time. Names can drift when a user is renamed; they are not a
// data-entry-time snapshot.
type ActionWithDetails struct {
	Action
	SanctionTypeName string  `json:"sanction_type_name" db:"sanction_type_name"`
	SanctionLevel    string  `json:"sanction_level" db:"sanction_level"`
	ActionByName     string  `json:"action_by_name" db:"action_by_name"`
	EditedByName     *string `json:"edited_by_name,omitempty" db:"edited_by_name"`
}

// CaseWithDetails enriches a case row for listings.
type CaseWithDetails struct {
	Case
	StudentName   string `json:"student_name" db:"student_name"`
	ViolationName string `json:"violation_name" db:"violation_name"`
	InputByName   string `json:"input_by_name" db:"input_by_name"`
}

// FollowUpReminder is a due follow-up surfaced to the reminder job.
type FollowUpReminder struct {
	ActionID     int64     `json:"action_id"`
	CaseID       int64     `json:"case_id"`
	CaseNumber   string    `json:"case_number"`
	StudentName  string    `json:"student_name"`
	Description  string    `json:"description"`
	FollowUpDate time.Time `json:"follow_up_date"`
	ActionByID   int64     `json:"action_by_id"`
}
