package cases

import "time"

// OpenCaseInput describes the payload for opening a case.
type OpenCaseInput struct {
	StudentID     int64     `json:"student_id" validate:"required,gt=0"`
	ViolationID   int64     `json:"violation_id" validate:"required,gt=0"`
	ClassLevel    string    `json:"class_level" validate:"required,max=20"`
	Description   string    `json:"description" validate:"required"`
	ViolationDate time.Time `json:"violation_date" validate:"required"`
	Location      *string   `json:"location,omitempty"`
	Witnesses     *string   `json:"witnesses,omitempty"`
	EvidenceURLs  []string  `json:"evidence_urls,omitempty" validate:"omitempty,dive,url"`
}

// AppendActionInput describes the payload for appending a timeline action.
type AppendActionInput struct {
	SanctionTypeID int64      `json:"sanction_type_id" validate:"required,gt=0"`
	Description    string     `json:"description" validate:"required"`
	FollowUpDate   *time.Time `json:"follow_up_date,omitempty"`
	Notes          *string    `json:"notes,omitempty"`
	EvidenceURLs   []string   `json:"evidence_urls,omitempty" validate:"omitempty,dive,url"`
	IsCompleted    bool       `json:"is_completed"`

	// IdempotencyKey comes from the Idempotency-Key header, not the body.
	IdempotencyKey string `json:"-"`
}

// EditActionInput is an explicit partial update: only non-nil fields are
// applied. A field absent from the payload is left untouched, never cleared.
type EditActionInput struct {
	SanctionTypeID *int64     `json:"sanction_type_id,omitempty" validate:"omitempty,gt=0"`
	Description    *string    `json:"description,omitempty" validate:"omitempty,min=1"`
	FollowUpDate   *time.Time `json:"follow_up_date,omitempty"`
	Notes          *string    `json:"notes,omitempty"`
	EvidenceURLs   *[]string  `json:"evidence_urls,omitempty" validate:"omitempty,dive,url"`
	IsCompleted    *bool      `json:"is_completed,omitempty"`
}

// Empty reports whether the edit would change nothing.
func (in EditActionInput) Empty() bool {
	return in.SanctionTypeID == nil && in.Description == nil && in.FollowUpDate == nil &&
		in.Notes == nil && in.EvidenceURLs == nil && in.IsCompleted == nil
}

// ListCasesFilter narrows the case listing.
type ListCasesFilter struct {
	StudentID *int64
	Status    *CaseStatus
	Year      *int
	Search    string
	Page      int
	PerPage   int
}
