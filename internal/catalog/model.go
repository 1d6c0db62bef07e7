package catalog

import "time"

// SanctionLevel classifies sanction severity.
type SanctionLevel string

const (
	LevelRingan SanctionLevel = "RINGAN"
	LevelSedang SanctionLevel = "SEDANG"
	LevelBerat  SanctionLevel = "BERAT"
)

// SanctionType is a catalog entry for a remedial measure.
type SanctionType struct {
	ID           int64         `json:"id" db:"id"`
	Name         string        `json:"name" db:"name"`
	Level        SanctionLevel `json:"level" db:"level"`
	DurationDays *int          `json:"duration_days,omitempty" db:"duration_days"`
	Active       bool          `json:"active" db:"active"`
	CreatedAt    time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at" db:"updated_at"`
}

// Violation is a catalog entry for a rule breach, with the set of sanction
// types configured as allowed for it.
type Violation struct {
	ID                     int64     `json:"id" db:"id"`
	Code                   string    `json:"code" db:"code"`
	Name                   string    `json:"name" db:"name"`
	Points                 int       `json:"points" db:"points"`
	Active                 bool      `json:"active" db:"active"`
	AllowedSanctionTypeIDs []int64   `json:"allowed_sanction_type_ids" db:"-"`
	CreatedAt              time.Time `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time `json:"updated_at" db:"updated_at"`
}

// ListFilter narrows catalog listings.
type ListFilter struct {
	Search  string
	Page    int
	PerPage int
}
