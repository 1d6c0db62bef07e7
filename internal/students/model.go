package students

import "time"

// Student is the read-side projection of the school's student directory.
// Enrollment CRUD lives in the SIS; this service only reads.
type Student struct {
	ID         int64     `json:"id"`
	NISN       string    `json:"nisn"`
	FullName   string    `json:"full_name"`
	ClassLevel string    `json:"class_level"`
	Guardian   *string   `json:"guardian,omitempty"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ListFilter narrows List queries.
type ListFilter struct {
	Search     string
	ClassLevel string
	Page       int
	PerPage    int
}
