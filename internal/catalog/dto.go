package catalog

// CreateViolationInput describes a new violation catalog entry.
type CreateViolationInput struct {
	Code                   string  `json:"code" validate:"required,max=20"`
	Name                   string  `json:"name" validate:"required"`
	Points                 int     `json:"points" validate:"gte=0"`
	AllowedSanctionTypeIDs []int64 `json:"allowed_sanction_type_ids" validate:"omitempty,dive,gt=0"`
}

// UpdateViolationInput is a partial update; nil fields are left unchanged.
type UpdateViolationInput struct {
	Code                   *string  `json:"code,omitempty" validate:"omitempty,max=20"`
	Name                   *string  `json:"name,omitempty" validate:"omitempty,min=1"`
	Points                 *int     `json:"points,omitempty" validate:"omitempty,gte=0"`
	Active                 *bool    `json:"active,omitempty"`
	AllowedSanctionTypeIDs *[]int64 `json:"allowed_sanction_type_ids,omitempty" validate:"omitempty,dive,gt=0"`
}

// CreateSanctionTypeInput describes a new sanction type.
type CreateSanctionTypeInput struct {
	Name         string        `json:"name" validate:"required"`
	Level        SanctionLevel `json:"level" validate:"required,oneof=RINGAN SEDANG BERAT"`
	DurationDays *int          `json:"duration_days,omitempty" validate:"omitempty,gt=0"`
}

// UpdateSanctionTypeInput is a partial update; nil fields are left unchanged.
type UpdateSanctionTypeInput struct {
	Name         *string        `json:"name,omitempty" validate:"omitempty,min=1"`
	Level        *SanctionLevel `json:"level,omitempty" validate:"omitempty,oneof=RINGAN SEDANG BERAT"`
	DurationDays *int           `json:"duration_days,omitempty" validate:"omitempty,gt=0"`
	Active       *bool          `json:"active,omitempty"`
}
