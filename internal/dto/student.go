package dto

// CreateStudentRequest holds payload for registering a student.
type CreateStudentRequest struct {
	Name         string  `json:"name" validate:"required"`
	Grade        string  `json:"grade" validate:"required"`
	ClassLetter  string  `json:"class_letter" validate:"required,len=1"`
	Parent1Phone string  `json:"parent1_phone" validate:"required"`
	Parent2Phone *string `json:"parent2_phone,omitempty"`
	FeeStatus    string  `json:"fee_status" validate:"omitempty,oneof=paid unpaid"`
}

// UpdateStudentRequest holds payload for updating a student.
type UpdateStudentRequest struct {
	Name         string  `json:"name" validate:"required"`
	Grade        string  `json:"grade" validate:"required"`
	ClassLetter  string  `json:"class_letter" validate:"required,len=1"`
	Parent1Phone string  `json:"parent1_phone" validate:"required"`
	Parent2Phone *string `json:"parent2_phone,omitempty"`
	FeeStatus    string  `json:"fee_status" validate:"required,oneof=paid unpaid"`
}

// ImportRowError describes one rejected CSV row.
type ImportRowError struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// ImportReport summarises a CSV student import.
type ImportReport struct {
	Imported int              `json:"imported"`
	Skipped  int              `json:"skipped"`
	Errors   []ImportRowError `json:"errors,omitempty"`
}
