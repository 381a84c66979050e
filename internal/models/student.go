package models

import "time"

// Fee status values a student can hold.
const (
	FeeStatusPaid   = "paid"
	FeeStatusUnpaid = "unpaid"
)

// Grades recognised by the school, reception through grade seven.
var Grades = []string{
	"Grade R",
	"Grade 1",
	"Grade 2",
	"Grade 3",
	"Grade 4",
	"Grade 5",
	"Grade 6",
	"Grade 7",
}

// ValidGrade reports whether g is one of the recognised grade levels.
func ValidGrade(g string) bool {
	for _, grade := range Grades {
		if grade == g {
			return true
		}
	}
	return false
}

// Student represents a learner whose parents receive SMS notifications.
// Phone numbers are stored in canonical +27XXXXXXXXX format.
type Student struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Grade        string    `db:"grade" json:"grade"`
	ClassLetter  string    `db:"class_letter" json:"class_letter"`
	Parent1Phone string    `db:"parent1_phone" json:"parent1_phone"`
	Parent2Phone *string   `db:"parent2_phone" json:"parent2_phone,omitempty"`
	FeeStatus    string    `db:"fee_status" json:"fee_status"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// SecondaryPhone returns the second parent phone or "" when absent.
func (s Student) SecondaryPhone() string {
	if s.Parent2Phone == nil {
		return ""
	}
	return *s.Parent2Phone
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search    string
	Grades    []string
	FeeStatus *string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
