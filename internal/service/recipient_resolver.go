package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/school-sms-api/internal/dto"
	"github.com/noah-isme/school-sms-api/internal/models"
	apperrors "github.com/noah-isme/school-sms-api/pkg/errors"
)

type notificationStudentRepository interface {
	FindForNotification(ctx context.Context, grades []string, feeStatus *string) ([]models.Student, error)
}

// Recipient is one (student, phone) pair produced by resolution.
type Recipient struct {
	Student   models.Student
	Phone     string
	Secondary bool
}

// RecipientResolver selects broadcast recipients by grade and fee
// status and expands each student to one or two phone numbers.
type RecipientResolver struct {
	repo   notificationStudentRepository
	logger *zap.Logger
}

// NewRecipientResolver constructs a RecipientResolver.
func NewRecipientResolver(repo notificationStudentRepository, logger *zap.Logger) *RecipientResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecipientResolver{repo: repo, logger: logger}
}

// Resolve returns the ordered recipient list for the optional filters.
// An absent filter matches all students; grade and fee-status filters
// combine with AND. The primary phone is always included; the secondary
// only when usePrimaryOnly is false and the number is present. Students
// without a usable primary phone are skipped with a warning so a single
// bad record cannot abort a broadcast.
func (r *RecipientResolver) Resolve(ctx context.Context, filters *dto.SMSFilter, usePrimaryOnly bool) ([]Recipient, []string, error) {
	var grades []string
	var feeStatus *string
	if filters != nil {
		for _, g := range filters.Grades {
			if !models.ValidGrade(g) {
				return nil, nil, apperrors.Clone(apperrors.ErrValidation, fmt.Sprintf("unknown grade %q", g))
			}
		}
		grades = filters.Grades
		feeStatus = filters.FeeStatus
	}

	students, err := r.repo.FindForNotification(ctx, grades, feeStatus)
	if err != nil {
		return nil, nil, apperrors.Wrap(err, apperrors.ErrInternal.Code, apperrors.ErrInternal.Status, "failed to resolve recipients")
	}

	var recipients []Recipient
	var warnings []string
	for _, student := range students {
		primary, err := NormalizePhone(student.Parent1Phone)
		if err != nil {
			warning := fmt.Sprintf("student %s (%s): no usable primary phone: %v", student.Name, student.ID, err)
			warnings = append(warnings, warning)
			r.logger.Warn("skipping student without usable primary phone",
				zap.String("student_id", student.ID),
				zap.Error(err))
		} else {
			recipients = append(recipients, Recipient{Student: student, Phone: primary})
		}

		if usePrimaryOnly {
			continue
		}
		secondary := student.SecondaryPhone()
		if secondary == "" {
			continue
		}
		normalized, err := NormalizePhone(secondary)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("student %s (%s): secondary phone invalid: %v", student.Name, student.ID, err))
			continue
		}
		recipients = append(recipients, Recipient{Student: student, Phone: normalized, Secondary: true})
	}

	return recipients, warnings, nil
}
