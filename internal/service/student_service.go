package service

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/school-sms-api/internal/dto"
	"github.com/noah-isme/school-sms-api/internal/models"
	apperrors "github.com/noah-isme/school-sms-api/pkg/errors"
)

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
	FindByID(ctx context.Context, id string) (*models.Student, error)
	FindForNotification(ctx context.Context, grades []string, feeStatus *string) ([]models.Student, error)
	FindByNameGradeClass(ctx context.Context, name, grade, classLetter string) (*models.Student, error)
	Exists(ctx context.Context, name, grade, classLetter, excludeID string) (bool, error)
	Create(ctx context.Context, student *models.Student) error
	Update(ctx context.Context, student *models.Student) error
	Delete(ctx context.Context, id string) error
}

// StudentService handles student record use-cases. Phone numbers are
// normalized to canonical form on every write path.
type StudentService struct {
	repo      studentRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewStudentService constructs the student service.
func NewStudentService(repo studentRepository, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{repo: repo, validator: validate, logger: logger}
}

// List returns students and pagination metadata.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error) {
	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, apperrors.Wrap(err, apperrors.ErrInternal.Code, apperrors.ErrInternal.Status, "failed to list students")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return students, pagination, nil
}

// Get returns one student.
func (s *StudentService) Get(ctx context.Context, id string) (*models.Student, error) {
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.Clone(apperrors.ErrNotFound, "student not found")
		}
		return nil, apperrors.Wrap(err, apperrors.ErrInternal.Code, apperrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

// Create registers a new student.
func (s *StudentService) Create(ctx context.Context, req dto.CreateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrValidation.Code, apperrors.ErrValidation.Status, "invalid student payload")
	}
	student, err := s.buildStudent(req.Name, req.Grade, req.ClassLetter, req.Parent1Phone, req.Parent2Phone, req.FeeStatus)
	if err != nil {
		return nil, err
	}
	exists, err := s.repo.Exists(ctx, student.Name, student.Grade, student.ClassLetter, "")
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternal.Code, apperrors.ErrInternal.Status, "failed to check uniqueness")
	}
	if exists {
		return nil, apperrors.Clone(apperrors.ErrConflict, "student already registered in this grade and class")
	}
	if err := s.repo.Create(ctx, student); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternal.Code, apperrors.ErrInternal.Status, "failed to create student")
	}
	return student, nil
}

// Update modifies an existing student record.
func (s *StudentService) Update(ctx context.Context, id string, req dto.UpdateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrValidation.Code, apperrors.ErrValidation.Status, "invalid student payload")
	}
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	student, err := s.buildStudent(req.Name, req.Grade, req.ClassLetter, req.Parent1Phone, req.Parent2Phone, req.FeeStatus)
	if err != nil {
		return nil, err
	}
	duplicate, err := s.repo.Exists(ctx, student.Name, student.Grade, student.ClassLetter, id)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternal.Code, apperrors.ErrInternal.Status, "failed to check uniqueness")
	}
	if duplicate {
		return nil, apperrors.Clone(apperrors.ErrConflict, "student already registered in this grade and class")
	}
	student.ID = existing.ID
	student.CreatedAt = existing.CreatedAt
	if err := s.repo.Update(ctx, student); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternal.Code, apperrors.ErrInternal.Status, "failed to update student")
	}
	return student, nil
}

// Delete removes a student record.
func (s *StudentService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return apperrors.Wrap(err, apperrors.ErrInternal.Code, apperrors.ErrInternal.Status, "failed to delete student")
	}
	return nil
}

// ImportCSV ingests students from CSV content with the header
// name,grade,class_letter,parent1_phone,parent2_phone,fee_status.
// Existing students (same name, grade, class) are updated in place.
// Bad rows are reported per row and never abort the import.
func (s *StudentService) ImportCSV(ctx context.Context, r io.Reader) (*dto.ImportReport, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrValidation.Code, apperrors.ErrValidation.Status, "failed to read CSV header")
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"name", "grade", "class_letter", "parent1_phone"} {
		if _, ok := columns[required]; !ok {
			return nil, apperrors.Clone(apperrors.ErrValidation, fmt.Sprintf("CSV is missing required column %q", required))
		}
	}

	report := &dto.ImportReport{}
	rowNumber := 1
	for {
		rowNumber++
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			report.Skipped++
			report.Errors = append(report.Errors, dto.ImportRowError{Row: rowNumber, Reason: err.Error()})
			continue
		}

		field := func(name string) string {
			idx, ok := columns[name]
			if !ok || idx >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[idx])
		}

		var parent2 *string
		if raw := field("parent2_phone"); raw != "" {
			parent2 = &raw
		}
		student, err := s.buildStudent(field("name"), field("grade"), field("class_letter"), field("parent1_phone"), parent2, field("fee_status"))
		if err != nil {
			report.Skipped++
			report.Errors = append(report.Errors, dto.ImportRowError{Row: rowNumber, Reason: err.Error()})
			continue
		}

		if err := s.upsert(ctx, student); err != nil {
			report.Skipped++
			report.Errors = append(report.Errors, dto.ImportRowError{Row: rowNumber, Reason: err.Error()})
			s.logger.Warn("csv row import failed", zap.Int("row", rowNumber), zap.Error(err))
			continue
		}
		report.Imported++
	}

	s.logger.Info("student csv import finished",
		zap.Int("imported", report.Imported),
		zap.Int("skipped", report.Skipped))
	return report, nil
}

func (s *StudentService) upsert(ctx context.Context, student *models.Student) error {
	existing, err := s.repo.FindByNameGradeClass(ctx, student.Name, student.Grade, student.ClassLetter)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s.repo.Create(ctx, student)
		}
		return err
	}
	student.ID = existing.ID
	student.CreatedAt = existing.CreatedAt
	return s.repo.Update(ctx, student)
}

// buildStudent validates fields and normalizes both phone numbers.
func (s *StudentService) buildStudent(name, grade, classLetter, parent1 string, parent2 *string, feeStatus string) (*models.Student, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.Clone(apperrors.ErrValidation, "name is required")
	}
	if !models.ValidGrade(grade) {
		return nil, apperrors.Clone(apperrors.ErrValidation, fmt.Sprintf("unknown grade %q", grade))
	}
	classLetter = strings.ToUpper(strings.TrimSpace(classLetter))
	if len(classLetter) != 1 || classLetter[0] < 'A' || classLetter[0] > 'Z' {
		return nil, apperrors.Clone(apperrors.ErrValidation, "class letter must be a single letter A-Z")
	}
	if feeStatus == "" {
		feeStatus = models.FeeStatusUnpaid
	}
	if feeStatus != models.FeeStatusPaid && feeStatus != models.FeeStatusUnpaid {
		return nil, apperrors.Clone(apperrors.ErrValidation, "fee status must be paid or unpaid")
	}

	primary, err := NormalizePhone(parent1)
	if err != nil {
		return nil, err
	}
	var secondary *string
	if parent2 != nil && strings.TrimSpace(*parent2) != "" {
		normalized, err := NormalizePhone(*parent2)
		if err != nil {
			return nil, err
		}
		secondary = &normalized
	}

	return &models.Student{
		Name:         name,
		Grade:        grade,
		ClassLetter:  classLetter,
		Parent1Phone: primary,
		Parent2Phone: secondary,
		FeeStatus:    feeStatus,
	}, nil
}
