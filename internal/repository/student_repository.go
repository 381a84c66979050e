package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/school-sms-api/internal/models"
)

// StudentRepository manages persistence for student records.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

const studentColumns = "id, name, grade, class_letter, parent1_phone, parent2_phone, fee_status, created_at, updated_at"

// List returns students matching the provided filters.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	base := "FROM students"
	args := []interface{}{}
	conditions := []string{"1=1"}

	if len(filter.Grades) > 0 {
		conditions = append(conditions, fmt.Sprintf("grade = ANY($%d)", len(args)+1))
		args = append(args, pq.Array(filter.Grades))
	}
	if filter.FeeStatus != nil {
		conditions = append(conditions, fmt.Sprintf("fee_status = $%d", len(args)+1))
		args = append(args, *filter.FeeStatus)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(name) LIKE $%d", len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	base = fmt.Sprintf("%s WHERE %s", base, strings.Join(conditions, " AND "))

	allowedSorts := map[string]string{
		"name":       "name",
		"grade":      "grade",
		"created_at": "created_at",
	}
	column, ok := allowedSorts[filter.SortBy]
	if !ok {
		column = "created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", studentColumns, base, column, order, size, offset)

	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, total, nil
}

// FindForNotification returns every student matching the grade and fee
// status filters, ordered by grade then name. Used by broadcast
// resolution, which must see the full matching set rather than a page.
func (r *StudentRepository) FindForNotification(ctx context.Context, grades []string, feeStatus *string) ([]models.Student, error) {
	base := "FROM students"
	args := []interface{}{}
	conditions := []string{"1=1"}

	if len(grades) > 0 {
		conditions = append(conditions, fmt.Sprintf("grade = ANY($%d)", len(args)+1))
		args = append(args, pq.Array(grades))
	}
	if feeStatus != nil {
		conditions = append(conditions, fmt.Sprintf("fee_status = $%d", len(args)+1))
		args = append(args, *feeStatus)
	}

	query := fmt.Sprintf("SELECT %s %s WHERE %s ORDER BY grade, name", studentColumns, base, strings.Join(conditions, " AND "))

	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, fmt.Errorf("find students for notification: %w", err)
	}
	return students, nil
}

// FindByID fetches a student by ID.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	query := fmt.Sprintf("SELECT %s FROM students WHERE id = $1", studentColumns)
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// FindByNameGradeClass fetches the student registered under the given
// name, grade and class letter, or sql.ErrNoRows.
func (r *StudentRepository) FindByNameGradeClass(ctx context.Context, name, grade, classLetter string) (*models.Student, error) {
	query := fmt.Sprintf("SELECT %s FROM students WHERE name = $1 AND grade = $2 AND class_letter = $3", studentColumns)
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, name, grade, classLetter); err != nil {
		return nil, err
	}
	return &student, nil
}

// Exists checks whether a student with the same name, grade and class
// is already registered, optionally excluding an ID.
func (r *StudentRepository) Exists(ctx context.Context, name, grade, classLetter, excludeID string) (bool, error) {
	query := "SELECT 1 FROM students WHERE name = $1 AND grade = $2 AND class_letter = $3"
	args := []interface{}{name, grade, classLetter}
	if excludeID != "" {
		query += " AND id <> $4"
		args = append(args, excludeID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check student uniqueness: %w", err)
	}
	return true, nil
}

// Create inserts a new student record.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if student.CreatedAt.IsZero() {
		student.CreatedAt = now
	}
	student.UpdatedAt = now
	const query = `INSERT INTO students (id, name, grade, class_letter, parent1_phone, parent2_phone, fee_status, created_at, updated_at)
        VALUES (:id, :name, :grade, :class_letter, :parent1_phone, :parent2_phone, :fee_status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// Update modifies an existing student.
func (r *StudentRepository) Update(ctx context.Context, student *models.Student) error {
	student.UpdatedAt = time.Now().UTC()
	const query = `UPDATE students SET name = :name, grade = :grade, class_letter = :class_letter,
        parent1_phone = :parent1_phone, parent2_phone = :parent2_phone, fee_status = :fee_status,
        updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("update student: %w", err)
	}
	return nil
}

// Delete removes a student record.
func (r *StudentRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM students WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	return nil
}
