package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/school-sms-api/internal/models"
)

func newStudentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func studentRows(students ...models.Student) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "name", "grade", "class_letter", "parent1_phone", "parent2_phone", "fee_status", "created_at", "updated_at"})
	for _, s := range students {
		rows.AddRow(s.ID, s.Name, s.Grade, s.ClassLetter, s.Parent1Phone, s.Parent2Phone, s.FeeStatus, s.CreatedAt, s.UpdatedAt)
	}
	return rows
}

func TestStudentRepositoryCreateAndFind(t *testing.T) {
	db, mock, cleanup := newStudentRepoMock(t)
	defer cleanup()

	repo := NewStudentRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO students")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	student := &models.Student{
		Name:         "Jane Doe",
		Grade:        "Grade 5",
		ClassLetter:  "A",
		Parent1Phone: "+27821234567",
		FeeStatus:    models.FeeStatusUnpaid,
	}
	require.NoError(t, repo.Create(context.Background(), student))
	require.NotEmpty(t, student.ID)
	require.False(t, student.CreatedAt.IsZero())

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, grade, class_letter")).
		WithArgs(student.ID).
		WillReturnRows(studentRows(*student))

	found, err := repo.FindByID(context.Background(), student.ID)
	require.NoError(t, err)
	require.Equal(t, student.ID, found.ID)
	require.Equal(t, "Jane Doe", found.Name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newStudentRepoMock(t)
	defer cleanup()

	repo := NewStudentRepository(db)
	unpaid := models.FeeStatusUnpaid
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, grade, class_letter")).
		WithArgs(pq.Array([]string{"Grade 5"}), unpaid, "%jane%").
		WillReturnRows(studentRows(models.Student{
			ID: "s-1", Name: "Jane Doe", Grade: "Grade 5", ClassLetter: "A",
			Parent1Phone: "+27821234567", FeeStatus: unpaid, CreatedAt: now, UpdatedAt: now,
		}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM students")).
		WithArgs(pq.Array([]string{"Grade 5"}), unpaid, "%jane%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	students, total, err := repo.List(context.Background(), models.StudentFilter{
		Search:    "Jane",
		Grades:    []string{"Grade 5"},
		FeeStatus: &unpaid,
		Page:      1,
		PageSize:  20,
	})
	require.NoError(t, err)
	require.Len(t, students, 1)
	require.Equal(t, 1, total)
	require.Equal(t, "s-1", students[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryFindForNotification(t *testing.T) {
	db, mock, cleanup := newStudentRepoMock(t)
	defer cleanup()

	repo := NewStudentRepository(db)
	unpaid := models.FeeStatusUnpaid

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY grade, name")).
		WithArgs(pq.Array([]string{"Grade 3", "Grade 5"}), unpaid).
		WillReturnRows(studentRows(
			models.Student{ID: "s-1", Name: "Thabo", Grade: "Grade 3", FeeStatus: unpaid},
			models.Student{ID: "s-2", Name: "Jane", Grade: "Grade 5", FeeStatus: unpaid},
		))

	students, err := repo.FindForNotification(context.Background(), []string{"Grade 3", "Grade 5"}, &unpaid)
	require.NoError(t, err)
	require.Len(t, students, 2)
	require.Equal(t, "s-1", students[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryExists(t *testing.T) {
	db, mock, cleanup := newStudentRepoMock(t)
	defer cleanup()

	repo := NewStudentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM students")).
		WithArgs("Jane Doe", "Grade 5", "A").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(1))
	exists, err := repo.Exists(context.Background(), "Jane Doe", "Grade 5", "A", "")
	require.NoError(t, err)
	require.True(t, exists)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM students")).
		WithArgs("Jane Doe", "Grade 5", "A", "s-1").
		WillReturnError(sql.ErrNoRows)
	exists, err = repo.Exists(context.Background(), "Jane Doe", "Grade 5", "A", "s-1")
	require.NoError(t, err)
	require.False(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryUpdateAndDelete(t *testing.T) {
	db, mock, cleanup := newStudentRepoMock(t)
	defer cleanup()

	repo := NewStudentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE students SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	student := &models.Student{ID: "s-1", Name: "Jane Doe", Grade: "Grade 6", ClassLetter: "A", Parent1Phone: "+27821234567", FeeStatus: models.FeeStatusPaid}
	require.NoError(t, repo.Update(context.Background(), student))
	require.False(t, student.UpdatedAt.IsZero())

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM students")).
		WithArgs("s-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Delete(context.Background(), "s-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryFindByNameGradeClass(t *testing.T) {
	db, mock, cleanup := newStudentRepoMock(t)
	defer cleanup()

	repo := NewStudentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE name = $1 AND grade = $2 AND class_letter = $3")).
		WithArgs("Jane Doe", "Grade 5", "A").
		WillReturnRows(studentRows(models.Student{ID: "s-1", Name: "Jane Doe", Grade: "Grade 5", ClassLetter: "A"}))

	found, err := repo.FindByNameGradeClass(context.Background(), "Jane Doe", "Grade 5", "A")
	require.NoError(t, err)
	require.Equal(t, "s-1", found.ID)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE name = $1 AND grade = $2 AND class_letter = $3")).
		WithArgs("Nobody", "Grade 1", "B").
		WillReturnError(sql.ErrNoRows)
	_, err = repo.FindByNameGradeClass(context.Background(), "Nobody", "Grade 1", "B")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}
