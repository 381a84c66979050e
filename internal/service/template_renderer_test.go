package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/school-sms-api/internal/models"
	apperrors "github.com/noah-isme/school-sms-api/pkg/errors"
)

func testStudent() *models.Student {
	return &models.Student{ID: "s1", Name: "Jane", Grade: "Grade 5", FeeStatus: models.FeeStatusUnpaid}
}

func TestRenderFeeNotification(t *testing.T) {
	renderer := NewTemplateRenderer(nil)
	text, err := renderer.Render("fee_notification", testStudent(), nil)
	require.NoError(t, err)
	assert.Equal(t, "Dear Parent, Jane's school fees are unpaid.", text)
}

func TestRenderExtraVarsOverrideImplicit(t *testing.T) {
	renderer := NewTemplateRenderer(nil)
	text, err := renderer.Render("fee_notification", testStudent(), map[string]string{"fee_status": "overdue"})
	require.NoError(t, err)
	assert.Equal(t, "Dear Parent, Jane's school fees are overdue.", text)
}

func TestRenderUnknownTemplate(t *testing.T) {
	renderer := NewTemplateRenderer(nil)
	_, err := renderer.Render("does_not_exist", testStudent(), nil)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrUnknownTemplate))
}

func TestRenderMissingVariableNamesFirstUnresolved(t *testing.T) {
	renderer := NewTemplateRenderer(map[string]string{
		"reminder": "Hello {student_name}, {first_missing} then {second_missing}",
	})
	_, err := renderer.Render("reminder", testStudent(), nil)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrMissingVariable))
	assert.Contains(t, err.Error(), "first_missing")
	assert.NotContains(t, err.Error(), "second_missing")
}

func TestRenderDeterministic(t *testing.T) {
	renderer := NewTemplateRenderer(nil)
	vars := map[string]string{"message_body": "Sports day Friday"}
	first, err := renderer.Render("general_announcement", testStudent(), vars)
	require.NoError(t, err)
	second, err := renderer.Render("general_announcement", testStudent(), vars)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRenderInline(t *testing.T) {
	renderer := NewTemplateRenderer(nil)

	text, err := renderer.RenderInline("Fees for {student_name} are {fee_status}.", testStudent(), nil)
	require.NoError(t, err)
	assert.Equal(t, "Fees for Jane are unpaid.", text)

	literal, err := renderer.RenderInline("School closes at noon tomorrow.", testStudent(), nil)
	require.NoError(t, err)
	assert.Equal(t, "School closes at noon tomorrow.", literal)

	_, err = renderer.RenderInline("Hello {unknown_token}", testStudent(), nil)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrMissingVariable))
}

func TestRegisterTemplate(t *testing.T) {
	renderer := NewTemplateRenderer(nil)
	renderer.Register("late_fee", "Late fee for {student_name}: R{amount}")
	text, err := renderer.Render("late_fee", testStudent(), map[string]string{"amount": "250"})
	require.NoError(t, err)
	assert.Equal(t, "Late fee for Jane: R250", text)
}
