package service

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/noah-isme/school-sms-api/internal/models"
	apperrors "github.com/noah-isme/school-sms-api/pkg/errors"
)

var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// TemplateRenderer resolves named message templates against per-student
// variable bindings.
type TemplateRenderer struct {
	templates map[string]string
}

// NewTemplateRenderer builds a renderer with the standard school
// templates plus any extra definitions from configuration.
func NewTemplateRenderer(extra map[string]string) *TemplateRenderer {
	templates := map[string]string{
		"fee_notification":     "Dear Parent, {student_name}'s school fees are {fee_status}.",
		"general_announcement": "Dear Parent, {message_body}",
		"custom":               "{message_body}",
	}
	for name, body := range extra {
		templates[name] = body
	}
	return &TemplateRenderer{templates: templates}
}

// Register adds or replaces a named template.
func (t *TemplateRenderer) Register(name, body string) {
	t.templates[name] = body
}

// Render resolves a named template for a student. The implicit
// student_name and fee_status bindings may be overridden by extraVars.
// Returns UNKNOWN_TEMPLATE for unregistered names and MISSING_VARIABLE
// when a placeholder stays unbound; no partial output is returned.
func (t *TemplateRenderer) Render(name string, student *models.Student, extraVars map[string]string) (string, error) {
	body, ok := t.templates[name]
	if !ok {
		return "", apperrors.Clone(apperrors.ErrUnknownTemplate,
			fmt.Sprintf("message template %q not found", name))
	}
	return substitute(body, bindings(student, extraVars))
}

// RenderInline applies the same binding rules to a literal message, so
// bulk broadcasts may embed {student_name} or {fee_status} tokens. Text
// without placeholders passes through unchanged.
func (t *TemplateRenderer) RenderInline(text string, student *models.Student, extraVars map[string]string) (string, error) {
	return substitute(text, bindings(student, extraVars))
}

func bindings(student *models.Student, extraVars map[string]string) map[string]string {
	vars := make(map[string]string, len(extraVars)+2)
	if student != nil {
		vars["student_name"] = student.Name
		vars["fee_status"] = student.FeeStatus
	}
	for k, v := range extraVars {
		vars[k] = v
	}
	return vars
}

func substitute(body string, vars map[string]string) (string, error) {
	var missing string
	rendered := placeholderPattern.ReplaceAllStringFunc(body, func(token string) string {
		key := strings.Trim(token, "{}")
		value, ok := vars[key]
		if !ok {
			if missing == "" {
				missing = key
			}
			return token
		}
		return value
	})
	if missing != "" {
		return "", apperrors.Clone(apperrors.ErrMissingVariable,
			fmt.Sprintf("template placeholder %q has no bound value", missing))
	}
	return rendered, nil
}
