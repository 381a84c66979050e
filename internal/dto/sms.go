package dto

import "github.com/noah-isme/school-sms-api/internal/models"

// SMSFilter narrows bulk broadcasts to a subset of students. Absent
// fields match everything; an empty grade list is treated as absent.
type SMSFilter struct {
	Grades    []string `json:"grades,omitempty"`
	FeeStatus *string  `json:"fee_status,omitempty" validate:"omitempty,oneof=paid unpaid"`
}

// BulkSMSRequest captures POST /sms/bulk payload.
type BulkSMSRequest struct {
	Message        string     `json:"message" validate:"required,min=1"`
	Filters        *SMSFilter `json:"filters,omitempty"`
	UsePrimaryOnly bool       `json:"use_primary_contact"`
}

// FeeNotificationRequest captures POST /sms/fee-notification payload.
type FeeNotificationRequest struct {
	StudentIDs   []string          `json:"student_ids" validate:"required,min=1,dive,uuid"`
	TemplateName string            `json:"template_name" validate:"required,min=1"`
	TemplateVars map[string]string `json:"template_vars,omitempty"`
}

// RecipientOutcome is the per-recipient result of a dispatch.
type RecipientOutcome struct {
	StudentID    *string `json:"student_id,omitempty"`
	Phone        string  `json:"phone"`
	Status       string  `json:"status"`
	ErrorCode    string  `json:"error_code,omitempty"`
	ErrorDetail  string  `json:"error_detail,omitempty"`
	APIMessageID string  `json:"api_message_id,omitempty"`
	AttemptID    string  `json:"attempt_id,omitempty"`
}

// DispatchReport aggregates a whole dispatch. Partial failure is a
// normal outcome and is reported here rather than as an error.
type DispatchReport struct {
	Attempted int                `json:"attempted"`
	Succeeded int                `json:"succeeded"`
	Failed    int                `json:"failed"`
	Results   []RecipientOutcome `json:"results"`
	Warnings  []string           `json:"warnings,omitempty"`
}

// SMSHistoryResponse is one page of send attempts.
type SMSHistoryResponse struct {
	Logs       []models.SMSLog   `json:"logs"`
	Pagination models.Pagination `json:"pagination"`
}

// CreditBalanceResponse reports the remaining gateway credits.
type CreditBalanceResponse struct {
	CreditBalance float64 `json:"credit_balance"`
	Cached        bool    `json:"cached"`
}

// MessageStatusResponse reports gateway delivery state for one message.
type MessageStatusResponse struct {
	APIMessageID   string `json:"api_message_id"`
	DeliveryStatus string `json:"delivery_status"`
}
