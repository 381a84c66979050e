package models

import "time"

// Send-attempt lifecycle statuses. A log row is created pending and
// settles to success or failed exactly once.
const (
	SMSStatusPending = "pending"
	SMSStatusSuccess = "success"
	SMSStatusFailed  = "failed"
)

// SMSLog is one send attempt to one recipient phone. Rows are append
// only: after the terminal status is recorded only the gateway delivery
// status may still arrive.
type SMSLog struct {
	ID             string    `db:"id" json:"id"`
	StudentID      *string   `db:"student_id" json:"student_id,omitempty"`
	RecipientPhone string    `db:"recipient_phone" json:"recipient_phone"`
	MessageContent string    `db:"message_content" json:"message_content"`
	Status         string    `db:"status" json:"status"`
	ErrorDetail    *string   `db:"error_detail" json:"error_detail,omitempty"`
	APIMessageID   *string   `db:"api_message_id" json:"api_message_id,omitempty"`
	DeliveryStatus *string   `db:"delivery_status" json:"delivery_status,omitempty"`
	IsBulk         bool      `db:"is_bulk" json:"is_bulk"`
	TemplateName   *string   `db:"template_name" json:"template_name,omitempty"`
	SentAt         time.Time `db:"sent_at" json:"sent_at"`
}

// SMSLogFilter narrows history queries. Nil fields are not applied.
type SMSLogFilter struct {
	StudentID    *string
	Status       *string
	TemplateName *string
	Skip         int
	Limit        int
}
