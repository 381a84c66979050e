package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/school-sms-api/internal/models"
)

// SMSLogRepository is the append-only history of SMS send attempts.
type SMSLogRepository struct {
	db *sqlx.DB
}

// NewSMSLogRepository constructs an SMSLogRepository.
func NewSMSLogRepository(db *sqlx.DB) *SMSLogRepository {
	return &SMSLogRepository{db: db}
}

const smsLogColumns = "id, student_id, recipient_phone, message_content, status, error_detail, api_message_id, delivery_status, is_bulk, template_name, sent_at"

// Append inserts a new send attempt. The ID and sent_at timestamp are
// assigned here; a missing status defaults to pending.
func (r *SMSLogRepository) Append(ctx context.Context, log *models.SMSLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.Status == "" {
		log.Status = models.SMSStatusPending
	}
	if log.SentAt.IsZero() {
		log.SentAt = time.Now().UTC()
	}
	const query = `INSERT INTO sms_logs (id, student_id, recipient_phone, message_content, status, error_detail, api_message_id, delivery_status, is_bulk, template_name, sent_at)
        VALUES (:id, :student_id, :recipient_phone, :message_content, :status, :error_detail, :api_message_id, :delivery_status, :is_bulk, :template_name, :sent_at)`
	if _, err := r.db.NamedExecContext(ctx, query, log); err != nil {
		return fmt.Errorf("append sms log: %w", err)
	}
	return nil
}

// UpdateStatus settles a pending attempt to its terminal status and
// records the gateway message id when the send was accepted.
func (r *SMSLogRepository) UpdateStatus(ctx context.Context, id, status string, errorDetail, apiMessageID *string) error {
	const query = `UPDATE sms_logs SET status = $2, error_detail = $3, api_message_id = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, errorDetail, apiMessageID); err != nil {
		return fmt.Errorf("update sms log status: %w", err)
	}
	return nil
}

// UpdateDeliveryStatus records the gateway delivery state for a message
// without touching the terminal send status.
func (r *SMSLogRepository) UpdateDeliveryStatus(ctx context.Context, apiMessageID, deliveryStatus string) error {
	const query = `UPDATE sms_logs SET delivery_status = $2 WHERE api_message_id = $1`
	if _, err := r.db.ExecContext(ctx, query, apiMessageID, deliveryStatus); err != nil {
		return fmt.Errorf("update sms delivery status: %w", err)
	}
	return nil
}

// Query returns a page of send attempts ordered by sent_at descending.
func (r *SMSLogRepository) Query(ctx context.Context, filter models.SMSLogFilter) ([]models.SMSLog, int, error) {
	base := "FROM sms_logs"
	args := []interface{}{}
	conditions := []string{"1=1"}

	if filter.StudentID != nil {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, *filter.StudentID)
	}
	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.TemplateName != nil {
		conditions = append(conditions, fmt.Sprintf("template_name = $%d", len(args)+1))
		args = append(args, *filter.TemplateName)
	}

	base = fmt.Sprintf("%s WHERE %s", base, strings.Join(conditions, " AND "))

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	skip := filter.Skip
	if skip < 0 {
		skip = 0
	}

	query := fmt.Sprintf("SELECT %s %s ORDER BY sent_at DESC LIMIT %d OFFSET %d", smsLogColumns, base, limit, skip)

	var logs []models.SMSLog
	if err := r.db.SelectContext(ctx, &logs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("query sms logs: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count sms logs: %w", err)
	}
	return logs, total, nil
}
