package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/school-sms-api/internal/dto"
	"github.com/noah-isme/school-sms-api/internal/gateway"
	"github.com/noah-isme/school-sms-api/internal/models"
	apperrors "github.com/noah-isme/school-sms-api/pkg/errors"
	"github.com/noah-isme/school-sms-api/pkg/export"
	"github.com/noah-isme/school-sms-api/pkg/jobs"
)

const creditBalanceCacheKey = "sms:credit_balance"

type dispatchStudentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

// historyStore is the append-only send-attempt log the engine records to.
type historyStore interface {
	Append(ctx context.Context, log *models.SMSLog) error
	UpdateStatus(ctx context.Context, id, status string, errorDetail, apiMessageID *string) error
	UpdateDeliveryStatus(ctx context.Context, apiMessageID, deliveryStatus string) error
	Query(ctx context.Context, filter models.SMSLogFilter) ([]models.SMSLog, int, error)
}

type smsGateway interface {
	SendBatch(ctx context.Context, msgs []gateway.Message) ([]gateway.MessageResult, error)
	CreditBalance(ctx context.Context) (float64, error)
	MessageStatuses(ctx context.Context, apiMessageIDs []int64) (map[int64]gateway.DeliveryStatus, error)
}

type recipientResolver interface {
	Resolve(ctx context.Context, filters *dto.SMSFilter, usePrimaryOnly bool) ([]Recipient, []string, error)
}

// DispatchService orchestrates recipient resolution, rendering,
// gateway dispatch and history bookkeeping.
type DispatchService struct {
	students  dispatchStudentRepository
	history   historyStore
	gateway   smsGateway
	resolver  recipientResolver
	renderer  *TemplateRenderer
	validator *validator.Validate
	redis     *redis.Client
	creditTTL time.Duration
	metrics   *MetricsService
	logger    *zap.Logger

	statusQueue *jobs.Queue
}

// NewDispatchService constructs the dispatch engine.
func NewDispatchService(
	students dispatchStudentRepository,
	history historyStore,
	gw smsGateway,
	resolver recipientResolver,
	renderer *TemplateRenderer,
	validate *validator.Validate,
	logger *zap.Logger,
) *DispatchService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DispatchService{
		students:  students,
		history:   history,
		gateway:   gw,
		resolver:  resolver,
		renderer:  renderer,
		validator: validate,
		logger:    logger,
	}
}

// WithCreditCache enables Redis caching of the gateway credit balance.
func (s *DispatchService) WithCreditCache(client *redis.Client, ttl time.Duration) *DispatchService {
	s.redis = client
	if ttl <= 0 {
		ttl = time.Minute
	}
	s.creditTTL = ttl
	return s
}

// WithMetrics attaches dispatch instrumentation.
func (s *DispatchService) WithMetrics(metrics *MetricsService) *DispatchService {
	s.metrics = metrics
	return s
}

// StartStatusWorker launches the background queue that polls the
// gateway for delivery statuses after successful dispatches.
func (s *DispatchService) StartStatusWorker(ctx context.Context, workers int) {
	if s.statusQueue != nil {
		return
	}
	s.statusQueue = jobs.NewQueue("sms-status", s.handleStatusRefresh, jobs.QueueConfig{
		Workers: workers,
		Logger:  s.logger,
	})
	s.statusQueue.Start(ctx)
}

// StopStatusWorker drains and stops the status queue.
func (s *DispatchService) StopStatusWorker() {
	if s.statusQueue != nil {
		s.statusQueue.Stop()
	}
}

// pendingSend is one recipient whose history row has been created and
// whose message is ready for the gateway.
type pendingSend struct {
	logID     string
	studentID *string
	phone     string
	text      string
}

// SendFeeNotification renders the named template per student and
// dispatches the result to every parent phone on record as one logical
// batch. Missing students become warnings; rendering and phone
// failures become failed history rows without a gateway call for that
// recipient.
func (s *DispatchService) SendFeeNotification(ctx context.Context, req dto.FeeNotificationRequest) (*dto.DispatchReport, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrValidation.Code, apperrors.ErrValidation.Status, "invalid fee notification payload")
	}

	start := time.Now()
	report := &dto.DispatchReport{Results: []dto.RecipientOutcome{}}
	var sends []pendingSend
	templateName := req.TemplateName

	for _, studentID := range req.StudentIDs {
		student, err := s.students.FindByID(ctx, studentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				report.Warnings = append(report.Warnings, fmt.Sprintf("student %s not found", studentID))
				continue
			}
			return nil, apperrors.Wrap(err, apperrors.ErrInternal.Code, apperrors.ErrInternal.Status, "failed to load student")
		}

		text, err := s.renderer.Render(templateName, student, req.TemplateVars)
		if err != nil {
			phone := student.Parent1Phone
			if normalized, nErr := NormalizePhone(phone); nErr == nil {
				phone = normalized
			}
			s.recordImmediateFailure(ctx, report, &student.ID, phone, "", err, false, &templateName)
			continue
		}

		phones := []string{student.Parent1Phone}
		if secondary := student.SecondaryPhone(); secondary != "" {
			phones = append(phones, secondary)
		}
		for _, raw := range phones {
			phone, err := NormalizePhone(raw)
			if err != nil {
				s.recordImmediateFailure(ctx, report, &student.ID, raw, text, err, false, &templateName)
				continue
			}
			logID, err := s.appendPending(ctx, &student.ID, phone, text, false, &templateName)
			if err != nil {
				return nil, err
			}
			sends = append(sends, pendingSend{logID: logID, studentID: &student.ID, phone: phone, text: text})
		}
	}

	err := s.dispatch(ctx, sends, report)
	s.finishReport("fee_notification", report, start)
	return report, err
}

// SendBulk resolves recipients by filter and broadcasts the message.
// Placeholder tokens in the message are rendered per recipient with the
// same binding rules as named templates. A phone that would receive
// identical text twice in one dispatch gets it once.
func (s *DispatchService) SendBulk(ctx context.Context, req dto.BulkSMSRequest) (*dto.DispatchReport, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrValidation.Code, apperrors.ErrValidation.Status, "invalid bulk sms payload")
	}

	start := time.Now()
	recipients, warnings, err := s.resolver.Resolve(ctx, req.Filters, req.UsePrimaryOnly)
	if err != nil {
		return nil, err
	}

	report := &dto.DispatchReport{Results: []dto.RecipientOutcome{}, Warnings: warnings}
	var sends []pendingSend
	seen := make(map[string]struct{})

	for i := range recipients {
		recipient := recipients[i]
		text, err := s.renderer.RenderInline(req.Message, &recipient.Student, nil)
		if err != nil {
			s.recordImmediateFailure(ctx, report, &recipient.Student.ID, recipient.Phone, "", err, true, nil)
			continue
		}
		// Siblings often share a parent number; an identical message to
		// the same phone goes out once per dispatch.
		key := recipient.Phone + "\x00" + text
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		logID, err := s.appendPending(ctx, &recipient.Student.ID, recipient.Phone, text, true, nil)
		if err != nil {
			return nil, err
		}
		sends = append(sends, pendingSend{logID: logID, studentID: &recipient.Student.ID, phone: recipient.Phone, text: text})
	}

	err = s.dispatch(ctx, sends, report)
	s.finishReport("bulk", report, start)
	return report, err
}

// dispatch hands the pending sends to the gateway and settles each
// history row from the per-message outcome. A fatal gateway error is
// returned after bookkeeping so completed chunks keep their results.
func (s *DispatchService) dispatch(ctx context.Context, sends []pendingSend, report *dto.DispatchReport) error {
	if len(sends) == 0 {
		return nil
	}

	msgs := make([]gateway.Message, len(sends))
	for i, send := range sends {
		msgs[i] = gateway.Message{
			MobileNumber:    PhoneToWire(send.phone),
			Message:         send.text,
			ClientMessageID: send.logID,
		}
	}

	results, fatalErr := s.gateway.SendBatch(ctx, msgs)

	var acceptedIDs []int64
	for i, result := range results {
		send := sends[i]
		if result.Err != nil {
			appErr := apperrors.FromError(result.Err)
			detail := appErr.Error()
			if uErr := s.history.UpdateStatus(ctx, send.logID, models.SMSStatusFailed, &detail, nil); uErr != nil {
				s.logger.Error("failed to settle sms log", zap.String("attempt_id", send.logID), zap.Error(uErr))
			}
			report.Results = append(report.Results, dto.RecipientOutcome{
				StudentID:   send.studentID,
				Phone:       send.phone,
				Status:      models.SMSStatusFailed,
				ErrorCode:   appErr.Code,
				ErrorDetail: detail,
				AttemptID:   send.logID,
			})
			s.logger.Warn("sms send failed",
				zap.String("attempt_id", send.logID),
				zap.String("phone", send.phone),
				zap.String("code", appErr.Code),
				zap.Error(result.Err))
			continue
		}

		messageID := result.Result.MessageID()
		if uErr := s.history.UpdateStatus(ctx, send.logID, models.SMSStatusSuccess, nil, &messageID); uErr != nil {
			s.logger.Error("failed to settle sms log", zap.String("attempt_id", send.logID), zap.Error(uErr))
		}
		acceptedIDs = append(acceptedIDs, result.Result.APIMessageID)
		report.Results = append(report.Results, dto.RecipientOutcome{
			StudentID:    send.studentID,
			Phone:        send.phone,
			Status:       models.SMSStatusSuccess,
			APIMessageID: messageID,
			AttemptID:    send.logID,
		})
	}

	s.enqueueStatusRefresh(acceptedIDs)

	if fatalErr != nil {
		return apperrors.FromError(fatalErr)
	}
	return nil
}

// recordImmediateFailure writes a failed history row for a recipient
// the gateway was never called for.
func (s *DispatchService) recordImmediateFailure(ctx context.Context, report *dto.DispatchReport, studentID *string, phone, text string, cause error, isBulk bool, templateName *string) {
	appErr := apperrors.FromError(cause)
	detail := appErr.Error()
	log := &models.SMSLog{
		StudentID:      studentID,
		RecipientPhone: phone,
		MessageContent: text,
		Status:         models.SMSStatusFailed,
		ErrorDetail:    &detail,
		IsBulk:         isBulk,
		TemplateName:   templateName,
	}
	if err := s.history.Append(ctx, log); err != nil {
		s.logger.Error("failed to record sms failure", zap.String("phone", phone), zap.Error(err))
	}
	report.Results = append(report.Results, dto.RecipientOutcome{
		StudentID:   studentID,
		Phone:       phone,
		Status:      models.SMSStatusFailed,
		ErrorCode:   appErr.Code,
		ErrorDetail: detail,
		AttemptID:   log.ID,
	})
}

func (s *DispatchService) appendPending(ctx context.Context, studentID *string, phone, text string, isBulk bool, templateName *string) (string, error) {
	log := &models.SMSLog{
		StudentID:      studentID,
		RecipientPhone: phone,
		MessageContent: text,
		Status:         models.SMSStatusPending,
		IsBulk:         isBulk,
		TemplateName:   templateName,
	}
	if err := s.history.Append(ctx, log); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrInternal.Code, apperrors.ErrInternal.Status, "failed to record send attempt")
	}
	return log.ID, nil
}

func (s *DispatchService) finishReport(kind string, report *dto.DispatchReport, start time.Time) {
	report.Attempted = len(report.Results)
	for _, outcome := range report.Results {
		if outcome.Status == models.SMSStatusSuccess {
			report.Succeeded++
		} else {
			report.Failed++
		}
	}
	s.metrics.ObserveDispatch(kind, time.Since(start))
	s.metrics.RecordMessages(models.SMSStatusSuccess, report.Succeeded)
	s.metrics.RecordMessages(models.SMSStatusFailed, report.Failed)
	s.logger.Info("sms dispatch finished",
		zap.String("kind", kind),
		zap.Int("attempted", report.Attempted),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("warnings", len(report.Warnings)))
}

// History returns a page of send attempts, newest first.
func (s *DispatchService) History(ctx context.Context, filter models.SMSLogFilter) ([]models.SMSLog, *models.Pagination, error) {
	logs, total, err := s.history.Query(ctx, filter)
	if err != nil {
		return nil, nil, apperrors.Wrap(err, apperrors.ErrInternal.Code, apperrors.ErrInternal.Status, "failed to query sms history")
	}
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	pagination := &models.Pagination{
		Skip:       filter.Skip,
		Limit:      limit,
		TotalCount: total,
	}
	return logs, pagination, nil
}

// HistoryCSV renders the full filtered history as a CSV document,
// paging through the store in chunks.
func (s *DispatchService) HistoryCSV(ctx context.Context, filter models.SMSLogFilter) ([]byte, error) {
	table := export.Table{Headers: []string{
		"id", "student_id", "recipient_phone", "message_content", "status",
		"error_detail", "api_message_id", "delivery_status", "is_bulk", "template_name", "sent_at",
	}}

	filter.Limit = 200
	filter.Skip = 0
	for {
		logs, _, err := s.history.Query(ctx, filter)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrInternal.Code, apperrors.ErrInternal.Status, "failed to query sms history")
		}
		for _, log := range logs {
			table.Rows = append(table.Rows, []string{
				log.ID,
				strValue(log.StudentID),
				log.RecipientPhone,
				log.MessageContent,
				log.Status,
				strValue(log.ErrorDetail),
				strValue(log.APIMessageID),
				strValue(log.DeliveryStatus),
				strconv.FormatBool(log.IsBulk),
				strValue(log.TemplateName),
				log.SentAt.UTC().Format(time.RFC3339),
			})
		}
		if len(logs) < filter.Limit {
			break
		}
		filter.Skip += filter.Limit
	}

	data, err := export.CSV(table)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternal.Code, apperrors.ErrInternal.Status, "failed to render history csv")
	}
	return data, nil
}

func strValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// CreditBalance returns the gateway credit balance, served from Redis
// for a short TTL to spare gateway requests.
func (s *DispatchService) CreditBalance(ctx context.Context) (float64, bool, error) {
	if s.redis != nil {
		if cached, err := s.redis.Get(ctx, creditBalanceCacheKey).Result(); err == nil {
			if balance, pErr := strconv.ParseFloat(cached, 64); pErr == nil {
				return balance, true, nil
			}
		}
	}

	balance, err := s.gateway.CreditBalance(ctx)
	if err != nil {
		return 0, false, apperrors.FromError(err)
	}
	s.metrics.SetCreditBalance(balance)

	if s.redis != nil {
		if err := s.redis.Set(ctx, creditBalanceCacheKey, strconv.FormatFloat(balance, 'f', -1, 64), s.creditTTL).Err(); err != nil {
			s.logger.Warn("failed to cache credit balance", zap.Error(err))
		}
	}
	return balance, false, nil
}

// DeliveryStatus looks up one message's delivery state via the batch
// status endpoint.
func (s *DispatchService) DeliveryStatus(ctx context.Context, apiMessageID string) (string, error) {
	id, err := strconv.ParseInt(apiMessageID, 10, 64)
	if err != nil {
		return "", apperrors.Clone(apperrors.ErrValidation, "api message id must be numeric")
	}
	statuses, err := s.gateway.MessageStatuses(ctx, []int64{id})
	if err != nil {
		return "", apperrors.FromError(err)
	}
	status, ok := statuses[id]
	if !ok {
		return "", apperrors.Clone(apperrors.ErrNotFound, "message not found at gateway")
	}
	return string(status), nil
}

func (s *DispatchService) enqueueStatusRefresh(apiMessageIDs []int64) {
	if s.statusQueue == nil || len(apiMessageIDs) == 0 {
		return
	}
	job := jobs.Job{
		ID:      fmt.Sprintf("status-%d-%d", apiMessageIDs[0], time.Now().UnixNano()),
		Type:    "delivery-status-refresh",
		Payload: apiMessageIDs,
	}
	if err := s.statusQueue.Enqueue(job); err != nil {
		s.logger.Warn("failed to enqueue delivery status refresh", zap.Error(err))
	}
}

// handleStatusRefresh polls the gateway for delivery statuses and
// stores them on the matching history rows. The terminal send status is
// never modified here.
func (s *DispatchService) handleStatusRefresh(ctx context.Context, job jobs.Job) error {
	ids, ok := job.Payload.([]int64)
	if !ok || len(ids) == 0 {
		return nil
	}
	statuses, err := s.gateway.MessageStatuses(ctx, ids)
	if err != nil {
		return err
	}
	for id, status := range statuses {
		if err := s.history.UpdateDeliveryStatus(ctx, strconv.FormatInt(id, 10), string(status)); err != nil {
			s.logger.Warn("failed to store delivery status",
				zap.Int64("api_message_id", id),
				zap.Error(err))
		}
	}
	return nil
}
