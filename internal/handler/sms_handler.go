package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/school-sms-api/internal/dto"
	"github.com/noah-isme/school-sms-api/internal/models"
	"github.com/noah-isme/school-sms-api/internal/service"
	appErrors "github.com/noah-isme/school-sms-api/pkg/errors"
	"github.com/noah-isme/school-sms-api/pkg/response"
)

// SMSHandler exposes the SMS dispatch and history endpoints.
type SMSHandler struct {
	dispatch *service.DispatchService
}

// NewSMSHandler constructs SMSHandler.
func NewSMSHandler(dispatch *service.DispatchService) *SMSHandler {
	return &SMSHandler{dispatch: dispatch}
}

// SendFeeNotification godoc
// @Summary Send fee notifications to selected students
// @Tags SMS
// @Accept json
// @Produce json
// @Param payload body dto.FeeNotificationRequest true "Notification payload"
// @Success 200 {object} response.Envelope
// @Router /sms/fee-notification [post]
func (h *SMSHandler) SendFeeNotification(c *gin.Context) {
	var req dto.FeeNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	report, err := h.dispatch.SendFeeNotification(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// SendBulk godoc
// @Summary Broadcast a message to students matching the filters
// @Tags SMS
// @Accept json
// @Produce json
// @Param payload body dto.BulkSMSRequest true "Broadcast payload"
// @Success 200 {object} response.Envelope
// @Router /sms/bulk [post]
func (h *SMSHandler) SendBulk(c *gin.Context) {
	var req dto.BulkSMSRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	report, err := h.dispatch.SendBulk(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// History godoc
// @Summary List send attempts, newest first
// @Tags SMS
// @Produce json
// @Param studentId query string false "Filter by student"
// @Param status query string false "Filter by status (pending|success|failed)"
// @Param template query string false "Filter by template name"
// @Param skip query int false "Rows to skip"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /sms/history [get]
func (h *SMSHandler) History(c *gin.Context) {
	filter := historyFilter(c)
	if skip, err := strconv.Atoi(c.DefaultQuery("skip", "0")); err == nil {
		filter.Skip = skip
	}
	if limit, err := strconv.Atoi(c.DefaultQuery("limit", "50")); err == nil {
		filter.Limit = limit
	}

	logs, pagination, err := h.dispatch.History(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, logs, pagination)
}

// ExportHistory godoc
// @Summary Download the filtered send history as CSV
// @Tags SMS
// @Produce text/csv
// @Param studentId query string false "Filter by student"
// @Param status query string false "Filter by status (pending|success|failed)"
// @Param template query string false "Filter by template name"
// @Success 200 {string} string "CSV content"
// @Router /sms/history/export [get]
func (h *SMSHandler) ExportHistory(c *gin.Context) {
	data, err := h.dispatch.HistoryCSV(c.Request.Context(), historyFilter(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="sms_history.csv"`)
	c.Data(http.StatusOK, "text/csv", data)
}

func historyFilter(c *gin.Context) models.SMSLogFilter {
	var filter models.SMSLogFilter
	if studentID := strings.TrimSpace(c.Query("studentId")); studentID != "" {
		filter.StudentID = &studentID
	}
	if status := strings.TrimSpace(c.Query("status")); status != "" {
		filter.Status = &status
	}
	if template := strings.TrimSpace(c.Query("template")); template != "" {
		filter.TemplateName = &template
	}
	return filter
}

// CreditBalance godoc
// @Summary Report the remaining gateway credits
// @Tags SMS
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /sms/credits [get]
func (h *SMSHandler) CreditBalance(c *gin.Context) {
	balance, cached, err := h.dispatch.CreditBalance(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.CreditBalanceResponse{CreditBalance: balance, Cached: cached}, nil)
}

// MessageStatus godoc
// @Summary Look up gateway delivery status for a message
// @Tags SMS
// @Produce json
// @Param apiMessageId path string true "Gateway message ID"
// @Success 200 {object} response.Envelope
// @Router /sms/status/{apiMessageId} [get]
func (h *SMSHandler) MessageStatus(c *gin.Context) {
	apiMessageID := c.Param("apiMessageId")
	status, err := h.dispatch.DeliveryStatus(c.Request.Context(), apiMessageID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.MessageStatusResponse{APIMessageID: apiMessageID, DeliveryStatus: status}, nil)
}
