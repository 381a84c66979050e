package gateway

import "strconv"

// Message is one outbound SMS on the wire. MobileNumber is the
// digits-only international form without the leading plus.
type Message struct {
	MobileNumber    string `json:"mobileNumber"`
	Message         string `json:"message"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
	ScheduledTime   string `json:"scheduledTime,omitempty"`
}

// SendResult is the gateway's acceptance record for one message.
type SendResult struct {
	APIMessageID     int64   `json:"apiMessageId"`
	AcceptedTime     string  `json:"acceptedTime"`
	CreditCost       float64 `json:"creditCost"`
	NewCreditBalance float64 `json:"newCreditBalance"`
	MobileNumber     string  `json:"mobileNumber"`
	ClientMessageID  string  `json:"clientMessageId"`
}

// MessageID renders the numeric gateway id as stored in history rows.
func (r SendResult) MessageID() string {
	return strconv.FormatInt(r.APIMessageID, 10)
}

// MessageResult pairs an input message with its outcome. Exactly one of
// Result and Err is set.
type MessageResult struct {
	Message Message
	Result  *SendResult
	Err     error
}

// DeliveryStatus is the gateway's delivery state for an accepted message.
type DeliveryStatus string

const (
	DeliveryScheduled DeliveryStatus = "scheduled"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryUnknown   DeliveryStatus = "unknown"
	DeliveryExpired   DeliveryStatus = "expired"
)

// deliveryStatusFromCode maps wire status codes to delivery states.
func deliveryStatusFromCode(code int) DeliveryStatus {
	switch code {
	case 1:
		return DeliveryScheduled
	case 2:
		return DeliverySent
	case 10:
		return DeliveryDelivered
	case 11:
		return DeliveryFailed
	case 22:
		return DeliveryUnknown
	case 23:
		return DeliveryExpired
	default:
		return DeliveryUnknown
	}
}

type sendRequest struct {
	Messages []Message `json:"messages"`
}

type sendResponse struct {
	TimeStamp  string       `json:"timeStamp"`
	Version    string       `json:"version"`
	StatusCode int          `json:"statusCode"`
	Messages   []SendResult `json:"messages"`
}

type creditsResponse struct {
	CreditBalance float64 `json:"creditBalance"`
}

type statusEntry struct {
	APIMessageID      int64  `json:"apiMessageId"`
	StatusCode        int    `json:"statusCode"`
	StatusDescription string `json:"statusDescription"`
}

type batchStatusRequest struct {
	APIMessageIDs []int64 `json:"apiMessageIds"`
}

type batchStatusResponse struct {
	Messages []statusEntry `json:"messages"`
}

type errorResponse struct {
	StatusCode   int    `json:"statusCode"`
	ErrorMessage string `json:"errorMessage"`
}
