package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/school-sms-api/pkg/config"
	apperrors "github.com/noah-isme/school-sms-api/pkg/errors"
)

func newTestClient(t *testing.T, handler http.Handler, cfg config.SMSConfig) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg.BaseURL = server.URL
	if cfg.APIKey == "" {
		cfg.APIKey = "test-key"
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 1000
	}
	client := NewClient(cfg, nil).WithSleep(func(ctx context.Context, d time.Duration) error {
		return nil
	})
	return client, server
}

func echoSendHandler(t *testing.T, calls *int32) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		assert.Equal(t, "test-key", r.Header.Get("Authorization"))
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/sms/outbound", r.URL.Path)

		var req sendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := sendResponse{}
		for i, msg := range req.Messages {
			resp.Messages = append(resp.Messages, SendResult{
				APIMessageID:     int64(100 + i),
				AcceptedTime:     "20260829121500",
				CreditCost:       1,
				NewCreditBalance: 99,
				MobileNumber:     msg.MobileNumber,
				ClientMessageID:  msg.ClientMessageID,
			})
		}
		json.NewEncoder(w).Encode(resp)
	})
}

func TestSendBatchAttributesByClientMessageID(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, echoSendHandler(t, &calls), config.SMSConfig{})

	msgs := []Message{
		{MobileNumber: "27821234567", Message: "hi jane", ClientMessageID: "log-1"},
		{MobileNumber: "27837654321", Message: "hi thabo", ClientMessageID: "log-2"},
	}
	results, err := client.SendBatch(context.Background(), msgs)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	for i, result := range results {
		require.NoError(t, result.Err)
		require.NotNil(t, result.Result)
		assert.Equal(t, msgs[i].ClientMessageID, result.Result.ClientMessageID)
		assert.Equal(t, msgs[i].MobileNumber, result.Result.MobileNumber)
	}
	assert.Equal(t, "100", results[0].Result.MessageID())
}

func TestSendBatchChunksLongLists(t *testing.T) {
	var calls int32
	sizes := make(chan int, 8)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		var req sendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		sizes <- len(req.Messages)

		resp := sendResponse{}
		for i, msg := range req.Messages {
			resp.Messages = append(resp.Messages, SendResult{
				APIMessageID:    int64(i + 1),
				MobileNumber:    msg.MobileNumber,
				ClientMessageID: msg.ClientMessageID,
			})
		}
		json.NewEncoder(w).Encode(resp)
	})
	client, _ := newTestClient(t, handler, config.SMSConfig{BatchSize: 2})

	var msgs []Message
	for i := 0; i < 5; i++ {
		msgs = append(msgs, Message{
			MobileNumber:    fmt.Sprintf("2782000000%d", i),
			Message:         "hello",
			ClientMessageID: fmt.Sprintf("log-%d", i),
		})
	}
	results, err := client.SendBatch(context.Background(), msgs)
	require.NoError(t, err)
	require.Len(t, results, 5)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	close(sizes)
	total := 0
	for size := range sizes {
		assert.LessOrEqual(t, size, 2)
		total += size
	}
	assert.Equal(t, 5, total)

	for i, result := range results {
		require.NoError(t, result.Err)
		assert.Equal(t, msgs[i].ClientMessageID, result.Result.ClientMessageID)
	}
}

func TestSendBatchRetriesTransientFailures(t *testing.T) {
	var calls int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(errorResponse{StatusCode: 500, ErrorMessage: "temporary outage"})
			return
		}
		var req sendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := sendResponse{Messages: []SendResult{{
			APIMessageID:    7,
			MobileNumber:    req.Messages[0].MobileNumber,
			ClientMessageID: req.Messages[0].ClientMessageID,
		}}}
		json.NewEncoder(w).Encode(resp)
	})

	var backoffs []time.Duration
	server := httptest.NewServer(handler)
	defer server.Close()
	client := NewClient(config.SMSConfig{
		BaseURL:    server.URL,
		APIKey:     "test-key",
		MaxRetries: 3,
		RetryDelay: 100 * time.Millisecond,
		RateLimit:  1000,
	}, nil).WithSleep(func(ctx context.Context, d time.Duration) error {
		backoffs = append(backoffs, d)
		return nil
	})

	results, err := client.SendBatch(context.Background(), []Message{
		{MobileNumber: "27821234567", Message: "hello", ClientMessageID: "log-1"},
	})
	require.NoError(t, err)
	require.NoError(t, results[0].Err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	// Exponential backoff doubles the delay each attempt.
	require.Len(t, backoffs, 2)
	assert.Equal(t, 100*time.Millisecond, backoffs[0])
	assert.Equal(t, 200*time.Millisecond, backoffs[1])
}

func TestSendBatchGivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	client, _ := newTestClient(t, handler, config.SMSConfig{MaxRetries: 3})

	results, err := client.SendBatch(context.Background(), []Message{
		{MobileNumber: "27821234567", Message: "hello", ClientMessageID: "log-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	require.Error(t, results[0].Err)
	assert.True(t, apperrors.Is(results[0].Err, apperrors.ErrGatewayUnavailable))
}

func TestSendBatchAuthFailureNotRetried(t *testing.T) {
	var calls int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(errorResponse{StatusCode: 401, ErrorMessage: "invalid api key"})
	})
	client, _ := newTestClient(t, handler, config.SMSConfig{MaxRetries: 3})

	results, err := client.SendBatch(context.Background(), []Message{
		{MobileNumber: "27821234567", Message: "hello", ClientMessageID: "log-1"},
	})
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
	assert.Contains(t, err.Error(), "invalid api key")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	require.Error(t, results[0].Err)
}

func TestSendBatchFatalStopsRemainingChunks(t *testing.T) {
	var calls int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n > 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req sendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := sendResponse{Messages: []SendResult{{
			APIMessageID:    1,
			MobileNumber:    req.Messages[0].MobileNumber,
			ClientMessageID: req.Messages[0].ClientMessageID,
		}}}
		json.NewEncoder(w).Encode(resp)
	})
	client, _ := newTestClient(t, handler, config.SMSConfig{BatchSize: 1, ChunkConcurrency: 1, MaxRetries: 1})

	results, err := client.SendBatch(context.Background(), []Message{
		{MobileNumber: "27820000001", Message: "a", ClientMessageID: "log-1"},
		{MobileNumber: "27820000002", Message: "b", ClientMessageID: "log-2"},
		{MobileNumber: "27820000003", Message: "c", ClientMessageID: "log-3"},
	})
	require.Error(t, err)
	assert.True(t, IsAuthError(err))

	// Chunk one landed before the credential rejection; chunk three was
	// never sent to the gateway.
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	require.NoError(t, results[0].Err)
	require.Error(t, results[1].Err)
	require.Error(t, results[2].Err)
	assert.True(t, IsAuthError(results[2].Err))
}

func TestSendBatchConcurrentChunksStayAligned(t *testing.T) {
	var calls int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		var req sendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		// Hold earlier chunks longer so completion order differs from
		// submission order.
		var idx int
		fmt.Sscanf(req.Messages[0].ClientMessageID, "log-%d", &idx)
		time.Sleep(time.Duration(8-idx) * 10 * time.Millisecond)

		resp := sendResponse{}
		for i, msg := range req.Messages {
			resp.Messages = append(resp.Messages, SendResult{
				APIMessageID:    int64(100*idx + i),
				MobileNumber:    msg.MobileNumber,
				ClientMessageID: msg.ClientMessageID,
			})
		}
		json.NewEncoder(w).Encode(resp)
	})
	client, _ := newTestClient(t, handler, config.SMSConfig{BatchSize: 2, ChunkConcurrency: 4})

	var msgs []Message
	for i := 0; i < 8; i++ {
		msgs = append(msgs, Message{
			MobileNumber:    fmt.Sprintf("2782000000%d", i),
			Message:         "hello",
			ClientMessageID: fmt.Sprintf("log-%d", i),
		})
	}
	results, err := client.SendBatch(context.Background(), msgs)
	require.NoError(t, err)
	require.Len(t, results, 8)
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))

	for i, result := range results {
		require.NoError(t, result.Err)
		require.NotNil(t, result.Result)
		assert.Equal(t, msgs[i].ClientMessageID, result.Result.ClientMessageID)
		assert.Equal(t, msgs[i].MobileNumber, result.Result.MobileNumber)
	}
}

func TestSendBatchConcurrentFatalFailsEveryMessage(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(errorResponse{StatusCode: 401, ErrorMessage: "invalid api key"})
	})
	client, _ := newTestClient(t, handler, config.SMSConfig{BatchSize: 1, ChunkConcurrency: 3, MaxRetries: 1})

	var msgs []Message
	for i := 0; i < 6; i++ {
		msgs = append(msgs, Message{
			MobileNumber:    fmt.Sprintf("2782000000%d", i),
			Message:         "hello",
			ClientMessageID: fmt.Sprintf("log-%d", i),
		})
	}
	results, err := client.SendBatch(context.Background(), msgs)
	require.Error(t, err)
	assert.True(t, IsAuthError(err))

	// Sent and never-sent chunks alike end up failed, attributed to
	// their own input slot.
	require.Len(t, results, 6)
	for i, result := range results {
		assert.Equal(t, msgs[i].ClientMessageID, result.Message.ClientMessageID)
		require.Error(t, result.Err)
		assert.True(t, IsAuthError(result.Err))
		assert.Nil(t, result.Result)
	}
}

func TestSendBatchUnechoedMessageRejected(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req sendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		// Echo only the first message back.
		resp := sendResponse{Messages: []SendResult{{
			APIMessageID:    1,
			MobileNumber:    req.Messages[0].MobileNumber,
			ClientMessageID: req.Messages[0].ClientMessageID,
		}}}
		json.NewEncoder(w).Encode(resp)
	})
	client, _ := newTestClient(t, handler, config.SMSConfig{})

	results, err := client.SendBatch(context.Background(), []Message{
		{MobileNumber: "27820000001", Message: "a", ClientMessageID: "log-1"},
		{MobileNumber: "27820000002", Message: "b", ClientMessageID: "log-2"},
	})
	require.NoError(t, err)
	require.NoError(t, results[0].Err)
	require.Error(t, results[1].Err)
	assert.True(t, apperrors.Is(results[1].Err, apperrors.ErrGatewayRejected))
}

func TestCreditBalance(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/credits/balance", r.URL.Path)
		json.NewEncoder(w).Encode(creditsResponse{CreditBalance: 152.5})
	})
	client, _ := newTestClient(t, handler, config.SMSConfig{})

	balance, err := client.CreditBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 152.5, balance)
}

func TestMessageStatusCodeMapping(t *testing.T) {
	tests := []struct {
		code int
		want DeliveryStatus
	}{
		{1, DeliveryScheduled},
		{2, DeliverySent},
		{10, DeliveryDelivered},
		{11, DeliveryFailed},
		{22, DeliveryUnknown},
		{23, DeliveryExpired},
		{99, DeliveryUnknown},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("code_%d", tt.code), func(t *testing.T) {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/sms/outbound/status/42", r.URL.Path)
				json.NewEncoder(w).Encode(statusEntry{APIMessageID: 42, StatusCode: tt.code})
			})
			client, _ := newTestClient(t, handler, config.SMSConfig{})

			status, err := client.MessageStatus(context.Background(), 42)
			require.NoError(t, err)
			assert.Equal(t, tt.want, status)
		})
	}
}

func TestMessageStatusesBatch(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/sms/outbound/status", r.URL.Path)
		var req batchStatusRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []int64{1, 2}, req.APIMessageIDs)
		json.NewEncoder(w).Encode(batchStatusResponse{Messages: []statusEntry{
			{APIMessageID: 1, StatusCode: 10},
			{APIMessageID: 2, StatusCode: 11},
		}})
	})
	client, _ := newTestClient(t, handler, config.SMSConfig{})

	statuses, err := client.MessageStatuses(context.Background(), []int64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, DeliveryDelivered, statuses[1])
	assert.Equal(t, DeliveryFailed, statuses[2])
}
