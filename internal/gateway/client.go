package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/school-sms-api/pkg/config"
	apperrors "github.com/noah-isme/school-sms-api/pkg/errors"
)

// Client talks to the WinSMS-style REST gateway. It chunks long message
// lists, retries transient failures with exponential backoff and
// self-throttles to the configured request rate.
type Client struct {
	baseURL     string
	apiKey      string
	client      *http.Client
	batchSize   int
	maxRetries  int
	retryDelay  time.Duration
	concurrency int
	limiter     *rateLimiter
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *zap.Logger
}

// NewClient constructs a gateway client from configuration.
func NewClient(cfg config.SMSConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	concurrency := cfg.ChunkConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	return &Client{
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		client:      &http.Client{Timeout: timeout},
		batchSize:   batchSize,
		maxRetries:  maxRetries,
		retryDelay:  retryDelay,
		concurrency: concurrency,
		limiter:     newRateLimiter(cfg.RateLimit),
		sleep:       sleepContext,
		logger:      logger,
	}
}

// WithSleep replaces the backoff sleeper, used by tests to avoid real
// waiting.
func (c *Client) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Client {
	c.sleep = sleep
	return c
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SendBatch dispatches messages in chunks of the configured batch size.
// The returned slice is aligned with the input. A transient chunk
// failure marks only that chunk's messages and later chunks still run;
// an auth or malformed-request failure stops the dispatch and is also
// returned as the overall error, with unsent messages marked failed.
func (c *Client) SendBatch(ctx context.Context, msgs []Message) ([]MessageResult, error) {
	results := make([]MessageResult, len(msgs))
	if len(msgs) == 0 {
		return results, nil
	}

	type chunk struct {
		start int
		end   int
	}
	var chunks []chunk
	for start := 0; start < len(msgs); start += c.batchSize {
		end := start + c.batchSize
		if end > len(msgs) {
			end = len(msgs)
		}
		chunks = append(chunks, chunk{start: start, end: end})
	}

	var (
		mu       sync.Mutex
		fatalErr error
	)
	setFatal := func(err error) {
		mu.Lock()
		if fatalErr == nil {
			fatalErr = err
		}
		mu.Unlock()
	}
	fatal := func() error {
		mu.Lock()
		defer mu.Unlock()
		return fatalErr
	}

	workers := c.concurrency
	if workers > len(chunks) {
		workers = len(chunks)
	}
	work := make(chan chunk)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ch := range work {
				if err := fatal(); err != nil {
					markChunk(results, msgs, ch.start, ch.end, err)
					continue
				}
				c.sendChunk(ctx, msgs, results, ch.start, ch.end, setFatal)
			}
		}()
	}
	for _, ch := range chunks {
		work <- ch
	}
	close(work)
	wg.Wait()

	return results, fatal()
}

func markChunk(results []MessageResult, msgs []Message, start, end int, err error) {
	for i := start; i < end; i++ {
		results[i] = MessageResult{Message: msgs[i], Err: err}
	}
}

func (c *Client) sendChunk(ctx context.Context, msgs []Message, results []MessageResult, start, end int, setFatal func(error)) {
	batch := msgs[start:end]
	var resp sendResponse
	err := c.do(ctx, http.MethodPost, "/sms/outbound", sendRequest{Messages: batch}, &resp)
	if err != nil {
		if isFatal(err) {
			setFatal(err)
		}
		c.logger.Warn("sms chunk failed",
			zap.Int("chunk_start", start),
			zap.Int("chunk_size", len(batch)),
			zap.Error(err))
		markChunk(results, msgs, start, end, err)
		return
	}

	// Attribute echoed results back to inputs: by clientMessageId when
	// present, otherwise by mobile number in arrival order.
	byClientID := make(map[string]*SendResult, len(resp.Messages))
	byNumber := make(map[string][]*SendResult)
	for i := range resp.Messages {
		r := &resp.Messages[i]
		if r.ClientMessageID != "" {
			byClientID[r.ClientMessageID] = r
		} else {
			byNumber[r.MobileNumber] = append(byNumber[r.MobileNumber], r)
		}
	}

	for i := start; i < end; i++ {
		msg := msgs[i]
		var match *SendResult
		if msg.ClientMessageID != "" {
			match = byClientID[msg.ClientMessageID]
		}
		if match == nil {
			if queue := byNumber[msg.MobileNumber]; len(queue) > 0 {
				match = queue[0]
				byNumber[msg.MobileNumber] = queue[1:]
			}
		}
		if match == nil {
			results[i] = MessageResult{
				Message: msg,
				Err: apperrors.Clone(apperrors.ErrGatewayRejected,
					fmt.Sprintf("gateway returned no result for %s", msg.MobileNumber)),
			}
			continue
		}
		results[i] = MessageResult{Message: msg, Result: match}
	}
}

// CreditBalance returns the remaining gateway credits.
func (c *Client) CreditBalance(ctx context.Context) (float64, error) {
	var resp creditsResponse
	if err := c.do(ctx, http.MethodGet, "/credits/balance", nil, &resp); err != nil {
		return 0, err
	}
	return resp.CreditBalance, nil
}

// MessageStatus looks up the delivery status of one accepted message.
func (c *Client) MessageStatus(ctx context.Context, apiMessageID int64) (DeliveryStatus, error) {
	var entry statusEntry
	path := fmt.Sprintf("/sms/outbound/status/%d", apiMessageID)
	if err := c.do(ctx, http.MethodGet, path, nil, &entry); err != nil {
		return DeliveryUnknown, err
	}
	return deliveryStatusFromCode(entry.StatusCode), nil
}

// MessageStatuses looks up delivery statuses for a batch of messages.
func (c *Client) MessageStatuses(ctx context.Context, apiMessageIDs []int64) (map[int64]DeliveryStatus, error) {
	var resp batchStatusResponse
	if err := c.do(ctx, http.MethodPost, "/sms/outbound/status", batchStatusRequest{APIMessageIDs: apiMessageIDs}, &resp); err != nil {
		return nil, err
	}
	statuses := make(map[int64]DeliveryStatus, len(resp.Messages))
	for _, entry := range resp.Messages {
		statuses[entry.APIMessageID] = deliveryStatusFromCode(entry.StatusCode)
	}
	return statuses, nil
}

// do performs one gateway call with rate limiting and bounded
// exponential backoff on transient failures. Auth and other 4xx
// responses are never retried.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrInternal.Code, apperrors.ErrInternal.Status, "encode gateway request")
		}
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return apperrors.Wrap(err, apperrors.ErrGatewayUnavailable.Code, apperrors.ErrGatewayUnavailable.Status, "rate limit wait interrupted")
		}

		err := c.once(ctx, method, path, payload, out)
		if err == nil {
			return nil
		}
		if isFatal(err) {
			return err
		}
		lastErr = err

		if attempt < c.maxRetries {
			backoff := c.retryDelay * time.Duration(1<<(attempt-1))
			c.logger.Warn("gateway call retrying",
				zap.String("path", path),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(err))
			if err := c.sleep(ctx, backoff); err != nil {
				return lastErr
			}
		}
	}
	return lastErr
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte, out interface{}) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrInternal.Code, apperrors.ErrInternal.Status, "build gateway request")
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrGatewayUnavailable.Code, apperrors.ErrGatewayUnavailable.Status, "gateway unreachable")
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK:
		if out != nil {
			if err := json.Unmarshal(raw, out); err != nil {
				return apperrors.Wrap(err, apperrors.ErrGatewayRejected.Code, apperrors.ErrGatewayRejected.Status,
					fmt.Sprintf("decode gateway response body=%q", truncate(raw, 256)))
			}
		}
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return apperrors.Clone(apperrors.ErrGatewayAuth, gatewayErrorMessage(raw, "authentication failed"))
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return apperrors.Clone(apperrors.ErrGatewayRejected,
			fmt.Sprintf("gateway returned %d: %s", resp.StatusCode, gatewayErrorMessage(raw, "request rejected")))
	default:
		return apperrors.Clone(apperrors.ErrGatewayUnavailable,
			fmt.Sprintf("gateway returned %d: %s", resp.StatusCode, gatewayErrorMessage(raw, "server error")))
	}
}

// isFatal reports whether the error must abort the whole dispatch.
func isFatal(err error) bool {
	return apperrors.Is(err, apperrors.ErrGatewayAuth) || apperrors.Is(err, apperrors.ErrGatewayRejected)
}

// IsAuthError reports whether err is a gateway credential rejection.
func IsAuthError(err error) bool {
	return apperrors.Is(err, apperrors.ErrGatewayAuth)
}

func gatewayErrorMessage(raw []byte, fallback string) string {
	var body errorResponse
	if err := json.Unmarshal(raw, &body); err == nil && body.ErrorMessage != "" {
		return body.ErrorMessage
	}
	return fallback
}

func truncate(raw []byte, max int) string {
	if len(raw) <= max {
		return string(raw)
	}
	return string(raw[:max]) + "..."
}
