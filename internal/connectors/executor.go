package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultExecutorTimeout = 30 * time.Second
	maxResponseBody        = 64 << 10
	defaultRetryAfter      = time.Second
)

// RemediationRequest: тело POST /remediate
type RemediationRequest struct {
	Action    string `json:"action"`
	Target    string `json:"target"`
	Severity  string `json:"severity"`
	PolicyID  string `json:"policy_id"`
	AlertID   string `json:"alert_id,omitempty"`
	ActionID  string `json:"action_id"`
	RequestID string `json:"request_id"`
}

// RemediationResult: успешный (< 300) ответ исполнителя
type RemediationResult struct {
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// Executor: внешний исполнитель ремедиации
type Executor interface {
	Execute(ctx context.Context, req RemediationRequest) (*RemediationResult, error)
}

// HTTPExecutor отправляет задачу исполнителю по HTTP
type HTTPExecutor struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

func NewHTTPExecutor(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPExecutor {
	if timeout <= 0 {
		timeout = defaultExecutorTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPExecutor{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.Named("executor"),
	}
}

// Execute: код < 300 — успех, 429 — ThrottleError, остальное — ExecutorError.
// Ошибки транспорта оборачиваются в ErrExecutor.
func (e *HTTPExecutor) Execute(ctx context.Context, in RemediationRequest) (*RemediationResult, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrExecutor, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/remediate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrExecutor, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", in.RequestID)

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecutor, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrExecutor, err)
	}
	elapsed := time.Since(start)

	e.logger.Debug("executor responded",
		zap.String("request_id", in.RequestID),
		zap.String("action", in.Action),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", elapsed))

	switch {
	case resp.StatusCode < http.StatusMultipleChoices:
		return &RemediationResult{StatusCode: resp.StatusCode, Body: respBody, Duration: elapsed}, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &ThrottleError{
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Cause:      &ExecutorError{StatusCode: resp.StatusCode, Body: truncate(string(respBody), 200)},
		}
	default:
		return nil, &ExecutorError{StatusCode: resp.StatusCode, Body: truncate(string(respBody), 200)}
	}
}

// parseRetryAfter понимает только форму в секундах
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return defaultRetryAfter
	}
	return time.Duration(secs) * time.Second
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
