package connectors

import (
	"errors"
	"fmt"
	"time"
)

// ErrExecutor: исполнитель ремедиации ответил ошибкой или недоступен
var ErrExecutor = errors.New("remediation executor error")

// ExecutorError: ответ исполнителя с кодом >= 300
type ExecutorError struct {
	StatusCode int
	Body       string
}

func (e *ExecutorError) Error() string {
	return fmt.Sprintf("executor returned HTTP %d: %s", e.StatusCode, e.Body)
}

func (e *ExecutorError) Is(target error) bool { return target == ErrExecutor }

// Retriable: 5xx говорит о проблеме на стороне исполнителя и учитывается предохранителем,
// 4xx — о битом запросе
func (e *ExecutorError) Retriable() bool { return e.StatusCode >= 500 }

// ThrottleError: исполнитель вернул 429 и (опционально) Retry-After
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }
