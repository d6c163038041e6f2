package retry

import (
	"context"
	"time"

	retrygo "github.com/avast/retry-go/v5"
	"github.com/xela07ax/spaceai-autoheal/internal/infra"
)

// Policy описывает, сколько раз и с какой паузой повторять операцию
type Policy struct {
	MaxAttempts int
	Strategy    Strategy
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration

	// Retryable решает, стоит ли повторять после ошибки. nil — повторяем любую ошибку.
	Retryable func(err error) bool
	// OnRetry вызывается перед сном: номер упавшей попытки, ошибка, выбранная пауза
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy: 3 попытки, экспонента от 1s с потолком 10s
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Strategy:    Exponential,
		BaseDelay:   time.Second,
		Multiplier:  DefaultMultiplier,
		MaxDelay:    10 * time.Second,
	}
}

// PolicyFrom строит политику из секции retry конфигурации
func PolicyFrom(cfg infra.RetryConfig) (Policy, error) {
	strategy, err := ParseStrategy(cfg.Strategy)
	if err != nil {
		return Policy{}, err
	}
	p := DefaultPolicy()
	p.Strategy = strategy
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BaseDelay > 0 {
		p.BaseDelay = cfg.BaseDelay
	}
	if cfg.Multiplier > 0 {
		p.Multiplier = cfg.Multiplier
	}
	if cfg.MaxDelay > 0 {
		p.MaxDelay = cfg.MaxDelay
	}
	return p, nil
}

// Delay считает паузу после попытки attempt по параметрам политики
func (p Policy) Delay(attempt int) time.Duration {
	return CalculateDelay(attempt, p.Strategy, p.BaseDelay, p.Multiplier, p.MaxDelay)
}

// Do выполняет fn с повторами (блокирующий стиль).
// После провала последней попытки возвращается исходная ошибка без обертки.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1 // в retry-go 0 означает "бесконечно"
	}

	// Номер попытки считаем сами: нумерация n в DelayType отличается между версиями retry-go
	attempt := 0
	r := retrygo.New(
		retrygo.Context(ctx),
		retrygo.Attempts(uint(attempts)),
		retrygo.LastErrorOnly(true),
		retrygo.RetryIf(func(err error) bool {
			if ctx.Err() != nil {
				return false
			}
			return p.Retryable == nil || p.Retryable(err)
		}),
		retrygo.DelayType(func(_ uint, err error, _ retrygo.DelayContext) time.Duration {
			d := p.Delay(attempt)
			if p.OnRetry != nil {
				p.OnRetry(attempt, err, d)
			}
			return d
		}),
	)

	return r.Do(func() error {
		attempt++
		return fn(ctx)
	})
}

// DoValue: вариант Do для операций, возвращающих значение
func DoValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, p, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// Go запускает Do в отдельной горутине (неблокирующий стиль).
// Канал получает ровно одно значение и закрывается.
func Go(ctx context.Context, p Policy, fn func(ctx context.Context) error) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- Do(ctx, p, fn)
	}()
	return done
}
