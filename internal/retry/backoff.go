package retry

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Strategy: закон роста задержки между попытками
type Strategy string

const (
	Exponential Strategy = "exponential"
	Linear      Strategy = "linear"
	Constant    Strategy = "constant"
)

// DefaultMultiplier используется, если множитель не задан
const DefaultMultiplier = 2.0

// ParseStrategy разбирает значение из конфигурации
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case Exponential, "":
		return Exponential, nil
	case Linear:
		return Linear, nil
	case Constant:
		return Constant, nil
	default:
		return "", fmt.Errorf("unknown backoff strategy %q", s)
	}
}

// CalculateDelay возвращает задержку перед повтором после попытки attempt (нумерация с 1).
//
//	exponential: base * multiplier^(attempt-1)
//	linear:      base * attempt
//	constant:    base
//
// Результат всегда ограничен maxDelay (если maxDelay > 0).
func CalculateDelay(attempt int, strategy Strategy, base time.Duration, multiplier float64, maxDelay time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base < 0 {
		base = 0
	}
	if multiplier <= 0 {
		multiplier = DefaultMultiplier
	}

	var raw float64
	switch strategy {
	case Linear:
		raw = float64(base) * float64(attempt)
	case Constant:
		raw = float64(base)
	default:
		raw = float64(base) * math.Pow(multiplier, float64(attempt-1))
	}

	// Переполнение на больших attempt упираем в потолок
	if math.IsInf(raw, 0) || math.IsNaN(raw) || raw >= math.MaxInt64 {
		if maxDelay > 0 {
			return maxDelay
		}
		return time.Duration(math.MaxInt64)
	}

	delay := time.Duration(raw)
	if maxDelay > 0 && delay > maxDelay {
		return maxDelay
	}
	return delay
}
