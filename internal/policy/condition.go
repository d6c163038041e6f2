package policy

import (
	"fmt"
	"math"
	"path"
	"strings"

	"github.com/xela07ax/spaceai-autoheal/internal/domain"
)

// Condition: чистый предикат над снимком метрик.
// Нулевое значение никогда не срабатывает.
type Condition struct {
	desc string
	fn   func(m domain.Metrics) (bool, error)
}

// NewCondition собирает условие из произвольной функции.
// Ошибки и паники функции превращаются в "не сработало".
func NewCondition(desc string, fn func(m domain.Metrics) (bool, error)) Condition {
	return Condition{desc: desc, fn: fn}
}

// Evaluate вычисляет предикат. Паника внутри перехватывается и возвращается как ErrConditionEvaluation.
func (c Condition) Evaluate(m domain.Metrics) (ok bool, err error) {
	if c.fn == nil {
		return false, nil
	}
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("%w: %s: panic: %v", ErrConditionEvaluation, c.desc, r)
		}
	}()
	return c.fn(m)
}

func (c Condition) String() string {
	if c.desc == "" {
		return "<empty>"
	}
	return c.desc
}

// Exceeds: value > threshold. Отсутствующая метрика считается равной 0,
// так что условие не срабатывает на пустом снимке.
func Exceeds(metric string, threshold float64) Condition {
	return Condition{
		desc: fmt.Sprintf("%s > %g", metric, threshold),
		fn: func(m domain.Metrics) (bool, error) {
			v, ok := m.Get(metric)
			if !ok {
				v = 0
			}
			return v > threshold, nil
		},
	}
}

// Below: value < threshold. Отсутствующая метрика считается +Inf.
func Below(metric string, threshold float64) Condition {
	return Condition{
		desc: fmt.Sprintf("%s < %g", metric, threshold),
		fn: func(m domain.Metrics) (bool, error) {
			v, ok := m.Get(metric)
			if !ok {
				v = math.Inf(1)
			}
			return v < threshold, nil
		},
	}
}

// All: логическое И. Ошибка любого подусловия дает false (fail-closed).
func All(conds ...Condition) Condition {
	return Condition{
		desc: joinDesc(" AND ", conds),
		fn: func(m domain.Metrics) (bool, error) {
			for _, c := range conds {
				ok, err := c.Evaluate(m)
				if err != nil {
					return false, err
				}
				if !ok {
					return false, nil
				}
			}
			return true, nil
		},
	}
}

// Any: логическое ИЛИ. Достаточно одного сработавшего подусловия;
// ошибка возвращается, только если ни одно не сработало.
func Any(conds ...Condition) Condition {
	return Condition{
		desc: joinDesc(" OR ", conds),
		fn: func(m domain.Metrics) (bool, error) {
			var firstErr error
			for _, c := range conds {
				ok, err := c.Evaluate(m)
				if err != nil {
					if firstErr == nil {
						firstErr = err
					}
					continue
				}
				if ok {
					return true, nil
				}
			}
			return false, firstErr
		},
	}
}

// Custom оборачивает пользовательский предикат. Ошибка или паника -> false.
func Custom(name string, fn func(m domain.Metrics) (bool, error)) Condition {
	desc := "custom(" + name + ")"
	return Condition{
		desc: desc,
		fn: func(m domain.Metrics) (ok bool, err error) {
			if fn == nil {
				return false, fmt.Errorf("%w: %s: nil handler", ErrConditionEvaluation, desc)
			}
			defer func() {
				if r := recover(); r != nil {
					ok, err = false, fmt.Errorf("%w: %s: panic: %v", ErrConditionEvaluation, desc, r)
				}
			}()
			ok, err = fn(m)
			if err != nil {
				return false, fmt.Errorf("%w: %s: %v", ErrConditionEvaluation, desc, err)
			}
			return ok, nil
		},
	}
}

func joinDesc(sep string, conds []Condition) string {
	parts := make([]string, 0, len(conds))
	for _, c := range conds {
		parts = append(parts, c.String())
	}
	return "(" + strings.Join(parts, sep) + ")"
}

// MatchTarget: "all", "*" и пустой шаблон совпадают со всем;
// шаблон с wildcard сравнивается как glob, иначе точное равенство.
func MatchTarget(pattern, target string) bool {
	switch pattern {
	case "", "all", "*":
		return true
	}
	if strings.ContainsAny(pattern, "*?[") {
		ok, err := path.Match(pattern, target)
		return err == nil && ok
	}
	return pattern == target
}
