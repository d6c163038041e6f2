package policy

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/xela07ax/spaceai-autoheal/internal/domain"
	"github.com/xela07ax/spaceai-autoheal/internal/infra"
	"go.uber.org/zap"
)

// EvaluationResult: итог одного прохода по каталогу
type EvaluationResult struct {
	Violations       []domain.Violation `json:"violations"`
	ActionsTriggered []ActionResult     `json:"actions_triggered"`
	Timestamp        time.Time          `json:"timestamp"`
}

// Engine вычисляет снимок метрик против реестра политик.
// Ошибки условий и действий локализуются на уровне политики, проход всегда доходит до конца.
type Engine struct {
	registry *Registry
	logger   *zap.Logger
	metrics  *infra.Metrics
	now      func() time.Time

	mu        sync.Mutex
	lastFired map[string]time.Time // для Cooldown
}

func NewEngine(registry *Registry, logger *zap.Logger, metrics *infra.Metrics) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = infra.NewMetrics(nil)
	}
	return &Engine{
		registry:  registry,
		logger:    logger.Named("engine"),
		metrics:   metrics,
		now:       time.Now,
		lastFired: make(map[string]time.Time),
	}
}

// Registry отдает реестр, с которым работает движок
func (e *Engine) Registry() *Registry { return e.registry }

// Evaluate проверяет все включенные политики, подходящие под target (пустой — без фильтра).
// Для сработавших политик с AutoRemediate запускается действие.
func (e *Engine) Evaluate(ctx context.Context, metrics domain.Metrics, target string) EvaluationResult {
	return e.evaluate(ctx, metrics, target, true)
}

// Preview: "сухой" прогон: только условия, без действий и без учета Cooldown
func (e *Engine) Preview(ctx context.Context, metrics domain.Metrics, target string) EvaluationResult {
	return e.evaluate(ctx, metrics, target, false)
}

func (e *Engine) evaluate(ctx context.Context, metrics domain.Metrics, target string, dispatch bool) EvaluationResult {
	now := e.now()
	result := EvaluationResult{
		Violations:       make([]domain.Violation, 0),
		ActionsTriggered: make([]ActionResult, 0),
		Timestamp:        now,
	}
	if dispatch {
		e.metrics.Evaluations.Inc()
	}

	for _, p := range e.registry.Enabled() {
		if target != "" && !MatchTarget(p.Target, target) {
			continue
		}
		if dispatch && e.inCooldown(p, now) {
			e.logger.Debug("policy in cooldown, skipped", zap.String("policy", p.Name))
			continue
		}

		fired, err := p.Condition.Evaluate(metrics)
		if err != nil {
			// fail-closed: сломанное условие не запускает ремедиацию
			e.metrics.ConditionErrors.WithLabelValues(p.Name).Inc()
			e.logger.Warn("condition evaluation failed",
				zap.String("policy", p.Name),
				zap.Error(err))
			continue
		}
		if !fired {
			continue
		}

		v := domain.Violation{
			PolicyName:  p.Name,
			Severity:    p.Severity,
			Description: describe(p),
			Target:      effectiveTarget(p, target),
			Timestamp:   now,
		}
		result.Violations = append(result.Violations, v)

		if !dispatch {
			continue
		}
		e.markFired(p.Name, now)
		e.metrics.Violations.WithLabelValues(p.Name, string(p.Severity)).Inc()
		e.logger.Info("policy violated",
			zap.String("policy", p.Name),
			zap.String("severity", string(p.Severity)),
			zap.String("target", v.Target),
			zap.String("condition", p.Condition.String()))

		if !p.AutoRemediate {
			continue
		}
		res, err := e.dispatch(ctx, p, v)
		if err != nil {
			// Violation уже записан, действие просто не попадает в список
			e.metrics.ErrorTotal.WithLabelValues("action_dispatch").Inc()
			e.logger.Error("action dispatch failed",
				zap.String("policy", p.Name),
				zap.String("action", p.Action.Name()),
				zap.Error(err))
			continue
		}
		if res.Status == StatusUnknownAction {
			e.logger.Warn("unknown action kind", zap.String("policy", p.Name), zap.String("action", res.Action))
		}
		e.metrics.ActionsTriggered.WithLabelValues(res.Action).Inc()
		result.ActionsTriggered = append(result.ActionsTriggered, res)
	}

	return result
}

func (e *Engine) dispatch(ctx context.Context, p Policy, v domain.Violation) (res ActionResult, err error) {
	if p.Action.IsZero() {
		return ActionResult{}, fmt.Errorf("%w: %s: no action configured", ErrActionDispatch, p.Name)
	}
	if !p.Action.IsCustom() {
		return dispatchBuiltin(p.Action.Kind(), v, p.Params), nil
	}

	defer func() {
		if r := recover(); r != nil {
			res, err = ActionResult{}, fmt.Errorf("%w: %s: panic: %v", ErrActionDispatch, p.Action.Name(), r)
		}
	}()

	res, err = p.Action.handler(ctx, v, maps.Clone(p.Params))
	if err != nil {
		return ActionResult{}, fmt.Errorf("%w: %s: %v", ErrActionDispatch, p.Action.Name(), err)
	}

	// Обработчик мог заполнить результат частично
	if res.PolicyName == "" {
		res.PolicyName = p.Name
	}
	if res.Action == "" {
		res.Action = p.Action.Name()
	}
	if res.Target == "" {
		res.Target = v.Target
	}
	if res.Severity == "" {
		res.Severity = v.Severity
	}
	if res.Status == "" {
		res.Status = StatusTriggered
	}
	return res, nil
}

func (e *Engine) inCooldown(p Policy, now time.Time) bool {
	if p.Cooldown <= 0 {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	last, ok := e.lastFired[p.Name]
	return ok && now.Sub(last) < p.Cooldown
}

func (e *Engine) markFired(name string, now time.Time) {
	e.mu.Lock()
	e.lastFired[name] = now
	e.mu.Unlock()
}

func describe(p Policy) string {
	if p.Description != "" {
		return fmt.Sprintf("%s: %s", p.Description, p.Condition)
	}
	return fmt.Sprintf("condition met: %s", p.Condition)
}

func effectiveTarget(p Policy, target string) string {
	if target != "" {
		return target
	}
	return p.Target
}
