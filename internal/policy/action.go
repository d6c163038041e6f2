package policy

import (
	"context"
	"maps"

	"github.com/xela07ax/spaceai-autoheal/internal/domain"
)

// ActionKind: встроенный тип ремедиации
type ActionKind string

const (
	ActionScaleUp        ActionKind = "scale-up"
	ActionScaleDown      ActionKind = "scale-down"
	ActionRestartService ActionKind = "restart-service"
	ActionDrainPod       ActionKind = "drain-pod"
	ActionRollback       ActionKind = "rollback"
	ActionClearCache     ActionKind = "clear-cache"
	ActionNotify         ActionKind = "notify"
)

// Статусы результата диспетчеризации
const (
	StatusTriggered     = "triggered"
	StatusUnknownAction = "unknown_action"
)

// ActionResult: структурированный результат срабатывания действия
type ActionResult struct {
	PolicyName string          `json:"policy_name"`
	Action     string          `json:"action"`
	Target     string          `json:"target"`
	Severity   domain.Severity `json:"severity"`
	Status     string          `json:"status"`
	Params     map[string]any  `json:"params,omitempty"`
}

// Handler: пользовательское действие
type Handler func(ctx context.Context, v domain.Violation, params map[string]any) (ActionResult, error)

// Action: явный вариант: встроенный тип (Builtin) или пользовательский обработчик (Handle).
// Произвольная строка — это Builtin с неизвестным видом, она дает unknown_action.
type Action struct {
	kind    ActionKind
	name    string
	handler Handler
}

// Builtin ссылается на запись в таблице встроенных действий
func Builtin(kind ActionKind) Action {
	return Action{kind: kind, name: string(kind)}
}

// Handle: именованный пользовательский обработчик
func Handle(name string, h Handler) Action {
	return Action{name: name, handler: h}
}

// IsCustom: true для пользовательского обработчика
func (a Action) IsCustom() bool { return a.handler != nil }

// Name: имя действия для логов, Task и исполнителя
func (a Action) Name() string { return a.name }

// Kind: вид встроенного действия (пусто для Handle)
func (a Action) Kind() ActionKind { return a.kind }

// IsZero: действие не задано
func (a Action) IsZero() bool { return a.name == "" && a.handler == nil }

type builtinFunc func(target string, params map[string]any) map[string]any

// builtinActions: фиксированная таблица диспетчеризации.
// Каждая запись дополняет параметры значениями по умолчанию.
var builtinActions = map[ActionKind]builtinFunc{
	ActionScaleUp:        withDefaults(map[string]any{"replicas": 1}),
	ActionScaleDown:      withDefaults(map[string]any{"replicas": 1}),
	ActionRestartService: withDefaults(map[string]any{"strategy": "rolling"}),
	ActionDrainPod:       withDefaults(map[string]any{"grace_period_seconds": 30}),
	ActionRollback:       withDefaults(map[string]any{"revision": "previous"}),
	ActionClearCache:     withDefaults(nil),
	ActionNotify:         withDefaults(map[string]any{"channel": "ops"}),
}

func withDefaults(defaults map[string]any) builtinFunc {
	return func(_ string, params map[string]any) map[string]any {
		out := make(map[string]any, len(defaults)+len(params))
		maps.Copy(out, defaults)
		maps.Copy(out, params)
		return out
	}
}

// IsBuiltin проверяет, есть ли вид в таблице
func IsBuiltin(kind ActionKind) bool {
	_, ok := builtinActions[kind]
	return ok
}

// dispatchBuiltin никогда не паникует и не возвращает ошибку: неизвестный вид -> unknown_action
func dispatchBuiltin(kind ActionKind, v domain.Violation, params map[string]any) ActionResult {
	res := ActionResult{
		PolicyName: v.PolicyName,
		Action:     string(kind),
		Target:     v.Target,
		Severity:   v.Severity,
	}
	fn, ok := builtinActions[kind]
	if !ok {
		res.Status = StatusUnknownAction
		return res
	}
	res.Status = StatusTriggered
	res.Params = fn(v.Target, params)
	return res
}
