package domain

import (
	"errors"
	"time"
)

// ActionStatus: статусы State Machine записи о ремедиации
type ActionStatus string

const (
	ActionPending   ActionStatus = "pending"
	ActionQueued    ActionStatus = "queued"
	ActionRunning   ActionStatus = "running"
	ActionCompleted ActionStatus = "completed"
	ActionFailed    ActionStatus = "failed"
	ActionCancelled ActionStatus = "cancelled"
)

var (
	ErrInvalidTransition = errors.New("invalid action status transition")
	ErrAlreadyFinished   = errors.New("action already finished")
	ErrActionNotFound    = errors.New("action not found")
)

// Action: персистентная запись о запущенной ремедиации.
// Результат выполнения задачи отслеживается здесь, а не в Task.
type Action struct {
	ID         string         `json:"id"`
	PolicyName string         `json:"policy_name"`
	Kind       string         `json:"action"`
	Target     string         `json:"target"`
	Severity   Severity       `json:"severity"`
	Status     ActionStatus   `json:"status"`
	Params     map[string]any `json:"params,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Terminal: из этих статусов переходов нет
func (s ActionStatus) Terminal() bool {
	return s == ActionCompleted || s == ActionFailed || s == ActionCancelled
}

// CanTransitionTo проверяет правила конечного автомата:
// pending -> queued -> running -> completed|failed, pending|queued -> cancelled.
func (a *Action) CanTransitionTo(next ActionStatus) error {
	if a.Status.Terminal() {
		return ErrAlreadyFinished
	}
	switch next {
	case ActionQueued:
		if a.Status == ActionPending {
			return nil
		}
	case ActionRunning:
		if a.Status == ActionQueued {
			return nil
		}
	case ActionCompleted, ActionFailed:
		// воркер может сразу закрыть queued-задачу, если не смог отметить running
		if a.Status == ActionRunning || a.Status == ActionQueued {
			return nil
		}
	case ActionCancelled:
		if a.Status == ActionPending || a.Status == ActionQueued {
			return nil
		}
	}
	return ErrInvalidTransition
}

var allStatuses = []ActionStatus{ActionPending, ActionQueued, ActionRunning, ActionCompleted, ActionFailed, ActionCancelled}

// TransitionSources: статусы, из которых разрешен переход в next.
// Нужен для условного UPDATE в хранилище.
func TransitionSources(next ActionStatus) []ActionStatus {
	var out []ActionStatus
	for _, s := range allStatuses {
		a := Action{Status: s}
		if a.CanTransitionTo(next) == nil {
			out = append(out, s)
		}
	}
	return out
}
