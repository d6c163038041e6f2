package domain

import "time"

// Task: единица работы в очереди ремедиации.
// Живет от Enqueue до диспетчеризации воркером, дальше исход отслеживается через Action.
type Task struct {
	TaskID     string     `json:"task_id"`
	ActionID   string     `json:"action_id"`
	PolicyID   string     `json:"policy_id,omitempty"`
	AlertID    string     `json:"alert_id,omitempty"`
	Target     string     `json:"target"`
	Action     string     `json:"action"`
	Severity   Severity   `json:"severity"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
	DequeuedAt *time.Time `json:"dequeued_at,omitempty"`
}
