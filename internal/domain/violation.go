package domain

import "time"

// Violation: неизменяемая запись о срабатывании условия политики.
// Ядро ее не хранит, а передает в аудит.
type Violation struct {
	PolicyName  string    `json:"policy_name"`
	Severity    Severity  `json:"severity"`
	Description string    `json:"description"`
	Target      string    `json:"target"`
	Timestamp   time.Time `json:"timestamp"`
}
