package domain

import (
	"math"
	"time"
)

// QueueStats: read model очереди для дашборда и API
type QueueStats struct {
	QueueName     string         `json:"queue_name"`
	QueueDepth    int64          `json:"queue_depth"`
	Enqueued      int64          `json:"enqueued"`
	Dequeued      int64          `json:"dequeued"`
	Completed     int64          `json:"completed"`
	Failed        int64          `json:"failed"`
	SuccessRate   float64        `json:"success_rate"`
	History       []HistoryPoint `json:"history"`
	LastProcessed *Task          `json:"last_processed,omitempty"`
}

// HistoryPoint: один замер глубины очереди
type HistoryPoint struct {
	Time  time.Time `json:"time"`
	Depth int64     `json:"depth"`
}

// SuccessRate = completed / (completed+failed) * 100, округление до одного знака.
// Пока не было ни одного исхода — 100.
func SuccessRate(completed, failed int64) float64 {
	total := completed + failed
	if total <= 0 {
		return 100.0
	}
	rate := float64(completed) / float64(total) * 100
	return math.Round(rate*10) / 10
}
