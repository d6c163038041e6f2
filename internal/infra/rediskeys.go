package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "autoheal"
)

// QueueKeys: набор ключей одной очереди: сам список, счетчики, история, последняя задача
type QueueKeys struct {
	List          string
	Enqueued      string
	Dequeued      string
	Completed     string
	Failed        string
	History       string
	LastProcessed string
}

// NewQueueKeys генерирует ключи для очереди с именем name
func NewQueueKeys(name string) QueueKeys {
	base := fmt.Sprintf("%s:queue:%s", RedisNamespace, name)
	return QueueKeys{
		List:          base,
		Enqueued:      base + ":stats:enqueued",
		Dequeued:      base + ":stats:dequeued",
		Completed:     base + ":stats:completed",
		Failed:        base + ":stats:failed",
		History:       base + ":history",
		LastProcessed: base + ":last_processed",
	}
}

// HoldKeys: ключи ручной приостановки ремедиаций
type HoldKeys struct {
	Set     string // SET удерживаемых целей (переживает рестарт)
	Channel string // Pub/Sub: "target:on" | "target:off"
}

func NewHoldKeys() HoldKeys {
	return HoldKeys{
		Set:     RedisNamespace + ":holds",
		Channel: RedisNamespace + ":holds:signal",
	}
}
