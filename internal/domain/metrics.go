package domain

import "time"

// Metrics: снимок метрик: имя -> последнее значение
type Metrics map[string]float64

// Get возвращает значение метрики и признак ее наличия
func (m Metrics) Get(name string) (float64, bool) {
	v, ok := m[name]
	return v, ok
}

// MetricSample: одна строка из источника метрик
type MetricSample struct {
	Name       string    `json:"name"`
	Value      float64   `json:"value"`
	RecordedAt time.Time `json:"recorded_at"`
}

// LatestByName сворачивает пачку строк в снимок: на каждое имя остается самое свежее значение.
// При равных временах побеждает строка, встреченная позже (last-write-wins).
func LatestByName(samples []MetricSample) Metrics {
	snapshot := make(Metrics, len(samples))
	seen := make(map[string]time.Time, len(samples))
	for _, s := range samples {
		if s.Name == "" {
			continue
		}
		if ts, ok := seen[s.Name]; ok && s.RecordedAt.Before(ts) {
			continue
		}
		seen[s.Name] = s.RecordedAt
		snapshot[s.Name] = s.Value
	}
	return snapshot
}
