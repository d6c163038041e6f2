package influx

import (
	"context"
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/xela07ax/spaceai-autoheal/internal/domain"
	"github.com/xela07ax/spaceai-autoheal/internal/infra"
)

// MetricSource читает метрики из InfluxDB v2: _field — имя метрики, _value — значение
type MetricSource struct {
	client      influxdb2.Client
	query       api.QueryAPI
	bucket      string
	measurement string
}

func NewMetricSource(cfg infra.InfluxConfig) (*MetricSource, error) {
	if cfg.URL == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influx: url and bucket are required")
	}
	measurement := cfg.Measurement
	if measurement == "" {
		measurement = "infra_metrics"
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &MetricSource{
		client:      client,
		query:       client.QueryAPI(cfg.Org),
		bucket:      cfg.Bucket,
		measurement: measurement,
	}, nil
}

func (s *MetricSource) Close() {
	s.client.Close()
}

// Ping проверяет доступность сервера
func (s *MetricSource) Ping(ctx context.Context) error {
	ok, err := s.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("influx: ping: %w", err)
	}
	if !ok {
		return fmt.Errorf("influx: server is not ready")
	}
	return nil
}

func (s *MetricSource) flux(limit int, lookback time.Duration) string {
	return fmt.Sprintf(`from(bucket: %s)
  |> range(start: -%ds)
  |> filter(fn: (r) => r._measurement == %s)
  |> group()
  |> sort(columns: ["_time"], desc: true)
  |> limit(n: %d)`,
		strconv.Quote(s.bucket), int64(lookback.Seconds()), strconv.Quote(s.measurement), limit)
}

// RecentMetrics: не больше limit свежих точек за окно lookback
func (s *MetricSource) RecentMetrics(ctx context.Context, limit int, lookback time.Duration) ([]domain.MetricSample, error) {
	result, err := s.query.Query(ctx, s.flux(limit, lookback))
	if err != nil {
		return nil, fmt.Errorf("influx: query metrics: %w", err)
	}
	defer result.Close()

	samples := make([]domain.MetricSample, 0, limit)
	for result.Next() {
		rec := result.Record()
		value, ok := toFloat(rec.Value())
		if !ok {
			continue
		}
		samples = append(samples, domain.MetricSample{
			Name:       rec.Field(),
			Value:      value,
			RecordedAt: rec.Time(),
		})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("influx: read result: %w", err)
	}
	return samples, nil
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	default:
		return 0, false
	}
}
