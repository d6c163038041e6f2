package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/spaceai-autoheal/internal/domain"
)

// MetricRepo: источник метрик для раннера (таблица metrics)
type MetricRepo struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewMetricRepo(pool *pgxpool.Pool) *MetricRepo {
	return &MetricRepo{pool: pool, now: time.Now}
}

// RecentMetrics: не больше limit свежих строк за окно lookback, от новых к старым
func (r *MetricRepo) RecentMetrics(ctx context.Context, limit int, lookback time.Duration) ([]domain.MetricSample, error) {
	query := `SELECT name, value, recorded_at
	          FROM metrics
	          WHERE recorded_at > $1
	          ORDER BY recorded_at DESC
	          LIMIT $2`

	rows, err := r.pool.Query(ctx, query, r.now().Add(-lookback), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query metrics: %w", err)
	}
	defer rows.Close()

	samples := make([]domain.MetricSample, 0, limit)
	for rows.Next() {
		var s domain.MetricSample
		if err := rows.Scan(&s.Name, &s.Value, &s.RecordedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan metric: %w", err)
		}
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return samples, nil
}

// InsertMetrics пишет снимок одной пачкой (используется тестами и ручным импортом)
func (r *MetricRepo) InsertMetrics(ctx context.Context, samples []domain.MetricSample) error {
	if len(samples) == 0 {
		return nil
	}
	// pgx.Batch вместо N отдельных round-trip
	batch := &pgx.Batch{}
	for _, s := range samples {
		ts := s.RecordedAt
		if ts.IsZero() {
			ts = r.now()
		}
		batch.Queue(`INSERT INTO metrics (name, value, recorded_at) VALUES ($1, $2, $3)`, s.Name, s.Value, ts)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: failed to insert metrics: %w", err)
	}
	return nil
}
