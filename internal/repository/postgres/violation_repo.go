package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/spaceai-autoheal/internal/domain"
)

// ViolationRepo: хранилище журнала нарушений (audit.StorageInterface)
type ViolationRepo struct {
	pool *pgxpool.Pool
}

func NewViolationRepo(pool *pgxpool.Pool) *ViolationRepo {
	return &ViolationRepo{pool: pool}
}

// WriteBatch сохраняет пачку через COPY
func (r *ViolationRepo) WriteBatch(ctx context.Context, violations []domain.Violation) error {
	if len(violations) == 0 {
		return nil
	}

	columns := []string{"policy_name", "severity", "description", "target", "occurred_at"}
	_, err := r.pool.CopyFrom(ctx, pgx.Identifier{"violations"}, columns,
		pgx.CopyFromSlice(len(violations), func(i int) ([]any, error) {
			v := violations[i]
			return []any{v.PolicyName, string(v.Severity), v.Description, v.Target, v.Timestamp}, nil
		}))
	if err != nil {
		return fmt.Errorf("postgres: failed to write violations: %w", err)
	}
	return nil
}

// RecentViolations: последние нарушения для read model
func (r *ViolationRepo) RecentViolations(ctx context.Context, limit int) ([]domain.Violation, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT policy_name, severity, description, target, occurred_at
		FROM violations
		ORDER BY occurred_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query violations: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Violation, 0)
	for rows.Next() {
		var (
			v        domain.Violation
			severity string
		)
		if err := rows.Scan(&v.PolicyName, &severity, &v.Description, &v.Target, &v.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan violation: %w", err)
		}
		v.Severity = domain.Severity(severity)
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return out, nil
}
