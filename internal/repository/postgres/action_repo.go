package postgres

/*
Файл action_repo.go хранит записи о ремедиациях (Action) и их статусы.
Переходы статусов проверяются в самом UPDATE (WHERE status = ANY(...)),
поэтому два воркера не смогут закрыть одну запись по-разному.
*/

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/spaceai-autoheal/internal/domain"
)

type ActionRepo struct {
	pool *pgxpool.Pool
}

func NewActionRepo(pool *pgxpool.Pool) *ActionRepo {
	return &ActionRepo{pool: pool}
}

// CreateAction сохраняет новую запись. created_at/updated_at выставляет база.
func (r *ActionRepo) CreateAction(ctx context.Context, a *domain.Action) error {
	params, err := json.Marshal(a.Params)
	if err != nil {
		return fmt.Errorf("postgres: marshal action params: %w", err)
	}

	query := `INSERT INTO actions (id, policy_name, action, target, severity, status, params)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)
	          RETURNING created_at, updated_at`
	err = r.pool.QueryRow(ctx, query,
		a.ID, a.PolicyName, a.Kind, a.Target, string(a.Severity), string(a.Status), params,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: failed to create action: %w", err)
	}
	return nil
}

// UpdateActionStatus атомарно переводит запись в status, если переход разрешен.
// 0 строк -> либо записи нет (ErrActionNotFound), либо переход запрещен.
func (r *ActionRepo) UpdateActionStatus(ctx context.Context, id string, status domain.ActionStatus) error {
	sources := domain.TransitionSources(status)
	from := make([]string, 0, len(sources))
	for _, s := range sources {
		from = append(from, string(s))
	}

	query := `
		UPDATE actions
		SET status = $1,
		    updated_at = NOW()
		WHERE id = $2 AND status = ANY($3)`

	tag, err := r.pool.Exec(ctx, query, string(status), id, from)
	if err != nil {
		return fmt.Errorf("postgres: failed to update action status: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	current, err := r.GetAction(ctx, id)
	if err != nil {
		return err
	}
	if err := current.CanTransitionTo(status); err != nil {
		return fmt.Errorf("action %s: %s -> %s: %w", id, current.Status, status, err)
	}
	// Статус поменялся между UPDATE и SELECT
	return fmt.Errorf("action %s: concurrent status change: %w", id, domain.ErrInvalidTransition)
}

// GetAction возвращает запись по id
func (r *ActionRepo) GetAction(ctx context.Context, id string) (*domain.Action, error) {
	query := `SELECT id, policy_name, action, target, severity, status, params, created_at, updated_at
	          FROM actions WHERE id = $1`

	a, err := scanAction(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("action %s: %w", id, domain.ErrActionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get action: %w", err)
	}
	return a, nil
}

// ListActions: последние записи, опционально по статусу
func (r *ActionRepo) ListActions(ctx context.Context, status domain.ActionStatus, limit int) ([]*domain.Action, error) {
	query := `SELECT id, policy_name, action, target, severity, status, params, created_at, updated_at
	          FROM actions`

	args := []any{}
	if status != "" {
		query += " WHERE status = $1"
		args = append(args, string(status))
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d", limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query actions: %w", err)
	}
	defer rows.Close()

	// Инициализируем пустой слайс, чтобы в JSON был [] вместо null
	results := make([]*domain.Action, 0)
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan action: %w", err)
		}
		results = append(results, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}

// Ping проверяет доступность базы
func (r *ActionRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func scanAction(row pgx.Row) (*domain.Action, error) {
	var (
		a        domain.Action
		severity string
		status   string
		params   []byte
	)
	err := row.Scan(&a.ID, &a.PolicyName, &a.Kind, &a.Target, &severity, &status, &params, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Severity = domain.Severity(severity)
	a.Status = domain.ActionStatus(status)
	if len(params) > 0 {
		if err := json.Unmarshal(params, &a.Params); err != nil {
			return nil, fmt.Errorf("decode params: %w", err)
		}
	}
	return &a, nil
}
