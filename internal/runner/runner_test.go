package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-autoheal/internal/domain"
	"github.com/xela07ax/spaceai-autoheal/internal/policy"
	"github.com/xela07ax/spaceai-autoheal/internal/retry"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeSource struct {
	mu      sync.Mutex
	samples []domain.MetricSample
	err     error
	calls   int
}

func (f *fakeSource) RecentMetrics(_ context.Context, _ int, _ time.Duration) ([]domain.MetricSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.samples, f.err
}

type fakeStore struct {
	mu        sync.Mutex
	actions   map[string]*domain.Action
	createErr error
	failures  int // сколько первых CreateAction упадут
}

func newFakeStore() *fakeStore { return &fakeStore{actions: make(map[string]*domain.Action)} }

func (s *fakeStore) CreateAction(_ context.Context, a *domain.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("connection reset")
	}
	if s.createErr != nil {
		return s.createErr
	}
	cp := *a
	s.actions[a.ID] = &cp
	return nil
}

func (s *fakeStore) UpdateActionStatus(_ context.Context, id string, status domain.ActionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok {
		return domain.ErrActionNotFound
	}
	if err := a.CanTransitionTo(status); err != nil {
		return err
	}
	a.Status = status
	return nil
}

type fakeQueue struct {
	mu    sync.Mutex
	tasks []domain.Task
	err   error
}

func (q *fakeQueue) Enqueue(_ context.Context, t domain.Task) (domain.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return domain.Task{}, q.err
	}
	t.TaskID = fmt.Sprintf("task-%d", len(q.tasks)+1)
	q.tasks = append(q.tasks, t)
	return t, nil
}

type fakeAudit struct {
	mu         sync.Mutex
	violations []domain.Violation
}

func (a *fakeAudit) Record(vs ...domain.Violation) {
	a.mu.Lock()
	a.violations = append(a.violations, vs...)
	a.mu.Unlock()
}

type fixture struct {
	runner *Runner
	source *fakeSource
	store  *fakeStore
	queue  *fakeQueue
	audit  *fakeAudit
	reg    *policy.Registry
}

func newFixture(t *testing.T, logger *zap.Logger, policies ...policy.Policy) *fixture {
	t.Helper()
	reg := policy.NewRegistry(nil)
	for _, p := range policies {
		require.NoError(t, reg.Register(p))
	}
	f := &fixture{
		source: &fakeSource{samples: []domain.MetricSample{{Name: "cpu_percent", Value: 95, RecordedAt: time.Now()}}},
		store:  newFakeStore(),
		queue:  &fakeQueue{},
		audit:  &fakeAudit{},
		reg:    reg,
	}
	ids := 0
	f.runner = New(Config{
		Interval:               time.Second,
		BatchSize:              100,
		Lookback:               time.Minute,
		MaxConsecutiveFailures: 3,
		FailureCooldown:        5 * time.Minute,
		PersistRetry:           retry.Policy{MaxAttempts: 3, Strategy: retry.Constant, BaseDelay: time.Millisecond},
	}, f.source, policy.NewEngine(reg, nil, nil), f.store, f.queue, f.audit, logger, nil)
	f.runner.newID = func() string {
		ids++
		return fmt.Sprintf("act-%d", ids)
	}
	return f
}

func highCPU() policy.Policy {
	return policy.Policy{
		Name:          "high-cpu",
		Condition:     policy.Exceeds("cpu_percent", 80),
		Action:        policy.Builtin(policy.ActionScaleUp),
		Severity:      domain.SeverityCritical,
		Target:        "api-server",
		Enabled:       true,
		AutoRemediate: true,
	}
}

func TestTick_EnqueuesTriggeredAction(t *testing.T) {
	f := newFixture(t, nil, highCPU())

	report, err := f.runner.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Violations)
	assert.Equal(t, 1, report.Enqueued)

	require.Len(t, f.audit.violations, 1)
	assert.Equal(t, "high-cpu", f.audit.violations[0].PolicyName)

	require.Len(t, f.store.actions, 1)
	action := f.store.actions["act-1"]
	require.NotNil(t, action)
	assert.Equal(t, domain.ActionQueued, action.Status)
	assert.Equal(t, "scale-up", action.Kind)

	require.Len(t, f.queue.tasks, 1)
	task := f.queue.tasks[0]
	assert.Equal(t, "act-1", task.ActionID)
	assert.Equal(t, "api-server", task.Target)
	assert.Equal(t, "scale-up", task.Action)
	assert.Equal(t, domain.SeverityCritical, task.Severity)
	assert.Equal(t, "high-cpu", task.PolicyID)
}

type heldTargets map[string]bool

func (h heldTargets) IsHeld(target string) bool { return h[target] }

func TestTick_HeldTargetIsNotEnqueued(t *testing.T) {
	f := newFixture(t, nil, highCPU())
	f.runner.cfg.Holds = heldTargets{"api-server": true}

	report, err := f.runner.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Violations)
	assert.Equal(t, 1, report.Held)
	assert.Zero(t, report.Enqueued)
	assert.Len(t, f.audit.violations, 1)
	assert.Empty(t, f.store.actions)
	assert.Empty(t, f.queue.tasks)

	f.runner.cfg.Holds = heldTargets{"db-primary": true}
	report, err = f.runner.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Enqueued)
}

func TestTick_ViolationWithoutAutoRemediate(t *testing.T) {
	p := highCPU()
	p.AutoRemediate = false
	f := newFixture(t, nil, p)

	report, err := f.runner.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Violations)
	assert.Empty(t, f.queue.tasks)
	assert.Empty(t, f.store.actions)
}

func TestTick_EmptySnapshotFails(t *testing.T) {
	f := newFixture(t, nil, highCPU())
	f.source.samples = nil

	_, err := f.runner.Tick(context.Background())
	assert.ErrorIs(t, err, ErrEmptySnapshot)
}

func TestTick_SourceError(t *testing.T) {
	f := newFixture(t, nil, highCPU())
	f.source.err = errors.New("db down")

	_, err := f.runner.Tick(context.Background())
	assert.ErrorIs(t, err, ErrMetricSource)
}

func TestTick_EnqueuesOpaqueAction(t *testing.T) {
	p := highCPU()
	p.Action = policy.Builtin("page-oncall")
	f := newFixture(t, nil, p)

	report, err := f.runner.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Violations)
	assert.Equal(t, 1, report.Actions)
	assert.Equal(t, 1, report.Enqueued)

	require.Len(t, f.store.actions, 1)
	for _, a := range f.store.actions {
		assert.Equal(t, "page-oncall", a.Kind)
		assert.Equal(t, domain.ActionQueued, a.Status)
	}
	require.Len(t, f.queue.tasks, 1)
	assert.Equal(t, "page-oncall", f.queue.tasks[0].Action)
}

func TestTick_RetriesPersistence(t *testing.T) {
	f := newFixture(t, nil, highCPU())
	f.store.failures = 2

	_, err := f.runner.Tick(context.Background())
	require.NoError(t, err)
	assert.Len(t, f.queue.tasks, 1)
}

func TestTick_PersistenceFailureIsCycleError(t *testing.T) {
	f := newFixture(t, nil, highCPU())
	f.store.createErr = errors.New("constraint violation")

	report, err := f.runner.Tick(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, report.Violations)
	assert.Empty(t, f.queue.tasks)
}

func TestTick_EnqueueFailureMarksActionFailed(t *testing.T) {
	f := newFixture(t, nil, highCPU())
	f.queue.err = errors.New("redis unavailable")

	_, err := f.runner.Tick(context.Background())
	require.Error(t, err)
	require.Len(t, f.store.actions, 1)
	assert.Equal(t, domain.ActionFailed, f.store.actions["act-1"].Status)
}

func TestRun_CooldownAfterConsecutiveFailures(t *testing.T) {
	f := newFixture(t, nil, highCPU())
	f.source.samples = nil

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sleeps []time.Duration
	f.runner.sleep = func(_ context.Context, d time.Duration) bool {
		sleeps = append(sleeps, d)
		if len(sleeps) == 4 {
			cancel()
			return false
		}
		return true
	}

	require.NoError(t, f.runner.Run(ctx))

	// 3 сбоя подряд: два обычных интервала, затем cooldown; после него серия сброшена
	assert.Equal(t, []time.Duration{time.Second, time.Second, 5 * time.Minute, time.Second}, sleeps)
	st := f.runner.Status()
	assert.EqualValues(t, 4, st.Iterations)
	assert.Equal(t, 1, st.FailureStreak)
	assert.False(t, st.Running)
	assert.Equal(t, ErrEmptySnapshot.Error(), st.LastError)
}

func TestRun_CleanCycleResetsStreak(t *testing.T) {
	f := newFixture(t, nil, highCPU())
	f.source.samples = nil

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := 0
	f.runner.sleep = func(_ context.Context, _ time.Duration) bool {
		n++
		if n == 2 {
			// после двух сбоев метрики появляются
			f.source.mu.Lock()
			f.source.samples = []domain.MetricSample{{Name: "cpu_percent", Value: 10}}
			f.source.mu.Unlock()
		}
		if n == 3 {
			cancel()
			return false
		}
		return true
	}

	require.NoError(t, f.runner.Run(ctx))
	st := f.runner.Status()
	assert.Zero(t, st.FailureStreak)
	assert.Empty(t, st.LastError)
}

func TestRun_FinishesCurrentTickOnCancel(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	f := newFixture(t, zap.New(core), highCPU())

	ctx, cancel := context.WithCancel(context.Background())
	// Отмена приходит во время тика: тик все равно доходит до Enqueue
	f.source.err = nil
	f.runner.sleep = func(ctx context.Context, _ time.Duration) bool {
		<-ctx.Done()
		return false
	}
	origSource := f.runner.source
	f.runner.source = sourceFunc(func(c context.Context, limit int, lookback time.Duration) ([]domain.MetricSample, error) {
		cancel()
		return origSource.RecentMetrics(c, limit, lookback)
	})

	require.NoError(t, f.runner.Run(ctx))
	assert.Len(t, f.queue.tasks, 1)

	stopped := logs.FilterMessage("policy runner stopped").All()
	require.Len(t, stopped, 1)
	assert.EqualValues(t, 1, stopped[0].ContextMap()["iterations"])
}

func TestRun_DoesNotStartWhenCancelled(t *testing.T) {
	f := newFixture(t, nil, highCPU())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, f.runner.Run(ctx))
	assert.Zero(t, f.source.calls)
}

type sourceFunc func(ctx context.Context, limit int, lookback time.Duration) ([]domain.MetricSample, error)

func (f sourceFunc) RecentMetrics(ctx context.Context, limit int, lookback time.Duration) ([]domain.MetricSample, error) {
	return f(ctx, limit, lookback)
}
