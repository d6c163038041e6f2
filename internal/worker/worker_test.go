package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-autoheal/internal/connectors"
	"github.com/xela07ax/spaceai-autoheal/internal/domain"
	"go.uber.org/zap/zaptest"
)

type memQueue struct {
	mu        sync.Mutex
	tasks     []*domain.Task
	completed int
	failed    int
	err       error
}

func (q *memQueue) push(tasks ...*domain.Task) {
	q.mu.Lock()
	q.tasks = append(q.tasks, tasks...)
	q.mu.Unlock()
}

func (q *memQueue) Dequeue(ctx context.Context, timeout time.Duration) (*domain.Task, error) {
	q.mu.Lock()
	if q.err != nil {
		q.mu.Unlock()
		return nil, q.err
	}
	if len(q.tasks) > 0 {
		t := q.tasks[0]
		q.tasks = q.tasks[1:]
		q.mu.Unlock()
		return t, nil
	}
	q.mu.Unlock()

	select {
	case <-time.After(timeout):
	case <-ctx.Done():
	}
	return nil, nil
}

func (q *memQueue) IncrementCompleted(context.Context) { q.mu.Lock(); q.completed++; q.mu.Unlock() }
func (q *memQueue) IncrementFailed(context.Context)    { q.mu.Lock(); q.failed++; q.mu.Unlock() }

func (q *memQueue) counts() (int, int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.completed, q.failed
}

type memActions struct {
	mu      sync.Mutex
	actions map[string]*domain.Action
}

func newMemActions(ids ...string) *memActions {
	m := &memActions{actions: make(map[string]*domain.Action)}
	for _, id := range ids {
		m.actions[id] = &domain.Action{ID: id, Status: domain.ActionQueued}
	}
	return m
}

func (m *memActions) UpdateActionStatus(_ context.Context, id string, status domain.ActionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actions[id]
	if !ok {
		return domain.ErrActionNotFound
	}
	if err := a.CanTransitionTo(status); err != nil {
		return err
	}
	a.Status = status
	return nil
}

func (m *memActions) status(id string) domain.ActionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.actions[id].Status
}

type execFunc func(ctx context.Context, req connectors.RemediationRequest) (*connectors.RemediationResult, error)

func (f execFunc) Execute(ctx context.Context, req connectors.RemediationRequest) (*connectors.RemediationResult, error) {
	return f(ctx, req)
}

func okExecutor() execFunc {
	return func(context.Context, connectors.RemediationRequest) (*connectors.RemediationResult, error) {
		return &connectors.RemediationResult{StatusCode: 200}, nil
	}
}

func newTask(actionID, action string) *domain.Task {
	return &domain.Task{TaskID: "t-" + actionID, ActionID: actionID, PolicyID: "high-cpu", Target: "api-server", Action: action, Severity: domain.SeverityCritical}
}

func testConfig() Config {
	return Config{DequeueTimeout: 10 * time.Millisecond, DispatchTimeout: 100 * time.Millisecond, ErrorBackoff: time.Millisecond}
}

func TestProcessOne_Success(t *testing.T) {
	q := &memQueue{}
	q.push(newTask("a1", "scale-up"))
	actions := newMemActions("a1")

	var got connectors.RemediationRequest
	exec := execFunc(func(_ context.Context, req connectors.RemediationRequest) (*connectors.RemediationResult, error) {
		got = req
		return &connectors.RemediationResult{StatusCode: 200}, nil
	})
	w := New(testConfig(), q, actions, exec, zaptest.NewLogger(t), nil)

	ok, err := w.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, domain.ActionCompleted, actions.status("a1"))
	completed, failed := q.counts()
	assert.Equal(t, 1, completed)
	assert.Zero(t, failed)

	assert.Equal(t, "scale-up", got.Action)
	assert.Equal(t, "a1", got.ActionID)
	assert.Equal(t, "high-cpu", got.PolicyID)
	assert.Equal(t, "critical", got.Severity)
	assert.NotEmpty(t, got.RequestID)

	st := w.Status()
	assert.EqualValues(t, 1, st.Processed)
	assert.Equal(t, 100.0, st.SuccessRate)
}

func TestProcessOne_EmptyQueue(t *testing.T) {
	w := New(testConfig(), &memQueue{}, newMemActions(), okExecutor(), nil, nil)
	ok, err := w.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProcessOne_ExecutorFailure(t *testing.T) {
	q := &memQueue{}
	q.push(newTask("a1", "unstable"))
	actions := newMemActions("a1")
	exec := execFunc(func(context.Context, connectors.RemediationRequest) (*connectors.RemediationResult, error) {
		return nil, &connectors.ExecutorError{StatusCode: 500}
	})
	w := New(testConfig(), q, actions, exec, nil, nil)

	ok, err := w.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.ActionFailed, actions.status("a1"))

	_, failed := q.counts()
	assert.Equal(t, 1, failed)
	assert.Equal(t, 0.0, w.Status().SuccessRate)
}

func TestProcessOne_PanicIsContained(t *testing.T) {
	q := &memQueue{}
	q.push(newTask("a1", "scale-up"), newTask("a2", "scale-up"))
	actions := newMemActions("a1", "a2")

	calls := 0
	exec := execFunc(func(context.Context, connectors.RemediationRequest) (*connectors.RemediationResult, error) {
		calls++
		if calls == 1 {
			panic("executor bug")
		}
		return &connectors.RemediationResult{StatusCode: 200}, nil
	})
	w := New(testConfig(), q, actions, exec, nil, nil)

	for i := 0; i < 2; i++ {
		_, err := w.ProcessOne(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, domain.ActionFailed, actions.status("a1"))
	assert.Equal(t, domain.ActionCompleted, actions.status("a2"))
}

func TestProcessOne_DispatchTimeout(t *testing.T) {
	q := &memQueue{}
	q.push(newTask("a1", "scale-up"))
	actions := newMemActions("a1")
	exec := execFunc(func(ctx context.Context, _ connectors.RemediationRequest) (*connectors.RemediationResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	w := New(testConfig(), q, actions, exec, nil, nil)

	start := time.Now()
	_, err := w.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, domain.ActionFailed, actions.status("a1"))
}

func TestProcessOne_SkipsCancelledAction(t *testing.T) {
	q := &memQueue{}
	q.push(newTask("a1", "scale-up"))
	actions := newMemActions("a1")
	actions.actions["a1"].Status = domain.ActionCancelled

	called := false
	exec := execFunc(func(context.Context, connectors.RemediationRequest) (*connectors.RemediationResult, error) {
		called = true
		return nil, nil
	})
	w := New(testConfig(), q, actions, exec, nil, nil)

	_, err := w.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t, domain.ActionCancelled, actions.status("a1"))
}

func TestProcessOne_QueueError(t *testing.T) {
	q := &memQueue{err: errors.New("redis down")}
	w := New(testConfig(), q, newMemActions(), okExecutor(), nil, nil)

	_, err := w.ProcessOne(context.Background())
	require.Error(t, err)
}

func TestRun_DrainsCurrentTaskOnCancel(t *testing.T) {
	q := &memQueue{}
	q.push(newTask("a1", "scale-up"), newTask("a2", "scale-up"))
	actions := newMemActions("a1", "a2")

	ctx, cancel := context.WithCancel(context.Background())
	exec := execFunc(func(ctx context.Context, _ connectors.RemediationRequest) (*connectors.RemediationResult, error) {
		// отмена посреди диспетчеризации не должна ее оборвать
		cancel()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
		return &connectors.RemediationResult{StatusCode: 200}, nil
	})
	w := New(testConfig(), q, actions, exec, nil, nil)

	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}

	assert.Equal(t, domain.ActionCompleted, actions.status("a1"))
	// вторая задача осталась в очереди
	assert.Equal(t, domain.ActionQueued, actions.status("a2"))
	assert.False(t, w.Status().Running)
}

func TestRun_SurvivesQueueErrors(t *testing.T) {
	q := &memQueue{err: errors.New("redis down")}
	w := New(testConfig(), q, newMemActions(), okExecutor(), nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, w.Run(ctx))
}

func TestPool_Statuses(t *testing.T) {
	q := &memQueue{}
	for _, id := range []string{"a1", "a2", "a3", "a4"} {
		q.push(newTask(id, "scale-up"))
	}
	actions := newMemActions("a1", "a2", "a3", "a4")
	pool := NewPool(3, testConfig(), q, actions, okExecutor(), nil, nil)
	require.Equal(t, 3, pool.Size())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	require.Eventually(t, func() bool {
		completed, _ := q.counts()
		return completed == 4
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	var total int64
	ids := map[string]bool{}
	for _, st := range pool.Statuses() {
		total += st.Processed
		ids[st.ID] = true
		assert.False(t, st.Running)
	}
	assert.EqualValues(t, 4, total)
	assert.Len(t, ids, 3)
}
