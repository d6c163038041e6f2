package holds

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T) (*Manager, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewManager(rdb, nil), mr, rdb
}

func TestHoldAndRelease(t *testing.T) {
	m, mr, _ := newManager(t)
	ctx := context.Background()

	require.NoError(t, m.Hold(ctx, "web-1"))
	assert.True(t, m.IsHeld("web-1"))
	assert.False(t, m.IsHeld("web-2"))

	members, err := mr.Members(m.keys.Set)
	require.NoError(t, err)
	assert.Equal(t, []string{"web-1"}, members)

	require.NoError(t, m.Release(ctx, "web-1"))
	assert.False(t, m.IsHeld("web-1"))
	assert.Empty(t, m.List())

	require.ErrorIs(t, m.Hold(ctx, "  "), ErrEmptyTarget)
}

func TestIsHeld_Patterns(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()

	require.NoError(t, m.Hold(ctx, "db-*"))
	assert.True(t, m.IsHeld("db-primary"))
	assert.False(t, m.IsHeld("web-1"))

	// "all" здесь обычное имя цели
	require.NoError(t, m.Hold(ctx, "all"))
	assert.True(t, m.IsHeld("all"))
	assert.False(t, m.IsHeld("web-1"))

	require.NoError(t, m.Hold(ctx, All))
	assert.True(t, m.IsHeld("web-1"))
	assert.Equal(t, []string{"*", "all", "db-*"}, m.List())
}

func TestInit_LoadsPersistedState(t *testing.T) {
	m, mr, rdb := newManager(t)
	_, err := mr.SAdd(m.keys.Set, "cache-1", "api-server")
	require.NoError(t, err)

	require.NoError(t, m.Init(context.Background()))
	assert.Equal(t, []string{"api-server", "cache-1"}, m.List())

	// второй экземпляр видит то же состояние после рестарта
	other := NewManager(rdb, nil)
	require.NoError(t, other.Init(context.Background()))
	assert.True(t, other.IsHeld("cache-1"))
}

func TestInit_BackendDown(t *testing.T) {
	m, mr, _ := newManager(t)
	mr.Close()
	require.Error(t, m.Init(context.Background()))
}

func TestListen_AppliesSignals(t *testing.T) {
	m, mr, _ := newManager(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		m.Listen(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(mr.PubSubChannels("")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mr.Publish(m.keys.Channel, "payments:on")
	require.Eventually(t, func() bool { return m.IsHeld("payments") }, 2*time.Second, 10*time.Millisecond)

	mr.Publish(m.keys.Channel, "garbage")
	mr.Publish(m.keys.Channel, "payments:off")
	require.Eventually(t, func() bool { return !m.IsHeld("payments") }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestListen_ResyncsAfterReconnect(t *testing.T) {
	m, mr, _ := newManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		m.Listen(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool {
		return len(mr.PubSubChannels("")) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, m.IsHeld("db-1"))

	// изменение SET во время простоя: сигнал никто не публикует
	mr.Close()
	_, err := mr.SAdd(m.keys.Set, "db-1")
	require.NoError(t, err)
	require.NoError(t, mr.Restart())

	require.Eventually(t, func() bool { return m.IsHeld("db-1") }, 10*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestParseSignal(t *testing.T) {
	tests := []struct {
		payload string
		target  string
		on      bool
		wantErr bool
	}{
		{"web-1:on", "web-1", true, false},
		{"web-1:off", "web-1", false, false},
		{"ns:svc:true", "ns:svc", true, false},
		{":on", "", false, true},
		{"web-1", "", false, true},
		{"web-1:maybe", "", false, true},
	}
	for _, tt := range tests {
		target, on, err := parseSignal(tt.payload)
		if tt.wantErr {
			assert.Error(t, err, tt.payload)
			continue
		}
		require.NoError(t, err, tt.payload)
		assert.Equal(t, tt.target, target)
		assert.Equal(t, tt.on, on)
	}
}
