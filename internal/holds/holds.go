package holds

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/spaceai-autoheal/internal/infra"
	"go.uber.org/zap"
)

// All: удержание всех целей сразу
const All = "*"

var ErrEmptyTarget = errors.New("holds: empty target")

// Manager: ручная приостановка ремедиаций по цели (окно обслуживания, инцидент).
// Нарушения по удерживаемой цели продолжают фиксироваться, действия не создаются.
// L1: локальная мапа для горячего пути, Redis SET — источник истины.
type Manager struct {
	rdb    *redis.Client
	keys   infra.HoldKeys
	logger *zap.Logger

	mu   sync.RWMutex
	held map[string]struct{}

	// пауза перед повторной подпиской
	reconnectDelay time.Duration
}

func NewManager(rdb *redis.Client, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		rdb:            rdb,
		keys:           infra.NewHoldKeys(),
		logger:         logger.With(zap.String("mod", "holds")),
		held:           make(map[string]struct{}),
		reconnectDelay: 5 * time.Second,
	}
}

// Init загружает текущее состояние из Redis (старт и каждое переподключение)
func (m *Manager) Init(ctx context.Context) error {
	targets, err := m.rdb.SMembers(ctx, m.keys.Set).Result()
	if err != nil {
		return fmt.Errorf("holds: load: %w", err)
	}

	held := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		held[t] = struct{}{}
	}
	m.mu.Lock()
	m.held = held
	m.mu.Unlock()

	m.logger.Info("holds loaded", zap.Int("count", len(held)))
	return nil
}

// Hold ставит цель (или шаблон) на удержание
func (m *Manager) Hold(ctx context.Context, target string) error {
	return m.set(ctx, target, true)
}

// Release снимает удержание
func (m *Manager) Release(ctx context.Context, target string) error {
	return m.set(ctx, target, false)
}

func (m *Manager) set(ctx context.Context, target string, on bool) error {
	target = strings.TrimSpace(target)
	if target == "" {
		return ErrEmptyTarget
	}

	signal := target + ":off"
	if on {
		signal = target + ":on"
	}
	_, err := m.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if on {
			pipe.SAdd(ctx, m.keys.Set, target)
		} else {
			pipe.SRem(ctx, m.keys.Set, target)
		}
		pipe.Publish(ctx, m.keys.Channel, signal)
		return nil
	})
	if err != nil {
		return fmt.Errorf("holds: update %s: %w", target, err)
	}

	m.apply(target, on)
	m.logger.Info("hold updated", zap.String("target", target), zap.Bool("held", on))
	return nil
}

func (m *Manager) apply(target string, on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if on {
		m.held[target] = struct{}{}
	} else {
		delete(m.held, target)
	}
}

// IsHeld: проверка в горячем пути раннера. Записи сравниваются как шаблоны целей (matchHold).
func (m *Manager) IsHeld(target string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.held[target]; ok {
		return true
	}
	for pattern := range m.held {
		if matchHold(pattern, target) {
			return true
		}
	}
	return false
}

// matchHold: "*" держит все цели, glob сравнивается через path.Match.
// Слово "all" здесь обычное имя цели, в отличие от target политики.
func matchHold(pattern, target string) bool {
	if pattern == All {
		return true
	}
	if !strings.ContainsAny(pattern, "*?[") {
		return pattern == target
	}
	ok, err := path.Match(pattern, target)
	return err == nil && ok
}

// List: отсортированный список удержаний
func (m *Manager) List() []string {
	m.mu.RLock()
	out := make([]string, 0, len(m.held))
	for t := range m.held {
		out = append(out, t)
	}
	m.mu.RUnlock()
	slices.Sort(out)
	return out
}

// Listen держит подписку на канал сигналов до отмены ctx.
// После каждого (пере)подключения состояние перечитывается из SET.
func (m *Manager) Listen(ctx context.Context) {
	for ctx.Err() == nil {
		pubsub := m.rdb.Subscribe(ctx, m.keys.Channel)

		if _, err := pubsub.Receive(ctx); err != nil {
			_ = pubsub.Close()
			if ctx.Err() != nil {
				break
			}
			m.logger.Error("failed to subscribe", zap.String("chan", m.keys.Channel), zap.Error(err))
			if !sleepCtx(ctx, m.reconnectDelay) {
				break
			}
			continue
		}

		m.resync(ctx)
		// go-redis сам переподключается и переподписывается, канал при этом не закрывается
		m.consume(ctx, pubsub.ChannelWithSubscriptions())
		_ = pubsub.Close()
	}
	m.logger.Info("holds listener stopped")
}

func (m *Manager) resync(ctx context.Context) {
	if err := m.Init(ctx); err != nil {
		m.logger.Error("sync failed on reconnect", zap.Error(err))
	}
}

// consume читает сигналы и подтверждения подписки, пока канал открыт и ctx жив
func (m *Manager) consume(ctx context.Context, ch <-chan any) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-ch:
			if !ok {
				return
			}
			switch msg := v.(type) {
			case *redis.Subscription:
				// повторная подписка после обрыва: сигналы за время простоя потеряны
				if msg.Kind == "subscribe" {
					m.logger.Info("resubscribed", zap.String("chan", msg.Channel))
					m.resync(ctx)
				}
			case *redis.Message:
				target, on, err := parseSignal(msg.Payload)
				if err != nil {
					m.logger.Error("invalid hold signal", zap.String("payload", msg.Payload))
					continue
				}
				m.apply(target, on)
			}
		}
	}
}

// parseSignal разбирает "target:on" / "target:off". Цель может сама содержать ':'.
func parseSignal(payload string) (string, bool, error) {
	i := strings.LastIndexByte(payload, ':')
	if i <= 0 {
		return "", false, fmt.Errorf("holds: bad signal %q", payload)
	}
	target, state := payload[:i], payload[i+1:]
	switch state {
	case "on", "true":
		return target, true, nil
	case "off", "false":
		return target, false, nil
	}
	return "", false, fmt.Errorf("holds: bad signal %q", payload)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
