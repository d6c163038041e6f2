package policy

import (
	"fmt"
	"sync"

	"github.com/xela07ax/spaceai-autoheal/internal/domain"
	"go.uber.org/zap"
)

// Registry: потокобезопасный in-memory каталог политик.
// Единственный владелец политик: снаружи отдаются только копии.
// Не разделяется между процессами.
type Registry struct {
	mu       sync.RWMutex
	policies map[string]*Policy
	order    []string // порядок регистрации = порядок вычисления

	logger *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		policies: make(map[string]*Policy),
		logger:   logger.Named("registry"),
	}
}

// Register добавляет политику. Занятое имя -> ErrDuplicateName, реестр не меняется.
func (r *Registry) Register(p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.policies[p.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateName, p.Name)
	}
	cp := p.clone()
	r.policies[p.Name] = &cp
	r.order = append(r.order, p.Name)

	r.logger.Debug("policy registered", zap.String("policy", p.Name), zap.Bool("enabled", p.Enabled))
	return nil
}

// Unregister удаляет политику. Отсутствующее имя -> ErrNotFound без побочных эффектов.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.policies[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(r.policies, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Get возвращает копию политики
func (r *Registry) Get(name string) (Policy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.policies[name]
	if !ok {
		return Policy{}, false
	}
	return p.clone(), true
}

// All: все политики в порядке регистрации
func (r *Registry) All() []Policy {
	return r.filter(func(*Policy) bool { return true })
}

// Enabled: только включенные политики
func (r *Registry) Enabled() []Policy {
	return r.filter(func(p *Policy) bool { return p.Enabled })
}

// BySeverity: политики заданной критичности
func (r *Registry) BySeverity(sev domain.Severity) []Policy {
	return r.filter(func(p *Policy) bool { return p.Severity == sev })
}

func (r *Registry) filter(keep func(*Policy) bool) []Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Policy, 0, len(r.order))
	for _, name := range r.order {
		if p := r.policies[name]; keep(p) {
			out = append(out, p.clone())
		}
	}
	return out
}

// Enable / Disable меняют флаг на месте
func (r *Registry) Enable(name string) error  { return r.setEnabled(name, true) }
func (r *Registry) Disable(name string) error { return r.setEnabled(name, false) }

func (r *Registry) setEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.policies[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	p.Enabled = enabled
	r.logger.Info("policy toggled", zap.String("policy", name), zap.Bool("enabled", enabled))
	return nil
}

// Len: количество политик
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Records: сериализуемый вид всего каталога
func (r *Registry) Records() []Record {
	all := r.All()
	out := make([]Record, 0, len(all))
	for _, p := range all {
		out = append(out, p.Record())
	}
	return out
}

// Replace атомарно подменяет весь каталог ("холодная загрузка" из файлов).
// При дубликате или невалидной политике текущее состояние не меняется.
func (r *Registry) Replace(policies []Policy) error {
	next := make(map[string]*Policy, len(policies))
	order := make([]string, 0, len(policies))
	for _, p := range policies {
		if err := p.Validate(); err != nil {
			return err
		}
		if _, ok := next[p.Name]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateName, p.Name)
		}
		cp := p.clone()
		next[p.Name] = &cp
		order = append(order, p.Name)
	}

	r.mu.Lock()
	r.policies = next
	r.order = order
	r.mu.Unlock()

	r.logger.Info("policy catalog replaced", zap.Int("count", len(order)))
	return nil
}
