package policy

import (
	"fmt"
	"maps"
	"time"

	"github.com/xela07ax/spaceai-autoheal/internal/domain"
)

// Policy: именованное правило: условие, действие, критичность и фильтр по цели
type Policy struct {
	Name          string
	Description   string
	Condition     Condition
	Action        Action
	Severity      domain.Severity
	Target        string // "all", точное имя или glob
	Enabled       bool
	Params        map[string]any
	AutoRemediate bool

	// Cooldown: минимальный интервал между срабатываниями (0 — без ограничения)
	Cooldown time.Duration
}

// Validate проверяет обязательные поля
func (p *Policy) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidPolicy)
	}
	if p.Severity == "" {
		p.Severity = domain.SeverityWarning
	}
	if !p.Severity.Valid() {
		return fmt.Errorf("%w: %s: unknown severity %q", ErrInvalidPolicy, p.Name, p.Severity)
	}
	if p.Target == "" {
		p.Target = "all"
	}
	if p.Cooldown < 0 {
		return fmt.Errorf("%w: %s: negative cooldown", ErrInvalidPolicy, p.Name)
	}
	return nil
}

// clone отвязывает Params от вызывающего кода
func (p Policy) clone() Policy {
	p.Params = maps.Clone(p.Params)
	return p
}

// Record: сериализуемое представление политики, без вызываемых полей
type Record struct {
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	Condition     string          `json:"condition"`
	Action        string          `json:"action"`
	CustomAction  bool            `json:"custom_action,omitempty"`
	Severity      domain.Severity `json:"severity"`
	Target        string          `json:"target"`
	Enabled       bool            `json:"enabled"`
	Params        map[string]any  `json:"params,omitempty"`
	AutoRemediate bool            `json:"auto_remediate"`
	Cooldown      string          `json:"cooldown,omitempty"`
}

// Record превращает политику в плоскую запись для API
func (p Policy) Record() Record {
	r := Record{
		Name:          p.Name,
		Description:   p.Description,
		Condition:     p.Condition.String(),
		Action:        p.Action.Name(),
		CustomAction:  p.Action.IsCustom(),
		Severity:      p.Severity,
		Target:        p.Target,
		Enabled:       p.Enabled,
		Params:        maps.Clone(p.Params),
		AutoRemediate: p.AutoRemediate,
	}
	if p.Cooldown > 0 {
		r.Cooldown = p.Cooldown.String()
	}
	return r
}
