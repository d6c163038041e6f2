package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/xela07ax/spaceai-autoheal/internal/domain"
	"gopkg.in/yaml.v3"
)

// Document: содержимое файла политик (YAML или JSON)
type Document struct {
	Policies []Spec `yaml:"policies" json:"policies"`
}

// Spec: декларативное описание политики
type Spec struct {
	Name          string         `yaml:"name" json:"name"`
	Description   string         `yaml:"description" json:"description"`
	Condition     ConditionSpec  `yaml:"condition" json:"condition"`
	Action        string         `yaml:"action" json:"action"`
	Severity      string         `yaml:"severity" json:"severity"`
	Target        string         `yaml:"target" json:"target"`
	Enabled       *bool          `yaml:"enabled" json:"enabled"`
	AutoRemediate bool           `yaml:"auto_remediate" json:"auto_remediate"`
	Cooldown      string         `yaml:"cooldown" json:"cooldown"`
	Params        map[string]any `yaml:"params" json:"params"`
}

// ConditionSpec: узел дерева условий. Должен быть задан ровно один оператор.
type ConditionSpec struct {
	Exceeds *ThresholdSpec  `yaml:"exceeds,omitempty" json:"exceeds,omitempty"`
	Below   *ThresholdSpec  `yaml:"below,omitempty" json:"below,omitempty"`
	All     []ConditionSpec `yaml:"all,omitempty" json:"all,omitempty"`
	Any     []ConditionSpec `yaml:"any,omitempty" json:"any,omitempty"`
	Custom  string          `yaml:"custom,omitempty" json:"custom,omitempty"`
}

type ThresholdSpec struct {
	Metric    string  `yaml:"metric" json:"metric"`
	Threshold float64 `yaml:"threshold" json:"threshold"`
}

// Bindings связывают имена из файлов с кодом: пользовательские предикаты и обработчики действий
type Bindings struct {
	Conditions map[string]func(domain.Metrics) (bool, error)
	Handlers   map[string]Handler
}

// LoadFiles читает все файлы по glob-шаблону в лексикографическом порядке
func LoadFiles(pattern string, b Bindings) ([]Policy, error) {
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("policy glob %q: %w", pattern, err)
	}
	sort.Strings(paths)

	var out []Policy
	for _, path := range paths {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml", ".json":
		default:
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read policy file: %w", err)
		}
		policies, err := Parse(data, b)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, policies...)
	}
	return out, nil
}

// Parse разбирает документ. JSON — подмножество YAML, поэтому парсер один.
func Parse(data []byte, b Bindings) ([]Policy, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse policy document: %w", err)
	}

	out := make([]Policy, 0, len(doc.Policies))
	for _, s := range doc.Policies {
		p, err := s.Build(b)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Build превращает Spec в Policy
func (s Spec) Build(b Bindings) (Policy, error) {
	if s.Name == "" {
		return Policy{}, fmt.Errorf("%w: policy without name", ErrInvalidPolicy)
	}
	cond, err := s.Condition.Build(b)
	if err != nil {
		return Policy{}, fmt.Errorf("%w: %s: %v", ErrInvalidPolicy, s.Name, err)
	}
	sev, err := domain.ParseSeverity(s.Severity)
	if err != nil {
		return Policy{}, fmt.Errorf("%w: %s: %v", ErrInvalidPolicy, s.Name, err)
	}

	var cooldown time.Duration
	if s.Cooldown != "" {
		if cooldown, err = time.ParseDuration(s.Cooldown); err != nil {
			return Policy{}, fmt.Errorf("%w: %s: cooldown: %v", ErrInvalidPolicy, s.Name, err)
		}
	}

	enabled := true
	if s.Enabled != nil {
		enabled = *s.Enabled
	}

	p := Policy{
		Name:          s.Name,
		Description:   s.Description,
		Condition:     cond,
		Action:        resolveAction(s.Action, b),
		Severity:      sev,
		Target:        s.Target,
		Enabled:       enabled,
		Params:        s.Params,
		AutoRemediate: s.AutoRemediate,
		Cooldown:      cooldown,
	}
	return p, p.Validate()
}

// resolveAction: зарегистрированный обработчик имеет приоритет над встроенной таблицей
func resolveAction(name string, b Bindings) Action {
	name = strings.TrimSpace(name)
	if name == "" {
		return Action{}
	}
	if h, ok := b.Handlers[name]; ok {
		return Handle(name, h)
	}
	return Builtin(ActionKind(name))
}

// Build собирает Condition из узла дерева
func (c ConditionSpec) Build(b Bindings) (Condition, error) {
	ops := 0
	for _, set := range []bool{c.Exceeds != nil, c.Below != nil, c.All != nil, c.Any != nil, c.Custom != ""} {
		if set {
			ops++
		}
	}
	if ops != 1 {
		return Condition{}, fmt.Errorf("condition must have exactly one operator, got %d", ops)
	}

	switch {
	case c.Exceeds != nil:
		if c.Exceeds.Metric == "" {
			return Condition{}, fmt.Errorf("exceeds: empty metric")
		}
		return Exceeds(c.Exceeds.Metric, c.Exceeds.Threshold), nil
	case c.Below != nil:
		if c.Below.Metric == "" {
			return Condition{}, fmt.Errorf("below: empty metric")
		}
		return Below(c.Below.Metric, c.Below.Threshold), nil
	case c.All != nil:
		children, err := buildAll(c.All, b)
		if err != nil {
			return Condition{}, fmt.Errorf("all: %w", err)
		}
		return All(children...), nil
	case c.Any != nil:
		children, err := buildAll(c.Any, b)
		if err != nil {
			return Condition{}, fmt.Errorf("any: %w", err)
		}
		return Any(children...), nil
	default:
		fn, ok := b.Conditions[c.Custom]
		if !ok {
			return Condition{}, fmt.Errorf("custom condition %q is not bound", c.Custom)
		}
		return Custom(c.Custom, fn), nil
	}
}

func buildAll(specs []ConditionSpec, b Bindings) ([]Condition, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("empty operand list")
	}
	out := make([]Condition, 0, len(specs))
	for _, s := range specs {
		c, err := s.Build(b)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
