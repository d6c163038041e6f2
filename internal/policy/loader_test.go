package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-autoheal/internal/domain"
)

const yamlDoc = `
policies:
  - name: high-cpu
    description: CPU saturation on web tier
    condition:
      exceeds: {metric: cpu_percent, threshold: 80}
    action: scale-up
    severity: critical
    target: "web-*"
    auto_remediate: true
    cooldown: 5m
    params: {replicas: 2}
  - name: memory-and-latency
    condition:
      all:
        - exceeds: {metric: memory_percent, threshold: 90}
        - any:
            - exceeds: {metric: p99_latency_ms, threshold: 500}
            - custom: error_budget_burn
    action: restart-service
    enabled: false
  - name: page
    condition:
      below: {metric: healthy_replicas, threshold: 1}
    action: page-oncall
    severity: info
`

const jsonDoc = `{
  "policies": [
    {
      "name": "disk",
      "condition": {"below": {"metric": "free_disk_gb", "threshold": 5}},
      "action": "clear-cache",
      "auto_remediate": true
    }
  ]
}`

func testBindings(pageCalls *int) Bindings {
	return Bindings{
		Conditions: map[string]func(domain.Metrics) (bool, error){
			"error_budget_burn": func(m domain.Metrics) (bool, error) { return m["burn_rate"] > 2, nil },
		},
		Handlers: map[string]Handler{
			"page-oncall": func(context.Context, domain.Violation, map[string]any) (ActionResult, error) {
				*pageCalls++
				return ActionResult{}, nil
			},
		},
	}
}

func TestParseYAML(t *testing.T) {
	calls := 0
	policies, err := Parse([]byte(yamlDoc), testBindings(&calls))
	require.NoError(t, err)
	require.Len(t, policies, 3)

	cpu := policies[0]
	assert.Equal(t, "high-cpu", cpu.Name)
	assert.Equal(t, domain.SeverityCritical, cpu.Severity)
	assert.Equal(t, "web-*", cpu.Target)
	assert.True(t, cpu.Enabled)
	assert.True(t, cpu.AutoRemediate)
	assert.Equal(t, 5*time.Minute, cpu.Cooldown)
	assert.Equal(t, ActionScaleUp, cpu.Action.Kind())
	assert.Equal(t, 2, cpu.Params["replicas"])

	mem := policies[1]
	assert.False(t, mem.Enabled)
	assert.Equal(t, domain.SeverityWarning, mem.Severity)
	assert.Equal(t, "all", mem.Target)
	fired, err := mem.Condition.Evaluate(domain.Metrics{"memory_percent": 95, "burn_rate": 3})
	require.NoError(t, err)
	assert.True(t, fired)
	fired, err = mem.Condition.Evaluate(domain.Metrics{"memory_percent": 95, "burn_rate": 1})
	require.NoError(t, err)
	assert.False(t, fired)

	page := policies[2]
	assert.True(t, page.Action.IsCustom())
	assert.Equal(t, "page-oncall", page.Action.Name())
}

func TestParseJSON(t *testing.T) {
	policies, err := Parse([]byte(jsonDoc), Bindings{})
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.Equal(t, "disk", policies[0].Name)
	assert.Equal(t, ActionClearCache, policies[0].Action.Kind())
	assert.True(t, policies[0].Enabled)
}

func TestParseErrors(t *testing.T) {
	tests := map[string]string{
		"no operator":       "policies:\n  - name: x\n    condition: {}\n",
		"two operators":     "policies:\n  - name: x\n    condition:\n      exceeds: {metric: a, threshold: 1}\n      below: {metric: a, threshold: 1}\n",
		"unknown severity":  "policies:\n  - name: x\n    severity: fatal\n    condition:\n      exceeds: {metric: a, threshold: 1}\n",
		"unbound custom":    "policies:\n  - name: x\n    condition:\n      custom: nope\n",
		"empty all":         "policies:\n  - name: x\n    condition:\n      all: []\n",
		"bad cooldown":      "policies:\n  - name: x\n    cooldown: soon\n    condition:\n      exceeds: {metric: a, threshold: 1}\n",
		"missing name":      "policies:\n  - condition:\n      exceeds: {metric: a, threshold: 1}\n",
		"empty metric name": "policies:\n  - name: x\n    condition:\n      exceeds: {threshold: 1}\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc), Bindings{})
			require.ErrorIs(t, err, ErrInvalidPolicy)
		})
	}

	_, err := Parse([]byte("policies: [unclosed"), Bindings{})
	require.Error(t, err)
}

func TestLoadFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"), []byte(jsonDoc), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(yamlDoc), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	calls := 0
	policies, err := LoadFiles(filepath.Join(dir, "*"), testBindings(&calls))
	require.NoError(t, err)
	require.Len(t, policies, 4)
	assert.Equal(t, "high-cpu", policies[0].Name)
	assert.Equal(t, "disk", policies[3].Name)

	r := NewRegistry(nil)
	require.NoError(t, r.Replace(policies))
	assert.Equal(t, 4, r.Len())
}

func TestLoadFiles_ReportsFile(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("policies:\n  - name: x\n    condition: {}\n"), 0o644))

	_, err := LoadFiles(filepath.Join(dir, "*.yaml"), Bindings{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.yaml")
}

func TestLoadFiles_ShippedExamples(t *testing.T) {
	policies, err := LoadFiles(filepath.Join("..", "..", "policies", "*.yaml"), Bindings{})
	require.NoError(t, err)
	require.NotEmpty(t, policies)

	r := NewRegistry(nil)
	require.NoError(t, r.Replace(policies))

	e := NewEngine(r, nil, nil)
	res := e.Preview(context.Background(), domain.Metrics{"cpu_percent": 97, "healthy_replicas": 3, "free_disk_gb": 50}, "web-frontend")
	require.Len(t, res.Violations, 1)
	assert.Equal(t, "high-cpu", res.Violations[0].PolicyName)
}
