package config

import (
	"os"
	"path/filepath"
	"testing"

	"margin_monitor/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validYAML = `
account:
  balance: 1000000
  leverage: 25
positions:
  - id: usdjpy-1
    side: long
    lots: 10
    entry_price: 150.0
    comment: core holding
  - id: usdjpy-2
    side: long
    lots: 2.5
    entry_price: 148.2
scan:
  min_rate: 140
  max_rate: 160
  step: 0.5
watch:
  enabled: true
  interval_seconds: 5
  initial_rate: 150.0
  targets: [100, 50]
storage:
  driver: memory
system:
  log_level: INFO
`

func TestLoadConfig_Valid(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, 1000000.0, cfg.Account.Balance)
	assert.Equal(t, 25.0, cfg.Account.Leverage)
	require.Len(t, cfg.Positions, 2)
	assert.Equal(t, "usdjpy-1", cfg.Positions[0].ID)
	assert.Equal(t, "core holding", cfg.Positions[0].Comment)
	assert.Equal(t, []float64{100, 50}, cfg.Watch.Targets)
}

func TestLoadConfig_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_SLACK_WEBHOOK", "https://hooks.slack.com/services/T/B/x")

	yaml := validYAML + `
alerts:
  slack_webhook: ${TEST_SLACK_WEBHOOK}
`
	cfg, err := LoadConfig(writeConfig(t, yaml))
	require.NoError(t, err)

	assert.Equal(t, "https://hooks.slack.com/services/T/B/x", cfg.Alerts.SlackWebhook.Value())
	// The secret must not leak through formatting.
	assert.NotContains(t, cfg.String(), "hooks.slack.com")
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "account:\n  balance: 100\n"))
	require.NoError(t, err)

	assert.Equal(t, 25.0, cfg.Account.Leverage)
	assert.Equal(t, "8087", cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "INFO", cfg.System.LogLevel)
	assert.Equal(t, core.RiskMarginCall, cfg.MinAlertSeverity())
}

func TestLoadConfig_Invalid(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"bad side", `
positions:
  - id: p1
    side: sideways
    lots: 1
    entry_price: 150
`},
		{"zero lots", `
positions:
  - id: p1
    side: long
    lots: 0
    entry_price: 150
`},
		{"negative entry", `
positions:
  - id: p1
    side: long
    lots: 1
    entry_price: -150
`},
		{"bad scan step", `
scan:
  min_rate: 140
  max_rate: 160
  step: -0.5
`},
		{"inverted scan range", `
scan:
  min_rate: 160
  max_rate: 140
  step: 0.5
`},
		{"bad storage driver", `
storage:
  driver: postgres
`},
		{"sqlite without path", `
storage:
  driver: sqlite
`},
		{"watch without rate", `
watch:
  enabled: true
  interval_seconds: 5
`},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, c.yaml))
			assert.Error(t, err)
		})
	}
}

func TestConfig_ToBook(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validYAML))
	require.NoError(t, err)

	book, err := cfg.ToBook()
	require.NoError(t, err)

	require.Len(t, book.Positions, 2)
	assert.Equal(t, core.SideLong, book.Positions[0].Side)
	assert.Equal(t, "150", book.Positions[0].EntryPrice.String())
	assert.Equal(t, "25", book.Account.Leverage.String())
	assert.Equal(t, "25000", book.Positions[1].Units().String())
}

func TestConfig_ToLoan(t *testing.T) {
	cfg := DefaultConfig()

	l, plan, err := cfg.ToLoan()
	require.NoError(t, err)
	require.NotNil(t, plan)

	assert.Equal(t, "30000000", l.Principal.String())
	assert.Equal(t, 35, l.Years)
	assert.Equal(t, 10, plan.Years)
	assert.Equal(t, "400000", plan.AnnualCap.String())

	cfg.Loan.Deduction.Enabled = false
	_, plan, err = cfg.ToLoan()
	require.NoError(t, err)
	assert.Nil(t, plan)
}

func TestDefaultConfig_IsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}
