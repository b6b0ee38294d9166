package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestGetDefaultConfig(t *testing.T) {
	config := GetDefaultConfig()

	assert.NotNil(t, config.Chain)
	assert.NotNil(t, config.Registry)
	assert.NotNil(t, config.Round)
	assert.NotNil(t, config.Settlement)
	assert.NotNil(t, config.Store)
	assert.NotNil(t, config.Output)
	assert.NotNil(t, config.API)
	assert.NotNil(t, config.Logging)

	// 回合参数
	assert.Equal(t, 10, config.Round.Lookback)
	assert.Equal(t, 0.1, config.Round.MinMultiplier)
	assert.Equal(t, 10.0, config.Round.MaxMultiplier)
	assert.Equal(t, "lowest_index", config.Round.TieBreak)
	assert.GreaterOrEqual(t, config.Round.RoundDuration, config.Round.BettingDuration)

	// 结算参数
	assert.False(t, config.Settlement.Enabled)
	assert.Equal(t, 20*time.Second, config.Settlement.PollInterval)
	assert.Equal(t, "COMPLETE", config.Settlement.ReadyPhase)
	assert.Equal(t, int64(10143), config.Settlement.ChainID)
	assert.Empty(t, config.Settlement.PrivateKey)

	assert.Equal(t, "0x", config.Chain.AddressPrefix)
	assert.Equal(t, "bolt", config.Store.Driver)
	assert.NoError(t, config.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		valid  bool
	}{
		{"默认配置", func(c *Config) {}, true},
		{"下注时长为0", func(c *Config) { c.Round.BettingDuration = 0 }, true},
		{"下注时长为负", func(c *Config) { c.Round.BettingDuration = -time.Second }, false},
		{"回合短于下注窗口", func(c *Config) { c.Round.RoundDuration = 30 * time.Second; c.Round.BettingDuration = time.Minute }, false},
		{"回合时长为0", func(c *Config) { c.Round.RoundDuration = 0; c.Round.BettingDuration = 0 }, false},
		{"lookback 为0", func(c *Config) { c.Round.Lookback = 0 }, false},
		{"最小乘数为0", func(c *Config) { c.Round.MinMultiplier = 0 }, false},
		{"最小大于最大", func(c *Config) { c.Round.MinMultiplier = 5; c.Round.MaxMultiplier = 2 }, false},
		{"未知平局规则", func(c *Config) { c.Round.TieBreak = "alphabetical" }, false},
		{"启用结算但轮询间隔为0", func(c *Config) { c.Settlement.Enabled = true; c.Settlement.PollInterval = 0 }, false},
		{"启用结算缺少私钥仍然有效", func(c *Config) { c.Settlement.Enabled = true }, true},
		{"未知存储驱动", func(c *Config) { c.Store.Driver = "mysql" }, false},
		{"未知输出格式", func(c *Config) { c.Output.Format = "csv" }, false},
		{"轮询间隔为0", func(c *Config) { c.Chain.PollInterval = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := GetDefaultConfig()
			tt.mutate(config)
			err := config.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfig(t, `
chain:
  nodes:
    - name: primary
      url: wss://rpc.example.org
      priority: 1
      rate_limit: 50
    - name: backup
      url: https://rpc2.example.org
      priority: 2
round:
  betting_duration: 30s
  round_duration: 90s
  lookback: 5
  tie_break: seeded
  tie_break_seed: 42
output:
  format: json
  directory: /tmp/cheeznad
`)

	config, err := LoadConfigFromFile(path)
	require.NoError(t, err)

	require.Len(t, config.Chain.Nodes, 2)
	assert.Equal(t, "primary", config.Chain.Nodes[0].Name)
	assert.Equal(t, 50, config.Chain.Nodes[0].RateLimit)
	assert.Equal(t, 30*time.Second, config.Round.BettingDuration)
	assert.Equal(t, 90*time.Second, config.Round.RoundDuration)
	assert.Equal(t, 5, config.Round.Lookback)
	assert.Equal(t, "seeded", config.Round.TieBreak)
	assert.Equal(t, int64(42), config.Round.TieBreakSeed)
	assert.Equal(t, "json", config.Output.Format)

	// 文件中没有的键保留默认值
	assert.Equal(t, 10.0, config.Round.MaxMultiplier)
	assert.Equal(t, "COMPLETE", config.Settlement.ReadyPhase)
	assert.Equal(t, "bolt", config.Store.Driver)
}

func TestLoadConfigFromFile_EnvOverride(t *testing.T) {
	path := writeConfig(t, `
round:
  betting_duration: 30s
  round_duration: 60s
`)
	t.Setenv("CHEEZNAD_SETTLEMENT_PRIVATE_KEY", "abcdef")
	t.Setenv("CHEEZNAD_ROUND_LOOKBACK", "3")

	config, err := LoadConfigFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "abcdef", config.Settlement.PrivateKey)
	assert.Equal(t, 3, config.Round.Lookback)
}

func TestLoadConfigFromFile_Invalid(t *testing.T) {
	path := writeConfig(t, `
round:
  betting_duration: 2m
  round_duration: 1m
`)

	_, err := LoadConfigFromFile(path)
	assert.Error(t, err)

	_, err = LoadConfigFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyOverride(t *testing.T) {
	tests := []struct {
		key     string
		value   string
		check   func(t *testing.T, c *Config)
		wantErr bool
	}{
		{"betting_duration", "45s", func(t *testing.T, c *Config) { assert.Equal(t, 45*time.Second, c.Round.BettingDuration) }, false},
		{"lookback", "20", func(t *testing.T, c *Config) { assert.Equal(t, 20, c.Round.Lookback) }, false},
		{"max_multiplier", "5.5", func(t *testing.T, c *Config) { assert.Equal(t, 5.5, c.Round.MaxMultiplier) }, false},
		{"tie_break", "random", func(t *testing.T, c *Config) { assert.Equal(t, "random", c.Round.TieBreak) }, false},
		{"settlement_enabled", "true", func(t *testing.T, c *Config) { assert.True(t, c.Settlement.Enabled) }, false},
		{"settlement_poll_interval", "5s", func(t *testing.T, c *Config) { assert.Equal(t, 5*time.Second, c.Settlement.PollInterval) }, false},
		{"lookback", "ten", nil, true},
		{"round_duration", "soon", nil, true},
		{"unknown_key", "1", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			config := GetDefaultConfig()
			err := applyOverride(config, tt.key, tt.value)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, config)
		})
	}
}
