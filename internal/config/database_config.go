package config

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// DatabaseConfig 数据库配置管理器，读写 engine_config 键值表
type DatabaseConfig struct {
	DB     *sqlx.DB
	logger *logrus.Logger
}

// ConfigEntry engine_config 中的一行
type ConfigEntry struct {
	Key   string `db:"config_key" json:"key"`
	Value string `db:"config_value" json:"value"`
}

// NewDatabaseConfig 创建数据库配置管理器
func NewDatabaseConfig(dsn string, logger *logrus.Logger) (*DatabaseConfig, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	return &DatabaseConfig{
		DB:     db,
		logger: logger,
	}, nil
}

// NewDatabaseConfigFromDB 复用已有连接
func NewDatabaseConfigFromDB(db *sqlx.DB, logger *logrus.Logger) *DatabaseConfig {
	return &DatabaseConfig{DB: db, logger: logger}
}

// ListConfigs 列出所有生效的配置
func (dc *DatabaseConfig) ListConfigs(ctx context.Context) ([]ConfigEntry, error) {
	var entries []ConfigEntry
	query := `SELECT config_key, config_value FROM engine_config WHERE is_active = true ORDER BY config_key`
	if err := dc.DB.SelectContext(ctx, &entries, query); err != nil {
		return nil, fmt.Errorf("查询 engine_config 失败: %w", err)
	}
	return entries, nil
}

// GetConfig 获取配置值
func (dc *DatabaseConfig) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	query := `SELECT config_value FROM engine_config WHERE config_key = $1 AND is_active = true`
	if err := dc.DB.GetContext(ctx, &value, query, key); err != nil {
		return "", fmt.Errorf("查询配置 %s 失败: %w", key, err)
	}
	return value, nil
}

// ValidateOverride 检查键是否可覆盖以及值能否按字段类型解析
func ValidateOverride(key, value string) error {
	return applyOverride(GetDefaultConfig(), key, value)
}

// UpdateConfig 写入配置，值会先按目标字段类型校验
func (dc *DatabaseConfig) UpdateConfig(ctx context.Context, key, value string) error {
	if err := ValidateOverride(key, value); err != nil {
		return err
	}

	query := `
		INSERT INTO engine_config (config_key, config_value, is_active, updated_at)
		VALUES ($1, $2, true, CURRENT_TIMESTAMP)
		ON CONFLICT (config_key)
		DO UPDATE SET config_value = $2, is_active = true, updated_at = CURRENT_TIMESTAMP
	`
	if _, err := dc.DB.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("写入配置 %s 失败: %w", key, err)
	}
	return nil
}

// ApplyOverrides 把数据库中的配置叠加到 config 上，返回生效条数；无法识别的键只记录警告
func (dc *DatabaseConfig) ApplyOverrides(ctx context.Context, config *Config) (int, error) {
	entries, err := dc.ListConfigs(ctx)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, entry := range entries {
		if err := applyOverride(config, entry.Key, entry.Value); err != nil {
			dc.logger.Warnf("忽略数据库配置 %s=%s: %v", entry.Key, entry.Value, err)
			continue
		}
		applied++
	}
	return applied, nil
}

// Close 关闭数据库连接
func (dc *DatabaseConfig) Close() error {
	if dc.DB != nil {
		return dc.DB.Close()
	}
	return nil
}

// applyOverride 按键名修改配置字段
func applyOverride(config *Config, key, value string) error {
	value = strings.TrimSpace(value)

	switch key {
	case "betting_duration":
		return setDuration(&config.Round.BettingDuration, value)
	case "round_duration":
		return setDuration(&config.Round.RoundDuration, value)
	case "lookback":
		return setInt(&config.Round.Lookback, value)
	case "min_multiplier":
		return setFloat(&config.Round.MinMultiplier, value)
	case "max_multiplier":
		return setFloat(&config.Round.MaxMultiplier, value)
	case "tie_break":
		config.Round.TieBreak = value
		return nil
	case "settlement_wait":
		return setDuration(&config.Round.SettlementWait, value)
	case "failure_backoff":
		return setDuration(&config.Round.FailureBackoff, value)
	case "max_failure_backoff":
		return setDuration(&config.Round.MaxFailureBackoff, value)
	case "settlement_poll_interval":
		return setDuration(&config.Settlement.PollInterval, value)
	case "settlement_enabled":
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("无效的布尔值: %w", err)
		}
		config.Settlement.Enabled = enabled
		return nil
	default:
		return fmt.Errorf("未知的配置键: %s", key)
	}
}

func setDuration(dst *time.Duration, value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("无效的时长: %w", err)
	}
	*dst = d
	return nil
}

func setInt(dst *int, value string) error {
	v, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("无效的整数: %w", err)
	}
	*dst = v
	return nil
}

func setFloat(dst *float64, value string) error {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("无效的数值: %w", err)
	}
	*dst = v
	return nil
}
