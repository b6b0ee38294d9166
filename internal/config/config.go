package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"cheeznad/internal/logging"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，settlement.private_key 对应 CHEEZNAD_SETTLEMENT_PRIVATE_KEY
const EnvPrefix = "CHEEZNAD"

// Config 主配置
type Config struct {
	Chain      *ChainConfig       `mapstructure:"chain" json:"chain"`
	Registry   *RegistryConfig    `mapstructure:"registry" json:"registry"`
	Round      *RoundConfig       `mapstructure:"round" json:"round"`
	Settlement *SettlementConfig  `mapstructure:"settlement" json:"settlement"`
	Store      *StoreConfig       `mapstructure:"store" json:"store"`
	Output     *OutputConfig      `mapstructure:"output" json:"output"`
	API        *APIConfig         `mapstructure:"api" json:"api"`
	Logging    *logging.LogConfig `mapstructure:"logging" json:"logging"`
}

// ChainConfig 区块来源配置
type ChainConfig struct {
	Nodes         []*NodeConfig `mapstructure:"nodes" json:"nodes"`
	PollInterval  time.Duration `mapstructure:"poll_interval" json:"poll_interval"` // 订阅不可用时的轮询间隔
	AddressPrefix string        `mapstructure:"address_prefix" json:"address_prefix"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout" json:"fetch_timeout"`
}

// NodeConfig 节点配置
type NodeConfig struct {
	Name      string `mapstructure:"name" json:"name"`
	URL       string `mapstructure:"url" json:"url"`
	RateLimit int    `mapstructure:"rate_limit" json:"rate_limit"` // 每秒请求数，0 表示不限
	Priority  int    `mapstructure:"priority" json:"priority"`
}

// RegistryConfig 协议注册表配置
type RegistryConfig struct {
	URL     string        `mapstructure:"url" json:"url"`
	File    string        `mapstructure:"file" json:"file"` // 非空时从本地 CSV 读取
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
}

// RoundConfig 回合配置
type RoundConfig struct {
	BettingDuration     time.Duration `mapstructure:"betting_duration" json:"betting_duration"`
	RoundDuration       time.Duration `mapstructure:"round_duration" json:"round_duration"`
	Lookback            int           `mapstructure:"lookback" json:"lookback"`
	MinMultiplier       float64       `mapstructure:"min_multiplier" json:"min_multiplier"`
	MaxMultiplier       float64       `mapstructure:"max_multiplier" json:"max_multiplier"`
	TieBreak            string        `mapstructure:"tie_break" json:"tie_break"` // lowest_index | random | seeded
	TieBreakSeed        int64         `mapstructure:"tie_break_seed" json:"tie_break_seed"`
	SettlementWait      time.Duration `mapstructure:"settlement_wait" json:"settlement_wait"`
	FailureBackoff      time.Duration `mapstructure:"failure_backoff" json:"failure_backoff"`
	MaxFailureBackoff   time.Duration `mapstructure:"max_failure_backoff" json:"max_failure_backoff"`
	PublishTransactions bool          `mapstructure:"publish_transactions" json:"publish_transactions"`
}

// SettlementConfig 结算合约配置
type SettlementConfig struct {
	Enabled         bool          `mapstructure:"enabled" json:"enabled"`
	RPCURL          string        `mapstructure:"rpc_url" json:"rpc_url"`
	ChainID         int64         `mapstructure:"chain_id" json:"chain_id"`
	ContractAddress string        `mapstructure:"contract_address" json:"contract_address"`
	PrivateKey      string        `mapstructure:"private_key" json:"-"`
	PollInterval    time.Duration `mapstructure:"poll_interval" json:"poll_interval"`
	ConfirmTimeout  time.Duration `mapstructure:"confirm_timeout" json:"confirm_timeout"`
	ReadyPhase      string        `mapstructure:"ready_phase" json:"ready_phase"`
	GasLimit        uint64        `mapstructure:"gas_limit" json:"gas_limit"` // 0 表示估算
}

// StoreConfig 存储配置
type StoreConfig struct {
	Driver       string `mapstructure:"driver" json:"driver"` // bolt | postgres
	Path         string `mapstructure:"path" json:"path"`
	DSN          string `mapstructure:"dsn" json:"-"`
	MaxOpenConns int    `mapstructure:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" json:"max_idle_conns"`
}

// KafkaConfig Kafka配置
type KafkaConfig struct {
	Brokers []string          `mapstructure:"brokers" json:"brokers"`
	Topics  map[string]string `mapstructure:"topics" json:"topics"`
}

// RedisConfig Redis 发布配置
type RedisConfig struct {
	URL           string `mapstructure:"url" json:"-"`
	ChannelPrefix string `mapstructure:"channel_prefix" json:"channel_prefix"`
}

// OutputConfig 事件输出配置
type OutputConfig struct {
	Format    string       `mapstructure:"format" json:"format"` // none | json | json_async | kafka | kafka_async | redis
	Directory string       `mapstructure:"directory" json:"directory"`
	Kafka     *KafkaConfig `mapstructure:"kafka" json:"kafka"`
	Redis     *RedisConfig `mapstructure:"redis" json:"redis"`
}

// APIConfig HTTP 服务配置
type APIConfig struct {
	Enabled       bool   `mapstructure:"enabled" json:"enabled"`
	ListenAddr    string `mapstructure:"listen_addr" json:"listen_addr"`
	WSBuffer      int    `mapstructure:"ws_buffer" json:"ws_buffer"`
	LogBufferSize int    `mapstructure:"log_buffer_size" json:"log_buffer_size"`
}

// 允许通过环境变量覆盖的键
var envKeys = []string{
	"chain.poll_interval",
	"chain.address_prefix",
	"registry.url",
	"registry.file",
	"round.betting_duration",
	"round.round_duration",
	"round.lookback",
	"round.tie_break",
	"settlement.enabled",
	"settlement.rpc_url",
	"settlement.chain_id",
	"settlement.contract_address",
	"settlement.private_key",
	"store.driver",
	"store.path",
	"store.dsn",
	"output.format",
	"output.redis.url",
	"api.listen_addr",
	"logging.level",
	"logging.format",
}

// LoadConfig 加载配置：YAML 文件 + 环境变量，设置了 CHEEZNAD_DB_DSN 时再叠加数据库中的引擎参数
func LoadConfig(configPath string) (*Config, error) {
	config, err := LoadConfigFromFile(configPath)
	if err != nil {
		return nil, err
	}

	dbDSN := os.Getenv(EnvPrefix + "_DB_DSN")
	if dbDSN == "" {
		return config, nil
	}

	logger := logrus.StandardLogger()
	dbConfig, err := NewDatabaseConfig(dbDSN, logger)
	if err != nil {
		return nil, fmt.Errorf("连接配置数据库失败: %w", err)
	}
	defer dbConfig.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	applied, err := dbConfig.ApplyOverrides(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("从数据库加载配置失败: %w", err)
	}
	logger.Infof("已从数据库叠加 %d 项引擎配置", applied)

	return config, config.Validate()
}

// LoadConfigFromFile 从文件加载配置，文件中缺失的键保留默认值
func LoadConfigFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("绑定环境变量失败 %s: %w", key, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	config := GetDefaultConfig()
	if v.IsSet("chain.nodes") {
		config.Chain.Nodes = nil
	}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	r := c.Round
	if r == nil {
		return fmt.Errorf("缺少 round 配置")
	}
	if r.BettingDuration < 0 {
		return fmt.Errorf("round.betting_duration 不能为负数")
	}
	if r.RoundDuration <= 0 {
		return fmt.Errorf("round.round_duration 必须大于0")
	}
	if r.RoundDuration < r.BettingDuration {
		return fmt.Errorf("round.round_duration (%v) 不能小于 round.betting_duration (%v)", r.RoundDuration, r.BettingDuration)
	}
	if r.Lookback < 1 {
		return fmt.Errorf("round.lookback 必须大于等于1")
	}
	if r.MinMultiplier <= 0 || r.MinMultiplier > r.MaxMultiplier {
		return fmt.Errorf("乘数范围无效: min=%v max=%v", r.MinMultiplier, r.MaxMultiplier)
	}
	switch r.TieBreak {
	case "lowest_index", "random", "seeded":
	default:
		return fmt.Errorf("不支持的平局规则: %s", r.TieBreak)
	}
	if r.FailureBackoff < 0 || r.MaxFailureBackoff < 0 {
		return fmt.Errorf("结算失败退避时间不能为负数")
	}

	if c.Settlement != nil && c.Settlement.Enabled {
		if c.Settlement.PollInterval <= 0 {
			return fmt.Errorf("settlement.poll_interval 必须大于0")
		}
		if c.Settlement.RPCURL == "" || c.Settlement.ContractAddress == "" {
			return fmt.Errorf("启用结算时必须配置 settlement.rpc_url 和 settlement.contract_address")
		}
	}

	if c.Chain == nil || c.Chain.PollInterval <= 0 {
		return fmt.Errorf("chain.poll_interval 必须大于0")
	}

	switch c.Store.Driver {
	case "bolt", "postgres":
	default:
		return fmt.Errorf("不支持的存储驱动: %s", c.Store.Driver)
	}

	switch c.Output.Format {
	case "none", "json", "json_async", "kafka", "kafka_async", "redis":
	default:
		return fmt.Errorf("不支持的输出格式: %s", c.Output.Format)
	}

	return nil
}

// GetDefaultConfig 获取默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Chain: &ChainConfig{
			Nodes: []*NodeConfig{
				{
					Name:      "monad_mainnet",
					URL:       "wss://rpc.monad.xyz",
					RateLimit: 20,
					Priority:  1,
				},
			},
			PollInterval:  time.Second,
			AddressPrefix: "0x",
			FetchTimeout:  10 * time.Second,
		},
		Registry: &RegistryConfig{
			URL:     "https://raw.githubusercontent.com/monad-crypto/protocols/refs/heads/main/protocols-mainnet.csv",
			Timeout: 30 * time.Second,
		},
		Round: &RoundConfig{
			BettingDuration:     time.Minute,
			RoundDuration:       2 * time.Minute,
			Lookback:            10,
			MinMultiplier:       0.1,
			MaxMultiplier:       10.0,
			TieBreak:            "lowest_index",
			SettlementWait:      2 * time.Minute,
			FailureBackoff:      0,
			MaxFailureBackoff:   time.Minute,
			PublishTransactions: true,
		},
		Settlement: &SettlementConfig{
			Enabled:         false,
			RPCURL:          "https://testnet-rpc.monad.xyz",
			ChainID:         10143,
			ContractAddress: "0xa02d5EE3B5462be694e7F6Fe9c101434399aD970",
			PollInterval:    20 * time.Second,
			ConfirmTimeout:  2 * time.Minute,
			ReadyPhase:      "COMPLETE",
		},
		Store: &StoreConfig{
			Driver:       "bolt",
			Path:         "./data/rounds.db",
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
		Output: &OutputConfig{
			Format:    "none",
			Directory: "./outputs",
			Kafka: &KafkaConfig{
				Brokers: []string{"localhost:9092"},
				Topics: map[string]string{
					"rounds":       "cheeznad_rounds",
					"transactions": "cheeznad_transactions",
				},
			},
			Redis: &RedisConfig{
				URL:           "redis://localhost:6379/0",
				ChannelPrefix: "cheeznad",
			},
		},
		API: &APIConfig{
			Enabled:       true,
			ListenAddr:    ":8080",
			WSBuffer:      256,
			LogBufferSize: 1000,
		},
		Logging: &logging.LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}
