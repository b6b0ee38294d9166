package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LogConfig 日志配置
type LogConfig struct {
	Level  string `json:"level" yaml:"level" mapstructure:"level"`    // 日志级别 (debug, info, warn, error)
	Format string `json:"format" yaml:"format" mapstructure:"format"` // 日志格式 (json, text)
	Output string `json:"output" yaml:"output" mapstructure:"output"` // 输出路径 (stdout, stderr, file path)
}

// DefaultLogConfig 默认日志配置
var DefaultLogConfig = &LogConfig{
	Level:  "info",
	Format: "text",
	Output: "stdout",
}

// NewLogger 按配置创建 logrus 日志器
func NewLogger(config *LogConfig) (*logrus.Logger, error) {
	if config == nil {
		config = DefaultLogConfig
	}

	level, err := parseLogLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("无效的日志级别 '%s': %w", config.Level, err)
	}

	writer, err := getLogWriter(config.Output)
	if err != nil {
		return nil, fmt.Errorf("创建日志输出失败: %w", err)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(writer)

	switch strings.ToLower(config.Format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	case "text", "":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})
	default:
		return nil, fmt.Errorf("不支持的日志格式: %s", config.Format)
	}

	return logger, nil
}

// parseLogLevel 解析日志级别
func parseLogLevel(levelStr string) (logrus.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return logrus.DebugLevel, nil
	case "info", "":
		return logrus.InfoLevel, nil
	case "warn", "warning":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return logrus.InfoLevel, fmt.Errorf("未知的日志级别: %s", levelStr)
	}
}

// getLogWriter 获取日志输出
func getLogWriter(output string) (io.Writer, error) {
	switch output {
	case "stdout", "":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	default:
		dir := filepath.Dir(output)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("创建日志目录失败: %w", err)
		}

		file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("打开日志文件失败: %w", err)
		}
		return file, nil
	}
}

// NewComponentLogger 组件日志器
func NewComponentLogger(base *logrus.Logger, component string) *logrus.Entry {
	return base.WithField("component", component)
}

// NewBlockLogger 区块处理专用日志器
func NewBlockLogger(base *logrus.Logger, blockNumber uint64) *logrus.Entry {
	return base.WithFields(logrus.Fields{
		"component":    "classifier",
		"block_number": blockNumber,
	})
}

// NewRoundLogger 回合专用日志器
func NewRoundLogger(base *logrus.Logger, roundNumber int64) *logrus.Entry {
	return base.WithFields(logrus.Fields{
		"component": "round",
		"round":     roundNumber,
	})
}

// NewSettlementLogger 结算专用日志器
func NewSettlementLogger(base *logrus.Logger, zone string, attempt int) *logrus.Entry {
	return base.WithFields(logrus.Fields{
		"component": "settlement",
		"zone":      zone,
		"attempt":   attempt,
	})
}

// NewRPCLogger RPC调用专用日志器
func NewRPCLogger(base *logrus.Logger, method string, nodeURL string) *logrus.Entry {
	return base.WithFields(logrus.Fields{
		"component": "rpc_client",
		"method":    method,
		"node_url":  nodeURL,
	})
}
