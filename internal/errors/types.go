package errors

import (
	"fmt"
	"time"
)

// ErrorType 错误类型
type ErrorType int

const (
	// 外部调用错误
	ErrorTypeNetwork ErrorType = iota
	ErrorTypeTimeout
	ErrorTypeRateLimit

	// 结算合约错误
	ErrorTypeContract
	ErrorTypeContractNotReady

	// 数据错误
	ErrorTypePersistence
	ErrorTypeRegistry
	ErrorTypeMalformedInput

	// 系统错误
	ErrorTypeConfig
	ErrorTypeInternal
)

// ErrorSeverity 错误严重级别
type ErrorSeverity int

const (
	SeverityLow ErrorSeverity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// EngineError 自定义错误类型
type EngineError struct {
	Type        ErrorType              `json:"type"`
	Severity    ErrorSeverity          `json:"severity"`
	Code        string                 `json:"code"`
	Message     string                 `json:"message"`
	Timestamp   time.Time              `json:"timestamp"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Cause       error                  `json:"-"`
	Retryable   bool                   `json:"retryable"`
	Component   string                 `json:"component"`
	RoundNumber *int64                 `json:"round_number,omitempty"`
	BlockNumber *uint64                `json:"block_number,omitempty"`
}

// Error 实现error接口
func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 支持errors.Unwrap
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Is 按错误码比较，使预定义错误可以用 errors.Is 判断
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// IsRetryable 判断是否可重试
func (e *EngineError) IsRetryable() bool {
	return e.Retryable
}

// WithContext 添加上下文信息
func (e *EngineError) WithContext(key string, value interface{}) *EngineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithComponent 设置组件名
func (e *EngineError) WithComponent(component string) *EngineError {
	e.Component = component
	return e
}

// WithRound 添加回合号
func (e *EngineError) WithRound(roundNumber int64) *EngineError {
	e.RoundNumber = &roundNumber
	return e
}

// WithBlockNumber 添加区块号
func (e *EngineError) WithBlockNumber(blockNumber uint64) *EngineError {
	e.BlockNumber = &blockNumber
	return e
}

// NewEngineError 创建新的错误
func NewEngineError(errorType ErrorType, severity ErrorSeverity, code, message string) *EngineError {
	return &EngineError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: determineRetryable(errorType),
	}
}

// WrapError 包装现有错误
func WrapError(err error, errorType ErrorType, severity ErrorSeverity, code, message string) *EngineError {
	return &EngineError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     err,
		Retryable: determineRetryable(errorType),
	}
}

// Wrap 以预定义错误为模板包装底层错误
func (e *EngineError) Wrap(cause error) *EngineError {
	return &EngineError{
		Type:      e.Type,
		Severity:  e.Severity,
		Code:      e.Code,
		Message:   e.Message,
		Timestamp: time.Now(),
		Cause:     cause,
		Retryable: e.Retryable,
		Component: e.Component,
	}
}

// determineRetryable 根据错误类型判断是否可重试
func determineRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeRateLimit:
		return true
	case ErrorTypeContractNotReady, ErrorTypeContract:
		return true
	case ErrorTypePersistence:
		return true
	default:
		return false
	}
}

// 预定义错误
var (
	ErrNetworkTimeout = NewEngineError(
		ErrorTypeTimeout,
		SeverityMedium,
		"NETWORK_TIMEOUT",
		"网络请求超时",
	)

	ErrRateLimitExceeded = NewEngineError(
		ErrorTypeRateLimit,
		SeverityMedium,
		"RATE_LIMIT_EXCEEDED",
		"请求频率超限",
	)

	ErrContractNotReady = NewEngineError(
		ErrorTypeContractNotReady,
		SeverityLow,
		"CONTRACT_NOT_READY",
		"结算合约尚未进入可结算阶段",
	)

	ErrContractCall = NewEngineError(
		ErrorTypeContract,
		SeverityMedium,
		"CONTRACT_CALL_FAILED",
		"结算合约调用失败",
	)

	ErrTxReverted = NewEngineError(
		ErrorTypeContract,
		SeverityHigh,
		"TX_REVERTED",
		"结算交易执行失败",
	)

	ErrMissingCredentials = NewEngineError(
		ErrorTypeConfig,
		SeverityCritical,
		"MISSING_CREDENTIALS",
		"未配置结算私钥",
	)

	ErrPersistence = NewEngineError(
		ErrorTypePersistence,
		SeverityMedium,
		"PERSISTENCE_FAILED",
		"持久化失败",
	)

	ErrRegistryFetch = NewEngineError(
		ErrorTypeRegistry,
		SeverityCritical,
		"REGISTRY_FETCH_FAILED",
		"获取协议注册表失败",
	)

	ErrMalformedRow = NewEngineError(
		ErrorTypeMalformedInput,
		SeverityLow,
		"MALFORMED_ROW",
		"注册表数据行格式错误",
	)

	ErrMalformedBlock = NewEngineError(
		ErrorTypeMalformedInput,
		SeverityLow,
		"MALFORMED_BLOCK",
		"区块数据格式错误",
	)

	ErrConfigInvalid = NewEngineError(
		ErrorTypeConfig,
		SeverityCritical,
		"CONFIG_INVALID",
		"配置无效",
	)

	ErrRoundNotLive = NewEngineError(
		ErrorTypeInternal,
		SeverityLow,
		"ROUND_NOT_LIVE",
		"当前没有进行中的回合",
	)

	ErrEngineStopped = NewEngineError(
		ErrorTypeInternal,
		SeverityLow,
		"ENGINE_STOPPED",
		"回合引擎已停止",
	)
)

// 错误类型字符串映射
var errorTypeNames = map[ErrorType]string{
	ErrorTypeNetwork:          "Network",
	ErrorTypeTimeout:          "Timeout",
	ErrorTypeRateLimit:        "RateLimit",
	ErrorTypeContract:         "Contract",
	ErrorTypeContractNotReady: "ContractNotReady",
	ErrorTypePersistence:      "Persistence",
	ErrorTypeRegistry:         "Registry",
	ErrorTypeMalformedInput:   "MalformedInput",
	ErrorTypeConfig:           "Config",
	ErrorTypeInternal:         "Internal",
}

// String 返回错误类型的字符串表示
func (et ErrorType) String() string {
	if name, exists := errorTypeNames[et]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", et)
}

// MarshalText 让 map[ErrorType]int 以名称序列化
func (et ErrorType) MarshalText() ([]byte, error) {
	return []byte(et.String()), nil
}

// 严重级别字符串映射
var severityNames = map[ErrorSeverity]string{
	SeverityLow:      "Low",
	SeverityMedium:   "Medium",
	SeverityHigh:     "High",
	SeverityCritical: "Critical",
}

// String 返回严重级别的字符串表示
func (es ErrorSeverity) String() string {
	if name, exists := severityNames[es]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", es)
}

// MarshalText 让 map[ErrorSeverity]int 以名称序列化
func (es ErrorSeverity) MarshalText() ([]byte, error) {
	return []byte(es.String()), nil
}

// ErrorStats 错误统计
type ErrorStats struct {
	TotalErrors       int                   `json:"total_errors"`
	ErrorsByType      map[ErrorType]int     `json:"errors_by_type"`
	ErrorsBySeverity  map[ErrorSeverity]int `json:"errors_by_severity"`
	ErrorsByComponent map[string]int        `json:"errors_by_component"`
	RecentErrors      []*EngineError        `json:"recent_errors"`
	LastError         *EngineError          `json:"last_error"`
	LastErrorTime     time.Time             `json:"last_error_time"`
}

// NewErrorStats 创建错误统计
func NewErrorStats() *ErrorStats {
	return &ErrorStats{
		ErrorsByType:      make(map[ErrorType]int),
		ErrorsBySeverity:  make(map[ErrorSeverity]int),
		ErrorsByComponent: make(map[string]int),
		RecentErrors:      make([]*EngineError, 0),
	}
}

// RecordError 记录错误
func (es *ErrorStats) RecordError(err *EngineError) {
	es.TotalErrors++
	es.ErrorsByType[err.Type]++
	es.ErrorsBySeverity[err.Severity]++
	if err.Component != "" {
		es.ErrorsByComponent[err.Component]++
	}

	es.LastError = err
	es.LastErrorTime = err.Timestamp

	// 保留最近100个错误
	es.RecentErrors = append(es.RecentErrors, err)
	if len(es.RecentErrors) > 100 {
		es.RecentErrors = es.RecentErrors[1:]
	}
}

// GetErrorRate 获取错误率（错误/小时）
func (es *ErrorStats) GetErrorRate(duration time.Duration) float64 {
	if duration <= 0 {
		return 0
	}

	cutoff := time.Now().Add(-duration)
	recentCount := 0
	for _, err := range es.RecentErrors {
		if err.Timestamp.After(cutoff) {
			recentCount++
		}
	}

	hours := duration.Hours()
	if hours == 0 {
		return float64(recentCount)
	}
	return float64(recentCount) / hours
}
