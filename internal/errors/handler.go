package errors

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrorHandler 错误处理器：统一记录、统计并回调
type ErrorHandler struct {
	logger *logrus.Logger
	stats  *ErrorStats
	mu     sync.RWMutex

	callbacks []ErrorCallback
}

// ErrorCallback 错误回调函数
type ErrorCallback func(err *EngineError)

// NewErrorHandler 创建错误处理器
func NewErrorHandler(logger *logrus.Logger) *ErrorHandler {
	return &ErrorHandler{
		logger:    logger,
		stats:     NewErrorStats(),
		callbacks: make([]ErrorCallback, 0),
	}
}

// Handle 处理错误，返回归一化后的 EngineError；nil 输入返回 nil
func (eh *ErrorHandler) Handle(err error, component string) *EngineError {
	if err == nil {
		return nil
	}

	engineErr := AsEngineError(err)
	if engineErr.Component == "" {
		engineErr.Component = component
	}

	eh.mu.Lock()
	eh.stats.RecordError(engineErr)
	callbacks := make([]ErrorCallback, len(eh.callbacks))
	copy(callbacks, eh.callbacks)
	eh.mu.Unlock()

	eh.log(engineErr)

	for _, cb := range callbacks {
		eh.safeCallback(cb, engineErr)
	}
	return engineErr
}

// AsEngineError 转换为 EngineError，普通错误包装为内部错误
func AsEngineError(err error) *EngineError {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr
	}
	return WrapError(err, ErrorTypeInternal, SeverityMedium, "UNKNOWN_ERROR", "未知错误")
}

// IsRetryable 判断错误链上是否为可重试的 EngineError
func IsRetryable(err error) bool {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Retryable
	}
	return false
}

// log 根据严重级别选择日志级别，严重错误也只记录不退出
func (eh *ErrorHandler) log(err *EngineError) {
	fields := logrus.Fields{
		"error_type": err.Type.String(),
		"error_code": err.Code,
		"component":  err.Component,
		"retryable":  err.Retryable,
	}
	if err.RoundNumber != nil {
		fields["round"] = *err.RoundNumber
	}
	if err.BlockNumber != nil {
		fields["block_number"] = *err.BlockNumber
	}
	for k, v := range err.Context {
		fields[k] = v
	}
	entry := eh.logger.WithFields(fields)

	switch err.Severity {
	case SeverityLow:
		entry.Debug(err.Error())
	case SeverityMedium:
		entry.Warn(err.Error())
	default:
		entry.Error(err.Error())
	}
}

func (eh *ErrorHandler) safeCallback(cb ErrorCallback, err *EngineError) {
	defer func() {
		if r := recover(); r != nil {
			eh.logger.Errorf("错误回调执行时发生panic: %v", r)
		}
	}()
	cb(err)
}

// AddCallback 添加错误回调
func (eh *ErrorHandler) AddCallback(callback ErrorCallback) {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.callbacks = append(eh.callbacks, callback)
}

// GetStats 获取错误统计信息的副本
func (eh *ErrorHandler) GetStats() *ErrorStats {
	eh.mu.RLock()
	defer eh.mu.RUnlock()

	snapshot := NewErrorStats()
	snapshot.TotalErrors = eh.stats.TotalErrors
	for k, v := range eh.stats.ErrorsByType {
		snapshot.ErrorsByType[k] = v
	}
	for k, v := range eh.stats.ErrorsBySeverity {
		snapshot.ErrorsBySeverity[k] = v
	}
	for k, v := range eh.stats.ErrorsByComponent {
		snapshot.ErrorsByComponent[k] = v
	}
	snapshot.RecentErrors = append(snapshot.RecentErrors, eh.stats.RecentErrors...)
	snapshot.LastError = eh.stats.LastError
	snapshot.LastErrorTime = eh.stats.LastErrorTime
	return snapshot
}

// ClearStats 清除统计信息
func (eh *ErrorHandler) ClearStats() {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.stats = NewErrorStats()
}
