package api

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultLogBufferSize 未配置时保留的日志条数
const DefaultLogBufferSize = 1000

// LogEntry 日志条目
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// LogManager 环形缓冲区，只保留最近 capacity 条日志
type LogManager struct {
	mu       sync.RWMutex
	entries  []LogEntry
	next     int
	full     bool
	capacity int
}

// NewLogManager 创建日志管理器
func NewLogManager(capacity int) *LogManager {
	if capacity <= 0 {
		capacity = DefaultLogBufferSize
	}
	return &LogManager{
		entries:  make([]LogEntry, capacity),
		capacity: capacity,
	}
}

// AddLog 添加日志，缓冲区满时覆盖最旧的一条
func (lm *LogManager) AddLog(entry *logrus.Entry) {
	var fields map[string]interface{}
	if len(entry.Data) > 0 {
		fields = make(map[string]interface{}, len(entry.Data))
		for k, v := range entry.Data {
			if err, ok := v.(error); ok {
				v = err.Error()
			}
			fields[k] = v
		}
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.entries[lm.next] = LogEntry{
		Timestamp: entry.Time,
		Level:     entry.Level.String(),
		Message:   entry.Message,
		Fields:    fields,
	}
	lm.next = (lm.next + 1) % lm.capacity
	if lm.next == 0 {
		lm.full = true
	}
}

// ordered 按时间从新到旧返回，调用方持有读锁
func (lm *LogManager) ordered(level string) []LogEntry {
	size := lm.next
	if lm.full {
		size = lm.capacity
	}

	out := make([]LogEntry, 0, size)
	for i := 1; i <= size; i++ {
		idx := (lm.next - i + lm.capacity) % lm.capacity
		e := lm.entries[idx]
		if level != "" && e.Level != level {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Len 当前缓存的条数
func (lm *LogManager) Len() int {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	if lm.full {
		return lm.capacity
	}
	return lm.next
}

// GetLogsWithPagination 获取分页日志，最新的在前
func (lm *LogManager) GetLogsWithPagination(level string, page, pageSize int) ([]LogEntry, int) {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	all := lm.ordered(level)
	total := len(all)

	start := (page - 1) * pageSize
	if start >= total {
		return []LogEntry{}, total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return all[start:end], total
}

// ClearLogs 清空日志
func (lm *LogManager) ClearLogs() {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.entries = make([]LogEntry, lm.capacity)
	lm.next = 0
	lm.full = false
}

// LogHook 把日志同时写入 LogManager
type LogHook struct {
	manager *LogManager
	levels  []logrus.Level
}

// NewLogHook 创建日志钩子，只收集 minLevel 及更严重的日志
func NewLogHook(manager *LogManager, minLevel logrus.Level) *LogHook {
	levels := make([]logrus.Level, 0, len(logrus.AllLevels))
	for _, l := range logrus.AllLevels {
		if l <= minLevel {
			levels = append(levels, l)
		}
	}
	return &LogHook{manager: manager, levels: levels}
}

// Fire 实现 logrus.Hook 接口
func (h *LogHook) Fire(entry *logrus.Entry) error {
	h.manager.AddLog(entry)
	return nil
}

// Levels 实现 logrus.Hook 接口
func (h *LogHook) Levels() []logrus.Level {
	return h.levels
}
