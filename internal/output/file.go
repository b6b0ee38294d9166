package output

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"cheeznad/pkg/models"

	"github.com/sirupsen/logrus"
)

// FileSink 每种事件一个 JSONL 文件，每条写入后刷盘
type FileSink struct {
	dir       string
	timestamp string
	logger    *logrus.Logger

	mu     sync.Mutex
	files  map[models.EventType]*os.File
	closed bool
}

// NewFileSink 创建文件输出，文件在首次写入该类事件时创建
func NewFileSink(dir string, logger *logrus.Logger) (*FileSink, error) {
	if dir == "" {
		dir = "./outputs"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}
	return &FileSink{
		dir:       dir,
		timestamp: time.Now().Format("20060102_150405"),
		logger:    logger,
		files:     make(map[models.EventType]*os.File),
	}, nil
}

func (o *FileSink) Name() string { return "file" }

// fileFor 调用方持有 mu
func (o *FileSink) fileFor(typ models.EventType) (*os.File, error) {
	if f, ok := o.files[typ]; ok {
		return f, nil
	}
	path := filepath.Join(o.dir, fmt.Sprintf("%s_%s.json", typ, o.timestamp))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("创建文件 %s 失败: %w", path, err)
	}
	o.files[typ] = f
	o.logger.Debugf("已创建输出文件: %s", path)
	return f, nil
}

// Write 追加一行 JSON
func (o *FileSink) Write(ev *models.Event) error {
	if ev == nil {
		return nil
	}
	data, err := ev.Marshal()
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}
	data = append(data, '\n')

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return fmt.Errorf("文件输出已关闭")
	}

	f, err := o.fileFor(ev.Type)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("写入 %s 文件失败: %w", ev.Type, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("刷新 %s 文件失败: %w", ev.Type, err)
	}
	return nil
}

// Close 关闭所有文件
func (o *FileSink) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true

	var errs []error
	for typ, f := range o.files {
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭 %s 文件失败: %w", typ, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("关闭输出文件时发生错误: %v", errs)
	}
	return nil
}
