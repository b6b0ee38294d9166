package output

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"cheeznad/pkg/models"

	"github.com/sirupsen/logrus"
)

const (
	asyncFileChannelSize = 1000
	asyncFileBatchSize   = 100
)

// AsyncFileSink 写入进入缓冲通道，由单个写入协程按批或按间隔刷盘。
// 通道满时 Write 立即返回错误。
type AsyncFileSink struct {
	dir           string
	timestamp     string
	logger        *logrus.Logger
	batchSize     int
	flushInterval time.Duration

	ch      chan *models.Event
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	files   map[models.EventType]*os.File
	writers map[models.EventType]*bufio.Writer
}

// NewAsyncFileSink 创建异步文件输出
func NewAsyncFileSink(dir string, logger *logrus.Logger) (*AsyncFileSink, error) {
	return newAsyncFileSink(dir, logger, asyncFileBatchSize, time.Second)
}

func newAsyncFileSink(dir string, logger *logrus.Logger, batchSize int, flushInterval time.Duration) (*AsyncFileSink, error) {
	if dir == "" {
		dir = "./outputs"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}

	o := &AsyncFileSink{
		dir:           dir,
		timestamp:     time.Now().Format("20060102_150405"),
		logger:        logger,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		ch:            make(chan *models.Event, asyncFileChannelSize),
		done:          make(chan struct{}),
		files:         make(map[models.EventType]*os.File),
		writers:       make(map[models.EventType]*bufio.Writer),
	}

	o.wg.Add(1)
	go o.writer()

	logger.Info("异步文件输出器已初始化")
	return o, nil
}

func (o *AsyncFileSink) Name() string { return "file_async" }

// Write 非阻塞入队
func (o *AsyncFileSink) Write(ev *models.Event) error {
	if ev == nil {
		return nil
	}
	select {
	case <-o.done:
		return fmt.Errorf("文件输出已关闭")
	default:
	}

	select {
	case o.ch <- ev:
		return nil
	default:
		return fmt.Errorf("文件输出通道已满")
	}
}

func (o *AsyncFileSink) writer() {
	defer o.wg.Done()

	ticker := time.NewTicker(o.flushInterval)
	defer ticker.Stop()
	pending := 0

	for {
		select {
		case ev := <-o.ch:
			o.append(ev)
			pending++
			if pending >= o.batchSize {
				o.flush()
				pending = 0
			}

		case <-ticker.C:
			if pending > 0 {
				o.flush()
				pending = 0
			}

		case <-o.done:
			// 写完通道里剩余的事件
			for {
				select {
				case ev := <-o.ch:
					o.append(ev)
				default:
					o.flush()
					return
				}
			}
		}
	}
}

func (o *AsyncFileSink) append(ev *models.Event) {
	data, err := ev.Marshal()
	if err != nil {
		o.logger.Errorf("序列化事件失败: %v", err)
		return
	}

	w, ok := o.writers[ev.Type]
	if !ok {
		path := filepath.Join(o.dir, fmt.Sprintf("%s_%s.json", ev.Type, o.timestamp))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			o.logger.Errorf("创建文件 %s 失败: %v", path, err)
			return
		}
		o.files[ev.Type] = f
		w = bufio.NewWriter(f)
		o.writers[ev.Type] = w
	}

	if _, err := w.Write(append(data, '\n')); err != nil {
		o.logger.Errorf("写入 %s 文件失败: %v", ev.Type, err)
	}
}

func (o *AsyncFileSink) flush() {
	for typ, w := range o.writers {
		if err := w.Flush(); err != nil {
			o.logger.Errorf("刷新 %s 文件失败: %v", typ, err)
			continue
		}
		if err := o.files[typ].Sync(); err != nil {
			o.logger.Errorf("同步 %s 文件失败: %v", typ, err)
		}
	}
}

// Close 停止写入协程，写完剩余事件后关闭文件
func (o *AsyncFileSink) Close() error {
	var errs []error
	o.once.Do(func() {
		close(o.done)
		o.wg.Wait()

		for typ, f := range o.files {
			if err := f.Close(); err != nil {
				errs = append(errs, fmt.Errorf("关闭 %s 文件失败: %w", typ, err))
			}
		}
	})
	if len(errs) > 0 {
		return fmt.Errorf("关闭输出文件时发生错误: %v", errs)
	}
	return nil
}
