package events

import (
	"sync"

	"cheeznad/internal/metrics"
	"cheeznad/pkg/models"

	"github.com/sirupsen/logrus"
)

// DefaultBuffer 订阅者默认缓冲区大小
const DefaultBuffer = 256

// Publisher 引擎只依赖发布端
type Publisher interface {
	Publish(event *models.Event)
}

// Subscription 一个订阅者，从 C 读取事件
type Subscription struct {
	name    string
	ch      chan *models.Event
	bus     *Bus
	dropped uint64
	once    sync.Once
}

// C 事件通道，订阅取消或总线关闭后被关闭
func (s *Subscription) C() <-chan *models.Event {
	return s.ch
}

// Name 订阅者名称
func (s *Subscription) Name() string {
	return s.name
}

// Dropped 因缓冲区满被丢弃的事件数
func (s *Subscription) Dropped() uint64 {
	s.bus.mu.RLock()
	defer s.bus.mu.RUnlock()
	return s.dropped
}

// Unsubscribe 取消订阅，可重复调用
func (s *Subscription) Unsubscribe() {
	s.bus.remove(s)
}

// Bus 进程内事件总线，发布不阻塞，缓冲区满的订阅者丢弃事件
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
	logger *logrus.Entry
}

// NewBus 创建事件总线
func NewBus(logger *logrus.Logger) *Bus {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Bus{
		subs:   make(map[*Subscription]struct{}),
		logger: logger.WithField("component", "events"),
	}
}

// Subscribe 注册订阅者
func (b *Bus) Subscribe(name string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	sub := &Subscription{
		name: name,
		ch:   make(chan *models.Event, buffer),
		bus:  b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	b.logger.Debugf("订阅者 %s 已注册，缓冲区 %d", name, buffer)
	return sub
}

// Publish 投递给所有订阅者，不等待慢消费者
func (b *Bus) Publish(event *models.Event) {
	if event == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	metrics.EventsPublished.WithLabelValues(string(event.Type)).Inc()
	for sub := range b.subs {
		select {
		case sub.ch <- event:
		default:
			sub.dropped++
			metrics.EventsDropped.WithLabelValues(sub.name).Inc()
			if sub.dropped == 1 || sub.dropped%100 == 0 {
				b.logger.Warnf("订阅者 %s 缓冲区已满，已丢弃 %d 条事件", sub.name, sub.dropped)
			}
		}
	}
}

// Subscribers 当前订阅者数量
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	sub.once.Do(func() { close(sub.ch) })
}

// Close 关闭所有订阅通道，之后的发布被忽略
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		sub.once.Do(func() { close(sub.ch) })
	}
	b.subs = make(map[*Subscription]struct{})
	b.logger.Debug("事件总线已关闭")
}
