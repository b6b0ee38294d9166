package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"cheeznad/internal/events"
	"cheeznad/internal/metrics"
	"cheeznad/pkg/models"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512

	// DefaultClientBuffer 每个客户端的发送缓冲
	DefaultClientBuffer = 256
	pastWinnersOnJoin   = 10
)

// client 一个 WebSocket 连接
type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub 把总线事件广播给所有 WebSocket 客户端，发送缓冲满的客户端会被断开
type Hub struct {
	sub      *events.Subscription
	rounds   RoundView
	store    RoundReader
	buffer   int
	upgrader websocket.Upgrader
	logger   *logrus.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub 创建广播中心并订阅事件总线
func NewHub(bus *events.Bus, rounds RoundView, store RoundReader, buffer int, logger *logrus.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultClientBuffer
	}
	return &Hub{
		sub:    bus.Subscribe("websocket", events.DefaultBuffer),
		rounds: rounds,
		store:  store,
		buffer: buffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// Run 转发总线事件，直到 ctx 取消或总线关闭
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-h.sub.C():
			if !ok {
				return
			}
			data, err := ev.Marshal()
			if err != nil {
				h.logger.Errorf("序列化推送事件失败: %v", err)
				continue
			}
			h.broadcast(data)
		}
	}
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("WebSocket 客户端发送缓冲已满，断开连接")
			delete(h.clients, c)
			c.close()
		}
	}
	metrics.WebSocketClients.Set(float64(len(h.clients)))
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	metrics.WebSocketClients.Set(float64(len(h.clients)))
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	metrics.WebSocketClients.Set(float64(len(h.clients)))
}

func (h *Hub) shutdown() {
	h.sub.Unsubscribe()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
	metrics.WebSocketClients.Set(0)
}

// greeting 新连接依次收到 connected、当前回合和历史胜者
func (h *Hub) greeting(ctx context.Context) []*models.Event {
	out := []*models.Event{models.NewConnectedEvent()}

	if h.rounds != nil {
		if ev, ok := h.rounds.CurrentRoundStart(); ok {
			out = append(out, ev)
		}
	}

	if h.store != nil {
		winners, err := h.store.PastWinners(ctx, pastWinnersOnJoin)
		if err != nil {
			h.logger.Warnf("读取历史胜者失败: %v", err)
		} else {
			out = append(out, models.NewPastWinnersEvent(winners))
		}
	}
	return out
}

// ServeWS 升级为 WebSocket 连接
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnf("WebSocket 升级失败: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, h.buffer+3)}
	for _, ev := range h.greeting(r.Context()) {
		data, err := ev.Marshal()
		if err != nil {
			continue
		}
		c.send <- data
	}

	if !h.register(c) {
		conn.Close()
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

// readPump 只处理 pong 和关闭，客户端发来的消息忽略
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debugf("WebSocket 连接异常关闭: %v", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
