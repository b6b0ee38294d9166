package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"cheeznad/internal/chain"
	"cheeznad/internal/classifier"
	"cheeznad/internal/config"
	engineerrors "cheeznad/internal/errors"
	"cheeznad/internal/events"
	"cheeznad/internal/round"
	"cheeznad/internal/settlement"
	"cheeznad/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const (
	defaultListenAddr = ":8080"
	defaultLimit      = 10
	maxLimit          = 100
)

// RoundView 回合引擎的只读视图
type RoundView interface {
	Status() *round.Status
	CurrentRoundStart() (*models.Event, bool)
}

// RoundReader 回合存储的只读视图
type RoundReader interface {
	QueryRecentRounds(ctx context.Context, limit int, completedOnly bool) ([]*models.PersistedRound, error)
	PastWinners(ctx context.Context, limit int) ([]*models.PastWinner, error)
}

// StatsSource 会话统计
type StatsSource interface {
	Snapshot() classifier.SessionStats
}

// NodeLister 节点状态
type NodeLister interface {
	Status() []chain.NodeStatus
}

// TimerReader 合约端计时器
type TimerReader interface {
	ReadTimers(ctx context.Context) (*settlement.Timers, error)
}

// Deps 服务依赖，未提供的依赖对应接口返回 503
type Deps struct {
	Bus      *events.Bus
	Rounds   RoundView
	Store    RoundReader
	Stats    StatsSource
	Errors   *engineerrors.ErrorHandler
	Nodes    NodeLister
	Timers   TimerReader
	Settings *ConfigManager
}

// Server API服务器
type Server struct {
	cfg        *config.APIConfig
	deps       Deps
	hub        *Hub
	logger     *logrus.Logger
	logManager *LogManager
	router     *gin.Engine
	server     *http.Server
	startedAt  time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewServer 创建API服务器，并把日志钩子挂到 logger 上
func NewServer(cfg *config.APIConfig, deps Deps, logger *logrus.Logger) *Server {
	if cfg == nil {
		cfg = &config.APIConfig{}
	}

	logManager := NewLogManager(cfg.LogBufferSize)
	logger.AddHook(NewLogHook(logManager, logrus.InfoLevel))

	s := &Server{
		cfg:        cfg,
		deps:       deps,
		logger:     logger,
		logManager: logManager,
		startedAt:  time.Now(),
	}
	if deps.Bus != nil {
		s.hub = NewHub(deps.Bus, deps.Rounds, deps.Store, cfg.WSBuffer, logger)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(corsMiddleware())
	router.Use(gin.Recovery())
	s.setupRoutes(router)
	s.router = router

	return s
}

// Handler 路由，测试时直接挂到 httptest 上
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub WebSocket 广播中心，未配置事件总线时为 nil
func (s *Server) Hub() *Hub {
	return s.hub
}

// LogManager 内存日志缓冲
func (s *Server) LogManager() *LogManager {
	return s.logManager
}

// Start 启动API服务器，阻塞直到 Stop
func (s *Server) Start(ctx context.Context) error {
	addr := s.cfg.ListenAddr
	if addr == "" {
		addr = defaultListenAddr
	}

	hubCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	if s.hub != nil {
		go s.hub.Run(hubCtx)
	}

	s.logger.Infof("API服务器启动在 %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		cancel()
		return err
	}
	return nil
}

// Stop 停止API服务器并断开所有 WebSocket 连接
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// setupRoutes 设置路由
func (s *Server) setupRoutes(router *gin.Engine) {
	router.GET("/health", s.healthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if s.hub != nil {
		router.GET("/ws", func(c *gin.Context) {
			s.hub.ServeWS(c.Writer, c.Request)
		})
	}

	api := router.Group("/api/v1")
	{
		// 回合
		api.GET("/round", s.getRound)
		api.GET("/rounds/recent", s.getRecentRounds)
		api.GET("/rounds/winners", s.getWinners)

		// 统计信息
		api.GET("/stats", s.getStats)

		// 日志管理
		api.GET("/logs", s.getLogs)
		api.DELETE("/logs", s.clearLogs)

		// 节点与合约
		api.GET("/nodes", s.getNodes)
		api.GET("/settlement/timers", s.getTimers)

		// 配置管理
		if s.deps.Settings != nil {
			api.GET("/config", s.deps.Settings.GetConfig)
			api.GET("/config/overrides", s.deps.Settings.GetOverrides)
			api.PUT("/config/overrides", s.deps.Settings.UpdateOverride)
		}
	}
}

func unavailable(c *gin.Context, what string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": what + "未启用"})
}

// parseLimit 读取 limit 参数，缺省 10，上限 100
func parseLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit 必须是正整数"})
		return 0, false
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, true
}

// healthCheck 健康检查
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"service":   "cheeznad",
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// getRound 当前回合状态
func (s *Server) getRound(c *gin.Context) {
	if s.deps.Rounds == nil {
		unavailable(c, "回合引擎")
		return
	}
	c.JSON(http.StatusOK, s.deps.Rounds.Status())
}

// getRecentRounds 最近的回合及各区域统计
func (s *Server) getRecentRounds(c *gin.Context) {
	if s.deps.Store == nil {
		unavailable(c, "回合存储")
		return
	}
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	completed := c.Query("completed") == "true"

	rounds, err := s.deps.Store.QueryRecentRounds(c.Request.Context(), limit, completed)
	if err != nil {
		s.logger.Errorf("查询最近回合失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询最近回合失败"})
		return
	}
	if rounds == nil {
		rounds = []*models.PersistedRound{}
	}
	c.JSON(http.StatusOK, gin.H{
		"rounds": rounds,
		"total":  len(rounds),
	})
}

// getWinners 历史胜者
func (s *Server) getWinners(c *gin.Context) {
	if s.deps.Store == nil {
		unavailable(c, "回合存储")
		return
	}
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	winners, err := s.deps.Store.PastWinners(c.Request.Context(), limit)
	if err != nil {
		s.logger.Errorf("查询历史胜者失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询历史胜者失败"})
		return
	}
	if winners == nil {
		winners = []*models.PastWinner{}
	}
	c.JSON(http.StatusOK, gin.H{
		"winners": winners,
		"total":   len(winners),
	})
}

// getStats 会话统计与错误统计
func (s *Server) getStats(c *gin.Context) {
	stats := gin.H{
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	}
	if s.deps.Stats != nil {
		stats["session"] = s.deps.Stats.Snapshot()
	}
	if s.deps.Errors != nil {
		es := s.deps.Errors.GetStats()
		stats["errors"] = gin.H{
			"total":           es.TotalErrors,
			"by_type":         es.ErrorsByType,
			"by_severity":     es.ErrorsBySeverity,
			"by_component":    es.ErrorsByComponent,
			"last_error":      es.LastError,
			"last_error_time": es.LastErrorTime,
			"recent_count":    len(es.RecentErrors),
			"rate_per_hour":   es.GetErrorRate(time.Hour),
		}
	}
	if s.hub != nil {
		stats["websocket_clients"] = s.hub.ClientCount()
	}
	c.JSON(http.StatusOK, stats)
}

// getLogs 获取日志
func (s *Server) getLogs(c *gin.Context) {
	level := c.Query("level")

	page := 1
	if p, err := strconv.Atoi(c.Query("page")); err == nil && p > 0 {
		page = p
	}
	pageSize := 20
	if ps, err := strconv.Atoi(c.Query("pageSize")); err == nil && ps > 0 {
		pageSize = ps
	}

	logs, total := s.logManager.GetLogsWithPagination(level, page, pageSize)
	c.JSON(http.StatusOK, gin.H{
		"logs":     logs,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
		"level":    level,
	})
}

// clearLogs 清空日志
func (s *Server) clearLogs(c *gin.Context) {
	s.logManager.ClearLogs()
	c.JSON(http.StatusOK, gin.H{"message": "日志已清空"})
}

// getNodes 获取节点状态
func (s *Server) getNodes(c *gin.Context) {
	if s.deps.Nodes == nil {
		unavailable(c, "区块来源")
		return
	}
	nodes := s.deps.Nodes.Status()
	available := 0
	for _, n := range nodes {
		if n.Available && !n.RateLimited {
			available++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"nodes":     nodes,
		"total":     len(nodes),
		"available": available,
	})
}

// getTimers 合约端剩余时间
func (s *Server) getTimers(c *gin.Context) {
	if s.deps.Timers == nil {
		unavailable(c, "结算")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	timers, err := s.deps.Timers.ReadTimers(ctx)
	if err != nil {
		s.logger.Warnf("读取合约计时器失败: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "读取合约计时器失败",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, timers)
}
