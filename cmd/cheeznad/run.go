package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"cheeznad/internal/api"
	"cheeznad/internal/chain"
	"cheeznad/internal/classifier"
	"cheeznad/internal/config"
	engineerrors "cheeznad/internal/errors"
	"cheeznad/internal/events"
	"cheeznad/internal/output"
	"cheeznad/internal/registry"
	"cheeznad/internal/round"
	"cheeznad/internal/settlement"
	"cheeznad/internal/shutdown"
	"cheeznad/internal/store"
	"cheeznad/pkg/models"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 30 * time.Second
	blockBuffer     = 16
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "启动回合引擎",
		RunE:  runEngine,
	}
}

func runEngine(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	gs := shutdown.NewGracefulShutdown(shutdownTimeout, logger)
	ctx := gs.Context()
	errHandler := engineerrors.NewErrorHandler(logger)

	// 启动失败时按停机顺序释放已创建的资源
	running := false
	defer func() {
		if !running {
			gs.Close()
		}
	}()

	// 注册表加载失败直接退出
	reg, err := registry.NewLoader(cfg.Registry, cfg.Chain.AddressPrefix, logger).Load(ctx)
	if err != nil {
		return err
	}

	st, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("打开存储失败: %w", err)
	}
	gs.RegisterShutdownFunc("关闭存储", func(ctx context.Context) error {
		return st.Close()
	}, shutdown.OrderCloseStore)

	bus := events.NewBus(logger)
	if err := startOutput(ctx, gs, cfg.Output, bus, logger); err != nil {
		return err
	}

	// 结算可选，关闭时回合结束后直接开始下一回合
	var (
		settler settlement.Settler
		timers  api.TimerReader
		driver  *settlement.Driver
	)
	if cfg.Settlement.Enabled {
		contract, err := settlement.DialEVMContract(ctx, cfg.Settlement, logger)
		if err != nil {
			return fmt.Errorf("连接结算合约失败: %w", err)
		}
		driver = settlement.NewDriver(contract, cfg.Settlement, logger)
		settler = driver
		timers = contract
		gs.RegisterShutdownFunc("关闭合约连接", func(ctx context.Context) error {
			contract.Close()
			return nil
		}, shutdown.OrderCloseStore)
	} else {
		logger.Warn("链上结算未启用")
	}

	engine, err := round.NewEngine(cfg.Round, st, settler, bus, logger)
	if err != nil {
		return err
	}
	gs.RegisterShutdownFunc("停止回合引擎", func(ctx context.Context) error {
		engine.Stop()
		if driver != nil {
			driver.Stop()
		}
		return nil
	}, shutdown.OrderStopEngine)

	pool, err := chain.DialPool(ctx, cfg.Chain.Nodes, logger)
	if err != nil {
		return fmt.Errorf("连接区块链节点失败: %w", err)
	}
	source := chain.NewSource(pool, cfg.Chain, logger)
	tally := classifier.NewTally()
	pipeline := round.NewPipeline(reg, engine, bus, tally, cfg.Round.PublishTransactions, logger)

	if cfg.API.Enabled {
		settings, closeSettings := newConfigManager(cfg, st, logger)
		server := api.NewServer(cfg.API, api.Deps{
			Bus:      bus,
			Rounds:   engine,
			Store:    st,
			Stats:    tally,
			Errors:   errHandler,
			Nodes:    pool,
			Timers:   timers,
			Settings: settings,
		}, logger)

		go func() {
			if err := server.Start(ctx); err != nil {
				wrapped := engineerrors.WrapError(err, engineerrors.ErrorTypeNetwork, engineerrors.SeverityHigh, "API_LISTEN", "API 服务启动失败")
				errHandler.Handle(wrapped, "api")
				gs.Fail(wrapped)
			}
		}()
		gs.RegisterShutdownFunc("停止API服务", func(ctx context.Context) error {
			closeSettings()
			return server.Stop(ctx)
		}, shutdown.OrderStopAPI)
	}

	gs.Start()

	if err := engine.Start(ctx); err != nil {
		return err
	}

	// 区块来源与分类流水线，任一返回错误都会触发停机
	srcCtx, stopSource := context.WithCancel(ctx)
	blocks := make(chan *models.Block, blockBuffer)
	g, gctx := errgroup.WithContext(srcCtx)
	g.Go(func() error {
		defer close(blocks)
		return source.Run(gctx, blocks)
	})
	g.Go(func() error {
		return pipeline.Run(gctx, blocks)
	})

	sourceDone := make(chan struct{})
	go func() {
		err := g.Wait()
		close(sourceDone)
		if err != nil && !errors.Is(err, context.Canceled) {
			errHandler.Handle(err, "chain")
			gs.Fail(err)
		}
	}()
	gs.RegisterShutdownFunc("停止区块来源", func(ctx context.Context) error {
		stopSource()
		select {
		case <-sourceDone:
		case <-ctx.Done():
			return ctx.Err()
		}
		pool.Close()
		return nil
	}, shutdown.OrderStopBlockSource)

	running = true
	logger.Infof("回合引擎已启动: 注册表 %d 个地址，回合 %v，下注 %v", reg.Size(), cfg.Round.RoundDuration, cfg.Round.BettingDuration)

	gs.Wait()
	pipeline.LogSession()

	if stats := errHandler.GetStats(); stats.TotalErrors > 0 {
		logger.Warnf("运行期间记录了 %d 个错误", stats.TotalErrors)
	}
	if err := gs.StageErrors(); err != nil {
		logger.Warnf("部分停机阶段失败: %v", err)
	}
	return gs.Err()
}

// startOutput 把总线事件转发到配置的输出器，停机时先关闭总线再等待转发结束
func startOutput(ctx context.Context, gs *shutdown.GracefulShutdown, cfg *config.OutputConfig, bus *events.Bus, logger *logrus.Logger) error {
	sink, err := output.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("创建输出器失败: %w", err)
	}

	if sink == nil {
		gs.RegisterShutdownFunc("关闭事件总线", func(ctx context.Context) error {
			bus.Close()
			return nil
		}, shutdown.OrderFlushOutputs)
		return nil
	}

	sub := bus.Subscribe(sink.Name(), events.DefaultBuffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		output.Forward(context.Background(), sub, sink, logger)
	}()

	gs.RegisterShutdownFunc("刷新事件输出", func(ctx context.Context) error {
		bus.Close()
		select {
		case <-done:
		case <-ctx.Done():
			logger.Warn("等待事件输出超时")
		}
		return sink.Close()
	}, shutdown.OrderFlushOutputs)

	logger.Infof("事件输出: %s", sink.Name())
	return nil
}

// newConfigManager 存储为 postgres 时复用其连接管理 engine_config，
// 否则在设置了 CHEEZNAD_DB_DSN 时单独连接
func newConfigManager(cfg *config.Config, st store.RoundStore, logger *logrus.Logger) (*api.ConfigManager, func()) {
	if db, ok := store.SharedDB(st); ok {
		return api.NewConfigManager(cfg, config.NewDatabaseConfigFromDB(db, logger), logger), func() {}
	}

	dsn := os.Getenv(config.EnvPrefix + "_DB_DSN")
	if dsn == "" {
		return api.NewConfigManager(cfg, nil, logger), func() {}
	}

	dbConfig, err := config.NewDatabaseConfig(dsn, logger)
	if err != nil {
		logger.Warnf("连接配置数据库失败，覆盖项接口不可用: %v", err)
		return api.NewConfigManager(cfg, nil, logger), func() {}
	}
	return api.NewConfigManager(cfg, dbConfig, logger), func() {
		if err := dbConfig.Close(); err != nil {
			logger.Warnf("关闭配置数据库失败: %v", err)
		}
	}
}
