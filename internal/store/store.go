package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cheeznad/internal/config"
	"cheeznad/pkg/models"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// ErrNotFound 回合记录不存在
var ErrNotFound = errors.New("回合记录不存在")

// RoundStore 回合持久化边界
type RoundStore interface {
	// CreateRound 写入回合和每个区域的统计行，成功后回填 round.ID 与各行的 RoundID
	CreateRound(ctx context.Context, round *models.PersistedRound) error
	// UpdateRoundResult 写入结束时间、胜者与分类交易总数
	UpdateRoundResult(ctx context.Context, roundID string, endedAt time.Time, winner models.Zone, totalClassified int) error
	// UpsertZoneStat 按 (round_id, zone) 写入统计行
	UpsertZoneStat(ctx context.Context, stat *models.PersistedZoneStat) error
	// QueryRecentRounds 按回合号降序返回最近的回合及其统计行
	QueryRecentRounds(ctx context.Context, limit int, completedOnly bool) ([]*models.PersistedRound, error)
	// NextRoundNumber 最大回合号加一，没有记录时为 1
	NextRoundNumber(ctx context.Context) (int64, error)
	// PastWinners 最近决出胜者的回合
	PastWinners(ctx context.Context, limit int) ([]*models.PastWinner, error)
	Close() error
}

// Open 按配置打开存储，外层包上重试
func Open(ctx context.Context, cfg *config.StoreConfig, logger *logrus.Logger) (RoundStore, error) {
	var (
		inner RoundStore
		err   error
	)

	switch cfg.Driver {
	case "bolt", "":
		inner, err = NewBoltStore(cfg.Path, logger)
	case "postgres":
		inner, err = NewPostgresStore(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("不支持的存储驱动: %s", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	return NewRetryingStore(inner, nil, logger), nil
}

// SharedDB 存储是 postgres 时返回其连接，供 engine_config 复用
func SharedDB(st RoundStore) (*sqlx.DB, bool) {
	if r, ok := st.(*RetryingStore); ok {
		st = r.Unwrap()
	}
	pg, ok := st.(*PostgresStore)
	if !ok {
		return nil, false
	}
	return pg.DB(), true
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 10
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
