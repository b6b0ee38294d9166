package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"cheeznad/internal/config"
	"cheeznad/pkg/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore 共享数据库存储，回合与区域统计分表保存
type PostgresStore struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPostgresStore 连接数据库并执行迁移
func NewPostgresStore(ctx context.Context, cfg *config.StoreConfig, logger *logrus.Logger) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres 存储缺少 dsn")
	}

	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(10)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(2)
	}
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	if err := Migrate(db.DB); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("回合存储已连接到 postgres")
	return &PostgresStore{db: db, logger: logger}, nil
}

// Migrate 执行内嵌的数据库迁移
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("设置迁移方言失败: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("执行数据库迁移失败: %w", err)
	}
	return nil
}

// DB 底层连接，供配置管理复用
func (s *PostgresStore) DB() *sqlx.DB {
	return s.db
}

const insertZoneStat = `
	INSERT INTO round_zone_stats (round_id, zone_id, tx_count, volume, multiplier, weighted_score)
	VALUES (:round_id, :zone_id, :tx_count, :volume, :multiplier, :weighted_score)
	ON CONFLICT (round_id, zone_id)
	DO UPDATE SET tx_count = EXCLUDED.tx_count,
	              volume = EXCLUDED.volume,
	              multiplier = EXCLUDED.multiplier,
	              weighted_score = EXCLUDED.weighted_score`

// CreateRound 在一个事务内写入回合与统计行
func (s *PostgresStore) CreateRound(ctx context.Context, round *models.PersistedRound) error {
	id := uuid.New().String()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO rounds (id, round_number, started_at, total_classified_txns) VALUES ($1, $2, $3, 0)`,
		id, round.RoundNumber, round.StartedAt)
	if err != nil {
		return fmt.Errorf("插入回合 #%d 失败: %w", round.RoundNumber, err)
	}

	for _, stat := range round.ZoneStats {
		row := *stat
		row.RoundID = id
		if _, err := tx.NamedExecContext(ctx, insertZoneStat, &row); err != nil {
			return fmt.Errorf("插入区域统计 %s 失败: %w", stat.Zone, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}

	round.ID = id
	for _, stat := range round.ZoneStats {
		stat.RoundID = id
	}
	return nil
}

// UpdateRoundResult 写入回合结果
func (s *PostgresStore) UpdateRoundResult(ctx context.Context, roundID string, endedAt time.Time, winner models.Zone, totalClassified int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rounds SET ended_at = $2, winner_zone = $3, total_classified_txns = $4 WHERE id = $1`,
		roundID, endedAt, string(winner), totalClassified)
	if err != nil {
		return fmt.Errorf("更新回合结果失败: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, roundID)
	}
	return nil
}

// UpsertZoneStat 写入或覆盖统计行
func (s *PostgresStore) UpsertZoneStat(ctx context.Context, stat *models.PersistedZoneStat) error {
	if _, err := s.db.NamedExecContext(ctx, insertZoneStat, stat); err != nil {
		return fmt.Errorf("写入区域统计失败: %w", err)
	}
	return nil
}

// QueryRecentRounds 先取回合再批量取统计行
func (s *PostgresStore) QueryRecentRounds(ctx context.Context, limit int, completedOnly bool) ([]*models.PersistedRound, error) {
	query := `SELECT id, round_number, started_at, ended_at, winner_zone, total_classified_txns FROM rounds`
	if completedOnly {
		query += ` WHERE winner_zone IS NOT NULL`
	}
	query += ` ORDER BY round_number DESC LIMIT $1`

	var rounds []*models.PersistedRound
	if err := s.db.SelectContext(ctx, &rounds, query, clampLimit(limit)); err != nil {
		return nil, fmt.Errorf("查询最近回合失败: %w", err)
	}
	if len(rounds) == 0 {
		return rounds, nil
	}

	ids := make([]string, 0, len(rounds))
	byID := make(map[string]*models.PersistedRound, len(rounds))
	for _, r := range rounds {
		ids = append(ids, r.ID)
		byID[r.ID] = r
		r.ZoneStats = []*models.PersistedZoneStat{}
	}

	var stats []*models.PersistedZoneStat
	err := s.db.SelectContext(ctx, &stats,
		`SELECT round_id, zone_id, tx_count, volume, multiplier, weighted_score
		 FROM round_zone_stats WHERE round_id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("查询区域统计失败: %w", err)
	}

	for _, stat := range stats {
		if r, ok := byID[stat.RoundID]; ok {
			r.ZoneStats = append(r.ZoneStats, stat)
		}
	}
	return rounds, nil
}

// NextRoundNumber 最大回合号加一
func (s *PostgresStore) NextRoundNumber(ctx context.Context) (int64, error) {
	var maxNumber sql.NullInt64
	if err := s.db.GetContext(ctx, &maxNumber, `SELECT MAX(round_number) FROM rounds`); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 1, nil
		}
		return 0, fmt.Errorf("查询最大回合号失败: %w", err)
	}
	if !maxNumber.Valid {
		return 1, nil
	}
	return maxNumber.Int64 + 1, nil
}

// PastWinners 最近有胜者的回合
func (s *PostgresStore) PastWinners(ctx context.Context, limit int) ([]*models.PastWinner, error) {
	var winners []*models.PastWinner
	err := s.db.SelectContext(ctx, &winners,
		`SELECT round_number, winner_zone, ended_at FROM rounds
		 WHERE winner_zone IS NOT NULL AND ended_at IS NOT NULL
		 ORDER BY round_number DESC LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("查询历史胜者失败: %w", err)
	}
	if winners == nil {
		winners = []*models.PastWinner{}
	}
	return winners, nil
}

// Close 关闭连接池
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
