package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cheeznad/pkg/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	// DefaultBoltPath 默认数据库路径
	DefaultBoltPath = "./data/rounds.db"

	// 存储桶名称
	RoundsBucket  = "rounds"    // 回合号(大端) -> 回合 JSON
	RoundIDBucket = "round_ids" // 回合 ID -> 回合号
)

// BoltStore 本地单文件存储，回合与统计行一起序列化在同一个值中
type BoltStore struct {
	db     *bolt.DB
	logger *logrus.Logger
	path   string
}

// NewBoltStore 打开或创建数据库文件
func NewBoltStore(path string, logger *logrus.Logger) (*BoltStore, error) {
	if path == "" {
		path = DefaultBoltPath
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("打开回合数据库失败: %w", err)
	}

	s := &BoltStore{db: db, logger: logger, path: path}
	if err := s.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}

	logger.Infof("回合存储已初始化，数据库路径: %s", path)
	return s, nil
}

func (s *BoltStore) initDB() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{RoundsBucket, RoundIDBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("创建存储桶 %s 失败: %w", name, err)
			}
		}
		return nil
	})
}

func roundKey(number int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(number))
	return key
}

// CreateRound 写入新回合，回合号重复时报错
func (s *BoltStore) CreateRound(ctx context.Context, round *models.PersistedRound) error {
	if round.RoundNumber <= 0 {
		return fmt.Errorf("无效的回合号: %d", round.RoundNumber)
	}

	id := uuid.New().String()
	return s.db.Update(func(tx *bolt.Tx) error {
		rounds := tx.Bucket([]byte(RoundsBucket))
		key := roundKey(round.RoundNumber)
		if rounds.Get(key) != nil {
			return fmt.Errorf("回合 #%d 已存在", round.RoundNumber)
		}

		stored := *round
		stored.ID = id
		stored.ZoneStats = make([]*models.PersistedZoneStat, 0, len(round.ZoneStats))
		for _, stat := range round.ZoneStats {
			row := *stat
			row.RoundID = id
			stored.ZoneStats = append(stored.ZoneStats, &row)
		}

		data, err := json.Marshal(&stored)
		if err != nil {
			return fmt.Errorf("序列化回合失败: %w", err)
		}
		if err := rounds.Put(key, data); err != nil {
			return fmt.Errorf("保存回合失败: %w", err)
		}
		if err := tx.Bucket([]byte(RoundIDBucket)).Put([]byte(id), key); err != nil {
			return fmt.Errorf("保存回合索引失败: %w", err)
		}

		round.ID = id
		for _, stat := range round.ZoneStats {
			stat.RoundID = id
		}
		return nil
	})
}

// UpdateRoundResult 写入回合结果
func (s *BoltStore) UpdateRoundResult(ctx context.Context, roundID string, endedAt time.Time, winner models.Zone, totalClassified int) error {
	return s.modify(roundID, func(r *models.PersistedRound) {
		ended := endedAt
		w := winner
		r.EndedAt = &ended
		r.WinnerZone = &w
		r.TotalClassifiedTxns = totalClassified
	})
}

// UpsertZoneStat 替换或追加统计行
func (s *BoltStore) UpsertZoneStat(ctx context.Context, stat *models.PersistedZoneStat) error {
	return s.modify(stat.RoundID, func(r *models.PersistedRound) {
		row := *stat
		for i, existing := range r.ZoneStats {
			if existing.Zone == stat.Zone {
				r.ZoneStats[i] = &row
				return
			}
		}
		r.ZoneStats = append(r.ZoneStats, &row)
	})
}

// modify 在一个写事务内读取、修改并写回回合
func (s *BoltStore) modify(roundID string, fn func(r *models.PersistedRound)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := tx.Bucket([]byte(RoundIDBucket)).Get([]byte(roundID))
		if key == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, roundID)
		}

		rounds := tx.Bucket([]byte(RoundsBucket))
		var r models.PersistedRound
		if err := json.Unmarshal(rounds.Get(key), &r); err != nil {
			return fmt.Errorf("解析回合失败: %w", err)
		}

		fn(&r)

		data, err := json.Marshal(&r)
		if err != nil {
			return fmt.Errorf("序列化回合失败: %w", err)
		}
		return rounds.Put(key, data)
	})
}

// QueryRecentRounds 从最大回合号向前遍历
func (s *BoltStore) QueryRecentRounds(ctx context.Context, limit int, completedOnly bool) ([]*models.PersistedRound, error) {
	limit = clampLimit(limit)
	out := make([]*models.PersistedRound, 0, limit)

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(RoundsBucket)).Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var r models.PersistedRound
			if err := json.Unmarshal(v, &r); err != nil {
				s.logger.Warnf("跳过无法解析的回合记录 %x: %v", k, err)
				continue
			}
			if completedOnly && !r.Resolved() {
				continue
			}
			out = append(out, &r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("查询最近回合失败: %w", err)
	}
	return out, nil
}

// NextRoundNumber 最后一个键加一
func (s *BoltStore) NextRoundNumber(ctx context.Context) (int64, error) {
	var next int64 = 1
	err := s.db.View(func(tx *bolt.Tx) error {
		k, _ := tx.Bucket([]byte(RoundsBucket)).Cursor().Last()
		if k != nil {
			next = int64(binary.BigEndian.Uint64(k)) + 1
		}
		return nil
	})
	return next, err
}

// PastWinners 最近有胜者的回合
func (s *BoltStore) PastWinners(ctx context.Context, limit int) ([]*models.PastWinner, error) {
	rounds, err := s.QueryRecentRounds(ctx, limit, true)
	if err != nil {
		return nil, err
	}

	winners := make([]*models.PastWinner, 0, len(rounds))
	for _, r := range rounds {
		w := &models.PastWinner{RoundNumber: r.RoundNumber, WinnerZone: *r.WinnerZone}
		if r.EndedAt != nil {
			w.EndedAt = *r.EndedAt
		}
		winners = append(winners, w)
	}
	return winners, nil
}

// Close 关闭数据库
func (s *BoltStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
