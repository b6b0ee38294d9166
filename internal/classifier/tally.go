package classifier

import (
	"sync"
	"time"

	"cheeznad/pkg/models"
)

// SessionStats 进程启动以来的分类统计
type SessionStats struct {
	StartedAt       time.Time         `json:"started_at"`
	Blocks          int64             `json:"blocks"`
	TotalTxns       int64             `json:"total_txns"`
	NativeTransfers int64             `json:"native_transfers"`
	Other           int64             `json:"other"`
	Classified      int64             `json:"classified"`
	ByZone          models.ZoneCounts `json:"by_zone"`
	LastBlock       uint64            `json:"last_block"`
	Rate            float64           `json:"classification_rate"` // 百分比
}

// Tally 会话累计，可并发调用
type Tally struct {
	mu    sync.Mutex
	stats SessionStats
}

// NewTally 创建会话累计
func NewTally() *Tally {
	return &Tally{stats: SessionStats{StartedAt: time.Now(), ByZone: models.NewZoneCounts()}}
}

// Record 累加一个区块的统计
func (t *Tally) Record(stats *models.BlockStats) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats.Blocks++
	t.stats.TotalTxns += int64(stats.TotalTxns)
	t.stats.NativeTransfers += int64(stats.NativeTransfers)
	t.stats.Other += int64(stats.Other())
	t.stats.Classified += int64(stats.ClassifiedTxns)
	for z, n := range stats.ByZone {
		t.stats.ByZone[z] += n
	}
	if stats.BlockNumber > t.stats.LastBlock {
		t.stats.LastBlock = stats.BlockNumber
	}
}

// Snapshot 当前统计副本
func (t *Tally) Snapshot() SessionStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.stats
	s.ByZone = models.NewZoneCounts()
	for z, n := range t.stats.ByZone {
		s.ByZone[z] = n
	}
	if s.TotalTxns > 0 {
		s.Rate = float64(s.Classified) / float64(s.TotalTxns) * 100
	}
	return s
}
