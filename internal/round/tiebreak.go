package round

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"cheeznad/internal/config"
	"cheeznad/pkg/models"
)

const (
	TieBreakLowestIndex = "lowest_index"
	TieBreakRandom      = "random"
	TieBreakSeeded      = "seeded"
)

// TieBreaker 加权得分完全相同时，决定挑战者是否取代当前领先者。
// 区域按固定顺序遍历，leader 总是排在 challenger 之前。
type TieBreaker interface {
	PreferChallenger(leader, challenger models.Zone) bool
}

// LowestIndex 顺序靠前的区域保持领先
type LowestIndex struct{}

func (LowestIndex) PreferChallenger(leader, challenger models.Zone) bool {
	return false
}

// CoinFlip 每次平局抛一次硬币
type CoinFlip struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewCoinFlip 以给定种子创建
func NewCoinFlip(seed int64) *CoinFlip {
	return &CoinFlip{rng: rand.New(rand.NewSource(seed))}
}

func (c *CoinFlip) PreferChallenger(leader, challenger models.Zone) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rng.Float64() < 0.5
}

// NewTieBreaker 按配置选择平局规则
func NewTieBreaker(cfg *config.RoundConfig) (TieBreaker, error) {
	if cfg == nil {
		return LowestIndex{}, nil
	}
	switch cfg.TieBreak {
	case "", TieBreakLowestIndex:
		return LowestIndex{}, nil
	case TieBreakRandom:
		return NewCoinFlip(time.Now().UnixNano()), nil
	case TieBreakSeeded:
		return NewCoinFlip(cfg.TieBreakSeed), nil
	default:
		return nil, fmt.Errorf("未知的平局规则: %s", cfg.TieBreak)
	}
}
