package multiplier

import (
	"context"
	"fmt"
	"math"

	"cheeznad/internal/config"
	"cheeznad/pkg/models"
)

const (
	DefaultLookback = 10
	DefaultMin      = 0.1
	DefaultMax      = 10.0
)

// HistorySource 提供最近完成的回合
type HistorySource interface {
	QueryRecentRounds(ctx context.Context, limit int, completedOnly bool) ([]*models.PersistedRound, error)
}

// Calculator 根据历史活跃度为下一回合计算每个区域的让分乘数：
// 历史上冷清的区域被放大，活跃的区域被压低，结果限制在 [Min, Max] 内并保留两位小数。
type Calculator struct {
	Lookback int
	Min      float64
	Max      float64
}

// NewCalculator 由回合配置创建
func NewCalculator(cfg *config.RoundConfig) *Calculator {
	c := &Calculator{Lookback: DefaultLookback, Min: DefaultMin, Max: DefaultMax}
	if cfg == nil {
		return c
	}
	if cfg.Lookback > 0 {
		c.Lookback = cfg.Lookback
	}
	if cfg.MinMultiplier > 0 {
		c.Min = cfg.MinMultiplier
	}
	if cfg.MaxMultiplier >= c.Min {
		c.Max = cfg.MaxMultiplier
	}
	return c
}

// Compute 计算乘数，history 按回合号降序，只取前 Lookback 个
func (c *Calculator) Compute(history []*models.PersistedRound) map[models.Zone]float64 {
	if len(history) > c.Lookback {
		history = history[:c.Lookback]
	}

	totals := make(map[models.Zone]int, len(models.AllZones))
	rows := make(map[models.Zone]int, len(models.AllZones))
	for _, round := range history {
		for _, stat := range round.ZoneStats {
			if !stat.Zone.Valid() {
				continue
			}
			totals[stat.Zone] += stat.TxCount
			rows[stat.Zone]++
		}
	}

	// 每个区域按自己的统计行数求平均，历史不足 Lookback 时也不会被稀释
	averages := make(map[models.Zone]float64, len(models.AllZones))
	var sum float64
	for _, z := range models.AllZones {
		n := rows[z]
		if n == 0 {
			n = 1
		}
		averages[z] = float64(totals[z]) / float64(n)
		sum += averages[z]
	}

	target := sum / float64(len(models.AllZones))
	if target == 0 {
		return models.NeutralMultipliers()
	}

	multipliers := make(map[models.Zone]float64, len(models.AllZones))
	for _, z := range models.AllZones {
		var m float64
		if averages[z] == 0 {
			m = c.Max
		} else {
			m = c.clamp(target / averages[z])
		}
		multipliers[z] = c.clamp(round2(m))
	}
	return multipliers
}

// FromStore 读取历史并计算；读取失败时返回中性乘数和错误，由调用方决定是否记录
func (c *Calculator) FromStore(ctx context.Context, src HistorySource) (map[models.Zone]float64, error) {
	history, err := src.QueryRecentRounds(ctx, c.Lookback, true)
	if err != nil {
		return models.NeutralMultipliers(), fmt.Errorf("查询历史回合失败: %w", err)
	}
	return c.Compute(history), nil
}

func (c *Calculator) clamp(v float64) float64 {
	return math.Min(c.Max, math.Max(c.Min, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
