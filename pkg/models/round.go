package models

import (
	"math"
	"time"
)

// ZoneScore 回合结束时某个区域的得分快照
type ZoneScore struct {
	TxCount       int     `json:"txCount"`
	Multiplier    float64 `json:"multiplier"`
	WeightedScore float64 `json:"weightedScore"`
}

// WeightedScore 加权得分，保留两位小数
func WeightedScore(txCount int, multiplier float64) float64 {
	return math.Round(float64(txCount)*multiplier*100) / 100
}

// PersistedRound 持久化的回合记录
type PersistedRound struct {
	ID                  string               `json:"id" db:"id"`
	RoundNumber         int64                `json:"round_number" db:"round_number"`
	StartedAt           time.Time            `json:"started_at" db:"started_at"`
	EndedAt             *time.Time           `json:"ended_at,omitempty" db:"ended_at"`
	WinnerZone          *Zone                `json:"winner_zone,omitempty" db:"winner_zone"`
	TotalClassifiedTxns int                  `json:"total_classified_txns" db:"total_classified_txns"`
	ZoneStats           []*PersistedZoneStat `json:"zone_stats" db:"-"`
}

// Resolved 是否已决出胜者
func (r *PersistedRound) Resolved() bool {
	return r.WinnerZone != nil
}

// Stat 查找某区域的统计行
func (r *PersistedRound) Stat(zone Zone) *PersistedZoneStat {
	for _, s := range r.ZoneStats {
		if s.Zone == zone {
			return s
		}
	}
	return nil
}

// PersistedZoneStat 每个回合每个区域一行
type PersistedZoneStat struct {
	RoundID       string  `json:"round_id" db:"round_id"`
	Zone          Zone    `json:"zone_id" db:"zone_id"`
	TxCount       int     `json:"tx_count" db:"tx_count"`
	Volume        float64 `json:"volume" db:"volume"`
	Multiplier    float64 `json:"multiplier" db:"multiplier"`
	WeightedScore float64 `json:"weighted_score" db:"weighted_score"`
}

// PastWinner 历史胜者
type PastWinner struct {
	RoundNumber int64     `json:"roundNumber" db:"round_number"`
	WinnerZone  Zone      `json:"winnerZone" db:"winner_zone"`
	EndedAt     time.Time `json:"endedAt" db:"ended_at"`
}

// NewRoundRecord 回合开始时创建的记录，统计行带上乘数且计数为0
func NewRoundRecord(number int64, startedAt time.Time, multipliers map[Zone]float64) *PersistedRound {
	round := &PersistedRound{
		RoundNumber: number,
		StartedAt:   startedAt,
		ZoneStats:   make([]*PersistedZoneStat, 0, len(AllZones)),
	}
	for _, z := range AllZones {
		m, ok := multipliers[z]
		if !ok {
			m = 1.0
		}
		round.ZoneStats = append(round.ZoneStats, &PersistedZoneStat{
			Zone:       z,
			Multiplier: m,
		})
	}
	return round
}
