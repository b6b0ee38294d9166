package round

import (
	"cheeznad/pkg/models"
)

type liveCounter struct {
	txCount int
	volume  float64
}

// Scorer 当前回合的实时计数与冻结的乘数，由引擎的锁保护
type Scorer struct {
	multipliers map[models.Zone]float64
	counters    map[models.Zone]*liveCounter
}

// NewScorer 以回合开始时计算的乘数创建，计数清零
func NewScorer(multipliers map[models.Zone]float64) *Scorer {
	s := &Scorer{
		multipliers: make(map[models.Zone]float64, len(models.AllZones)),
		counters:    make(map[models.Zone]*liveCounter, len(models.AllZones)),
	}
	for _, z := range models.AllZones {
		m, ok := multipliers[z]
		if !ok {
			m = 1.0
		}
		s.multipliers[z] = m
		s.counters[z] = &liveCounter{}
	}
	return s
}

// Add 计数加一并累加成交量，未知区域返回 false
func (s *Scorer) Add(zone models.Zone, volume float64) bool {
	c, ok := s.counters[zone]
	if !ok {
		return false
	}
	c.txCount++
	c.volume += volume
	return true
}

// Multipliers 乘数副本
func (s *Scorer) Multipliers() map[models.Zone]float64 {
	out := make(map[models.Zone]float64, len(s.multipliers))
	for z, m := range s.multipliers {
		out[z] = m
	}
	return out
}

// Volume 某区域累计成交量
func (s *Scorer) Volume(zone models.Zone) float64 {
	if c, ok := s.counters[zone]; ok {
		return c.volume
	}
	return 0
}

// Total 本回合分类交易总数
func (s *Scorer) Total() int {
	total := 0
	for _, c := range s.counters {
		total += c.txCount
	}
	return total
}

// Snapshot 当前得分快照
func (s *Scorer) Snapshot() map[models.Zone]models.ZoneScore {
	scores := make(map[models.Zone]models.ZoneScore, len(models.AllZones))
	for _, z := range models.AllZones {
		c := s.counters[z]
		m := s.multipliers[z]
		scores[z] = models.ZoneScore{
			TxCount:       c.txCount,
			Multiplier:    m,
			WeightedScore: models.WeightedScore(c.txCount, m),
		}
	}
	return scores
}

// Winner 加权得分严格最高者胜出，平局交给 tie 决定
func Winner(scores map[models.Zone]models.ZoneScore, tie TieBreaker) models.Zone {
	winner := models.AllZones[0]
	maxScore := -1.0
	for _, z := range models.AllZones {
		score := scores[z].WeightedScore
		switch {
		case score > maxScore:
			winner = z
			maxScore = score
		case score == maxScore && tie.PreferChallenger(winner, z):
			winner = z
		}
	}
	return winner
}
