package round

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"cheeznad/internal/config"
	engineerrors "cheeznad/internal/errors"
	"cheeznad/internal/events"
	"cheeznad/internal/logging"
	"cheeznad/internal/metrics"
	"cheeznad/internal/multiplier"
	"cheeznad/internal/settlement"
	"cheeznad/pkg/models"

	"github.com/sirupsen/logrus"
)

// State 回合状态
type State string

const (
	StateIdle          State = "IDLE"
	StateBettingOpen   State = "BETTING_AND_SCORING"
	StateBettingClosed State = "BETTING_CLOSED_SCORING_ACTIVE"
	StateResolving     State = "RESOLVING"
	StateStopped       State = "STOPPED"
)

// Scoring 是否处于计分窗口内
func (s State) Scoring() bool {
	return s == StateBettingOpen || s == StateBettingClosed
}

const persistTimeout = 10 * time.Second

// Persistence 引擎使用的存储操作
type Persistence interface {
	multiplier.HistorySource
	CreateRound(ctx context.Context, round *models.PersistedRound) error
	UpdateRoundResult(ctx context.Context, roundID string, endedAt time.Time, winner models.Zone, totalClassified int) error
	UpsertZoneStat(ctx context.Context, stat *models.PersistedZoneStat) error
	NextRoundNumber(ctx context.Context) (int64, error)
}

// liveRound 进行中的回合
type liveRound struct {
	number        int64
	id            string
	startedAt     time.Time
	bettingEndsAt time.Time
	endsAt        time.Time
	scorer        *Scorer
}

func (r *liveRound) startData() *models.RoundStartData {
	return &models.RoundStartData{
		RoundNumber:   r.number,
		Multipliers:   r.scorer.Multipliers(),
		EndsAt:        r.endsAt.UnixMilli(),
		BettingEndsAt: r.bettingEndsAt.UnixMilli(),
	}
}

// Option 引擎选项
type Option func(*Engine)

// WithTieBreaker 替换平局规则
func WithTieBreaker(tie TieBreaker) Option {
	return func(e *Engine) { e.tie = tie }
}

// WithStoreTimeout 回合开始时存储调用的时限
func WithStoreTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.storeTimeout = d
		}
	}
}

// WithClock 替换时间来源
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine 回合生命周期：下注窗口、计分窗口、结算与下一回合。
// 实时计数、状态和计时器都由 mu 保护；存储与结算调用都在锁外进行。
type Engine struct {
	cfg       *config.RoundConfig
	calc      *multiplier.Calculator
	store     Persistence
	settler   settlement.Settler
	publisher events.Publisher
	tie       TieBreaker
	logger    *logrus.Logger
	now       func() time.Time

	storeTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	state        State
	round        *liveRound
	lastNumber   int64
	failures     int
	bettingTimer *time.Timer
	roundTimer   *time.Timer
}

// NewEngine 创建引擎，settler 为空表示不做链上结算
func NewEngine(cfg *config.RoundConfig, store Persistence, settler settlement.Settler, publisher events.Publisher, logger *logrus.Logger, opts ...Option) (*Engine, error) {
	if cfg.RoundDuration <= 0 || cfg.BettingDuration < 0 || cfg.RoundDuration < cfg.BettingDuration {
		return nil, engineerrors.ErrConfigInvalid.Wrap(fmt.Errorf("回合时长 %v 与下注时长 %v 不合法", cfg.RoundDuration, cfg.BettingDuration))
	}

	tie, err := NewTieBreaker(cfg)
	if err != nil {
		return nil, engineerrors.ErrConfigInvalid.Wrap(err)
	}

	e := &Engine{
		cfg:       cfg,
		calc:      multiplier.NewCalculator(cfg),
		store:     store,
		settler:   settler,
		publisher: publisher,
		tie:       tie,
		logger:    logger,
		now:       time.Now,
		state:     StateIdle,

		storeTimeout: persistTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Start 启动第一个回合
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return fmt.Errorf("回合引擎已启动")
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.mu.Unlock()

	e.startRound()
	return nil
}

// startRound 计算乘数、创建回合记录、清零计数并布置两个计时器。
// 存储调用共用一个 storeTimeout 时限，超时按中性乘数和 lastNumber+1 继续。
func (e *Engine) startRound() {
	e.mu.Lock()
	if e.state == StateStopped {
		e.mu.Unlock()
		return
	}
	lastNumber := e.lastNumber
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(e.ctx, e.storeTimeout)
	defer cancel()

	multipliers, err := e.calc.FromStore(ctx, e.store)
	if err != nil {
		e.logger.WithField("component", "round").Warnf("计算乘数失败，使用中性乘数: %v", err)
		multipliers = models.NeutralMultipliers()
	}

	number, err := e.store.NextRoundNumber(ctx)
	if err != nil {
		e.logger.WithField("component", "round").Warnf("查询下一回合号失败: %v", err)
	}
	if number <= lastNumber {
		number = lastNumber + 1
	}

	log := logging.NewRoundLogger(e.logger, number)
	record := models.NewRoundRecord(number, e.now(), multipliers)
	if err := e.store.CreateRound(ctx, record); err != nil {
		log.Errorf("创建回合记录失败，本回合结果将不会保存: %v", err)
		record.ID = ""
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateStopped {
		return
	}

	// 计时器从这里开始，endsAt 按同一时刻计算
	startedAt := e.now()
	r := &liveRound{
		number:        number,
		id:            record.ID,
		startedAt:     startedAt,
		bettingEndsAt: startedAt.Add(e.cfg.BettingDuration),
		endsAt:        startedAt.Add(e.cfg.RoundDuration),
		scorer:        NewScorer(multipliers),
	}
	e.round = r
	e.lastNumber = number

	e.stopTimersLocked()
	if e.cfg.BettingDuration > 0 {
		e.state = StateBettingOpen
		e.bettingTimer = time.AfterFunc(e.cfg.BettingDuration, func() { e.onBettingTimer(number) })
	} else {
		e.state = StateBettingClosed
	}
	e.roundTimer = time.AfterFunc(e.cfg.RoundDuration, func() { e.onRoundTimer(number) })

	metrics.CurrentRound.Set(float64(number))
	for z, m := range r.scorer.Multipliers() {
		metrics.ZoneMultiplier.WithLabelValues(string(z)).Set(m)
	}

	log.Infof("回合开始，乘数 %s，下注截止 %s，回合结束 %s",
		formatMultipliers(r.scorer.Multipliers()),
		r.bettingEndsAt.Format(time.TimeOnly), r.endsAt.Format(time.TimeOnly))
	e.publisher.Publish(models.NewRoundStartEvent(r.startData()))
}

// onBettingTimer 下注窗口结束，不影响计分
func (e *Engine) onBettingTimer(number int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.round == nil || e.round.number != number || e.state != StateBettingOpen {
		return
	}
	e.state = StateBettingClosed
	e.bettingTimer = nil

	logging.NewRoundLogger(e.logger, number).Info("下注已截止")
	e.publisher.Publish(models.NewBettingClosedEvent(number))
}

// onRoundTimer 计分窗口结束：冻结得分、选出胜者、保存结果、发布事件并异步结算
func (e *Engine) onRoundTimer(number int64) {
	e.mu.Lock()
	if e.round == nil || e.round.number != number || !e.state.Scoring() {
		e.mu.Unlock()
		return
	}

	e.stopTimersLocked()
	if e.state == StateBettingOpen {
		e.publisher.Publish(models.NewBettingClosedEvent(number))
	}
	e.state = StateResolving

	r := e.round
	scores := r.scorer.Snapshot()
	winner := Winner(scores, e.tie)
	total := r.scorer.Total()
	volumes := make(map[models.Zone]float64, len(models.AllZones))
	for _, z := range models.AllZones {
		volumes[z] = r.scorer.Volume(z)
	}

	e.wg.Add(1)
	e.mu.Unlock()
	defer e.wg.Done()

	endedAt := e.now()
	log := logging.NewRoundLogger(e.logger, number)
	log.Infof("回合结束，胜者 %s (%.2f)，共 %d 笔分类交易", winner, scores[winner].WeightedScore, total)
	metrics.RoundsResolved.WithLabelValues(string(winner)).Inc()

	e.persistResult(r, endedAt, winner, total, scores, volumes)

	e.mu.Lock()
	if e.state == StateStopped {
		e.mu.Unlock()
		return
	}
	e.publisher.Publish(models.NewRoundEndEvent(&models.RoundEndData{
		RoundNumber: number,
		Winner:      winner,
		Scores:      scores,
	}))
	e.wg.Add(1)
	e.mu.Unlock()

	go e.settleAndContinue(number, winner)
}

// persistResult 尽力保存结果，失败只记录日志
func (e *Engine) persistResult(r *liveRound, endedAt time.Time, winner models.Zone, total int, scores map[models.Zone]models.ZoneScore, volumes map[models.Zone]float64) {
	log := logging.NewRoundLogger(e.logger, r.number)
	if r.id == "" {
		log.Warn("回合没有持久化记录，跳过结果保存")
		return
	}

	ctx, cancel := context.WithTimeout(e.persistCtx(), persistTimeout)
	defer cancel()

	if err := e.store.UpdateRoundResult(ctx, r.id, endedAt, winner, total); err != nil {
		log.Errorf("保存回合结果失败: %v", err)
	}

	for _, z := range models.AllZones {
		s := scores[z]
		stat := &models.PersistedZoneStat{
			RoundID:       r.id,
			Zone:          z,
			TxCount:       s.TxCount,
			Volume:        volumes[z],
			Multiplier:    s.Multiplier,
			WeightedScore: s.WeightedScore,
		}
		if err := e.store.UpsertZoneStat(ctx, stat); err != nil {
			log.WithField("zone", z).Errorf("保存区域统计失败: %v", err)
		}
	}
}

// settleAndContinue 等待结算（最多 SettlementWait），然后按失败次数退避后开始下一回合
func (e *Engine) settleAndContinue(number int64, winner models.Zone) {
	defer e.wg.Done()
	log := logging.NewRoundLogger(e.logger, number)

	ok := true
	if e.settler != nil {
		done := make(chan error, 1)
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			_, err := e.settler.Settle(e.ctx, number, winner)
			done <- err
		}()

		var timeout <-chan time.Time
		if e.cfg.SettlementWait > 0 {
			timer := time.NewTimer(e.cfg.SettlementWait)
			defer timer.Stop()
			timeout = timer.C
		}

		select {
		case err := <-done:
			if err != nil {
				ok = false
				if errors.Is(err, engineerrors.ErrMissingCredentials) {
					log.Errorf("结算无法进行: %v", err)
				} else {
					log.Warnf("结算失败: %v", err)
				}
			}
		case <-timeout:
			ok = false
			log.Warnf("结算在 %v 内未完成，继续在后台轮询", e.cfg.SettlementWait)
		case <-e.ctx.Done():
			return
		}
	}

	delay := e.nextDelay(ok)
	if delay > 0 {
		log.Infof("%v 后开始下一回合", delay)
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-e.ctx.Done():
			return
		}
	}

	e.startRound()
}

// nextDelay 成功时清零失败计数；失败时 min(失败次数 * FailureBackoff, MaxFailureBackoff)
func (e *Engine) nextDelay(ok bool) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ok {
		e.failures = 0
		return 0
	}
	e.failures++

	delay := time.Duration(e.failures) * e.cfg.FailureBackoff
	if e.cfg.MaxFailureBackoff > 0 && delay > e.cfg.MaxFailureBackoff {
		delay = e.cfg.MaxFailureBackoff
	}
	return delay
}

// Accumulate 当前回合某区域计数加一
func (e *Engine) Accumulate(zone models.Zone, volume float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.state.Scoring() {
		metrics.AccumulateDropped.Inc()
		return engineerrors.ErrRoundNotLive
	}
	if !e.round.scorer.Add(zone, volume) {
		metrics.AccumulateDropped.Inc()
		return fmt.Errorf("未知区域: %q", zone)
	}
	return nil
}

// Ingest 在一次加锁内按顺序累加一个区块的分类交易，返回所属回合号。
// 不在计分窗口时返回最近一个回合号和 ErrRoundNotLive
func (e *Engine) Ingest(txs []*models.ClassifiedTransaction) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.state.Scoring() {
		if len(txs) > 0 {
			metrics.AccumulateDropped.Add(float64(len(txs)))
		}
		return e.lastNumber, engineerrors.ErrRoundNotLive
	}
	unknown := 0
	for _, tx := range txs {
		if !e.round.scorer.Add(tx.Zone, tx.Volume) {
			unknown++
		}
	}
	if unknown > 0 {
		metrics.AccumulateDropped.Add(float64(unknown))
		logging.NewRoundLogger(e.logger, e.round.number).Warnf("%d 笔交易的区域未知，未计分", unknown)
	}
	return e.round.number, nil
}

// Status 当前回合状态
type Status struct {
	RoundNumber             int64                            `json:"roundNumber"`
	State                   State                            `json:"state"`
	Multipliers             map[models.Zone]float64          `json:"multipliers"`
	Scores                  map[models.Zone]models.ZoneScore `json:"scores"`
	TotalClassified         int                              `json:"totalClassified"`
	StartedAt               int64                            `json:"startedAt"`
	EndsAt                  int64                            `json:"endsAt"`
	BettingEndsAt           int64                            `json:"bettingEndsAt"`
	BettingOpen             bool                             `json:"bettingOpen"`
	SecondsRemaining        int64                            `json:"secondsRemaining"`
	BettingSecondsRemaining int64                            `json:"bettingSecondsRemaining"`
}

// Status 读取当前回合快照
func (e *Engine) Status() *Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := &Status{State: e.state}
	if e.round == nil {
		return st
	}

	now := e.now()
	r := e.round
	st.RoundNumber = r.number
	st.Multipliers = r.scorer.Multipliers()
	st.Scores = r.scorer.Snapshot()
	st.TotalClassified = r.scorer.Total()
	st.StartedAt = r.startedAt.UnixMilli()
	st.EndsAt = r.endsAt.UnixMilli()
	st.BettingEndsAt = r.bettingEndsAt.UnixMilli()
	st.BettingOpen = e.state == StateBettingOpen
	st.SecondsRemaining = remaining(r.endsAt, now)
	st.BettingSecondsRemaining = remaining(r.bettingEndsAt, now)
	return st
}

// CurrentRoundStart 当前回合的开始事件，供新连接的客户端同步
func (e *Engine) CurrentRoundStart() (*models.Event, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.round == nil || e.state == StateStopped {
		return nil, false
	}
	return models.NewRoundStartEvent(e.round.startData()), true
}

// Stop 取消计时器和进行中的结算，等待后台任务退出
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.state == StateStopped {
		e.mu.Unlock()
		return
	}
	e.state = StateStopped
	e.stopTimersLocked()
	if e.cancel != nil {
		e.cancel()
	}
	e.mu.Unlock()

	e.wg.Wait()
	e.logger.WithField("component", "round").Info("回合引擎已停止")
}

func (e *Engine) stopTimersLocked() {
	if e.bettingTimer != nil {
		e.bettingTimer.Stop()
		e.bettingTimer = nil
	}
	if e.roundTimer != nil {
		e.roundTimer.Stop()
		e.roundTimer = nil
	}
}

// persistCtx 不随引擎停止而取消，保证最后一个回合的结果能写完
func (e *Engine) persistCtx() context.Context {
	return context.WithoutCancel(e.ctx)
}

func remaining(deadline, now time.Time) int64 {
	d := deadline.Sub(now)
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}

func formatMultipliers(m map[models.Zone]float64) string {
	out := ""
	for i, z := range models.AllZones {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%s=%.2f", z.Label(), m[z])
	}
	return out
}
