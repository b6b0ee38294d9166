package store

import (
	"context"
	"time"

	engineerrors "cheeznad/internal/errors"
	"cheeznad/internal/metrics"
	"cheeznad/internal/retry"
	"cheeznad/pkg/models"

	"github.com/sirupsen/logrus"
)

// RetryingStore 对底层存储的每次调用做短重试，最终失败包装为 ErrPersistence
type RetryingStore struct {
	inner   RoundStore
	retrier *retry.Retrier
}

// NewRetryingStore 包装存储，cfg 为空时使用持久化重试配置
func NewRetryingStore(inner RoundStore, cfg *retry.RetryConfig, logger *logrus.Logger) *RetryingStore {
	if cfg == nil {
		cfg = retry.PersistenceRetryConfig
	}
	return &RetryingStore{inner: inner, retrier: retry.NewRetrier(cfg, logger)}
}

// Unwrap 返回底层存储
func (s *RetryingStore) Unwrap() RoundStore {
	return s.inner
}

func observe[T any](ctx context.Context, s *RetryingStore, op string, fn func() (T, error)) (T, error) {
	start := time.Now()
	result, err := retry.Do(ctx, s.retrier, op, fn)
	metrics.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.StoreOperations.WithLabelValues(op, "error").Inc()
		return result, engineerrors.ErrPersistence.Wrap(err).WithComponent("store").WithContext("op", op)
	}
	metrics.StoreOperations.WithLabelValues(op, "ok").Inc()
	return result, nil
}

func (s *RetryingStore) CreateRound(ctx context.Context, round *models.PersistedRound) error {
	_, err := observe(ctx, s, "create_round", func() (struct{}, error) {
		return struct{}{}, s.inner.CreateRound(ctx, round)
	})
	return err
}

func (s *RetryingStore) UpdateRoundResult(ctx context.Context, roundID string, endedAt time.Time, winner models.Zone, totalClassified int) error {
	_, err := observe(ctx, s, "update_round_result", func() (struct{}, error) {
		return struct{}{}, s.inner.UpdateRoundResult(ctx, roundID, endedAt, winner, totalClassified)
	})
	return err
}

func (s *RetryingStore) UpsertZoneStat(ctx context.Context, stat *models.PersistedZoneStat) error {
	_, err := observe(ctx, s, "upsert_zone_stat", func() (struct{}, error) {
		return struct{}{}, s.inner.UpsertZoneStat(ctx, stat)
	})
	return err
}

func (s *RetryingStore) QueryRecentRounds(ctx context.Context, limit int, completedOnly bool) ([]*models.PersistedRound, error) {
	return observe(ctx, s, "query_recent_rounds", func() ([]*models.PersistedRound, error) {
		return s.inner.QueryRecentRounds(ctx, limit, completedOnly)
	})
}

func (s *RetryingStore) NextRoundNumber(ctx context.Context) (int64, error) {
	return observe(ctx, s, "next_round_number", func() (int64, error) {
		return s.inner.NextRoundNumber(ctx)
	})
}

func (s *RetryingStore) PastWinners(ctx context.Context, limit int) ([]*models.PastWinner, error) {
	return observe(ctx, s, "past_winners", func() ([]*models.PastWinner, error) {
		return s.inner.PastWinners(ctx, limit)
	})
}

func (s *RetryingStore) Close() error {
	return s.inner.Close()
}
