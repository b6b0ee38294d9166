package store

import (
	"context"
	"errors"
	"testing"
	"time"

	engineerrors "cheeznad/internal/errors"
	"cheeznad/internal/retry"
	"cheeznad/pkg/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStore 前 failures 次调用返回 err
type flakyStore struct {
	RoundStore
	failures int
	err      error
	calls    int
}

func (f *flakyStore) NextRoundNumber(ctx context.Context) (int64, error) {
	f.calls++
	if f.calls <= f.failures {
		return 0, f.err
	}
	return 42, nil
}

func (f *flakyStore) CreateRound(ctx context.Context, round *models.PersistedRound) error {
	f.calls++
	if f.calls <= f.failures {
		return f.err
	}
	round.ID = "round-id"
	return nil
}

var fastRetry = &retry.RetryConfig{
	MaxAttempts:     3,
	InitialInterval: time.Millisecond,
	MaxInterval:     5 * time.Millisecond,
	BackoffFactor:   2,
}

func TestRetryingStore(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		err       error
		wantErr   bool
		wantCalls int
	}{
		{"首次成功", 0, nil, false, 1},
		{"瞬时错误后成功", 2, errors.New("database is locked"), false, 3},
		{"瞬时错误耗尽重试", 5, errors.New("connection refused"), true, 3},
		{"永久错误不重试", 5, errors.New("回合 #1 已存在"), true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := &flakyStore{failures: tt.failures, err: tt.err}
			s := NewRetryingStore(inner, fastRetry, logrus.New())

			next, err := s.NextRoundNumber(context.Background())
			assert.Equal(t, tt.wantCalls, inner.calls)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, engineerrors.ErrPersistence))
				assert.True(t, errors.Is(err, tt.err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, int64(42), next)
		})
	}
}

func TestRetryingStore_CreateRoundPropagatesID(t *testing.T) {
	inner := &flakyStore{failures: 1, err: errors.New("i/o timeout")}
	s := NewRetryingStore(inner, fastRetry, logrus.New())

	r := models.NewRoundRecord(1, time.Now(), nil)
	require.NoError(t, s.CreateRound(context.Background(), r))
	assert.Equal(t, "round-id", r.ID)
	assert.Same(t, inner, s.Unwrap())
}

func TestRetryingStore_CancelledContext(t *testing.T) {
	inner := &flakyStore{}
	s := NewRetryingStore(inner, fastRetry, logrus.New())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.NextRoundNumber(ctx)
	assert.Error(t, err)
	assert.Zero(t, inner.calls)
}
