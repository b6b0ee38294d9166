package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"cheeznad/pkg/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBolt(t *testing.T) *BoltStore {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	s, err := NewBoltStore(filepath.Join(t.TempDir(), "nested", "rounds.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createRound(t *testing.T, s RoundStore, number int64) *models.PersistedRound {
	t.Helper()
	r := models.NewRoundRecord(number, time.Unix(1700000000+number*120, 0).UTC(), nil)
	require.NoError(t, s.CreateRound(context.Background(), r))
	return r
}

func resolve(t *testing.T, s RoundStore, r *models.PersistedRound, winner models.Zone, total int) {
	t.Helper()
	ended := r.StartedAt.Add(2 * time.Minute)
	require.NoError(t, s.UpdateRoundResult(context.Background(), r.ID, ended, winner, total))
}

func TestBoltStore_NextRoundNumber(t *testing.T) {
	s := newTestBolt(t)
	ctx := context.Background()

	next, err := s.NextRoundNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), next)

	createRound(t, s, 1)
	createRound(t, s, 7)

	next, err = s.NextRoundNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(8), next)
}

func TestBoltStore_CreateRoundAssignsIDs(t *testing.T) {
	s := newTestBolt(t)
	r := createRound(t, s, 1)

	require.NotEmpty(t, r.ID)
	require.Len(t, r.ZoneStats, len(models.AllZones))
	for _, stat := range r.ZoneStats {
		assert.Equal(t, r.ID, stat.RoundID)
		assert.Equal(t, 1.0, stat.Multiplier)
		assert.Zero(t, stat.TxCount)
	}
}

func TestBoltStore_DuplicateRoundNumber(t *testing.T) {
	s := newTestBolt(t)
	createRound(t, s, 3)

	dup := models.NewRoundRecord(3, time.Now(), nil)
	err := s.CreateRound(context.Background(), dup)
	assert.Error(t, err)
	assert.Empty(t, dup.ID)
}

func TestBoltStore_ResultAndStats(t *testing.T) {
	s := newTestBolt(t)
	ctx := context.Background()
	r := createRound(t, s, 1)

	stat := &models.PersistedZoneStat{
		RoundID:       r.ID,
		Zone:          models.ZoneMushroom,
		TxCount:       4,
		Volume:        1.5,
		Multiplier:    2.7,
		WeightedScore: 10.8,
	}
	require.NoError(t, s.UpsertZoneStat(ctx, stat))
	resolve(t, s, r, models.ZoneMushroom, 4)

	rounds, err := s.QueryRecentRounds(ctx, 10, true)
	require.NoError(t, err)
	require.Len(t, rounds, 1)

	got := rounds[0]
	require.True(t, got.Resolved())
	assert.Equal(t, models.ZoneMushroom, *got.WinnerZone)
	assert.Equal(t, 4, got.TotalClassifiedTxns)
	require.NotNil(t, got.EndedAt)
	assert.Len(t, got.ZoneStats, len(models.AllZones))
	assert.Equal(t, 10.8, got.Stat(models.ZoneMushroom).WeightedScore)
}

func TestBoltStore_UnknownRound(t *testing.T) {
	s := newTestBolt(t)
	err := s.UpdateRoundResult(context.Background(), "missing", time.Now(), models.ZoneOlive, 0)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestBoltStore_QueryRecentRounds(t *testing.T) {
	s := newTestBolt(t)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		r := createRound(t, s, i)
		if i%2 == 1 {
			resolve(t, s, r, models.ZonePepperoni, int(i))
		}
	}

	tests := []struct {
		name          string
		limit         int
		completedOnly bool
		want          []int64
	}{
		{"全部回合按降序", 10, false, []int64{5, 4, 3, 2, 1}},
		{"只取已完成回合", 10, true, []int64{5, 3, 1}},
		{"限制条数", 2, false, []int64{5, 4}},
		{"已完成且限制条数", 2, true, []int64{5, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rounds, err := s.QueryRecentRounds(ctx, tt.limit, tt.completedOnly)
			require.NoError(t, err)

			got := make([]int64, 0, len(rounds))
			for _, r := range rounds {
				got = append(got, r.RoundNumber)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBoltStore_PastWinners(t *testing.T) {
	s := newTestBolt(t)
	ctx := context.Background()

	winners, err := s.PastWinners(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, winners)

	r1 := createRound(t, s, 1)
	resolve(t, s, r1, models.ZoneOlive, 3)
	createRound(t, s, 2)
	r3 := createRound(t, s, 3)
	resolve(t, s, r3, models.ZoneAnchovy, 9)

	winners, err = s.PastWinners(ctx, 10)
	require.NoError(t, err)
	require.Len(t, winners, 2)
	assert.Equal(t, int64(3), winners[0].RoundNumber)
	assert.Equal(t, models.ZoneAnchovy, winners[0].WinnerZone)
	assert.Equal(t, int64(1), winners[1].RoundNumber)
	assert.False(t, winners[1].EndedAt.IsZero())
}

func TestBoltStore_Reopen(t *testing.T) {
	logger := logrus.New()
	path := filepath.Join(t.TempDir(), "rounds.db")

	s, err := NewBoltStore(path, logger)
	require.NoError(t, err)
	createRound(t, s, 1)
	createRound(t, s, 2)
	require.NoError(t, s.Close())

	s, err = NewBoltStore(path, logger)
	require.NoError(t, err)
	defer s.Close()

	next, err := s.NextRoundNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), next)
}
