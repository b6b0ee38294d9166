package output

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"cheeznad/pkg/models"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis 记录 PUBLISH 与 SET
type fakeRedis struct {
	mu         sync.Mutex
	published  map[string][][]byte
	keys       map[string][]byte
	ttl        map[string]time.Duration
	publishErr error
	closed     bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		published: make(map[string][][]byte),
		keys:      make(map[string][]byte),
		ttl:       make(map[string]time.Duration),
	}
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewIntCmd(ctx)
	if f.publishErr != nil {
		cmd.SetErr(f.publishErr)
		return cmd
	}
	f.published[channel] = append(f.published[channel], message.([]byte))
	cmd.SetVal(1)
	return cmd
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[key] = value.([]byte)
	f.ttl[key] = expiration
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetVal("OK")
	return cmd
}

func (f *fakeRedis) Close() error {
	f.closed = true
	return nil
}

func TestRedisSink_Write(t *testing.T) {
	client := newFakeRedis()
	sink := newRedisSinkWithClient(client, "pizza", quietLogger())

	require.NoError(t, sink.Write(models.NewRoundStartEvent(&models.RoundStartData{RoundNumber: 4})))
	require.NoError(t, sink.Write(models.NewTransactionEvent(&models.ClassifiedTransaction{TxHash: "0x1", Zone: models.ZoneOlive}, 4)))

	require.Len(t, client.published["pizza:round_start"], 1)
	require.Len(t, client.published["pizza:transaction"], 1)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(client.published["pizza:round_start"][0], &payload))
	assert.Equal(t, "round_start", payload["type"])

	assert.Contains(t, client.keys, "pizza:latest:round_start")
	assert.Equal(t, latestTTL, client.ttl["pizza:latest:round_start"])
	assert.NotContains(t, client.keys, "pizza:latest:transaction", "交易事件不保留最近值")

	require.NoError(t, sink.Close())
	assert.True(t, client.closed)
}

func TestRedisSink_PublishError(t *testing.T) {
	client := newFakeRedis()
	client.publishErr = errors.New("connection refused")
	sink := newRedisSinkWithClient(client, "", quietLogger())

	assert.Equal(t, "cheeznad:round_end", sink.Channel(models.EventRoundEnd))
	err := sink.Write(models.NewBettingClosedEvent(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Empty(t, client.keys)
}
