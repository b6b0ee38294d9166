package api

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"cheeznad/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryOverrides 内存版 engine_config
type memoryOverrides struct {
	values map[string]string
	err    error
}

func (m *memoryOverrides) ListConfigs(ctx context.Context) ([]config.ConfigEntry, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([]config.ConfigEntry, 0, len(m.values))
	for k, v := range m.values {
		out = append(out, config.ConfigEntry{Key: k, Value: v})
	}
	return out, nil
}

func (m *memoryOverrides) GetConfig(ctx context.Context, key string) (string, error) {
	v, ok := m.values[key]
	if !ok {
		return "", errors.New("sql: no rows in result set")
	}
	return v, nil
}

func (m *memoryOverrides) UpdateConfig(ctx context.Context, key, value string) error {
	if m.err != nil {
		return m.err
	}
	m.values[key] = value
	return nil
}

func TestConfigManager_GetConfig(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Settlement.PrivateKey = "0xsecret"
	cm := NewConfigManager(cfg, nil, quietLogger())
	s := NewServer(nil, Deps{Settings: cm}, quietLogger())

	rec, payload := doRequest(t, s.Handler(), http.MethodGet, "/api/v1/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, payload["overrides_enabled"])
	assert.NotContains(t, rec.Body.String(), "0xsecret")

	rec, _ = doRequest(t, s.Handler(), http.MethodGet, "/api/v1/config/overrides", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestConfigManager_Overrides(t *testing.T) {
	store := &memoryOverrides{values: map[string]string{"round_duration": "5m"}}
	cm := NewConfigManager(config.GetDefaultConfig(), store, quietLogger())
	s := NewServer(nil, Deps{Settings: cm}, quietLogger())

	rec, payload := doRequest(t, s.Handler(), http.MethodGet, "/api/v1/config/overrides", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), payload["total"])

	rec, payload = doRequest(t, s.Handler(), http.MethodGet, "/api/v1/config/overrides?key=round_duration", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "5m", payload["value"])

	rec, _ = doRequest(t, s.Handler(), http.MethodGet, "/api/v1/config/overrides?key=missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"合法时长", `{"key":"betting_duration","value":"45s"}`, http.StatusOK},
		{"未知键", `{"key":"max_players","value":"4"}`, http.StatusBadRequest},
		{"类型错误", `{"key":"lookback","value":"many"}`, http.StatusBadRequest},
		{"缺少字段", `{"key":"lookback"}`, http.StatusBadRequest},
		{"非JSON", `lookback=3`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := doRequest(t, s.Handler(), http.MethodPut, "/api/v1/config/overrides", []byte(tt.body))
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
	assert.Equal(t, "45s", store.values["betting_duration"])
	assert.NotContains(t, store.values, "max_players")

	store.err = errors.New("connection reset")
	rec, _ = doRequest(t, s.Handler(), http.MethodPut, "/api/v1/config/overrides", []byte(`{"key":"lookback","value":"3"}`))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
