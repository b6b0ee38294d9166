package registry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"cheeznad/internal/config"
	engineerrors "cheeznad/internal/errors"
	"cheeznad/pkg/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `name,ctype,csubtype,contract,address,all_categories
Kuru,DeFi,DEX,Router,0xAAAA000000000000000000000000000000000001,DeFi::DEX
Neverland,DeFi,Lending,Pool,0xbbbb000000000000000000000000000000000002,DeFi::Lending

Nad.fun,DeFi,Launchpads,Bonding Curve,0xcccc000000000000000000000000000000000003,DeFi::Launchpads
Pyth,Infra,Oracle,Oracle,0xdddd000000000000000000000000000000000004,Infra::Oracle
Mystery,Unknown,Thing,Contract,0xeeee000000000000000000000000000000000005,
Broken,DeFi,DEX
NoPrefix,DeFi,DEX,Router,aaaa000000000000000000000000000000000006,
Lumiterra,Gaming,Games,Game,0xffff000000000000000000000000000000000007,Gaming::Games
`

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestParse(t *testing.T) {
	reg, err := Parse(strings.NewReader(sampleCSV), "0x")
	require.NoError(t, err)

	stats := reg.Stats()
	assert.Equal(t, 5, stats.Loaded)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, stats.Malformed)
	assert.Equal(t, 1, stats.BadPrefix)
	assert.Equal(t, 5, reg.Size())

	assert.Equal(t, 1, stats.ByZone[models.ZonePepperoni])
	assert.Equal(t, 1, stats.ByZone[models.ZoneMushroom])
	assert.Equal(t, 1, stats.ByZone[models.ZonePineapple])
	assert.Equal(t, 1, stats.ByZone[models.ZoneOlive])
	assert.Equal(t, 1, stats.ByZone[models.ZoneAnchovy])
	assert.Equal(t, "pepperoni:1  mushroom:1  pineapple:1  olive:1  anchovy:1", reg.Breakdown())
}

func TestLookup_CaseInsensitive(t *testing.T) {
	reg, err := Parse(strings.NewReader(sampleCSV), "0x")
	require.NoError(t, err)

	tests := []struct {
		address string
		zone    models.Zone
		found   bool
	}{
		{"0xaaaa000000000000000000000000000000000001", models.ZonePepperoni, true},
		{"0xAAAA000000000000000000000000000000000001", models.ZonePepperoni, true},
		{"0xBbBb000000000000000000000000000000000002", models.ZoneMushroom, true},
		{"0xeeee000000000000000000000000000000000005", "", false},
		{"0x0000000000000000000000000000000000000000", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		entry, ok := reg.Lookup(tt.address)
		assert.Equal(t, tt.found, ok, tt.address)
		if ok {
			assert.Equal(t, tt.zone, entry.Zone)
		}
	}

	entry, ok := reg.Lookup("0xAAAA000000000000000000000000000000000001")
	require.True(t, ok)
	assert.Equal(t, "Kuru", entry.ProtocolName)
	assert.Equal(t, "Router", entry.ContractName)
	assert.Equal(t, "DeFi::DEX", entry.Category)
	assert.Equal(t, "0xaaaa000000000000000000000000000000000001", entry.Address)
}

func TestParse_LaterRowWins(t *testing.T) {
	csv := `name,ctype,csubtype,contract,address
A,DeFi,DEX,Router,0x1111111111111111111111111111111111111111
B,Infra,Oracle,Feed,0x1111111111111111111111111111111111111111
`
	reg, err := Parse(strings.NewReader(csv), "0x")
	require.NoError(t, err)

	entry, ok := reg.Lookup("0x1111111111111111111111111111111111111111")
	require.True(t, ok)
	assert.Equal(t, models.ZoneOlive, entry.Zone)

	stats := reg.Stats()
	assert.Equal(t, 1, stats.Loaded)
	assert.Equal(t, 1, stats.Duplicates)
	assert.Equal(t, 0, stats.ByZone[models.ZonePepperoni])
	assert.Equal(t, 1, stats.ByZone[models.ZoneOlive])
}

func TestParse_QuotedFields(t *testing.T) {
	csv := "name,ctype,csubtype,contract,address\n" +
		"\"Foo, Inc\",DeFi,Perpetuals / Derivatives,\"Vault, v2\",0x2222222222222222222222222222222222222222\n"

	reg, err := Parse(strings.NewReader(csv), "0x")
	require.NoError(t, err)

	entry, ok := reg.Lookup("0x2222222222222222222222222222222222222222")
	require.True(t, ok)
	assert.Equal(t, "Foo, Inc", entry.ProtocolName)
	assert.Equal(t, "Vault, v2", entry.ContractName)
	assert.Equal(t, models.ZonePepperoni, entry.Zone)
}

func TestResolveZone(t *testing.T) {
	zone, ok := ResolveZone("DeFi::MEV")
	assert.True(t, ok)
	assert.Equal(t, models.ZoneOlive, zone)

	_, ok = ResolveZone("DeFi::Unknown")
	assert.False(t, ok)

	// 每个区域至少有一个分类
	seen := make(map[models.Zone]bool)
	for _, z := range categoryZones {
		seen[z] = true
	}
	assert.Len(t, seen, len(models.AllZones))
}

func TestLoader_HTTP(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(sampleCSV))
	}))
	defer server.Close()

	loader := NewLoader(&config.RegistryConfig{URL: server.URL, Timeout: time.Second}, "0x", quietLogger())
	reg, err := loader.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, reg.Size())
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestLoader_HTTPNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	loader := NewLoader(&config.RegistryConfig{URL: server.URL, Timeout: time.Second}, "0x", quietLogger())
	_, err := loader.Load(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, engineerrors.ErrRegistryFetch))
}

func TestLoader_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "protocols.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0644))

	loader := NewLoader(&config.RegistryConfig{File: path}, "0x", quietLogger())
	reg, err := loader.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, reg.Size())
}
