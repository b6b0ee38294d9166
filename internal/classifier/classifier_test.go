package classifier

import (
	"math/big"
	"strings"
	"testing"
	"time"

	"cheeznad/internal/registry"
	"cheeznad/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	dexAddr    = "0xAAAA000000000000000000000000000000000001"
	oracleAddr = "0xdddd000000000000000000000000000000000004"
	userAddr   = "0x9999000000000000000000000000000000000009"
)

func testRegistry() *registry.Registry {
	return registry.New([]*registry.Entry{
		{Address: dexAddr, Zone: models.ZonePepperoni, ProtocolName: "Kuru", ContractName: "Router", Category: "DeFi::DEX"},
		{Address: oracleAddr, Zone: models.ZoneOlive, ProtocolName: "Pyth", ContractName: "Oracle", Category: "Infra::Oracle"},
	})
}

func ether(s string) *big.Int {
	f, ok := new(big.Float).SetString(s)
	if !ok {
		panic(s)
	}
	wei, _ := new(big.Float).Mul(f, big.NewFloat(1e18)).Int(nil)
	return wei
}

func TestClassify_EndToEndScenario(t *testing.T) {
	block := &models.Block{
		Number:    12345,
		Timestamp: time.Unix(1700000000, 0),
		Transactions: []*models.Transaction{
			{Hash: "0x01", From: userAddr, To: dexAddr, Value: ether("1.5"), Input: "0xa9059cbb"},
			{Hash: "0x02", From: userAddr, To: "0x1234000000000000000000000000000000000000", Value: ether("2"), Input: "0x"},
			{Hash: "0x03", From: userAddr, To: "", Value: big.NewInt(0), Input: "0x6080"},
		},
	}

	txs, stats := Classify(block, testRegistry())

	assert.Equal(t, 3, stats.TotalTxns)
	assert.Equal(t, 1, stats.ClassifiedTxns)
	assert.Equal(t, 1, stats.NativeTransfers)
	assert.Equal(t, 1, stats.ContractCreations)
	assert.Equal(t, 0, stats.UnclassifiedCalls)
	assert.True(t, stats.Balanced())

	require.Len(t, txs, 1)
	tx := txs[0]
	assert.Equal(t, "0x01-pepperoni", tx.ID)
	assert.Equal(t, models.ZonePepperoni, tx.Zone)
	assert.Equal(t, "1.5", tx.Value)
	assert.Equal(t, 1.5, tx.Volume)
	assert.Equal(t, uint64(12345), tx.BlockNumber)
	assert.Equal(t, int64(1700000000), tx.Timestamp)
	assert.Equal(t, "Router", tx.ContractName)
	assert.Equal(t, "Kuru", tx.ProtocolName)
	assert.Equal(t, "transfer", tx.Method)
	assert.Equal(t, 1, stats.ByZone[models.ZonePepperoni])
}

func TestClassify_Buckets(t *testing.T) {
	tests := []struct {
		name         string
		tx           *models.Transaction
		classified   int
		transfers    int
		creations    int
		unclassified int
	}{
		{"合约创建", &models.Transaction{Hash: "0x1", Input: "0x60"}, 0, 0, 1, 0},
		{"注册地址", &models.Transaction{Hash: "0x2", To: oracleAddr, Input: "0x"}, 1, 0, 0, 0},
		{"缺少前缀的地址", &models.Transaction{Hash: "0x3", To: strings.ToUpper(oracleAddr[2:]), Input: "0x"}, 0, 1, 0, 0},
		{"空数据转账", &models.Transaction{Hash: "0x4", To: userAddr, Input: "0x"}, 0, 1, 0, 0},
		{"0x0 转账", &models.Transaction{Hash: "0x5", To: userAddr, Input: "0x0"}, 0, 1, 0, 0},
		{"无数据转账", &models.Transaction{Hash: "0x6", To: userAddr}, 0, 1, 0, 0},
		{"未注册调用", &models.Transaction{Hash: "0x7", To: userAddr, Input: "0xdeadbeef"}, 0, 0, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			block := &models.Block{Number: 1, Transactions: []*models.Transaction{tt.tx}}
			_, stats := Classify(block, testRegistry())

			assert.Equal(t, tt.classified, stats.ClassifiedTxns)
			assert.Equal(t, tt.transfers, stats.NativeTransfers)
			assert.Equal(t, tt.creations, stats.ContractCreations)
			assert.Equal(t, tt.unclassified, stats.UnclassifiedCalls)
			assert.True(t, stats.Balanced())
		})
	}
}

func TestClassify_InvariantHoldsForMixedBlocks(t *testing.T) {
	reg := testRegistry()
	targets := []string{dexAddr, oracleAddr, userAddr, ""}
	inputs := []string{"0x", "0x0", "0xabcdef", ""}

	for n := 0; n < 64; n++ {
		block := &models.Block{Number: uint64(n)}
		for i := 0; i < n; i++ {
			block.Transactions = append(block.Transactions, &models.Transaction{
				Hash:  "0x" + strings.Repeat("a", i+1),
				To:    targets[(i*7+n)%len(targets)],
				Input: inputs[(i*3+n)%len(inputs)],
				Value: big.NewInt(int64(i)),
			})
		}
		if n%5 == 0 {
			block.Transactions = append(block.Transactions, nil)
		}

		txs, stats := Classify(block, reg)
		assert.True(t, stats.Balanced(), "block %d", n)
		assert.Equal(t, len(txs), stats.ClassifiedTxns)
		assert.Equal(t, stats.ClassifiedTxns, stats.ByZone.Total())
		assert.GreaterOrEqual(t, stats.UnclassifiedCalls, 0)
	}
}

func TestClassify_EmptyBlock(t *testing.T) {
	txs, stats := Classify(&models.Block{Number: 9}, testRegistry())
	assert.Empty(t, txs)
	assert.Equal(t, 0, stats.TotalTxns)
	assert.True(t, stats.Balanced())
	assert.Len(t, stats.ByZone, len(models.AllZones))
}

func TestClassify_SameHashDifferentZonesDistinct(t *testing.T) {
	block := &models.Block{Number: 1, Transactions: []*models.Transaction{
		{Hash: "0xabc", To: dexAddr, Input: "0x01"},
		{Hash: "0xabc", To: oracleAddr, Input: "0x01"},
	}}
	txs, _ := Classify(block, testRegistry())
	require.Len(t, txs, 2)
	assert.NotEqual(t, txs[0].ID, txs[1].ID)
}

func TestFormatEther(t *testing.T) {
	tests := []struct {
		wei      *big.Int
		expected string
	}{
		{nil, "0"},
		{big.NewInt(0), "0"},
		{ether("1"), "1"},
		{ether("1.5"), "1.5"},
		{big.NewInt(1), "0.000000000000000001"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, FormatEther(tt.wei))
	}

	assert.Equal(t, 0.0, ParseVolume("abc"))
	assert.Equal(t, 2.25, ParseVolume("2.25"))
}

func TestFormatBreakdown(t *testing.T) {
	txs := []*models.ClassifiedTransaction{
		{Zone: models.ZoneOlive, ProtocolName: "Pyth"},
		{Zone: models.ZonePepperoni, ProtocolName: "Kuru"},
		{Zone: models.ZonePepperoni, ProtocolName: "Ambient"},
		{Zone: models.ZonePepperoni, ProtocolName: "Kuru"},
	}

	assert.Equal(t, "DEX[Kuru×2, Ambient×1]  INFRA[Pyth×1]", FormatBreakdown(txs))
	assert.Equal(t, "", FormatBreakdown(nil))

	counts := models.NewZoneCounts()
	assert.Equal(t, "-", FormatZones(counts))
	counts[models.ZoneOlive] = 2
	counts[models.ZonePepperoni] = 1
	assert.Equal(t, "DEX:1  INFRA:2", FormatZones(counts))
}

func TestTally(t *testing.T) {
	tally := NewTally()
	tally.Record(&models.BlockStats{BlockNumber: 10, TotalTxns: 10, ClassifiedTxns: 4, NativeTransfers: 3, ContractCreations: 1, UnclassifiedCalls: 2,
		ByZone: models.ZoneCounts{models.ZonePepperoni: 4}})
	tally.Record(&models.BlockStats{BlockNumber: 11, TotalTxns: 10, ClassifiedTxns: 1, NativeTransfers: 9,
		ByZone: models.ZoneCounts{models.ZoneAnchovy: 1}})

	s := tally.Snapshot()
	assert.Equal(t, int64(2), s.Blocks)
	assert.Equal(t, int64(20), s.TotalTxns)
	assert.Equal(t, int64(12), s.NativeTransfers)
	assert.Equal(t, int64(3), s.Other)
	assert.Equal(t, int64(5), s.Classified)
	assert.Equal(t, 25.0, s.Rate)
	assert.Equal(t, uint64(11), s.LastBlock)
	assert.Equal(t, 4, s.ByZone[models.ZonePepperoni])
	assert.Equal(t, 1, s.ByZone[models.ZoneAnchovy])
}
