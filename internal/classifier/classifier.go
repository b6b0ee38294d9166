package classifier

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"cheeznad/internal/decoder"
	"cheeznad/internal/registry"
	"cheeznad/pkg/models"

	"github.com/shopspring/decimal"
)

// Classify 按区块内顺序对交易分桶，无状态、无副作用。
// 没有接收方计为合约创建；接收方命中注册表产出分类交易；未命中且无调用数据计为原生转账；
// 其余为未归类调用，由总数减去前三项得到。
func Classify(block *models.Block, lookup registry.Lookup) ([]*models.ClassifiedTransaction, *models.BlockStats) {
	stats := &models.BlockStats{
		BlockNumber: block.Number,
		TotalTxns:   len(block.Transactions),
		ByZone:      models.NewZoneCounts(),
	}
	classified := make([]*models.ClassifiedTransaction, 0)
	timestamp := block.Timestamp.Unix()

	for _, tx := range block.Transactions {
		if tx == nil {
			continue
		}
		if tx.IsContractCreation() {
			stats.ContractCreations++
			continue
		}

		entry, ok := lookup.Lookup(tx.To)
		if !ok {
			if !tx.HasInput() {
				stats.NativeTransfers++
			}
			continue
		}

		value := FormatEther(tx.Value)
		stats.ByZone[entry.Zone]++
		classified = append(classified, &models.ClassifiedTransaction{
			ID:           tx.Hash + "-" + string(entry.Zone),
			Zone:         entry.Zone,
			TxHash:       tx.Hash,
			From:         tx.From,
			To:           tx.To,
			Value:        value,
			BlockNumber:  block.Number,
			Timestamp:    timestamp,
			ContractName: entry.ContractName,
			ProtocolName: entry.ProtocolName,
			Method:       decoder.Default.Method(tx.Input),
			Volume:       ParseVolume(value),
		})
	}

	stats.ClassifiedTxns = len(classified)
	stats.UnclassifiedCalls = stats.TotalTxns - stats.ClassifiedTxns - stats.NativeTransfers - stats.ContractCreations
	return classified, stats
}

// FormatEther wei 转为十进制字符串，去掉多余的零
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -18).String()
}

// ParseVolume 解析金额字符串，无法解析时为 0
func ParseVolume(value string) float64 {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

// ProtocolBreakdown 每个区域内各协议的命中次数
func ProtocolBreakdown(txs []*models.ClassifiedTransaction) map[models.Zone]map[string]int {
	out := make(map[models.Zone]map[string]int)
	for _, tx := range txs {
		if out[tx.Zone] == nil {
			out[tx.Zone] = make(map[string]int)
		}
		out[tx.Zone][tx.ProtocolName]++
	}
	return out
}

// FormatBreakdown 按区域固定顺序输出 "DEX[Kuru×3, Ambient×1]  LEND[...]"，协议按次数降序
func FormatBreakdown(txs []*models.ClassifiedTransaction) string {
	breakdown := ProtocolBreakdown(txs)
	parts := make([]string, 0, len(breakdown))
	for _, z := range models.AllZones {
		protos := breakdown[z]
		if len(protos) == 0 {
			continue
		}
		names := make([]string, 0, len(protos))
		for name := range protos {
			names = append(names, name)
		}
		sort.Slice(names, func(i, j int) bool {
			if protos[names[i]] != protos[names[j]] {
				return protos[names[i]] > protos[names[j]]
			}
			return names[i] < names[j]
		})
		items := make([]string, 0, len(names))
		for _, name := range names {
			items = append(items, fmt.Sprintf("%s×%d", name, protos[name]))
		}
		parts = append(parts, fmt.Sprintf("%s[%s]", z.Label(), strings.Join(items, ", ")))
	}
	return strings.Join(parts, "  ")
}

// FormatZones 有命中的区域计数，例如 "DEX:3  INFRA:1"
func FormatZones(byZone models.ZoneCounts) string {
	parts := make([]string, 0, len(models.AllZones))
	for _, z := range models.AllZones {
		if n := byZone[z]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s:%d", z.Label(), n))
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, "  ")
}
