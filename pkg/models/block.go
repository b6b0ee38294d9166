package models

import (
	"time"

	"github.com/ethereum/go-ethereum/core/types"
)

// Block 区块数据模型，只保留分类需要的字段
type Block struct {
	Number       uint64         `json:"block_number"`
	Hash         string         `json:"hash"`
	ParentHash   string         `json:"parent_hash"`
	Timestamp    time.Time      `json:"timestamp"`
	Transactions []*Transaction `json:"transactions"`
}

// FromEthereumBlock 从以太坊区块转换为内部模型，保持交易顺序
func FromEthereumBlock(block *types.Block) *Block {
	if block == nil {
		return nil
	}

	txs := block.Transactions()
	b := &Block{
		Number:       block.NumberU64(),
		Hash:         block.Hash().Hex(),
		ParentHash:   block.ParentHash().Hex(),
		Timestamp:    time.Unix(int64(block.Time()), 0),
		Transactions: make([]*Transaction, 0, len(txs)),
	}
	for _, tx := range txs {
		b.Transactions = append(b.Transactions, FromEthereumTransaction(tx))
	}
	return b
}

// BlockStats 单个区块的分类统计
// 不变量: ClassifiedTxns + NativeTransfers + ContractCreations + UnclassifiedCalls == TotalTxns
type BlockStats struct {
	BlockNumber       uint64     `json:"blockNumber"`
	TotalTxns         int        `json:"totalTxns"`
	ClassifiedTxns    int        `json:"classifiedTxns"`
	NativeTransfers   int        `json:"nativeTransfers"`
	ContractCreations int        `json:"contractCreations"`
	UnclassifiedCalls int        `json:"unclassifiedCalls"`
	ByZone            ZoneCounts `json:"byZone"`
}

// Balanced 四个分桶之和是否等于总数
func (s *BlockStats) Balanced() bool {
	return s.ClassifiedTxns+s.NativeTransfers+s.ContractCreations+s.UnclassifiedCalls == s.TotalTxns
}

// Other 未归类调用与合约创建之和
func (s *BlockStats) Other() int {
	return s.UnclassifiedCalls + s.ContractCreations
}
