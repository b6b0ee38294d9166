package models

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// Transaction 分类器所需的交易字段
type Transaction struct {
	Hash  string   `json:"hash"`
	From  string   `json:"from"`
	To    string   `json:"to"` // 为空表示合约创建
	Value *big.Int `json:"value"`
	Input string   `json:"input"` // 0x 前缀的十六进制
}

// IsContractCreation 没有接收方即为合约创建
func (t *Transaction) IsContractCreation() bool {
	return t.To == ""
}

// HasInput 是否携带调用数据
func (t *Transaction) HasInput() bool {
	switch strings.ToLower(t.Input) {
	case "", "0x", "0x0":
		return false
	}
	return true
}

// FromEthereumTransaction 从以太坊交易转换为内部模型
func FromEthereumTransaction(tx *types.Transaction) *Transaction {
	if tx == nil {
		return nil
	}

	t := &Transaction{
		Hash:  tx.Hash().Hex(),
		From:  senderOf(tx),
		Value: tx.Value(),
		Input: hexutil.Encode(tx.Data()),
	}
	if tx.To() != nil {
		t.To = tx.To().Hex()
	}
	return t
}

// senderOf 尝试多种签名者恢复发送地址，失败时返回空字符串
func senderOf(tx *types.Transaction) string {
	chainID := tx.ChainId()
	if chainID == nil || chainID.Sign() == 0 {
		if from, err := types.Sender(types.HomesteadSigner{}, tx); err == nil {
			return from.Hex()
		}
		return ""
	}

	// 按优先级尝试：Prague -> Cancun -> London -> EIP2930 -> EIP155
	signers := []types.Signer{
		types.NewPragueSigner(chainID),
		types.NewCancunSigner(chainID),
		types.NewLondonSigner(chainID),
		types.NewEIP2930Signer(chainID),
		types.NewEIP155Signer(chainID),
	}
	for _, signer := range signers {
		from, err := types.Sender(signer, tx)
		if err == nil && from != (common.Address{}) {
			return from.Hex()
		}
	}
	return ""
}

// ClassifiedTransaction 命中注册表的交易
type ClassifiedTransaction struct {
	ID           string  `json:"id"`
	Zone         Zone    `json:"zoneId"`
	TxHash       string  `json:"txHash"`
	From         string  `json:"from"`
	To           string  `json:"to"`
	Value        string  `json:"value"`
	BlockNumber  uint64  `json:"blockNumber"`
	Timestamp    int64   `json:"timestamp"`
	ContractName string  `json:"contractName"`
	ProtocolName string  `json:"protocolName"`
	Method       string  `json:"method,omitempty"` // 已知方法名，未收录时为 4 字节选择器
	Volume       float64 `json:"-"`
}
