package decoder

import (
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// 常见方法签名，选择器由 keccak256 前 4 字节计算
var knownSignatures = []string{
	"transfer(address,uint256)",
	"approve(address,uint256)",
	"transferFrom(address,address,uint256)",
	"mint(address,uint256)",
	"burn(uint256)",
	"deposit()",
	"withdraw(uint256)",
	"stake(uint256)",
	"unstake(uint256)",
	"claim()",
	"multicall(bytes[])",
	"multicall(uint256,bytes[])",
	"execute(bytes,bytes[],uint256)",
	"swapExactTokensForTokens(uint256,uint256,address[],address,uint256)",
	"swapExactETHForTokens(uint256,address[],address,uint256)",
	"swapExactTokensForETH(uint256,uint256,address[],address,uint256)",
	"swapTokensForExactTokens(uint256,uint256,address[],address,uint256)",
	"addLiquidity(address,address,uint256,uint256,uint256,uint256,address,uint256)",
	"removeLiquidity(address,address,uint256,uint256,uint256,address,uint256)",
	"supply(address,uint256,address,uint16)",
	"borrow(address,uint256,uint256,uint16,address)",
	"repay(address,uint256,uint256,address)",
	"safeTransferFrom(address,address,uint256)",
	"setApprovalForAll(address,bool)",
}

// Table 选择器到方法签名的只读映射
type Table struct {
	bySelector map[string]string
}

// NewTable 由文本签名构建选择器表，extra 中的签名会覆盖内置签名
func NewTable(extra ...string) *Table {
	t := &Table{bySelector: make(map[string]string, len(knownSignatures)+len(extra))}
	for _, sig := range knownSignatures {
		t.bySelector[SelectorOf(sig)] = sig
	}
	for _, sig := range extra {
		t.bySelector[SelectorOf(sig)] = sig
	}
	return t
}

// Default 内置签名表
var Default = NewTable()

// SelectorOf 文本签名的 0x 前缀选择器
func SelectorOf(signature string) string {
	return "0x" + hex.EncodeToString(crypto.Keccak256([]byte(signature))[:4])
}

// Selector 取调用数据的前 4 字节，不足 4 字节时返回 false
func Selector(input string) (string, bool) {
	input = strings.TrimPrefix(strings.ToLower(input), "0x")
	if len(input) < 8 {
		return "", false
	}
	sel := input[:8]
	if _, err := hex.DecodeString(sel); err != nil {
		return "", false
	}
	return "0x" + sel, true
}

// Signature 查找完整签名
func (t *Table) Signature(selector string) (string, bool) {
	sig, ok := t.bySelector[strings.ToLower(selector)]
	return sig, ok
}

// Method 调用数据对应的方法名；未收录时返回选择器本身，没有调用数据时返回空串
func (t *Table) Method(input string) string {
	sel, ok := Selector(input)
	if !ok {
		return ""
	}
	sig, ok := t.bySelector[sel]
	if !ok {
		return sel
	}
	if i := strings.IndexByte(sig, '('); i > 0 {
		return sig[:i]
	}
	return sig
}

// Size 已收录的签名数
func (t *Table) Size() int {
	return len(t.bySelector)
}
