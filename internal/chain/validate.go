package chain

import (
	"fmt"
	"regexp"

	engineerrors "cheeznad/internal/errors"
	"cheeznad/internal/metrics"
	"cheeznad/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

var hashPattern = regexp.MustCompile("^0x[0-9a-fA-F]{64}$")

// ValidationResult 区块校验结果
type ValidationResult struct {
	Valid   bool                        `json:"valid"`
	Errors  []*engineerrors.EngineError `json:"errors,omitempty"`
	Dropped int                         `json:"dropped"`
}

// Validator 在分类前检查区块：区块头不合法时整块跳过；
// 单笔交易不合法时非严格模式只丢弃该笔，严格模式跳过整块。
type Validator struct {
	logger *logrus.Logger
	strict bool
}

// NewValidator 创建校验器
func NewValidator(logger *logrus.Logger, strict bool) *Validator {
	return &Validator{logger: logger, strict: strict}
}

// ValidateBlock 校验并就地移除不合法的交易
func (v *Validator) ValidateBlock(block *models.Block) *ValidationResult {
	result := &ValidationResult{Valid: true}
	if block == nil {
		result.Valid = false
		result.Errors = append(result.Errors, engineerrors.ErrMalformedBlock.Wrap(fmt.Errorf("区块为空")))
		return result
	}

	if !isValidHash(block.Hash) {
		result.Valid = false
		result.Errors = append(result.Errors, engineerrors.ErrMalformedBlock.
			Wrap(fmt.Errorf("区块哈希格式错误: %q", block.Hash)).
			WithBlockNumber(block.Number))
		return result
	}

	kept := block.Transactions[:0]
	for i, tx := range block.Transactions {
		if err := validateTransaction(tx); err != nil {
			result.Dropped++
			result.Errors = append(result.Errors, engineerrors.ErrMalformedBlock.
				Wrap(err).
				WithBlockNumber(block.Number).
				WithContext("index", i))
			continue
		}
		kept = append(kept, tx)
	}
	for i := len(kept); i < len(block.Transactions); i++ {
		block.Transactions[i] = nil
	}
	block.Transactions = kept

	if result.Dropped > 0 {
		metrics.MalformedTransactions.Add(float64(result.Dropped))
		v.logger.WithField("block", block.Number).Warnf("丢弃 %d 笔格式错误的交易", result.Dropped)
		if v.strict {
			result.Valid = false
		}
	}
	return result
}

func validateTransaction(tx *models.Transaction) error {
	if tx == nil {
		return fmt.Errorf("交易为空")
	}
	if !isValidHash(tx.Hash) {
		return fmt.Errorf("交易哈希格式错误: %q", tx.Hash)
	}
	if !isValidAddress(tx.To) {
		return fmt.Errorf("交易 %s 接收方地址格式错误: %q", tx.Hash, tx.To)
	}
	if !isValidAddress(tx.From) {
		return fmt.Errorf("交易 %s 发送方地址格式错误: %q", tx.Hash, tx.From)
	}
	if tx.Value != nil && tx.Value.Sign() < 0 {
		return fmt.Errorf("交易 %s 金额为负", tx.Hash)
	}
	return nil
}

func isValidHash(hash string) bool {
	return hashPattern.MatchString(hash)
}

// isValidAddress 空地址有效（合约创建、无法恢复的发送方）
func isValidAddress(addr string) bool {
	if addr == "" {
		return true
	}
	return len(addr) == 42 && common.IsHexAddress(addr)
}
