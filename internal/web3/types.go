package web3

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// ZeroAddress 是“尚无 hat”的哨兵地址，链上返回它时不存在可执行提案。
var ZeroAddress = common.Address{}

// ChainView provides read-only access to the chain state the keeper needs:
// block height and timestamps, contract code presence, and typed reads into
// the chief and spell contracts.
type ChainView interface {
	CurrentBlockNumber(ctx context.Context) (uint64, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
	HasCode(ctx context.Context, address common.Address) (bool, error)
	HatAddress(ctx context.Context) (common.Address, error)
	SpellEta(ctx context.Context, spell common.Address) (uint64, error)
	SpellDone(ctx context.Context, spell common.Address) (bool, error)
}

// Submitter sends the two governance transactions. Implementations own
// signing and gas strategy; callers only see the resulting receipt.
type Submitter interface {
	SubmitSchedule(ctx context.Context, spell common.Address) (*Receipt, error)
	SubmitCast(ctx context.Context, spell common.Address) (*Receipt, error)
}

// ReceiptStatus 描述一次交易提交的最终观测结果。
type ReceiptStatus string

const (
	// ReceiptConfirmed 表示交易已上链且执行成功。
	ReceiptConfirmed ReceiptStatus = "confirmed"
	// ReceiptReverted 表示交易已上链但执行失败。
	ReceiptReverted ReceiptStatus = "reverted"
	// ReceiptUnknown 表示交易已被节点接受，但在超时时间内未观测到确认。
	ReceiptUnknown ReceiptStatus = "unknown"
)

// Receipt captures the outcome of a submitted transaction. A nil receipt with
// a nil error means the submission was accepted but no confirmation was
// observed, which callers must treat the same as ReceiptUnknown.
type Receipt struct {
	TxHash      common.Hash
	Status      ReceiptStatus
	BlockNumber uint64
	GasUsed     uint64
}

// Failed 仅在明确观测到回滚时返回 true；缺失回执不算失败。
func (r *Receipt) Failed() bool {
	return r != nil && r.Status == ReceiptReverted
}
