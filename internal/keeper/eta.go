package keeper

import (
	"context"
	"log/slog"

	xerrors "ChiefKeeper-Chain/internal/errors"
	"ChiefKeeper-Chain/internal/observability/alerting"
	"ChiefKeeper-Chain/internal/observability/metrics"
	"ChiefKeeper-Chain/internal/web3"

	"github.com/ethereum/go-ethereum/common"
)

// checkEta 执行到期的 spell。
//
// 到期判断用区块时间戳而不是本地时钟：链上时间对所有观察者一致，本地
// 时钟偏移不会造成提前或延后执行。标记 done 前优先复核链上的 done 标志，
// 只有复核不可用时才退回到“非回滚回执即视为完成”的宽松策略。
func (k *Keeper) checkEta(ctx context.Context, blockNumber uint64) error {
	cached := k.store.Leader()
	if cached.Address == web3.ZeroAddress || cached.Done || cached.Eta == 0 {
		return nil
	}

	callCtx, cancel := k.callCtx(ctx)
	timestamp, err := k.view.BlockTimestamp(callCtx, blockNumber)
	cancel()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeChainReadFailure, err, "读取区块时间戳失败")
	}

	k.log.Info("检查已调度的 spell",
		slog.Uint64("block", blockNumber),
		slog.Uint64("timestamp", timestamp),
		slog.Uint64("eta", cached.Eta),
	)
	if timestamp < cached.Eta {
		return nil
	}

	callCtx, cancel = k.callCtx(ctx)
	hasCode, err := k.view.HasCode(callCtx, cached.Address)
	cancel()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeChainReadFailure, err, "查询 spell 合约代码失败")
	}
	if !hasCode {
		k.log.Info("spell 地址上没有合约代码，跳过", slog.String("hat", cached.Address.Hex()))
		metrics.Inc(metrics.GuardSkips)
		return nil
	}

	k.log.Info("提交 cast 交易", slog.String("hat", cached.Address.Hex()))
	receipt, err := k.submitter.SubmitCast(ctx, cached.Address)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeSubmissionFailure, err, "cast 提交失败",
			xerrors.WithMetadata("hat", cached.Address.Hex()))
	}
	if receipt.Failed() {
		// 回滚的 cast 不能标记 done，下一个区块还有机会重试。
		return xerrors.New(xerrors.CodeSubmissionFailure, "cast 交易回滚",
			xerrors.WithMetadata("tx_hash", receipt.TxHash.Hex()))
	}
	metrics.Inc(metrics.CastsSubmitted)

	if !k.confirmCast(ctx, cached.Address, receipt) {
		k.log.Warn("cast 尚未在链上确认完成，下一区块复核",
			slog.String("hat", cached.Address.Hex()))
		return nil
	}

	if err := k.store.SetLeaderDone(ctx, true); err != nil {
		return err
	}

	txHash := ""
	if receipt != nil {
		txHash = receipt.TxHash.Hex()
	}
	k.dispatchAlert(ctx, alerting.Event{
		Code:     CodeSpellCast,
		Message:  "spell 已执行",
		Severity: xerrors.SeverityInfo,
		Network:  k.network,
		Hat:      cached.Address.Hex(),
		Block:    blockNumber,
		TxHash:   txHash,
	})
	return nil
}

// confirmCast 决定是否可以把 done 落盘。回执确认成功直接通过；歧义回执
// 复核链上 done 标志；复核读取失败时退回宽松策略，避免反复重放一个可能
// 已经成功的 cast。
func (k *Keeper) confirmCast(ctx context.Context, spell common.Address, receipt *web3.Receipt) bool {
	if receipt != nil && receipt.Status == web3.ReceiptConfirmed {
		return true
	}

	callCtx, cancel := k.callCtx(ctx)
	done, err := k.view.SpellDone(callCtx, spell)
	cancel()
	if err != nil {
		k.log.Warn("复核链上 done 失败，按宽松策略标记完成",
			slog.String("error", err.Error()))
		return true
	}
	return done
}
