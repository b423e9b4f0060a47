package keeper

import (
	"context"
	"log/slog"

	xerrors "ChiefKeeper-Chain/internal/errors"
	"ChiefKeeper-Chain/internal/observability/metrics"
	"ChiefKeeper-Chain/internal/state"
	"ChiefKeeper-Chain/internal/web3"

	"github.com/ethereum/go-ethereum/common"
)

// checkHat 维持“approval 最高的提案持有 hat 且已被 schedule”这一不变式。
//
// 先把缓存中的 hat 记录与链上当前 hat 对齐（地址变化时整体替换），再无
// 条件推进检查点，然后按哨兵地址、终态、非合约三道闸门短路，最后处理
// 尚未 schedule 的情况。提交前后都重新查询链上 eta，本地缓存与链上状态
// 可能分叉（崩溃恢复、外部 keeper、歧义回执），只信缓存会导致重复提交。
func (k *Keeper) checkHat(ctx context.Context, blockNumber uint64) error {
	k.log.Info("检查 hat", slog.Uint64("block", blockNumber))

	callCtx, cancel := k.callCtx(ctx)
	hat, err := k.view.HatAddress(callCtx)
	cancel()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeChainReadFailure, err, "读取链上 hat 失败")
	}

	cached := k.store.Leader()
	if hat != cached.Address {
		fresh, err := k.freshLeaderRecord(ctx, hat)
		if err != nil {
			return err
		}
		if err := k.store.ReplaceLeader(ctx, fresh); err != nil {
			return err
		}
		cached = fresh
		k.log.Info("hat 已变更，重建缓存记录",
			slog.String("hat", hat.Hex()),
			slog.Uint64("eta", fresh.Eta),
			slog.Bool("done", fresh.Done),
		)
	}

	// 无论 hat 是否可操作，都要记录这个区块已经检查过。
	if err := k.store.AdvanceCheckpoint(ctx, blockNumber); err != nil {
		return err
	}

	if cached.Address == web3.ZeroAddress || cached.Done {
		metrics.Inc(metrics.GuardSkips)
		return nil
	}

	callCtx, cancel = k.callCtx(ctx)
	hasCode, err := k.view.HasCode(callCtx, cached.Address)
	cancel()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeChainReadFailure, err, "查询 hat 合约代码失败")
	}
	if !hasCode {
		k.log.Info("当前 hat 不是合约，跳过", slog.String("hat", cached.Address.Hex()))
		metrics.Inc(metrics.GuardSkips)
		return nil
	}

	if cached.Eta != 0 {
		return nil
	}
	return k.scheduleSpell(ctx, cached.Address)
}

// freshLeaderRecord 用链上状态为新 hat 构造记录。非合约地址查不到
// eta/done，记录保持零值，后续闸门会拦住它。
func (k *Keeper) freshLeaderRecord(ctx context.Context, hat common.Address) (state.LeaderRecord, error) {
	record := state.LeaderRecord{Address: hat}
	if hat == web3.ZeroAddress {
		record.Done = true
		return record, nil
	}

	callCtx, cancel := k.callCtx(ctx)
	hasCode, err := k.view.HasCode(callCtx, hat)
	cancel()
	if err != nil {
		return state.LeaderRecord{}, xerrors.Wrap(xerrors.CodeChainReadFailure, err, "查询新 hat 合约代码失败")
	}
	if !hasCode {
		return record, nil
	}

	callCtx, cancel = k.callCtx(ctx)
	eta, err := k.view.SpellEta(callCtx, hat)
	cancel()
	if err != nil {
		return state.LeaderRecord{}, xerrors.Wrap(xerrors.CodeChainReadFailure, err, "读取新 hat 的 eta 失败")
	}
	callCtx, cancel = k.callCtx(ctx)
	done, err := k.view.SpellDone(callCtx, hat)
	cancel()
	if err != nil {
		return state.LeaderRecord{}, xerrors.Wrap(xerrors.CodeChainReadFailure, err, "读取新 hat 的 done 失败")
	}

	record.Eta = eta
	record.Done = done
	return record, nil
}

// scheduleSpell 处理尚未 schedule 的 hat：先采纳链上可能已有的 eta，
// 否则提交 schedule 交易，并在提交后再次查询 eta 落盘。
func (k *Keeper) scheduleSpell(ctx context.Context, spell common.Address) error {
	callCtx, cancel := k.callCtx(ctx)
	eta, err := k.view.SpellEta(callCtx, spell)
	cancel()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeChainReadFailure, err, "读取 spell eta 失败")
	}
	if eta > 0 {
		k.log.Info("spell 已被其他参与者调度，采纳链上 eta",
			slog.String("hat", spell.Hex()),
			slog.Uint64("eta", eta),
		)
		return k.store.SetLeaderEta(ctx, eta)
	}

	k.log.Info("提交 schedule 交易", slog.String("hat", spell.Hex()))
	receipt, err := k.submitter.SubmitSchedule(ctx, spell)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeSubmissionFailure, err, "schedule 提交失败",
			xerrors.WithMetadata("hat", spell.Hex()))
	}
	if receipt.Failed() {
		return xerrors.New(xerrors.CodeSubmissionFailure, "schedule 交易回滚",
			xerrors.WithMetadata("tx_hash", receipt.TxHash.Hex()))
	}
	metrics.Inc(metrics.SchedulesSubmitted)

	// 回执成功或歧义都以链上 eta 为准；读取失败时 eta 保持 0，
	// 下一个区块会先采纳链上 eta 而不会重复提交。
	callCtx, cancel = k.callCtx(ctx)
	eta, err = k.view.SpellEta(callCtx, spell)
	cancel()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeChainReadFailure, err, "提交后读取 eta 失败")
	}
	if eta > 0 {
		return k.store.SetLeaderEta(ctx, eta)
	}
	return nil
}
