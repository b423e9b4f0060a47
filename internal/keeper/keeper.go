package keeper

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"sync/atomic"
	"time"

	xerrors "ChiefKeeper-Chain/internal/errors"
	"ChiefKeeper-Chain/internal/observability/alerting"
	"ChiefKeeper-Chain/internal/observability/metrics"
	"ChiefKeeper-Chain/internal/state"
	"ChiefKeeper-Chain/internal/web3"
	"ChiefKeeper-Chain/pkg/logger"

	coretypes "github.com/ethereum/go-ethereum/core/types"
	gethevent "github.com/ethereum/go-ethereum/event"
)

// ErrBudgetExhausted 表示错误预算耗尽，keeper 主动终止区块循环。
var ErrBudgetExhausted = xerrors.New(xerrors.CodeBudgetExhausted, "错误预算耗尽，keeper 终止")

// CodeSpellCast 标记一次成功的 spell 执行，走告警通道通知值班。
const CodeSpellCast = xerrors.Code("SPELL_CAST")

func init() {
	xerrors.Register(CodeSpellCast, xerrors.Attributes{
		Message:  "spell cast",
		Severity: xerrors.SeverityInfo,
		Alert:    true,
	})
}

// HeadSource 提供新区块头的推送通道；不可用时 keeper 退化为轮询。
type HeadSource interface {
	SubscribeNewHeads(ctx context.Context) (<-chan *coretypes.Header, gethevent.Subscription, error)
}

// Keeper 按区块驱动 hat 与 eta 两个监控器，是系统的业务核心。
// 同一时刻只处理一个区块，两个监控器串行执行，因此所有先查后写的
// 幂等判断无需额外加锁。
type Keeper struct {
	network   string
	view      web3.ChainView
	submitter web3.Submitter
	store     *state.Store

	maxErrors    int
	pollInterval time.Duration
	callTimeout  time.Duration

	headSource HeadSource
	alerter    alerting.Dispatcher
	log        *slog.Logger

	errCount atomic.Int32
	running  atomic.Bool
	lastSeen uint64
}

// Option 定义可选的 Keeper 配置。
type Option func(*Keeper)

// WithMaxErrors 设置错误预算上限。
func WithMaxErrors(max int) Option {
	return func(k *Keeper) {
		if max > 0 {
			k.maxErrors = max
		}
	}
}

// WithPollInterval 设置轮询新区块的间隔。
func WithPollInterval(interval time.Duration) Option {
	return func(k *Keeper) {
		if interval > 0 {
			k.pollInterval = interval
		}
	}
}

// WithCallTimeout 设置单次链上调用的超时时间，防止阻塞跨越区块边界。
func WithCallTimeout(timeout time.Duration) Option {
	return func(k *Keeper) {
		if timeout > 0 {
			k.callTimeout = timeout
		}
	}
}

// WithHeadSource 配置新区块订阅源。
func WithHeadSource(source HeadSource) Option {
	return func(k *Keeper) {
		k.headSource = source
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) Option {
	return func(k *Keeper) {
		k.alerter = dispatcher
	}
}

// WithLogger 指定日志输出。
func WithLogger(log *slog.Logger) Option {
	return func(k *Keeper) {
		if log != nil {
			k.log = log
		}
	}
}

// New 创建一个 Keeper。
func New(network string, view web3.ChainView, submitter web3.Submitter, store *state.Store, opts ...Option) *Keeper {
	k := &Keeper{
		network:      network,
		view:         view,
		submitter:    submitter,
		store:        store,
		maxErrors:    100,
		pollInterval: 13 * time.Second,
		callTimeout:  15 * time.Second,
		log:          logger.Named("keeper"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(k)
		}
	}
	k.lastSeen = store.Checkpoint().LastBlockChecked
	return k
}

// Status 汇总 keeper 的运行状态，供状态接口查询。
type Status struct {
	Network          string             `json:"network"`
	Running          bool               `json:"running"`
	LastBlockChecked uint64             `json:"last_block_checked"`
	Leader           state.LeaderRecord `json:"leader"`
	Errors           int                `json:"errors"`
	MaxErrors        int                `json:"max_errors"`
}

// Status 返回当前状态快照。
func (k *Keeper) Status() Status {
	return Status{
		Network:          k.network,
		Running:          k.running.Load(),
		LastBlockChecked: k.store.Checkpoint().LastBlockChecked,
		Leader:           k.store.Leader(),
		Errors:           int(k.errCount.Load()),
		MaxErrors:        k.maxErrors,
	}
}

// Run 进入区块循环，直到上下文取消或错误预算耗尽。
// 取消只发生在两个处理周期之间，进行中的区块会处理完毕。
func (k *Keeper) Run(ctx context.Context) error {
	k.running.Store(true)
	defer k.running.Store(false)

	blocks, cleanup, err := k.blockNumbers(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	k.log.Info("进入区块循环",
		slog.String("network", k.network),
		slog.Uint64("last_block_checked", k.lastSeen),
	)

	for {
		select {
		case <-ctx.Done():
			k.log.Info("收到退出信号，停止区块循环")
			return ctx.Err()
		case blockNumber, ok := <-blocks:
			if !ok {
				return xerrors.New(xerrors.CodeChainReadFailure, "区块源已关闭")
			}
			if blockNumber <= k.lastSeen {
				continue
			}
			k.lastSeen = blockNumber
			if err := k.ProcessBlock(ctx, blockNumber); err != nil {
				return err
			}
		}
	}
}

// ProcessBlock 是每个新区块的入口：预算检查、hat 监控、eta 监控。
// 监控器抛出的错误只计数和记录，不会中断循环。
func (k *Keeper) ProcessBlock(ctx context.Context, blockNumber uint64) error {
	if int(k.errCount.Load()) >= k.maxErrors {
		k.dispatchAlert(ctx, alerting.Event{
			Code:    xerrors.CodeBudgetExhausted,
			Message: "错误预算耗尽，keeper 终止",
			Network: k.network,
			Block:   blockNumber,
		})
		return ErrBudgetExhausted
	}

	metrics.Inc(metrics.BlocksProcessed)

	if err := k.checkHat(ctx, blockNumber); err != nil {
		k.recordError(ctx, err, blockNumber)
	}
	if err := k.checkEta(ctx, blockNumber); err != nil {
		k.recordError(ctx, err, blockNumber)
	}
	return nil
}

// recordError 把监控器错误转换为计数、日志和告警。
func (k *Keeper) recordError(ctx context.Context, err error, blockNumber uint64) {
	k.errCount.Add(1)
	metrics.Inc(metrics.ChainErrors)
	k.log.Error("区块处理出错",
		slog.Uint64("block", blockNumber),
		slog.String("code", string(xerrors.CodeOf(err))),
		slog.String("error", err.Error()),
		slog.Int("errors", int(k.errCount.Load())),
		slog.Int("max_errors", k.maxErrors),
	)
	if xerrors.ShouldAlert(err) {
		k.dispatchAlert(ctx, alerting.Event{
			Code:    xerrors.CodeOf(err),
			Message: err.Error(),
			Network: k.network,
			Block:   blockNumber,
		})
	}
}

func (k *Keeper) dispatchAlert(ctx context.Context, event alerting.Event) {
	if k.alerter == nil {
		return
	}
	if err := k.alerter.Notify(ctx, event); err != nil {
		k.log.Warn("告警派发失败", slog.String("error", err.Error()))
	}
}

// callCtx 为单次链上调用附加超时。
func (k *Keeper) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if k.callTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, k.callTimeout)
}

// blockNumbers 建立新区块号通道：优先订阅，失败时轮询。
func (k *Keeper) blockNumbers(ctx context.Context) (<-chan uint64, func(), error) {
	if k.headSource != nil {
		heads, sub, err := k.headSource.SubscribeNewHeads(ctx)
		if err == nil {
			out := make(chan uint64, 16)
			go func() {
				defer close(out)
				for {
					select {
					case <-ctx.Done():
						return
					case err := <-sub.Err():
						if err != nil {
							k.log.Warn("区块订阅中断", slog.String("error", err.Error()))
						}
						return
					case head, ok := <-heads:
						if !ok {
							return
						}
						out <- head.Number.Uint64()
					}
				}
			}()
			return out, sub.Unsubscribe, nil
		}
		k.log.Warn("区块订阅不可用，退化为轮询", slog.String("error", err.Error()))
	}

	out := make(chan uint64, 1)
	ticker := time.NewTicker(k.pollInterval)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				callCtx, cancel := k.callCtx(ctx)
				number, err := k.view.CurrentBlockNumber(callCtx)
				cancel()
				if err != nil {
					if stdErrors.Is(err, context.Canceled) {
						return
					}
					k.log.Warn("轮询区块高度失败", slog.String("error", err.Error()))
					continue
				}
				select {
				case out <- number:
				default:
					// 上一轮还没消费完，丢弃本次高度，下一轮会追上。
				}
			}
		}
	}()
	return out, ticker.Stop, nil
}
