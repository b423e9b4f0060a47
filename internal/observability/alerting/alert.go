package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "ChiefKeeper-Chain/internal/errors"
	"ChiefKeeper-Chain/pkg/logger"

	"github.com/google/uuid"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelLog  Channel = "log"
	ChannelAMQP Channel = "amqp"
)

// Event 描述一次需要告警的 keeper 事件。
type Event struct {
	ID         string            `json:"id"`
	Code       xerrors.Code      `json:"code"`
	Message    string            `json:"message"`
	Severity   xerrors.Severity  `json:"severity"`
	Network    string            `json:"network"`
	Hat        string            `json:"hat,omitempty"`
	Block      uint64            `json:"block,omitempty"`
	TxHash     string            `json:"tx_hash,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Fill 补齐事件的标识和时间戳。
func (e *Event) Fill() {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	if e.Severity == "" {
		e.Severity = xerrors.AttributesOf(e.Code).Severity
	}
}

// Notifier 负责将事件发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 实现将事件投递到多个通知器的逻辑。
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout 创建一个新的 FanoutDispatcher。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Notify 将事件广播至所有注册渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	event.Fill()
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// LogNotifier 将事件写入结构化日志，作为兜底渠道。
type LogNotifier struct{}

// Channel 返回日志渠道。
func (LogNotifier) Channel() Channel { return ChannelLog }

// Notify 输出事件。
func (LogNotifier) Notify(_ context.Context, event Event) error {
	logger.Named("alert").Warn(event.Message,
		slog.String("event_id", event.ID),
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("network", event.Network),
		slog.String("hat", event.Hat),
		slog.Uint64("block", event.Block),
		slog.String("tx_hash", event.TxHash),
	)
	return nil
}
