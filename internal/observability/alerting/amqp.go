package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPConfig 描述 RabbitMQ 告警通道的连接参数。
type AMQPConfig struct {
	URL      string
	Exchange string
}

// AMQPNotifier 将事件以 JSON 消息发布到 RabbitMQ exchange，供外部的
// 值班系统消费。
type AMQPNotifier struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

// NewAMQPNotifier 创建 RabbitMQ 告警通道。
func NewAMQPNotifier(cfg AMQPConfig) (*AMQPNotifier, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = "chiefkeeper.alerts"
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("声明 RabbitMQ exchange 失败: %w", err)
	}
	return &AMQPNotifier{conn: conn, ch: ch, exchange: exchange}, nil
}

// Channel 返回 AMQP 渠道。
func (n *AMQPNotifier) Channel() Channel { return ChannelAMQP }

// Notify 发布事件。
func (n *AMQPNotifier) Notify(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化告警事件失败: %w", err)
	}
	err = n.ch.PublishWithContext(ctx, n.exchange, string(event.Severity), false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   event.ID,
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("发布告警事件失败: %w", err)
	}
	return nil
}

// Close 释放 RabbitMQ 连接。
func (n *AMQPNotifier) Close() error {
	var errs []error
	if n.ch != nil {
		errs = append(errs, n.ch.Close())
	}
	if n.conn != nil {
		errs = append(errs, n.conn.Close())
	}
	return errors.Join(errs...)
}
