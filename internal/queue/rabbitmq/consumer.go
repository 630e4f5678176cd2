package rabbitmq

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Record is one queue delivery as seen by the worker: the verbatim body
// plus the received_at attribute stamped by the producer.
type Record struct {
	Body       []byte
	ReceivedAt string
}

// Handler processes one record. A nil return acknowledges the record,
// including permanent skips the handler decided not to retry. A non-nil
// return leaves the record to the queue's redelivery mechanism.
type Handler func(ctx context.Context, rec Record) error

type ConsumerConfig struct {
	URL           string
	Queue         string
	PrefetchCount int

	// RequeueOnError controls whether failed records are re-offered for
	// delivery. Disabling it turns every failure into a permanent drop.
	RequeueOnError bool
}

type Consumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	cfg     ConsumerConfig
	tag     string
	logger  *zap.Logger
}

func NewConsumer(cfg ConsumerConfig, logger *zap.Logger) (*Consumer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PrefetchCount <= 0 {
		cfg.PrefetchCount = 1
	}

	conn, err := connectWithRetry(cfg.URL, 10, 5*time.Second, logger)
	if err != nil {
		return nil, err
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if _, err := declareQueue(channel, cfg.Queue); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, err
	}

	if err := channel.Qos(cfg.PrefetchCount, 0, false); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}

	tag := "tgvault-worker-" + uuid.NewString()
	logger.Info("rabbitmq consumer ready",
		zap.String("queue", cfg.Queue),
		zap.String("consumer_tag", tag),
	)

	return &Consumer{
		conn:    conn,
		channel: channel,
		cfg:     cfg,
		tag:     tag,
		logger:  logger,
	}, nil
}

// Run consumes records until ctx is cancelled or the channel closes.
// Each delivery is acknowledged individually: handler success (or
// permanent skip) acks, handler failure nacks with the configured
// requeue policy.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	if c == nil || c.channel == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if handler == nil {
		return fmt.Errorf("handler is nil")
	}

	deliveries, err := c.channel.Consume(
		c.cfg.Queue,
		c.tag,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("rabbitmq deliveries channel closed")
			}
			c.handleDelivery(ctx, delivery, handler)
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, delivery amqp.Delivery, handler Handler) {
	rec := Record{
		Body:       delivery.Body,
		ReceivedAt: headerString(delivery.Headers, receivedAtHeader),
	}

	if err := handler(ctx, rec); err != nil {
		c.logger.Error("record processing failed, leaving for redelivery",
			zap.Bool("requeue", c.cfg.RequeueOnError),
			zap.Bool("redelivered", delivery.Redelivered),
			zap.Error(err),
		)
		if nackErr := delivery.Nack(false, c.cfg.RequeueOnError); nackErr != nil {
			c.logger.Error("nack delivery", zap.Error(nackErr))
		}
		return
	}

	if ackErr := delivery.Ack(false); ackErr != nil {
		c.logger.Error("ack delivery", zap.Error(ackErr))
	}
}

func (c *Consumer) Close() error {
	if c == nil {
		return nil
	}
	if c.channel != nil {
		_ = c.channel.Cancel(c.tag, false)
		_ = c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func headerString(headers amqp.Table, key string) string {
	if headers == nil {
		return ""
	}
	if v, ok := headers[key].(string); ok {
		return v
	}
	return ""
}
