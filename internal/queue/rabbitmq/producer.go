package rabbitmq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const receivedAtHeader = "received_at"

// Producer publishes raw update bodies to a durable queue. The body is
// passed through verbatim; the receipt timestamp travels as a message
// header so the consumer side never has to unwrap an envelope.
type Producer struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	queueName string
	now       func() time.Time
}

func NewProducer(url, queueName string, logger *zap.Logger) (*Producer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := connectWithRetry(url, 10, 5*time.Second, logger)
	if err != nil {
		return nil, err
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if _, err := declareQueue(channel, queueName); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, err
	}

	logger.Info("rabbitmq producer ready", zap.String("queue", queueName))

	return &Producer{
		conn:      conn,
		channel:   channel,
		queueName: queueName,
		now:       time.Now,
	}, nil
}

// Publish enqueues one message with the given verbatim body and a
// received_at header in ISO-8601 UTC.
func (p *Producer) Publish(ctx context.Context, body []byte) error {
	if p == nil || p.channel == nil {
		return fmt.Errorf("producer is not initialized")
	}
	if len(body) == 0 {
		return fmt.Errorf("message body is empty")
	}

	err := p.channel.PublishWithContext(ctx,
		"",          // exchange
		p.queueName, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Headers: amqp.Table{
				receivedAtHeader: p.now().UTC().Format(time.RFC3339),
			},
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	return nil
}

func (p *Producer) Close() error {
	if p == nil {
		return nil
	}
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func declareQueue(channel *amqp.Channel, queueName string) (amqp.Queue, error) {
	q, err := channel.QueueDeclare(
		queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return amqp.Queue{}, fmt.Errorf("declare queue %q: %w", queueName, err)
	}
	return q, nil
}

func connectWithRetry(url string, maxRetries int, delay time.Duration, logger *zap.Logger) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error

	for i := 0; i < maxRetries; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}

		logger.Warn("rabbitmq connect failed",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", maxRetries),
			zap.Error(err),
		)
		if i < maxRetries-1 {
			time.Sleep(delay)
		}
	}

	return nil, fmt.Errorf("connect to rabbitmq after %d attempts: %w", maxRetries, err)
}
