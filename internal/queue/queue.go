package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type QueueName string

const (
	QueueTipNotifications QueueName = "tip-notifications"
)

var ErrNotConnected = errors.New("connection is not open yet")

type Config struct {
	URL               string
	ReconnectInterval time.Duration
	ConnectTimeout    time.Duration
}

// Queue keeps a single broker connection alive and publishes messages over
// short-lived channels.
type Queue struct {
	config   *Config
	conn     *amqp.Connection
	declared map[QueueName]bool
	mu       sync.Mutex
	log      *slog.Logger
}

func New(config *Config) *Queue {
	return &Queue{
		config:   config,
		declared: make(map[QueueName]bool),
		log:      slog.With("component", "queue"),
	}
}

func (q *Queue) Start(ctx context.Context) error {
	q.log.Info("Starting the queue manager.")
	defer q.log.Info("Stopping the queue manager.")

	err := q.reconnectLoop(ctx)
	q.close()

	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

// Connected reports whether a broker connection is currently open.
func (q *Queue) Connected() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.conn != nil && !q.conn.IsClosed()
}

func (q *Queue) reconnectLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		q.log.Info("connecting to Rabbit MQ...")
		conn, err := q.connect()
		if err != nil {
			q.log.Error("connection to Rabbit MQ failed", "error", err)
			if !sleep(ctx, q.config.ReconnectInterval) {
				return ctx.Err()
			}
			continue
		}

		q.log.Info("connected to Rabbit MQ")

		connErrors := conn.NotifyClose(make(chan *amqp.Error, 1))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-connErrors:
			q.log.Error("rabbit mq connection closed", "error", err)
		}

		q.mu.Lock()
		q.conn = nil
		clear(q.declared)
		q.mu.Unlock()

		if !sleep(ctx, q.config.ReconnectInterval) {
			return ctx.Err()
		}
	}
}

func (q *Queue) connect() (*amqp.Connection, error) {
	conn, err := amqp.DialConfig(q.config.URL, amqp.Config{
		Dial: amqp.DefaultDial(q.config.ConnectTimeout),
	})
	if err != nil {
		return nil, err
	}

	q.mu.Lock()
	q.conn = conn
	q.mu.Unlock()

	return conn, nil
}

func (q *Queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.conn != nil {
		_ = q.conn.Close()
		q.conn = nil
	}
}

// Publish sends a persistent JSON message to the named queue, declaring it
// durable on first use.
func (q *Queue) Publish(queueName QueueName, message []byte) error {
	q.mu.Lock()
	conn := q.conn
	declared := q.declared[queueName]
	q.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("couldn't open channel: %w", err)
	}
	defer ch.Close()

	if !declared {
		if _, err := ch.QueueDeclare(string(queueName), true, false, false, false, nil); err != nil {
			return fmt.Errorf("couldn't declare queue %s: %w", queueName, err)
		}

		q.mu.Lock()
		q.declared[queueName] = true
		q.mu.Unlock()
	}

	err = ch.Publish(
		"",                // default exchange
		string(queueName), // routing key = queue name
		false,             // mandatory
		false,             // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         message,
		},
	)
	if err != nil {
		q.log.Error("Failed to publish", "queue", queueName, "error", err)
		return err
	}

	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
