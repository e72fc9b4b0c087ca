package notifier

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openbuilders/tip-engine/internal/queue"
)

const (
	PatternTipNotification = "tip-notification"
)

type Publisher interface {
	Publish(queueName queue.QueueName, message []byte) error
}

type payload struct {
	Pattern string  `json:"pattern"`
	Data    Message `json:"data"`
}

// QueueDeliverer publishes notifications to the delivery service queue.
type QueueDeliverer struct {
	publisher Publisher
	queueName queue.QueueName
}

func NewQueueDeliverer(publisher Publisher, queueName queue.QueueName) *QueueDeliverer {
	return &QueueDeliverer{
		publisher: publisher,
		queueName: queueName,
	}
}

func (d *QueueDeliverer) Deliver(ctx context.Context, msg Message) error {
	jsonData, err := json.Marshal(payload{
		Pattern: PatternTipNotification,
		Data:    msg,
	})
	if err != nil {
		return fmt.Errorf("error marshaling notification: %w", err)
	}

	return d.publisher.Publish(d.queueName, jsonData)
}
