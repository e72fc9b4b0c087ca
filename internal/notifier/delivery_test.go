package notifier

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/openbuilders/tip-engine/internal/queue"

	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	queueName queue.QueueName
	body      []byte
}

func (p *capturePublisher) Publish(queueName queue.QueueName, message []byte) error {
	p.queueName = queueName
	p.body = message
	return nil
}

func TestQueueDelivererPublishesEnvelope(t *testing.T) {
	publisher := &capturePublisher{}
	d := NewQueueDeliverer(publisher, queue.QueueTipNotifications)

	err := d.Deliver(context.Background(), Message{
		NotificationID: "n-1",
		UserID:         "bob",
		Type:           "tip_received",
		Text:           "hello",
	})
	require.NoError(t, err)
	require.Equal(t, queue.QueueTipNotifications, publisher.queueName)

	var decoded struct {
		Pattern string  `json:"pattern"`
		Data    Message `json:"data"`
	}
	require.NoError(t, json.Unmarshal(publisher.body, &decoded))
	require.Equal(t, PatternTipNotification, decoded.Pattern)
	require.Equal(t, "bob", decoded.Data.UserID)
	require.Equal(t, "hello", decoded.Data.Text)
}
