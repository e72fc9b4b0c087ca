package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/openbuilders/tip-engine/internal/repository/memory"
	"github.com/openbuilders/tip-engine/internal/types"

	"github.com/stretchr/testify/require"
)

type recordingDeliverer struct {
	mu       sync.Mutex
	messages []Message
	failFor  string
}

func (d *recordingDeliverer) Deliver(ctx context.Context, msg Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if msg.UserID == d.failFor {
		return errors.New("channel unavailable")
	}
	d.messages = append(d.messages, msg)
	return nil
}

func setup(t *testing.T) (*Notifier, *memory.Repository, *recordingDeliverer) {
	t.Helper()

	repo := memory.New()
	deliverer := &recordingDeliverer{}
	n := New(&Config{
		BatchSize:    10,
		PollInterval: time.Second,
		DBTimeout:    time.Second,
		Token:        "TON",
	}, repo, deliverer)

	return n, repo, deliverer
}

func tip(id string) *types.Transaction {
	return &types.Transaction{
		ID:          id,
		SenderID:    "alice",
		RecipientID: "bob",
		Amount:      "0.01000000",
		Token:       "TON",
		TxHash:      "hash-" + id,
		Status:      types.StatusPending,
		CreatedAt:   time.Now(),
	}
}

func seed(t *testing.T, repo *memory.Repository, tx *types.Transaction, users ...types.User) {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, repo.CreateTransaction(ctx, tx))
	for _, u := range users {
		require.NoError(t, repo.UpsertUser(ctx, &u))
	}
}

func TestCreateTransactionNotificationsIsIdempotent(t *testing.T) {
	n, repo, _ := setup(t)
	ctx := context.Background()
	tx := tip("tx-1")

	require.NoError(t, n.CreateTransactionNotifications(ctx, tx))
	require.NoError(t, n.CreateTransactionNotifications(ctx, tx))

	pending, err := repo.ListUndeliveredNotifications(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	owners := map[types.NotificationType]string{}
	for _, item := range pending {
		owners[item.Type] = item.UserID
	}
	require.Equal(t, "alice", owners[types.NotificationTipSent])
	require.Equal(t, "bob", owners[types.NotificationTipReceived])
}

func TestProcessQueueDeliversAndMarks(t *testing.T) {
	n, repo, deliverer := setup(t)
	ctx := context.Background()
	tx := tip("tx-1")

	seed(t, repo, tx,
		types.User{ID: "alice", NotificationEnabled: true},
		types.User{ID: "bob", NotificationEnabled: true},
	)
	require.NoError(t, n.CreateTransactionNotifications(ctx, tx))

	result, err := n.ProcessQueue(ctx)
	require.NoError(t, err)
	require.Equal(t, QueueResult{Processed: 2, Delivered: 2}, result)
	require.Len(t, deliverer.messages, 2)

	texts := map[string]string{}
	for _, msg := range deliverer.messages {
		texts[msg.UserID] = msg.Text
	}
	require.Equal(t, "Your tip of 0.01000000 TON to user bob has been sent!", texts["alice"])
	require.Equal(t, "You received a tip of 0.01000000 TON from user alice!", texts["bob"])

	result, err = n.ProcessQueue(ctx)
	require.NoError(t, err)
	require.Zero(t, result.Processed)
}

func TestProcessQueueSkipsOptedOutUsers(t *testing.T) {
	n, repo, deliverer := setup(t)
	ctx := context.Background()
	tx := tip("tx-1")

	seed(t, repo, tx,
		types.User{ID: "alice", NotificationEnabled: false},
		types.User{ID: "bob", NotificationEnabled: true},
	)
	require.NoError(t, n.CreateTransactionNotifications(ctx, tx))

	result, err := n.ProcessQueue(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, result.Delivered)
	require.Len(t, deliverer.messages, 1)
	require.Equal(t, "bob", deliverer.messages[0].UserID)

	pending, err := repo.ListUndeliveredNotifications(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestProcessQueueCountsFailures(t *testing.T) {
	n, repo, deliverer := setup(t)
	ctx := context.Background()
	tx := tip("tx-1")
	deliverer.failFor = "bob"

	seed(t, repo, tx,
		types.User{ID: "alice", NotificationEnabled: true},
		types.User{ID: "bob", NotificationEnabled: true},
	)
	require.NoError(t, n.CreateTransactionNotifications(ctx, tx))

	// carol's notification points at a transaction that was never stored
	_, err := repo.CreateNotificationPair(ctx,
		types.Notification{ID: "n-sent", UserID: "carol", TransactionID: "ghost", Type: types.NotificationTipSent},
		types.Notification{ID: "n-recv", UserID: "bob", TransactionID: "ghost", Type: types.NotificationTipReceived},
	)
	require.NoError(t, err)
	require.NoError(t, repo.UpsertUser(ctx, &types.User{ID: "carol", NotificationEnabled: true}))

	result, err := n.ProcessQueue(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, result.Processed)
	require.Equal(t, 1, result.Delivered)
	require.Equal(t, 3, result.Failed)

	pending, err := repo.ListUndeliveredNotifications(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
}

func TestStatsAndPreference(t *testing.T) {
	n, repo, _ := setup(t)
	ctx := context.Background()

	for _, id := range []string{"tx-1", "tx-2"} {
		tx := tip(id)
		seed(t, repo, tx)
		require.NoError(t, n.CreateTransactionNotifications(ctx, tx))
	}

	require.NoError(t, n.SetPreference(ctx, "bob", true))

	_, err := n.ProcessQueue(ctx)
	require.NoError(t, err)

	stats, err := n.Stats(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, types.NotificationStats{
		Total:       2,
		Delivered:   2,
		TipReceived: 2,
	}, stats)

	user, err := repo.GetUser(ctx, "bob")
	require.NoError(t, err)
	require.True(t, user.NotificationEnabled)
}

func TestStartStopsOnCancel(t *testing.T) {
	n, _, _ := setup(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Start(ctx) }()

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("notifier did not stop")
	}
}
