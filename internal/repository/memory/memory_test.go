package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openbuilders/tip-engine/internal/repository"
	"github.com/openbuilders/tip-engine/internal/types"
)

func TestUpdateStatusOnlyFromPending(t *testing.T) {
	r := New()
	ctx := context.Background()

	err := r.CreateTransaction(ctx, &types.Transaction{ID: "t1", TxHash: "h1", Status: types.StatusPending})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	now := time.Now()
	updated, err := r.UpdateTransactionStatus(ctx, "t1", types.StatusConfirmed, &now)
	if err != nil || !updated {
		t.Fatalf("expected the pending record to be confirmed, updated=%v err=%v", updated, err)
	}

	updated, err = r.UpdateTransactionStatus(ctx, "t1", types.StatusFailed, nil)
	if err != nil || updated {
		t.Fatalf("terminal records must not change, updated=%v err=%v", updated, err)
	}

	tx, _ := r.GetTransaction(ctx, "t1")
	if tx.Status != types.StatusConfirmed || tx.ConfirmedAt == nil {
		t.Fatalf("unexpected record: %+v", tx)
	}

	if _, err := r.UpdateTransactionStatus(ctx, "missing", types.StatusFailed, nil); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDuplicateTxHash(t *testing.T) {
	r := New()
	ctx := context.Background()

	_ = r.CreateTransaction(ctx, &types.Transaction{ID: "t1", TxHash: "h1"})
	err := r.CreateTransaction(ctx, &types.Transaction{ID: "t2", TxHash: "h1"})
	if !errors.Is(err, repository.ErrDuplicateKeyValue) {
		t.Fatalf("expected duplicate key error, got %v", err)
	}
}

func TestNotificationPairIsIdempotent(t *testing.T) {
	r := New()
	ctx := context.Background()

	pair := func(suffix string) (types.Notification, types.Notification) {
		return types.Notification{ID: "s" + suffix, UserID: "alice", TransactionID: "t1", Type: types.NotificationTipSent},
			types.Notification{ID: "r" + suffix, UserID: "bob", TransactionID: "t1", Type: types.NotificationTipReceived}
	}

	sent, received := pair("1")
	created, err := r.CreateNotificationPair(ctx, sent, received)
	if err != nil || !created {
		t.Fatalf("first pair must be created, created=%v err=%v", created, err)
	}

	sent, received = pair("2")
	created, err = r.CreateNotificationPair(ctx, sent, received)
	if err != nil || created {
		t.Fatalf("second pair must be a no-op, created=%v err=%v", created, err)
	}

	undelivered, _ := r.ListUndeliveredNotifications(ctx)
	if len(undelivered) != 2 {
		t.Fatalf("expected exactly two notifications, got %d", len(undelivered))
	}

	n, _ := r.MarkNotificationsDelivered(ctx, []string{"s1", "s1", "unknown"})
	if n != 1 {
		t.Fatalf("expected one update, got %d", n)
	}

	undelivered, _ = r.ListUndeliveredNotifications(ctx)
	if len(undelivered) != 1 || undelivered[0].ID != "r1" {
		t.Fatalf("unexpected undelivered set: %+v", undelivered)
	}
}

func TestHistoryPaging(t *testing.T) {
	r := New()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		_ = r.CreateTransaction(ctx, &types.Transaction{
			ID: id, TxHash: "h" + id, SenderID: "alice", RecipientID: "bob",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	txs, _ := r.TransactionHistory(ctx, "bob", 2, 0)
	if len(txs) != 2 || txs[0].ID != "c" || txs[1].ID != "b" {
		t.Fatalf("unexpected first page: %+v", txs)
	}

	txs, _ = r.TransactionHistory(ctx, "alice", 2, 2)
	if len(txs) != 1 || txs[0].ID != "a" {
		t.Fatalf("unexpected second page: %+v", txs)
	}
}
