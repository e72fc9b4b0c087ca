// Package memory is an in-process implementation of the tipping
// repositories, used by tests and by the server when no database is
// configured.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/openbuilders/tip-engine/internal/repository"
	"github.com/openbuilders/tip-engine/internal/types"
)

type Repository struct {
	transactions  map[string]types.Transaction
	notifications map[string]types.Notification
	users         map[string]types.User
	mu            sync.RWMutex
}

func New() *Repository {
	return &Repository{
		transactions:  make(map[string]types.Transaction),
		notifications: make(map[string]types.Notification),
		users:         make(map[string]types.User),
	}
}

func (r *Repository) CreateTransaction(ctx context.Context, tx *types.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.transactions[tx.ID]; ok {
		return repository.ErrDuplicateKeyValue
	}
	for _, existing := range r.transactions {
		if existing.TxHash == tx.TxHash {
			return repository.ErrDuplicateKeyValue
		}
	}

	r.transactions[tx.ID] = cloneTransaction(*tx)
	return nil
}

func (r *Repository) GetTransaction(ctx context.Context, id string) (*types.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tx, ok := r.transactions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}

	tx = cloneTransaction(tx)
	return &tx, nil
}

func (r *Repository) GetTransactionByTxHash(ctx context.Context, txHash string) (*types.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, tx := range r.transactions {
		if tx.TxHash == txHash {
			tx = cloneTransaction(tx)
			return &tx, nil
		}
	}

	return nil, repository.ErrNotFound
}

func (r *Repository) UpdateTransactionStatus(ctx context.Context, id string,
	status types.TransactionStatus, confirmedAt *time.Time) (bool, error) {

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, ok := r.transactions[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if tx.Status != types.StatusPending {
		return false, nil
	}

	tx.Status = status
	if confirmedAt != nil {
		at := *confirmedAt
		tx.ConfirmedAt = &at
	}
	r.transactions[id] = tx

	return true, nil
}

func (r *Repository) ListTransactionsByStatus(ctx context.Context,
	status types.TransactionStatus) ([]types.Transaction, error) {

	return r.filterTransactions(func(tx types.Transaction) bool {
		return tx.Status == status
	}, false), nil
}

func (r *Repository) TransactionHistory(ctx context.Context, userID string,
	limit, offset int) ([]types.Transaction, error) {

	txs := r.filterTransactions(func(tx types.Transaction) bool {
		return tx.SenderID == userID || tx.RecipientID == userID
	}, true)

	return page(txs, limit, offset), nil
}

func (r *Repository) DeleteFailedBefore(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for id, tx := range r.transactions {
		if tx.Status == types.StatusFailed && tx.CreatedAt.Before(before) {
			delete(r.transactions, id)
			deleted++
			for nid, n := range r.notifications {
				if n.TransactionID == id {
					delete(r.notifications, nid)
				}
			}
		}
	}

	return deleted, nil
}

func (r *Repository) CreateNotificationPair(ctx context.Context,
	sent, received types.Notification) (bool, error) {

	r.mu.Lock()
	defer r.mu.Unlock()

	inserted := false
	for _, n := range []types.Notification{sent, received} {
		if r.hasNotification(n.TransactionID, n.Type) {
			continue
		}
		n.Delivered = false
		r.notifications[n.ID] = n
		inserted = true
	}

	return inserted, nil
}

func (r *Repository) ListUndeliveredNotifications(ctx context.Context) ([]types.Notification, error) {
	return r.filterNotifications(func(n types.Notification) bool {
		return !n.Delivered
	}, false), nil
}

func (r *Repository) ListNotificationsByUser(ctx context.Context, userID string,
	limit, offset int) ([]types.Notification, error) {

	ns := r.filterNotifications(func(n types.Notification) bool {
		return n.UserID == userID
	}, true)

	return page(ns, limit, offset), nil
}

func (r *Repository) MarkNotificationsDelivered(ctx context.Context, ids []string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var updated int64
	for _, id := range ids {
		n, ok := r.notifications[id]
		if !ok || n.Delivered {
			continue
		}
		n.Delivered = true
		r.notifications[id] = n
		updated++
	}

	return updated, nil
}

func (r *Repository) GetUser(ctx context.Context, id string) (*types.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}

	return &u, nil
}

func (r *Repository) UpsertUser(ctx context.Context, u *types.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	existing, ok := r.users[u.ID]
	if ok {
		existing.WalletAddress = u.WalletAddress
		existing.NotificationEnabled = u.NotificationEnabled
		existing.UpdatedAt = now
		r.users[u.ID] = existing
		return nil
	}

	user := *u
	user.CreatedAt, user.UpdatedAt = now, now
	r.users[u.ID] = user

	return nil
}

func (r *Repository) SetNotificationPreference(ctx context.Context, userID string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	u, ok := r.users[userID]
	if !ok {
		u = types.User{ID: userID, CreatedAt: now}
	}
	u.NotificationEnabled = enabled
	u.UpdatedAt = now
	r.users[userID] = u

	return nil
}

func (r *Repository) hasNotification(transactionID string, t types.NotificationType) bool {
	for _, n := range r.notifications {
		if n.TransactionID == transactionID && n.Type == t {
			return true
		}
	}
	return false
}

func (r *Repository) filterTransactions(keep func(types.Transaction) bool,
	newestFirst bool) []types.Transaction {

	r.mu.RLock()
	defer r.mu.RUnlock()

	var txs []types.Transaction
	for _, tx := range r.transactions {
		if keep(tx) {
			txs = append(txs, cloneTransaction(tx))
		}
	}

	sort.Slice(txs, func(i, j int) bool {
		if newestFirst {
			return txs[i].CreatedAt.After(txs[j].CreatedAt)
		}
		return txs[i].CreatedAt.Before(txs[j].CreatedAt)
	})

	return txs
}

func (r *Repository) filterNotifications(keep func(types.Notification) bool,
	newestFirst bool) []types.Notification {

	r.mu.RLock()
	defer r.mu.RUnlock()

	var ns []types.Notification
	for _, n := range r.notifications {
		if keep(n) {
			ns = append(ns, n)
		}
	}

	sort.Slice(ns, func(i, j int) bool {
		if ns[i].CreatedAt.Equal(ns[j].CreatedAt) {
			return ns[i].ID < ns[j].ID
		}
		if newestFirst {
			return ns[i].CreatedAt.After(ns[j].CreatedAt)
		}
		return ns[i].CreatedAt.Before(ns[j].CreatedAt)
	})

	return ns
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func cloneTransaction(tx types.Transaction) types.Transaction {
	if tx.FeeTxHash != nil {
		h := *tx.FeeTxHash
		tx.FeeTxHash = &h
	}
	if tx.ConfirmedAt != nil {
		at := *tx.ConfirmedAt
		tx.ConfirmedAt = &at
	}
	return tx
}
