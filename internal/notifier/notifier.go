package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openbuilders/tip-engine/internal/metrics"
	"github.com/openbuilders/tip-engine/internal/repository"
	"github.com/openbuilders/tip-engine/internal/types"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	BatchSize    int
	PollInterval time.Duration
	DBTimeout    time.Duration
	Token        string
}

type Repository interface {
	CreateNotificationPair(ctx context.Context, sent, received types.Notification) (bool, error)
	ListUndeliveredNotifications(ctx context.Context) ([]types.Notification, error)
	MarkNotificationsDelivered(ctx context.Context, ids []string) (int64, error)
	ListNotificationsByUser(ctx context.Context, userID string, limit, offset int) ([]types.Notification, error)
	SetNotificationPreference(ctx context.Context, userID string, enabled bool) error
	GetTransaction(ctx context.Context, id string) (*types.Transaction, error)
	GetUser(ctx context.Context, id string) (*types.User, error)
}

// Deliverer hands a formatted notification to the delivery channel.
type Deliverer interface {
	Deliver(ctx context.Context, msg Message) error
}

type Message struct {
	NotificationID string                 `json:"notification_id"`
	UserID         string                 `json:"user_id"`
	TransactionID  string                 `json:"transaction_id"`
	Type           types.NotificationType `json:"type"`
	Amount         string                 `json:"amount"`
	Token          string                 `json:"token"`
	TxHash         string                 `json:"tx_hash"`
	Text           string                 `json:"text"`
}

type QueueResult struct {
	Processed int `json:"processed"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

type Notifier struct {
	config    *Config
	repo      Repository
	deliverer Deliverer
	now       func() time.Time
	log       *slog.Logger
}

func New(config *Config, repo Repository, deliverer Deliverer) *Notifier {
	return &Notifier{
		config:    config,
		repo:      repo,
		deliverer: deliverer,
		now:       time.Now,
		log:       slog.With("component", "notifier"),
	}
}

// CreateTransactionNotifications stores the tip_sent / tip_received pair of
// a transaction. Calling it again for the same transaction is a no-op.
func (n *Notifier) CreateTransactionNotifications(ctx context.Context, tx *types.Transaction) error {
	now := n.now()

	sent := types.Notification{
		ID:            uuid.NewString(),
		UserID:        tx.SenderID,
		TransactionID: tx.ID,
		Type:          types.NotificationTipSent,
		CreatedAt:     now,
	}
	received := types.Notification{
		ID:            uuid.NewString(),
		UserID:        tx.RecipientID,
		TransactionID: tx.ID,
		Type:          types.NotificationTipReceived,
		CreatedAt:     now,
	}

	created, err := n.repo.CreateNotificationPair(ctx, sent, received)
	if err != nil {
		return fmt.Errorf("create notifications for %s: %w", tx.ID, err)
	}

	if created {
		n.log.Debug("Created notification pair", "transaction", tx.ID)
	}

	return nil
}

// ProcessQueue delivers every undelivered notification in batches and marks
// the successful ones delivered in a single update. Failures are counted and
// left for the next pass.
func (n *Notifier) ProcessQueue(ctx context.Context) (QueueResult, error) {
	dbCtx, cancel := context.WithTimeout(ctx, n.config.DBTimeout)
	pending, err := n.repo.ListUndeliveredNotifications(dbCtx)
	cancel()
	if err != nil {
		return QueueResult{}, fmt.Errorf("couldn't load undelivered notifications: %w", err)
	}

	result := QueueResult{Processed: len(pending)}
	if len(pending) == 0 {
		return result, nil
	}

	var deliveredIDs []string

	for start := 0; start < len(pending); start += n.config.BatchSize {
		end := min(start+n.config.BatchSize, len(pending))
		batch := pending[start:end]
		outcomes := make([]error, len(batch))

		var g errgroup.Group
		for i := range batch {
			g.Go(func() error {
				outcomes[i] = n.deliver(ctx, batch[i])
				return nil
			})
		}
		g.Wait()

		for i, err := range outcomes {
			if err != nil {
				result.Failed++
				n.log.Error(
					"couldn't deliver notification",
					"notification", batch[i].ID,
					"error", err,
				)
				continue
			}
			result.Delivered++
			deliveredIDs = append(deliveredIDs, batch[i].ID)
		}
	}

	if len(deliveredIDs) > 0 {
		dbCtx, cancel := context.WithTimeout(ctx, n.config.DBTimeout)
		defer cancel()

		if _, err := n.repo.MarkNotificationsDelivered(dbCtx, deliveredIDs); err != nil {
			return result, fmt.Errorf("couldn't mark notifications delivered: %w", err)
		}
	}

	metrics.Notification("delivered", result.Delivered)
	metrics.Notification("failed", result.Failed)

	return result, nil
}

var errTransactionNotFound = errors.New("transaction not found")

func (n *Notifier) deliver(ctx context.Context, notification types.Notification) error {
	dbCtx, cancel := context.WithTimeout(ctx, n.config.DBTimeout)
	defer cancel()

	user, err := n.repo.GetUser(dbCtx, notification.UserID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("user lookup: %w", err)
	}

	if user == nil || !user.NotificationEnabled {
		// opted out users count as delivered
		n.log.Debug("Skipping notification, user opted out", "user", notification.UserID)
		return nil
	}

	tx, err := n.repo.GetTransaction(dbCtx, notification.TransactionID)
	if errors.Is(err, repository.ErrNotFound) {
		return errTransactionNotFound
	}
	if err != nil {
		return fmt.Errorf("transaction lookup: %w", err)
	}

	msg := Message{
		NotificationID: notification.ID,
		UserID:         notification.UserID,
		TransactionID:  tx.ID,
		Type:           notification.Type,
		Amount:         tx.Amount,
		Token:          tx.Token,
		TxHash:         tx.TxHash,
		Text:           FormatMessage(notification, tx),
	}

	return n.deliverer.Deliver(ctx, msg)
}

// FormatMessage renders the text shown to the owner of the notification.
func FormatMessage(notification types.Notification, tx *types.Transaction) string {
	if notification.Type == types.NotificationTipReceived {
		return fmt.Sprintf("You received a tip of %s %s from user %s!",
			tx.Amount, tx.Token, tx.SenderID)
	}

	return fmt.Sprintf("Your tip of %s %s to user %s has been sent!",
		tx.Amount, tx.Token, tx.RecipientID)
}

func (n *Notifier) UserNotifications(ctx context.Context, userID string,
	limit, offset int) ([]types.Notification, error) {

	dbCtx, cancel := context.WithTimeout(ctx, n.config.DBTimeout)
	defer cancel()

	return n.repo.ListNotificationsByUser(dbCtx, userID, limit, offset)
}

func (n *Notifier) Stats(ctx context.Context, userID string) (types.NotificationStats, error) {
	notifications, err := n.UserNotifications(ctx, userID, 1000, 0)
	if err != nil {
		return types.NotificationStats{}, err
	}

	stats := types.NotificationStats{Total: len(notifications)}
	for _, item := range notifications {
		if item.Delivered {
			stats.Delivered++
		} else {
			stats.Pending++
		}

		switch item.Type {
		case types.NotificationTipReceived:
			stats.TipReceived++
		case types.NotificationTipSent:
			stats.TipSent++
		}
	}

	return stats, nil
}

func (n *Notifier) SetPreference(ctx context.Context, userID string, enabled bool) error {
	dbCtx, cancel := context.WithTimeout(ctx, n.config.DBTimeout)
	defer cancel()

	return n.repo.SetNotificationPreference(dbCtx, userID, enabled)
}

// Start processes the queue every PollInterval until ctx is cancelled.
func (n *Notifier) Start(ctx context.Context) error {
	n.log.Info("Starting notifier...")

	pollInterval := time.Duration(0)

	for {
		select {
		case <-ctx.Done():
			n.log.Info("Stopping notifier.")
			return nil

		case <-time.After(pollInterval):
			pollInterval = n.config.PollInterval

			result, err := n.ProcessQueue(ctx)
			if err != nil {
				n.log.Error("couldn't process notification queue", "error", err)
				continue
			}

			if result.Processed > 0 {
				n.log.Debug(
					"Processed notification queue",
					"processed", result.Processed,
					"delivered", result.Delivered,
					"failed", result.Failed,
				)
			}
		}
	}
}
