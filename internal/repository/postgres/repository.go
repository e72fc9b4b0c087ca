package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openbuilders/tip-engine/internal/fees"
	"github.com/openbuilders/tip-engine/internal/repository"
	"github.com/openbuilders/tip-engine/internal/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

const (
	DuplicateKeyValue string = "23505"
)

const transactionColumns = `id::text, sender_id, recipient_id, amount::text,
platform_fee::text, recipient_amount::text, token, tx_hash, fee_tx_hash,
status, created_at, confirmed_at`

const notificationColumns = `id::text, user_id, transaction_id::text, type,
delivered, created_at`

func (p *Postgres) CreateTransaction(ctx context.Context, tx *types.Transaction) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO transactions (id, sender_id, recipient_id, amount, platform_fee,
    recipient_amount, token, tx_hash, fee_tx_hash, status, created_at)
VALUES ($1, $2, $3, $4::text::numeric, $5::text::numeric, $6::text::numeric,
    $7, $8, $9, $10, $11)`,
		tx.ID,
		tx.SenderID,
		tx.RecipientID,
		tx.Amount,
		tx.PlatformFee,
		tx.RecipientAmount,
		tx.Token,
		tx.TxHash,
		tx.FeeTxHash,
		tx.Status,
		tx.CreatedAt,
	)
	if err != nil {
		return translate(err, "persist transaction")
	}

	return nil
}

func (p *Postgres) GetTransaction(ctx context.Context, id string) (*types.Transaction, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id::text = $1`, id)

	return scanTransaction(row)
}

func (p *Postgres) GetTransactionByTxHash(ctx context.Context, txHash string) (*types.Transaction, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE tx_hash = $1`, txHash)

	return scanTransaction(row)
}

// UpdateTransactionStatus moves a pending record to a terminal status. It
// reports false when the record was not pending anymore.
func (p *Postgres) UpdateTransactionStatus(ctx context.Context, id string,
	status types.TransactionStatus, confirmedAt *time.Time) (bool, error) {

	tag, err := p.pool.Exec(ctx, `
UPDATE transactions
SET status = $2,
    confirmed_at = COALESCE($3, confirmed_at)
WHERE id::text = $1 AND status = 'pending'`,
		id, status, confirmedAt,
	)
	if err != nil {
		return false, fmt.Errorf("update transaction status: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

func (p *Postgres) ListTransactionsByStatus(ctx context.Context,
	status types.TransactionStatus) ([]types.Transaction, error) {

	rows, err := p.pool.Query(ctx, `SELECT `+transactionColumns+`
FROM transactions WHERE status = $1 ORDER BY created_at ASC`, status)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	return collectTransactions(rows)
}

func (p *Postgres) TransactionHistory(ctx context.Context, userID string,
	limit, offset int) ([]types.Transaction, error) {

	rows, err := p.pool.Query(ctx, `SELECT `+transactionColumns+`
FROM transactions
WHERE sender_id = $1 OR recipient_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("transaction history: %w", err)
	}

	return collectTransactions(rows)
}

// DeleteFailedBefore applies the retention policy to failed records.
func (p *Postgres) DeleteFailedBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM transactions WHERE status = 'failed' AND created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("delete failed transactions: %w", err)
	}

	return tag.RowsAffected(), nil
}

// CreateNotificationPair inserts both notifications of a transaction in one
// database transaction. An existing pair is left untouched and reported as
// created == false.
func (p *Postgres) CreateNotificationPair(ctx context.Context,
	sent, received types.Notification) (bool, error) {

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	inserted := int64(0)
	for _, n := range []types.Notification{sent, received} {
		tag, err := tx.Exec(ctx, `
INSERT INTO notifications (id, user_id, transaction_id, type, delivered, created_at)
VALUES ($1, $2, $3, $4, FALSE, $5)
ON CONFLICT (transaction_id, type) DO NOTHING`,
			n.ID, n.UserID, n.TransactionID, n.Type, n.CreatedAt,
		)
		if err != nil {
			return false, translate(err, "persist notification")
		}
		inserted += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit notifications: %w", err)
	}

	return inserted > 0, nil
}

func (p *Postgres) ListUndeliveredNotifications(ctx context.Context) ([]types.Notification, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+notificationColumns+`
FROM notifications WHERE NOT delivered ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list undelivered: %w", err)
	}

	return collectNotifications(rows)
}

func (p *Postgres) ListNotificationsByUser(ctx context.Context, userID string,
	limit, offset int) ([]types.Notification, error) {

	rows, err := p.pool.Query(ctx, `SELECT `+notificationColumns+`
FROM notifications WHERE user_id = $1
ORDER BY created_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}

	return collectNotifications(rows)
}

func (p *Postgres) MarkNotificationsDelivered(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tag, err := p.pool.Exec(ctx,
		`UPDATE notifications SET delivered = TRUE WHERE id::text = ANY($1) AND NOT delivered`, ids)
	if err != nil {
		return 0, fmt.Errorf("mark delivered: %w", err)
	}

	return tag.RowsAffected(), nil
}

func (p *Postgres) GetUser(ctx context.Context, id string) (*types.User, error) {
	var u types.User
	err := p.pool.QueryRow(ctx, `
SELECT id, wallet_address, notification_enabled, created_at, updated_at
FROM users WHERE id = $1`, id).Scan(
		&u.ID,
		&u.WalletAddress,
		&u.NotificationEnabled,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

func (p *Postgres) UpsertUser(ctx context.Context, u *types.User) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO users (id, wallet_address, notification_enabled)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE
SET wallet_address = EXCLUDED.wallet_address,
    notification_enabled = EXCLUDED.notification_enabled,
    updated_at = NOW()`,
		u.ID, u.WalletAddress, u.NotificationEnabled,
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}

	return nil
}

func (p *Postgres) SetNotificationPreference(ctx context.Context, userID string, enabled bool) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO users (id, notification_enabled)
VALUES ($1, $2)
ON CONFLICT (id) DO UPDATE
SET notification_enabled = EXCLUDED.notification_enabled,
    updated_at = NOW()`, userID, enabled)
	if err != nil {
		return fmt.Errorf("set notification preference: %w", err)
	}

	return nil
}

func scanTransaction(row pgx.Row) (*types.Transaction, error) {
	var tx types.Transaction
	err := row.Scan(
		&tx.ID,
		&tx.SenderID,
		&tx.RecipientID,
		&tx.Amount,
		&tx.PlatformFee,
		&tx.RecipientAmount,
		&tx.Token,
		&tx.TxHash,
		&tx.FeeTxHash,
		&tx.Status,
		&tx.CreatedAt,
		&tx.ConfirmedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan transaction: %w", err)
	}

	if err := normalizeAmounts(&tx); err != nil {
		return nil, err
	}

	return &tx, nil
}

// normalizeAmounts undoes the NUMERIC scale padding, so amounts read back the
// way the fee engine wrote them.
func normalizeAmounts(tx *types.Transaction) error {
	amount, err := decimal.NewFromString(tx.Amount)
	if err != nil {
		return fmt.Errorf("scan transaction amount: %w", err)
	}
	fee, err := decimal.NewFromString(tx.PlatformFee)
	if err != nil {
		return fmt.Errorf("scan transaction platform fee: %w", err)
	}
	recipient, err := decimal.NewFromString(tx.RecipientAmount)
	if err != nil {
		return fmt.Errorf("scan transaction recipient amount: %w", err)
	}

	tx.Amount = amount.String()
	tx.PlatformFee = fee.StringFixed(fees.Precision)
	tx.RecipientAmount = recipient.StringFixed(fees.Precision)

	return nil
}

func collectTransactions(rows pgx.Rows) ([]types.Transaction, error) {
	defer rows.Close()

	var txs []types.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *tx)
	}

	return txs, rows.Err()
}

func collectNotifications(rows pgx.Rows) ([]types.Notification, error) {
	defer rows.Close()

	var notifications []types.Notification
	for rows.Next() {
		var n types.Notification
		if err := rows.Scan(
			&n.ID,
			&n.UserID,
			&n.TransactionID,
			&n.Type,
			&n.Delivered,
			&n.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}

func translate(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == DuplicateKeyValue {
		return repository.ErrDuplicateKeyValue
	}
	return fmt.Errorf("%s: %w", op, err)
}
