// Package sender executes tips on chain and tracks their status.
//
// A tip is two independent transfers: the recipient's share, which must
// succeed, and the platform fee, whose failure is recorded but never blocks
// the tip.
package sender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	apperr "github.com/openbuilders/tip-engine/internal/errors"
	"github.com/openbuilders/tip-engine/internal/fees"
	"github.com/openbuilders/tip-engine/internal/metrics"
	"github.com/openbuilders/tip-engine/internal/repository"
	"github.com/openbuilders/tip-engine/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Config struct {
	Token          string
	PlatformWallet string
	DBTimeout      time.Duration
	ChainTimeout   time.Duration
	// FeeTimeout bounds the fee leg, which waits for the primary transfer
	// to free the sender wallet seqno. Defaults to ChainTimeout.
	FeeTimeout time.Duration
}

// Chain submits transfers and reports their receipts. Receipt returns nil
// without error while the transfer is not known to the chain yet.
type Chain interface {
	Broadcast(ctx context.Context, from, to string, amount decimal.Decimal) (string, error)
	Receipt(ctx context.Context, txHash string) (*types.Receipt, error)
}

type Validator interface {
	ValidateTransaction(ctx context.Context, params types.TipParams) error
	CalculateFee(amount string) (fees.Calculation, error)
}

type Repository interface {
	CreateTransaction(ctx context.Context, tx *types.Transaction) error
	GetTransaction(ctx context.Context, id string) (*types.Transaction, error)
	UpdateTransactionStatus(ctx context.Context, id string,
		status types.TransactionStatus, confirmedAt *time.Time) (bool, error)
}

type Notifications interface {
	CreateTransactionNotifications(ctx context.Context, tx *types.Transaction) error
}

// FeeTransfer is the outcome of the platform fee leg. TxHash is set only
// when Collected is true, otherwise Reason explains why nothing was sent.
type FeeTransfer struct {
	Collected bool   `json:"collected"`
	TxHash    string `json:"txHash,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type TransactionResult struct {
	TransactionID   string                  `json:"transactionId"`
	TxHash          string                  `json:"txHash"`
	Fee             FeeTransfer             `json:"fee"`
	Status          types.TransactionStatus `json:"status"`
	PlatformFee     string                  `json:"platformFee"`
	RecipientAmount string                  `json:"recipientAmount"`
}

type StatusInfo struct {
	Status      types.TransactionStatus `json:"status"`
	BlockNumber uint64                  `json:"blockNumber,omitempty"`
	GasUsed     string                  `json:"gasUsed,omitempty"`
}

type Sender struct {
	config        *Config
	validator     Validator
	chain         Chain
	repo          Repository
	notifications Notifications
	now           func() time.Time
	log           *slog.Logger
}

func New(config *Config, validator Validator, chain Chain, repo Repository,
	notifications Notifications) *Sender {
	return &Sender{
		config:        config,
		validator:     validator,
		chain:         chain,
		repo:          repo,
		notifications: notifications,
		now:           time.Now,
		log:           slog.With("component", "sender"),
	}
}

// SendTip validates the request, broadcasts both legs and persists a
// pending transaction record.
func (s *Sender) SendTip(ctx context.Context, params types.TipParams) (*TransactionResult, error) {
	if params.Token == "" {
		params.Token = s.config.Token
	}

	if err := s.validator.ValidateTransaction(ctx, params); err != nil {
		metrics.TipSent("rejected")
		return nil, err
	}

	calc, err := s.validator.CalculateFee(params.Amount)
	if err != nil {
		return nil, err
	}

	recipientAmount, err := decimal.NewFromString(calc.RecipientAmount)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "invalid recipient amount", err)
	}

	txHash, err := s.broadcast(ctx, s.config.ChainTimeout, params.SenderAddress,
		params.RecipientAddress, recipientAmount)
	if err != nil {
		s.log.Error(
			"primary transfer failed",
			"sender", params.SenderID,
			"recipient", params.RecipientID,
			"amount", calc.RecipientAmount,
			"error", err,
		)
		metrics.TipSent("failed")

		return nil, apperr.Wrap(apperr.CodeTransactionFailed,
			fmt.Sprintf("Transaction failed: %v", err), err)
	}

	fee := s.sendFee(ctx, params, calc.PlatformFee, txHash)

	tx := &types.Transaction{
		ID:              uuid.NewString(),
		SenderID:        params.SenderID,
		RecipientID:     params.RecipientID,
		Amount:          params.Amount,
		PlatformFee:     calc.PlatformFee,
		RecipientAmount: calc.RecipientAmount,
		Token:           params.Token,
		TxHash:          txHash,
		Status:          types.StatusPending,
		CreatedAt:       s.now(),
	}
	if fee.Collected {
		feeTxHash := fee.TxHash
		tx.FeeTxHash = &feeTxHash
	}

	dbCtx, cancel := context.WithTimeout(ctx, s.config.DBTimeout)
	defer cancel()

	if err := s.repo.CreateTransaction(dbCtx, tx); err != nil {
		// the transfer is already on chain, keep enough to reconcile by hand
		s.log.Error(
			"couldn't persist broadcast transaction",
			"tx_hash", txHash,
			"fee_tx_hash", fee.TxHash,
			"sender", params.SenderID,
			"recipient", params.RecipientID,
			"error", err,
		)
		return nil, apperr.Wrap(apperr.CodeInternal, "couldn't persist transaction", err)
	}

	if err := s.notifications.CreateTransactionNotifications(dbCtx, tx); err != nil {
		s.log.Error("couldn't create notifications", "transaction", tx.ID, "error", err)
	}

	metrics.TipSent("submitted")
	s.log.Info(
		"tip submitted",
		"transaction", tx.ID,
		"tx_hash", txHash,
		"fee_collected", fee.Collected,
	)

	return &TransactionResult{
		TransactionID:   tx.ID,
		TxHash:          txHash,
		Fee:             fee,
		Status:          types.StatusPending,
		PlatformFee:     calc.PlatformFee,
		RecipientAmount: calc.RecipientAmount,
	}, nil
}

// sendFee never fails the tip. Failures are logged for manual
// reconciliation and are not retried.
func (s *Sender) sendFee(ctx context.Context, params types.TipParams,
	platformFee, primaryHash string) FeeTransfer {

	amount, err := decimal.NewFromString(platformFee)
	if err != nil {
		return FeeTransfer{Reason: "invalid fee amount"}
	}

	if !amount.IsPositive() {
		return FeeTransfer{Reason: "no fee due"}
	}

	if s.config.PlatformWallet == "" {
		s.log.Warn("platform wallet is not configured, fee not collected", "tx_hash", primaryHash)
		return FeeTransfer{Reason: "platform wallet not configured"}
	}

	timeout := s.config.FeeTimeout
	if timeout <= 0 {
		timeout = s.config.ChainTimeout
	}

	feeHash, err := s.broadcast(ctx, timeout, params.SenderAddress, s.config.PlatformWallet, amount)
	if err != nil {
		metrics.FeeTransferFailed()
		s.log.Error(
			"platform fee transfer failed",
			"reconcile", "manual",
			"tx_hash", primaryHash,
			"sender", params.SenderID,
			"fee", platformFee,
			"error", err,
		)
		return FeeTransfer{Reason: err.Error()}
	}

	return FeeTransfer{Collected: true, TxHash: feeHash}
}

func (s *Sender) broadcast(ctx context.Context, timeout time.Duration, from, to string,
	amount decimal.Decimal) (string, error) {

	chainCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return s.chain.Broadcast(chainCtx, from, to, amount)
}

// GetTransactionStatus asks the chain for the receipt of txHash. A missing
// receipt or a failed query is reported as pending, only an explicit revert
// is a failure.
func (s *Sender) GetTransactionStatus(ctx context.Context, txHash string) StatusInfo {
	chainCtx, cancel := context.WithTimeout(ctx, s.config.ChainTimeout)
	defer cancel()

	receipt, err := s.chain.Receipt(chainCtx, txHash)
	if err != nil {
		s.log.Warn("receipt lookup failed", "tx_hash", txHash, "error", err)
		return StatusInfo{Status: types.StatusPending}
	}

	if receipt == nil {
		return StatusInfo{Status: types.StatusPending}
	}

	info := StatusInfo{
		Status:      types.StatusConfirmed,
		BlockNumber: receipt.BlockNumber,
		GasUsed:     receipt.GasUsed,
	}
	if receipt.Status == types.ReceiptReverted {
		info.Status = types.StatusFailed
	}

	return info
}

// UpdateTransactionStatus re-checks a pending transaction and persists a
// terminal status once the chain reports one.
func (s *Sender) UpdateTransactionStatus(ctx context.Context, id string) (types.TransactionStatus, error) {
	tx, err := s.getTransaction(ctx, id)
	if err != nil {
		return "", err
	}

	if tx.Status.IsTerminal() {
		return tx.Status, nil
	}

	info := s.GetTransactionStatus(ctx, tx.TxHash)
	if info.Status == types.StatusPending {
		return types.StatusPending, nil
	}

	if _, err := s.ApplyStatus(ctx, tx, info.Status); err != nil {
		return "", err
	}

	return info.Status, nil
}

// ApplyStatus persists a terminal status for a pending record and creates
// the notifications of a confirmed one. It reports whether the record
// changed.
func (s *Sender) ApplyStatus(ctx context.Context, tx *types.Transaction,
	status types.TransactionStatus) (bool, error) {

	var confirmedAt *time.Time
	if status == types.StatusConfirmed {
		now := s.now()
		confirmedAt = &now
	}

	dbCtx, cancel := context.WithTimeout(ctx, s.config.DBTimeout)
	defer cancel()

	updated, err := s.repo.UpdateTransactionStatus(dbCtx, tx.ID, status, confirmedAt)
	if err != nil {
		return false, apperr.Wrap(apperr.CodeInternal, "couldn't update transaction status", err)
	}

	if !updated {
		return false, nil
	}

	metrics.StatusTransition(string(status))
	s.log.Info("transaction status updated", "transaction", tx.ID, "status", status)

	if status == types.StatusConfirmed {
		tx.Status = status
		tx.ConfirmedAt = confirmedAt
		if err := s.notifications.CreateTransactionNotifications(dbCtx, tx); err != nil {
			s.log.Error("couldn't create notifications", "transaction", tx.ID, "error", err)
		}
	}

	return true, nil
}

func (s *Sender) getTransaction(ctx context.Context, id string) (*types.Transaction, error) {
	dbCtx, cancel := context.WithTimeout(ctx, s.config.DBTimeout)
	defer cancel()

	tx, err := s.repo.GetTransaction(dbCtx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.New(apperr.CodeTransactionNotFound, "Transaction not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "couldn't load transaction", err)
	}

	return tx, nil
}
