// Package recovery reconciles pending transactions against the chain.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openbuilders/tip-engine/internal/metrics"
	"github.com/openbuilders/tip-engine/internal/repository"
	"github.com/openbuilders/tip-engine/internal/sender"
	"github.com/openbuilders/tip-engine/internal/types"

	"golang.org/x/sync/errgroup"
)

type Config struct {
	BatchSize  int
	BatchDelay time.Duration
	// PendingTimeout moves a still pending record to manual review.
	PendingTimeout time.Duration
	// StuckThreshold is the age after which a pending record raises an alert.
	StuckThreshold time.Duration
	// ReportPendingLimit is the pending count above which the report
	// recommends a health check.
	ReportPendingLimit int
	DBTimeout          time.Duration
}

type Repository interface {
	GetTransaction(ctx context.Context, id string) (*types.Transaction, error)
	ListTransactionsByStatus(ctx context.Context, status types.TransactionStatus) ([]types.Transaction, error)
}

// Tracker reads chain status and persists terminal transitions.
type Tracker interface {
	GetTransactionStatus(ctx context.Context, txHash string) sender.StatusInfo
	ApplyStatus(ctx context.Context, tx *types.Transaction, status types.TransactionStatus) (bool, error)
}

type Action string

const (
	ActionCompleted    Action = "completed"
	ActionRefund       Action = "refund"
	ActionManualReview Action = "manual_review"
	ActionRetry        Action = "retry"
)

type Result struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transactionId"`
	Action        Action `json:"action"`
	Message       string `json:"message"`
	// StatusChanged is true only for the run that persisted the terminal
	// status. A refund is started only when it is set.
	StatusChanged bool `json:"statusChanged"`
}

type BatchResult struct {
	Processed int      `json:"processed"`
	Recovered int      `json:"recovered"`
	Failed    int      `json:"failed"`
	Results   []Result `json:"results"`
}

type StuckReport struct {
	StuckCount     int      `json:"stuckCount"`
	AlertSent      bool     `json:"alertSent"`
	TransactionIDs []string `json:"transactionIds,omitempty"`
}

type Report struct {
	TotalPending  int     `json:"totalPending"`
	OldestPending *string `json:"oldestPending"`
	// AveragePendingTime is in seconds.
	AveragePendingTime int64    `json:"averagePendingTime"`
	RecommendedActions []string `json:"recommendedActions"`
}

type Service struct {
	config  *Config
	repo    Repository
	tracker Tracker
	now     func() time.Time
	log     *slog.Logger
}

func New(config *Config, repo Repository, tracker Tracker) *Service {
	return &Service{
		config:  config,
		repo:    repo,
		tracker: tracker,
		now:     time.Now,
		log:     slog.With("component", "recovery"),
	}
}

// RecoverTransaction derives the status of one record from the chain. It
// never returns an error, every failure ends in manual review.
func (s *Service) RecoverTransaction(ctx context.Context, id string) Result {
	dbCtx, cancel := context.WithTimeout(ctx, s.config.DBTimeout)
	tx, err := s.repo.GetTransaction(dbCtx, id)
	cancel()

	if errors.Is(err, repository.ErrNotFound) {
		return Result{TransactionID: id, Action: ActionManualReview, Message: "Transaction not found"}
	}
	if err != nil {
		s.log.Error("couldn't load transaction for recovery", "transaction", id, "error", err)
		return Result{TransactionID: id, Action: ActionManualReview,
			Message: "Recovery process failed, requires manual review"}
	}

	switch tx.Status {
	case types.StatusConfirmed:
		return Result{Success: true, TransactionID: id, Action: ActionCompleted,
			Message: "Transaction already confirmed"}
	case types.StatusFailed:
		return Result{TransactionID: id, Action: ActionRefund, Message: "Transaction already failed"}
	}

	info := s.tracker.GetTransactionStatus(ctx, tx.TxHash)

	switch info.Status {
	case types.StatusConfirmed:
		changed, err := s.tracker.ApplyStatus(ctx, tx, types.StatusConfirmed)
		if err != nil {
			return s.applyFailed(tx, err)
		}
		return Result{Success: true, TransactionID: id, Action: ActionCompleted,
			Message: "Transaction confirmed on chain", StatusChanged: changed}

	case types.StatusFailed:
		changed, err := s.tracker.ApplyStatus(ctx, tx, types.StatusFailed)
		if err != nil {
			return s.applyFailed(tx, err)
		}
		if changed {
			s.log.Warn("transaction failed on chain, refund required",
				"transaction", id, "tx_hash", tx.TxHash, "sender", tx.SenderID)
		}
		return Result{TransactionID: id, Action: ActionRefund,
			Message: "Transaction failed on chain, refund initiated", StatusChanged: changed}
	}

	age := s.now().Sub(tx.CreatedAt)
	if age > s.config.PendingTimeout {
		s.log.Warn("transaction pending too long", "transaction", id, "sender", tx.SenderID, "age", age)
		return Result{TransactionID: id, Action: ActionManualReview,
			Message: "Transaction pending too long, requires manual review"}
	}

	return Result{TransactionID: id, Action: ActionRetry, Message: "Transaction still pending, will retry later"}
}

func (s *Service) applyFailed(tx *types.Transaction, err error) Result {
	s.log.Error("couldn't persist recovered status", "transaction", tx.ID, "error", err)
	return Result{TransactionID: tx.ID, Action: ActionManualReview,
		Message: "Recovery process failed, requires manual review"}
}

// RecoverAllPendingTransactions runs RecoverTransaction over every pending
// record, BatchSize at a time with BatchDelay between batches.
func (s *Service) RecoverAllPendingTransactions(ctx context.Context) (*BatchResult, error) {
	pending, err := s.pending(ctx)
	if err != nil {
		return nil, err
	}

	metrics.SetPending(len(pending))

	out := &BatchResult{
		Processed: len(pending),
		Results:   make([]Result, 0, len(pending)),
	}

	for start := 0; start < len(pending); start += s.config.BatchSize {
		if start > 0 {
			select {
			case <-ctx.Done():
				return out, ctx.Err()
			case <-time.After(s.config.BatchDelay):
			}
		}

		end := min(start+s.config.BatchSize, len(pending))
		batch := pending[start:end]
		results := make([]Result, len(batch))

		var g errgroup.Group
		for i := range batch {
			g.Go(func() error {
				results[i] = s.RecoverTransaction(ctx, batch[i].ID)
				return nil
			})
		}
		g.Wait()

		for _, r := range results {
			metrics.RecoveryOutcome(string(r.Action))
			if r.Success {
				out.Recovered++
			} else {
				out.Failed++
			}
		}
		out.Results = append(out.Results, results...)
	}

	if out.Processed > 0 {
		s.log.Info(
			"recovery pass finished",
			"processed", out.Processed,
			"recovered", out.Recovered,
			"failed", out.Failed,
		)
	}

	return out, nil
}

// CheckForStuckTransactions reports records pending longer than
// StuckThreshold and raises an alert when there are any.
func (s *Service) CheckForStuckTransactions(ctx context.Context) (*StuckReport, error) {
	pending, err := s.pending(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	report := &StuckReport{}
	for _, tx := range pending {
		if now.Sub(tx.CreatedAt) > s.config.StuckThreshold {
			report.TransactionIDs = append(report.TransactionIDs, tx.ID)
		}
	}

	report.StuckCount = len(report.TransactionIDs)
	if report.StuckCount > 0 {
		s.log.Warn(
			"found stuck transactions",
			"count", report.StuckCount,
			"threshold", s.config.StuckThreshold,
			"transactions", report.TransactionIDs,
		)
		report.AlertSent = true
	}

	return report, nil
}

func (s *Service) GenerateRecoveryReport(ctx context.Context) (*Report, error) {
	pending, err := s.pending(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{
		TotalPending:       len(pending),
		RecommendedActions: []string{},
	}
	if len(pending) == 0 {
		return report, nil
	}

	now := s.now()
	var total, oldest time.Duration
	for i, tx := range pending {
		age := now.Sub(tx.CreatedAt)
		total += age
		if i == 0 || age > oldest {
			oldest = age
			id := tx.ID
			report.OldestPending = &id
		}
	}

	average := total / time.Duration(len(pending))
	report.AveragePendingTime = int64(average.Round(time.Second) / time.Second)

	if oldest > time.Hour {
		report.RecommendedActions = append(report.RecommendedActions,
			"Review transactions older than 1 hour")
	}
	if len(pending) > s.config.ReportPendingLimit {
		report.RecommendedActions = append(report.RecommendedActions,
			"High number of pending transactions - check system health")
	}
	if average > s.config.PendingTimeout {
		report.RecommendedActions = append(report.RecommendedActions,
			"Average pending time is high - investigate network issues")
	}

	return report, nil
}

func (s *Service) pending(ctx context.Context) ([]types.Transaction, error) {
	dbCtx, cancel := context.WithTimeout(ctx, s.config.DBTimeout)
	defer cancel()

	pending, err := s.repo.ListTransactionsByStatus(dbCtx, types.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("couldn't list pending transactions: %w", err)
	}

	return pending, nil
}
