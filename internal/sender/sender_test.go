package sender

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	apperr "github.com/openbuilders/tip-engine/internal/errors"
	"github.com/openbuilders/tip-engine/internal/fees"
	"github.com/openbuilders/tip-engine/internal/repository/memory"
	"github.com/openbuilders/tip-engine/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const platformWallet = "EQplatform"

type fakeChain struct {
	mu        sync.Mutex
	counter   int
	transfers []string
	failTo    map[string]error
	receipts  map[string]*types.Receipt
	receiptFn func(txHash string) (*types.Receipt, error)
	balance   decimal.Decimal
	deadlines map[string]time.Duration
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		failTo:   make(map[string]error),
		receipts:  make(map[string]*types.Receipt),
		balance:   decimal.NewFromInt(10),
		deadlines: make(map[string]time.Duration),
	}
}

func (c *fakeChain) Broadcast(ctx context.Context, from, to string, amount decimal.Decimal) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		c.deadlines[to] = time.Until(deadline)
	}

	if err, ok := c.failTo[to]; ok {
		return "", err
	}

	c.counter++
	c.transfers = append(c.transfers, fmt.Sprintf("%s->%s:%s", from, to, amount))
	return fmt.Sprintf("hash-%d", c.counter), nil
}

func (c *fakeChain) Receipt(ctx context.Context, txHash string) (*types.Receipt, error) {
	if c.receiptFn != nil {
		return c.receiptFn(txHash)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.receipts[txHash], nil
}

func (c *fakeChain) GasEstimate(ctx context.Context, from, to string, amount decimal.Decimal) (uint64, error) {
	return 10000, nil
}

func (c *fakeChain) GasPrice(ctx context.Context) (decimal.Decimal, error) {
	return decimal.NewFromInt(400), nil
}

func (c *fakeChain) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	return c.balance, nil
}

type recordedNotifications struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordedNotifications) CreateTransactionNotifications(ctx context.Context, tx *types.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, tx.ID)
	return nil
}

type fixture struct {
	sender        *Sender
	chain         *fakeChain
	repo          *memory.Repository
	notifications *recordedNotifications
}

func setup(t *testing.T, wallet string) *fixture {
	t.Helper()

	chain := newFakeChain()
	repo := memory.New()
	notifications := &recordedNotifications{}

	engine := fees.New(&fees.Config{
		Token:            "TON",
		FeePercentage:    decimal.NewFromInt(1),
		MinAmount:        decimal.RequireFromString("0.001"),
		MaxAmount:        decimal.NewFromInt(100),
		Decimals:         9,
		DefaultGasLimit:  10000,
		DefaultGasPrice:  decimal.NewFromInt(400),
		GasBufferPercent: 20,
	}, chain, chain)

	s := New(&Config{
		Token:          "TON",
		PlatformWallet: wallet,
		DBTimeout:      time.Second,
		ChainTimeout:   time.Second,
	}, engine, chain, repo, notifications)

	return &fixture{sender: s, chain: chain, repo: repo, notifications: notifications}
}

func params(amount string) types.TipParams {
	return types.TipParams{
		SenderID:         "alice",
		RecipientID:      "bob",
		SenderAddress:    "EQalice",
		RecipientAddress: "EQbob",
		Amount:           amount,
	}
}

func TestFeeLegHasItsOwnTimeout(t *testing.T) {
	f := setup(t, platformWallet)
	f.sender.config.FeeTimeout = time.Minute

	_, err := f.sender.SendTip(context.Background(), params("1"))
	require.NoError(t, err)

	f.chain.mu.Lock()
	defer f.chain.mu.Unlock()

	require.LessOrEqual(t, f.chain.deadlines["EQbob"], time.Second)
	require.Greater(t, f.chain.deadlines[platformWallet], time.Second)
}

func TestFeeTimeoutDefaultsToChainTimeout(t *testing.T) {
	f := setup(t, platformWallet)

	_, err := f.sender.SendTip(context.Background(), params("1"))
	require.NoError(t, err)

	f.chain.mu.Lock()
	defer f.chain.mu.Unlock()

	require.LessOrEqual(t, f.chain.deadlines[platformWallet], time.Second)
	require.Greater(t, f.chain.deadlines[platformWallet], time.Duration(0))
}

func TestSendTipBroadcastsBothLegs(t *testing.T) {
	f := setup(t, platformWallet)
	ctx := context.Background()

	result, err := f.sender.SendTip(ctx, params("1"))
	require.NoError(t, err)
	require.Equal(t, types.StatusPending, result.Status)
	require.Equal(t, "0.01000000", result.PlatformFee)
	require.Equal(t, "0.99000000", result.RecipientAmount)
	require.True(t, result.Fee.Collected)
	require.Equal(t, []string{
		"EQalice->EQbob:0.99",
		"EQalice->EQplatform:0.01",
	}, f.chain.transfers)

	tx, err := f.repo.GetTransaction(ctx, result.TransactionID)
	require.NoError(t, err)
	require.Equal(t, types.StatusPending, tx.Status)
	require.Equal(t, result.TxHash, tx.TxHash)
	require.NotNil(t, tx.FeeTxHash)
	require.Equal(t, result.Fee.TxHash, *tx.FeeTxHash)
	require.Equal(t, "TON", tx.Token)
	require.Equal(t, []string{tx.ID}, f.notifications.calls)
}

func TestSendTipSurvivesFeeFailure(t *testing.T) {
	f := setup(t, platformWallet)
	f.chain.failTo[platformWallet] = errors.New("seqno mismatch")
	ctx := context.Background()

	result, err := f.sender.SendTip(ctx, params("1"))
	require.NoError(t, err)
	require.False(t, result.Fee.Collected)
	require.Equal(t, "seqno mismatch", result.Fee.Reason)

	tx, err := f.repo.GetTransaction(ctx, result.TransactionID)
	require.NoError(t, err)
	require.Equal(t, types.StatusPending, tx.Status)
	require.Nil(t, tx.FeeTxHash)
}

func TestSendTipWithoutPlatformWallet(t *testing.T) {
	f := setup(t, "")

	result, err := f.sender.SendTip(context.Background(), params("1"))
	require.NoError(t, err)
	require.False(t, result.Fee.Collected)
	require.Equal(t, "platform wallet not configured", result.Fee.Reason)
	require.Len(t, f.chain.transfers, 1)
}

func TestSendTipPrimaryFailure(t *testing.T) {
	f := setup(t, platformWallet)
	f.chain.failTo["EQbob"] = errors.New("wallet not deployed")

	result, err := f.sender.SendTip(context.Background(), params("1"))
	require.Nil(t, result)
	require.True(t, apperr.Is(err, apperr.CodeTransactionFailed))
	require.Contains(t, err.Error(), "Transaction failed: wallet not deployed")
	require.Empty(t, f.chain.transfers)

	pending, err := f.repo.ListTransactionsByStatus(context.Background(), types.StatusPending)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestSendTipRejectsInvalidRequest(t *testing.T) {
	f := setup(t, platformWallet)
	f.chain.balance = decimal.RequireFromString("0.5")

	_, err := f.sender.SendTip(context.Background(), params("1"))
	require.True(t, apperr.Is(err, apperr.CodeInsufficientBalance))
	require.Empty(t, f.chain.transfers)
}

func TestGetTransactionStatusMapping(t *testing.T) {
	f := setup(t, platformWallet)
	ctx := context.Background()

	f.chain.receipts["ok"] = &types.Receipt{Status: types.ReceiptSuccess, BlockNumber: 42, GasUsed: "3100"}
	f.chain.receipts["bad"] = &types.Receipt{Status: types.ReceiptReverted, BlockNumber: 43}

	info := f.sender.GetTransactionStatus(ctx, "ok")
	require.Equal(t, StatusInfo{Status: types.StatusConfirmed, BlockNumber: 42, GasUsed: "3100"}, info)

	require.Equal(t, types.StatusFailed, f.sender.GetTransactionStatus(ctx, "bad").Status)
	require.Equal(t, types.StatusPending, f.sender.GetTransactionStatus(ctx, "unknown").Status)

	f.chain.receiptFn = func(string) (*types.Receipt, error) {
		return nil, errors.New("liteserver timeout")
	}
	require.Equal(t, types.StatusPending, f.sender.GetTransactionStatus(ctx, "ok").Status)
}

func TestUpdateTransactionStatus(t *testing.T) {
	f := setup(t, platformWallet)
	ctx := context.Background()

	result, err := f.sender.SendTip(ctx, params("1"))
	require.NoError(t, err)

	status, err := f.sender.UpdateTransactionStatus(ctx, result.TransactionID)
	require.NoError(t, err)
	require.Equal(t, types.StatusPending, status)

	f.chain.receipts[result.TxHash] = &types.Receipt{Status: types.ReceiptSuccess, BlockNumber: 7}

	status, err = f.sender.UpdateTransactionStatus(ctx, result.TransactionID)
	require.NoError(t, err)
	require.Equal(t, types.StatusConfirmed, status)

	tx, err := f.repo.GetTransaction(ctx, result.TransactionID)
	require.NoError(t, err)
	require.Equal(t, types.StatusConfirmed, tx.Status)
	require.NotNil(t, tx.ConfirmedAt)
	require.Len(t, f.notifications.calls, 2)

	// terminal records are never re-checked
	f.chain.receipts[result.TxHash] = &types.Receipt{Status: types.ReceiptReverted}
	status, err = f.sender.UpdateTransactionStatus(ctx, result.TransactionID)
	require.NoError(t, err)
	require.Equal(t, types.StatusConfirmed, status)
	require.Len(t, f.notifications.calls, 2)
}

func TestUpdateTransactionStatusNotFound(t *testing.T) {
	f := setup(t, platformWallet)

	_, err := f.sender.UpdateTransactionStatus(context.Background(), "missing")
	require.True(t, apperr.Is(err, apperr.CodeTransactionNotFound))
}

func TestApplyStatusOnlyFromPending(t *testing.T) {
	f := setup(t, platformWallet)
	ctx := context.Background()

	result, err := f.sender.SendTip(ctx, params("1"))
	require.NoError(t, err)

	tx, err := f.repo.GetTransaction(ctx, result.TransactionID)
	require.NoError(t, err)

	updated, err := f.sender.ApplyStatus(ctx, tx, types.StatusFailed)
	require.NoError(t, err)
	require.True(t, updated)

	updated, err = f.sender.ApplyStatus(ctx, tx, types.StatusConfirmed)
	require.NoError(t, err)
	require.False(t, updated)

	stored, err := f.repo.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusFailed, stored.Status)
	require.Nil(t, stored.ConfirmedAt)
}
