package identity

import (
	"context"
	"testing"
	"time"

	apperr "github.com/openbuilders/tip-engine/internal/errors"
	"github.com/openbuilders/tip-engine/internal/repository/memory"
	"github.com/openbuilders/tip-engine/internal/types"

	"github.com/shopspring/decimal"
	"github.com/xssnick/tonutils-go/address"
)

const wallet = "EQD4FPq-PRD4YtG87wgL7AErgQwHUMFQ-JxyYw8jzBPhqsm3"

type fixedBalance decimal.Decimal

func (b fixedBalance) Balance(ctx context.Context, addr string) (decimal.Decimal, error) {
	return decimal.Decimal(b), nil
}

func newResolver(repo *memory.Repository) *Resolver {
	return New(&Config{DBTimeout: time.Second, ChainTimeout: time.Second},
		repo, fixedBalance(decimal.NewFromInt(3)))
}

func TestResolveWallet(t *testing.T) {
	repo := memory.New()
	r := newResolver(repo)
	ctx := context.Background()

	w, err := r.ResolveWallet(ctx, "ghost")
	if err != nil || w != nil {
		t.Fatalf("unknown user must resolve to nil, got %+v, %v", w, err)
	}

	if err := repo.UpsertUser(ctx, &types.User{ID: "alice"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w, err = r.ResolveWallet(ctx, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.Connected {
		t.Fatalf("user without address must not be connected")
	}

	w, err = r.ConnectWallet(ctx, "alice", wallet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !w.Connected || w.Address != address.MustParseAddr(wallet).String() {
		t.Fatalf("unexpected wallet: %+v", w)
	}

	w, err = r.ResolveWallet(ctx, "alice")
	if err != nil || !w.Connected {
		t.Fatalf("expected connected wallet, got %+v, %v", w, err)
	}

	balance, err := r.Balance(ctx, w.Address)
	if err != nil || !balance.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("unexpected balance %s, %v", balance, err)
	}
}

func TestConnectWalletCreatesUser(t *testing.T) {
	repo := memory.New()
	r := newResolver(repo)
	ctx := context.Background()

	if _, err := r.ConnectWallet(ctx, "bob", wallet); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	user, err := repo.GetUser(ctx, "bob")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !user.NotificationEnabled {
		t.Fatalf("new users must have notifications enabled")
	}
}

func TestConnectWalletRejectsGarbage(t *testing.T) {
	r := newResolver(memory.New())

	_, err := r.ConnectWallet(context.Background(), "bob", "not-an-address")
	if !apperr.Is(err, apperr.CodeWalletNotConnected) {
		t.Fatalf("expected WALLET_NOT_CONNECTED, got %v", err)
	}
}

func TestConnectWalletRejectsTestnetAddress(t *testing.T) {
	r := newResolver(memory.New())

	_, err := r.ConnectWallet(context.Background(), "bob", "kQD4FPq-PRD4YtG87wgL7AErgQwHUMFQ-JxyYw8jzBPhqnI9")
	if !apperr.Is(err, apperr.CodeWalletNotConnected) {
		t.Fatalf("expected WALLET_NOT_CONNECTED, got %v", err)
	}
}
