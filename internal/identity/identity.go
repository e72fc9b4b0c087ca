// Package identity maps users to their chain wallets.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	apperr "github.com/openbuilders/tip-engine/internal/errors"
	"github.com/openbuilders/tip-engine/internal/repository"
	"github.com/openbuilders/tip-engine/internal/types"

	"github.com/shopspring/decimal"
	"github.com/xssnick/tonutils-go/address"
)

type Config struct {
	DBTimeout    time.Duration
	ChainTimeout time.Duration
	// Testnet makes ConnectWallet accept testnet-only addresses.
	Testnet bool
}

type Repository interface {
	GetUser(ctx context.Context, id string) (*types.User, error)
	UpsertUser(ctx context.Context, u *types.User) error
}

type BalanceSource interface {
	Balance(ctx context.Context, address string) (decimal.Decimal, error)
}

type Resolver struct {
	config   *Config
	users    Repository
	balances BalanceSource
	log      *slog.Logger
}

func New(config *Config, users Repository, balances BalanceSource) *Resolver {
	return &Resolver{
		config:   config,
		users:    users,
		balances: balances,
		log:      slog.With("component", "identity"),
	}
}

// ResolveWallet returns nil without error for unknown users.
func (r *Resolver) ResolveWallet(ctx context.Context, userID string) (*types.Wallet, error) {
	dbCtx, cancel := context.WithTimeout(ctx, r.config.DBTimeout)
	defer cancel()

	user, err := r.users.GetUser(dbCtx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("user lookup: %w", err)
	}

	return &types.Wallet{
		UserID:    user.ID,
		Address:   user.WalletAddress,
		Connected: user.WalletAddress != "",
	}, nil
}

func (r *Resolver) Balance(ctx context.Context, addr string) (decimal.Decimal, error) {
	chainCtx, cancel := context.WithTimeout(ctx, r.config.ChainTimeout)
	defer cancel()

	return r.balances.Balance(chainCtx, addr)
}

// ConnectWallet links a user friendly TON address to the user, creating the
// user on first use. The address is stored in its canonical form.
func (r *Resolver) ConnectWallet(ctx context.Context, userID, rawAddress string) (*types.Wallet, error) {
	addr, err := address.ParseAddr(rawAddress)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeWalletNotConnected, "Invalid wallet address", err)
	}

	if addr.IsTestnetOnly() && !r.config.Testnet {
		return nil, apperr.New(apperr.CodeWalletNotConnected, "Testnet address is not accepted")
	}

	dbCtx, cancel := context.WithTimeout(ctx, r.config.DBTimeout)
	defer cancel()

	user, err := r.users.GetUser(dbCtx, userID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		user = &types.User{ID: userID, NotificationEnabled: true}
	case err != nil:
		return nil, apperr.Wrap(apperr.CodeInternal, "couldn't load user", err)
	}

	user.WalletAddress = addr.String()
	if err := r.users.UpsertUser(dbCtx, user); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "couldn't save wallet", err)
	}

	r.log.Info("wallet connected", "user", userID, "address", user.WalletAddress)

	return &types.Wallet{UserID: userID, Address: user.WalletAddress, Connected: true}, nil
}
