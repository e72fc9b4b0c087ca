package fees

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	apperr "github.com/openbuilders/tip-engine/internal/errors"
	"github.com/openbuilders/tip-engine/internal/types"

	"github.com/shopspring/decimal"
)

// Precision is the number of fractional digits of fee outputs.
const Precision = 8

var amountRegex = regexp.MustCompile(`^\d+(\.\d+)?$`)

type Config struct {
	Token         string
	FeePercentage decimal.Decimal
	MinAmount     decimal.Decimal
	MaxAmount     decimal.Decimal
	// Decimals is the number of fractional digits of the chain's base unit.
	Decimals int32
	// Fallbacks used when the estimation endpoints fail.
	DefaultGasLimit  uint64
	DefaultGasPrice  decimal.Decimal
	GasBufferPercent int64
}

// GasOracle estimates the network cost of a transfer. Gas price is in base
// units of the chain currency.
type GasOracle interface {
	GasEstimate(ctx context.Context, from, to string, amount decimal.Decimal) (uint64, error)
	GasPrice(ctx context.Context) (decimal.Decimal, error)
}

// BalanceSource reports the spendable balance of an address.
type BalanceSource interface {
	Balance(ctx context.Context, address string) (decimal.Decimal, error)
}

type Calculation struct {
	OriginalAmount  string          `json:"originalAmount"`
	PlatformFee     string          `json:"platformFee"`
	RecipientAmount string          `json:"recipientAmount"`
	FeePercentage   decimal.Decimal `json:"feePercentage"`
}

type CostEstimate struct {
	GasEstimate uint64 `json:"gasEstimate"`
	GasCost     string `json:"gasCost"`
	TotalCost   string `json:"totalCost"`
}

type Engine struct {
	config   *Config
	gas      GasOracle
	balances BalanceSource
	log      *slog.Logger
}

func New(config *Config, gas GasOracle, balances BalanceSource) *Engine {
	return &Engine{
		config:   config,
		gas:      gas,
		balances: balances,
		log:      slog.With("component", "fees"),
	}
}

func (e *Engine) Token() string {
	return e.config.Token
}

// ValidateTipAmount checks user supplied text and returns the normalized
// amount on success.
func (e *Engine) ValidateTipAmount(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", apperr.New(apperr.CodeInvalidAmount, "Amount is required")
	}

	if !amountRegex.MatchString(trimmed) {
		return "", apperr.New(apperr.CodeInvalidAmount, "Invalid amount format")
	}

	amount, err := decimal.NewFromString(trimmed)
	if err != nil {
		return "", apperr.Wrap(apperr.CodeInvalidAmount, "Invalid amount format", err)
	}

	if amount.LessThan(e.config.MinAmount) {
		return "", apperr.New(apperr.CodeInvalidAmount,
			fmt.Sprintf("Minimum amount is %s %s", e.config.MinAmount, e.config.Token))
	}

	if amount.GreaterThan(e.config.MaxAmount) {
		return "", apperr.New(apperr.CodeInvalidAmount,
			fmt.Sprintf("Maximum amount is %s %s", e.config.MaxAmount, e.config.Token))
	}

	return trimmed, nil
}

// CalculateFee splits amount into the platform fee and the recipient share.
// platformFee + recipientAmount equals amount within one unit of the last
// fractional digit.
func (e *Engine) CalculateFee(amount string) (Calculation, error) {
	original, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return Calculation{}, apperr.Wrap(apperr.CodeInvalidAmount, "Invalid amount format", err)
	}

	fee := original.Mul(e.config.FeePercentage).Div(decimal.NewFromInt(100)).Round(Precision)
	recipient := original.Sub(fee).Round(Precision)

	return Calculation{
		OriginalAmount:  amount,
		PlatformFee:     fee.StringFixed(Precision),
		RecipientAmount: recipient.StringFixed(Precision),
		FeePercentage:   e.config.FeePercentage,
	}, nil
}

// ValidateTransaction checks limits and that the sender can cover the amount
// plus the estimated network cost.
func (e *Engine) ValidateTransaction(ctx context.Context, params types.TipParams) error {
	amount, err := decimal.NewFromString(strings.TrimSpace(params.Amount))
	if err != nil {
		return apperr.Wrap(apperr.CodeInvalidAmount, "Invalid amount format", err)
	}

	if !amount.IsPositive() {
		return apperr.New(apperr.CodeInvalidAmount, "Amount must be greater than 0")
	}

	if amount.GreaterThan(e.config.MaxAmount) {
		return apperr.New(apperr.CodeInvalidAmount,
			fmt.Sprintf("Amount exceeds maximum limit of %s %s", e.config.MaxAmount, e.config.Token))
	}

	estimate := e.estimate(ctx, params.SenderAddress, params.RecipientAddress, amount)
	required := amount.Add(estimate.cost)

	balance, err := e.balances.Balance(ctx, params.SenderAddress)
	if err != nil {
		e.log.Warn("balance lookup failed", "sender", params.SenderID, "error", err)
		return apperr.Wrap(apperr.CodeValidationFailed, "Transaction validation failed", err)
	}

	if balance.LessThan(required) {
		details := &apperr.InsufficientBalanceError{
			Current:  balance.String(),
			Required: required.String(),
			Token:    e.config.Token,
		}
		return apperr.Wrap(apperr.CodeInsufficientBalance, details.Error(), details)
	}

	return nil
}

// EstimateTransactionCost reports the gas units, the network cost and the
// total amount the sender needs.
func (e *Engine) EstimateTransactionCost(ctx context.Context, params types.TipParams) (CostEstimate, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(params.Amount))
	if err != nil {
		return CostEstimate{}, apperr.Wrap(apperr.CodeInvalidAmount, "Invalid amount format", err)
	}

	estimate := e.estimate(ctx, params.SenderAddress, params.RecipientAddress, amount)

	return CostEstimate{
		GasEstimate: estimate.units,
		GasCost:     estimate.cost.String(),
		TotalCost:   amount.Add(estimate.cost).String(),
	}, nil
}

type gasEstimate struct {
	units uint64
	cost  decimal.Decimal
}

// estimate never fails: estimation errors degrade to configured defaults.
func (e *Engine) estimate(ctx context.Context, from, to string,
	amount decimal.Decimal) gasEstimate {

	units, err := e.gas.GasEstimate(ctx, from, to, amount)
	if err != nil {
		e.log.Warn("gas estimation failed, using default limit",
			"default", e.config.DefaultGasLimit, "error", err)
		units = e.config.DefaultGasLimit
	} else if e.config.GasBufferPercent > 0 {
		units = units * uint64(100+e.config.GasBufferPercent) / 100
	}

	price, err := e.gas.GasPrice(ctx)
	if err != nil {
		e.log.Warn("gas price lookup failed, using default price",
			"default", e.config.DefaultGasPrice, "error", err)
		price = e.config.DefaultGasPrice
	}

	cost := decimal.NewFromInt(int64(units)).Mul(price).Shift(-e.config.Decimals)

	return gasEstimate{units: units, cost: cost}
}
