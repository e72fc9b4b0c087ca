package fees

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"testing"

	apperr "github.com/openbuilders/tip-engine/internal/errors"
	"github.com/openbuilders/tip-engine/internal/types"

	"github.com/shopspring/decimal"
)

type stubChain struct {
	units    uint64
	unitsErr error
	price    decimal.Decimal
	priceErr error
	balance  decimal.Decimal
	balErr   error
}

func (s *stubChain) GasEstimate(ctx context.Context, from, to string, amount decimal.Decimal) (uint64, error) {
	return s.units, s.unitsErr
}

func (s *stubChain) GasPrice(ctx context.Context) (decimal.Decimal, error) {
	return s.price, s.priceErr
}

func (s *stubChain) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	return s.balance, s.balErr
}

func testConfig() *Config {
	return &Config{
		Token:            "TON",
		FeePercentage:    decimal.NewFromInt(1),
		MinAmount:        decimal.RequireFromString("0.001"),
		MaxAmount:        decimal.RequireFromString("0.1"),
		Decimals:         9,
		DefaultGasLimit:  21000,
		DefaultGasPrice:  decimal.NewFromInt(1000),
		GasBufferPercent: 20,
	}
}

func newEngine(chain *stubChain) *Engine {
	return New(testConfig(), chain, chain)
}

func TestCalculateFeeScenario(t *testing.T) {
	e := newEngine(&stubChain{})

	calc, err := e.CalculateFee("0.1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if calc.PlatformFee != "0.00100000" {
		t.Fatalf("unexpected fee, want: 0.00100000, got: %s", calc.PlatformFee)
	}
	if calc.RecipientAmount != "0.09900000" {
		t.Fatalf("unexpected recipient amount, want: 0.09900000, got: %s", calc.RecipientAmount)
	}
}

func TestCalculateFeeReconstructsAmount(t *testing.T) {
	tolerance := decimal.New(1, -Precision)

	for _, pct := range []string{"1", "2.5", "20", "33.333"} {
		cfg := testConfig()
		cfg.FeePercentage = decimal.RequireFromString(pct)
		e := New(cfg, &stubChain{}, &stubChain{})

		// walk the whole valid range in 0.000137 steps plus awkward precisions
		amounts := []string{"0.001", "0.1", "0.0123456789", "0.099999999999", "0.0033333333"}
		for a := decimal.RequireFromString("0.001"); a.LessThanOrEqual(cfg.MaxAmount); a = a.Add(decimal.RequireFromString("0.000137")) {
			amounts = append(amounts, a.String())
		}

		for _, amount := range amounts {
			calc, err := e.CalculateFee(amount)
			if err != nil {
				t.Fatalf("fee %s%%, amount %s: unexpected error: %v", pct, amount, err)
			}

			sum := decimal.RequireFromString(calc.PlatformFee).
				Add(decimal.RequireFromString(calc.RecipientAmount))
			diff := sum.Sub(decimal.RequireFromString(amount)).Abs()
			if diff.GreaterThan(tolerance) {
				t.Fatalf("fee %s%%, amount %s: fee %s + recipient %s is off by %s",
					pct, amount, calc.PlatformFee, calc.RecipientAmount, diff)
			}
		}
	}
}

func TestValidateTipAmount(t *testing.T) {
	e := newEngine(&stubChain{})

	cases := []struct {
		input   string
		want    string
		message string
	}{
		{input: "0.01", want: "0.01"},
		{input: " 0.05 ", want: "0.05"},
		{input: "0.001", want: "0.001"},
		{input: "0.1", want: "0.1"},
		{input: "", message: "Amount is required"},
		{input: "   ", message: "Amount is required"},
		{input: "abc", message: "Invalid amount format"},
		{input: "-0.01", message: "Invalid amount format"},
		{input: "1e-2", message: "Invalid amount format"},
		{input: "0.0009", message: "Minimum amount is 0.001"},
		{input: "1.0", message: "Maximum amount is 0.1"},
		{input: "0.1000001", message: "Maximum amount is 0.1"},
	}

	for _, c := range cases {
		got, err := e.ValidateTipAmount(c.input)
		if c.message == "" {
			if err != nil {
				t.Errorf("%q: unexpected error: %v", c.input, err)
			} else if got != c.want {
				t.Errorf("%q: want %q, got %q", c.input, c.want, got)
			}
			continue
		}

		if err == nil {
			t.Errorf("%q: expected an error, got amount %q", c.input, got)
			continue
		}
		if !apperr.Is(err, apperr.CodeInvalidAmount) {
			t.Errorf("%q: unexpected code %s", c.input, apperr.CodeOf(err))
		}
		if !strings.Contains(err.Error(), c.message) {
			t.Errorf("%q: want message containing %q, got %q", c.input, c.message, err.Error())
		}
	}
}

func TestValidateTipAmountRejectsOutOfRange(t *testing.T) {
	e := newEngine(&stubChain{})

	step := decimal.RequireFromString("0.0001")
	for a := decimal.Zero; a.LessThan(decimal.RequireFromString("0.001")); a = a.Add(step) {
		if _, err := e.ValidateTipAmount(a.StringFixed(4)); err == nil {
			t.Fatalf("amount %s below minimum was accepted", a.StringFixed(4))
		}
	}

	for _, above := range []string{"0.10000001", "0.2", "1", "100"} {
		if _, err := e.ValidateTipAmount(above); err == nil {
			t.Fatalf("amount %s above maximum was accepted", above)
		}
	}
}

func TestValidateTransactionInsufficientBalance(t *testing.T) {
	e := newEngine(&stubChain{
		units:   21000,
		price:   decimal.Zero,
		balance: decimal.RequireFromString("0.01"),
	})

	err := e.ValidateTransaction(context.Background(), types.TipParams{
		SenderID:      "alice",
		SenderAddress: "EQsender",
		Amount:        "0.05",
	})
	if !apperr.Is(err, apperr.CodeInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got: %v", err)
	}

	var details *apperr.InsufficientBalanceError
	if !stderrors.As(err, &details) {
		t.Fatal("expected balance details in the error chain")
	}
	if details.Current != "0.01" || details.Required != "0.05" {
		t.Fatalf("unexpected figures: current %s, required %s", details.Current, details.Required)
	}
	if !strings.Contains(err.Error(), "0.01") || !strings.Contains(err.Error(), "0.05") {
		t.Fatalf("message must cite both balances: %s", err.Error())
	}
}

func TestValidateTransactionIncludesGasCost(t *testing.T) {
	// 10000 units + 20% buffer at 1000 nano per unit = 0.012
	chain := &stubChain{
		units:   10000,
		price:   decimal.NewFromInt(1000),
		balance: decimal.RequireFromString("0.061"),
	}
	e := newEngine(chain)
	params := types.TipParams{SenderAddress: "EQsender", Amount: "0.05"}

	err := e.ValidateTransaction(context.Background(), params)
	if !apperr.Is(err, apperr.CodeInsufficientBalance) {
		t.Fatalf("balance below amount+gas must fail, got: %v", err)
	}

	chain.balance = decimal.RequireFromString("0.062")
	if err := e.ValidateTransaction(context.Background(), params); err != nil {
		t.Fatalf("balance covering amount+gas must pass, got: %v", err)
	}
}

func TestValidateTransactionFallsBackOnEstimationErrors(t *testing.T) {
	e := newEngine(&stubChain{
		unitsErr: fmt.Errorf("rpc timeout"),
		priceErr: fmt.Errorf("rpc timeout"),
		balance:  decimal.RequireFromString("1"),
	})

	estimate, err := e.EstimateTransactionCost(context.Background(), types.TipParams{Amount: "0.05"})
	if err != nil {
		t.Fatalf("estimation errors must not propagate: %v", err)
	}
	if estimate.GasEstimate != 21000 {
		t.Fatalf("expected default gas limit, got %d", estimate.GasEstimate)
	}
	// 21000 * 1000 nano = 0.021
	if estimate.GasCost != "0.021" || estimate.TotalCost != "0.071" {
		t.Fatalf("unexpected estimate: %+v", estimate)
	}

	if err := e.ValidateTransaction(context.Background(), types.TipParams{Amount: "0.05"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateTransactionLimits(t *testing.T) {
	e := newEngine(&stubChain{balance: decimal.NewFromInt(10)})

	for _, amount := range []string{"0", "-1", "0.5", "x"} {
		err := e.ValidateTransaction(context.Background(), types.TipParams{Amount: amount})
		if !apperr.Is(err, apperr.CodeInvalidAmount) {
			t.Errorf("amount %s: expected invalid amount, got %v", amount, err)
		}
	}
}
