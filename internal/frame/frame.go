// Package frame drives one tipping conversation through its phases.
//
// Callers must serialize actions on the same session key. The machine keeps
// no locks and two concurrent actions on one key race on the stored state.
package frame

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	apperr "github.com/openbuilders/tip-engine/internal/errors"
	"github.com/openbuilders/tip-engine/internal/fees"
	"github.com/openbuilders/tip-engine/internal/helpers"
	"github.com/openbuilders/tip-engine/internal/metrics"
	"github.com/openbuilders/tip-engine/internal/sender"
	"github.com/openbuilders/tip-engine/internal/session"
	"github.com/openbuilders/tip-engine/internal/types"
)

// Button layout of the frame. Buttons before ButtonCustom pick a predefined
// amount.
const (
	ButtonPrimary = 1
	ButtonCancel  = 2
	ButtonCustom  = 4

	ButtonCheckStatus = ButtonPrimary
	ButtonSendAnother = ButtonCancel
)

type Config struct {
	PredefinedAmounts []string
	Token             string
}

type Fees interface {
	ValidateTipAmount(text string) (string, error)
	CalculateFee(amount string) (fees.Calculation, error)
	ValidateTransaction(ctx context.Context, params types.TipParams) error
}

type Wallets interface {
	ResolveWallet(ctx context.Context, userID string) (*types.Wallet, error)
}

type Tips interface {
	SendTip(ctx context.Context, params types.TipParams) (*sender.TransactionResult, error)
	UpdateTransactionStatus(ctx context.Context, id string) (types.TransactionStatus, error)
}

type Machine struct {
	config  *Config
	store   session.Store
	limiter session.Limiter
	fees    Fees
	wallets Wallets
	tips    Tips
	now     func() time.Time
	log     *slog.Logger
}

func New(config *Config, store session.Store, limiter session.Limiter, fees Fees,
	wallets Wallets, tips Tips) *Machine {
	return &Machine{
		config:  config,
		store:   store,
		limiter: limiter,
		fees:    fees,
		wallets: wallets,
		tips:    tips,
		now:     time.Now,
		log:     slog.With("component", "frame"),
	}
}

// NewSessionKey derives an opaque key for a new session between two users.
func NewSessionKey(senderID, recipientID string, now time.Time) string {
	seed := senderID + "-" + recipientID + "-" + strconv.FormatInt(now.UnixNano(), 10)
	return helpers.TinyHashN(seed, 8)
}

type Result struct {
	Key   string             `json:"key"`
	State types.SessionState `json:"state"`
}

// ApplyFrameAction loads the session, applies one action and stores the
// resulting state. An empty key starts a new session. Failures of the tip
// itself end up in the error phase of the returned state, the returned error
// is reserved for rate limiting and storage problems.
func (m *Machine) ApplyFrameAction(ctx context.Context, key, senderID, recipientID string,
	action types.Action) (*Result, error) {

	allowed, err := m.limiter.Allow(ctx, senderID)
	if err != nil {
		m.log.Warn("rate limiter unavailable, allowing action", "sender", senderID, "error", err)
	} else if !allowed {
		return nil, apperr.New(apperr.CodeRateLimited, apperr.UserMessage(apperr.CodeRateLimited))
	}

	if key == "" {
		key = NewSessionKey(senderID, recipientID, m.now())
	}

	state, err := m.load(ctx, key, senderID, recipientID)
	if err != nil {
		return nil, err
	}

	next := m.transition(ctx, state, action)
	next.LastUpdated = m.now()

	if err := m.store.Set(ctx, key, next); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "couldn't store session", err)
	}

	metrics.FrameAction(string(next.Phase))
	m.log.Debug(
		"frame action applied",
		"key", key,
		"from", state.Phase,
		"to", next.Phase,
		"button", action.ButtonIndex,
	)

	return &Result{Key: key, State: next}, nil
}

func (m *Machine) load(ctx context.Context, key, senderID,
	recipientID string) (types.SessionState, error) {

	state, err := m.store.Get(ctx, key)
	if errors.Is(err, session.ErrNotFound) {
		return types.SessionState{
			Phase:       types.PhaseInitial,
			SenderID:    senderID,
			RecipientID: recipientID,
		}, nil
	}
	if err != nil {
		return types.SessionState{}, apperr.Wrap(apperr.CodeInternal, "couldn't load session", err)
	}

	if state.SenderID != senderID {
		return types.SessionState{}, apperr.New(apperr.CodeSessionNotFound,
			apperr.UserMessage(apperr.CodeSessionNotFound))
	}

	return *state, nil
}

func (m *Machine) transition(ctx context.Context, state types.SessionState,
	action types.Action) types.SessionState {

	switch state.Phase {
	case types.PhaseInitial, types.PhaseAmountSelection:
		return m.selectAmount(state, action)

	case types.PhaseWalletCheck:
		if action.ButtonIndex == ButtonCancel {
			return state.Reset()
		}
		return m.checkWallets(ctx, state)

	case types.PhaseConfirmation:
		if action.ButtonIndex == ButtonCancel {
			return state.Reset()
		}
		return m.confirm(ctx, state)

	case types.PhaseProcessing:
		if action.ButtonIndex != ButtonCheckStatus {
			return state
		}
		return m.checkStatus(ctx, state)

	case types.PhaseSuccess:
		if action.ButtonIndex == ButtonSendAnother {
			return state.Reset()
		}
		return state

	default:
		// error and anything unrecognized start over
		return state.Reset()
	}
}

func (m *Machine) selectAmount(state types.SessionState, action types.Action) types.SessionState {
	var text string

	switch {
	case action.ButtonIndex < ButtonPrimary || action.ButtonIndex > ButtonCustom:
		return m.fail(state, apperr.New(apperr.CodeInvalidButtonIndex,
			fmt.Sprintf("Invalid button index %d", action.ButtonIndex)))

	case action.ButtonIndex < ButtonCustom:
		if action.ButtonIndex > len(m.config.PredefinedAmounts) {
			return m.fail(state, apperr.New(apperr.CodeInvalidButtonIndex,
				fmt.Sprintf("No amount behind button %d", action.ButtonIndex)))
		}
		text = m.config.PredefinedAmounts[action.ButtonIndex-1]

	case action.InputText != "":
		text = action.InputText

	default:
		state.Phase = types.PhaseAmountSelection
		return state
	}

	amount, err := m.fees.ValidateTipAmount(text)
	if err != nil {
		return m.fail(state, err)
	}

	calc, err := m.fees.CalculateFee(amount)
	if err != nil {
		return m.fail(state, err)
	}

	state.Phase = types.PhaseWalletCheck
	state.Amount = calc.OriginalAmount
	state.PlatformFee = calc.PlatformFee
	state.RecipientAmount = calc.RecipientAmount

	return state
}

func (m *Machine) checkWallets(ctx context.Context, state types.SessionState) types.SessionState {
	params, err := m.tipParams(ctx, state)
	if err != nil {
		return m.fail(state, err)
	}

	if err := m.fees.ValidateTransaction(ctx, params); err != nil {
		return m.fail(state, err)
	}

	state.Phase = types.PhaseConfirmation
	return state
}

func (m *Machine) confirm(ctx context.Context, state types.SessionState) types.SessionState {
	params, err := m.tipParams(ctx, state)
	if err != nil {
		return m.fail(state, err)
	}

	result, err := m.tips.SendTip(ctx, params)
	if err != nil {
		return m.fail(state, err)
	}

	state.Phase = types.PhaseProcessing
	state.TransactionID = result.TransactionID
	state.TxHash = result.TxHash

	return state
}

func (m *Machine) checkStatus(ctx context.Context, state types.SessionState) types.SessionState {
	if state.TransactionID == "" {
		return m.fail(state, apperr.New(apperr.CodeTransactionNotFound, "Session has no transaction"))
	}

	status, err := m.tips.UpdateTransactionStatus(ctx, state.TransactionID)
	if err != nil {
		m.log.Warn("status check failed", "transaction", state.TransactionID, "error", err)
		return state
	}

	switch status {
	case types.StatusConfirmed:
		state.Phase = types.PhaseSuccess
	case types.StatusFailed:
		return m.fail(state, apperr.New(apperr.CodeTransactionFailed, "Transaction failed"))
	}

	return state
}

// tipParams resolves both wallets of the session.
func (m *Machine) tipParams(ctx context.Context, state types.SessionState) (types.TipParams, error) {
	from, err := m.wallets.ResolveWallet(ctx, state.SenderID)
	if err != nil {
		return types.TipParams{}, apperr.Wrap(apperr.CodeValidationFailed, "Wallet check failed", err)
	}
	if from == nil || !from.Connected {
		return types.TipParams{}, apperr.New(apperr.CodeWalletNotConnected, "Wallet not connected")
	}

	to, err := m.wallets.ResolveWallet(ctx, state.RecipientID)
	if err != nil {
		return types.TipParams{}, apperr.Wrap(apperr.CodeValidationFailed, "Wallet check failed", err)
	}
	if to == nil || !to.Connected {
		return types.TipParams{}, apperr.New(apperr.CodeRecipientNotFound, "Recipient wallet not found")
	}

	return types.TipParams{
		SenderID:         state.SenderID,
		RecipientID:      state.RecipientID,
		SenderAddress:    from.Address,
		RecipientAddress: to.Address,
		Amount:           state.Amount,
		Token:            m.config.Token,
	}, nil
}

// fail moves the session into the error phase. Input and precondition
// errors keep their own message, anything else shows the generic one.
func (m *Machine) fail(state types.SessionState, err error) types.SessionState {
	code := apperr.CodeOf(err)
	kind := apperr.KindOf(code)

	message := apperr.UserMessage(code)
	if kind == apperr.KindInput || kind == apperr.KindPrecondition {
		message = err.Error()
	}

	attrs := []any{
		"sender", state.SenderID,
		"recipient", state.RecipientID,
		"phase", state.Phase,
		"code", code,
		"error", err,
	}

	switch kind {
	case apperr.KindInput:
		m.log.Debug("frame input rejected", attrs...)
	case apperr.KindPrecondition:
		m.log.Warn("frame precondition failed", attrs...)
	default:
		m.log.Error("frame action failed", attrs...)
	}

	state.Phase = types.PhaseError
	state.ErrorCode = string(code)
	state.Error = message

	return state
}
