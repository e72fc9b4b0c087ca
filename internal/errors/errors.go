package errors

import (
	stderrors "errors"
	"fmt"
)

type ErrorCode string

const (
	CodeInvalidAmount       ErrorCode = "INVALID_AMOUNT"
	CodeInvalidButtonIndex  ErrorCode = "INVALID_BUTTON_INDEX"
	CodeWalletNotConnected  ErrorCode = "WALLET_NOT_CONNECTED"
	CodeRecipientNotFound   ErrorCode = "RECIPIENT_NOT_FOUND"
	CodeInsufficientBalance ErrorCode = "INSUFFICIENT_BALANCE"
	CodeTransactionFailed   ErrorCode = "TRANSACTION_FAILED"
	CodeTransactionNotFound ErrorCode = "TRANSACTION_NOT_FOUND"
	CodeRateLimited         ErrorCode = "RATE_LIMITED"
	CodeSessionNotFound     ErrorCode = "SESSION_NOT_FOUND"
	CodeValidationFailed    ErrorCode = "VALIDATION_FAILED"
	CodeInternal            ErrorCode = "INTERNAL_ERROR"
)

// Kind groups error codes by how they are handled and logged.
type Kind int

const (
	KindInput Kind = iota
	KindPrecondition
	KindExecution
	KindInternal
)

var kinds = map[ErrorCode]Kind{
	CodeInvalidAmount:       KindInput,
	CodeInvalidButtonIndex:  KindInput,
	CodeRateLimited:         KindInput,
	CodeWalletNotConnected:  KindPrecondition,
	CodeRecipientNotFound:   KindPrecondition,
	CodeInsufficientBalance: KindPrecondition,
	CodeValidationFailed:    KindPrecondition,
	CodeTransactionFailed:   KindExecution,
	CodeTransactionNotFound: KindInternal,
	CodeSessionNotFound:     KindInternal,
	CodeInternal:            KindInternal,
}

var userMessages = map[ErrorCode]string{
	CodeInvalidAmount:       "Please enter a valid amount",
	CodeInvalidButtonIndex:  "Invalid request. Please refresh and try again",
	CodeWalletNotConnected:  "Please connect your wallet first",
	CodeRecipientNotFound:   "Recipient doesn't have a connected wallet",
	CodeInsufficientBalance: "You don't have enough balance for this tip",
	CodeTransactionFailed:   "Transaction failed. Please try again",
	CodeTransactionNotFound: "Transaction not found",
	CodeRateLimited:         "Too many requests. Please wait a moment",
	CodeSessionNotFound:     "Session expired. Please start again",
	CodeValidationFailed:    "Transaction validation failed",
	CodeInternal:            "Something went wrong. Please try again",
}

// KindOf returns the handling class of the code. Unknown codes are internal.
func KindOf(code ErrorCode) Kind {
	if k, ok := kinds[code]; ok {
		return k
	}
	return KindInternal
}

// UserMessage returns the pre-classified message that may be shown to a user.
func UserMessage(code ErrorCode) string {
	if m, ok := userMessages[code]; ok {
		return m
	}
	return userMessages[CodeInternal]
}

type ServiceError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (se ServiceError) Error() string {
	return se.Message
}

func (se ServiceError) Unwrap() error {
	return se.Err
}

func New(code ErrorCode, message string) ServiceError {
	return ServiceError{Code: code, Message: message}
}

func Wrap(code ErrorCode, message string, err error) ServiceError {
	return ServiceError{Code: code, Message: message, Err: err}
}

// CodeOf extracts the code of a ServiceError anywhere in the chain, or
// CodeInternal for anything else.
func CodeOf(err error) ErrorCode {
	var se ServiceError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// InsufficientBalanceError carries both balances so callers can show them.
type InsufficientBalanceError struct {
	Current  string
	Required string
	Token    string
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("Insufficient balance. Required: %s %s, Available: %s %s",
		e.Required, e.Token, e.Current, e.Token)
}
