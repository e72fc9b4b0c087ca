package types

import (
	"time"
)

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusConfirmed TransactionStatus = "confirmed"
	StatusFailed    TransactionStatus = "failed"
)

// IsTerminal reports whether no further status transition is allowed.
func (s TransactionStatus) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// Transaction is the durable record of one tip. Amounts are decimal strings.
type Transaction struct {
	ID              string            `json:"id" db:"id"`
	SenderID        string            `json:"senderId" db:"sender_id"`
	RecipientID     string            `json:"recipientId" db:"recipient_id"`
	Amount          string            `json:"amount" db:"amount"`
	PlatformFee     string            `json:"platformFee" db:"platform_fee"`
	RecipientAmount string            `json:"recipientAmount" db:"recipient_amount"`
	Token           string            `json:"token" db:"token"`
	TxHash          string            `json:"txHash" db:"tx_hash"`
	FeeTxHash       *string           `json:"feeTxHash,omitempty" db:"fee_tx_hash"`
	Status          TransactionStatus `json:"status" db:"status"`
	CreatedAt       time.Time         `json:"createdAt" db:"created_at"`
	ConfirmedAt     *time.Time        `json:"confirmedAt,omitempty" db:"confirmed_at"`
}

// TipParams describes a single tip request after wallets have been resolved.
type TipParams struct {
	SenderID         string `json:"senderId"`
	RecipientID      string `json:"recipientId"`
	SenderAddress    string `json:"senderAddress"`
	RecipientAddress string `json:"recipientAddress"`
	Amount           string `json:"amount"`
	Token            string `json:"token"`
}

type ReceiptStatus string

const (
	ReceiptSuccess  ReceiptStatus = "success"
	ReceiptReverted ReceiptStatus = "reverted"
)

// Receipt is what the chain reports for a broadcast transfer.
type Receipt struct {
	Status      ReceiptStatus
	BlockNumber uint64
	GasUsed     string
}
