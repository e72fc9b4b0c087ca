package types

import "time"

type Phase string

const (
	PhaseInitial         Phase = "initial"
	PhaseAmountSelection Phase = "amount_selection"
	PhaseWalletCheck     Phase = "wallet_check"
	PhaseConfirmation    Phase = "confirmation"
	PhaseProcessing      Phase = "processing"
	PhaseSuccess         Phase = "success"
	PhaseError           Phase = "error"
)

// SessionState is the disposable state of one tipping frame session.
type SessionState struct {
	Phase           Phase     `json:"phase"`
	SenderID        string    `json:"senderId"`
	RecipientID     string    `json:"recipientId"`
	Amount          string    `json:"amount,omitempty"`
	PlatformFee     string    `json:"platformFee,omitempty"`
	RecipientAmount string    `json:"recipientAmount,omitempty"`
	TransactionID   string    `json:"transactionId,omitempty"`
	TxHash          string    `json:"txHash,omitempty"`
	ErrorCode       string    `json:"errorCode,omitempty"`
	Error           string    `json:"error,omitempty"`
	LastUpdated     time.Time `json:"lastUpdated"`
}

// Reset returns a fresh initial state keeping only the identities.
func (s SessionState) Reset() SessionState {
	return SessionState{
		Phase:       PhaseInitial,
		SenderID:    s.SenderID,
		RecipientID: s.RecipientID,
	}
}

// Action is one inbound frame interaction.
type Action struct {
	ButtonIndex int    `json:"buttonIndex"`
	InputText   string `json:"inputText,omitempty"`
}
