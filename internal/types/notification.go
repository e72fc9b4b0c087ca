package types

import "time"

type NotificationType string

const (
	NotificationTipSent     NotificationType = "tip_sent"
	NotificationTipReceived NotificationType = "tip_received"
)

type Notification struct {
	ID            string           `json:"id" db:"id"`
	UserID        string           `json:"userId" db:"user_id"`
	TransactionID string           `json:"transactionId" db:"transaction_id"`
	Type          NotificationType `json:"type" db:"type"`
	Delivered     bool             `json:"delivered" db:"delivered"`
	CreatedAt     time.Time        `json:"createdAt" db:"created_at"`
}

type NotificationStats struct {
	Total       int `json:"total"`
	Delivered   int `json:"delivered"`
	Pending     int `json:"pending"`
	TipReceived int `json:"tipReceived"`
	TipSent     int `json:"tipSent"`
}

type User struct {
	ID                  string    `json:"id" db:"id"`
	WalletAddress       string    `json:"walletAddress,omitempty" db:"wallet_address"`
	NotificationEnabled bool      `json:"notificationEnabled" db:"notification_enabled"`
	CreatedAt           time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt           time.Time `json:"updatedAt" db:"updated_at"`
}
