package types

// Wallet is the chain identity of a user. Connected is false when the user
// is known but never linked an address.
type Wallet struct {
	UserID    string `json:"userId"`
	Address   string `json:"address,omitempty"`
	Connected bool   `json:"connected"`
}
