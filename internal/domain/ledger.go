package domain

import "time"

// Asset is a fungible asset known to the settlement ledger.
type Asset struct {
	ID       ID    `json:"id"`
	Decimals uint8 `json:"decimals"`
}

// Account is a ledger balance of one asset, spendable only by its owner.
type Account struct {
	ID        ID        `json:"id"`
	Asset     ID        `json:"asset"`
	Owner     ID        `json:"owner"`
	Balance   uint64    `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transfer moves Amount of Asset between two accounts. Authority must own
// the source account.
type Transfer struct {
	Asset     ID
	From      ID
	To        ID
	Amount    uint64
	Authority ID
}
