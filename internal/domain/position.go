package domain

import "time"

// Position is a holder's share balance in one vault. A position drained to
// zero shares is kept.
type Position struct {
	ID     ID     `json:"id"`
	Bump   uint8  `json:"bump"`
	Vault  ID     `json:"vault"`
	Holder ID     `json:"holder"`
	Shares uint64 `json:"shares"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
