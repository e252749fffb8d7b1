package domain

import "time"

// EventType names a committed vault operation.
type EventType string

const (
	EventVaultInitialized EventType = "vault_initialized"
	EventDeposited        EventType = "deposited"
	EventWithdrawn        EventType = "withdrawn"
	EventYieldRouted      EventType = "yield_routed"
)

// VaultEventChannelPrefix prefixes the per-vault event channel.
const VaultEventChannelPrefix = "vault:"

// VaultEventChannel is the bus channel that carries events for one vault.
func VaultEventChannel(vault ID) string {
	return VaultEventChannelPrefix + vault.Hex()
}

// VaultEvent is published after an operation commits.
type VaultEvent struct {
	Type        EventType `json:"type"`
	Vault       ID        `json:"vault"`
	Actor       ID        `json:"actor"`
	Amount      uint64    `json:"amount"`
	Shares      uint64    `json:"shares"`
	TotalShares uint64    `json:"total_shares"`
	Destination ID        `json:"destination,omitempty"`
	Price       int64     `json:"price,omitempty"`
	At          time.Time `json:"at"`
}

// VaultEventStream is the durable stream that keeps a vault's event history.
func VaultEventStream(vault ID) string {
	return "stream:vault:" + vault.Hex()
}
