package domain

import "time"

// VaultVersion is written into every new vault record.
const VaultVersion uint8 = 1

// ReserveKind indexes the three reserves of a vault. The order is also the
// withdrawal drain order.
type ReserveKind uint8

const (
	ReservePrimary ReserveKind = iota
	ReserveYieldA
	ReserveYieldB
)

// ReserveCount is the number of reserves a vault controls.
const ReserveCount = 3

func (k ReserveKind) String() string {
	switch k {
	case ReservePrimary:
		return "primary"
	case ReserveYieldA:
		return "yield_a"
	case ReserveYieldB:
		return "yield_b"
	default:
		return "unknown"
	}
}

// OracleConfig describes which feed a vault trusts and how strictly.
type OracleConfig struct {
	Authority           ID     `json:"authority"`
	Feed                ID     `json:"feed"`
	MaxStalenessSeconds uint64 `json:"max_staleness_seconds"`
	MaxConfidenceBps    uint16 `json:"max_confidence_bps"`
}

// Vault is the per-asset pooled-fund record.
type Vault struct {
	ID            ID    `json:"id"`
	Version       uint8 `json:"version"`
	Bump          uint8 `json:"bump"`
	AuthorityBump uint8 `json:"authority_bump"`

	Asset    ID               `json:"asset"`
	Reserves [ReserveCount]ID `json:"reserves"`

	Oracle     OracleConfig `json:"oracle"`
	OracleExpo int32        `json:"oracle_expo"`

	RouteThresholdPrice int64  `json:"route_threshold_price"`
	TotalShares         uint64 `json:"total_shares"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Reserve returns the reserve handle for kind.
func (v Vault) Reserve(kind ReserveKind) ID {
	return v.Reserves[kind]
}

// Observation is one price reading from an oracle feed. Price is scaled by
// 10^Expo.
type Observation struct {
	Price       int64  `json:"price"`
	Conf        uint64 `json:"conf"`
	Expo        int32  `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}

// FeedAccount is the raw feed record as held by the feed store: the
// publishing authority and the encoded observation.
type FeedAccount struct {
	ID    ID
	Owner ID
	Data  []byte
}
