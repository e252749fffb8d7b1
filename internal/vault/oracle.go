package vault

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/urbanium/internal/domain"
)

// Feed account data layout, little endian:
//
//	magic u32 | version u32 | price i64 | conf u64 | expo i32 | publish_time i64
const (
	FeedMagic   uint32 = 0xa1b2c3d4
	FeedVersion uint32 = 1
	FeedDataLen        = 4 + 4 + 8 + 8 + 4 + 8
)

// BpsDenominator is 100% in basis points.
const BpsDenominator = 10_000

// EncodeObservation renders obs as feed account data.
func EncodeObservation(obs domain.Observation) []byte {
	buf := make([]byte, FeedDataLen)
	binary.LittleEndian.PutUint32(buf[0:], FeedMagic)
	binary.LittleEndian.PutUint32(buf[4:], FeedVersion)
	binary.LittleEndian.PutUint64(buf[8:], uint64(obs.Price))
	binary.LittleEndian.PutUint64(buf[16:], obs.Conf)
	binary.LittleEndian.PutUint32(buf[24:], uint32(obs.Expo))
	binary.LittleEndian.PutUint64(buf[28:], uint64(obs.PublishTime))
	return buf
}

// DecodeObservation parses feed account data.
func DecodeObservation(data []byte) (domain.Observation, error) {
	if len(data) != FeedDataLen {
		return domain.Observation{}, fmt.Errorf("vault: feed data length %d, want %d", len(data), FeedDataLen)
	}
	if m := binary.LittleEndian.Uint32(data[0:]); m != FeedMagic {
		return domain.Observation{}, fmt.Errorf("vault: feed magic %#x", m)
	}
	if v := binary.LittleEndian.Uint32(data[4:]); v != FeedVersion {
		return domain.Observation{}, fmt.Errorf("vault: feed version %d", v)
	}
	return domain.Observation{
		Price:       int64(binary.LittleEndian.Uint64(data[8:])),
		Conf:        binary.LittleEndian.Uint64(data[16:]),
		Expo:        int32(binary.LittleEndian.Uint32(data[24:])),
		PublishTime: int64(binary.LittleEndian.Uint64(data[28:])),
	}, nil
}

// ReadPrice validates the feed against cfg and returns its observation if
// it was published within the staleness bound. Checks run owner, decode,
// staleness, in that order.
func ReadPrice(feed domain.FeedAccount, cfg domain.OracleConfig, now time.Time) (domain.Observation, error) {
	if feed.Owner != cfg.Authority {
		return domain.Observation{}, domain.ErrInvalidOracleOwner
	}
	if feed.ID != cfg.Feed {
		return domain.Observation{}, domain.ErrOraclePriceUnavailable
	}
	obs, err := DecodeObservation(feed.Data)
	if err != nil {
		return domain.Observation{}, fmt.Errorf("%w: %v", domain.ErrOraclePriceUnavailable, err)
	}
	if age(now.Unix(), obs.PublishTime) > cfg.MaxStalenessSeconds {
		return domain.Observation{}, domain.ErrOracleStale
	}
	return obs, nil
}

// age is |now - published| in seconds. A publish time ahead of the clock
// counts against the bound the same way an old one does.
func age(now, published int64) uint64 {
	if published > now {
		return uint64(published) - uint64(now)
	}
	return uint64(now) - uint64(published)
}

// ConfidenceBps returns floor(conf * 10000 / |price|).
func ConfidenceBps(obs domain.Observation) (*uint256.Int, error) {
	abs := absPrice(obs.Price)
	if abs == 0 {
		return nil, domain.ErrOraclePriceUnavailable
	}
	bps, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(obs.Conf), uint256.NewInt(BpsDenominator))
	if overflow {
		return nil, domain.ErrArithmeticOverflow
	}
	return bps.Div(bps, uint256.NewInt(abs)), nil
}

// EnforceConfidence rejects observations whose confidence interval is wider
// than maxBps of the price.
func EnforceConfidence(obs domain.Observation, maxBps uint16) error {
	bps, err := ConfidenceBps(obs)
	if err != nil {
		return err
	}
	if bps.Gt(uint256.NewInt(uint64(maxBps))) {
		return domain.ErrOracleConfidenceTooHigh
	}
	return nil
}

// CheckExponent rejects an observation whose scale differs from the one
// recorded when the vault was created.
func CheckExponent(obs domain.Observation, recorded int32) error {
	if obs.Expo != recorded {
		return domain.ErrOracleExponentMismatch
	}
	return nil
}

// absPrice handles math.MinInt64 without overflow.
func absPrice(p int64) uint64 {
	if p < 0 {
		return uint64(-(p + 1)) + 1
	}
	return uint64(p)
}
