// Package events encodes vault events as protobuf Struct frames for the
// signal bus, the durable event stream and websocket clients.
package events

import (
	"fmt"
	"strconv"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/urbanium/internal/domain"
)

// Encode renders ev as a marshalled google.protobuf.Struct. Integers are
// carried as decimal strings since Struct numbers are float64.
func Encode(ev domain.VaultEvent) ([]byte, error) {
	fields := map[string]any{
		"type":         string(ev.Type),
		"vault":        ev.Vault.Hex(),
		"actor":        ev.Actor.Hex(),
		"amount":       strconv.FormatUint(ev.Amount, 10),
		"shares":       strconv.FormatUint(ev.Shares, 10),
		"total_shares": strconv.FormatUint(ev.TotalShares, 10),
		"at":           ev.At.UTC().Format(time.RFC3339Nano),
	}
	if !ev.Destination.IsZero() {
		fields["destination"] = ev.Destination.Hex()
		fields["price"] = strconv.FormatInt(ev.Price, 10)
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("events: encode: %w", err)
	}
	b, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("events: encode: %w", err)
	}
	return b, nil
}

// Decode parses a frame produced by Encode.
func Decode(b []byte) (domain.VaultEvent, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(b, &st); err != nil {
		return domain.VaultEvent{}, fmt.Errorf("events: decode: %w", err)
	}
	f := st.GetFields()
	str := func(k string) string { return f[k].GetStringValue() }

	ev := domain.VaultEvent{Type: domain.EventType(str("type"))}
	var err error
	if ev.Vault, err = domain.ParseID(str("vault")); err != nil {
		return domain.VaultEvent{}, fmt.Errorf("events: decode vault: %w", err)
	}
	if ev.Actor, err = domain.ParseID(str("actor")); err != nil {
		return domain.VaultEvent{}, fmt.Errorf("events: decode actor: %w", err)
	}
	for key, dst := range map[string]*uint64{"amount": &ev.Amount, "shares": &ev.Shares, "total_shares": &ev.TotalShares} {
		if *dst, err = strconv.ParseUint(str(key), 10, 64); err != nil {
			return domain.VaultEvent{}, fmt.Errorf("events: decode %s: %w", key, err)
		}
	}
	if d := str("destination"); d != "" {
		if ev.Destination, err = domain.ParseID(d); err != nil {
			return domain.VaultEvent{}, fmt.Errorf("events: decode destination: %w", err)
		}
		if ev.Price, err = strconv.ParseInt(str("price"), 10, 64); err != nil {
			return domain.VaultEvent{}, fmt.Errorf("events: decode price: %w", err)
		}
	}
	if ev.At, err = time.Parse(time.RFC3339Nano, str("at")); err != nil {
		return domain.VaultEvent{}, fmt.Errorf("events: decode at: %w", err)
	}
	return ev, nil
}
