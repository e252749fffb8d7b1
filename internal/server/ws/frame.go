package ws

import (
	"github.com/alanyoungcy/urbanium/internal/domain"
	"github.com/alanyoungcy/urbanium/internal/events"
)

// channelOf returns the bus channel a vault event frame belongs to.
func channelOf(frame []byte) (string, error) {
	ev, err := events.Decode(frame)
	if err != nil {
		return "", err
	}
	return domain.VaultEventChannel(ev.Vault), nil
}
