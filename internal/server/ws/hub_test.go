package ws

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/urbanium/internal/domain"
	"github.com/alanyoungcy/urbanium/internal/events"
	"github.com/alanyoungcy/urbanium/internal/store/memory"
)

var testVault = domain.MustParseID("0x00000000000000000000000000000000000000000000000000000000000000ab")

func TestHubForwardsVaultEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := memory.NewSignalBus()
	hub := NewHub(bus, "test", slog.New(slog.DiscardHandler))
	go hub.Run(ctx)

	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	kind, hello, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	assert.Contains(t, string(hello), "hub_status")

	ev := domain.VaultEvent{Type: domain.EventDeposited, Vault: testVault, Amount: 5, Shares: 5, TotalShares: 5, At: time.Unix(1700000000, 0).UTC()}
	frame, err := events.Encode(ev)
	require.NoError(t, err)

	// The hub subscribes asynchronously; publish until the frame arrives.
	got := make(chan []byte, 1)
	go func() {
		_, data, err := conn.ReadMessage()
		if err == nil {
			got <- data
		}
	}()
	deadline := time.After(5 * time.Second)
	for {
		require.NoError(t, bus.Publish(ctx, domain.VaultEventChannel(testVault), frame))
		select {
		case data := <-got:
			decoded, err := events.Decode(data)
			require.NoError(t, err)
			assert.Equal(t, ev, decoded)
			return
		case <-deadline:
			t.Fatal("no frame received")
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestClientSubscriptions(t *testing.T) {
	c := &client{subs: map[string]bool{allVaults: true}}
	ch := domain.VaultEventChannel(testVault)
	assert.True(t, c.isSubscribed(ch))

	c.apply(subscribeMsg{Action: "unsubscribe", Channels: []string{allVaults}})
	assert.False(t, c.isSubscribed(ch))

	c.apply(subscribeMsg{Action: "subscribe", Channels: []string{ch, "[bad"}})
	assert.True(t, c.isSubscribed(ch))
	assert.False(t, c.subs["[bad"])
}
