package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/yieldvault/internal/domain"
)

type fakeBus struct {
	domain.EventBus
	mu         sync.Mutex
	live       chan []byte
	subscribed common.Address
	latest     []domain.EventRecord
	asked      int
}

func (b *fakeBus) Subscribe(_ context.Context, vault common.Address) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribed = vault
	return b.live, nil
}

func (b *fakeBus) Latest(_ context.Context, _ common.Address, count int) ([]domain.EventRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.asked = count
	return b.latest, nil
}

func (b *fakeBus) seen() (common.Address, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribed, b.asked
}

func readKind(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var head struct {
		Kind string `json:"kind"`
		ID   string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(data, &head))
	return head.Kind + "/" + head.ID
}

func TestHubReplaysThenRelays(t *testing.T) {
	vault := common.HexToAddress("0xfeed")
	bus := &fakeBus{
		live: make(chan []byte),
		latest: []domain.EventRecord{
			{ID: "1-0", Event: json.RawMessage(`{"kind":"deposit","id":"a"}`)},
			{ID: "2-0", Event: json.RawMessage(`{"kind":"harvest","id":"b"}`)},
			{ID: "3-0", Event: json.RawMessage(`not json`)},
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(bus, logger, Config{Vault: vault, Mode: "serve", Replay: 1_000})
	assert.Equal(t, maxReplay, hub.replay)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?kinds=harvest"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "status/", readKind(t, conn))
	assert.Equal(t, "harvest/b", readKind(t, conn))

	bus.live <- []byte(`{"kind":"deposit","id":"c"}`)
	bus.live <- []byte(`{"kind":"harvest","id":"d"}`)
	assert.Equal(t, "harvest/d", readKind(t, conn))
	subscribed, asked := bus.seen()
	assert.Equal(t, vault, subscribed)
	assert.Equal(t, maxReplay, asked)
}

func TestHubWithoutReplay(t *testing.T) {
	bus := &fakeBus{live: make(chan []byte)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(bus, logger, Config{Replay: -3})
	assert.Equal(t, 0, hub.replay)

	c := &client{hub: hub, send: make(chan []byte, 1), kinds: map[domain.EventKind]bool{}}
	c.replayRecent(context.Background())
	assert.Empty(t, c.send)
	_, asked := bus.seen()
	assert.Zero(t, asked)
}
