package api_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/lmsr-amm/internal/api"
	"github.com/atmx/lmsr-amm/internal/exchange"
	"github.com/atmx/lmsr-amm/internal/store"
)

func TestWSHub_BroadcastsTrades(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := api.NewWSHub()
	go hub.Run(ctx)

	m := exchange.NewManager(store.NewMemoryStore(), exchange.Options{Listener: hub})
	srv := httptest.NewServer(api.NewRouter(api.NewHandler(m), hub))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	id := seedMarket(t, m, "cesar", 100)
	_, err = m.Trade(ctx, id, "cesar", 1, d(10))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got []exchange.Event
	for len(got) < 2 {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var e exchange.Event
		require.NoError(t, json.Unmarshal(data, &e))
		got = append(got, e)
	}

	assert.Equal(t, exchange.EventMarketOpened, got[0].Type)
	assert.Equal(t, exchange.EventTradeExecuted, got[1].Type)
	assert.Equal(t, id, got[1].MarketID)
	require.NotNil(t, got[1].Outcome)
	assert.Equal(t, 1, *got[1].Outcome)
	assert.Greater(t, got[1].Prices[1], 0.5)
	assert.Equal(t, "cesar", got[1].ParticipantID)
}

func TestWSHub_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := api.NewWSHub()
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}

	// Publishing after shutdown must not block.
	hub.Publish(exchange.Event{Type: exchange.EventMarketClosed})
	assert.Equal(t, 0, hub.Clients())
}
