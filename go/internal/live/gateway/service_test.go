package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/dartslive/go/internal/live/events"
	"github.com/mcdev12/dartslive/go/internal/live/matchstate"
)

func newTestServer(t *testing.T) (*Service, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	svc, err := NewService(ctx, DefaultConfig(), Deps{Store: matchstate.NewStore()})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.Start(ctx)
	}()

	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)

	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return svc, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func emit(t *testing.T, conn *websocket.Conn, name events.Name, data string) {
	t.Helper()
	frame, err := json.Marshal(events.Envelope{Event: name, Data: json.RawMessage(data)})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

func readEnvelope(t *testing.T, conn *websocket.Conn, timeout time.Duration) (events.Envelope, error) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(timeout))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		return events.Envelope{}, err
	}
	return events.ParseEnvelope(frame)
}

func TestWebSocketThrowReachesOthersOnly(t *testing.T) {
	svc, srv := newTestServer(t)
	cm := svc.ConnectionManager()

	viewer := dial(t, srv)
	device := dial(t, srv)

	emit(t, viewer, events.JoinMatch, `"M1"`)
	emit(t, device, events.JoinMatch, `"M1"`)
	require.Eventually(t, func() bool { return cm.Members(MatchRoom("M1")) == 2 }, time.Second, 5*time.Millisecond)

	throw := `{"matchId":"M1","playerId":"P1","score":60,"darts":3,"isDouble":false,"isCheckout":false,"remainingScore":441}`
	emit(t, device, events.Throw, throw)

	env, err := readEnvelope(t, viewer, time.Second)
	require.NoError(t, err)
	assert.Equal(t, events.ThrowUpdate, env.Event)
	assert.JSONEq(t, throw, string(env.Data))

	_, err = readEnvelope(t, device, 150*time.Millisecond)
	var netErr net.Error
	require.True(t, errors.As(err, &netErr) && netErr.Timeout(), "device should not receive its own throw, got %v", err)
}

func TestWebSocketDisconnectReleasesRooms(t *testing.T) {
	svc, srv := newTestServer(t)
	cm := svc.ConnectionManager()

	viewer := dial(t, srv)
	emit(t, viewer, events.JoinTournament, `"T1"`)
	emit(t, viewer, events.JoinMatch, `"M1"`)
	require.Eventually(t, func() bool {
		return cm.Members(MatchRoom("M1")) == 1 && cm.Members(TournamentRoom("T1")) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, viewer.Close())

	require.Eventually(t, func() bool {
		stats := cm.GetConnectionStats()
		return stats.TotalConnections == 0 && stats.ActiveRooms == 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, cm.Broadcast(MatchRoom("M1"), events.ThrowUpdate, json.RawMessage(`{}`), nil))
}

func TestWebSocketMalformedEventKeepsSession(t *testing.T) {
	svc, srv := newTestServer(t)
	cm := svc.ConnectionManager()

	device := dial(t, srv)
	require.NoError(t, device.WriteMessage(websocket.TextMessage, []byte(`{not json`)))

	env, err := readEnvelope(t, device, time.Second)
	require.NoError(t, err)
	assert.Equal(t, events.Error, env.Event)

	emit(t, device, events.Throw, `{"score":60}`)
	env, err = readEnvelope(t, device, time.Second)
	require.NoError(t, err)
	assert.Equal(t, events.Error, env.Event)

	emit(t, device, events.JoinMatch, `"M1"`)
	require.Eventually(t, func() bool { return cm.Members(MatchRoom("M1")) == 1 }, time.Second, 5*time.Millisecond)
}

func TestStatsEndpoint(t *testing.T) {
	svc, srv := newTestServer(t)

	viewer := dial(t, srv)
	emit(t, viewer, events.JoinTournament, `"T1"`)
	require.Eventually(t, func() bool {
		return svc.ConnectionManager().Members(TournamentRoom("T1")) == 1
	}, time.Second, 5*time.Millisecond)

	resp, err := http.Get(srv.URL + "/ws/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	var stats ConnectionStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 1, stats.TotalConnections)
	assert.Equal(t, 1, stats.Rooms[TournamentRoom("T1")])
}
