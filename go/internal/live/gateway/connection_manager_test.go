package gateway

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/dartslive/go/internal/live/events"
)

// newTestConn registers a connection without a websocket behind it. Frames
// queued for it can be read from Send.
func newTestConn(cm *ConnectionManager) *Connection {
	c := cm.newConnection(nil, nil)
	cm.register(c)
	return c
}

func recvEnvelope(t *testing.T, c *Connection) events.Envelope {
	t.Helper()
	select {
	case frame, ok := <-c.Send:
		require.True(t, ok, "send channel closed")
		env, err := events.ParseEnvelope(frame)
		require.NoError(t, err)
		return env
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for frame on %s", c.ID)
		return events.Envelope{}
	}
}

func assertNoFrame(t *testing.T, c *Connection) {
	t.Helper()
	select {
	case frame, ok := <-c.Send:
		if ok {
			t.Fatalf("unexpected frame on %s: %s", c.ID, frame)
		}
	default:
	}
}

func TestBroadcastExcludesSender(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	sender, a, b := newTestConn(cm), newTestConn(cm), newTestConn(cm)
	outsider := newTestConn(cm)

	for _, c := range []*Connection{sender, a, b} {
		require.True(t, cm.Join(c, MatchRoom("M1")))
	}
	cm.Join(outsider, MatchRoom("M2"))

	raw := json.RawMessage(`{"matchId":"M1","score":60}`)
	n := cm.Broadcast(MatchRoom("M1"), events.ThrowUpdate, raw, sender)
	assert.Equal(t, 2, n)

	for _, c := range []*Connection{a, b} {
		env := recvEnvelope(t, c)
		assert.Equal(t, events.ThrowUpdate, env.Event)
		assert.JSONEq(t, string(raw), string(env.Data))
	}
	assertNoFrame(t, sender)
	assertNoFrame(t, outsider)
}

func TestBroadcastEmptyRoom(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	assert.Equal(t, 0, cm.Broadcast(MatchRoom("nobody"), events.ThrowUpdate, json.RawMessage(`{}`), nil))
}

func TestJoinIsIdempotent(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	c := newTestConn(cm)

	cm.Join(c, TournamentRoom("T1"))
	cm.Join(c, TournamentRoom("T1"))
	assert.Equal(t, 1, cm.Members(TournamentRoom("T1")))

	assert.Equal(t, 1, cm.Broadcast(TournamentRoom("T1"), events.FetchMatchData, map[string]string{}, nil))
	recvEnvelope(t, c)
	assertNoFrame(t, c)
}

func TestLeave(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	c := newTestConn(cm)

	cm.Join(c, MatchRoom("M1"))
	cm.Leave(c, MatchRoom("M1"))
	cm.Leave(c, MatchRoom("never-joined"))

	assert.Equal(t, 0, cm.Members(MatchRoom("M1")))
	assert.Equal(t, 0, cm.GetConnectionStats().ActiveRooms)
}

func TestDisconnectReleasesEveryRoom(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	gone, stays := newTestConn(cm), newTestConn(cm)

	for _, room := range []string{TournamentRoom("T1"), MatchRoom("M1"), MatchRoom("M2")} {
		cm.Join(gone, room)
	}
	cm.Join(stays, MatchRoom("M1"))

	cm.unregister(gone)
	cm.unregister(gone)

	_, open := <-gone.Send
	assert.False(t, open, "send channel should be closed")
	assert.Error(t, gone.Context().Err())

	assert.Equal(t, 0, cm.Broadcast(TournamentRoom("T1"), events.FetchMatchData, map[string]string{}, nil))
	assert.Equal(t, 1, cm.Broadcast(MatchRoom("M1"), events.FetchMatchData, map[string]string{}, nil))
	assert.Equal(t, 0, cm.Broadcast(MatchRoom("M2"), events.FetchMatchData, map[string]string{}, nil))

	stats := cm.GetConnectionStats()
	assert.Equal(t, 1, stats.TotalConnections)
	assert.Equal(t, map[string]int{MatchRoom("M1"): 1}, stats.Rooms)

	assert.False(t, cm.Join(gone, MatchRoom("M3")), "closed connections cannot rejoin")
	assert.Error(t, cm.SendTo(gone, events.MatchState, map[string]string{}))
}

func TestSlowConsumerIsEvicted(t *testing.T) {
	cfg := DefaultConnectionConfig()
	cfg.SendBufferSize = 1
	cm := NewConnectionManager(cfg)
	slow, fast := newTestConn(cm), newTestConn(cm)
	cm.Join(slow, MatchRoom("M1"))
	cm.Join(fast, MatchRoom("M1"))

	cm.Broadcast(MatchRoom("M1"), events.ThrowUpdate, json.RawMessage(`{"n":1}`), nil)
	recvEnvelope(t, fast)

	n := cm.Broadcast(MatchRoom("M1"), events.ThrowUpdate, json.RawMessage(`{"n":2}`), nil)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, cm.Members(MatchRoom("M1")))

	env := recvEnvelope(t, fast)
	assert.JSONEq(t, `{"n":2}`, string(env.Data))
}

func TestRoomTags(t *testing.T) {
	assert.Equal(t, "tournament-ABC", TournamentRoom("ABC"))
	assert.Equal(t, "match-42", MatchRoom("42"))
}
