package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/dartslive/go/internal/live/events"
)

type controlRecorder struct {
	got []ControlEvent
	err error
}

func (r *controlRecorder) HandleControl(ev ControlEvent) error {
	r.got = append(r.got, ev)
	return r.err
}

func TestEventConsumerProcessMessage(t *testing.T) {
	rec := &controlRecorder{}
	ec := &EventConsumer{handler: rec, config: DefaultJetStreamConsumerConfig()}

	err := ec.processMessage([]byte(`{"eventType":"match-started","matchId":"M1","tournamentCode":"T1","payload":{"board":1}}`))
	require.NoError(t, err)
	require.Len(t, rec.got, 1)
	assert.Equal(t, events.MatchStarted, rec.got[0].EventType)
	assert.Equal(t, "T1", rec.got[0].TournamentCode)
	assert.JSONEq(t, `{"board":1}`, string(rec.got[0].Payload))

	err = ec.processMessage([]byte(`{broken`))
	assert.ErrorIs(t, err, events.ErrMalformedEvent)
	assert.Len(t, rec.got, 1)
}

func TestEventConsumerRelaysThroughProtocol(t *testing.T) {
	h := newHarness()
	list := newTestConn(h.cm)
	h.mustSend(t, list, events.JoinTournament, `"T1"`)

	ec := &EventConsumer{handler: h.p, config: DefaultJetStreamConsumerConfig()}
	require.NoError(t, ec.processMessage([]byte(`{"eventType":"fetch-match-data","tournamentCode":"T1"}`)))

	env := recvEnvelope(t, list)
	assert.Equal(t, events.FetchMatchData, env.Event)
	assert.JSONEq(t, `{"tournamentCode":"T1"}`, string(env.Data))
}
