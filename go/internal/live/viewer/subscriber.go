package viewer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/dartslive/go/internal/live/events"
)

// Subscriber joins a tournament room on the gateway and feeds every pushed
// event into a Feed.
type Subscriber struct {
	url    string
	feed   *Feed
	dialer *websocket.Dialer
	clock  clockwork.Clock

	reconnectWait time.Duration
}

// NewSubscriber derives the websocket endpoint from the gateway's HTTP base
// URL.
func NewSubscriber(gatewayURL string, feed *Feed) (*Subscriber, error) {
	wsURL, err := websocketURL(gatewayURL)
	if err != nil {
		return nil, err
	}
	return &Subscriber{
		url:  wsURL,
		feed: feed,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		clock:         clockwork.NewRealClock(),
		reconnectWait: 2 * time.Second,
	}, nil
}

func websocketURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid gateway url %q: %w", base, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid gateway url %q: unsupported scheme", base)
	}
	u.Path += "/ws"
	return u.String(), nil
}

// URL returns the websocket endpoint.
func (s *Subscriber) URL() string {
	return s.url
}

// Run keeps a session open until ctx is done, reconnecting after failures.
// Each new session triggers a refetch since pushes may have been missed.
func (s *Subscriber) Run(ctx context.Context) error {
	for {
		err := s.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		log.Warn().
			Err(err).
			Str("url", s.url).
			Dur("retry_in", s.reconnectWait).
			Msg("live session lost")

		select {
		case <-ctx.Done():
			return nil
		case <-s.clock.After(s.reconnectWait):
		}
	}
}

// session runs one websocket connection to completion.
func (s *Subscriber) session(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	join, err := events.NewEnvelope(events.JoinTournament, s.feed.TournamentCode())
	if err != nil {
		return err
	}
	frame, err := join.Encode()
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("join tournament: %w", err)
	}

	log.Info().
		Str("url", s.url).
		Str("tournament_code", s.feed.TournamentCode()).
		Msg("joined tournament room")
	s.feed.Refresh()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errors.New("gateway closed the session")
			}
			return fmt.Errorf("read: %w", err)
		}

		env, err := events.ParseEnvelope(data)
		if err != nil {
			log.Debug().Err(err).Msg("ignoring unparseable frame")
			continue
		}
		if err := s.feed.HandleEvent(env.Event, env.Data); err != nil {
			log.Debug().
				Err(err).
				Str("event", string(env.Event)).
				Msg("ignoring malformed event")
		}
	}
}
