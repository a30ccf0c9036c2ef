package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformedEvent marks an inbound payload missing a required field or
	// failing to decode.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrUnknownEvent marks an envelope whose event name is not part of the
	// protocol.
	ErrUnknownEvent = errors.New("unknown event")
)

// Name is the event name carried by every envelope
type Name string

// Inbound events, sent by scoring devices and viewers
const (
	JoinTournament  Name = "join-tournament"
	LeaveTournament Name = "leave-tournament"
	JoinMatch       Name = "join-match"
	LeaveMatch      Name = "leave-match"
	SetMatchPlayers Name = "set-match-players"
	InitMatch       Name = "init-match"
	Throw           Name = "throw"
	UndoThrow       Name = "undo-throw"
	LegComplete     Name = "leg-complete"
	MatchStarted    Name = "match-started"
	MatchComplete   Name = "match-complete"
)

// Outbound events, pushed to room members
const (
	MatchState     Name = "match-state"
	ThrowUpdate    Name = "throw-update"
	ThrowUndone    Name = "throw-undone"
	MatchFinished  Name = "match-finished"
	MatchUpdate    Name = "match-update"
	FetchMatchData Name = "fetch-match-data"
	Error          Name = "error"
)

// Envelope is the frame exchanged over the websocket.
type Envelope struct {
	Event Name            `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data into an envelope. A json.RawMessage is embedded
// as-is.
func NewEnvelope(name Name, data any) (Envelope, error) {
	if raw, ok := data.(json.RawMessage); ok {
		return Envelope{Event: name, Data: raw}, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", name, err)
	}
	return Envelope{Event: name, Data: b}, nil
}

// Encode marshals the envelope for the wire.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// ParseEnvelope decodes one frame.
func ParseEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("%w: missing event name", ErrMalformedEvent)
	}
	return env, nil
}

// Validator is implemented by every inbound payload.
type Validator interface {
	Validate() error
}

// Decode unmarshals data into T and validates it.
func Decode[T Validator](data json.RawMessage) (T, error) {
	var payload T
	if len(data) == 0 {
		return payload, fmt.Errorf("%w: empty payload", ErrMalformedEvent)
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return payload, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if err := payload.Validate(); err != nil {
		return payload, err
	}
	return payload, nil
}

// DecodeID reads an identifier sent either as a bare JSON string or as an
// object carrying it under key.
func DecodeID(data json.RawMessage, key string) (string, error) {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		if id = strings.TrimSpace(id); id == "" {
			return "", missing(key)
		}
		return id, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	raw, ok := obj[key]
	if !ok {
		return "", missing(key)
	}
	if err := json.Unmarshal(raw, &id); err != nil || strings.TrimSpace(id) == "" {
		return "", missing(key)
	}
	return strings.TrimSpace(id), nil
}

func missing(field string) error {
	return fmt.Errorf("%w: missing %s", ErrMalformedEvent, field)
}
