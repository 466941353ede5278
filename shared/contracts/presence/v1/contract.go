// Package v1 defines the chatline presence protocol v1 contract.
//
// Every frame is a single JSON object carrying a "type" discriminator.
// Decode maps a frame onto exactly one concrete Message; callers match on it
// with a type switch. Unknown types decode to Unknown rather than failing so
// newer servers can add messages without breaking older clients.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Type constants (wire-stable).
const (
	// TypeAuth carries the bearer credential (client -> server).
	TypeAuth = "auth"
	// TypeAuthSuccess acknowledges the handshake (server -> client).
	TypeAuthSuccess = "auth_success"
	// TypeAuthError rejects the handshake (server -> client).
	TypeAuthError = "auth_error"

	// TypeGetStatuses asks for the statuses of a set of users (client -> server).
	TypeGetStatuses = "get_statuses"
	// TypeUserStatus reports one user's status (server -> client).
	TypeUserStatus = "user_status"
	// TypeContactsStatuses reports a batch of statuses (server -> client).
	TypeContactsStatuses = "contacts_statuses"

	// TypePing and TypePong form the liveness heartbeat.
	TypePing = "ping"
	TypePong = "pong"
)

var (
	// ErrMalformed is returned when a frame is not a JSON object or a payload does not match its type.
	ErrMalformed = errors.New("v1: malformed message")

	// ErrMissingType is returned when a frame has no "type" field.
	ErrMissingType = errors.New("v1: missing field: type")

	// ErrInvalidStatus is returned by StatusRecord.Validate for unknown status values.
	ErrInvalidStatus = errors.New("v1: invalid status")
)

// Status is a user's presence status.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusAway    Status = "away"
	StatusBusy    Status = "busy"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusOffline, StatusAway, StatusBusy:
		return true
	default:
		return false
	}
}

// Message is implemented by every protocol message.
type Message interface {
	Type() string
}

// ---- Messages ----

// Auth starts the application-level handshake.
type Auth struct {
	Token string `json:"token"`
}

// AuthSuccess marks the handshake as complete.
type AuthSuccess struct{}

// AuthError carries the server's reason for rejecting the handshake.
type AuthError struct {
	Reason string `json:"error,omitempty"`
}

// GetStatuses requests statuses for UserIDs.
type GetStatuses struct {
	UserIDs []int64 `json:"userIds"`
}

// StatusRecord is one user's presence as reported by the server.
type StatusRecord struct {
	UserID   int64      `json:"userId"`
	Status   Status     `json:"status"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// UnmarshalJSON decodes a record, treating lastSeen leniently: null, "" and
// unparseable values leave LastSeen nil instead of failing the record.
func (r *StatusRecord) UnmarshalJSON(data []byte) error {
	var raw struct {
		UserID   int64           `json:"userId"`
		Status   Status          `json:"status"`
		LastSeen json.RawMessage `json:"lastSeen"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.UserID = raw.UserID
	r.Status = raw.Status
	r.LastSeen = parseLastSeen(raw.LastSeen)
	return nil
}

// Accepted lastSeen layouts. Values without a zone are read as UTC.
var lastSeenLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

func parseLastSeen(raw json.RawMessage) *time.Time {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		// Numbers are unix milliseconds.
		var ms int64
		if err := json.Unmarshal(raw, &ms); err != nil || ms <= 0 {
			return nil
		}
		t := time.UnixMilli(ms).UTC()
		return &t
	}

	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range lastSeenLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// Validate checks the record's semantic constraints.
func (r StatusRecord) Validate() error {
	if r.UserID == 0 {
		return errors.New("v1: missing field: userId")
	}
	if !r.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, r.Status)
	}
	return nil
}

// UserStatus reports a single status change.
type UserStatus struct {
	StatusRecord
}

// ContactsStatuses reports many statuses at once, in server order.
type ContactsStatuses struct {
	Statuses []StatusRecord `json:"statuses"`
}

// UnmarshalJSON keeps every record that decodes; a bad entry drops only itself.
func (c *ContactsStatuses) UnmarshalJSON(data []byte) error {
	var raw struct {
		Statuses []json.RawMessage `json:"statuses"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Statuses = make([]StatusRecord, 0, len(raw.Statuses))
	for _, item := range raw.Statuses {
		var r StatusRecord
		if err := json.Unmarshal(item, &r); err != nil {
			continue
		}
		c.Statuses = append(c.Statuses, r)
	}
	return nil
}

// Ping is the heartbeat request.
type Ping struct{}

// Pong answers a Ping.
type Pong struct{}

// Unknown is returned by Decode for a type this client does not understand.
type Unknown struct {
	Kind string `json:"-"`
}

func (Auth) Type() string             { return TypeAuth }
func (AuthSuccess) Type() string      { return TypeAuthSuccess }
func (AuthError) Type() string        { return TypeAuthError }
func (GetStatuses) Type() string      { return TypeGetStatuses }
func (UserStatus) Type() string       { return TypeUserStatus }
func (ContactsStatuses) Type() string { return TypeContactsStatuses }
func (Ping) Type() string             { return TypePing }
func (Pong) Type() string             { return TypePong }
func (u Unknown) Type() string        { return u.Kind }

// ---- Codec ----

// Decode parses one frame into its concrete Message.
func Decode(data []byte) (Message, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch strings.TrimSpace(head.Type) {
	case "":
		return nil, ErrMissingType
	case TypeAuth:
		var m Auth
		if err := unmarshalPayload(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeAuthSuccess:
		return AuthSuccess{}, nil
	case TypeAuthError:
		var m AuthError
		if err := unmarshalPayload(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeGetStatuses:
		var m GetStatuses
		if err := unmarshalPayload(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeUserStatus:
		var m UserStatus
		if err := unmarshalPayload(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeContactsStatuses:
		var m ContactsStatuses
		if err := unmarshalPayload(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypePing:
		return Ping{}, nil
	case TypePong:
		return Pong{}, nil
	default:
		return Unknown{Kind: head.Type}, nil
	}
}

func unmarshalPayload(data []byte, dst any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// Encode renders m as a JSON object with its "type" field first.
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, errors.New("v1: nil message")
	}
	if _, ok := m.(Unknown); ok {
		return nil, fmt.Errorf("v1: cannot encode unknown type %q", m.Type())
	}

	typ, err := json.Marshal(m.Type())
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("v1: %s does not encode as an object", m.Type())
	}

	out := make([]byte, 0, len(body)+len(typ)+10)
	out = append(out, `{"type":`...)
	out = append(out, typ...)
	if len(body) > 2 {
		out = append(out, ',')
	}
	out = append(out, body[1:]...)
	return out, nil
}
