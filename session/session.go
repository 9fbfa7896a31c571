package session

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

type (
	// Data is everything a handler may keep in a session.
	Data struct {
		// UserID is the serialized identity, empty while anonymous.
		UserID   string           `json:"uid,omitempty"`
		Counters map[string]int64 `json:"counters,omitempty"`
	}

	Session struct {
		ID        string
		CreatedAt time.Time
		ExpiresAt time.Time

		data  Data
		fresh bool
		dirty bool
	}

	Policy struct {
		// TTL is how long a session lives after creation (or after each
		// write when Renew is set).
		TTL time.Duration
		// Renew pushes the expiration forward on every Save.
		Renew bool
	}
)

const (
	DefaultTTL = 24 * time.Hour

	idBytes = 32
)

var (
	// ErrInvalidSession means the session id is unknown, expired, or its
	// record cannot be decoded. Requests carrying it are anonymous.
	ErrInvalidSession = errors.New("invalid session")

	idLength = base64.RawURLEncoding.EncodedLen(idBytes)
)

// NewID returns a random session id with 256 bits of entropy.
func NewID() (string, error) {
	buf := make([]byte, idBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("unable to generate session id, cause %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func validID(id string) bool {
	if len(id) != idLength {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(id)
	return err == nil
}

// Data returns a copy of the session data.
func (s *Session) Data() Data {
	d := Data{UserID: s.data.UserID}
	if len(s.data.Counters) > 0 {
		d.Counters = make(map[string]int64, len(s.data.Counters))
		for k, v := range s.data.Counters {
			d.Counters[k] = v
		}
	}
	return d
}

func (s *Session) UserID() string {
	return s.data.UserID
}

func (s *Session) SetUserID(id string) {
	if s.data.UserID == id {
		return
	}
	s.data.UserID = id
	s.dirty = true
}

func (s *Session) Counter(name string) int64 {
	return s.data.Counters[name]
}

// Incr adds one to the named counter and returns the new value.
func (s *Session) Incr(name string) int64 {
	if s.data.Counters == nil {
		s.data.Counters = make(map[string]int64)
	}
	s.data.Counters[name]++
	s.dirty = true
	return s.data.Counters[name]
}

// CopyCounters takes all counters from other, used when a session is
// replaced by a new one.
func (s *Session) CopyCounters(other *Session) {
	for k, v := range other.data.Counters {
		if s.data.Counters == nil {
			s.data.Counters = make(map[string]int64)
		}
		s.data.Counters[k] = v
		s.dirty = true
	}
}

// Touch marks the session for saving without changing its data, so a
// renewing policy extends its lifetime.
func (s *Session) Touch() {
	s.dirty = true
}

// IsNew reports whether the session was never saved.
func (s *Session) IsNew() bool {
	return s.fresh
}

// Dirty reports whether the session has changes not yet saved.
func (s *Session) Dirty() bool {
	return s.dirty || s.fresh
}

func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
