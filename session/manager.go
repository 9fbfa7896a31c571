package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/andrebq/turnstile/internal/logutil"
)

type (
	// Record is what a Backend keeps for one session.
	Record struct {
		ID        string
		Payload   []byte
		ExpiresAt time.Time
	}

	// Backend persists session records. Get returns ErrNotFound for
	// missing ids, Put replaces any previous record with the same id.
	Backend interface {
		Get(ctx context.Context, id string) (Record, error)
		Put(ctx context.Context, rec Record) error
		Delete(ctx context.Context, id string) error
		// Purge removes every record that expired at or before now.
		Purge(ctx context.Context, now time.Time) (int64, error)
	}

	Manager struct {
		backend Backend
		policy  Policy
		now     func() time.Time
	}

	payload struct {
		CreatedAt int64 `json:"created_at"`
		Data      Data  `json:"data"`
	}
)

var (
	ErrNotFound = errors.New("session record not found")
)

func NewManager(backend Backend, policy Policy) *Manager {
	if policy.TTL <= 0 {
		policy.TTL = DefaultTTL
	}
	return &Manager{
		backend: backend,
		policy:  policy,
		now:     time.Now,
	}
}

func (m *Manager) Policy() Policy {
	return m.policy
}

// Create returns a new, unsaved session.
func (m *Manager) Create() (*Session, error) {
	id, err := NewID()
	if err != nil {
		return nil, err
	}
	now := m.now().UTC()
	return &Session{
		ID:        id,
		CreatedAt: time.UnixMilli(now.UnixMilli()).UTC(),
		ExpiresAt: time.UnixMilli(now.Add(m.policy.TTL).UnixMilli()).UTC(),
		fresh:     true,
	}, nil
}

// Load fetches the session with the given id. Unknown, expired or corrupted
// sessions are reported as ErrInvalidSession; anything else comes from the
// backend.
func (m *Manager) Load(ctx context.Context, id string) (*Session, error) {
	if !validID(id) {
		return nil, ErrInvalidSession
	}
	rec, err := m.backend.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidSession
	} else if err != nil {
		return nil, fmt.Errorf("unable to load session, cause %w", err)
	}
	if !m.now().Before(rec.ExpiresAt) {
		if err := m.backend.Delete(ctx, id); err != nil {
			log := logutil.GetOrDefault(ctx)
			log.Warn().Err(err).Msg("Unable to remove expired session")
		}
		return nil, ErrInvalidSession
	}
	var p payload
	if err := json.Unmarshal(rec.Payload, &p); err != nil {
		log := logutil.GetOrDefault(ctx)
		log.Warn().Err(err).Msg("Discarding session with corrupted payload")
		return nil, ErrInvalidSession
	}
	return &Session{
		ID:        rec.ID,
		CreatedAt: time.UnixMilli(p.CreatedAt).UTC(),
		ExpiresAt: rec.ExpiresAt.UTC(),
		data:      p.Data,
	}, nil
}

// Save writes s to the backend. When the policy renews sessions the
// expiration is moved to now+TTL first. Saving an expired session removes
// it and returns ErrInvalidSession.
func (m *Manager) Save(ctx context.Context, s *Session) error {
	now := m.now().UTC()
	if m.policy.Renew {
		s.ExpiresAt = time.UnixMilli(now.Add(m.policy.TTL).UnixMilli()).UTC()
	}
	if s.Expired(now) {
		if !s.fresh {
			if err := m.backend.Delete(ctx, s.ID); err != nil {
				return fmt.Errorf("unable to remove expired session, cause %w", err)
			}
		}
		return ErrInvalidSession
	}
	buf, err := json.Marshal(payload{CreatedAt: s.CreatedAt.UnixMilli(), Data: s.data})
	if err != nil {
		return fmt.Errorf("unable to encode session, cause %w", err)
	}
	err = m.backend.Put(ctx, Record{ID: s.ID, Payload: buf, ExpiresAt: s.ExpiresAt})
	if err != nil {
		return fmt.Errorf("unable to save session, cause %w", err)
	}
	s.fresh = false
	s.dirty = false
	return nil
}

// Destroy removes the session. Destroying an unknown id is not an error.
func (m *Manager) Destroy(ctx context.Context, id string) error {
	if !validID(id) {
		return nil
	}
	if err := m.backend.Delete(ctx, id); err != nil {
		return fmt.Errorf("unable to destroy session, cause %w", err)
	}
	return nil
}

// Purge removes expired sessions from the backend.
func (m *Manager) Purge(ctx context.Context) (int64, error) {
	n, err := m.backend.Purge(ctx, m.now())
	if err != nil {
		return n, fmt.Errorf("unable to purge sessions, cause %w", err)
	}
	return n, nil
}

// RunJanitor purges expired sessions every interval until ctx is done.
// onPurge, when not nil, receives the number of removed sessions.
func (m *Manager) RunJanitor(ctx context.Context, every time.Duration, onPurge func(int64)) {
	log := logutil.GetOrDefault(ctx).With().Str("component", "session-janitor").Logger()
	tick := time.NewTicker(every)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
		n, err := m.Purge(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Unable to purge expired sessions")
			continue
		}
		if n > 0 {
			log.Info().Int64("removed", n).Msg("Expired sessions purged")
		}
		if onPurge != nil {
			onPurge(n)
		}
	}
}
