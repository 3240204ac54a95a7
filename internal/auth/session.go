package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/org/sitepanel/internal/clock"
	"github.com/org/sitepanel/internal/crypto"
	"github.com/org/sitepanel/internal/storage"
	"github.com/org/sitepanel/pkg/models"
)

// DefaultSessionTTL is how long an admin login stays valid.
const DefaultSessionTTL = 7 * 24 * time.Hour

// SessionManager issues, validates and revokes admin sessions. It owns the
// persisted session collection; callers only ever see opaque tokens.
type SessionManager struct {
	mu    sync.Mutex
	store storage.Backend
	ttl   time.Duration
	clock clock.Clock
}

// NewSessionManager creates a SessionManager backed by the given storage.
// A zero ttl means DefaultSessionTTL; a nil clock means the system clock.
func NewSessionManager(store storage.Backend, ttl time.Duration, c clock.Clock) *SessionManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionManager{store: store, ttl: ttl, clock: clock.OrReal(c)}
}

// TTL returns the lifetime given to new sessions.
func (m *SessionManager) TTL() time.Duration {
	return m.ttl
}

// Create starts a new session and returns its token.
func (m *SessionManager) Create(ctx context.Context) (string, error) {
	token, _, err := m.CreateSession(ctx)
	return token, err
}

// CreateSession is Create that also returns the stored record, so callers can
// report the expiry the manager actually persisted.
func (m *SessionManager) CreateSession(ctx context.Context) (string, models.Session, error) {
	token, err := crypto.NewToken()
	if err != nil {
		return "", models.Session{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now().UTC()
	sessions := m.load(ctx)
	live := sessions[:0]
	for _, s := range sessions {
		if !s.IsExpired(now) {
			live = append(live, s)
		}
	}
	sess := models.Session{
		ID:        crypto.HashToken(token),
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	live = append(live, sess)

	if err := m.save(ctx, live); err != nil {
		return "", models.Session{}, fmt.Errorf("persisting session: %w", err)
	}
	return token, sess, nil
}

// Validate reports whether token names a live session. An expired session is
// removed the first time it is seen.
func (m *SessionManager) Validate(ctx context.Context, token string) bool {
	if token == "" {
		return false
	}
	id := crypto.HashToken(token)

	m.mu.Lock()
	defer m.mu.Unlock()

	sessions := m.load(ctx)
	for i, s := range sessions {
		if s.ID != id {
			continue
		}
		if !s.IsExpired(m.clock.Now()) {
			return true
		}
		sessions = append(sessions[:i], sessions[i+1:]...)
		if err := m.save(ctx, sessions); err != nil {
			log.Warn().Err(err).Msg("failed to evict expired session")
		}
		return false
	}
	return false
}

// Revoke ends the session for token. Unknown tokens are ignored.
func (m *SessionManager) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	id := crypto.HashToken(token)

	m.mu.Lock()
	defer m.mu.Unlock()

	sessions := m.load(ctx)
	for i, s := range sessions {
		if s.ID == id {
			sessions = append(sessions[:i], sessions[i+1:]...)
			if err := m.save(ctx, sessions); err != nil {
				return fmt.Errorf("persisting session revocation: %w", err)
			}
			return nil
		}
	}
	return nil
}

// Active counts sessions that have not expired.
func (m *SessionManager) Active(ctx context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	n := 0
	for _, s := range m.load(ctx) {
		if !s.IsExpired(now) {
			n++
		}
	}
	return n
}

// load reads the session collection. Any failure yields an empty collection.
func (m *SessionManager) load(ctx context.Context) []models.Session {
	data, err := m.store.Get(ctx, storage.KeySessions)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Warn().Err(err).Msg("session store unreadable, starting empty")
		}
		return nil
	}
	var sessions []models.Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		log.Warn().Err(err).Msg("session store corrupt, starting empty")
		return nil
	}
	return sessions
}

func (m *SessionManager) save(ctx context.Context, sessions []models.Session) error {
	if sessions == nil {
		sessions = []models.Session{}
	}
	data, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("marshaling sessions: %w", err)
	}
	return m.store.Put(ctx, storage.KeySessions, data)
}
