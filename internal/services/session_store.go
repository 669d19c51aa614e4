package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"streamvault/internal/models"
)

// SessionStore persists payment sessions.
//
// Update must be atomic per id: the patch is validated against the current
// record and either fully applied or not applied at all. Implementations hand
// out copies, never their own records.
type SessionStore interface {
	Create(ctx context.Context, session *models.PaymentSession) error
	Get(ctx context.Context, id string) (*models.PaymentSession, error)
	FindBySecondaryCode(ctx context.Context, code string) (*models.PaymentSession, error)
	Update(ctx context.Context, id string, patch models.SessionPatch) (*models.PaymentSession, error)
	ListPendingBefore(ctx context.Context, cutoffMs int64) ([]*models.PaymentSession, error)
}

// MemorySessionStore keeps sessions in process memory. Sessions older than
// the TTL are evicted by a background janitor.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.PaymentSession
	codes    map[string]string

	ttl  time.Duration
	log  *zap.Logger
	stop chan struct{}
	once sync.Once
}

// NewMemorySessionStore creates the store and, when ttl > 0, starts its janitor.
func NewMemorySessionStore(ttl time.Duration, log *zap.Logger) *MemorySessionStore {
	s := &MemorySessionStore{
		sessions: make(map[string]*models.PaymentSession),
		codes:    make(map[string]string),
		ttl:      ttl,
		log:      log,
		stop:     make(chan struct{}),
	}
	if ttl > 0 {
		go s.janitor()
	}
	return s
}

func (s *MemorySessionStore) Create(_ context.Context, session *models.PaymentSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.sessions[session.ID]; ok {
		s.unindex(old)
	}
	stored := session.Clone()
	s.sessions[stored.ID] = stored
	s.index(stored)
	return nil
}

func (s *MemorySessionStore) Get(_ context.Context, id string) (*models.PaymentSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session.Clone(), nil
}

func (s *MemorySessionStore) FindBySecondaryCode(_ context.Context, code string) (*models.PaymentSession, error) {
	if code == "" {
		return nil, ErrSessionNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.codes[code]
	if !ok {
		return nil, ErrSessionNotFound
	}
	session, ok := s.sessions[id]
	if !ok || !session.MatchesCode(code) {
		return nil, ErrSessionNotFound
	}
	return session.Clone(), nil
}

func (s *MemorySessionStore) Update(_ context.Context, id string, patch models.SessionPatch) (*models.PaymentSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}

	next := current.Clone()
	if err := patch.Apply(next); err != nil {
		return current.Clone(), err
	}
	s.sessions[id] = next
	return next.Clone(), nil
}

func (s *MemorySessionStore) ListPendingBefore(_ context.Context, cutoffMs int64) ([]*models.PaymentSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.PaymentSession
	for _, session := range s.sessions {
		if session.Status == models.SessionStatusPending && session.CreatedAt < cutoffMs {
			out = append(out, session.Clone())
		}
	}
	return out, nil
}

// Len returns the number of stored sessions.
func (s *MemorySessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close stops the janitor.
func (s *MemorySessionStore) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}

// EvictOlderThan drops every session created before cutoffMs and returns how many went.
func (s *MemorySessionStore) EvictOlderThan(cutoffMs int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, session := range s.sessions {
		if session.CreatedAt < cutoffMs {
			s.unindex(session)
			delete(s.sessions, id)
			evicted++
		}
	}
	return evicted
}

func (s *MemorySessionStore) index(session *models.PaymentSession) {
	if code := session.Metadata.GatewayPaymentCode; code != "" {
		s.codes[code] = session.ID
	}
	if code := session.Metadata.ExternalCode; code != "" {
		s.codes[code] = session.ID
	}
}

func (s *MemorySessionStore) unindex(session *models.PaymentSession) {
	for _, code := range []string{session.Metadata.GatewayPaymentCode, session.Metadata.ExternalCode} {
		if code != "" && s.codes[code] == session.ID {
			delete(s.codes, code)
		}
	}
}

func (s *MemorySessionStore) janitor() {
	interval := s.ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n := s.EvictOlderThan(time.Now().Add(-s.ttl).UnixMilli())
			if n > 0 && s.log != nil {
				s.log.Info("evicted expired sessions", zap.Int("count", n))
			}
		case <-s.stop:
			return
		}
	}
}
