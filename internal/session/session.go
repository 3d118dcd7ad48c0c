package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/viaschema/ucp-samples/internal/capability"
	"github.com/viaschema/ucp-samples/internal/schema"
)

// ErrSessionNotFound indicates the session id is unknown or expired.
var ErrSessionNotFound = errors.New("session: not found")

// Session is the negotiated-capability context attached to every checkout
// operation. It is computed once at creation and immutable afterward; the
// resolved client profile is cached here for the session's lifetime so the
// contract backing schema composition never shifts mid-session.
type Session struct {
	ID              string
	ClientProfile   capability.Profile
	MerchantProfile capability.Profile
	Negotiated      capability.NegotiatedSet
	Fields          schema.FieldSet
	CreatedAt       time.Time
}

// Allows reports whether the field is part of the session's composed schema.
func (s Session) Allows(field string) bool {
	return s.Fields.Contains(field)
}

// Store persists sessions for lookup by id.
type Store interface {
	Get(ctx context.Context, id string) (Session, error)
	Put(ctx context.Context, sess Session) error
}

// MemoryStore is the in-process session store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewMemoryStore constructs an empty in-process session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session)}
}

// Get implements the Store interface.
func (s *MemoryStore) Get(_ context.Context, id string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return sess, nil
}

// Put implements the Store interface.
func (s *MemoryStore) Put(_ context.Context, sess Session) error {
	if sess.ID == "" {
		return errors.New("session: id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return nil
}
