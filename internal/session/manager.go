package session

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/viaschema/ucp-samples/internal/capability"
	"github.com/viaschema/ucp-samples/internal/schema"
)

// profileResolver abstracts capability.Resolver for easier testing.
type profileResolver interface {
	Resolve(ctx context.Context, ref string) (capability.Profile, error)
}

// ManagerDeps wires the dependencies required by the session manager.
type ManagerDeps struct {
	Resolver    profileResolver
	Merchant    capability.Profile
	Composer    *schema.Composer
	Store       Store
	IDGenerator func() string
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

// Manager drives the once-per-session negotiation flow: resolve the
// counterpart profile, negotiate against the merchant profile, compose the
// field set, and store the resulting immutable session.
type Manager struct {
	resolver profileResolver
	merchant capability.Profile
	composer *schema.Composer
	store    Store
	idGen    func() string
	now      func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewManager constructs a Manager validating required dependencies.
func NewManager(deps ManagerDeps) (*Manager, error) {
	if deps.Resolver == nil {
		return nil, errors.New("session manager: profile resolver is required")
	}
	if deps.Composer == nil {
		return nil, errors.New("session manager: schema composer is required")
	}
	if deps.Store == nil {
		return nil, errors.New("session manager: session store is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	return &Manager{
		resolver: deps.Resolver,
		merchant: deps.Merchant,
		composer: deps.Composer,
		store:    deps.Store,
		idGen:    idGen,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Create resolves the client profile reference and negotiates a new session.
// Any resolution, negotiation, or composition failure aborts setup entirely;
// no partial negotiated set is ever stored or exposed.
func (m *Manager) Create(ctx context.Context, clientProfileRef string) (Session, error) {
	clientProfile, err := m.resolver.Resolve(ctx, clientProfileRef)
	if err != nil {
		return Session{}, err
	}

	negotiated, err := capability.Negotiate(m.merchant, clientProfile)
	if err != nil {
		return Session{}, err
	}

	fields, err := m.composer.Compose(negotiated)
	if err != nil {
		return Session{}, err
	}

	now := m.now()
	sess := Session{
		ID:              m.idGen(),
		ClientProfile:   clientProfile,
		MerchantProfile: m.merchant,
		Negotiated:      negotiated,
		Fields:          fields,
		CreatedAt:       now,
	}

	if err := m.store.Put(ctx, sess); err != nil {
		return Session{}, err
	}

	m.logger(ctx, "session.negotiated", map[string]any{
		"sessionID":    sess.ID,
		"capabilities": negotiated.Names(),
		"fields":       fields.Fields(),
	})
	return sess, nil
}

// Get returns the stored session for the id.
func (m *Manager) Get(ctx context.Context, id string) (Session, error) {
	return m.store.Get(ctx, id)
}
