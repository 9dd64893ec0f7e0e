package schema

import (
	"context"
	"errors"
	"sync"
)

// ErrFormNotFound indicates the requested form does not exist.
var ErrFormNotFound = errors.New("form not found")

// Store is the read side of form schemas.
type Store interface {
	GetForm(ctx context.Context, formID string) (*Form, error)
	GetFields(ctx context.Context, formID string) ([]Field, error)
}

// SessionStore caches forms from an underlying store for the lifetime of
// one runtime session. Failed lookups are not cached.
type SessionStore struct {
	src Store

	mu    sync.Mutex
	forms map[string]*Form
}

// NewSessionStore wraps src with a per-session cache.
func NewSessionStore(src Store) *SessionStore {
	return &SessionStore{
		src:   src,
		forms: make(map[string]*Form),
	}
}

// GetForm returns the cached form, fetching it once on first use.
func (s *SessionStore) GetForm(ctx context.Context, formID string) (*Form, error) {
	s.mu.Lock()
	form, ok := s.forms[formID]
	s.mu.Unlock()
	if ok {
		return form, nil
	}

	form, err := s.src.GetForm(ctx, formID)
	if err != nil {
		return nil, err
	}
	form.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.forms[formID]; ok {
		return cached, nil
	}
	s.forms[formID] = form
	return form, nil
}

// GetFields returns the ordered fields of the cached form.
func (s *SessionStore) GetFields(ctx context.Context, formID string) ([]Field, error) {
	form, err := s.GetForm(ctx, formID)
	if err != nil {
		return nil, err
	}
	fields := make([]Field, len(form.Fields))
	copy(fields, form.Fields)
	return fields, nil
}
