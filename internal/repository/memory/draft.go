// Package memory keeps intake drafts in process. Drafts carry identifiable patient data and
// are never written to durable storage; an abandoned draft simply expires.
package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/econsult/internal/intake"
	"github.com/jwalitptl/econsult/internal/repository"
)

type draftStore struct {
	cache *cache.Cache
	ttl   time.Duration
}

// NewDraftStore returns a store whose entries expire ttl after their last Get or Save.
// onEvict, when set, is called for every session that leaves the store.
func NewDraftStore(ttl, sweepInterval time.Duration, onEvict func(*intake.Session)) repository.DraftStore {
	c := cache.New(ttl, sweepInterval)
	if onEvict != nil {
		c.OnEvicted(func(_ string, v interface{}) {
			if s, ok := v.(*intake.Session); ok {
				onEvict(s)
			}
		})
	}
	return &draftStore{cache: c, ttl: ttl}
}

func (s *draftStore) Save(_ context.Context, session *intake.Session) error {
	s.cache.Set(session.ID.String(), session, s.ttl)
	return nil
}

// Get returns the session and slides its expiry forward.
func (s *draftStore) Get(_ context.Context, id uuid.UUID) (*intake.Session, error) {
	key := id.String()
	v, ok := s.cache.Get(key)
	if !ok {
		return nil, repository.ErrNotFound
	}
	session := v.(*intake.Session)
	// Replace re-arms the expiry without firing OnEvicted.
	_ = s.cache.Replace(key, session, s.ttl)
	return session, nil
}

func (s *draftStore) Delete(_ context.Context, id uuid.UUID) error {
	s.cache.Delete(id.String())
	return nil
}

func (s *draftStore) Count() int {
	return s.cache.ItemCount()
}
