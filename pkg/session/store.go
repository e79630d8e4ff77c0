package session

import (
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/matzehuels/storyline/pkg/errors"
)

// DefaultIdleTTL is how long an unused session is kept by a [Store].
const DefaultIdleTTL = 30 * time.Minute

// Store keeps live sessions by id. Sessions expire after being idle for
// the store's TTL and are closed on expiry or removal.
type Store struct {
	items *cache.Cache
}

// NewStore creates a store expiring sessions idle for ttl (DefaultIdleTTL
// when zero).
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultIdleTTL
	}
	items := cache.New(ttl, ttl/2)
	items.OnEvicted(func(_ string, v any) {
		if s, ok := v.(*Session); ok {
			s.Close()
		}
	})
	return &Store{items: items}
}

// Add registers s.
func (st *Store) Add(s *Session) {
	st.items.SetDefault(s.ID(), s)
}

// Get returns the session with id and extends its lifetime.
func (st *Store) Get(id string) (*Session, error) {
	v, ok := st.items.Get(id)
	if !ok {
		return nil, errors.New(errors.ErrCodeSessionNotFound, "session %s not found", id)
	}
	s := v.(*Session)
	st.items.SetDefault(id, s)
	return s, nil
}

// Delete closes and removes the session with id.
func (st *Store) Delete(id string) error {
	if _, ok := st.items.Get(id); !ok {
		return errors.New(errors.ErrCodeSessionNotFound, "session %s not found", id)
	}
	st.items.Delete(id)
	return nil
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	return st.items.ItemCount()
}

// Close closes all sessions.
func (st *Store) Close() {
	for id := range st.items.Items() {
		st.items.Delete(id)
	}
}
