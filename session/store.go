package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// Store keeps live sessions in memory. A session that is not touched for
// the configured TTL expires.
type Store struct {
	cache *cache.Cache
	ttl   time.Duration
}

func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Store{
		cache: cache.New(ttl, ttl/2),
		ttl:   ttl,
	}
}

// GetOrCreate returns the session with the given id, or a new session with
// a fresh id when id is empty or unknown. created reports the latter.
func (s *Store) GetOrCreate(id string) (sess *Session, created bool) {
	if id != "" {
		if found, ok := s.Get(id); ok {
			return found, false
		}
	}

	for {
		sess = New(uuid.NewString())
		if err := s.cache.Add(sess.ID, sess, s.ttl); err == nil {
			return sess, true
		}
	}
}

// Get returns a live session and extends its lifetime.
func (s *Store) Get(id string) (*Session, bool) {
	value, ok := s.cache.Get(id)
	if !ok {
		return nil, false
	}
	sess := value.(*Session)
	s.cache.Set(id, sess, s.ttl)
	return sess, true
}

func (s *Store) Delete(id string) {
	s.cache.Delete(id)
}

func (s *Store) Count() int {
	return s.cache.ItemCount()
}
