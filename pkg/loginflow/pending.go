package loginflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultPendingLoginTTL bounds how long a password-verified login may wait
// for its second factor.
const DefaultPendingLoginTTL = 10 * time.Minute

var ErrPendingLoginNotFound = errors.New("pending login not found")

// PendingLogin records that an account passed the password check and still
// owes a second factor. It is single use.
type PendingLogin struct {
	ID        uuid.UUID `json:"id"`
	AccountID uuid.UUID `json:"account_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func NewPendingLogin(accountID uuid.UUID, now time.Time, ttl time.Duration) PendingLogin {
	return PendingLogin{
		ID:        uuid.New(),
		AccountID: accountID,
		CreatedAt: now.UTC(),
		ExpiresAt: now.UTC().Add(ttl),
	}
}

// Expired reports whether now is at or past ExpiresAt
func (p PendingLogin) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// PendingLoginStore keeps PendingLogins until they are taken, deleted or expire.
// Take returns and removes in one step, so of two concurrent Takes only one
// gets the value.
type PendingLoginStore interface {
	Save(ctx context.Context, p PendingLogin) error
	Get(ctx context.Context, id uuid.UUID) (PendingLogin, error)
	Take(ctx context.Context, id uuid.UUID) (PendingLogin, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// InMemoryPendingLoginStore implements PendingLoginStore in process memory.
// Expired entries are dropped when read.
type InMemoryPendingLoginStore struct {
	mu      sync.Mutex
	pending map[uuid.UUID]PendingLogin
	now     func() time.Time
}

func NewInMemoryPendingLoginStore() *InMemoryPendingLoginStore {
	return &InMemoryPendingLoginStore{
		pending: make(map[uuid.UUID]PendingLogin),
		now:     time.Now,
	}
}

func (s *InMemoryPendingLoginStore) Save(ctx context.Context, p PendingLogin) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, existing := range s.pending {
		if existing.Expired(now) {
			delete(s.pending, id)
		}
	}
	s.pending[p.ID] = p
	return nil
}

func (s *InMemoryPendingLoginStore) Get(ctx context.Context, id uuid.UUID) (PendingLogin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookup(id)
}

func (s *InMemoryPendingLoginStore) Take(ctx context.Context, id uuid.UUID) (PendingLogin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.lookup(id)
	if err != nil {
		return PendingLogin{}, err
	}
	delete(s.pending, id)
	return p, nil
}

func (s *InMemoryPendingLoginStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)
	return nil
}

// lookup must be called with mu held
func (s *InMemoryPendingLoginStore) lookup(id uuid.UUID) (PendingLogin, error) {
	p, ok := s.pending[id]
	if !ok {
		return PendingLogin{}, ErrPendingLoginNotFound
	}
	if p.Expired(s.now()) {
		delete(s.pending, id)
		return PendingLogin{}, ErrPendingLoginNotFound
	}
	return p, nil
}

const pendingKeyPrefix = "twofa:pending:"

// RedisPendingLoginStore keeps each PendingLogin as a JSON value whose key
// expires with the login.
type RedisPendingLoginStore struct {
	rdb redis.UniversalClient
	now func() time.Time
}

func NewRedisPendingLoginStore(rdb redis.UniversalClient) *RedisPendingLoginStore {
	return &RedisPendingLoginStore{rdb: rdb, now: time.Now}
}

func (s *RedisPendingLoginStore) Save(ctx context.Context, p PendingLogin) error {
	ttl := p.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("pending login already expired")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal pending login: %w", err)
	}
	if err := s.rdb.Set(ctx, pendingKeyPrefix+p.ID.String(), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save pending login: %w", err)
	}
	return nil
}

func (s *RedisPendingLoginStore) Get(ctx context.Context, id uuid.UUID) (PendingLogin, error) {
	data, err := s.rdb.Get(ctx, pendingKeyPrefix+id.String()).Bytes()
	return s.decode(data, err)
}

func (s *RedisPendingLoginStore) Take(ctx context.Context, id uuid.UUID) (PendingLogin, error) {
	data, err := s.rdb.GetDel(ctx, pendingKeyPrefix+id.String()).Bytes()
	return s.decode(data, err)
}

func (s *RedisPendingLoginStore) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.rdb.Del(ctx, pendingKeyPrefix+id.String()).Err(); err != nil {
		return fmt.Errorf("failed to delete pending login: %w", err)
	}
	return nil
}

func (s *RedisPendingLoginStore) decode(data []byte, err error) (PendingLogin, error) {
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return PendingLogin{}, ErrPendingLoginNotFound
		}
		return PendingLogin{}, fmt.Errorf("failed to read pending login: %w", err)
	}
	var p PendingLogin
	if err := json.Unmarshal(data, &p); err != nil {
		return PendingLogin{}, fmt.Errorf("failed to unmarshal pending login: %w", err)
	}
	if p.Expired(s.now()) {
		return PendingLogin{}, ErrPendingLoginNotFound
	}
	return p, nil
}

// NewPendingLoginStore creates a store by name ("redis" or "memory")
func NewPendingLoginStore(kind string, rdb redis.UniversalClient) (PendingLoginStore, error) {
	switch kind {
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("redis client required for redis pending login store")
		}
		return NewRedisPendingLoginStore(rdb), nil
	case "memory", "inmem", "":
		return NewInMemoryPendingLoginStore(), nil
	default:
		return nil, fmt.Errorf("unsupported pending login store: %s (supported: redis, memory)", kind)
	}
}
