package poller

import (
	"context"
	"fmt"
	"sync"

	"area-engine/internal/models"
	"area-engine/internal/redis"
)

// StateStore keeps the PollState of every (user, resource) pair of one
// provider.
type StateStore interface {
	// Get returns nil when the pair has never been polled.
	Get(ctx context.Context, userID, resourceKey string) (*models.PollState, error)
	Put(ctx context.Context, userID, resourceKey string, state *models.PollState) error
	Clear(ctx context.Context) error
}

// MemoryStateStore loses its contents on restart, so the first cycle after a
// restart only re-baselines.
type MemoryStateStore struct {
	mu     sync.RWMutex
	states map[string]models.PollState
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]models.PollState)}
}

func (s *MemoryStateStore) Get(_ context.Context, userID, resourceKey string) (*models.PollState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[userID+"\x00"+resourceKey]
	if !ok {
		return nil, nil
	}
	state.LastSeenIDs = append([]string(nil), state.LastSeenIDs...)
	return &state, nil
}

func (s *MemoryStateStore) Put(_ context.Context, userID, resourceKey string, state *models.PollState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[userID+"\x00"+resourceKey] = models.PollState{
		LastSeenIDs: append([]string(nil), state.LastSeenIDs...),
		Initialized: state.Initialized,
	}
	return nil
}

func (s *MemoryStateStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = make(map[string]models.PollState)
	return nil
}

// RedisStateStore keeps poll state in Redis under
// poll:state:{provider}:{user}:{resource}, so it survives restarts.
type RedisStateStore struct {
	client   *redis.Client
	provider string
}

func NewRedisStateStore(client *redis.Client, provider string) *RedisStateStore {
	return &RedisStateStore{client: client, provider: provider}
}

func (s *RedisStateStore) key(userID, resourceKey string) string {
	return fmt.Sprintf("poll:state:%s:%s:%s", s.provider, userID, resourceKey)
}

func (s *RedisStateStore) Get(ctx context.Context, userID, resourceKey string) (*models.PollState, error) {
	var state models.PollState
	found, err := s.client.GetJSON(ctx, s.key(userID, resourceKey), &state)
	if err != nil || !found {
		return nil, err
	}
	return &state, nil
}

func (s *RedisStateStore) Put(ctx context.Context, userID, resourceKey string, state *models.PollState) error {
	return s.client.SetJSON(ctx, s.key(userID, resourceKey), state, 0)
}

func (s *RedisStateStore) Clear(ctx context.Context) error {
	return s.client.DeletePattern(ctx, fmt.Sprintf("poll:state:%s:*", s.provider))
}
