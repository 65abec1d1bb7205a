package poller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"area-engine/internal/common/errors"
	"area-engine/internal/common/logging"
	"area-engine/internal/models"
	"area-engine/internal/redis"
	"area-engine/internal/testutil"
)

// fakeSource serves listings from a map keyed by resource.
type fakeSource struct {
	mu       sync.Mutex
	listings map[string][]string
	errs     map[string]error
	panics   map[string]bool
	fetched  []string
	times    []time.Time
}

func newFakeSource() *fakeSource {
	return &fakeSource{listings: map[string][]string{}, errs: map[string]error{}, panics: map[string]bool{}}
}

func (f *fakeSource) Provider() string { return "fake" }

func (f *fakeSource) ResourceKeys(m *models.Mapping) []string {
	return []string{NormalizeKey(m.ConfigString("resource"))}
}

func (f *fakeSource) Fetch(_ context.Context, cred *models.Credential, key string) ([]Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, cred.UserID+":"+key)
	f.times = append(f.times, time.Now())
	if f.panics[key] {
		panic("listing exploded")
	}
	if err := f.errs[key]; err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(f.listings[key]))
	for _, id := range f.listings[key] {
		items = append(items, Item{ID: id, Data: map[string]interface{}{"id": id}})
	}
	return items, nil
}

func (f *fakeSource) BuildEvent(userID, key string, item Item, m *models.Mapping) *models.Event {
	return testutil.NewEventBuilder().
		WithUser(userID).
		WithActionType(m.Action.Type).
		WithSource("fake-polling").
		WithPayload(map[string]interface{}{"item": item.ID, "resource": key}).
		Build()
}

func (f *fakeSource) set(key string, ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listings[key] = ids
}

func (f *fakeSource) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}

type fakeCreds struct {
	missing map[string]bool
}

func (c *fakeCreds) Get(_ context.Context, userID, provider string) (*models.Credential, error) {
	if c.missing[userID] {
		return nil, errors.NotFoundError(provider + " credential")
	}
	return &models.Credential{UserID: userID, TokenType: models.AccessTokenType(provider), Value: "tok-" + userID}, nil
}

type recorder struct {
	mu     sync.Mutex
	events []*models.Event
}

func (r *recorder) sink(_ context.Context, e *models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) items() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Payload["item"].(string))
	}
	return out
}

func fastConfig() Config {
	return Config{
		PollInterval:       10 * time.Millisecond,
		MinRequestInterval: time.Millisecond,
		UserCacheTTL:       time.Millisecond,
		ChunkSize:          3,
	}
}

func mapping(user, resource string) *models.Mapping {
	return testutil.NewMappingBuilder().
		WithUser(user).
		WithAction("fake.new_item", map[string]interface{}{"resource": resource}).
		Build()
}

func setup(t *testing.T, cfg Config, creds CredentialGetter, mappings ...*models.Mapping) (*Poller, *fakeSource, *recorder) {
	store := testutil.NewStore(t)
	testutil.SeedMappings(t, store, mappings...)
	src := newFakeSource()
	rec := &recorder{}
	if creds == nil {
		creds = &fakeCreds{}
	}
	p, err := New(cfg, src, store, creds, nil, rec.sink, logging.NewNopLogger())
	require.NoError(t, err)
	return p, src, rec
}

func TestPoller_BaselineThenDiff(t *testing.T) {
	p, src, rec := setup(t, fastConfig(), nil, mapping("u1", "R/Test "))
	ctx := context.Background()

	src.set("r/test", "b", "a")
	p.PollActiveUsers(ctx)
	assert.Empty(t, rec.items(), "first observation is a baseline")

	p.PollActiveUsers(ctx)
	assert.Empty(t, rec.items(), "unchanged listing")

	// listings are newest first; new items are emitted oldest first
	src.set("r/test", "d", "c", "b", "a")
	p.PollActiveUsers(ctx)
	assert.Equal(t, []string{"c", "d"}, rec.items())

	src.set("r/test", "d", "c", "b", "a")
	p.PollActiveUsers(ctx)
	assert.Equal(t, []string{"c", "d"}, rec.items())
}

func TestPoller_EmptyListingKeepsState(t *testing.T) {
	p, src, rec := setup(t, fastConfig(), nil, mapping("u1", "r/test"))
	ctx := context.Background()

	src.set("r/test", "a")
	p.PollActiveUsers(ctx)
	src.set("r/test")
	p.PollActiveUsers(ctx)
	src.set("r/test", "b", "a")
	p.PollActiveUsers(ctx)
	assert.Equal(t, []string{"b"}, rec.items())
}

func TestPoller_SharedResourceFetchedOnce(t *testing.T) {
	p, src, _ := setup(t, fastConfig(), nil, mapping("u1", "r/test"), mapping("u1", "r/TEST"))
	src.set("r/test", "a")
	p.PollActiveUsers(context.Background())
	assert.Equal(t, []string{"u1:r/test"}, src.calls())
}

func TestPoller_MissingCredentialSkipsUser(t *testing.T) {
	creds := &fakeCreds{missing: map[string]bool{"u1": true}}
	p, src, _ := setup(t, fastConfig(), creds, mapping("u1", "r/a"), mapping("u2", "r/b"))
	src.set("r/a", "x")
	src.set("r/b", "y")

	p.PollActiveUsers(context.Background())
	assert.Equal(t, []string{"u2:r/b"}, src.calls())
}

func TestPoller_AuthErrorStopsUserCycle(t *testing.T) {
	p, src, _ := setup(t, fastConfig(), nil, mapping("u1", "r/a"), mapping("u1", "r/b"))
	src.errs["r/a"] = errors.AuthError("token expired")
	src.errs["r/b"] = errors.AuthError("token expired")

	p.PollActiveUsers(context.Background())
	assert.Len(t, src.calls(), 1)
}

func TestPoller_RateLimitBacksOff(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxBackoff = 10 * time.Second
	p, src, _ := setup(t, cfg, nil, mapping("u1", "r/a"), mapping("u1", "r/b"))

	var slept []time.Duration
	p.sleepFn = func(_ context.Context, d time.Duration) { slept = append(slept, d) }

	src.errs["r/a"] = errors.RateLimitError("reddit", 30*time.Second)
	src.errs["r/b"] = errors.RateLimitError("reddit", 2*time.Second)

	p.PollActiveUsers(context.Background())
	assert.Equal(t, []time.Duration{10 * time.Second, 2 * time.Second}, slept)
	assert.Len(t, src.calls(), 2, "a rate-limited resource does not stop the user's cycle")
}

func TestPoller_OtherErrorsSkipResource(t *testing.T) {
	p, src, rec := setup(t, fastConfig(), nil, mapping("u1", "r/a"), mapping("u1", "r/b"))
	ctx := context.Background()
	src.errs["r/a"] = errors.TransportError("connection reset", nil)
	src.set("r/b", "1")
	p.PollActiveUsers(ctx)
	src.set("r/b", "2", "1")
	p.PollActiveUsers(ctx)

	assert.Equal(t, []string{"2"}, rec.items())
}

func TestPoller_PanicIsIsolated(t *testing.T) {
	p, src, rec := setup(t, fastConfig(), nil, mapping("u1", "r/boom"), mapping("u2", "r/ok"))
	ctx := context.Background()
	src.panics["r/boom"] = true
	src.set("r/ok", "1")
	p.PollActiveUsers(ctx)
	src.set("r/ok", "2", "1")
	p.PollActiveUsers(ctx)

	assert.Equal(t, []string{"2"}, rec.items())
}

func TestPoller_RateLimitSpacing(t *testing.T) {
	cfg := fastConfig()
	cfg.MinRequestInterval = 100 * time.Millisecond
	p, src, _ := setup(t, cfg, nil, mapping("u1", "r/a"), mapping("u1", "r/b"))

	p.PollActiveUsers(context.Background())

	require.Len(t, src.times, 2)
	assert.GreaterOrEqual(t, src.times[1].Sub(src.times[0]), 90*time.Millisecond)
}

func TestPoller_UserCache(t *testing.T) {
	cfg := fastConfig()
	cfg.UserCacheTTL = time.Hour
	store := testutil.NewStore(t)
	testutil.SeedMappings(t, store, mapping("u1", "r/a"))
	src := newFakeSource()
	p, err := New(cfg, src, store, &fakeCreds{}, nil, nil, logging.NewNopLogger())
	require.NoError(t, err)
	ctx := context.Background()

	p.PollActiveUsers(ctx)
	testutil.SeedMappings(t, store, mapping("u2", "r/b"))
	p.PollActiveUsers(ctx)
	assert.Equal(t, []string{"u1:r/a", "u1:r/a"}, src.calls(), "cached user list is reused")
	assert.Equal(t, 1, p.Status().Users)
}

func TestPoller_StartStop(t *testing.T) {
	p, src, _ := setup(t, fastConfig(), nil, mapping("u1", "r/a"))
	ctx := context.Background()
	src.set("r/a", "1")

	require.NoError(t, p.Start(ctx))
	assert.ErrorIs(t, p.Start(ctx), ErrPollerAlreadyRunning)
	assert.True(t, p.IsRunning())

	require.Eventually(t, func() bool {
		state, err := p.states.Get(ctx, "u1", "r/a")
		return err == nil && state != nil
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, p.Stop(ctx))
	assert.False(t, p.IsRunning())
	assert.ErrorIs(t, p.Stop(ctx), ErrPollerNotRunning)

	state, err := p.states.Get(ctx, "u1", "r/a")
	require.NoError(t, err)
	assert.Nil(t, state, "stop clears poll state")

	status := p.Status()
	assert.Equal(t, "fake", status.Provider)
	assert.NotNil(t, status.LastPollAt)
}

func TestPoller_ContextDoneClearsState(t *testing.T) {
	p, src, _ := setup(t, fastConfig(), nil, mapping("u1", "r/a"))
	ctx, cancel := context.WithCancel(context.Background())
	src.set("r/a", "1")

	require.NoError(t, p.Start(ctx))
	require.Eventually(t, func() bool {
		state, err := p.states.Get(context.Background(), "u1", "r/a")
		return err == nil && state != nil
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return !p.IsRunning() }, time.Second, 5*time.Millisecond)

	state, err := p.states.Get(context.Background(), "u1", "r/a")
	require.NoError(t, err)
	assert.Nil(t, state, "a cancelled run forgets poll state")

	// a later Start begins from a fresh baseline
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Stop(context.Background()))
}

func TestRedisStateStore(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client, err := redis.NewClient(&redis.Config{Address: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	store := NewRedisStateStore(client, "reddit")
	ctx := context.Background()

	state, err := store.Get(ctx, "u1", "r/test")
	require.NoError(t, err)
	assert.Nil(t, state)

	require.NoError(t, store.Put(ctx, "u1", "r/test", &models.PollState{LastSeenIDs: []string{"t3_b", "t3_a"}, Initialized: true}))
	assert.True(t, mr.Exists("poll:state:reddit:u1:r/test"))

	state, err = store.Get(ctx, "u1", "r/test")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.True(t, state.Initialized)
	assert.Equal(t, []string{"t3_b", "t3_a"}, state.LastSeenIDs)

	require.NoError(t, store.Clear(ctx))
	assert.False(t, mr.Exists("poll:state:reddit:u1:r/test"))
}

func TestMemoryStateStoreCopies(t *testing.T) {
	store := NewMemoryStateStore()
	ctx := context.Background()
	ids := []string{"a"}
	require.NoError(t, store.Put(ctx, "u1", "r", &models.PollState{LastSeenIDs: ids, Initialized: true}))
	ids[0] = "mutated"

	state, err := store.Get(ctx, "u1", "r")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, state.LastSeenIDs)
}
