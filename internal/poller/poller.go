// Package poller turns provider listings into events for providers that do
// not push. Each tick it walks every user with an active mapping for the
// provider, fetches the resources those mappings reference and emits one
// event per item not seen in the previous listing.
package poller

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/samber/lo"

	"area-engine/internal/common/errors"
	"area-engine/internal/common/logging"
	"area-engine/internal/common/ratelimit"
	"area-engine/internal/models"
)

var (
	ErrPollerAlreadyRunning = stderrors.New("poller is already running")
	ErrPollerNotRunning     = stderrors.New("poller is not running")
)

// Item is one entry of a provider listing.
type Item struct {
	// ID identifies the item across listings.
	ID   string
	Data map[string]interface{}
}

// Source adapts one provider to the poller.
type Source interface {
	Provider() string
	// ResourceKeys returns the resources a mapping watches, normalized.
	ResourceKeys(m *models.Mapping) []string
	// Fetch lists a resource, newest item first.
	Fetch(ctx context.Context, cred *models.Credential, resourceKey string) ([]Item, error)
	BuildEvent(userID, resourceKey string, item Item, m *models.Mapping) *models.Event
}

// Repository is the storage the poller reads mappings from and writes events to.
type Repository interface {
	ListActiveUserIDs(ctx context.Context, provider string) ([]string, error)
	ListActiveMappingsForUser(ctx context.Context, userID, provider string) ([]*models.Mapping, error)
	CreateEvent(ctx context.Context, event *models.Event) error
}

// CredentialGetter resolves a user's credential for a provider.
type CredentialGetter interface {
	Get(ctx context.Context, userID, provider string) (*models.Credential, error)
}

// EventSink receives every persisted event.
type EventSink func(ctx context.Context, event *models.Event)

type Config struct {
	PollInterval       time.Duration
	MinRequestInterval time.Duration
	UserCacheTTL       time.Duration
	MaxBackoff         time.Duration
	ChunkSize          int
}

func DefaultConfig() Config {
	return Config{
		PollInterval:       5 * time.Second,
		MinRequestInterval: 2 * time.Second,
		UserCacheTTL:       5 * time.Second,
		MaxBackoff:         10 * time.Second,
		ChunkSize:          3,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.MinRequestInterval <= 0 {
		c.MinRequestInterval = d.MinRequestInterval
	}
	if c.UserCacheTTL <= 0 {
		c.UserCacheTTL = d.UserCacheTTL
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
}

// Status is a snapshot of a poller.
type Status struct {
	Provider   string     `json:"provider"`
	Running    bool       `json:"running"`
	LastPollAt *time.Time `json:"last_poll_at,omitempty"`
	Users      int        `json:"users"`
}

const activeUsersKey = "active_users"

type Poller struct {
	config  Config
	source  Source
	repo    Repository
	creds   CredentialGetter
	states  StateStore
	sink    EventSink
	limiter *ratelimit.KeyedLimiter
	users   *gocache.Cache
	logger  logging.Logger
	sleepFn func(ctx context.Context, d time.Duration)

	mu         sync.Mutex
	running    bool
	stopCh     chan struct{}
	done       chan struct{}
	lastPollAt *time.Time
	lastUsers  int
}

// New creates a Poller. A nil states uses a MemoryStateStore; sink may be nil.
func New(config Config, source Source, repo Repository, creds CredentialGetter, states StateStore, sink EventSink, logger logging.Logger) (*Poller, error) {
	config.applyDefaults()
	limiter, err := ratelimit.NewKeyedLimiter(ratelimit.Config{MinInterval: config.MinRequestInterval, Burst: 1})
	if err != nil {
		return nil, err
	}
	if states == nil {
		states = NewMemoryStateStore()
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Poller{
		config:  config,
		source:  source,
		repo:    repo,
		creds:   creds,
		states:  states,
		sink:    sink,
		limiter: limiter,
		users:   gocache.New(config.UserCacheTTL, time.Minute),
		logger: logger.WithFields(
			logging.Field{Key: "component", Value: "poller"},
			logging.Field{Key: "provider", Value: source.Provider()},
		),
		sleepFn: sleepCtx,
	}, nil
}

func (p *Poller) Provider() string {
	return p.source.Provider()
}

// Start polls every PollInterval until Stop is called or ctx is done.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		p.logger.Info("Poller already running")
		return ErrPollerAlreadyRunning
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.done = make(chan struct{})
	p.users.Flush()

	go p.loop(ctx, p.stopCh, p.done)

	p.logger.Info("Poller started", logging.Field{Key: "interval", Value: p.config.PollInterval})
	return nil
}

// Stop ends the polling loop, waits for an in-flight cycle to finish and
// forgets all poll state.
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return ErrPollerNotRunning
	}
	p.running = false
	close(p.stopCh)
	done := p.done
	p.mu.Unlock()

	<-done

	if err := p.states.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear poll state: %w", err)
	}
	p.logger.Info("Poller stopped")
	return nil
}

func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{
		Provider:   p.source.Provider(),
		Running:    p.running,
		LastPollAt: p.lastPollAt,
		Users:      p.lastUsers,
	}
}

func (p *Poller) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.PollActiveUsers(ctx)
		case <-stop:
			return
		case <-ctx.Done():
			// ctx is gone, so clearing runs on its own deadline
			clearCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := p.states.Clear(clearCtx); err != nil {
				p.logger.Warn("Failed to clear poll state", logging.Err(err))
			}
			cancel()

			p.mu.Lock()
			p.running = false
			p.mu.Unlock()
			p.logger.Info("Poller stopped", logging.String("reason", "context done"))
			return
		}
	}
}

// PollActiveUsers runs one polling cycle. Users are polled ChunkSize at a
// time; a failing user never affects the others.
func (p *Poller) PollActiveUsers(ctx context.Context) {
	userIDs, err := p.activeUsers(ctx)
	if err != nil {
		p.logger.Error("Failed to load active users", err)
		return
	}

	now := time.Now()
	p.mu.Lock()
	p.lastPollAt = &now
	p.lastUsers = len(userIDs)
	p.mu.Unlock()

	if len(userIDs) == 0 {
		return
	}
	p.logger.Debug("Polling active users", logging.Field{Key: "users", Value: len(userIDs)})

	for _, chunk := range lo.Chunk(userIDs, p.config.ChunkSize) {
		var wg sync.WaitGroup
		for _, userID := range chunk {
			wg.Add(1)
			go func(userID string) {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						p.logger.Error("Panic while polling user", fmt.Errorf("%v", r),
							logging.Field{Key: "user_id", Value: userID})
					}
				}()
				p.pollUser(ctx, userID)
			}(userID)
		}
		wg.Wait()

		if ctx.Err() != nil {
			return
		}
	}
}

func (p *Poller) activeUsers(ctx context.Context) ([]string, error) {
	if cached, ok := p.users.Get(activeUsersKey); ok {
		if ids := cached.([]string); len(ids) > 0 {
			return ids, nil
		}
	}

	ids, err := p.repo.ListActiveUserIDs(ctx, p.source.Provider())
	if err != nil {
		return nil, err
	}
	p.users.SetDefault(activeUsersKey, ids)
	return ids, nil
}

// watched pairs a resource with one mapping per action type watching it.
type watched struct {
	key      string
	mappings []*models.Mapping
}

func (p *Poller) resources(mappings []*models.Mapping) []watched {
	var order []string
	byKey := make(map[string][]*models.Mapping)
	for _, m := range mappings {
		for _, key := range lo.Uniq(p.source.ResourceKeys(m)) {
			if key == "" {
				continue
			}
			if _, ok := byKey[key]; !ok {
				order = append(order, key)
			}
			byKey[key] = append(byKey[key], m)
		}
	}

	out := make([]watched, 0, len(order))
	for _, key := range order {
		out = append(out, watched{
			key: key,
			mappings: lo.UniqBy(byKey[key], func(m *models.Mapping) string {
				return m.Action.Type
			}),
		})
	}
	return out
}

func (p *Poller) pollUser(ctx context.Context, userID string) {
	log := p.logger.WithFields(logging.Field{Key: "user_id", Value: userID})

	cred, err := p.creds.Get(ctx, userID, p.source.Provider())
	if err != nil {
		if errors.IsType(err, errors.ErrTypeNotFound) {
			log.Info("No usable credential, skipping user")
		} else {
			log.Warn("Failed to resolve credential", logging.Field{Key: "error", Value: err.Error()})
		}
		return
	}

	mappings, err := p.repo.ListActiveMappingsForUser(ctx, userID, p.source.Provider())
	if err != nil {
		log.Error("Failed to load mappings", err)
		return
	}

	for _, res := range p.resources(mappings) {
		if ctx.Err() != nil {
			return
		}
		if stop := p.pollResource(ctx, log, userID, cred, res); stop {
			return
		}
	}
}

// pollResource returns true when the rest of the user's cycle must be skipped.
func (p *Poller) pollResource(ctx context.Context, log logging.Logger, userID string, cred *models.Credential, res watched) bool {
	log = log.WithFields(logging.Field{Key: "resource", Value: res.key})

	if err := p.limiter.WaitForKey(ctx, userID); err != nil {
		return true
	}

	items, err := p.source.Fetch(ctx, cred, res.key)
	if err != nil {
		switch errors.GetType(err) {
		case errors.ErrTypeAuth:
			log.Warn("Credential rejected, stopping cycle for user", logging.Field{Key: "error", Value: err.Error()})
			return true
		case errors.ErrTypeRateLimit:
			wait := p.config.MaxBackoff
			if appErr, ok := errors.As(err); ok && appErr.RetryAfter > 0 && appErr.RetryAfter < wait {
				wait = appErr.RetryAfter
			}
			log.Warn("Rate limited, backing off", logging.Field{Key: "backoff", Value: wait})
			p.sleepFn(ctx, wait)
		default:
			log.Warn("Fetch failed, skipping resource", logging.Field{Key: "error", Value: err.Error()})
		}
		return false
	}
	if len(items) == 0 {
		return false
	}

	state, err := p.states.Get(ctx, userID, res.key)
	if err != nil {
		log.Warn("Failed to load poll state", logging.Field{Key: "error", Value: err.Error()})
		return false
	}

	if state != nil && state.Initialized && len(state.LastSeenIDs) > 0 {
		seen := lo.SliceToMap(state.LastSeenIDs, func(id string) (string, struct{}) { return id, struct{}{} })
		fresh := lo.Filter(items, func(it Item, _ int) bool {
			_, ok := seen[it.ID]
			return !ok
		})
		for i := len(fresh) - 1; i >= 0; i-- {
			for _, m := range res.mappings {
				p.emit(ctx, log, p.source.BuildEvent(userID, res.key, fresh[i], m))
			}
		}
		if len(fresh) > 0 {
			log.Info("Detected new items", logging.Field{Key: "count", Value: len(fresh)})
		}
	} else {
		log.Debug("Recording baseline", logging.Field{Key: "items", Value: len(items)})
	}

	ids := lo.Map(items, func(it Item, _ int) string { return it.ID })
	if err := p.states.Put(ctx, userID, res.key, &models.PollState{LastSeenIDs: ids, Initialized: true}); err != nil {
		log.Warn("Failed to store poll state", logging.Field{Key: "error", Value: err.Error()})
	}
	return false
}

func (p *Poller) emit(ctx context.Context, log logging.Logger, event *models.Event) {
	if event == nil {
		return
	}
	if err := p.repo.CreateEvent(ctx, event); err != nil {
		log.Error("Failed to store event", err, logging.Field{Key: "action_type", Value: event.ActionType})
		return
	}
	if p.sink != nil {
		p.sink(ctx, event)
	}
}

// NormalizeKey trims and lowercases a resource key. Provider prefixes such as
// r/ and u/ are kept.
func NormalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
