package entitystate

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Broadcaster relays invalidations between service instances.
type Broadcaster interface {
	Broadcast(ctx context.Context, key Key) error
	Listen(ctx context.Context, handle func(Key)) error
}

// Config describes the dependencies of State.
type Config struct {
	TTL         time.Duration
	Clock       func() time.Time
	BufferSize  int
	Broadcaster Broadcaster
	Logger      *zap.Logger
}

// State is the single source of derived entity state shared by every reader in the process.
type State struct {
	cache       *Cache
	hub         *Hub
	clock       func() time.Time
	broadcaster Broadcaster
	logger      *zap.Logger
}

// New constructs a State.
func New(cfg Config) *State {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &State{
		cache:       NewCache(cfg.TTL, clock),
		hub:         NewHub(cfg.BufferSize),
		clock:       clock,
		broadcaster: cfg.Broadcaster,
		logger:      logger,
	}
}

// Lookup returns the cached value for key.
func (s *State) Lookup(key Key) (any, bool) {
	return s.cache.Get(key)
}

// Remember caches a value that was just read from the store.
func (s *State) Remember(key Key, value any) {
	s.cache.Set(key, value)
}

// Commit records the value produced by a write, notifies local subscribers and tells
// other instances to drop their copy.
func (s *State) Commit(ctx context.Context, kind string, key Key, value any) {
	s.cache.Set(key, value)
	s.hub.Publish(Update{Key: key, Kind: kind, Payload: value, Timestamp: s.clock().UTC()})
	s.broadcast(ctx, key)
}

// Discard drops the values derived from rows that a delete removed, locally and on every
// other instance. A nil State discards nothing.
func (s *State) Discard(ctx context.Context, keys ...Key) {
	if s == nil {
		return
	}
	for _, key := range keys {
		s.Invalidate(key)
		s.broadcast(ctx, key)
	}
}

func (s *State) broadcast(ctx context.Context, key Key) {
	if s.broadcaster == nil {
		return
	}
	if err := s.broadcaster.Broadcast(ctx, key); err != nil {
		s.logger.Warn("entity state broadcast failed",
			zap.String("key", key.String()),
			zap.Error(err),
		)
	}
}

// Invalidate drops the cached value and tells local subscribers to re-read.
func (s *State) Invalidate(key Key) {
	s.cache.Invalidate(key)
	s.hub.Publish(Update{Key: key, Kind: KindInvalidated, Timestamp: s.clock().UTC()})
}

// Subscribe streams updates for key.
func (s *State) Subscribe(ctx context.Context, key Key) (<-chan Update, func()) {
	return s.hub.Subscribe(ctx, key)
}

// Run applies invalidations received from other instances until ctx ends.
// It returns immediately when no broadcaster is configured.
func (s *State) Run(ctx context.Context) error {
	if s.broadcaster == nil {
		return nil
	}
	return s.broadcaster.Listen(ctx, s.Invalidate)
}
