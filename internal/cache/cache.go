// Package cache holds the last composed payload with a TTL, coalesces
// concurrent refreshes and degrades to the previous payload when a refresh fails.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/notion-mirror/internal/content"
	"github.com/JakeFAU/notion-mirror/internal/metrics"
)

// DefaultTTL is how long a refreshed payload is served without refetching.
const DefaultTTL = 30 * time.Second

const refreshKey = "payload"

// Builder runs one refresh. previous is the current entry, possibly nil.
type Builder interface {
	Build(ctx context.Context, preview bool, previous *content.Payload) (*content.Payload, error)
}

// Persister stores the last good payload across restarts.
type Persister interface {
	Load(ctx context.Context) (*content.Payload, error)
	Save(ctx context.Context, payload *content.Payload) error
}

// Options configures a Service.
type Options struct {
	TTL       time.Duration
	Persister Persister
	Logger    *zap.Logger
}

// Service owns the shared cache entry.
type Service struct {
	builder   Builder
	ttl       time.Duration
	persister Persister
	logger    *zap.Logger
	now       func() time.Time

	mu        sync.RWMutex
	entry     *content.Payload
	fetchedAt time.Time

	flight singleflight.Group
}

// New returns an empty Service.
func New(builder Builder, opts Options) *Service {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		builder:   builder,
		ttl:       ttl,
		persister: opts.Persister,
		logger:    logger.Named("cache"),
		now:       time.Now,
	}
}

// Get returns the payload.
//
// Preview requests always build live and never touch the shared entry. Other
// requests are served from the entry while it is younger than the TTL unless
// force is set. Concurrent refreshes share one build. The build does not
// observe ctx cancellation; ctx only bounds how long this caller waits.
func (s *Service) Get(ctx context.Context, preview, force bool) (*content.Payload, error) {
	if preview {
		metrics.ObserveCacheLookup(metrics.CachePreview)
		return s.builder.Build(ctx, true, nil)
	}
	if !force {
		if p, ok := s.fresh(); ok {
			metrics.ObserveCacheLookup(metrics.CacheHit)
			return p, nil
		}
	}

	detached := context.WithoutCancel(ctx)
	ch := s.flight.DoChan(refreshKey, func() (any, error) {
		return s.refresh(detached)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			metrics.ObserveCacheLookup(metrics.CacheCoalesced)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*content.Payload), nil
	}
}

func (s *Service) fresh() (*content.Payload, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.entry == nil || s.now().Sub(s.fetchedAt) >= s.ttl {
		return nil, false
	}
	return s.entry, true
}

func (s *Service) current() *content.Payload {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entry
}

func (s *Service) refresh(ctx context.Context) (*content.Payload, error) {
	start := s.now()
	previous := s.current()

	payload, err := s.builder.Build(ctx, false, previous)
	if err != nil {
		var cfgErr *content.ConfigurationError
		if previous == nil || errors.As(err, &cfgErr) {
			metrics.ObserveCacheLookup(metrics.CacheError)
			metrics.ObserveRefresh("error", s.now().Sub(start))
			return nil, err
		}
		metrics.ObserveCacheLookup(metrics.CacheStale)
		metrics.ObserveRefresh("stale", s.now().Sub(start))
		s.logger.Warn("refresh failed, serving stale payload", zap.Error(err))
		return previous.WithStale(err.Error()), nil
	}

	s.mu.Lock()
	s.entry = payload
	s.fetchedAt = s.now()
	s.mu.Unlock()
	metrics.ObserveCacheLookup(metrics.CacheRefresh)
	metrics.ObserveRefresh("ok", s.now().Sub(start))

	if s.persister != nil {
		if err := s.persister.Save(ctx, payload); err != nil {
			s.logger.Warn("persist payload failed", zap.Error(err))
		}
	}
	return payload, nil
}

// Warm loads the persisted payload into an empty cache. Missing or unreadable
// state leaves the cache empty.
func (s *Service) Warm(ctx context.Context) bool {
	if s.persister == nil {
		return false
	}
	payload, err := s.persister.Load(ctx)
	if err != nil {
		s.logger.Warn("load persisted payload failed", zap.Error(err))
		return false
	}
	if payload == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry != nil {
		return false
	}
	s.entry = payload
	s.fetchedAt = s.now()
	groups, items := payload.Counts()
	s.logger.Info("cache warmed from disk", zap.Int("groups", groups), zap.Int("items", items))
	return true
}

// Snapshot returns the current entry and when it was fetched.
func (s *Service) Snapshot() (*content.Payload, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entry, s.fetchedAt
}
