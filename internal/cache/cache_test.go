package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/notion-mirror/internal/content"
	"github.com/JakeFAU/notion-mirror/internal/kv"
	"github.com/JakeFAU/notion-mirror/internal/kv/memory"
)

type fakeBuilder struct {
	calls    atomic.Int32
	err      error
	started  chan struct{}
	release  chan struct{}
	mu       sync.Mutex
	previous []*content.Payload
	previews int
}

func (f *fakeBuilder) Build(_ context.Context, preview bool, previous *content.Payload) (*content.Payload, error) {
	n := f.calls.Add(1)
	f.mu.Lock()
	f.previous = append(f.previous, previous)
	if preview {
		f.previews++
	}
	err := f.err
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	if err != nil {
		return nil, err
	}
	return &content.Payload{
		Version:   content.PayloadVersion,
		Source:    content.PayloadSource,
		UpdatedAt: time.Unix(int64(n), 0).UTC().Format(time.RFC3339),
		Groups:    []content.Group{{ID: "g", Items: []content.Article{{ID: "a"}}}},
	}, nil
}

func (f *fakeBuilder) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newService(b Builder, opts Options) (*Service, *clock) {
	s := New(b, opts)
	c := &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	s.now = c.Now
	return s, c
}

func TestGetServesFreshEntryWithinTTL(t *testing.T) {
	t.Parallel()

	b := &fakeBuilder{}
	s, c := newService(b, Options{TTL: 30 * time.Second})
	ctx := context.Background()

	first, err := s.Get(ctx, false, false)
	require.NoError(t, err)
	c.Advance(29 * time.Second)
	second, err := s.Get(ctx, false, false)
	require.NoError(t, err)
	require.Same(t, first, second)
	require.EqualValues(t, 1, b.calls.Load())

	c.Advance(time.Second)
	third, err := s.Get(ctx, false, false)
	require.NoError(t, err)
	require.NotSame(t, first, third)
	require.EqualValues(t, 2, b.calls.Load())
	require.Same(t, first, b.previous[1], "refresh receives the current entry")
}

func TestGetForceBypassesTTL(t *testing.T) {
	t.Parallel()

	b := &fakeBuilder{}
	s, _ := newService(b, Options{})
	ctx := context.Background()

	_, err := s.Get(ctx, false, false)
	require.NoError(t, err)
	_, err = s.Get(ctx, false, true)
	require.NoError(t, err)
	require.EqualValues(t, 2, b.calls.Load())
}

func TestGetCoalescesConcurrentRefreshes(t *testing.T) {
	t.Parallel()

	b := &fakeBuilder{started: make(chan struct{}, 4), release: make(chan struct{})}
	s, _ := newService(b, Options{})
	ctx := context.Background()

	results := make([]*content.Payload, 2)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p, err := s.Get(ctx, false, true)
		assert.NoError(t, err)
		results[0] = p
	}()
	<-b.started

	wg.Add(1)
	go func() {
		defer wg.Done()
		p, err := s.Get(ctx, false, true)
		assert.NoError(t, err)
		results[1] = p
	}()
	time.Sleep(50 * time.Millisecond)
	close(b.release)
	wg.Wait()

	require.EqualValues(t, 1, b.calls.Load())
	require.NotNil(t, results[0])
	require.Same(t, results[0], results[1])
}

func TestGetReturnsStaleEntryOnFailure(t *testing.T) {
	t.Parallel()

	b := &fakeBuilder{}
	s, _ := newService(b, Options{})
	ctx := context.Background()

	warm, err := s.Get(ctx, false, false)
	require.NoError(t, err)

	b.setErr(errors.New("Notion API 502: bad gateway"))
	stale, err := s.Get(ctx, false, true)
	require.NoError(t, err)
	require.True(t, stale.Stale)
	require.Equal(t, "Notion API 502: bad gateway", stale.StaleReason)
	require.Equal(t, warm.UpdatedAt, stale.UpdatedAt)
	require.False(t, warm.Stale, "cached entry is not mutated")

	entry, _ := s.Snapshot()
	require.Same(t, warm, entry)
}

func TestGetPropagatesFirstFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	s, _ := newService(&fakeBuilder{err: boom}, Options{})

	_, err := s.Get(context.Background(), false, false)
	require.ErrorIs(t, err, boom)
}

func TestGetPropagatesConfigurationErrorEvenWhenWarm(t *testing.T) {
	t.Parallel()

	b := &fakeBuilder{}
	s, _ := newService(b, Options{})
	_, err := s.Get(context.Background(), false, false)
	require.NoError(t, err)

	b.setErr(&content.ConfigurationError{Missing: []string{"NOTION_TOKEN"}})
	_, err = s.Get(context.Background(), false, true)
	var cfgErr *content.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestGetPreviewBypassesSharedEntry(t *testing.T) {
	t.Parallel()

	b := &fakeBuilder{}
	store := memory.New()
	s, _ := newService(b, Options{Persister: NewStorePersister(store, "", nil)})
	ctx := context.Background()

	p1, err := s.Get(ctx, true, false)
	require.NoError(t, err)
	p2, err := s.Get(ctx, true, false)
	require.NoError(t, err)
	require.NotSame(t, p1, p2)
	require.Equal(t, 2, b.previews)
	require.Nil(t, b.previous[0])

	entry, _ := s.Snapshot()
	require.Nil(t, entry)
	_, err = store.Get(ctx, DefaultPersistKey)
	require.ErrorIs(t, err, kv.ErrNotFound)
}

func TestGetCallerCancellationDoesNotAbortRefresh(t *testing.T) {
	t.Parallel()

	b := &fakeBuilder{started: make(chan struct{}, 1), release: make(chan struct{})}
	s, _ := newService(b, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.Get(ctx, false, true)
		done <- err
	}()
	<-b.started
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	close(b.release)
	require.Eventually(t, func() bool {
		entry, _ := s.Snapshot()
		return entry != nil
	}, time.Second, 5*time.Millisecond)
}

func TestRefreshPersistsAndWarmRestores(t *testing.T) {
	t.Parallel()

	store := memory.New()
	ctx := context.Background()

	s1, _ := newService(&fakeBuilder{}, Options{Persister: NewStorePersister(store, "", nil)})
	built, err := s1.Get(ctx, false, false)
	require.NoError(t, err)

	b2 := &fakeBuilder{}
	s2, _ := newService(b2, Options{Persister: NewStorePersister(store, "", nil)})
	require.True(t, s2.Warm(ctx))

	got, err := s2.Get(ctx, false, false)
	require.NoError(t, err)
	require.Equal(t, built.UpdatedAt, got.UpdatedAt)
	require.Zero(t, b2.calls.Load())
	require.False(t, s2.Warm(ctx), "warm never replaces an existing entry")
}

func TestWarmIgnoresCorruptOrMissingState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tests := map[string]string{
		"garbage":   "{not json",
		"no groups": `{"version":1}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			store := memory.New()
			require.NoError(t, store.Set(ctx, DefaultPersistKey, []byte(raw)))
			s, _ := newService(&fakeBuilder{}, Options{Persister: NewStorePersister(store, "", nil)})
			require.False(t, s.Warm(ctx))
		})
	}

	s, _ := newService(&fakeBuilder{}, Options{Persister: NewStorePersister(memory.New(), "", nil)})
	require.False(t, s.Warm(ctx))

	s, _ = newService(&fakeBuilder{}, Options{})
	require.False(t, s.Warm(ctx))
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, error) { return nil, errors.New("disk gone") }
func (failingStore) Set(context.Context, string, []byte) error   { return errors.New("disk full") }

func TestPersistFailureIsBestEffort(t *testing.T) {
	t.Parallel()

	s, _ := newService(&fakeBuilder{}, Options{Persister: NewStorePersister(failingStore{}, "", nil)})
	p, err := s.Get(context.Background(), false, false)
	require.NoError(t, err)
	require.NotNil(t, p)
	require.False(t, s.Warm(context.Background()))
}
