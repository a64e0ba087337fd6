// Package snapshot keeps the draft and published copies of the payload.
//
// Every write lands in the local mirror and, when configured, in a remote
// kv.Store. Reads prefer the remote copy and fall back to the mirror when the
// remote is unconfigured, unreachable or empty.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/notion-mirror/internal/content"
	"github.com/JakeFAU/notion-mirror/internal/kv"
	"github.com/JakeFAU/notion-mirror/internal/metrics"
	"github.com/JakeFAU/notion-mirror/internal/publisher"
)

// Slot names one of the two snapshot positions.
type Slot string

// Slots.
const (
	SlotDraft     Slot = "draft"
	SlotPublished Slot = "published"
)

// DefaultPrefix namespaces remote keys.
const DefaultPrefix = "inblog"

// ErrNoDraft is returned by PublishDraft when the draft slot is empty.
var ErrNoDraft = errors.New("no draft snapshot to publish")

// Options configures a Store.
type Options struct {
	// Remote is the optional durable backend.
	Remote kv.Store
	// Prefix namespaces remote keys as "<prefix>:<slot>".
	Prefix string
	// Publisher, when set with Topic, is notified after each publish.
	Publisher publisher.Publisher
	Topic     string
	Logger    *zap.Logger
}

// Store is the draft/publish snapshot store.
type Store struct {
	mirror *Mirror
	remote kv.Store
	prefix string
	pub    publisher.Publisher
	topic  string
	logger *zap.Logger
	now    func() time.Time
}

// New returns a Store writing through mirror.
func New(mirror *Mirror, opts Options) *Store {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if mirror == nil {
		mirror = NewMirror(context.Background(), nil, "", logger)
	}
	return &Store{
		mirror: mirror,
		remote: opts.Remote,
		prefix: prefix,
		pub:    opts.Publisher,
		topic:  opts.Topic,
		logger: logger.Named("snapshot"),
		now:    time.Now,
	}
}

// Key returns the remote key for slot.
func (s *Store) Key(slot Slot) string {
	return s.prefix + ":" + string(slot)
}

// SetDraft stores payload in the draft slot stamped with the sync time.
func (s *Store) SetDraft(ctx context.Context, payload *content.Payload) (*content.Snapshot, error) {
	if payload == nil {
		return nil, fmt.Errorf("payload is required")
	}
	syncedAt := s.now().UTC()
	snap := &content.Snapshot{Payload: payload, SyncedAt: &syncedAt}
	s.write(ctx, SlotDraft, snap)
	return snap, nil
}

// PublishDraft copies the current draft into the published slot. It fails
// with ErrNoDraft, leaving the published slot untouched, when no draft exists.
func (s *Store) PublishDraft(ctx context.Context) (*content.Snapshot, error) {
	draft, err := s.GetDraft(ctx)
	if err != nil {
		return nil, err
	}
	if draft == nil || draft.Payload == nil {
		return nil, ErrNoDraft
	}
	publishedAt := s.now().UTC()
	snap := &content.Snapshot{Payload: draft.Payload, SyncedAt: draft.SyncedAt, PublishedAt: &publishedAt}
	s.write(ctx, SlotPublished, snap)
	s.notify(ctx, snap)
	return snap, nil
}

// GetDraft returns the draft snapshot or nil.
func (s *Store) GetDraft(ctx context.Context) (*content.Snapshot, error) {
	return s.read(ctx, SlotDraft), nil
}

// GetPublished returns the published snapshot or nil.
func (s *Store) GetPublished(ctx context.Context) (*content.Snapshot, error) {
	return s.read(ctx, SlotPublished), nil
}

func (s *Store) read(ctx context.Context, slot Slot) *content.Snapshot {
	if s.remote != nil {
		if snap := s.readRemote(ctx, slot); snap != nil {
			return snap
		}
	}
	return s.mirror.Get(slot)
}

func (s *Store) readRemote(ctx context.Context, slot Slot) *content.Snapshot {
	key := s.Key(slot)
	data, err := s.remote.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			s.logger.Warn("remote snapshot read failed", zap.String("key", key), zap.Error(err))
		}
		return nil
	}
	var snap content.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.logger.Warn("ignoring malformed remote snapshot", zap.String("key", key), zap.Error(err))
		return nil
	}
	if snap.Payload == nil {
		return nil
	}
	return &snap
}

func (s *Store) write(ctx context.Context, slot Slot, snap *content.Snapshot) {
	if err := s.mirror.Put(ctx, slot, snap); err != nil {
		metrics.ObserveSnapshotWrite(string(slot), "mirror", "error")
		s.logger.Warn("snapshot mirror write failed", zap.String("slot", string(slot)), zap.Error(err))
	} else {
		metrics.ObserveSnapshotWrite(string(slot), "mirror", "ok")
	}
	if s.remote == nil {
		return
	}

	key := s.Key(slot)
	data, err := json.Marshal(snap)
	if err == nil {
		err = s.remote.Set(ctx, key, data)
	}
	if err != nil {
		metrics.ObserveSnapshotWrite(string(slot), "remote", "error")
		s.logger.Warn("remote snapshot write failed", zap.String("key", key), zap.Error(err))
		return
	}
	metrics.ObserveSnapshotWrite(string(slot), "remote", "ok")
}

func (s *Store) notify(ctx context.Context, snap *content.Snapshot) {
	if s.pub == nil || s.topic == "" {
		return
	}
	groups, items := snap.Payload.Counts()
	event := publisher.PublishedEvent{
		Event:       publisher.EventPublished,
		PublishedAt: *snap.PublishedAt,
		SyncedAt:    snap.SyncedAt,
		Groups:      groups,
		Items:       items,
	}
	id, err := s.pub.Publish(ctx, s.topic, event)
	if err != nil {
		s.logger.Warn("publish notification failed", zap.String("topic", s.topic), zap.Error(err))
		return
	}
	s.logger.Info("publish notification sent", zap.String("topic", s.topic), zap.String("message_id", id))
}
