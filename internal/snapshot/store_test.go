package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/notion-mirror/internal/content"
	"github.com/JakeFAU/notion-mirror/internal/kv"
	"github.com/JakeFAU/notion-mirror/internal/kv/local"
	"github.com/JakeFAU/notion-mirror/internal/kv/memory"
	pubmemory "github.com/JakeFAU/notion-mirror/internal/publisher/memory"
)

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) ([]byte, error) { return nil, errors.New("unreachable") }
func (brokenStore) Set(context.Context, string, []byte) error   { return errors.New("unreachable") }

func samplePayload(updatedAt string) *content.Payload {
	return &content.Payload{
		Version:   content.PayloadVersion,
		Source:    content.PayloadSource,
		UpdatedAt: updatedAt,
		Groups:    []content.Group{{ID: "g", Items: []content.Article{{ID: "a"}, {ID: "b"}}}},
	}
}

func fixedClock(s *Store, start time.Time) *time.Time {
	now := start
	s.now = func() time.Time { return now }
	return &now
}

func TestPublishWithoutDraftLeavesPublishedUnchanged(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New(NewMirror(ctx, memory.New(), "", nil), Options{})
	_, err := s.PublishDraft(ctx)
	require.ErrorIs(t, err, ErrNoDraft)

	published, err := s.GetPublished(ctx)
	require.NoError(t, err)
	require.Nil(t, published)
}

func TestSetDraftThenPublish(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	remote := memory.New()
	pub := pubmemory.New()
	s := New(NewMirror(ctx, memory.New(), "", nil), Options{Remote: remote, Publisher: pub, Topic: "content-events"})
	now := fixedClock(s, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))

	draft, err := s.SetDraft(ctx, samplePayload("T1"))
	require.NoError(t, err)
	require.Equal(t, *now, *draft.SyncedAt)
	require.Nil(t, draft.PublishedAt)

	*now = now.Add(time.Hour)
	published, err := s.PublishDraft(ctx)
	require.NoError(t, err)
	require.Equal(t, draft.SyncedAt.Unix(), published.SyncedAt.Unix())
	require.Equal(t, *now, *published.PublishedAt)
	require.Equal(t, "T1", published.Payload.UpdatedAt)

	raw, err := remote.Get(ctx, "inblog:published")
	require.NoError(t, err)
	var stored content.Snapshot
	require.NoError(t, json.Unmarshal(raw, &stored))
	require.Equal(t, "T1", stored.Payload.UpdatedAt)

	_, err = remote.Get(ctx, "inblog:draft")
	require.NoError(t, err)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "content-events", msgs[0].Topic)
	var event map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &event))
	assert.Equal(t, "content.published", event["event"])
	assert.EqualValues(t, 1, event["groups"])
	assert.EqualValues(t, 2, event["items"])
}

func TestReadsPreferRemoteAndFallBackToMirror(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	remote := memory.New()
	mirror := NewMirror(ctx, nil, "", nil)
	s := New(mirror, Options{Remote: remote})

	synced := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, mirror.Put(ctx, SlotDraft, &content.Snapshot{Payload: samplePayload("mirror"), SyncedAt: &synced}))

	draft, err := s.GetDraft(ctx)
	require.NoError(t, err)
	require.Equal(t, "mirror", draft.Payload.UpdatedAt)

	data, err := json.Marshal(content.Snapshot{Payload: samplePayload("remote"), SyncedAt: &synced})
	require.NoError(t, err)
	require.NoError(t, remote.Set(ctx, s.Key(SlotDraft), data))
	draft, err = s.GetDraft(ctx)
	require.NoError(t, err)
	require.Equal(t, "remote", draft.Payload.UpdatedAt)

	require.NoError(t, remote.Set(ctx, s.Key(SlotDraft), []byte("{broken")))
	draft, err = s.GetDraft(ctx)
	require.NoError(t, err)
	require.Equal(t, "mirror", draft.Payload.UpdatedAt)
}

func TestUnreachableRemoteIsBestEffort(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New(NewMirror(ctx, memory.New(), "", nil), Options{Remote: brokenStore{}})

	_, err := s.SetDraft(ctx, samplePayload("T1"))
	require.NoError(t, err)
	published, err := s.PublishDraft(ctx)
	require.NoError(t, err)
	require.Equal(t, "T1", published.Payload.UpdatedAt)

	got, err := s.GetPublished(ctx)
	require.NoError(t, err)
	require.Equal(t, "T1", got.Payload.UpdatedAt)
}

func TestPublishNotificationFailureDoesNotFailPublish(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pub := pubmemory.New()
	pub.FailWith(errors.New("topic not found"))
	s := New(nil, Options{Publisher: pub, Topic: "content-events"})

	_, err := s.SetDraft(ctx, samplePayload("T1"))
	require.NoError(t, err)
	_, err = s.PublishDraft(ctx)
	require.NoError(t, err)
}

func TestSetDraftRequiresPayload(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Options{}).SetDraft(context.Background(), nil)
	require.Error(t, err)
}

func TestMirrorFileSurvivesRestart(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	files, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)

	s := New(NewMirror(ctx, files, "", nil), Options{})
	_, err = s.SetDraft(ctx, samplePayload("T1"))
	require.NoError(t, err)
	_, err = s.PublishDraft(ctx)
	require.NoError(t, err)

	raw, err := files.Get(ctx, DefaultMirrorKey)
	require.NoError(t, err)
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.Contains(t, doc, "draft")
	require.Contains(t, doc, "published")

	restarted := New(NewMirror(ctx, files, "", nil), Options{})
	published, err := restarted.GetPublished(ctx)
	require.NoError(t, err)
	require.Equal(t, "T1", published.Payload.UpdatedAt)
}

func TestMirrorIgnoresMalformedFile(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	files := memory.New()
	require.NoError(t, files.Set(ctx, DefaultMirrorKey, []byte("not json")))

	m := NewMirror(ctx, files, "", nil)
	require.Nil(t, m.Get(SlotDraft))
	require.Nil(t, m.Get(SlotPublished))

	_, err := files.Get(ctx, "missing")
	require.ErrorIs(t, err, kv.ErrNotFound)
}
