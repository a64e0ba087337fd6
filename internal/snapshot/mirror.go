package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/notion-mirror/internal/content"
	"github.com/JakeFAU/notion-mirror/internal/kv"
)

// DefaultMirrorKey is the key, and with the local store the file name, of the mirror file.
const DefaultMirrorKey = ".snapshot-store.json"

type mirrorFile struct {
	Published *content.Snapshot `json:"published"`
	Draft     *content.Snapshot `json:"draft"`
}

// Mirror holds both slots in process and rewrites them to a single JSON
// document after each change.
type Mirror struct {
	mu     sync.RWMutex
	slots  mirrorFile
	store  kv.Store
	key    string
	logger *zap.Logger
}

// NewMirror loads the mirror document from store. A nil store keeps the
// slots in memory only. Missing or malformed documents start empty.
func NewMirror(ctx context.Context, store kv.Store, key string, logger *zap.Logger) *Mirror {
	if key == "" {
		key = DefaultMirrorKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Mirror{store: store, key: key, logger: logger.Named("snapshot")}
	if store == nil {
		return m
	}

	data, err := store.Get(ctx, key)
	switch {
	case errors.Is(err, kv.ErrNotFound):
	case err != nil:
		m.logger.Warn("read snapshot mirror failed", zap.String("key", key), zap.Error(err))
	default:
		var f mirrorFile
		if err := json.Unmarshal(data, &f); err != nil {
			m.logger.Warn("ignoring malformed snapshot mirror", zap.String("key", key), zap.Error(err))
			break
		}
		m.slots = f
	}
	return m
}

// Get returns the snapshot in slot, or nil.
func (m *Mirror) Get(slot Slot) *content.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.slotRef(slot)
}

func (m *Mirror) slotRef(slot Slot) *content.Snapshot {
	if slot == SlotDraft {
		return m.slots.Draft
	}
	return m.slots.Published
}

// Put replaces slot in process, then rewrites the document. The in-process
// value is kept even when the write fails.
func (m *Mirror) Put(ctx context.Context, slot Slot, snap *content.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if slot == SlotDraft {
		m.slots.Draft = snap
	} else {
		m.slots.Published = snap
	}
	if m.store == nil {
		return nil
	}
	data, err := json.MarshalIndent(m.slots, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot mirror: %w", err)
	}
	if err := m.store.Set(ctx, m.key, data); err != nil {
		return fmt.Errorf("write snapshot mirror: %w", err)
	}
	return nil
}
