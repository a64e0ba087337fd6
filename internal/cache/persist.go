package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/notion-mirror/internal/content"
	"github.com/JakeFAU/notion-mirror/internal/kv"
)

// DefaultPersistKey is the key, and with the local store the file name, of the persisted payload.
const DefaultPersistKey = ".notion-cache.json"

// StorePersister keeps the payload as indented JSON in a kv.Store.
type StorePersister struct {
	store  kv.Store
	key    string
	logger *zap.Logger
}

// NewStorePersister returns a persister writing under key (DefaultPersistKey when empty).
func NewStorePersister(store kv.Store, key string, logger *zap.Logger) *StorePersister {
	if key == "" {
		key = DefaultPersistKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StorePersister{store: store, key: key, logger: logger.Named("cache")}
}

// Load returns the persisted payload, or nil when absent or malformed.
func (p *StorePersister) Load(ctx context.Context) (*content.Payload, error) {
	data, err := p.store.Get(ctx, p.key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("read persisted payload: %w", err)
	}
	var payload content.Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		p.logger.Warn("ignoring malformed persisted payload", zap.String("key", p.key), zap.Error(err))
		return nil, nil
	}
	if payload.Groups == nil {
		p.logger.Warn("ignoring persisted payload without groups", zap.String("key", p.key))
		return nil, nil
	}
	return &payload, nil
}

// Save writes payload.
func (p *StorePersister) Save(ctx context.Context, payload *content.Payload) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := p.store.Set(ctx, p.key, data); err != nil {
		return fmt.Errorf("write persisted payload: %w", err)
	}
	return nil
}
