// Package memory gives a component a private key-value space under
// /memory/<component>/ in the shared store.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nerrad567/tep-core/internal/infrastructure/kvstore"
)

// ErrInvalidKey is returned for an empty memory key.
var ErrInvalidKey = errors.New("memory: invalid key")

// Memory stores JSON values for one component.
type Memory struct {
	store     kvstore.Store
	component string
}

// New creates the memory of component.
func New(store kvstore.Store, component string) *Memory {
	return &Memory{store: store, component: component}
}

// Key returns the store key of a memory entry.
func Key(component, key string) string {
	return kvstore.Join("memory", component, strings.Trim(key, "/"))
}

// Save stores value as JSON under key.
func (m *Memory) Save(ctx context.Context, key string, value any) error {
	storeKey, err := m.key(key)
	if err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", storeKey, err)
	}
	if _, err := m.store.Write(ctx, storeKey, data); err != nil {
		return fmt.Errorf("saving %s: %w", storeKey, err)
	}
	return nil
}

// Read returns the decoded value under key, or nil when it is absent.
func (m *Memory) Read(ctx context.Context, key string) (any, error) {
	var value any
	if _, err := m.ReadInto(ctx, key, &value); err != nil {
		return nil, err
	}
	return value, nil
}

// ReadInto decodes the value under key into dst and reports whether it
// was present.
func (m *Memory) ReadInto(ctx context.Context, key string, dst any) (bool, error) {
	storeKey, err := m.key(key)
	if err != nil {
		return false, err
	}

	entry, err := m.store.Read(ctx, storeKey)
	if errors.Is(err, kvstore.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", storeKey, err)
	}
	if err := json.Unmarshal(entry.Value, dst); err != nil {
		return false, fmt.Errorf("decoding %s: %w", storeKey, err)
	}
	return true, nil
}

// Delete removes key and everything below it. Deleting an absent key
// succeeds.
func (m *Memory) Delete(ctx context.Context, key string) error {
	storeKey, err := m.key(key)
	if err != nil {
		return err
	}
	if err := m.store.Delete(ctx, storeKey, true); err != nil {
		return fmt.Errorf("deleting %s: %w", storeKey, err)
	}
	return nil
}

func (m *Memory) key(key string) (string, error) {
	if strings.Trim(key, "/") == "" {
		return "", ErrInvalidKey
	}
	return Key(m.component, key), nil
}
