// Package settings is the key-value store holding user preferences such as
// shortcut bindings. Stores notify subscribers when keys change so holders
// can reload without a restart.
package settings

import (
	"errors"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrUnknownKey is returned for keys the store was not opened with.
var ErrUnknownKey = errors.New("unknown settings key")

// Store reads and writes settings values.
type Store interface {
	// Get decodes the value under key into out. It reports false when the
	// key has no value.
	Get(key string, out interface{}) (bool, error)
	Set(key string, value interface{}) error
	// Subscribe registers fn for change notifications and returns a func
	// that removes it. fn receives the changed keys.
	Subscribe(fn func(keys []string)) func()
	Close() error
}

type hub struct {
	mu   sync.Mutex
	next int
	subs map[int]func([]string)
}

func (h *hub) subscribe(fn func([]string)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs == nil {
		h.subs = make(map[int]func([]string))
	}
	id := h.next
	h.next++
	h.subs[id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

func (h *hub) publish(keys []string) {
	if len(keys) == 0 {
		return
	}
	h.mu.Lock()
	fns := make([]func([]string), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(append([]string(nil), keys...))
	}
}

type keySet map[string]bool

func newKeySet(keys []string) keySet {
	if len(keys) == 0 {
		return nil
	}
	ks := make(keySet, len(keys))
	for _, k := range keys {
		ks[k] = true
	}
	return ks
}

func (ks keySet) check(key string) error {
	if ks != nil && !ks[key] {
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return nil
}

// MemoryStore keeps values in memory. Values are stored in their YAML form
// so Get decodes the same way as FileStore.
type MemoryStore struct {
	hub
	keys keySet

	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemoryStore creates an empty store limited to keys (any key when empty).
func NewMemoryStore(keys ...string) *MemoryStore {
	return &MemoryStore{keys: newKeySet(keys), values: make(map[string][]byte)}
}

func (m *MemoryStore) Get(key string, out interface{}) (bool, error) {
	if err := m.keys.check(key); err != nil {
		return false, err
	}
	m.mu.RLock()
	raw, ok := m.values[key]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (m *MemoryStore) Set(key string, value interface{}) error {
	if err := m.keys.check(key); err != nil {
		return err
	}
	raw, err := yaml.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	m.mu.Lock()
	changed := string(m.values[key]) != string(raw)
	m.values[key] = raw
	m.mu.Unlock()
	if changed {
		m.publish([]string{key})
	}
	return nil
}

func (m *MemoryStore) Subscribe(fn func([]string)) func() { return m.subscribe(fn) }

func (m *MemoryStore) Close() error { return nil }
