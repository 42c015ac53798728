package shortcut

import (
	"fmt"
	"sync"

	"composerkeys-mcp-server/internal/settings"
	"composerkeys-mcp-server/internal/toggle"

	"go.uber.org/zap"
)

// Registry holds the live binding for every feature. It reads stored
// bindings from a settings store, falls back to platform defaults and
// reloads whenever the store reports a change to one of its keys.
type Registry struct {
	store    settings.Store
	platform Platform
	log      *zap.Logger

	// reloadMu orders reloads so subscribers see bindings in the order they
	// were read. Subscribers must not call Set.
	reloadMu sync.Mutex

	mu       sync.RWMutex
	bindings map[toggle.Feature]Binding
	subs     map[int]func(map[toggle.Feature]Binding)
	nextSub  int
	cancel   func()
}

// NewRegistry loads bindings from store and subscribes to its changes.
func NewRegistry(store settings.Store, platform Platform, log *zap.Logger) (*Registry, error) {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Registry{
		store:    store,
		platform: platform,
		log:      log,
		subs:     make(map[int]func(map[toggle.Feature]Binding)),
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	r.cancel = store.Subscribe(r.onChange)
	return r, nil
}

// Platform returns the platform the defaults were chosen for.
func (r *Registry) Platform() Platform { return r.platform }

// Reload re-reads every binding. A missing or unusable stored binding
// yields the platform default.
func (r *Registry) Reload() error {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	defaults := Defaults(r.platform)
	next := make(map[toggle.Feature]Binding, len(defaults))
	for _, f := range toggle.Features {
		var b Binding
		ok, err := r.store.Get(StorageKey(f), &b)
		if err != nil {
			r.log.Warn("stored shortcut unreadable, using default",
				zap.String("key", StorageKey(f)), zap.Error(err))
			ok = false
		}
		if ok && !b.Valid() {
			r.log.Warn("stored shortcut has no key, using default", zap.String("key", StorageKey(f)))
			ok = false
		}
		if !ok {
			b = defaults[f]
		}
		next[f] = Normalize(b)
	}

	r.mu.Lock()
	r.bindings = next
	subs := make([]func(map[toggle.Feature]Binding), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	r.mu.Unlock()

	for _, fn := range subs {
		fn(copyBindings(next))
	}
	return nil
}

func (r *Registry) onChange(keys []string) {
	for _, k := range keys {
		for _, f := range toggle.Features {
			if StorageKey(f) == k {
				r.log.Info("shortcuts changed, reloading", zap.Strings("keys", keys))
				if err := r.Reload(); err != nil {
					r.log.Warn("shortcut reload failed", zap.Error(err))
				}
				return
			}
		}
	}
}

// Bindings returns a copy of the current bindings.
func (r *Registry) Bindings() map[toggle.Feature]Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyBindings(r.bindings)
}

// Binding returns f's current binding.
func (r *Registry) Binding(f toggle.Feature) Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bindings[f]
}

// Set stores a new binding for f. Subscribers see it once the store
// reports the change.
func (r *Registry) Set(f toggle.Feature, b Binding) error {
	key := StorageKey(f)
	if key == "" {
		return fmt.Errorf("no shortcut for %s", f)
	}
	if !b.Valid() {
		return fmt.Errorf("shortcut for %s needs a non-modifier key", f)
	}
	if err := r.store.Set(key, Normalize(b)); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

// Subscribe registers fn to receive the bindings after every reload.
func (r *Registry) Subscribe(fn func(map[toggle.Feature]Binding)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, id)
	}
}

// Close detaches the registry from the store.
func (r *Registry) Close() error {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.subs = make(map[int]func(map[toggle.Feature]Binding))
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

func copyBindings(in map[toggle.Feature]Binding) map[toggle.Feature]Binding {
	out := make(map[toggle.Feature]Binding, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
