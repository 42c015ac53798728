package settings

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const debounce = 100 * time.Millisecond

// FileStore keeps settings in a YAML file and watches it, so edits made by
// hand or by another process reach subscribers.
type FileStore struct {
	hub
	path string
	keys keySet
	log  *zap.Logger

	mu     sync.Mutex
	values map[string]yaml.Node
	raw    map[string]string

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
	closed  bool
}

// OpenFile loads path (a missing file is an empty store) and starts
// watching it. keys limits the accepted keys; empty accepts any.
func OpenFile(path string, keys []string, log *zap.Logger) (*FileStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create settings dir: %w", err)
	}

	s := &FileStore{
		path:   path,
		keys:   newKeySet(keys),
		log:    log,
		values: make(map[string]yaml.Node),
		raw:    make(map[string]string),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	if _, err := s.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("settings watcher: %w", err)
	}
	// Watch the directory: atomic saves replace the file inode.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	s.watcher = watcher
	go s.run()
	return s, nil
}

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Get(key string, out interface{}) (bool, error) {
	if err := s.keys.check(key); err != nil {
		return false, err
	}
	s.mu.Lock()
	node, ok := s.values[key]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := node.Decode(out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *FileStore) Set(key string, value interface{}) error {
	if err := s.keys.check(key); err != nil {
		return err
	}
	var node yaml.Node
	if err := node.Encode(value); err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	raw, err := yaml.Marshal(&node)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	s.mu.Lock()
	if s.raw[key] == string(raw) {
		s.mu.Unlock()
		return nil
	}
	s.values[key] = node
	s.raw[key] = string(raw)
	err = s.writeLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.publish([]string{key})
	return nil
}

func (s *FileStore) Subscribe(fn func([]string)) func() { return s.subscribe(fn) }

// Close stops watching the file.
func (s *FileStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stopCh)
	<-s.doneCh
	return s.watcher.Close()
}

func (s *FileStore) writeLocked() error {
	data, err := yaml.Marshal(s.values)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".settings-*.yaml")
	if err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

// reload re-reads the file and returns the keys whose value changed.
func (s *FileStore) reload() ([]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	values := make(map[string]yaml.Node)
	if len(bytes.TrimSpace(data)) > 0 {
		if err := yaml.Unmarshal(data, &values); err != nil {
			return nil, fmt.Errorf("parse settings %s: %w", s.path, err)
		}
	}
	raw := make(map[string]string, len(values))
	for k, v := range values {
		v := v
		out, err := yaml.Marshal(&v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", k, err)
		}
		raw[k] = string(out)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var changed []string
	for k, v := range raw {
		if s.raw[k] != v {
			changed = append(changed, k)
		}
	}
	for k := range s.raw {
		if _, ok := raw[k]; !ok {
			changed = append(changed, k)
		}
	}
	s.values, s.raw = values, raw
	sort.Strings(changed)
	return s.filter(changed), nil
}

func (s *FileStore) filter(keys []string) []string {
	if s.keys == nil {
		return keys
	}
	out := keys[:0]
	for _, k := range keys {
		if s.keys[k] {
			out = append(out, k)
		}
	}
	return out
}

func (s *FileStore) run() {
	defer close(s.doneCh)

	var pending <-chan time.Time
	for {
		select {
		case <-s.stopCh:
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(debounce)

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("settings watcher error", zap.Error(err))

		case <-pending:
			pending = nil
			changed, err := s.reload()
			if err != nil {
				s.log.Warn("settings reload failed", zap.Error(err))
				continue
			}
			if len(changed) > 0 {
				s.log.Info("settings changed", zap.Strings("keys", changed))
				s.publish(changed)
			}
		}
	}
}
