package shortcut

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"composerkeys-mcp-server/internal/command"
	"composerkeys-mcp-server/internal/config"
	"composerkeys-mcp-server/internal/mangle"
	"composerkeys-mcp-server/internal/settings"
	"composerkeys-mcp-server/internal/toggle"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchesIsCaseInsensitiveOnKey(t *testing.T) {
	b := Binding{Ctrl: true, Shift: true, Key: "t"}

	assert.True(t, Matches(b, KeyEvent{Key: "T", CtrlKey: true, ShiftKey: true}))
	assert.False(t, Matches(b, KeyEvent{Key: "T", CtrlKey: true}), "shift missing")
	assert.False(t, Matches(b, KeyEvent{Key: "t", CtrlKey: true, ShiftKey: true, AltKey: true}), "extra alt")
	assert.False(t, Matches(b, KeyEvent{Key: "y", CtrlKey: true, ShiftKey: true}))
}

func TestModifierOnlyNeverMatches(t *testing.T) {
	for _, key := range []string{"Shift", "Control", "Alt", "Meta", ""} {
		ev := KeyEvent{Key: key, CtrlKey: true, ShiftKey: true}
		assert.True(t, IsModifierOnly(ev), key)
		assert.False(t, Matches(Binding{Ctrl: true, Shift: true, Key: key}, ev), key)
	}
}

func TestFormatAndParse(t *testing.T) {
	assert.Equal(t, "Ctrl+Shift+T", Format(Binding{Ctrl: true, Shift: true, Key: "t"}))
	assert.Equal(t, "Alt+Shift+W", Format(Binding{Alt: true, Shift: true, Key: "w"}))

	b, err := Parse("Cmd+Alt+K")
	require.NoError(t, err)
	assert.Equal(t, Binding{Meta: true, Alt: true, Key: "k"}, b)

	_, err = Parse("Ctrl+Shift")
	assert.Error(t, err)
	_, err = Parse("Ctrl+A+B")
	assert.Error(t, err)
	_, err = Parse("Ctrl++")
	assert.Error(t, err)
}

func TestDefaults(t *testing.T) {
	mac := Defaults(Mac)
	assert.Equal(t, Binding{Ctrl: true, Shift: true, Key: "t"}, mac[toggle.ThinkLonger])
	assert.Equal(t, Binding{Ctrl: true, Shift: true, Key: "r"}, mac[toggle.DeepResearch])

	other := Defaults(Other)
	assert.Equal(t, Binding{Alt: true, Shift: true, Key: "w"}, other[toggle.WebSearch])
	assert.Equal(t, Binding{Alt: true, Shift: true, Key: "i"}, other[toggle.CreateImage])
}

func TestDetectPlatform(t *testing.T) {
	assert.Equal(t, Mac, DetectPlatform("macOS", ""))
	assert.Equal(t, Other, DetectPlatform("Windows", "Mozilla/5.0 (Macintosh)"))
	assert.Equal(t, Mac, DetectPlatform("", "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_0)"))
	assert.Equal(t, Other, DetectPlatform("", "Mozilla/5.0 (X11; Linux x86_64)"))
}

func TestStorageKeys(t *testing.T) {
	assert.Equal(t, []string{"thinkShortcut", "webShortcut", "imageShortcut", "researchShortcut"}, StorageKeys())
}

func TestRegistryUsesStoredBindings(t *testing.T) {
	store := settings.NewMemoryStore(StorageKeys()...)
	require.NoError(t, store.Set("webShortcut", Binding{Ctrl: true, Alt: true, Key: "S"}))
	require.NoError(t, store.Set("imageShortcut", Binding{Ctrl: true}))

	reg, err := NewRegistry(store, Other, nil)
	require.NoError(t, err)
	defer reg.Close()

	assert.Equal(t, Binding{Ctrl: true, Alt: true, Key: "s"}, reg.Binding(toggle.WebSearch))
	assert.Equal(t, Defaults(Other)[toggle.CreateImage], reg.Binding(toggle.CreateImage), "keyless binding falls back")
	assert.Equal(t, Defaults(Other)[toggle.ThinkLonger], reg.Binding(toggle.ThinkLonger))
}

func TestRegistryLiveUpdate(t *testing.T) {
	store := settings.NewMemoryStore(StorageKeys()...)
	reg, err := NewRegistry(store, Mac, nil)
	require.NoError(t, err)
	defer reg.Close()

	var mu sync.Mutex
	var seen []map[toggle.Feature]Binding
	reg.Subscribe(func(b map[toggle.Feature]Binding) {
		mu.Lock()
		seen = append(seen, b)
		mu.Unlock()
	})

	require.NoError(t, reg.Set(toggle.ThinkLonger, Binding{Meta: true, Key: "J"}))

	assert.Equal(t, Binding{Meta: true, Key: "j"}, reg.Binding(toggle.ThinkLonger))
	mu.Lock()
	require.Len(t, seen, 1)
	assert.Equal(t, "j", seen[0][toggle.ThinkLonger].Key)
	mu.Unlock()

	assert.Error(t, reg.Set(toggle.ThinkLonger, Binding{Shift: true, Key: "Shift"}))
}

func TestRegistryFollowsFileEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	store, err := settings.OpenFile(path, StorageKeys(), nil)
	require.NoError(t, err)
	defer store.Close()

	reg, err := NewRegistry(store, Other, nil)
	require.NoError(t, err)
	defer reg.Close()

	other, err := settings.OpenFile(path, StorageKeys(), nil)
	require.NoError(t, err)
	defer other.Close()
	require.NoError(t, other.Set("researchShortcut", Binding{Ctrl: true, Key: "d"}))

	require.Eventually(t, func() bool {
		return reg.Binding(toggle.DeepResearch).Key == "d"
	}, 2*time.Second, 20*time.Millisecond)
}

type fakeDispatcher struct {
	mu   sync.Mutex
	msgs []command.Message
}

func (d *fakeDispatcher) Handle(ctx context.Context, m command.Message) command.Response {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.msgs = append(d.msgs, m)
	return command.Response{OK: true}
}

func newRecognizer(t *testing.T, platform Platform) (*Recognizer, *fakeDispatcher, *mangle.Engine) {
	t.Helper()
	reg, err := NewRegistry(settings.NewMemoryStore(StorageKeys()...), platform, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	d := &fakeDispatcher{}
	j, err := mangle.NewEngine(config.MangleConfig{Enable: true, FactBufferLimit: 100}, nil)
	require.NoError(t, err)
	return NewRecognizer(reg, d, j, nil), d, j
}

func TestRecognizerFiresCommand(t *testing.T) {
	r, d, j := newRecognizer(t, Other)

	assert.True(t, r.Handle(context.Background(), KeyEvent{Key: "W", AltKey: true, ShiftKey: true}))
	assert.True(t, r.Handle(context.Background(), KeyEvent{Key: "t", AltKey: true, ShiftKey: true}))
	r.Wait()

	d.mu.Lock()
	defer d.mu.Unlock()
	assert.ElementsMatch(t, []command.Message{
		{Action: command.ActionRunMode, Mode: "web_search"},
		{Action: command.ActionToggleThinkLonger},
	}, d.msgs)

	fired := j.FactsByPredicate("shortcut_fired")
	require.Len(t, fired, 2)
	assert.Equal(t, "web_search", fired[0].Args[0])
	assert.Equal(t, "Alt+Shift+W", fired[0].Args[1])
}

func TestRecognizerIgnoresOtherKeys(t *testing.T) {
	r, d, _ := newRecognizer(t, Mac)

	assert.False(t, r.Handle(context.Background(), KeyEvent{Key: "Shift", CtrlKey: true, ShiftKey: true}))
	assert.False(t, r.Handle(context.Background(), KeyEvent{Key: "t", AltKey: true, ShiftKey: true}), "other-platform chord")
	assert.False(t, r.Handle(context.Background(), KeyEvent{Key: "t", CtrlKey: true}))
	r.Wait()
	assert.Empty(t, d.msgs)
}

func TestRecognizerMatchOrder(t *testing.T) {
	store := settings.NewMemoryStore(StorageKeys()...)
	same := Binding{Ctrl: true, Shift: true, Key: "x"}
	require.NoError(t, store.Set("researchShortcut", same))
	require.NoError(t, store.Set("imageShortcut", same))
	reg, err := NewRegistry(store, Mac, nil)
	require.NoError(t, err)
	defer reg.Close()

	r := NewRecognizer(reg, &fakeDispatcher{}, nil, nil)
	f, ok := r.Match(KeyEvent{Key: "X", CtrlKey: true, ShiftKey: true})
	require.True(t, ok)
	assert.Equal(t, toggle.CreateImage, f)
}

func TestRegistryReloadsDeliverInOrder(t *testing.T) {
	store := settings.NewMemoryStore(StorageKeys()...)
	reg, err := NewRegistry(store, Other, nil)
	require.NoError(t, err)
	defer reg.Close()

	var mu sync.Mutex
	var last map[toggle.Feature]Binding
	reg.Subscribe(func(b map[toggle.Feature]Binding) {
		mu.Lock()
		last = b
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for _, key := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		wg.Add(2)
		go func(key string) {
			defer wg.Done()
			assert.NoError(t, reg.Set(toggle.WebSearch, Binding{Ctrl: true, Key: key}))
		}(key)
		go func() {
			defer wg.Done()
			assert.NoError(t, reg.Reload())
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, reg.Bindings(), last)
}

type blockingDispatcher struct {
	release chan struct{}
	calls   sync.WaitGroup
}

func (d *blockingDispatcher) Handle(ctx context.Context, m command.Message) command.Response {
	defer d.calls.Done()
	<-d.release
	return command.Response{OK: true}
}

func TestRecognizerCloseWaitsAndRejects(t *testing.T) {
	reg, err := NewRegistry(settings.NewMemoryStore(StorageKeys()...), Other, nil)
	require.NoError(t, err)
	defer reg.Close()
	d := &blockingDispatcher{release: make(chan struct{})}
	r := NewRecognizer(reg, d, nil, nil)

	d.calls.Add(1)
	require.True(t, r.Handle(context.Background(), KeyEvent{Key: "t", AltKey: true, ShiftKey: true}))

	closed := make(chan struct{})
	go func() {
		r.Close()
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatal("Close returned while a command was running")
	case <-time.After(30 * time.Millisecond):
	}

	close(d.release)
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
	d.calls.Wait()

	assert.False(t, r.Handle(context.Background(), KeyEvent{Key: "t", AltKey: true, ShiftKey: true}))
}
