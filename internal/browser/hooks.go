package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"composerkeys-mcp-server/internal/shortcut"
	"composerkeys-mcp-server/internal/toggle"

	"github.com/go-rod/rod"
	"github.com/ysmood/gson"
	"go.uber.org/zap"
)

const keyBinding = "__composerKey"

// installKeysJS registers one capture-phase keydown listener per document.
// Matching chords are swallowed before the host sees them and forwarded to
// the exposed binding; calling it again only replaces the chord list.
var installKeysJS = `(bindings, binding) => {
  if (!window.__composerKeys) {
    window.__composerKeys = {bindings: []};
    window.addEventListener("keydown", (e) => {
      try {
        const k = (e.key || "").toLowerCase();
        if (!k || k === "shift" || k === "control" || k === "alt" || k === "meta") return;
        const hit = window.__composerKeys.bindings.some((b) => b &&
          !!e.ctrlKey === !!b.ctrl && !!e.altKey === !!b.alt &&
          !!e.shiftKey === !!b.shift && !!e.metaKey === !!b.meta && k === b.key);
        if (!hit) return;
        e.preventDefault();
        e.stopPropagation();
        const fn = window[binding];
        if (typeof fn === "function") {
          fn({key: e.key, ctrlKey: e.ctrlKey, altKey: e.altKey, shiftKey: e.shiftKey, metaKey: e.metaKey}).catch(() => {});
        }
      } catch (err) {}
    }, {capture: true});
  }
  window.__composerKeys.bindings = bindings;
}`

var platformJS = `() => ({
  platform: (navigator.userAgentData && navigator.userAgentData.platform) || "",
  userAgent: navigator.userAgent || "",
})`

// KeyHandler consumes forwarded chords.
type KeyHandler interface {
	Handle(ctx context.Context, ev shortcut.KeyEvent) bool
}

// Hooks mirrors the shortcut bindings into the page and forwards matching
// keydown events to a KeyHandler.
type Hooks struct {
	page    *rod.Page
	handler KeyHandler
	log     *zap.Logger
	ctx     context.Context

	mu           sync.Mutex
	stopExpose   func() error
	removeScript func() error
}

// InstallHooks exposes the key binding and installs the listener in the
// current document and every document loaded after it. ctx bounds the
// commands fired by forwarded chords.
func InstallHooks(ctx context.Context, p *rod.Page, handler KeyHandler, bindings map[toggle.Feature]shortcut.Binding, log *zap.Logger) (*Hooks, error) {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Hooks{page: p, handler: handler, log: log, ctx: ctx}

	stop, err := p.Expose(keyBinding, h.onKey)
	if err != nil {
		return nil, fmt.Errorf("expose key binding: %w", err)
	}
	h.stopExpose = stop

	if err := h.PushBindings(ctx, bindings); err != nil {
		_ = stop()
		return nil, err
	}
	return h, nil
}

func (h *Hooks) onKey(payload gson.JSON) (interface{}, error) {
	var ev shortcut.KeyEvent
	if err := decode(payload, &ev); err != nil {
		h.log.Debug("bad key payload", zap.Error(err))
		return false, nil
	}
	return h.handler.Handle(h.ctx, ev), nil
}

// ChordList orders bindings the way the recognizer checks them.
func ChordList(bindings map[toggle.Feature]shortcut.Binding) []shortcut.Binding {
	out := make([]shortcut.Binding, 0, len(bindings))
	for _, f := range toggle.Features {
		if b, ok := bindings[f]; ok && b.Valid() {
			out = append(out, shortcut.Normalize(b))
		}
	}
	return out
}

// PushBindings replaces the chords the page listens for.
func (h *Hooks) PushBindings(ctx context.Context, bindings map[toggle.Feature]shortcut.Binding) error {
	chords := ChordList(bindings)
	raw, err := json.Marshal(chords)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.removeScript != nil {
		if err := h.removeScript(); err != nil {
			h.log.Debug("remove stale key script", zap.Error(err))
		}
		h.removeScript = nil
	}
	script := fmt.Sprintf("(%s)(%s, %q)", installKeysJS, raw, keyBinding)
	remove, err := h.page.EvalOnNewDocument(script)
	if err != nil {
		return fmt.Errorf("install key script: %w", err)
	}
	h.removeScript = remove

	if _, err := h.page.Context(ctx).Evaluate(rod.Eval(installKeysJS, chords, keyBinding)); err != nil {
		return fmt.Errorf("push bindings: %w", err)
	}
	h.log.Debug("bindings pushed", zap.Int("chords", len(chords)))
	return nil
}

// Close removes the listener script and the binding. The listener already
// installed in the current document stays but has nothing to call.
func (h *Hooks) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var err error
	if h.removeScript != nil {
		err = h.removeScript()
		h.removeScript = nil
	}
	if h.stopExpose != nil {
		if e := h.stopExpose(); err == nil {
			err = e
		}
		h.stopExpose = nil
	}
	return err
}

// DetectPlatform asks the page which platform the browser reports.
func DetectPlatform(ctx context.Context, p *rod.Page) (shortcut.Platform, error) {
	res, err := p.Context(ctx).Evaluate(rod.Eval(platformJS))
	if err != nil {
		return shortcut.Other, fmt.Errorf("read navigator: %w", err)
	}
	var nav struct {
		Platform  string `json:"platform"`
		UserAgent string `json:"userAgent"`
	}
	if err := decode(res.Value, &nav); err != nil {
		return shortcut.Other, err
	}
	return shortcut.DetectPlatform(nav.Platform, nav.UserAgent), nil
}
