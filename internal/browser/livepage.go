package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"composerkeys-mcp-server/internal/dom"

	"github.com/go-rod/rod"
	"github.com/ysmood/gson"
	"go.uber.org/zap"
)

// CandidateSelector picks the nodes a snapshot captures: anything clickable
// or role-tagged, plus the wrappers popup libraries render menus into.
const CandidateSelector = `button, [role], [data-radix-popper-content-wrapper], [data-radix-menu-content], div[data-side], [aria-modal], dialog`

// fullTextSelector marks nodes whose whole text is matched against; every
// other captured node reports at most textLimit characters.
const fullTextSelector = `[role=menu], [role=menuitem], [role=menuitemradio], [role=menuitemcheckbox], [data-radix-popper-content-wrapper], [data-radix-menu-content], div[data-side], [aria-modal], dialog`

const textLimit = 160

const mutationBinding = "__composerMutation"

// registry keeps ref <-> element maps on window so refs survive between
// evaluations without touching the host's DOM.
const registry = `
const reg = (window.__composerRefs = window.__composerRefs || {seq: 0, byRef: new Map(), byEl: new WeakMap()});
const refOf = (el) => {
  let ref = reg.byEl.get(el);
  if (!ref) {
    ref = "n" + (++reg.seq);
    reg.byEl.set(el, ref);
    reg.byRef.set(ref, new WeakRef(el));
  }
  return ref;
};
const resolve = (ref) => {
  const w = reg.byRef.get(ref);
  const el = w && w.deref();
  if (!el || !el.isConnected) { reg.byRef.delete(ref); return null; }
  return el;
};
`

var snapshotJS = `(sel, fullSel, limit) => {` + registry + `
  const found = new Set(document.querySelectorAll(sel));
  for (const el of Array.from(found)) {
    const id = el.getAttribute("aria-controls");
    const target = id && document.getElementById(id);
    if (target) found.add(target);
  }
  const ordered = Array.from(found).sort((a, b) =>
    a === b ? 0 : (a.compareDocumentPosition(b) & Node.DOCUMENT_POSITION_FOLLOWING) ? -1 : 1);
  return ordered.map((el) => {
    let parent = "";
    for (let p = el.parentElement; p; p = p.parentElement) {
      if (found.has(p)) { parent = refOf(p); break; }
    }
    const attrs = {};
    for (const a of el.attributes) attrs[a.name] = a.value;
    const r = el.getBoundingClientRect();
    let text = (el.textContent || "").trim();
    if (text.length > limit && !el.matches(fullSel)) text = text.slice(0, limit);
    return {
      ref: refOf(el),
      parent,
      tag: el.tagName.toLowerCase(),
      id: el.id || "",
      role: el.getAttribute("role") || "",
      classes: Array.from(el.classList),
      attrs,
      text,
      rect: {x: r.x, y: r.y, width: r.width, height: r.height},
    };
  });
}`

var dispatchJS = `(ref, ev) => {` + registry + `
  const el = ref === "" ? document : resolve(ref);
  if (!el) return "detached";
  const init = {bubbles: ev.bubbles, cancelable: ev.cancelable, composed: true};
  if (ev.hasPoint) { init.clientX = ev.clientX; init.clientY = ev.clientY; }
  let e;
  switch (ev.kind) {
  case "pointer":
    Object.assign(init, {view: window, pointerType: ev.pointerType || "mouse", isPrimary: !!ev.isPrimary});
    e = typeof PointerEvent === "function" ? new PointerEvent(ev.type, init) : new MouseEvent(ev.type, init);
    break;
  case "mouse":
    Object.assign(init, {view: window, button: 0});
    e = new MouseEvent(ev.type, init);
    break;
  case "keyboard":
    init.key = ev.key;
    e = new KeyboardEvent(ev.type, init);
    break;
  default:
    e = new Event(ev.type, init);
  }
  el.dispatchEvent(e);
  return "ok";
}`

var elementAtJS = `(x, y) => {` + registry + `
  const el = document.elementFromPoint(x, y);
  return el ? refOf(el) : "";
}`

var boxJS = `(ref) => {` + registry + `
  const el = resolve(ref);
  if (!el) return null;
  const r = el.getBoundingClientRect();
  return {x: r.x, y: r.y, width: r.width, height: r.height};
}`

var focusJS = `(ref) => {` + registry + `
  const el = resolve(ref);
  if (!el) return "detached";
  if (typeof el.focus === "function") el.focus();
  return "ok";
}`

var nativeClickJS = `(ref) => {` + registry + `
  const el = resolve(ref);
  if (!el) return "detached";
  if (typeof el.click === "function") el.click();
  return "ok";
}`

var observeJS = `(on, binding) => {
  const st = (window.__composerObserver = window.__composerObserver || {mo: null, queued: false});
  if (!on) {
    if (st.mo) { st.mo.disconnect(); st.mo = null; }
    return;
  }
  if (st.mo) return;
  st.mo = new MutationObserver(() => {
    if (st.queued) return;
    st.queued = true;
    queueMicrotask(() => {
      st.queued = false;
      const fn = window[binding];
      if (typeof fn === "function") fn({}).catch(() => {});
    });
  });
  st.mo.observe(document.documentElement, {
    childList: true, subtree: true, attributes: true,
    attributeFilter: ["aria-expanded", "aria-checked", "aria-disabled", "data-state", "class", "style", "hidden", "open"],
  });
}`

var noticeJS = `(text, level) => {
  const el = document.createElement("div");
  el.textContent = text;
  el.setAttribute("role", "status");
  Object.assign(el.style, {
    position: "fixed", right: "16px", bottom: "16px", zIndex: "2147483647",
    padding: "8px 12px", borderRadius: "8px", font: "13px system-ui, sans-serif",
    color: "#fff", background: level === "error" ? "#b3261e" : "#333",
    boxShadow: "0 2px 8px rgba(0,0,0,.3)", pointerEvents: "none",
  });
  (document.body || document.documentElement).appendChild(el);
  setTimeout(() => el.remove(), 2500);
}`

// LivePage implements dom.Page on a rod page. Every call is a single
// evaluation; node refs are kept in a page-side registry and resolve to
// dom.ErrDetached once the host removes the node.
type LivePage struct {
	page *rod.Page
	log  *zap.Logger

	// mu serializes observer install and removal; watchMu guards the
	// watcher set and is never held across an evaluation.
	mu          sync.Mutex
	stopExpose  func() error
	watchMu     sync.Mutex
	watchers    map[int]chan struct{}
	nextWatcher int
}

var _ dom.Page = (*LivePage)(nil)

// NewLivePage wraps p.
func NewLivePage(p *rod.Page, log *zap.Logger) *LivePage {
	if log == nil {
		log = zap.NewNop()
	}
	return &LivePage{page: p, log: log, watchers: make(map[int]chan struct{})}
}

// Rod returns the underlying page.
func (l *LivePage) Rod() *rod.Page { return l.page }

func (l *LivePage) eval(ctx context.Context, js string, args ...interface{}) (gson.JSON, error) {
	res, err := l.page.Context(ctx).Evaluate(rod.Eval(js, args...).ByPromise())
	if err != nil {
		return gson.JSON{}, err
	}
	return res.Value, nil
}

func decode(v gson.JSON, out interface{}) error {
	raw, err := v.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// status runs a script that answers "ok" or "detached".
func (l *LivePage) status(ctx context.Context, js string, args ...interface{}) error {
	v, err := l.eval(ctx, js, args...)
	if err != nil {
		return err
	}
	if v.Str() == "detached" {
		return dom.ErrDetached
	}
	return nil
}

func (l *LivePage) Snapshot(ctx context.Context) (*dom.Snapshot, error) {
	v, err := l.eval(ctx, snapshotJS, CandidateSelector, fullTextSelector, textLimit)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	var nodes []dom.Node
	if err := decode(v, &nodes); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return dom.NewSnapshot(nodes), nil
}

func (l *LivePage) Dispatch(ctx context.Context, ref dom.NodeRef, ev dom.Event) error {
	return l.status(ctx, dispatchJS, string(ref), ev)
}

func (l *LivePage) ElementAt(ctx context.Context, x, y float64) (dom.NodeRef, error) {
	v, err := l.eval(ctx, elementAtJS, x, y)
	if err != nil {
		return dom.Document, err
	}
	return dom.NodeRef(v.Str()), nil
}

func (l *LivePage) Box(ctx context.Context, ref dom.NodeRef) (dom.Rect, error) {
	v, err := l.eval(ctx, boxJS, string(ref))
	if err != nil {
		return dom.Rect{}, err
	}
	if v.Nil() {
		return dom.Rect{}, dom.ErrDetached
	}
	var r dom.Rect
	if err := decode(v, &r); err != nil {
		return dom.Rect{}, fmt.Errorf("decode box: %w", err)
	}
	return r, nil
}

func (l *LivePage) Focus(ctx context.Context, ref dom.NodeRef) error {
	return l.status(ctx, focusJS, string(ref))
}

func (l *LivePage) NativeClick(ctx context.Context, ref dom.NodeRef) error {
	return l.status(ctx, nativeClickJS, string(ref))
}

// Observe shares one page-side MutationObserver across all watchers. Bursts
// are coalesced into one signal per microtask.
func (l *LivePage) Observe(ctx context.Context) (<-chan struct{}, func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopExpose == nil {
		stop, err := l.page.Expose(mutationBinding, func(gson.JSON) (interface{}, error) {
			l.broadcast()
			return nil, nil
		})
		if err != nil {
			return nil, nil, fmt.Errorf("expose mutation binding: %w", err)
		}
		l.stopExpose = stop
	}

	ch := make(chan struct{}, 1)
	l.watchMu.Lock()
	id := l.nextWatcher
	l.nextWatcher++
	first := len(l.watchers) == 0
	l.watchers[id] = ch
	l.watchMu.Unlock()

	if first {
		if _, err := l.eval(ctx, observeJS, true, mutationBinding); err != nil {
			l.removeWatcher(id)
			return nil, nil, fmt.Errorf("start observer: %w", err)
		}
	}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.removeWatcher(id) {
				if _, err := l.eval(context.Background(), observeJS, false, mutationBinding); err != nil {
					l.log.Debug("stop observer", zap.Error(err))
				}
			}
		})
	}
	return ch, stop, nil
}

// removeWatcher reports whether the last watcher is gone.
func (l *LivePage) removeWatcher(id int) bool {
	l.watchMu.Lock()
	defer l.watchMu.Unlock()
	if _, ok := l.watchers[id]; !ok {
		return false
	}
	delete(l.watchers, id)
	return len(l.watchers) == 0
}

func (l *LivePage) broadcast() {
	l.watchMu.Lock()
	defer l.watchMu.Unlock()
	for _, ch := range l.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (l *LivePage) Notify(ctx context.Context, n dom.Notice) error {
	_, err := l.eval(ctx, noticeJS, n.Text, n.Level)
	return err
}

// Close removes the page bindings.
func (l *LivePage) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.watchMu.Lock()
	active := len(l.watchers) > 0
	l.watchers = make(map[int]chan struct{})
	l.watchMu.Unlock()

	var errs []error
	if active {
		if _, err := l.eval(context.Background(), observeJS, false, mutationBinding); err != nil {
			errs = append(errs, err)
		}
	}
	if l.stopExpose != nil {
		errs = append(errs, l.stopExpose())
		l.stopExpose = nil
	}
	return errors.Join(errs...)
}
