// Package domtest provides a scripted in-memory dom.Page for exercising the
// interaction engine without a browser. Nodes react to dispatched events
// through handlers registered with On/OnKey, which may mutate the tree
// immediately or after a delay (After) to mimic asynchronous rendering.
package domtest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"composerkeys-mcp-server/internal/dom"
)

// El describes a node to add to the tree.
type El struct {
	Tag     string
	ID      string
	Role    string
	Classes []string
	Attrs   map[string]string
	Text    string
	Rect    dom.Rect
}

// Dispatch records one delivered event.
type Dispatch struct {
	Target dom.NodeRef
	Event  dom.Event
	Native bool
}

type elem struct {
	ref      dom.NodeRef
	parent   dom.NodeRef
	seq      int
	tag      string
	id       string
	role     string
	classes  []string
	attrs    map[string]string
	ownText  string
	rect     dom.Rect
	children []dom.NodeRef
}

type handlerKey struct {
	ref   dom.NodeRef
	event string
	key   string
}

// Page is a scripted, concurrency-safe dom.Page.
type Page struct {
	mu         sync.Mutex
	nodes      map[dom.NodeRef]*elem
	seq        int
	handlers   map[handlerKey][]func(*Page)
	dispatched []Dispatch
	watchers   map[int]chan struct{}
	watchSeq   int
	notices    []dom.Notice
	snapshots  int
	timers     []*time.Timer
}

// New returns an empty page.
func New() *Page {
	return &Page{
		nodes:    make(map[dom.NodeRef]*elem),
		handlers: make(map[handlerKey][]func(*Page)),
		watchers: make(map[int]chan struct{}),
	}
}

// Add inserts a node under parent (dom.Document for the top level).
func (p *Page) Add(parent dom.NodeRef, el El) dom.NodeRef {
	p.mu.Lock()
	p.seq++
	ref := dom.NodeRef(fmt.Sprintf("n%d", p.seq))
	attrs := make(map[string]string, len(el.Attrs))
	for k, v := range el.Attrs {
		attrs[k] = v
	}
	tag := el.Tag
	if tag == "" {
		tag = "div"
	}
	p.nodes[ref] = &elem{
		ref:     ref,
		parent:  parent,
		seq:     p.seq,
		tag:     tag,
		id:      el.ID,
		role:    el.Role,
		classes: append([]string(nil), el.Classes...),
		attrs:   attrs,
		ownText: el.Text,
		rect:    el.Rect,
	}
	if parentEl, ok := p.nodes[parent]; ok {
		parentEl.children = append(parentEl.children, ref)
	}
	p.mu.Unlock()
	p.mutated()
	return ref
}

// Remove deletes ref and its subtree.
func (p *Page) Remove(ref dom.NodeRef) {
	p.mu.Lock()
	el, ok := p.nodes[ref]
	if !ok {
		p.mu.Unlock()
		return
	}
	if parentEl, ok := p.nodes[el.parent]; ok {
		kept := parentEl.children[:0]
		for _, c := range parentEl.children {
			if c != ref {
				kept = append(kept, c)
			}
		}
		parentEl.children = kept
	}
	p.removeLocked(ref)
	p.mu.Unlock()
	p.mutated()
}

func (p *Page) removeLocked(ref dom.NodeRef) {
	el, ok := p.nodes[ref]
	if !ok {
		return
	}
	for _, c := range el.children {
		p.removeLocked(c)
	}
	delete(p.nodes, ref)
}

// Exists reports whether ref is attached.
func (p *Page) Exists(ref dom.NodeRef) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.nodes[ref]
	return ok
}

// SetAttr sets an attribute on ref.
func (p *Page) SetAttr(ref dom.NodeRef, name, value string) {
	p.mu.Lock()
	el, ok := p.nodes[ref]
	if ok {
		el.attrs[name] = value
	}
	p.mu.Unlock()
	if ok {
		p.mutated()
	}
}

// DelAttr removes an attribute from ref.
func (p *Page) DelAttr(ref dom.NodeRef, name string) {
	p.mu.Lock()
	el, ok := p.nodes[ref]
	if ok {
		delete(el.attrs, name)
	}
	p.mu.Unlock()
	if ok {
		p.mutated()
	}
}

// AttrOf returns the current attribute value on ref.
func (p *Page) AttrOf(ref dom.NodeRef, name string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.nodes[ref]
	if !ok {
		return "", false
	}
	v, ok := el.attrs[name]
	return v, ok
}

// On registers fn to run when an event of type eventType reaches ref,
// either directly or by bubbling from a descendant.
func (p *Page) On(ref dom.NodeRef, eventType string, fn func(*Page)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := handlerKey{ref: ref, event: eventType}
	p.handlers[k] = append(p.handlers[k], fn)
}

// OnKey is On restricted to keyboard events carrying key.
func (p *Page) OnKey(ref dom.NodeRef, eventType, key string, fn func(*Page)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := handlerKey{ref: ref, event: eventType, key: key}
	p.handlers[k] = append(p.handlers[k], fn)
}

// After runs fn after d on its own goroutine, like a deferred render.
func (p *Page) After(d time.Duration, fn func(*Page)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timers = append(p.timers, time.AfterFunc(d, func() { fn(p) }))
}

// Close stops pending After callbacks.
func (p *Page) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.timers {
		t.Stop()
	}
	p.timers = nil
}

// Dispatched returns a copy of all delivered events in order.
func (p *Page) Dispatched() []Dispatch {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Dispatch(nil), p.dispatched...)
}

// CountOn counts delivered events of eventType whose target is ref or a
// descendant of ref. An empty eventType counts everything.
func (p *Page) CountOn(ref dom.NodeRef, eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, d := range p.dispatched {
		if eventType != "" && d.Event.Type != eventType {
			continue
		}
		if ref == dom.Document || d.Target == ref || p.isWithinLocked(ref, d.Target) {
			n++
		}
	}
	return n
}

// Notices returns the notifications shown so far.
func (p *Page) Notices() []dom.Notice {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]dom.Notice(nil), p.notices...)
}

// Snapshots returns how many snapshots were taken.
func (p *Page) Snapshots() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshots
}

func (p *Page) isWithinLocked(root, ref dom.NodeRef) bool {
	for cur := ref; cur != dom.Document; {
		if cur == root {
			return true
		}
		el, ok := p.nodes[cur]
		if !ok {
			return false
		}
		cur = el.parent
	}
	return false
}

func (p *Page) textLocked(el *elem) string {
	var b strings.Builder
	b.WriteString(el.ownText)
	for _, c := range el.children {
		if child, ok := p.nodes[c]; ok {
			if b.Len() > 0 {
				b.WriteString(" ")
			}
			b.WriteString(p.textLocked(child))
		}
	}
	return strings.TrimSpace(b.String())
}

func (p *Page) orderedLocked() []*elem {
	out := make([]*elem, 0, len(p.nodes))
	var walk func(parent dom.NodeRef)
	roots := make([]*elem, 0)
	for _, el := range p.nodes {
		if _, ok := p.nodes[el.parent]; !ok {
			roots = append(roots, el)
		}
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i].seq < roots[j].seq })
	walk = func(ref dom.NodeRef) {
		el := p.nodes[ref]
		out = append(out, el)
		for _, c := range el.children {
			if _, ok := p.nodes[c]; ok {
				walk(c)
			}
		}
	}
	for _, r := range roots {
		walk(r.ref)
	}
	return out
}

// Snapshot implements dom.Page.
func (p *Page) Snapshot(ctx context.Context) (*dom.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshots++
	ordered := p.orderedLocked()
	nodes := make([]dom.Node, 0, len(ordered))
	for _, el := range ordered {
		attrs := make(map[string]string, len(el.attrs))
		for k, v := range el.attrs {
			attrs[k] = v
		}
		parent := el.parent
		if _, ok := p.nodes[parent]; !ok {
			parent = dom.Document
		}
		nodes = append(nodes, dom.Node{
			Ref:     el.ref,
			Parent:  parent,
			Tag:     el.tag,
			ID:      el.id,
			Role:    el.role,
			Classes: append([]string(nil), el.classes...),
			Attrs:   attrs,
			Text:    p.textLocked(el),
			Rect:    el.rect,
		})
	}
	return dom.NewSnapshot(nodes), nil
}

// Dispatch implements dom.Page. Handlers on the target and its ancestors
// run after the event is recorded, outside the page lock.
func (p *Page) Dispatch(ctx context.Context, ref dom.NodeRef, ev dom.Event) error {
	return p.deliver(ctx, ref, ev, false)
}

func (p *Page) deliver(ctx context.Context, ref dom.NodeRef, ev dom.Event, native bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	if ref != dom.Document {
		if _, ok := p.nodes[ref]; !ok {
			p.mu.Unlock()
			return dom.ErrDetached
		}
	}
	p.dispatched = append(p.dispatched, Dispatch{Target: ref, Event: ev, Native: native})
	var fns []func(*Page)
	path := []dom.NodeRef{ref}
	if ref != dom.Document && (ev.Bubbles || native) {
		for cur := ref; ; {
			el, ok := p.nodes[cur]
			if !ok {
				break
			}
			if _, ok := p.nodes[el.parent]; !ok {
				path = append(path, dom.Document)
				break
			}
			cur = el.parent
			path = append(path, cur)
		}
	}
	for _, target := range path {
		fns = append(fns, p.handlers[handlerKey{ref: target, event: ev.Type}]...)
		if ev.Key != "" {
			fns = append(fns, p.handlers[handlerKey{ref: target, event: ev.Type, key: ev.Key}]...)
		}
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(p)
	}
	return nil
}

// ElementAt implements dom.Page: the last node in document order whose box
// contains the point is the topmost one.
func (p *Page) ElementAt(ctx context.Context, x, y float64) (dom.NodeRef, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	ordered := p.orderedLocked()
	for i := len(ordered) - 1; i >= 0; i-- {
		if ordered[i].rect.Contains(x, y) {
			return ordered[i].ref, nil
		}
	}
	return dom.Document, nil
}

// Box implements dom.Page.
func (p *Page) Box(ctx context.Context, ref dom.NodeRef) (dom.Rect, error) {
	if err := ctx.Err(); err != nil {
		return dom.Rect{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.nodes[ref]
	if !ok {
		return dom.Rect{}, dom.ErrDetached
	}
	return el.rect, nil
}

// Focus implements dom.Page.
func (p *Page) Focus(ctx context.Context, ref dom.NodeRef) error {
	return p.deliver(ctx, ref, dom.Event{Type: "focus", Kind: dom.KindGeneric}, false)
}

// NativeClick implements dom.Page; it is recorded with Native set and
// fires "click" handlers like a real element.click() would.
func (p *Page) NativeClick(ctx context.Context, ref dom.NodeRef) error {
	return p.deliver(ctx, ref, dom.Event{Type: "click", Kind: dom.KindMouse, Bubbles: true, Cancelable: true}, true)
}

// Observe implements dom.Page.
func (p *Page) Observe(ctx context.Context) (<-chan struct{}, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.watchSeq++
	id := p.watchSeq
	ch := make(chan struct{}, 1)
	p.watchers[id] = ch
	var once sync.Once
	stop := func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.watchers, id)
			p.mu.Unlock()
		})
	}
	return ch, stop, nil
}

// Watchers returns the number of active mutation watches.
func (p *Page) Watchers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.watchers)
}

// Notify implements dom.Page.
func (p *Page) Notify(ctx context.Context, n dom.Notice) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notices = append(p.notices, n)
	return nil
}

func (p *Page) mutated() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
