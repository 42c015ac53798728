// Package dom models the part of the target page the automation can observe:
// role-tagged nodes, their attributes, text content and layout boxes.
//
// Nothing here is owned by us. The host application tears down and rebuilds
// nodes at will, so a NodeRef is only a lookup key; every Page call re-resolves
// it and reports ErrDetached when the node is gone.
package dom

import (
	"context"
	"errors"
	"math"
	"strings"
)

// ErrDetached is returned when a NodeRef no longer resolves to a live node.
var ErrDetached = errors.New("node detached")

// NodeRef is a transient handle to a live node.
type NodeRef string

// Document addresses the document itself (key events for Escape etc.).
const Document NodeRef = ""

// Rect is a viewport-relative bounding box.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Empty reports whether the box has no area. Popup libraries pre-render
// hidden instances with zero-sized boxes.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Center returns the rounded center point of the box.
func (r Rect) Center() (float64, float64) {
	return math.Round(r.X + r.Width/2), math.Round(r.Y + r.Height/2)
}

// Contains reports whether the point lies inside the box.
func (r Rect) Contains(x, y float64) bool {
	return !r.Empty() && x >= r.X && x <= r.X+r.Width && y >= r.Y && y <= r.Y+r.Height
}

// Node is a read-only copy of a live node taken at snapshot time.
type Node struct {
	Ref     NodeRef           `json:"ref"`
	Parent  NodeRef           `json:"parent"` // nearest captured ancestor
	Tag     string            `json:"tag"`
	ID      string            `json:"id"`
	Role    string            `json:"role"`
	Classes []string          `json:"classes"`
	Attrs   map[string]string `json:"attrs"`
	Text    string            `json:"text"` // textContent, trimmed
	Rect    Rect              `json:"rect"`
}

// Attr returns an attribute value and whether it is present.
func (n Node) Attr(name string) (string, bool) {
	v, ok := n.Attrs[name]
	return v, ok
}

// AttrIs reports whether the attribute is present with exactly value.
func (n Node) AttrIs(name, value string) bool {
	v, ok := n.Attrs[name]
	return ok && v == value
}

// HasClass reports whether class is in the node's class list.
func (n Node) HasClass(class string) bool {
	for _, c := range n.Classes {
		if c == class {
			return true
		}
	}
	return false
}

// LowerText is the trimmed, lower-cased text content.
func (n Node) LowerText() string {
	return strings.ToLower(strings.TrimSpace(n.Text))
}

// LowerLabel is the lower-cased aria-label, empty when absent.
func (n Node) LowerLabel() string {
	return strings.ToLower(n.Attrs["aria-label"])
}

// Snapshot is an ordered (document order) capture of candidate nodes.
type Snapshot struct {
	Nodes []Node
	index map[NodeRef]int
}

// NewSnapshot indexes nodes for lookup. The slice is kept as is.
func NewSnapshot(nodes []Node) *Snapshot {
	idx := make(map[NodeRef]int, len(nodes))
	for i, n := range nodes {
		idx[n.Ref] = i
	}
	return &Snapshot{Nodes: nodes, index: idx}
}

// Get looks up a node by ref.
func (s *Snapshot) Get(ref NodeRef) (Node, bool) {
	if s == nil {
		return Node{}, false
	}
	i, ok := s.index[ref]
	if !ok {
		return Node{}, false
	}
	return s.Nodes[i], true
}

// ByID finds the first node with the given id attribute.
func (s *Snapshot) ByID(id string) (Node, bool) {
	if s == nil || id == "" {
		return Node{}, false
	}
	for _, n := range s.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// IsWithin reports whether ref is root or one of its captured descendants.
func (s *Snapshot) IsWithin(root, ref NodeRef) bool {
	if root == Document {
		return true
	}
	seen := 0
	for cur := ref; cur != ""; seen++ {
		if cur == root {
			return true
		}
		n, ok := s.Get(cur)
		if !ok || seen > len(s.Nodes) {
			return false
		}
		cur = n.Parent
	}
	return false
}

// Within returns the captured descendants of root in document order.
func (s *Snapshot) Within(root NodeRef) []Node {
	if s == nil {
		return nil
	}
	out := make([]Node, 0)
	for _, n := range s.Nodes {
		if n.Ref != root && s.IsWithin(root, n.Ref) {
			out = append(out, n)
		}
	}
	return out
}

// EventKind is the constructor family used for a synthesized event.
type EventKind string

const (
	KindPointer  EventKind = "pointer"
	KindMouse    EventKind = "mouse"
	KindKeyboard EventKind = "keyboard"
	KindGeneric  EventKind = "generic"
)

// Event describes a synthetic DOM event to deliver to a node.
type Event struct {
	Type        string    `json:"type"`
	Kind        EventKind `json:"kind"`
	Bubbles     bool      `json:"bubbles"`
	Cancelable  bool      `json:"cancelable"`
	HasPoint    bool      `json:"hasPoint"`
	ClientX     float64   `json:"clientX"`
	ClientY     float64   `json:"clientY"`
	Key         string    `json:"key,omitempty"`
	PointerType string    `json:"pointerType,omitempty"`
	IsPrimary   bool      `json:"isPrimary,omitempty"`
}

// Notice is a transient, non-blocking in-page notification.
type Notice struct {
	Text  string `json:"text"`
	Level string `json:"level"` // info | error
}

// Page is the render-tree boundary. Implementations must be safe for
// concurrent use; waits race a poll loop against a mutation watch.
type Page interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
	Dispatch(ctx context.Context, ref NodeRef, ev Event) error
	ElementAt(ctx context.Context, x, y float64) (NodeRef, error)
	Box(ctx context.Context, ref NodeRef) (Rect, error)
	Focus(ctx context.Context, ref NodeRef) error
	NativeClick(ctx context.Context, ref NodeRef) error
	// Observe starts a subtree mutation watch. Each mutation burst sends on
	// the channel (non-blocking); stop must be called to end the watch.
	Observe(ctx context.Context) (signals <-chan struct{}, stop func(), err error)
	Notify(ctx context.Context, n Notice) error
}
