// Package synth synthesizes user-input event sequences against live nodes.
//
// Dispatch failures are swallowed: a detached node or a closed page makes the
// call a no-op. Callers verify the effect through a fresh snapshot, never
// through a return value from here.
package synth

import (
	"context"
	"strings"
	"time"

	"composerkeys-mcp-server/internal/dom"
	"composerkeys-mcp-server/internal/wait"

	"go.uber.org/zap"
)

var (
	hoverSequence   = []string{"pointerover", "pointerenter", "mouseover", "mousemove"}
	pressSequence   = []string{"pointerdown", "mousedown"}
	releaseSequence = []string{"pointerup", "mouseup", "click"}
)

// Timing controls the pauses inside multi-event sequences.
type Timing struct {
	PressHold    time.Duration // between press and release
	HoverSettle  time.Duration // after a hover sequence
	ClickConfirm time.Duration // how long ClickToggle waits for the page to react
}

// DefaultTiming mirrors the pauses the target UI was tuned against.
func DefaultTiming() Timing {
	return Timing{
		PressHold:    18 * time.Millisecond,
		HoverSettle:  60 * time.Millisecond,
		ClickConfirm: 50 * time.Millisecond,
	}
}

// Opts carries caller overrides for a single event.
type Opts struct {
	ClientX  float64
	ClientY  float64
	HasPoint bool
	Key      string
}

// At returns Opts carrying a client point.
func At(x, y float64) Opts {
	return Opts{ClientX: x, ClientY: y, HasPoint: true}
}

// KindFor picks the most specific event constructor for an interaction name.
func KindFor(eventType string) dom.EventKind {
	switch {
	case strings.HasPrefix(eventType, "pointer"):
		return dom.KindPointer
	case strings.Contains(eventType, "mouse"), eventType == "click":
		return dom.KindMouse
	case strings.HasPrefix(eventType, "key"):
		return dom.KindKeyboard
	default:
		return dom.KindGeneric
	}
}

// NewEvent builds a bubbling, cancelable event of the right kind.
func NewEvent(eventType string, opts Opts) dom.Event {
	ev := dom.Event{
		Type:       eventType,
		Kind:       KindFor(eventType),
		Bubbles:    true,
		Cancelable: true,
		HasPoint:   opts.HasPoint,
		ClientX:    opts.ClientX,
		ClientY:    opts.ClientY,
		Key:        opts.Key,
	}
	if ev.Kind == dom.KindPointer {
		ev.PointerType = "mouse"
		ev.IsPrimary = true
	}
	return ev
}

// Synthesizer plays event sequences into a page.
type Synthesizer struct {
	page   dom.Page
	timing Timing
	log    *zap.Logger
}

// New creates a Synthesizer. A nil logger discards output.
func New(page dom.Page, timing Timing, log *zap.Logger) *Synthesizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Synthesizer{page: page, timing: timing, log: log}
}

// Dispatch delivers one synthesized event to ref.
func (s *Synthesizer) Dispatch(ctx context.Context, ref dom.NodeRef, eventType string, opts Opts) {
	if err := s.page.Dispatch(ctx, ref, NewEvent(eventType, opts)); err != nil {
		s.log.Debug("dispatch dropped", zap.String("type", eventType), zap.String("ref", string(ref)), zap.Error(err))
	}
}

func (s *Synthesizer) sequence(ctx context.Context, ref dom.NodeRef, types []string, opts Opts) {
	for _, t := range types {
		s.Dispatch(ctx, ref, t, opts)
	}
}

// target resolves the center of ref and the topmost node at that point,
// which is where real input would land when layers overlap.
func (s *Synthesizer) target(ctx context.Context, ref dom.NodeRef) (dom.NodeRef, Opts, bool) {
	box, err := s.page.Box(ctx, ref)
	if err != nil {
		s.log.Debug("box unavailable", zap.String("ref", string(ref)), zap.Error(err))
		return ref, Opts{}, false
	}
	x, y := box.Center()
	atPoint, err := s.page.ElementAt(ctx, x, y)
	if err != nil || atPoint == dom.Document {
		atPoint = ref
	}
	return atPoint, At(x, y), true
}

// ClickCenter plays hover, press, a short hold, release and click at the
// node under ref's center, then invokes a native click on it.
func (s *Synthesizer) ClickCenter(ctx context.Context, ref dom.NodeRef) bool {
	if ref == dom.Document {
		return false
	}
	atPoint, opts, ok := s.target(ctx, ref)
	if !ok {
		return false
	}
	s.sequence(ctx, atPoint, hoverSequence, opts)
	s.sequence(ctx, atPoint, pressSequence, opts)
	_ = wait.Sleep(ctx, s.timing.PressHold)
	s.sequence(ctx, atPoint, releaseSequence, opts)
	s.NativeClick(ctx, atPoint)
	return true
}

// ClickToggle clicks a control that flips state on every activation. It
// plays the same sequence as ClickCenter but falls back to the native click
// only when the synthetic click left the page unchanged, so the control is
// activated once.
func (s *Synthesizer) ClickToggle(ctx context.Context, ref dom.NodeRef) bool {
	if ref == dom.Document {
		return false
	}
	atPoint, opts, ok := s.target(ctx, ref)
	if !ok {
		return false
	}
	changed, stop, err := s.page.Observe(ctx)
	if err != nil {
		s.log.Debug("click unobservable", zap.String("ref", string(ref)), zap.Error(err))
	} else {
		defer stop()
	}
	s.sequence(ctx, atPoint, hoverSequence, opts)
	s.sequence(ctx, atPoint, pressSequence, opts)
	_ = wait.Sleep(ctx, s.timing.PressHold)
	drain(changed)
	s.sequence(ctx, atPoint, releaseSequence, opts)
	if changed != nil && s.reacted(ctx, changed) {
		return true
	}
	s.NativeClick(ctx, atPoint)
	return true
}

// drain discards signals caused by hover and press.
func drain(ch <-chan struct{}) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func (s *Synthesizer) reacted(ctx context.Context, changed <-chan struct{}) bool {
	if s.timing.ClickConfirm <= 0 {
		select {
		case <-changed:
			return true
		default:
			return false
		}
	}
	timer := time.NewTimer(s.timing.ClickConfirm)
	defer timer.Stop()
	select {
	case <-changed:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// HoverCenter plays the hover subsequence on both the node at ref's center
// and ref itself, then lets hover-triggered UI settle.
func (s *Synthesizer) HoverCenter(ctx context.Context, ref dom.NodeRef) bool {
	if ref == dom.Document {
		return false
	}
	atPoint, opts, ok := s.target(ctx, ref)
	if !ok {
		return false
	}
	for _, t := range hoverSequence {
		s.Dispatch(ctx, atPoint, t, opts)
		if atPoint != ref {
			s.Dispatch(ctx, ref, t, opts)
		}
	}
	_ = wait.Sleep(ctx, s.timing.HoverSettle)
	return true
}

// ClickRobust is ClickCenter followed by the press/release/click sequence
// delivered to ref directly and a native click, for controls whose hit area
// is covered by a decorative child.
func (s *Synthesizer) ClickRobust(ctx context.Context, ref dom.NodeRef) bool {
	if !s.ClickCenter(ctx, ref) {
		return false
	}
	box, err := s.page.Box(ctx, ref)
	if err != nil {
		return true
	}
	opts := At(box.Center())
	s.sequence(ctx, ref, pressSequence, opts)
	s.sequence(ctx, ref, releaseSequence, opts)
	s.NativeClick(ctx, ref)
	return true
}

// PressKey sends keydown and keyup for key to ref.
func (s *Synthesizer) PressKey(ctx context.Context, ref dom.NodeRef, key string) {
	s.Dispatch(ctx, ref, "keydown", Opts{Key: key})
	s.Dispatch(ctx, ref, "keyup", Opts{Key: key})
}

// PressEscape sends Escape to the document times times.
func (s *Synthesizer) PressEscape(ctx context.Context, times int) {
	for i := 0; i < times; i++ {
		s.PressKey(ctx, dom.Document, "Escape")
	}
}

// Focus focuses ref, ignoring failures.
func (s *Synthesizer) Focus(ctx context.Context, ref dom.NodeRef) {
	if err := s.page.Focus(ctx, ref); err != nil {
		s.log.Debug("focus dropped", zap.String("ref", string(ref)), zap.Error(err))
	}
}

// NativeClick invokes the node's own click(), ignoring failures.
func (s *Synthesizer) NativeClick(ctx context.Context, ref dom.NodeRef) {
	if err := s.page.NativeClick(ctx, ref); err != nil {
		s.log.Debug("native click dropped", zap.String("ref", string(ref)), zap.Error(err))
	}
}
