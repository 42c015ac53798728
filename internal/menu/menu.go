// Package menu drives the composer's popup menu: opening the root trigger,
// revealing the hover-triggered "More" submenu and tearing menus and dialogs
// down again. Every step is bounded; a step that cannot confirm its effect
// returns false instead of retrying.
package menu

import (
	"context"
	"sync"
	"time"

	"composerkeys-mcp-server/internal/dom"
	"composerkeys-mcp-server/internal/locator"
	"composerkeys-mcp-server/internal/synth"
	"composerkeys-mcp-server/internal/wait"

	"go.uber.org/zap"
)

// State is the navigator's view of the menu.
type State int

const (
	Closed State = iota
	Opening
	Open
	SubmenuRevealing
	SubmenuOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Opening:
		return "opening"
	case Open:
		return "open"
	case SubmenuRevealing:
		return "submenu_revealing"
	case SubmenuOpen:
		return "submenu_open"
	default:
		return "unknown"
	}
}

// Timing bounds each wait the navigator performs.
type Timing struct {
	PollOpen      time.Duration // per open attempt
	PollStep      time.Duration
	MutationWatch time.Duration // last-chance watch after both attempts
	SubmenuSettle time.Duration // after the ArrowRight fallback
	EscapeWait    time.Duration
	CloseWait     time.Duration // after clicking a dialog's close button
}

// DefaultTiming returns the intervals the host UI was tuned against.
func DefaultTiming() Timing {
	return Timing{
		PollOpen:      240 * time.Millisecond,
		PollStep:      20 * time.Millisecond,
		MutationWatch: 300 * time.Millisecond,
		SubmenuSettle: 60 * time.Millisecond,
		EscapeWait:    100 * time.Millisecond,
		CloseWait:     120 * time.Millisecond,
	}
}

// Navigator opens and closes the composer menu on one page.
type Navigator struct {
	page   dom.Page
	synth  *synth.Synthesizer
	timing Timing
	log    *zap.Logger

	mu    sync.Mutex
	state State
}

// New creates a Navigator. A nil logger discards output.
func New(page dom.Page, s *synth.Synthesizer, timing Timing, log *zap.Logger) *Navigator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Navigator{page: page, synth: s, timing: timing, log: log}
}

// State returns the last state the navigator moved to.
func (n *Navigator) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

func (n *Navigator) setState(s State) {
	n.mu.Lock()
	prev := n.state
	n.state = s
	n.mu.Unlock()
	if prev != s {
		n.log.Debug("menu state", zap.Stringer("from", prev), zap.Stringer("to", s))
	}
}

// Reset forgets the current state, e.g. after an external close.
func (n *Navigator) Reset() { n.setState(Closed) }

// Snapshot takes a fresh snapshot, returning nil when the page cannot be
// read. All locator queries accept a nil snapshot.
func (n *Navigator) Snapshot(ctx context.Context) *dom.Snapshot {
	snap, err := n.page.Snapshot(ctx)
	if err != nil {
		n.log.Debug("snapshot failed", zap.Error(err))
		return nil
	}
	return snap
}

// IsOpen reads the open-state signal from a fresh snapshot.
func (n *Navigator) IsOpen(ctx context.Context) bool {
	return locator.IsMenuOpen(n.Snapshot(ctx))
}

func (n *Navigator) trigger(ctx context.Context) (dom.Node, *dom.Snapshot, bool) {
	snap := n.Snapshot(ctx)
	t, ok := locator.FindTrigger(snap)
	return t, snap, ok
}

// OpenRoot opens the root menu. An already open menu succeeds without any
// dispatched input. Otherwise it clicks the trigger, falls back to Enter,
// and finally watches for a late render before giving up.
func (n *Navigator) OpenRoot(ctx context.Context) bool {
	trigger, snap, ok := n.trigger(ctx)
	if !ok {
		n.log.Debug("menu trigger not found")
		n.setState(Closed)
		return false
	}
	if locator.IsMenuOpen(snap) {
		n.setState(Open)
		return true
	}
	n.setState(Opening)

	n.synth.NativeClick(ctx, trigger.Ref)
	n.synth.Focus(ctx, trigger.Ref)
	if wait.For(ctx, n.page, n.IsOpen, n.timing.PollOpen, n.timing.PollStep) {
		n.setState(Open)
		return true
	}

	// The trigger may have been re-rendered while we waited.
	if trigger, _, ok = n.trigger(ctx); ok {
		n.log.Debug("menu open: keyboard fallback")
		n.synth.PressKey(ctx, trigger.Ref, "Enter")
		if wait.For(ctx, n.page, n.IsOpen, n.timing.PollOpen, n.timing.PollStep) {
			n.setState(Open)
			return true
		}
	}

	if wait.Watch(ctx, n.page, n.IsOpen, n.timing.MutationWatch) || n.IsOpen(ctx) {
		n.setState(Open)
		return true
	}
	n.log.Debug("menu did not open")
	n.setState(Closed)
	return false
}

// VisibleMenus returns the visible popups whose text contains probe.
func (n *Navigator) VisibleMenus(ctx context.Context, probe string) []dom.Node {
	return locator.FindVisibleMenuContaining(n.Snapshot(ctx), probe)
}

// RevealSubmenu hovers more and, if no visible popup containing probe
// appears, tries ArrowRight once. It returns the visible popups found.
func (n *Navigator) RevealSubmenu(ctx context.Context, more dom.NodeRef, probe string) ([]dom.Node, bool) {
	n.setState(SubmenuRevealing)

	n.synth.HoverCenter(ctx, more)
	if found := n.VisibleMenus(ctx, probe); len(found) > 0 {
		n.setState(SubmenuOpen)
		return found, true
	}

	n.log.Debug("submenu reveal: keyboard fallback", zap.String("probe", probe))
	n.synth.Focus(ctx, more)
	n.synth.PressKey(ctx, more, "ArrowRight")
	revealed := func(ctx context.Context) bool { return len(n.VisibleMenus(ctx, probe)) > 0 }
	if wait.For(ctx, n.page, revealed, n.timing.SubmenuSettle, n.timing.PollStep) {
		n.setState(SubmenuOpen)
		return n.VisibleMenus(ctx, probe), true
	}
	if found := n.VisibleMenus(ctx, probe); len(found) > 0 {
		n.setState(SubmenuOpen)
		return found, true
	}
	n.setState(Open)
	return nil, false
}

// Teardown sends Escape and, while a dialog stays open, clicks its close
// button, for at most attempts rounds. It reports whether no dialog remains.
func (n *Navigator) Teardown(ctx context.Context, attempts int) bool {
	defer n.setState(Closed)
	for i := 0; i < attempts; i++ {
		n.synth.PressEscape(ctx, 1)
		if err := wait.Sleep(ctx, n.timing.EscapeWait); err != nil {
			return false
		}
		snap := n.Snapshot(ctx)
		dialog, open := locator.FindOpenDialog(snap)
		if !open {
			return true
		}
		closer, ok := locator.FindCloseButton(snap, dialog.Ref)
		if !ok {
			continue
		}
		n.synth.ClickCenter(ctx, closer.Ref)
		if err := wait.Sleep(ctx, n.timing.CloseWait); err != nil {
			return false
		}
	}
	_, open := locator.FindOpenDialog(n.Snapshot(ctx))
	if open {
		n.log.Warn("dialog still open after teardown", zap.Int("attempts", attempts))
	}
	return !open
}
