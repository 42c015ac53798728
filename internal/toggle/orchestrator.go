// Package toggle flips one composer feature by whichever route the page
// offers: clicking the feature's badge when it is showing, or walking the
// composer menu to the feature's item and confirming the change afterwards.
package toggle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"composerkeys-mcp-server/internal/dom"
	"composerkeys-mcp-server/internal/locator"
	"composerkeys-mcp-server/internal/mangle"
	"composerkeys-mcp-server/internal/menu"
	"composerkeys-mcp-server/internal/synth"
	"composerkeys-mcp-server/internal/wait"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Journal receives the facts describing each run.
type Journal interface {
	AddFacts(ctx context.Context, facts []mangle.Fact) error
}

// Tracer receives a step-by-step trace of each run.
type Tracer interface {
	Log(eventType, runID string, data interface{})
}

// Timing bounds the orchestrator's own waits. Menu and input timings live
// in the navigator and synthesizer.
type Timing struct {
	CheckWait   time.Duration // after clicking an item, before reading its state
	ClickWait   time.Duration // after teardown, before looking for the badge
	KeyGap      time.Duration // between Space and Enter in the keyboard replay
	BadgeSettle time.Duration // after clicking a badge
	Attempts    int           // teardown rounds
}

// DefaultTiming returns the waits the host UI was tuned against.
func DefaultTiming() Timing {
	return Timing{
		CheckWait:   140 * time.Millisecond,
		ClickWait:   60 * time.Millisecond,
		KeyGap:      30 * time.Millisecond,
		BadgeSettle: 140 * time.Millisecond,
		Attempts:    2,
	}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *Orchestrator) {
		if log != nil {
			o.log = log
		}
	}
}

// WithJournal records run facts into j.
func WithJournal(j Journal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

// WithTracer records run traces into t.
func WithTracer(t Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// Orchestrator runs toggles against one page. Concurrent requests for the
// same feature share a single run; runs for different features are
// serialized because they drive the same menu.
type Orchestrator struct {
	synth  *synth.Synthesizer
	nav    *menu.Navigator
	timing Timing

	log     *zap.Logger
	journal Journal
	tracer  Tracer

	inflight singleflight.Group
	runMu    sync.Mutex
}

// New creates an Orchestrator.
func New(s *synth.Synthesizer, nav *menu.Navigator, timing Timing, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		synth:  s,
		nav:    nav,
		timing: timing,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Toggle flips f and reports what happened. It never returns an error:
// every fault ends up in the Outcome.
func (o *Orchestrator) Toggle(ctx context.Context, f Feature) Outcome {
	prof, ok := ProfileFor(f)
	if !ok {
		return failed(ReasonNotImplemented)
	}
	v, _, shared := o.inflight.Do(f.String(), func() (interface{}, error) {
		o.runMu.Lock()
		defer o.runMu.Unlock()
		return o.run(ctx, f, prof), nil
	})
	if shared {
		o.log.Debug("joined in-flight toggle", zap.Stringer("feature", f))
	}
	return v.(Outcome)
}

type run struct {
	id      string
	feature Feature
	prof    Profile
}

func (o *Orchestrator) run(ctx context.Context, f Feature, prof Profile) (out Outcome) {
	r := &run{id: uuid.NewString(), feature: f, prof: prof}
	start := time.Now()
	log := o.log.With(zap.String("run", r.id), zap.Stringer("feature", f))

	o.record(ctx, mangle.Fact{Predicate: "toggle_started", Args: []interface{}{r.id, f.String(), start}, Timestamp: start})
	o.trace("toggle_started", r.id, map[string]string{"feature": f.String()})

	defer func() {
		if p := recover(); p != nil {
			log.Error("toggle panicked", zap.Any("panic", p))
			out = failed(ReasonNoChangeDetected)
			out.Err = fmt.Sprint(p)
		}
		out.RunID = r.id
		o.finish(ctx, r, out, time.Since(start), log)
	}()

	if err := ctx.Err(); err != nil {
		out = failed(ReasonNoChangeDetected)
		out.Err = err.Error()
		return out
	}

	if badge, ok := locator.FindPill(o.nav.Snapshot(ctx), prof.Badge); ok {
		o.step(ctx, r, "badge_click", string(badge.Ref))
		o.synth.ClickToggle(ctx, badge.Ref)
		_ = wait.Sleep(ctx, o.timing.BadgeSettle)
		return Outcome{OK: true, Path: PathBadge, Signal: SignalBadge}
	}

	return o.menuPath(ctx, r, log)
}

func (o *Orchestrator) menuPath(ctx context.Context, r *run, log *zap.Logger) Outcome {
	var scope dom.NodeRef = dom.Document
	if r.prof.Submenu != "" {
		popups, reason := o.openSubmenu(ctx, r)
		if reason != "" {
			if reason != ReasonMenuOpenFailed {
				o.teardown(ctx, r)
			}
			return failed(reason)
		}
		// A submenu rendered inside its parent menu matches the probe too.
		if sub, ok := locator.InnermostPopup(o.nav.Snapshot(ctx), popups); ok {
			scope = sub.Ref
		}
	} else {
		if !o.nav.OpenRoot(ctx) {
			o.step(ctx, r, "menu_open", "failed")
			return failed(ReasonMenuOpenFailed)
		}
		o.step(ctx, r, "menu_open", "ok")
		if root, ok := locator.FindMenuRoot(o.nav.Snapshot(ctx)); ok {
			scope = root.Ref
		}
	}

	snap := o.nav.Snapshot(ctx)
	item, found := locator.FindItem(snap, locator.MenuItems(snap, scope), r.prof.Item)
	if !found && scope != dom.Document {
		// The menu root may not contain portalled items.
		item, found = locator.FindItem(snap, locator.MenuItems(snap, dom.Document), r.prof.Item)
	}
	if !found {
		o.step(ctx, r, "item", "not_found")
		o.teardown(ctx, r)
		return failed(ReasonItemNotFound)
	}
	if locator.IsDisabled(item) {
		o.step(ctx, r, "item", "disabled")
		o.teardown(ctx, r)
		return failed(ReasonDisabled)
	}

	o.step(ctx, r, "item_click", string(item.Ref))
	o.synth.ClickRobust(ctx, item.Ref)
	_ = wait.Sleep(ctx, o.timing.CheckWait)

	checked, attached := o.checked(ctx, item.Ref)
	if !checked && attached {
		o.step(ctx, r, "keyboard_replay", string(item.Ref))
		o.synth.Focus(ctx, item.Ref)
		o.synth.PressKey(ctx, item.Ref, " ")
		_ = wait.Sleep(ctx, o.timing.KeyGap)
		o.synth.PressKey(ctx, item.Ref, "Enter")
		_ = wait.Sleep(ctx, max(o.timing.CheckWait-20*time.Millisecond, 0))
		checked, _ = o.checked(ctx, item.Ref)
	}

	o.teardown(ctx, r)
	_ = wait.Sleep(ctx, o.timing.ClickWait+20*time.Millisecond)

	// The feature's own badge decides. The checked state read before
	// teardown only counts when no badge can be seen.
	if _, ok := locator.FindPill(o.nav.Snapshot(ctx), r.prof.Badge); ok {
		return Outcome{OK: true, Path: PathMenu, Signal: SignalBadge}
	}
	if checked {
		log.Debug("no badge after toggle, trusting checked state")
		return Outcome{OK: true, Path: PathMenu, Signal: SignalChecked}
	}
	return failed(ReasonNoChangeDetected)
}

// openSubmenu returns visible popups that contain the feature's probe text,
// opening the root menu and revealing the "More" submenu as needed.
func (o *Orchestrator) openSubmenu(ctx context.Context, r *run) ([]dom.Node, Reason) {
	probe := r.prof.Submenu
	if popups := o.nav.VisibleMenus(ctx, probe); len(popups) > 0 {
		o.step(ctx, r, "submenu", "already_visible")
		return popups, ""
	}
	if !o.nav.OpenRoot(ctx) {
		o.step(ctx, r, "menu_open", "failed")
		return nil, ReasonMenuOpenFailed
	}
	o.step(ctx, r, "menu_open", "ok")
	if popups := o.nav.VisibleMenus(ctx, probe); len(popups) > 0 {
		return popups, ""
	}

	snap := o.nav.Snapshot(ctx)
	root, ok := locator.FindMenuRoot(snap)
	if !ok {
		o.step(ctx, r, "submenu", "no_menu_root")
		return nil, ReasonSubmenuNotFound
	}
	more, ok := locator.FindMore(snap, root.Ref)
	if !ok {
		o.step(ctx, r, "submenu", "no_more_item")
		return nil, ReasonSubmenuNotFound
	}
	popups, ok := o.nav.RevealSubmenu(ctx, more.Ref, probe)
	if !ok {
		o.step(ctx, r, "submenu", "not_revealed")
		return nil, ReasonSubmenuNotFound
	}
	o.step(ctx, r, "submenu", "revealed")
	return popups, ""
}

// checked reads ref's checked state from a fresh snapshot. attached is false
// once the item has left the page, which is how most menus close on select.
func (o *Orchestrator) checked(ctx context.Context, ref dom.NodeRef) (checked, attached bool) {
	snap := o.nav.Snapshot(ctx)
	if snap == nil {
		return false, false
	}
	item, ok := locator.ClosestItem(snap, ref)
	if !ok {
		return false, false
	}
	return locator.IsChecked(item), true
}

// teardown closes menus and dialogs left behind. Its result is logged and
// journaled but never changes the outcome.
func (o *Orchestrator) teardown(ctx context.Context, r *run) {
	if o.nav.Teardown(ctx, o.timing.Attempts) {
		o.step(ctx, r, "teardown", "clean")
	} else {
		o.log.Warn("teardown left a dialog open", zap.String("run", r.id))
		o.step(ctx, r, "teardown", "dialog_stuck")
	}
	o.synth.PressEscape(ctx, 1)
}

func (o *Orchestrator) step(ctx context.Context, r *run, name, detail string) {
	o.log.Debug("toggle step", zap.String("run", r.id), zap.String("step", name), zap.String("detail", detail))
	o.record(ctx, mangle.Fact{Predicate: "toggle_step", Args: []interface{}{r.id, name, detail}, Timestamp: time.Now()})
	o.trace("toggle_step", r.id, map[string]string{"step": name, "detail": detail})
}

func (o *Orchestrator) finish(ctx context.Context, r *run, out Outcome, took time.Duration, log *zap.Logger) {
	fields := []zap.Field{zap.Bool("ok", out.OK), zap.Duration("took", took)}
	if out.OK {
		fields = append(fields, zap.String("path", string(out.Path)), zap.String("signal", string(out.Signal)))
		log.Info("toggle finished", fields...)
	} else {
		fields = append(fields, zap.String("reason", string(out.Reason)))
		log.Info("toggle failed", fields...)
	}
	// The journal insert must outlive a cancelled caller.
	o.record(context.WithoutCancel(ctx), mangle.Fact{
		Predicate: "toggle_outcome",
		Args:      []interface{}{r.id, r.feature.String(), out.OK, string(out.Reason), string(out.Path), string(out.Signal)},
		Timestamp: time.Now(),
	})
	o.trace("toggle_outcome", r.id, out)
}

func (o *Orchestrator) record(ctx context.Context, f mangle.Fact) {
	if o.journal == nil {
		return
	}
	if err := o.journal.AddFacts(ctx, []mangle.Fact{f}); err != nil {
		o.log.Debug("journal insert failed", zap.String("predicate", f.Predicate), zap.Error(err))
	}
}

func (o *Orchestrator) trace(eventType, runID string, data interface{}) {
	if o.tracer != nil {
		o.tracer.Log(eventType, runID, data)
	}
}
