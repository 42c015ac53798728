package shortcut

import (
	"context"
	"sync"
	"time"

	"composerkeys-mcp-server/internal/command"
	"composerkeys-mcp-server/internal/mangle"
	"composerkeys-mcp-server/internal/toggle"

	"go.uber.org/zap"
)

// Dispatcher runs the command a chord maps to.
type Dispatcher interface {
	Handle(ctx context.Context, m command.Message) command.Response
}

// Journal records fired chords.
type Journal interface {
	AddFacts(ctx context.Context, facts []mangle.Fact) error
}

// Recognizer matches key events against the registry and fires commands.
type Recognizer struct {
	registry *Registry
	dispatch Dispatcher
	journal  Journal
	log      *zap.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewRecognizer creates a Recognizer. journal may be nil.
func NewRecognizer(reg *Registry, d Dispatcher, journal Journal, log *zap.Logger) *Recognizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recognizer{registry: reg, dispatch: d, journal: journal, log: log}
}

// Match returns the first feature whose binding matches ev, checking
// features in the fixed order think, web, image, research.
func (r *Recognizer) Match(ev KeyEvent) (toggle.Feature, bool) {
	if IsModifierOnly(ev) {
		return 0, false
	}
	bindings := r.registry.Bindings()
	for _, f := range toggle.Features {
		if Matches(bindings[f], ev) {
			return f, true
		}
	}
	return 0, false
}

// Handle fires the matching feature's command in the background and
// reports whether ev was consumed. The caller suppresses the page's own
// handling of consumed events.
func (r *Recognizer) Handle(ctx context.Context, ev KeyEvent) bool {
	f, ok := r.Match(ev)
	if !ok {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.log.Debug("shortcut after close dropped", zap.Stringer("feature", f))
		return false
	}
	chord := Format(r.registry.Binding(f))
	r.log.Info("shortcut fired", zap.Stringer("feature", f), zap.String("chord", chord))

	if r.journal != nil {
		fact := mangle.Fact{
			Predicate: "shortcut_fired",
			Args:      []interface{}{f.String(), chord, time.Now()},
			Timestamp: time.Now(),
		}
		if err := r.journal.AddFacts(ctx, []mangle.Fact{fact}); err != nil {
			r.log.Debug("journal insert failed", zap.Error(err))
		}
	}

	msg := command.Message{Action: command.ActionRunMode, Mode: f.String()}
	if f == toggle.ThinkLonger {
		msg = command.Message{Action: command.ActionToggleThinkLonger}
	}
	runCtx := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		resp := r.dispatch.Handle(runCtx, msg)
		if !resp.OK {
			r.log.Info("shortcut toggle failed", zap.Stringer("feature", f), zap.String("reason", resp.Reason))
		}
	}()
	return true
}

// Wait blocks until every fired command has finished.
func (r *Recognizer) Wait() { r.wg.Wait() }

// Close stops accepting chords and waits for fired commands to finish.
func (r *Recognizer) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.wg.Wait()
}
