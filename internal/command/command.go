// Package command maps inbound command messages onto feature toggles.
package command

import (
	"context"
	"fmt"
	"time"

	"composerkeys-mcp-server/internal/dom"
	"composerkeys-mcp-server/internal/mangle"
	"composerkeys-mcp-server/internal/toggle"

	"go.uber.org/zap"
)

const (
	ActionRunMode           = "runMode"
	ActionToggleThinkLonger = "toggleThinkLonger"
)

// Message is an inbound command.
type Message struct {
	Action string `json:"action"`
	Mode   string `json:"mode,omitempty"`
}

// Response is what the sender of a Message gets back.
type Response struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
	RunID  string `json:"run_id,omitempty"`
}

// Toggler runs one feature toggle.
type Toggler interface {
	Toggle(ctx context.Context, f toggle.Feature) toggle.Outcome
}

// Notifier shows a transient notice in the page.
type Notifier interface {
	Notify(ctx context.Context, n dom.Notice) error
}

// Journal records received commands.
type Journal interface {
	AddFacts(ctx context.Context, facts []mangle.Fact) error
}

var hostCommands = map[string]Message{
	"toggle_think_longer": {Action: ActionToggleThinkLonger},
	"run_web_search":      {Action: ActionRunMode, Mode: toggle.WebSearch.String()},
	"run_deep_research":   {Action: ActionRunMode, Mode: toggle.DeepResearch.String()},
	"run_create_image":    {Action: ActionRunMode, Mode: toggle.CreateImage.String()},
}

// FromCommandName maps a host keyboard-command name to its Message.
func FromCommandName(name string) (Message, bool) {
	m, ok := hostCommands[name]
	return m, ok
}

// Resolve returns the feature a message targets.
func Resolve(m Message) (toggle.Feature, bool) {
	switch m.Action {
	case ActionToggleThinkLonger:
		return toggle.ThinkLonger, true
	case ActionRunMode:
		return toggle.ParseFeature(m.Mode)
	}
	return 0, false
}

// Dispatcher routes messages to the toggler.
type Dispatcher struct {
	toggler  Toggler
	notifier Notifier
	journal  Journal
	log      *zap.Logger
}

// NewDispatcher creates a Dispatcher. notifier and journal may be nil.
func NewDispatcher(t Toggler, notifier Notifier, journal Journal, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{toggler: t, notifier: notifier, journal: journal, log: log}
}

// Handle runs the toggle m names and waits for it. Unknown messages get
// not_implemented and touch nothing.
func (d *Dispatcher) Handle(ctx context.Context, m Message) Response {
	f, ok := Resolve(m)
	if !ok {
		d.log.Debug("unsupported command", zap.String("action", m.Action), zap.String("mode", m.Mode))
		return Response{Reason: string(toggle.ReasonNotImplemented)}
	}

	if d.journal != nil {
		fact := mangle.Fact{
			Predicate: "command_received",
			Args:      []interface{}{m.Action, f.String(), time.Now()},
			Timestamp: time.Now(),
		}
		if err := d.journal.AddFacts(ctx, []mangle.Fact{fact}); err != nil {
			d.log.Debug("journal insert failed", zap.Error(err))
		}
	}

	out := d.toggler.Toggle(ctx, f)
	resp := Response{OK: out.OK, RunID: out.RunID, Error: out.Err}
	if !out.OK {
		resp.Reason = string(out.Reason)
		d.notify(ctx, f, out)
	}
	return resp
}

// HandleAsync runs Handle on its own goroutine. The channel receives
// exactly one Response.
func (d *Dispatcher) HandleAsync(ctx context.Context, m Message) <-chan Response {
	ch := make(chan Response, 1)
	go func() {
		ch <- d.Handle(ctx, m)
	}()
	return ch
}

func (d *Dispatcher) notify(ctx context.Context, f toggle.Feature, out toggle.Outcome) {
	if d.notifier == nil {
		return
	}
	n := dom.Notice{Text: fmt.Sprintf("Could not toggle %s (%s)", label(f), out.Reason), Level: "error"}
	if err := d.notifier.Notify(context.WithoutCancel(ctx), n); err != nil {
		d.log.Debug("notice dropped", zap.Error(err))
	}
}

func label(f toggle.Feature) string {
	switch f {
	case toggle.ThinkLonger:
		return "Think longer"
	case toggle.WebSearch:
		return "Web search"
	case toggle.DeepResearch:
		return "Deep research"
	case toggle.CreateImage:
		return "Create image"
	}
	return f.String()
}
