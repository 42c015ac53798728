package command

import (
	"context"
	"sync"
	"testing"

	"composerkeys-mcp-server/internal/dom"
	"composerkeys-mcp-server/internal/mangle"
	"composerkeys-mcp-server/internal/toggle"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToggler struct {
	mu      sync.Mutex
	calls   []toggle.Feature
	outcome toggle.Outcome
}

func (f *fakeToggler) Toggle(ctx context.Context, feature toggle.Feature) toggle.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, feature)
	return f.outcome
}

type fakeNotifier struct {
	notices []dom.Notice
}

func (n *fakeNotifier) Notify(ctx context.Context, notice dom.Notice) error {
	n.notices = append(n.notices, notice)
	return nil
}

type fakeJournal struct {
	facts []mangle.Fact
}

func (j *fakeJournal) AddFacts(ctx context.Context, facts []mangle.Fact) error {
	j.facts = append(j.facts, facts...)
	return nil
}

func TestHandleRoutesModes(t *testing.T) {
	cases := []struct {
		msg  Message
		want toggle.Feature
	}{
		{Message{Action: ActionToggleThinkLonger}, toggle.ThinkLonger},
		{Message{Action: ActionRunMode, Mode: "think_longer"}, toggle.ThinkLonger},
		{Message{Action: ActionRunMode, Mode: "web_search"}, toggle.WebSearch},
		{Message{Action: ActionRunMode, Mode: "deep_research"}, toggle.DeepResearch},
		{Message{Action: ActionRunMode, Mode: "create_image"}, toggle.CreateImage},
	}
	for _, tc := range cases {
		tg := &fakeToggler{outcome: toggle.Outcome{OK: true, RunID: "r1"}}
		d := NewDispatcher(tg, nil, nil, nil)

		resp := d.Handle(context.Background(), tc.msg)

		assert.Equal(t, Response{OK: true, RunID: "r1"}, resp)
		assert.Equal(t, []toggle.Feature{tc.want}, tg.calls)
	}
}

func TestHandleUnknownHasNoSideEffects(t *testing.T) {
	tg := &fakeToggler{}
	n := &fakeNotifier{}
	j := &fakeJournal{}
	d := NewDispatcher(tg, n, j, nil)

	for _, msg := range []Message{
		{Action: ActionRunMode, Mode: "canvas"},
		{Action: "summarize"},
		{},
	} {
		resp := d.Handle(context.Background(), msg)
		assert.Equal(t, Response{OK: false, Reason: "not_implemented"}, resp)
	}
	assert.Empty(t, tg.calls)
	assert.Empty(t, n.notices)
	assert.Empty(t, j.facts)
}

func TestHandleFailureNotifies(t *testing.T) {
	tg := &fakeToggler{outcome: toggle.Outcome{Reason: toggle.ReasonMenuOpenFailed, RunID: "r2"}}
	n := &fakeNotifier{}
	j := &fakeJournal{}
	d := NewDispatcher(tg, n, j, nil)

	resp := d.Handle(context.Background(), Message{Action: ActionRunMode, Mode: "web_search"})

	assert.False(t, resp.OK)
	assert.Equal(t, "menu_open_failed", resp.Reason)
	require.Len(t, n.notices, 1)
	assert.Equal(t, "error", n.notices[0].Level)
	assert.Contains(t, n.notices[0].Text, "Web search")
	require.Len(t, j.facts, 1)
	assert.Equal(t, "command_received", j.facts[0].Predicate)
	assert.Equal(t, "web_search", j.facts[0].Args[1])
}

func TestHandleAsync(t *testing.T) {
	tg := &fakeToggler{outcome: toggle.Outcome{OK: true}}
	d := NewDispatcher(tg, nil, nil, nil)

	resp := <-d.HandleAsync(context.Background(), Message{Action: ActionToggleThinkLonger})
	assert.True(t, resp.OK)
}

func TestFromCommandName(t *testing.T) {
	m, ok := FromCommandName("toggle_think_longer")
	require.True(t, ok)
	assert.Equal(t, Message{Action: ActionToggleThinkLonger}, m)

	m, ok = FromCommandName("run_web_search")
	require.True(t, ok)
	assert.Equal(t, Message{Action: ActionRunMode, Mode: "web_search"}, m)

	_, ok = FromCommandName("_execute_action")
	assert.False(t, ok)
}
