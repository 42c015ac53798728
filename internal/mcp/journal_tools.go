package mcp

import (
	"context"
	"fmt"
	"time"

	"composerkeys-mcp-server/internal/mangle"
)

func requireEngine(e *mangle.Engine) error {
	if e == nil || !e.Ready() {
		return fmt.Errorf("journal unavailable")
	}
	return nil
}

type QueryJournalTool struct {
	engine *mangle.Engine
}

func (t *QueryJournalTool) Name() string { return "query-journal" }
func (t *QueryJournalTool) Description() string {
	return `Query the interaction journal with a single Mangle atom.

Base predicates: toggle_started(Run, Feature, At), toggle_step(Run, Step, Detail),
toggle_outcome(Run, Feature, Ok, Reason, Path, Signal), shortcut_fired(Feature, Chord, At),
command_received(Action, Mode, At).

Derived: toggle_failed(Run, Feature, Reason), keyboard_rescued(Run, Feature),
badge_disabled(Run, Feature), badge_missing(Run, Feature), menu_open_trouble(Feature),
teardown_incomplete(Run), shortcut_failed(Feature, Chord).

Example: toggle_failed(Run, "web_search", Reason).`
}
func (t *QueryJournalTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Mangle atom; the trailing period is optional",
			},
		},
		"required": []string{"query"},
	}
}
func (t *QueryJournalTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if err := requireEngine(t.engine); err != nil {
		return nil, err
	}
	query := normalizeClause(getStringArg(args, "query"))
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	results, err := t.engine.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"count":   len(results),
		"results": results,
	}, nil
}

type EvaluateJournalTool struct {
	engine *mangle.Engine
}

func (t *EvaluateJournalTool) Name() string { return "evaluate-journal" }
func (t *EvaluateJournalTool) Description() string {
	return `Re-evaluate the journal program and return every fact of one predicate,
e.g. "keyboard_rescued".`
}
func (t *EvaluateJournalTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"predicate": map[string]interface{}{"type": "string"},
		},
		"required": []string{"predicate"},
	}
}
func (t *EvaluateJournalTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if err := requireEngine(t.engine); err != nil {
		return nil, err
	}
	predicate := getStringArg(args, "predicate")
	if predicate == "" {
		return nil, fmt.Errorf("predicate is required")
	}
	facts, err := t.engine.Evaluate(ctx, predicate)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"predicate": predicate,
		"count":     len(facts),
		"facts":     facts,
	}, nil
}

type JournalFactsTool struct {
	engine *mangle.Engine
}

func (t *JournalFactsTool) Name() string { return "journal-facts" }
func (t *JournalFactsTool) Description() string {
	return `Read recent base facts from the journal buffer, newest last.

Optional filters: predicate, leading argument values (null skips a position),
and a look-back window in milliseconds.`
}
func (t *JournalFactsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"predicate": map[string]interface{}{"type": "string"},
			"args": map[string]interface{}{
				"type":        "array",
				"description": "Leading argument values to match",
			},
			"since_ms": map[string]interface{}{
				"type":        "integer",
				"description": "Only facts newer than this many milliseconds",
			},
			"limit": map[string]interface{}{
				"type":    "integer",
				"default": 50,
			},
		},
	}
}
func (t *JournalFactsTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	if t.engine == nil {
		return nil, fmt.Errorf("journal unavailable")
	}
	predicate := getStringArg(args, "predicate")
	want := getArrayArg(args, "args")
	limit := clamp(getIntArg(args, "limit", 50), 1, 500)

	var after time.Time
	if since := getIntArg(args, "since_ms", 0); since > 0 {
		after = time.Now().Add(-time.Duration(since) * time.Millisecond)
	}

	var source []mangle.Fact
	if predicate != "" {
		source = t.engine.QueryTemporal(predicate, after, time.Time{})
	} else {
		source = t.engine.Facts()
	}

	out := make([]mangle.Fact, 0, min(limit, len(source)))
	for i := len(source) - 1; i >= 0 && len(out) < limit; i-- {
		f := source[i]
		if !after.IsZero() && !f.Timestamp.After(after) {
			continue
		}
		if !matchFact(f, want) {
			continue
		}
		out = append(out, f)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return map[string]interface{}{
		"count": len(out),
		"facts": out,
	}, nil
}

type SubmitRuleTool struct {
	engine *mangle.Engine
}

func (t *SubmitRuleTool) Name() string { return "submit-rule" }
func (t *SubmitRuleTool) Description() string {
	return `Add a Mangle rule to the journal program for the rest of the session,
e.g. a diagnostic over toggle_step facts. Declare new predicates with Decl.`
}
func (t *SubmitRuleTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"rule": map[string]interface{}{"type": "string"},
		},
		"required": []string{"rule"},
	}
}
func (t *SubmitRuleTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	if err := requireEngine(t.engine); err != nil {
		return nil, err
	}
	rule := getStringArg(args, "rule")
	if rule == "" {
		return nil, fmt.Errorf("rule is required")
	}
	if err := t.engine.AddRule(rule); err != nil {
		return nil, err
	}
	return map[string]interface{}{"success": true}, nil
}
