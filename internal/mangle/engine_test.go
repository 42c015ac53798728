package mangle

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"composerkeys-mcp-server/internal/config"
)

func newJournal(t *testing.T, limit int) *Engine {
	t.Helper()
	engine, err := NewEngine(config.MangleConfig{Enable: true, FactBufferLimit: limit}, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return engine
}

func outcome(run, feature string, ok bool, reason, path, signal string) Fact {
	return Fact{
		Predicate: "toggle_outcome",
		Args:      []interface{}{run, feature, ok, reason, path, signal},
		Timestamp: time.Now(),
	}
}

func TestEngineBuiltinSchema(t *testing.T) {
	engine := newJournal(t, 100)
	if !engine.Ready() {
		t.Fatal("engine not ready after built-in schema load")
	}
}

func TestEngineSchemaFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.mg")
	schema := "Decl toggle_started(Run, Feature, At).\n"
	if err := os.WriteFile(path, []byte(schema), 0644); err != nil {
		t.Fatal(err)
	}
	engine, err := NewEngine(config.MangleConfig{Enable: true, SchemaPath: path}, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	if !engine.Ready() {
		t.Fatal("engine not ready")
	}

	_, err = NewEngine(config.MangleConfig{Enable: true, SchemaPath: filepath.Join(t.TempDir(), "missing.mg")}, nil)
	if err == nil {
		t.Fatal("expected error for missing schema file")
	}
}

func TestEngineAddFactsIndexes(t *testing.T) {
	engine := newJournal(t, 100)
	ctx := context.Background()

	facts := []Fact{
		{Predicate: "toggle_started", Args: []interface{}{"r1", "think_longer", int64(1000)}, Timestamp: time.Now()},
		{Predicate: "toggle_step", Args: []interface{}{"r1", "badge", "clicked"}, Timestamp: time.Now()},
		outcome("r1", "think_longer", true, "", "badge", "badge"),
	}
	if err := engine.AddFacts(ctx, facts); err != nil {
		t.Fatalf("AddFacts failed: %v", err)
	}

	if got := len(engine.Facts()); got != 3 {
		t.Errorf("expected 3 buffered facts, got %d", got)
	}
	if got := len(engine.FactsByPredicate("toggle_step")); got != 1 {
		t.Errorf("expected 1 toggle_step, got %d", got)
	}
}

func TestEngineBufferLimit(t *testing.T) {
	engine := newJournal(t, 3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		f := Fact{Predicate: "toggle_step", Args: []interface{}{"r", "step", int64(i)}, Timestamp: time.Now()}
		if err := engine.AddFacts(ctx, []Fact{f}); err != nil {
			t.Fatal(err)
		}
	}

	steps := engine.FactsByPredicate("toggle_step")
	if len(steps) != 3 {
		t.Fatalf("expected buffer trimmed to 3, got %d", len(steps))
	}
	if steps[0].Args[2] != int64(2) {
		t.Errorf("expected oldest kept fact to be step 2, got %v", steps[0].Args[2])
	}
}

func TestEngineDerivesFailures(t *testing.T) {
	engine := newJournal(t, 100)
	ctx := context.Background()

	facts := []Fact{
		outcome("r1", "web_search", false, "menu_open_failed", "menu", ""),
		outcome("r2", "think_longer", true, "", "menu", "badge"),
		outcome("r3", "deep_research", false, "disabled", "menu", ""),
	}
	if err := engine.AddFacts(ctx, facts); err != nil {
		t.Fatalf("AddFacts failed: %v", err)
	}

	failed, err := engine.Evaluate(ctx, "toggle_failed")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(failed) != 2 {
		t.Fatalf("expected 2 failed runs, got %d: %+v", len(failed), failed)
	}

	trouble, err := engine.Query(ctx, "menu_open_trouble(Feature).")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(trouble) != 1 || trouble[0]["Feature"] != "web_search" {
		t.Errorf("expected web_search to have menu trouble, got %+v", trouble)
	}
}

func TestEngineDerivesKeyboardRescue(t *testing.T) {
	engine := newJournal(t, 100)
	ctx := context.Background()

	facts := []Fact{
		{Predicate: "toggle_step", Args: []interface{}{"r1", "keyboard_replay", "space_enter"}, Timestamp: time.Now()},
		outcome("r1", "create_image", true, "", "menu", "checked"),
		{Predicate: "toggle_step", Args: []interface{}{"r2", "keyboard_replay", "space_enter"}, Timestamp: time.Now()},
		outcome("r2", "create_image", false, "no_change_detected", "menu", ""),
	}
	if err := engine.AddFacts(ctx, facts); err != nil {
		t.Fatal(err)
	}

	rescued, err := engine.Query(ctx, "keyboard_rescued(Run, Feature).")
	if err != nil {
		t.Fatal(err)
	}
	if len(rescued) != 1 || rescued[0]["Run"] != "r1" {
		t.Errorf("expected only r1 rescued by keyboard, got %+v", rescued)
	}

	missing, err := engine.Query(ctx, "badge_missing(Run, Feature).")
	if err != nil {
		t.Fatal(err)
	}
	if len(missing) != 1 {
		t.Errorf("expected one checked-only success, got %+v", missing)
	}
}

func TestEngineQueryWithConstant(t *testing.T) {
	engine := newJournal(t, 100)
	ctx := context.Background()

	facts := []Fact{
		outcome("r1", "web_search", false, "submenu_not_found", "menu", ""),
		outcome("r2", "think_longer", false, "item_not_found", "menu", ""),
	}
	if err := engine.AddFacts(ctx, facts); err != nil {
		t.Fatal(err)
	}

	results, err := engine.Query(ctx, `toggle_failed(Run, "web_search", Reason).`)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0]["Reason"] != "submenu_not_found" {
		t.Errorf("unexpected binding %+v", results[0])
	}
}

func TestEngineAddRule(t *testing.T) {
	engine := newJournal(t, 100)
	ctx := context.Background()

	rule := `
Decl research_failed(Run).
research_failed(Run) :- toggle_failed(Run, "deep_research", _).
`
	if err := engine.AddRule(rule); err != nil {
		t.Fatalf("AddRule failed: %v", err)
	}

	if err := engine.AddFacts(ctx, []Fact{outcome("r9", "deep_research", false, "disabled", "menu", "")}); err != nil {
		t.Fatal(err)
	}
	results, err := engine.Query(ctx, "research_failed(Run).")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0]["Run"] != "r9" {
		t.Errorf("expected r9 from added rule, got %+v", results)
	}
}

func TestEngineTemporalQuery(t *testing.T) {
	engine := newJournal(t, 100)
	ctx := context.Background()
	now := time.Now()
	past := now.Add(-5 * time.Second)

	facts := []Fact{
		{Predicate: "shortcut_fired", Args: []interface{}{"think_longer", "Alt+Shift+T", past.UnixMilli()}, Timestamp: past},
		{Predicate: "shortcut_fired", Args: []interface{}{"web_search", "Alt+Shift+W", now.UnixMilli()}, Timestamp: now},
	}
	if err := engine.AddFacts(ctx, facts); err != nil {
		t.Fatal(err)
	}

	if recent := engine.QueryTemporal("shortcut_fired", now.Add(-3*time.Second), time.Time{}); len(recent) != 1 {
		t.Errorf("expected 1 recent event, got %d", len(recent))
	}
	if all := engine.QueryTemporal("shortcut_fired", time.Time{}, time.Time{}); len(all) != 2 {
		t.Errorf("expected 2 total events, got %d", len(all))
	}
}

func TestEngineDisabled(t *testing.T) {
	engine, err := NewEngine(config.MangleConfig{Enable: false}, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	if err := engine.AddFacts(context.Background(), []Fact{{Predicate: "toggle_step", Args: []interface{}{"r", "s", "d"}}}); err != nil {
		t.Errorf("AddFacts should succeed when disabled: %v", err)
	}
	if len(engine.Facts()) != 0 {
		t.Error("disabled engine should not buffer facts")
	}
	if !engine.Ready() {
		t.Error("engine should be ready when disabled")
	}
	if _, err := engine.Query(context.Background(), "toggle_failed(R, F, X)."); err == nil {
		t.Error("expected query to fail when disabled")
	}
}

func TestEngineEvaluateUnknownPredicate(t *testing.T) {
	engine := newJournal(t, 10)
	if _, err := engine.Evaluate(context.Background(), "no_such_predicate"); err == nil {
		t.Error("expected error for unknown predicate")
	}
}
