package mcp

import (
	"context"
	"fmt"

	"composerkeys-mcp-server/internal/shortcut"
	"composerkeys-mcp-server/internal/toggle"
)

type shortcutEntry struct {
	Feature string           `json:"feature"`
	Chord   string           `json:"chord"`
	Binding shortcut.Binding `json:"binding"`
	Key     string           `json:"storage_key"`
}

type ListShortcutsTool struct {
	shortcuts Shortcuts
}

func (t *ListShortcutsTool) Name() string { return "list-shortcuts" }
func (t *ListShortcutsTool) Description() string {
	return `List the keyboard chords bound to each composer feature, in the order
they are matched.

Returns: {platform, shortcuts: [{feature, chord, binding, storage_key}]}.`
}
func (t *ListShortcutsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *ListShortcutsTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	if t.shortcuts == nil {
		return nil, fmt.Errorf("shortcut registry unavailable")
	}
	bindings := t.shortcuts.Bindings()
	entries := make([]shortcutEntry, 0, len(toggle.Features))
	for _, f := range toggle.Features {
		b := bindings[f]
		entries = append(entries, shortcutEntry{
			Feature: f.String(),
			Chord:   shortcut.Format(b),
			Binding: b,
			Key:     shortcut.StorageKey(f),
		})
	}
	return map[string]interface{}{
		"platform":  t.shortcuts.Platform().String(),
		"shortcuts": entries,
	}, nil
}

type SetShortcutTool struct {
	shortcuts Shortcuts
}

func (t *SetShortcutTool) Name() string { return "set-shortcut" }
func (t *SetShortcutTool) Description() string {
	return `Bind a keyboard chord to a composer feature. The change is saved to the
settings file and pushed to the page immediately.

Chord syntax: modifiers and a key joined by "+", e.g. "Alt+Shift+T" or
"Ctrl+Shift+W". A chord made only of modifiers is rejected.`
}
func (t *SetShortcutTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"feature": map[string]interface{}{
				"type": "string",
				"enum": featureNames(),
			},
			"chord": map[string]interface{}{
				"type":        "string",
				"description": `Chord such as "Alt+Shift+T"`,
			},
		},
		"required": []string{"feature", "chord"},
	}
}
func (t *SetShortcutTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	if t.shortcuts == nil {
		return nil, fmt.Errorf("shortcut registry unavailable")
	}
	f, ok := toggle.ParseFeature(getStringArg(args, "feature"))
	if !ok {
		return nil, fmt.Errorf("unknown feature %q", getStringArg(args, "feature"))
	}
	b, err := shortcut.Parse(getStringArg(args, "chord"))
	if err != nil {
		return nil, err
	}
	if err := t.shortcuts.Set(f, b); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"success": true,
		"feature": f.String(),
		"chord":   shortcut.Format(shortcut.Normalize(b)),
	}, nil
}
