package mcp

import (
	"context"
	"fmt"
	"strings"

	"composerkeys-mcp-server/internal/command"
	"composerkeys-mcp-server/internal/toggle"
)

func featureNames() []string {
	names := make([]string, 0, len(toggle.Features))
	for _, f := range toggle.Features {
		names = append(names, f.String())
	}
	return names
}

func handle(ctx context.Context, c Commander, m command.Message) (interface{}, error) {
	if c == nil {
		return nil, fmt.Errorf("composer page not attached")
	}
	return c.Handle(ctx, m), nil
}

type RunModeTool struct {
	commands Commander
}

func (t *RunModeTool) Name() string { return "run-mode" }
func (t *RunModeTool) Description() string {
	return `Toggle one composer feature in the attached tab.

Clicks the feature's badge when it is showing (which turns it off), otherwise
opens the composer menu and picks the feature's item.

Returns: {ok, reason?, error?, run_id}. reason is one of menu_open_failed,
item_not_found, disabled, submenu_not_found, no_change_detected,
not_implemented.`
}
func (t *RunModeTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"mode": map[string]interface{}{
				"type":        "string",
				"enum":        featureNames(),
				"description": "Feature to toggle",
			},
		},
		"required": []string{"mode"},
	}
}
func (t *RunModeTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	mode := strings.TrimSpace(getStringArg(args, "mode"))
	if mode == "" {
		return nil, fmt.Errorf("mode is required")
	}
	return handle(ctx, t.commands, command.Message{Action: command.ActionRunMode, Mode: mode})
}

type ToggleThinkLongerTool struct {
	commands Commander
}

func (t *ToggleThinkLongerTool) Name() string { return "toggle-think-longer" }
func (t *ToggleThinkLongerTool) Description() string {
	return `Toggle "Think longer" in the attached tab. Same result shape as run-mode.`
}
func (t *ToggleThinkLongerTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *ToggleThinkLongerTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	return handle(ctx, t.commands, command.Message{Action: command.ActionToggleThinkLonger})
}

type RunCommandTool struct {
	commands Commander
}

func (t *RunCommandTool) Name() string { return "run-command" }
func (t *RunCommandTool) Description() string {
	return `Run a composer command by its keyboard-command name:
toggle_think_longer, run_web_search, run_deep_research, run_create_image.`
}
func (t *RunCommandTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name": map[string]interface{}{
				"type":        "string",
				"description": "Command name",
			},
		},
		"required": []string{"name"},
	}
}
func (t *RunCommandTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	name := getStringArg(args, "name")
	m, ok := command.FromCommandName(name)
	if !ok {
		return nil, fmt.Errorf("unknown command %q", name)
	}
	return handle(ctx, t.commands, m)
}
