package mcp

import (
	"context"

	"composerkeys-mcp-server/internal/browser"
)

type SessionStatusTool struct {
	sessions *browser.SessionManager
}

func (t *SessionStatusTool) Name() string { return "session-status" }
func (t *SessionStatusTool) Description() string {
	return `Report whether Chrome is connected and which composer tab is attached.

Returns: {connected, control_url?, session?}.`
}
func (t *SessionStatusTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *SessionStatusTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	if t.sessions == nil {
		return map[string]interface{}{"connected": false}, nil
	}
	out := map[string]interface{}{
		"connected": t.sessions.IsConnected(),
	}
	if url := t.sessions.ControlURL(); url != "" {
		out["control_url"] = url
	}
	if s, ok := t.sessions.Session(); ok {
		out["session"] = s
	}
	return out, nil
}
