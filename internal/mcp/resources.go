package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	resourceMIMEJSON = "application/json"
)

func (s *Server) registerAllResources() {
	if s == nil || s.mcpServer == nil {
		return
	}

	s.mcpServer.AddResource(
		mcp.NewResource(
			"composerkeys://about",
			"About",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("Server info, features and their current chords."),
		),
		s.handleAboutResource,
	)

	s.mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"composerkeys://journal/{predicate}{?limit}",
			"Journal Facts",
			mcp.WithTemplateMIMEType(resourceMIMEJSON),
			mcp.WithTemplateDescription("Recent journal facts of one predicate, oldest first."),
		),
		s.handleJournalResource,
	)
}

func (s *Server) handleAboutResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	payload := map[string]interface{}{
		"name":         s.cfg.Server.Name,
		"version":      s.cfg.Server.Version,
		"features":     featureNames(),
		"timestamp_ms": time.Now().UnixMilli(),
	}
	if s.deps.Shortcuts != nil {
		chords, _ := (&ListShortcutsTool{shortcuts: s.deps.Shortcuts}).Execute(context.Background(), nil)
		payload["shortcuts"] = chords
	}
	return jsonResource(request.Params.URI, payload)
}

func (s *Server) handleJournalResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	if s.deps.Engine == nil {
		return nil, fmt.Errorf("journal unavailable")
	}
	predicate := argString(request.Params.Arguments["predicate"])
	if predicate == "" {
		return nil, fmt.Errorf("missing predicate")
	}
	limit := 25
	if v := argString(request.Params.Arguments["limit"]); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &limit); err != nil {
			return nil, fmt.Errorf("bad limit %q", v)
		}
	}
	limit = clamp(limit, 1, 500)

	facts := s.deps.Engine.FactsByPredicate(predicate)
	if len(facts) > limit {
		facts = facts[len(facts)-limit:]
	}
	return jsonResource(request.Params.URI, map[string]interface{}{
		"predicate": predicate,
		"limit":     limit,
		"count":     len(facts),
		"facts":     facts,
	})
}

func jsonResource(uri string, payload interface{}) ([]mcp.ResourceContents, error) {
	text, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: resourceMIMEJSON,
			Text:     string(text),
		},
	}, nil
}
