package mcp

import (
	"fmt"
	"strings"

	"composerkeys-mcp-server/internal/mangle"
)

func matchFact(f mangle.Fact, wantArgs []interface{}) bool {
	if len(f.Args) < len(wantArgs) {
		return false
	}
	for i := range wantArgs {
		if wantArgs[i] == nil {
			continue
		}
		if fmt.Sprintf("%v", f.Args[i]) != fmt.Sprintf("%v", wantArgs[i]) {
			return false
		}
	}
	return true
}

// normalizeClause appends the trailing period Mangle requires.
func normalizeClause(s string) string {
	s = strings.TrimSpace(s)
	if s != "" && !strings.HasSuffix(s, ".") {
		s += "."
	}
	return s
}

func getStringArg(args map[string]interface{}, key string) string {
	return argString(args[key])
}

func getIntArg(args map[string]interface{}, key string, fallback int) int {
	val, ok := args[key]
	if !ok {
		return fallback
	}
	switch v := val.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}

func getArrayArg(args map[string]interface{}, key string) []interface{} {
	if v, ok := args[key].([]interface{}); ok {
		return v
	}
	return nil
}

func argString(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case []string:
		if len(value) == 0 {
			return ""
		}
		return value[0]
	default:
		return fmt.Sprintf("%v", value)
	}
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
