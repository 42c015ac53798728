package toggle

import (
	"fmt"
	"regexp"
	"strings"

	"composerkeys-mcp-server/internal/dom"
	"composerkeys-mcp-server/internal/locator"
)

// Feature is one composer switch.
type Feature int

const (
	ThinkLonger Feature = iota
	WebSearch
	DeepResearch
	CreateImage
)

// Features lists every feature in shortcut match order.
var Features = []Feature{ThinkLonger, WebSearch, CreateImage, DeepResearch}

// String returns the mode name used on the command interface.
func (f Feature) String() string {
	switch f {
	case ThinkLonger:
		return "think_longer"
	case WebSearch:
		return "web_search"
	case DeepResearch:
		return "deep_research"
	case CreateImage:
		return "create_image"
	default:
		return fmt.Sprintf("feature(%d)", int(f))
	}
}

// ParseFeature maps a mode name back to its Feature.
func ParseFeature(mode string) (Feature, bool) {
	for _, f := range Features {
		if f.String() == mode {
			return f, true
		}
	}
	return 0, false
}

// Profile describes how a feature shows up in the page.
type Profile struct {
	// Badge recognises the feature's own pill.
	Badge locator.PillPredicate
	// Item matches the menu item text.
	Item locator.Matcher
	// Submenu is the text probed for in visible popups when the item lives
	// behind the "More" disclosure. Empty for top-level items.
	Submenu string
}

var searchWord = regexp.MustCompile(`\bsearch\b`)

var profiles = map[Feature]Profile{
	ThinkLonger: {
		Badge: func(aria, label string, _ dom.Node) bool {
			return strings.HasPrefix(aria, "think") || strings.HasPrefix(label, "think")
		},
		Item: locator.Contains("think longer"),
	},
	WebSearch: {
		Badge: func(aria, label string, _ dom.Node) bool {
			return searchWord.MatchString(aria) || searchWord.MatchString(label)
		},
		Item:    locator.Regexp(`\bweb\b.*\bsearch\b|\bsearch\b.*\bweb\b`),
		Submenu: "web search",
	},
	DeepResearch: {
		Badge: func(aria, label string, _ dom.Node) bool {
			return strings.Contains(aria, "research") || strings.Contains(label, "research")
		},
		Item: locator.Contains("deep research"),
	},
	CreateImage: {
		Badge: func(aria, label string, _ dom.Node) bool {
			return strings.Contains(aria, "image") || strings.Contains(label, "image")
		},
		Item: locator.Contains("create image"),
	},
}

// ProfileFor returns the page description of f.
func ProfileFor(f Feature) (Profile, bool) {
	s, ok := profiles[f]
	return s, ok
}
