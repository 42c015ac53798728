package shortcut

import (
	"regexp"
	"runtime"

	"composerkeys-mcp-server/internal/toggle"
)

// Platform selects the default chord set.
type Platform int

const (
	Other Platform = iota
	Mac
)

func (p Platform) String() string {
	if p == Mac {
		return "mac"
	}
	return "other"
}

// ParsePlatform reads "mac" or "other".
func ParsePlatform(s string) (Platform, bool) {
	switch s {
	case "mac":
		return Mac, true
	case "other":
		return Other, true
	}
	return Other, false
}

var macPattern = regexp.MustCompile(`(?i)mac`)

// DetectPlatform classifies the browser from navigator.userAgentData.platform,
// falling back to navigator.userAgent.
func DetectPlatform(uaPlatform, userAgent string) Platform {
	if uaPlatform != "" {
		if macPattern.MatchString(uaPlatform) {
			return Mac
		}
		return Other
	}
	if macPattern.MatchString(userAgent) {
		return Mac
	}
	return Other
}

// HostPlatform classifies the machine this process runs on.
func HostPlatform() Platform {
	if runtime.GOOS == "darwin" {
		return Mac
	}
	return Other
}

var featureKeys = map[toggle.Feature]string{
	toggle.ThinkLonger:  "t",
	toggle.WebSearch:    "w",
	toggle.CreateImage:  "i",
	toggle.DeepResearch: "r",
}

// Defaults returns Ctrl+Shift chords on Mac and Alt+Shift elsewhere.
func Defaults(p Platform) map[toggle.Feature]Binding {
	out := make(map[toggle.Feature]Binding, len(featureKeys))
	for f, k := range featureKeys {
		b := Binding{Shift: true, Key: k}
		if p == Mac {
			b.Ctrl = true
		} else {
			b.Alt = true
		}
		out[f] = b
	}
	return out
}

var storageKeys = map[toggle.Feature]string{
	toggle.ThinkLonger:  "thinkShortcut",
	toggle.WebSearch:    "webShortcut",
	toggle.CreateImage:  "imageShortcut",
	toggle.DeepResearch: "researchShortcut",
}

// StorageKey is the settings key holding f's binding.
func StorageKey(f toggle.Feature) string { return storageKeys[f] }

// StorageKeys lists every binding key in match order.
func StorageKeys() []string {
	out := make([]string, 0, len(toggle.Features))
	for _, f := range toggle.Features {
		out = append(out, storageKeys[f])
	}
	return out
}
