// Package shortcut recognizes the keyboard chords bound to each feature and
// turns them into toggle commands.
package shortcut

import (
	"fmt"
	"strings"
)

// Binding is one configured chord.
type Binding struct {
	Ctrl  bool   `json:"ctrl" yaml:"ctrl"`
	Alt   bool   `json:"alt" yaml:"alt"`
	Shift bool   `json:"shift" yaml:"shift"`
	Meta  bool   `json:"meta" yaml:"meta"`
	Key   string `json:"key" yaml:"key"`
}

// KeyEvent is the part of a keydown event a chord is compared against.
type KeyEvent struct {
	Key      string `json:"key"`
	CtrlKey  bool   `json:"ctrlKey"`
	AltKey   bool   `json:"altKey"`
	ShiftKey bool   `json:"shiftKey"`
	MetaKey  bool   `json:"metaKey"`
}

var modifierKeys = map[string]bool{
	"shift":   true,
	"control": true,
	"alt":     true,
	"meta":    true,
}

// Normalize lower-cases and trims the key.
func Normalize(b Binding) Binding {
	b.Key = strings.ToLower(strings.TrimSpace(b.Key))
	return b
}

// Valid reports whether b names a non-modifier key.
func (b Binding) Valid() bool {
	k := Normalize(b).Key
	return k != "" && !modifierKeys[k]
}

// IsModifierOnly reports a press of a modifier on its own, which never
// completes a chord.
func IsModifierOnly(ev KeyEvent) bool {
	k := strings.ToLower(ev.Key)
	return k == "" || modifierKeys[k]
}

// Matches compares every modifier exactly and the key case-insensitively.
func Matches(b Binding, ev KeyEvent) bool {
	if !b.Valid() || IsModifierOnly(ev) {
		return false
	}
	if ev.CtrlKey != b.Ctrl || ev.AltKey != b.Alt || ev.ShiftKey != b.Shift || ev.MetaKey != b.Meta {
		return false
	}
	return strings.ToLower(ev.Key) == Normalize(b).Key
}

// Format renders b the way users type it, e.g. "Ctrl+Shift+T".
func Format(b Binding) string {
	var parts []string
	if b.Ctrl {
		parts = append(parts, "Ctrl")
	}
	if b.Alt {
		parts = append(parts, "Alt")
	}
	if b.Shift {
		parts = append(parts, "Shift")
	}
	if b.Meta {
		parts = append(parts, "Meta")
	}
	if b.Key != "" {
		parts = append(parts, strings.ToUpper(b.Key))
	}
	return strings.Join(parts, "+")
}

// Parse reads a chord such as "ctrl+shift+t" or "Cmd+Alt+K".
func Parse(s string) (Binding, error) {
	var b Binding
	for _, part := range strings.Split(s, "+") {
		p := strings.ToLower(strings.TrimSpace(part))
		switch p {
		case "":
			return Binding{}, fmt.Errorf("empty key in chord %q", s)
		case "ctrl", "control":
			b.Ctrl = true
		case "alt", "option":
			b.Alt = true
		case "shift":
			b.Shift = true
		case "meta", "cmd", "command":
			b.Meta = true
		default:
			if b.Key != "" {
				return Binding{}, fmt.Errorf("chord %q names more than one key", s)
			}
			b.Key = p
		}
	}
	if !b.Valid() {
		return Binding{}, fmt.Errorf("chord %q has no key", s)
	}
	return b, nil
}
