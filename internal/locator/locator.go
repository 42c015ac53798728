// Package locator finds the composer's transient controls in a page snapshot.
//
// Every function here is a pure query over a *dom.Snapshot. Matching is by
// role, accessible label and text content rather than class names, because
// the host application's markup changes without notice. Where more than one
// strategy exists they are tried in a fixed order and each is exported on its
// own so it can be tested in isolation.
package locator

import (
	"regexp"
	"strings"

	"composerkeys-mcp-server/internal/dom"
)

const (
	// PillClass marks the composer's own feature badges.
	PillClass = "__composer-pill"

	triggerTestID = "composer-plus-btn"
	triggerLabel  = "Add files and more"
	closeLabel    = "Close"
	moreText      = "more"
)

var menuItemRoles = map[string]bool{
	"menuitem":         true,
	"menuitemradio":    true,
	"menuitemcheckbox": true,
}

// PillPredicate decides whether a badge candidate is the one being looked
// for. aria is the lower-cased accessible label, label the lower-cased
// trimmed text.
type PillPredicate func(aria, label string, n dom.Node) bool

// AnyPill accepts every badge candidate.
func AnyPill(string, string, dom.Node) bool { return true }

// Matcher matches trimmed, lower-cased item text either by substring or by
// pattern. A zero Matcher matches nothing.
type Matcher struct {
	Substring string
	Pattern   *regexp.Regexp
}

// Contains returns a substring Matcher.
func Contains(s string) Matcher { return Matcher{Substring: strings.ToLower(s)} }

// Regexp returns a pattern Matcher. The pattern is applied to lower-cased text.
func Regexp(expr string) Matcher { return Matcher{Pattern: regexp.MustCompile(expr)} }

// Match reports whether text satisfies m.
func (m Matcher) Match(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	switch {
	case m.Pattern != nil:
		return m.Pattern.MatchString(t)
	case m.Substring != "":
		return strings.Contains(t, m.Substring)
	default:
		return false
	}
}

func (m Matcher) String() string {
	if m.Pattern != nil {
		return m.Pattern.String()
	}
	return m.Substring
}

// IsMenuItem reports whether n carries one of the menu-item roles.
func IsMenuItem(n dom.Node) bool { return menuItemRoles[n.Role] }

// FindPill returns the first badge candidate accepted by pred, trying the
// composer's pill class before any labelled button.
func FindPill(snap *dom.Snapshot, pred PillPredicate) (dom.Node, bool) {
	if snap == nil || pred == nil {
		return dom.Node{}, false
	}
	for _, strategy := range []func(dom.Node) bool{pillByClass, pillByLabel} {
		for _, n := range snap.Nodes {
			if !strategy(n) {
				continue
			}
			if pred(n.LowerLabel(), n.LowerText(), n) {
				return n, true
			}
		}
	}
	return dom.Node{}, false
}

func pillByClass(n dom.Node) bool {
	return n.Tag == "button" && n.HasClass(PillClass)
}

func pillByLabel(n dom.Node) bool {
	_, ok := n.Attr("aria-label")
	return n.Tag == "button" && ok && !n.HasClass(PillClass)
}

// FindTrigger returns the composer's "plus" control.
func FindTrigger(snap *dom.Snapshot) (dom.Node, bool) {
	if snap == nil {
		return dom.Node{}, false
	}
	for _, n := range snap.Nodes {
		if n.Tag == "button" && n.AttrIs("data-testid", triggerTestID) {
			return n, true
		}
	}
	for _, n := range snap.Nodes {
		if n.Tag == "button" && n.AttrIs("aria-label", triggerLabel) {
			return n, true
		}
	}
	return dom.Node{}, false
}

// openMenuStrategies is the generic "open menu" pattern, most specific first.
var openMenuStrategies = []func(dom.Node) bool{
	func(n dom.Node) bool { return n.Role == "menu" && n.AttrIs("data-state", "open") },
	func(n dom.Node) bool {
		_, ok := n.Attr("data-radix-menu-content")
		return ok && n.AttrIs("data-state", "open")
	},
	func(n dom.Node) bool { return n.Role == "menu" },
}

// FindOpenMenu returns the first node matching the generic open-menu pattern.
func FindOpenMenu(snap *dom.Snapshot) (dom.Node, bool) {
	if snap == nil {
		return dom.Node{}, false
	}
	for _, strategy := range openMenuStrategies {
		for _, n := range snap.Nodes {
			if strategy(n) {
				return n, true
			}
		}
	}
	return dom.Node{}, false
}

// IsMenuOpen reports the trigger's expanded state, or any open menu.
func IsMenuOpen(snap *dom.Snapshot) bool {
	if trigger, ok := FindTrigger(snap); ok {
		if trigger.AttrIs("aria-expanded", "true") || trigger.AttrIs("data-state", "open") {
			return true
		}
	}
	_, ok := FindOpenMenu(snap)
	return ok
}

// FindMenuRoot prefers the node the trigger's aria-controls points at and
// falls back to the generic open-menu pattern.
func FindMenuRoot(snap *dom.Snapshot) (dom.Node, bool) {
	if trigger, ok := FindTrigger(snap); ok {
		if id, ok := trigger.Attr("aria-controls"); ok && id != "" {
			if root, ok := snap.ByID(id); ok {
				return root, true
			}
		}
	}
	return FindOpenMenu(snap)
}

// MenuItems returns the menu-item nodes under root, or in the whole snapshot
// when root is dom.Document.
func MenuItems(snap *dom.Snapshot, root dom.NodeRef) []dom.Node {
	if snap == nil {
		return nil
	}
	var items []dom.Node
	for _, n := range snap.Nodes {
		if IsMenuItem(n) && n.Ref != root && snap.IsWithin(root, n.Ref) {
			items = append(items, n)
		}
	}
	return items
}

// FindItem returns the first item whose text satisfies m. An item that
// holds other items, such as a disclosure rendering its submenu inline,
// carries their text too and is skipped.
func FindItem(snap *dom.Snapshot, items []dom.Node, m Matcher) (dom.Node, bool) {
	for _, n := range items {
		if m.Match(n.Text) && !holdsAny(snap, n, items) {
			return n, true
		}
	}
	return dom.Node{}, false
}

func holdsAny(snap *dom.Snapshot, n dom.Node, others []dom.Node) bool {
	if snap == nil {
		return false
	}
	for _, o := range others {
		if o.Ref != n.Ref && snap.IsWithin(n.Ref, o.Ref) {
			return true
		}
	}
	return false
}

// ClosestItem walks up from ref to the nearest menu-item ancestor,
// returning the node itself when it has no such ancestor.
func ClosestItem(snap *dom.Snapshot, ref dom.NodeRef) (dom.Node, bool) {
	start, ok := snap.Get(ref)
	if !ok {
		return dom.Node{}, false
	}
	for cur, hops := start, 0; hops <= len(snap.Nodes); hops++ {
		if IsMenuItem(cur) {
			return cur, true
		}
		parent, ok := snap.Get(cur.Parent)
		if !ok {
			break
		}
		cur = parent
	}
	return start, true
}

func isMoreText(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	return t != "" && strings.HasPrefix(t, moreText)
}

// FindMoreByText finds the "More" disclosure by its text, preferring menu
// items and otherwise climbing from any matching descendant to its item.
func FindMoreByText(snap *dom.Snapshot, root dom.NodeRef) (dom.Node, bool) {
	for _, n := range MenuItems(snap, root) {
		if isMoreText(n.Text) {
			return n, true
		}
	}
	for _, n := range snap.Within(root) {
		if isMoreText(n.Text) {
			return ClosestItem(snap, n.Ref)
		}
	}
	return dom.Node{}, false
}

// FindMoreByStructure finds a menu item that announces a nested menu.
func FindMoreByStructure(snap *dom.Snapshot, root dom.NodeRef) (dom.Node, bool) {
	for _, n := range MenuItems(snap, root) {
		if n.AttrIs("aria-haspopup", "menu") || n.AttrIs("aria-haspopup", "true") {
			return n, true
		}
	}
	return dom.Node{}, false
}

// FindMore returns the submenu disclosure under root.
func FindMore(snap *dom.Snapshot, root dom.NodeRef) (dom.Node, bool) {
	if snap == nil {
		return dom.Node{}, false
	}
	if n, ok := FindMoreByText(snap, root); ok {
		return n, true
	}
	return FindMoreByStructure(snap, root)
}

func isPopupLike(n dom.Node) bool {
	if n.Role == "menu" {
		return true
	}
	for _, attr := range []string{"data-radix-popper-content-wrapper", "data-radix-menu-content"} {
		if _, ok := n.Attr(attr); ok {
			return true
		}
	}
	_, ok := n.Attr("data-side")
	return ok && n.Tag == "div"
}

// FindVisibleMenuContaining returns popup-like nodes whose text contains
// text and whose box has area. Zero-sized pre-rendered copies never match.
func FindVisibleMenuContaining(snap *dom.Snapshot, text string) []dom.Node {
	if snap == nil {
		return nil
	}
	needle := strings.ToLower(text)
	var out []dom.Node
	for _, n := range snap.Nodes {
		if !isPopupLike(n) || n.Rect.Empty() {
			continue
		}
		if strings.Contains(strings.ToLower(n.Text), needle) {
			out = append(out, n)
		}
	}
	return out
}

// InnermostPopup returns the popup that nests none of the others. With a
// submenu rendered inside its parent menu, both match the same text.
func InnermostPopup(snap *dom.Snapshot, popups []dom.Node) (dom.Node, bool) {
	for _, p := range popups {
		if !holdsAny(snap, p, popups) {
			return p, true
		}
	}
	return dom.Node{}, false
}

// IsDisabled reports an explicit disabled-state attribute.
func IsDisabled(n dom.Node) bool {
	if n.AttrIs("aria-disabled", "true") {
		return true
	}
	_, ok := n.Attr("data-disabled")
	return ok
}

// IsChecked reports a selected checked-state attribute.
func IsChecked(n dom.Node) bool {
	switch n.Attrs["aria-checked"] {
	case "true", "mixed", "1":
		return true
	}
	return false
}

// FindOpenDialog returns the first open dialog or modal.
func FindOpenDialog(snap *dom.Snapshot) (dom.Node, bool) {
	if snap == nil {
		return dom.Node{}, false
	}
	for _, n := range snap.Nodes {
		if n.AttrIs("aria-modal", "true") {
			return n, true
		}
		if n.Role != "dialog" {
			continue
		}
		if _, open := n.Attr("open"); open || n.AttrIs("data-state", "open") || n.AttrIs("aria-hidden", "false") {
			return n, true
		}
	}
	return dom.Node{}, false
}

// FindCloseButton returns the explicit close affordance inside dialog,
// preferring a button.
func FindCloseButton(snap *dom.Snapshot, dialog dom.NodeRef) (dom.Node, bool) {
	if snap == nil {
		return dom.Node{}, false
	}
	var fallback *dom.Node
	for _, n := range snap.Within(dialog) {
		if !n.AttrIs("aria-label", closeLabel) {
			continue
		}
		if n.Tag == "button" {
			return n, true
		}
		if fallback == nil {
			n := n
			fallback = &n
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return dom.Node{}, false
}
