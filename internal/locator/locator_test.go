package locator

import (
	"testing"

	"composerkeys-mcp-server/internal/dom"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var box = dom.Rect{X: 10, Y: 10, Width: 120, Height: 32}

func n(ref, parent dom.NodeRef, tag, role, text string, attrs ...string) dom.Node {
	m := map[string]string{}
	for i := 0; i+1 < len(attrs); i += 2 {
		m[attrs[i]] = attrs[i+1]
	}
	node := dom.Node{Ref: ref, Parent: parent, Tag: tag, Role: role, Text: text, Attrs: m, Rect: box}
	if id, ok := m["id"]; ok {
		node.ID = id
	}
	return node
}

func composer() *dom.Snapshot {
	trigger := n("t", dom.Document, "button", "", "", "data-testid", "composer-plus-btn", "aria-controls", "radix-1", "aria-expanded", "true")
	menu := n("m", dom.Document, "div", "menu", "Add photos Think longer Deep research More", "id", "radix-1", "data-state", "open")
	photos := n("i1", "m", "div", "menuitem", "Add photos")
	think := n("i2", "m", "div", "menuitemradio", "Think longer", "aria-checked", "false")
	research := n("i3", "m", "div", "menuitemradio", "Deep research", "data-disabled", "")
	more := n("i4", "m", "div", "menuitem", "More", "aria-haspopup", "menu")
	return dom.NewSnapshot([]dom.Node{trigger, menu, photos, think, research, more})
}

func TestMatcher(t *testing.T) {
	assert.True(t, Contains("Think Longer").Match("  Think longer  "))
	assert.False(t, Contains("deep research").Match("Research"))

	web := Regexp(`\bweb\b.*\bsearch\b|\bsearch\b.*\bweb\b`)
	assert.True(t, web.Match("Web search"))
	assert.True(t, web.Match("Search the web"))
	assert.False(t, web.Match("Websearch"))
	assert.False(t, Matcher{}.Match("anything"))
}

func TestFindPillPrefersComposerClass(t *testing.T) {
	labelled := n("a", dom.Document, "button", "", "", "aria-label", "Think")
	pill := n("b", dom.Document, "button", "", "Think")
	pill.Classes = []string{PillClass}
	snap := dom.NewSnapshot([]dom.Node{labelled, pill})

	var seen []dom.NodeRef
	got, ok := FindPill(snap, func(aria, label string, node dom.Node) bool {
		seen = append(seen, node.Ref)
		return true
	})
	require.True(t, ok)
	assert.Equal(t, dom.NodeRef("b"), got.Ref)
	assert.Equal(t, []dom.NodeRef{"b"}, seen)
}

func TestFindPillPassesLoweredLabelAndText(t *testing.T) {
	snap := dom.NewSnapshot([]dom.Node{
		n("a", dom.Document, "button", "", "Send", "aria-label", "Send prompt"),
		n("b", dom.Document, "button", "", "  Search  ", "aria-label", "Search, click to remove"),
		n("c", dom.Document, "div", "", "Search", "aria-label", "Search"),
	})
	got, ok := FindPill(snap, func(aria, label string, _ dom.Node) bool {
		return aria == "search, click to remove" && label == "search"
	})
	require.True(t, ok)
	assert.Equal(t, dom.NodeRef("b"), got.Ref)

	_, ok = FindPill(snap, func(aria, label string, _ dom.Node) bool { return label == "nothing" })
	assert.False(t, ok)
}

func TestFindTriggerStrategies(t *testing.T) {
	byLabel := dom.NewSnapshot([]dom.Node{n("x", dom.Document, "button", "", "", "aria-label", "Add files and more")})
	got, ok := FindTrigger(byLabel)
	require.True(t, ok)
	assert.Equal(t, dom.NodeRef("x"), got.Ref)

	_, ok = FindTrigger(dom.NewSnapshot([]dom.Node{n("y", dom.Document, "div", "", "", "data-testid", "composer-plus-btn")}))
	assert.False(t, ok)
}

func TestMenuRootAndItems(t *testing.T) {
	snap := composer()
	assert.True(t, IsMenuOpen(snap))

	root, ok := FindMenuRoot(snap)
	require.True(t, ok)
	assert.Equal(t, dom.NodeRef("m"), root.Ref)

	items := MenuItems(snap, root.Ref)
	assert.Len(t, items, 4)

	item, ok := FindItem(snap, items, Contains("think longer"))
	require.True(t, ok)
	assert.Equal(t, dom.NodeRef("i2"), item.Ref)
	assert.False(t, IsChecked(item))

	research, ok := FindItem(snap, items, Contains("deep research"))
	require.True(t, ok)
	assert.True(t, IsDisabled(research))
}

func TestFindMenuRootFallsBackToOpenMenu(t *testing.T) {
	snap := dom.NewSnapshot([]dom.Node{
		n("t", dom.Document, "button", "", "", "data-testid", "composer-plus-btn", "aria-controls", "gone"),
		n("closed", dom.Document, "div", "menu", "stale"),
		n("radix", dom.Document, "div", "", "fresh", "data-radix-menu-content", "", "data-state", "open"),
	})
	root, ok := FindMenuRoot(snap)
	require.True(t, ok)
	assert.Equal(t, dom.NodeRef("radix"), root.Ref)
}

func TestIsMenuOpenClosed(t *testing.T) {
	snap := dom.NewSnapshot([]dom.Node{
		n("t", dom.Document, "button", "", "", "data-testid", "composer-plus-btn", "aria-expanded", "false"),
	})
	assert.False(t, IsMenuOpen(snap))
}

func TestFindMoreStrategies(t *testing.T) {
	snap := composer()
	more, ok := FindMoreByText(snap, "m")
	require.True(t, ok)
	assert.Equal(t, dom.NodeRef("i4"), more.Ref)

	// Localized label: only the structural hint remains.
	structural := dom.NewSnapshot([]dom.Node{
		n("m", dom.Document, "div", "menu", "Plus", "data-state", "open"),
		n("i1", "m", "div", "menuitem", "Photos"),
		n("i2", "m", "div", "menuitem", "Plus", "aria-haspopup", "menu"),
	})
	_, ok = FindMoreByText(structural, "m")
	assert.False(t, ok)
	got, ok := FindMore(structural, "m")
	require.True(t, ok)
	assert.Equal(t, dom.NodeRef("i2"), got.Ref)
}

func TestFindMoreClimbsToItem(t *testing.T) {
	snap := dom.NewSnapshot([]dom.Node{
		n("m", dom.Document, "div", "menu", "Photos More"),
		n("g", "m", "div", "group", "Photos More"),
		n("i1", "g", "div", "menuitem", "Photos"),
		n("wrap", "g", "div", "", "More"),
		n("label", "wrap", "span", "", "More"),
	})
	got, ok := FindMoreByText(snap, "m")
	require.True(t, ok)
	assert.Equal(t, dom.NodeRef("wrap"), got.Ref)
}

func TestFindVisibleMenuContainingSkipsZeroSize(t *testing.T) {
	hidden := n("h", dom.Document, "div", "", "Web search", "data-radix-popper-content-wrapper", "")
	hidden.Rect = dom.Rect{}
	visible := n("v", dom.Document, "div", "menu", "Canvas Web search")
	unrelated := n("u", dom.Document, "div", "menu", "Canvas")
	snap := dom.NewSnapshot([]dom.Node{hidden, visible, unrelated})

	got := FindVisibleMenuContaining(snap, "web search")
	require.Len(t, got, 1)
	assert.Equal(t, dom.NodeRef("v"), got[0].Ref)

	onlyHidden := dom.NewSnapshot([]dom.Node{hidden})
	assert.Empty(t, FindVisibleMenuContaining(onlyHidden, "web search"))
}

func TestInlineSubmenu(t *testing.T) {
	snap := dom.NewSnapshot([]dom.Node{
		n("m", dom.Document, "div", "menu", "Think longer More Web search", "data-state", "open"),
		n("i1", "m", "div", "menuitemradio", "Think longer"),
		n("more", "m", "div", "menuitem", "More Web search", "aria-haspopup", "menu"),
		n("sub", "more", "div", "menu", "Web search", "data-side", "right"),
		n("web", "sub", "div", "menuitemradio", "Web search", "aria-checked", "false"),
	})

	popups := FindVisibleMenuContaining(snap, "web search")
	require.Len(t, popups, 2)
	inner, ok := InnermostPopup(snap, popups)
	require.True(t, ok)
	assert.Equal(t, dom.NodeRef("sub"), inner.Ref)

	item, ok := FindItem(snap, MenuItems(snap, "m"), Contains("web search"))
	require.True(t, ok)
	assert.Equal(t, dom.NodeRef("web"), item.Ref)

	_, ok = InnermostPopup(snap, nil)
	assert.False(t, ok)
}

func TestIsChecked(t *testing.T) {
	for _, v := range []string{"true", "mixed", "1"} {
		assert.True(t, IsChecked(n("x", "", "div", "menuitemradio", "", "aria-checked", v)), v)
	}
	assert.False(t, IsChecked(n("x", "", "div", "menuitemradio", "", "aria-checked", "false")))
	assert.False(t, IsChecked(n("x", "", "div", "menuitemradio", "")))
}

func TestDialogAndCloseButton(t *testing.T) {
	snap := dom.NewSnapshot([]dom.Node{
		n("d0", dom.Document, "div", "dialog", "closed", "data-state", "closed"),
		n("d1", dom.Document, "div", "dialog", "Settings", "open", ""),
		n("x0", "d1", "span", "", "", "aria-label", "Close"),
		n("x1", "d1", "button", "", "", "aria-label", "Close"),
		n("x2", "d0", "button", "", "", "aria-label", "Close"),
	})
	dialog, ok := FindOpenDialog(snap)
	require.True(t, ok)
	assert.Equal(t, dom.NodeRef("d1"), dialog.Ref)

	closer, ok := FindCloseButton(snap, dialog.Ref)
	require.True(t, ok)
	assert.Equal(t, dom.NodeRef("x1"), closer.Ref)

	_, ok = FindOpenDialog(dom.NewSnapshot(nil))
	assert.False(t, ok)
}
