package synth

import (
	"context"
	"testing"

	"composerkeys-mcp-server/internal/dom"
	"composerkeys-mcp-server/internal/dom/domtest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastTiming() Timing {
	return Timing{PressHold: 0, HoverSettle: 0}
}

func types(ds []domtest.Dispatch) []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.Event.Type)
	}
	return out
}

func TestKindFor(t *testing.T) {
	cases := map[string]dom.EventKind{
		"pointerdown": dom.KindPointer,
		"pointerover": dom.KindPointer,
		"mousedown":   dom.KindMouse,
		"mouseover":   dom.KindMouse,
		"click":       dom.KindMouse,
		"keydown":     dom.KindKeyboard,
		"keyup":       dom.KindKeyboard,
		"focus":       dom.KindGeneric,
		"input":       dom.KindGeneric,
	}
	for in, want := range cases {
		assert.Equal(t, want, KindFor(in), in)
	}
}

func TestNewEventDefaults(t *testing.T) {
	ev := NewEvent("pointerdown", At(10, 20))
	assert.True(t, ev.Bubbles)
	assert.True(t, ev.Cancelable)
	assert.True(t, ev.HasPoint)
	assert.Equal(t, "mouse", ev.PointerType)
	assert.True(t, ev.IsPrimary)
	assert.Equal(t, 10.0, ev.ClientX)

	key := NewEvent("keydown", Opts{Key: "Enter"})
	assert.Equal(t, dom.KindKeyboard, key.Kind)
	assert.Equal(t, "Enter", key.Key)
	assert.Empty(t, key.PointerType)
}

func TestClickCenterTargetsTopmostNode(t *testing.T) {
	page := domtest.New()
	btn := page.Add(dom.Document, domtest.El{Tag: "button", Rect: dom.Rect{X: 0, Y: 0, Width: 40, Height: 20}})
	icon := page.Add(btn, domtest.El{Tag: "svg", Rect: dom.Rect{X: 10, Y: 0, Width: 20, Height: 20}})

	s := New(page, fastTiming(), nil)
	require.True(t, s.ClickCenter(context.Background(), btn))

	ds := page.Dispatched()
	assert.Equal(t, []string{
		"pointerover", "pointerenter", "mouseover", "mousemove",
		"pointerdown", "mousedown",
		"pointerup", "mouseup", "click",
		"click",
	}, types(ds))
	for _, d := range ds {
		assert.Equal(t, icon, d.Target)
	}
	assert.True(t, ds[len(ds)-1].Native)
	assert.Equal(t, 20.0, ds[0].Event.ClientX)
	assert.Equal(t, 10.0, ds[0].Event.ClientY)
}

func TestClickCenterDetachedIsNoop(t *testing.T) {
	page := domtest.New()
	btn := page.Add(dom.Document, domtest.El{Tag: "button", Rect: dom.Rect{Width: 10, Height: 10}})
	page.Remove(btn)

	s := New(page, fastTiming(), nil)
	assert.False(t, s.ClickCenter(context.Background(), btn))
	assert.Empty(t, page.Dispatched())
}

func TestClickRobustAlsoHitsNodeDirectly(t *testing.T) {
	page := domtest.New()
	item := page.Add(dom.Document, domtest.El{Role: "menuitemradio", Rect: dom.Rect{Width: 100, Height: 30}})
	label := page.Add(item, domtest.El{Tag: "span", Text: "Deep research", Rect: dom.Rect{Width: 100, Height: 30}})

	s := New(page, fastTiming(), nil)
	require.True(t, s.ClickRobust(context.Background(), item))

	onLabel, onItem := 0, 0
	for _, d := range page.Dispatched() {
		switch d.Target {
		case label:
			onLabel++
		case item:
			onItem++
		}
	}
	assert.Equal(t, 10, onLabel)
	assert.Equal(t, 6, onItem)
}

func TestClickToggleSkipsNativeClickAfterReaction(t *testing.T) {
	page := domtest.New()
	pill := page.Add(dom.Document, domtest.El{Tag: "button", Rect: dom.Rect{Width: 80, Height: 24}})
	page.On(pill, "click", func(p *domtest.Page) { p.SetAttr(pill, "aria-pressed", "false") })

	s := New(page, fastTiming(), nil)
	require.True(t, s.ClickToggle(context.Background(), pill))

	assert.Equal(t, 1, page.CountOn(pill, "click"))
	for _, d := range page.Dispatched() {
		assert.False(t, d.Native)
	}
	assert.Zero(t, page.Watchers())
}

func TestClickToggleFallsBackToNativeClick(t *testing.T) {
	page := domtest.New()
	pill := page.Add(dom.Document, domtest.El{Tag: "button", Rect: dom.Rect{Width: 80, Height: 24}})
	// Hover and press reactions do not count as the click taking effect.
	page.On(pill, "pointerdown", func(p *domtest.Page) { p.SetAttr(pill, "data-state", "pressed") })

	s := New(page, fastTiming(), nil)
	require.True(t, s.ClickToggle(context.Background(), pill))

	ds := page.Dispatched()
	require.NotEmpty(t, ds)
	assert.True(t, ds[len(ds)-1].Native)
	assert.Equal(t, 2, page.CountOn(pill, "click"))
}

func TestHoverCenterHitsBothTargets(t *testing.T) {
	page := domtest.New()
	more := page.Add(dom.Document, domtest.El{Role: "menuitem", Rect: dom.Rect{Width: 100, Height: 30}})
	page.Add(more, domtest.El{Tag: "span", Text: "More", Rect: dom.Rect{Width: 100, Height: 30}})

	s := New(page, fastTiming(), nil)
	require.True(t, s.HoverCenter(context.Background(), more))
	assert.Len(t, page.Dispatched(), 8)
	assert.Equal(t, 0, page.CountOn(more, "click"))
}

func TestPressEscapeTargetsDocument(t *testing.T) {
	page := domtest.New()
	s := New(page, fastTiming(), nil)
	s.PressEscape(context.Background(), 2)

	ds := page.Dispatched()
	require.Len(t, ds, 4)
	for _, d := range ds {
		assert.Equal(t, dom.Document, d.Target)
		assert.Equal(t, "Escape", d.Event.Key)
	}
	assert.Equal(t, []string{"keydown", "keyup", "keydown", "keyup"}, types(ds))
}
