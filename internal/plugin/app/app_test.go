package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnit/runnit/internal/plugin/ui"
)

func TestBaseDefaults(t *testing.T) {
	b := NewBase("Notes", Metadata{Name: "Notes", Icon: "/icons/notes.png"})

	body, err := b.Body()
	require.NoError(t, err)
	assert.Equal(t, "Override Notes.body() to update the app.", ui.PlainText(body))

	header, err := b.Header()
	require.NoError(t, err)
	assert.Contains(t, ui.PlainText(header), "Notes")

	img, ok := ui.Find(header, ui.ByType("img"))
	require.True(t, ok)
	assert.Equal(t, "/icons/notes.png", img.StringProp("src"))

	assert.Equal(t, DefaultSize, b.DefaultSize())
	assert.Equal(t, MinimumSize, b.MinimumSize())
}

func TestBaseZeroValue(t *testing.T) {
	var b Base
	body, err := b.Body()
	require.NoError(t, err)
	assert.Equal(t, "Override App.body() to update the app.", ui.PlainText(body))
}

func TestSetMetadataKeepsEmptyFields(t *testing.T) {
	b := NewBase("", Metadata{Name: "A", Icon: "/a.png"})
	b.SetMetadata(Metadata{Name: "B"})
	assert.Equal(t, Metadata{Name: "B", Icon: "/a.png"}, b.Metadata())
}

func TestHeaderButtonsFireLifecycle(t *testing.T) {
	b := NewBase("", Metadata{Name: "A"})

	var maximized, minimized, closed int
	b.SetOnMaximize(func() { maximized++ })
	b.SetOnMinimize(func() { minimized++ })
	b.SetOnClose(func() { closed++ })

	header, err := b.Header()
	require.NoError(t, err)

	click := func(id string) {
		t.Helper()
		btn, ok := ui.Find(header, ui.ByProp("id", id))
		require.True(t, ok, "button %s", id)
		h, ok := btn.Handler("onClick")
		require.True(t, ok)
		require.NoError(t, h())
	}

	click("maximize")
	assert.True(t, b.IsMaximized())
	click("maximize")
	assert.False(t, b.IsMaximized())
	assert.Equal(t, 2, maximized)

	click("minimize")
	assert.True(t, b.IsMinimized())
	assert.Equal(t, 1, minimized)

	click("close")
	assert.Equal(t, 1, closed)
}

func TestMinimizeWithoutCallbackIsIgnored(t *testing.T) {
	b := NewBase("", Metadata{})
	b.SetMinimized(true)
	assert.False(t, b.IsMinimized())
}

func TestResizeCallbacksReceiveSides(t *testing.T) {
	b := NewBase("", Metadata{})

	var got []Side
	b.SetOnResizing(func(sides []Side) { got = sides })
	b.Resizing(North, East)
	assert.Equal(t, []Side{North, East}, got)

	b.ResizeStart(South)
	b.ResizeEnd(West)
}

func TestTrailingItemsRenderBeforeButtons(t *testing.T) {
	b := NewBase("", Metadata{Name: "A"})
	b.SetTrailingItems(ui.Element("span", map[string]any{"id": "extra"}, ui.Text("*")))
	b.AddTrailingItem(ui.Element("span", map[string]any{"id": "more"}))

	header, err := b.Header()
	require.NoError(t, err)

	_, ok := ui.Find(header, ui.ByProp("id", "extra"))
	assert.True(t, ok)
	_, ok = ui.Find(header, ui.ByProp("id", "more"))
	assert.True(t, ok)
	assert.Len(t, b.TrailingItems(), 2)
}

func TestErrorApp(t *testing.T) {
	e := NewErrorApp("ReferenceError: x is not defined\n\tat body (/apps/a.tsx:3:5)")

	assert.Equal(t, ErrorAppName, e.Metadata().Name)
	assert.Equal(t, ErrorAppIcon, e.Metadata().Icon)

	body, err := e.Body()
	require.NoError(t, err)
	pre, ok := ui.Find(body, ui.ByType("pre"))
	require.True(t, ok)
	assert.Equal(t, e.Diagnostic(), ui.PlainText(pre))

	diag, ok := DiagnosticOf(e)
	require.True(t, ok)
	assert.Contains(t, diag, "/apps/a.tsx:3:5")

	_, ok = DiagnosticOf(NewBase("", Metadata{}))
	assert.False(t, ok)
}
