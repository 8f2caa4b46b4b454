package app

import "github.com/runnit/runnit/internal/plugin/ui"

// Stand-in identity.
const (
	ErrorAppName = "App Error!"
	ErrorAppIcon = "/icons/file.png"
)

// ErrorApp stands in for a plugin whose load failed. It renders the
// diagnostic in place of the plugin body and otherwise behaves like Base.
type ErrorApp struct {
	*Base
	diagnostic string
}

// NewErrorApp returns a stand-in showing diagnostic.
func NewErrorApp(diagnostic string) *ErrorApp {
	return &ErrorApp{
		Base:       NewBase("ErrorApp", Metadata{Name: ErrorAppName, Icon: ErrorAppIcon}),
		diagnostic: diagnostic,
	}
}

// Diagnostic returns the text shown in the body.
func (e *ErrorApp) Diagnostic() string {
	return e.diagnostic
}

// Body renders the diagnostic preformatted.
func (e *ErrorApp) Body() (ui.Node, error) {
	return ui.Element("div", map[string]any{"className": "w-full h-full overflow-auto p-2"},
		ui.Element("pre", map[string]any{"className": "text-red-700 whitespace-pre-wrap"},
			ui.Text(e.diagnostic),
		),
	), nil
}

var (
	_ Application = (*ErrorApp)(nil)
	_ StandIn     = (*ErrorApp)(nil)
	_ Application = (*Base)(nil)
)
