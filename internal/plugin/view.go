package plugin

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/runnit/runnit/internal/plugin/app"
	"github.com/runnit/runnit/internal/plugin/pluginerr"
	"github.com/runnit/runnit/internal/plugin/realm"
	"github.com/runnit/runnit/internal/plugin/registry"
	"github.com/runnit/runnit/internal/plugin/ui"
)

// RenderErrorTitle heads the inline error shown when header() or body()
// throws.
const RenderErrorTitle = "Error rendering window!"

// View is one rendered window.
type View struct {
	ID         registry.StableID
	Path       string
	Metadata   app.Metadata
	StandIn    bool
	Diagnostic string
	Generation int

	Header ui.Node
	Body   ui.Node

	// RenderError holds the translated stack when header() or body() threw.
	RenderError string
}

// View renders the window under id. A throw inside the plugin's header() or
// body() is contained: the failing part is replaced by an inline error node
// carrying the translated stack.
func (e *Engine) View(ctx context.Context, id registry.StableID) (View, error) {
	inst, ok := e.registry.Get(id)
	if !ok {
		return View{}, fmt.Errorf("view %d: %w", id, ErrNotFound)
	}

	_, span := e.tracer.Start(ctx, "plugin.render", trace.WithAttributes(
		attribute.String("plugin.path", inst.Path),
		attribute.Int("plugin.id", int(id)),
	))
	defer span.End()

	v := View{
		ID:         id,
		Path:       inst.Path,
		Metadata:   inst.App.Metadata(),
		StandIn:    inst.IsErrorStandIn,
		Diagnostic: inst.Diagnostic,
		Generation: inst.Generation,
	}

	v.Header, v.RenderError = e.renderPart(inst, inst.App.Header)
	body, bodyErr := e.renderPart(inst, inst.App.Body)
	v.Body = body
	if v.RenderError == "" {
		v.RenderError = bodyErr
	}
	if v.RenderError != "" {
		span.SetAttributes(attribute.Bool("plugin.render_error", true))
	}
	return v, nil
}

func (e *Engine) renderPart(inst *registry.Instance, render func() (ui.Node, error)) (node ui.Node, failure string) {
	defer func() {
		if r := recover(); r != nil {
			failure = recovered(r).Error()
			node = renderErrorNode(failure)
		}
	}()

	node, err := render()
	if err == nil {
		return node, ""
	}

	stack := realm.StackOf(err)
	if stack == "" {
		stack = pluginerr.Diagnostic(err)
	}
	failure = e.mapper.Translate(stack)
	e.logger.Warn("render failed", "id", int(inst.ID), "path", inst.Path, "error", failure)
	return renderErrorNode(failure), failure
}

func renderErrorNode(diagnostic string) ui.Node {
	return ui.Element("div", map[string]any{"className": "render-error"},
		ui.Element("h3", nil, ui.Text(RenderErrorTitle)),
		ui.Element("pre", nil, ui.Text(diagnostic)),
	)
}
