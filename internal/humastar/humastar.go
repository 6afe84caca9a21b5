// Package humastar bridges Huma (REST/OpenAPI) with Datastar (SSE/hypermedia).
//
// Handlers that drive the browser viewer embed [Handler] and return
// [Handler.Stream]; every other endpoint stays plain Huma JSON and picks up
// hypermedia Link headers from [LinkTransformer].
//
//	func (h *ViewerHandler) Back(ctx context.Context, in *SessionInput) (*huma.StreamResponse, error) {
//	    return h.Stream(func(sse humastar.SSE) {
//	        sse.Replace(h.Render("drill-status", status), "#drill-status")
//	    }), nil
//	}
package humastar

import (
	"bytes"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/starfederation/datastar-go/datastar"

	"github.com/joeblew999/plat-regions/internal/templates"
)

// Handler is an embeddable base for Huma handlers that produce Datastar SSE
// responses.
type Handler struct {
	Renderer *templates.Renderer
}

// Stream returns a Huma StreamResponse that calls fn with a ready SSE helper.
func (h *Handler) Stream(fn func(sse SSE)) *huma.StreamResponse {
	return &huma.StreamResponse{
		Body: func(humaCtx huma.Context) {
			fn(NewSSE(humaCtx))
		},
	}
}

// Render renders one fragment. Template errors come back as an inline
// error element so the stream keeps going.
func (h *Handler) Render(name string, data any) string {
	out, err := h.Renderer.Render(name, data)
	if err != nil {
		return `<div class="render-error">` + name + `: ` + err.Error() + `</div>`
	}
	return out
}

// RenderList renders items with a named template, or an empty state if none.
func (h *Handler) RenderList(tmpl string, items []any, emptyTitle, emptyMsg string) string {
	var buf bytes.Buffer
	if len(items) == 0 {
		h.Renderer.RenderToBuffer(&buf, "empty-state", map[string]string{
			"Title": emptyTitle, "Message": emptyMsg,
		})
		return buf.String()
	}
	for _, item := range items {
		h.Renderer.RenderToBuffer(&buf, tmpl, item)
	}
	return buf.String()
}

// SelectOption is one <option> of a rendered select.
type SelectOption struct {
	Value string
	Label string
}

// RenderSelect renders <option> elements from a placeholder and option list.
func (h *Handler) RenderSelect(placeholder string, options []SelectOption) string {
	var buf bytes.Buffer
	h.Renderer.RenderToBuffer(&buf, "select-option", SelectOption{Label: placeholder})
	for _, opt := range options {
		h.Renderer.RenderToBuffer(&buf, "select-option", opt)
	}
	return buf.String()
}

// SSE wraps a Datastar SSE generator with the patch modes the viewer uses.
type SSE struct {
	*datastar.ServerSentEventGenerator
}

// NewSSE creates a Datastar SSE helper from a Huma streaming context.
func NewSSE(ctx huma.Context) SSE {
	r, w := humago.Unwrap(ctx)
	return SSE{datastar.NewSSE(w, r)}
}

// Patch sends HTML to replace inner content at a CSS selector.
func (s SSE) Patch(html, selector string) {
	s.PatchElements(html,
		datastar.WithSelector(selector),
		datastar.WithModeInner(),
	)
}

// Replace replaces outer HTML at a CSS selector.
func (s SSE) Replace(html, selector string) {
	s.PatchElements(html,
		datastar.WithSelector(selector),
		datastar.WithModeOuter(),
		datastar.WithViewTransitions(),
	)
}

// Error sends an error signal to the UI.
func (s SSE) Error(msg string) {
	s.MarshalAndPatchSignals(map[string]any{"error": msg})
}

// Signals sends arbitrary signals to the UI.
func (s SSE) Signals(signals map[string]any) {
	s.MarshalAndPatchSignals(signals)
}

// Event dispatches a browser CustomEvent carrying detail, for map code
// that listens outside of Datastar's signal graph.
func (s SSE) Event(name string, detail any) {
	s.DispatchCustomEvent(name, detail)
}
