// Package viewer contains the Datastar SSE and WebSocket handlers that drive
// the browser map.
package viewer

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-regions/internal/api"
	"github.com/joeblew999/plat-regions/internal/badge"
	"github.com/joeblew999/plat-regions/internal/drilldown"
	"github.com/joeblew999/plat-regions/internal/humastar"
	"github.com/joeblew999/plat-regions/internal/service"
	"github.com/joeblew999/plat-regions/internal/style"
	"github.com/joeblew999/plat-regions/internal/templates"
)

// Handler serves one viewer page per session.
type Handler struct {
	humastar.Handler
	sessions *service.SessionService
	presets  *service.PresetService
}

// New creates a viewer handler.
func New(sessions *service.SessionService, presets *service.PresetService, renderer *templates.Renderer) *Handler {
	return &Handler{
		Handler:  humastar.Handler{Renderer: renderer},
		sessions: sessions,
		presets:  presets,
	}
}

func (h *Handler) RegisterRoutes(a huma.API) {
	tags := huma.OperationTags("viewer")
	huma.Get(a, "/api/v1/viewer/{id}/events", h.Events, tags)
	huma.Post(a, "/api/v1/viewer/{id}/click", h.Click, tags)
	huma.Post(a, "/api/v1/viewer/{id}/back", h.Back, tags)
	huma.Post(a, "/api/v1/viewer/{id}/style", h.Style, tags)
	huma.Get(a, "/api/v1/viewer/{id}/presets", h.Presets, tags)
	huma.Post(a, "/api/v1/viewer/{id}/preset", h.LoadPreset, tags)
}

// SessionInput addresses the session a viewer is bound to.
type SessionInput struct {
	ID string `path:"id" format:"uuid" doc:"Session ID"`
}

// SignalsInput carries the Datastar signals of a viewer request.
type SignalsInput struct {
	SessionInput
	RawBody []byte
}

// MustParse parses the signals or returns a Huma 400 error.
func (i *SignalsInput) MustParse() (humastar.Signals, error) {
	in := humastar.SignalsInput{RawBody: i.RawBody}
	return in.MustParse()
}

type panelData struct {
	Params  style.Parameters
	Session string
}

type statusData struct {
	drilldown.Snapshot
	Session string
}

func (h *Handler) session(id string) (*service.Session, error) {
	s, err := h.sessions.Get(id)
	if err != nil {
		return nil, huma.Error404NotFound("session not found")
	}
	return s, nil
}

// push sends the full drill-down state: status bar, marker list, signals
// and a custom event the map script renders from.
func (h *Handler) push(sse humastar.SSE, sess *service.Session) {
	snap := sess.Controller.Snapshot()
	sse.Replace(h.Render("drill-status", statusData{Snapshot: snap, Session: sess.ID}), "#drill-status")

	items := make([]any, len(snap.Markers))
	for i, m := range snap.Markers {
		items[i] = m
	}
	sse.Patch(h.RenderList("marker-list", items, "No markers", "This level has no badges"), "#markers")

	sse.Signals(map[string]any{
		"state":       string(snap.State),
		"selected":    snap.Selected,
		"detail":      snap.Detail,
		"active":      snap.Active,
		"fetchStatus": string(snap.Fetch.Status),
		"revision":    snap.Revision,
		"error":       snap.Error,
	})
	sse.Event("drilldown-changed", snap)
}

func (h *Handler) pushStyle(sse humastar.SSE, sess *service.Session) {
	p := sess.Style().Get()
	sse.Signals(p.Map())
	sse.Event("style-changed", map[string]any{"revision": sess.Style().Revision(), "params": p})
}

// Events streams the session state on every change until the client
// disconnects or the session closes.
func (h *Handler) Events(ctx context.Context, input *SessionInput) (*huma.StreamResponse, error) {
	sess, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	bus := h.sessions.Bus()
	return h.Stream(func(sse humastar.SSE) {
		defer sess.Attach()()
		ch := bus.Subscribe(service.SessionEvents(sess.ID))
		defer bus.Unsubscribe(ch)

		h.push(sse, sess)
		sse.Replace(h.Render("style-panel", panelData{Params: sess.Style().Get(), Session: sess.ID}), "#style-panel")
		h.pushStyle(sse, sess)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				switch {
				case ev.Resource == "style":
					h.pushStyle(sse, sess)
				case ev.Action == "deleted":
					sse.Error("session closed")
					return
				default:
					h.push(sse, sess)
				}
			}
		}
	}), nil
}

// pointFromSignals reads the pointer position the map script posts.
func pointFromSignals(s humastar.Signals) (orb.Point, bool) {
	x, okX := s.Float("x")
	y, okY := s.Float("y")
	if !okX || !okY {
		return orb.Point{}, false
	}
	return api.PointBody{X: x, Y: y, Projection: s.String("projection")}.Point(), true
}

func (h *Handler) Click(ctx context.Context, input *SignalsInput) (*huma.StreamResponse, error) {
	sess, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	p, ok := pointFromSignals(signals)
	if !ok {
		return nil, huma.Error400BadRequest("x and y signals are required")
	}
	outcome := sess.Controller.Click(ctx, p)
	return h.Stream(func(sse humastar.SSE) {
		h.push(sse, sess)
		sse.Signals(map[string]any{"outcome": string(outcome)})
	}), nil
}

func (h *Handler) Back(ctx context.Context, input *SessionInput) (*huma.StreamResponse, error) {
	sess, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	sess.Controller.Back()
	return h.Stream(func(sse humastar.SSE) {
		h.push(sse, sess)
	}), nil
}

// Style applies the parameter panel signals. Unrelated signals are ignored.
func (h *Handler) Style(ctx context.Context, input *SignalsInput) (*huma.StreamResponse, error) {
	sess, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	applyErr := sess.Style().Apply(signals.Pick(style.Names()...))
	return h.Stream(func(sse humastar.SSE) {
		if applyErr != nil {
			sse.Error(applyErr.Error())
			h.pushStyle(sse, sess)
			return
		}
		sse.Signals(map[string]any{"styleRevision": sess.Style().Revision()})
	}), nil
}

func (h *Handler) Presets(ctx context.Context, input *SessionInput) (*huma.StreamResponse, error) {
	if _, err := h.session(input.ID); err != nil {
		return nil, err
	}
	presets := h.presets.List()
	opts := make([]humastar.SelectOption, len(presets))
	for i, p := range presets {
		opts[i] = humastar.SelectOption{Value: p.ID, Label: p.Name}
	}
	return h.Stream(func(sse humastar.SSE) {
		sse.Patch(h.RenderSelect("Load preset...", opts), "#preset-select")
	}), nil
}

func (h *Handler) LoadPreset(ctx context.Context, input *SignalsInput) (*huma.StreamResponse, error) {
	sess, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	p, ok := h.presets.Get(signals.String("preset"))
	if !ok {
		return nil, huma.Error404NotFound("preset not found")
	}
	if err := sess.Style().Replace(p.Params); err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}
	return h.Stream(func(sse humastar.SSE) {
		h.pushStyle(sse, sess)
		sse.Signals(map[string]any{"success": "Loaded " + p.Name})
	}), nil
}

// markerIDs is used by the WebSocket channel to report which badges changed.
func markerIDs(ms []badge.Marker) []string {
	ids := make([]string, len(ms))
	for i, m := range ms {
		ids[i] = m.ID
	}
	return ids
}
