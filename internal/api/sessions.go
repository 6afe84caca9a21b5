package api

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"github.com/joeblew999/plat-regions/internal/drilldown"
	"github.com/joeblew999/plat-regions/internal/humastar"
	"github.com/joeblew999/plat-regions/internal/service"
	"github.com/joeblew999/plat-regions/internal/style"
)

var (
	actionClick = humastar.ActionDef{Rel: "click", Pattern: "/api/v1/sessions/%s/click", Method: "POST", Title: "Select the region under a point"}
	actionHover = humastar.ActionDef{Rel: "hover", Pattern: "/api/v1/sessions/%s/hover", Method: "POST", Title: "Highlight the region under a point"}
	actionBack  = humastar.ActionDef{Rel: "back", Pattern: "/api/v1/sessions/%s/back", Method: "POST", Title: "Return to the overview"}
	actionStyle = humastar.ActionDef{Rel: "edit", Pattern: "/api/v1/sessions/%s/style", Method: "PATCH", Title: "Edit style parameters"}
	actionClose = humastar.ActionDef{Rel: "delete", Pattern: "/api/v1/sessions/%s", Method: "DELETE", Title: "Close the session"}
)

// SessionIDInput addresses one session.
type SessionIDInput struct {
	ID string `path:"id" format:"uuid" doc:"Session ID"`
}

// SessionBody is a drill-down snapshot of one session.
type SessionBody struct {
	ID string `json:"id" format:"uuid" doc:"Session ID"`
	drilldown.Snapshot
}

// Actions exposes the transitions valid in the current state.
func (b SessionBody) Actions() []humastar.Action {
	defs := []humastar.ActionDef{actionClick, actionHover, actionStyle}
	if b.State != drilldown.StateOverview {
		defs = append(defs, actionBack)
	}
	defs = append(defs, actionClose)
	return humastar.ActionsFor(b.ID, defs...)
}

func sessionBody(s *service.Session) SessionBody {
	return SessionBody{ID: s.ID, Snapshot: s.Controller.Snapshot()}
}

// PointBody is a pointer position.
type PointBody struct {
	X          float64 `json:"x" doc:"Easting in EPSG:3857, or longitude with EPSG:4326" example:"4187526.0"`
	Y          float64 `json:"y" doc:"Northing in EPSG:3857, or latitude with EPSG:4326" example:"7509137.0"`
	Projection string  `json:"projection,omitempty" enum:"EPSG:3857,EPSG:4326" doc:"Projection of x and y (default EPSG:3857)"`
}

// Point returns the position in display projection.
func (p PointBody) Point() orb.Point {
	pt := orb.Point{p.X, p.Y}
	if p.Projection == drilldown.EPSG4326 {
		return project.Point(pt, project.WGS84.ToMercator)
	}
	return pt
}

// RegisterSessions registers the drill-down session routes.
func (h *APIHandler) RegisterSessions(api huma.API) {
	tags := huma.OperationTags("sessions")
	huma.Get(api, "/api/v1/hierarchy", h.GetHierarchy, tags)
	huma.Get(api, "/api/v1/sessions", h.ListSessions, tags)
	huma.Post(api, "/api/v1/sessions", h.CreateSession, tags)
	huma.Get(api, "/api/v1/sessions/{id}", h.GetSession, tags)
	huma.Delete(api, "/api/v1/sessions/{id}", h.DeleteSession, tags)
	huma.Post(api, "/api/v1/sessions/{id}/click", h.Click, tags)
	huma.Post(api, "/api/v1/sessions/{id}/hover", h.Hover, tags)
	huma.Post(api, "/api/v1/sessions/{id}/back", h.Back, tags)
	huma.Get(api, "/api/v1/sessions/{id}/layers", h.GetLayers, tags)
}

func (h *APIHandler) session(id string) (*service.Session, error) {
	s, err := h.svc.Sessions.Get(id)
	if err != nil {
		return nil, huma.Error404NotFound("session not found")
	}
	return s, nil
}

func (h *APIHandler) GetHierarchy(ctx context.Context, input *struct{}) (*struct{ Body drilldown.Hierarchy }, error) {
	return &struct{ Body drilldown.Hierarchy }{Body: h.svc.Sessions.Hierarchy()}, nil
}

func (h *APIHandler) ListSessions(ctx context.Context, input *struct{}) (*struct{ Body []service.SessionInfo }, error) {
	return &struct{ Body []service.SessionInfo }{Body: h.svc.Sessions.List()}, nil
}

// CreateSessionInput optionally seeds the session style.
type CreateSessionInput struct {
	Preset string `query:"preset" doc:"Start with the parameters of a saved preset"`
	Body   *style.Parameters
}

func (h *APIHandler) CreateSession(ctx context.Context, input *CreateSessionInput) (*struct{ Body SessionBody }, error) {
	params := input.Body
	if input.Preset != "" {
		p, ok := h.svc.Presets.Get(input.Preset)
		if !ok {
			return nil, huma.Error404NotFound("preset not found")
		}
		params = &p.Params
	}
	s, err := h.svc.Sessions.Create(ctx, params)
	switch {
	case errors.Is(err, service.ErrTooManySessions):
		return nil, huma.Error503ServiceUnavailable(err.Error())
	case errors.Is(err, style.ErrInvalidValue), errors.Is(err, style.ErrUnknownParam):
		return nil, styleError(err)
	case err != nil:
		return nil, fetchError(h.svc.Sessions.Hierarchy().Root.Source, err)
	}
	return &struct{ Body SessionBody }{Body: sessionBody(s)}, nil
}

func (h *APIHandler) GetSession(ctx context.Context, input *SessionIDInput) (*struct{ Body SessionBody }, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	return &struct{ Body SessionBody }{Body: sessionBody(s)}, nil
}

func (h *APIHandler) DeleteSession(ctx context.Context, input *SessionIDInput) (*struct{ Body MessageBody }, error) {
	if err := h.svc.Sessions.Delete(input.ID); err != nil {
		return nil, huma.Error404NotFound("session not found")
	}
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Session closed"}}, nil
}

// ClickInput is a click at a position.
type ClickInput struct {
	SessionIDInput
	Wait bool `query:"wait" doc:"Block until the sub-layer request settles"`
	Body PointBody
}

// ClickBody reports what the click did.
type ClickBody struct {
	Outcome drilldown.Outcome `json:"outcome" enum:"none,region,detail"`
	SessionBody
}

func (h *APIHandler) Click(ctx context.Context, input *ClickInput) (*struct{ Body ClickBody }, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	outcome := s.Controller.Click(ctx, input.Body.Point())
	if input.Wait && outcome == drilldown.OutcomeRegion {
		if err := s.Controller.Wait(ctx); err != nil {
			return nil, huma.Error504GatewayTimeout("sub-layer request still pending")
		}
	}
	return &struct{ Body ClickBody }{Body: ClickBody{Outcome: outcome, SessionBody: sessionBody(s)}}, nil
}

// HoverInput is a pointer move.
type HoverInput struct {
	SessionIDInput
	Body PointBody
}

// HoverBody reports whether the move was applied or coalesced.
type HoverBody struct {
	Applied bool   `json:"applied" doc:"False when the move was coalesced by the hover throttle"`
	Active  string `json:"active,omitempty" doc:"ID of the active feature after the move"`
}

func (h *APIHandler) Hover(ctx context.Context, input *HoverInput) (*struct{ Body HoverBody }, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	applied := s.Controller.Hover(input.Body.Point())
	return &struct{ Body HoverBody }{Body: HoverBody{Applied: applied, Active: s.Controller.Snapshot().Active}}, nil
}

func (h *APIHandler) Back(ctx context.Context, input *SessionIDInput) (*struct{ Body SessionBody }, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	s.Controller.Back()
	return &struct{ Body SessionBody }{Body: sessionBody(s)}, nil
}

func (h *APIHandler) GetLayers(ctx context.Context, input *SessionIDInput) (*struct{ Body drilldown.Layers }, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	return &struct{ Body drilldown.Layers }{Body: s.Controller.Layers()}, nil
}
