// Package api defines the Huma API routes and handlers.
package api

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-regions/internal/fetch"
	"github.com/joeblew999/plat-regions/internal/humastar"
	"github.com/joeblew999/plat-regions/internal/scene"
	"github.com/joeblew999/plat-regions/internal/service"
	"github.com/joeblew999/plat-regions/internal/style"
)

// Version is reported by /health and /api/v1/info.
const Version = "0.3.0"

// Services holds the service dependencies for API handlers.
type Services struct {
	Sessions *service.SessionService
	Presets  *service.PresetService
	Datasets *service.DatasetService
	// Fetcher serves boundary datasets outside of a session (masks, fields).
	Fetcher fetch.Fetcher
	Scenes  scene.Sources
	DataDir string
	// Storage names the fetch backend for /api/v1/info.
	Storage string
}

// links are the static RFC 8288 Link headers. Collection and entry point
// links are added by [humastar.Links.Discover] once routes are registered.
var links = map[string][]string{
	"/health": {
		`</metrics>; rel="metrics"`,
	},
	"/api/v1/sessions": {
		`</api/v1/hierarchy>; rel="describedby"`,
		`</api/v1/presets>; rel="presets"`,
	},
	"/api/v1/sessions/{id}/style": {
		`</api/v1/presets>; rel="presets"`,
	},
	"/api/v1/scenes": {
		`</api/v1/datasets>; rel="datasets"`,
	},
	"/api/v1/tables": {
		`</api/v1/query>; rel="search"`,
	},
}

// NewLinks returns the link registry the server's transformer reads.
func NewLinks() *humastar.Links {
	return humastar.NewLinks(links)
}

// MessageBody is a plain acknowledgement.
type MessageBody struct {
	Message string `json:"message" doc:"Result message"`
}

// HealthBody is the liveness response.
type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"0.3.0"`
}

// APIHandler holds all REST API handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc *Services
}

func NewAPIHandler(svc *Services) *APIHandler {
	return &APIHandler{svc: svc}
}

// RegisterRoutes registers every REST route on api.
func RegisterRoutes(api huma.API, svc *Services) {
	huma.AutoRegister(api, NewAPIHandler(svc))
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: Version}}, nil
}

// InfoBody describes the running service.
type InfoBody struct {
	Name     string   `json:"name" doc:"Service name"`
	Version  string   `json:"version" doc:"Service version"`
	DataDir  string   `json:"data_dir" doc:"Data directory path"`
	Storage  string   `json:"storage" doc:"Boundary fetch backend" example:"file"`
	Sessions int      `json:"sessions" doc:"Open viewer sessions"`
	Features []string `json:"features" doc:"Available features"`
}

func (h *APIHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	return &struct{ Body InfoBody }{Body: InfoBody{
		Name:     "plat-regions",
		Version:  Version,
		DataDir:  h.svc.DataDir,
		Storage:  h.svc.Storage,
		Sessions: len(h.svc.Sessions.List()),
		Features: []string{"drilldown", "badges", "mask", "heatmap", "idw", "presets"},
	}}, nil
}

// styleError maps parameter validation failures to 422.
func styleError(err error) error {
	if errors.Is(err, style.ErrUnknownParam) || errors.Is(err, style.ErrInvalidValue) {
		return huma.Error422UnprocessableEntity(err.Error())
	}
	return huma.Error500InternalServerError("style update failed", err)
}

// fetchError maps fetcher failures to HTTP errors.
func fetchError(key string, err error) error {
	switch {
	case errors.Is(err, fetch.ErrNotFound):
		return huma.Error404NotFound("dataset not found: " + key)
	case errors.Is(err, fetch.ErrInvalidKey):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return huma.Error504GatewayTimeout("fetch interrupted: " + key)
	}
	return huma.Error502BadGateway("fetch failed: "+key, err)
}
