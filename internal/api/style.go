package api

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-regions/internal/service"
	"github.com/joeblew999/plat-regions/internal/style"
)

// StyleBody is the live parameter record of a session.
type StyleBody struct {
	Revision uint64           `json:"revision" doc:"Increases with every accepted update"`
	Params   style.Parameters `json:"params"`
}

// RegisterStyle registers the live style parameter routes.
func (h *APIHandler) RegisterStyle(api huma.API) {
	tags := huma.OperationTags("style")
	huma.Get(api, "/api/v1/sessions/{id}/style", h.GetStyle, tags)
	huma.Patch(api, "/api/v1/sessions/{id}/style", h.PatchStyle, tags)
	huma.Put(api, "/api/v1/sessions/{id}/style", h.PutStyle, tags)
	huma.Put(api, "/api/v1/sessions/{id}/style/preset/{preset}", h.ApplyPreset, tags)
}

func styleBody(s *style.Store) *struct{ Body StyleBody } {
	return &struct{ Body StyleBody }{Body: StyleBody{Revision: s.Revision(), Params: s.Get()}}
}

func (h *APIHandler) GetStyle(ctx context.Context, input *SessionIDInput) (*struct{ Body StyleBody }, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	return styleBody(s.Style()), nil
}

// PatchStyleInput updates some parameters by name.
type PatchStyleInput struct {
	SessionIDInput
	Body map[string]any `doc:"Parameter names mapped to their new values"`
}

func (h *APIHandler) PatchStyle(ctx context.Context, input *PatchStyleInput) (*struct{ Body StyleBody }, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	if err := s.Style().Apply(input.Body); err != nil {
		return nil, styleError(err)
	}
	return styleBody(s.Style()), nil
}

// PutStyleInput replaces the whole record.
type PutStyleInput struct {
	SessionIDInput
	Body style.Parameters
}

func (h *APIHandler) PutStyle(ctx context.Context, input *PutStyleInput) (*struct{ Body StyleBody }, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	if err := s.Style().Replace(input.Body); err != nil {
		return nil, styleError(err)
	}
	return styleBody(s.Style()), nil
}

// ApplyPresetInput loads a saved preset into a session.
type ApplyPresetInput struct {
	SessionIDInput
	Preset string `path:"preset" doc:"Preset ID" example:"night"`
}

func (h *APIHandler) ApplyPreset(ctx context.Context, input *ApplyPresetInput) (*struct{ Body StyleBody }, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	p, ok := h.svc.Presets.Get(input.Preset)
	if !ok {
		return nil, huma.Error404NotFound("preset not found")
	}
	if err := s.Style().Replace(p.Params); err != nil {
		return nil, styleError(err)
	}
	return styleBody(s.Style()), nil
}

// PresetIDInput addresses one preset.
type PresetIDInput struct {
	ID string `path:"id" doc:"Preset ID" example:"night"`
}

// RegisterPresets registers preset CRUD routes.
func (h *APIHandler) RegisterPresets(api huma.API) {
	tags := huma.OperationTags("presets")
	huma.Get(api, "/api/v1/presets", h.ListPresets, tags)
	huma.Post(api, "/api/v1/presets", h.CreatePreset, tags)
	huma.Get(api, "/api/v1/presets/{id}", h.GetPreset, tags)
	huma.Put(api, "/api/v1/presets/{id}", h.PutPreset, tags)
	huma.Delete(api, "/api/v1/presets/{id}", h.DeletePreset, tags)
}

func (h *APIHandler) ListPresets(ctx context.Context, input *struct{}) (*struct{ Body []service.Preset }, error) {
	return &struct{ Body []service.Preset }{Body: h.svc.Presets.List()}, nil
}

func (h *APIHandler) CreatePreset(ctx context.Context, input *struct{ Body service.Preset }) (*struct{ Body service.Preset }, error) {
	p, err := h.svc.Presets.Create(input.Body)
	if err != nil {
		return nil, presetError(err)
	}
	return &struct{ Body service.Preset }{Body: p}, nil
}

func (h *APIHandler) GetPreset(ctx context.Context, input *PresetIDInput) (*struct{ Body service.Preset }, error) {
	p, ok := h.svc.Presets.Get(input.ID)
	if !ok {
		return nil, huma.Error404NotFound("preset not found")
	}
	return &struct{ Body service.Preset }{Body: p}, nil
}

func (h *APIHandler) PutPreset(ctx context.Context, input *struct {
	PresetIDInput
	Body service.Preset
}) (*struct{ Body service.Preset }, error) {
	p, err := h.svc.Presets.Update(input.ID, input.Body)
	if err != nil {
		return nil, presetError(err)
	}
	return &struct{ Body service.Preset }{Body: p}, nil
}

func (h *APIHandler) DeletePreset(ctx context.Context, input *PresetIDInput) (*struct{ Body MessageBody }, error) {
	if err := h.svc.Presets.Delete(input.ID); err != nil {
		return nil, presetError(err)
	}
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Preset deleted"}}, nil
}

func presetError(err error) error {
	switch {
	case errors.Is(err, service.ErrPresetNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, service.ErrPresetExists):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, style.ErrInvalidValue), errors.Is(err, style.ErrUnknownParam):
		return huma.Error422UnprocessableEntity(err.Error())
	}
	return huma.Error400BadRequest(err.Error())
}
