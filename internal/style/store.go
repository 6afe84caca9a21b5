// Package style keeps the live style parameters the parameter panel edits
// and resolves per-feature visual styles from them.
package style

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

var (
	// ErrUnknownParam is returned for parameter names the store does not hold.
	ErrUnknownParam = errors.New("unknown style parameter")
	// ErrInvalidValue is returned when a value has the wrong type or range.
	ErrInvalidValue = errors.New("invalid style parameter value")
)

// Parameters is the mutable style record. Field tags double as the Huma
// schema for the style endpoints.
type Parameters struct {
	FillColor         string  `json:"fillColor" doc:"Region fill color (CSS hex)" example:"#ffffff"`
	FillOpacity       float64 `json:"fillOpacity" minimum:"0" maximum:"1" doc:"Region fill opacity (0-1)" example:"0.2"`
	StrokeColor       string  `json:"strokeColor" doc:"Region stroke color (CSS hex)" example:"#ffffff"`
	StrokeOpacity     float64 `json:"strokeOpacity" minimum:"0" maximum:"1" doc:"Region stroke opacity (0-1)" example:"0.5"`
	StrokeWidth       float64 `json:"strokeWidth" minimum:"0" doc:"Stroke width of an inactive region" example:"1"`
	StrokeWidthActive float64 `json:"strokeWidthActive" minimum:"0" doc:"Stroke width of the active region" example:"4"`
	PointColor        string  `json:"pointColor" doc:"Detail point stroke color" example:"purple"`
	PointRadius       float64 `json:"pointRadius" minimum:"0" doc:"Detail point radius" example:"5"`
	PointStrokeWidth  float64 `json:"pointStrokeWidth" minimum:"0" doc:"Detail point stroke width" example:"10"`
}

// Defaults mirrors the translucent white look of the demo map.
func Defaults() Parameters {
	return Parameters{
		FillColor:         "#ffffff",
		FillOpacity:       0.2,
		StrokeColor:       "#ffffff",
		StrokeOpacity:     0.5,
		StrokeWidth:       1,
		StrokeWidthActive: 4,
		PointColor:        "purple",
		PointRadius:       5,
		PointStrokeWidth:  10,
	}
}

// Invalidator is notified whenever a parameter changes. Data sources
// implement it by marking their visuals stale.
type Invalidator interface {
	Changed()
}

// Store is the live parameter store. It never touches rendering; it only
// tells registered data sources that they changed.
type Store struct {
	mu       sync.RWMutex
	params   Parameters
	revision uint64
	subs     map[int]Invalidator
	nextID   int
}

// NewStore creates a store seeded with p.
func NewStore(p Parameters) *Store {
	return &Store{params: p, subs: make(map[int]Invalidator)}
}

// Get returns a copy of the current parameters.
func (s *Store) Get() Parameters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

// Revision increases with every accepted update.
func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

// Register subscribes inv to change notifications and returns a function
// that removes it again.
func (s *Store) Register(inv Invalidator) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = inv
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Set updates a single named parameter.
func (s *Store) Set(name string, value any) error {
	return s.Apply(map[string]any{name: value})
}

// Apply updates several parameters at once. Either every update is valid
// and applied, or none is. Subscribers are notified once per call.
func (s *Store) Apply(updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	s.mu.Lock()
	next := s.params
	for name, v := range updates {
		if err := assign(&next, name, v); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	s.params = next
	s.revision++
	subs := make([]Invalidator, 0, len(s.subs))
	for _, inv := range s.subs {
		subs = append(subs, inv)
	}
	s.mu.Unlock()

	for _, inv := range subs {
		inv.Changed()
	}
	return nil
}

// Replace swaps the whole record, e.g. when a preset is loaded.
func (s *Store) Replace(p Parameters) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return s.Apply(p.Map())
}

// Names lists the parameter names the store accepts.
func Names() []string {
	return []string{
		"fillColor", "fillOpacity", "strokeColor", "strokeOpacity",
		"strokeWidth", "strokeWidthActive", "pointColor", "pointRadius",
		"pointStrokeWidth",
	}
}

// Map returns the parameters keyed by name.
func (p Parameters) Map() map[string]any {
	return map[string]any{
		"fillColor":         p.FillColor,
		"fillOpacity":       p.FillOpacity,
		"strokeColor":       p.StrokeColor,
		"strokeOpacity":     p.StrokeOpacity,
		"strokeWidth":       p.StrokeWidth,
		"strokeWidthActive": p.StrokeWidthActive,
		"pointColor":        p.PointColor,
		"pointRadius":       p.PointRadius,
		"pointStrokeWidth":  p.PointStrokeWidth,
	}
}

// Validate checks every field of p.
func (p Parameters) Validate() error {
	var scratch Parameters
	for name, v := range p.Map() {
		if err := assign(&scratch, name, v); err != nil {
			return err
		}
	}
	return nil
}

func assign(p *Parameters, name string, v any) error {
	switch name {
	case "fillColor":
		return setColor(&p.FillColor, name, v)
	case "strokeColor":
		return setColor(&p.StrokeColor, name, v)
	case "pointColor":
		return setColor(&p.PointColor, name, v)
	case "fillOpacity":
		return setNumber(&p.FillOpacity, name, v, 0, 1)
	case "strokeOpacity":
		return setNumber(&p.StrokeOpacity, name, v, 0, 1)
	case "strokeWidth":
		return setNumber(&p.StrokeWidth, name, v, 0, 100)
	case "strokeWidthActive":
		return setNumber(&p.StrokeWidthActive, name, v, 0, 100)
	case "pointRadius":
		return setNumber(&p.PointRadius, name, v, 0, 100)
	case "pointStrokeWidth":
		return setNumber(&p.PointStrokeWidth, name, v, 0, 100)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownParam, name)
	}
}

func setColor(dst *string, name string, v any) error {
	s, ok := v.(string)
	s = strings.TrimSpace(s)
	if !ok || s == "" {
		return fmt.Errorf("%w: %s wants a color string, got %v", ErrInvalidValue, name, v)
	}
	*dst = s
	return nil
}

func setNumber(dst *float64, name string, v any, lo, hi float64) error {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidValue, name, err)
		}
		f = parsed
	default:
		return fmt.Errorf("%w: %s wants a number, got %T", ErrInvalidValue, name, v)
	}
	if f < lo || f > hi {
		return fmt.Errorf("%w: %s=%g outside [%g, %g]", ErrInvalidValue, name, f, lo, hi)
	}
	*dst = f
	return nil
}
