package drilldown

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-regions/internal/badge"
	"github.com/joeblew999/plat-regions/internal/region"
)

// FetchState is the sub-layer request as seen from outside.
type FetchState struct {
	Key    string      `json:"key,omitempty" doc:"Fetch key of the sub-layer"`
	Status FetchStatus `json:"status" enum:"idle,loading,loaded,failed"`
}

// DetailPoint is one synthetic point inside the selected sub-feature.
type DetailPoint struct {
	ID    string    `json:"id"`
	Point orb.Point `json:"point"`
}

// Snapshot is a consistent copy of the controller state.
type Snapshot struct {
	State    State          `json:"state" enum:"overview,region_selected,detail_selected"`
	Level    string         `json:"level" doc:"Name of the level currently shown"`
	Selected string         `json:"selected,omitempty" doc:"Code of the selected top-level region"`
	Detail   string         `json:"detail,omitempty" doc:"Code of the selected sub-feature"`
	Active   string         `json:"active,omitempty" doc:"ID of the single active feature"`
	Fetch    FetchState     `json:"fetch"`
	Markers  []badge.Marker `json:"markers"`
	Details  []DetailPoint  `json:"details"`
	View     *ViewCommand   `json:"view,omitempty" doc:"Last viewport command"`
	Error    string         `json:"error,omitempty" doc:"Last recovered failure"`
	Revision uint64         `json:"revision"`
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{
		State:    c.state,
		Level:    c.h.Root.Name,
		Fetch:    FetchState{Key: c.fetchKey, Status: c.status},
		Markers:  append([]badge.Marker(nil), c.markers...),
		Details:  []DetailPoint{},
		Revision: c.revision,
	}
	if s.Markers == nil {
		s.Markers = []badge.Marker{}
	}
	if c.state != StateOverview {
		s.Level = c.h.Sub.Name
	}
	if c.selected != nil {
		s.Selected = c.selected.Code
	}
	if c.detail != nil {
		s.Detail = c.detail.Code
	}
	if c.active != nil {
		s.Active = c.active.ID
	}
	for _, r := range c.details.Regions() {
		if p, ok := r.Geometry.(orb.Point); ok {
			s.Details = append(s.Details, DetailPoint{ID: r.ID, Point: p})
		}
	}
	if c.view != nil {
		v := *c.view
		s.View = &v
	}
	if c.lastErr != nil {
		s.Error = c.lastErr.Error()
	}
	return s
}

// Layers holds the styled GeoJSON of every loaded level.
type Layers struct {
	Root    *geojson.FeatureCollection `json:"root"`
	Sub     *geojson.FeatureCollection `json:"sub"`
	Details *geojson.FeatureCollection `json:"details"`
}

// Layers renders the loaded collections with their resolved styles in the
// "style" property of each feature.
func (c *Controller) Layers() Layers {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Layers{
		Root:    c.styled(c.root),
		Sub:     c.styled(c.sub),
		Details: c.styled(c.details),
	}
}

func (c *Controller) styled(coll *region.Collection) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, r := range coll.Regions() {
		f := r.Feature()
		if v, ok := c.resolver.Resolve(r); ok {
			f.Properties["style"] = v
		}
		fc.Append(f)
	}
	return fc
}
