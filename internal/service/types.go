// Package service holds the viewer sessions and the file-backed resources
// the API exposes: datasets on disk and saved style presets.
package service

import (
	"time"

	"github.com/joeblew999/plat-regions/internal/style"
)

// Preset is a named, saved set of style parameters.
type Preset struct {
	ID     string           `json:"id,omitempty" doc:"Unique preset identifier" example:"night"`
	Name   string           `json:"name" required:"true" minLength:"1" maxLength:"100" doc:"Display name" example:"Night"`
	Params style.Parameters `json:"params" doc:"Style parameters applied when the preset is loaded"`
}

// Dataset is a boundary or point file under the sources directory.
type Dataset struct {
	Key      string `json:"key" doc:"Fetch key (path without extension)" example:"districts/77"`
	Name     string `json:"name" doc:"File name" example:"77.geojson"`
	Size     string `json:"size" doc:"Human-readable file size" example:"1.2 MB"`
	FileType string `json:"fileType" doc:"File type: GeoJSON or KML" example:"GeoJSON"`
}

// SessionInfo summarises an open viewer session.
type SessionInfo struct {
	ID       string    `json:"id" format:"uuid" doc:"Session identifier"`
	Created  time.Time `json:"created" doc:"Creation time"`
	State    string    `json:"state" doc:"Drill-down state"`
	Revision uint64    `json:"revision" doc:"Controller revision"`
}
