package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrPresetNotFound is returned for unknown preset IDs.
	ErrPresetNotFound = errors.New("preset not found")
	// ErrPresetExists is returned when creating a preset with a taken ID.
	ErrPresetExists = errors.New("preset already exists")
)

// PresetService manages saved style presets, persisted as presets.json.
type PresetService struct {
	dataDir string
	bus     *EventBus
	presets map[string]Preset
	mu      sync.RWMutex
}

// NewPresetService loads presets from dataDir.
func NewPresetService(dataDir string, bus *EventBus) *PresetService {
	s := &PresetService{
		dataDir: dataDir,
		bus:     bus,
		presets: make(map[string]Preset),
	}
	s.loadFromDisk()
	return s
}

// List returns all presets sorted by ID.
func (s *PresetService) List() []Preset {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Preset, 0, len(s.presets))
	for _, p := range s.presets {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Get returns a preset by ID.
func (s *PresetService) Get(id string) (Preset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.presets[id]
	return p, ok
}

// Create adds a preset. The ID is derived from the name when empty.
func (s *PresetService) Create(p Preset) (Preset, error) {
	if err := p.Params.Validate(); err != nil {
		return Preset{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = generateID(p.Name)
	}
	if p.ID == "" {
		return Preset{}, fmt.Errorf("preset name %q yields an empty ID", p.Name)
	}
	if _, exists := s.presets[p.ID]; exists {
		return Preset{}, fmt.Errorf("%w: %q", ErrPresetExists, p.ID)
	}

	s.presets[p.ID] = p
	if err := s.saveToDisk(); err != nil {
		delete(s.presets, p.ID)
		return Preset{}, err
	}
	s.publish("created", p.ID)
	return p, nil
}

// Update replaces a preset by ID.
func (s *PresetService) Update(id string, p Preset) (Preset, error) {
	if err := p.Params.Validate(); err != nil {
		return Preset{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, exists := s.presets[id]
	if !exists {
		return Preset{}, fmt.Errorf("%w: %q", ErrPresetNotFound, id)
	}
	p.ID = id
	s.presets[id] = p
	if err := s.saveToDisk(); err != nil {
		s.presets[id] = prev
		return Preset{}, err
	}
	s.publish("updated", id)
	return p, nil
}

// Delete removes a preset by ID.
func (s *PresetService) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.presets[id]; !exists {
		return fmt.Errorf("%w: %q", ErrPresetNotFound, id)
	}
	delete(s.presets, id)
	if err := s.saveToDisk(); err != nil {
		return err
	}
	s.publish("deleted", id)
	return nil
}

func (s *PresetService) publish(action, id string) {
	if s.bus != nil {
		s.bus.Publish(Event{Resource: "presets", Action: action, ID: id})
	}
}

func (s *PresetService) configFile() string {
	return filepath.Join(s.dataDir, "presets.json")
}

func (s *PresetService) loadFromDisk() {
	data, err := os.ReadFile(s.configFile())
	if err != nil {
		return // File doesn't exist yet, start empty
	}

	var presets map[string]Preset
	if err := json.Unmarshal(data, &presets); err != nil {
		return // Invalid JSON, start empty
	}
	s.presets = presets
}

func (s *PresetService) saveToDisk() error {
	if err := os.MkdirAll(s.dataDir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s.presets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.configFile(), data, 0644)
}

// generateID creates a URL-safe ID from a name.
func generateID(name string) string {
	id := strings.ToLower(name)
	id = strings.ReplaceAll(id, " ", "_")
	var result strings.Builder
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			result.WriteRune(r)
		}
	}
	return result.String()
}
