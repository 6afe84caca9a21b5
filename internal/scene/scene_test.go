package scene

import (
	"errors"
	"testing"
)

func ids(s Scene) []string {
	out := make([]string, len(s.Layers))
	for i, l := range s.Layers {
		out[i] = l.ID
	}
	return out
}

func TestAssemble(t *testing.T) {
	tests := []struct {
		variant int
		want    []string
	}{
		{1, []string{"base", "regions", "badges"}},
		{2, []string{"clip", "base", "clip-vector", "regions", "badges"}},
		{3, []string{"clip", "heatmap", "base", "clip-vector", "regions", "badges"}},
		{4, []string{"base", "regions", "sub", "details", "badges"}},
		{5, []string{"base", "idw", "regions", "sub", "details", "badges"}},
	}
	for _, tt := range tests {
		s, err := Assemble(tt.variant, DefaultSources())
		if err != nil {
			t.Fatal(err)
		}
		got := ids(s)
		if len(got) != len(tt.want) {
			t.Fatalf("variant %d layers=%v, want %v", tt.variant, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Fatalf("variant %d layers=%v, want %v", tt.variant, got, tt.want)
			}
		}
		if s.Title == "" {
			t.Errorf("variant %d has no title", tt.variant)
		}
	}
}

func TestClipPassesShareMask(t *testing.T) {
	s, err := Assemble(3, DefaultSources())
	if err != nil {
		t.Fatal(err)
	}
	ops := map[string]string{}
	for _, l := range s.Layers {
		if l.Composite != "" {
			ops[l.ID] = l.Composite
			if l.Mask != "moscow_full" {
				t.Errorf("%s masked by %q", l.ID, l.Mask)
			}
			if l.Filter != BaseFilter {
				t.Errorf("%s filter=%q", l.ID, l.Filter)
			}
		}
	}
	if ops["base"] != DestinationOut || ops["clip"] != DestinationIn {
		t.Fatalf("composite ops=%v", ops)
	}
}

func TestAssembleUnknown(t *testing.T) {
	for _, v := range []int{0, 6, -1} {
		if _, err := Assemble(v, DefaultSources()); !errors.Is(err, ErrUnknownVariant) {
			t.Errorf("variant %d err=%v", v, err)
		}
	}
	if len(Titles()) != Count {
		t.Fatalf("titles=%d", len(Titles()))
	}
}
