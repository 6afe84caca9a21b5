package region

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

func square(minX, minY, size float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{minX, minY},
		{minX + size, minY},
		{minX + size, minY + size},
		{minX, minY + size},
		{minX, minY},
	}}
}

func testCollection() *Collection {
	fc := geojson.NewFeatureCollection()
	a := geojson.NewFeature(square(0, 0, 10))
	a.Properties["code"] = "A"
	a.Properties["name"] = "Alpha"
	b := geojson.NewFeature(square(10, 0, 10))
	b.Properties["code"] = "B"
	b.Properties["name"] = "Beta"
	fc.Append(a)
	fc.Append(b)
	c, err := FromFeatureCollection("districts", fc, DecodeOptions{CodeProperty: "code", NameProperty: "name"})
	if err != nil {
		panic(err)
	}
	return c
}

func TestHit(t *testing.T) {
	c := testCollection()

	tests := []struct {
		name string
		p    orb.Point
		want string
	}{
		{"inside A", orb.Point{5, 5}, "A"},
		{"inside B", orb.Point{15, 2}, "B"},
		{"outside", orb.Point{50, 50}, ""},
		{"below", orb.Point{5, -1}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Hit(tt.p)
			code := ""
			if got != nil {
				code = got.Code
			}
			if code != tt.want {
				t.Fatalf("Hit(%v)=%q, want %q", tt.p, code, tt.want)
			}
		})
	}
}

func TestHitFirstMatchOnOverlap(t *testing.T) {
	first := &Region{Code: "first", Geometry: square(0, 0, 10)}
	second := &Region{Code: "second", Geometry: square(5, 5, 10)}
	c := NewCollection("overlap", []*Region{first, second})

	if got := c.Hit(orb.Point{7, 7}); got != first {
		t.Fatalf("overlap hit=%v, want first", got)
	}
	if got := c.Hit(orb.Point{12, 12}); got != second {
		t.Fatalf("hit=%v, want second", got)
	}
}

func TestHitEmpty(t *testing.T) {
	var nilColl *Collection
	if nilColl.Hit(orb.Point{0, 0}) != nil {
		t.Fatal("nil collection should not hit")
	}
	empty := NewCollection("empty", nil)
	if empty.Hit(orb.Point{0, 0}) != nil {
		t.Fatal("empty collection should not hit")
	}
}

func TestMultiPolygonHit(t *testing.T) {
	mp := orb.MultiPolygon{square(0, 0, 1), square(100, 100, 1)}
	c := NewCollection("mp", []*Region{{Code: "M", Geometry: mp}})
	if c.Hit(orb.Point{100.5, 100.5}) == nil {
		t.Fatal("expected hit in second polygon")
	}
	if c.Hit(orb.Point{50, 50}) != nil {
		t.Fatal("gap between polygons should not hit")
	}
}

func TestSetActiveMarksChanged(t *testing.T) {
	c := testCollection()
	a, ok := c.Find("A")
	if !ok {
		t.Fatal("A not found")
	}
	before := c.Revision()
	a.SetActive(true)
	a.SetActive(true)
	if got := c.Revision() - before; got != 1 {
		t.Fatalf("revision advanced by %d, want 1", got)
	}
	fc := c.FeatureCollection()
	if fc.Features[0].Properties["isActive"] != true {
		t.Fatal("isActive not rendered")
	}
}

func TestProjectDoesNotMutateInput(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(square(37, 55, 1)))
	c, err := FromFeatureCollection("moscow", fc, DecodeOptions{Project: true})
	if err != nil {
		t.Fatal(err)
	}
	orig := fc.Features[0].Geometry.(orb.Polygon)[0][0]
	if orig != (orb.Point{37, 55}) {
		t.Fatalf("input mutated: %v", orig)
	}
	projected := c.Regions()[0].Bound().Min
	if projected[0] < 4e6 || projected[1] < 7e6 {
		t.Fatalf("not projected to mercator: %v", projected)
	}
}

func TestKindOf(t *testing.T) {
	if KindOf(orb.Point{}) != KindPoint {
		t.Fatal("point")
	}
	if KindOf(square(0, 0, 1)) != KindPolygon {
		t.Fatal("polygon")
	}
	if KindOf(orb.MultiPolygon{}) != KindMultiPolygon {
		t.Fatal("multipolygon")
	}
	if KindOf(orb.LineString{}) != KindUnknown {
		t.Fatal("linestring")
	}
}
