package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-regions/internal/drilldown"
	"github.com/joeblew999/plat-regions/internal/fetch"
	"github.com/joeblew999/plat-regions/internal/style"
)

func squares(ctx context.Context, key string) (*geojson.FeatureCollection, error) {
	if key != "root" && key != "sub/A" {
		return nil, fetch.ErrNotFound
	}
	fc := geojson.NewFeatureCollection()
	f := geojson.NewFeature(orb.Polygon{orb.Ring{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}})
	f.Properties["code"] = "A"
	fc.Append(f)
	return fc, nil
}

func testConfig(max int) SessionConfig {
	h := drilldown.DefaultHierarchy()
	h.Root.Source = "root"
	h.Root.Projection = drilldown.EPSG3857
	h.Sub.Source = "sub/{code}"
	h.Sub.Projection = drilldown.EPSG3857
	return SessionConfig{Hierarchy: h, Fetcher: fetch.Func(squares), MaxSessions: max}
}

func testSessions(t *testing.T, max int) *SessionService {
	t.Helper()
	s := NewSessionService(testConfig(max))
	t.Cleanup(s.Close)
	return s
}

func TestSessionLifecycle(t *testing.T) {
	s := testSessions(t, 0)
	events := s.Bus().Subscribe(Filter{})
	defer s.Bus().Unsubscribe(events)

	sess, err := s.Create(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(sess.ID)
	if err != nil || got != sess {
		t.Fatalf("get=%v err=%v", got, err)
	}
	if infos := s.List(); len(infos) != 1 || infos[0].State != "overview" {
		t.Fatalf("list=%+v", infos)
	}

	sess.Controller.Click(context.Background(), orb.Point{5, 5})
	sess.Controller.Wait(context.Background())
	if err := sess.Style().Set("fillOpacity", 0.4); err != nil {
		t.Fatal(err)
	}

	if err := s.Delete(sess.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(sess.ID); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("err=%v, want ErrUnknownSession", err)
	}
	if err := s.Delete(sess.ID); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("second delete err=%v", err)
	}

	seen := map[string]bool{}
	timeout := time.After(time.Second)
	for !(seen["sessions/deleted"] && seen["style/updated"] && seen["sessions/changed"]) {
		select {
		case e := <-events:
			seen[e.Resource+"/"+e.Action] = true
		case <-timeout:
			t.Fatalf("missing events, saw %v", seen)
		}
	}
}

func TestSessionLimit(t *testing.T) {
	s := testSessions(t, 1)
	if _, err := s.Create(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create(context.Background(), nil); !errors.Is(err, ErrTooManySessions) {
		t.Fatalf("err=%v, want ErrTooManySessions", err)
	}
}

func TestSessionLimitConcurrentCreates(t *testing.T) {
	s := testSessions(t, 3)
	var wg sync.WaitGroup
	var mu sync.Mutex
	created, rejected := 0, 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Create(context.Background(), nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, ErrTooManySessions):
				rejected++
			default:
				t.Errorf("create: %v", err)
			}
		}()
	}
	wg.Wait()
	if created != 3 || rejected != 13 {
		t.Fatalf("created=%d rejected=%d, want 3 and 13", created, rejected)
	}
	if n := len(s.List()); n != 3 {
		t.Fatalf("open sessions=%d, want 3", n)
	}
}

func TestIdleSessionsExpire(t *testing.T) {
	now := time.Unix(1000, 0)
	cfg := testConfig(2)
	cfg.IdleTTL = time.Minute
	cfg.Now = func() time.Time { return now }
	s := NewSessionService(cfg)
	t.Cleanup(s.Close)

	a, err := s.Create(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.Create(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create(context.Background(), nil); !errors.Is(err, ErrTooManySessions) {
		t.Fatalf("err=%v, want ErrTooManySessions while both are fresh", err)
	}

	now = now.Add(30 * time.Second)
	if _, err := s.Get(a.ID); err != nil {
		t.Fatal(err)
	}
	detach := b.Attach()
	now = now.Add(40 * time.Second)
	if n := s.Sweep(); n != 0 {
		t.Fatalf("swept %d sessions, want 0 (one used, one streaming)", n)
	}

	detach()
	if n := s.Sweep(); n != 1 {
		t.Fatalf("swept %d sessions, want the detached one", n)
	}
	if _, err := s.Get(b.ID); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("err=%v, want ErrUnknownSession", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := s.Create(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create(context.Background(), nil); err != nil {
		t.Fatalf("create at the cap should reclaim the idle session: %v", err)
	}
	if _, err := s.Get(a.ID); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("idle session %s survived, err=%v", a.ID, err)
	}
}

func TestSessionSeededStyle(t *testing.T) {
	s := testSessions(t, 0)
	p := style.Defaults()
	p.StrokeWidthActive = 9
	sess, err := s.Create(context.Background(), &p)
	if err != nil {
		t.Fatal(err)
	}
	if got := sess.Style().Get().StrokeWidthActive; got != 9 {
		t.Fatalf("strokeWidthActive=%v, want 9", got)
	}

	bad := style.Defaults()
	bad.FillOpacity = 3
	if _, err := s.Create(context.Background(), &bad); !errors.Is(err, style.ErrInvalidValue) {
		t.Fatalf("err=%v, want ErrInvalidValue", err)
	}
}

func TestEventBusDropsForSlowSubscribers(t *testing.T) {
	b := NewEventBus()
	ch := b.Subscribe(Filter{})
	for i := 0; i < 100; i++ {
		b.Publish(Event{Resource: "sessions", Action: "changed"})
	}
	if len(ch) != cap(ch) {
		t.Fatalf("buffered=%d, want %d", len(ch), cap(ch))
	}
	b.Unsubscribe(ch)
	b.Unsubscribe(ch)
	n := 0
	for range ch {
		n++
	}
	if n != cap(ch) {
		t.Fatalf("drained %d events, want %d", n, cap(ch))
	}
	b.Publish(Event{Resource: "sessions"})
}

func TestEventBusFilters(t *testing.T) {
	b := NewEventBus()
	mine := b.Subscribe(SessionEvents("a"))
	all := b.Subscribe(Filter{})
	defer b.Unsubscribe(mine)
	defer b.Unsubscribe(all)

	b.Publish(Event{Resource: "sessions", Action: "changed", ID: "b"})
	b.Publish(Event{Resource: "presets", Action: "created", ID: "a"})
	b.Publish(Event{Resource: "style", Action: "updated", ID: "a"})

	if len(all) != 3 {
		t.Fatalf("unfiltered subscriber got %d events, want 3", len(all))
	}
	if len(mine) != 1 {
		t.Fatalf("session subscriber got %d events, want 1", len(mine))
	}
	if e := <-mine; e.Resource != "style" {
		t.Fatalf("event=%+v", e)
	}
	if n := b.Subscribers(); n != 2 {
		t.Fatalf("subscribers=%d", n)
	}
}

func TestPresetCRUD(t *testing.T) {
	dir := t.TempDir()
	bus := NewEventBus()
	s := NewPresetService(dir, bus)

	p, err := s.Create(Preset{Name: "Night Mode", Params: style.Defaults()})
	if err != nil {
		t.Fatal(err)
	}
	if p.ID != "night_mode" {
		t.Fatalf("id=%q, want night_mode", p.ID)
	}
	if _, err := s.Create(Preset{Name: "Night Mode", Params: style.Defaults()}); !errors.Is(err, ErrPresetExists) {
		t.Fatalf("duplicate err=%v", err)
	}

	p.Params.FillColor = "#000000"
	if _, err := s.Update("night_mode", p); err != nil {
		t.Fatal(err)
	}

	reloaded := NewPresetService(dir, nil)
	got, ok := reloaded.Get("night_mode")
	if !ok || got.Params.FillColor != "#000000" {
		t.Fatalf("reloaded=%+v ok=%v", got, ok)
	}

	if err := s.Delete("night_mode"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("night_mode"); !errors.Is(err, ErrPresetNotFound) {
		t.Fatalf("err=%v, want ErrPresetNotFound", err)
	}
	if len(s.List()) != 0 {
		t.Fatal("list not empty")
	}
}

func TestPresetRejectsInvalidParams(t *testing.T) {
	s := NewPresetService(t.TempDir(), nil)
	p := style.Defaults()
	p.StrokeWidth = -2
	if _, err := s.Create(Preset{Name: "broken", Params: p}); !errors.Is(err, style.ErrInvalidValue) {
		t.Fatalf("err=%v, want ErrInvalidValue", err)
	}
}

func TestDatasetList(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "sources")
	for name, size := range map[string]int{
		"Moscow.geojson":       10,
		"districts/77.geojson": 2048,
		"2012_Earthquakes.kml": 5,
		"notes.txt":            1,
	} {
		path := filepath.Join(src, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, make([]byte, size), 0644); err != nil {
			t.Fatal(err)
		}
	}

	files, err := NewDatasetService(dir).List()
	if err != nil {
		t.Fatal(err)
	}
	want := []Dataset{
		{Key: "2012_Earthquakes", Name: "2012_Earthquakes.kml", Size: "5 B", FileType: "KML"},
		{Key: "Moscow", Name: "Moscow.geojson", Size: "10 B", FileType: "GeoJSON"},
		{Key: "districts/77", Name: "77.geojson", Size: "2.0 KB", FileType: "GeoJSON"},
	}
	if len(files) != len(want) {
		t.Fatalf("files=%+v", files)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("files[%d]=%+v, want %+v", i, files[i], want[i])
		}
	}

	empty, err := NewDatasetService(filepath.Join(dir, "missing")).List()
	if err != nil || len(empty) != 0 {
		t.Fatalf("missing dir: %v %v", empty, err)
	}
}
