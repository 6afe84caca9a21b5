package drilldown

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-regions/internal/throttle"
)

func square(code string, minX, minY, w, h float64) *geojson.Feature {
	f := geojson.NewFeature(orb.Polygon{orb.Ring{
		{minX, minY}, {minX + w, minY}, {minX + w, minY + h}, {minX, minY + h}, {minX, minY},
	}})
	f.Properties["code"] = code
	f.Properties["name"] = "Region " + code
	return f
}

func collection(features ...*geojson.Feature) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, f := range features {
		fc.Append(f)
	}
	return fc
}

type fakeFetcher struct {
	mu       sync.Mutex
	data     map[string]*geojson.FeatureCollection
	fail     map[string]error
	gates    map[string]chan struct{}
	calls    map[string]int
	canceled map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		data: map[string]*geojson.FeatureCollection{
			// Two adjacent squares A and B.
			"root":  collection(square("A", 0, 0, 10, 10), square("B", 10, 0, 10, 10)),
			"sub/A": collection(square("A1", 0, 0, 5, 10), square("A2", 5, 0, 5, 10)),
			"sub/B": collection(square("B1", 10, 0, 10, 10)),
		},
		fail:     map[string]error{},
		gates:    map[string]chan struct{}{},
		calls:    map[string]int{},
		canceled: map[string]int{},
	}
}

func (f *fakeFetcher) gate(key string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[key] = ch
	return ch
}

func (f *fakeFetcher) Calls(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func (f *fakeFetcher) Fetch(ctx context.Context, key string) (*geojson.FeatureCollection, error) {
	f.mu.Lock()
	f.calls[key]++
	gate := f.gates[key]
	fc, err := f.data[key], f.fail[key]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			f.mu.Lock()
			f.canceled[key]++
			f.mu.Unlock()
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if fc == nil {
		return nil, errors.New("no such dataset")
	}
	return fc, nil
}

type recordingViewport struct {
	mu   sync.Mutex
	cmds []ViewCommand
}

func (v *recordingViewport) Apply(cmd ViewCommand) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cmds = append(v.cmds, cmd)
}

func (v *recordingViewport) last() ViewCommand {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cmds[len(v.cmds)-1]
}

type recordingReporter struct {
	mu   sync.Mutex
	errs []error
}

func (r *recordingReporter) Report(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

// manualClock and manualScheduler freeze time for the hover throttle.
type manualClock struct{ t time.Time }

func (c *manualClock) Now() time.Time { return c.t }

type manualScheduler struct {
	mu  sync.Mutex
	fns []func()
}

func (s *manualScheduler) Schedule(d time.Duration, fn func()) func() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := len(s.fns)
	s.fns = append(s.fns, fn)
	return func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		if i >= len(s.fns) {
			return false
		}
		s.fns[i] = nil
		return true
	}
}

func (s *manualScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, fn := range s.fns {
		if fn != nil {
			n++
		}
	}
	return n
}

func (s *manualScheduler) fireAll() {
	s.mu.Lock()
	fns := s.fns
	s.fns = nil
	s.mu.Unlock()
	for _, fn := range fns {
		if fn != nil {
			fn()
		}
	}
}

type harness struct {
	c        *Controller
	fetcher  *fakeFetcher
	viewport *recordingViewport
	reporter *recordingReporter
	clock    *manualClock
	sched    *manualScheduler
}

func testHierarchy() Hierarchy {
	h := DefaultHierarchy()
	h.Root.Source = "root"
	h.Root.Projection = EPSG3857
	h.Sub.Source = "sub/{code}"
	h.Sub.Projection = EPSG3857
	h.Detail = DetailRange{Min: 3, Max: 6}
	return h
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	hs := &harness{
		fetcher:  newFakeFetcher(),
		viewport: &recordingViewport{},
		reporter: &recordingReporter{},
		clock:    &manualClock{t: time.Unix(1000, 0)},
		sched:    &manualScheduler{},
	}
	c, err := New(Options{
		Hierarchy: testHierarchy(),
		Fetcher:   hs.fetcher,
		Viewport:  hs.viewport,
		Reporter:  hs.reporter,
		Rand:      rand.New(rand.NewPCG(7, 11)),
		Throttle: []throttle.Option{
			throttle.WithClock(hs.clock.Now),
			throttle.WithScheduler(hs.sched.Schedule),
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	hs.c = c
	t.Cleanup(c.Close)
	return hs
}

// settle waits for every fetch goroutine, superseded ones included. Only
// valid while nothing else starts fetches.
func (c *Controller) settle() { c.wg.Wait() }

func waitFetch(t *testing.T, c *Controller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func activeIDs(l Layers) []string {
	var ids []string
	for _, fc := range []*geojson.FeatureCollection{l.Root, l.Sub, l.Details} {
		for _, f := range fc.Features {
			if f.Properties["isActive"] == true {
				ids = append(ids, f.Properties["code"].(string))
			}
		}
	}
	return ids
}

func TestLoadShowsRootBadges(t *testing.T) {
	hs := newHarness(t)
	s := hs.c.Snapshot()
	if s.State != StateOverview {
		t.Fatalf("state=%s, want overview", s.State)
	}
	if len(s.Markers) != 2 {
		t.Fatalf("markers=%d, want 2", len(s.Markers))
	}
	want := map[string]orb.Point{"A": {5, 5}, "B": {15, 5}}
	for _, m := range s.Markers {
		if m.Icon.Anchor != want[m.Region] {
			t.Errorf("marker %s anchored at %v, want %v", m.Region, m.Icon.Anchor, want[m.Region])
		}
	}
}

func TestClickInsideRegionSelectsIt(t *testing.T) {
	hs := newHarness(t)

	if got := hs.c.Click(context.Background(), orb.Point{5, 5}); got != OutcomeRegion {
		t.Fatalf("outcome=%s, want region", got)
	}
	s := hs.c.Snapshot()
	if s.State != StateRegionSelected || s.Selected != "A" || s.Active != "A" {
		t.Fatalf("snapshot=%+v", s)
	}
	cmd := hs.viewport.last()
	if cmd.Kind != ViewFit || cmd.Duration != 500*time.Millisecond {
		t.Fatalf("view=%+v", cmd)
	}
	if *cmd.Bound != (orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 10}}) {
		t.Fatalf("fit bound=%v", *cmd.Bound)
	}

	waitFetch(t, hs.c)
	s = hs.c.Snapshot()
	if s.Fetch.Status != FetchLoaded || s.Fetch.Key != "sub/A" {
		t.Fatalf("fetch=%+v", s.Fetch)
	}
	if len(s.Markers) != 2 {
		t.Fatalf("sub markers=%d, want 2", len(s.Markers))
	}
	if ids := activeIDs(hs.c.Layers()); len(ids) != 1 || ids[0] != "A" {
		t.Fatalf("active=%v, want [A]", ids)
	}
}

func TestClickOutsideIsNoop(t *testing.T) {
	hs := newHarness(t)
	before := hs.c.Snapshot()

	if got := hs.c.Click(context.Background(), orb.Point{50, 50}); got != OutcomeNone {
		t.Fatalf("outcome=%s, want none", got)
	}
	after := hs.c.Snapshot()
	if after.State != StateOverview || after.Active != "" || after.Revision != before.Revision {
		t.Fatalf("snapshot changed: %+v", after)
	}
	if ids := activeIDs(hs.c.Layers()); len(ids) != 0 {
		t.Fatalf("active=%v", ids)
	}
}

func TestScenarioSquares(t *testing.T) {
	hs := newHarness(t)
	release := hs.fetcher.gate("sub/A")

	hs.c.Click(context.Background(), orb.Point{2, 2})
	if got := hs.c.Click(context.Background(), orb.Point{8, 8}); got != OutcomeNone {
		t.Fatalf("second click in A outcome=%s, want none", got)
	}
	if s := hs.c.Snapshot(); s.Active != "A" || s.Fetch.Status != FetchLoading {
		t.Fatalf("active=%q fetch=%s, want A loading", s.Active, s.Fetch.Status)
	}
	close(release)
	waitFetch(t, hs.c)
	if n := hs.fetcher.Calls("sub/A"); n != 1 {
		t.Fatalf("fetches for sub/A=%d, want 1", n)
	}

	hs.c.Back()
	s := hs.c.Snapshot()
	if s.State != StateOverview || s.Active != "" || s.Selected != "" {
		t.Fatalf("after back: %+v", s)
	}
	l := hs.c.Layers()
	if len(l.Sub.Features) != 0 || len(l.Details.Features) != 0 {
		t.Fatalf("sub-layer not cleared: %d sub, %d details", len(l.Sub.Features), len(l.Details.Features))
	}
	if ids := activeIDs(l); len(ids) != 0 {
		t.Fatalf("active flags left: %v", ids)
	}
	if len(s.Markers) != 2 {
		t.Fatalf("root markers=%d, want 2", len(s.Markers))
	}
	if cmd := hs.viewport.last(); cmd.Kind != ViewReset || cmd.Zoom != 11 {
		t.Fatalf("view=%+v, want reset to zoom 11", cmd)
	}
}

func TestDetailSelection(t *testing.T) {
	hs := newHarness(t)
	hs.c.Click(context.Background(), orb.Point{2, 2})
	waitFetch(t, hs.c)

	if got := hs.c.Click(context.Background(), orb.Point{2, 2}); got != OutcomeDetail {
		t.Fatalf("outcome=%s, want detail", got)
	}
	s := hs.c.Snapshot()
	if s.State != StateDetailSelected || s.Detail != "A1" || s.Active != "A1" {
		t.Fatalf("snapshot=%+v", s)
	}
	if n := len(s.Details); n < 3 || n > 6 {
		t.Fatalf("details=%d, want within [3, 6]", n)
	}
	a1 := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{5, 10}}
	for _, d := range s.Details {
		if !a1.Contains(d.Point) {
			t.Fatalf("detail %v outside %v", d.Point, a1)
		}
	}
	if ids := activeIDs(hs.c.Layers()); len(ids) != 1 || ids[0] != "A1" {
		t.Fatalf("active=%v, want [A1]", ids)
	}

	if got := hs.c.Click(context.Background(), orb.Point{1, 1}); got != OutcomeNone {
		t.Fatalf("re-clicking the same detail outcome=%s", got)
	}

	hs.c.Back()
	s = hs.c.Snapshot()
	if len(s.Details) != 0 || s.Active != "" || s.State != StateOverview {
		t.Fatalf("after back: %+v", s)
	}
}

func TestFetchFailureStaysSelected(t *testing.T) {
	hs := newHarness(t)
	hs.fetcher.fail["sub/B"] = errors.New("connection refused")

	hs.c.Click(context.Background(), orb.Point{15, 5})
	waitFetch(t, hs.c)

	s := hs.c.Snapshot()
	if s.State != StateRegionSelected || s.Selected != "B" {
		t.Fatalf("state=%s selected=%q", s.State, s.Selected)
	}
	if s.Fetch.Status != FetchFailed || s.Error == "" {
		t.Fatalf("fetch=%+v error=%q", s.Fetch, s.Error)
	}
	if len(hs.c.Layers().Sub.Features) != 0 {
		t.Fatal("sub-layer should be empty")
	}
	if len(hs.reporter.errs) != 1 {
		t.Fatalf("reported %d errors, want 1", len(hs.reporter.errs))
	}

	// The controller keeps working after the failure.
	hs.c.Back()
	if s := hs.c.Snapshot(); s.State != StateOverview || s.Error != "" {
		t.Fatalf("after back: %+v", s)
	}
}

func TestStaleFetchDiscardedAfterBack(t *testing.T) {
	hs := newHarness(t)
	release := hs.fetcher.gate("sub/A")

	hs.c.Click(context.Background(), orb.Point{5, 5})
	hs.c.Back()
	close(release)
	hs.c.settle()

	s := hs.c.Snapshot()
	if s.State != StateOverview || s.Fetch.Status != FetchIdle {
		t.Fatalf("stale result leaked: %+v", s)
	}
	if len(hs.c.Layers().Sub.Features) != 0 {
		t.Fatal("stale sub-layer installed")
	}
	if len(hs.reporter.errs) != 0 {
		t.Fatalf("cancellation reported as failure: %v", hs.reporter.errs)
	}
}

func TestSwitchRegionCancelsPreviousFetch(t *testing.T) {
	hs := newHarness(t)
	hs.fetcher.gate("sub/A")

	hs.c.Click(context.Background(), orb.Point{5, 5})
	if got := hs.c.Click(context.Background(), orb.Point{15, 5}); got != OutcomeRegion {
		t.Fatalf("outcome=%s, want region", got)
	}
	hs.c.settle()

	s := hs.c.Snapshot()
	if s.Selected != "B" || s.Active != "B" || s.Fetch.Key != "sub/B" || s.Fetch.Status != FetchLoaded {
		t.Fatalf("snapshot=%+v", s)
	}
	hs.fetcher.mu.Lock()
	canceled := hs.fetcher.canceled["sub/A"]
	hs.fetcher.mu.Unlock()
	if canceled != 1 {
		t.Fatalf("superseded fetch canceled %d times, want 1", canceled)
	}
	if ids := activeIDs(hs.c.Layers()); len(ids) != 1 || ids[0] != "B" {
		t.Fatalf("active=%v, want [B]", ids)
	}
}

func TestWaitHonoursContext(t *testing.T) {
	hs := newHarness(t)
	if err := hs.c.Wait(context.Background()); err != nil {
		t.Fatalf("wait with nothing in flight: %v", err)
	}

	release := hs.fetcher.gate("sub/A")
	hs.c.Click(context.Background(), orb.Point{5, 5})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := hs.c.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v, want deadline exceeded", err)
	}

	close(release)
	waitFetch(t, hs.c)
	if s := hs.c.Snapshot(); s.Fetch.Status != FetchLoaded {
		t.Fatalf("status=%s after wait, want loaded", s.Fetch.Status)
	}
}

func TestWaitWhileClicking(t *testing.T) {
	hs := newHarness(t)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				err := hs.c.Wait(ctx)
				cancel()
				if err != nil {
					t.Errorf("wait: %v", err)
					return
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		hs.c.Click(context.Background(), orb.Point{5, 5})
		hs.c.Back()
		hs.c.Click(context.Background(), orb.Point{15, 5})
		hs.c.Back()
	}
	close(stop)
	wg.Wait()

	hs.c.settle()
	if s := hs.c.Snapshot(); s.State != StateOverview || s.Fetch.Status != FetchIdle {
		t.Fatalf("snapshot=%+v", s)
	}
}

func TestHoverSingleActive(t *testing.T) {
	hs := newHarness(t)
	step := func(p orb.Point) {
		hs.clock.t = hs.clock.t.Add(200 * time.Millisecond)
		if !hs.c.Hover(p) {
			t.Fatalf("hover at %v was throttled", p)
		}
	}

	step(orb.Point{5, 5})
	if ids := activeIDs(hs.c.Layers()); len(ids) != 1 || ids[0] != "A" {
		t.Fatalf("active=%v, want [A]", ids)
	}
	step(orb.Point{15, 5})
	if ids := activeIDs(hs.c.Layers()); len(ids) != 1 || ids[0] != "B" {
		t.Fatalf("active=%v, want [B]", ids)
	}
	step(orb.Point{50, 50})
	if ids := activeIDs(hs.c.Layers()); len(ids) != 0 {
		t.Fatalf("moving off left %v active", ids)
	}
}

func TestHoverIsThrottled(t *testing.T) {
	hs := newHarness(t)

	ran := 0
	for i := 0; i < 20; i++ {
		if hs.c.Hover(orb.Point{5, 5}) {
			ran++
		}
	}
	hs.c.Hover(orb.Point{15, 5})
	if ran != 1 {
		t.Fatalf("%d hovers ran inside one window, want 1", ran)
	}
	if n := hs.sched.pending(); n != 1 {
		t.Fatalf("scheduled=%d, want a single trailing update", n)
	}
	if s := hs.c.Snapshot(); s.Active != "A" {
		t.Fatalf("active=%q before trailing edge, want A", s.Active)
	}

	hs.sched.fireAll()
	if s := hs.c.Snapshot(); s.Active != "B" {
		t.Fatalf("active=%q after trailing edge, want B", s.Active)
	}
}

func TestTransitionsClearHover(t *testing.T) {
	hs := newHarness(t)
	hs.c.Hover(orb.Point{15, 5})
	if s := hs.c.Snapshot(); s.Active != "B" {
		t.Fatalf("active=%q, want B", s.Active)
	}

	hs.c.Click(context.Background(), orb.Point{5, 5})
	if ids := activeIDs(hs.c.Layers()); len(ids) != 1 || ids[0] != "A" {
		t.Fatalf("active=%v after select, want [A]", ids)
	}
	waitFetch(t, hs.c)

	hs.clock.t = hs.clock.t.Add(time.Second)
	hs.c.Hover(orb.Point{7, 7})
	if s := hs.c.Snapshot(); s.Active != "A2" {
		t.Fatalf("hovered sub-feature active=%q, want A2", s.Active)
	}
	hs.c.Back()
	if ids := activeIDs(hs.c.Layers()); len(ids) != 0 {
		t.Fatalf("active=%v after back", ids)
	}
}

func TestTransitionDropsQueuedHover(t *testing.T) {
	hs := newHarness(t)
	hs.c.Hover(orb.Point{50, 50})
	if hs.c.Hover(orb.Point{5, 5}) {
		t.Fatal("second hover inside the window ran immediately")
	}
	hs.c.Back()
	hs.sched.fireAll()
	if ids := activeIDs(hs.c.Layers()); len(ids) != 0 {
		t.Fatalf("active=%v after back, want none", ids)
	}
}

func TestFetchCompletionClearsHover(t *testing.T) {
	hs := newHarness(t)
	release := hs.fetcher.gate("sub/A")
	hs.c.Click(context.Background(), orb.Point{5, 5})

	hs.clock.t = hs.clock.t.Add(time.Second)
	hs.c.Hover(orb.Point{15, 5})
	if s := hs.c.Snapshot(); s.Active != "B" {
		t.Fatalf("active=%q while loading, want B", s.Active)
	}
	close(release)
	waitFetch(t, hs.c)
	if s := hs.c.Snapshot(); s.Active != "A" {
		t.Fatalf("active=%q after the sub-layer arrived, want the selection A", s.Active)
	}
}

func TestOnChangeRevisions(t *testing.T) {
	var mu sync.Mutex
	var revs []uint64
	fetcher := newFakeFetcher()
	release := fetcher.gate("sub/A")
	c, err := New(Options{
		Hierarchy: testHierarchy(),
		Fetcher:   fetcher,
		OnChange: func(s Snapshot) {
			mu.Lock()
			revs = append(revs, s.Revision)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if err := c.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	c.Click(context.Background(), orb.Point{5, 5})
	close(release)
	waitFetch(t, c)
	c.Back()

	mu.Lock()
	defer mu.Unlock()
	if len(revs) != 4 {
		t.Fatalf("changes=%v, want load, click, fetch and back", revs)
	}
	for i := 1; i < len(revs); i++ {
		if revs[i] <= revs[i-1] {
			t.Fatalf("revisions not increasing: %v", revs)
		}
	}
}

func TestNewRequiresFetcher(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestLoadHierarchy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hierarchy.yaml")
	yml := "sub:\n  name: wards\n  source: wards/{code}\n  markers: none\n  projection: EPSG:4326\nfitDuration: 250ms\ndetail:\n  min: 1\n  max: 2\n"
	if err := os.WriteFile(path, []byte(yml), 0644); err != nil {
		t.Fatal(err)
	}
	h, err := LoadHierarchy(path)
	if err != nil {
		t.Fatal(err)
	}
	if h.Sub.Key("77") != "wards/77" || h.Sub.Markers != MarkersNone {
		t.Fatalf("sub=%+v", h.Sub)
	}
	if h.FitDuration != 250*time.Millisecond {
		t.Fatalf("fitDuration=%v", h.FitDuration)
	}
	if h.Root.Source != "Moscow" || h.HoverWindow != 100*time.Millisecond {
		t.Fatalf("defaults lost: %+v", h)
	}

	missing, err := LoadHierarchy(filepath.Join(dir, "nope.yaml"))
	if err != nil || missing.Root.Source != "Moscow" {
		t.Fatalf("missing file: %+v %v", missing, err)
	}

	if err := os.WriteFile(path, []byte("detail:\n  min: 5\n  max: 1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadHierarchy(path); err == nil {
		t.Fatal("expected validation error")
	}
}
