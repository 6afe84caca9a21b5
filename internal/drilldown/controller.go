// Package drilldown is the click-driven navigation state machine: an
// overview of top-level regions, a selected region with its fetched
// sub-layer and a selected sub-feature scattered with detail points.
package drilldown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-regions/internal/badge"
	"github.com/joeblew999/plat-regions/internal/fetch"
	"github.com/joeblew999/plat-regions/internal/heatmap"
	"github.com/joeblew999/plat-regions/internal/metrics"
	"github.com/joeblew999/plat-regions/internal/region"
	"github.com/joeblew999/plat-regions/internal/style"
	"github.com/joeblew999/plat-regions/internal/throttle"
)

// ErrClosed is returned by operations on a closed controller.
var ErrClosed = errors.New("controller closed")

// State is the navigation state.
type State string

const (
	StateOverview       State = "overview"
	StateRegionSelected State = "region_selected"
	StateDetailSelected State = "detail_selected"
)

// Outcome describes what a click did.
type Outcome string

const (
	OutcomeNone   Outcome = "none"
	OutcomeRegion Outcome = "region"
	OutcomeDetail Outcome = "detail"
)

// FetchStatus tracks the sub-layer request of the selected region.
type FetchStatus string

const (
	FetchIdle    FetchStatus = "idle"
	FetchLoading FetchStatus = "loading"
	FetchLoaded  FetchStatus = "loaded"
	FetchFailed  FetchStatus = "failed"
)

// ViewKind distinguishes viewport commands.
type ViewKind string

const (
	ViewFit   ViewKind = "fit"
	ViewReset ViewKind = "reset"
)

// ViewCommand asks the render engine to move the camera.
type ViewCommand struct {
	Kind     ViewKind      `json:"kind" enum:"fit,reset"`
	Bound    *orb.Bound    `json:"bound,omitempty"`
	Center   *orb.Point    `json:"center,omitempty"`
	Zoom     float64       `json:"zoom,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Viewport receives camera commands.
type Viewport interface {
	Apply(cmd ViewCommand)
}

// ErrorReporter receives failures the controller recovered from.
type ErrorReporter interface {
	Report(err error)
}

// Options wires a controller to its collaborators. Fetcher is required;
// everything else has a usable default.
type Options struct {
	Hierarchy Hierarchy
	Fetcher   fetch.Fetcher
	Viewport  Viewport
	Reporter  ErrorReporter
	Style     *style.Store
	Badges    *badge.Factory
	Rand      *rand.Rand
	Throttle  []throttle.Option
	// OnChange is called, outside the controller lock, after every
	// observable change.
	OnChange func(Snapshot)
	Logger   *slog.Logger
}

// Controller owns the level collections, the single active pointer and the
// markers of one viewer. It is safe for concurrent use.
type Controller struct {
	h        Hierarchy
	fetcher  fetch.Fetcher
	viewport Viewport
	reporter ErrorReporter
	store    *style.Store
	resolver *style.Resolver
	badges   *badge.Factory
	onChange func(Snapshot)
	log      *slog.Logger
	hover    *throttle.Throttle

	mu       sync.Mutex
	rng      *rand.Rand
	closed   bool
	state    State
	root     *region.Collection
	sub      *region.Collection
	details  *region.Collection
	selected *region.Region
	detail   *region.Region
	hovered  *region.Region
	active   *region.Region
	markers  []badge.Marker
	view     *ViewCommand
	fetchKey string
	status   FetchStatus
	lastErr  error
	revision uint64

	// gen invalidates in-flight fetches; cancel aborts the current one and
	// done is closed once it settles or is superseded.
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup

	// hoverEpoch moves on every transition so queued hovers are dropped.
	hoverEpoch uint64

	unregister map[*region.Collection]func()

	emitMu  sync.Mutex
	emitted uint64
}

// New creates a controller in the overview state with nothing loaded.
func New(opts Options) (*Controller, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("drilldown: fetcher is required")
	}
	h := opts.Hierarchy
	if h.Root.Source == "" {
		h = DefaultHierarchy()
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	c := &Controller{
		h:          h,
		fetcher:    opts.Fetcher,
		viewport:   opts.Viewport,
		reporter:   opts.Reporter,
		store:      opts.Style,
		badges:     opts.Badges,
		onChange:   opts.OnChange,
		log:        opts.Logger,
		rng:        opts.Rand,
		state:      StateOverview,
		status:     FetchIdle,
		unregister: make(map[*region.Collection]func()),
	}
	if c.store == nil {
		c.store = style.NewStore(style.Defaults())
	}
	c.resolver = style.NewResolver(c.store)
	if c.badges == nil {
		c.badges = badge.NewFactory()
	}
	if c.rng == nil {
		c.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	c.hover = throttle.New(h.HoverWindow, opts.Throttle...)
	return c, nil
}

// Hierarchy returns the configuration in use.
func (c *Controller) Hierarchy() Hierarchy { return c.h }

// Style returns the parameter store feeding the controller's resolver.
func (c *Controller) Style() *style.Store { return c.store }

// Load fetches the top-level regions synchronously and shows their badges.
func (c *Controller) Load(ctx context.Context) error {
	key := c.h.Root.Key("")
	fc, err := c.timedFetch(ctx, c.h.Root.Name, key)
	if err != nil {
		return fmt.Errorf("loading %s: %w", key, err)
	}
	coll, err := region.FromFeatureCollection(c.h.Root.Name, fc, c.h.Root.decodeOptions())
	if err != nil {
		return fmt.Errorf("loading %s: %w", key, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.resetLocked()
	c.release(c.root)
	c.root = coll
	c.track(coll)
	c.markers = c.markersFor(c.h.Root, coll)
	c.log.Info("root level loaded", "key", key, "regions", coll.Len())
	snap := c.changedLocked()
	c.mu.Unlock()

	c.emit(snap)
	return nil
}

// Root returns the top-level collection, or nil before Load.
func (c *Controller) Root() *region.Collection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.root
}

// Click runs the click transition for a point in display projection.
func (c *Controller) Click(ctx context.Context, p orb.Point) Outcome {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return OutcomeNone
	}
	outcome := OutcomeNone
	switch c.state {
	case StateOverview:
		if r := c.root.Hit(p); r != nil {
			c.selectRegion(ctx, r)
			outcome = OutcomeRegion
		}
	default:
		if d := c.sub.Hit(p); d != nil {
			if d != c.detail {
				c.selectDetail(d)
				outcome = OutcomeDetail
			}
		} else if r := c.root.Hit(p); r != nil && r != c.selected {
			c.selectRegion(ctx, r)
			outcome = OutcomeRegion
		}
	}
	metrics.ClicksTotal.WithLabelValues(string(outcome)).Inc()
	if outcome == OutcomeNone {
		c.mu.Unlock()
		return outcome
	}
	snap := c.changedLocked()
	c.mu.Unlock()

	c.emit(snap)
	return outcome
}

// Back returns to the overview from any state, dropping the sub-layer,
// detail points and every active flag.
func (c *Controller) Back() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.resetLocked()
	c.markers = c.markersFor(c.h.Root, c.root)
	center := c.h.View.CenterMercator()
	c.command(ViewCommand{Kind: ViewReset, Center: &center, Zoom: c.h.View.Zoom, Duration: c.h.FitDuration})
	snap := c.changedLocked()
	c.mu.Unlock()

	c.emit(snap)
}

// Hover marks the feature under p active for styling. Calls are coalesced
// to at most one effective update per hover window; the latest point wins.
// It reports whether the update ran immediately.
func (c *Controller) Hover(p orb.Point) bool {
	c.mu.Lock()
	epoch := c.hoverEpoch
	c.mu.Unlock()
	ran := c.hover.Do(func() { c.applyHover(epoch, p) })
	if !ran {
		metrics.HoversCoalesced.Inc()
	}
	return ran
}

func (c *Controller) applyHover(epoch uint64, p orb.Point) {
	c.mu.Lock()
	if c.closed || epoch != c.hoverEpoch {
		c.mu.Unlock()
		return
	}
	metrics.HoversApplied.Inc()
	hit := c.sub.Hit(p)
	if hit == nil {
		hit = c.root.Hit(p)
	}
	if hit == c.hovered {
		c.mu.Unlock()
		return
	}
	c.hovered = hit
	if !c.refreshActive() {
		c.mu.Unlock()
		return
	}
	snap := c.changedLocked()
	c.mu.Unlock()

	c.emit(snap)
}

// Wait blocks until the current sub-layer fetch has settled or been
// superseded, or ctx ends.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels pending work and detaches from the style store.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.cancelFetch()
	for coll, unregister := range c.unregister {
		unregister()
		delete(c.unregister, coll)
	}
	c.mu.Unlock()

	c.hover.Stop()
	c.wg.Wait()
}

func (c *Controller) selectRegion(ctx context.Context, r *region.Region) {
	c.cancelFetch()
	c.clearSubLocked()
	c.dropHoverLocked()
	c.detail = nil
	c.selected = r
	c.state = StateRegionSelected
	c.refreshActive()
	c.markers = nil
	b := r.Bound()
	c.command(ViewCommand{Kind: ViewFit, Bound: &b, Duration: c.h.FitDuration})

	key := c.h.Sub.Key(r.Code)
	c.fetchKey = key
	c.status = FetchLoading
	c.lastErr = nil

	fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.done = make(chan struct{})
	gen := c.gen
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		fc, err := c.timedFetch(fctx, c.h.Sub.Name, key)
		c.finishFetch(gen, key, fc, err)
	}()
	c.log.Debug("region selected", "code", r.Code, "fetch", key)
}

func (c *Controller) finishFetch(gen uint64, key string, fc *geojson.FeatureCollection, err error) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		metrics.StaleFetchesTotal.Inc()
		c.log.Debug("discarding stale fetch", "key", key)
		return
	}
	c.cancel = nil
	if done := c.done; done != nil {
		c.done = nil
		defer close(done)
	}
	c.dropHoverLocked()
	c.refreshActive()

	var coll *region.Collection
	if err == nil {
		coll, err = region.FromFeatureCollection(c.h.Sub.Name, fc, c.h.Sub.decodeOptions())
	}
	if err != nil {
		c.status = FetchFailed
		c.lastErr = fmt.Errorf("fetching %s: %w", key, err)
		reported := c.lastErr
		snap := c.changedLocked()
		c.mu.Unlock()

		c.log.Warn("sub-layer fetch failed", "key", key, "err", err)
		if c.reporter != nil {
			c.reporter.Report(reported)
		}
		c.emit(snap)
		return
	}

	c.sub = coll
	c.track(coll)
	c.markers = c.markersFor(c.h.Sub, coll)
	c.status = FetchLoaded
	snap := c.changedLocked()
	c.mu.Unlock()

	c.emit(snap)
}

func (c *Controller) selectDetail(d *region.Region) {
	c.detail = d
	c.dropHoverLocked()
	c.state = StateDetailSelected
	c.refreshActive()

	n := c.h.Detail.Min
	if span := c.h.Detail.Max - c.h.Detail.Min; span > 0 {
		n += c.rng.IntN(span + 1)
	}
	b := d.Bound()
	points := make([]*region.Region, n)
	for i := range points {
		id := fmt.Sprintf("%s-detail-%d", d.ID, i)
		points[i] = &region.Region{ID: id, Code: id, Geometry: heatmap.Scatter(c.rng, b)}
	}
	c.release(c.details)
	c.details = region.NewCollection("details", points)
	c.track(c.details)
	c.command(ViewCommand{Kind: ViewFit, Bound: &b, Duration: c.h.FitDuration})
}

// resetLocked drops everything below the root and all active flags.
func (c *Controller) resetLocked() {
	c.cancelFetch()
	c.clearSubLocked()
	c.selected = nil
	c.detail = nil
	c.dropHoverLocked()
	c.refreshActive()
	c.state = StateOverview
	c.status = FetchIdle
	c.fetchKey = ""
	c.lastErr = nil
}

func (c *Controller) clearSubLocked() {
	c.release(c.sub)
	c.release(c.details)
	c.sub = nil
	c.details = nil
}

// cancelFetch aborts and invalidates the in-flight fetch, if any.
func (c *Controller) cancelFetch() {
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
}

// dropHoverLocked forgets the hovered feature along with any hover still
// queued in the throttle.
func (c *Controller) dropHoverLocked() {
	c.hoverEpoch++
	c.hovered = nil
	c.hover.Stop()
}

// refreshActive moves the single active flag to the hovered feature, or to
// the current selection when nothing is hovered. It reports a change.
func (c *Controller) refreshActive() bool {
	want := c.hovered
	if want == nil {
		if c.state == StateDetailSelected && c.detail != nil {
			want = c.detail
		} else {
			want = c.selected
		}
	}
	if want == c.active {
		return false
	}
	if c.active != nil {
		c.active.SetActive(false)
	}
	if want != nil {
		want.SetActive(true)
	}
	c.active = want
	return true
}

func (c *Controller) markersFor(l Level, coll *region.Collection) []badge.Marker {
	if l.Markers != MarkersBadges || coll.Len() == 0 {
		return nil
	}
	markers := c.badges.ForRegions(coll.Regions(), l.LabelProperty, c.rng)
	metrics.BadgesTotal.Add(float64(len(markers)))
	return markers
}

func (c *Controller) track(coll *region.Collection) {
	if coll == nil {
		return
	}
	c.unregister[coll] = c.store.Register(coll)
}

func (c *Controller) release(coll *region.Collection) {
	if coll == nil {
		return
	}
	if unregister, ok := c.unregister[coll]; ok {
		unregister()
		delete(c.unregister, coll)
	}
}

func (c *Controller) command(cmd ViewCommand) {
	c.view = &cmd
	if c.viewport != nil {
		c.viewport.Apply(cmd)
	}
}

func (c *Controller) timedFetch(ctx context.Context, level, key string) (*geojson.FeatureCollection, error) {
	start := time.Now()
	fc, err := c.fetcher.Fetch(ctx, key)
	metrics.FetchDurationMs.WithLabelValues(level).Observe(float64(time.Since(start).Milliseconds()))
	result := "ok"
	switch {
	case errors.Is(err, context.Canceled):
		result = "canceled"
	case errors.Is(err, fetch.ErrNotFound):
		result = "not_found"
	case err != nil:
		result = "error"
	}
	metrics.FetchesTotal.WithLabelValues(level, result).Inc()
	return fc, err
}

func (c *Controller) changedLocked() Snapshot {
	c.revision++
	return c.snapshotLocked()
}

// emit delivers snapshots in revision order, dropping any that were
// overtaken by a newer one on another goroutine.
func (c *Controller) emit(s Snapshot) {
	if c.onChange == nil {
		return
	}
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	if s.Revision <= c.emitted {
		return
	}
	c.emitted = s.Revision
	c.onChange(s)
}
