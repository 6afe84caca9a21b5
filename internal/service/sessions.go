package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/joeblew999/plat-regions/internal/drilldown"
	"github.com/joeblew999/plat-regions/internal/fetch"
	"github.com/joeblew999/plat-regions/internal/metrics"
	"github.com/joeblew999/plat-regions/internal/style"
)

var (
	// ErrUnknownSession is returned for session IDs that are not open.
	ErrUnknownSession = errors.New("unknown session")
	// ErrTooManySessions is returned when the session limit is reached.
	ErrTooManySessions = errors.New("too many sessions")
)

// Session is one viewer: a controller with its own style store.
type Session struct {
	ID         string
	Created    time.Time
	Controller *drilldown.Controller

	lastSeen atomic.Int64 // unix nanoseconds
	streams  atomic.Int32
}

func (s *Session) touch(now time.Time) { s.lastSeen.Store(now.UnixNano()) }

// Attach marks a long-lived stream (SSE, WebSocket) on the session. An
// attached session never expires; call the returned func on disconnect.
func (s *Session) Attach() (detach func()) {
	s.streams.Add(1)
	var once sync.Once
	return func() { once.Do(func() { s.streams.Add(-1) }) }
}

func (s *Session) idle(now time.Time, ttl time.Duration) bool {
	return s.streams.Load() == 0 && now.Sub(time.Unix(0, s.lastSeen.Load())) >= ttl
}

// Style returns the session's live parameter store.
func (s *Session) Style() *style.Store { return s.Controller.Style() }

// Info summarises the session.
func (s *Session) Info() SessionInfo {
	snap := s.Controller.Snapshot()
	return SessionInfo{ID: s.ID, Created: s.Created, State: string(snap.State), Revision: snap.Revision}
}

// SessionConfig configures the session registry.
type SessionConfig struct {
	Hierarchy drilldown.Hierarchy
	Fetcher   fetch.Fetcher
	Bus       *EventBus
	Logger    *slog.Logger
	// MaxSessions caps open sessions; zero means unlimited.
	MaxSessions int
	// IdleTTL expires sessions nobody has used or streamed for that long;
	// zero keeps them until deleted.
	IdleTTL time.Duration
	// Now replaces time.Now.
	Now func() time.Time
}

// SessionService owns the open viewer sessions.
type SessionService struct {
	cfg SessionConfig

	mu       sync.RWMutex
	sessions map[string]*Session
	// reserved counts creates that passed the cap check but are still loading.
	reserved int
}

// NewSessionService creates an empty registry.
func NewSessionService(cfg SessionConfig) *SessionService {
	if cfg.Bus == nil {
		cfg.Bus = NewEventBus()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &SessionService{cfg: cfg, sessions: make(map[string]*Session)}
}

// Bus returns the bus session events are published on.
func (s *SessionService) Bus() *EventBus { return s.cfg.Bus }

// Hierarchy returns the hierarchy every session is built with.
func (s *SessionService) Hierarchy() drilldown.Hierarchy { return s.cfg.Hierarchy }

// Create opens a session, optionally seeded with style parameters, and
// loads its top-level regions.
func (s *SessionService) Create(ctx context.Context, params *style.Parameters) (*Session, error) {
	p := style.Defaults()
	if params != nil {
		if err := params.Validate(); err != nil {
			return nil, err
		}
		p = *params
	}
	if !s.reserve() {
		if s.cfg.IdleTTL <= 0 || s.Sweep() == 0 || !s.reserve() {
			return nil, ErrTooManySessions
		}
	}
	created := false
	defer func() {
		if !created {
			s.mu.Lock()
			s.reserved--
			s.mu.Unlock()
		}
	}()
	id := uuid.NewString()
	store := style.NewStore(p)
	store.Register(styleNotifier{bus: s.cfg.Bus, id: id})
	log := s.cfg.Logger.With("session", id)

	c, err := drilldown.New(drilldown.Options{
		Hierarchy: s.cfg.Hierarchy,
		Fetcher:   s.cfg.Fetcher,
		Reporter:  reporter{bus: s.cfg.Bus, id: id, log: log},
		Style:     store,
		Logger:    log,
		OnChange: func(snap drilldown.Snapshot) {
			s.cfg.Bus.Publish(Event{Resource: "sessions", Action: "changed", ID: id, Revision: snap.Revision})
		},
	})
	if err != nil {
		return nil, err
	}
	if err := c.Load(ctx); err != nil {
		c.Close()
		return nil, err
	}

	now := s.cfg.Now()
	sess := &Session{ID: id, Created: now.UTC(), Controller: c}
	sess.touch(now)
	s.mu.Lock()
	s.reserved--
	s.sessions[id] = sess
	n := len(s.sessions)
	s.mu.Unlock()
	created = true

	metrics.SessionsActive.Set(float64(n))
	s.cfg.Bus.Publish(Event{Resource: "sessions", Action: "created", ID: id})
	log.Info("session created")
	return sess, nil
}

// reserve claims a slot under the cap.
func (s *SessionService) reserve() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.MaxSessions > 0 && len(s.sessions)+s.reserved >= s.cfg.MaxSessions {
		return false
	}
	s.reserved++
	return true
}

// Get returns an open session and marks it used.
func (s *SessionService) Get(id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	sess.touch(s.cfg.Now())
	return sess, nil
}

// Sweep closes the sessions idle for longer than IdleTTL and reports how
// many it closed.
func (s *SessionService) Sweep() int {
	if s.cfg.IdleTTL <= 0 {
		return 0
	}
	now := s.cfg.Now()
	var expired []*Session
	s.mu.Lock()
	for id, sess := range s.sessions {
		if sess.idle(now, s.cfg.IdleTTL) {
			expired = append(expired, sess)
			delete(s.sessions, id)
		}
	}
	n := len(s.sessions)
	s.mu.Unlock()

	for _, sess := range expired {
		sess.Controller.Close()
		s.cfg.Bus.Publish(Event{Resource: "sessions", Action: "deleted", ID: sess.ID})
		s.cfg.Logger.Info("session expired", "session", sess.ID)
	}
	if len(expired) > 0 {
		metrics.SessionsActive.Set(float64(n))
	}
	return len(expired)
}

// Run sweeps idle sessions until ctx ends.
func (s *SessionService) Run(ctx context.Context) {
	if s.cfg.IdleTTL <= 0 {
		return
	}
	tick := time.NewTicker(s.cfg.IdleTTL / 2)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			s.Sweep()
		}
	}
}

// List returns every open session, oldest first.
func (s *SessionService) List() []SessionInfo {
	s.mu.RLock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Created.Before(sessions[j].Created) })
	infos := make([]SessionInfo, len(sessions))
	for i, sess := range sessions {
		infos[i] = sess.Info()
	}
	return infos
}

// Delete closes and forgets a session.
func (s *SessionService) Delete(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	n := len(s.sessions)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	sess.Controller.Close()
	metrics.SessionsActive.Set(float64(n))
	s.cfg.Bus.Publish(Event{Resource: "sessions", Action: "deleted", ID: id})
	return nil
}

// Close closes every session.
func (s *SessionService) Close() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.Controller.Close()
	}
	metrics.SessionsActive.Set(0)
}

// reporter forwards recovered fetch failures to the log and the bus.
type reporter struct {
	bus *EventBus
	id  string
	log *slog.Logger
}

func (r reporter) Report(err error) {
	r.log.Error("drill-down failure", "err", err)
	r.bus.Publish(Event{Resource: "sessions", Action: "failed", ID: r.id})
}

// styleNotifier publishes style changes of one session.
type styleNotifier struct {
	bus *EventBus
	id  string
}

func (n styleNotifier) Changed() {
	metrics.StyleUpdatesTotal.Inc()
	n.bus.Publish(Event{Resource: "style", Action: "updated", ID: n.id})
}
