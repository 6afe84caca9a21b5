package viewer

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/joeblew999/plat-regions/internal/api"
	"github.com/joeblew999/plat-regions/internal/drilldown"
	"github.com/joeblew999/plat-regions/internal/service"
)

// Message is a pointer event sent by the map script.
type Message struct {
	Type string `json:"type"` // "hover", "click" or "back"
	api.PointBody
}

// Reply is what the server sends back over the socket.
type Reply struct {
	Type     string              `json:"type"` // "snapshot", "hover" or "error"
	Applied  bool                `json:"applied,omitempty"`
	Outcome  drilldown.Outcome   `json:"outcome,omitempty"`
	Markers  []string            `json:"markers,omitempty"`
	Snapshot *drilldown.Snapshot `json:"snapshot,omitempty"`
	Error    string              `json:"error,omitempty"`
}

const writeTimeout = 5 * time.Second

// Socket carries high-rate pointer moves that would be wasteful as one
// HTTP request each. Register it on the mux with a {id} path value.
type Socket struct {
	sessions *service.SessionService
	// OriginPatterns is passed to websocket.Accept.
	OriginPatterns []string
	Logger         *slog.Logger
}

// NewSocket creates the WebSocket handler.
func NewSocket(sessions *service.SessionService, logger *slog.Logger) *Socket {
	if logger == nil {
		logger = slog.Default()
	}
	return &Socket{sessions: sessions, Logger: logger}
}

// ServeHTTP implements http.Handler.
func (s *Socket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.OriginPatterns})
	if err != nil {
		s.Logger.Warn("websocket accept failed", "err", err)
		return
	}
	defer c.CloseNow()
	defer sess.Attach()()

	log := s.Logger.With("session", sess.ID)
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go s.pushChanges(ctx, c, sess)

	if err := write(ctx, c, snapshotReply(sess)); err != nil {
		return
	}
	for {
		var msg Message
		if err := wsjson.Read(ctx, c, &msg); err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled) {
				log.Debug("websocket read ended", "err", err)
			}
			return
		}
		reply := s.handle(ctx, sess, msg)
		if err := write(ctx, c, reply); err != nil {
			log.Debug("websocket write failed", "err", err)
			return
		}
	}
}

func (s *Socket) handle(ctx context.Context, sess *service.Session, msg Message) Reply {
	switch msg.Type {
	case "hover":
		return Reply{Type: "hover", Applied: sess.Controller.Hover(msg.Point())}
	case "click":
		outcome := sess.Controller.Click(ctx, msg.Point())
		r := snapshotReply(sess)
		r.Outcome = outcome
		return r
	case "back":
		sess.Controller.Back()
		return snapshotReply(sess)
	}
	return Reply{Type: "error", Error: "unknown message type " + msg.Type}
}

// pushChanges forwards every controller change of the session.
func (s *Socket) pushChanges(ctx context.Context, c *websocket.Conn, sess *service.Session) {
	bus := s.sessions.Bus()
	ch := bus.Subscribe(service.Filter{ID: sess.ID, Resources: []string{"sessions"}})
	defer bus.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Action == "deleted" {
				c.Close(websocket.StatusGoingAway, "session closed")
				return
			}
			if err := write(ctx, c, snapshotReply(sess)); err != nil {
				return
			}
		}
	}
}

func snapshotReply(sess *service.Session) Reply {
	snap := sess.Controller.Snapshot()
	return Reply{Type: "snapshot", Snapshot: &snap, Markers: markerIDs(snap.Markers)}
}

func write(ctx context.Context, c *websocket.Conn, r Reply) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, c, r)
}
