package relay

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/1ureka/rendezvous/internal/config"
	"github.com/1ureka/rendezvous/internal/util"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server accepts WebSocket transports and feeds them to a Relay.
type Server struct {
	relay *Relay
	cfg   config.Relay

	mu    sync.Mutex
	conns map[*wsConn]struct{}
}

// NewServer creates a server for r.
func NewServer(r *Relay, cfg config.Relay) *Server {
	return &Server{
		relay: r,
		cfg:   cfg,
		conns: make(map[*wsConn]struct{}),
	}
}

// Handler returns the HTTP routes: the WebSocket endpoint at / and /ws, and
// a health check at /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWS)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Close closes every open transport.
func (s *Server) Close() {
	s.mu.Lock()
	conns := make([]*wsConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.LogDebug("relay: upgrade failed: %v", err)
		return
	}

	c := &wsConn{
		id:   uuid.NewString(),
		conn: conn,
		out:  make(chan []byte, s.cfg.SendQueue),
		done: make(chan struct{}),
	}
	c.live.Store(true)

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	util.Stats.AddConn()
	s.relay.Connect(c)

	go c.writePump(s.cfg.PingInterval, s.cfg.WriteTimeout)
	s.readLoop(c)

	c.close()
	s.relay.Disconnect(c)
	util.Stats.RemoveConn()

	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// readLoop forwards inbound frames to the relay until the transport fails or
// misses a pong.
func (s *Server) readLoop(c *wsConn) {
	pongWait := s.cfg.PingInterval + s.cfg.WriteTimeout

	c.conn.SetReadLimit(s.cfg.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				util.LogDebug("relay: connection %s read error: %v", c.id, err)
			}
			return
		}
		s.relay.Message(c, frame)
	}
}

// ---------------------------------------------------------------------------
// Connection
// ---------------------------------------------------------------------------

// wsConn is one relay transport. Frames are written only by writePump.
type wsConn struct {
	id   string
	conn *websocket.Conn

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
	live      atomic.Bool
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Live() bool { return c.live.Load() }

func (c *wsConn) Send(frame []byte) error {
	if !c.live.Load() {
		return ErrNotLive
	}

	select {
	case c.out <- frame:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// close marks the transport dead and stops the write pump, which sends a
// close frame and releases the socket.
func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		c.live.Store(false)
		close(c.done)
	})
}

func (c *wsConn) writePump(pingInterval, writeWait time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.live.Store(false)
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				util.LogDebug("relay: connection %s write error: %v", c.id, err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
