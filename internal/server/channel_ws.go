package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/thub/thub/internal/domain"
	"github.com/thub/thub/internal/netutil"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingInterval = 25 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn adapts a gorilla connection to the registry's Conn. The upgrade
// happens in Accept so the registry records membership only for sockets
// that completed the handshake.
type wsConn struct {
	w         http.ResponseWriter
	r         *http.Request
	readLimit int64

	stateMu   sync.Mutex
	conn      *websocket.Conn
	goingAway bool
	writeMu   sync.Mutex
	closeOnce sync.Once
}

var errServerShuttingDown = errors.New("server shutting down")

func newWSConn(w http.ResponseWriter, r *http.Request, readLimit int64) *wsConn {
	return &wsConn{w: w, r: r, readLimit: readLimit}
}

func (c *wsConn) Accept(_ context.Context) error {
	conn, err := wsUpgrader.Upgrade(c.w, c.r, nil)
	if err != nil {
		return err
	}
	if c.readLimit > 0 {
		conn.SetReadLimit(c.readLimit)
	}
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.goingAway {
		writeGoingAway(conn)
		_ = conn.Close()
		return errServerShuttingDown
	}
	c.conn = conn
	c.conn = conn
	return nil
}

func (c *wsConn) Send(ctx context.Context, message string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(wsWriteTimeout)
	}
	_ = c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteMessage(websocket.TextMessage, []byte(message))
}

func (c *wsConn) ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
}

func (c *wsConn) close() {
	c.stateMu.Lock()
	conn := c.conn
	c.stateMu.Unlock()
	if conn == nil {
		return
	}
	c.closeOnce.Do(func() {
		_ = conn.Close()
	})
}

// closeGoingAway tells the peer the server is shutting down, then drops the
// connection, which ends the handler's read loop. Before the handshake it
// only marks the conn so Accept refuses it.
func (c *wsConn) closeGoingAway() {
	c.stateMu.Lock()
	c.goingAway = true
	conn := c.conn
	c.stateMu.Unlock()
	if conn == nil {
		return
	}
	writeGoingAway(conn)
	c.close()
}

func writeGoingAway(conn *websocket.Conn) {
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
		time.Now().Add(time.Second),
	)
}

func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !netutil.IsWebSocketUpgrade(r.Header) {
		s.handleChannelStatus(w, r, name)
		return
	}

	username, err := s.gate.AuthenticateWebSocket(r)
	if err != nil {
		rejectWebSocket(w, r)
		return
	}

	c := newWSConn(w, r, s.cfg.WSReadLimit)
	if !s.sessions.add(c) {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.sessions.remove(c)

	member, err := s.registry.Connect(r.Context(), name, username, c)
	if err != nil {
		if !errors.Is(err, errServerShuttingDown) {
			s.log.Warn("websocket join failed", "channel", name, "username", username, "err", err)
		}
		c.close()
		return
	}
	defer func() {
		s.registry.Disconnect(name, member.ID)
		c.close()
	}()

	stopPing := make(chan struct{})
	defer close(stopPing)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopPing:
				return
			case <-ticker.C:
				if err := c.ping(); err != nil {
					return
				}
			}
		}
	}()

	s.readChannelMessages(r.Context(), c, member)
}

func (s *Server) readChannelMessages(ctx context.Context, c *wsConn, member domain.Member) {
	for {
		msgType, payload, err := c.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if !errors.As(err, &ce) {
				s.log.Debug("websocket read ended", "channel", member.Channel, "member_id", member.ID, "err", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			s.log.Debug("websocket non-text frame ignored", "channel", member.Channel, "member_id", member.ID)
			continue
		}
		s.registry.Broadcast(ctx, member.Channel, string(payload), member.ID)
	}
}

// rejectWebSocket completes the handshake and immediately closes with a
// policy violation so browser clients see a close code instead of a bare
// HTTP failure.
func rejectWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized"),
		time.Now().Add(time.Second),
	)
	_ = conn.Close()
}

func (s *Server) handleChannelStatus(w http.ResponseWriter, r *http.Request, name string) {
	if _, err := s.gate.Authenticate(r); err != nil {
		writeJSON(w, http.StatusUnauthorized, domain.ErrorResponse{Error: "unauthorized"})
		return
	}
	writeJSON(w, http.StatusOK, domain.ChannelStatus{Channel: name, Count: s.registry.Count(name)})
}
