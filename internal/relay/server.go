package relay

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roomlink/signal-relay/internal/config"
	"github.com/roomlink/signal-relay/internal/metrics"
	"github.com/roomlink/signal-relay/internal/origin"
	"github.com/roomlink/signal-relay/internal/ratelimit"
)

const (
	chatPathPrefix = "/chat/"

	wsWriteWait = 1 * time.Second
)

// Server terminates the chat WebSocket endpoint and runs one read loop per
// connection against the shared room registry.
type Server struct {
	cfg     config.Config
	log     *slog.Logger
	metrics *metrics.Metrics
	rooms   *Registry
	clock   ratelimit.Clock

	// static serves non-upgrade requests on the chat path (the browser app
	// loads the same /chat/<roomId> URL as a page first). Nil = API only.
	static http.Handler

	upgrader websocket.Upgrader
}

func NewServer(cfg config.Config, rooms *Registry, m *metrics.Metrics, clock ratelimit.Clock, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if clock == nil {
		clock = ratelimit.RealClock{}
	}
	s := &Server{
		cfg:     cfg,
		log:     logger,
		metrics: m,
		rooms:   rooms,
		clock:   clock,
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

// SetStaticHandler installs the fallback for plain HTTP requests on the chat
// path. It must only be called during startup.
func (s *Server) SetStaticHandler(h http.Handler) { s.static = h }

// RegisterRoutes mounts the chat endpoint. It must only be called during
// startup.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET "+chatPathPrefix, http.HandlerFunc(s.handleChat))
}

func (s *Server) checkOrigin(r *http.Request) bool {
	originHeader := strings.TrimSpace(r.Header.Get("Origin"))
	if originHeader == "" {
		return true
	}

	normalized, originHost, ok := origin.Normalize(originHeader)
	if !ok {
		return false
	}
	return origin.Allowed(normalized, originHost, r.Host, s.cfg.AllowedOrigins)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		if s.static != nil {
			s.static.ServeHTTP(w, r)
			return
		}
		http.Error(w, "websocket upgrade required", http.StatusUpgradeRequired)
		return
	}

	// The room identifier is the path suffix, taken verbatim as an opaque
	// token. Only its length is validated.
	roomID := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, chatPathPrefix))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	wc := newWSConn(conn)
	defer wc.close()

	s.metrics.Inc(metrics.Connections)

	if len(roomID) < s.cfg.MinRoomIDLength {
		s.metrics.Inc(metrics.ConnectionsRejected)
		s.log.Info("chat_connection_rejected", "reason", "invalid room id", "remote_addr", r.RemoteAddr)
		wc.closeWith(websocket.ClosePolicyViolation, "Invalid chat ID")
		return
	}

	s.log.Info("chat_connected", "room_id", roomID, "remote_addr", r.RemoteAddr)

	c := &chatConn{
		server: s,
		roomID: roomID,
		conn:   wc,
		limiter: ratelimit.NewTokenBucket(
			s.clock,
			int64(s.cfg.MaxChatMessagesPerSecond),
			int64(s.cfg.MaxChatMessagesPerSecond),
		),
	}

	// Disconnect handling runs for abrupt closes and transport faults alike;
	// it is idempotent with an earlier explicit leave.
	defer func() {
		c.disconnect()
		s.log.Info("chat_disconnected", "room_id", roomID, "remote_addr", r.RemoteAddr)
	}()

	stopPing := make(chan struct{})
	defer close(stopPing)
	go s.pingLoop(wc, stopPing)

	conn.SetReadLimit(s.cfg.MaxChatMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.WSIdleTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.WSIdleTimeout))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !isExpectedClose(err) {
				s.log.Error("chat_read_failed", "room_id", roomID, "err", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.WSIdleTimeout))

		if !c.limiter.Allow() {
			s.metrics.Inc(metrics.RateLimited)
			wc.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		c.dispatch(raw)
	}
}

func (s *Server) pingLoop(wc *wsConn, stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.WSPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := wc.ping(); err != nil {
				return
			}
		}
	}
}

// chatConn is the per-connection relay state: at most one (room, name)
// binding at a time.
type chatConn struct {
	server  *Server
	roomID  string
	conn    *wsConn
	limiter *ratelimit.TokenBucket

	room *Room
	name string
}

// dispatch routes one inbound frame. The switch over message types is closed;
// unknown types hit the default arm.
func (c *chatConn) dispatch(raw []byte) {
	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.sendError(errTextInvalidFormat)
		return
	}

	switch msg.Type {
	case typeJoin:
		c.handleJoin(msg.User)
	case typeMessage:
		c.handleMessage(msg.From, msg.Text)
	case typeVideoStarted:
		c.handleVideoNotice(eventVideoStarted, msg.User)
	case typeVideoStopped:
		c.handleVideoNotice(eventVideoStopped, msg.User)
	case typeOffer, typeAnswer, typeICECandidate:
		c.handleSignal(msg.To, raw)
	case typeLeave:
		c.handleLeave(msg.User)
	default:
		c.sendError(errTextUnknownType)
	}
}

func (c *chatConn) handleJoin(name string) {
	s := c.server

	if name == "" {
		c.sendError(errTextMissingUser)
		return
	}
	if c.room != nil {
		c.sendError(errTextAlreadyJoined)
		return
	}

	room, err := s.rooms.Join(c.roomID, name, c.conn)
	switch {
	case err == nil:
		c.room, c.name = room, name
		s.metrics.Inc(metrics.ParticipantsJoined)
		s.log.Debug("chat_joined", "room_id", c.roomID, "user", name)
	case errors.Is(err, ErrDuplicateName):
		s.metrics.Inc(metrics.JoinRejectedDuplicate)
		c.sendError(errTextDuplicateUser)
	case errors.Is(err, ErrRoomFull):
		s.metrics.Inc(metrics.JoinRejectedRoomFull)
		c.sendError(errTextRoomFull)
	case errors.Is(err, ErrTooManyRooms):
		s.metrics.Inc(metrics.JoinRejectedTooManyRms)
		c.sendError(errTextTooManyRooms)
	default:
		c.sendError(errTextInvalidFormat)
	}
}

func (c *chatConn) handleMessage(from, text string) {
	s := c.server

	if c.room == nil {
		c.sendError(errTextNotInChat)
		return
	}
	_, err := c.room.Publish(from, text, s.clock.Now().UnixMilli())
	if err != nil {
		c.sendError(errTextNotInChat)
		return
	}
	s.metrics.Inc(metrics.ChatMessagesRelayed)
}

func (c *chatConn) handleVideoNotice(event, user string) {
	if c.room == nil {
		return
	}
	c.room.Broadcast(encodeEvent(userEvent{Type: event, User: user}), user)
}

func (c *chatConn) handleSignal(to string, raw []byte) {
	s := c.server

	if c.room == nil {
		return
	}
	if c.room.Signal(to, raw) {
		s.metrics.Inc(metrics.SignalsForwarded)
	} else {
		s.metrics.Inc(metrics.SignalTargetMissing)
	}
}

func (c *chatConn) handleLeave(user string) {
	if c.room == nil {
		return
	}
	removed, empty := c.room.Disconnect(user, c.conn)
	if empty {
		c.server.rooms.Evict(c.room.ID(), c.room)
	}
	if removed {
		c.server.metrics.Inc(metrics.ParticipantsLeft)
		if user == c.name {
			c.room, c.name = nil, ""
		}
	}
}

// disconnect is the cleanup path shared by explicit leave, abrupt stream
// closure, and transport errors. Safe to call more than once.
func (c *chatConn) disconnect() {
	room := c.room
	if room == nil {
		return
	}
	removed, empty := room.Disconnect(c.name, c.conn)
	if empty {
		c.server.rooms.Evict(room.ID(), room)
	}
	if removed {
		c.server.metrics.Inc(metrics.ParticipantsLeft)
	}
	c.room, c.name = nil, ""
}

func (c *chatConn) sendError(text string) {
	c.server.metrics.Inc(metrics.ProtocolErrors)
	_ = c.conn.Send(encodeEvent(errorEvent{Type: eventError, Message: text}))
}

// wsConn serializes writes to one gorilla connection and implements Conn.
type wsConn struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

func (c *wsConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return net.ErrClosed
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return net.ErrClosed
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

func (c *wsConn) closeWith(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
	_ = c.conn.Close()
}

func (c *wsConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	_ = c.conn.Close()
}

func isExpectedClose(err error) bool {
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return true
	}
	return isTimeout(err)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
