package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/linguameet/linguameet/pkg/model"
	"github.com/linguameet/linguameet/pkg/protocol"
)

// ServeWS upgrades an HTTP request to the coordinator's WebSocket protocol
// and runs the connection's read loop until it drops.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  protocol.MaxMessage,
		WriteBufferSize: protocol.MaxMessage,
		CheckOrigin:     s.checkOrigin,
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	c := newClient(model.ClientID(uuid.NewString()), ws, s.cfg.WriteTimeout)

	s.mu.Lock()
	s.registry.add(c)
	s.mu.Unlock()

	s.metrics.TotalConnections.Add(1)
	s.metrics.ActiveConnections.Add(1)
	slog.Info("client connected", "client_id", c.id, "remote", r.RemoteAddr)

	_ = c.send(protocol.NewYourID(c.id))

	s.mu.Lock()
	initial := s.snapshotLocked()
	s.mu.Unlock()
	_ = c.send(protocol.NewUserList(initial))

	s.readLoop(c, ws)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range s.cfg.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// readLoop pumps inbound messages into dispatch until the connection
// drops, then runs the disconnect path exactly once.
func (s *Server) readLoop(c *client, ws *websocket.Conn) {
	defer s.disconnect(c)

	ws.SetReadLimit(protocol.MaxMessage)
	if s.cfg.PingInterval > 0 {
		wait := s.cfg.PingInterval * 2
		_ = ws.SetReadDeadline(time.Now().Add(wait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(wait))
		})

		stop := make(chan struct{})
		defer close(stop)
		go s.pingLoop(c, stop)
	}

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("read failed", "client_id", c.id, "err", err)
			}
			return
		}
		s.dispatch(c, raw)
	}
}

func (s *Server) pingLoop(c *client, stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-stop:
			return
		case <-s.ctx.Done():
			return
		}
	}
}

// dispatch routes one inbound message by its type tag. Unknown types go
// through the generic relay. A message that fails to decode is dropped
// with an error notice; the connection itself stays up.
func (s *Server) dispatch(c *client, raw []byte) {
	h, err := protocol.DecodeHeader(raw)
	if err != nil {
		s.metrics.MalformedMessages.Add(1)
		slog.Debug("dropping malformed message", "client_id", c.id, "err", err)
		_ = c.send(protocol.NewError(codeMalformed, "malformed message"))
		return
	}

	switch h.Type {
	case protocol.TypeUserInfo:
		var upd protocol.UserInfo
		if err := protocol.Decode(raw, &upd); err != nil {
			s.metrics.MalformedMessages.Add(1)
			_ = c.send(protocol.NewError(codeMalformed, "malformed user_info"))
			return
		}
		s.setProfile(c, upd)

	case protocol.TypeCallRequest:
		s.requestCall(c, model.ClientID(h.TargetID))

	case protocol.TypeCallAccepted:
		s.acceptCall(c, model.ClientID(h.TargetID), h.CallID)

	case protocol.TypeCallRejected:
		s.rejectCall(c, model.ClientID(h.TargetID), h.CallID)

	case protocol.TypeCallEnded:
		var billing protocol.CallEnded
		if err := protocol.Decode(raw, &billing); err != nil {
			s.metrics.MalformedMessages.Add(1)
			_ = c.send(protocol.NewError(codeMalformed, "malformed call_ended"))
			return
		}
		s.endCall(c, billing)

	case protocol.TypeSubmitReview:
		var rev protocol.SubmitReview
		if err := protocol.Decode(raw, &rev); err != nil {
			s.metrics.MalformedMessages.Add(1)
			_ = c.send(protocol.NewError(codeMalformed, "malformed submit_review"))
			return
		}
		s.submitReview(c, rev)

	default:
		if h.TargetID == "" {
			s.metrics.RelayDropped.Add(1)
			slog.Debug("relay message without target", "client_id", c.id, "msg_type", h.Type)
			return
		}
		s.relay(c, model.ClientID(h.TargetID), raw)
	}
}
