package server

import (
	"encoding/json"
	"log/slog"

	"github.com/linguameet/linguameet/pkg/model"
)

// relay forwards any message type the coordinator has no handler for to
// the connection named by targetId, stamping the sender's id so the
// recipient can answer. The payload itself is opaque: SDP offers, ICE
// candidates, chat, whatever the clients exchange. Messages with no
// resolvable target are dropped silently; a stale target id after a
// disconnect is normal, not an error.
func (s *Server) relay(c *client, targetID model.ClientID, raw []byte) {
	s.mu.Lock()
	target := s.registry.lookup(targetID)
	s.mu.Unlock()

	if target == nil {
		s.metrics.RelayDropped.Add(1)
		slog.Debug("relay target gone", "from", c.id, "target", targetID)
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.metrics.MalformedMessages.Add(1)
		slog.Debug("dropping malformed relay payload", "client_id", c.id, "err", err)
		return
	}
	payload["senderId"] = string(c.id)

	if err := target.send(payload); err != nil {
		s.metrics.RelayDropped.Add(1)
		slog.Debug("relay send failed", "target", target.id, "err", err)
		return
	}
	s.metrics.MessagesRelayed.Add(1)
}
