package server

import (
	"log/slog"

	"github.com/linguameet/linguameet/pkg/model"
	"github.com/linguameet/linguameet/pkg/protocol"
)

// disconnect tears down a departed connection. Session cleanup runs first
// and the registry entry is removed last, so every intermediate step can
// still resolve the id. An Active session ends as if the departed side had
// ended it (the record falls back to server-side timestamps); a Requested
// one is rejected and the survivor told the peer went away.
func (s *Server) disconnect(c *client) {
	s.mu.Lock()
	sess := s.sessions[c.sessionID]

	var (
		peer      *client
		rec       model.CallRecord
		wasActive bool
	)
	if sess != nil {
		peer = s.registry.lookup(sess.PeerOf(c.id))
		switch sess.State {
		case model.SessionActive:
			wasActive = true
			_ = sess.Transition(model.SessionEnded)
			sess.EndedAt = s.now()
			rec = buildCallRecord(sess, protocol.CallEnded{}, c, peer)
		default:
			_ = sess.Transition(model.SessionRejected)
		}
		s.clearSessionLocked(sess)
	}
	s.registry.remove(c.id)
	s.mu.Unlock()

	s.metrics.TotalDisconnects.Add(1)
	s.metrics.ActiveConnections.Add(-1)
	slog.Info("client disconnected", "client_id", c.id)

	if sess != nil {
		if wasActive {
			s.metrics.CallsEnded.Add(1)
			if peer != nil {
				if err := peer.send(protocol.NewCallEndedPrompt()); err != nil {
					slog.Debug("call ended prompt send failed", "client_id", peer.id, "err", err)
				}
			}
			// only the surviving side can still receive the record id
			s.persistCall(rec, peer)
		} else if peer != nil {
			var notice any
			if sess.InitiatorID == c.id {
				notice = protocol.NewPeerUnavailable()
			} else {
				notice = protocol.NewCallRejectedNotify()
			}
			if err := peer.send(notice); err != nil {
				slog.Debug("peer notice send failed", "client_id", peer.id, "err", err)
			}
		}
	}

	s.broadcastPresence()
	_ = c.close()
}
