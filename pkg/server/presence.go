package server

import (
	"log/slog"
	"sort"

	"github.com/linguameet/linguameet/pkg/model"
	"github.com/linguameet/linguameet/pkg/protocol"
)

// setProfile applies a partial profile update from a client and pushes the
// refreshed presence snapshot to everyone. Structurally invalid values are
// reported back and the update is dropped as a whole.
func (s *Server) setProfile(c *client, upd protocol.UserInfo) {
	if upd.Email != nil {
		if err := model.ValidateEmail(*upd.Email); err != nil {
			_ = c.send(protocol.NewError(codeInvalidProfile, err.Error()))
			return
		}
	}
	if upd.Role != nil && !model.ParseRole(*upd.Role).Valid() {
		_ = c.send(protocol.NewError(codeInvalidProfile, "role must be learner or speaker"))
		return
	}

	s.mu.Lock()
	upd.Apply(&c.profile)
	s.mu.Unlock()

	s.metrics.ProfileUpdates.Add(1)
	slog.Debug("profile updated", "client_id", c.id)
	s.broadcastPresence()
}

// snapshotLocked builds the presence projection: every client with a
// complete profile (email and role both set), flagged busy when it is
// part of a session. Caller holds the coordinator mutex.
func (s *Server) snapshotLocked() []protocol.UserEntry {
	entries := make([]protocol.UserEntry, 0, s.registry.count())
	for _, c := range s.registry.clients {
		if !c.profile.Complete() {
			continue
		}
		entries = append(entries, protocol.UserEntry{
			ID:       string(c.id),
			Email:    c.profile.Email,
			Role:     c.profile.Role.String(),
			Name:     c.profile.Name,
			Age:      c.profile.Age,
			Bio:      c.profile.Bio,
			Image:    c.profile.Image,
			Location: c.profile.Location,
			InCall:   c.sessionID != "",
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}

// broadcastPresence sends the full snapshot to every connection. The list
// is never filtered per recipient: everyone sees the identical state.
func (s *Server) broadcastPresence() {
	s.mu.Lock()
	users := s.snapshotLocked()
	targets := s.registry.all()
	s.mu.Unlock()

	msg := protocol.NewUserList(users)
	for _, c := range targets {
		if err := c.send(msg); err != nil {
			slog.Debug("presence send failed", "client_id", c.id, "err", err)
		}
	}
	s.metrics.PresenceBroadcasts.Add(1)
}
