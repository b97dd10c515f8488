package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/linguameet/linguameet/pkg/model"
	"github.com/linguameet/linguameet/pkg/protocol"
)

// persistTimeout bounds the background persistence-sink write after a call
// ends. Session cleanup never waits on it.
const persistTimeout = 10 * time.Second

// requestCall creates a Requested session between the initiator and either
// an explicitly named target or a randomly chosen idle speaker. Both
// participants' session back-references are set immediately, so neither
// can be matched again while the request is pending. Only the target is
// notified; the initiator stays in its client-side "requesting" state
// until the counterpart answers.
func (s *Server) requestCall(c *client, targetID model.ClientID) {
	s.mu.Lock()
	if c.sessionID != "" {
		s.mu.Unlock()
		_ = c.send(protocol.NewError(codeAlreadyInCall, "already in a call"))
		return
	}

	var target *client
	if targetID != "" {
		t := s.registry.lookup(targetID)
		if t == nil || t.profile.Role != model.RoleSpeaker || t.sessionID != "" {
			s.mu.Unlock()
			s.metrics.MatchFailures.Add(1)
			_ = c.send(protocol.NewNoSpeakerAvailable())
			return
		}
		target = t
	} else {
		idle := s.idleSpeakersLocked(c.id)
		if len(idle) == 0 {
			s.mu.Unlock()
			s.metrics.MatchFailures.Add(1)
			_ = c.send(protocol.NewNoSpeakerAvailable())
			return
		}
		target = idle[s.pick(len(idle))]
	}

	sess := &model.Session{
		ID:            uuid.NewString(),
		InitiatorID:   c.id,
		CounterpartID: target.id,
		State:         model.SessionRequested,
		RequestedAt:   s.now(),
	}
	s.sessions[sess.ID] = sess
	c.sessionID = sess.ID
	target.sessionID = sess.ID
	notify := protocol.NewCallRequestNotify(c.id, sess.ID, c.profile)
	s.mu.Unlock()

	s.metrics.CallsRequested.Add(1)
	slog.Info("call requested", "session", sess.ID, "initiator", c.id, "target", target.id)
	if err := target.send(notify); err != nil {
		// the target's read loop will notice the dead connection and
		// reject the pending session on its way out
		slog.Debug("call request send failed", "target", target.id, "err", err)
	}
	s.broadcastPresence()

	if ttl := s.cfg.PendingCallTTL; ttl > 0 {
		sid := sess.ID
		time.AfterFunc(ttl, func() { s.expirePending(sid) })
	}
}

// idleSpeakersLocked returns every profile-complete speaker with no
// session, excluding the requester. Caller holds the coordinator mutex.
func (s *Server) idleSpeakersLocked(exclude model.ClientID) []*client {
	var idle []*client
	for _, c := range s.registry.clients {
		if c.id == exclude {
			continue
		}
		if c.profile.Role == model.RoleSpeaker && c.profile.Complete() && c.sessionID == "" {
			idle = append(idle, c)
		}
	}
	return idle
}

// findRequestedLocked resolves a Requested session either by explicit id
// or by its (accepter, initiator) pair. Caller holds the coordinator mutex.
func (s *Server) findRequestedLocked(callID string, initiatorID, counterpartID model.ClientID) *model.Session {
	if callID != "" {
		sess := s.sessions[callID]
		if sess != nil && sess.State == model.SessionRequested && sess.CounterpartID == counterpartID {
			return sess
		}
		return nil
	}
	for _, sess := range s.sessions {
		if sess.State == model.SessionRequested && sess.CounterpartID == counterpartID && sess.InitiatorID == initiatorID {
			return sess
		}
	}
	return nil
}

// acceptCall transitions a Requested session to Active. The existence
// check and the transition happen as one step under the coordinator
// mutex, so of two racing accepts exactly one wins; the loser finds no
// Requested session and is dropped silently, producing no notifications.
func (s *Server) acceptCall(c *client, initiatorID model.ClientID, callID string) {
	s.mu.Lock()
	sess := s.findRequestedLocked(callID, initiatorID, c.id)
	if sess == nil {
		s.mu.Unlock()
		slog.Debug("accept for unknown or claimed session", "accepter", c.id, "initiator", initiatorID)
		return
	}
	initiator := s.registry.lookup(sess.InitiatorID)
	if initiator == nil {
		// unreachable while disconnect removes sessions before registry
		// entries, but do not pair against a ghost
		s.mu.Unlock()
		slog.Warn("accept found session without initiator", "session", sess.ID)
		return
	}
	_ = sess.Transition(model.SessionAccepted)
	_ = sess.Transition(model.SessionActive)
	sess.StartedAt = s.now()
	initiatorProfile := initiator.profile
	accepterProfile := c.profile
	s.mu.Unlock()

	s.metrics.CallsAccepted.Add(1)
	slog.Info("call accepted", "session", sess.ID, "initiator", initiator.id, "accepter", c.id)
	if err := initiator.send(protocol.NewCallStarted(accepterProfile)); err != nil {
		slog.Debug("call started send failed", "client_id", initiator.id, "err", err)
	}
	if err := c.send(protocol.NewCallAcceptedNotify(initiator.id, initiatorProfile)); err != nil {
		slog.Debug("call accepted send failed", "client_id", c.id, "err", err)
	}
	s.broadcastPresence()
}

// rejectCall declines a Requested session: the session is removed, both
// back-references cleared, and the initiator notified.
func (s *Server) rejectCall(c *client, initiatorID model.ClientID, callID string) {
	s.mu.Lock()
	sess := s.findRequestedLocked(callID, initiatorID, c.id)
	if sess == nil {
		s.mu.Unlock()
		slog.Debug("reject for unknown session", "rejecter", c.id, "initiator", initiatorID)
		return
	}
	_ = sess.Transition(model.SessionRejected)
	initiator := s.registry.lookup(sess.InitiatorID)
	s.clearSessionLocked(sess)
	s.mu.Unlock()

	s.metrics.CallsRejected.Add(1)
	slog.Info("call rejected", "session", sess.ID, "rejecter", c.id)
	if initiator != nil {
		if err := initiator.send(protocol.NewCallRejectedNotify()); err != nil {
			slog.Debug("call rejected send failed", "client_id", initiator.id, "err", err)
		}
	}
	s.broadcastPresence()
}

// endCall finishes the ender's Active session. In-memory cleanup and the
// call_ended_prompt notifications complete before the persistence write is
// even issued; the write runs detached on captured values and, once it
// succeeds, both participants receive the assigned record id.
func (s *Server) endCall(c *client, billing protocol.CallEnded) {
	s.mu.Lock()
	sess := s.sessions[c.sessionID]
	if sess == nil || sess.State != model.SessionActive {
		s.mu.Unlock()
		slog.Debug("end for non-active session", "client_id", c.id)
		return
	}
	_ = sess.Transition(model.SessionEnded)
	sess.EndedAt = s.now()
	peer := s.registry.lookup(sess.PeerOf(c.id))
	rec := buildCallRecord(sess, billing, c, peer)
	s.clearSessionLocked(sess)
	s.mu.Unlock()

	s.metrics.CallsEnded.Add(1)
	slog.Info("call ended", "session", sess.ID, "by", c.id)

	// users must see the call end immediately; persistence latency never
	// delays the prompt or the presence update
	prompt := protocol.NewCallEndedPrompt()
	if err := c.send(prompt); err != nil {
		slog.Debug("call ended prompt send failed", "client_id", c.id, "err", err)
	}
	if peer != nil {
		if err := peer.send(prompt); err != nil {
			slog.Debug("call ended prompt send failed", "client_id", peer.id, "err", err)
		}
	}
	s.broadcastPresence()

	s.persistCall(rec, c, peer)
}

// clearSessionLocked removes a terminal session from the store and clears
// both participants' back-references. Caller holds the coordinator mutex.
func (s *Server) clearSessionLocked(sess *model.Session) {
	a, b := sess.Participants()
	for _, id := range []model.ClientID{a, b} {
		if c := s.registry.lookup(id); c != nil && c.sessionID == sess.ID {
			c.sessionID = ""
		}
	}
	delete(s.sessions, sess.ID)
}

// expirePending rejects a Requested session that was never answered.
// Runs from a timer, so it re-checks state under the coordinator mutex:
// if the session was accepted, rejected, or torn down in the meantime
// this is a no-op.
func (s *Server) expirePending(sessionID string) {
	s.mu.Lock()
	sess := s.sessions[sessionID]
	if sess == nil || sess.State != model.SessionRequested {
		s.mu.Unlock()
		return
	}
	_ = sess.Transition(model.SessionRejected)
	initiator := s.registry.lookup(sess.InitiatorID)
	target := s.registry.lookup(sess.CounterpartID)
	s.clearSessionLocked(sess)
	s.mu.Unlock()

	s.metrics.CallsExpired.Add(1)
	slog.Info("pending call expired", "session", sessionID)
	if initiator != nil {
		_ = initiator.send(protocol.NewCallRejectedNotify())
	}
	if target != nil {
		_ = target.send(protocol.NewPeerUnavailable())
	}
	s.broadcastPresence()
}

// buildCallRecord assembles the billing record from the client-reported
// fields, falling back to server-side session data where the report is
// incomplete. Everything is captured by value: the record must stay valid
// after the session and clients are gone.
func buildCallRecord(sess *model.Session, billing protocol.CallEnded, participants ...*client) model.CallRecord {
	rec := model.CallRecord{
		LearnerEmail:    billing.LearnerEmail,
		SpeakerEmail:    billing.SpeakerEmail,
		DurationSeconds: billing.Duration,
		StartedAt:       sess.StartedAt,
		EndedAt:         sess.EndedAt,
	}
	// client timestamps are Unix milliseconds
	if billing.StartTime > 0 {
		rec.StartedAt = time.UnixMilli(billing.StartTime).UTC()
	}
	if billing.EndTime > 0 {
		rec.EndedAt = time.UnixMilli(billing.EndTime).UTC()
	}
	for _, c := range participants {
		if c == nil {
			continue
		}
		switch c.profile.Role {
		case model.RoleLearner:
			if rec.LearnerEmail == "" {
				rec.LearnerEmail = c.profile.Email
			}
		case model.RoleSpeaker:
			if rec.SpeakerEmail == "" {
				rec.SpeakerEmail = c.profile.Email
			}
		}
	}
	if rec.DurationSeconds == 0 && !sess.StartedAt.IsZero() {
		rec.DurationSeconds = int64(sess.EndedAt.Sub(sess.StartedAt) / time.Second)
	}
	return rec
}

// persistCall writes the call record to the sink on a detached goroutine
// and relays the assigned id to the surviving participants. A failed
// write is logged and absorbed: cleanup already happened and is not
// rolled back, the participants simply never receive call_id_assigned.
func (s *Server) persistCall(rec model.CallRecord, participants ...*client) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()

		id, err := s.store.AppendCall(ctx, rec)
		if err != nil {
			s.metrics.PersistenceFailures.Add(1)
			slog.Error("call record write failed", "err", err)
			return
		}
		slog.Debug("call record persisted", "db_call_id", id)

		msg := protocol.NewCallIDAssigned(id)
		for _, c := range participants {
			if c == nil {
				continue
			}
			if err := c.send(msg); err != nil {
				slog.Debug("call id send failed", "client_id", c.id, "err", err)
			}
		}
	}()
}

// submitReview appends a post-call review to the sink, fire-and-forget.
func (s *Server) submitReview(c *client, rev protocol.SubmitReview) {
	review := model.Review{
		CallID:          rev.CallID,
		ReviewedEmail:   rev.ReviewedEmail,
		ReviewedByEmail: rev.ReviewedByEmail,
		Rating:          rev.Rating,
		Feedback:        rev.Feedback,
	}
	if err := review.Validate(); err != nil {
		s.metrics.MalformedMessages.Add(1)
		slog.Debug("dropping invalid review", "client_id", c.id, "err", err)
		return
	}

	s.metrics.ReviewsSubmitted.Add(1)
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()

		if err := s.store.AppendReview(ctx, review); err != nil {
			s.metrics.PersistenceFailures.Add(1)
			slog.Error("review write failed", "call_id", review.CallID, "err", err)
		}
	}()
}
