package model

import (
	"errors"
	"time"
)

// SessionState tracks a call negotiation through its lifecycle.
type SessionState int

const (
	SessionRequested SessionState = iota // initiator asked, counterpart not yet answered
	SessionAccepted                      // counterpart said yes, handshake completing
	SessionActive                        // both sides notified, call in progress
	SessionEnded                         // terminal: call finished normally or by disconnect
	SessionRejected                      // terminal: counterpart declined, expired, or vanished
)

func (s SessionState) String() string {
	switch s {
	case SessionRequested:
		return "requested"
	case SessionAccepted:
		return "accepted"
	case SessionActive:
		return "active"
	case SessionEnded:
		return "ended"
	case SessionRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

var ErrIllegalTransition = errors.New("illegal session state transition")

// Session is the negotiation/execution record for one call between exactly
// two clients. It exists if and only if both participants' session
// back-references point at it; terminal sessions are removed from the store
// immediately after their notifications are dispatched.
type Session struct {
	ID            string
	InitiatorID   ClientID
	CounterpartID ClientID
	State         SessionState
	RequestedAt   time.Time
	StartedAt     time.Time
	EndedAt       time.Time
}

// Transition moves the session to a new state, enforcing the legal graph:
//
//	Requested -> Accepted -> Active -> Ended
//	Requested -> Rejected
//
// Any other edge returns ErrIllegalTransition and leaves the state untouched.
func (s *Session) Transition(to SessionState) error {
	ok := false
	switch s.State {
	case SessionRequested:
		ok = to == SessionAccepted || to == SessionRejected
	case SessionAccepted:
		ok = to == SessionActive
	case SessionActive:
		ok = to == SessionEnded
	}
	if !ok {
		return ErrIllegalTransition
	}
	s.State = to
	return nil
}

// Participants returns both participant ids.
func (s *Session) Participants() (ClientID, ClientID) {
	return s.InitiatorID, s.CounterpartID
}

// PeerOf returns the other participant, or "" if id is not a participant.
func (s *Session) PeerOf(id ClientID) ClientID {
	switch id {
	case s.InitiatorID:
		return s.CounterpartID
	case s.CounterpartID:
		return s.InitiatorID
	default:
		return ""
	}
}

// Has reports whether id is one of the two participants.
func (s *Session) Has(id ClientID) bool {
	return id == s.InitiatorID || id == s.CounterpartID
}
