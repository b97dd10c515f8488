// Package protocol defines the tagged JSON messages exchanged over the
// per-client WebSocket connection.
//
// Every message is a JSON object whose "type" field selects the payload
// shape. Types the coordinator does not recognize are relayed verbatim to
// the addressed target with a stamped senderId, so this package only
// enumerates the types the server itself produces or consumes.
package protocol

import (
	"encoding/json"
	"fmt"
)

// MaxMessage is the maximum accepted inbound message size in bytes.
// Signaling payloads (session descriptions, candidate lists) stay well
// under this; anything larger is a protocol violation.
const MaxMessage = 65536

// Message type tags.
const (
	TypeYourID             = "your_id"
	TypeUserInfo           = "user_info"
	TypeUserList           = "user_list"
	TypeCallRequest        = "call_request"
	TypeNoSpeakerAvailable = "no_speaker_available"
	TypeCallAccepted       = "call_accepted"
	TypeCallStarted        = "call_started"
	TypeCallRejected       = "call_rejected"
	TypeCallEnded          = "call_ended"
	TypeCallEndedPrompt    = "call_ended_prompt"
	TypeCallIDAssigned     = "call_id_assigned"
	TypePeerUnavailable    = "peer_unavailable"
	TypeSubmitReview       = "submit_review"
	TypeError              = "error"
)

// Header is the minimal projection decoded from every inbound message to
// drive dispatch. TargetID addresses explicit-target operations and the
// generic relay; CallID optionally pins accept/reject to a session.
type Header struct {
	Type     string `json:"type"`
	TargetID string `json:"targetId,omitempty"`
	CallID   string `json:"callId,omitempty"`
}

// DecodeHeader parses the type tag (and addressing fields) of a raw
// inbound message. A missing type is a malformed message.
func DecodeHeader(data []byte) (Header, error) {
	var h Header
	if err := json.Unmarshal(data, &h); err != nil {
		return Header{}, fmt.Errorf("protocol: decode header: %w", err)
	}
	if h.Type == "" {
		return Header{}, fmt.Errorf("protocol: message has no type tag")
	}
	return h, nil
}

// Decode parses a full inbound message into the typed payload for its tag.
func Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("protocol: decode message: %w", err)
	}
	return nil
}
