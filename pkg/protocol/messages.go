package protocol

import "github.com/linguameet/linguameet/pkg/model"

// ----- Server -> client -----

// YourID is sent once immediately after the connection is established.
type YourID struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func NewYourID(id model.ClientID) YourID {
	return YourID{Type: TypeYourID, ID: string(id)}
}

// UserEntry is one row of the presence snapshot.
type UserEntry struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	Name     string `json:"name,omitempty"`
	Age      int    `json:"age,omitempty"`
	Bio      string `json:"bio,omitempty"`
	Image    string `json:"image,omitempty"`
	Location string `json:"location,omitempty"`
	InCall   bool   `json:"inCall"`
}

// UserList carries the full presence snapshot. Every connected client
// receives the identical complete list on every change; the fan-out is
// deliberately non-incremental so clients can never diverge.
type UserList struct {
	Type  string      `json:"type"`
	Users []UserEntry `json:"users"`
}

func NewUserList(users []UserEntry) UserList {
	if users == nil {
		users = []UserEntry{}
	}
	return UserList{Type: TypeUserList, Users: users}
}

// Opponent is the public profile of the other call participant, flattened
// into call notifications.
type Opponent struct {
	OpponentEmail    string `json:"opponentEmail"`
	OpponentRole     string `json:"opponentRole,omitempty"`
	OpponentName     string `json:"opponentName,omitempty"`
	OpponentAge      int    `json:"opponentAge,omitempty"`
	OpponentBio      string `json:"opponentBio,omitempty"`
	OpponentImage    string `json:"opponentImage,omitempty"`
	OpponentLocation string `json:"opponentLocation,omitempty"`
}

// OpponentFromProfile projects a profile into its public notification form.
func OpponentFromProfile(p model.Profile) Opponent {
	return Opponent{
		OpponentEmail:    p.Email,
		OpponentRole:     p.Role.String(),
		OpponentName:     p.Name,
		OpponentAge:      p.Age,
		OpponentBio:      p.Bio,
		OpponentImage:    p.Image,
		OpponentLocation: p.Location,
	}
}

// CallRequestNotify tells a speaker that a learner wants a call.
type CallRequestNotify struct {
	Type     string `json:"type"`
	SenderID string `json:"senderId"`
	CallID   string `json:"callId"`
	Opponent
}

func NewCallRequestNotify(initiator model.ClientID, callID string, p model.Profile) CallRequestNotify {
	return CallRequestNotify{
		Type:     TypeCallRequest,
		SenderID: string(initiator),
		CallID:   callID,
		Opponent: OpponentFromProfile(p),
	}
}

// NoSpeakerAvailable reports a failed match attempt to the initiator.
type NoSpeakerAvailable struct {
	Type string `json:"type"`
}

func NewNoSpeakerAvailable() NoSpeakerAvailable {
	return NoSpeakerAvailable{Type: TypeNoSpeakerAvailable}
}

// CallStarted tells the initiator the counterpart accepted.
type CallStarted struct {
	Type string `json:"type"`
	Opponent
}

func NewCallStarted(p model.Profile) CallStarted {
	return CallStarted{Type: TypeCallStarted, Opponent: OpponentFromProfile(p)}
}

// CallAcceptedNotify confirms the acceptance back to the accepter.
type CallAcceptedNotify struct {
	Type     string `json:"type"`
	SenderID string `json:"senderId"`
	Opponent
}

func NewCallAcceptedNotify(initiator model.ClientID, p model.Profile) CallAcceptedNotify {
	return CallAcceptedNotify{
		Type:     TypeCallAccepted,
		SenderID: string(initiator),
		Opponent: OpponentFromProfile(p),
	}
}

// CallRejectedNotify tells the initiator the request was declined
// (explicitly, or by the pending-call timeout).
type CallRejectedNotify struct {
	Type string `json:"type"`
}

func NewCallRejectedNotify() CallRejectedNotify {
	return CallRejectedNotify{Type: TypeCallRejected}
}

// CallEndedPrompt is delivered to both participants the moment a call
// ends, strictly before any persistence side effect.
type CallEndedPrompt struct {
	Type string `json:"type"`
}

func NewCallEndedPrompt() CallEndedPrompt {
	return CallEndedPrompt{Type: TypeCallEndedPrompt}
}

// CallIDAssigned follows up with the persisted record id once the sink
// write completes.
type CallIDAssigned struct {
	Type     string `json:"type"`
	DBCallID int64  `json:"dbCallId"`
}

func NewCallIDAssigned(id int64) CallIDAssigned {
	return CallIDAssigned{Type: TypeCallIDAssigned, DBCallID: id}
}

// PeerUnavailable tells the surviving party of a pending request that the
// other side disconnected before answering.
type PeerUnavailable struct {
	Type string `json:"type"`
}

func NewPeerUnavailable() PeerUnavailable {
	return PeerUnavailable{Type: TypePeerUnavailable}
}

// ErrorMessage reports a non-fatal protocol error to one connection.
type ErrorMessage struct {
	Type    string `json:"type"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func NewError(code int, message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Code: code, Message: message}
}

// ----- Client -> server -----

// UserInfo is a partial profile update. Pointer fields distinguish
// "absent" from "set to zero": absent fields retain their previous value.
type UserInfo struct {
	Email    *string `json:"email"`
	Role     *string `json:"role"`
	Name     *string `json:"name"`
	Age      *int    `json:"age"`
	Bio      *string `json:"bio"`
	Image    *string `json:"image"`
	Location *string `json:"location"`
}

// Apply merges the update into a profile, leaving absent fields untouched.
func (u UserInfo) Apply(p *model.Profile) {
	if u.Email != nil {
		p.Email = *u.Email
	}
	if u.Role != nil {
		p.Role = model.ParseRole(*u.Role)
	}
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.Age != nil {
		p.Age = *u.Age
	}
	if u.Bio != nil {
		p.Bio = *u.Bio
	}
	if u.Image != nil {
		p.Image = *u.Image
	}
	if u.Location != nil {
		p.Location = *u.Location
	}
}

// CallEnded carries the billing fields the ending client reports.
// Zero-valued fields fall back to the server's own session timestamps.
type CallEnded struct {
	LearnerEmail string `json:"learner_email"`
	SpeakerEmail string `json:"speaker_email"`
	Duration     int64  `json:"duration"`
	StartTime    int64  `json:"startTime"`
	EndTime      int64  `json:"endTime"`
}

// SubmitReview is the post-call review submission.
type SubmitReview struct {
	CallID          int64  `json:"call_id"`
	ReviewedEmail   string `json:"reviewed_email"`
	ReviewedByEmail string `json:"reviewed_by_email"`
	Rating          int    `json:"rating"`
	Feedback        string `json:"feedback"`
}
