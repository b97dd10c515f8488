package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"github.com/linguameet/linguameet/pkg/datastore"
	"github.com/linguameet/linguameet/pkg/model"
	"github.com/linguameet/linguameet/pkg/protocol"
)

// recordConn captures everything written to a client connection as decoded
// JSON objects. Control frames are counted, not stored.
type recordConn struct {
	mu     sync.Mutex
	msgs   []map[string]any
	pings  int
	closed bool
}

func (c *recordConn) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	c.mu.Lock()
	c.msgs = append(c.msgs, m)
	c.mu.Unlock()
	return nil
}

func (c *recordConn) WriteMessage(messageType int, _ []byte) error {
	if messageType == websocket.PingMessage {
		c.mu.Lock()
		c.pings++
		c.mu.Unlock()
	}
	return nil
}

func (c *recordConn) SetWriteDeadline(time.Time) error { return nil }

func (c *recordConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// ofType returns every captured message with the given type tag.
func (c *recordConn) ofType(t string) []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []map[string]any
	for _, m := range c.msgs {
		if m["type"] == t {
			out = append(out, m)
		}
	}
	return out
}

func (c *recordConn) last(t *testing.T, typ string) map[string]any {
	t.Helper()
	msgs := c.ofType(typ)
	if len(msgs) == 0 {
		t.Fatalf("no %q message captured", typ)
	}
	return msgs[len(msgs)-1]
}

func newTestServer(t *testing.T) (*Server, *datastore.Memory) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.PendingCallTTL = 0 // expiry driven explicitly in tests
	st := datastore.NewMemory()
	s := New(cfg, Dependencies{Store: st})
	s.pick = func(int) int { return 0 }
	return s, st
}

// join registers a connection and pushes its profile through the normal
// dispatch path.
func join(t *testing.T, s *Server, id, email, role string) (*client, *recordConn) {
	t.Helper()
	rc := &recordConn{}
	c := newClient(model.ClientID(id), rc, 0)
	s.mu.Lock()
	s.registry.add(c)
	s.mu.Unlock()

	msg := fmt.Sprintf(`{"type":"user_info","email":%q,"role":%q}`, email, role)
	s.dispatch(c, []byte(msg))
	return c, rc
}

func TestPresenceBroadcast(t *testing.T) {
	s, _ := newTestServer(t)
	_, rcA := join(t, s, "a", "learner@example.com", "learner")
	_, _ = join(t, s, "b", "speaker@example.com", "speaker")

	list := rcA.last(t, protocol.TypeUserList)
	users, ok := list["users"].([]any)
	if !ok {
		t.Fatalf("user_list has no users array: %v", list)
	}
	if len(users) != 2 {
		t.Fatalf("got %d users, want 2", len(users))
	}
	first := users[0].(map[string]any)
	if first["id"] != "a" || first["inCall"] != false {
		t.Errorf("unexpected first entry: %v", first)
	}
}

func TestPresenceExcludesIncompleteProfiles(t *testing.T) {
	s, _ := newTestServer(t)
	_, _ = join(t, s, "a", "learner@example.com", "learner")

	// connected but never sent a complete profile
	rc := &recordConn{}
	c := newClient(model.ClientID("ghost"), rc, 0)
	s.mu.Lock()
	s.registry.add(c)
	s.mu.Unlock()
	s.broadcastPresence()

	users := rc.last(t, protocol.TypeUserList)["users"].([]any)
	if len(users) != 1 {
		t.Fatalf("got %d users, want 1 (incomplete profile must be hidden)", len(users))
	}
}

func TestInvalidProfileRejected(t *testing.T) {
	s, _ := newTestServer(t)
	c, rc := join(t, s, "a", "learner@example.com", "learner")

	s.dispatch(c, []byte(`{"type":"user_info","email":"not-an-email"}`))

	errMsg := rc.last(t, protocol.TypeError)
	if int(errMsg["code"].(float64)) != codeInvalidProfile {
		t.Errorf("got error code %v, want %d", errMsg["code"], codeInvalidProfile)
	}
	s.mu.Lock()
	email := c.profile.Email
	s.mu.Unlock()
	if email != "learner@example.com" {
		t.Errorf("invalid update mutated the profile: %q", email)
	}
}

func TestCallRequestAcceptEnd(t *testing.T) {
	s, st := newTestServer(t)
	learner, rcL := join(t, s, "a", "learner@example.com", "learner")
	speaker, rcS := join(t, s, "b", "speaker@example.com", "speaker")

	// automatic match: no targetId
	s.dispatch(learner, []byte(`{"type":"call_request"}`))

	req := rcS.last(t, protocol.TypeCallRequest)
	if req["senderId"] != "a" {
		t.Errorf("call_request senderId = %v, want a", req["senderId"])
	}
	if req["opponentEmail"] != "learner@example.com" {
		t.Errorf("call_request opponentEmail = %v", req["opponentEmail"])
	}
	callID, _ := req["callId"].(string)
	if callID == "" {
		t.Fatal("call_request carries no callId")
	}

	// both sides are busy from request time onward
	s.mu.Lock()
	if learner.sessionID != callID || speaker.sessionID != callID {
		t.Errorf("session back-references not set: %q %q", learner.sessionID, speaker.sessionID)
	}
	s.mu.Unlock()
	for _, u := range rcL.last(t, protocol.TypeUserList)["users"].([]any) {
		if u.(map[string]any)["inCall"] != true {
			t.Errorf("presence should flag both busy: %v", u)
		}
	}

	s.dispatch(speaker, []byte(fmt.Sprintf(`{"type":"call_accepted","targetId":"a","callId":%q}`, callID)))

	started := rcL.last(t, protocol.TypeCallStarted)
	if started["opponentEmail"] != "speaker@example.com" {
		t.Errorf("call_started opponentEmail = %v", started["opponentEmail"])
	}
	accepted := rcS.last(t, protocol.TypeCallAccepted)
	if accepted["senderId"] != "a" {
		t.Errorf("call_accepted senderId = %v, want a", accepted["senderId"])
	}

	s.dispatch(learner, []byte(`{"type":"call_ended","learner_email":"learner@example.com","speaker_email":"speaker@example.com","duration":300}`))

	if got := len(rcL.ofType(protocol.TypeCallEndedPrompt)); got != 1 {
		t.Errorf("learner got %d call_ended_prompt, want 1", got)
	}
	if got := len(rcS.ofType(protocol.TypeCallEndedPrompt)); got != 1 {
		t.Errorf("speaker got %d call_ended_prompt, want 1", got)
	}

	// cleanup is synchronous, persistence is not
	s.mu.Lock()
	if len(s.sessions) != 0 || learner.sessionID != "" || speaker.sessionID != "" {
		t.Error("session state not cleaned up after end")
	}
	s.mu.Unlock()

	s.bg.Wait()
	calls, err := st.ListCalls(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListCalls: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("got %d persisted calls, want 1", len(calls))
	}
	if calls[0].LearnerEmail != "learner@example.com" || calls[0].DurationSeconds != 300 {
		t.Errorf("unexpected record: %+v", calls[0])
	}

	assignedL := rcL.last(t, protocol.TypeCallIDAssigned)
	assignedS := rcS.last(t, protocol.TypeCallIDAssigned)
	if assignedL["dbCallId"] != assignedS["dbCallId"] {
		t.Errorf("participants saw different record ids: %v vs %v", assignedL["dbCallId"], assignedS["dbCallId"])
	}
}

func TestCallReject(t *testing.T) {
	s, _ := newTestServer(t)
	learner, rcL := join(t, s, "a", "learner@example.com", "learner")
	speaker, _ := join(t, s, "b", "speaker@example.com", "speaker")

	s.dispatch(learner, []byte(`{"type":"call_request","targetId":"b"}`))
	s.dispatch(speaker, []byte(`{"type":"call_rejected","targetId":"a"}`))

	if len(rcL.ofType(protocol.TypeCallRejected)) != 1 {
		t.Fatal("initiator did not receive call_rejected")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sessions) != 0 || learner.sessionID != "" || speaker.sessionID != "" {
		t.Error("rejected session not cleaned up")
	}
}

func TestRequestWhileBusy(t *testing.T) {
	s, _ := newTestServer(t)
	learner, rcL := join(t, s, "a", "learner@example.com", "learner")
	_, _ = join(t, s, "b", "speaker@example.com", "speaker")
	_, _ = join(t, s, "c", "other@example.com", "speaker")

	s.dispatch(learner, []byte(`{"type":"call_request","targetId":"b"}`))
	s.dispatch(learner, []byte(`{"type":"call_request","targetId":"c"}`))

	errMsg := rcL.last(t, protocol.TypeError)
	if int(errMsg["code"].(float64)) != codeAlreadyInCall {
		t.Errorf("got error code %v, want %d", errMsg["code"], codeAlreadyInCall)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sessions) != 1 {
		t.Errorf("second request created a session, have %d", len(s.sessions))
	}
}

func TestNoSpeakerAvailable(t *testing.T) {
	s, _ := newTestServer(t)
	learner, rcL := join(t, s, "a", "learner@example.com", "learner")

	s.dispatch(learner, []byte(`{"type":"call_request"}`))
	if len(rcL.ofType(protocol.TypeNoSpeakerAvailable)) != 1 {
		t.Fatal("expected no_speaker_available with empty directory")
	}

	// an explicit target that is not a speaker fails the same way
	_, _ = join(t, s, "b", "other@example.com", "learner")
	s.dispatch(learner, []byte(`{"type":"call_request","targetId":"b"}`))
	if len(rcL.ofType(protocol.TypeNoSpeakerAvailable)) != 2 {
		t.Fatal("expected no_speaker_available for non-speaker target")
	}
}

func TestBusySpeakerNotMatched(t *testing.T) {
	s, _ := newTestServer(t)
	learner, _ := join(t, s, "a", "learner@example.com", "learner")
	_, _ = join(t, s, "b", "speaker@example.com", "speaker")
	s.dispatch(learner, []byte(`{"type":"call_request","targetId":"b"}`))

	other, rcO := join(t, s, "c", "other@example.com", "learner")
	s.dispatch(other, []byte(`{"type":"call_request"}`))

	if len(rcO.ofType(protocol.TypeNoSpeakerAvailable)) != 1 {
		t.Fatal("speaker with a pending session must not be matchable")
	}
}

func TestDuplicateAcceptSilent(t *testing.T) {
	s, _ := newTestServer(t)
	learner, rcL := join(t, s, "a", "learner@example.com", "learner")
	speaker, rcS := join(t, s, "b", "speaker@example.com", "speaker")

	s.dispatch(learner, []byte(`{"type":"call_request","targetId":"b"}`))
	s.dispatch(speaker, []byte(`{"type":"call_accepted","targetId":"a"}`))
	s.dispatch(speaker, []byte(`{"type":"call_accepted","targetId":"a"}`))

	if got := len(rcL.ofType(protocol.TypeCallStarted)); got != 1 {
		t.Errorf("initiator got %d call_started, want 1", got)
	}
	if got := len(rcS.ofType(protocol.TypeCallAccepted)); got != 1 {
		t.Errorf("accepter got %d call_accepted, want 1", got)
	}
}

func TestRelayStampsSender(t *testing.T) {
	s, _ := newTestServer(t)
	learner, _ := join(t, s, "a", "learner@example.com", "learner")
	_, rcS := join(t, s, "b", "speaker@example.com", "speaker")

	raw := `{"type":"webrtc_offer","targetId":"b","sdp":"v=0 o=- 42","nested":{"k":1}}`
	s.dispatch(learner, []byte(raw))

	got := rcS.last(t, "webrtc_offer")
	want := map[string]any{
		"type":     "webrtc_offer",
		"targetId": "b",
		"sdp":      "v=0 o=- 42",
		"nested":   map[string]any{"k": float64(1)},
		"senderId": "a",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("relayed payload mismatch (-want +got):\n%s", diff)
	}
	if s.metrics.MessagesRelayed.Load() != 1 {
		t.Errorf("MessagesRelayed = %d, want 1", s.metrics.MessagesRelayed.Load())
	}
}

func TestRelayUnknownTargetDropped(t *testing.T) {
	s, _ := newTestServer(t)
	learner, _ := join(t, s, "a", "learner@example.com", "learner")

	s.dispatch(learner, []byte(`{"type":"ice_candidate","targetId":"gone","candidate":"x"}`))
	s.dispatch(learner, []byte(`{"type":"ice_candidate","candidate":"x"}`))

	if s.metrics.RelayDropped.Load() != 2 {
		t.Errorf("RelayDropped = %d, want 2", s.metrics.RelayDropped.Load())
	}
}

func TestExpirePending(t *testing.T) {
	s, _ := newTestServer(t)
	learner, rcL := join(t, s, "a", "learner@example.com", "learner")
	speaker, rcS := join(t, s, "b", "speaker@example.com", "speaker")

	s.dispatch(learner, []byte(`{"type":"call_request","targetId":"b"}`))
	callID := rcS.last(t, protocol.TypeCallRequest)["callId"].(string)

	s.expirePending(callID)

	if len(rcL.ofType(protocol.TypeCallRejected)) != 1 {
		t.Error("initiator not notified of expiry")
	}
	if len(rcS.ofType(protocol.TypePeerUnavailable)) != 1 {
		t.Error("target not released from expired request")
	}
	s.mu.Lock()
	if len(s.sessions) != 0 || learner.sessionID != "" || speaker.sessionID != "" {
		t.Error("expired session not cleaned up")
	}
	s.mu.Unlock()

	// a late expiry for a session that no longer exists is a no-op
	s.expirePending(callID)
	if got := s.metrics.CallsExpired.Load(); got != 1 {
		t.Errorf("CallsExpired = %d, want 1", got)
	}
}

func TestDisconnectDuringActiveCall(t *testing.T) {
	s, st := newTestServer(t)
	learner, rcL := join(t, s, "a", "learner@example.com", "learner")
	speaker, rcS := join(t, s, "b", "speaker@example.com", "speaker")

	s.dispatch(learner, []byte(`{"type":"call_request","targetId":"b"}`))
	s.dispatch(speaker, []byte(`{"type":"call_accepted","targetId":"a"}`))

	s.disconnect(learner)

	if len(rcS.ofType(protocol.TypeCallEndedPrompt)) != 1 {
		t.Error("survivor not told the call ended")
	}
	rcL.mu.Lock()
	closed := rcL.closed
	rcL.mu.Unlock()
	if !closed {
		t.Error("disconnect did not close the departed connection")
	}
	s.mu.Lock()
	if s.registry.lookup("a") != nil {
		t.Error("disconnected client still registered")
	}
	if len(s.sessions) != 0 || speaker.sessionID != "" {
		t.Error("session not cleaned up on disconnect")
	}
	s.mu.Unlock()

	s.bg.Wait()
	calls, err := st.ListCalls(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListCalls: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("got %d persisted calls, want 1", len(calls))
	}
	// no client billing report: emails recovered from the profiles
	if calls[0].LearnerEmail != "learner@example.com" || calls[0].SpeakerEmail != "speaker@example.com" {
		t.Errorf("unexpected record emails: %+v", calls[0])
	}
}

func TestDisconnectDuringPendingRequest(t *testing.T) {
	s, _ := newTestServer(t)
	learner, _ := join(t, s, "a", "learner@example.com", "learner")
	speaker, rcS := join(t, s, "b", "speaker@example.com", "speaker")

	s.dispatch(learner, []byte(`{"type":"call_request","targetId":"b"}`))
	s.disconnect(learner)

	if len(rcS.ofType(protocol.TypePeerUnavailable)) != 1 {
		t.Error("target not told the initiator went away")
	}
	s.mu.Lock()
	if speaker.sessionID != "" {
		t.Error("target still bound to a dead session")
	}
	s.mu.Unlock()

	// and the mirror case: the target disconnects instead
	learner2, _ := join(t, s, "c", "learner2@example.com", "learner")
	s.dispatch(learner2, []byte(`{"type":"call_request","targetId":"b"}`))
	s.disconnect(speaker)

	s.mu.Lock()
	if learner2.sessionID != "" {
		t.Error("initiator still bound after target disconnect")
	}
	s.mu.Unlock()
}

func TestMalformedMessageKeepsConnection(t *testing.T) {
	s, _ := newTestServer(t)
	c, rc := join(t, s, "a", "learner@example.com", "learner")

	s.dispatch(c, []byte(`{not json`))
	s.dispatch(c, []byte(`{"no_type":true}`))

	if got := len(rc.ofType(protocol.TypeError)); got != 2 {
		t.Errorf("got %d error messages, want 2", got)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.registry.lookup("a") == nil {
		t.Error("malformed input must not drop the connection")
	}
}

func TestKeepalivePingThroughConn(t *testing.T) {
	s, _ := newTestServer(t)
	s.cfg.PingInterval = time.Millisecond

	rc := &recordConn{}
	c := newClient("a", rc, 0)

	stop := make(chan struct{})
	defer close(stop)
	go s.pingLoop(c, stop)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rc.mu.Lock()
		pings := rc.pings
		rc.mu.Unlock()
		if pings > 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("no keepalive ping written within deadline")
}

func TestSubmitReview(t *testing.T) {
	s, st := newTestServer(t)
	c, _ := join(t, s, "a", "learner@example.com", "learner")

	s.dispatch(c, []byte(`{"type":"submit_review","call_id":7,"reviewed_email":"speaker@example.com","reviewed_by_email":"learner@example.com","rating":5,"feedback":"great session"}`))
	s.bg.Wait()

	reviews, err := st.ListReviews(context.Background(), 7)
	if err != nil {
		t.Fatalf("ListReviews: %v", err)
	}
	if len(reviews) != 1 || reviews[0].Rating != 5 {
		t.Fatalf("unexpected reviews: %+v", reviews)
	}

	// out-of-range rating is dropped before it reaches the sink
	s.dispatch(c, []byte(`{"type":"submit_review","call_id":7,"reviewed_email":"speaker@example.com","reviewed_by_email":"learner@example.com","rating":9}`))
	s.bg.Wait()
	reviews, _ = st.ListReviews(context.Background(), 7)
	if len(reviews) != 1 {
		t.Fatalf("invalid review persisted: %+v", reviews)
	}
}
