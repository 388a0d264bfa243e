package server

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"

	"github.com/five82/biokey/internal/state"
)

func TestNewKeyStrokesRequest_WireFormat(t *testing.T) {
	batch := state.KeyStrokeBatch{KeyStrokes: []state.KeyStroke{
		{Char: 'a', KeyDown: true, Timestamp: 10},
		{Char: 'a', KeyDown: false, Timestamp: 25},
	}}
	payload, err := json.Marshal(NewKeyStrokesRequest(batch, "p1"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"keystrokes":[` +
		`{"character":"a","keyDown":true,"timestamp":10,"typingProfile":"p1"},` +
		`{"character":"a","keyDown":false,"timestamp":25,"typingProfile":"p1"}]}`
	if string(payload) != want {
		t.Fatalf("payload =\n%s\nwant\n%s", payload, want)
	}
}

func TestAnalysisResultRequest_WireFormat(t *testing.T) {
	payload, err := json.Marshal(AnalysisResultRequest{TimeStamp: 5, Probability: 0.5, TypingProfile: "p1"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(payload) != `{"timeStamp":5,"probability":0.5,"typingProfile":"p1"}` {
		t.Fatalf("payload = %s", payload)
	}
}

func TestTypingProfileContainer_DecodesServerPayload(t *testing.T) {
	raw := `{
		"typingProfile": {
			"_id": "p1", "user": "u1", "machine": "m1", "isLocked": true,
			"endpoint": "http://push/queue/p1",
			"challengeStrategies": ["GoogleAuth"],
			"tensorFlowModel": {"model": "m", "weights": "w",
				"gaussianProfile": {"65-66": {"mean": 4.5, "stdev": 0.3, "i": 2}}}
		},
		"phoneNumber": "+15550100",
		"googleAuthKey": "JBSWY3DPEHPK3PXP",
		"timeStamp": 99
	}`
	var c TypingProfileContainerResponse
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	cur := &state.ClientStatus{AuthStatus: state.Authenticated, AccessToken: "tok", Timestamp: 50, SecurityStatus: state.Unlocked}
	next := ApplyContainer(cur, c, 100)

	if next.AuthStatus != state.Authenticated || next.AccessToken != "tok" {
		t.Fatalf("auth fields not carried over: %#v", next)
	}
	if next.SecurityStatus != state.Locked {
		t.Fatalf("security = %s, want LOCKED", next.SecurityStatus)
	}
	if next.SyncStatus != state.InSync {
		t.Fatalf("sync = %s, want INSYNC", next.SyncStatus)
	}
	if next.PhoneNumber != "+15550100" || next.GoogleAuthKey != "JBSWY3DPEHPK3PXP" || next.Timestamp != 100 {
		t.Fatalf("contact fields = %#v", next)
	}
	p := next.Profile
	if p.ID != "p1" || p.UserID != "u1" || p.MachineID != "m1" || p.Endpoint != "http://push/queue/p1" {
		t.Fatalf("profile = %#v", p)
	}
	if f := p.Model.Gaussian["65-66"]; f.Mean != 4.5 || f.Stdev != 0.3 || f.Index != 2 {
		t.Fatalf("gaussian feature = %#v", f)
	}
	if cur.Profile != nil || cur.SecurityStatus != state.Unlocked {
		t.Fatalf("ApplyContainer mutated its input")
	}

	fresh := ApplyContainer(nil, c, 1)
	if fresh.AuthStatus != state.Unauthenticated || fresh.AccessToken != "" {
		t.Fatalf("status from nil = %#v, want unauthenticated", fresh)
	}
}

func TestNewStatusRequest_RoundTripsProfile(t *testing.T) {
	status := &state.ClientStatus{
		Profile: &state.TypingProfile{
			ID: "p1", UserID: "u1", MachineID: "m1",
			ChallengeStrategies: []string{"TextMessage"},
			Model:               state.EngineModel{Gaussian: map[string]state.GaussianFeature{"65": {Mean: 1, Stdev: 2}}},
		},
		SecurityStatus: state.Challenge,
		PhoneNumber:    "+1",
		Timestamp:      7,
	}
	req := NewStatusRequest(status)
	if !req.TypingProfile.IsLocked {
		t.Fatalf("challenge status should be reported as locked")
	}
	back := req.TypingProfile.Profile()
	if back.ID != "p1" || back.Model.Gaussian["65"].Stdev != 2 || !back.AcceptsStrategy("TextMessage") {
		t.Fatalf("profile round trip = %#v", back)
	}
	if req.TimeStamp != 7 || req.PhoneNumber != "+1" {
		t.Fatalf("container = %#v", req)
	}
}

func TestUserContainerResponse_IsLogout(t *testing.T) {
	if !(UserContainerResponse{ChangeType: " logout "}).IsLogout() {
		t.Fatalf("LOGOUT should be case and space insensitive")
	}
	if (UserContainerResponse{ChangeType: "UPDATE"}).IsLogout() {
		t.Fatalf("UPDATE is not a logout")
	}
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.StandardClaims{ExpiresAt: exp.Unix(), Subject: "u1"}).
		SignedString([]byte("unknown-to-client"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	got, err := TokenExpiry(signed)
	if err != nil {
		t.Fatalf("TokenExpiry returned error: %v", err)
	}
	if !got.Equal(exp) {
		t.Fatalf("expiry = %v, want %v", got, exp)
	}
	if TokenExpired(signed, time.Now()) {
		t.Fatalf("fresh token reported expired")
	}
	if !TokenExpired(signed, exp.Add(time.Minute)) {
		t.Fatalf("token past expiry not reported expired")
	}
	if !TokenExpired("garbage", time.Now()) {
		t.Fatalf("unparseable token should be treated as expired")
	}
}
