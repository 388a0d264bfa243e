package devserver

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/five82/biokey/internal/server"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := New(Options{Secret: []byte("test-secret"), AdminKey: "admin", MaxWait: time.Second})
	_, err := s.AddUser("ada@example.com", "Ada", "correct horse")
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func call(t *testing.T, method, url, token string, body any, dest any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set(server.TokenHeader, token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if dest != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(dest))
	}
	return resp.StatusCode
}

func login(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	var out server.LoginResponse
	code := call(t, http.MethodPost, ts.URL+"/api/auth/login", "", server.LoginRequest{Email: "ada@example.com", Password: "correct horse"}, &out)
	require.Equal(t, http.StatusOK, code)
	require.NotEmpty(t, out.Token)
	return out.Token
}

func TestLogin_ChecksPasswordAndIssuesExpiringToken(t *testing.T) {
	_, ts := newTestServer(t)

	code := call(t, http.MethodPost, ts.URL+"/api/auth/login", "", server.LoginRequest{Email: "ada@example.com", Password: "nope"}, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	token := login(t, ts)
	exp, err := server.TokenExpiry(token)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), exp, time.Minute)

	var me server.UserResponse
	require.Equal(t, http.StatusOK, call(t, http.MethodGet, ts.URL+"/api/users/me", token, nil, &me))
	assert.Equal(t, "ada@example.com", me.Email)

	assert.Equal(t, http.StatusUnauthorized, call(t, http.MethodGet, ts.URL+"/api/users/me", "forged", nil, nil))
}

func TestMachineProfile_CreatedOnceAndOwned(t *testing.T) {
	s, ts := newTestServer(t)
	token := login(t, ts)

	var first, second server.TypingProfileContainerResponse
	require.Equal(t, http.StatusOK, call(t, http.MethodPost, ts.URL+"/api/typingProfiles/machine/m1", token, struct{}{}, &first))
	require.Equal(t, http.StatusOK, call(t, http.MethodPost, ts.URL+"/api/typingProfiles/machine/m1", token, struct{}{}, &second))
	assert.Equal(t, first.TypingProfile.ID, second.TypingProfile.ID)
	assert.Equal(t, "m1", first.TypingProfile.Machine)
	assert.Equal(t, "/api/push/"+first.TypingProfile.ID, first.TypingProfile.Endpoint)
	assert.Equal(t, []string{"GoogleAuth"}, first.TypingProfile.ChallengeStrategies)

	id, ok := s.ProfileForMachine("ada@example.com", "m1")
	require.True(t, ok)
	assert.Equal(t, first.TypingProfile.ID, id)

	_, err := s.AddUser("bob@example.com", "Bob", "pw")
	require.NoError(t, err)
	var bob server.LoginResponse
	require.Equal(t, http.StatusOK, call(t, http.MethodPost, ts.URL+"/api/auth/login", "", server.LoginRequest{Email: "bob@example.com", Password: "pw"}, &bob))
	assert.Equal(t, http.StatusForbidden, call(t, http.MethodPost, ts.URL+"/api/typingProfiles/"+id+"/heartbeat", bob.Token, nil, nil))
}

func TestUploads_AreRecorded(t *testing.T) {
	s, ts := newTestServer(t)
	token := login(t, ts)
	var c server.TypingProfileContainerResponse
	call(t, http.MethodPost, ts.URL+"/api/typingProfiles/machine/m1", token, struct{}{}, &c)
	id := c.TypingProfile.ID

	keys := server.KeyStrokesRequest{KeyStrokes: []server.KeyStrokeJSON{
		{Character: "a", KeyDown: true, Timestamp: 1, TypingProfile: id},
		{Character: "a", KeyDown: false, Timestamp: 2, TypingProfile: id},
	}}
	assert.Equal(t, http.StatusCreated, call(t, http.MethodPost, ts.URL+"/api/keystrokes", token, keys, nil))
	assert.Len(t, s.KeyStrokes(id), 2)

	res := server.AnalysisResultRequest{TimeStamp: 2, Probability: 0.9, TypingProfile: id}
	assert.Equal(t, http.StatusCreated, call(t, http.MethodPost, ts.URL+"/api/analysisResults", token, res, nil))
	res.Probability = 3
	assert.Equal(t, http.StatusBadRequest, call(t, http.MethodPost, ts.URL+"/api/analysisResults", token, res, nil))
	assert.Len(t, s.AnalysisResults(id), 1)

	assert.Equal(t, http.StatusNoContent, call(t, http.MethodPost, ts.URL+"/api/typingProfiles/"+id+"/heartbeat", token, nil, nil))
	assert.False(t, s.LastHeartbeat(id).IsZero())

	update := c
	update.TypingProfile.IsLocked = true
	update.PhoneNumber = "+15550100"
	var updated server.TypingProfileContainerResponse
	require.Equal(t, http.StatusOK, call(t, http.MethodPut, ts.URL+"/api/typingProfiles/"+id, token, update, &updated))
	assert.True(t, updated.TypingProfile.IsLocked)
	assert.Equal(t, "+15550100", updated.PhoneNumber)
}

func TestPush_LongPollPublishAndAck(t *testing.T) {
	s, ts := newTestServer(t)
	token := login(t, ts)
	var c server.TypingProfileContainerResponse
	call(t, http.MethodPost, ts.URL+"/api/typingProfiles/machine/m1", token, struct{}{}, &c)
	pushURL := ts.URL + c.TypingProfile.Endpoint

	assert.Equal(t, http.StatusNoContent, call(t, http.MethodGet, pushURL+"?wait=0", token, nil, nil))

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = s.SetLocked(c.TypingProfile.ID, true)
	}()
	var msgs []struct {
		ID         string                                `json:"id"`
		ChangeType string                                `json:"changeType"`
		Body       server.TypingProfileContainerResponse `json:"body"`
	}
	require.Equal(t, http.StatusOK, call(t, http.MethodGet, pushURL+"?wait=1", token, nil, &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "TypingProfile", msgs[0].ChangeType)
	assert.True(t, msgs[0].Body.TypingProfile.IsLocked)

	assert.Equal(t, http.StatusNoContent, call(t, http.MethodDelete, pushURL+"/"+msgs[0].ID, token, nil, nil))
	assert.Equal(t, http.StatusNotFound, call(t, http.MethodDelete, pushURL+"/"+msgs[0].ID, token, nil, nil))
}

func TestAdmin_RequiresKeyAndPublishes(t *testing.T) {
	_, ts := newTestServer(t)
	token := login(t, ts)
	var c server.TypingProfileContainerResponse
	call(t, http.MethodPost, ts.URL+"/api/typingProfiles/machine/m1", token, struct{}{}, &c)

	body := `{"changeType":"User","body":{"changeType":"LOGOUT"}}`
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/admin/publish/"+c.TypingProfile.ID, strings.NewReader(body))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	req, _ = http.NewRequest(http.MethodPost, ts.URL+"/admin/publish/"+c.TypingProfile.ID, strings.NewReader(body))
	req.Header.Set(AdminHeader, "admin")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var msgs []json.RawMessage
	require.Equal(t, http.StatusOK, call(t, http.MethodGet, ts.URL+c.TypingProfile.Endpoint, token, nil, &msgs))
	assert.Len(t, msgs, 1)
	assert.Contains(t, string(msgs[0]), `"LOGOUT"`)
}

func TestMetrics_CountsRequests(t *testing.T) {
	_, ts := newTestServer(t)
	login(t, ts)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `biokey_devserver_requests_total{code="200",route="/api/auth/login"} 1`)
}
