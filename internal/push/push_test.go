package push

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/five82/biokey/internal/server"
	"github.com/five82/biokey/internal/state"
)

type storeUpdater struct{ store *state.Store }

func (u storeUpdater) EnqueueStatus(derive func(cur *state.ClientStatus) *state.ClientStatus) error {
	a := u.store.NewAccess()
	a.Obtain(state.ResourceStatus)
	defer a.Release(state.ResourceStatus)
	cur, err := u.store.CurrentStatus(a)
	if err != nil {
		return err
	}
	next := derive(cur)
	if next == nil {
		return nil
	}
	return u.store.EnqueueStatus(a, next)
}

func current(t *testing.T, s *state.Store) *state.ClientStatus {
	t.Helper()
	a := s.NewAccess()
	a.Obtain(state.ResourceStatus)
	defer a.Release(state.ResourceStatus)
	cur, err := s.CurrentStatus(a)
	if err != nil {
		t.Fatalf("CurrentStatus: %v", err)
	}
	return cur
}

func signedIn(endpoint string) *state.ClientStatus {
	return &state.ClientStatus{
		Profile:        &state.TypingProfile{ID: "p1", Endpoint: endpoint},
		AuthStatus:     state.Authenticated,
		SecurityStatus: state.Unlocked,
		AccessToken:    "token-1",
		Timestamp:      1,
		SyncStatus:     state.InSync,
	}
}

func newListener(t *testing.T, store *state.Store, baseURL string) *Listener {
	t.Helper()
	endpoints, err := server.NewEndpoints(baseURL)
	if err != nil {
		t.Fatalf("NewEndpoints: %v", err)
	}
	return New(Options{
		Store:     store,
		Updater:   storeUpdater{store},
		Endpoints: endpoints,
		Wait:      time.Second,
		Now:       func() time.Time { return time.UnixMilli(5000) },
	})
}

func message(t *testing.T, id, change string, body any) Message {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return Message{ID: id, ChangeType: change, Body: raw}
}

func TestApply_TypingProfileChange(t *testing.T) {
	store := &state.Store{}
	l := newListener(t, store, "http://127.0.0.1:1")
	if err := (storeUpdater{store}).EnqueueStatus(func(*state.ClientStatus) *state.ClientStatus { return signedIn("/api/push/p1") }); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var c server.TypingProfileContainerResponse
	c.TypingProfile.ID = "p1"
	c.TypingProfile.IsLocked = true
	c.TypingProfile.Endpoint = "/api/push/p1"
	c.PhoneNumber = "+15550100"
	if err := l.Apply(message(t, "m1", ChangeTypingProfile, c)); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	cur := current(t, store)
	if cur.SecurityStatus != state.Locked || cur.PhoneNumber != "+15550100" {
		t.Fatalf("status = %+v", cur)
	}
	if cur.AccessToken != "token-1" || cur.AuthStatus != state.Authenticated {
		t.Fatalf("session should survive a profile change: %+v", cur)
	}
	if cur.SyncStatus != state.InSync || cur.Timestamp != 5000 {
		t.Fatalf("sync/timestamp = %s/%d", cur.SyncStatus, cur.Timestamp)
	}
}

func TestApply_UserLogout(t *testing.T) {
	store := &state.Store{}
	l := newListener(t, store, "http://127.0.0.1:1")
	_ = (storeUpdater{store}).EnqueueStatus(func(*state.ClientStatus) *state.ClientStatus { return signedIn("") })

	if err := l.Apply(message(t, "m2", ChangeUser, server.UserContainerResponse{ChangeType: "logout"})); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	cur := current(t, store)
	if cur.AuthStatus != state.Unauthenticated || cur.AccessToken != "" {
		t.Fatalf("status = %+v", cur)
	}
}

func TestApply_RejectsUnknownAndIgnoresMissingStatus(t *testing.T) {
	store := &state.Store{}
	l := newListener(t, store, "http://127.0.0.1:1")

	if err := l.Apply(Message{ID: "x", ChangeType: "Billing"}); !errors.Is(err, ErrUnknownChange) {
		t.Fatalf("err = %v, want ErrUnknownChange", err)
	}
	if err := l.Apply(Message{ID: "x", ChangeType: ChangeUser, Body: json.RawMessage(`{`)}); !errors.Is(err, server.ErrSerialization) {
		t.Fatalf("err = %v, want ErrSerialization", err)
	}
	if err := l.Apply(message(t, "m", ChangeUser, server.UserContainerResponse{PhoneNumber: "1"})); err != nil {
		t.Fatalf("Apply without status: %v", err)
	}
	if current(t, store) != nil {
		t.Fatalf("a change without a session should not create a status")
	}
}

func TestPoll_StatusHandling(t *testing.T) {
	var code int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(server.TokenHeader) != "tok" || r.URL.Query().Get("wait") != "1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(code)
		if code == http.StatusOK {
			_, _ = w.Write([]byte(`[{"id":"a","changeType":"User","body":{}}]`))
		}
	}))
	defer srv.Close()
	l := newListener(t, &state.Store{}, srv.URL)

	code = http.StatusNoContent
	if msgs, err := l.Poll(context.Background(), srv.URL, "tok"); err != nil || msgs != nil {
		t.Fatalf("204 = %v, %v", msgs, err)
	}
	code = http.StatusOK
	if msgs, err := l.Poll(context.Background(), srv.URL, "tok"); err != nil || len(msgs) != 1 || msgs[0].ID != "a" {
		t.Fatalf("200 = %v, %v", msgs, err)
	}
	code = http.StatusInternalServerError
	if _, err := l.Poll(context.Background(), srv.URL, "tok"); !errors.Is(err, server.ErrNetwork) {
		t.Fatalf("500 err = %v", err)
	}
}

func TestRun_AppliesAndAcknowledges(t *testing.T) {
	var (
		mu     sync.Mutex
		served bool
		acked  []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case r.Method == http.MethodDelete:
			acked = append(acked, r.URL.Path)
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodGet && r.URL.Path == "/api/push/p1" && !served:
			served = true
			_, _ = w.Write([]byte(`[{"id":"m1","changeType":"User","body":{"changeType":"UPDATE","phoneNumber":"+15550199"}}]`))
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	store := &state.Store{}
	l := newListener(t, store, srv.URL)
	detach := l.Attach()
	defer detach()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()
	_ = (storeUpdater{store}).EnqueueStatus(func(*state.ClientStatus) *state.ClientStatus { return signedIn("/api/push/p1") })

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(acked)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("message never acknowledged")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if acked[0] != "/api/push/p1/m1" {
		t.Fatalf("ack path = %q", acked[0])
	}
	if cur := current(t, store); cur.PhoneNumber != "+15550199" {
		t.Fatalf("phone = %q", cur.PhoneNumber)
	}
}

func TestBackoff(t *testing.T) {
	cases := map[int]time.Duration{1: time.Second, 2: 2 * time.Second, 5: 16 * time.Second, 6: 30 * time.Second, 50: 30 * time.Second}
	for failures, want := range cases {
		if got := backoff(failures); got != want {
			t.Fatalf("backoff(%d) = %v, want %v", failures, got, want)
		}
	}
}
