package app

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/five82/biokey/internal/config"
	"github.com/five82/biokey/internal/devserver"
	"github.com/five82/biokey/internal/state"
)

const (
	testEmail    = "ada@example.com"
	testPassword = "correct horse"
)

func newDevServer(t *testing.T) (*devserver.Server, *httptest.Server) {
	t.Helper()
	s := devserver.New(devserver.Options{Secret: []byte("secret"), MaxWait: time.Second})
	if _, err := s.AddUser(testEmail, "Ada", testPassword); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func testConfig(t *testing.T, serverURL, dataDir string) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.ServerURL = serverURL
	cfg.DataDir = dataDir
	cfg.LogFile = dataDir + "/biokey.log"
	cfg.SyncInterval = 20 * time.Millisecond
	cfg.HeartbeatInterval = 50 * time.Millisecond
	cfg.PushWait = time.Second
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startAgent runs a in the background; the returned stop cancels it and
// closes it.
func startAgent(t *testing.T, a *Agent) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	stopped := false
	stop = func() {
		if stopped {
			return
		}
		stopped = true
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run: %v", err)
		}
		if err := a.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	}
	t.Cleanup(stop)
	return stop
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func currentStatus(t *testing.T, a *Agent) *state.ClientStatus {
	t.Helper()
	o, err := a.Overview()
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	return o.Status
}

func TestAgent_LoginSyncAndRestore(t *testing.T) {
	dev, ts := newDevServer(t)
	dataDir := t.TempDir()
	ctx := context.Background()

	a, err := NewAgent(testConfig(t, ts.URL, dataDir), quietLogger())
	if err != nil {
		t.Fatalf("NewAgent: %v", err)
	}
	restored, err := a.Restore(ctx, "")
	if err != nil || restored != RestoredNothing {
		t.Fatalf("Restore = %v, %v; want nothing", restored, err)
	}
	stop := startAgent(t, a)

	ok, err := a.Login(ctx, testEmail, testPassword)
	if err != nil || !ok {
		t.Fatalf("Login = %v, %v", ok, err)
	}
	status := currentStatus(t, a)
	if status.AuthStatus != state.Authenticated || status.ProfileID() == "" {
		t.Fatalf("status after login = %#v", status)
	}
	profileID := status.ProfileID()
	if id, _ := dev.ProfileForMachine(testEmail, a.MachineID); id != profileID {
		t.Fatalf("profile = %q, server has %q", profileID, id)
	}

	now := time.Now().UnixMilli()
	for i, r := range "hello" {
		ts := now + int64(i)*100
		for _, k := range []state.KeyStroke{{Char: r, KeyDown: true, Timestamp: ts}, {Char: r, Timestamp: ts + 50}} {
			if err := a.Controller.EnqueueKeyStroke(k); err != nil {
				t.Fatalf("EnqueueKeyStroke: %v", err)
			}
		}
	}
	eventually(t, "keystroke upload", func() bool { return len(dev.KeyStrokes(profileID)) == 10 })
	eventually(t, "heartbeat", func() bool { return !dev.LastHeartbeat(profileID).IsZero() })

	if err := dev.SetLocked(profileID, true); err != nil {
		t.Fatalf("SetLocked: %v", err)
	}
	eventually(t, "pushed lock", func() bool { return currentStatus(t, a).SecurityStatus == state.Locked })

	stop()

	b, err := NewAgent(testConfig(t, ts.URL, dataDir), quietLogger())
	if err != nil {
		t.Fatalf("NewAgent: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	if b.MachineID != a.MachineID {
		t.Fatalf("machine id changed: %q -> %q", a.MachineID, b.MachineID)
	}
	restored, err = b.Restore(ctx, "")
	if err != nil || restored != RestoredSession {
		t.Fatalf("Restore = %v, %v; want session", restored, err)
	}
	status = currentStatus(t, b)
	if status.ProfileID() != profileID || status.SecurityStatus != state.Locked || status.AuthStatus != state.Authenticated {
		t.Fatalf("restored status = %#v", status)
	}
}

func TestAgent_LoginRejected(t *testing.T) {
	_, ts := newDevServer(t)
	a, err := NewAgent(testConfig(t, ts.URL, t.TempDir()), quietLogger())
	if err != nil {
		t.Fatalf("NewAgent: %v", err)
	}
	startAgent(t, a)

	ok, err := a.Login(context.Background(), testEmail, "wrong")
	if err != nil || ok {
		t.Fatalf("Login = %v, %v; want rejection", ok, err)
	}
	if _, err := a.Login(context.Background(), "", ""); err == nil {
		t.Fatalf("Login with empty credentials should fail")
	}
	if s := currentStatus(t, a); s != nil {
		t.Fatalf("status after rejected login = %#v", s)
	}
}

func TestAgent_RestoreFromServerWithToken(t *testing.T) {
	_, ts := newDevServer(t)
	ctx := context.Background()

	first, err := NewAgent(testConfig(t, ts.URL, t.TempDir()), quietLogger())
	if err != nil {
		t.Fatalf("NewAgent: %v", err)
	}
	stop := startAgent(t, first)
	if ok, err := first.Login(ctx, testEmail, testPassword); err != nil || !ok {
		t.Fatalf("Login = %v, %v", ok, err)
	}
	token := currentStatus(t, first).AccessToken
	stop()

	second, err := NewAgent(testConfig(t, ts.URL, t.TempDir()), quietLogger())
	if err != nil {
		t.Fatalf("NewAgent: %v", err)
	}
	t.Cleanup(func() { _ = second.Close() })
	restored, err := second.Restore(ctx, token)
	if err != nil || restored != RestoredFromServer {
		t.Fatalf("Restore = %v, %v; want from server", restored, err)
	}
	if s := currentStatus(t, second); s.AccessToken != token || s.AuthStatus != state.Authenticated {
		t.Fatalf("status = %#v", s)
	}
}

func TestAgent_ResetForgetsState(t *testing.T) {
	_, ts := newDevServer(t)
	dataDir := t.TempDir()
	ctx := context.Background()

	a, err := NewAgent(testConfig(t, ts.URL, dataDir), quietLogger())
	if err != nil {
		t.Fatalf("NewAgent: %v", err)
	}
	stop := startAgent(t, a)
	if ok, err := a.Login(ctx, testEmail, testPassword); err != nil || !ok {
		t.Fatalf("Login = %v, %v", ok, err)
	}
	eventually(t, "autosave", func() bool { return a.Autosaver.Saves() > 0 })
	if err := a.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if s := currentStatus(t, a); s != nil {
		t.Fatalf("status after reset = %#v", s)
	}
	stop()

	b, err := NewAgent(testConfig(t, ts.URL, dataDir), quietLogger())
	if err != nil {
		t.Fatalf("NewAgent: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	if restored, err := b.Restore(ctx, ""); err != nil || restored != RestoredNothing {
		t.Fatalf("Restore = %v, %v; want nothing", restored, err)
	}
}

func TestRun_ShellSeesRestoreOutcome(t *testing.T) {
	_, ts := newDevServer(t)
	var seen Restored = -1
	err := Run(context.Background(), Options{
		Config: testConfig(t, ts.URL, t.TempDir()),
		Logger: quietLogger(),
		Shell: func(ctx context.Context, a *Agent, restored Restored) error {
			seen = restored
			ok, err := a.Login(ctx, testEmail, testPassword)
			if err != nil || !ok {
				t.Errorf("Login = %v, %v", ok, err)
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if seen != RestoredNothing {
		t.Fatalf("shell saw %v", seen)
	}
}
