package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func waitResponse(t *testing.T, ch <-chan Response) Response {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatalf("callback was not invoked")
	}
	return Response{}
}

func TestExecutor_PostEncodesBodyAndDecodesResponse(t *testing.T) {
	t.Parallel()

	var gotToken, gotContentType, gotUserAgent string
	var gotBody LoginRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get(TokenHeader)
		gotContentType = r.Header.Get("Content-Type")
		gotUserAgent = r.Header.Get("User-Agent")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(LoginResponse{Token: "tok"})
	}))
	t.Cleanup(server.Close)

	exec := NewExecutor(nil, nil)
	done := make(chan Response, 1)
	var out LoginResponse
	exec.SubmitPost(server.URL+"/api/auth/login", AuthHeader("secret"),
		LoginRequest{Email: "a@b.c", Password: "pw"}, &out,
		func(r Response) { done <- r })

	resp := waitResponse(t, done)
	if !resp.OK() || resp.StatusCode != http.StatusOK {
		t.Fatalf("response = %#v, want 200 ok", resp)
	}
	if out.Token != "tok" {
		t.Fatalf("decoded token = %q, want tok", out.Token)
	}
	if gotToken != "secret" {
		t.Fatalf("authorization header = %q, want secret", gotToken)
	}
	if gotContentType != "application/json" {
		t.Fatalf("content type = %q", gotContentType)
	}
	if gotUserAgent != defaultUserAgent {
		t.Fatalf("user agent = %q, want %q", gotUserAgent, defaultUserAgent)
	}
	if gotBody.Email != "a@b.c" || gotBody.Password != "pw" {
		t.Fatalf("body = %#v", gotBody)
	}
}

func TestExecutor_ServerErrorReportsFailureStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	t.Cleanup(server.Close)

	exec := NewExecutor(nil, nil)
	done := make(chan Response, 1)
	exec.SubmitGet(server.URL, nil, nil, func(r Response) { done <- r })

	resp := waitResponse(t, done)
	if resp.OK() {
		t.Fatalf("expected failure, got %#v", resp)
	}
	if resp.StatusCode != FailureStatus {
		t.Fatalf("status = %d, want %d", resp.StatusCode, FailureStatus)
	}
	if !errors.Is(resp.Err, ErrNetwork) || !strings.Contains(resp.Err.Error(), "status 401") {
		t.Fatalf("err = %v, want ErrNetwork naming status 401", resp.Err)
	}
}

func TestExecutor_UnreachableServerReportsFailureStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	exec := NewExecutor(&http.Client{Timeout: time.Second}, nil)
	done := make(chan Response, 1)
	exec.SubmitPut(url, nil, map[string]string{"a": "b"}, nil, func(r Response) { done <- r })

	resp := waitResponse(t, done)
	if resp.StatusCode != FailureStatus {
		t.Fatalf("status = %d, want %d", resp.StatusCode, FailureStatus)
	}
	if !errors.Is(resp.Err, ErrNetwork) {
		t.Fatalf("err = %v, want ErrNetwork", resp.Err)
	}
}

func TestExecutor_SerializationFailures(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))
	t.Cleanup(server.Close)

	exec := NewExecutor(nil, nil)

	done := make(chan Response, 1)
	var out LoginResponse
	exec.SubmitGet(server.URL, nil, &out, func(r Response) { done <- r })
	resp := waitResponse(t, done)
	if resp.StatusCode != FailureStatus || !errors.Is(resp.Err, ErrSerialization) {
		t.Fatalf("decode failure = %#v, want 400 + ErrSerialization", resp)
	}

	exec.SubmitPost(server.URL, nil, map[string]any{"ch": make(chan int)}, nil, func(r Response) { done <- r })
	resp = waitResponse(t, done)
	if resp.StatusCode != FailureStatus || !errors.Is(resp.Err, ErrSerialization) {
		t.Fatalf("encode failure = %#v, want 400 + ErrSerialization", resp)
	}
}

func TestExecutor_CallbackRunsExactlyOnceAndSurvivesPanics(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(server.Close)

	exec := NewExecutor(nil, nil)
	var calls atomic.Int32
	for range 5 {
		exec.SubmitPost(server.URL, nil, nil, nil, func(Response) {
			calls.Add(1)
			panic("callback bug")
		})
	}
	exec.SubmitPost(server.URL, nil, nil, nil, nil)
	exec.Wait()

	if got := calls.Load(); got != 5 {
		t.Fatalf("callbacks = %d, want 5", got)
	}
}

func TestAuthHeader_OmitsEmptyToken(t *testing.T) {
	if got := AuthHeader("").Get(TokenHeader); got != "" {
		t.Fatalf("empty token header = %q", got)
	}
	if got := AuthHeader("abc").Get(TokenHeader); got != "abc" {
		t.Fatalf("token header = %q, want abc", got)
	}
}
