package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

var (
	// ErrNetwork marks a request that could not be completed: transport
	// failure, timeout, or an error status from the server.
	ErrNetwork = errors.New("network failure")

	// ErrSerialization marks a payload that could not be encoded or a
	// response that could not be decoded.
	ErrSerialization = errors.New("serialization failure")
)

// FailureStatus is the status code reported for every failed exchange.
const FailureStatus = http.StatusBadRequest

// TokenHeader carries the access token on authenticated requests.
const TokenHeader = "authorization"

const (
	defaultUserAgent = "biokey/0.1"
	requestTimeout   = 10 * time.Second
)

// Response is handed to every request callback.
type Response struct {
	StatusCode int
	Err        error
}

// OK reports whether the exchange succeeded.
func (r Response) OK() bool {
	return r.Err == nil && r.StatusCode < 400
}

// Callback receives the outcome of a submitted request. It runs on a goroutine
// owned by the executor.
type Callback func(Response)

// Submitter sends requests asynchronously. Implementations call cb exactly
// once per submission, with a failure-shaped Response when anything goes wrong.
type Submitter interface {
	SubmitGet(url string, header http.Header, dest any, cb Callback)
	SubmitPost(url string, header http.Header, body, dest any, cb Callback)
	SubmitPut(url string, header http.Header, body, dest any, cb Callback)
}

// Ensure Executor implements Submitter at compile time.
var _ Submitter = (*Executor)(nil)

// Executor runs each submitted request on its own goroutine.
type Executor struct {
	http      *http.Client
	userAgent string
	logger    *slog.Logger

	wg sync.WaitGroup
}

// NewExecutor builds an Executor. A nil client uses a client with the default
// request timeout; a nil logger uses slog.Default().
func NewExecutor(client *http.Client, logger *slog.Logger) *Executor {
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{http: client, userAgent: defaultUserAgent, logger: logger}
}

// AuthHeader returns request headers carrying token.
func AuthHeader(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set(TokenHeader, token)
	}
	return h
}

// SubmitGet issues a GET and decodes a JSON response into dest when dest is non-nil.
func (e *Executor) SubmitGet(url string, header http.Header, dest any, cb Callback) {
	e.submit(http.MethodGet, url, header, nil, dest, cb)
}

// SubmitPost issues a POST with body encoded as JSON.
func (e *Executor) SubmitPost(url string, header http.Header, body, dest any, cb Callback) {
	e.submit(http.MethodPost, url, header, body, dest, cb)
}

// SubmitPut issues a PUT with body encoded as JSON.
func (e *Executor) SubmitPut(url string, header http.Header, body, dest any, cb Callback) {
	e.submit(http.MethodPut, url, header, body, dest, cb)
}

// Wait blocks until every submitted callback has returned.
func (e *Executor) Wait() {
	e.wg.Wait()
}

func (e *Executor) submit(method, url string, header http.Header, body, dest any, cb Callback) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		resp := e.exchange(method, url, header, body, dest)
		if resp.Err != nil {
			e.logger.Warn("request failed",
				slog.String("method", method),
				slog.String("url", url),
				slog.Any("error", resp.Err))
		}
		e.deliver(cb, resp)
	}()
}

func (e *Executor) deliver(cb Callback, resp Response) {
	if cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("request callback panicked", slog.Any("panic", r))
		}
	}()
	cb(resp)
}

func (e *Executor) exchange(method, url string, header http.Header, body, dest any) Response {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return failure(fmt.Errorf("encode request: %w: %w", ErrSerialization, err))
		}
		reader = bytes.NewReader(payload)
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return failure(fmt.Errorf("create request: %w: %w", ErrNetwork, err))
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", e.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.http.Do(req)
	if err != nil {
		return failure(fmt.Errorf("execute request: %w: %w", ErrNetwork, err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return failure(fmt.Errorf("%s %s returned status %d: %w", method, url, resp.StatusCode, ErrNetwork))
	}
	if dest != nil {
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			return failure(fmt.Errorf("decode response: %w: %w", ErrSerialization, err))
		}
	}
	return Response{StatusCode: resp.StatusCode}
}

func failure(err error) Response {
	return Response{StatusCode: FailureStatus, Err: err}
}
