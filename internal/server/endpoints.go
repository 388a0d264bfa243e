package server

import (
	"fmt"
	"net/url"
	"strings"
)

const defaultServerURL = "http://127.0.0.1:3000"

// Endpoints resolves API paths against the configured server.
type Endpoints struct {
	base *url.URL
}

// NewEndpoints parses serverURL. A bare host:port is treated as http.
func NewEndpoints(serverURL string) (Endpoints, error) {
	base, err := parseBaseURL(serverURL)
	if err != nil {
		return Endpoints{}, err
	}
	return Endpoints{base: base}, nil
}

// Base returns the normalized server URL.
func (e Endpoints) Base() string {
	if e.base == nil {
		return ""
	}
	return e.base.String()
}

// KeyStrokes is POST /api/keystrokes.
func (e Endpoints) KeyStrokes() string { return e.resolve("api", "keystrokes") }

// AnalysisResults is POST /api/analysisResults.
func (e Endpoints) AnalysisResults() string { return e.resolve("api", "analysisResults") }

// Me is GET /api/users/me.
func (e Endpoints) Me() string { return e.resolve("api", "users", "me") }

// Login is POST /api/auth/login.
func (e Endpoints) Login() string { return e.resolve("api", "auth", "login") }

// MachineProfile is POST /api/typingProfiles/machine/{id}.
func (e Endpoints) MachineProfile(machineID string) string {
	return e.resolve("api", "typingProfiles", "machine", machineID)
}

// Heartbeat is POST /api/typingProfiles/{id}/heartbeat.
func (e Endpoints) Heartbeat(profileID string) string {
	return e.resolve("api", "typingProfiles", profileID, "heartbeat")
}

// Profile is PUT /api/typingProfiles/{id}.
func (e Endpoints) Profile(profileID string) string {
	return e.resolve("api", "typingProfiles", profileID)
}

// Push resolves a profile's push endpoint, which the server may give either
// as an absolute URL or as a path on the API server.
func (e Endpoints) Push(endpoint string) (string, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", fmt.Errorf("push endpoint is empty")
	}
	ref, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse push endpoint %q: %w", endpoint, err)
	}
	base := e.base
	if base == nil {
		base, _ = parseBaseURL("")
	}
	return base.ResolveReference(ref).String(), nil
}

// PushAck is DELETE <push endpoint>/{id}.
func PushAck(pushURL, messageID string) string {
	u, err := url.Parse(pushURL)
	if err != nil {
		return strings.TrimRight(pushURL, "/") + "/" + url.PathEscape(messageID)
	}
	return u.JoinPath(messageID).String()
}

func (e Endpoints) resolve(segments ...string) string {
	base := e.base
	if base == nil {
		base, _ = parseBaseURL("")
	}
	return base.JoinPath(segments...).String()
}

func parseBaseURL(serverURL string) (*url.URL, error) {
	trimmed := strings.TrimSpace(serverURL)
	if trimmed == "" {
		trimmed = defaultServerURL
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse server url %q: %w", serverURL, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("parse server url %q: missing host", serverURL)
	}
	u.Path = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}
