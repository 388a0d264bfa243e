package devserver

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"

	"github.com/five82/biokey/internal/server"
)

var (
	errBadCredentials = errors.New("invalid email or password")
	errBadToken       = errors.New("invalid token")
)

// AdminHeader carries the admin key on /admin requests.
const AdminHeader = "x-admin-key"

// Options configures a Server.
type Options struct {
	// Secret signs access tokens. Empty generates a random one.
	Secret []byte
	// TokenTTL is the lifetime of issued tokens. Zero means 24h.
	TokenTTL time.Duration
	// AdminKey guards /admin routes. Empty leaves them open.
	AdminKey string
	// Model is given to every profile created on first login.
	Model server.EngineModelJSON
	// Strategies are the challenge strategies new profiles accept.
	// Nil means GoogleAuth only.
	Strategies []string
	// MaxWait caps how long a push poll may be held open. Zero means 30s.
	MaxWait time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

type user struct {
	id            string
	email         string
	name          string
	hash          []byte
	phoneNumber   string
	googleAuthKey string
}

type profile struct {
	container  server.TypingProfileContainerResponse
	keystrokes []server.KeyStrokeJSON
	results    []server.AnalysisResultRequest
	heartbeat  time.Time
}

type message struct {
	ID         string `json:"id"`
	ChangeType string `json:"changeType"`
	Body       any    `json:"body"`
}

// Server is an in-memory implementation of the biokey API for local
// development and integration tests.
type Server struct {
	opts   Options
	logger *slog.Logger
	router *mux.Router

	requests *prometheus.CounterVec
	queued   *prometheus.GaugeVec

	mu        sync.Mutex
	users     map[string]*user // by email
	profiles  map[string]*profile
	byMachine map[string]string // user id + machine id -> profile id
	queues    map[string][]message
	waiters   map[string]chan struct{}
}

// New builds a Server with no users.
func New(opts Options) *Server {
	if len(opts.Secret) == 0 {
		opts.Secret = []byte(uuid.NewString())
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	if opts.Strategies == nil {
		opts.Strategies = []string{"GoogleAuth"}
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Server{
		opts:      opts,
		logger:    opts.Logger,
		users:     make(map[string]*user),
		profiles:  make(map[string]*profile),
		byMachine: make(map[string]string),
		queues:    make(map[string][]message),
		waiters:   make(map[string]chan struct{}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "biokey_devserver",
			Name:      "requests_total",
			Help:      "API requests by route and status code.",
		}, []string{"route", "code"}),
		queued: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "biokey_devserver",
			Name:      "push_queue_length",
			Help:      "Undelivered push messages per profile.",
		}, []string{"profile"}),
	}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *mux.Router {
	reg := prometheus.NewRegistry()
	reg.MustRegister(s.requests, s.queued)

	r := mux.NewRouter()
	r.Use(s.instrument)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)

	authed := api.NewRoute().Subrouter()
	authed.Use(s.authenticate)
	authed.HandleFunc("/users/me", s.handleMe).Methods(http.MethodGet)
	authed.HandleFunc("/typingProfiles/machine/{machine}", s.handleMachineProfile).Methods(http.MethodPost)
	authed.HandleFunc("/typingProfiles/{id}", s.handleUpdateProfile).Methods(http.MethodPut)
	authed.HandleFunc("/typingProfiles/{id}/heartbeat", s.handleHeartbeat).Methods(http.MethodPost)
	authed.HandleFunc("/keystrokes", s.handleKeyStrokes).Methods(http.MethodPost)
	authed.HandleFunc("/analysisResults", s.handleAnalysisResult).Methods(http.MethodPost)
	authed.HandleFunc("/push/{id}", s.handlePoll).Methods(http.MethodGet)
	authed.HandleFunc("/push/{id}/{msg}", s.handleAck).Methods(http.MethodDelete)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(s.requireAdmin)
	admin.HandleFunc("/users", s.handleAddUser).Methods(http.MethodPost)
	admin.HandleFunc("/publish/{id}", s.handlePublish).Methods(http.MethodPost)

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}

// AddUser registers a user and returns its id.
func (s *Server) AddUser(email, name, password string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return "", errors.New("email and password are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[email]; exists {
		return "", fmt.Errorf("user %s already exists", email)
	}
	u := &user{id: uuid.NewString(), email: email, name: name, hash: hash}
	s.users[email] = u
	return u.id, nil
}

func (s *Server) checkPassword(email, password string) (*user, error) {
	s.mu.Lock()
	u, ok := s.users[strings.ToLower(strings.TrimSpace(email))]
	s.mu.Unlock()
	if !ok {
		return nil, errBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword(u.hash, []byte(password)); err != nil {
		return nil, errBadCredentials
	}
	return u, nil
}

func (s *Server) issueToken(userID string) (string, error) {
	now := s.opts.Now()
	claims := jwt.StandardClaims{
		Id:        uuid.NewString(),
		Subject:   userID,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(s.opts.TokenTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.opts.Secret)
}

// verifyToken returns the user id the token was issued to.
func (s *Server) verifyToken(token string) (string, error) {
	claims := &jwt.StandardClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.opts.Secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", errBadToken
	}
	if !claims.VerifyExpiresAt(s.opts.Now().Unix(), true) {
		return "", errBadToken
	}
	return claims.Subject, nil
}

func (s *Server) userByID(id string) (*user, bool) {
	for _, u := range s.users {
		if u.id == id {
			return u, true
		}
	}
	return nil, false
}

// profileFor returns the profile for (userID, machine), creating it on first
// use. Callers hold s.mu.
func (s *Server) profileFor(u *user, machine string) *profile {
	key := u.id + "/" + machine
	if id, ok := s.byMachine[key]; ok {
		return s.profiles[id]
	}
	id := uuid.NewString()
	p := &profile{}
	p.container.TypingProfile = server.TypingProfileResponse{
		ID:                  id,
		User:                u.id,
		Machine:             machine,
		TensorFlowModel:     s.opts.Model,
		Endpoint:            "/api/push/" + id,
		ChallengeStrategies: append([]string(nil), s.opts.Strategies...),
	}
	if p.container.TypingProfile.TensorFlowModel.GaussianProfile == nil {
		p.container.TypingProfile.TensorFlowModel.GaussianProfile = map[string]server.GaussianFeatureJSON{}
	}
	s.profiles[id] = p
	s.byMachine[key] = id
	s.logger.Info("profile created", slog.String("profile", id), slog.String("machine", machine))
	return p
}

// container returns the profile with the owner's contact details. Callers hold s.mu.
func (s *Server) container(p *profile) server.TypingProfileContainerResponse {
	c := p.container
	if u, ok := s.userByID(c.TypingProfile.User); ok {
		c.PhoneNumber = u.phoneNumber
		c.GoogleAuthKey = u.googleAuthKey
	}
	c.TimeStamp = s.opts.Now().UnixMilli()
	return c
}

// Publish queues a push message for a profile and wakes its poller.
func (s *Server) Publish(profileID, changeType string, body any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[profileID]; !ok {
		return "", fmt.Errorf("profile %s not found", profileID)
	}
	m := message{ID: uuid.NewString(), ChangeType: changeType, Body: body}
	s.queues[profileID] = append(s.queues[profileID], m)
	s.queued.WithLabelValues(profileID).Set(float64(len(s.queues[profileID])))
	if w, ok := s.waiters[profileID]; ok {
		close(w)
		delete(s.waiters, profileID)
	}
	return m.ID, nil
}

// SetLocked changes a profile's lock flag and pushes the change.
func (s *Server) SetLocked(profileID string, locked bool) error {
	s.mu.Lock()
	p, ok := s.profiles[profileID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("profile %s not found", profileID)
	}
	p.container.TypingProfile.IsLocked = locked
	c := s.container(p)
	s.mu.Unlock()
	_, err := s.Publish(profileID, "TypingProfile", c)
	return err
}

// Profile returns the server's view of a profile.
func (s *Server) Profile(id string) (server.TypingProfileContainerResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return server.TypingProfileContainerResponse{}, false
	}
	return s.container(p), true
}

// ProfileForMachine returns the id of the profile a user has on machine.
func (s *Server) ProfileForMachine(email, machine string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[strings.ToLower(email)]
	if !ok {
		return "", false
	}
	id, ok := s.byMachine[u.id+"/"+machine]
	return id, ok
}

// KeyStrokes returns every keystroke received for a profile.
func (s *Server) KeyStrokes(profileID string) []server.KeyStrokeJSON {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.profiles[profileID]; ok {
		return append([]server.KeyStrokeJSON(nil), p.keystrokes...)
	}
	return nil
}

// AnalysisResults returns every analysis result received for a profile.
func (s *Server) AnalysisResults(profileID string) []server.AnalysisResultRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.profiles[profileID]; ok {
		return append([]server.AnalysisResultRequest(nil), p.results...)
	}
	return nil
}

// LastHeartbeat returns when the profile last reported in.
func (s *Server) LastHeartbeat(profileID string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.profiles[profileID]; ok {
		return p.heartbeat
	}
	return time.Time{}
}
