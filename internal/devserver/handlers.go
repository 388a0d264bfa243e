package devserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/five82/biokey/internal/server"
)

type ctxKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.requests.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
		s.logger.Debug("request",
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.Int("status", rec.code),
			slog.Duration("took", time.Since(start)))
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(r.Header.Get(server.TokenHeader))
		token = strings.TrimPrefix(token, "Bearer ")
		userID, err := s.verifyToken(token)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, userID)))
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.AdminKey != "" && r.Header.Get(AdminHeader) != s.opts.AdminKey {
			http.Error(w, "admin key required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKey{}).(string)
	return id
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// ownedProfile returns the profile id from the route when the caller owns it.
// Callers hold s.mu.
func (s *Server) ownedProfile(w http.ResponseWriter, r *http.Request, id string) (*profile, bool) {
	p, ok := s.profiles[id]
	if !ok {
		http.Error(w, "profile not found", http.StatusNotFound)
		return nil, false
	}
	if p.container.TypingProfile.User != userID(r) {
		http.Error(w, "profile belongs to another user", http.StatusForbidden)
		return nil, false
	}
	return p, true
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req server.LoginRequest
	if !decode(w, r, &req) {
		return
	}
	u, err := s.checkPassword(req.Email, req.Password)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	token, err := s.issueToken(u.id)
	if err != nil {
		http.Error(w, "issue token", http.StatusInternalServerError)
		return
	}
	s.logger.Info("login", slog.String("email", u.email))
	writeJSON(w, http.StatusOK, server.LoginResponse{
		Token: token,
		User:  &server.UserResponse{ID: u.id, Email: u.email, Name: u.name},
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	u, ok := s.userByID(userID(r))
	s.mu.Unlock()
	if !ok {
		http.Error(w, "user not found", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, server.UserResponse{ID: u.id, Email: u.email, Name: u.name})
}

func (s *Server) handleMachineProfile(w http.ResponseWriter, r *http.Request) {
	machine := mux.Vars(r)["machine"]
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.userByID(userID(r))
	if !ok {
		http.Error(w, "user not found", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, s.container(s.profileFor(u, machine)))
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req server.TypingProfileContainerResponse
	if !decode(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.ownedProfile(w, r, mux.Vars(r)["id"])
	if !ok {
		return
	}
	p.container.TypingProfile.IsLocked = req.TypingProfile.IsLocked
	if u, ok := s.userByID(userID(r)); ok {
		if req.PhoneNumber != "" {
			u.phoneNumber = req.PhoneNumber
		}
		if req.GoogleAuthKey != "" {
			u.googleAuthKey = req.GoogleAuthKey
		}
	}
	writeJSON(w, http.StatusOK, s.container(p))
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.ownedProfile(w, r, mux.Vars(r)["id"])
	if !ok {
		return
	}
	p.heartbeat = s.opts.Now()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleKeyStrokes(w http.ResponseWriter, r *http.Request) {
	var req server.KeyStrokesRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.KeyStrokes) == 0 {
		http.Error(w, "no keystrokes", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.ownedProfile(w, r, req.KeyStrokes[0].TypingProfile)
	if !ok {
		return
	}
	p.keystrokes = append(p.keystrokes, req.KeyStrokes...)
	writeJSON(w, http.StatusCreated, struct {
		Received int `json:"received"`
	}{len(req.KeyStrokes)})
}

func (s *Server) handleAnalysisResult(w http.ResponseWriter, r *http.Request) {
	var req server.AnalysisResultRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Probability < 0 || req.Probability > 1 {
		http.Error(w, "probability out of range", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.ownedProfile(w, r, req.TypingProfile)
	if !ok {
		return
	}
	p.results = append(p.results, req)
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	wait := s.opts.MaxWait
	if secs, err := strconv.Atoi(r.URL.Query().Get("wait")); err == nil && secs >= 0 {
		wait = min(time.Duration(secs)*time.Second, s.opts.MaxWait)
	}

	s.mu.Lock()
	if _, ok := s.ownedProfile(w, r, id); !ok {
		s.mu.Unlock()
		return
	}
	msgs := append([]message(nil), s.queues[id]...)
	var ready chan struct{}
	if len(msgs) == 0 {
		ready = s.waiters[id]
		if ready == nil {
			ready = make(chan struct{})
			s.waiters[id] = ready
		}
	}
	s.mu.Unlock()

	if len(msgs) == 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-r.Context().Done():
			return
		case <-timer.C:
			w.WriteHeader(http.StatusNoContent)
			return
		case <-ready:
		}
		s.mu.Lock()
		msgs = append([]message(nil), s.queues[id]...)
		s.mu.Unlock()
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, msgID := vars["id"], vars["msg"]
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ownedProfile(w, r, id); !ok {
		return
	}
	queue := s.queues[id]
	for i, m := range queue {
		if m.ID == msgID {
			s.queues[id] = append(queue[:i], queue[i+1:]...)
			s.queued.WithLabelValues(id).Set(float64(len(s.queues[id])))
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	http.Error(w, "message not found", http.StatusNotFound)
}

type addUserRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

func (s *Server) handleAddUser(w http.ResponseWriter, r *http.Request) {
	var req addUserRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := s.AddUser(req.Email, req.Name, req.Password)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusCreated, server.UserResponse{ID: id, Email: req.Email, Name: req.Name})
}

type publishRequest struct {
	ChangeType string          `json:"changeType"`
	Body       json.RawMessage `json:"body"`
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ChangeType == "" {
		http.Error(w, "changeType is required", http.StatusBadRequest)
		return
	}
	id, err := s.Publish(mux.Vars(r)["id"], req.ChangeType, req.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		ID string `json:"id"`
	}{id})
}
