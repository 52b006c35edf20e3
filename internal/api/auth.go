package api

import (
	"encoding/json"
	"net/http"

	"github.com/nerrad567/tbdash/internal/thingsboard"
)

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleLogin signs the process in. Tokens stay server-side; the response
// only confirms the session.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeBadRequest(w, "username and password are required")
		return
	}

	resp, err := s.backend.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeBackendError(w, r, err)
		return
	}

	s.logger.Info("backend session started", "username", req.Username)
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"userId":        resp.UserID,
	})
}

// handleSignup registers a customer user.
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req thingsboard.SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	user, err := s.backend.Signup(r.Context(), req)
	if err != nil {
		s.writeBackendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// handleLogout ends the session. It always succeeds.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.backend.Logout(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// handleMe returns the signed-in user's profile.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.backend.CurrentUser(r.Context())
	if err != nil {
		s.writeBackendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
