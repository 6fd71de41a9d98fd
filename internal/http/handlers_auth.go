package http

import (
	"log/slog"
	"net/http"
)

type signupRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type googleLoginRequest struct {
	IDToken string `json:"idToken"`
}

type loginResponse struct {
	Token string `json:"token"`
	User  any    `json:"user"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}

	user, err := s.authSvc.SignUp(r.Context(), sanitizeInput(req.Email), req.Password, sanitizeInput(req.DisplayName))
	if err != nil {
		writeError(w, r, err)
		return
	}

	slog.InfoContext(r.Context(), "User signed up", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}

	token, user, err := s.authSvc.Login(r.Context(), sanitizeInput(req.Email), req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}

	slog.InfoContext(r.Context(), "User logged in", "user_id", user.ID)
	writeJSON(w, http.StatusOK, loginResponse{Token: token, User: user})
}

func (s *Server) handleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	var req googleLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}

	token, user, err := s.authSvc.LoginWithGoogle(r.Context(), req.IDToken)
	if err != nil {
		writeError(w, r, err)
		return
	}

	slog.InfoContext(r.Context(), "User logged in via Google", "user_id", user.ID)
	writeJSON(w, http.StatusOK, loginResponse{Token: token, User: user})
}

// handleLogout exists so clients have a single place to invalidate
// their view; the bearer token itself expires server-side via its TTL.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)
	slog.InfoContext(r.Context(), "User logged out", "user_id", session.CurrentUserID())
	session.Logout()
	w.WriteHeader(http.StatusNoContent)
}

// handleMe restores a session from a still-valid bearer token.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)
	writeJSON(w, http.StatusOK, session.CurrentUser())
}

// handleListUsers returns the minimal profiles used by the
// split-participant picker.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.authSvc.ListUsers(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}
