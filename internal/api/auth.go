package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/itechmarine/helm-core/internal/auth"
)

// minPasswordLength is the minimum accepted password length.
const minPasswordLength = 8

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type authResponse struct {
	Token string     `json:"token"`
	User  *auth.User `json:"user"`
}

// handleRegister creates a new owner account and issues a token.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if !auth.IsValidEmail(req.Email) {
		writeBadRequest(w, "invalid email address")
		return
	}
	if len(req.Password) < minPasswordLength {
		writeBadRequest(w, "password must be at least 8 characters")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.logger.Error("hashing password", "error", err)
		writeInternalError(w, "failed to create account")
		return
	}

	user := &auth.User{
		Email:        req.Email,
		DisplayName:  req.DisplayName,
		PasswordHash: hash,
	}
	if err := s.users.Create(r.Context(), user); err != nil {
		if errors.Is(err, auth.ErrEmailExists) {
			writeConflict(w, "email already registered")
			return
		}
		s.logger.Error("creating user", "error", err)
		writeInternalError(w, "failed to create account")
		return
	}

	token, err := auth.GenerateAccessToken(user, s.secCfg.JWT.Secret, s.secCfg.JWT.AccessTokenTTL)
	if err != nil {
		s.logger.Error("signing token", "error", err)
		writeInternalError(w, "failed to issue token")
		return
	}

	writeJSON(w, http.StatusCreated, authResponse{Token: token, User: user})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// handleLogin verifies credentials and issues a token. Unknown emails and
// wrong passwords produce the same response; no account enumeration.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	user, err := s.users.GetByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeUnauthorized(w, "invalid credentials")
			return
		}
		s.logger.Error("looking up user", "error", err)
		writeInternalError(w, "login failed")
		return
	}

	ok, err := auth.VerifyPassword(req.Password, user.PasswordHash)
	if err != nil {
		s.logger.Error("verifying password", "error", err)
		writeInternalError(w, "login failed")
		return
	}
	if !ok {
		writeUnauthorized(w, "invalid credentials")
		return
	}

	token, err := auth.GenerateAccessToken(user, s.secCfg.JWT.Secret, s.secCfg.JWT.AccessTokenTTL)
	if err != nil {
		s.logger.Error("signing token", "error", err)
		writeInternalError(w, "failed to issue token")
		return
	}

	writeJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}
