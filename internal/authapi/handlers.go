package authapi

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hemoline/authgate"
	"github.com/hemoline/authgate/session"
)

const minPasswordLength = 8

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds session.Credentials
	if !decode(w, r, &creds) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.byEmail[normalizeEmail(creds.Email)]
	if !ok || bcrypt.CompareHashAndPassword(acc.passwordHash, []byte(creds.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password")
		return
	}
	pair, err := s.issueLocked(acc)
	if err != nil {
		s.log.WithError(err).Error("authapi: issuing tokens failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var reg session.Registration
	if !decode(w, r, &reg) {
		return
	}
	if normalizeEmail(reg.Email) == "" || len(reg.Password) < minPasswordLength || reg.FullName == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_FAILED", "Email, full name and an 8 character password are required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acc, err := s.createLocked(reg)
	if errors.Is(err, errDuplicateEmail) {
		writeError(w, http.StatusConflict, "EMAIL_TAKEN", "Email already registered")
		return
	}
	if err != nil {
		s.log.WithError(err).Error("authapi: creating account failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		return
	}

	if s.cfg.RequireVerification {
		writeJSON(w, http.StatusAccepted, struct{}{})
		return
	}
	acc.profile.Verified = true
	pair, err := s.issueLocked(acc)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		return
	}
	writeJSON(w, http.StatusCreated, pair)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)

	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if !decode(w, r, &body) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.refresh[body.RefreshToken]
	if !ok {
		writeError(w, http.StatusUnauthorized, "REFRESH_INVALID", "Refresh token invalid")
		return
	}
	delete(s.refresh, body.RefreshToken)

	acc, ok := s.byID[id]
	if !ok {
		writeError(w, http.StatusUnauthorized, "REFRESH_INVALID", "Refresh token invalid")
		return
	}
	pair, err := s.issueLocked(acc)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// handleLogout revokes the refresh token and the caller's CSRF token.
func (s *Server) handleLogout(g *authgate.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		if !decode(w, r, &body) {
			return
		}

		s.mu.Lock()
		delete(s.refresh, body.RefreshToken)
		s.mu.Unlock()

		if err := g.RevokeCSRF(r.Context(), g.SessionKey(r)); err != nil {
			s.log.WithError(err).Warn("authapi: revoking csrf token failed")
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, err := s.accountFor(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, acc.profile)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var update session.ProfileUpdate
	if !decode(w, r, &update) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acc, err := s.accountFor(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
		return
	}
	if update.FullName != nil {
		acc.profile.FullName = *update.FullName
	}
	if update.Phone != nil {
		acc.profile.Phone = *update.Phone
	}
	if update.BloodGroup != nil {
		acc.profile.BloodGroup = *update.BloodGroup
	}
	if update.City != nil {
		acc.profile.City = *update.City
	}
	writeJSON(w, http.StatusOK, acc.profile)
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if !decode(w, r, &body) {
		return
	}

	s.mu.Lock()
	email := normalizeEmail(body.Email)
	if acc, ok := s.byEmail[email]; ok {
		tok := uuid.NewString()
		s.resets[tok] = acc.profile.ID
		s.lastMail[email] = tok
	}
	s.mu.Unlock()

	// Same answer whether or not the account exists.
	writeJSON(w, http.StatusAccepted, struct{}{})
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if !decode(w, r, &body) {
		return
	}
	if len(body.Password) < minPasswordLength {
		writeError(w, http.StatusBadRequest, "VALIDATION_FAILED", "Password must be at least 8 characters")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.resets[body.Token]
	if !ok {
		writeError(w, http.StatusBadRequest, "RESET_TOKEN_INVALID", "Reset token invalid or used")
		return
	}
	delete(s.resets, body.Token)

	acc := s.byID[id]
	hash, err := bcrypt.GenerateFromPassword([]byte(body.Password), s.cfg.BcryptCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		return
	}
	acc.passwordHash = hash
	s.revokeLocked(id)
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if !decode(w, r, &body) {
		return
	}
	if len(body.NewPassword) < minPasswordLength {
		writeError(w, http.StatusBadRequest, "VALIDATION_FAILED", "Password must be at least 8 characters")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acc, err := s.accountFor(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
		return
	}
	if bcrypt.CompareHashAndPassword(acc.passwordHash, []byte(body.CurrentPassword)) != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PASSWORD", "Current password is incorrect")
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(body.NewPassword), s.cfg.BcryptCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		return
	}
	acc.passwordHash = hash
	s.revokeLocked(acc.profile.ID)
	w.WriteHeader(http.StatusNoContent)
}
