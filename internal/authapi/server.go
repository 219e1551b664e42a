package authapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/hemoline/authgate"
	"github.com/hemoline/authgate/middleware"
	"github.com/hemoline/authgate/refresh"
	"github.com/hemoline/authgate/session"
	"github.com/hemoline/authgate/token"
)

// CSRFExemptPaths are the anonymous credential endpoints. Callers building
// the gate for this server add them to CSRFConfig.ExemptPaths.
var CSRFExemptPaths = []string{
	"/auth/login",
	"/auth/register",
	"/auth/forgot-password",
	"/auth/reset-password",
	refresh.RefreshPath,
}

var (
	errDuplicateEmail = errors.New("email already registered")
	errUnknownAccount = errors.New("unknown account")
)

type account struct {
	profile      session.Profile
	passwordHash []byte
}

type Config struct {
	Issuer *token.Issuer
	Logger logrus.FieldLogger
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
	// RequireVerification makes registration return no tokens until the
	// account is verified.
	RequireVerification bool
}

// Server holds accounts, refresh tokens and pending password resets.
type Server struct {
	cfg Config
	log logrus.FieldLogger

	mu       sync.Mutex
	byEmail  map[string]*account
	byID     map[string]*account
	refresh  map[string]string
	resets   map[string]string
	lastMail map[string]string

	refreshCalls atomic.Int64
}

func New(cfg Config) *Server {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		cfg:      cfg,
		log:      log,
		byEmail:  make(map[string]*account),
		byID:     make(map[string]*account),
		refresh:  make(map[string]string),
		resets:   make(map[string]string),
		lastMail: make(map[string]string),
	}
}

// Handler mounts the API behind the security gate.
func (s *Server) Handler(g *authgate.Gate) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.SecurityGate(g))

	r.Get("/auth/csrf-token", middleware.CSRFTokenHandler(g).ServeHTTP)
	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/register", s.handleRegister)
	r.Post(refresh.RefreshPath, s.handleRefresh)
	r.Post("/auth/forgot-password", s.handleForgotPassword)
	r.Post("/auth/reset-password", s.handleResetPassword)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireBearer(s.cfg.Issuer))
		r.Post("/auth/logout", s.handleLogout(g))
		r.Get("/auth/profile", s.handleProfile)
		r.Put("/auth/profile", s.handleUpdateProfile)
		r.Post("/auth/change-password", s.handleChangePassword)
	})
	return r
}

// Seed creates an account directly and returns its id.
func (s *Server) Seed(reg session.Registration, verified bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, err := s.createLocked(reg)
	if err != nil {
		return "", err
	}
	acc.profile.Verified = verified
	return acc.profile.ID, nil
}

// RefreshCalls counts requests to the refresh endpoint.
func (s *Server) RefreshCalls() int64 { return s.refreshCalls.Load() }

// RevokeSessions drops every refresh token of the account.
func (s *Server) RevokeSessions(accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revokeLocked(accountID)
}

func (s *Server) revokeLocked(accountID string) {
	for tok, id := range s.refresh {
		if id == accountID {
			delete(s.refresh, tok)
		}
	}
}

// LastResetToken returns the reset token most recently mailed to email.
func (s *Server) LastResetToken(email string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.lastMail[normalizeEmail(email)]
	return tok, ok
}

func (s *Server) createLocked(reg session.Registration) (*account, error) {
	email := normalizeEmail(reg.Email)
	if _, exists := s.byEmail[email]; exists {
		return nil, errDuplicateEmail
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), s.cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	role := reg.Role
	if role == "" {
		role = "donor"
	}
	acc := &account{
		passwordHash: hash,
		profile: session.Profile{
			ID:         uuid.NewString(),
			Email:      email,
			FullName:   reg.FullName,
			Phone:      reg.Phone,
			BloodGroup: reg.BloodGroup,
			Role:       role,
		},
	}
	s.byEmail[email] = acc
	s.byID[acc.profile.ID] = acc
	return acc, nil
}

func (s *Server) issueLocked(acc *account) (token.Pair, error) {
	access, err := s.cfg.Issuer.Issue(token.Subject{
		ID:       acc.profile.ID,
		Email:    acc.profile.Email,
		Role:     acc.profile.Role,
		Verified: acc.profile.Verified,
	})
	if err != nil {
		return token.Pair{}, err
	}
	refreshToken := uuid.NewString()
	s.refresh[refreshToken] = acc.profile.ID
	return token.Pair{AccessToken: access, RefreshToken: refreshToken}, nil
}

func (s *Server) accountFor(r *http.Request) (*account, error) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		return nil, errUnknownAccount
	}
	acc, ok := s.byID[claims.Subject]
	if !ok {
		return nil, errUnknownAccount
	}
	return acc, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type apiError struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiError{Code: code, Message: message})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if authgate.IsPayloadTooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, authgate.CodePayloadTooLarge, "Payload too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Malformed request body")
		return false
	}
	return true
}
