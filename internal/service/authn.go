package service

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// handlePing advertises server capabilities. Conan clients probe this
// before anything else.
func (svc *Service) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Conan-Server-Capabilities", "complex_search,revisions")
	w.WriteHeader(http.StatusOK)
}

// handleAuthenticate exchanges basic auth credentials for a bearer token
// with a sliding expiry.
func (svc *Service) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	user, pass, ok := r.BasicAuth()
	if !ok {
		writeErrorStatus(w, http.StatusUnauthorized, "basic auth required")
		return
	}

	svc.mu.RLock()
	expected, known := svc.users[user]
	svc.mu.RUnlock()
	if !known || expected != pass {
		writeErrorStatus(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token := uuid.NewString()
	svc.mu.Lock()
	svc.tokens[token] = &tokenInfo{
		Username:  user,
		ExpiresAt: time.Now().Add(issuedTokenTTL),
	}
	svc.mu.Unlock()

	slog.Info("Issued token", "user", user)

	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprint(w, token)
}

// handleCheckCredentials echoes the authenticated username, which is how
// Conan clients validate a stored token.
func (svc *Service) handleCheckCredentials(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	if user == "" {
		user = "anonymous"
	}
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprint(w, user)
}
