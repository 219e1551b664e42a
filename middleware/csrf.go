package middleware

import (
	"net/http"

	"github.com/hemoline/authgate"
)

type csrfTokenBody struct {
	CSRFToken string `json:"csrf_token"`
}

// CSRFTokenHandler issues a CSRF token for the caller's session key,
// replacing any earlier one. Mount it at GET /auth/csrf-token.
func CSRFTokenHandler(g *authgate.Gate) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			writeJSON(w, http.StatusMethodNotAllowed, rejectionBody{Code: "METHOD_NOT_ALLOWED", Message: "Method not allowed"})
			return
		}

		rec, err := g.IssueCSRF(r.Context(), g.SessionKey(r))
		if err != nil {
			g.Logger().WithError(err).Error("authgate: issuing csrf token failed")
			reject(w, err)
			return
		}

		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusOK, csrfTokenBody{CSRFToken: rec.Token})
	})
}
