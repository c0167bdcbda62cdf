package server

import (
	"bytes"
	"crypto/subtle"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/incidentkb/internal/logging"
	"github.com/54b3r/incidentkb/internal/pagerduty"
)

// searchRealm names the protected search API in Bearer challenges.
const searchRealm = "incidentkb-search"

// requireAPIKey guards next with "Authorization: Bearer <apiKey>". An empty
// apiKey disables the check; New warns about that once at startup. Tokens
// are compared in constant time and never logged.
func requireAPIKey(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	want := []byte(apiKey)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logging.FromContext(r.Context())

		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			log.Warn("auth: missing bearer token")
			w.Header().Set("WWW-Authenticate", `Bearer realm="`+searchRealm+`"`)
			writeError(w, http.StatusUnauthorized, "authorization required", log)
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), want) != 1 {
			log.Warn("auth: invalid bearer token")
			w.Header().Set("WWW-Authenticate", `Bearer realm="`+searchRealm+`", error="invalid_token"`)
			writeError(w, http.StatusUnauthorized, "invalid token", log)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerToken parses an Authorization header value of the form
// "Bearer <token>". The scheme is case-insensitive.
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// requireSignature rejects webhook deliveries whose body does not match the
// X-PagerDuty-Signature header under secret. An empty secret disables the
// check. The body is buffered so the handler can read it again.
func requireSignature(secret string, next http.Handler) http.Handler {
	if secret == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logging.FromContext(r.Context())

		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large", log)
			return
		}
		if !pagerduty.VerifySignature(secret, body, r.Header.Get(pagerduty.SignatureHeader)) {
			log.Warn("webhook: signature mismatch",
				slog.Bool("signature_present", r.Header.Get(pagerduty.SignatureHeader) != ""),
			)
			writeError(w, http.StatusUnauthorized, "invalid webhook signature", log)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}
