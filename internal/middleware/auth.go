// Package middleware provides HTTP middleware for the read path.
package middleware

import (
	"context"
	"net/http"
	"strings"

	svcerrors "github.com/farstore/registry-sync/internal/errors"
	"github.com/farstore/registry-sync/internal/httputil"
	"github.com/farstore/registry-sync/pkg/logger"
)

type contextKey string

const apiDomainKey contextKey = "api_domain"

// KeyResolver maps an API key to the domain it authorizes.
type KeyResolver interface {
	Resolve(key string) (string, bool)
}

// APIKeyAuth authenticates requests carrying "Authorization: Bearer <key>"
// against the API key cache.
type APIKeyAuth struct {
	keys KeyResolver
	log  *logger.Logger
}

// NewAPIKeyAuth creates the authentication middleware.
func NewAPIKeyAuth(keys KeyResolver, log *logger.Logger) *APIKeyAuth {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	return &APIKeyAuth{keys: keys, log: log}
}

// Handler rejects requests without a known key and stores the key's domain
// in the request context.
func (m *APIKeyAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := bearerToken(r.Header.Get("Authorization"))
		if key == "" {
			m.respondError(w, r, svcerrors.Unauthorized("Unauthorized - Missing API Key"))
			return
		}
		domain, ok := m.keys.Resolve(key)
		if !ok {
			m.respondError(w, r, svcerrors.Unauthorized("Unauthorized - Invalid API Key"))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithAPIDomain(r.Context(), domain)))
	})
}

func (m *APIKeyAuth) respondError(w http.ResponseWriter, r *http.Request, err *svcerrors.ServiceError) {
	m.log.WithFields(map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
	}).Debug(err.Message)
	httputil.WriteErrors(w, err.HTTPStatus, err.Message)
}

func bearerToken(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// WithAPIDomain stores the authenticated domain in ctx.
func WithAPIDomain(ctx context.Context, domain string) context.Context {
	return context.WithValue(ctx, apiDomainKey, domain)
}

// APIDomain returns the domain authenticated for the request, or "".
func APIDomain(ctx context.Context) string {
	domain, _ := ctx.Value(apiDomainKey).(string)
	return domain
}
