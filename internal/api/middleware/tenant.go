package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

// OrgIDKey is the context key for the requesting organization ID.
const OrgIDKey contextKey = "org_id"

// TenantExtractor extracts the organization from the request.
// It checks the X-Org-Id header, then the org query parameter,
// and falls back to "default".
func TenantExtractor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orgID := ""

		// Priority 1: X-Org-Id header
		if h := r.Header.Get("X-Org-Id"); h != "" {
			orgID = strings.TrimSpace(h)
		}

		// Priority 2: org query parameter
		if orgID == "" {
			if q := r.URL.Query().Get("org"); q != "" {
				orgID = strings.TrimSpace(q)
			}
		}

		if orgID == "" {
			orgID = "default"
		}

		ctx := context.WithValue(r.Context(), OrgIDKey, orgID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetOrgID retrieves the organization ID from the request context.
func GetOrgID(ctx context.Context) string {
	if v, ok := ctx.Value(OrgIDKey).(string); ok {
		return v
	}
	return "default"
}
