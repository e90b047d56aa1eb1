package auth

import (
	"net/http"
)

// Role names accepted by the ledger's write endpoints.
const (
	RoleAdmin           = "Admin"
	RoleQualityApprover = "Quality Approver"
	RoleSystem          = "System"
)

// HasRole returns true if the provided AuthInfo contains the requested role.
// It checks:
// 1) explicit Roles slice, and
// 2) fallback: peer CN equals the role string (service identities over mTLS).
func HasRole(ai *AuthInfo, role string) bool {
	if ai == nil {
		return false
	}
	for _, r := range ai.Roles {
		if r == role {
			return true
		}
	}
	if ai.PeerCN != "" && ai.PeerCN == role {
		return true
	}
	return false
}

// RequireAnyRole returns middleware that allows the request if the AuthInfo has
// any one of the provided roles. A request with no identity at all gets 401, an
// identified caller without a matching role gets 403.
func RequireAnyRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ai := FromContext(r.Context())
			if ai == nil || (len(ai.Roles) == 0 && ai.PeerCN == "" && ai.Subject == "") {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			for _, role := range roles {
				if HasRole(ai, role) {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "forbidden")
		})
	}
}
