package middleware

import (
	"log/slog"
	"net/http"

	"merenda/pkg/requestcontext"
)

// Operator roles recognized by the workflow. Authentication itself happens
// upstream at the gateway; this service trusts the forwarded identity headers.
const (
	RoleNutritionist = "nutritionist"
	RoleCoordination = "coordination"
	RoleLogistics    = "logistics"
)

// RequireOperator extracts the operator identity and role forwarded by the
// gateway and rejects requests that carry neither.
func RequireOperator(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			operator := r.Header.Get("X-Operator-Id")
			role := r.Header.Get("X-Operator-Role")

			if operator == "" {
				ctx := r.Context()
				logger.WarnContext(ctx, "request without operator identity",
					"request_id", requestcontext.RequestID(ctx),
					"path", r.URL.Path,
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"Missing X-Operator-Id header"}`))
				return
			}

			switch role {
			case RoleNutritionist, RoleCoordination, RoleLogistics:
			default:
				ctx := r.Context()
				logger.WarnContext(ctx, "request with unknown operator role",
					"request_id", requestcontext.RequestID(ctx),
					"role", role,
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"forbidden","error_description":"Unknown operator role"}`))
				return
			}

			ctx := requestcontext.WithOperator(r.Context(), operator)
			ctx = requestcontext.WithRole(ctx, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
