package testutil

import (
	"net/http"
	"time"

	"merenda/pkg/requestcontext"
)

// WithOperator adds the operator identity and role to the request context.
// This simulates what the operator middleware would do for trusted gateway
// requests.
func WithOperator(req *http.Request, operator, role string) *http.Request {
	ctx := requestcontext.WithOperator(req.Context(), operator)
	ctx = requestcontext.WithRole(ctx, role)
	return req.WithContext(ctx)
}

// WithRequestTime pins the request-scoped clock, matching the request time
// middleware.
func WithRequestTime(req *http.Request, t time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), t))
}
