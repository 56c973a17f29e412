// Package httpserver builds the http.Server for the necessity API.
package httpserver

import (
	"net/http"
	"time"
)

// New caps header reads tightly but sets no WriteTimeout: CSV exports
// stream the full necessity table and must not be cut off mid-body.
// Per-request deadlines come from the router's timeout middleware.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
