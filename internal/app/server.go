package app

import (
	"context"
	"net"
	"net/http"
	"time"
)

// NewServer builds the API http.Server. Request contexts derive from a base
// context that is cancelled once Shutdown starts, so open streams return
// instead of holding shutdown until its deadline.
func NewServer(addr string, handler http.Handler) *http.Server {
	baseCtx, cancel := context.WithCancel(context.Background())
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// no WriteTimeout: comment and reaction streams stay open
		IdleTimeout: 60 * time.Second,
		BaseContext: func(net.Listener) context.Context { return baseCtx },
	}
	server.RegisterOnShutdown(cancel)
	return server
}
