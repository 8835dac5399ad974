// Package observability provides Prometheus metrics functionality for monitoring clipscan.
package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/tphakala/clipscan/internal/logger"
)

// ShutdownTimeout bounds the graceful shutdown of the metrics server.
const ShutdownTimeout = 5 * time.Second

// Endpoint serves the metrics registry over HTTP.
type Endpoint struct {
	server        *http.Server
	listenAddress string
	metrics       *Metrics
	listener      net.Listener
}

// NewEndpoint creates an endpoint for metrics on listenAddress.
func NewEndpoint(listenAddress string, metrics *Metrics) (*Endpoint, error) {
	if metrics == nil {
		return nil, errors.New("metrics endpoint requires a metrics instance")
	}
	if listenAddress == "" {
		return nil, errors.New("metrics endpoint requires a listen address")
	}
	return &Endpoint{
		listenAddress: listenAddress,
		metrics:       metrics,
	}, nil
}

// Start binds the listen address and serves until quitChan is closed. The
// bind happens synchronously so address errors are returned to the caller.
func (e *Endpoint) Start(wg *sync.WaitGroup, quitChan <-chan struct{}) error {
	mux := http.NewServeMux()
	e.metrics.RegisterHandlers(mux)

	ln, err := net.Listen("tcp", e.listenAddress)
	if err != nil {
		return err
	}
	e.listener = ln
	e.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	wg.Go(func() {
		log.Info("Metrics endpoint starting", logger.String("address", ln.Addr().String()))
		if err := e.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics HTTP server error", logger.Error(err))
		}
	})
	wg.Go(func() {
		e.gracefulShutdown(quitChan)
	})
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (e *Endpoint) Addr() string {
	if e.listener == nil {
		return e.listenAddress
	}
	return e.listener.Addr().String()
}

// gracefulShutdown waits for the quit signal and shuts down the server gracefully.
func (e *Endpoint) gracefulShutdown(quitChan <-chan struct{}) {
	<-quitChan
	log.Info("Stopping metrics server")
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := e.server.Shutdown(ctx); err != nil {
		log.Error("Metrics server shutdown error", logger.Error(err))
	}
}

// GetMetrics returns the Metrics instance associated with this Endpoint.
func (e *Endpoint) GetMetrics() *Metrics {
	return e.metrics
}
