package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ShutdownFunc releases one resource.
type ShutdownFunc func(context.Context) error

type shutdownStage struct {
	name string
	fn   ShutdownFunc
}

// ShutdownManager stops the HTTP server, then runs the registered stages in
// registration order. All of it shares one timeout.
type ShutdownManager struct {
	logger  logrus.FieldLogger
	server  *http.Server
	timeout time.Duration

	mu     sync.Mutex
	stages []shutdownStage
}

// NewShutdownManager creates a shutdown manager. server may be nil.
func NewShutdownManager(logger logrus.FieldLogger, server *http.Server, timeout time.Duration) *ShutdownManager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{
		logger:  logger,
		server:  server,
		timeout: timeout,
	}
}

// Register appends a named stage. Stages that depend on others must be
// registered after them.
func (sm *ShutdownManager) Register(name string, fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.stages = append(sm.stages, shutdownStage{name: name, fn: fn})
}

// Shutdown runs every stage even when an earlier one fails and returns the
// joined errors. Stages not started before the timeout are skipped.
func (sm *ShutdownManager) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	var errs []error
	if sm.server != nil {
		sm.logger.Info("shutting down HTTP server")
		if err := sm.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}

	sm.mu.Lock()
	stages := append([]shutdownStage(nil), sm.stages...)
	sm.mu.Unlock()

	for _, st := range stages {
		log := sm.logger.WithField("stage", st.name)
		if err := ctx.Err(); err != nil {
			log.Warn("shutdown timeout reached, stage skipped")
			errs = append(errs, fmt.Errorf("%s: %w", st.name, err))
			continue
		}
		if err := st.fn(ctx); err != nil {
			log.WithError(err).Error("shutdown stage failed")
			errs = append(errs, fmt.Errorf("%s: %w", st.name, err))
			continue
		}
		log.Debug("shutdown stage complete")
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	sm.logger.Info("graceful shutdown complete")
	return nil
}
