// Package shutdown stops long-running components in reverse registration
// order once the process context ends.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"moldscope/internal/logger"
)

// DefaultTimeout bounds how long a single component may take to stop
const DefaultTimeout = 10 * time.Second

// Component is anything that must be stopped before the process exits
type Component interface {
	Name() string
	Shutdown(ctx context.Context) error
}

type Manager struct {
	components []Component
	logger     logger.Logger
	timeout    time.Duration

	mu   sync.Mutex
	once sync.Once
	done chan struct{}
	err  error
}

// NewManager creates a shutdown manager. A non-positive timeout selects
// DefaultTimeout.
func NewManager(log logger.Logger, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Manager{
		logger:  log,
		timeout: timeout,
		done:    make(chan struct{}),
	}
}

func (m *Manager) Register(component Component) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.components = append(m.components, component)
}

// Watch shuts everything down when ctx ends. Pair it with
// signal.NotifyContext to stop on SIGINT/SIGTERM.
func (m *Manager) Watch(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			m.logger.Info("ShutdownManager", "shutdown requested", map[string]interface{}{
				"cause": context.Cause(ctx).Error(),
			})
			m.Shutdown()
		case <-m.done:
		}
	}()
}

// Shutdown stops every registered component once, newest first, and returns
// the joined component errors. Later calls return the same result.
func (m *Manager) Shutdown() error {
	m.once.Do(func() {
		defer close(m.done)

		m.mu.Lock()
		components := append([]Component(nil), m.components...)
		m.mu.Unlock()

		m.logger.Info("ShutdownManager", "shutdown sequence initiated", map[string]interface{}{
			"components": len(components),
		})

		var errs []error
		for i := len(components) - 1; i >= 0; i-- {
			if err := m.stop(components[i]); err != nil {
				errs = append(errs, err)
			}
		}
		m.err = errors.Join(errs...)

		m.logger.Info("ShutdownManager", "shutdown sequence completed", map[string]interface{}{
			"failures": len(errs),
		})
	})

	<-m.done
	return m.err
}

func (m *Manager) stop(c Component) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	start := time.Now()
	err := c.Shutdown(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			m.logger.Warning("ShutdownManager", "component shutdown timeout", map[string]interface{}{
				"component": c.Name(),
				"timeout":   m.timeout.String(),
			})
		} else {
			m.logger.Error("ShutdownManager", err, map[string]interface{}{
				"component": c.Name(),
			})
		}
		return fmt.Errorf("%s: %w", c.Name(), err)
	}

	m.logger.Debug("ShutdownManager", "component stopped", map[string]interface{}{
		"component":   c.Name(),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return nil
}

// Done is closed once the shutdown sequence has completed
func (m *Manager) Done() <-chan struct{} {
	return m.done
}
