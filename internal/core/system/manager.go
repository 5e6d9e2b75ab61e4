package system

import (
	"context"
	"fmt"
	"sync"

	core "github.com/ghmbegerez/converge/internal/core/service"
)

// Manager owns the lifecycle of registered Services, starting and stopping
// them deterministically and collecting their descriptors for introspection.
type Manager struct {
	mu       sync.Mutex
	services []Service
	names    map[string]struct{}
	started  []Service
}

// NewManager creates an empty service manager.
func NewManager() *Manager {
	return &Manager{names: make(map[string]struct{})}
}

// Register adds a service to the manager. Registration after Start has no
// effect on already-running services until the next Start call.
func (m *Manager) Register(svc Service) error {
	if svc == nil {
		return fmt.Errorf("system: cannot register nil service")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	name := svc.Name()
	if _, exists := m.names[name]; exists {
		return fmt.Errorf("system: service %q already registered", name)
	}
	m.names[name] = struct{}{}
	m.services = append(m.services, svc)
	return nil
}

// Start starts every registered service in registration order. If a service
// fails to start, previously started services are stopped in reverse order
// before the error is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	services := make([]Service, len(m.services))
	copy(services, m.services)
	m.mu.Unlock()

	var started []Service
	for _, svc := range services {
		if err := svc.Start(ctx); err != nil {
			for i := len(started) - 1; i >= 0; i-- {
				_ = started[i].Stop(ctx)
			}
			return fmt.Errorf("system: start %s: %w", svc.Name(), err)
		}
		started = append(started, svc)
	}

	m.mu.Lock()
	m.started = started
	m.mu.Unlock()
	return nil
}

// Stop stops every started service in reverse start order, collecting the
// first error encountered while still attempting to stop the rest.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	started := make([]Service, len(m.started))
	copy(started, m.started)
	m.started = nil
	m.mu.Unlock()

	var firstErr error
	for i := len(started) - 1; i >= 0; i-- {
		if err := started[i].Stop(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("system: stop %s: %w", started[i].Name(), err)
		}
	}
	return firstErr
}

// Descriptors collects descriptors from registered services that implement
// DescriptorProvider.
func (m *Manager) Descriptors() []core.Descriptor {
	m.mu.Lock()
	services := make([]Service, len(m.services))
	copy(services, m.services)
	m.mu.Unlock()

	var providers []DescriptorProvider
	for _, svc := range services {
		if p, ok := svc.(DescriptorProvider); ok {
			providers = append(providers, p)
		}
	}
	return CollectDescriptors(providers)
}

// NoopService is a Service placeholder used for modules that do not require
// background lifecycle management but still want to appear in descriptors.
type NoopService struct {
	ServiceName string
}

func (n NoopService) Name() string { return n.ServiceName }

func (n NoopService) Start(context.Context) error { return nil }

func (n NoopService) Stop(context.Context) error { return nil }
