package httpapi

import (
	"context"
	"net/http"
	"time"

	core "github.com/ghmbegerez/converge/internal/core/service"
	system "github.com/ghmbegerez/converge/internal/core/system"
	"github.com/ghmbegerez/converge/pkg/logger"
)

// Service exposes Handler's router over HTTP and fits into the core
// system.Manager lifecycle.
type Service struct {
	addr    string
	server  *http.Server
	handler http.Handler
	log     *logger.Logger
}

// NewService builds the HTTP service bound to addr.
func NewService(h *Handler, addr string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("http")
	}
	return &Service{addr: addr, handler: NewRouter(h), log: log}
}

var _ system.Service = (*Service)(nil)
var _ system.DescriptorProvider = (*Service)(nil)

// Name identifies this service to the system manager.
func (s *Service) Name() string { return "http" }

// Descriptor advertises this service's placement for introspection.
func (s *Service) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "http",
		Domain:       "intake",
		Layer:        core.LayerIngress,
		Capabilities: []string{"webhook-intake", "queue-trigger", "chain-verify", "metrics"},
	}
}

// Start begins serving in the background; ListenAndServe errors other
// than a clean shutdown are logged, not returned.
func (s *Service) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("http server error: %v", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the server down within ctx's deadline.
func (s *Service) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
