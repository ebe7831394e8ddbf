package di

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/samber/do/v2"

	"github.com/ccrouter/gateway/internal/controlapi"
)

// ControlAPIService wraps the Control API's own HTTP listener for DI, kept
// separate from ServerService since spec.md §6 runs the control surface on
// its own address, disjoint from the main proxy listener.
type ControlAPIService struct {
	Server *controlapi.Server
	http   *http.Server
}

// Start begins serving the Control API if a listen address is configured.
// A blank Listen address disables the Control API entirely.
func (s *ControlAPIService) Start() {
	if s.http == nil {
		return
	}
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("control api server error")
		}
	}()
	log.Info().Str("listen", s.http.Addr).Msg("control api listening")
}

// Shutdown implements do.Shutdowner, gracefully closing the listener.
func (s *ControlAPIService) Shutdown() error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(context.Background())
}

// NewControlAPI builds the Control API server, sharing the Dynamic Router
// coordinator with the proxy's live-routing path via DynRouterService.
func NewControlAPI(i do.Injector) (*ControlAPIService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	dyn := do.MustInvoke[*DynRouterService](i)

	capiCfg := cfgSvc.Config.Server.ControlAPI
	server := controlapi.New(dyn.Coordinator, dyn.Versions, capiCfg.ReadToken, capiCfg.FullToken)

	svc := &ControlAPIService{Server: server}
	if capiCfg.Listen != "" {
		svc.http = &http.Server{
			Addr:    capiCfg.Listen,
			Handler: server.Handler(),
		}
	}

	return svc, nil
}
