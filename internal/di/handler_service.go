package di

import (
	"fmt"
	"net/http"

	"github.com/samber/do/v2"

	"github.com/ccrouter/gateway/internal/config"
	"github.com/ccrouter/gateway/internal/health"
	"github.com/ccrouter/gateway/internal/proxy"
	"github.com/ccrouter/gateway/internal/router"
	"github.com/ccrouter/gateway/internal/routing"
)

// HandlerService wraps the HTTP handler.
type HandlerService struct {
	Handler http.Handler
}

// NewProxyHandler creates the HTTP handler with all middleware.
func NewProxyHandler(injector do.Injector) (*HandlerService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](injector)
	providerSvc := do.MustInvoke[*ProviderMapService](injector)
	poolSvc := do.MustInvoke[*KeyPoolService](injector)
	poolMapSvc := do.MustInvoke[*KeyPoolMapService](injector)
	routerSvc := do.MustInvoke[*RouterService](injector)
	providerInfoSvc := do.MustInvoke[*ProviderInfoService](injector)
	trackerSvc := do.MustInvoke[*HealthTrackerService](injector)
	sigCacheSvc := do.MustInvoke[*SignatureCacheService](injector)
	concurrencySvc := do.MustInvoke[*ConcurrencyService](injector)
	dynRouterSvc := do.MustInvoke[*DynRouterService](injector)

	// Use SetupRoutesWithLiveKeyPools for full hot-reload support:
	// - Live provider info (enabled/disabled, weights, priorities)
	// - Live router (strategy/timeout changes without restart)
	// - Live key pools (newly enabled providers get keys immediately)
	// - Concurrency limiting with hot-reload
	liveRouter := router.NewLiveRouter(routerSvc.GetRouterAsFunc())

	routingEngine := routing.NewEngine(nil, dynRouterSvc.Coordinator.CustomRouter())
	handler, err := proxy.SetupRoutesWithLiveKeyPools(&proxy.RoutesOptions{
		ConfigProvider:     cfgSvc,
		Provider:           providerSvc.GetPrimaryProvider(),
		ProviderInfosFunc:  providerInfoSvc.Get, // Hot-reloadable provider info
		ProviderRouter:     liveRouter,          // Live router for strategy changes
		ProviderKey:        providerSvc.GetPrimaryKey(),
		Pool:               poolSvc.Get(),
		GetProviderPools:   poolMapSvc.GetPools, // Live key pools accessor
		GetProviderKeys:    poolMapSvc.GetKeys,  // Live fallback keys accessor
		GetAllProviders:    providerSvc.GetAllProviders,
		AllProviders:       providerSvc.GetAllProviders(),
		HealthTracker:      trackerSvc.Tracker,
		SignatureCache:     sigCacheSvc.Cache,
		ConcurrencyLimiter: concurrencySvc.Limiter, // Hot-reloadable concurrency limit
		ProviderPools:      nil,
		ProviderKeys:       nil,
		ProviderInfos:      nil,
		RoutingEngine:      routingEngine,
		EffectiveRouter:    effectiveRouterFunc(dynRouterSvc),
		RoutingHealth:      routingHealthFunc(dynRouterSvc.Prober),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to setup proxy handler: %w", err)
	}

	return &HandlerService{Handler: handler}, nil
}

// effectiveRouterFunc closes over the Dynamic Router coordinator so the
// Routing Decision Engine always consults the current Active Snapshot's
// merged Router view (routing-substrate spec §4.5/§5), not a copy taken at
// startup.
func effectiveRouterFunc(dynRouterSvc *DynRouterService) proxy.EffectiveRouterFunc {
	return func() config.Router {
		snap, err := dynRouterSvc.Coordinator.Snapshot()
		if err != nil {
			return config.Router{}
		}
		return snap.EffectiveRouter
	}
}

// routingHealthFunc adapts the Provider Health Manager's liveness probe
// (routing-substrate spec §4.8) into the routing.HealthStatus shape the
// Engine consults for its degraded flag.
func routingHealthFunc(prober *health.Prober) routing.HealthStatus {
	return func(provider string) bool {
		status, ok := prober.Status(provider)
		return ok && status.Status == health.ProbeHealthy
	}
}
