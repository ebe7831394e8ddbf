package di

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/do/v2"
	samberro "github.com/samber/ro"

	"github.com/ccrouter/gateway/internal/config"
	"github.com/ccrouter/gateway/internal/configversion"
	"github.com/ccrouter/gateway/internal/dynrouter"
	"github.com/ccrouter/gateway/internal/health"
	"github.com/ccrouter/gateway/internal/ro"
)

// eventLogBufferWindow batches coordinator events before logging them, so a
// burst of reloads (e.g. several health status flips in a row) produces one
// log line instead of one per event.
const eventLogBufferWindow = 2 * time.Second

// DynRouterService wraps the Dynamic Router coordinator for DI, giving the
// Control API and the proxy's live-routing path a shared handle onto the
// same Active Snapshot.
type DynRouterService struct {
	Coordinator *dynrouter.Coordinator
	Versions    *configversion.Manager
	Prober      *health.Prober
}

// Shutdown implements do.Shutdowner, stopping the background prober.
func (d *DynRouterService) Shutdown() error {
	if d.Prober != nil {
		d.Prober.Stop()
	}
	return nil
}

// NewDynRouter builds and initializes the Dynamic Router coordinator from
// the already-loaded ConfigService config, recording it as version 1.
func NewDynRouter(i do.Injector) (*DynRouterService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	path := do.MustInvokeNamed[string](i, ConfigPathKey)

	versions := configversion.NewManager(configversion.DefaultMaxVersions)
	prober := health.NewProber(cfgSvc.Config.Health.HealthCheck.GetInterval())
	store := config.NewStore(path)

	coordinator := dynrouter.New(store, versions, prober, dynrouter.WithRollbackOnFailure(true))
	if err := coordinator.Initialize(cfgSvc.Config); err != nil {
		return nil, fmt.Errorf("failed to initialize dynamic router: %w", err)
	}

	prober.UpdateProviders(providerBaseURLs(cfgSvc.Config))
	prober.Start()

	if cfgSvc.watcher != nil {
		cfgSvc.watcher.OnReload(func(newCfg *config.Config) error {
			prober.UpdateProviders(providerBaseURLs(newCfg))
			return nil
		})
	}

	startEventLogger(coordinator)

	return &DynRouterService{Coordinator: coordinator, Versions: versions, Prober: prober}, nil
}

// startEventLogger batches the coordinator's event-topic channels through an
// Observable pipeline and logs each batch, rather than a goroutine per topic
// logging one line per event.
func startEventLogger(coordinator *dynrouter.Coordinator) {
	topics := []dynrouter.EventTopic{
		dynrouter.EventConfigUpdated,
		dynrouter.EventUpdateFailed,
		dynrouter.EventGroupSwitched,
		dynrouter.EventHealthStatusChanged,
		dynrouter.EventRollbackCompleted,
		dynrouter.EventError,
	}

	streams := make([]samberro.Observable[dynrouter.Event], 0, len(topics))
	for _, topic := range topics {
		streams = append(streams, ro.StreamFromChannel(coordinator.Subscribe(topic)))
	}

	batched := ro.BufferWithTime(ro.MergeStreams(streams...), eventLogBufferWindow)
	ro.SubscribeWithCallbacks(batched,
		func(batch []dynrouter.Event) {
			if len(batch) == 0 {
				return
			}
			logEvent := log.Info().Int("count", len(batch))
			for _, evt := range batch {
				logEvent = logEvent.Str(string(evt.Topic), evt.Timestamp.Format(time.RFC3339))
			}
			logEvent.Msg("dynamic router events")
		},
		func(err error) {
			log.Error().Err(err).Msg("dynamic router event stream error")
		},
		func() {},
	)
}

func providerBaseURLs(cfg *config.Config) map[string]string {
	urls := make(map[string]string, len(cfg.Providers))
	for _, p := range cfg.Providers {
		if p.Enabled {
			urls[p.Name] = p.BaseURL
		}
	}
	return urls
}
