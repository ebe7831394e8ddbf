// Package dynrouter implements the routing-substrate's Dynamic Router
// coordinator (routing-substrate spec §4.9): the single-writer owner of
// the update pipeline that validates, versions, and publishes a new
// Active Snapshot, and the single source of truth requests read from.
package dynrouter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ccrouter/gateway/internal/config"
	"github.com/ccrouter/gateway/internal/configversion"
	"github.com/ccrouter/gateway/internal/customrouter"
	"github.com/ccrouter/gateway/internal/health"
	"github.com/ccrouter/gateway/internal/routergroup"
	"github.com/rs/zerolog/log"
)

// State is the coordinator's own health state machine
// (routing-substrate spec §4.9: uninitialized -> healthy -> degraded ->
// failed -> healthy).
type State string

// Coordinator states.
const (
	StateUninitialized State = "uninitialized"
	StateHealthy       State = "healthy"
	StateDegraded      State = "degraded"
	StateFailed        State = "failed"
)

// degradedThreshold and failedThreshold are consecutive-error counts that
// move the coordinator between states.
const (
	degradedThreshold = 2
	failedThreshold   = 3
)

// connectivityTimeout bounds the aggregate connectivity pass run as part
// of a validation (routing-substrate spec §5: "bounded by an aggregate
// timeout of 30 s").
const connectivityTimeout = 30 * time.Second

// Snapshot is the immutable value the coordinator publishes: a config,
// its merged Router view, the active custom-router path, and the current
// provider health table, all captured together so a request sees a
// single consistent view for its entire lifetime.
type Snapshot struct {
	Config           *config.Config
	EffectiveRouter  config.Router
	CustomRouterPath string
	Health           map[string]health.ProbeResult
	Version          int64
}

// EventTopic names one of the coordinator's internal event channels.
type EventTopic string

// Event topics (routing-substrate spec §5).
const (
	EventConfigUpdated       EventTopic = "configUpdated"
	EventUpdateFailed        EventTopic = "updateFailed"
	EventGroupSwitched       EventTopic = "groupSwitched"
	EventHealthStatusChanged EventTopic = "healthStatusChanged"
	EventRollbackCompleted   EventTopic = "rollbackCompleted"
	EventError               EventTopic = "error"
)

// Event is delivered to subscribers after the update lock releases.
type Event struct {
	Topic     EventTopic
	Snapshot  *Snapshot
	Err       error
	Timestamp time.Time
}

// UpdateResult reports the outcome of one call to Update.
type UpdateResult struct {
	Validation         *config.ValidationResult
	Err                error
	Success            bool
	RollbackPerformed  bool
}

// ErrNotInitialized is returned by operations that require Initialize to
// have run first.
var ErrNotInitialized = errors.New("dynrouter: coordinator not initialized")

// Coordinator owns the update pipeline: validate -> version -> publish.
// All mutation flows through Update (or Rollback/SwitchGroup, which are
// thin wrappers over the same pipeline). Reads go through Snapshot(),
// which is lock-free.
type Coordinator struct {
	mu                sync.Mutex // update lock: guards validate->version->publish
	published         atomic.Pointer[Snapshot]
	versions          *configversion.Manager
	groups            *routergroup.Manager
	customRouter      *customrouter.Loader
	prober            *health.Prober
	store             *config.Store
	probe             config.ConnectivityProbe
	subscribers       map[EventTopic][]chan Event
	subMu             sync.Mutex
	state             State
	consecutiveErrors int
	rollbackOnFailure bool
	validationEnabled bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRollbackOnFailure enables automatic rollback on a critical
// validation failure during Update (routing-substrate spec §4.9 step 2).
func WithRollbackOnFailure(enabled bool) Option {
	return func(c *Coordinator) { c.rollbackOnFailure = enabled }
}

// WithValidation toggles whether Update runs the Validator at all.
func WithValidation(enabled bool) Option {
	return func(c *Coordinator) { c.validationEnabled = enabled }
}

// New constructs a Coordinator. store persists successful updates;
// prober supplies both the connectivity probe for validation and the
// health table published in each Snapshot.
func New(store *config.Store, versions *configversion.Manager, prober *health.Prober, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:             store,
		versions:          versions,
		groups:            routergroup.NewManager(),
		customRouter:      customrouter.NewLoader("", 0),
		prober:            prober,
		probe:             prober,
		subscribers:       make(map[EventTopic][]chan Event),
		state:             StateUninitialized,
		validationEnabled: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize establishes the first Active Snapshot. If cfg is nil, the
// most recent version in the version manager is used; if that's also
// empty, Initialize returns an error (there is nothing to route with).
// Router.Default is guaranteed non-empty on the published snapshot: a
// built-in placeholder is substituted if the config omits it, so routing
// stays functional even from a malformed bootstrap document
// (routing-substrate spec §4.9).
func (c *Coordinator) Initialize(cfg *config.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cfg == nil {
		latest, err := c.versions.Latest()
		if err != nil {
			return fmt.Errorf("dynrouter: initialize: %w", err)
		}
		cfg = latest.Config
	}

	if cfg.Router.Default == "" {
		cfg.Router.Default = "anthropic,claude-sonnet-4"
		log.Warn().Msg("config has no Router.default; substituting built-in placeholder to keep routing functional")
	}

	// RouterGroups present but no explicit ActiveGroup: resolve and record
	// the implicit default ("router1" if present, else the first defined
	// group) so reads of the published config's Router.ActiveGroup agree
	// with what EffectiveRouter actually serves (spec §4.5).
	if cfg.Router.ActiveGroup == "" {
		if def := c.groups.EffectiveRouter(cfg).ActiveGroup; def != "" {
			cfg.Router.ActiveGroup = def
		}
	}

	if _, err := c.versions.AddVersion(cfg, configversion.SourceManual); err != nil {
		return fmt.Errorf("dynrouter: initialize: record version: %w", err)
	}

	c.customRouter.SetPath(cfg.CustomRouterPath)
	c.publish(cfg)
	c.state = StateHealthy

	return nil
}

// Snapshot returns the currently published Active Snapshot. Safe to call
// concurrently with Update; a request that captures a Snapshot reference
// keeps seeing it for its entire lifetime even if a concurrent Update
// publishes a new one (routing-substrate spec §5 ordering guarantee).
func (c *Coordinator) Snapshot() (*Snapshot, error) {
	s := c.published.Load()
	if s == nil {
		return nil, ErrNotInitialized
	}
	return s, nil
}

// CustomRouter returns the coordinator's custom-router loader, the same
// instance whose path is kept in sync with the active config on every
// Initialize/Update/Rollback. The Routing Decision Engine is constructed
// with this instance so its custom-router step (spec §4.6) always sees the
// currently active CustomRouterPath.
func (c *Coordinator) CustomRouter() *customrouter.Loader {
	return c.customRouter
}

// Update runs the single-writer pipeline: validate, version, publish
// (routing-substrate spec §4.9's numbered steps). source records where
// the update came from for the Version Manager's audit trail.
func (c *Coordinator) Update(ctx context.Context, newConfig *config.Config, source configversion.Source) UpdateResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.validationEnabled {
		vctx, cancel := context.WithTimeout(ctx, connectivityTimeout)
		result := config.ScoreConfig(vctx, newConfig, c.probe)
		cancel()

		if !result.IsValid {
			c.recordError()
			rollbackPerformed := false
			if c.rollbackOnFailure {
				if err := c.attemptRollback(); err == nil {
					rollbackPerformed = true
				}
			}
			c.emit(EventUpdateFailed, nil, fmt.Errorf("dynrouter: validation failed with %d critical error(s)", len(result.Errors)))
			return UpdateResult{Success: false, Validation: result, RollbackPerformed: rollbackPerformed}
		}
	}

	if _, err := c.versions.AddVersion(newConfig, source); err != nil {
		c.recordError()
		c.emit(EventUpdateFailed, nil, err)
		return UpdateResult{Success: false, Err: err}
	}

	if err := c.store.Save(newConfig); err != nil {
		c.recordError()
		c.emit(EventUpdateFailed, nil, err)
		return UpdateResult{Success: false, Err: err}
	}

	c.customRouter.SetPath(newConfig.CustomRouterPath)
	c.publish(newConfig)
	c.consecutiveErrors = 0
	c.state = StateHealthy
	c.emit(EventConfigUpdated, c.published.Load(), nil)

	return UpdateResult{Success: true}
}

// SwitchGroup switches the active routing profile and republishes a
// snapshot with the new merged Router view, going through the same
// update lock as Update so it can't race a concurrent reload.
func (c *Coordinator) SwitchGroup(ctx context.Context, group string) error {
	current, err := c.Snapshot()
	if err != nil {
		return err
	}

	updated, err := c.groups.SwitchToGroup(current.Config, group)
	if err != nil {
		return err
	}

	result := c.Update(ctx, updated, configversion.SourceAPI)
	if !result.Success {
		if result.Err != nil {
			return result.Err
		}
		return fmt.Errorf("dynrouter: group switch failed validation")
	}

	c.emit(EventGroupSwitched, c.published.Load(), nil)
	return nil
}

// Rollback rolls the active config back to the given version number.
func (c *Coordinator) Rollback(ctx context.Context, version int64) error {
	c.mu.Lock()
	target, err := c.versions.RollbackToVersion(version)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	if err := c.store.Save(target); err != nil {
		return fmt.Errorf("dynrouter: rollback: persist: %w", err)
	}

	c.mu.Lock()
	c.customRouter.SetPath(target.CustomRouterPath)
	c.publish(target)
	c.mu.Unlock()

	c.emit(EventRollbackCompleted, c.published.Load(), nil)
	return nil
}

// attemptRollback rolls back to the most recent non-active version. It
// must be called with c.mu already held.
func (c *Coordinator) attemptRollback() error {
	versions := c.versions.List()
	if len(versions) < 2 {
		return errors.New("dynrouter: no prior version to roll back to")
	}
	prior := versions[len(versions)-2]

	target, err := c.versions.RollbackToVersion(prior.Number)
	if err != nil {
		return err
	}
	if err := c.store.Save(target); err != nil {
		return err
	}

	c.customRouter.SetPath(target.CustomRouterPath)
	c.publish(target)
	return nil
}

// publish builds and atomically stores a new Snapshot. Must be called
// with c.mu held.
func (c *Coordinator) publish(cfg *config.Config) {
	effective := c.groups.EffectiveRouter(cfg)
	snap := &Snapshot{
		Config:           cfg,
		EffectiveRouter:  effective,
		CustomRouterPath: cfg.CustomRouterPath,
		Health:           c.healthTable(),
	}
	if prev := c.published.Load(); prev != nil {
		snap.Version = prev.Version + 1
	} else {
		snap.Version = 1
	}
	c.published.Store(snap)
}

func (c *Coordinator) healthTable() map[string]health.ProbeResult {
	if c.prober == nil {
		return nil
	}
	return c.prober.AllStatuses()
}

// recordError advances the degraded/failed state machine on a pipeline
// error, per routing-substrate spec §4.9 ("degraded after >2 consecutive
// update errors; failed after >3").
func (c *Coordinator) recordError() {
	c.consecutiveErrors++
	switch {
	case c.consecutiveErrors > failedThreshold:
		c.state = StateFailed
	case c.consecutiveErrors > degradedThreshold:
		c.state = StateDegraded
	}
}

// State returns the coordinator's current health state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe returns a channel that receives Events for topic. The
// channel is buffered; slow subscribers may miss events rather than
// block publication.
func (c *Coordinator) Subscribe(topic EventTopic) <-chan Event {
	ch := make(chan Event, 16)
	c.subMu.Lock()
	c.subscribers[topic] = append(c.subscribers[topic], ch)
	c.subMu.Unlock()
	return ch
}

// emit delivers an event to topic's subscribers from a goroutine spawned
// after the update lock is released, mirroring config.Watcher's
// copy-then-unlock-then-invoke callback dispatch.
func (c *Coordinator) emit(topic EventTopic, snap *Snapshot, err error) {
	c.subMu.Lock()
	subs := make([]chan Event, len(c.subscribers[topic]))
	copy(subs, c.subscribers[topic])
	c.subMu.Unlock()

	event := Event{Topic: topic, Snapshot: snap, Err: err, Timestamp: time.Now()}
	go func() {
		for _, ch := range subs {
			select {
			case ch <- event:
			default:
			}
		}
	}()
}
