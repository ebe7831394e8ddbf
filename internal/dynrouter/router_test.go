package dynrouter

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ccrouter/gateway/internal/config"
	"github.com/ccrouter/gateway/internal/configversion"
	"github.com/ccrouter/gateway/internal/health"
)

func testConfig(defaultRoute string) *config.Config {
	return &config.Config{
		Providers: []config.ProviderConfig{
			{
				Name:    "anthropic",
				BaseURL: "https://api.anthropic.com",
				Keys:    []config.KeyConfig{{Key: "sk-real-key-0123456789"}},
				Models:  []string{"claude-sonnet-4"},
			},
		},
		Router: config.Router{Default: defaultRoute},
	}
}

func newCoordinator(t *testing.T) (*Coordinator, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	store := config.NewStore(path)
	versions := configversion.NewManager(configversion.DefaultMaxVersions)
	prober := health.NewProber(time.Hour)
	return New(store, versions, prober, WithValidation(false)), path
}

func TestInitializeSubstitutesMissingDefault(t *testing.T) {
	c, _ := newCoordinator(t)
	cfg := testConfig("")
	cfg.Router.Default = ""

	if err := c.Initialize(cfg); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	snap, err := c.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.EffectiveRouter.Default == "" {
		t.Fatalf("expected a non-empty default route after initialize")
	}
}

func TestUpdatePublishesNewSnapshotAndPersists(t *testing.T) {
	c, path := newCoordinator(t)
	if err := c.Initialize(testConfig("anthropic,claude-sonnet-4")); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	updated := testConfig("anthropic,claude-opus-4")
	result := c.Update(context.Background(), updated, configversion.SourceAPI)
	if !result.Success {
		t.Fatalf("expected Update to succeed, got %+v", result)
	}

	snap, err := c.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.EffectiveRouter.Default != "anthropic,claude-opus-4" {
		t.Fatalf("expected published snapshot to reflect update, got %s", snap.EffectiveRouter.Default)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config persisted to disk: %v", err)
	}
}

func TestUpdateRejectsCriticalValidationFailure(t *testing.T) {
	dir := t.TempDir()
	store := config.NewStore(filepath.Join(dir, "config.json"))
	versions := configversion.NewManager(configversion.DefaultMaxVersions)
	prober := health.NewProber(time.Hour)
	c := New(store, versions, prober) // validation enabled

	if err := c.Initialize(testConfig("anthropic,claude-sonnet-4")); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	broken := &config.Config{Router: config.Router{Default: ""}}
	result := c.Update(context.Background(), broken, configversion.SourceAPI)
	if result.Success {
		t.Fatalf("expected Update to fail validation for a providerless config")
	}
	if result.Validation == nil || result.Validation.IsValid {
		t.Fatalf("expected an invalid ValidationResult, got %+v", result.Validation)
	}

	snap, err := c.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.EffectiveRouter.Default != "anthropic,claude-sonnet-4" {
		t.Fatalf("expected the prior snapshot to remain active after a rejected update")
	}
}

func TestSwitchGroupRepublishesMergedRouter(t *testing.T) {
	c, _ := newCoordinator(t)
	cfg := testConfig("anthropic,claude-sonnet-4")
	cfg.RouterGroups = map[string]config.RouterGroup{
		"cheap": {Default: "anthropic,claude-haiku"},
	}
	if err := c.Initialize(cfg); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if err := c.SwitchGroup(context.Background(), "cheap"); err != nil {
		t.Fatalf("SwitchGroup: %v", err)
	}

	snap, err := c.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.EffectiveRouter.Default != "anthropic,claude-haiku" {
		t.Fatalf("expected merged router to reflect the switched group, got %s", snap.EffectiveRouter.Default)
	}
}

func TestSwitchGroupRejectsUnknownGroup(t *testing.T) {
	c, _ := newCoordinator(t)
	if err := c.Initialize(testConfig("anthropic,claude-sonnet-4")); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if err := c.SwitchGroup(context.Background(), "does-not-exist"); err == nil {
		t.Fatalf("expected an error switching to an undefined group")
	}
}

func TestRollbackRestoresPriorVersion(t *testing.T) {
	c, _ := newCoordinator(t)
	if err := c.Initialize(testConfig("anthropic,claude-sonnet-4")); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if result := c.Update(context.Background(), testConfig("anthropic,claude-opus-4"), configversion.SourceAPI); !result.Success {
		t.Fatalf("Update: %+v", result)
	}

	if err := c.Rollback(context.Background(), 1); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	snap, err := c.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.EffectiveRouter.Default != "anthropic,claude-sonnet-4" {
		t.Fatalf("expected rollback to restore version 1's route, got %s", snap.EffectiveRouter.Default)
	}
}

func TestSubscribeReceivesConfigUpdatedEvent(t *testing.T) {
	c, _ := newCoordinator(t)
	if err := c.Initialize(testConfig("anthropic,claude-sonnet-4")); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	events := c.Subscribe(EventConfigUpdated)

	if result := c.Update(context.Background(), testConfig("anthropic,claude-opus-4"), configversion.SourceFileWatch); !result.Success {
		t.Fatalf("Update: %+v", result)
	}

	select {
	case ev := <-events:
		if ev.Topic != EventConfigUpdated {
			t.Fatalf("expected configUpdated event, got %s", ev.Topic)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for configUpdated event")
	}
}

func TestSnapshotBeforeInitializeReturnsError(t *testing.T) {
	c, _ := newCoordinator(t)
	if _, err := c.Snapshot(); err != ErrNotInitialized {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}
