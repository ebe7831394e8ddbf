// Package routergroup implements the routing-substrate's Router Group
// Manager: named routing profiles (RouterGroups) that can be switched at
// runtime, plus the merged view of the active group over the base Router
// table (routing-substrate spec §4.5).
package routergroup

import (
	"fmt"
	"sort"

	"github.com/ccrouter/gateway/internal/config"
	"github.com/samber/lo"
)

// UnknownGroupError is returned when SwitchToGroup names a group that
// isn't defined in Config.RouterGroups.
type UnknownGroupError struct {
	Group string
}

func (e *UnknownGroupError) Error() string {
	return fmt.Sprintf("routergroup: unknown group %q", e.Group)
}

// Manager resolves the effective Router table given a base Config: either
// the base Router.* fields directly, or a named group's fields layered
// over the base for anything the group leaves blank.
type Manager struct{}

// NewManager returns a Manager. It holds no state of its own; the active
// group lives on Config.Router.ActiveGroup so switching groups is just
// another config update flowing through the Dynamic Router coordinator.
func NewManager() *Manager {
	return &Manager{}
}

// AvailableGroups returns the names of every defined RouterGroup, sorted
// for stable display.
func (m *Manager) AvailableGroups(cfg *config.Config) []string {
	names := lo.Keys(cfg.RouterGroups)
	sort.Strings(names)
	return names
}

// SwitchToGroup validates that group is defined (or empty, which clears
// the explicit selection so EffectiveRouter falls back to its default
// group, or to the base Router when no groups are defined) and returns a
// copy of cfg with Router.ActiveGroup set accordingly. It does not mutate cfg.
func (m *Manager) SwitchToGroup(cfg *config.Config, group string) (*config.Config, error) {
	if group != "" {
		if _, ok := cfg.RouterGroups[group]; !ok {
			return nil, &UnknownGroupError{Group: group}
		}
	}

	updated := *cfg
	updated.Router.ActiveGroup = group
	return &updated, nil
}

// EffectiveRouter returns the Router table the routing decision engine
// should consult: if no groups are defined, the base Router as-is; if
// groups are defined, the active group's fields (spec §4.5: "merged Router
// view"), falling back field-by-field to the base Router for anything the
// group leaves blank. When RouterGroups is non-empty but ActiveGroup is
// unset, the active group defaults to "router1" when that name is defined,
// else the first defined group name in sorted order (spec §4.5: "default
// router1 when present, else the first defined group").
func (m *Manager) EffectiveRouter(cfg *config.Config) config.Router {
	if len(cfg.RouterGroups) == 0 {
		return cfg.Router
	}

	active := cfg.Router.ActiveGroup
	if active == "" {
		active = m.defaultGroup(cfg)
	}
	if active == "" {
		return cfg.Router
	}

	group, ok := cfg.RouterGroups[active]
	if !ok {
		// The active group was removed out from under a running config
		// (e.g. by a reload that dropped it); fail safe to the base
		// Router rather than erroring mid-request.
		return cfg.Router
	}

	merged := group.AsRouter()
	base := cfg.Router

	if merged.Default == "" {
		merged.Default = base.Default
	}
	if merged.Background == "" {
		merged.Background = base.Background
	}
	if merged.Think == "" {
		merged.Think = base.Think
	}
	if merged.LongContext == "" {
		merged.LongContext = base.LongContext
	}
	if merged.WebSearch == "" {
		merged.WebSearch = base.WebSearch
	}
	if merged.LongContextThreshold == 0 {
		merged.LongContextThreshold = base.LongContextThreshold
	}
	merged.ActiveGroup = active

	return merged
}

// defaultGroup picks the implicit active group for a config that defines
// RouterGroups but never set Router.ActiveGroup: "router1" when present,
// else the first defined group name in sorted order.
func (m *Manager) defaultGroup(cfg *config.Config) string {
	if _, ok := cfg.RouterGroups["router1"]; ok {
		return "router1"
	}
	names := m.AvailableGroups(cfg)
	if len(names) == 0 {
		return ""
	}
	return names[0]
}
