package config

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Severity classifies a validation issue by how much it should cost the
// configuration's score and whether it blocks activation.
type Severity string

// Severity levels and their score penalties (routing-substrate spec §4.3).
const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

var severityPenalty = map[Severity]int{
	SeverityCritical: 25,
	SeverityHigh:     15,
	SeverityMedium:   10,
	SeverityLow:      5,
}

const warningPenalty = 2

// Issue is one scored validation finding.
type Issue struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// ValidationResult is the scored output of ScoreConfig.
type ValidationResult struct {
	IsValid  bool     `json:"isValid"`
	Errors   []Issue  `json:"errors"`
	Warnings []string `json:"warnings"`
	Score    int      `json:"score"`
}

func (v *ValidationResult) addError(sev Severity, format string, args ...any) {
	v.Errors = append(v.Errors, Issue{Severity: sev, Message: fmt.Sprintf(format, args...)})
	v.Score -= severityPenalty[sev]
	if sev == SeverityCritical {
		v.IsValid = false
	}
}

func (v *ValidationResult) addWarning(format string, args ...any) {
	v.Warnings = append(v.Warnings, fmt.Sprintf(format, args...))
	v.Score -= warningPenalty
}

func (v *ValidationResult) clampScore() {
	if v.Score < 0 {
		v.Score = 0
	}
	if v.Score > 100 {
		v.Score = 100
	}
}

// Placeholder API key literals rejected outright by the security checks.
var placeholderAPIKeys = map[string]bool{
	"sk-xxx":          true,
	"your-api-key":    true,
	"your-secret-key": true,
}

// ConnectivityProbe checks whether a provider's base URL host is reachable.
// Implemented by internal/health.Prober; kept as an interface here so the
// config package does not import net/http probing details directly.
type ConnectivityProbe interface {
	// Probe returns the observed latency and an error if the host is
	// unreachable within the probe's own timeout.
	Probe(ctx context.Context, baseURL string) (time.Duration, error)
}

// ScoreConfig runs the full scored validation pipeline described in the
// routing-substrate spec §4.3: schema, referential, security, performance,
// and (if probe is non-nil and not disabled) connectivity checks.
//
// ctx bounds the aggregate connectivity pass; the dynamic router's update
// pipeline is expected to pass a context with a 30s timeout (spec §5).
func ScoreConfig(ctx context.Context, cfg *Config, probe ConnectivityProbe) *ValidationResult {
	result := &ValidationResult{IsValid: true, Errors: nil, Warnings: nil, Score: 100}

	scoreSchema(cfg, result)
	scoreReferential(cfg, result)

	if !cfg.Validation.DisableSecurity {
		scoreSecurity(cfg, result)
	}
	if !cfg.Validation.DisablePerformance {
		scorePerformance(cfg, result)
	}
	if !cfg.Validation.DisableConnectivity && probe != nil {
		scoreConnectivity(ctx, cfg, probe, result)
	}

	result.clampScore()
	return result
}

func scoreSchema(cfg *Config, result *ValidationResult) {
	if len(cfg.Providers) == 0 {
		// No providers is a schema problem for a gateway that must route
		// somewhere, but it is not automatically fatal: a freshly
		// bootstrapped config may be providerless until the operator adds
		// one. Treat it as high severity rather than critical.
		result.addError(SeverityHigh, "Providers: at least one provider is required")
	}

	seen := make(map[string]bool, len(cfg.Providers))
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.Name == "" {
			result.addError(SeverityCritical, "providers[%d].name is required", i)
			continue
		}
		if seen[p.Name] {
			result.addError(SeverityCritical, "duplicate provider name %q", p.Name)
		}
		seen[p.Name] = true

		if p.BaseURL == "" {
			result.addError(SeverityCritical, "provider[%s].api_base_url is required", p.Name)
		} else if u, err := url.Parse(p.BaseURL); err != nil || !u.IsAbs() {
			result.addError(SeverityCritical, "provider[%s].api_base_url must be an absolute URL", p.Name)
		}

		if p.Keys == nil || len(p.Keys) == 0 { //nolint:gosimple // explicit nil/empty check mirrors spec wording
			result.addError(SeverityCritical, "provider[%s].api_key is required", p.Name)
		}

		if len(p.Models) == 0 {
			result.addError(SeverityCritical, "provider[%s].models must be non-empty", p.Name)
		}
	}

	if cfg.Router.Default == "" {
		result.addError(SeverityCritical, "Router.default is required")
	}
	if cfg.Router.LongContextThreshold < 0 {
		result.addError(SeverityCritical, "Router.longContextThreshold must be a non-negative integer")
	}

	for id, group := range cfg.RouterGroups {
		if id == "" {
			result.addError(SeverityCritical, "RouterGroups contains an empty group id")
		}
		if group.Default == "" {
			result.addError(SeverityCritical, "RouterGroups[%s].default is required", id)
		}
	}
	if cfg.Router.ActiveGroup != "" {
		if _, ok := cfg.RouterGroups[cfg.Router.ActiveGroup]; !ok {
			result.addError(SeverityCritical, "Router.activeGroup %q does not name a defined group", cfg.Router.ActiveGroup)
		}
	}
}

// providerModelIndex builds a name -> set(models) lookup for referential checks.
func providerModelIndex(cfg *Config) map[string]map[string]bool {
	idx := make(map[string]map[string]bool, len(cfg.Providers))
	for _, p := range cfg.Providers {
		models := make(map[string]bool, len(p.Models))
		for _, m := range p.Models {
			models[m] = true
		}
		idx[p.Name] = models
	}
	return idx
}

func scoreReferential(cfg *Config, result *ValidationResult) {
	idx := providerModelIndex(cfg)

	check := func(scope, route string) {
		if route == "" {
			return
		}
		provider, model, ok := strings.Cut(route, ",")
		if !ok {
			result.addError(SeverityHigh, "%s route %q is not in \"provider,model\" form", scope, route)
			return
		}
		models, known := idx[provider]
		if !known {
			result.addError(SeverityHigh, "%s references unknown provider %q", scope, provider)
			return
		}
		if !models[model] {
			result.addWarning("%s references model %q not listed for provider %q", scope, model, provider)
		}
	}

	check("Router.default", cfg.Router.Default)
	check("Router.background", cfg.Router.Background)
	check("Router.think", cfg.Router.Think)
	check("Router.longContext", cfg.Router.LongContext)
	check("Router.webSearch", cfg.Router.WebSearch)

	for id, group := range cfg.RouterGroups {
		scope := fmt.Sprintf("RouterGroups[%s]", id)
		check(scope+".default", group.Default)
		check(scope+".background", group.Background)
		check(scope+".think", group.Think)
		check(scope+".longContext", group.LongContext)
		check(scope+".webSearch", group.WebSearch)
	}
}

func scoreSecurity(cfg *Config, result *ValidationResult) {
	for _, p := range cfg.Providers {
		for _, k := range p.Keys {
			if placeholderAPIKeys[k.Key] {
				result.addError(SeverityCritical, "provider[%s] uses a placeholder API key %q", p.Name, k.Key)
				continue
			}
			if len(k.Key) > 0 && len(k.Key) < 10 {
				result.addWarning("provider[%s] API key is under 10 characters", p.Name)
			}
		}
	}

	if cfg.Host == "0.0.0.0" || strings.HasPrefix(cfg.Server.Listen, "0.0.0.0:") {
		result.addWarning("bind host is 0.0.0.0; consider restricting to a specific interface")
	}
}

func scorePerformance(cfg *Config, result *ValidationResult) {
	if cfg.APITimeoutMS != 0 && (cfg.APITimeoutMS < 1000 || cfg.APITimeoutMS > 600000) {
		result.addWarning("API_TIMEOUT_MS %d is outside the recommended 1,000-600,000ms range", cfg.APITimeoutMS)
	}
	if len(cfg.Providers) < 2 {
		result.addWarning("fewer than two providers configured; no failover target is available")
	}
}

// slowProbeThreshold marks a reachable provider as a warning-worthy slow
// dependency rather than an outright failure (routing-substrate spec §4.3).
const slowProbeThreshold = 5 * time.Second

func scoreConnectivity(ctx context.Context, cfg *Config, probe ConnectivityProbe, result *ValidationResult) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	type probeResult struct {
		name    string
		latency time.Duration
		err     error
	}
	results := make(chan probeResult, len(cfg.Providers))

	for _, p := range cfg.Providers {
		go func(name, baseURL string) {
			latency, err := probe.Probe(ctx, baseURL)
			results <- probeResult{name: name, latency: latency, err: err}
		}(p.Name, p.BaseURL)
	}

	for range cfg.Providers {
		r := <-results
		switch {
		case r.err != nil:
			result.addWarning("provider[%s] is unreachable: %v", r.name, r.err)
		case r.latency > slowProbeThreshold:
			result.addWarning("provider[%s] responded slowly (%s)", r.name, r.latency)
		}
	}
}
