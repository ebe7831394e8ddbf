// Package routing implements the routing-substrate's Routing Decision
// Engine (routing-substrate spec §4.7): given an inbound chat request and
// the active config's merged Router view, picks a "provider,model" target
// in a fixed priority order, optionally deferring to an operator-supplied
// custom router first.
package routing

import (
	"context"
	"strings"

	"github.com/ccrouter/gateway/internal/config"
	"github.com/ccrouter/gateway/internal/customrouter"
	"github.com/samber/lo"
)

// subagentOpenMarker and subagentCloseMarker delimit a subagent override
// embedded in the first user message's text.
const (
	subagentOpenMarker  = "<CCR-SUBAGENT-MODEL>"
	subagentCloseMarker = "</CCR-SUBAGENT-MODEL>"
)

// defaultBackgroundMarker is the literal prefix on a request's declared
// model name that marks it as a background task when no operator override
// is configured.
const defaultBackgroundMarker = "claude-3-5-haiku"

// Rule names a matching rule, used for debug headers and logging.
type Rule string

// Rule names in priority order (routing-substrate spec §4.7.2).
const (
	RuleCustomRouter     Rule = "custom-router"
	RuleSubagentOverride Rule = "subagent-override"
	RuleWebSearch        Rule = "web-search"
	RuleLongContext      Rule = "long-context"
	RuleThink            Rule = "think"
	RuleBackground       Rule = "background"
	RuleDefault          Rule = "default"
)

// Message is the minimal shape the engine needs from an inbound chat
// message: which role produced it and its textual content.
type Message struct {
	Role string
	Text string
}

// Request is the subset of an inbound chat request the engine's rules
// consult. ToolSchemaText is the concatenated JSON/text of any tool
// definitions, folded into the token estimate alongside message text
// (routing-substrate spec §4.7 "Token count is computed from the
// concatenated textual parts of all messages and tool schemas").
type Request struct {
	Messages       []Message
	DeclaredModel  string
	ToolSchemaText string
	HasWebSearch   bool
	HasThinking    bool
}

// HealthStatus reports whether a provider currently resolves to a healthy
// liveness status (routing-substrate spec §4.8). Implemented by
// internal/health.Prober in production; tests can supply a stub.
type HealthStatus func(provider string) bool

// Decision is the engine's output for one request.
type Decision struct {
	Target   string
	Rule     Rule
	Degraded bool
}

// Engine selects routing targets. It is stateless aside from its
// collaborators and safe for concurrent use.
type Engine struct {
	tokens           TokenCounter
	customRouter     *customrouter.Loader
	backgroundMarker string
}

// Option configures an Engine.
type Option func(*Engine)

// WithBackgroundMarker overrides the literal model-name prefix that marks
// a request as a background task (default "claude-3-5-haiku").
func WithBackgroundMarker(marker string) Option {
	return func(e *Engine) {
		e.backgroundMarker = marker
	}
}

// NewEngine returns an Engine. tokens may be nil to use
// HeuristicTokenCounter; customRouter may be nil to disable step 1
// entirely (the engine then always falls through to the merged Router
// view rules).
func NewEngine(tokens TokenCounter, customRouter *customrouter.Loader, opts ...Option) *Engine {
	if tokens == nil {
		tokens = NewHeuristicTokenCounter()
	}
	e := &Engine{
		tokens:           tokens,
		customRouter:     customRouter,
		backgroundMarker: defaultBackgroundMarker,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decide picks a "provider,model" target for req against router (the
// merged Router view from internal/routergroup) and isHealthy (the
// current liveness table). It never returns an error for a missing
// optional field; router.Default is assumed present (the Dynamic Router
// coordinator guarantees this at initialize time per §4.9).
func (e *Engine) Decide(ctx context.Context, router config.Router, req Request, isHealthy HealthStatus) Decision {
	if target, ok := e.tryCustomRouter(ctx, router, req); ok {
		return e.finish(target, RuleCustomRouter, isHealthy)
	}

	if target, ok := e.trySubagentOverride(req); ok {
		return e.finish(target, RuleSubagentOverride, isHealthy)
	}

	if req.HasWebSearch && router.WebSearch != "" {
		return e.finish(router.WebSearch, RuleWebSearch, isHealthy)
	}

	if router.LongContext != "" && e.estimatedTokens(req) >= router.GetEffectiveLongContextThreshold() {
		return e.finish(router.LongContext, RuleLongContext, isHealthy)
	}

	if req.HasThinking && router.Think != "" {
		return e.finish(router.Think, RuleThink, isHealthy)
	}

	if router.Background != "" && strings.HasPrefix(req.DeclaredModel, e.backgroundMarker) {
		return e.finish(router.Background, RuleBackground, isHealthy)
	}

	return e.finish(router.Default, RuleDefault, isHealthy)
}

// estimatedTokens folds every message's text and the tool schema text
// through the configured TokenCounter.
func (e *Engine) estimatedTokens(req Request) int {
	parts := make([]string, 0, len(req.Messages)+1)
	for _, m := range req.Messages {
		parts = append(parts, m.Text)
	}
	if req.ToolSchemaText != "" {
		parts = append(parts, req.ToolSchemaText)
	}
	return e.tokens.CountTokens(strings.Join(parts, "\n"))
}

func (e *Engine) tryCustomRouter(ctx context.Context, router config.Router, req Request) (string, bool) {
	if e.customRouter == nil || e.customRouter.Path() == "" {
		return "", false
	}

	creq := customrouter.Request{
		Model:           req.DeclaredModel,
		EstimatedTokens: e.estimatedTokens(req),
		HasWebSearch:    req.HasWebSearch,
		HasThinking:     req.HasThinking,
		IsBackground:    strings.HasPrefix(req.DeclaredModel, e.backgroundMarker),
		Router: map[string]any{
			"default":     router.Default,
			"background":  router.Background,
			"think":       router.Think,
			"longContext": router.LongContext,
			"webSearch":   router.WebSearch,
		},
	}
	if sub, ok := firstUserSubagentMarker(req.Messages); ok {
		creq.SubagentMarker = sub
	}

	result, err := e.customRouter.Invoke(ctx, creq)
	if err != nil || result == "" {
		return "", false
	}
	return result, true
}

// trySubagentOverride checks the first user-role message for the literal
// <CCR-SUBAGENT-MODEL>provider,model</CCR-SUBAGENT-MODEL> prefix.
func (e *Engine) trySubagentOverride(req Request) (string, bool) {
	return firstUserSubagentMarker(req.Messages)
}

// firstUserSubagentMarker scans for the first user-role message and, if
// its text begins with the subagent marker, extracts the enclosed
// "provider,model" value.
func firstUserSubagentMarker(messages []Message) (string, bool) {
	userMsg, found := lo.Find(messages, func(m Message) bool {
		return m.Role == "user"
	})
	if !found {
		return "", false
	}

	text := userMsg.Text
	if !strings.HasPrefix(text, subagentOpenMarker) {
		return "", false
	}

	rest := text[len(subagentOpenMarker):]
	closeIdx := strings.Index(rest, subagentCloseMarker)
	if closeIdx < 0 {
		return "", false
	}

	target := strings.TrimSpace(rest[:closeIdx])
	if target == "" {
		return "", false
	}
	return target, true
}

// finish wraps a chosen target with the degraded flag per §4.7.3: the
// engine always emits the chosen target, flagging degraded=true if it
// doesn't resolve to a healthy provider.
func (e *Engine) finish(target string, rule Rule, isHealthy HealthStatus) Decision {
	provider, _, _ := strings.Cut(target, ",")
	degraded := isHealthy != nil && !isHealthy(provider)
	return Decision{Target: target, Rule: rule, Degraded: degraded}
}
