// Package controlapi implements the routing-substrate's HTTP Control API
// surface (routing-substrate spec §6): status, validate, reload,
// rollback, group-switch, and diff endpoints over the Dynamic Router
// coordinator, authenticated by a bearer token carrying a read/full
// role tier.
package controlapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/ccrouter/gateway/internal/config"
	"github.com/ccrouter/gateway/internal/configversion"
	"github.com/ccrouter/gateway/internal/dynrouter"
	"github.com/ccrouter/gateway/internal/routergroup"
	"github.com/rs/zerolog/log"
)

// Role is the access tier carried on a validated bearer token
// (routing-substrate spec §6's "extended with a third role tier").
type Role int

// Access tiers, ordered so Role comparisons ("at least read") are `>=`.
const (
	RoleNone Role = iota
	RoleRead
	RoleFull
)

// Server exposes the Control API over a Dynamic Router Coordinator.
type Server struct {
	coordinator *dynrouter.Coordinator
	versions    *configversion.Manager
	groups      *routergroup.Manager
	readToken   string
	fullToken   string
}

// New returns a Server backed by coordinator and versions (the same
// Version Manager the coordinator persists through, so diffs see every
// version Update/Rollback has recorded). readToken and fullToken are the
// bearer tokens granting RoleRead and RoleFull respectively; either may
// be empty to disable that tier (an empty fullToken means no token ever
// grants write access).
func New(coordinator *dynrouter.Coordinator, versions *configversion.Manager, readToken, fullToken string) *Server {
	return &Server{
		coordinator: coordinator,
		versions:    versions,
		groups:      routergroup.NewManager(),
		readToken:   readToken,
		fullToken:   fullToken,
	}
}

// Handler builds the net/http.ServeMux routing table from
// routing-substrate spec §6, one method-and-path pattern per row.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /config", s.withRole(RoleRead, s.handleGetConfig))
	mux.HandleFunc("POST /config", s.withRole(RoleFull, s.handleReplaceConfig))
	mux.HandleFunc("POST /config/test", s.withRole(RoleFull, s.handleConfigTest))
	mux.HandleFunc("POST /config/hot-reload", s.withRole(RoleFull, s.handleHotReload))
	mux.HandleFunc("GET /config/status", s.withRole(RoleRead, s.handleConfigStatus))
	mux.HandleFunc("POST /config/validate", s.withRole(RoleFull, s.handleValidate))
	mux.HandleFunc("POST /config/rollback", s.withRole(RoleFull, s.handleRollback))
	mux.HandleFunc("GET /config/versions", s.withRole(RoleRead, s.handleVersions))
	mux.HandleFunc("GET /config/diff/{from}/{to}", s.withRole(RoleRead, s.handleDiff))
	mux.HandleFunc("GET /router-groups", s.withRole(RoleRead, s.handleListGroups))
	mux.HandleFunc("POST /router-groups/switch", s.withRole(RoleRead, s.handleSwitchGroup))
	mux.HandleFunc("GET /router-groups/{id}", s.withRole(RoleRead, s.handleGetGroup))
	mux.HandleFunc("POST /restart", s.withRole(RoleFull, s.handleRestart))

	return mux
}

// withRole wraps handler so it only runs when the request's bearer token
// grants at least required. Anonymous or under-privileged requests get
// 401/403 with the {error, message} body routing-substrate spec §7
// mandates.
func (s *Server) withRole(required Role, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role := s.authenticate(r)
		if role == RoleNone {
			writeError(w, http.StatusUnauthorized, "auth_error", "missing or invalid bearer token")
			return
		}
		if role < required {
			writeError(w, http.StatusForbidden, "auth_error", "token does not grant sufficient access")
			return
		}
		handler(w, r)
	}
}

// authenticate extracts and classifies the Authorization: Bearer token.
// The full token, if configured, also grants read access (a full-access
// token is a superset, not a separate credential).
func (s *Server) authenticate(r *http.Request) Role {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return RoleNone
	}
	token := strings.TrimPrefix(header, prefix)
	if token == "" {
		return RoleNone
	}

	switch {
	case s.fullToken != "" && token == s.fullToken:
		return RoleFull
	case s.readToken != "" && token == s.readToken:
		return RoleRead
	default:
		return RoleNone
	}
}

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	snap, err := s.coordinator.Snapshot()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap.Config)
}

func (s *Server) handleReplaceConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := decodeConfig(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "schema_error", err.Error())
		return
	}

	result := s.coordinator.Update(r.Context(), cfg, configversion.SourceAPI)
	if !result.Success {
		writeError(w, http.StatusBadRequest, "schema_error", updateFailureMessage(result))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "configuration replaced"})
}

func (s *Server) handleConfigTest(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleHotReload(w http.ResponseWriter, r *http.Request) {
	snap, err := s.coordinator.Snapshot()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	result := s.coordinator.Update(r.Context(), snap.Config, configversion.SourceManual)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    result.Success,
		"validation": result.Validation,
		"error":      errString(result.Err),
	})
}

func (s *Server) handleConfigStatus(w http.ResponseWriter, _ *http.Request) {
	snap, err := s.coordinator.Snapshot()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          s.coordinator.State(),
		"version":         snap.Version,
		"metadata":        snap.Health,
		"hotReloadEnabled": true,
	})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	cfg, err := decodeConfig(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "schema_error", err.Error())
		return
	}

	result := config.ScoreConfig(r.Context(), cfg, nil)
	writeJSON(w, http.StatusOK, map[string]any{"success": result.IsValid, "validation": result})
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	var body struct {
		VersionID int64 `json:"versionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "schema_error", "malformed request body")
		return
	}

	if err := s.coordinator.Rollback(r.Context(), body.VersionID); err != nil {
		status := http.StatusInternalServerError
		if err == configversion.ErrVersionNotFound {
			status = http.StatusNotFound
		}
		writeError(w, status, "version_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "rolled back"})
}

func (s *Server) handleVersions(w http.ResponseWriter, _ *http.Request) {
	snap, err := s.coordinator.Snapshot()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"current":  snap.Version,
		"metadata": snap.Health,
		"versions": s.versions.List(),
	})
}

func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	from, err := strconv.ParseInt(r.PathValue("from"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "schema_error", "from must be an integer version number")
		return
	}
	to, err := strconv.ParseInt(r.PathValue("to"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "schema_error", "to must be an integer version number")
		return
	}

	diff, diffErr := s.versions.GetVersionDiff(from, to)
	if diffErr != nil {
		writeError(w, http.StatusNotFound, "version_error", diffErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"diff": diff})
}

func (s *Server) handleListGroups(w http.ResponseWriter, _ *http.Request) {
	snap, err := s.coordinator.Snapshot()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"groups":       s.groups.AvailableGroups(snap.Config),
		"currentGroup": snap.Config.Router.ActiveGroup,
	})
}

func (s *Server) handleSwitchGroup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		GroupID string `json:"groupId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "schema_error", "malformed request body")
		return
	}

	if err := s.coordinator.SwitchGroup(r.Context(), body.GroupID); err != nil {
		writeError(w, http.StatusBadRequest, "group_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "currentGroup": body.GroupID})
}

func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	snap, err := s.coordinator.Snapshot()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	group, ok := snap.Config.RouterGroups[id]
	if !ok {
		writeError(w, http.StatusNotFound, "group_error", "unknown router group")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"group":    group,
		"isActive": snap.Config.Router.ActiveGroup == id,
	})
}

func (s *Server) handleRestart(w http.ResponseWriter, _ *http.Request) {
	// Restarting the process is the external child-process supervisor's
	// job (routing-substrate spec §1's explicit out-of-scope collaborator
	// list); this endpoint only acknowledges the request.
	log.Info().Msg("restart requested via control API; delegating to external supervisor")
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// decodeConfig reads a JSON config document from the request body using
// the same parser the Config Store's loader uses, so Control API writes
// get the identical unknown-field preservation as file-based reloads.
func decodeConfig(r *http.Request) (*config.Config, error) {
	return config.LoadFromReaderWithFormat(r.Body, config.FormatJSON)
}

func updateFailureMessage(result dynrouter.UpdateResult) string {
	if result.Err != nil {
		return result.Err.Error()
	}
	if result.Validation != nil && len(result.Validation.Errors) > 0 {
		return result.Validation.Errors[0].Message
	}
	return "update rejected"
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("control api: failed to write response")
	}
}

// writeError writes the {error, message} body routing-substrate spec §7
// mandates for every Control API failure.
func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]string{"error": errType, "message": message})
}
