package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/arkeep-io/llmgateway/internal/auth"
	"github.com/arkeep-io/llmgateway/internal/db"
	"github.com/arkeep-io/llmgateway/internal/mapper"
	"github.com/arkeep-io/llmgateway/internal/registry"
	"github.com/arkeep-io/llmgateway/internal/repository"
	"github.com/arkeep-io/llmgateway/internal/wsproto"
)

const sessionCookieName = "gateway_mgmt_session"

// ManagementHandler implements the Management Façade (spec §4.8/§6.3):
// name-mapping CRUD, agent listing, and the agent-directed model-download
// trigger, plus the SPEC_FULL §5 additions (health, info, operator login).
type ManagementHandler struct {
	registry   *registry.Registry
	mapper     *mapper.Mapper
	agentRepo  repository.AgentRepository
	rpc        *wsproto.RPC
	gormDB     *gorm.DB
	sessions   *auth.SessionManager
	tokenHash  []byte
	version    string
	commit     string
	buildDate  string
	logger     *zap.Logger
}

// ManagementConfig bundles ManagementHandler's collaborators.
type ManagementConfig struct {
	Registry  *registry.Registry
	Mapper    *mapper.Mapper
	AgentRepo repository.AgentRepository
	RPC       *wsproto.RPC
	GormDB    *gorm.DB
	Sessions  *auth.SessionManager
	TokenHash []byte
	Version   string
	Commit    string
	BuildDate string
	Logger    *zap.Logger
}

// NewManagementHandler constructs a ManagementHandler.
func NewManagementHandler(cfg ManagementConfig) *ManagementHandler {
	return &ManagementHandler{
		registry:  cfg.Registry,
		mapper:    cfg.Mapper,
		agentRepo: cfg.AgentRepo,
		rpc:       cfg.RPC,
		gormDB:    cfg.GormDB,
		sessions:  cfg.Sessions,
		tokenHash: cfg.TokenHash,
		version:   cfg.Version,
		commit:    cfg.Commit,
		buildDate: cfg.BuildDate,
		logger:    cfg.Logger.Named("management"),
	}
}

// agentView is the richer agent envelope SPEC_FULL §5.1 calls for: the
// live registry snapshot merged with the persisted first/last-seen record
// for agents that have disconnected since their last appearance.
type agentView struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	InstalledModels  []string `json:"installed_models"`
	LoadedModels     []string `json:"loaded_models"`
	PendingRequests  int      `json:"pending_requests"`
	Connected        bool     `json:"connected"`
	FirstSeen        string   `json:"first_seen"`
	LastSeen         string   `json:"last_seen"`
}

// ListAgents handles GET /management/agents.
func (h *ManagementHandler) ListAgents(w http.ResponseWriter, r *http.Request) {
	live := h.registry.List()
	liveByID := make(map[string]registry.Agent, len(live))
	for _, a := range live {
		liveByID[a.ID] = a
	}

	persisted, err := h.agentRepo.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list persisted agents", zap.Error(err))
		mgmtInternal(w)
		return
	}

	views := make(map[string]agentView, len(persisted))
	for _, p := range persisted {
		views[p.ID] = agentView{
			ID:        p.ID,
			Name:      p.Name,
			Connected: false,
			FirstSeen: p.FirstSeen.UTC().Format(time.RFC3339),
			LastSeen:  p.LastSeen.UTC().Format(time.RFC3339),
		}
	}
	for id, a := range liveByID {
		views[id] = agentView{
			ID:              a.ID,
			Name:            a.Name,
			InstalledModels: a.InstalledModels,
			LoadedModels:    a.LoadedModels,
			PendingRequests: a.PendingRequests,
			Connected:       true,
			FirstSeen:       a.FirstSeen.UTC().Format(time.RFC3339),
			LastSeen:        a.LastSeen.UTC().Format(time.RFC3339),
		}
	}

	out := make([]agentView, 0, len(views))
	for _, v := range views {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	mgmtOK(w, out)
}

// downloadModelRequest is the body of POST
// /management/agents/{agentId}/models/download.
type downloadModelRequest struct {
	ModelURL string `json:"model_url"`
	Filename string `json:"filename"`
}

// DownloadModel handles POST /management/agents/{agentId}/models/download:
// a synchronous proxy over the agent's downloadModel RPC (spec §4.8/§6.1).
func (h *ManagementHandler) DownloadModel(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")
	if _, ok := h.registry.Get(agentID); !ok {
		mgmtNotFound(w, "agent not connected")
		return
	}

	var req downloadModelRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ModelURL == "" || req.Filename == "" {
		mgmtBadRequest(w, "model_url and filename are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	result, err := h.rpc.Call(ctx, agentID, "downloadModel", map[string]any{
		"model_url": req.ModelURL,
		"filename":  req.Filename,
	})
	if err != nil {
		h.logger.Warn("downloadModel call failed", zap.String("agent_id", agentID), zap.Error(err))
		mgmtError(w, http.StatusBadGateway, err.Error(), "agent_call_failed")
		return
	}

	var payload any
	if len(result) > 0 {
		_ = json.Unmarshal(result, &payload)
	}
	mgmtOK(w, payload)
}

// mappingView is the JSON shape of a persisted ModelMapping.
type mappingView struct {
	PublicName   string `json:"public_name"`
	InternalName string `json:"internal_name"`
	CreatedAt    string `json:"created_at"`
}

func toMappingView(m db.ModelMapping) mappingView {
	return mappingView{PublicName: m.PublicName, InternalName: m.InternalName, CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339)}
}

// ListMappings handles GET /management/mappings.
func (h *ManagementHandler) ListMappings(w http.ResponseWriter, r *http.Request) {
	mappings, err := h.mapper.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list mappings", zap.Error(err))
		mgmtInternal(w)
		return
	}
	out := make([]mappingView, 0, len(mappings))
	for _, m := range mappings {
		out = append(out, toMappingView(m))
	}
	mgmtOK(w, out)
}

type createMappingRequest struct {
	PublicName   string `json:"public_name"`
	InternalName string `json:"internal_name"`
}

// CreateMapping handles POST /management/mappings.
func (h *ManagementHandler) CreateMapping(w http.ResponseWriter, r *http.Request) {
	var req createMappingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PublicName == "" || req.InternalName == "" {
		mgmtBadRequest(w, "public_name and internal_name are required")
		return
	}

	mm, err := h.mapper.Add(r.Context(), req.InternalName, req.PublicName)
	if err != nil {
		if err == repository.ErrConflict {
			mgmtConflict(w, "a mapping for that public_name or internal_name already exists")
			return
		}
		h.logger.Error("failed to create mapping", zap.Error(err))
		mgmtInternal(w)
		return
	}
	mgmtCreated(w, toMappingView(*mm))
}

// DeleteMapping handles DELETE /management/mappings/{publicName}.
func (h *ManagementHandler) DeleteMapping(w http.ResponseWriter, r *http.Request) {
	publicName := chi.URLParam(r, "publicName")
	if err := h.mapper.Remove(r.Context(), publicName); err != nil {
		if err == mapper.ErrNotFound {
			mgmtNotFound(w, "no mapping for that public_name")
			return
		}
		h.logger.Error("failed to delete mapping", zap.Error(err))
		mgmtInternal(w)
		return
	}
	mgmtNoContent(w)
}

// Health handles GET /health: process liveness plus a database ping,
// matching the common thin-health-handler shape used across the pack.
func (h *ManagementHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK

	if err := db.Ping(r.Context(), h.gormDB); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
		h.logger.Warn("health check: database ping failed", zap.Error(err))
	}

	writeJSON(w, code, envelope{
		"status":           status,
		"connected_agents": len(h.registry.List()),
	})
}

// Info handles GET /api/info.
func (h *ManagementHandler) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, envelope{
		"version": h.version,
		"commit":  h.commit,
		"built":   h.buildDate,
	})
}

type loginRequest struct {
	Token string `json:"token"`
}

// Login handles POST /management/login: exchanges the configured
// operator bearer token for a short-lived session cookie (SPEC_FULL
// §5.6). Only mounted when an operator token is configured.
func (h *ManagementHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !auth.CompareSecret(h.tokenHash, req.Token) {
		mgmtUnauthorized(w)
		return
	}

	session, err := h.sessions.IssueSession()
	if err != nil {
		h.logger.Error("failed to issue operator session", zap.Error(err))
		mgmtInternal(w)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    session,
		Path:     "/management",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	mgmtOK(w, envelope{"session": session})
}
