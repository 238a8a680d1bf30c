// Package httpapi implements the thin admin command surface (§6): bind,
// unbind, updateConfig, getBindings, and setPlayingOverride. It mirrors the
// teacher's Handler-struct-plus-jsonResponse/errorResponse conventions
// rather than introducing a new response framework.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/raidledger/voiceengine/internal/bindingcache"
	"github.com/raidledger/voiceengine/internal/gateway"
	"github.com/raidledger/voiceengine/internal/models"
)

// BindingStore is the admin-facing persistence surface the handler needs,
// separate from bindingcache.Loader because admin writes also invalidate it.
type BindingStore interface {
	Create(ctx context.Context, b models.ChannelBinding) (*models.ChannelBinding, error)
	Delete(ctx context.Context, bindingID string) error
	UpdateConfig(ctx context.Context, bindingID string, cfg models.BindingConfig) error
	ListByGuild(ctx context.Context, guildID string) ([]models.ChannelBinding, error)
}

// OverrideStore lets the admin surface set a manual "/playing" override.
type OverrideStore interface {
	Set(ctx context.Context, userID, name string, ttl time.Duration) error
}

// Config bundles the Handler's collaborators.
type Config struct {
	Bindings       BindingStore
	BindingCache   *bindingcache.Cache
	Overrides      OverrideStore
	OverrideTTL    time.Duration
	AllowedOrigins []string
	Logger         *zap.Logger

	// Gateway and DevMode, if set, mount a debug voice-event ingestion route
	// for exercising the gateway without a live chat-service connection.
	// Left nil/false in production.
	Gateway *gateway.Gateway
	DevMode bool
}

// Handler serves the admin command surface.
type Handler struct {
	bindings    BindingStore
	cache       *bindingcache.Cache
	overrides   OverrideStore
	overrideTTL time.Duration
	logger      *zap.SugaredLogger
	gateway     *gateway.Gateway
	devMode     bool
}

func New(cfg Config) *Handler {
	ttl := cfg.OverrideTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Handler{
		bindings:    cfg.Bindings,
		cache:       cfg.BindingCache,
		overrides:   cfg.Overrides,
		overrideTTL: ttl,
		logger:      cfg.Logger.Sugar(),
		gateway:     cfg.Gateway,
		devMode:     cfg.DevMode,
	}
}

// Router builds the chi router for the admin command surface, with CORS
// configured from AllowedOrigins the same way the engine's origin allowlist
// is configured elsewhere.
func (h *Handler) Router(allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Health)
	r.Route("/api/v1/admin", func(r chi.Router) {
		r.Post("/bindings", h.Bind)
		r.Delete("/bindings/{bindingID}", h.Unbind)
		r.Patch("/bindings/{bindingID}/config", h.UpdateConfig)
		r.Get("/guilds/{guildID}/bindings", h.GetBindings)
		r.Post("/users/{userID}/playing", h.SetPlayingOverride)
	})
	if h.devMode && h.gateway != nil {
		r.Post("/api/v1/debug/voice-events", h.DebugIngestVoiceEvent)
	}
	return r
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

// bindRequest is the request body for POST /bindings.
type bindRequest struct {
	GuildID     string                `json:"guildId"`
	ChannelID   string                `json:"channelId"`
	ChannelKind models.ChannelKind    `json:"channelKind"`
	Purpose     models.BindingPurpose `json:"purpose"`
	GameID      *int64                `json:"gameId"`
	SeriesID    *string               `json:"seriesId"`
	Config      models.BindingConfig  `json:"config"`
}

// Bind handles POST /api/v1/admin/bindings, the "bind" admin command (§6).
//
// @Summary Bind a channel
// @Description Creates a channel binding with the given purpose and config
// @Tags Admin
// @Accept json
// @Produce json
// @Param body body bindRequest true "Binding"
// @Success 201 {object} models.ChannelBinding
// @Failure 400 {object} map[string]string
func (h *Handler) Bind(w http.ResponseWriter, r *http.Request) {
	var req bindRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.GuildID == "" || req.ChannelID == "" {
		h.errorResponse(w, http.StatusBadRequest, "guildId and channelId are required")
		return
	}

	binding := models.ChannelBinding{
		GuildID:     req.GuildID,
		ChannelID:   req.ChannelID,
		ChannelKind: req.ChannelKind,
		Purpose:     req.Purpose,
		GameID:      req.GameID,
		SeriesID:    req.SeriesID,
		Config:      req.Config,
	}
	created, err := h.bindings.Create(r.Context(), binding)
	if err != nil {
		h.logger.Errorw("failed to create binding", "error", err)
		h.errorResponse(w, http.StatusInternalServerError, "failed to create binding")
		return
	}
	h.cache.Invalidate(created.ChannelID)
	h.jsonResponse(w, http.StatusCreated, created)
}

// Unbind handles DELETE /api/v1/admin/bindings/{bindingID}, the "unbind"
// admin command. It invalidates the channel from the binding cache using
// the channelID query parameter, since the cache is keyed by channel, not
// binding id.
//
// @Summary Unbind a channel
// @Tags Admin
// @Param bindingID path string true "Binding ID"
// @Param channelId query string true "Channel ID, for cache invalidation"
// @Success 204
func (h *Handler) Unbind(w http.ResponseWriter, r *http.Request) {
	bindingID := chi.URLParam(r, "bindingID")
	if err := h.bindings.Delete(r.Context(), bindingID); err != nil {
		h.logger.Errorw("failed to delete binding", "bindingID", bindingID, "error", err)
		h.errorResponse(w, http.StatusInternalServerError, "failed to delete binding")
		return
	}
	if channelID := r.URL.Query().Get("channelId"); channelID != "" {
		h.cache.Invalidate(channelID)
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateConfig handles PATCH /api/v1/admin/bindings/{bindingID}/config, the
// "updateConfig" admin command.
//
// @Summary Update a binding's config
// @Tags Admin
// @Accept json
// @Param bindingID path string true "Binding ID"
// @Param channelId query string true "Channel ID, for cache invalidation"
// @Param body body models.BindingConfig true "Config"
// @Success 204
func (h *Handler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	bindingID := chi.URLParam(r, "bindingID")
	var cfg models.BindingConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		h.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.bindings.UpdateConfig(r.Context(), bindingID, cfg.WithDefaults()); err != nil {
		h.logger.Errorw("failed to update binding config", "bindingID", bindingID, "error", err)
		h.errorResponse(w, http.StatusInternalServerError, "failed to update binding config")
		return
	}
	if channelID := r.URL.Query().Get("channelId"); channelID != "" {
		h.cache.Invalidate(channelID)
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetBindings handles GET /api/v1/admin/guilds/{guildID}/bindings.
//
// @Summary List a guild's bindings
// @Tags Admin
// @Produce json
// @Param guildID path string true "Guild ID"
// @Success 200 {array} models.ChannelBinding
func (h *Handler) GetBindings(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")
	bindings, err := h.bindings.ListByGuild(r.Context(), guildID)
	if err != nil {
		h.logger.Errorw("failed to list bindings", "guildID", guildID, "error", err)
		h.errorResponse(w, http.StatusInternalServerError, "failed to list bindings")
		return
	}
	h.jsonResponse(w, http.StatusOK, bindings)
}

type overrideRequest struct {
	GameName string `json:"gameName"`
}

// SetPlayingOverride handles POST /api/v1/admin/users/{userID}/playing, the
// "setPlayingOverride" admin command (§4.3's manual override).
//
// @Summary Set a user's manual "/playing" override
// @Tags Admin
// @Accept json
// @Param userID path string true "Discord user ID"
// @Param body body overrideRequest true "Override"
// @Success 204
func (h *Handler) SetPlayingOverride(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.overrides.Set(r.Context(), userID, req.GameName, h.overrideTTL); err != nil {
		h.logger.Errorw("failed to set playing override", "userID", userID, "error", err)
		h.errorResponse(w, http.StatusInternalServerError, "failed to set playing override")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// debugVoiceEvent is the NDJSON-free, single-event body DebugIngestVoiceEvent
// accepts. It mirrors models.VoiceStateEvent plus a flattened activity name,
// since cmd/seeder shouldn't need to import the full Activity shape just to
// simulate a "playing" presence.
type debugVoiceEvent struct {
	UserID       string `json:"userId"`
	OldChannelID string `json:"oldChannelId"`
	NewChannelID string `json:"newChannelId"`
	DisplayName  string `json:"displayName"`
	ActivityName string `json:"activityName"`
}

// DebugIngestVoiceEvent feeds one synthetic voice-state update into the
// gateway, for smoke-testing the engine without a live chat-service
// connection. Only mounted when Config.DevMode is set.
//
// @Summary Inject a synthetic voice-state event (dev only)
// @Tags Debug
// @Accept json
// @Param body body debugVoiceEvent true "Event"
// @Success 202
func (h *Handler) DebugIngestVoiceEvent(w http.ResponseWriter, r *http.Request) {
	var req debugVoiceEvent
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		h.errorResponse(w, http.StatusBadRequest, "userId is required")
		return
	}

	var activities []models.Activity
	if req.ActivityName != "" {
		activities = append(activities, models.Activity{Kind: models.ActivityPlaying, Name: req.ActivityName})
	}
	h.gateway.HandleVoiceStateUpdate(models.VoiceStateEvent{
		UserID:       req.UserID,
		OldChannelID: req.OldChannelID,
		NewChannelID: req.NewChannelID,
		Timestamp:    time.Now(),
		MemberHint: models.MemberHint{
			DisplayName: req.DisplayName,
			Activities:  activities,
		},
	})
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) errorResponse(w http.ResponseWriter, status int, message string) {
	h.jsonResponse(w, status, map[string]string{"error": message})
}
