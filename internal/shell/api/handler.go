// Package api provides the HTTP handlers for the Leger API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/leger-labs/leger/internal/core/domain"
	"github.com/leger-labs/leger/internal/core/marketplace"
	"github.com/leger-labs/leger/internal/shell/api/openapi"
	"github.com/leger-labs/leger/internal/shell/store"
)

// userHeader carries the caller's identity. Authentication itself is
// handled upstream; the API trusts this header.
const userHeader = "X-Leger-User"

// =============================================================================
// Deploy Service Interface
// =============================================================================

// DeployService is the deployment pipeline surface the handlers call.
type DeployService interface {
	Deploy(ctx context.Context, userUUID, releaseID string) (*domain.DeploymentRecord, error)
	Status(ctx context.Context, userUUID, releaseID string) (*domain.StatusResponse, error)
	History(ctx context.Context, userUUID, releaseID string, opts store.ListOptions) ([]domain.DeploymentRecord, error)
	DeleteRelease(ctx context.Context, userUUID, releaseID string) error
}

// =============================================================================
// Handler
// =============================================================================

// Handler provides HTTP handlers for the API.
type Handler struct {
	store    store.Store
	deployer DeployService
	spec     *openapi.Generator
	logger   *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, d DeployService, l *slog.Logger) *Handler {
	if l == nil {
		l = slog.Default()
	}
	h := &Handler{
		store:    s,
		deployer: d,
		spec:     openapi.NewGenerator(),
		logger:   l,
	}
	h.registerOpenAPIResources()
	return h
}

func (h *Handler) registerOpenAPIResources() {
	h.spec.RegisterResource(openapi.Resource{
		Name: "releases", Model: ReleaseResponse{},
		SupportsList: true, SupportsGet: true, SupportsCreate: true, SupportsDelete: true,
	})
	h.spec.RegisterResource(openapi.Resource{
		Name: "deployments", Model: DeploymentResponse{},
		SupportsList: true, SupportsGet: true,
	})
	h.spec.RegisterResource(openapi.Resource{
		Name: "secrets", Model: SecretResponse{},
		SupportsList: true, SupportsCreate: true, SupportsDelete: true,
	})
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.jsonContentType)
	r.Use(h.requestIDHeader)

	// Health endpoints
	r.Get("/health", h.handleHealth)
	r.Get("/ready", h.handleReady)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/openapi.json", h.spec.Handler())

		r.Route("/releases", func(r chi.Router) {
			r.Post("/", h.handleCreateRelease)
			r.Get("/", h.handleListReleases)
			r.Get("/{id}", h.handleGetRelease)
			r.Delete("/{id}", h.handleDeleteRelease)

			r.Put("/{id}/config", h.handleSaveConfig)
			r.Get("/{id}/config", h.handleGetConfig)

			r.Post("/{id}/deploy", h.handleDeploy)
			r.Get("/{id}/status", h.handleStatus)
			r.Get("/{id}/deployments", h.handleListDeployments)

			r.Put("/{id}/marketplace", h.handleSaveMarketplace)
			r.Get("/{id}/marketplace", h.handleGetMarketplace)
			r.Delete("/{id}/marketplace", h.handleDeleteMarketplace)
		})

		r.Route("/settings", func(r chi.Router) {
			r.Put("/", h.handleSaveSettings)
			r.Get("/", h.handleGetSettings)
		})

		r.Route("/secrets", func(r chi.Router) {
			r.Put("/", h.handleSaveSecret)
			r.Get("/", h.handleListSecrets)
			r.Delete("/{name}", h.handleDeleteSecret)
		})
	})

	return r
}

// =============================================================================
// Middleware
// =============================================================================

// jsonContentType sets Content-Type header to application/json.
func (h *Handler) jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader copies the request ID to the response header.
func (h *Handler) requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// userUUID extracts the caller identity, writing a 401 when absent.
func (h *Handler) userUUID(w http.ResponseWriter, r *http.Request) (string, bool) {
	user := r.Header.Get(userHeader)
	if user == "" {
		h.writeError(w, http.StatusUnauthorized, "missing user identity", "unauthenticated")
		return "", false
	}
	return user, true
}

// =============================================================================
// Health Handlers
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"database": "ok"}
	h.writeJSON(w, http.StatusOK, ReadyResponse{Status: "ready", Checks: checks})
}

// =============================================================================
// Release Handlers
// =============================================================================

func (h *Handler) handleCreateRelease(w http.ResponseWriter, r *http.Request) {
	user, ok := h.userUUID(w, r)
	if !ok {
		return
	}

	var req CreateReleaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}
	if req.Name == "" {
		h.writeError(w, http.StatusBadRequest, "name is required", "validation_error")
		return
	}

	now := time.Now().UTC()
	release := &domain.Release{
		ID:        uuid.New().String(),
		UserUUID:  user,
		Name:      req.Name,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.store.CreateRelease(r.Context(), release); err != nil {
		if errors.Is(err, store.ErrDuplicateName) {
			h.writeError(w, http.StatusConflict, "release with this name already exists", "duplicate_name")
			return
		}
		h.logger.Error("failed to create release", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to create release", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusCreated, releaseToResponse(release))
}

func (h *Handler) handleListReleases(w http.ResponseWriter, r *http.Request) {
	user, ok := h.userUUID(w, r)
	if !ok {
		return
	}

	opts := listOptions(r)
	releases, err := h.store.ListReleases(r.Context(), user, opts)
	if err != nil {
		h.logger.Error("failed to list releases", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list releases", "internal_error")
		return
	}

	resp := ListReleasesResponse{
		Releases: make([]ReleaseResponse, 0, len(releases)),
		Total:    len(releases),
		Limit:    opts.Limit,
		Offset:   opts.Offset,
	}
	for _, rel := range releases {
		resp.Releases = append(resp.Releases, releaseToResponse(&rel))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetRelease(w http.ResponseWriter, r *http.Request) {
	user, ok := h.userUUID(w, r)
	if !ok {
		return
	}

	release, ok := h.ownedRelease(w, r, user)
	if !ok {
		return
	}

	h.writeJSON(w, http.StatusOK, releaseToResponse(release))
}

func (h *Handler) handleDeleteRelease(w http.ResponseWriter, r *http.Request) {
	user, ok := h.userUUID(w, r)
	if !ok {
		return
	}

	if err := h.deployer.DeleteRelease(r.Context(), user, chi.URLParam(r, "id")); err != nil {
		h.writeDomainError(w, err, "failed to delete release")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// Configuration Handlers
// =============================================================================

func (h *Handler) handleSaveConfig(w http.ResponseWriter, r *http.Request) {
	user, ok := h.userUUID(w, r)
	if !ok {
		return
	}

	release, ok := h.ownedRelease(w, r, user)
	if !ok {
		return
	}

	var req SaveConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}

	cfg := &domain.ReleaseConfig{
		ReleaseID:         release.ID,
		ServiceSelections: req.ServiceSelections,
		ModelAssignments:  req.ModelAssignments,
		CoreServices:      req.CoreServices,
		CaddyRoutes:       req.CaddyRoutes,
		Infrastructure:    req.Infrastructure,
	}

	if err := h.store.SaveReleaseConfig(r.Context(), cfg); err != nil {
		h.logger.Error("failed to save config", "release_id", release.ID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to save configuration", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusCreated, cfg)
}

func (h *Handler) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	user, ok := h.userUUID(w, r)
	if !ok {
		return
	}

	release, ok := h.ownedRelease(w, r, user)
	if !ok {
		return
	}

	cfg, err := h.store.GetReleaseConfig(r.Context(), release.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "release has no saved configuration", "config_not_found")
			return
		}
		h.logger.Error("failed to get config", "release_id", release.ID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get configuration", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, cfg)
}

// =============================================================================
// Deployment Handlers
// =============================================================================

// handleDeploy runs the pipeline. Pipeline failures are reported in the
// deployment record itself (status failed plus error message), not as an
// HTTP error, so clients follow the record's state machine.
func (h *Handler) handleDeploy(w http.ResponseWriter, r *http.Request) {
	user, ok := h.userUUID(w, r)
	if !ok {
		return
	}

	record, err := h.deployer.Deploy(r.Context(), user, chi.URLParam(r, "id"))
	if record == nil {
		h.writeDomainError(w, err, "failed to deploy")
		return
	}

	h.writeJSON(w, http.StatusOK, deploymentToResponse(record))
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := h.userUUID(w, r)
	if !ok {
		return
	}

	resp, err := h.deployer.Status(r.Context(), user, chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err, "failed to get status")
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	user, ok := h.userUUID(w, r)
	if !ok {
		return
	}

	opts := listOptions(r)
	records, err := h.deployer.History(r.Context(), user, chi.URLParam(r, "id"), opts)
	if err != nil {
		h.writeDomainError(w, err, "failed to list deployments")
		return
	}

	resp := ListDeploymentsResponse{
		Deployments: make([]DeploymentResponse, 0, len(records)),
		Total:       len(records),
		Limit:       opts.Limit,
		Offset:      opts.Offset,
	}
	for _, rec := range records {
		resp.Deployments = append(resp.Deployments, deploymentToResponse(&rec))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// Marketplace Handlers
// =============================================================================

func (h *Handler) handleSaveMarketplace(w http.ResponseWriter, r *http.Request) {
	user, ok := h.userUUID(w, r)
	if !ok {
		return
	}

	release, ok := h.ownedRelease(w, r, user)
	if !ok {
		return
	}

	var req SaveMarketplaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}

	// Reject fragments that will not parse at deploy time.
	if _, err := marketplace.Parse(req.ComposeYAML); err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, err.Error(), "invalid_fragment")
		return
	}

	if err := h.store.SaveMarketplaceConfig(r.Context(), release.ID, req.ComposeYAML); err != nil {
		h.logger.Error("failed to save marketplace config", "release_id", release.ID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to save marketplace config", "internal_error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetMarketplace(w http.ResponseWriter, r *http.Request) {
	user, ok := h.userUUID(w, r)
	if !ok {
		return
	}

	release, ok := h.ownedRelease(w, r, user)
	if !ok {
		return
	}

	composeYAML, err := h.store.GetMarketplaceConfig(r.Context(), release.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "release has no marketplace config", "marketplace_not_found")
			return
		}
		h.logger.Error("failed to get marketplace config", "release_id", release.ID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get marketplace config", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, MarketplaceResponse{ComposeYAML: composeYAML})
}

func (h *Handler) handleDeleteMarketplace(w http.ResponseWriter, r *http.Request) {
	user, ok := h.userUUID(w, r)
	if !ok {
		return
	}

	release, ok := h.ownedRelease(w, r, user)
	if !ok {
		return
	}

	if err := h.store.DeleteMarketplaceConfig(r.Context(), release.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "release has no marketplace config", "marketplace_not_found")
			return
		}
		h.logger.Error("failed to delete marketplace config", "release_id", release.ID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to delete marketplace config", "internal_error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// Settings and Secrets Handlers
// =============================================================================

func (h *Handler) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	user, ok := h.userUUID(w, r)
	if !ok {
		return
	}

	var req SaveSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}

	settings := &domain.Settings{UserUUID: user, Tailscale: req.Tailscale}
	if err := h.store.SaveSettings(r.Context(), settings); err != nil {
		h.logger.Error("failed to save settings", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to save settings", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, SettingsResponse{Tailscale: settings.Tailscale})
}

func (h *Handler) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	user, ok := h.userUUID(w, r)
	if !ok {
		return
	}

	settings, err := h.store.GetSettings(r.Context(), user)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "settings not configured", "settings_not_found")
			return
		}
		h.logger.Error("failed to get settings", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get settings", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, SettingsResponse{Tailscale: settings.Tailscale})
}

func (h *Handler) handleSaveSecret(w http.ResponseWriter, r *http.Request) {
	user, ok := h.userUUID(w, r)
	if !ok {
		return
	}

	var req SaveSecretRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}
	if req.Name == "" {
		h.writeError(w, http.StatusBadRequest, "name is required", "validation_error")
		return
	}

	if err := h.store.SaveSecret(r.Context(), user, domain.Secret{Name: req.Name, Value: req.Value}); err != nil {
		h.logger.Error("failed to save secret", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to save secret", "internal_error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListSecrets(w http.ResponseWriter, r *http.Request) {
	user, ok := h.userUUID(w, r)
	if !ok {
		return
	}

	secrets, err := h.store.ListSecrets(r.Context(), user)
	if err != nil {
		h.logger.Error("failed to list secrets", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list secrets", "internal_error")
		return
	}

	resp := ListSecretsResponse{Secrets: make([]SecretResponse, 0, len(secrets))}
	for _, s := range secrets {
		resp.Secrets = append(resp.Secrets, SecretResponse{Name: s.Name})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleDeleteSecret(w http.ResponseWriter, r *http.Request) {
	user, ok := h.userUUID(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteSecret(r.Context(), user, chi.URLParam(r, "name")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "secret not found", "secret_not_found")
			return
		}
		h.logger.Error("failed to delete secret", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to delete secret", "internal_error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// Helpers
// =============================================================================

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// writeDomainError maps pipeline errors to HTTP status codes.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error, fallback string) {
	var verr *domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		h.writeError(w, http.StatusNotFound, err.Error(), "not_found")
	case errors.Is(err, domain.ErrPrerequisiteMissing):
		h.writeError(w, http.StatusConflict, err.Error(), "prerequisite_missing")
	case errors.As(err, &verr):
		h.writeError(w, http.StatusUnprocessableEntity, verr.Error(), "validation_error")
	default:
		h.logger.Error(fallback, "error", err)
		h.writeError(w, http.StatusInternalServerError, fallback, "internal_error")
	}
}

// ownedRelease fetches the {id} release and checks it belongs to the
// caller. Foreign releases read as not found.
func (h *Handler) ownedRelease(w http.ResponseWriter, r *http.Request, user string) (*domain.Release, bool) {
	id := chi.URLParam(r, "id")
	release, err := h.store.GetRelease(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "release not found", "release_not_found")
			return nil, false
		}
		h.logger.Error("failed to get release", "release_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get release", "internal_error")
		return nil, false
	}
	if release.UserUUID != user {
		h.writeError(w, http.StatusNotFound, "release not found", "release_not_found")
		return nil, false
	}
	return release, true
}

func listOptions(r *http.Request) store.ListOptions {
	opts := store.DefaultListOptions()
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil {
			opts.Limit = l
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if o, err := strconv.Atoi(offset); err == nil {
			opts.Offset = o
		}
	}
	return opts.Normalize()
}

func releaseToResponse(rel *domain.Release) ReleaseResponse {
	return ReleaseResponse{
		ID:        rel.ID,
		Name:      rel.Name,
		Version:   rel.Version,
		CreatedAt: rel.CreatedAt,
		UpdatedAt: rel.UpdatedAt,
	}
}

func deploymentToResponse(rec *domain.DeploymentRecord) DeploymentResponse {
	return DeploymentResponse{
		ID:           rec.ID,
		ReleaseID:    rec.ReleaseID,
		Status:       string(rec.Status),
		R2Path:       rec.R2Path,
		ManifestURL:  rec.ManifestURL,
		ErrorMessage: rec.ErrorMessage,
		StartedAt:    rec.StartedAt,
		CompletedAt:  rec.CompletedAt,
	}
}
