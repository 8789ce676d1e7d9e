package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/askdb-inc/askdb-engine/pkg/adapters/datasource"
	"github.com/askdb-inc/askdb-engine/pkg/apperrors"
	"github.com/askdb-inc/askdb-engine/pkg/auth"
	"github.com/askdb-inc/askdb-engine/pkg/models"
	"github.com/askdb-inc/askdb-engine/pkg/schemaindex"
)

// IndexHandler exposes schema index administration endpoints.
type IndexHandler struct {
	index     *schemaindex.Index
	builder   *schemaindex.Builder
	extractor datasource.SchemaExtractor
	terms     []models.BusinessTerm
	logger    *zap.Logger
}

// NewIndexHandler creates an index admin handler. The extractor and terms
// feed every rebuild.
func NewIndexHandler(
	index *schemaindex.Index,
	builder *schemaindex.Builder,
	extractor datasource.SchemaExtractor,
	terms []models.BusinessTerm,
	logger *zap.Logger,
) *IndexHandler {
	return &IndexHandler{
		index:     index,
		builder:   builder,
		extractor: extractor,
		terms:     terms,
		logger:    logger,
	}
}

// RegisterRoutes registers the index handler's routes. Mutating endpoints
// require the admin role.
func (h *IndexHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("POST /api/index/rebuild", authMiddleware.RequireAdmin(h.Rebuild))
	mux.HandleFunc("DELETE /api/index", authMiddleware.RequireAdmin(h.Clear))
	mux.HandleFunc("GET /api/index/status", authMiddleware.RequireAuth(h.Status))
	mux.HandleFunc("GET /api/index/stats", authMiddleware.RequireAuth(h.Stats))
}

// Rebuild handles POST /api/index/rebuild: it starts a background rebuild
// and returns immediately.
func (h *IndexHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	if err := h.builder.Start(h.extractor, h.terms); err != nil {
		if errors.Is(err, apperrors.ErrRebuildInProgress) {
			h.writeError(w, http.StatusConflict, "rebuild_in_progress", "An index rebuild is already running")
			return
		}
		h.logger.Error("Failed to start index rebuild", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to start rebuild")
		return
	}

	if err := WriteJSON(w, http.StatusAccepted, ApiResponse{Success: true, Data: h.builder.Status()}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Status handles GET /api/index/status.
func (h *IndexHandler) Status(w http.ResponseWriter, r *http.Request) {
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: h.builder.Status()}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Stats handles GET /api/index/stats. Always 200; an unbuilt index reports
// zero counts.
func (h *IndexHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: h.index.Stats()}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Clear handles DELETE /api/index: it cancels any running rebuild and drops
// the current snapshot.
func (h *IndexHandler) Clear(w http.ResponseWriter, r *http.Request) {
	h.builder.Cancel()
	h.index.Clear()

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *IndexHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	if err := ErrorResponse(w, status, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
