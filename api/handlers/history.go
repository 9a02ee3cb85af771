package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/pixelforge/pixelforge/auth"
	"github.com/pixelforge/pixelforge/store"
	"github.com/pixelforge/pixelforge/types"
)

// HistoryHandler serves the generation history routes.
type HistoryHandler struct {
	store  *store.Store
	auth   *auth.Service
	logger *zap.Logger
}

// NewHistoryHandler creates the handler.
func NewHistoryHandler(st *store.Store, authSvc *auth.Service, logger *zap.Logger) *HistoryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryHandler{store: st, auth: authSvc, logger: logger}
}

// HandleList returns the caller's most recent generations, newest first.
func (h *HistoryHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID := h.auth.CurrentUserID(r.Context())
	records, err := h.store.ListRecent(r.Context(), userID)
	if err != nil {
		WriteError(w, types.NewError(types.ErrInternalError, "failed to load history").WithCause(err), h.logger)
		return
	}
	WriteSuccess(w, records)
}

// DeleteRequest names the history rows to remove.
type DeleteRequest struct {
	IDs []uint `json:"ids"`
}

// DeleteResponse reports how many rows were removed.
type DeleteResponse struct {
	DeletedCount int64 `json:"deleted_count"`
}

// HandleDelete removes the named rows and any cached files behind them.
// IDs belonging to other users are silently skipped.
func (h *HistoryHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	var body DeleteRequest
	if err := DecodeJSONBody(w, r, &body, h.logger); err != nil {
		return
	}
	if len(body.IDs) == 0 {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "ids is required"), h.logger)
		return
	}

	userID := h.auth.CurrentUserID(r.Context())
	deleted, err := h.store.DeleteRecords(r.Context(), userID, body.IDs)
	if err != nil {
		WriteError(w, types.NewError(types.ErrInternalError, "failed to delete records").WithCause(err), h.logger)
		return
	}
	WriteSuccess(w, DeleteResponse{DeletedCount: deleted})
}

// FavoriteRequest toggles the favorite flag on one row.
type FavoriteRequest struct {
	ID       uint `json:"id"`
	Favorite bool `json:"favorite"`
}

// HandleFavorite sets the favorite flag on one history row.
func (h *HistoryHandler) HandleFavorite(w http.ResponseWriter, r *http.Request) {
	var body FavoriteRequest
	if err := DecodeJSONBody(w, r, &body, h.logger); err != nil {
		return
	}
	if body.ID == 0 {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "id is required"), h.logger)
		return
	}

	userID := h.auth.CurrentUserID(r.Context())
	if err := h.store.SetFavorite(r.Context(), userID, body.ID, body.Favorite); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]bool{"favorite": body.Favorite})
}
