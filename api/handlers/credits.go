package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/pixelforge/pixelforge/auth"
	"github.com/pixelforge/pixelforge/store"
	"github.com/pixelforge/pixelforge/types"
)

// CreditsHandler serves the credit balance route.
type CreditsHandler struct {
	store  *store.Store
	auth   *auth.Service
	logger *zap.Logger
}

// NewCreditsHandler creates the handler.
func NewCreditsHandler(st *store.Store, authSvc *auth.Service, logger *zap.Logger) *CreditsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CreditsHandler{store: st, auth: authSvc, logger: logger}
}

// BalanceResponse carries the caller's remaining credits.
type BalanceResponse struct {
	Credits int `json:"credits"`
}

// HandleBalance returns the caller's balance, initializing it on first read.
func (h *CreditsHandler) HandleBalance(w http.ResponseWriter, r *http.Request) {
	userID := h.auth.CurrentUserID(r.Context())
	balance, err := h.store.Balance(r.Context(), userID)
	if err != nil {
		WriteError(w, types.NewError(types.ErrInternalError, "failed to load balance").WithCause(err), h.logger)
		return
	}
	WriteSuccess(w, BalanceResponse{Credits: balance})
}
