package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/pixelforge/pixelforge/auth"
	"github.com/pixelforge/pixelforge/types"
)

// AuthHandler serves the register and login routes.
type AuthHandler struct {
	auth   *auth.Service
	logger *zap.Logger
}

// NewAuthHandler creates the handler.
func NewAuthHandler(authSvc *auth.Service, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{auth: authSvc, logger: logger}
}

// CredentialsRequest is the body for register and login.
type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (c *CredentialsRequest) validate() error {
	if c.Username == "" || c.Password == "" {
		return types.NewError(types.ErrInvalidRequest, "username and password are required")
	}
	return nil
}

// HandleRegister creates a new account.
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var body CredentialsRequest
	if err := DecodeJSONBody(w, r, &body, h.logger); err != nil {
		return
	}
	if err := body.validate(); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	user, err := h.auth.Register(r.Context(), body.Username, body.Password)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{
		"id":       user.ID,
		"username": user.Username,
	})
}

// TokenResponse carries a bearer token.
type TokenResponse struct {
	Token string `json:"token"`
}

// HandleLogin verifies credentials and issues a token.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var body CredentialsRequest
	if err := DecodeJSONBody(w, r, &body, h.logger); err != nil {
		return
	}
	if err := body.validate(); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	token, err := h.auth.Login(r.Context(), body.Username, body.Password)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, TokenResponse{Token: token})
}
