// Package auth issues and verifies sessions. The active routes operate in
// single-user mode: when no token is presented they resolve the default
// account, so the rest of the system threads an explicit user id everywhere
// and multi-tenancy is a non-breaking extension.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/pixelforge/pixelforge/config"
	"github.com/pixelforge/pixelforge/store"
	"github.com/pixelforge/pixelforge/types"
)

// Service issues and verifies session tokens backed by the sessions table.
type Service struct {
	store         *store.Store
	secret        []byte
	ttl           time.Duration
	logger        *zap.Logger
	defaultUserID uint
}

// NewService creates the auth service. An empty JWT secret is replaced with a
// random one, which invalidates outstanding tokens on restart.
func NewService(st *store.Store, cfg config.AuthConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	secret := []byte(cfg.JWTSecret)
	if len(secret) == 0 {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err == nil {
			secret = []byte(hex.EncodeToString(buf))
			logger.Warn("jwt secret not configured, generated an ephemeral one")
		}
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		store:  st,
		secret: secret,
		ttl:    ttl,
		logger: logger,
	}
}

// Bootstrap ensures the default account exists and caches its id.
func (s *Service) Bootstrap(ctx context.Context) error {
	user, err := s.store.EnsureUser(ctx, store.DefaultUsername)
	if err != nil {
		return fmt.Errorf("ensure default user: %w", err)
	}
	s.defaultUserID = user.ID
	return nil
}

// Register creates an account with a bcrypt password hash.
func (s *Service) Register(ctx context.Context, username, password string) (*store.User, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "username and password are required")
	}
	if _, err := s.store.UserByName(ctx, username); err == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "username already taken")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "hash password").WithCause(err)
	}
	user, err := s.store.EnsureUser(ctx, username)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetPassword(ctx, user.ID, string(hash)); err != nil {
		return nil, err
	}
	return user, nil
}

// Login verifies credentials and issues a persisted JWT session token.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.store.UserByName(ctx, username)
	if err != nil {
		return "", types.NewError(types.ErrAuthentication, "invalid credentials")
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return "", types.NewError(types.ErrAuthentication, "invalid credentials")
	}

	expiresAt := time.Now().Add(s.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatUint(uint64(user.ID), 10),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		Issuer:    "pixelforge",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", types.NewError(types.ErrInternalError, "sign token").WithCause(err)
	}
	if err := s.store.CreateSession(ctx, user.ID, token, expiresAt); err != nil {
		return "", err
	}
	return token, nil
}

// Authenticate resolves a token to a user id. The token must both verify
// against the signing secret and still exist in the sessions table.
func (s *Service) Authenticate(ctx context.Context, token string) (uint, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return 0, types.NewError(types.ErrAuthentication, "invalid token")
	}
	sess, err := s.store.SessionByToken(ctx, token)
	if err != nil {
		return 0, err
	}
	return sess.UserID, nil
}

// CurrentUserID returns the user carried on the context, falling back to the
// default account.
func (s *Service) CurrentUserID(ctx context.Context) uint {
	if id, ok := types.UserID(ctx); ok {
		return id
	}
	return s.defaultUserID
}

// Middleware attaches the authenticated user to the request context when a
// bearer token is presented. Requests without one proceed as the default
// user; an invalid token is rejected.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")
		userID, err := s.Authenticate(r.Context(), token)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(types.WithUserID(r.Context(), userID)))
	})
}
