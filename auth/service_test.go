package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/pixelforge/pixelforge/config"
	"github.com/pixelforge/pixelforge/store"
	"github.com/pixelforge/pixelforge/types"
)

func testService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	st := store.New(db, store.Options{InitialBalance: 100})
	require.NoError(t, st.AutoMigrate())

	svc := NewService(st, config.AuthConfig{
		JWTSecret:  "test-secret",
		SessionTTL: time.Hour,
	}, nil)
	require.NoError(t, svc.Bootstrap(t.Context()))
	return svc, st
}

func TestService_RegisterAndLogin(t *testing.T) {
	svc, _ := testService(t)
	ctx := t.Context()

	user, err := svc.Register(ctx, "alice", "hunter22")
	require.NoError(t, err)
	assert.NotZero(t, user.ID)

	token, err := svc.Login(ctx, "alice", "hunter22")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	userID, err := svc.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, userID)
}

func TestService_LoginRejectsBadPassword(t *testing.T) {
	svc, _ := testService(t)
	ctx := t.Context()

	_, err := svc.Register(ctx, "alice", "hunter22")
	require.NoError(t, err)

	_, err = svc.Login(ctx, "alice", "wrong")
	assert.Equal(t, types.ErrAuthentication, types.GetErrorCode(err))

	_, err = svc.Login(ctx, "nobody", "hunter22")
	assert.Equal(t, types.ErrAuthentication, types.GetErrorCode(err))
}

func TestService_AuthenticateRejectsForgedToken(t *testing.T) {
	svc, _ := testService(t)

	_, err := svc.Authenticate(t.Context(), "not-a-jwt")
	assert.Equal(t, types.ErrAuthentication, types.GetErrorCode(err))
}

func TestService_CurrentUserIDDefaults(t *testing.T) {
	svc, _ := testService(t)
	ctx := t.Context()

	// Without a user on the context, the default account is resolved.
	assert.NotZero(t, svc.CurrentUserID(ctx))
	assert.Equal(t, svc.defaultUserID, svc.CurrentUserID(ctx))

	// With a user on the context, that user wins.
	assert.Equal(t, uint(42), svc.CurrentUserID(types.WithUserID(ctx, 42)))
}

func TestService_Middleware(t *testing.T) {
	svc, _ := testService(t)
	ctx := t.Context()

	_, err := svc.Register(ctx, "alice", "hunter22")
	require.NoError(t, err)
	token, err := svc.Login(ctx, "alice", "hunter22")
	require.NoError(t, err)

	var gotUserID uint
	handler := svc.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = svc.CurrentUserID(r.Context())
	}))

	// No token: default user.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, svc.defaultUserID, gotUserID)

	// Valid token: that user.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	user, err := svc.store.UserByName(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, user.ID, gotUserID)

	// Invalid token: rejected.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
