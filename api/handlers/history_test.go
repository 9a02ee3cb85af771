package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/pixelforge/pixelforge/auth"
	"github.com/pixelforge/pixelforge/config"
	"github.com/pixelforge/pixelforge/imagegen"
	"github.com/pixelforge/pixelforge/store"
)

func newHistoryEnv(t *testing.T) (*store.Store, *auth.Service) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	st := store.New(db, store.Options{InitialBalance: 100})
	require.NoError(t, st.AutoMigrate())

	authSvc := auth.NewService(st, config.AuthConfig{JWTSecret: "test-secret"}, nil)
	require.NoError(t, authSvc.Bootstrap(context.Background()))
	return st, authSvc
}

func seedRecords(t *testing.T, st *store.Store, userID uint, n int) []uint {
	t.Helper()
	ids := make([]uint, 0, n)
	for i := 0; i < n; i++ {
		rec := &store.GenerationRecord{
			UserID: userID,
			Prompt: "prompt",
			Status: imagegen.StateCompleted,
			Image:  "https://img.test/x.png",
		}
		require.NoError(t, st.CreateRecord(context.Background(), rec))
		ids = append(ids, rec.ID)
	}
	return ids
}

func TestHistoryHandler_List(t *testing.T) {
	st, authSvc := newHistoryEnv(t)
	seedRecords(t, st, 1, 3)

	h := NewHistoryHandler(st, authSvc, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/history", nil)
	rec := httptest.NewRecorder()
	h.HandleList(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var envelope Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.True(t, envelope.Success)

	data, _ := json.Marshal(envelope.Data)
	var records []store.GenerationRecord
	require.NoError(t, json.Unmarshal(data, &records))
	assert.Len(t, records, 3)
}

func TestHistoryHandler_Delete(t *testing.T) {
	st, authSvc := newHistoryEnv(t)
	ids := seedRecords(t, st, 1, 3)

	h := NewHistoryHandler(st, authSvc, nil)
	body, _ := json.Marshal(DeleteRequest{IDs: ids[:2]})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/history/delete", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleDelete(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var envelope Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.True(t, envelope.Success)

	data, _ := json.Marshal(envelope.Data)
	var resp DeleteResponse
	require.NoError(t, json.Unmarshal(data, &resp))
	assert.Equal(t, int64(2), resp.DeletedCount)

	remaining, err := st.ListRecent(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestHistoryHandler_DeleteRemovesCachedFile(t *testing.T) {
	st, authSvc := newHistoryEnv(t)

	dir := t.TempDir()
	cached := filepath.Join(dir, "cached.png")
	require.NoError(t, os.WriteFile(cached, []byte("png"), 0o644))

	record := &store.GenerationRecord{
		UserID:     1,
		Prompt:     "prompt",
		Status:     imagegen.StateCompleted,
		CachedPath: cached,
	}
	require.NoError(t, st.CreateRecord(context.Background(), record))

	h := NewHistoryHandler(st, authSvc, nil)
	body, _ := json.Marshal(DeleteRequest{IDs: []uint{record.ID}})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/history/delete", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleDelete(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	_, err := os.Stat(cached)
	assert.True(t, os.IsNotExist(err))
}

func TestHistoryHandler_DeleteEmptyIDs(t *testing.T) {
	st, authSvc := newHistoryEnv(t)

	h := NewHistoryHandler(st, authSvc, nil)
	body, _ := json.Marshal(DeleteRequest{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/history/delete", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleDelete(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryHandler_Favorite(t *testing.T) {
	st, authSvc := newHistoryEnv(t)
	ids := seedRecords(t, st, 1, 1)

	h := NewHistoryHandler(st, authSvc, nil)
	body, _ := json.Marshal(FavoriteRequest{ID: ids[0], Favorite: true})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/history/favorite", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleFavorite(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	records, err := st.ListRecent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Favorite)
}

func TestCreditsHandler_Balance(t *testing.T) {
	st, authSvc := newHistoryEnv(t)

	h := NewCreditsHandler(st, authSvc, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/credits", nil)
	rec := httptest.NewRecorder()
	h.HandleBalance(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var envelope Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.True(t, envelope.Success)

	data, _ := json.Marshal(envelope.Data)
	var resp BalanceResponse
	require.NoError(t, json.Unmarshal(data, &resp))
	assert.Equal(t, 100, resp.Credits)
}
