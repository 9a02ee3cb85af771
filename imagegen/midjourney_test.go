package imagegen

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelforge/pixelforge/config"
	"github.com/pixelforge/pixelforge/types"
)

func mjAdapter(baseURL string) *MidjourneyAdapter {
	return NewMidjourneyAdapter(config.MidjourneyConfig{BaseURL: baseURL, APIKey: "secret"}, nil)
}

func TestMidjourneyAdapter_Submit(t *testing.T) {
	var req mjImagineRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/mj/submit/imagine", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("mj-api-secret"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Write([]byte(`{"code":1,"description":"submitted","result":"task-123"}`))
	}))
	defer srv.Close()

	taskID, err := mjAdapter(srv.URL).Submit(t.Context(), &Request{
		Prompt:      "a castle",
		AspectRatio: "16:9",
	})
	require.NoError(t, err)
	assert.Equal(t, "task-123", taskID)
	assert.Contains(t, req.Prompt, "a castle")
	assert.Contains(t, req.Prompt, "--ar 16:9")
}

func TestMidjourneyAdapter_SubmitQueuedCodeAccepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":22,"description":"queued","result":"task-9"}`))
	}))
	defer srv.Close()

	taskID, err := mjAdapter(srv.URL).Submit(t.Context(), &Request{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "task-9", taskID)
}

func TestMidjourneyAdapter_SubmitHardFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"non-2xx", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}},
		{"rejected code", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"code":23,"description":"banned word"}`))
		}},
		{"missing task id", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"code":1,"description":"ok"}`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			// Submit is one shot; a hard failure must not be retried.
			_, err := mjAdapter(srv.URL).Submit(t.Context(), &Request{Prompt: "x"})
			require.Error(t, err)
			assert.Equal(t, types.ErrUpstreamError, types.GetErrorCode(err))
		})
	}
}

func TestMidjourneyAdapter_Poll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/mj/task/task-123/fetch", r.URL.Path)
		w.Write([]byte(`{"id":"task-123","status":"SUCCESS","imageUrl":"https://cdn/x.png"}`))
	}))
	defer srv.Close()

	res, err := mjAdapter(srv.URL).Poll(t.Context(), "task-123")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, "https://cdn/x.png", res.Image)
}

func TestMidjourneyAdapter_PollLegacyURIField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"task-123","status":"SUCCESS","uri":"https://cdn/y.png"}`))
	}))
	defer srv.Close()

	res, err := mjAdapter(srv.URL).Poll(t.Context(), "task-123")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, "https://cdn/y.png", res.Image)
}

func TestMidjourneyAdapter_PollNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := mjAdapter(srv.URL).Poll(t.Context(), "ghost")
	require.Error(t, err)
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))
}

func TestMidjourneyAdapter_UpscaleAndVary(t *testing.T) {
	var changes []mjChangeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/mj/submit/change", r.URL.Path)
		var req mjChangeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		changes = append(changes, req)
		w.Write([]byte(`{"code":1,"result":"task-child"}`))
	}))
	defer srv.Close()

	adapter := mjAdapter(srv.URL)

	taskID, err := adapter.Upscale(t.Context(), "task-parent", 2)
	require.NoError(t, err)
	assert.Equal(t, "task-child", taskID)

	taskID, err = adapter.Vary(t.Context(), "task-parent", 4)
	require.NoError(t, err)
	assert.Equal(t, "task-child", taskID)

	require.Len(t, changes, 2)
	assert.Equal(t, mjChangeRequest{Action: "UPSCALE", TaskID: "task-parent", Index: 2}, changes[0])
	assert.Equal(t, mjChangeRequest{Action: "VARIATION", TaskID: "task-parent", Index: 4}, changes[1])
}

func TestMidjourneyAdapter_ChangeValidation(t *testing.T) {
	adapter := mjAdapter("http://unused")

	_, err := adapter.Upscale(t.Context(), "", 1)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))

	for _, idx := range []int{0, 5, -1} {
		_, err := adapter.Vary(t.Context(), "task-1", idx)
		assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err), "index %d", idx)
	}
}
