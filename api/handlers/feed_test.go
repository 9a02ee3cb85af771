package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelforge/pixelforge/imagegen"
)

func TestFeedHandler_SnapshotAndEvents(t *testing.T) {
	env := newTestEnv(t)
	feed := NewFeedHandler(env.handler.queue, nil, nil)

	srv := httptest.NewServer(http.HandlerFunc(feed.HandleFeed))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):], nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var snapshot feedMessage
	require.NoError(t, wsjson.Read(ctx, conn, &snapshot))
	assert.Equal(t, "snapshot", snapshot.Type)
	assert.Empty(t, snapshot.Items)

	_, err = env.handler.queue.Enqueue(context.Background(), &imagegen.Request{
		Prompt: "a lighthouse",
		Batch:  1,
	})
	require.NoError(t, err)

	// Terminal event arrives once a worker finishes the item.
	deadline := time.Now().Add(5 * time.Second)
	for {
		var msg feedMessage
		require.NoError(t, wsjson.Read(ctx, conn, &msg))
		if msg.Type == "event" && msg.Event != nil && msg.Event.State.Terminal() {
			assert.Equal(t, imagegen.StateCompleted, msg.Event.State)
			assert.NotEmpty(t, msg.Event.Image)
			return
		}
		require.True(t, time.Now().Before(deadline), "no terminal event before deadline")
	}
}

func TestFeedHandler_RejectsCrossOrigin(t *testing.T) {
	env := newTestEnv(t)
	feed := NewFeedHandler(env.handler.queue, nil, nil)

	srv := httptest.NewServer(http.HandlerFunc(feed.HandleFeed))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	header := http.Header{}
	header.Set("Origin", "http://attacker.example")
	conn, resp, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):], &websocket.DialOptions{
		HTTPHeader: header,
	})
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "")
	}
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestFeedHandler_AllowsConfiguredOrigin(t *testing.T) {
	env := newTestEnv(t)
	feed := NewFeedHandler(env.handler.queue, []string{"http://studio.example"}, nil)

	srv := httptest.NewServer(http.HandlerFunc(feed.HandleFeed))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	header := http.Header{}
	header.Set("Origin", "http://studio.example")
	conn, _, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):], &websocket.DialOptions{
		HTTPHeader: header,
	})
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var snapshot feedMessage
	require.NoError(t, wsjson.Read(ctx, conn, &snapshot))
	assert.Equal(t, "snapshot", snapshot.Type)
}

func TestOriginPatterns(t *testing.T) {
	patterns := originPatterns([]string{"http://localhost:3000", "https://studio.example", ""})
	assert.Equal(t, []string{"localhost:3000", "studio.example"}, patterns)
}
