package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/pixelforge/pixelforge/generation"
)

const feedWriteTimeout = 10 * time.Second

// FeedHandler streams submission-queue events over a websocket.
type FeedHandler struct {
	queue   *generation.SubmissionQueue
	origins []string
	logger  *zap.Logger
}

// NewFeedHandler creates the handler. allowedOrigins takes the same values
// as the CORS allow-list; an empty list restricts the feed to same-origin
// browsers.
func NewFeedHandler(queue *generation.SubmissionQueue, allowedOrigins []string, logger *zap.Logger) *FeedHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeedHandler{queue: queue, origins: originPatterns(allowedOrigins), logger: logger}
}

// originPatterns converts CORS origins (scheme://host[:port]) into the
// host-only patterns the websocket accept check matches against.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, origin := range origins {
		host := origin
		host = strings.TrimPrefix(host, "https://")
		host = strings.TrimPrefix(host, "http://")
		if host == "" {
			continue
		}
		patterns = append(patterns, host)
	}
	return patterns
}

// feedMessage is one frame on the feed.
type feedMessage struct {
	Type  string            `json:"type"`
	Items []generation.Item `json:"items,omitempty"`
	Event *generation.Event `json:"event,omitempty"`
}

// HandleFeed upgrades the connection and pushes a snapshot followed by live
// item events until the client disconnects.
func (h *FeedHandler) HandleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()

	events, unsubscribe := h.queue.Subscribe()
	defer unsubscribe()

	snapshot := feedMessage{Type: "snapshot", Items: h.queue.Items()}
	if err := h.write(ctx, conn, snapshot); err != nil {
		return
	}

	// Drain client frames so pings and close frames are processed.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-readDone:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			msg := feedMessage{Type: "event", Event: &ev}
			if err := h.write(ctx, conn, msg); err != nil {
				return
			}
		}
	}
}

func (h *FeedHandler) write(ctx context.Context, conn *websocket.Conn, msg feedMessage) error {
	wctx, cancel := context.WithTimeout(ctx, feedWriteTimeout)
	defer cancel()
	if err := wsjson.Write(wctx, conn, msg); err != nil {
		h.logger.Debug("feed write failed", zap.Error(err))
		return err
	}
	return nil
}
