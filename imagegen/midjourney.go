package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pixelforge/pixelforge/config"
	"github.com/pixelforge/pixelforge/types"
)

// MidjourneyAdapter implements the creative-queue engine against a
// midjourney-proxy style API: submit returns a task id, a separate fetch call
// reports progress, and upscale/vary spawn brand-new tasks from an existing
// one. Submit is never retried here; a failed submit is a hard failure.
type MidjourneyAdapter struct {
	cfg    config.MidjourneyConfig
	client *http.Client
	logger *zap.Logger
}

// NewMidjourneyAdapter creates the adapter from configuration.
func NewMidjourneyAdapter(cfg config.MidjourneyConfig, logger *zap.Logger) *MidjourneyAdapter {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MidjourneyAdapter{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (a *MidjourneyAdapter) Name() string { return string(EngineMidjourney) }

// mjSubmitResponse is the proxy's submit envelope. Code 1 means submitted;
// 21 and 22 mean the task already exists or was queued, which still carries
// a usable task id.
type mjSubmitResponse struct {
	Code        int    `json:"code"`
	Description string `json:"description"`
	Result      string `json:"result"`
}

// mjTask is the fetch payload. The result URL appears as imageUrl on current
// deployments and as uri on older ones.
type mjTask struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	Progress       string `json:"progress"`
	ImageURL       string `json:"imageUrl"`
	ImageURLLegacy string `json:"uri"`
	FailReason     string `json:"failReason"`
}

type mjImagineRequest struct {
	Prompt      string   `json:"prompt"`
	Base64Array []string `json:"base64Array,omitempty"`
}

type mjChangeRequest struct {
	Action string `json:"action"`
	TaskID string `json:"taskId"`
	Index  int    `json:"index"`
}

// Submit issues one imagine call and returns the new task id.
func (a *MidjourneyAdapter) Submit(ctx context.Context, req *Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	prompt := req.Text()
	if req.Style != "" {
		prompt = prompt + ", " + req.Style
	}
	if ar := req.AspectRatio; ar != "" && ar != "1:1" {
		prompt = prompt + " --ar " + ar
	}

	body := mjImagineRequest{Prompt: prompt}
	for _, ref := range req.ReferenceImages {
		body.Base64Array = append(body.Base64Array, ref)
	}

	return a.submit(ctx, "/mj/submit/imagine", body)
}

// Upscale spawns a new task upscaling one image of a finished four-grid task.
// index is 1-based, 1 through 4.
func (a *MidjourneyAdapter) Upscale(ctx context.Context, taskID string, index int) (string, error) {
	return a.change(ctx, "UPSCALE", taskID, index)
}

// Vary spawns a new task producing a variation of one image of a finished
// task. index is 1-based, 1 through 4.
func (a *MidjourneyAdapter) Vary(ctx context.Context, taskID string, index int) (string, error) {
	return a.change(ctx, "VARIATION", taskID, index)
}

func (a *MidjourneyAdapter) change(ctx context.Context, action, taskID string, index int) (string, error) {
	if taskID == "" {
		return "", types.NewError(types.ErrInvalidRequest, "task id is required")
	}
	if index < 1 || index > 4 {
		return "", types.NewError(types.ErrInvalidRequest, fmt.Sprintf("index must be 1-4, got %d", index))
	}
	return a.submit(ctx, "/mj/submit/change", mjChangeRequest{
		Action: action,
		TaskID: taskID,
		Index:  index,
	})
}

// submit posts one create-task call and extracts the task id from the
// envelope. Non-2xx status or a missing task id is a hard failure.
func (a *MidjourneyAdapter) submit(ctx context.Context, path string, body any) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", types.NewError(types.ErrInternalError, "encode request").WithCause(err)
	}

	url := strings.TrimRight(a.cfg.BaseURL, "/") + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", types.NewError(types.ErrInternalError, "create request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.cfg.APIKey != "" {
		httpReq.Header.Set("mj-api-secret", a.cfg.APIKey)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return "", types.NewError(types.ErrProviderUnavailable, "midjourney submit failed").
			WithCause(err).WithProvider(a.Name())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(resp.Body)
		return "", types.NewError(types.ErrUpstreamError,
			fmt.Sprintf("midjourney submit: status=%d body=%s", resp.StatusCode, truncate(string(errBody), 512))).
			WithProvider(a.Name()).WithHTTPStatus(http.StatusBadGateway)
	}

	var sResp mjSubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sResp); err != nil {
		return "", types.NewError(types.ErrUpstreamError, "decode midjourney submit response").
			WithCause(err).WithProvider(a.Name())
	}

	switch sResp.Code {
	case 1, 21, 22:
	default:
		return "", types.NewError(types.ErrUpstreamError,
			fmt.Sprintf("midjourney submit rejected: code=%d description=%s", sResp.Code, sResp.Description)).
			WithProvider(a.Name()).WithHTTPStatus(http.StatusBadGateway)
	}
	if sResp.Result == "" {
		return "", types.NewError(types.ErrUpstreamError, "midjourney submit response missing task id").
			WithProvider(a.Name()).WithHTTPStatus(http.StatusBadGateway)
	}

	a.logger.Debug("midjourney task submitted", zap.String("task_id", sResp.Result))
	return sResp.Result, nil
}

// Poll fetches the task record once and normalizes it. The polling cadence
// belongs to the caller; Poll never waits.
func (a *MidjourneyAdapter) Poll(ctx context.Context, taskID string) (*Result, error) {
	if taskID == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "task id is required")
	}

	url := fmt.Sprintf("%s/mj/task/%s/fetch", strings.TrimRight(a.cfg.BaseURL, "/"), taskID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "create request").WithCause(err)
	}
	if a.cfg.APIKey != "" {
		httpReq.Header.Set("mj-api-secret", a.cfg.APIKey)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, types.NewError(types.ErrProviderUnavailable, "midjourney poll failed").
			WithCause(err).WithProvider(a.Name())
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, types.NewError(types.ErrNotFound, "task not found: "+taskID).
			WithProvider(a.Name())
	}
	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(resp.Body)
		return nil, types.NewError(types.ErrUpstreamError,
			fmt.Sprintf("midjourney poll: status=%d body=%s", resp.StatusCode, truncate(string(errBody), 512))).
			WithProvider(a.Name()).WithHTTPStatus(http.StatusBadGateway)
	}

	var task mjTask
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "decode midjourney task").
			WithCause(err).WithProvider(a.Name())
	}

	return normalizeMidjourneyTask(&task), nil
}
