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

// FluxAdapter implements the generic job-queue engine against the Black
// Forest Labs API: one create call returning a job id, one get_result call
// per poll. No internal waiting on either side.
type FluxAdapter struct {
	cfg    config.FluxConfig
	client *http.Client
	logger *zap.Logger
}

// NewFluxAdapter creates the adapter from configuration.
func NewFluxAdapter(cfg config.FluxConfig, logger *zap.Logger) *FluxAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.bfl.ai"
	}
	if cfg.Model == "" {
		cfg.Model = "flux-pro-1.1"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FluxAdapter{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (a *FluxAdapter) Name() string { return string(EngineFlux) }

type fluxSubmitRequest struct {
	Prompt       string `json:"prompt"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	Seed         int64  `json:"seed,omitempty"`
	OutputFormat string `json:"output_format,omitempty"`
	ImagePrompt  string `json:"image_prompt,omitempty"` // base64, no data URI prefix
}

type fluxSubmitResponse struct {
	ID         string `json:"id"`
	PollingURL string `json:"polling_url"`
}

// fluxResult is the get_result payload. The signed URL normally arrives as
// result.sample; some deployments use result.url.
type fluxResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error"`
	Result struct {
		Sample string `json:"sample"`
		URL    string `json:"url"`
	} `json:"result"`
}

// Submit issues one create call and returns the job id.
func (a *FluxAdapter) Submit(ctx context.Context, req *Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	w, h := req.ResolveSize()
	body := fluxSubmitRequest{
		Prompt:       req.Text(),
		Width:        w,
		Height:       h,
		OutputFormat: req.OutputFormat,
	}
	if body.OutputFormat == "" {
		body.OutputFormat = "jpeg"
	}
	if req.FixedSeed {
		body.Seed = FixedSeed(req.Text(), req.Style)
	}
	if req.EditImage != "" {
		_, data, err := splitDataURI(req.EditImage)
		if err != nil {
			return "", err
		}
		body.ImagePrompt = data
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", types.NewError(types.ErrInternalError, "encode request").WithCause(err)
	}

	url := fmt.Sprintf("%s/v1/%s", strings.TrimRight(a.cfg.BaseURL, "/"), a.cfg.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", types.NewError(types.ErrInternalError, "create request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-key", a.cfg.APIKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return "", types.NewError(types.ErrProviderUnavailable, "flux submit failed").
			WithCause(err).WithProvider(a.Name())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(resp.Body)
		return "", types.NewError(types.ErrUpstreamError,
			fmt.Sprintf("flux submit: status=%d body=%s", resp.StatusCode, truncate(string(errBody), 512))).
			WithProvider(a.Name()).WithHTTPStatus(http.StatusBadGateway)
	}

	var sResp fluxSubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sResp); err != nil {
		return "", types.NewError(types.ErrUpstreamError, "decode flux submit response").
			WithCause(err).WithProvider(a.Name())
	}
	if sResp.ID == "" {
		return "", types.NewError(types.ErrUpstreamError, "flux submit response missing job id").
			WithProvider(a.Name()).WithHTTPStatus(http.StatusBadGateway)
	}

	a.logger.Debug("flux job submitted", zap.String("task_id", sResp.ID))
	return sResp.ID, nil
}

// Poll fetches the job status once and normalizes it.
func (a *FluxAdapter) Poll(ctx context.Context, taskID string) (*Result, error) {
	if taskID == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "task id is required")
	}

	url := fmt.Sprintf("%s/v1/get_result?id=%s", strings.TrimRight(a.cfg.BaseURL, "/"), taskID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "create request").WithCause(err)
	}
	httpReq.Header.Set("x-key", a.cfg.APIKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, types.NewError(types.ErrProviderUnavailable, "flux poll failed").
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
			fmt.Sprintf("flux poll: status=%d body=%s", resp.StatusCode, truncate(string(errBody), 512))).
			WithProvider(a.Name()).WithHTTPStatus(http.StatusBadGateway)
	}

	var fRes fluxResult
	if err := json.NewDecoder(resp.Body).Decode(&fRes); err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "decode flux result").
			WithCause(err).WithProvider(a.Name())
	}

	return normalizeFluxResult(&fRes), nil
}
