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
	"github.com/pixelforge/pixelforge/internal/retry"
	"github.com/pixelforge/pixelforge/types"
)

// GeminiAdapter implements the synchronous multimodal engine: text and images
// in, an image or a refusal out, within a single Generate call. The upstream
// endpoint is slow but synchronous, so unlike the queue adapters this one
// retries internally, rotating credentials on every attempt.
type GeminiAdapter struct {
	cfg     config.GeminiConfig
	keys    *KeyPool
	retryer *retry.Retryer
	client  *http.Client
	logger  *zap.Logger
}

// NewGeminiAdapter creates the adapter from configuration.
func NewGeminiAdapter(cfg config.GeminiConfig, logger *zap.Logger) *GeminiAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash-image"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	policy := &retry.Policy{
		MaxRetries: cfg.MaxRetries,
		FixedDelay: cfg.FixedDelay,
		BaseDelay:  cfg.BaseDelay,
		MaxDelay:   cfg.MaxDelay,
		Jitter:     true,
	}

	return &GeminiAdapter{
		cfg:     cfg,
		keys:    NewKeyPool(cfg.APIKeys),
		retryer: retry.New(policy, logger.Named("gemini-retry")),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (a *GeminiAdapter) Name() string { return string(EngineGemini) }

type geminiInline struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiPart struct {
	Text       string        `json:"text,omitempty"`
	InlineData *geminiInline `json:"inlineData,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role,omitempty"`
}

type geminiGenConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
	Seed               int64    `json:"seed,omitempty"`
}

type geminiRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text       string        `json:"text,omitempty"`
				InlineData *geminiInline `json:"inlineData,omitempty"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Generate performs the full bounded attempt loop and returns a terminal
// Result. Attempts beyond the first wait per the retry policy; each attempt
// uses the next credential in rotation.
func (a *GeminiAdapter) Generate(ctx context.Context, req *Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	body, err := a.buildRequest(req)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "encode request").WithCause(err)
	}

	var result *Result
	err = a.retryer.Do(ctx, func(attempt int) error {
		key, keyErr := a.keys.Next()
		if keyErr != nil {
			return types.NewError(types.ErrProviderUnavailable, keyErr.Error()).
				WithProvider(a.Name())
		}
		res, attemptErr := a.doAttempt(ctx, payload, key)
		if attemptErr != nil {
			a.logger.Warn("generation attempt failed",
				zap.Int("attempt", attempt),
				zap.Error(attemptErr))
			return attemptErr
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// buildRequest assembles the multimodal content parts: the instruction text,
// the edit-source image when present, then any reference images. Data URIs
// are split into mime type and raw base64 payload before forwarding.
func (a *GeminiAdapter) buildRequest(req *Request) (*geminiRequest, error) {
	var parts []geminiPart

	if req.EditImage != "" {
		mime, data, err := splitDataURI(req.EditImage)
		if err != nil {
			return nil, err
		}
		parts = append(parts, geminiPart{InlineData: &geminiInline{MimeType: mime, Data: data}})
	}
	for _, ref := range req.ReferenceImages {
		mime, data, err := splitDataURI(ref)
		if err != nil {
			return nil, err
		}
		parts = append(parts, geminiPart{InlineData: &geminiInline{MimeType: mime, Data: data}})
	}
	parts = append(parts, geminiPart{Text: a.composePrompt(req)})

	genCfg := &geminiGenConfig{ResponseModalities: []string{"IMAGE"}}
	if req.FixedSeed {
		genCfg.Seed = FixedSeed(req.Text(), req.Style)
	}

	return &geminiRequest{
		Contents:         []geminiContent{{Parts: parts, Role: "user"}},
		GenerationConfig: genCfg,
	}, nil
}

func (a *GeminiAdapter) composePrompt(req *Request) string {
	text := req.Text()
	if req.Style != "" {
		text = text + ", style: " + req.Style
	}
	w, h := req.ResolveSize()
	return fmt.Sprintf("%s (output size %dx%d)", text, w, h)
}

// doAttempt issues one HTTP call with the given credential and parses the
// response into a terminal Result.
func (a *GeminiAdapter) doAttempt(ctx context.Context, payload []byte, key string) (*Result, error) {
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		strings.TrimRight(a.cfg.BaseURL, "/"), a.cfg.Model, key)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "create request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, types.NewError(types.ErrProviderUnavailable, "gemini request failed").
			WithCause(err).WithProvider(a.Name()).WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(resp.Body)
		return nil, classifyStatus(resp.StatusCode, string(errBody), a.Name())
	}

	var gResp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&gResp); err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "decode gemini response").
			WithCause(err).WithProvider(a.Name()).WithRetryable(true)
	}

	return a.parseResponse(&gResp)
}

// parseResponse extracts the image from the candidate parts. Inline data
// becomes a data URI; text that looks like a URL becomes a URL result; any
// other text is a refusal and surfaces as an error carrying that text.
func (a *GeminiAdapter) parseResponse(gResp *geminiResponse) (*Result, error) {
	var refusal string
	for _, candidate := range gResp.Candidates {
		for _, part := range candidate.Content.Parts {
			if part.InlineData != nil && part.InlineData.Data != "" {
				mime := part.InlineData.MimeType
				if mime == "" {
					mime = "image/png"
				}
				image := fmt.Sprintf("data:%s;base64,%s", mime, part.InlineData.Data)
				return completedResult(image), nil
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if strings.HasPrefix(text, "http://") || strings.HasPrefix(text, "https://") {
				return completedResult(text), nil
			}
			refusal = text
		}
	}

	if refusal != "" {
		return nil, types.NewError(types.ErrProviderRefused, refusal).
			WithProvider(a.Name()).WithRetryable(true)
	}
	return nil, types.NewError(types.ErrUpstreamError, "gemini returned no image").
		WithProvider(a.Name()).WithRetryable(true)
}

// classifyStatus maps an upstream HTTP failure to an error whose code drives
// the retry delay: rate limiting and overload back off exponentially, other
// failures retry after the fixed delay.
func classifyStatus(status int, body, provider string) error {
	msg := fmt.Sprintf("provider error: status=%d body=%s", status, truncate(body, 512))
	lower := strings.ToLower(body)

	switch {
	case status == http.StatusTooManyRequests,
		strings.Contains(lower, "rate limit"),
		strings.Contains(lower, "resource_exhausted"),
		strings.Contains(lower, "quota"):
		return types.NewError(types.ErrRateLimited, msg).
			WithProvider(provider).WithRetryable(true)
	case status == http.StatusServiceUnavailable,
		strings.Contains(lower, "overload"),
		strings.Contains(lower, "unavailable"):
		return types.NewError(types.ErrProviderOverloaded, msg).
			WithProvider(provider).WithRetryable(true)
	default:
		return types.NewError(types.ErrUpstreamError, msg).
			WithProvider(provider).WithRetryable(true).WithHTTPStatus(http.StatusBadGateway)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
