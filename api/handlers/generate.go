package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/pixelforge/pixelforge/generation"
	"github.com/pixelforge/pixelforge/imagegen"
	"github.com/pixelforge/pixelforge/types"
)

// GenerateHandler serves the generation routes.
type GenerateHandler struct {
	orch   *generation.Orchestrator
	queue  *generation.SubmissionQueue
	poller *generation.Poller
	logger *zap.Logger
}

// NewGenerateHandler creates the handler.
func NewGenerateHandler(orch *generation.Orchestrator, queue *generation.SubmissionQueue, poller *generation.Poller, logger *zap.Logger) *GenerateHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GenerateHandler{orch: orch, queue: queue, poller: poller, logger: logger}
}

// GenerateRequest is the request body for the generate routes.
type GenerateRequest struct {
	Prompt          string   `json:"prompt,omitempty"`
	EditInstruction string   `json:"editInstruction,omitempty"`
	EditImage       string   `json:"editImage,omitempty"`
	ReferenceImages []string `json:"referenceImages,omitempty"`
	Width           int      `json:"width,omitempty"`
	Height          int      `json:"height,omitempty"`
	AspectRatio     string   `json:"aspectRatio,omitempty"`
	Quality         string   `json:"quality,omitempty"`
	Style           string   `json:"style,omitempty"`
	OutputFormat    string   `json:"outputFormat,omitempty"`
	Engine          string   `json:"engine,omitempty"`
	FixedSeed       bool     `json:"fixedSeed,omitempty"`
	Batch           int      `json:"batch,omitempty"`
}

func (g *GenerateRequest) toRequest() (*imagegen.Request, error) {
	engine, err := imagegen.ParseEngine(g.Engine)
	if err != nil {
		return nil, err
	}
	return &imagegen.Request{
		Prompt:          g.Prompt,
		EditInstruction: g.EditInstruction,
		EditImage:       g.EditImage,
		ReferenceImages: g.ReferenceImages,
		Width:           g.Width,
		Height:          g.Height,
		AspectRatio:     g.AspectRatio,
		Quality:         g.Quality,
		Style:           g.Style,
		OutputFormat:    g.OutputFormat,
		Engine:          engine,
		FixedSeed:       g.FixedSeed,
		Batch:           g.Batch,
	}, nil
}

// EnqueuedResponse is returned when a request expands into queue items.
type EnqueuedResponse struct {
	ItemIDs []string `json:"item_ids"`
}

// HandleGenerate runs one generation. A batch count above one expands into
// independent submission-queue items instead of completing inline.
func (h *GenerateHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	var body GenerateRequest
	if err := DecodeJSONBody(w, r, &body, h.logger); err != nil {
		return
	}
	req, err := body.toRequest()
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	if req.Batch > 1 {
		ids, err := h.queue.Enqueue(r.Context(), req)
		if err != nil {
			WriteError(w, err, h.logger)
			return
		}
		WriteSuccess(w, EnqueuedResponse{ItemIDs: ids})
		return
	}

	outcome, err := h.orch.HandleGenerate(r.Context(), req)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, outcome)
}

// HandleQueueGenerate submits to the generic job-queue engine regardless of
// the engine field in the body.
func (h *GenerateHandler) HandleQueueGenerate(w http.ResponseWriter, r *http.Request) {
	var body GenerateRequest
	if err := DecodeJSONBody(w, r, &body, h.logger); err != nil {
		return
	}
	req, err := body.toRequest()
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	req.Engine = imagegen.EngineFlux

	outcome, err := h.orch.HandleGenerate(r.Context(), req)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, outcome)
}

// ActionRequest is the body for the secondary creative-queue actions.
type ActionRequest struct {
	Action       string `json:"action"`
	TaskID       string `json:"taskId"`
	Index        int    `json:"index"`
	GenerationID uint   `json:"generationId,omitempty"`
}

// HandleAction runs an upscale or vary against an existing task.
func (h *GenerateHandler) HandleAction(w http.ResponseWriter, r *http.Request) {
	var body ActionRequest
	if err := DecodeJSONBody(w, r, &body, h.logger); err != nil {
		return
	}
	if body.TaskID == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "taskId is required"), h.logger)
		return
	}

	outcome, err := h.orch.HandleAction(r.Context(), body.Action, body.TaskID, body.Index, body.GenerationID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, outcome)
}

// StatusResponse is the poll response for one task.
type StatusResponse struct {
	Status     imagegen.State `json:"status"`
	Image      string         `json:"image,omitempty"`
	FailReason string         `json:"failReason,omitempty"`
}

// HandleStatus polls one task handle.
func (h *GenerateHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("taskId")
	if taskID == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "taskId is required"), h.logger)
		return
	}

	result, err := h.poller.CheckStatus(r.Context(), taskID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, StatusResponse{
		Status:     result.State,
		Image:      result.Image,
		FailReason: result.FailReason,
	})
}
