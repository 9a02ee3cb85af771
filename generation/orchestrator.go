// Package generation coordinates the provider adapters, the credit ledger and
// the history store: dispatch by engine, pending-task reconciliation, and the
// concurrency-limited submission queue.
package generation

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pixelforge/pixelforge/imagegen"
	"github.com/pixelforge/pixelforge/internal/metrics"
	"github.com/pixelforge/pixelforge/store"
	"github.com/pixelforge/pixelforge/types"
)

// CreativeQueue is the creative-queue engine surface: submit/poll plus the
// two secondary actions that spawn new tasks from a finished one.
type CreativeQueue interface {
	imagegen.Submitter
	Upscale(ctx context.Context, taskID string, index int) (string, error)
	Vary(ctx context.Context, taskID string, index int) (string, error)
}

// Engines bundles one adapter per engine. The set is closed; dispatch is an
// exhaustive switch.
type Engines struct {
	Gemini     imagegen.Generator
	Midjourney CreativeQueue
	Flux       imagegen.Submitter
}

// UserResolver yields the user an operation runs as.
type UserResolver interface {
	CurrentUserID(ctx context.Context) uint
}

// Outcome is what a generate call returns: a terminal result for the
// synchronous engine, a pollable task id for the asynchronous ones, and the
// credit balance after the call.
type Outcome struct {
	Result           *imagegen.Result `json:"result,omitempty"`
	TaskID           string           `json:"task_id,omitempty"`
	RecordID         uint             `json:"record_id,omitempty"`
	CreditsRemaining int              `json:"credits_remaining"`
}

// Orchestrator runs one generation request end to end: credit gate, engine
// dispatch, persistence, debit.
type Orchestrator struct {
	engines Engines
	store   *store.Store
	users   UserResolver
	logger  *zap.Logger
}

// NewOrchestrator wires the orchestrator.
func NewOrchestrator(engines Engines, st *store.Store, users UserResolver, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		engines: engines,
		store:   st,
		users:   users,
		logger:  logger,
	}
}

// gate refuses the request before any provider call when the balance is
// exhausted, and returns the current balance otherwise.
func (o *Orchestrator) gate(ctx context.Context, userID uint) (int, error) {
	balance, err := o.store.Balance(ctx, userID)
	if err != nil {
		return 0, err
	}
	if balance <= 0 {
		return 0, types.NewError(types.ErrQuotaExceeded, "no credits remaining").
			WithHTTPStatus(http.StatusForbidden)
	}
	return balance, nil
}

// HandleGenerate validates, gates on credit, dispatches to the requested
// engine and persists the attempt. The synchronous engine completes in this
// call; asynchronous engines return a task id with a pending record persisted.
// Credit is debited only on confirmed terminal success, so for asynchronous
// engines the debit happens later, in the poller.
func (o *Orchestrator) HandleGenerate(ctx context.Context, req *imagegen.Request) (*Outcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	userID := o.users.CurrentUserID(ctx)
	balance, err := o.gate(ctx, userID)
	if err != nil {
		return nil, err
	}

	engine := req.Engine
	if engine == "" {
		engine = imagegen.DefaultEngine
	}

	switch engine {
	case imagegen.EngineGemini:
		return o.generateSync(ctx, userID, req, balance)
	case imagegen.EngineMidjourney:
		return o.submitAsync(ctx, userID, req, engine, o.engines.Midjourney, balance)
	case imagegen.EngineFlux:
		return o.submitAsync(ctx, userID, req, engine, o.engines.Flux, balance)
	default:
		return nil, types.NewError(types.ErrInvalidRequest, fmt.Sprintf("unknown engine: %s", engine))
	}
}

// generateSync runs the synchronous engine to completion, persists a terminal
// record and debits on success.
func (o *Orchestrator) generateSync(ctx context.Context, userID uint, req *imagegen.Request, balance int) (*Outcome, error) {
	start := time.Now()
	result, err := o.engines.Gemini.Generate(ctx, req)
	if err != nil {
		metrics.ObserveGeneration(string(imagegen.EngineGemini), "failed", time.Since(start))
		o.persistTerminal(ctx, userID, req, imagegen.EngineGemini, &imagegen.Result{
			State:      imagegen.StateFailed,
			FailReason: err.Error(),
		})
		return nil, err
	}
	metrics.ObserveGeneration(string(imagegen.EngineGemini), string(result.State), time.Since(start))

	rec := o.persistTerminal(ctx, userID, req, imagegen.EngineGemini, result)

	if result.State == imagegen.StateCompleted {
		balance, err = o.store.DebitOne(ctx, userID)
		if err != nil {
			return nil, err
		}
		metrics.CreditSpent()
	}

	outcome := &Outcome{Result: result, CreditsRemaining: balance}
	if rec != nil {
		outcome.RecordID = rec.ID
	}
	return outcome, nil
}

// submitAsync issues one submit call and persists a pending record carrying
// the task handle suffixed with its owning engine.
func (o *Orchestrator) submitAsync(ctx context.Context, userID uint, req *imagegen.Request, engine imagegen.Engine, adapter imagegen.Submitter, balance int) (*Outcome, error) {
	taskID, err := adapter.Submit(ctx, req)
	if err != nil {
		metrics.ObserveGeneration(string(engine), "submit_failed", 0)
		return nil, err
	}
	metrics.ObserveGeneration(string(engine), "submitted", 0)

	rec := &store.GenerationRecord{
		UserID:  userID,
		Prompt:  req.Text(),
		Style:   req.Style,
		Size:    req.SizeString(),
		Quality: req.Quality,
		Status:  imagegen.StatePending,
		TaskID:  taskID,
		Engine:  engine,
	}
	if err := o.store.CreateRecord(ctx, rec); err != nil {
		return nil, err
	}

	o.logger.Info("async task submitted",
		zap.String("engine", string(engine)),
		zap.String("task_id", taskID),
		zap.Uint("user_id", userID))

	return &Outcome{
		TaskID:           taskID,
		RecordID:         rec.ID,
		CreditsRemaining: balance,
	}, nil
}

// persistTerminal stores a completed or failed record for a synchronous
// attempt. Persistence failures are logged, not surfaced: the generation
// itself already settled.
func (o *Orchestrator) persistTerminal(ctx context.Context, userID uint, req *imagegen.Request, engine imagegen.Engine, result *imagegen.Result) *store.GenerationRecord {
	rec := &store.GenerationRecord{
		UserID:  userID,
		Prompt:  req.Text(),
		Style:   req.Style,
		Size:    req.SizeString(),
		Quality: req.Quality,
		Image:   result.Image,
		Status:  result.State,
		Engine:  engine,
	}
	if err := o.store.CreateRecord(ctx, rec); err != nil {
		o.logger.Error("failed to persist generation record", zap.Error(err))
		return nil
	}
	return rec
}

// Action names for HandleAction.
const (
	ActionUpscale = "upscale"
	ActionVary    = "vary"
)

// HandleAction runs a creative-queue secondary action: a structurally
// independent submit taking an existing task handle and a 1-based index,
// yielding a brand-new pending task. When the originating record is supplied
// its prompt is carried over with an action annotation.
func (o *Orchestrator) HandleAction(ctx context.Context, action, taskID string, index int, generationID uint) (*Outcome, error) {
	userID := o.users.CurrentUserID(ctx)
	balance, err := o.gate(ctx, userID)
	if err != nil {
		return nil, err
	}

	var newTaskID string
	var annotation string
	switch action {
	case ActionUpscale:
		newTaskID, err = o.engines.Midjourney.Upscale(ctx, taskID, index)
		annotation = fmt.Sprintf("(Upscale %d)", index)
	case ActionVary:
		newTaskID, err = o.engines.Midjourney.Vary(ctx, taskID, index)
		annotation = fmt.Sprintf("(Vary %d)", index)
	default:
		return nil, types.NewError(types.ErrInvalidRequest, fmt.Sprintf("unknown action: %s", action))
	}
	if err != nil {
		return nil, err
	}

	prompt := annotation
	var style, size, quality string
	if generationID != 0 {
		if orig := o.recordByID(ctx, userID, generationID); orig != nil {
			prompt = orig.Prompt + " " + annotation
			style, size, quality = orig.Style, orig.Size, orig.Quality
		}
	}

	rec := &store.GenerationRecord{
		UserID:  userID,
		Prompt:  prompt,
		Style:   style,
		Size:    size,
		Quality: quality,
		Status:  imagegen.StatePending,
		TaskID:  newTaskID,
		Engine:  imagegen.EngineMidjourney,
	}
	if err := o.store.CreateRecord(ctx, rec); err != nil {
		return nil, err
	}

	return &Outcome{
		TaskID:           newTaskID,
		RecordID:         rec.ID,
		CreditsRemaining: balance,
	}, nil
}

func (o *Orchestrator) recordByID(ctx context.Context, userID, id uint) *store.GenerationRecord {
	rec, err := o.store.RecordByID(ctx, userID, id)
	if err != nil {
		return nil
	}
	return rec
}
