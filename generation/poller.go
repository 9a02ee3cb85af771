package generation

import (
	"context"

	"go.uber.org/zap"

	"github.com/pixelforge/pixelforge/imagegen"
	"github.com/pixelforge/pixelforge/internal/cache"
	"github.com/pixelforge/pixelforge/internal/metrics"
	"github.com/pixelforge/pixelforge/store"
	"github.com/pixelforge/pixelforge/types"
)

// Poller reconciles pending asynchronous tasks: each CheckStatus call polls
// the owning engine once, applies a terminal result to the persisted record,
// and debits the credit on the first pending-to-completed transition.
type Poller struct {
	engines Engines
	store   *store.Store
	cache   *cache.TaskCache
	logger  *zap.Logger
}

// NewPoller wires the poller. cache may be nil.
func NewPoller(engines Engines, st *store.Store, taskCache *cache.TaskCache, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		engines: engines,
		store:   st,
		cache:   taskCache,
		logger:  logger,
	}
}

// CheckStatus polls a task handle once and returns the normalized result.
// Terminal results are memoized, so repeat checks of a finished task return
// identically without another provider call. The record update is a
// conditional single-statement transition, so concurrent checks are
// idempotent and a terminal status never reverts.
func (p *Poller) CheckStatus(ctx context.Context, taskID string) (*imagegen.Result, error) {
	if taskID == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "task id is required")
	}

	if cached := p.cache.Get(ctx, taskID); cached != nil {
		return cached, nil
	}

	rec, err := p.store.RecordByTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	adapter, err := p.adapterFor(rec.Engine)
	if err != nil {
		return nil, err
	}

	result, err := adapter.Poll(ctx, taskID)
	if err != nil {
		return nil, err
	}

	switch result.State {
	case imagegen.StateCompleted:
		transitioned, err := p.store.CompleteTask(ctx, taskID, result.Image)
		if err != nil {
			return nil, err
		}
		if transitioned {
			// First completion confirms the generation; debit exactly once.
			if _, err := p.store.DebitOne(ctx, rec.UserID); err != nil {
				p.logger.Error("debit after completion failed",
					zap.String("task_id", taskID),
					zap.Error(err))
			} else {
				metrics.CreditSpent()
			}
			metrics.ObserveGeneration(string(rec.Engine), "completed", 0)
			p.logger.Info("task completed",
				zap.String("task_id", taskID),
				zap.String("engine", string(rec.Engine)))
		}
		p.cache.Put(ctx, taskID, result)
	case imagegen.StateFailed:
		transitioned, err := p.store.FailTask(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if transitioned {
			metrics.ObserveGeneration(string(rec.Engine), "failed", 0)
			p.logger.Info("task failed",
				zap.String("task_id", taskID),
				zap.String("reason", result.FailReason))
		}
		p.cache.Put(ctx, taskID, result)
	}

	return result, nil
}

func (p *Poller) adapterFor(engine imagegen.Engine) (imagegen.Submitter, error) {
	switch engine {
	case imagegen.EngineMidjourney:
		return p.engines.Midjourney, nil
	case imagegen.EngineFlux:
		return p.engines.Flux, nil
	default:
		return nil, types.NewError(types.ErrInvalidRequest,
			"task does not belong to a pollable engine")
	}
}
