package generation

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/pixelforge/pixelforge/imagegen"
	"github.com/pixelforge/pixelforge/store"
	"github.com/pixelforge/pixelforge/types"
)

// fixedUser resolves every operation to one user id.
type fixedUser uint

func (u fixedUser) CurrentUserID(ctx context.Context) uint {
	if id, ok := types.UserID(ctx); ok {
		return id
	}
	return uint(u)
}

type fakeGenerator struct {
	result *imagegen.Result
	err    error
	calls  atomic.Int32
}

func (f *fakeGenerator) Generate(ctx context.Context, req *imagegen.Request) (*imagegen.Result, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeSubmitter struct {
	taskID    string
	submitErr error
	results   []*imagegen.Result
	pollErr   error
	submits   atomic.Int32
	polls     atomic.Int32
}

func (f *fakeSubmitter) Submit(ctx context.Context, req *imagegen.Request) (string, error) {
	f.submits.Add(1)
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return f.taskID, nil
}

func (f *fakeSubmitter) Poll(ctx context.Context, taskID string) (*imagegen.Result, error) {
	n := int(f.polls.Add(1))
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	if n > len(f.results) {
		n = len(f.results)
	}
	return f.results[n-1], nil
}

type fakeCreative struct {
	fakeSubmitter
	changeID  string
	changeErr error
	actions   []string
}

func (f *fakeCreative) Upscale(ctx context.Context, taskID string, index int) (string, error) {
	f.actions = append(f.actions, "upscale")
	return f.changeID, f.changeErr
}

func (f *fakeCreative) Vary(ctx context.Context, taskID string, index int) (string, error) {
	f.actions = append(f.actions, "vary")
	return f.changeID, f.changeErr
}

func testDB(t *testing.T) *store.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	st := store.New(db, store.Options{InitialBalance: 5})
	require.NoError(t, st.AutoMigrate())
	return st
}

func TestOrchestrator_CreditGateRefusesWithoutProviderCall(t *testing.T) {
	st := testDB(t)
	ctx := t.Context()

	// Drain the balance to zero.
	_, err := st.Balance(ctx, 1)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err = st.DebitOne(ctx, 1)
		require.NoError(t, err)
	}

	gen := &fakeGenerator{result: &imagegen.Result{State: imagegen.StateCompleted, Image: "x"}}
	orch := NewOrchestrator(Engines{Gemini: gen}, st, fixedUser(1), nil)

	_, err = orch.HandleGenerate(ctx, &imagegen.Request{Prompt: "a cat"})
	require.Error(t, err)
	assert.Equal(t, types.ErrQuotaExceeded, types.GetErrorCode(err))
	assert.Zero(t, gen.calls.Load())

	balance, err := st.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestOrchestrator_SyncSuccessDebitsAndPersists(t *testing.T) {
	st := testDB(t)
	ctx := t.Context()

	gen := &fakeGenerator{result: &imagegen.Result{State: imagegen.StateCompleted, Image: "data:image/png;base64,AA"}}
	orch := NewOrchestrator(Engines{Gemini: gen}, st, fixedUser(1), nil)

	outcome, err := orch.HandleGenerate(ctx, &imagegen.Request{Prompt: "a cat"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), gen.calls.Load())
	assert.Equal(t, 4, outcome.CreditsRemaining)
	require.NotNil(t, outcome.Result)
	assert.Equal(t, imagegen.StateCompleted, outcome.Result.State)

	records, err := st.ListRecent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, imagegen.StateCompleted, records[0].Status)
	assert.Equal(t, "data:image/png;base64,AA", records[0].Image)
	assert.Equal(t, imagegen.EngineGemini, records[0].Engine)
}

func TestOrchestrator_SyncFailureNoDebit(t *testing.T) {
	st := testDB(t)
	ctx := t.Context()

	gen := &fakeGenerator{err: types.NewError(types.ErrProviderRefused, "cannot draw that")}
	orch := NewOrchestrator(Engines{Gemini: gen}, st, fixedUser(1), nil)

	_, err := orch.HandleGenerate(ctx, &imagegen.Request{Prompt: "a cat"})
	require.Error(t, err)

	balance, err := st.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, balance)

	// The failed attempt is still recorded.
	records, err := st.ListRecent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, imagegen.StateFailed, records[0].Status)
}

func TestOrchestrator_SyncEmptyResultNoDebit(t *testing.T) {
	st := testDB(t)
	ctx := t.Context()

	// Adapter normalized an empty success into a terminal failure.
	gen := &fakeGenerator{result: &imagegen.Result{State: imagegen.StateFailed, FailReason: "no image"}}
	orch := NewOrchestrator(Engines{Gemini: gen}, st, fixedUser(1), nil)

	outcome, err := orch.HandleGenerate(ctx, &imagegen.Request{Prompt: "a cat"})
	require.NoError(t, err)
	assert.Equal(t, imagegen.StateFailed, outcome.Result.State)
	assert.Equal(t, 5, outcome.CreditsRemaining)
}

func TestOrchestrator_AsyncSubmitPersistsPending(t *testing.T) {
	st := testDB(t)
	ctx := t.Context()

	flux := &fakeSubmitter{taskID: "job-1"}
	orch := NewOrchestrator(Engines{Flux: flux}, st, fixedUser(1), nil)

	outcome, err := orch.HandleGenerate(ctx, &imagegen.Request{Prompt: "a cat", Engine: imagegen.EngineFlux})
	require.NoError(t, err)
	assert.Equal(t, "job-1", outcome.TaskID)
	assert.Nil(t, outcome.Result)
	// Debit waits for confirmed completion.
	assert.Equal(t, 5, outcome.CreditsRemaining)

	rec, err := st.RecordByTask(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, imagegen.StatePending, rec.Status)
	assert.Equal(t, imagegen.EngineFlux, rec.Engine)
	assert.Empty(t, rec.Image)
}

func TestOrchestrator_AsyncSubmitFailureNoRecord(t *testing.T) {
	st := testDB(t)
	ctx := t.Context()

	mj := &fakeCreative{}
	mj.submitErr = types.NewError(types.ErrUpstreamError, "submit rejected")
	orch := NewOrchestrator(Engines{Midjourney: mj}, st, fixedUser(1), nil)

	_, err := orch.HandleGenerate(ctx, &imagegen.Request{Prompt: "a cat", Engine: imagegen.EngineMidjourney})
	require.Error(t, err)

	records, err := st.ListRecent(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestOrchestrator_InvalidRequest(t *testing.T) {
	st := testDB(t)
	gen := &fakeGenerator{}
	orch := NewOrchestrator(Engines{Gemini: gen}, st, fixedUser(1), nil)

	_, err := orch.HandleGenerate(t.Context(), &imagegen.Request{})
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
	assert.Zero(t, gen.calls.Load())
}

func TestOrchestrator_HandleAction(t *testing.T) {
	st := testDB(t)
	ctx := t.Context()

	mj := &fakeCreative{}
	mj.taskID = "task-parent"
	mj.changeID = "task-child"
	orch := NewOrchestrator(Engines{Midjourney: mj}, st, fixedUser(1), nil)

	// Seed an originating record for the prompt annotation.
	parent, err := orch.HandleGenerate(ctx, &imagegen.Request{Prompt: "a castle", Engine: imagegen.EngineMidjourney})
	require.NoError(t, err)

	outcome, err := orch.HandleAction(ctx, ActionUpscale, "task-parent", 2, parent.RecordID)
	require.NoError(t, err)
	assert.Equal(t, "task-child", outcome.TaskID)
	assert.Equal(t, []string{"upscale"}, mj.actions)

	rec, err := st.RecordByTask(ctx, "task-child")
	require.NoError(t, err)
	assert.Equal(t, "a castle (Upscale 2)", rec.Prompt)
	assert.Equal(t, imagegen.StatePending, rec.Status)
}

func TestOrchestrator_HandleActionAnnotatesOldRecord(t *testing.T) {
	st := testDB(t)
	ctx := t.Context()

	mj := &fakeCreative{}
	mj.taskID = "task-old"
	mj.changeID = "task-new"
	orch := NewOrchestrator(Engines{Midjourney: mj}, st, fixedUser(1), nil)

	parent, err := orch.HandleGenerate(ctx, &imagegen.Request{Prompt: "an old ship", Engine: imagegen.EngineMidjourney})
	require.NoError(t, err)

	// Push the originating record far out of the recent-history window.
	for i := 0; i < store.HistoryLimit+5; i++ {
		require.NoError(t, st.CreateRecord(ctx, &store.GenerationRecord{
			UserID: 1, Prompt: "filler", Status: imagegen.StateCompleted,
		}))
	}

	_, err = orch.HandleAction(ctx, ActionVary, "task-old", 3, parent.RecordID)
	require.NoError(t, err)

	rec, err := st.RecordByTask(ctx, "task-new")
	require.NoError(t, err)
	assert.Equal(t, "an old ship (Vary 3)", rec.Prompt)
}

func TestOrchestrator_HandleActionUnknown(t *testing.T) {
	st := testDB(t)
	orch := NewOrchestrator(Engines{Midjourney: &fakeCreative{}}, st, fixedUser(1), nil)

	_, err := orch.HandleAction(t.Context(), "remix", "t1", 1, 0)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}

func TestOrchestrator_ContextUserOverridesDefault(t *testing.T) {
	st := testDB(t)
	ctx := types.WithUserID(t.Context(), 7)

	gen := &fakeGenerator{result: &imagegen.Result{State: imagegen.StateCompleted, Image: "x"}}
	orch := NewOrchestrator(Engines{Gemini: gen}, st, fixedUser(1), nil)

	_, err := orch.HandleGenerate(ctx, &imagegen.Request{Prompt: "a cat"})
	require.NoError(t, err)

	records, err := st.ListRecent(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
