package imagegen

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompletedResult_EmptyImageIsFailure(t *testing.T) {
	res := completedResult("")
	assert.Equal(t, StateFailed, res.State)
	assert.NotEmpty(t, res.FailReason)

	res = completedResult("https://x/y.png")
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, "https://x/y.png", res.Image)
	assert.Empty(t, res.FailReason)
}

func TestNormalizeMidjourneyTask(t *testing.T) {
	tests := []struct {
		name      string
		task      mjTask
		wantState State
		wantImage string
	}{
		{"not started", mjTask{Status: "NOT_START"}, StatePending, ""},
		{"submitted", mjTask{Status: "SUBMITTED"}, StatePending, ""},
		{"in progress", mjTask{Status: "IN_PROGRESS", Progress: "40%"}, StatePending, ""},
		{"unknown status stays pending", mjTask{Status: "PAUSED"}, StatePending, ""},
		{"success", mjTask{Status: "SUCCESS", ImageURL: "https://cdn/x.png"}, StateCompleted, "https://cdn/x.png"},
		{"success legacy field", mjTask{Status: "SUCCESS", ImageURLLegacy: "https://cdn/y.png"}, StateCompleted, "https://cdn/y.png"},
		{"success without image is failure", mjTask{Status: "SUCCESS"}, StateFailed, ""},
		{"failure", mjTask{Status: "FAILURE", FailReason: "banned prompt"}, StateFailed, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := normalizeMidjourneyTask(&tt.task)
			assert.Equal(t, tt.wantState, res.State)
			assert.Equal(t, tt.wantImage, res.Image)
		})
	}
}

func TestNormalizeMidjourneyTask_FailReason(t *testing.T) {
	res := normalizeMidjourneyTask(&mjTask{Status: "FAILURE", FailReason: "banned prompt"})
	assert.Equal(t, "banned prompt", res.FailReason)

	// Missing reason is replaced with a generic one.
	res = normalizeMidjourneyTask(&mjTask{Status: "FAILURE"})
	assert.NotEmpty(t, res.FailReason)
}

func TestNormalizeFluxResult(t *testing.T) {
	ready := fluxResult{Status: "Ready"}
	ready.Result.Sample = "https://cdn/a.jpg"
	res := normalizeFluxResult(&ready)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, "https://cdn/a.jpg", res.Image)

	alt := fluxResult{Status: "Ready"}
	alt.Result.URL = "https://cdn/b.jpg"
	res = normalizeFluxResult(&alt)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, "https://cdn/b.jpg", res.Image)

	empty := fluxResult{Status: "Ready"}
	res = normalizeFluxResult(&empty)
	assert.Equal(t, StateFailed, res.State)

	res = normalizeFluxResult(&fluxResult{Status: "Pending"})
	assert.Equal(t, StatePending, res.State)

	res = normalizeFluxResult(&fluxResult{Status: "Processing"})
	assert.Equal(t, StatePending, res.State)

	res = normalizeFluxResult(&fluxResult{Status: "Error", Error: "boom"})
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, "boom", res.FailReason)

	res = normalizeFluxResult(&fluxResult{Status: "Content Moderated"})
	assert.Equal(t, StateFailed, res.State)
	assert.NotEmpty(t, res.FailReason)
}
