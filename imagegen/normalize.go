package imagegen

// Pure normalization of provider payloads into the canonical Result. No I/O
// here; the adapters call these after decoding a response body.

// completedResult wraps a resolved image reference as terminal success. A
// provider can report success while omitting the artifact, so an empty image
// is normalized to terminal failure rather than a hollow success.
func completedResult(image string) *Result {
	if image == "" {
		return &Result{
			State:      StateFailed,
			FailReason: "provider reported success without an image",
		}
	}
	return &Result{State: StateCompleted, Image: image}
}

// failedResult wraps a provider failure message, substituting a generic one
// when the provider supplies none.
func failedResult(reason string) *Result {
	if reason == "" {
		reason = "generation failed"
	}
	return &Result{State: StateFailed, FailReason: reason}
}

// normalizeMidjourneyTask maps a creative-queue task record to a Result.
// Older proxy deployments serialize the result URL under a different field
// name, so both variants are honored.
func normalizeMidjourneyTask(t *mjTask) *Result {
	switch t.Status {
	case "SUCCESS":
		image := t.ImageURL
		if image == "" {
			image = t.ImageURLLegacy
		}
		return completedResult(image)
	case "FAILURE":
		return failedResult(t.FailReason)
	default:
		// NOT_START, SUBMITTED, IN_PROGRESS and anything unrecognized are
		// treated as still running.
		return &Result{State: StatePending}
	}
}

// normalizeFluxResult maps a job-queue status record to a Result.
func normalizeFluxResult(f *fluxResult) *Result {
	switch f.Status {
	case "Ready":
		image := f.Result.Sample
		if image == "" {
			image = f.Result.URL
		}
		return completedResult(image)
	case "Error", "Failed", "Content Moderated", "Request Moderated":
		return failedResult(f.Error)
	default:
		// Pending, Processing, Queued and unknown states keep polling.
		return &Result{State: StatePending}
	}
}
