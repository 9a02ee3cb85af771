// Package imagegen contains the provider adapters for the supported image
// generation engines, the canonical result type they all normalize into, and
// the credential pool used by the synchronous engine.
package imagegen

import (
	"context"
	"fmt"
	"strings"

	"github.com/pixelforge/pixelforge/types"
)

// Engine identifies a generation backend. The set is closed; dispatch over it
// is an exhaustive switch so adding a backend is a compile-time change.
type Engine string

const (
	EngineGemini     Engine = "gemini"
	EngineMidjourney Engine = "midjourney"
	EngineFlux       Engine = "flux"
)

// DefaultEngine is used when a request does not name one.
const DefaultEngine = EngineGemini

// ParseEngine validates a client-supplied engine tag.
func ParseEngine(s string) (Engine, error) {
	if s == "" {
		return DefaultEngine, nil
	}
	switch Engine(s) {
	case EngineGemini, EngineMidjourney, EngineFlux:
		return Engine(s), nil
	}
	return "", types.NewError(types.ErrInvalidRequest, fmt.Sprintf("unknown engine: %s", s))
}

// State is the lifecycle state of a generation, terminal or not.
type State string

const (
	StatePending   State = "pending"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Request carries the user-supplied generation parameters in provider-neutral
// form. Adapters translate it to their own wire shapes.
type Request struct {
	Prompt          string   `json:"prompt"`
	EditInstruction string   `json:"edit_instruction,omitempty"`
	EditImage       string   `json:"edit_image,omitempty"` // data URI
	ReferenceImages []string `json:"reference_images,omitempty"`
	Width           int      `json:"width,omitempty"`
	Height          int      `json:"height,omitempty"`
	AspectRatio     string   `json:"aspect_ratio,omitempty"` // e.g. "1:1", "16:9"
	Quality         string   `json:"quality,omitempty"`      // standard, hd
	Style           string   `json:"style,omitempty"`
	OutputFormat    string   `json:"output_format,omitempty"`
	Engine          Engine   `json:"engine,omitempty"`
	FixedSeed       bool     `json:"fixed_seed,omitempty"`
	Batch           int      `json:"batch,omitempty"`
}

// Text returns the effective instruction: the prompt for create mode, the
// edit instruction when an edit image is attached.
func (r *Request) Text() string {
	if r.EditImage != "" && r.EditInstruction != "" {
		return r.EditInstruction
	}
	return r.Prompt
}

// Validate checks the request invariants shared by every engine: a prompt or
// an edit instruction must be present, and a width/height pair must be
// resolvable.
func (r *Request) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" && strings.TrimSpace(r.EditInstruction) == "" {
		return types.NewError(types.ErrInvalidRequest, "prompt or edit instruction is required")
	}
	if r.EditInstruction != "" && r.EditImage == "" && r.Prompt == "" {
		return types.NewError(types.ErrInvalidRequest, "edit instruction requires an edit image")
	}
	w, h := r.ResolveSize()
	if w <= 0 || h <= 0 {
		return types.NewError(types.ErrInvalidRequest, "request does not resolve to a valid width/height")
	}
	return nil
}

// qualityBase maps a quality tier to the short side of the output in pixels.
func qualityBase(quality string) int {
	switch quality {
	case "hd", "high":
		return 1536
	case "low":
		return 512
	default:
		return 1024
	}
}

// ResolveSize returns the effective output dimensions. Explicit width/height
// win; otherwise the aspect ratio is scaled by the quality tier.
func (r *Request) ResolveSize() (int, int) {
	if r.Width > 0 && r.Height > 0 {
		return r.Width, r.Height
	}
	base := qualityBase(r.Quality)
	switch r.AspectRatio {
	case "", "1:1":
		return base, base
	case "16:9":
		return base * 16 / 9, base
	case "9:16":
		return base, base * 16 / 9
	case "4:3":
		return base * 4 / 3, base
	case "3:4":
		return base, base * 4 / 3
	case "3:2":
		return base * 3 / 2, base
	case "2:3":
		return base, base * 3 / 2
	default:
		return 0, 0
	}
}

// SizeString renders the resolved dimensions as "WxH" for persistence.
func (r *Request) SizeString() string {
	w, h := r.ResolveSize()
	return fmt.Sprintf("%dx%d", w, h)
}

// Result is the canonical outcome every provider payload is normalized into.
// It is transient; persistence happens one layer up.
type Result struct {
	State      State  `json:"state"`
	Image      string `json:"image,omitempty"` // URL or data URI
	FailReason string `json:"fail_reason,omitempty"`
}

// Generator is the synchronous engine contract: one call, final result, no
// task handle.
type Generator interface {
	Generate(ctx context.Context, req *Request) (*Result, error)
}

// Submitter is the asynchronous engine contract. Submit issues exactly one
// create-task call and is never retried at this layer. Poll issues exactly one
// status call; the polling cadence belongs to the caller.
type Submitter interface {
	Submit(ctx context.Context, req *Request) (taskID string, err error)
	Poll(ctx context.Context, taskID string) (*Result, error)
}

// splitDataURI splits "data:<mime>;base64,<payload>" into mime and payload.
func splitDataURI(uri string) (mime, payload string, err error) {
	if !strings.HasPrefix(uri, "data:") {
		return "", "", types.NewError(types.ErrInvalidRequest, "image must be a data URI")
	}
	rest := strings.TrimPrefix(uri, "data:")
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", "", types.NewError(types.ErrInvalidRequest, "malformed data URI")
	}
	mime = strings.TrimSuffix(meta, ";base64")
	if mime == "" {
		mime = "application/octet-stream"
	}
	return mime, payload, nil
}
