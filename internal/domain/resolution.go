package domain

import (
	"context"
	"fmt"
	"net/http"
)

// ResolutionRequest is the JSON body posted to the resolution backend.
type ResolutionRequest struct {
	SourceURL string `json:"facebook_url"`
}

// ResolvedVideo is the success variant of a resolution: the backend marked
// status as success and supplied a direct URL.
type ResolvedVideo struct {
	Title           string `json:"title"`
	DirectURL       string `json:"direct_download_url"`
	DurationSeconds int    `json:"duration"`
	Extension       string `json:"ext"`
}

// FailureKind separates failures below HTTP semantics from failures the
// backend reported itself.
type FailureKind int

const (
	// FailureTransport covers timeouts, DNS and connection errors, non-2xx
	// statuses and unreadable bodies.
	FailureTransport FailureKind = iota
	// FailureApplication covers a 2xx answer whose payload is not a success.
	FailureApplication
)

func (k FailureKind) String() string {
	switch k {
	case FailureTransport:
		return "backend_transport"
	case FailureApplication:
		return "backend_application"
	default:
		return fmt.Sprintf("failure_kind(%d)", int(k))
	}
}

// ResolutionError is the failure variant of a resolution.
type ResolutionError struct {
	Kind   FailureKind
	Detail string // user-facing detail, backend supplied when available
	Err    error  // underlying cause, for logs only
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Resolver turns a source page link into a playable URL.
type Resolver interface {
	Resolve(ctx context.Context, sourceURL string) (ResolvedVideo, error)
	ResolveFinalURL(ctx context.Context, candidateURL string, headers http.Header) string
}
