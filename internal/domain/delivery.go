package domain

import (
	"errors"
	"net/http"
	"time"
)

// ErrUploadFailed marks a chat transport that could not fetch or stream the
// video it was handed.
var ErrUploadFailed = errors.New("video upload failed")

// VideoUpload is everything the transport needs to deliver a video by URL.
type VideoUpload struct {
	URL               string
	Caption           string
	DurationSeconds   int
	SupportsStreaming bool
	Filename          string
	Headers           http.Header
	ReadTimeout       time.Duration
}

// DeliveryOutcome is the result of one upload try.
type DeliveryOutcome int

const (
	Delivered DeliveryOutcome = iota
	UploadFailed
)

func (o DeliveryOutcome) String() string {
	if o == Delivered {
		return "delivered"
	}
	return "upload_failed"
}

// DeliveryAttempt records a single upload try.
type DeliveryAttempt struct {
	FinalURL string
	Headers  http.Header
	Outcome  DeliveryOutcome
	Reason   error
}

// Outcome is the terminal state one pipeline run reached.
type Outcome string

const (
	OutcomeInvalidInput       Outcome = "invalid_input"
	OutcomeBackendTransport   Outcome = "backend_transport"
	OutcomeBackendApplication Outcome = "backend_application"
	OutcomeDelivered          Outcome = "delivered"
	OutcomeFallbackLink       Outcome = "fallback_link"
	OutcomeUnclassified       Outcome = "unclassified"
)
