// Package provider defines the model-execution capability: runners that
// invoke a remote model with streaming enabled, and a registry mapping
// candidate model IDs to the runner that serves them.
package provider

import (
	"context"
	"io"

	"github.com/capmapt/chatsvtr-sub005/internal/models"
)

// StreamRequest asks a runner to invoke one model with streaming enabled.
type StreamRequest struct {
	Model       string
	Messages    []models.Message
	MaxTokens   int
	Temperature float64
	TopP        float64
}

// Runner invokes remote models and returns their streamed output.
type Runner interface {
	Name() string
	// Models lists the model IDs this runner can serve.
	Models() []string
	// Stream invokes the model and returns its response body unmodified.
	// Implementations must return an error for non-success upstream status
	// codes instead of a Stream.
	Stream(ctx context.Context, req StreamRequest) (*Stream, error)
}

// Stream wraps an upstream streaming response body so it can be passed
// through to the HTTP response boundary unmodified. Closing the stream
// releases the upstream connection and any attached cancellation.
type Stream struct {
	contentType string
	body        io.ReadCloser
	cancel      context.CancelFunc
}

// NewStream wraps an upstream body. contentType defaults to
// text/event-stream when empty.
func NewStream(contentType string, body io.ReadCloser) *Stream {
	if contentType == "" {
		contentType = "text/event-stream"
	}
	return &Stream{
		contentType: contentType,
		body:        body,
	}
}

// ContentType reports the upstream content type to forward downstream.
func (s *Stream) ContentType() string {
	return s.contentType
}

func (s *Stream) Read(p []byte) (int, error) {
	return s.body.Read(p)
}

// Close releases the upstream body and fires any attached cancellation.
func (s *Stream) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	return s.body.Close()
}

// AttachCancel ties a context cancellation to the stream lifetime, so the
// upstream request context is released when the consumer finishes reading.
func (s *Stream) AttachCancel(cancel context.CancelFunc) {
	s.cancel = cancel
}
