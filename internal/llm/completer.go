// Package llm is the narrow boundary to text-completion and embedding models.
// Each vendor is one implementation of Completer; which one serves a call is
// decided by configuration through the Router.
package llm

import (
	"context"
	"errors"
	"strings"
)

// ErrProviderNotFound is returned when no provider is configured for a purpose
var ErrProviderNotFound = errors.New("llm provider not configured")

// ErrStreamIncomplete is sent when a stream closes without the provider's
// end-of-completion marker
var ErrStreamIncomplete = errors.New("stream ended before the completion finished")

// Response formats understood by the providers
const (
	FormatText       = "text"
	FormatJSONObject = "json_object"
)

// Request is a single-turn completion request
type Request struct {
	// Purpose selects the configured route (split, serving, extract)
	Purpose        string
	SystemPrompt   string
	UserPrompt     string
	Model          string
	Temperature    float64
	MaxTokens      int
	ResponseFormat string
	Stop           []string
}

// Chunk is one piece of a streamed completion. A chunk with Err set is the
// last one sent before the channel is closed.
type Chunk struct {
	Text string
	Err  error
}

// Completer produces text completions
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
	CompleteStream(ctx context.Context, req Request) (<-chan Chunk, error)
}

// Embedder turns text into an embedding vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Collect drains a stream into a single string
func Collect(stream <-chan Chunk) (string, error) {
	var b strings.Builder
	for chunk := range stream {
		if chunk.Err != nil {
			return b.String(), chunk.Err
		}
		b.WriteString(chunk.Text)
	}
	return b.String(), nil
}
