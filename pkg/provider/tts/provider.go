// Package tts defines the Provider interface for Text-to-Speech backends and
// the request/result types shared by every implementation.
//
// A TTS provider wraps a speech synthesis service (e.g., a Kokoro server
// exposing the OpenAI-compatible /v1/audio/speech route) and turns a single
// [Request] into one complete encoded audio blob. WeCantTalk does not stream
// synthesis: each command produces exactly one [Result] which is handed to the
// voice player and then discarded.
//
// Implementations must never surface raw transport errors. Every failed call
// is reported as a [*Failure] so callers can classify it with [errors.As].
package tts

import (
	"context"
)

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Requests from different
// guilds and from the local console may run in parallel.
type Provider interface {
	// Synthesize converts req into encoded audio. A successful call returns a
	// [Result] that has passed [Classify]; every other outcome (non-200
	// status, empty body, non-audio content type, timeout, connection refused)
	// is returned as a [*Failure].
	//
	// A single network call is issued; implementations must not retry.
	Synthesize(ctx context.Context, req Request) (*Result, error)

	// ListVoices returns the voice identifiers the service currently offers.
	// Returns a [*Failure] when the service cannot be reached or answers with a
	// non-200 status.
	ListVoices(ctx context.Context) ([]string, error)
}
