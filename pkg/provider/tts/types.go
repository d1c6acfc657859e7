package tts

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// NormalizationOptions mirrors the text normalisation switches understood by
// Kokoro-compatible servers.
type NormalizationOptions struct {
	Normalize                          bool `json:"normalize"`
	UnitNormalization                  bool `json:"unit_normalization"`
	URLNormalization                   bool `json:"url_normalization"`
	EmailNormalization                 bool `json:"email_normalization"`
	OptionalPluralizationNormalization bool `json:"optional_pluralization_normalization"`
	PhoneNormalization                 bool `json:"phone_normalization"`
}

// DefaultNormalization returns the normalisation set used for every request:
// everything enabled except unit normalisation.
func DefaultNormalization() NormalizationOptions {
	return NormalizationOptions{
		Normalize:                          true,
		UnitNormalization:                  false,
		URLNormalization:                   true,
		EmailNormalization:                 true,
		OptionalPluralizationNormalization: true,
		PhoneNormalization:                 true,
	}
}

// Request is a single synthesis request.
type Request struct {
	// Model is the synthesis model identifier (e.g., "kokoro").
	Model string

	// Voice is the provider-specific voice identifier (e.g., "af_heart").
	Voice string

	// Text is the already-sanitised input text. Must not be empty.
	Text string

	// Language is an optional language code. Empty means "let the service
	// decide". The value is sent verbatim; it is not validated locally.
	Language string

	// Normalization controls server-side text normalisation.
	Normalization NormalizationOptions
}

// Validate reports whether r can be sent to a provider.
func (r Request) Validate() error {
	var errs []error
	if strings.TrimSpace(r.Text) == "" {
		errs = append(errs, errors.New("tts: request text must not be empty"))
	}
	if r.Voice == "" {
		errs = append(errs, errors.New("tts: request voice must not be empty"))
	}
	if r.Model == "" {
		errs = append(errs, errors.New("tts: request model must not be empty"))
	}
	return errors.Join(errs...)
}

// Result is the usable outcome of a synthesis call.
type Result struct {
	// Audio holds the encoded audio bytes exactly as returned by the service.
	Audio []byte

	// ContentType is the response Content-Type header (e.g., "audio/mpeg").
	ContentType string

	// StatusCode is the HTTP status of the response. Always 200 for a Result
	// produced by [Classify].
	StatusCode int
}

// Failure describes a synthesis or voice-list call that did not yield a usable
// response. Exactly one of StatusCode or Transport is meaningful: Transport is
// true when no HTTP response was obtained (timeout, refused connection,
// unreadable body) and Err then carries the underlying cause.
type Failure struct {
	StatusCode  int
	ContentType string
	Transport   bool
	Err         error
}

// Error implements the error interface.
func (f *Failure) Error() string {
	if f.Transport {
		return fmt.Sprintf("tts: transport failure: %v", f.Err)
	}
	if f.Err != nil {
		return fmt.Sprintf("tts: unusable response (status %d, content type %q): %v", f.StatusCode, f.ContentType, f.Err)
	}
	return fmt.Sprintf("tts: unusable response (status %d, content type %q)", f.StatusCode, f.ContentType)
}

// Unwrap returns the underlying cause, if any.
func (f *Failure) Unwrap() error {
	return f.Err
}

// Classify turns a raw HTTP outcome into either a [Result] or a [*Failure].
// Success requires all three of: status 200, a non-empty body and a content
// type that mentions "audio".
func Classify(statusCode int, contentType string, body []byte) (*Result, error) {
	var reason error
	switch {
	case statusCode != http.StatusOK:
	case len(body) == 0:
		reason = errors.New("empty body")
	case !strings.Contains(contentType, "audio"):
		reason = errors.New("content type is not audio")
	default:
		return &Result{
			Audio:       body,
			ContentType: contentType,
			StatusCode:  statusCode,
		}, nil
	}
	return nil, &Failure{
		StatusCode:  statusCode,
		ContentType: contentType,
		Err:         reason,
	}
}

// ErrTooLarge is the cause of a [*Failure] whose body exceeded the read limit.
var ErrTooLarge = errors.New("response body too large")

// ReadBody reads the response body, refusing anything longer than limit
// bytes. Oversized bodies are reported as a [*Failure] wrapping
// [ErrTooLarge] rather than truncated. Read errors are transport failures.
func ReadBody(resp *http.Response, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, &Failure{Transport: true, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(body)) > limit {
		return nil, &Failure{
			StatusCode:  resp.StatusCode,
			ContentType: resp.Header.Get("Content-Type"),
			Err:         fmt.Errorf("%w: over %d bytes", ErrTooLarge, limit),
		}
	}
	return body, nil
}
