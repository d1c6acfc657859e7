// Package kokoro provides a TTS provider for Kokoro-FastAPI style servers that
// expose the OpenAI-compatible speech route (POST /v1/audio/speech) and a
// sibling voice catalogue route (GET /v1/audio/voices). It implements the
// tts.Provider interface.
//
// Typical usage:
//
//	p, err := kokoro.New("http://localhost:8880/v1/audio/speech",
//	    kokoro.WithTimeout(10*time.Second),
//	)
//	res, err := p.Synthesize(ctx, tts.Request{Model: "kokoro", Voice: "af_heart", Text: "hello"})
package kokoro

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/MrWong99/wecanttalk/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultTimeout = 10 * time.Second
	audioFormat    = "mp3"
	acceptHeader   = "audio/mpeg"

	// defaultMaxAudioBytes bounds how much of a response body is read into
	// memory. Longer bodies are rejected.
	defaultMaxAudioBytes = 32 << 20
)

// Option is a functional option for configuring a Kokoro Provider.
type Option func(*Provider)

// WithTimeout sets the per-request timeout. Defaults to 10 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client. The client's Timeout is kept as is.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// WithMaxAudioBytes sets the largest audio body accepted. Defaults to 32 MiB.
func WithMaxAudioBytes(n int64) Option {
	return func(p *Provider) {
		if n > 0 {
			p.maxAudioBytes = n
		}
	}
}

// WithVoicesURL overrides the voice catalogue URL. By default it is derived
// from the speech endpoint by replacing its last path segment with "voices".
func WithVoicesURL(u string) Option {
	return func(p *Provider) {
		p.voicesURL = u
	}
}

// Provider implements tts.Provider against a Kokoro server.
// It is safe for concurrent use.
type Provider struct {
	speechURL     string
	voicesURL     string
	httpClient    *http.Client
	maxAudioBytes int64
}

// New creates a Provider targeting the speech endpoint at speechURL
// (e.g., "http://localhost:8880/v1/audio/speech").
func New(speechURL string, opts ...Option) (*Provider, error) {
	if speechURL == "" {
		return nil, errors.New("kokoro: speech URL must not be empty")
	}
	p := &Provider{
		speechURL:     speechURL,
		httpClient:    &http.Client{Timeout: defaultTimeout},
		maxAudioBytes: defaultMaxAudioBytes,
	}
	for _, o := range opts {
		o(p)
	}
	if p.voicesURL == "" {
		u, err := siblingURL(speechURL, "voices")
		if err != nil {
			return nil, fmt.Errorf("kokoro: derive voices URL: %w", err)
		}
		p.voicesURL = u
	}
	return p, nil
}

// ---- wire types ----

// speechPayload is the JSON body sent to the speech endpoint.
type speechPayload struct {
	Model                string                   `json:"model"`
	Input                string                   `json:"input"`
	Voice                string                   `json:"voice"`
	ResponseFormat       string                   `json:"response_format"`
	DownloadFormat       string                   `json:"download_format"`
	Speed                float64                  `json:"speed"`
	Stream               bool                     `json:"stream"`
	ReturnDownloadLink   bool                     `json:"return_download_link"`
	LangCode             *string                  `json:"lang_code"`
	NormalizationOptions tts.NormalizationOptions `json:"normalization_options"`
}

// voicesResponse is the JSON body returned by the voices endpoint.
type voicesResponse struct {
	Voices []string `json:"voices"`
}

// buildPayload converts a tts.Request into the wire payload. An empty
// Language is sent as JSON null.
func buildPayload(req tts.Request) speechPayload {
	var lang *string
	if req.Language != "" {
		l := req.Language
		lang = &l
	}
	return speechPayload{
		Model:                req.Model,
		Input:                req.Text,
		Voice:                req.Voice,
		ResponseFormat:       audioFormat,
		DownloadFormat:       audioFormat,
		Speed:                1,
		Stream:               false,
		ReturnDownloadLink:   false,
		LangCode:             lang,
		NormalizationOptions: req.Normalization,
	}
}

// ---- Synthesize ----

// Synthesize posts req to the speech endpoint and classifies the response.
// Transport-level problems are reported as a *tts.Failure with Transport set.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Result, error) {
	body, err := json.Marshal(buildPayload(req))
	if err != nil {
		return nil, fmt.Errorf("kokoro: encode payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.speechURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("kokoro: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", acceptHeader)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &tts.Failure{Transport: true, Err: err}
	}
	defer resp.Body.Close()

	audio, err := tts.ReadBody(resp, p.maxAudioBytes)
	if err != nil {
		return nil, err
	}

	return tts.Classify(resp.StatusCode, resp.Header.Get("Content-Type"), audio)
}

// ---- ListVoices ----

// ListVoices fetches the voice catalogue from the sibling voices endpoint.
func (p *Provider) ListVoices(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.voicesURL, nil)
	if err != nil {
		return nil, fmt.Errorf("kokoro: list voices: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &tts.Failure{Transport: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &tts.Failure{StatusCode: resp.StatusCode, ContentType: resp.Header.Get("Content-Type")}
	}

	var vr voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, &tts.Failure{
			StatusCode:  resp.StatusCode,
			ContentType: resp.Header.Get("Content-Type"),
			Err:         fmt.Errorf("decode voices: %w", err),
		}
	}
	return vr.Voices, nil
}

// ---- helpers ----

// siblingURL replaces the last path segment of raw with name, dropping any
// query string. "http://h/v1/audio/speech" becomes "http://h/v1/audio/voices".
func siblingURL(raw, name string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%q is not an absolute URL", raw)
	}
	dir := path.Dir(strings.TrimRight(u.Path, "/"))
	u.Path = path.Join(dir, name)
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
