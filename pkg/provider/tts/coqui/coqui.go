// Package coqui provides a TTS provider backed by a Coqui TTS server. It
// implements the tts.Provider interface and can stand in for the Kokoro
// service when a local Coqui server is preferred.
//
// Two API modes are supported:
//
//   - APIModeStandard (default): targets the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu). Synthesis is performed via GET /api/tts with
//     URL query parameters; the voice catalogue comes from GET /details.
//
//   - APIModeXTTS: targets the Coqui XTTS v2 API server. Synthesis is performed
//     via POST /tts_to_audio/ with a JSON body; the voice catalogue comes from
//     GET /studio_speakers.
//
// Both servers answer with a complete WAV file, which is returned unchanged
// so the player can decode it like any other artifact.
//
// Typical usage:
//
//	p, err := coqui.New("http://localhost:5002",
//	    coqui.WithLanguage("en"),
//	    coqui.WithTimeout(15*time.Second),
//	)
//	res, err := p.Synthesize(ctx, tts.Request{Voice: "p225", Text: "hello"})
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/wecanttalk/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// ---- constants ----

const (
	defaultLanguage        = "en"
	defaultTimeout         = 30 * time.Second
	ttsEndpoint            = "/tts_to_audio/"
	studioSpeakersEndpoint = "/studio_speakers"
	apiTTSEndpoint         = "/api/tts"
	detailsEndpoint        = "/details"

	// defaultMaxAudioBytes bounds how much of a response body is read into
	// memory. Longer bodies are rejected.
	defaultMaxAudioBytes = 64 << 20
)

// ---- APIMode ----

// APIMode selects which Coqui server API the provider will target.
type APIMode string

const (
	// APIModeXTTS targets the Coqui XTTS v2 API server (/tts_to_audio/).
	APIModeXTTS APIMode = "xtts"

	// APIModeStandard targets the standard Coqui TTS server (/api/tts).
	// This is the default mode.
	APIModeStandard APIMode = "standard"
)

// ParseAPIMode converts a config value to an APIMode. An empty string selects
// APIModeStandard.
func ParseAPIMode(s string) (APIMode, error) {
	switch APIMode(strings.ToLower(s)) {
	case "", APIModeStandard:
		return APIModeStandard, nil
	case APIModeXTTS:
		return APIModeXTTS, nil
	default:
		return "", fmt.Errorf("coqui: unknown api mode %q", s)
	}
}

// ---- options ----

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithLanguage sets the language code sent when a request carries none.
// Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.httpClient.Timeout = d
		}
	}
}

// WithMaxAudioBytes sets the largest WAV body accepted. Defaults to 64 MiB.
func WithMaxAudioBytes(n int64) Option {
	return func(p *Provider) {
		if n > 0 {
			p.maxAudioBytes = n
		}
	}
}

// WithAPIMode sets the server API mode.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) {
		p.apiMode = mode
	}
}

// ---- Provider ----

// Provider implements tts.Provider backed by a Coqui TTS server.
// It is safe for concurrent use.
type Provider struct {
	serverURL     string
	language      string
	httpClient    *http.Client
	apiMode       APIMode
	maxAudioBytes int64
}

// New creates a Provider that targets the TTS server at serverURL
// (e.g., "http://localhost:5002").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:     strings.TrimRight(serverURL, "/"),
		language:      defaultLanguage,
		apiMode:       APIModeStandard,
		httpClient:    &http.Client{Timeout: defaultTimeout},
		maxAudioBytes: defaultMaxAudioBytes,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- wire types ----

// ttsRequest is the JSON body sent to POST /tts_to_audio/ (XTTS mode).
type ttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// detailsResponse is the JSON body returned by GET /details (standard mode).
// Speakers is nil for single-speaker models.
type detailsResponse struct {
	ModelName string   `json:"model_name"`
	Language  string   `json:"language"`
	Speakers  []string `json:"speakers"`
}

// ---- Synthesize ----

// Synthesize issues a single synthesis call and classifies the WAV response.
// Transport-level problems are reported as a *tts.Failure with Transport set.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Result, error) {
	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	var (
		httpReq *http.Request
		err     error
	)
	if p.apiMode == APIModeXTTS {
		httpReq, err = p.xttsRequest(ctx, req, lang)
	} else {
		httpReq, err = p.standardRequest(ctx, req, lang)
	}
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &tts.Failure{Transport: true, Err: err}
	}
	defer resp.Body.Close()

	wav, err := tts.ReadBody(resp, p.maxAudioBytes)
	if err != nil {
		return nil, err
	}
	return tts.Classify(resp.StatusCode, resp.Header.Get("Content-Type"), wav)
}

// xttsRequest builds a POST /tts_to_audio/ request. The voice names a studio
// speaker or a cloned speaker wav.
func (p *Provider) xttsRequest(ctx context.Context, req tts.Request, lang string) (*http.Request, error) {
	data, err := json.Marshal(ttsRequest{
		Text:       req.Text,
		SpeakerWav: req.Voice,
		Language:   lang,
	})
	if err != nil {
		return nil, fmt.Errorf("coqui: marshal tts request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+ttsEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, nil
}

// standardRequest builds a GET /api/tts request with query parameters.
func (p *Provider) standardRequest(ctx context.Context, req tts.Request, lang string) (*http.Request, error) {
	params := url.Values{}
	params.Set("text", req.Text)
	if req.Voice != "" {
		params.Set("speaker_id", req.Voice)
	}
	if lang != "" {
		params.Set("language_id", lang)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+apiTTSEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	return httpReq, nil
}

// ---- ListVoices ----

// ListVoices returns the speakers the server offers, sorted by name.
//
// In APIModeXTTS the names are the keys of GET /studio_speakers. In
// APIModeStandard they are the speakers of GET /details, or the model name
// for single-speaker models.
func (p *Provider) ListVoices(ctx context.Context) ([]string, error) {
	endpoint := detailsEndpoint
	if p.apiMode == APIModeXTTS {
		endpoint = studioSpeakersEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create list-voices request: %w", err)
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

	var names []string
	if p.apiMode == APIModeXTTS {
		names, err = decodeStudioSpeakers(resp.Body)
	} else {
		names, err = decodeDetails(resp.Body)
	}
	if err != nil {
		return nil, &tts.Failure{
			StatusCode:  resp.StatusCode,
			ContentType: resp.Header.Get("Content-Type"),
			Err:         err,
		}
	}
	slices.Sort(names)
	return names, nil
}

func decodeStudioSpeakers(r io.Reader) ([]string, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode studio speakers: %w", err)
	}
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	return names, nil
}

func decodeDetails(r io.Reader) ([]string, error) {
	var details detailsResponse
	if err := json.NewDecoder(r).Decode(&details); err != nil {
		return nil, fmt.Errorf("decode details: %w", err)
	}
	if len(details.Speakers) > 0 {
		return slices.Clone(details.Speakers), nil
	}
	name := details.ModelName
	if name == "" {
		name = "default"
	}
	return []string{name}, nil
}
