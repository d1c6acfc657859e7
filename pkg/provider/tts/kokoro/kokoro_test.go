package kokoro

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/wecanttalk/pkg/provider/tts"
)

// ---- construction ----

func TestNew_EmptyURL(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty speech URL")
	}
}

func TestNew_RelativeURL(t *testing.T) {
	t.Parallel()
	if _, err := New("/v1/audio/speech"); err == nil {
		t.Fatal("expected error for relative speech URL")
	}
}

func TestNew_Options(t *testing.T) {
	t.Parallel()
	p, err := New("http://localhost:8880/v1/audio/speech",
		WithTimeout(3*time.Second),
		WithVoicesURL("http://other/voices"),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.httpClient.Timeout != 3*time.Second {
		t.Errorf("Timeout = %v, want 3s", p.httpClient.Timeout)
	}
	if p.voicesURL != "http://other/voices" {
		t.Errorf("voicesURL = %q, want %q", p.voicesURL, "http://other/voices")
	}
}

func TestNew_DefaultTimeout(t *testing.T) {
	t.Parallel()
	p, err := New("http://localhost:8880/v1/audio/speech")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.httpClient.Timeout != defaultTimeout {
		t.Errorf("Timeout = %v, want %v", p.httpClient.Timeout, defaultTimeout)
	}
}

// ---- URL derivation ----

func TestSiblingURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"http://localhost:8880/v1/audio/speech", "http://localhost:8880/v1/audio/voices"},
		{"http://localhost:8880/v1/audio/speech/", "http://localhost:8880/v1/audio/voices"},
		{"https://tts.example.com/v1/audio/speech?x=1", "https://tts.example.com/v1/audio/voices"},
		{"http://kokoro:8880/api/tts/speech", "http://kokoro:8880/api/tts/voices"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := siblingURL(tt.in, "voices")
			if err != nil {
				t.Fatalf("siblingURL: %v", err)
			}
			if got != tt.want {
				t.Errorf("siblingURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// ---- payload ----

func TestBuildPayload_LanguageNullWhenUnset(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(buildPayload(tts.Request{
		Model: "kokoro", Voice: "af_heart", Text: "hi",
		Normalization: tts.DefaultNormalization(),
	}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := string(raw["lang_code"]); got != "null" {
		t.Errorf("lang_code = %s, want null", got)
	}
	for _, key := range []string{
		"model", "input", "voice", "response_format", "download_format",
		"speed", "stream", "return_download_link", "normalization_options",
	} {
		if _, ok := raw[key]; !ok {
			t.Errorf("payload missing %q", key)
		}
	}
}

func TestBuildPayload_Fields(t *testing.T) {
	t.Parallel()

	p := buildPayload(tts.Request{
		Model: "kokoro", Voice: "am_adam", Text: "hello there", Language: "j",
		Normalization: tts.DefaultNormalization(),
	})
	if p.LangCode == nil || *p.LangCode != "j" {
		t.Errorf("LangCode = %v, want j", p.LangCode)
	}
	if p.ResponseFormat != "mp3" || p.DownloadFormat != "mp3" {
		t.Errorf("formats = %q/%q, want mp3/mp3", p.ResponseFormat, p.DownloadFormat)
	}
	if p.Speed != 1 || p.Stream || p.ReturnDownloadLink {
		t.Errorf("unexpected speed/stream/link: %v %v %v", p.Speed, p.Stream, p.ReturnDownloadLink)
	}
	if p.Input != "hello there" || p.Voice != "am_adam" || p.Model != "kokoro" {
		t.Errorf("unexpected payload identity fields: %+v", p)
	}
	if p.NormalizationOptions.UnitNormalization {
		t.Error("unit_normalization should be false")
	}
}

// ---- Synthesize ----

func TestSynthesize_Success(t *testing.T) {
	t.Parallel()

	var gotBody speechPayload
	var gotAccept, gotCT string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		gotAccept = r.Header.Get("Accept")
		gotCT = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotBody)
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3-audio"))
	}))
	defer srv.Close()

	p, err := New(srv.URL + "/v1/audio/speech")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := p.Synthesize(t.Context(), tts.Request{
		Model: "kokoro", Voice: "af_heart", Text: "hello", Language: "a",
		Normalization: tts.DefaultNormalization(),
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(res.Audio) != "ID3-audio" {
		t.Errorf("Audio = %q, want %q", res.Audio, "ID3-audio")
	}
	if gotAccept != "audio/mpeg" {
		t.Errorf("Accept = %q, want audio/mpeg", gotAccept)
	}
	if gotCT != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", gotCT)
	}
	if gotBody.Voice != "af_heart" || gotBody.Input != "hello" {
		t.Errorf("unexpected body: %+v", gotBody)
	}
	if gotBody.LangCode == nil || *gotBody.LangCode != "a" {
		t.Errorf("lang_code = %v, want a", gotBody.LangCode)
	}
}

func TestSynthesize_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     int
		ct         string
		body       string
		wantStatus int
	}{
		{name: "server error", status: http.StatusInternalServerError, ct: "application/json", body: `{"detail":"boom"}`, wantStatus: 500},
		{name: "ok but json", status: http.StatusOK, ct: "application/json", body: `{"detail":"no"}`, wantStatus: 200},
		{name: "ok audio but empty", status: http.StatusOK, ct: "audio/mpeg", body: "", wantStatus: 200},
		{name: "bad request audio", status: http.StatusBadRequest, ct: "audio/mpeg", body: "ID3", wantStatus: 400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", tt.ct)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p, err := New(srv.URL + "/v1/audio/speech")
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			_, err = p.Synthesize(t.Context(), tts.Request{Model: "kokoro", Voice: "v", Text: "x"})
			var f *tts.Failure
			if !errors.As(err, &f) {
				t.Fatalf("error = %v, want *tts.Failure", err)
			}
			if f.StatusCode != tt.wantStatus {
				t.Errorf("StatusCode = %d, want %d", f.StatusCode, tt.wantStatus)
			}
			if f.Transport {
				t.Error("Transport = true, want false")
			}
		})
	}
}

func TestSynthesize_OversizedBodyRejected(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3-and-then-some"))
	}))
	defer srv.Close()

	p, err := New(srv.URL+"/v1/audio/speech", WithMaxAudioBytes(8))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := p.Synthesize(t.Context(), tts.Request{Model: "kokoro", Voice: "v", Text: "x"})
	if res != nil {
		t.Errorf("result = %+v, want nil for a truncated body", res)
	}
	var f *tts.Failure
	if !errors.As(err, &f) {
		t.Fatalf("error = %v, want *tts.Failure", err)
	}
	if !errors.Is(err, tts.ErrTooLarge) {
		t.Errorf("error = %v, want ErrTooLarge", err)
	}
	if f.Transport || f.StatusCode != http.StatusOK {
		t.Errorf("failure = %+v, want a non-transport 200", f)
	}
}

func TestSynthesize_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p, err := New(srv.URL+"/v1/audio/speech", WithTimeout(50*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.Synthesize(t.Context(), tts.Request{Model: "kokoro", Voice: "v", Text: "x"})
	var f *tts.Failure
	if !errors.As(err, &f) {
		t.Fatalf("error = %v, want *tts.Failure", err)
	}
	if !f.Transport {
		t.Error("Transport = false, want true for timeout")
	}
}

func TestSynthesize_ConnectionRefused(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	p, err := New(url + "/v1/audio/speech")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.Synthesize(t.Context(), tts.Request{Model: "kokoro", Voice: "v", Text: "x"})
	var f *tts.Failure
	if !errors.As(err, &f) || !f.Transport {
		t.Fatalf("error = %v, want transport *tts.Failure", err)
	}
}

// ---- ListVoices ----

func TestListVoices(t *testing.T) {
	t.Parallel()

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"voices":["af_heart","am_adam"]}`))
	}))
	defer srv.Close()

	p, err := New(srv.URL + "/v1/audio/speech")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	voices, err := p.ListVoices(t.Context())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if gotPath != "/v1/audio/voices" {
		t.Errorf("path = %q, want /v1/audio/voices", gotPath)
	}
	if len(voices) != 2 || voices[0] != "af_heart" || voices[1] != "am_adam" {
		t.Errorf("voices = %v, want [af_heart am_adam]", voices)
	}
}

func TestListVoices_Non200(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, err := New(srv.URL + "/v1/audio/speech")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.ListVoices(t.Context())
	var f *tts.Failure
	if !errors.As(err, &f) {
		t.Fatalf("error = %v, want *tts.Failure", err)
	}
	if f.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d, want 503", f.StatusCode)
	}
}
