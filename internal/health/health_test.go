package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func ok(context.Context) error { return nil }

func readyz(t *testing.T, h *Handler, req *http.Request) (int, result) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func TestHealthz_AlwaysReturns200(t *testing.T) {
	t.Parallel()
	h := New(nil)

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checkers   []Checker
		wantStatus int
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantStatus: http.StatusOK,
		},
		{
			name: "all pass",
			checkers: []Checker{
				{Name: "discord", Check: ok},
				{Name: "synthesis", Check: ok},
			},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"discord": "ok", "synthesis": "ok"},
		},
		{
			name: "one fails",
			checkers: []Checker{
				{Name: "discord", Check: ok},
				{Name: "synthesis", Check: func(context.Context) error { return errors.New("connection refused") }},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"discord": "ok", "synthesis": "fail: connection refused"},
		},
		{
			name: "all fail",
			checkers: []Checker{
				{Name: "discord", Check: func(context.Context) error { return errors.New("gateway not ready") }},
				{Name: "synthesis", Check: func(context.Context) error { return errors.New("timeout") }},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"discord": "fail: gateway not ready", "synthesis": "fail: timeout"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			status, body := readyz(t, New(tc.checkers), httptest.NewRequest("GET", "/readyz", nil))
			if status != tc.wantStatus {
				t.Errorf("status = %d, want %d", status, tc.wantStatus)
			}
			wantBody := "ok"
			if tc.wantStatus != http.StatusOK {
				wantBody = "fail"
			}
			if body.Status != wantBody {
				t.Errorf("body status = %q, want %q", body.Status, wantBody)
			}
			for name, want := range tc.wantChecks {
				if got := body.Checks[name]; got != want {
					t.Errorf("check %q = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()

	slow := func(context.Context) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	}
	h := New([]Checker{{Name: "a", Check: slow}, {Name: "b", Check: slow}, {Name: "c", Check: slow}})

	start := time.Now()
	status, _ := readyz(t, h, httptest.NewRequest("GET", "/readyz", nil))
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if elapsed := time.Since(start); elapsed >= 550*time.Millisecond {
		t.Errorf("readyz took %v, checks appear to run sequentially", elapsed)
	}
}

func TestReadyz_Details(t *testing.T) {
	t.Parallel()

	h := New(nil, WithDetail("voice_sessions", func() any {
		return []map[string]string{{"guild_id": "1", "channel_id": "2"}}
	}))
	_, body := readyz(t, h, httptest.NewRequest("GET", "/readyz", nil))

	sessions, ok := body.Details["voice_sessions"].([]any)
	if !ok || len(sessions) != 1 {
		t.Fatalf("details = %#v, want one voice session", body.Details)
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	New([]Checker{{Name: "test", Check: ok}}).Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
			}
		})
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	t.Parallel()

	h := New([]Checker{{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	status, _ := readyz(t, h, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))
	if status != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", status, http.StatusServiceUnavailable)
	}
}
