package speech

import (
	"sync"
	"testing"
)

func TestLanguage_Set(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		start string
		code  string
		want  string
	}{
		{name: "set code", code: "de", want: "de"},
		{name: "replace code", start: "de", code: "fr-fr", want: "fr-fr"},
		{name: "verbatim", code: "xx-Unknown", want: "xx-Unknown"},
		{name: "whitespace kept", code: " fr ", want: " fr "},
		{name: "none clears", start: "de", code: "none", want: ""},
		{name: "reset clears", start: "de", code: "reset", want: ""},
		{name: "clear clears", start: "de", code: "clear", want: ""},
		{name: "case insensitive", start: "de", code: "NoNe", want: ""},
		{name: "padded clear word is a code", start: "de", code: " none", want: " none"},
		{name: "empty unsets", start: "de", code: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var l Language
			if tt.start != "" {
				l.Set(tt.start)
			}
			if got := l.Set(tt.code); got != tt.want {
				t.Errorf("Set(%q) = %q, want %q", tt.code, got, tt.want)
			}
			if got := l.Get(); got != tt.want {
				t.Errorf("Get() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLanguage_ZeroValueUnset(t *testing.T) {
	t.Parallel()
	var l Language
	if got := l.Get(); got != "" {
		t.Errorf("Get() = %q, want empty", got)
	}
}

func TestLanguage_Concurrent(t *testing.T) {
	t.Parallel()
	var l Language
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Go(func() {
			if i%2 == 0 {
				l.Set("de")
			} else {
				_ = l.Get()
			}
		})
	}
	wg.Wait()
	if got := l.Get(); got != "de" {
		t.Errorf("Get() = %q, want de", got)
	}
}
