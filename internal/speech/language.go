package speech

import (
	"strings"
	"sync"
)

// clearWords reset the language setting, compared case-insensitively.
var clearWords = map[string]bool{
	"none":  true,
	"reset": true,
	"clear": true,
}

// Language is the process-wide optional language code sent with every
// synthesis request. The zero value is ready to use and unset. It is never
// persisted.
//
// Language is safe for concurrent use.
type Language struct {
	mu   sync.RWMutex
	code string
}

// Set replaces the language code and returns the value now stored. "none",
// "reset" and "clear" (in any case) clear it, so the result is "". Any other
// string, including surrounding whitespace, is stored verbatim and not
// validated locally.
func (l *Language) Set(code string) (stored string) {
	if clearWords[strings.ToLower(code)] {
		code = ""
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.code = code
	return code
}

// Get returns the current code, or "" when unset.
func (l *Language) Get() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.code
}
