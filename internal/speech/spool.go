package speech

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const artifactPrefix = "tts_"

// artifactSuffixes maps audio content types to file extensions. Anything not
// listed is stored as ".mp3".
var artifactSuffixes = map[string]string{
	"audio/wav":   ".wav",
	"audio/x-wav": ".wav",
	"audio/wave":  ".wav",
	"audio/ogg":   ".ogg",
	"audio/opus":  ".opus",
	"audio/flac":  ".flac",
}

func suffixFor(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	if ext, ok := artifactSuffixes[strings.ToLower(strings.TrimSpace(mt))]; ok {
		return ext
	}
	return ".mp3"
}

func isArtifact(name string) bool {
	if !strings.HasPrefix(name, artifactPrefix) {
		return false
	}
	ext := filepath.Ext(name)
	if ext == ".mp3" {
		return true
	}
	for _, known := range artifactSuffixes {
		if ext == known {
			return true
		}
	}
	return false
}

// Spool stores synthesised audio as short-lived files the player can read.
// Every artifact gets a unique name, so concurrent requests never overwrite
// each other's audio.
type Spool struct {
	dir string
}

// NewSpool creates dir if needed and returns a Spool writing into it.
func NewSpool(dir string) (*Spool, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "wecanttalk")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("speech: create spool dir: %w", err)
	}
	return &Spool{dir: dir}, nil
}

// Dir returns the spool directory.
func (s *Spool) Dir() string { return s.dir }

// Write stores audio in a new artifact and returns its path. The file
// extension follows contentType.
func (s *Spool) Write(audio []byte, contentType string) (string, error) {
	path := filepath.Join(s.dir, artifactPrefix+uuid.NewString()+suffixFor(contentType))
	if err := os.WriteFile(path, audio, 0o600); err != nil {
		return "", fmt.Errorf("speech: write artifact: %w", err)
	}
	return path, nil
}

// Remove deletes an artifact. A missing file is not an error.
func (s *Spool) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("speech: remove artifact: %w", err)
	}
	return nil
}

// Sweep deletes artifacts left behind by a previous run and returns how many
// were removed.
func (s *Spool) Sweep() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("speech: read spool dir: %w", err)
	}
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !isArtifact(name) {
			continue
		}
		if err := s.Remove(filepath.Join(s.dir, name)); err != nil {
			slog.Warn("speech: sweep artifact", "file", name, "err", err)
			continue
		}
		removed++
	}
	return removed, nil
}
