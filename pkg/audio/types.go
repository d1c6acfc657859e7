package audio

import (
	"errors"
	"sync"
)

// Track is one unit of playback: an encoded audio file on local disk.
type Track struct {
	// Path is the location of the audio file (any container ffmpeg can read).
	Path string

	// OnFinish, if non-nil, is invoked exactly once when the track ends,
	// whether it completed (err == nil), was stopped or replaced
	// (err == [ErrStopped]) or failed. It runs on the player goroutine and
	// must not block.
	OnFinish func(err error)
}

// ErrStopped is passed to [Track.OnFinish] when playback was interrupted by
// [Connection.Stop], a replacing [Connection.Play] or a disconnect.
var ErrStopped = errors.New("audio: playback stopped")

// Finisher wraps a Track's OnFinish so that it runs at most once, no matter
// how many code paths try to complete the track. Platform implementations use
// it to uphold the exactly-once guarantee of [Track.OnFinish].
type Finisher struct {
	once sync.Once
	fn   func(error)
}

// NewFinisher returns a Finisher for t.
func NewFinisher(t Track) *Finisher {
	return &Finisher{fn: t.OnFinish}
}

// Finish invokes the wrapped callback with err the first time it is called.
func (f *Finisher) Finish(err error) {
	f.once.Do(func() {
		if f.fn != nil {
			f.fn(err)
		}
	})
}
