package discord

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/wecanttalk/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

// ─── compile-time interface assertions ───────────────────────────────────────

var _ audio.Platform = (*Platform)(nil)
var _ audio.Connection = (*Connection)(nil)

// ─── test helpers ─────────────────────────────────────────────────────────────

// fakeDecoder returns canned PCM, or a stream that blocks until the playback
// context is cancelled when block is set.
type fakeDecoder struct {
	mu    sync.Mutex
	pcm   []byte
	block bool
	err   error
	paths []string
}

func (d *fakeDecoder) Decode(ctx context.Context, path string) (io.ReadCloser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paths = append(d.paths, path)
	if d.err != nil {
		return nil, d.err
	}
	if d.block {
		return &blockingStream{ctx: ctx}, nil
	}
	return io.NopCloser(bytes.NewReader(d.pcm)), nil
}

// blockingStream yields silence frames until its context ends.
type blockingStream struct {
	ctx context.Context
}

func (s *blockingStream) Read(b []byte) (int, error) {
	select {
	case <-s.ctx.Done():
		return 0, io.EOF
	case <-time.After(time.Millisecond):
		clear(b)
		return len(b), nil
	}
}

func (s *blockingStream) Close() error { return nil }

// newTestConnection creates a Connection suitable for unit testing without a
// real Discord voice connection.
func newTestConnection(t *testing.T, dec Decoder) (*Connection, chan []byte) {
	t.Helper()
	send := make(chan []byte, 256)
	c := &Connection{
		guildID:      "guild-test",
		channelID:    "chan-1",
		decoder:      dec,
		opusSend:     send,
		speaking:     func(bool) error { return nil },
		moveVC:       func(string) error { return nil },
		disconnectVC: func() error { return nil },
		alive:        func() bool { return true },
	}
	t.Cleanup(func() { _ = c.Disconnect() })
	return c, send
}

// drain consumes Opus packets until the channel is quiet.
func drain(send chan []byte) {
	go func() {
		for range send {
		}
	}()
}

func waitFinish(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnFinish")
		return nil
	}
}

// ─── Platform tests ──────────────────────────────────────────────────────────

func TestNewPlatform(t *testing.T) {
	t.Parallel()

	s := &discordgo.Session{}
	p, err := New(s)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.session != s {
		t.Error("session not stored correctly")
	}
	if _, ok := p.decoder.(*FFmpegDecoder); !ok {
		t.Errorf("default decoder = %T, want *FFmpegDecoder", p.decoder)
	}

	dec := &fakeDecoder{}
	p, err = New(s, WithDecoder(dec))
	if err != nil {
		t.Fatalf("New with decoder: %v", err)
	}
	if p.decoder != dec {
		t.Error("WithDecoder not applied")
	}
}

// ─── Decoder tests ───────────────────────────────────────────────────────────

func TestNewFFmpegDecoder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		command string
		wantErr bool
	}{
		{name: "default", command: DefaultFFmpegCommand},
		{name: "empty falls back to default", command: ""},
		{name: "quoted args", command: `ffmpeg -i "{input}" -af "volume=0.8" -f s16le pipe:1`},
		{name: "missing placeholder", command: "ffmpeg -i file.mp3 pipe:1", wantErr: true},
		{name: "unterminated quote", command: `ffmpeg -i "{input}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewFFmpegDecoder(tt.command)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewFFmpegDecoder(%q) error = %v, wantErr %v", tt.command, err, tt.wantErr)
			}
		})
	}
}

func TestFFmpegDecoder_Args(t *testing.T) {
	t.Parallel()

	d, err := NewFFmpegDecoder(`ffmpeg -i "{input}" -af "volume=0.8" pipe:1`)
	if err != nil {
		t.Fatalf("NewFFmpegDecoder: %v", err)
	}
	got := d.args("/tmp/my file.mp3")
	want := []string{"ffmpeg", "-i", "/tmp/my file.mp3", "-af", "volume=0.8", "pipe:1"}
	if len(got) != len(want) {
		t.Fatalf("args = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("args[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

// ─── Connection tests ─────────────────────────────────────────────────────────

func TestConnection_PlayEncodesFrames(t *testing.T) {
	t.Parallel()

	// Two and a half frames: the trailing half frame is padded.
	pcm := make([]byte, opusFrameBytes*2+opusFrameBytes/2)
	c, send := newTestConnection(t, &fakeDecoder{pcm: pcm})

	finished := make(chan error, 1)
	if err := c.Play(audio.Track{Path: "a.mp3", OnFinish: func(err error) { finished <- err }}); err != nil {
		t.Fatalf("Play: %v", err)
	}

	if err := waitFinish(t, finished); err != nil {
		t.Fatalf("OnFinish err = %v, want nil", err)
	}
	if got := len(send); got != 3 {
		t.Errorf("Opus packets = %d, want 3", got)
	}
	if c.IsPlaying() {
		t.Error("IsPlaying = true after track completed")
	}
}

func TestConnection_StopInterrupts(t *testing.T) {
	t.Parallel()

	c, send := newTestConnection(t, &fakeDecoder{block: true})
	drain(send)

	finished := make(chan error, 1)
	if err := c.Play(audio.Track{Path: "a.mp3", OnFinish: func(err error) { finished <- err }}); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if !c.IsPlaying() {
		t.Fatal("IsPlaying = false right after Play")
	}

	if !c.Stop() {
		t.Error("Stop = false, want true while playing")
	}
	if err := waitFinish(t, finished); !errors.Is(err, audio.ErrStopped) {
		t.Errorf("OnFinish err = %v, want ErrStopped", err)
	}
	if c.Stop() {
		t.Error("second Stop = true, want false")
	}
}

func TestConnection_PlayReplaces(t *testing.T) {
	t.Parallel()

	dec := &fakeDecoder{block: true}
	c, send := newTestConnection(t, dec)
	drain(send)

	first := make(chan error, 1)
	second := make(chan error, 1)
	if err := c.Play(audio.Track{Path: "one.mp3", OnFinish: func(err error) { first <- err }}); err != nil {
		t.Fatalf("Play one: %v", err)
	}
	if err := c.Play(audio.Track{Path: "two.mp3", OnFinish: func(err error) { second <- err }}); err != nil {
		t.Fatalf("Play two: %v", err)
	}

	// The replaced track has finished by the time Play returns.
	select {
	case err := <-first:
		if !errors.Is(err, audio.ErrStopped) {
			t.Errorf("first OnFinish err = %v, want ErrStopped", err)
		}
	default:
		t.Fatal("first track's OnFinish did not run before Play returned")
	}
	if !c.IsPlaying() {
		t.Error("IsPlaying = false, want second track playing")
	}

	c.Stop()
	_ = waitFinish(t, second)
}

func TestConnection_DecodeError(t *testing.T) {
	t.Parallel()

	c, _ := newTestConnection(t, &fakeDecoder{err: errors.New("no ffmpeg")})

	calls := 0
	err := c.Play(audio.Track{Path: "a.mp3", OnFinish: func(error) { calls++ }})
	if err == nil {
		t.Fatal("Play: want error, got nil")
	}
	if calls != 1 {
		t.Errorf("OnFinish calls = %d, want 1", calls)
	}
	if c.IsPlaying() {
		t.Error("IsPlaying = true after decode failure")
	}
}

func TestConnection_MoveTo(t *testing.T) {
	t.Parallel()

	c, _ := newTestConnection(t, &fakeDecoder{})
	var moves []string
	c.moveVC = func(ch string) error {
		moves = append(moves, ch)
		return nil
	}

	if err := c.MoveTo(t.Context(), "chan-1"); err != nil {
		t.Fatalf("MoveTo same channel: %v", err)
	}
	if len(moves) != 0 {
		t.Errorf("moves = %v, want none for same channel", moves)
	}

	if err := c.MoveTo(t.Context(), "chan-2"); err != nil {
		t.Fatalf("MoveTo: %v", err)
	}
	if c.ChannelID() != "chan-2" {
		t.Errorf("ChannelID = %q, want chan-2", c.ChannelID())
	}

	c.moveVC = func(string) error { return errors.New("gateway down") }
	if err := c.MoveTo(t.Context(), "chan-3"); err == nil {
		t.Error("MoveTo with failing transport: want error")
	}
	if c.ChannelID() != "chan-2" {
		t.Errorf("ChannelID after failed move = %q, want chan-2", c.ChannelID())
	}
}

func TestConnection_DisconnectIdempotent(t *testing.T) {
	t.Parallel()

	c, send := newTestConnection(t, &fakeDecoder{block: true})
	drain(send)

	disconnects := 0
	c.disconnectVC = func() error {
		disconnects++
		return nil
	}

	finished := make(chan error, 1)
	_ = c.Play(audio.Track{Path: "a.mp3", OnFinish: func(err error) { finished <- err }})

	for i := range 3 {
		if err := c.Disconnect(); err != nil {
			t.Fatalf("Disconnect[%d]: %v", i, err)
		}
	}
	if disconnects != 1 {
		t.Errorf("transport disconnects = %d, want 1", disconnects)
	}
	if err := waitFinish(t, finished); !errors.Is(err, audio.ErrStopped) {
		t.Errorf("OnFinish err = %v, want ErrStopped", err)
	}
	if c.Connected() {
		t.Error("Connected = true after Disconnect")
	}
	if err := c.Play(audio.Track{Path: "b.mp3"}); !errors.Is(err, audio.ErrDisconnected) {
		t.Errorf("Play after Disconnect = %v, want ErrDisconnected", err)
	}
	if err := c.MoveTo(t.Context(), "chan-9"); !errors.Is(err, audio.ErrDisconnected) {
		t.Errorf("MoveTo after Disconnect = %v, want ErrDisconnected", err)
	}
}

func TestConnection_ConnectedFollowsTransport(t *testing.T) {
	t.Parallel()

	c, _ := newTestConnection(t, &fakeDecoder{})
	if !c.Connected() {
		t.Fatal("Connected = false, want true")
	}
	c.alive = func() bool { return false }
	if c.Connected() {
		t.Error("Connected = true after transport dropped")
	}
}

// TestConnection_ConcurrentStopPlay exercises Play, Stop and Disconnect from
// multiple goroutines (run with -race).
func TestConnection_ConcurrentStopPlay(t *testing.T) {
	t.Parallel()

	c, send := newTestConnection(t, &fakeDecoder{block: true})
	drain(send)

	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			_ = c.Play(audio.Track{Path: "x.mp3"})
			c.Stop()
			_ = c.IsPlaying()
		})
	}
	wg.Wait()
	_ = c.Disconnect()
}
