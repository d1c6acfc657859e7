package discord

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"
)

// DefaultFFmpegCommand turns any input file into raw 48 kHz stereo s16le PCM
// on stdout. {input} is replaced by the file path.
const DefaultFFmpegCommand = "ffmpeg -hide_banner -loglevel error -i {input} -f s16le -ar 48000 -ac 2 pipe:1"

// inputPlaceholder marks the argument that receives the track path.
const inputPlaceholder = "{input}"

// Decoder turns an encoded audio file into a raw PCM stream
// (48 kHz, stereo, signed 16-bit little-endian).
//
// Cancelling ctx must terminate the stream; the returned reader then yields an
// error or EOF. Close releases every resource held by the stream.
type Decoder interface {
	Decode(ctx context.Context, path string) (io.ReadCloser, error)
}

// FFmpegDecoder runs an external decoder process per track and streams its
// stdout.
type FFmpegDecoder struct {
	argv []string
}

// Compile-time interface assertion.
var _ Decoder = (*FFmpegDecoder)(nil)

// NewFFmpegDecoder parses command with shell quoting rules. The command must
// contain the {input} placeholder.
func NewFFmpegDecoder(command string) (*FFmpegDecoder, error) {
	if strings.TrimSpace(command) == "" {
		command = DefaultFFmpegCommand
	}
	parser := shellwords.NewParser()
	argv, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("discord: parse decoder command: %w", err)
	}
	if len(argv) == 0 {
		return nil, errors.New("discord: decoder command is empty")
	}
	if !strings.Contains(command, inputPlaceholder) {
		return nil, fmt.Errorf("discord: decoder command must contain %s", inputPlaceholder)
	}
	return &FFmpegDecoder{argv: argv}, nil
}

// args returns the argument vector for path with the placeholder substituted.
func (d *FFmpegDecoder) args(path string) []string {
	out := make([]string, len(d.argv))
	for i, a := range d.argv {
		out[i] = strings.ReplaceAll(a, inputPlaceholder, path)
	}
	return out
}

// Decode starts the decoder process for path.
func (d *FFmpegDecoder) Decode(ctx context.Context, path string) (io.ReadCloser, error) {
	argv := d.args(path)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("discord: decoder stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("discord: start decoder %q: %w", argv[0], err)
	}
	return &processStream{cmd: cmd, stdout: stdout}, nil
}

// processStream is the stdout of a running decoder process.
type processStream struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
}

func (p *processStream) Read(b []byte) (int, error) {
	return p.stdout.Read(b)
}

// Close closes stdout and reaps the process. A process killed by context
// cancellation or by the closed pipe is not an error.
func (p *processStream) Close() error {
	_ = p.stdout.Close()
	err := p.cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
