// Package console reads operator commands from a terminal and speaks them
// into the bot's active voice session.
//
// Recognised lines:
//
//	speakwith <voice> <message>   speak with a specific voice
//	setlang <code|none>           set or clear the language code
//	voices                        list the available voices
//	<anything else>               speak the line with the default voice
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/MrWong99/wecanttalk/internal/observe"
	"github.com/MrWong99/wecanttalk/internal/speech"
)

const (
	// Prompt is written before every line is read.
	Prompt = "Console> "

	defaultLineTimeout = 30 * time.Second
)

// Speaker is the part of the speech pipeline the console drives. It is
// satisfied by [*speech.Dispatcher].
type Speaker interface {
	ConsoleSpeak(ctx context.Context, voiceID, text string) speech.Reply
	Voices(ctx context.Context) speech.Reply
	SetLanguage(code string) speech.Reply
}

var _ Speaker = (*speech.Dispatcher)(nil)

// Console is a line-oriented command loop.
type Console struct {
	in      io.Reader
	out     io.Writer
	speaker Speaker
	timeout time.Duration
}

// Option configures a Console.
type Option func(*Console)

// WithLineTimeout bounds the handling of a single line. Defaults to 30s.
func WithLineTimeout(d time.Duration) Option {
	return func(c *Console) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// New creates a console reading from in and writing replies to out.
func New(in io.Reader, out io.Writer, speaker Speaker, opts ...Option) *Console {
	c := &Console{
		in:      in,
		out:     out,
		speaker: speaker,
		timeout: defaultLineTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run processes lines until in is exhausted or ctx is cancelled. A failing
// line is reported on out and never ends the loop. Run returns nil at end of
// input.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	for {
		c.prompt()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					if err != nil {
						return fmt.Errorf("console: read input: %w", err)
					}
				default:
				}
				return nil
			}
			if reply := c.Exec(ctx, line); reply != "" {
				fmt.Fprintln(c.out, reply)
			}
		}
	}
}

func (c *Console) prompt() {
	fmt.Fprint(c.out, Prompt)
}

// Exec handles a single console line and returns the text to print. Blank
// lines return "".
func (c *Console) Exec(ctx context.Context, line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	name, rest := cut(line)
	var r speech.Reply
	switch strings.ToLower(name) {
	case "speakwith":
		args := words(rest)
		if len(args) < 2 {
			return "Usage: speakwith <voice> <message>"
		}
		r = c.speaker.ConsoleSpeak(ctx, args[0], strings.Join(args[1:], " "))
	case "setlang":
		if rest == "" {
			return "Usage: setlang <lang_code|none>"
		}
		code, _ := cut(rest)
		r = c.speaker.SetLanguage(code)
	case "voices":
		r = c.speaker.Voices(ctx)
	default:
		r = c.speaker.ConsoleSpeak(ctx, "", line)
	}
	if r.Err != nil {
		observe.Logger(ctx).Debug("console command failed", "command", name, "err", r.Err)
	}
	return r.Message
}

// cut splits s at its first run of whitespace.
func cut(s string) (head, tail string) {
	i := strings.IndexAny(s, " \t")
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i:])
}

// words splits s honouring shell quoting so a voice name or message may be
// quoted. Text containing shell operators, which the parser would stop at,
// and unbalanced quotes fall back to plain whitespace splitting.
func words(s string) []string {
	if strings.ContainsAny(s, ";&|<>`$") {
		return strings.Fields(s)
	}
	args, err := shellwords.Parse(s)
	if err != nil {
		return strings.Fields(s)
	}
	return args
}
