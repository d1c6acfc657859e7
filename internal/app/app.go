// Package app wires all WeCantTalk subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run supervises the gateway, the console and the HTTP server,
// and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithGateway,
// WithSynthesizer, etc.). When an option is not provided, New creates the
// real implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/wecanttalk/internal/config"
	"github.com/MrWong99/wecanttalk/internal/console"
	"github.com/MrWong99/wecanttalk/internal/discord"
	"github.com/MrWong99/wecanttalk/internal/discord/commands"
	"github.com/MrWong99/wecanttalk/internal/events"
	"github.com/MrWong99/wecanttalk/internal/health"
	"github.com/MrWong99/wecanttalk/internal/observe"
	"github.com/MrWong99/wecanttalk/internal/speech"
	"github.com/MrWong99/wecanttalk/internal/voice"
	"github.com/MrWong99/wecanttalk/pkg/audio"
	discordaudio "github.com/MrWong99/wecanttalk/pkg/audio/discord"
	"github.com/MrWong99/wecanttalk/pkg/provider/tts"
	"github.com/MrWong99/wecanttalk/pkg/provider/tts/coqui"
	"github.com/MrWong99/wecanttalk/pkg/provider/tts/kokoro"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// Gateway is the chat platform connection. It is satisfied by
// [*discord.Bot].
type Gateway interface {
	Platform() audio.Platform
	Router() *discord.Router
	VoiceChannelExists(guildID, channelID string) bool
	UserVoiceChannel(guildID, userID string) string
	Check(ctx context.Context) error
	Run(ctx context.Context) error
	Close() error
}

var _ Gateway = (*discord.Bot)(nil)

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	// Injectable dependencies.
	gateway    Gateway
	synth      tts.Provider
	publisher  events.Publisher
	metrics    *observe.Metrics
	level      *slog.LevelVar
	consoleIn  io.Reader
	consoleOut io.Writer

	// Subsystems, initialised in New and torn down in Shutdown.
	registry   *voice.Registry
	spool      *speech.Spool
	dispatcher *speech.Dispatcher
	console    *console.Console
	server     *http.Server

	// closers are called in order during Shutdown, after the registry.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithGateway injects a gateway instead of connecting a Discord bot.
func WithGateway(g Gateway) Option {
	return func(a *App) { a.gateway = g }
}

// WithSynthesizer injects a synthesis provider instead of a Kokoro client.
func WithSynthesizer(p tts.Provider) Option {
	return func(a *App) { a.synth = p }
}

// WithPublisher injects an event publisher instead of creating one from
// config.
func WithPublisher(p events.Publisher) Option {
	return func(a *App) { a.publisher = p }
}

// WithMetrics sets the metrics instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel hands the application the level variable of the process
// logger so configuration reloads can change it.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithConsoleIO replaces stdin and stdout for the console.
func WithConsoleIO(in io.Reader, out io.Writer) Option {
	return func(a *App) {
		a.consoleIn = in
		a.consoleOut = out
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Unless a gateway is
// injected, New connects to Discord before returning.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
		a.level.Set(cfg.Server.LogLevel.SlogLevel())
	}

	// ── 1. Synthesis client ──────────────────────────────────────────────
	if err := a.initSynthesizer(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init synthesizer: %w", err)
	}

	// ── 2. Speech events ─────────────────────────────────────────────────
	if err := a.initEvents(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init events: %w", err)
	}

	// ── 3. Spool ─────────────────────────────────────────────────────────
	spool, err := speech.NewSpool(cfg.Playback.SpoolDir)
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init spool: %w", err)
	}
	if n, err := spool.Sweep(); err != nil {
		slog.Warn("sweep spool", "dir", spool.Dir(), "err", err)
	} else if n > 0 {
		slog.Info("removed stale audio artifacts", "dir", spool.Dir(), "count", n)
	}
	a.spool = spool

	// ── 4. Discord gateway ───────────────────────────────────────────────
	if err := a.initGateway(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init gateway: %w", err)
	}

	// ── 5. Voice sessions + dispatcher ───────────────────────────────────
	a.registry = voice.NewRegistry(a.gateway.Platform(), voice.WithMetrics(a.metrics))
	a.dispatcher, err = speech.NewDispatcher(speech.DispatcherConfig{
		Sessions:     a.registry,
		Synthesizer:  a.synth,
		Spool:        a.spool,
		Channels:     a.gateway,
		Events:       a.publisher,
		Metrics:      a.metrics,
		Model:        cfg.Synthesis.Model,
		DefaultVoice: cfg.Synthesis.Voice,
		ProviderName: string(cfg.Synthesis.Provider),
	})
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init dispatcher: %w", err)
	}

	// ── 6. Command surfaces ──────────────────────────────────────────────
	commands.NewSpeechCommands(a.gateway.Router(), a.dispatcher, a.gateway)
	if cfg.Console.IsEnabled() {
		in, out := a.consoleIn, a.consoleOut
		if in == nil {
			in = os.Stdin
		}
		if out == nil {
			out = os.Stdout
		}
		a.console = console.New(in, out, a.dispatcher)
	}

	// ── 7. HTTP server ───────────────────────────────────────────────────
	if cfg.Server.ListenAddr != "" {
		a.server = &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           a.Handler(),
			ReadHeaderTimeout: readHeaderTimeout,
		}
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initSynthesizer() error {
	if a.synth != nil {
		return nil
	}
	p, err := NewSynthesizer(a.cfg.Synthesis)
	if err != nil {
		return err
	}
	a.synth = p
	return nil
}

// NewSynthesizer builds the speech backend selected by cfg.Provider.
func NewSynthesizer(cfg config.SynthesisConfig) (tts.Provider, error) {
	switch cfg.Provider {
	case config.BackendCoqui:
		mode, err := coqui.ParseAPIMode(cfg.CoquiMode)
		if err != nil {
			return nil, err
		}
		opts := []coqui.Option{coqui.WithAPIMode(mode), coqui.WithTimeout(cfg.Timeout)}
		if cfg.Language != "" {
			opts = append(opts, coqui.WithLanguage(cfg.Language))
		}
		return coqui.New(cfg.URL, opts...)
	case config.BackendKokoro, "":
		opts := []kokoro.Option{kokoro.WithTimeout(cfg.Timeout)}
		if cfg.VoicesURL != "" {
			opts = append(opts, kokoro.WithVoicesURL(cfg.VoicesURL))
		}
		return kokoro.New(cfg.URL, opts...)
	default:
		return nil, fmt.Errorf("unknown synthesis provider %q", cfg.Provider)
	}
}

func (a *App) initEvents() error {
	if a.publisher != nil {
		return nil
	}
	if a.cfg.Events.NATSURL == "" {
		a.publisher = events.Nop{}
		return nil
	}
	p, err := events.NewNATSPublisher(events.NATSConfig{
		URL:     a.cfg.Events.NATSURL,
		Subject: a.cfg.Events.Subject,
	})
	if err != nil {
		return err
	}
	a.publisher = p
	a.closers = append(a.closers, p.Close)
	return nil
}

func (a *App) initGateway(ctx context.Context) error {
	if a.gateway != nil {
		return nil
	}
	decoder, err := discordaudio.NewFFmpegDecoder(a.cfg.Playback.FFmpegCommand)
	if err != nil {
		return err
	}
	bot, err := discord.New(ctx, discord.Config{
		Token:         a.cfg.Discord.Token,
		CommandPrefix: a.cfg.Discord.CommandPrefix,
		AudioOptions:  []discordaudio.Option{discordaudio.WithDecoder(decoder)},
	})
	if err != nil {
		return err
	}
	a.gateway = bot
	a.closers = append(a.closers, bot.Close)
	return nil
}

// Dispatcher returns the speech dispatcher.
func (a *App) Dispatcher() *speech.Dispatcher {
	return a.dispatcher
}

// Handler returns the HTTP handler serving health probes and metrics.
func (a *App) Handler() http.Handler {
	checkers := []health.Checker{
		{Name: "discord", Check: a.gateway.Check},
		{Name: "synthesis", Check: func(ctx context.Context) error {
			_, err := a.synth.ListVoices(ctx)
			return err
		}},
	}
	if hp, ok := a.publisher.(interface{ Healthy() bool }); ok {
		checkers = append(checkers, health.Checker{Name: "events", Check: func(context.Context) error {
			if !hp.Healthy() {
				return errors.New("nats not connected")
			}
			return nil
		}})
	}
	h := health.New(checkers, health.WithDetail("voice_sessions", func() any {
		return a.registry.Sessions()
	}))

	mux := http.NewServeMux()
	h.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	return observe.Middleware(a.metrics)(mux)
}

// ─── Config reload ───────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable differences between old and new:
// the log level and the default voice. Every other change is logged as
// requiring a restart. It is meant as a [config.Watcher] callback.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged {
		a.level.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.VoiceChanged {
		a.dispatcher.SetDefaultVoice(d.NewVoice)
		slog.Info("default voice changed", "voice", d.NewVoice)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("configuration changes need a restart to take effect", "fields", d.RestartRequired)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run supervises the gateway, the console and the HTTP server and blocks
// until ctx is cancelled or one of them fails. The console ending at end of
// input does not stop the application.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.gateway.Run(gctx)
	})

	if a.console != nil {
		g.Go(func() error {
			err := a.console.Run(gctx)
			if err == nil {
				slog.Info("console input closed")
			}
			return err
		})
	}

	if a.server != nil {
		g.Go(func() error {
			slog.Info("http server listening", "addr", a.server.Addr)
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer cancel()
			return a.server.Shutdown(sctx)
		})
	}

	slog.Info("wecanttalk running", "prefix", a.cfg.Discord.CommandPrefix, "voice", a.dispatcher.DefaultVoice())
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown disconnects every voice session, then runs the remaining closers
// in order. It respects the context deadline: if ctx expires before all
// closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.registry != nil {
			if err := a.registry.Close(); err != nil {
				slog.Warn("voice sessions close error", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases whatever New created before failing.
func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
	a.closers = nil
}
