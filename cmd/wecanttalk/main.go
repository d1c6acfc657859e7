// Command wecanttalk runs the WeCantTalk Discord text-to-speech bot.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/wecanttalk/internal/app"
	"github.com/MrWong99/wecanttalk/internal/config"
	"github.com/MrWong99/wecanttalk/internal/observe"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "wecanttalk",
		Short: "Discord bot that speaks chat messages in voice channels",
		Long: `WeCantTalk joins your voice channel and reads out what you type,
using a Kokoro-compatible or Coqui speech service.

Configuration comes from an optional YAML file (--config) and the
environment variables DISCORD_TOKEN, KOKORO_API_URL, VOICE_ID and
MODEL_ID, which take precedence over the file.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBot(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to the YAML configuration file (environment only when empty)")

	root.AddCommand(newVoicesCmd(&configPath))
	return root
}

func newVoicesCmd(configPath *string) *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "voices",
		Short: "List the voices offered by the speech service",
		Long: `Lists the voices offered by the speech service and exits.

Examples:
  wecanttalk voices --url http://localhost:8880/v1/audio/speech
  wecanttalk voices --config config.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return listVoices(ctx, *configPath, url)
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "speech endpoint URL (overrides config and KOKORO_API_URL)")
	return cmd
}

func listVoices(ctx context.Context, configPath, url string) error {
	if url == "" {
		url = os.Getenv(config.EnvKokoroURL)
	}
	synthCfg := config.SynthesisConfig{URL: url}
	if url == "" || configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "wecanttalk: %v\n", err)
			return err
		}
		synthCfg = cfg.Synthesis
		if url != "" {
			synthCfg.URL = url
		}
	}

	p, err := app.NewSynthesizer(synthCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wecanttalk: %v\n", err)
		return err
	}
	voices, err := p.ListVoices(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wecanttalk: list voices: %v\n", err)
		return err
	}
	fmt.Println(strings.Join(voices, "\n"))
	return nil
}

func runBot(ctx context.Context, configPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Load configuration ────────────────────────────────────────────────────
	var (
		application atomic.Pointer[app.App]
		watcher     *config.Watcher
		cfg         *config.Config
		err         error
	)
	if configPath == "" {
		cfg, err = config.Load("")
	} else {
		watcher, err = config.NewWatcher(configPath, func(old, new *config.Config) {
			if a := application.Load(); a != nil {
				a.ApplyConfig(old, new)
			}
		})
		if err == nil {
			defer watcher.Stop()
			cfg = watcher.Current()
		}
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "wecanttalk: config file %q not found\n", configPath)
		} else {
			fmt.Fprintf(os.Stderr, "wecanttalk: %v\n", err)
		}
		return err
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("wecanttalk starting",
		"version", version,
		"config", configPath,
		"synthesis_provider", cfg.Synthesis.Provider,
		"synthesis_url", cfg.Synthesis.URL,
		"voice", cfg.Synthesis.Voice,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		StdoutTraces:   cfg.Telemetry.TraceStdout,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Application ───────────────────────────────────────────────────────────
	a, err := app.New(ctx, cfg, app.WithLogLevel(level))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return err
	}
	application.Store(a)

	slog.Info("bot ready, press Ctrl+C to shut down")

	runErr := a.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	} else {
		runErr = nil
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := a.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return err
	}
	slog.Info("goodbye")
	return runErr
}
