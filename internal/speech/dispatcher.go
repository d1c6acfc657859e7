// Package speech turns chat and console commands into audio in a voice
// channel. The [Dispatcher] is the single entry point used by every command
// surface: it sanitises the text, secures a voice session, asks the
// synthesis service for audio and hands the result to the player.
//
// Every dispatcher operation returns a [Reply] instead of an error. Failures
// are classified, logged and turned into a short user-facing message so that
// no single request can take down the command loops.
package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/wecanttalk/internal/events"
	"github.com/MrWong99/wecanttalk/internal/observe"
	"github.com/MrWong99/wecanttalk/internal/voice"
	"github.com/MrWong99/wecanttalk/pkg/audio"
	"github.com/MrWong99/wecanttalk/pkg/provider/tts"
)

// User-facing messages.
const (
	msgNotInVoice       = "You must be in a voice channel to use this command."
	msgEmptyText        = "There is nothing to say."
	msgChannelNotFound  = "Voice channel not found."
	msgSynthStatus      = "Failed to get TTS audio. Status: %d"
	msgSynthUnreachable = "Failed to get TTS audio: the speech service could not be reached."
	msgSessionClosed    = "The voice connection closed before playback could start."
	msgUnexpected       = "An unexpected error occurred."
	msgRaidFailed       = "Something went wrong during the raid."
	msgPlaying          = "Playing your message with voice `%s`%s!"
	msgRaided           = "Raided <#%s> with: `%s`%s"
	msgConsolePlaying   = "Speaking in guild %s with voice `%s`%s."
	msgStopped          = "Playback stopped."
	msgNothingPlaying   = "Nothing is playing right now."
	msgNoConnection     = "No active voice connection. Join a channel first."
	msgBusy             = "Voice channel is already playing audio."
	msgVoices           = "Available voices: %s"
	msgNoVoices         = "The speech service offers no voices."
	msgVoicesStatus     = "Failed to fetch voice list. Status: %d"
	msgVoicesFailed     = "Could not retrieve voice list."
	msgLangCleared      = "Language setting cleared. Now using default language behavior."
	msgLangSet          = "Language code set to `%s`."
)

// Reply is the outcome of a dispatcher operation.
type Reply struct {
	// Message is the text shown to the requester.
	Message string

	// Err is the classified cause of a failure, nil on success.
	Err error
}

// SessionRegistry is the subset of [voice.Registry] the dispatcher needs.
type SessionRegistry interface {
	Acquire(ctx context.Context, guildID, channelID string) (audio.Connection, error)
	Get(guildID string) (audio.Connection, bool)
	FirstAvailable() (guildID string, conn audio.Connection, ok bool)
	Sessions() []voice.SessionInfo
}

// ChannelResolver answers whether a channel is a voice channel of a guild.
type ChannelResolver interface {
	VoiceChannelExists(guildID, channelID string) bool
}

// SpeakRequest is a speak or speakwith command from a chat user.
type SpeakRequest struct {
	GuildID string

	// ChannelID is the requester's current voice channel, empty when the
	// requester is not in voice.
	ChannelID string

	// Voice overrides the default voice when non-empty.
	Voice string

	// Text is the raw message, mentions included.
	Text string

	// Mentions maps mentioned user IDs to display names.
	Mentions map[string]string

	// RequestID identifies the originating message. Generated when empty.
	RequestID string
}

// RaidRequest is a raid command: speak in an explicitly named channel.
type RaidRequest struct {
	GuildID   string
	ChannelID string
	Text      string
	Mentions  map[string]string
	RequestID string
}

// DispatcherConfig holds all dependencies for a [Dispatcher].
type DispatcherConfig struct {
	Sessions    SessionRegistry
	Synthesizer tts.Provider
	Spool       *Spool
	Language    *Language
	Channels    ChannelResolver

	// Events receives a record of every started playback. Optional.
	Events events.Publisher

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Model and DefaultVoice are sent with every request that does not name
	// its own voice.
	Model        string
	DefaultVoice string

	// Normalization defaults to [tts.DefaultNormalization].
	Normalization *tts.NormalizationOptions

	// ProviderName labels provider metrics. Defaults to "kokoro".
	ProviderName string
}

// Dispatcher runs the speech pipeline. It is safe for concurrent use.
type Dispatcher struct {
	sessions SessionRegistry
	synth    tts.Provider
	spool    *Spool
	lang     *Language
	channels ChannelResolver
	events   events.Publisher
	metrics  *observe.Metrics

	model    string
	norm     tts.NormalizationOptions
	provider string

	voiceMu sync.RWMutex
	voice   string
}

// NewDispatcher creates a Dispatcher with the given dependencies.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	var errs []error
	if cfg.Sessions == nil {
		errs = append(errs, errors.New("speech: sessions must not be nil"))
	}
	if cfg.Synthesizer == nil {
		errs = append(errs, errors.New("speech: synthesizer must not be nil"))
	}
	if cfg.Spool == nil {
		errs = append(errs, errors.New("speech: spool must not be nil"))
	}
	if cfg.Model == "" {
		errs = append(errs, errors.New("speech: model must not be empty"))
	}
	if cfg.DefaultVoice == "" {
		errs = append(errs, errors.New("speech: default voice must not be empty"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	d := &Dispatcher{
		sessions: cfg.Sessions,
		synth:    cfg.Synthesizer,
		spool:    cfg.Spool,
		lang:     cfg.Language,
		channels: cfg.Channels,
		events:   cfg.Events,
		metrics:  cfg.Metrics,
		model:    cfg.Model,
		voice:    cfg.DefaultVoice,
		norm:     tts.DefaultNormalization(),
		provider: cfg.ProviderName,
	}
	if cfg.Normalization != nil {
		d.norm = *cfg.Normalization
	}
	if d.lang == nil {
		d.lang = &Language{}
	}
	if d.events == nil {
		d.events = events.Nop{}
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	if d.provider == "" {
		d.provider = "kokoro"
	}
	return d, nil
}

// DefaultVoice returns the voice used when a request names none.
func (d *Dispatcher) DefaultVoice() string {
	d.voiceMu.RLock()
	defer d.voiceMu.RUnlock()
	return d.voice
}

// SetDefaultVoice replaces the default voice for subsequent requests. Empty
// values are ignored.
func (d *Dispatcher) SetDefaultVoice(voiceID string) {
	if voiceID == "" {
		return
	}
	d.voiceMu.Lock()
	d.voice = voiceID
	d.voiceMu.Unlock()
}

// ── chat operations ──

// Speak synthesises req.Text in the requester's voice channel, joining or
// moving the guild's voice session as needed.
func (d *Dispatcher) Speak(ctx context.Context, req SpeakRequest) Reply {
	ctx, span := observe.StartSpan(ctx, "speech.speak", trace.WithAttributes(
		attribute.String("guild_id", req.GuildID),
		attribute.String("channel_id", req.ChannelID),
	))
	defer span.End()

	if req.ChannelID == "" {
		return d.done(ctx, span, observe.KindSpeak, Reply{Message: msgNotInVoice, Err: ErrNotInVoice})
	}

	text := strings.TrimSpace(SanitizeMentions(req.Text, req.Mentions))
	if text == "" {
		return d.done(ctx, span, observe.KindSpeak, Reply{Message: msgEmptyText, Err: ErrEmptyText})
	}
	voiceID := req.Voice
	if voiceID == "" {
		voiceID = d.DefaultVoice()
	}
	lang := d.lang.Get()

	if _, err := d.sessions.Acquire(ctx, req.GuildID, req.ChannelID); err != nil {
		return d.done(ctx, span, observe.KindSpeak, d.failure(ctx, err, msgUnexpected))
	}

	err := d.deliver(ctx, utterance{
		kind:      observe.KindSpeak,
		eventKind: events.KindSpeak,
		guildID:   req.GuildID,
		voice:     voiceID,
		text:      text,
		lang:      lang,
		requestID: req.RequestID,
	})
	if err != nil {
		return d.done(ctx, span, observe.KindSpeak, d.failure(ctx, err, msgUnexpected))
	}
	return d.done(ctx, span, observe.KindSpeak, Reply{Message: fmt.Sprintf(msgPlaying, voiceID, langNote(lang))})
}

// Raid speaks req.Text with the default voice in an explicitly named voice
// channel of the guild. An unknown channel is rejected before any connection
// change or network call.
func (d *Dispatcher) Raid(ctx context.Context, req RaidRequest) Reply {
	ctx, span := observe.StartSpan(ctx, "speech.raid", trace.WithAttributes(
		attribute.String("guild_id", req.GuildID),
		attribute.String("channel_id", req.ChannelID),
	))
	defer span.End()

	if req.ChannelID == "" || d.channels == nil || !d.channels.VoiceChannelExists(req.GuildID, req.ChannelID) {
		err := &ChannelNotFoundError{ChannelID: req.ChannelID}
		return d.done(ctx, span, observe.KindRaid, Reply{Message: msgChannelNotFound, Err: err})
	}

	text := strings.TrimSpace(SanitizeMentions(req.Text, req.Mentions))
	if text == "" {
		return d.done(ctx, span, observe.KindRaid, Reply{Message: msgEmptyText, Err: ErrEmptyText})
	}
	lang := d.lang.Get()

	if _, err := d.sessions.Acquire(ctx, req.GuildID, req.ChannelID); err != nil {
		return d.done(ctx, span, observe.KindRaid, d.failure(ctx, err, msgRaidFailed))
	}

	err := d.deliver(ctx, utterance{
		kind:      observe.KindRaid,
		eventKind: events.KindRaid,
		guildID:   req.GuildID,
		voice:     d.DefaultVoice(),
		text:      text,
		lang:      lang,
		requestID: req.RequestID,
	})
	if err != nil {
		return d.done(ctx, span, observe.KindRaid, d.failure(ctx, err, msgRaidFailed))
	}
	return d.done(ctx, span, observe.KindRaid, Reply{Message: fmt.Sprintf(msgRaided, req.ChannelID, text, langNote(lang))})
}

// Stop halts playback in the guild. It never fails.
func (d *Dispatcher) Stop(ctx context.Context, guildID string) Reply {
	ctx, span := observe.StartSpan(ctx, "speech.stop", trace.WithAttributes(attribute.String("guild_id", guildID)))
	defer span.End()

	conn, ok := d.sessions.Get(guildID)
	if ok && conn.Stop() {
		return d.done(ctx, span, observe.KindStop, Reply{Message: msgStopped})
	}
	return d.done(ctx, span, observe.KindStop, Reply{Message: msgNothingPlaying})
}

// ── console operations ──

// ConsoleSpeak speaks text on the first voice session that is connected and
// idle. It never joins or moves a session. An empty voiceID selects the
// default voice.
func (d *Dispatcher) ConsoleSpeak(ctx context.Context, voiceID, text string) Reply {
	ctx, span := observe.StartSpan(ctx, "speech.console")
	defer span.End()

	text = strings.TrimSpace(text)
	if text == "" {
		return d.done(ctx, span, observe.KindConsole, Reply{Message: msgEmptyText, Err: ErrEmptyText})
	}
	if voiceID == "" {
		voiceID = d.DefaultVoice()
	}

	guildID, _, ok := d.sessions.FirstAvailable()
	if !ok {
		if d.anyConnected() {
			return d.done(ctx, span, observe.KindConsole, Reply{Message: msgBusy, Err: ErrBusy})
		}
		return d.done(ctx, span, observe.KindConsole, Reply{Message: msgNoConnection, Err: ErrNoActiveConnection})
	}
	span.SetAttributes(attribute.String("guild_id", guildID))
	lang := d.lang.Get()

	err := d.deliver(ctx, utterance{
		kind:      observe.KindConsole,
		eventKind: events.KindConsole,
		guildID:   guildID,
		voice:     voiceID,
		text:      text,
		lang:      lang,
		idleOnly:  true,
	})
	if err != nil {
		return d.done(ctx, span, observe.KindConsole, d.failure(ctx, err, msgUnexpected))
	}
	return d.done(ctx, span, observe.KindConsole, Reply{Message: fmt.Sprintf(msgConsolePlaying, guildID, voiceID, langNote(lang))})
}

// anyConnected reports whether some session still has a live transport.
// Dropped sessions do not count as busy.
func (d *Dispatcher) anyConnected() bool {
	for _, s := range d.sessions.Sessions() {
		if s.Connected {
			return true
		}
	}
	return false
}

// ── settings and catalogue ──

// Voices lists the voices offered by the synthesis service.
func (d *Dispatcher) Voices(ctx context.Context) Reply {
	ctx, span := observe.StartSpan(ctx, "speech.voices")
	defer span.End()

	voices, err := d.synth.ListVoices(ctx)
	if err != nil {
		d.metrics.RecordProviderRequest(ctx, d.provider, "voices", "error")
		d.metrics.RecordProviderError(ctx, d.provider, "voices")
		observe.Logger(ctx).Warn("list voices failed", "err", err)

		var f *tts.Failure
		if errors.As(err, &f) && !f.Transport {
			return d.done(ctx, span, observe.KindVoices, Reply{Message: fmt.Sprintf(msgVoicesStatus, f.StatusCode), Err: err})
		}
		return d.done(ctx, span, observe.KindVoices, Reply{Message: msgVoicesFailed, Err: err})
	}
	d.metrics.RecordProviderRequest(ctx, d.provider, "voices", "ok")

	if len(voices) == 0 {
		return d.done(ctx, span, observe.KindVoices, Reply{Message: msgNoVoices})
	}
	return d.done(ctx, span, observe.KindVoices, Reply{Message: fmt.Sprintf(msgVoices, strings.Join(voices, ", "))})
}

// SetLanguage sets or clears the process-wide language code.
func (d *Dispatcher) SetLanguage(code string) Reply {
	stored := d.lang.Set(code)
	if stored == "" {
		return Reply{Message: msgLangCleared}
	}
	return Reply{Message: fmt.Sprintf(msgLangSet, stored)}
}

// Language returns the current language code, "" when unset.
func (d *Dispatcher) Language() string {
	return d.lang.Get()
}

// ── pipeline ──

// utterance is one piece of text on its way to a voice channel.
type utterance struct {
	kind      string
	eventKind events.Kind
	guildID   string
	voice     string
	text      string
	lang      string
	requestID string

	// idleOnly refuses to interrupt ongoing playback.
	idleOnly bool
}

// deliver synthesises u and plays it on the guild's current session. The
// session is looked up again after synthesis because it may have been
// released or replaced in the meantime.
func (d *Dispatcher) deliver(ctx context.Context, u utterance) error {
	res, err := d.synthesize(ctx, tts.Request{
		Model:         d.model,
		Voice:         u.voice,
		Text:          u.text,
		Language:      u.lang,
		Normalization: d.norm,
	})
	if err != nil {
		return err
	}

	conn, ok := d.sessions.Get(u.guildID)
	if !ok || !conn.Connected() {
		return ErrSessionClosed
	}
	if u.idleOnly && conn.IsPlaying() {
		return ErrBusy
	}

	path, err := d.spool.Write(res.Audio, res.ContentType)
	if err != nil {
		return err
	}

	log := observe.Logger(ctx).With("guild_id", u.guildID, "channel_id", conn.ChannelID(), "file", path)
	track := audio.Track{
		Path: path,
		OnFinish: func(err error) {
			if rmErr := d.spool.Remove(path); rmErr != nil {
				log.Warn("remove artifact", "err", rmErr)
			}
			if err != nil && !errors.Is(err, audio.ErrStopped) {
				log.Warn("playback ended with error", "err", err)
				return
			}
			log.Debug("playback finished", "stopped", err != nil)
		},
	}
	if err := conn.Play(track); err != nil {
		return fmt.Errorf("speech: play: %w", err)
	}
	d.metrics.RecordPlayback(ctx, u.kind)
	log.Info("playing speech", "kind", u.kind, "voice", u.voice, "lang", u.lang, "bytes", len(res.Audio))

	requestID := u.requestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	ev := events.SpeechEvent{
		Kind:      u.eventKind,
		GuildID:   u.guildID,
		ChannelID: conn.ChannelID(),
		Voice:     u.voice,
		Language:  u.lang,
		Text:      u.text,
		RequestID: requestID,
		TraceID:   observe.CorrelationID(ctx),
		At:        time.Now().UTC(),
	}
	if err := d.events.Publish(ctx, ev); err != nil {
		log.Warn("publish speech event", "err", err)
	}
	return nil
}

// synthesize calls the provider once and records latency and outcome.
func (d *Dispatcher) synthesize(ctx context.Context, req tts.Request) (*tts.Result, error) {
	ctx, span := observe.StartSpan(ctx, "tts.synthesize", trace.WithAttributes(
		attribute.String("voice", req.Voice),
		attribute.String("lang", req.Language),
		attribute.Int("text_len", len(req.Text)),
	))
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := d.synth.Synthesize(ctx, req)
	d.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		d.metrics.RecordProviderRequest(ctx, d.provider, "tts", "error")
		d.metrics.RecordProviderError(ctx, d.provider, "tts")
		span.RecordError(err)
		span.SetStatus(codes.Error, "synthesis failed")
		return nil, err
	}
	d.metrics.RecordProviderRequest(ctx, d.provider, "tts", "ok")
	return res, nil
}

// failure turns a pipeline error into a reply. Unclassified errors are logged
// and reported with the generic message.
func (d *Dispatcher) failure(ctx context.Context, err error, generic string) Reply {
	var f *tts.Failure
	switch {
	case errors.As(err, &f):
		observe.Logger(ctx).Warn("synthesis failed", "status", f.StatusCode, "content_type", f.ContentType, "transport", f.Transport, "err", err)
		if f.Transport {
			return Reply{Message: msgSynthUnreachable, Err: err}
		}
		return Reply{Message: fmt.Sprintf(msgSynthStatus, f.StatusCode), Err: err}
	case errors.Is(err, ErrSessionClosed):
		return Reply{Message: msgSessionClosed, Err: err}
	case errors.Is(err, ErrBusy):
		return Reply{Message: msgBusy, Err: err}
	case errors.Is(err, voice.ErrNoChannel):
		return Reply{Message: msgNotInVoice, Err: ErrNotInVoice}
	default:
		observe.Logger(ctx).Error("speech request failed", "err", err)
		return Reply{Message: generic, Err: err}
	}
}

// done records the outcome of an operation and returns r.
func (d *Dispatcher) done(ctx context.Context, span trace.Span, kind string, r Reply) Reply {
	outcome := outcomeOf(r.Err)
	span.SetAttributes(attribute.String("outcome", outcome))
	if r.Err != nil && outcome == "error" {
		span.SetStatus(codes.Error, r.Err.Error())
	}
	d.metrics.RecordSpeechRequest(ctx, kind, outcome)
	return r
}

// outcomeOf maps an error to a low-cardinality metric label.
func outcomeOf(err error) string {
	var (
		f  *tts.Failure
		nf *ChannelNotFoundError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotInVoice):
		return "not_in_voice"
	case errors.As(err, &nf):
		return "channel_not_found"
	case errors.As(err, &f):
		return "synthesis_failed"
	case errors.Is(err, ErrEmptyText):
		return "empty_text"
	case errors.Is(err, ErrNoActiveConnection):
		return "no_connection"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrSessionClosed):
		return "session_closed"
	default:
		return "error"
	}
}

// langNote formats the language suffix of success messages.
func langNote(lang string) string {
	if lang == "" {
		return ""
	}
	return fmt.Sprintf(" (lang: `%s`)", lang)
}
