// Package cognition runs the reply pipeline for one caller utterance:
// speech-to-text, chat completion against recent conversation history, then
// synthesis of the reply into wire-ready audio frames.
//
// The session hands the dispatcher a finished utterance and a [Sink]; the
// dispatcher drives every stage on the calling goroutine and reports results
// through the sink in protocol order: the user transcript before the reply
// transcript, the speaking notification before the first media frame. The
// sink, not the dispatcher, owns turn state. When the caller barges in the
// session cancels the job context and rejects further frames, and the
// dispatcher stops without emitting anything for the dead turn.
package cognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/avishka-hashara/crosstalk/internal/observe"
	"github.com/avishka-hashara/crosstalk/internal/transport"
	"github.com/avishka-hashara/crosstalk/pkg/audio"
	"github.com/avishka-hashara/crosstalk/pkg/memory"
	"github.com/avishka-hashara/crosstalk/pkg/provider/llm"
	"github.com/avishka-hashara/crosstalk/pkg/provider/stt"
	"github.com/avishka-hashara/crosstalk/pkg/provider/tts"
)

// DefaultSystemPrompt steers the model toward short spoken replies. Long or
// formatted answers read fine in a chat window but are unbearable on a call.
const DefaultSystemPrompt = "You are a witty, ultra-fast AI voice assistant. " +
	"Keep your answers strictly under 2 sentences. Speak naturally. " +
	"Do not use asterisks or formatting."

// Per-stage deadlines, each measured from the moment its stage starts. A
// caller holding a phone will not wait longer than this for an answer.
const (
	defaultSTTTimeout = 10 * time.Second
	defaultLLMTimeout = 15 * time.Second
	defaultTTSTimeout = 20 * time.Second
)

// ErrNoSpeech reports an utterance in which the transcriber heard nothing.
// The turn is abandoned without a reply; the session simply resumes listening.
var ErrNoSpeech = errors.New("cognition: no speech in utterance")

// Sink receives the dispatcher's outputs in pipeline order. The session
// implements Sink; all methods are called from the dispatching goroutine.
type Sink interface {
	// UserTranscript delivers the caller's transcribed words, before the
	// completion stage runs.
	UserTranscript(text string)

	// AssistantTranscript delivers the reply text, before synthesis starts.
	AssistantTranscript(text string)

	// BeginSpeaking announces that reply audio is about to flow. It is called
	// at most once, strictly before the first EnqueueFrame, so the state
	// change reaches the peer ahead of the media. A non-nil error means the
	// turn no longer owns the session (a barge-in won the race); the
	// dispatcher abandons the rest of the reply.
	BeginSpeaking() error

	// EnqueueFrame hands one wire-format audio frame to the outbound queue.
	// It may block while the queue is full and returns an error once the turn
	// is cancelled or the session is closing; the dispatcher abandons the
	// rest of the reply.
	EnqueueFrame(frame []byte) error

	// FinishSpeaking marks the reply complete: the last frame of the turn has
	// been enqueued. Called at most once, only after BeginSpeaking.
	FinishSpeaking()

	// FailTurn reports a turn that died before any frame was enqueued. The
	// session returns to listening; the connection stays up.
	FailTurn(err error)
}

// Job is one utterance handed to the dispatcher.
type Job struct {
	// SessionID scopes log lines to the owning session.
	SessionID string

	// UserID is the authenticated caller; history is read and written
	// under this key.
	UserID string

	// PCM is the complete utterance as 16-bit little-endian mono samples
	// at SampleRate.
	PCM []byte

	// SampleRate of PCM in Hz.
	SampleRate int

	// Profile fixes the wire format of the reply frames.
	Profile transport.Profile
}

// Dispatcher runs speech-to-text, completion and synthesis for one utterance
// at a time per call. It holds no per-turn state, so a single Dispatcher is
// shared by every session and is safe for concurrent use.
type Dispatcher struct {
	sttP  stt.Provider
	llmP  llm.Provider
	ttsP  tts.Provider
	store memory.ConversationStore

	// tunMu guards the conversation settings a config reload may swap via
	// Retune. Each turn snapshots them once at dispatch.
	tunMu        sync.RWMutex
	voice        tts.VoiceProfile
	systemPrompt string
	language     string

	historyLimit int

	sttTimeout time.Duration
	llmTimeout time.Duration
	ttsTimeout time.Duration

	metrics *observe.Metrics
	logger  *slog.Logger
}

// Option is a functional option for configuring a Dispatcher during construction.
type Option func(*Dispatcher)

// WithSystemPrompt replaces [DefaultSystemPrompt] as the fixed system message
// sent with every completion.
func WithSystemPrompt(prompt string) Option {
	return func(d *Dispatcher) { d.systemPrompt = prompt }
}

// WithHistoryLimit sets how many prior turns are loaded into the completion
// context. Default is [memory.DefaultHistoryLimit].
func WithHistoryLimit(n int) Option {
	return func(d *Dispatcher) { d.historyLimit = n }
}

// WithLanguage sets the transcription language hint passed to the STT
// provider. Empty (the default) lets the provider auto-detect.
func WithLanguage(lang string) Option {
	return func(d *Dispatcher) { d.language = lang }
}

// WithStageTimeouts overrides the per-stage deadlines. Non-positive values
// keep the corresponding default.
func WithStageTimeouts(sttT, llmT, ttsT time.Duration) Option {
	return func(d *Dispatcher) {
		if sttT > 0 {
			d.sttTimeout = sttT
		}
		if llmT > 0 {
			d.llmTimeout = llmT
		}
		if ttsT > 0 {
			d.ttsTimeout = ttsT
		}
	}
}

// WithLogger sets the base logger. Dispatch derives a per-job logger from it.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithMetrics sets the metrics sink. Default is [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// New constructs a Dispatcher over the given providers, history store and
// reply voice. Options are applied after defaults are set.
func New(sttP stt.Provider, llmP llm.Provider, ttsP tts.Provider, store memory.ConversationStore, voice tts.VoiceProfile, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sttP:         sttP,
		llmP:         llmP,
		ttsP:         ttsP,
		store:        store,
		voice:        voice,
		systemPrompt: DefaultSystemPrompt,
		historyLimit: memory.DefaultHistoryLimit,
		sttTimeout:   defaultSTTTimeout,
		llmTimeout:   defaultLLMTimeout,
		ttsTimeout:   defaultTTSTimeout,
		logger:       slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d
}

// Retune replaces the system prompt, language hint and reply voice used by
// subsequent turns, for live config reloads. In-flight turns keep the values
// they started with. An empty prompt restores [DefaultSystemPrompt].
func (d *Dispatcher) Retune(systemPrompt, language string, voice tts.VoiceProfile) {
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	d.tunMu.Lock()
	d.systemPrompt = systemPrompt
	d.language = language
	d.voice = voice
	d.tunMu.Unlock()
}

// ─── Pipeline ─────────────────────────────────────────────────────────────────

// Dispatch runs the full pipeline for one utterance and blocks until the turn
// resolves; the session runs it on the turn's own goroutine.
//
// Exactly one of Sink.FinishSpeaking or Sink.FailTurn is called, except when
// the job context is cancelled or the sink rejects the stream (BeginSpeaking
// or EnqueueFrame returning an error): then the session has already moved the
// turn state itself and Dispatch returns without a terminal call.
func (d *Dispatcher) Dispatch(ctx context.Context, job Job, sink Sink) {
	turnStart := time.Now()

	ctx, span := observe.StartSpan(ctx, "cognition.turn",
		trace.WithAttributes(
			attribute.String("session_id", job.SessionID),
			attribute.String("profile", job.Profile.Name),
		))
	defer span.End()

	logger := observe.Logger(ctx, d.logger).With("session_id", job.SessionID, "user_id", job.UserID)

	d.tunMu.RLock()
	voice, systemPrompt, language := d.voice, d.systemPrompt, d.language
	d.tunMu.RUnlock()

	if len(job.PCM) == 0 {
		sink.FailTurn(ErrNoSpeech)
		return
	}

	userText, sttDur, err := d.transcribe(ctx, job, language)
	if err != nil {
		d.failTurn(ctx, logger, sink, "stt", err)
		return
	}
	if userText == "" {
		logger.Debug("utterance contained no recognizable speech",
			"pcm_bytes", len(job.PCM))
		sink.FailTurn(ErrNoSpeech)
		return
	}

	sink.UserTranscript(userText)
	d.persistTurn(ctx, logger, memory.Turn{
		UserID:    job.UserID,
		Role:      memory.RoleUser,
		Content:   userText,
		Sentiment: scoreSentiment(userText),
		Latency:   sttDur,
	})

	reply, err := d.complete(ctx, logger, job.UserID, userText, systemPrompt)
	if err != nil {
		d.failTurn(ctx, logger, sink, "llm", err)
		return
	}
	sink.AssistantTranscript(reply)

	d.speak(ctx, logger, job, sink, reply, voice, turnStart)
}

// transcribe runs the STT stage under its own deadline and returns the
// trimmed transcript along with the stage duration.
func (d *Dispatcher) transcribe(ctx context.Context, job Job, language string) (string, time.Duration, error) {
	sttCtx, cancel := context.WithTimeout(ctx, d.sttTimeout)
	defer cancel()
	sttCtx, span := observe.StartSpan(sttCtx, "cognition.stt")
	defer span.End()

	start := time.Now()
	text, err := d.sttP.Transcribe(sttCtx, stt.Utterance{
		PCM:        job.PCM,
		SampleRate: job.SampleRate,
		Language:   language,
	})
	dur := time.Since(start)
	if err != nil {
		span.RecordError(err)
		return "", dur, err
	}
	d.metrics.STTDuration.Record(ctx, dur.Seconds())
	return strings.TrimSpace(text), dur, nil
}

// complete loads recent history and runs the completion stage under its own
// deadline. A history outage degrades the reply context rather than killing
// the turn.
func (d *Dispatcher) complete(ctx context.Context, logger *slog.Logger, userID, userText, systemPrompt string) (string, error) {
	llmCtx, cancel := context.WithTimeout(ctx, d.llmTimeout)
	defer cancel()
	llmCtx, span := observe.StartSpan(llmCtx, "cognition.llm")
	defer span.End()
	start := time.Now()

	history, err := d.store.ReadHistory(llmCtx, userID, d.historyLimit)
	if err != nil {
		logger.Warn("history read failed, replying without context", "error", err)
		history = nil
	}

	msgs := make([]llm.Message, 0, len(history)+1)
	for _, t := range history {
		role := llm.RoleUser
		if t.Role == memory.RoleAssistant {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t.Content})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: userText})

	resp, err := d.llmP.Complete(llmCtx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     msgs,
	})
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	reply := ""
	if resp != nil {
		reply = strings.TrimSpace(resp.Content)
	}
	if reply == "" {
		return "", errors.New("empty completion")
	}
	d.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	return reply, nil
}

// speak synthesizes the reply and streams it to the sink as wire frames. The
// assistant turn is persisted exactly once on every path out of this
// function: with the measured first-byte latency when audio arrived, with
// zero latency otherwise.
func (d *Dispatcher) speak(ctx context.Context, logger *slog.Logger, job Job, sink Sink, reply string, voice tts.VoiceProfile, turnStart time.Time) {
	ctx, span := observe.StartSpan(ctx, "cognition.tts")
	defer span.End()

	persisted := false
	persistReply := func(latency time.Duration) {
		if persisted {
			return
		}
		persisted = true
		d.persistTurn(ctx, logger, memory.Turn{
			UserID:    job.UserID,
			Role:      memory.RoleAssistant,
			Content:   reply,
			Sentiment: scoreSentiment(reply),
			Latency:   latency,
		})
	}
	defer persistReply(0)

	ttsCtx, cancel := context.WithTimeout(ctx, d.ttsTimeout)
	defer cancel()

	text := make(chan string, 1)
	text <- reply
	close(text)

	ttsStart := time.Now()
	audioCh, err := d.ttsP.SynthesizeStream(ttsCtx, text, voice)
	if err != nil {
		d.failTurn(ctx, logger, sink, "tts", err)
		return
	}

	enc, err := newReplyEncoder(d.ttsP.SampleRate(), job.Profile)
	if err != nil {
		// The provider keeps sending until ttsCtx dies; drain so it never blocks.
		go audio.Drain(audioCh)
		d.failTurn(ctx, logger, sink, "tts", err)
		return
	}

	frames := 0
	for {
		var chunk []byte
		var ok bool
		select {
		case chunk, ok = <-audioCh:
		case <-ttsCtx.Done():
		}
		if !ok || ttsCtx.Err() != nil {
			break
		}

		if !persisted {
			d.metrics.TTSFirstByte.Record(ctx, time.Since(ttsStart).Seconds())
			persistReply(time.Since(turnStart))
		}

		wire, encErr := enc.Push(chunk)
		if encErr != nil {
			logger.Error("reply encode failed", "error", encErr)
			go audio.Drain(audioCh)
			if frames == 0 {
				sink.FailTurn(fmt.Errorf("cognition: encode reply: %w", encErr))
			} else {
				sink.FinishSpeaking()
			}
			return
		}
		if !d.sendFrames(logger, sink, wire, &frames) {
			go audio.Drain(audioCh)
			return
		}
	}

	switch {
	case ctx.Err() != nil:
		// Barge-in or session shutdown; the session owns the state change.
		logger.Debug("synthesis cancelled", "frames", frames)
		return
	case ttsCtx.Err() != nil:
		err := fmt.Errorf("cognition: tts: %w", ttsCtx.Err())
		if frames == 0 {
			logger.Error("synthesis timed out before any audio", "timeout", d.ttsTimeout)
			sink.FailTurn(err)
		} else {
			logger.Warn("synthesis timed out mid-reply, cutting turn short", "frames", frames)
			sink.FinishSpeaking()
		}
		return
	}

	// Natural end of stream: pad out the trailing partial frame.
	if tail, ok := enc.Flush(); ok {
		if !d.sendFrames(logger, sink, [][]byte{tail}, &frames) {
			return
		}
	}
	if frames == 0 {
		sink.FailTurn(errors.New("cognition: synthesis produced no audio"))
		return
	}
	d.metrics.TurnDuration.Record(ctx, time.Since(turnStart).Seconds())
	sink.FinishSpeaking()
}

// sendFrames pushes encoded frames to the sink, announcing SPEAKING ahead of
// the first one. It reports false when the sink rejects the turn, in which
// case the dispatcher must return without a terminal call.
func (d *Dispatcher) sendFrames(logger *slog.Logger, sink Sink, wire [][]byte, frames *int) bool {
	for _, frame := range wire {
		if *frames == 0 {
			if err := sink.BeginSpeaking(); err != nil {
				logger.Debug("reply superseded before speaking", "error", err)
				return false
			}
		}
		if err := sink.EnqueueFrame(frame); err != nil {
			logger.Debug("reply abandoned mid-stream", "frames", *frames, "error", err)
			return false
		}
		*frames++
	}
	return true
}

// ─── Internal helpers ─────────────────────────────────────────────────────────

// failTurn reports a stage failure to the sink unless the job context is
// already cancelled, in which case the stage error is just a symptom of the
// barge-in and the session has handled the state change itself.
func (d *Dispatcher) failTurn(ctx context.Context, logger *slog.Logger, sink Sink, stage string, err error) {
	if ctx.Err() != nil {
		logger.Debug("turn cancelled", "stage", stage, "error", err)
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, stage)
	logger.Error("turn failed", "stage", stage, "error", err)
	sink.FailTurn(fmt.Errorf("cognition: %s: %w", stage, err))
}

// persistTurn writes one history row. Storage feeds future context and
// analytics, so a write failure is logged and swallowed rather than failing
// the live turn. The insert runs detached from the job context: a barge-in
// must not drop rows the peer already saw as transcripts.
func (d *Dispatcher) persistTurn(ctx context.Context, logger *slog.Logger, turn memory.Turn) {
	if err := d.store.AppendTurn(context.WithoutCancel(ctx), turn); err != nil {
		logger.Warn("failed to persist turn", "role", turn.Role, "error", err)
	}
}
