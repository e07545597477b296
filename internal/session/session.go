// Package session wires one websocket call to the cognition pipeline: a VAD
// feeds the turn-taking state machine, finished utterances are handed to the
// dispatcher, and the reply is paced back to the peer frame by frame.
//
// Each session runs two long-lived goroutines. The ingest loop reads inbound
// envelopes, scores frames for speech and drives the state machine; the
// egress loop is the sole writer of media, popping queued reply frames and
// sending one per outbound interval. A third, short-lived goroutine carries
// the cognition job while the session is in THINKING or SPEAKING. The queue
// between cognition and egress is generation-tagged so a barge-in can cut a
// reply off without racing the pacer.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/avishka-hashara/crosstalk/internal/cognition"
	"github.com/avishka-hashara/crosstalk/internal/observe"
	"github.com/avishka-hashara/crosstalk/internal/transport"
	"github.com/avishka-hashara/crosstalk/internal/turn"
	"github.com/avishka-hashara/crosstalk/pkg/audio"
	"github.com/avishka-hashara/crosstalk/pkg/provider/vad"
)

// ErrInvariant marks a broken session-level invariant, such as a second
// cognition job launching while one is still in flight. The session closes
// the connection with an error status and terminates.
var ErrInvariant = errors.New("session: internal invariant violated")

// outboundQueueWindow bounds how far ahead of real time synthesis may run.
// Once the queue holds this much audio, EnqueueFrame blocks the dispatcher.
const outboundQueueWindow = 3 * time.Second

// Conn is the transport surface a session drives. [*transport.Adapter]
// implements it over a websocket; tests substitute an in-memory fake.
type Conn interface {
	ReadEnvelope(ctx context.Context) (transport.Envelope, error)
	WriteMedia(ctx context.Context, frame []byte) error
	WriteState(ctx context.Context, state string) error
	WriteTranscript(ctx context.Context, role, text string) error
	WriteClear(ctx context.Context) error
	Close() error
	CloseWithError(reason string) error
}

var _ Conn = (*transport.Adapter)(nil)

// Dispatcher runs the cognition pipeline for one finished utterance.
type Dispatcher interface {
	Dispatch(ctx context.Context, job cognition.Job, sink cognition.Sink)
}

var _ Dispatcher = (*cognition.Dispatcher)(nil)

// ─── Session ─────────────────────────────────────────────────────────────────

// Session is the per-call mediation core.
type Session struct {
	id      string
	userID  string
	profile transport.Profile

	conn Conn
	vadS vad.SessionHandle
	disp Dispatcher

	// turnMu serializes the state machine between the ingest loop, the
	// cognition goroutine and the egress loop.
	turnMu sync.Mutex
	turns  *turn.Manager

	// utterance is touched only by the ingest loop.
	utterance utteranceBuffer

	queue *OutboundQueue

	jobMu sync.Mutex
	job   *jobHandle
	jobWG sync.WaitGroup

	logger  *slog.Logger
	metrics *observe.Metrics
}

type jobHandle struct {
	cancel context.CancelFunc
}

// Option configures a Session.
type Option func(*Session)

// WithID overrides the generated session ID.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// WithTurnConfig overrides the turn thresholds derived from the profile's
// frame duration.
func WithTurnConfig(cfg turn.Config) Option {
	return func(s *Session) { s.turns = turn.NewManager(cfg) }
}

// WithLogger sets the base logger. The session annotates it with its own
// identity.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithQueueCapacity overrides the outbound queue depth, in frames.
func WithQueueCapacity(frames int) Option {
	return func(s *Session) { s.queue = NewOutboundQueue(frames) }
}

// New assembles a session over an accepted connection. The VAD session must
// match the profile's sample rate and encoding; Serve on the [Manager] takes
// care of that.
func New(conn Conn, vadSession vad.SessionHandle, disp Dispatcher, userID string, profile transport.Profile, opts ...Option) *Session {
	s := &Session{
		id:      uuid.NewString(),
		userID:  userID,
		profile: profile,
		conn:    conn,
		vadS:    vadSession,
		disp:    disp,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.turns == nil {
		s.turns = turn.NewManager(turn.ConfigForFrameDuration(profile.FrameDuration))
	}
	if s.queue == nil {
		interval := profile.OutboundInterval
		if interval <= 0 {
			interval = profile.FrameDuration
		}
		s.queue = NewOutboundQueue(int(outboundQueueWindow / interval))
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.logger = s.logger.With("session_id", s.id, "user_id", userID, "profile", profile.Name)
	return s
}

// ID returns the session's identifier.
func (s *Session) ID() string {
	return s.id
}

// Run drives the session until the peer disconnects, the context is
// cancelled or an invariant breaks. It owns all session goroutines and tears
// them down before returning. A peer hanging up normally returns nil.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.metrics.ActiveSessions.Add(ctx, 1)
	defer s.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
	s.logger.Info("session started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// When the reader stops, for any reason, the whole session stops.
		defer cancel()
		return s.ingest(gctx)
	})
	g.Go(func() error {
		return s.egress(gctx)
	})
	err := g.Wait()

	s.cancelJob()
	s.queue.Close()
	s.jobWG.Wait()
	if cerr := s.vadS.Close(); cerr != nil {
		s.logger.Warn("failed to close vad session", "error", cerr)
	}

	switch {
	case err == nil || errors.Is(err, context.Canceled) || transport.IsNormalClose(err):
		s.logger.Info("session ended")
		s.conn.Close()
		return nil
	case errors.Is(err, ErrInvariant):
		s.logger.Error("session aborted", "error", err)
		s.conn.CloseWithError("internal error")
		return err
	default:
		s.logger.Warn("session ended abnormally", "error", err)
		s.conn.Close()
		return err
	}
}

// ─── Ingest ──────────────────────────────────────────────────────────────────

// ingest reads envelopes until the transport fails. Malformed messages and
// bad media frames are counted and skipped; only read errors and invariant
// violations terminate the loop.
func (s *Session) ingest(ctx context.Context) error {
	for {
		env, err := s.conn.ReadEnvelope(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrMalformed) {
				s.metrics.DecodeErrors.Add(ctx, 1)
				s.logger.Warn("skipping malformed message", "error", err)
				continue
			}
			return err
		}
		if !env.IsMedia() {
			// Non-media events from the peer are accepted and ignored.
			continue
		}
		if err := s.ingestFrame(ctx, env); err != nil {
			return err
		}
	}
}

func (s *Session) ingestFrame(ctx context.Context, env transport.Envelope) error {
	frame, err := env.MediaFrame()
	if err != nil {
		s.metrics.DecodeErrors.Add(ctx, 1)
		s.logger.Warn("skipping undecodable media frame", "error", err)
		return nil
	}
	if len(frame) != s.profile.InboundFrameBytes {
		s.metrics.DecodeErrors.Add(ctx, 1)
		s.logger.Warn("skipping media frame of unexpected size",
			"got", len(frame), "want", s.profile.InboundFrameBytes)
		return nil
	}
	s.metrics.FramesIngress.Add(ctx, 1)

	ev, err := s.vadS.ProcessFrame(frame)
	if err != nil {
		return fmt.Errorf("%w: vad: %v", ErrInvariant, err)
	}

	s.turnMu.Lock()
	tr, fired := s.turns.ProcessFrame(ev.IsSpeech)
	state := s.turns.State()
	s.turnMu.Unlock()

	if fired {
		if err := s.applyTransition(ctx, tr); err != nil {
			return err
		}
	}

	// The frame that completed a speech streak belongs to the utterance, so
	// accumulation happens after the transition's side effects have landed.
	if state == turn.StateReceiving {
		samples, err := s.profile.Encoding.DecodeSamples(frame)
		if err != nil {
			s.metrics.DecodeErrors.Add(ctx, 1)
			s.logger.Warn("skipping frame that failed pcm decode", "error", err)
			return nil
		}
		s.utterance.append(audio.PCM16ToBytes(samples))
	}
	return nil
}

// applyTransition performs the side effects of a frame-driven state change.
// Order is load-bearing: a barge-in must cancel the job and drain the queue
// before the peer is told to flush, and the peer must see the flush before
// the state change that opens the new turn.
func (s *Session) applyTransition(ctx context.Context, tr turn.Transition) error {
	switch {
	case tr.From == turn.StateSpeaking && tr.To == turn.StateReceiving:
		s.cancelJob()
		s.queue.Drain()
		s.metrics.BargeIns.Add(ctx, 1)
		s.logger.Info("barge-in, reply cut off")
		if err := s.conn.WriteClear(ctx); err != nil {
			return err
		}
	case tr.From == turn.StateThinking && tr.To == turn.StateReceiving:
		// The caller resumed before the reply started. Nothing has been
		// queued or played, so there is nothing to drain or flush.
		s.cancelJob()
		s.logger.Debug("caller resumed during thinking, job cancelled")
	}

	if err := s.conn.WriteState(ctx, tr.To.String()); err != nil {
		return err
	}
	if tr.To == turn.StateThinking {
		return s.launchJob(ctx)
	}
	return nil
}

// ─── Cognition job lifecycle ─────────────────────────────────────────────────

// launchJob snapshots the utterance and starts the cognition goroutine. At
// most one non-cancelled job may exist per session; a second one means the
// state machine and the job lifecycle have come apart.
func (s *Session) launchJob(ctx context.Context) error {
	pcm := s.utterance.snapshot()

	s.jobMu.Lock()
	if s.job != nil {
		s.jobMu.Unlock()
		return fmt.Errorf("%w: cognition job already in flight", ErrInvariant)
	}
	jobCtx, cancel := context.WithCancel(ctx)
	h := &jobHandle{cancel: cancel}
	s.job = h
	s.jobMu.Unlock()

	sink := &turnSink{s: s, jobCtx: jobCtx, handle: h, gen: s.queue.Generation()}
	job := cognition.Job{
		SessionID:  s.id,
		UserID:     s.userID,
		PCM:        pcm,
		SampleRate: s.profile.SampleRate,
		Profile:    s.profile,
	}

	s.jobWG.Add(1)
	go func() {
		defer s.jobWG.Done()
		defer cancel()
		s.disp.Dispatch(jobCtx, job, sink)
		s.clearJob(h)
	}()
	return nil
}

// cancelJob cancels the in-flight job, if any. Safe to call repeatedly.
func (s *Session) cancelJob() {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	if s.job != nil {
		s.job.cancel()
		s.job = nil
	}
}

// clearJob releases the slot once a job is terminal. It is idempotent: the
// sink calls it at FinishSpeaking and FailTurn, the job goroutine calls it
// again on exit, and the handle comparison keeps a slow finisher from
// clobbering its successor. Lock order is turnMu before jobMu, never the
// reverse.
func (s *Session) clearJob(h *jobHandle) {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	if s.job == h {
		s.job = nil
	}
}

// ─── Egress ──────────────────────────────────────────────────────────────────

// egress is the sole writer of media frames. It pops one live item at a time
// and paces the stream at the profile's outbound interval, sleeping the
// interval minus the wall time the send itself took.
func (s *Session) egress(ctx context.Context) error {
	var prevGen uint64
	var lastSend time.Time

	for {
		it, err := s.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if it.gen != prevGen {
			prevGen = it.gen
			lastSend = time.Time{}
		}

		if it.eos {
			s.turnMu.Lock()
			_, terr := s.turns.CompleteTurn()
			s.turnMu.Unlock()
			if terr != nil {
				// Superseded while the marker sat behind drained frames.
				continue
			}
			lastSend = time.Time{}
			if err := s.conn.WriteState(ctx, turn.StateListening.String()); err != nil {
				return err
			}
			continue
		}

		// Re-check right before the write: a barge-in that landed after the
		// pop must not slip a stale frame past the peer's flush.
		if !s.queue.Live(it.gen) {
			continue
		}

		sendStart := time.Now()
		if err := s.conn.WriteMedia(ctx, it.frame); err != nil {
			return err
		}
		s.metrics.FramesEgress.Add(ctx, 1)

		if !lastSend.IsZero() {
			jitter := sendStart.Sub(lastSend) - s.profile.OutboundInterval
			if jitter < 0 {
				jitter = -jitter
			}
			s.metrics.EgressJitter.Record(ctx, jitter.Seconds())
		}
		lastSend = sendStart

		if wait := s.profile.OutboundInterval - time.Since(sendStart); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// ─── Utterance buffer ────────────────────────────────────────────────────────

// utteranceBuffer accumulates 16-bit PCM between the start of caller speech
// and the hand-off to cognition. Only the ingest loop touches it.
type utteranceBuffer struct {
	pcm []byte
}

func (b *utteranceBuffer) append(chunk []byte) {
	b.pcm = append(b.pcm, chunk...)
}

// snapshot returns the accumulated audio and resets the buffer. The returned
// slice is owned by the caller.
func (b *utteranceBuffer) snapshot() []byte {
	pcm := b.pcm
	b.pcm = nil
	return pcm
}
