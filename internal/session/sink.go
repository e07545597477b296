package session

import (
	"context"
	"errors"

	"github.com/avishka-hashara/crosstalk/internal/cognition"
	"github.com/avishka-hashara/crosstalk/internal/transport"
	"github.com/avishka-hashara/crosstalk/internal/turn"
)

// turnSink adapts one cognition turn onto its session: transcripts and state
// changes go to the peer, reply audio goes to the outbound queue. One sink is
// created per job and called only from the job's goroutine. The generation
// was captured when the job launched, so frames of a turn the caller has
// since interrupted are refused by the queue rather than played.
type turnSink struct {
	s      *Session
	jobCtx context.Context
	handle *jobHandle
	gen    uint64
}

var _ cognition.Sink = (*turnSink)(nil)

func (ts *turnSink) UserTranscript(text string) {
	ts.writeTranscript(transport.RoleUser, text)
}

func (ts *turnSink) AssistantTranscript(text string) {
	ts.writeTranscript(transport.RoleAI, text)
}

func (ts *turnSink) writeTranscript(role, text string) {
	if ts.jobCtx.Err() != nil {
		// The turn was cancelled while the stage result was in flight;
		// nothing of the dead turn may reach the peer.
		return
	}
	if err := ts.s.conn.WriteTranscript(ts.jobCtx, role, text); err != nil {
		ts.s.logger.Warn("failed to send transcript", "role", role, "error", err)
	}
}

// BeginSpeaking moves the state machine to SPEAKING and announces it, so the
// peer sees the state change before any media of the reply.
func (ts *turnSink) BeginSpeaking() error {
	ts.s.turnMu.Lock()
	_, err := ts.s.turns.BeginSpeaking()
	ts.s.turnMu.Unlock()
	if err != nil {
		return err
	}
	if err := ts.s.conn.WriteState(ts.jobCtx, turn.StateSpeaking.String()); err != nil {
		ts.s.logger.Warn("failed to announce speaking state", "error", err)
		return err
	}
	return nil
}

func (ts *turnSink) EnqueueFrame(frame []byte) error {
	return ts.s.queue.Push(ts.jobCtx, ts.gen, frame)
}

// FinishSpeaking queues the end-of-reply marker behind the turn's last frame
// and releases the job slot. The egress loop completes the turn once
// everything before the marker has been paced out, well after the slot is
// free for whatever the caller says next.
func (ts *turnSink) FinishSpeaking() {
	if err := ts.s.queue.FinishReply(ts.jobCtx, ts.gen); err != nil {
		ts.s.logger.Debug("reply completion superseded", "error", err)
	}
	ts.s.clearJob(ts.handle)
}

// FailTurn returns a dead turn to LISTENING. No frames were enqueued, so the
// state machine is still in THINKING unless a barge-in moved it first. The
// job slot is released inside the same critical section as the state change:
// once ingest can observe LISTENING, the slot is already free, so an
// immediate next utterance cannot trip the single-job invariant.
func (ts *turnSink) FailTurn(err error) {
	ts.s.turnMu.Lock()
	_, aerr := ts.s.turns.AbortTurn()
	if aerr == nil {
		ts.s.clearJob(ts.handle)
	}
	ts.s.turnMu.Unlock()
	if aerr != nil {
		return
	}

	if errors.Is(err, cognition.ErrNoSpeech) {
		ts.s.logger.Debug("turn ended without speech")
	} else {
		ts.s.logger.Warn("turn failed, resuming listening", "error", err)
	}
	if werr := ts.s.conn.WriteState(ts.jobCtx, turn.StateListening.String()); werr != nil {
		ts.s.logger.Warn("failed to announce listening state", "error", werr)
	}
}
