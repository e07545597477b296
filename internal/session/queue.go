package session

import (
	"context"
	"errors"
	"sync"

	"github.com/avishka-hashara/crosstalk/internal/turn"
)

// ErrQueueClosed is returned by queue operations after Close.
var ErrQueueClosed = errors.New("session: outbound queue closed")

// item is one queued unit of reply audio. A nil-frame item with eos set marks
// the end of a reply so the egress loop knows when the turn has fully played
// out.
type item struct {
	gen   uint64
	frame []byte
	eos   bool
}

// OutboundQueue carries reply frames from the cognition task to the egress
// pacer. It is bounded, so a synthesis stream running ahead of real time
// blocks instead of ballooning memory, and generation-tagged: a barge-in
// bumps the generation and empties the channel, which both discards queued
// audio and invalidates any producer still holding the old generation. The
// routine frame path never contends with the barge-in path beyond one mutex
// for the generation counter.
type OutboundQueue struct {
	mu  sync.Mutex
	gen uint64

	items  chan item
	closed chan struct{}
	once   sync.Once
}

// NewOutboundQueue creates a queue holding at most capacity frames.
func NewOutboundQueue(capacity int) *OutboundQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &OutboundQueue{
		items:  make(chan item, capacity),
		closed: make(chan struct{}),
	}
}

// Generation returns the current turn generation. A producer captures it once
// at turn start and tags every push with it.
func (q *OutboundQueue) Generation() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.gen
}

// Live reports whether gen is still the current generation.
func (q *OutboundQueue) Live(gen uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return gen == q.gen
}

// Push enqueues one reply frame, blocking while the queue is full. It fails
// with [turn.ErrSuperseded] once a barge-in has bumped the generation, with
// ctx's error on cancellation, and with [ErrQueueClosed] after Close.
func (q *OutboundQueue) Push(ctx context.Context, gen uint64, frame []byte) error {
	return q.push(ctx, item{gen: gen, frame: frame})
}

// FinishReply enqueues the end-of-reply marker behind the turn's last frame.
func (q *OutboundQueue) FinishReply(ctx context.Context, gen uint64) error {
	return q.push(ctx, item{gen: gen, eos: true})
}

func (q *OutboundQueue) push(ctx context.Context, it item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !q.Live(it.gen) {
		return turn.ErrSuperseded
	}
	select {
	case q.items <- it:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closed:
		return ErrQueueClosed
	}
}

// Pop blocks for the next live item, silently dropping items orphaned by a
// drain that raced their push.
func (q *OutboundQueue) Pop(ctx context.Context) (item, error) {
	for {
		select {
		case it := <-q.items:
			if !q.Live(it.gen) {
				continue
			}
			return it, nil
		case <-ctx.Done():
			return item{}, ctx.Err()
		case <-q.closed:
			return item{}, ErrQueueClosed
		}
	}
}

// Drain invalidates the current generation and discards everything queued.
// The barge-in path calls it synchronously before telling the peer to flush,
// so the egress loop only ever observes an empty queue.
func (q *OutboundQueue) Drain() {
	q.mu.Lock()
	q.gen++
	q.mu.Unlock()
	for {
		select {
		case <-q.items:
		default:
			return
		}
	}
}

// Close wakes every blocked producer and consumer. Queued items are
// discarded; the session is over.
func (q *OutboundQueue) Close() {
	q.once.Do(func() { close(q.closed) })
}
