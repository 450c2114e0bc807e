// Package queue implements per-session debounced batching of inbound
// messages. Rapid bursts to one conversation are merged into a single
// agent turn; turns for the same session never overlap.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/piyushgupta53/featherbot-sub000/internal/agent"
	"github.com/piyushgupta53/featherbot-sub000/internal/bus"
)

var (
	// ErrDisposed rejects Process calls made after Dispose.
	ErrDisposed = errors.New("SessionQueue is disposed")
	// ErrPendingDisposed rejects messages that were still queued when
	// Dispose ran.
	ErrPendingDisposed = errors.New("SessionQueue disposed")
)

// Processor runs one agent turn over a (possibly merged) inbound message.
type Processor func(ctx context.Context, msg bus.InboundMessage) (*agent.Result, error)

type outcome struct {
	res *agent.Result
	err error
}

type waiter struct {
	msg  bus.InboundMessage
	done chan outcome // buffered; flush never blocks on delivery
}

type session struct {
	pending    []*waiter
	timer      *time.Timer
	processing bool
}

// SessionQueue serializes agent turns per session key and merges message
// bursts that arrive within the debounce window.
type SessionQueue struct {
	processor Processor
	debounce  time.Duration

	ctx    context.Context // parent for all turns; cancelled on Dispose
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*session
	disposed bool
}

// New creates a SessionQueue dispatching merged messages to processor.
func New(processor Processor, debounce time.Duration) *SessionQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &SessionQueue{
		processor: processor,
		debounce:  debounce,
		ctx:       ctx,
		cancel:    cancel,
		sessions:  make(map[string]*session),
	}
}

// Process enqueues the message and blocks until its turn completes. All
// but the last message of a merged burst resolve with the batched
// sentinel; the last one carries the real result.
func (q *SessionQueue) Process(ctx context.Context, msg bus.InboundMessage) (*agent.Result, error) {
	key := bus.SessionKey(msg.Channel, msg.ChatID)
	w := &waiter{msg: msg, done: make(chan outcome, 1)}

	q.mu.Lock()
	if q.disposed {
		q.mu.Unlock()
		return nil, ErrDisposed
	}
	sess := q.sessions[key]
	if sess == nil {
		sess = &session{}
		q.sessions[key] = sess
	}
	sess.pending = append(sess.pending, w)
	// While a turn is running, new arrivals just accumulate; the flush
	// epilogue re-arms the timer for them.
	if !sess.processing {
		if sess.timer != nil {
			sess.timer.Stop()
		}
		sess.timer = time.AfterFunc(q.debounce, func() { q.flush(key) })
	}
	q.mu.Unlock()

	select {
	case out := <-w.done:
		return out.res, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// flush runs one turn over the session's accumulated messages.
func (q *SessionQueue) flush(key string) {
	q.mu.Lock()
	sess := q.sessions[key]
	if sess == nil || q.disposed || len(sess.pending) == 0 {
		q.mu.Unlock()
		return
	}
	batch := sess.pending
	sess.pending = nil
	sess.timer = nil
	sess.processing = true
	q.mu.Unlock()

	merged := mergeBatch(batch)
	if len(batch) > 1 {
		slog.Debug("merged message burst", "session", key, "count", len(batch))
	}

	res, err := q.processor(q.ctx, merged)

	for i, w := range batch {
		switch {
		case err != nil:
			w.done <- outcome{err: err}
		case i < len(batch)-1:
			w.done <- outcome{res: agent.BatchedResult()}
		default:
			w.done <- outcome{res: res}
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.disposed {
		return
	}
	sess.processing = false
	if len(sess.pending) > 0 {
		sess.timer = time.AfterFunc(q.debounce, func() { q.flush(key) })
	} else {
		delete(q.sessions, key)
	}
}

// mergeBatch collapses a burst into one message: contents joined by
// newline in arrival order, media de-duplicated preserving first-seen
// order, metadata merged left to right, and the remaining fields copied
// from the last message.
func mergeBatch(batch []*waiter) bus.InboundMessage {
	if len(batch) == 1 {
		return batch[0].msg
	}

	merged := batch[len(batch)-1].msg

	contents := make([]string, 0, len(batch))
	var media []string
	seen := make(map[string]bool)
	var metadata map[string]string
	for _, w := range batch {
		contents = append(contents, w.msg.Content)
		for _, m := range w.msg.Media {
			if !seen[m] {
				seen[m] = true
				media = append(media, m)
			}
		}
		if len(w.msg.Metadata) > 0 {
			if metadata == nil {
				metadata = make(map[string]string)
			}
			for k, v := range w.msg.Metadata {
				metadata[k] = v
			}
		}
	}

	merged.Content = joinContents(contents)
	merged.Media = media
	merged.Metadata = metadata
	return merged
}

func joinContents(contents []string) string {
	out := contents[0]
	for _, c := range contents[1:] {
		out += "\n" + c
	}
	return out
}

// Dispose rejects every pending message, stops all timers, and marks the
// queue unusable. A turn already in flight completes on its own.
func (q *SessionQueue) Dispose() {
	q.mu.Lock()
	if q.disposed {
		q.mu.Unlock()
		return
	}
	q.disposed = true
	for _, sess := range q.sessions {
		if sess.timer != nil {
			sess.timer.Stop()
		}
		for _, w := range sess.pending {
			w.done <- outcome{err: ErrPendingDisposed}
		}
		sess.pending = nil
	}
	q.sessions = make(map[string]*session)
	q.mu.Unlock()

	q.cancel()
}
