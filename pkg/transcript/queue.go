package transcript

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultQueueCapacity bounds how many entries may wait for delivery.
	DefaultQueueCapacity = 256

	// DefaultDeliverTimeout bounds a single transcript post.
	DefaultDeliverTimeout = 10 * time.Second
)

// DropCounter counts entries the queue had to discard. Satisfied by
// prometheus counters.
type DropCounter interface {
	Inc()
}

// ResultObserver counts delivery outcomes. Satisfied by the agent metrics.
type ResultObserver interface {
	RecordTranscript(result string)
}

// QueueConfig configures a session's transcript queue.
type QueueConfig struct {
	Sequencer *Sequencer

	// RecordID resolves the external record id at delivery time. It returns
	// "" until the session is linked; entries delivered before linkage are
	// dropped, never buffered.
	RecordID func() string

	Capacity       int
	DeliverTimeout time.Duration
	Drops          DropCounter
	Observer       ResultObserver
	Logger         *slog.Logger
}

// Queue is a bounded, single-consumer delivery queue for one session. The
// turn loop enqueues without blocking; one consumer goroutine posts entries
// in arrival order so sequence numbers match wall-clock order.
type Queue struct {
	seq      *Sequencer
	recordID func() string
	timeout  time.Duration
	drops    DropCounter
	observer ResultObserver
	logger   *slog.Logger

	entries chan Entry
	stop    chan struct{}
	wg      sync.WaitGroup

	mu       sync.Mutex
	draining bool

	dropped atomic.Int64
}

// NewQueue creates the queue and starts its consumer.
func NewQueue(cfg QueueConfig) *Queue {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	timeout := cfg.DeliverTimeout
	if timeout <= 0 {
		timeout = DefaultDeliverTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	q := &Queue{
		seq:      cfg.Sequencer,
		recordID: cfg.RecordID,
		timeout:  timeout,
		drops:    cfg.Drops,
		observer: cfg.Observer,
		logger:   logger,
		entries:  make(chan Entry, capacity),
		stop:     make(chan struct{}),
	}
	q.wg.Add(1)
	go q.run()
	return q
}

// Enqueue hands an entry to the consumer without blocking. It returns false
// when the queue is full or already draining; the entry is dropped either
// way.
func (q *Queue) Enqueue(e Entry) bool {
	q.mu.Lock()
	draining := q.draining
	q.mu.Unlock()
	if draining {
		return false
	}

	select {
	case q.entries <- e:
		return true
	default:
		q.countDrop()
		q.logger.Warn("transcript queue full, dropping entry", "speaker", e.Speaker)
		return false
	}
}

// Dropped returns how many entries were discarded.
func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}

// Flush stops per-entry delivery, sends whatever is still queued in one
// bulk call, and permanently rejects further entries. Subsequent calls are
// no-ops.
func (q *Queue) Flush(ctx context.Context) error {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return nil
	}
	q.draining = true
	close(q.stop)
	q.mu.Unlock()

	q.wg.Wait()

	var remaining []Entry
drain:
	for {
		select {
		case e := <-q.entries:
			remaining = append(remaining, e)
		default:
			break drain
		}
	}

	if len(remaining) == 0 {
		return nil
	}

	recordID := q.recordID()
	if recordID == "" {
		q.dropped.Add(int64(len(remaining)))
		if q.drops != nil {
			for range remaining {
				q.drops.Inc()
			}
		}
		q.logger.Warn("discarding queued transcripts, no record linked", "count", len(remaining))
		return nil
	}

	if err := q.seq.PublishBulk(ctx, recordID, remaining); err != nil {
		for range remaining {
			q.observe("error")
		}
		return err
	}
	for range remaining {
		q.observe("ok")
	}
	q.logger.Info("flushed queued transcripts", "count", len(remaining))
	return nil
}

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		// Check stop first so Flush can claim queued entries for the bulk
		// path instead of racing per-entry delivery.
		select {
		case <-q.stop:
			return
		default:
		}

		select {
		case <-q.stop:
			return
		case e := <-q.entries:
			q.deliver(e)
		}
	}
}

func (q *Queue) deliver(e Entry) {
	recordID := q.recordID()
	if recordID == "" {
		q.countDrop()
		q.logger.Debug("transcript dropped, no record linked yet", "speaker", e.Speaker)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()
	// Publish logs its own failures; a lost entry must not stall the loop.
	if err := q.seq.Publish(ctx, recordID, e); err != nil {
		q.observe("error")
		return
	}
	q.observe("ok")
}

func (q *Queue) observe(result string) {
	if q.observer != nil {
		q.observer.RecordTranscript(result)
	}
}

func (q *Queue) countDrop() {
	q.dropped.Add(1)
	if q.drops != nil {
		q.drops.Inc()
	}
}
