package storage

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"hft_go/internal/domain"
)

const journalFlushInterval = 200 * time.Millisecond

// Journal is an asynchronous domain.OrderJournal. Record never blocks: when
// the buffer is full the event is dropped and counted.
type Journal struct {
	store   *Storage
	events  chan domain.OrderEvent
	batch   []domain.OrderEvent
	dropped atomic.Uint64
	written atomic.Uint64
	done    chan struct{}
	logger  *slog.Logger
}

// NewJournal creates a journal buffering up to size events.
func NewJournal(store *Storage, size int, logger *slog.Logger) *Journal {
	if size <= 0 {
		size = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{
		store:  store,
		events: make(chan domain.OrderEvent, size),
		batch:  make([]domain.OrderEvent, 0, 128),
		done:   make(chan struct{}),
		logger: logger.With(slog.String("module", "journal")),
	}
}

// Record queues ev for writing.
func (j *Journal) Record(ev domain.OrderEvent) {
	select {
	case j.events <- ev:
	default:
		if j.dropped.Add(1) == 1 {
			j.logger.Warn("JOURNAL_DROPPED", slog.String("correlation_id", ev.CorrelationID))
		}
	}
}

// Run writes queued events in batches until ctx is cancelled, then flushes
// what is left.
func (j *Journal) Run(ctx context.Context) {
	defer close(j.done)
	ticker := time.NewTicker(journalFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.drain()
			j.flush()
			return
		case ev := <-j.events:
			j.batch = append(j.batch, ev)
			if len(j.batch) == cap(j.batch) {
				j.flush()
			}
		case <-ticker.C:
			j.flush()
		}
	}
}

// Wait blocks until Run has returned.
func (j *Journal) Wait() { <-j.done }

func (j *Journal) drain() {
	for {
		select {
		case ev := <-j.events:
			j.batch = append(j.batch, ev)
		default:
			return
		}
	}
}

func (j *Journal) flush() {
	if len(j.batch) == 0 {
		return
	}
	if err := j.store.InsertOrderEvents(j.batch); err != nil {
		j.logger.Error("JOURNAL_WRITE_FAILED", slog.Int("events", len(j.batch)), slog.Any("error", err))
	} else {
		j.written.Add(uint64(len(j.batch)))
	}
	j.batch = j.batch[:0]
}

// Dropped returns how many events were discarded because the buffer was full.
func (j *Journal) Dropped() uint64 { return j.dropped.Load() }

// Written returns how many events reached the database.
func (j *Journal) Written() uint64 { return j.written.Load() }
