package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	channelBuffer = 10_000
	batchSize     = 100
	flushInterval = time.Second
)

// event is the union carried on the sink channel.
type event struct {
	query    *QueryRecord
	feedback *FeedbackRecord
}

// Sink accepts records without blocking and drains them into a Store from a
// single background goroutine. When the channel is full (backlog above
// 10 000 events) new records are dropped and counted.
type Sink struct {
	store Store
	log   *slog.Logger

	ch        chan event
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	dropped int64
}

// NewSink starts the background consumer.
func NewSink(ctx context.Context, store Store, log *slog.Logger) (*Sink, error) {
	if ctx == nil {
		return nil, fmt.Errorf("analytics: context must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("analytics: store must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Sink{
		store: store,
		log:   log.With(slog.String("component", "analytics")),
		ch:    make(chan event, channelBuffer),
		done:  make(chan struct{}),
	}

	s.wg.Add(1)
	go s.run(ctx)

	return s, nil
}

// Record enqueues a query record. Never blocks.
func (s *Sink) Record(rec QueryRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	s.enqueue(event{query: &rec})
}

// RecordFeedback enqueues a feedback record. Never blocks.
func (s *Sink) RecordFeedback(rec FeedbackRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	s.enqueue(event{feedback: &rec})
}

func (s *Sink) enqueue(ev event) {
	select {
	case s.ch <- ev:
	default:
		if atomic.AddInt64(&s.dropped, 1)%1000 == 1 {
			s.log.Warn("analytics_backlog_full, dropping records",
				slog.Int64("dropped_total", atomic.LoadInt64(&s.dropped)))
		}
	}
}

// Dropped returns the number of records lost to backpressure.
func (s *Sink) Dropped() int64 {
	return atomic.LoadInt64(&s.dropped)
}

// Backlog returns the current queue depth, for health reporting.
func (s *Sink) Backlog() int {
	return len(s.ch)
}

// Close drains outstanding records and stops the consumer.
func (s *Sink) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
	return nil
}

func (s *Sink) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	queries := make([]QueryRecord, 0, batchSize)
	feedback := make([]FeedbackRecord, 0, batchSize)

	flush := func() {
		if len(queries) > 0 {
			if err := s.store.InsertQueries(ctx, queries); err != nil {
				s.log.Error("analytics_flush_failed",
					slog.Int("records", len(queries)),
					slog.String("error", err.Error()))
			}
			queries = queries[:0]
		}
		if len(feedback) > 0 {
			if err := s.store.InsertFeedback(ctx, feedback); err != nil {
				s.log.Error("analytics_feedback_flush_failed",
					slog.Int("records", len(feedback)),
					slog.String("error", err.Error()))
			}
			feedback = feedback[:0]
		}
	}

	accept := func(ev event) {
		if ev.query != nil {
			queries = append(queries, *ev.query)
		}
		if ev.feedback != nil {
			feedback = append(feedback, *ev.feedback)
		}
		if len(queries)+len(feedback) >= batchSize {
			flush()
		}
	}

	for {
		select {
		case ev := <-s.ch:
			accept(ev)

		case <-ticker.C:
			flush()

		case <-s.done:
			for {
				select {
				case ev := <-s.ch:
					accept(ev)
				default:
					flush()
					return
				}
			}
		}
	}
}
