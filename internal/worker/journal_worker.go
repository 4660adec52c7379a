package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/model"
)

const (
	JournalBatchSize    = 100
	JournalBatchTimeout = 2 * time.Second
	PollTimeout         = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// JournalStore is where journal batches end up.
type JournalStore interface {
	InsertBatch(ctx context.Context, records []model.AttemptEventRecord) error
	Insert(ctx context.Context, rec model.AttemptEventRecord) error
}

// JournalWorker moves attempt events from the Redis queue into PostgreSQL in
// batches.
type JournalWorker struct {
	store   JournalStore
	rdb     *redis.Client
	log     zerolog.Logger
	written prometheus.Counter

	batchSize      int
	batchTimeout   time.Duration
	requeueBackoff time.Duration
}

// NewJournalWorker creates a worker. written may be nil.
func NewJournalWorker(store JournalStore, rdb *redis.Client, written prometheus.Counter, log zerolog.Logger) *JournalWorker {
	return &JournalWorker{
		store:          store,
		rdb:            rdb,
		log:            log.With().Str("component", "journal_worker").Logger(),
		written:        written,
		batchSize:      JournalBatchSize,
		batchTimeout:   JournalBatchTimeout,
		requeueBackoff: 2 * time.Second,
	}
}

// Start consumes the queue until ctx is cancelled, then flushes what it holds.
func (w *JournalWorker) Start(ctx context.Context) {
	w.log.Info().Msg("JournalWorker started")

	buffer := make([]model.AttemptEventRecord, 0, w.batchSize)
	lastFlush := time.Now()

	for {
		if len(buffer) > 0 && (len(buffer) >= w.batchSize || time.Since(lastFlush) >= w.batchTimeout) {
			w.flushSafe(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		item, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistAttemptEventsQueue).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				w.log.Error().Err(err).Msg("BLPop error")
				time.Sleep(100 * time.Millisecond)
			}
			continue
		}
		if len(item) < 2 {
			continue
		}

		var rec model.AttemptEventRecord
		if err := json.Unmarshal([]byte(item[1]), &rec); err != nil {
			w.log.Error().Err(err).Msg("Dropping malformed journal entry")
			continue
		}
		buffer = append(buffer, rec)
	}
}

func (w *JournalWorker) flushSafe(ctx context.Context, batch []model.AttemptEventRecord) {
	if len(batch) == 0 {
		return
	}

	err := w.store.InsertBatch(ctx, batch)
	if err == nil {
		w.count(len(batch))
		return
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Batch insert failed, falling back to single inserts")

	var requeue []model.AttemptEventRecord
	for _, rec := range batch {
		if err := w.store.Insert(ctx, rec); err != nil {
			w.log.Error().Err(err).
				Str("attempt_id", rec.AttemptID).
				Str("event", string(rec.Kind)).
				Msg("Insert failed, requeueing")
			requeue = append(requeue, rec)
			continue
		}
		w.count(1)
	}
	if len(requeue) > 0 {
		w.requeue(ctx, requeue)
	}
}

func (w *JournalWorker) requeue(ctx context.Context, items []model.AttemptEventRecord) {
	pipe := w.rdb.Pipeline()
	for _, rec := range items {
		data, _ := json.Marshal(rec)
		pipe.RPush(ctx, config.WorkerKey.PersistAttemptEventsQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue journal entries. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed journal entries")

	// Back off so a database outage does not turn into a hot loop.
	select {
	case <-time.After(w.requeueBackoff):
	case <-ctx.Done():
	}
}

func (w *JournalWorker) shutdown(buffer []model.AttemptEventRecord) {
	w.log.Info().Int("pending", len(buffer)).Msg("JournalWorker stopping, flushing remaining buffer")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.flushSafe(shutdownCtx, buffer)
}

func (w *JournalWorker) count(n int) {
	if w.written != nil {
		w.written.Add(float64(n))
	}
}
