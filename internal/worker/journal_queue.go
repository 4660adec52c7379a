package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/model"
)

const enqueueTimeout = 2 * time.Second

// JournalQueue is an attempt event sink that queues events for the
// JournalWorker. Tick events are not journaled.
type JournalQueue struct {
	rdb        *redis.Client
	instanceID string
	log        zerolog.Logger
}

// NewJournalQueue creates a queue producer tagging entries with instanceID.
func NewJournalQueue(rdb *redis.Client, instanceID string, log zerolog.Logger) *JournalQueue {
	return &JournalQueue{
		rdb:        rdb,
		instanceID: instanceID,
		log:        log.With().Str("component", "journal_queue").Logger(),
	}
}

// Publish queues ev. Failures are logged and never block the session.
func (q *JournalQueue) Publish(ev model.AttemptEvent) {
	if ev.Kind == model.EventTick {
		return
	}

	data, err := json.Marshal(model.AttemptEventRecord{AttemptEvent: ev, InstanceID: q.instanceID})
	if err != nil {
		q.log.Error().Err(err).Msg("Encode journal entry")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
	defer cancel()
	if err := q.rdb.RPush(ctx, config.WorkerKey.PersistAttemptEventsQueue, data).Err(); err != nil {
		q.log.Error().Err(err).
			Str("attempt_id", ev.AttemptID).
			Str("event", string(ev.Kind)).
			Msg("Failed to queue journal entry")
	}
}
