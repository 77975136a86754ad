package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sensai-labs/proctor-client/internal/config"
	"github.com/sensai-labs/proctor-client/internal/model"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// EventWorker drains the proctor-events queue into the local audit table.
// The session machine never waits on this path: events are pushed to Redis
// by the registry and batched into PostgreSQL here.
type EventWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewEventWorker creates a new EventWorker.
func NewEventWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *EventWorker {
	return &EventWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "event_worker").Logger(),
	}
}

// Start begins the worker loop. Call in a goroutine; returns on ctx cancel
// after flushing what is buffered.
func (w *EventWorker) Start(ctx context.Context) {
	w.log.Info().Msg("EventWorker started")

	buffer := make([]*model.ProctoringEvent, 0, BatchSize)
	lastFlush := time.Now()

	for {
		// 1. Flush on size or age.
		if len(buffer) > 0 {
			if len(buffer) >= BatchSize || time.Since(lastFlush) >= BatchTimeout {
				w.flushSafe(ctx, buffer)
				buffer = buffer[:0]
				lastFlush = time.Now()
			}
		}

		// 2. Graceful shutdown.
		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		// 3. Fetch from Redis. BLPop returns immediately if data exists.
		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.ProctorEventsQueue).Result()
		if err != nil {
			if err == redis.Nil {
				continue // Queue empty, loop back to check the flush timer
			}
			if ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}

		if len(result) < 2 {
			continue
		}

		var evt model.ProctoringEvent
		if err := json.Unmarshal([]byte(result[1]), &evt); err != nil {
			// Malformed JSON cannot be retried. Log and discard.
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed event")
			continue
		}

		buffer = append(buffer, &evt)
	}
}

// flushSafe attempts bulk insert, then row-by-row recovery, then requeue.
func (w *EventWorker) flushSafe(ctx context.Context, batch []*model.ProctoringEvent) {
	if err := w.bulkInsert(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
		w.fallbackInsert(ctx, batch)
	}
}

func (w *EventWorker) bulkInsert(ctx context.Context, batch []*model.ProctoringEvent) error {
	rows := make([][]interface{}, 0, len(batch))
	for _, evt := range batch {
		rows = append(rows, []interface{}{
			evt.SessionID, evt.ExamID, evt.UserID, evt.Type, evt.Timestamp,
		})
	}

	_, err := w.pool.CopyFrom(
		ctx,
		pgx.Identifier{"proctoring_events"},
		[]string{"session_id", "exam_id", "user_id", "event_type", "recorded_at"},
		pgx.CopyFromRows(rows),
	)
	return err
}

func (w *EventWorker) fallbackInsert(ctx context.Context, batch []*model.ProctoringEvent) {
	requeueList := make([]*model.ProctoringEvent, 0)

	for _, evt := range batch {
		_, err := w.pool.Exec(ctx,
			`INSERT INTO proctoring_events (session_id, exam_id, user_id, event_type, recorded_at)
             VALUES ($1, $2, $3, $4, $5)`,
			evt.SessionID, evt.ExamID, evt.UserID, evt.Type, evt.Timestamp,
		)
		if err != nil {
			w.log.Error().Err(err).Str("session_id", evt.SessionID).Msg("Insert failed, requeueing")
			requeueList = append(requeueList, evt)
		}
	}

	if len(requeueList) > 0 {
		w.requeue(ctx, requeueList)
	}
}

func (w *EventWorker) requeue(ctx context.Context, items []*model.ProctoringEvent) {
	pipe := w.rdb.Pipeline()
	for _, evt := range items {
		data, _ := json.Marshal(evt)
		pipe.RPush(ctx, config.WorkerKey.ProctorEventsQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Msg("CRITICAL: Failed to requeue events to Redis. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed events back to Redis")
	// Avoid thrashing while the database is down hard.
	time.Sleep(2 * time.Second)
}

func (w *EventWorker) shutdown(buffer []*model.ProctoringEvent) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(buffer) > 0 {
		w.flushSafe(shutdownCtx, buffer)
	}
}
