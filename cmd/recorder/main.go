// cmd/recorder/main.go is an asynchronous recorder service that pops
// completed ranked match records from a Redis queue and persists them to
// PostgreSQL in batches.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/skirmish-gg/skirmish/internal/cache"
	"github.com/skirmish-gg/skirmish/internal/database"
	"github.com/skirmish-gg/skirmish/internal/models"
)

// RecorderService drains the results queue into the match-history table.
// The rating store already holds the authoritative rating write; this service
// only trails it with durable history rows for offline analysis.
type RecorderService struct {
	redisClient *redis.Client
	store       *database.PGStore
	queueName   string
	batchSize   int
	flushDelay  time.Duration

	batchMu sync.Mutex
	batch   []models.MatchHistoryEntry

	ctx      context.Context
	cancelFn context.CancelFunc
}

// NewRecorderService constructs a RecorderService from environment variables.
func NewRecorderService() *RecorderService {
	batchSize := cache.GetEnvInt("RECORDER_BATCH_SIZE", 20)
	flushMs := cache.GetEnvInt("RECORDER_FLUSH_MS", 500)

	rdb := redis.NewClient(&redis.Options{
		Addr: cache.GetEnv("REDIS_ADDR", "localhost:6379"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	return &RecorderService{
		redisClient: rdb,
		queueName:   cache.GetEnv("RESULTS_QUEUE_NAME", cache.DefaultQueueName),
		batchSize:   batchSize,
		flushDelay:  time.Duration(flushMs) * time.Millisecond,
		batch:       make([]models.MatchHistoryEntry, 0, batchSize),
		ctx:         ctx,
		cancelFn:    cancel,
	}
}

// Run connects to the database and drains the queue until Stop is called.
func (rs *RecorderService) Run() {
	if err := database.ConnectDB(); err != nil {
		log.Fatalf("recorder: %v", err)
	}
	rs.store = database.NewPGStore(database.DB)

	go rs.readQueueLoop()

	log.Info("skirmish-recorder service started")
	<-rs.ctx.Done()
	rs.flushBatch()
	log.Info("skirmish-recorder shutting down")
}

// readQueueLoop continuously pops result records, accumulating a batch that
// is flushed on size or on the flush timer.
func (rs *RecorderService) readQueueLoop() {
	ticker := time.NewTicker(rs.flushDelay)
	defer ticker.Stop()

	for {
		select {
		case <-rs.ctx.Done():
			return

		case <-ticker.C:
			rs.flushBatch()

		default:
			// BLPop with a short timeout so cancellation is handled.
			res, err := rs.redisClient.BLPop(rs.ctx, 3*time.Second, rs.queueName).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				if rs.ctx.Err() != nil {
					return
				}
				log.WithError(err).Error("BLPop failed")
				continue
			}
			if len(res) < 2 {
				continue
			}

			var rec models.MatchHistoryEntry
			if err := json.Unmarshal([]byte(res[1]), &rec); err != nil {
				log.WithError(err).Warn("invalid match result record")
				continue
			}
			rs.appendToBatch(rec)
		}
	}
}

// appendToBatch adds a record and flushes when the threshold is reached.
func (rs *RecorderService) appendToBatch(rec models.MatchHistoryEntry) {
	rs.batchMu.Lock()
	full := false
	rs.batch = append(rs.batch, rec)
	full = len(rs.batch) >= rs.batchSize
	rs.batchMu.Unlock()

	if full {
		rs.flushBatch()
	}
}

// flushBatch writes the pending batch in one transaction.
func (rs *RecorderService) flushBatch() {
	rs.batchMu.Lock()
	if len(rs.batch) == 0 {
		rs.batchMu.Unlock()
		return
	}
	batchCopy := make([]models.MatchHistoryEntry, len(rs.batch))
	copy(batchCopy, rs.batch)
	rs.batch = rs.batch[:0]
	rs.batchMu.Unlock()

	if err := rs.store.AppendHistory(context.Background(), batchCopy...); err != nil {
		log.WithError(err).Error("flush to database failed")
		return
	}
	log.WithField("count", len(batchCopy)).Info("flushed match results")
}

// Stop gracefully stops the recorder.
func (rs *RecorderService) Stop() {
	rs.cancelFn()
}

func main() {
	rs := NewRecorderService()
	go rs.Run()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	rs.Stop()
	log.Info("recorder shutdown complete")
}
