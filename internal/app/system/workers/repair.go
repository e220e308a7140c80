// internal/app/system/workers/repair.go
package workers

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/dalemusser/vecinal/internal/app/system/repair"
	"github.com/panjf2000/ants/v2"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// TaskApplier applies one repair task.
type TaskApplier interface {
	Apply(ctx context.Context, t repair.Task) (repair.Outcome, error)
}

// messageReader is the subset of *kafka.Reader used by the worker.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// RepairOptions tunes a RepairWorker. Zero fields take defaults.
type RepairOptions struct {
	Workers     int           // pool size, default 4
	BatchSize   int           // Kafka messages per batch, default 16
	MaxAttempts int           // tries per task, default 5
	Backoff     time.Duration // base delay between tries, default 500ms
}

func (o RepairOptions) withDefaults() RepairOptions {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 16
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.Backoff <= 0 {
		o.Backoff = 500 * time.Millisecond
	}
	return o
}

// RepairWorker consumes repair tasks and applies them on a bounded pool.
// With Kafka, offsets are committed only after every task in a batch has
// been applied or abandoned.
type RepairWorker struct {
	applier TaskApplier
	log     *zap.Logger
	opts    RepairOptions

	reader messageReader     // Kafka mode
	local  <-chan repair.Task // in-process mode

	pool   *ants.Pool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewKafkaRepairWorker consumes topic as part of consumer group groupID.
func NewKafkaRepairWorker(brokers []string, topic, groupID string, applier TaskApplier, opts RepairOptions, logger *zap.Logger) (*RepairWorker, error) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 1 << 20,
		MaxWait:  time.Second,
	})
	return newRepairWorker(applier, r, nil, opts, logger)
}

// NewLocalRepairWorker consumes an in-process queue.
func NewLocalRepairWorker(q *repair.LocalQueue, applier TaskApplier, opts RepairOptions, logger *zap.Logger) (*RepairWorker, error) {
	return newRepairWorker(applier, nil, q.Tasks(), opts, logger)
}

func newRepairWorker(applier TaskApplier, reader messageReader, local <-chan repair.Task, opts RepairOptions, logger *zap.Logger) (*RepairWorker, error) {
	opts = opts.withDefaults()
	pool, err := ants.NewPool(opts.Workers, ants.WithPanicHandler(func(p interface{}) {
		logger.Error("repair task panicked", zap.Any("panic", p))
	}))
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RepairWorker{
		applier: applier,
		log:     logger,
		opts:    opts,
		reader:  reader,
		local:   local,
		pool:    pool,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start begins consuming in the background.
func (w *RepairWorker) Start() {
	w.wg.Add(1)
	if w.reader != nil {
		go w.runKafka()
	} else {
		go w.runLocal()
	}
	w.log.Info("repair worker started",
		zap.Bool("kafka", w.reader != nil),
		zap.Int("workers", w.opts.Workers))
}

// Stop signals the worker to stop, waits for in-flight tasks, and releases
// the pool and reader.
func (w *RepairWorker) Stop() {
	w.cancel()
	w.wg.Wait()
	w.pool.Release()
	if w.reader != nil {
		if err := w.reader.Close(); err != nil {
			w.log.Warn("repair reader close failed", zap.Error(err))
		}
	}
	w.log.Info("repair worker stopped")
}

func (w *RepairWorker) runLocal() {
	defer w.wg.Done()
	var tasks sync.WaitGroup
	defer tasks.Wait()

	for {
		select {
		case <-w.ctx.Done():
			return
		case t := <-w.local:
			tasks.Add(1)
			w.submit(func() {
				defer tasks.Done()
				w.handle(t)
			})
		}
	}
}

func (w *RepairWorker) runKafka() {
	defer w.wg.Done()

	for {
		batch, err := w.fetchBatch()
		if err != nil {
			if w.ctx.Err() != nil {
				return
			}
			w.log.Warn("repair fetch failed", zap.Error(err))
			if !w.sleep(w.opts.Backoff) {
				return
			}
			continue
		}

		var tasks sync.WaitGroup
		for _, msg := range batch {
			msg := msg
			tasks.Add(1)
			w.submit(func() {
				defer tasks.Done()
				var t repair.Task
				if err := json.Unmarshal(msg.Value, &t); err != nil {
					w.log.Error("repair task undecodable; skipping",
						zap.Int64("offset", msg.Offset),
						zap.Int("partition", msg.Partition),
						zap.Error(err))
					return
				}
				w.handle(t)
			})
		}
		tasks.Wait()

		// Commit even when stopping: every task in the batch has finished.
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := w.reader.CommitMessages(cctx, batch...); err != nil {
			w.log.Warn("repair commit failed", zap.Error(err))
		}
		cancel()

		if w.ctx.Err() != nil {
			return
		}
	}
}

// fetchBatch blocks for the first message, then gathers whatever else
// arrives within a short window, up to BatchSize.
func (w *RepairWorker) fetchBatch() ([]kafka.Message, error) {
	first, err := w.reader.FetchMessage(w.ctx)
	if err != nil {
		return nil, err
	}
	batch := []kafka.Message{first}

	wctx, cancel := context.WithTimeout(w.ctx, 100*time.Millisecond)
	defer cancel()
	for len(batch) < w.opts.BatchSize {
		msg, err := w.reader.FetchMessage(wctx)
		if err != nil {
			if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
				w.log.Warn("repair fetch failed mid-batch", zap.Error(err))
			}
			break
		}
		batch = append(batch, msg)
	}
	return batch, nil
}

func (w *RepairWorker) submit(fn func()) {
	if err := w.pool.Submit(fn); err != nil {
		// Pool closed or overloaded; run inline so the task is not lost.
		fn()
	}
}

// handle applies t, retrying with linear backoff. A task that still fails
// after MaxAttempts is logged with every field needed to repair it by hand.
func (w *RepairWorker) handle(t repair.Task) {
	for attempt := 1; attempt <= w.opts.MaxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_, err := w.applier.Apply(ctx, t)
		cancel()
		if err == nil {
			return
		}
		w.log.Warn("repair attempt failed",
			zap.String("task_id", t.ID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt < w.opts.MaxAttempts && !w.sleep(w.opts.Backoff*time.Duration(attempt)) {
			break
		}
	}
	w.log.Error("repair abandoned",
		zap.String("task_id", t.ID),
		zap.String("kind", string(t.Kind)),
		zap.String("user_id", t.UserID),
		zap.String("community_id", t.CommunityID),
		zap.String("reason", t.Reason))
}

// sleep waits d or until the worker stops. It reports whether the worker is
// still running.
func (w *RepairWorker) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-w.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
