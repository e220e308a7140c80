// internal/app/system/workers/oauthcleanup.go
package workers

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ExpiredStateCleaner removes expired sign-in states.
type ExpiredStateCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// OAuthStateCleanup is a background worker that deletes expired Google
// sign-in states. It backs up the TTL index, whose monitor runs only about
// once a minute and may lag under load.
type OAuthStateCleanup struct {
	states   ExpiredStateCleaner
	log      *zap.Logger
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewOAuthStateCleanup creates the worker. interval is how often to sweep.
func NewOAuthStateCleanup(states ExpiredStateCleaner, logger *zap.Logger, interval time.Duration) *OAuthStateCleanup {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &OAuthStateCleanup{
		states:   states,
		log:      logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the background cleanup loop.
func (w *OAuthStateCleanup) Start() {
	w.wg.Add(1)
	go w.run()
	w.log.Info("oauth state cleanup worker started", zap.Duration("interval", w.interval))
}

// Stop signals the worker to stop and waits for it to finish.
func (w *OAuthStateCleanup) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
	w.log.Info("oauth state cleanup worker stopped")
}

func (w *OAuthStateCleanup) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.cleanup()
		}
	}
}

func (w *OAuthStateCleanup) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	count, err := w.states.CleanupExpired(ctx)
	if err != nil {
		w.log.Error("failed to delete expired oauth states", zap.Error(err))
		return
	}
	if count > 0 {
		w.log.Info("deleted expired oauth states", zap.Int64("count", count))
	}
}
