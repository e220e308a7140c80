// internal/app/bootstrap/shutdown.go
package bootstrap

import (
	"context"
	"errors"
	"io"

	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"
)

// Shutdown stops the background workers, flushes the Kafka writers and
// tears down the Redis and MongoDB connections. It keeps going after a
// failure and returns every error it saw.
func Shutdown(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	var errs []error

	if svc := deps.App; svc != nil {
		if svc.repairer != nil {
			svc.repairer.Stop()
		}
		if svc.cleanup != nil {
			svc.cleanup.Stop()
		}
		if svc.stopWatch != nil {
			svc.stopWatch()
		}
		if svc.principal != nil {
			svc.principal.Close()
		}
		if svc.phoneLimit != nil {
			svc.phoneLimit.Stop()
		}
		if svc.searchLimit != nil {
			svc.searchLimit.Stop()
		}
		for name, c := range map[string]any{"events publisher": svc.publisher, "repair queue": svc.repairQueue} {
			closer, ok := c.(io.Closer)
			if !ok {
				continue
			}
			if err := closer.Close(); err != nil {
				logger.Error("kafka writer close failed", zap.String("writer", name), zap.Error(err))
				errs = append(errs, err)
			}
		}
	}

	if deps.Redis != nil {
		logger.Info("closing Redis client")
		if err := deps.Redis.Close(); err != nil {
			logger.Error("Redis close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if deps.MongoClient != nil {
		logger.Info("disconnecting MongoDB client")
		if err := deps.MongoClient.Disconnect(ctx); err != nil {
			logger.Error("MongoDB disconnect failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
