package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StartOverdueSweep marks overdue payments once at start and then on every
// tick until ctx is cancelled. The returned channel closes when the loop exits.
func StartOverdueSweep(ctx context.Context, ledger *Ledger, interval time.Duration, log *zap.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Info("overdue sweep started", zap.Duration("interval", interval))
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			if _, err := ledger.MarkOverdue(ctx); err != nil && ctx.Err() == nil {
				log.Error("overdue sweep failed", zap.Error(err))
			}
			select {
			case <-ctx.Done():
				log.Info("overdue sweep stopped")
				return
			case <-ticker.C:
			}
		}
	}()
	return done
}
