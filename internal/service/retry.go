package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/punchamoorthee/feeledger/internal/store"
)

var (
	txRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feeledger_tx_retries_total",
		Help: "Store transactions retried after a concurrent update conflict",
	}, []string{"operation"})

	paymentsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feeledger_payments_recorded_total",
		Help: "Student payments applied to the ledger",
	})

	receiptsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feeledger_receipts_generated_total",
		Help: "Receipt generation outcomes",
	}, []string{"result"})
)

// txRunner runs store transactions, retrying the ones that lost a race.
type txRunner struct {
	store    store.Store
	maxTries uint
	log      *zap.Logger
}

func (r *txRunner) run(ctx context.Context, op string, fn func(ctx context.Context, tx store.Tx) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := r.store.InTx(ctx, fn)
		if err == nil {
			return struct{}{}, nil
		}
		if !IsRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		txRetries.WithLabelValues(op).Inc()
		r.log.Debug("retrying transaction", zap.String("operation", op), zap.Int("attempt", attempt), zap.Error(err))
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(r.maxTries))
	return err
}
