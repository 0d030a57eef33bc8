// Package service implements the billing core: the payment ledger, the
// transaction journal, receipt generation and the balance and overview
// reports derived from the ledger.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/punchamoorthee/feeledger/internal/domain"
	"github.com/punchamoorthee/feeledger/internal/store"
)

// StudentDirectory resolves students owned by the wider school application.
type StudentDirectory interface {
	LookupStudent(ctx context.Context, id string) (*domain.Student, error)
	ListActiveStudents(ctx context.Context) ([]domain.Student, error)
}

// Options tunes the billing services.
type Options struct {
	// OverdueThreshold is the outstanding balance above which a student is
	// reported as overdue. When unset it defaults to 1000.
	OverdueThreshold decimal.NullDecimal
	MaxTxRetries     uint
	Now              func() time.Time
}

// Services bundles the billing components wired to one store.
type Services struct {
	Ledger   *Ledger
	Journal  *Journal
	Receipts *ReceiptGenerator
	Balances *BalanceAggregator
	Overview *OverviewReporter
}

// New wires the billing components together.
func New(st store.Store, students StudentDirectory, logger *zap.Logger, opts Options) *Services {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxTxRetries == 0 {
		opts.MaxTxRetries = 5
	}
	if !opts.OverdueThreshold.Valid {
		opts.OverdueThreshold = decimal.NewNullDecimal(decimal.NewFromInt(1000))
	}

	runner := &txRunner{store: st, maxTries: opts.MaxTxRetries, log: logger}
	journal := &Journal{store: st, now: opts.Now}
	balances := &BalanceAggregator{store: st, now: opts.Now}
	receipts := &ReceiptGenerator{
		store: st,
		tx:    runner,
		log:   logger.Named("receipts"),
		now:   opts.Now,
	}
	ledger := &Ledger{
		store:    st,
		students: students,
		tx:       runner,
		journal:  journal,
		receipts: receipts,
		balances: balances,
		log:      logger.Named("ledger"),
		now:      opts.Now,
	}
	overview := &OverviewReporter{
		store:     st,
		students:  students,
		threshold: opts.OverdueThreshold.Decimal,
		now:       opts.Now,
	}

	return &Services{
		Ledger:   ledger,
		Journal:  journal,
		Receipts: receipts,
		Balances: balances,
		Overview: overview,
	}
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func formatNumber(prefix string, n int64) string {
	return fmt.Sprintf("%s-%06d", prefix, n)
}
