package service

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/punchamoorthee/feeledger/internal/domain"
	"github.com/punchamoorthee/feeledger/internal/store"
)

// ReceiptGenerator issues receipts for payments. A payment has at most one
// receipt; each settlement updates it in place to the cumulative amount paid.
type ReceiptGenerator struct {
	store store.Store
	tx    *txRunner
	log   *zap.Logger
	now   func() time.Time
	group singleflight.Group
}

// BatchResult summarizes GenerateMissing.
type BatchResult struct {
	Total     int `json:"total"`
	Generated int `json:"generated"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// Period bounds receipt listings by date.
type Period string

const (
	PeriodToday Period = "today"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
	PeriodAll   Period = "all"
)

// Since returns the start of the period ending at now. PeriodAll returns the zero time.
func (p Period) Since(now time.Time) (time.Time, error) {
	switch p {
	case PeriodToday:
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, now.Location()), nil
	case PeriodWeek:
		return now.AddDate(0, 0, -7), nil
	case PeriodMonth:
		return now.AddDate(0, -1, 0), nil
	case PeriodYear:
		return now.AddDate(-1, 0, 0), nil
	case PeriodAll, "":
		return time.Time{}, nil
	}
	return time.Time{}, NewValidationError(errors.New("invalid period"),
		FieldError{Field: "period", Error: "must be one of today, week, month, year, all"})
}

// ReceiptQuery filters List.
type ReceiptQuery struct {
	StudentID string
	Period    Period
	Search    string
}

// idempotencyKey identifies a receipt state by the exact amount paid.
func idempotencyKey(p *domain.Payment) string {
	return p.ID + ":" + p.AmountPaid.String()
}

// GenerateForPayment issues or refreshes the receipt of a payment. A payment
// with nothing paid yields no receipt. Without adminAction a receipt that
// already covers the current amount paid is returned unchanged, and
// concurrent calls for the same payment share one result.
func (g *ReceiptGenerator) GenerateForPayment(ctx context.Context, paymentID string, adminAction bool) (*domain.Receipt, error) {
	if adminAction {
		return g.generate(ctx, paymentID, true)
	}
	v, err, _ := g.group.Do(paymentID, func() (interface{}, error) {
		return g.generate(ctx, paymentID, false)
	})
	r, _ := v.(*domain.Receipt)
	return r, err
}

func (g *ReceiptGenerator) generate(ctx context.Context, paymentID string, adminAction bool) (*domain.Receipt, error) {
	var (
		rcpt    *domain.Receipt
		changed bool
	)
	err := g.tx.run(ctx, "generate_receipt", func(ctx context.Context, tx store.Tx) error {
		p, err := tx.LockPayment(ctx, paymentID)
		if err != nil {
			return notFound(err, ErrPaymentNotFound, paymentID)
		}
		method, err := lastMethod(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		rcpt, changed, err = g.issue(ctx, tx, p, method, adminAction)
		if err != nil || !changed {
			return err
		}
		return tx.UpdatePayment(ctx, p)
	})
	switch {
	case err == nil:
	case IsNotFound(err), IsRetryable(err):
		return nil, err
	default:
		receiptsGenerated.WithLabelValues("failed").Inc()
		return nil, &ReceiptGenerationError{PaymentID: paymentID, Err: err}
	}

	switch {
	case rcpt == nil:
		receiptsGenerated.WithLabelValues("nothing_paid").Inc()
	case changed:
		receiptsGenerated.WithLabelValues("issued").Inc()
		g.log.Info("receipt issued",
			zap.String("payment_id", paymentID),
			zap.String("receipt", rcpt.Number),
			zap.String("total", rcpt.Total.String()),
			zap.Bool("admin", adminAction))
	default:
		receiptsGenerated.WithLabelValues("existing").Inc()
	}
	return rcpt, nil
}

// issue creates or refreshes the receipt for p inside tx and marks p as
// receipted. The caller persists p. The bool reports whether anything was written.
func (g *ReceiptGenerator) issue(ctx context.Context, tx store.Tx, p *domain.Payment, method string, adminAction bool) (*domain.Receipt, bool, error) {
	if !p.AmountPaid.IsPositive() {
		return nil, false, nil
	}
	key := idempotencyKey(p)

	var existing *domain.Receipt
	if p.ReceiptID != "" {
		r, err := tx.GetReceipt(ctx, p.ReceiptID)
		switch {
		case err == nil:
			existing = r
		case !errors.Is(err, store.ErrNotFound):
			return nil, false, errors.Wrapf(err, "load receipt %s", p.ReceiptID)
		}
	}
	if existing != nil && existing.IdempotencyKey == key && !adminAction {
		return existing, false, nil
	}

	if method == "" && existing != nil {
		method = existing.PaymentMethod
	}
	now := g.now().UTC()
	items := []domain.ReceiptItem{{Description: p.Description, Amount: p.AmountPaid, Type: p.Type}}

	if existing != nil {
		existing.Items = items
		existing.Subtotal = p.AmountPaid
		existing.Tax = decimal.Zero
		existing.Total = p.AmountPaid
		existing.PaymentMethod = method
		existing.IdempotencyKey = key
		existing.UpdatedAt = now
		if err := tx.UpdateReceipt(ctx, existing); err != nil {
			return nil, false, errors.Wrapf(err, "update receipt %s", existing.Number)
		}
		markReceipted(p, existing.ID, now)
		return existing, true, nil
	}

	n, err := tx.NextNumber(ctx, store.SeqReceipt)
	if err != nil {
		return nil, false, errors.Wrap(err, "next receipt number")
	}
	r := &domain.Receipt{
		ID:             newID(),
		Number:         formatNumber("RCP", n),
		StudentID:      p.StudentID,
		StudentName:    p.StudentName,
		StudentEmail:   p.StudentEmail,
		StudentCourse:  p.StudentCourse,
		PaymentID:      p.ID,
		Items:          items,
		Subtotal:       p.AmountPaid,
		Tax:            decimal.Zero,
		Total:          p.AmountPaid,
		PaymentMethod:  method,
		Status:         domain.StatusReceiptIssued,
		IdempotencyKey: key,
		Date:           now,
		UpdatedAt:      now,
	}
	if err := tx.InsertReceipt(ctx, r); err != nil {
		return nil, false, errors.Wrapf(err, "insert receipt %s", r.Number)
	}
	markReceipted(p, r.ID, now)
	return r, true, nil
}

func markReceipted(p *domain.Payment, receiptID string, at time.Time) {
	p.ReceiptGenerated = true
	p.ReceiptID = receiptID
	p.LastReceiptUpdate = &at
}

func lastMethod(ctx context.Context, tx store.Tx, paymentID string) (string, error) {
	txns, err := tx.ListTransactions(ctx, store.TransactionFilter{PaymentID: paymentID, Type: domain.TxnPayment})
	if err != nil {
		return "", errors.Wrap(err, "list payment transactions")
	}
	if len(txns) == 0 {
		return "", nil
	}
	return txns[0].Method, nil
}

// GenerateMissing issues receipts for every payment with money received and
// no receipt. Candidates are listed first and each one is then handled in its
// own transaction; a candidate that gained a receipt in the meantime is skipped.
// Failures are counted and do not stop the batch.
func (g *ReceiptGenerator) GenerateMissing(ctx context.Context) (BatchResult, error) {
	candidates, err := g.store.ListPayments(ctx, store.PaymentFilter{Unreceipted: true})
	if err != nil {
		return BatchResult{}, errors.Wrap(err, "list payments without receipts")
	}

	res := BatchResult{Total: len(candidates)}
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		var issued bool
		err := g.tx.run(ctx, "generate_missing_receipt", func(ctx context.Context, tx store.Tx) error {
			issued = false
			p, err := tx.LockPayment(ctx, c.ID)
			if err != nil {
				return err
			}
			if p.ReceiptGenerated || !p.AmountPaid.IsPositive() {
				return nil
			}
			if p.Version != c.Version {
				g.log.Debug("payment changed since listing", zap.String("payment_id", p.ID))
			}
			method, err := lastMethod(ctx, tx, p.ID)
			if err != nil {
				return err
			}
			if _, issued, err = g.issue(ctx, tx, p, method, true); err != nil || !issued {
				return err
			}
			return tx.UpdatePayment(ctx, p)
		})

		switch {
		case err != nil:
			res.Errors++
			receiptsGenerated.WithLabelValues("failed").Inc()
			g.log.Error("generate missing receipt", zap.String("payment_id", c.ID), zap.Error(err))
		case issued:
			res.Generated++
			receiptsGenerated.WithLabelValues("issued").Inc()
		default:
			res.Skipped++
		}
	}

	g.log.Info("missing receipts generated",
		zap.Int("total", res.Total),
		zap.Int("generated", res.Generated),
		zap.Int("skipped", res.Skipped),
		zap.Int("errors", res.Errors))
	return res, nil
}

// Get finds a receipt by id or number. When no receipt matches, a payment
// transaction with that id or number is looked up and a receipt is synthesized
// from it. Refunds and adjustments never yield a receipt.
// Synthesized receipts are flagged and never stored.
func (g *ReceiptGenerator) Get(ctx context.Context, idOrNumber string) (*domain.Receipt, error) {
	r, err := g.store.GetReceipt(ctx, idOrNumber)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, errors.Wrapf(err, "get receipt %s", idOrNumber)
	}

	txn, err := g.store.GetTransaction(ctx, idOrNumber)
	if err != nil {
		return nil, notFound(err, ErrReceiptNotFound, idOrNumber)
	}
	if txn.Type != domain.TxnPayment || !txn.Amount.IsPositive() {
		return nil, errors.Wrapf(ErrReceiptNotFound, "transaction %s is not a payment", txn.Number)
	}
	return g.synthesize(ctx, txn)
}

func (g *ReceiptGenerator) synthesize(ctx context.Context, txn *domain.Transaction) (*domain.Receipt, error) {
	r := &domain.Receipt{
		ID:            txn.ID,
		Number:        txn.Number,
		StudentID:     txn.StudentID,
		PaymentID:     txn.PaymentID,
		Subtotal:      txn.Amount,
		Tax:           decimal.Zero,
		Total:         txn.Amount,
		PaymentMethod: txn.Method,
		Status:        domain.StatusReceiptIssued,
		Synthesized:   true,
		Date:          txn.Date,
		UpdatedAt:     txn.Date,
	}
	item := domain.ReceiptItem{Description: txn.Note, Amount: txn.Amount, Type: domain.TypeOther}

	if txn.PaymentID != "" {
		p, err := g.store.GetPayment(ctx, txn.PaymentID)
		switch {
		case err == nil:
			r.StudentName, r.StudentEmail, r.StudentCourse = p.StudentName, p.StudentEmail, p.StudentCourse
			item.Type = p.Type
			if item.Description == "" {
				item.Description = p.Description
			}
		case !errors.Is(err, store.ErrNotFound):
			return nil, errors.Wrapf(err, "get payment %s", txn.PaymentID)
		}
	}
	r.Items = []domain.ReceiptItem{item}
	return r, nil
}

// List returns stored receipts, newest first.
func (g *ReceiptGenerator) List(ctx context.Context, q ReceiptQuery) ([]domain.Receipt, error) {
	from, err := q.Period.Since(g.now())
	if err != nil {
		return nil, err
	}
	receipts, err := g.store.ListReceipts(ctx, store.ReceiptFilter{
		StudentID: q.StudentID,
		From:      from,
		Search:    strings.TrimSpace(q.Search),
	})
	if err != nil {
		return nil, errors.Wrap(err, "list receipts")
	}
	return receipts, nil
}
