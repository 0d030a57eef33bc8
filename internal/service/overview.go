package service

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/punchamoorthee/feeledger/internal/domain"
	"github.com/punchamoorthee/feeledger/internal/store"
)

const topStudentsLimit = 5

// Standing labels a student's outstanding balance on the overview.
type Standing string

const (
	StandingOverdue Standing = "Overdue"
	StandingDueSoon Standing = "DueSoon"
	StandingPaid    Standing = "Paid"
)

// TopStudent is one row of the largest outstanding balances.
type TopStudent struct {
	StudentID   string          `json:"student_id"`
	Name        string          `json:"name"`
	Email       string          `json:"email"`
	Outstanding decimal.Decimal `json:"outstanding"`
	Standing    Standing        `json:"standing"`
}

// Overview is the admin dashboard summary over active students.
type Overview struct {
	TotalStudents      int                        `json:"total_students"`
	TotalRevenue       decimal.Decimal            `json:"total_revenue"`
	PendingPayments    decimal.Decimal            `json:"pending_payments"`
	OutstandingBalance decimal.Decimal            `json:"outstanding_balance"`
	CollectionRate     int64                      `json:"collection_rate"`
	TopStudents        []TopStudent               `json:"top_students"`
	Distribution       []domain.DistributionEntry `json:"distribution"`
	GeneratedAt        time.Time                  `json:"generated_at"`
}

// StudentSummary is a student with totals derived from their payments.
type StudentSummary struct {
	domain.Student
	Totals domain.Totals `json:"totals"`
}

// OverviewReporter computes cross-student aggregates on demand.
type OverviewReporter struct {
	store     store.Store
	students  StudentDirectory
	threshold decimal.Decimal
	now       func() time.Time
}

func (o *OverviewReporter) load(ctx context.Context) ([]domain.Student, map[string][]domain.Payment, error) {
	var (
		students []domain.Student
		payments []domain.Payment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		students, err = o.students.ListActiveStudents(gctx)
		return errors.Wrap(err, "list active students")
	})
	g.Go(func() error {
		var err error
		payments, err = o.store.ListPayments(gctx, store.PaymentFilter{})
		return errors.Wrap(err, "list payments")
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	byStudent := make(map[string][]domain.Payment, len(students))
	for _, s := range students {
		byStudent[s.ID] = nil
	}
	for _, p := range payments {
		if _, active := byStudent[p.StudentID]; active {
			byStudent[p.StudentID] = append(byStudent[p.StudentID], p)
		}
	}
	return students, byStudent, nil
}

// BuildOverview aggregates revenue, outstanding balances and the students
// with the largest balances. The collection rate is 0 when nothing is owed or paid.
func (o *OverviewReporter) BuildOverview(ctx context.Context) (*Overview, error) {
	students, byStudent, err := o.load(ctx)
	if err != nil {
		return nil, err
	}

	ov := &Overview{
		TotalStudents:      len(students),
		TotalRevenue:       decimal.Zero,
		PendingPayments:    decimal.Zero,
		OutstandingBalance: decimal.Zero,
		TopStudents:        []TopStudent{},
		GeneratedAt:        o.now().UTC(),
	}

	var all []domain.Payment
	for _, s := range students {
		ps := byStudent[s.ID]
		all = append(all, ps...)
		for _, p := range ps {
			if p.Status == domain.StatusPending {
				ov.PendingPayments = ov.PendingPayments.Add(p.Amount)
			}
		}

		t := domain.ComputeTotals(ps)
		ov.TotalRevenue = ov.TotalRevenue.Add(t.TotalPaid)
		ov.OutstandingBalance = ov.OutstandingBalance.Add(t.Outstanding)
		ov.TopStudents = append(ov.TopStudents, TopStudent{
			StudentID:   s.ID,
			Name:        s.FullName,
			Email:       s.Email,
			Outstanding: t.Outstanding,
			Standing:    o.standing(t.Outstanding),
		})
	}

	ov.CollectionRate = domain.Percent(ov.TotalRevenue, ov.TotalRevenue.Add(ov.OutstandingBalance))
	ov.Distribution = domain.Distribution(all)

	sort.SliceStable(ov.TopStudents, func(i, j int) bool {
		a, b := ov.TopStudents[i], ov.TopStudents[j]
		if !a.Outstanding.Equal(b.Outstanding) {
			return a.Outstanding.GreaterThan(b.Outstanding)
		}
		return a.Name < b.Name
	})
	if len(ov.TopStudents) > topStudentsLimit {
		ov.TopStudents = ov.TopStudents[:topStudentsLimit]
	}
	return ov, nil
}

func (o *OverviewReporter) standing(outstanding decimal.Decimal) Standing {
	switch {
	case outstanding.GreaterThan(o.threshold):
		return StandingOverdue
	case outstanding.IsPositive():
		return StandingDueSoon
	}
	return StandingPaid
}

// ListStudentsWithTotals returns every active student with derived totals.
func (o *OverviewReporter) ListStudentsWithTotals(ctx context.Context) ([]StudentSummary, error) {
	students, byStudent, err := o.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]StudentSummary, 0, len(students))
	for _, s := range students {
		out = append(out, StudentSummary{Student: s, Totals: domain.ComputeTotals(byStudent[s.ID])})
	}
	return out, nil
}
