package domain

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ErrAmountOutOfBounds is returned when a payment would break 0 <= amount_paid <= amount.
var ErrAmountOutOfBounds = errors.New("amount paid must be between zero and the amount owed")

// MoneyPlaces is the number of decimal places a money amount may carry.
const MoneyPlaces = 2

// MaxAmount bounds any single money amount.
var MaxAmount = decimal.New(1, 10)

// ValidMoney reports whether d is a whole number of cents below MaxAmount.
func ValidMoney(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(MoneyPlaces)) && d.Abs().LessThan(MaxAmount)
}

// PaymentType classifies what a payment is owed for.
type PaymentType string

const (
	TypeTuition  PaymentType = "tuition"
	TypeHousing  PaymentType = "housing"
	TypeMealPlan PaymentType = "meal_plan"
	TypeFees     PaymentType = "fees"
	TypeOther    PaymentType = "other"
)

// Valid reports whether t is one of the known payment types.
func (t PaymentType) Valid() bool {
	switch t {
	case TypeTuition, TypeHousing, TypeMealPlan, TypeFees, TypeOther:
		return true
	}
	return false
}

// Student is the billing view of a student record owned by the directory.
type Student struct {
	ID         string `json:"id"`
	FullName   string `json:"full_name"`
	Email      string `json:"email"`
	Course     string `json:"course"`
	GradeLevel string `json:"grade_level,omitempty"`
	IsActive   bool   `json:"is_active"`
}

// Payment is a single billable obligation for a student. Student name, email
// and course are copied at creation and are not resynced afterwards.
type Payment struct {
	ID                string          `json:"id"`
	StudentID         string          `json:"student_id"`
	StudentName       string          `json:"student_name"`
	StudentEmail      string          `json:"student_email"`
	StudentCourse     string          `json:"student_course"`
	Amount            decimal.Decimal `json:"amount"`
	AmountPaid        decimal.Decimal `json:"amount_paid"`
	Description       string          `json:"description"`
	DueDate           time.Time       `json:"due_date"`
	Type              PaymentType     `json:"type"`
	Status            PaymentStatus   `json:"status"`
	ReceiptGenerated  bool            `json:"receipt_generated"`
	ReceiptID         string          `json:"receipt_id,omitempty"`
	LastReceiptUpdate *time.Time      `json:"last_receipt_update,omitempty"`
	Version           int64           `json:"version"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Remaining is the amount still owed on the payment.
func (p Payment) Remaining() decimal.Decimal {
	return p.Amount.Sub(p.AmountPaid)
}

// Validate checks the amount invariant and the money scale.
func (p Payment) Validate() error {
	if !ValidMoney(p.Amount) || !ValidMoney(p.AmountPaid) {
		return errors.Wrapf(ErrAmountOutOfBounds, "payment %s: amounts must be whole cents below %s", p.ID, MaxAmount)
	}
	if p.Amount.IsNegative() || p.AmountPaid.IsNegative() || p.AmountPaid.GreaterThan(p.Amount) {
		return errors.Wrapf(ErrAmountOutOfBounds, "payment %s: paid %s of %s", p.ID, p.AmountPaid, p.Amount)
	}
	return nil
}

// TransactionType is the kind of journal entry.
type TransactionType string

const (
	TxnPayment    TransactionType = "payment"
	TxnRefund     TransactionType = "refund"
	TxnAdjustment TransactionType = "adjustment"
)

// Transaction is an immutable journal entry. Amount is the credit applied to
// the student, so BalanceAfter always equals BalanceBefore - Amount.
type Transaction struct {
	ID            string          `json:"id"`
	Number        string          `json:"number"`
	StudentID     string          `json:"student_id"`
	PaymentID     string          `json:"payment_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Type          TransactionType `json:"type"`
	Status        string          `json:"status"`
	Method        string          `json:"method"`
	Note          string          `json:"note,omitempty"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Date          time.Time       `json:"date"`
}

// Reconciles reports whether the running balances agree with the amount.
func (t Transaction) Reconciles() bool {
	return t.BalanceBefore.Sub(t.Amount).Equal(t.BalanceAfter)
}

// ReceiptItem is one line on a receipt.
type ReceiptItem struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Type        PaymentType     `json:"type"`
}

// Receipt documents money received. Synthesized receipts are built from a
// transaction on lookup and never stored.
type Receipt struct {
	ID             string          `json:"id"`
	Number         string          `json:"number"`
	StudentID      string          `json:"student_id"`
	StudentName    string          `json:"student_name"`
	StudentEmail   string          `json:"student_email"`
	StudentCourse  string          `json:"student_course"`
	PaymentID      string          `json:"payment_id,omitempty"`
	Items          []ReceiptItem   `json:"items"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Tax            decimal.Decimal `json:"tax"`
	Total          decimal.Decimal `json:"total"`
	PaymentMethod  string          `json:"payment_method"`
	Status         string          `json:"status"`
	IdempotencyKey string          `json:"-"`
	Synthesized    bool            `json:"synthesized,omitempty"`
	Date           time.Time       `json:"date"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// StudentBalance is the stored balance view for one student.
type StudentBalance struct {
	StudentID   string          `json:"student_id"`
	TotalDue    decimal.Decimal `json:"total_due"`
	TotalPaid   decimal.Decimal `json:"total_paid"`
	Outstanding decimal.Decimal `json:"outstanding"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

const (
	StatusTransactionCompleted = "completed"
	StatusReceiptIssued        = "issued"
)
