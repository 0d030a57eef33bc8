// Package models holds the HTTP request and response payloads.
package models

import (
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/feeledger/internal/domain"
)

// MakePaymentRequest is the payload a student sends to pay toward a payment.
type MakePaymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Method string          `json:"method"`
}

// ResetRequest must carry the literal confirmation word.
type ResetRequest struct {
	Confirm string `json:"confirm"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string            `json:"error"`
	Code      string            `json:"code"`
	Retryable bool              `json:"retryable"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// ReceiptResponse wraps a generated receipt. Receipt is nil when nothing has
// been paid on the payment yet.
type ReceiptResponse struct {
	Receipt *domain.Receipt `json:"receipt"`
}

type ReceiptList struct {
	Receipts []domain.Receipt `json:"receipts"`
	Count    int              `json:"count"`
}

type TransactionList struct {
	Transactions []domain.Transaction `json:"transactions"`
	Count        int                  `json:"count"`
}

// HealthResponse reports liveness and store reachability.
type HealthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
}
