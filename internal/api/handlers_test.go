package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/punchamoorthee/feeledger/internal/domain"
	"github.com/punchamoorthee/feeledger/internal/models"
	"github.com/punchamoorthee/feeledger/internal/service"
	"github.com/punchamoorthee/feeledger/internal/store/memory"
)

func newTestServer(t *testing.T, limiter *RateLimiter) *httptest.Server {
	t.Helper()
	st := memory.New()
	st.AddStudent(domain.Student{ID: "stu-1", FullName: "Amina Otieno", Email: "amina@school.test", Course: "Form 2", IsActive: true})
	st.AddStudent(domain.Student{ID: "stu-2", FullName: "Brian Kato", Email: "brian@school.test", Course: "Form 3", IsActive: true})

	svc := service.New(st, st, zap.NewNop(), service.Options{})
	srv := httptest.NewServer(NewRouter(NewHandler(svc, st, zap.NewNop()), limiter))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, body string, out interface{}) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func createPayment(t *testing.T, srv *httptest.Server, studentID string, amount int) domain.Payment {
	t.Helper()
	var p domain.Payment
	body := `{"student_id":"` + studentID + `","amount":` + decimal.NewFromInt(int64(amount)).String() +
		`,"description":"Term 1 tuition","due_date":"2030-01-15T00:00:00Z","type":"tuition"}`
	resp := do(t, srv, http.MethodPost, "/api/v1/payments", body, &p)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "/api/v1/payments/"+p.ID, resp.Header.Get("Location"))
	return p
}

func TestHealthCheck(t *testing.T) {
	srv := newTestServer(t, nil)
	var body models.HealthResponse
	resp := do(t, srv, http.MethodGet, "/health", "", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body.Status)
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))
}

func TestPaymentLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)
	p := createPayment(t, srv, "stu-1", 1000)
	assert.Equal(t, domain.StatusPending, p.Status)

	var first service.PaymentResult
	resp := do(t, srv, http.MethodPost, "/api/v1/payments/"+p.ID+"/pay", `{"amount":"400","method":"mpesa"}`, &first)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, domain.StatusPartial, first.Payment.Status)
	require.NotNil(t, first.Receipt)
	assert.True(t, first.Transaction.BalanceAfter.Equal(decimal.NewFromInt(600)))

	var overpay models.ErrorResponse
	resp = do(t, srv, http.MethodPost, "/api/v1/payments/"+p.ID+"/pay", `{"amount":700}`, &overpay)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, service.CodeInvalidAmount, overpay.Code)
	assert.False(t, overpay.Retryable)

	var second service.PaymentResult
	resp = do(t, srv, http.MethodPost, "/api/v1/payments/"+p.ID+"/pay", `{"amount":600}`, &second)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, domain.StatusCompleted, second.Payment.Status)
	assert.Equal(t, first.Receipt.ID, second.Receipt.ID)

	var got domain.Payment
	resp = do(t, srv, http.MethodGet, "/api/v1/payments/"+p.ID, "", &got)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, got.AmountPaid.Equal(decimal.NewFromInt(1000)))

	var stmt service.StudentStatement
	resp = do(t, srv, http.MethodGet, "/api/v1/students/stu-1/payments", "", &stmt)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, stmt.Totals.Outstanding.IsZero())

	var txns models.TransactionList
	resp = do(t, srv, http.MethodGet, "/api/v1/students/stu-1/transactions", "", &txns)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, txns.Count)

	var rc domain.Receipt
	resp = do(t, srv, http.MethodGet, "/api/v1/receipts/"+second.Receipt.Number, "", &rc)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, rc.Total.Equal(decimal.NewFromInt(1000)))

	var txn domain.Transaction
	resp = do(t, srv, http.MethodGet, "/api/v1/transactions/"+second.Transaction.Number, "", &txn)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, second.Transaction.ID, txn.ID)
}

func TestCreatePaymentErrors(t *testing.T) {
	srv := newTestServer(t, nil)

	tests := []struct {
		name   string
		body   string
		status int
		code   string
		field  string
	}{
		{"malformed", `{"student_id":`, http.StatusBadRequest, service.CodeValidation, ""},
		{"missing fields", `{}`, http.StatusUnprocessableEntity, service.CodeValidation, "student_id"},
		{"bad type", `{"student_id":"stu-1","amount":10,"description":"Bus","due_date":"2030-01-01T00:00:00Z","type":"bus"}`,
			http.StatusUnprocessableEntity, service.CodeValidation, "type"},
		{"unknown student", `{"student_id":"ghost","amount":10,"description":"Fees","due_date":"2030-01-01T00:00:00Z","type":"fees"}`,
			http.StatusNotFound, service.CodeNotFound, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var body models.ErrorResponse
			resp := do(t, srv, http.MethodPost, "/api/v1/payments", tc.body, &body)
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Equal(t, tc.code, body.Code)
			if tc.field != "" {
				assert.Contains(t, body.Fields, tc.field)
			}
		})
	}
}

func TestAdminEditAndTransitions(t *testing.T) {
	srv := newTestServer(t, nil)
	p := createPayment(t, srv, "stu-2", 500)

	var res service.EditResult
	resp := do(t, srv, http.MethodPut, "/api/v1/admin/payments/"+p.ID,
		`{"amount_paid":500,"total_amount":500,"status":"completed"}`, &res)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, domain.StatusCompleted, res.Payment.Status)
	require.NotNil(t, res.Receipt)

	var refused models.ErrorResponse
	resp = do(t, srv, http.MethodPut, "/api/v1/admin/payments/"+p.ID,
		`{"amount_paid":200,"total_amount":500,"status":"partial"}`, &refused)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, service.CodeInvalidTransition, refused.Code)

	resp = do(t, srv, http.MethodPut, "/api/v1/admin/payments/"+p.ID,
		`{"amount_paid":200,"total_amount":500,"status":"partial","correction":true,"reason":"bank reversal"}`, &res)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, domain.StatusPartial, res.Payment.Status)
}

func TestReceiptEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)
	p := createPayment(t, srv, "stu-1", 300)

	var none models.ReceiptResponse
	resp := do(t, srv, http.MethodPost, "/api/v1/payments/"+p.ID+"/receipt", "", &none)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, none.Receipt)

	do(t, srv, http.MethodPost, "/api/v1/payments/"+p.ID+"/pay", `{"amount":100}`, nil)

	var again models.ReceiptResponse
	resp = do(t, srv, http.MethodPost, "/api/v1/payments/"+p.ID+"/receipt?admin=true", "", &again)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, again.Receipt)

	var list models.ReceiptList
	resp = do(t, srv, http.MethodGet, "/api/v1/receipts?period=today&search=amina", "", &list)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, list.Count)

	var bad models.ErrorResponse
	resp = do(t, srv, http.MethodGet, "/api/v1/receipts?period=decade", "", &bad)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, bad.Fields, "period")

	resp = do(t, srv, http.MethodPost, "/api/v1/payments/"+p.ID+"/receipt?admin=maybe", "", &bad)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var batch service.BatchResult
	resp = do(t, srv, http.MethodPost, "/api/v1/admin/receipts/generate-missing", "", &batch)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, batch.Total)

	var missing models.ErrorResponse
	resp = do(t, srv, http.MethodGet, "/api/v1/receipts/RCP-999999", "", &missing)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, service.CodeNotFound, missing.Code)
}

func TestOverviewAndStudents(t *testing.T) {
	srv := newTestServer(t, nil)
	createPayment(t, srv, "stu-1", 1500)
	createPayment(t, srv, "stu-2", 200)

	var ov service.Overview
	resp := do(t, srv, http.MethodGet, "/api/v1/admin/overview", "", &ov)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, ov.TotalStudents)
	require.Len(t, ov.TopStudents, 2)
	assert.Equal(t, service.StandingOverdue, ov.TopStudents[0].Standing)
	assert.Equal(t, service.StandingDueSoon, ov.TopStudents[1].Standing)

	var students []service.StudentSummary
	resp = do(t, srv, http.MethodGet, "/api/v1/admin/students", "", &students)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, students, 2)
}

func TestReset(t *testing.T) {
	srv := newTestServer(t, nil)
	p := createPayment(t, srv, "stu-1", 100)

	var refused models.ErrorResponse
	resp := do(t, srv, http.MethodPost, "/api/v1/admin/reset", `{"confirm":"yes"}`, &refused)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, refused.Fields, "confirm")

	resp = do(t, srv, http.MethodPost, "/api/v1/admin/reset", `{"confirm":"RESET"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, srv, http.MethodGet, "/api/v1/payments/"+p.ID, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)
	do(t, srv, http.MethodGet, "/health", "", nil)

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `feeledger_http_requests_total{endpoint="/health",method="GET",status="200"}`)
}

func TestPayIsRateLimited(t *testing.T) {
	srv := newTestServer(t, NewRateLimiter(2, time.Minute))

	for i := 0; i < 2; i++ {
		resp := do(t, srv, http.MethodPost, "/api/v1/payments/missing/pay", `{"amount":10}`, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	}
	var body models.ErrorResponse
	resp := do(t, srv, http.MethodPost, "/api/v1/payments/missing/pay", `{"amount":10}`, &body)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, CodeRateLimited, body.Code)

	resp = do(t, srv, http.MethodGet, "/api/v1/payments/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "other routes are not limited")
}

func TestPayRateLimitIgnoresForgedForwardedFor(t *testing.T) {
	srv := newTestServer(t, NewRateLimiter(2, time.Minute))

	codes := make([]int, 0, 5)
	for i := 0; i < 5; i++ {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/payments/missing/pay", strings.NewReader(`{"amount":10}`))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
		resp, err := srv.Client().Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	assert.Equal(t, []int{
		http.StatusNotFound, http.StatusNotFound,
		http.StatusTooManyRequests, http.StatusTooManyRequests, http.StatusTooManyRequests,
	}, codes)
}
