package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter mounts the billing API under /api/v1 plus /health and /metrics.
// limiter guards the student payment route and may be nil.
func NewRouter(h *Handler, limiter *RateLimiter) *mux.Router {
	r := mux.NewRouter()
	r.Use(requestLogger(h.log), instrument)

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods("GET")

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/payments", h.CreatePaymentHandler).Methods("POST")
	apiV1.HandleFunc("/payments/{id}", h.GetPaymentHandler).Methods("GET")
	apiV1.Handle("/payments/{id}/pay", limiter.Middleware(http.HandlerFunc(h.MakePaymentHandler))).Methods("POST")
	apiV1.HandleFunc("/payments/{id}/receipt", h.GenerateReceiptHandler).Methods("POST")

	apiV1.HandleFunc("/students/{id}/payments", h.StudentPaymentsHandler).Methods("GET")
	apiV1.HandleFunc("/students/{id}/transactions", h.StudentTransactionsHandler).Methods("GET")

	apiV1.HandleFunc("/receipts", h.ListReceiptsHandler).Methods("GET")
	apiV1.HandleFunc("/receipts/{id}", h.GetReceiptHandler).Methods("GET")
	apiV1.HandleFunc("/transactions/{id}", h.GetTransactionHandler).Methods("GET")

	admin := apiV1.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/students", h.ListStudentsHandler).Methods("GET")
	admin.HandleFunc("/payments/{id}", h.EditPaymentHandler).Methods("PUT")
	admin.HandleFunc("/receipts/generate-missing", h.GenerateMissingReceiptsHandler).Methods("POST")
	admin.HandleFunc("/overview", h.OverviewHandler).Methods("GET")
	admin.HandleFunc("/reset", h.ResetHandler).Methods("POST")

	return r
}
