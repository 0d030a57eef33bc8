package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/punchamoorthee/feeledger/internal/models"
	"github.com/punchamoorthee/feeledger/internal/service"
)

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		respondWithJSON(w, http.StatusServiceUnavailable, models.HealthResponse{Status: "degraded", Store: err.Error()})
		return
	}
	respondWithJSON(w, http.StatusOK, models.HealthResponse{Status: "ok", Store: "ok"})
}

func (h *Handler) ListStudentsHandler(w http.ResponseWriter, r *http.Request) {
	students, err := h.svc.Overview.ListStudentsWithTotals(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, students)
}

func (h *Handler) CreatePaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req service.NewPayment
	if !decode(w, r, &req) {
		return
	}
	p, err := h.svc.Ledger.CreatePayment(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/payments/"+p.ID)
	respondWithJSON(w, http.StatusCreated, p)
}

func (h *Handler) GetPaymentHandler(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Ledger.GetPayment(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, p)
}

func (h *Handler) StudentPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	stmt, err := h.svc.Ledger.StudentStatement(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, stmt)
}

func (h *Handler) EditPaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req service.PaymentEdit
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.Ledger.EditPayment(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

func (h *Handler) MakePaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req models.MakePaymentRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.Ledger.RecordStudentPayment(r.Context(), mux.Vars(r)["id"], req.Amount, req.Method)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/transactions/"+res.Transaction.ID)
	respondWithJSON(w, http.StatusCreated, res)
}

func (h *Handler) GenerateReceiptHandler(w http.ResponseWriter, r *http.Request) {
	admin := false
	if v := r.URL.Query().Get("admin"); v != "" {
		var err error
		if admin, err = strconv.ParseBool(v); err != nil {
			respondWithError(w, http.StatusBadRequest, service.CodeValidation, "admin must be true or false")
			return
		}
	}
	rcpt, err := h.svc.Receipts.GenerateForPayment(r.Context(), mux.Vars(r)["id"], admin)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.ReceiptResponse{Receipt: rcpt})
}

func (h *Handler) GenerateMissingReceiptsHandler(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Receipts.GenerateMissing(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

func (h *Handler) OverviewHandler(w http.ResponseWriter, r *http.Request) {
	ov, err := h.svc.Overview.BuildOverview(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, ov)
}

func (h *Handler) ListReceiptsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	receipts, err := h.svc.Receipts.List(r.Context(), service.ReceiptQuery{
		StudentID: q.Get("student_id"),
		Period:    service.Period(q.Get("period")),
		Search:    q.Get("search"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.ReceiptList{Receipts: receipts, Count: len(receipts)})
}

func (h *Handler) GetReceiptHandler(w http.ResponseWriter, r *http.Request) {
	rcpt, err := h.svc.Receipts.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, rcpt)
}

func (h *Handler) StudentTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	txns, err := h.svc.Journal.ListByStudent(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.TransactionList{Transactions: txns, Count: len(txns)})
}

func (h *Handler) GetTransactionHandler(w http.ResponseWriter, r *http.Request) {
	txn, err := h.svc.Journal.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, txn)
}

func (h *Handler) ResetHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ResetRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.svc.Ledger.Reset(r.Context(), req.Confirm); err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
