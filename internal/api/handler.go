package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/punchamoorthee/feeledger/internal/models"
	"github.com/punchamoorthee/feeledger/internal/service"
)

// Metrics
var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feeledger_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "feeledger_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})

	rateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feeledger_rate_limited_total",
		Help: "Payment attempts rejected by the per-client rate limiter",
	})
)

// CodeRateLimited is returned with 429 responses.
const CodeRateLimited = "rate_limited"

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	svc   *service.Services
	store Pinger
	log   *zap.Logger
}

func NewHandler(svc *service.Services, store Pinger, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{svc: svc, store: store, log: log}
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func respondWithError(w http.ResponseWriter, code int, errCode, message string) {
	respondWithJSON(w, code, models.ErrorResponse{Error: message, Code: errCode})
}

// writeError maps a service error onto a status code and error body.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := models.ErrorResponse{
		Error:     err.Error(),
		Code:      service.Code(err),
		Retryable: service.IsRetryable(err),
	}

	var ve *service.ValidationError
	if errors.As(err, &ve) && len(ve.Fields) > 0 {
		body.Fields = make(map[string]string, len(ve.Fields))
		for _, f := range ve.Fields {
			body.Fields[f.Field] = f.Error
		}
	}

	status := http.StatusInternalServerError
	switch body.Code {
	case service.CodeValidation, service.CodeInvalidAmount, service.CodeInvalidTransition:
		status = http.StatusUnprocessableEntity
	case service.CodeNotFound:
		status = http.StatusNotFound
	case service.CodeConflict:
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID(r.Context())),
			zap.Error(err))
		if body.Code == service.CodeInternal {
			body.Error = "Internal Server Error"
		}
	}
	respondWithJSON(w, status, body)
}

// decode reads a JSON body into v, answering 400 itself on failure.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondWithError(w, http.StatusBadRequest, service.CodeValidation, "Malformed JSON body")
		return false
	}
	return true
}
