package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/idempotency"
	"github.com/xenking/kart-checkout/internal/payment"
	"github.com/xenking/kart-checkout/pkg/httpmiddleware"
)

// IdempotencyKeyHeader carries the client-chosen idempotency key.
const IdempotencyKeyHeader = "Idempotency-Key"

// Checkout handles POST /checkout. Approved checkouts return 200 with the
// order, declined ones 402.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lg := zctx.From(ctx)

	key := r.Header.Get(IdempotencyKeyHeader)
	if h.idem == nil {
		key = ""
	}
	if key != "" {
		stored, ok, err := h.idem.Recall(ctx, key)
		if err != nil {
			lg.Error("idempotency recall failed", zap.Error(err))
			httpmiddleware.WriteError(w, http.StatusServiceUnavailable, "idempotency store unavailable")
			return
		}
		if ok {
			if resp, err := decodeStoredResponse(stored); err == nil {
				w.Header().Set("Idempotent-Replayed", "true")
				writeJSON(w, resp.Status, resp.Body)
				return
			}
			lg.Warn("discarding unreadable idempotent response", zap.String("key", key))
		}
	}

	req, err := decodeCheckoutRequest(r.Body)
	if err != nil {
		httpmiddleware.WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	cart, err := req.cart()
	if err != nil {
		httpmiddleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if key != "" {
		if err := h.idem.Acquire(ctx, key); err != nil {
			if errors.Is(err, idempotency.ErrInProgress) {
				httpmiddleware.WriteError(w, http.StatusConflict, err.Error())
				return
			}
			lg.Error("idempotency acquire failed", zap.Error(err))
			httpmiddleware.WriteError(w, http.StatusServiceUnavailable, "idempotency store unavailable")
			return
		}
	}

	res, err := h.checkout.ProcessOrder(ctx, cart, req.PaymentToken)
	if err != nil {
		h.record(ctx, "error")
		status, body := fault(lg, err)
		if key != "" {
			h.settleFault(context.WithoutCancel(ctx), lg, key, err, storedResponse{Status: status, Body: body})
		}
		writeJSON(w, status, body)
		return
	}
	h.record(ctx, res.Outcome.String())

	status := http.StatusOK
	if !res.Approved() {
		status = http.StatusPaymentRequired
	}
	body := encodeResult(res)

	if key != "" {
		stored := storedResponse{Status: status, Body: body}.encode()
		if err := h.idem.Remember(context.WithoutCancel(ctx), key, stored); err != nil {
			lg.Warn("idempotency remember failed", zap.Error(err))
		}
	}
	writeJSON(w, status, body)
}

// GetOrder handles GET /orders/{id}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, checkout.ErrOrderNotFound) {
			httpmiddleware.WriteError(w, http.StatusNotFound, err.Error())
			return
		}
		status, body := fault(zctx.From(r.Context()), err)
		writeJSON(w, status, body)
		return
	}

	var e jx.Encoder
	encodeOrder(&e, o)
	writeJSON(w, http.StatusOK, e.Bytes())
}

func (h *Handler) record(ctx context.Context, outcome string) {
	h.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// settleFault frees the key when no charge went through, so the client may
// retry. A charge that was approved but not recorded keeps the key and
// remembers the fault, so a retry can never reach the gateway again.
func (h *Handler) settleFault(ctx context.Context, lg *zap.Logger, key string, err error, resp storedResponse) {
	var unrecorded *checkout.UnrecordedChargeError
	if !errors.As(err, &unrecorded) {
		if err := h.idem.Release(ctx, key); err != nil {
			lg.Warn("idempotency release failed", zap.Error(err))
		}
		return
	}
	if err := h.idem.Remember(ctx, key, resp.encode()); err != nil {
		lg.Error("idempotency remember failed for unrecorded charge",
			zap.String("transaction_ref", unrecorded.TransactionRef),
			zap.Error(err),
		)
	}
}

// fault maps a checkout or lookup error to a status and error body.
func fault(lg *zap.Logger, err error) (int, []byte) {
	var unrecorded *checkout.UnrecordedChargeError
	switch {
	case errors.Is(err, checkout.ErrInvalidCart):
		return http.StatusBadRequest, httpmiddleware.ErrorBody(http.StatusBadRequest, err.Error())
	case errors.Is(err, payment.ErrGatewayUnavailable):
		lg.Warn("payment gateway unavailable", zap.Error(err))
		return http.StatusServiceUnavailable, httpmiddleware.ErrorBody(http.StatusServiceUnavailable, "payment gateway unavailable")
	case errors.As(err, &unrecorded):
		lg.Error("charge not recorded",
			zap.String("transaction_ref", unrecorded.TransactionRef),
			zap.Error(err),
		)
		return http.StatusInternalServerError, httpmiddleware.ErrorBody(http.StatusInternalServerError,
			"payment captured but order not recorded; reference "+unrecorded.TransactionRef)
	default:
		lg.Error("checkout failed", zap.Error(err))
		return http.StatusInternalServerError, httpmiddleware.ErrorBody(http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
