package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/metric"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
)

// CheckoutService runs a checkout. *checkout.Service satisfies it.
type CheckoutService interface {
	ProcessOrder(ctx context.Context, cart checkout.Cart, paymentToken string) (*checkout.Result, error)
}

// IdempotencyStore remembers responses by idempotency key.
// *idempotency.Store satisfies it.
type IdempotencyStore interface {
	Recall(ctx context.Context, key string) ([]byte, bool, error)
	Acquire(ctx context.Context, key string) error
	Release(ctx context.Context, key string) error
	Remember(ctx context.Context, key string, response []byte) error
}

// Handler serves the checkout HTTP API.
type Handler struct {
	checkout CheckoutService
	orders   checkout.OrderReader
	idem     IdempotencyStore
	outcomes metric.Int64Counter
}

// NewHandler constructs a Handler. idem may be nil, in which case
// Idempotency-Key headers are ignored.
func NewHandler(
	svc CheckoutService,
	orders checkout.OrderReader,
	idem IdempotencyStore,
	meter metric.Meter,
) (*Handler, error) {
	outcomes, err := meter.Int64Counter("checkout.outcomes",
		metric.WithDescription("Checkout attempts by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create outcomes counter")
	}
	return &Handler{
		checkout: svc,
		orders:   orders,
		idem:     idem,
		outcomes: outcomes,
	}, nil
}

// Routes returns the API router, to be mounted under /api.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/checkout", h.Checkout)
	r.Get("/orders/{id}", h.GetOrder)
	return r
}
