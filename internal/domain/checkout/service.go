package checkout

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ApprovalSubject is the subject of the confirmation email.
const ApprovalSubject = "Seu Pedido foi Aprovado!"

// Outcome tags the result of a checkout.
type Outcome int

const (
	// OutcomeDeclined means the gateway refused the charge.
	OutcomeDeclined Outcome = iota
	// OutcomeApproved means the charge succeeded and the order was saved.
	OutcomeApproved
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApproved:
		return "approved"
	default:
		return "declined"
	}
}

// Result is the outcome of ProcessOrder. Order is set only when approved.
type Result struct {
	Outcome       Outcome
	Order         *Order
	DeclineReason string
}

// Approved reports whether the checkout produced an order.
func (r *Result) Approved() bool {
	return r.Outcome == OutcomeApproved && r.Order != nil
}

// Service orchestrates a checkout over its three collaborators. It holds no
// other state and is safe for concurrent use.
type Service struct {
	gateway  PaymentGateway
	orders   OrderRepository
	notifier Notifier
}

// NewService creates a checkout Service.
func NewService(gateway PaymentGateway, orders OrderRepository, notifier Notifier) *Service {
	return &Service{
		gateway:  gateway,
		orders:   orders,
		notifier: notifier,
	}
}

// ProcessOrder prices the cart, charges the gateway once and, if the charge is
// approved, saves the order and emails the cart owner.
//
// A declined charge is not an error: it yields an OutcomeDeclined result and
// neither the repository nor the notifier is called. A total above MaxAmount
// is rejected with ErrInvalidCart before the gateway is called. Gateway faults
// are returned; a repository fault after an approved charge is returned as
// *UnrecordedChargeError. Notification is best-effort; its failure is logged
// and does not affect the result.
func (s *Service) ProcessOrder(ctx context.Context, cart Cart, paymentToken string) (*Result, error) {
	lg := zctx.From(ctx).With(zap.String("user_id", cart.User.ID))

	amount := ComputeTotal(cart)
	if amount.GreaterThan(MaxAmount) {
		return nil, errors.Wrapf(ErrInvalidCart, "total %s exceeds %s", amount.StringFixed(2), MaxAmount.StringFixed(2))
	}

	charge, err := s.gateway.Charge(ctx, amount, paymentToken)
	if err != nil {
		return nil, errors.Wrap(err, "charge")
	}
	if !charge.Success {
		lg.Info("checkout declined",
			zap.Stringer("amount", amount),
			zap.String("reason", charge.DeclineReason),
		)
		return &Result{
			Outcome:       OutcomeDeclined,
			DeclineReason: charge.DeclineReason,
		}, nil
	}

	order, err := s.orders.Save(ctx, cart, amount, charge.TransactionRef)
	if err != nil {
		// The charge went through but nothing was recorded.
		lg.Error("order not saved after successful charge",
			zap.String("transaction_ref", charge.TransactionRef),
			zap.Error(err),
		)
		return nil, &UnrecordedChargeError{TransactionRef: charge.TransactionRef, Err: err}
	}

	if err := s.notifier.SendEmail(ctx, cart.User.Email, ApprovalSubject, confirmationBody(order)); err != nil {
		lg.Warn("confirmation email not sent",
			zap.String("order_id", order.ID),
			zap.Error(err),
		)
	}

	lg.Info("checkout approved",
		zap.String("order_id", order.ID),
		zap.Stringer("amount", order.Amount),
	)
	return &Result{
		Outcome: OutcomeApproved,
		Order:   order,
	}, nil
}

func confirmationBody(o *Order) string {
	return fmt.Sprintf("Pedido %s aprovado. Valor cobrado: %s.", o.ID, formatAmount(o.Amount))
}

func formatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}
