package payment

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
)

var _ checkout.PaymentGateway = Sandbox{}

// SandboxDeclinePrefix marks tokens the Sandbox gateway declines.
const SandboxDeclinePrefix = "decline"

// Sandbox is an in-process gateway for development. It approves every token
// except those starting with SandboxDeclinePrefix.
type Sandbox struct{}

// Charge implements checkout.PaymentGateway.
func (Sandbox) Charge(_ context.Context, _ decimal.Decimal, token string) (checkout.ChargeResult, error) {
	if strings.HasPrefix(token, SandboxDeclinePrefix) {
		return checkout.ChargeResult{DeclineReason: "sandbox decline"}, nil
	}
	return checkout.ChargeResult{
		Success:        true,
		TransactionRef: "sbx_" + uuid.New().String(),
	}, nil
}
