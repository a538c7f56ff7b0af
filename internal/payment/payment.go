// Package payment provides checkout.PaymentGateway implementations.
package payment

import "github.com/go-faster/errors"

// ErrGatewayUnavailable is returned when the gateway cannot be reached or the
// circuit breaker is open. It is a fault, never a decline.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")
