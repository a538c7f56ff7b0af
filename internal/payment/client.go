package payment

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
)

var _ checkout.PaymentGateway = (*Client)(nil)

const maxResponseBytes = 1 << 16

// BreakerConfig controls the circuit breaker in front of the gateway.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive faults that opens the breaker.
	MaxFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

// ClientConfig configures the HTTP gateway client.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	// Timeout bounds a single charge request. Zero means no timeout.
	Timeout time.Duration
	Breaker BreakerConfig
	// Transport is wrapped with otelhttp. Defaults to http.DefaultTransport.
	Transport http.RoundTripper
}

// Client charges a remote payment gateway over HTTP/JSON.
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[checkout.ChargeResult]
}

// NewClient creates a gateway client. opts are passed to the otelhttp
// transport.
func NewClient(cfg ClientConfig, opts ...otelhttp.Option) *Client {
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	maxFailures := cfg.Breaker.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout,
		http: &http.Client{
			Transport: otelhttp.NewTransport(transport, opts...),
		},
		breaker: gobreaker.NewCircuitBreaker[checkout.ChargeResult](gobreaker.Settings{
			Name:    "payment-gateway",
			Timeout: cfg.Breaker.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
			// A caller that went away says nothing about the gateway.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
		}),
	}
}

// Charge requests a charge of amount against token. Declines are reported in
// the result; transport faults, unexpected responses and an open breaker are
// returned as errors.
func (c *Client) Charge(ctx context.Context, amount decimal.Decimal, token string) (checkout.ChargeResult, error) {
	res, err := c.breaker.Execute(func() (checkout.ChargeResult, error) {
		return c.charge(ctx, amount, token)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return checkout.ChargeResult{}, errors.Wrap(ErrGatewayUnavailable, err.Error())
	}
	return res, err
}

func (c *Client) charge(ctx context.Context, amount decimal.Decimal, token string) (checkout.ChargeResult, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/charges",
		bytes.NewReader(encodeChargeRequest(amount, token)))
	if err != nil {
		return checkout.ChargeResult{}, errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return checkout.ChargeResult{}, errors.Wrap(err, "charge canceled")
		}
		return checkout.ChargeResult{}, errors.Wrap(ErrGatewayUnavailable, err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return checkout.ChargeResult{}, errors.Wrap(err, "read response")
	}

	switch {
	case resp.StatusCode == http.StatusPaymentRequired:
		r, err := decodeChargeResponse(body)
		if err != nil {
			// A 402 is a decline even when the body is unreadable.
			return checkout.ChargeResult{DeclineReason: "payment required"}, nil
		}
		return checkout.ChargeResult{DeclineReason: r.Reason}, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		r, err := decodeChargeResponse(body)
		if err != nil {
			return checkout.ChargeResult{}, errors.Wrap(err, "decode response")
		}
		switch r.Status {
		case statusApproved:
			if r.TransactionID == "" {
				return checkout.ChargeResult{}, errors.New("approved charge without transaction id")
			}
			return checkout.ChargeResult{Success: true, TransactionRef: r.TransactionID}, nil
		case statusDeclined:
			return checkout.ChargeResult{DeclineReason: r.Reason}, nil
		default:
			return checkout.ChargeResult{}, errors.Errorf("unexpected charge status %q", r.Status)
		}
	default:
		return checkout.ChargeResult{}, errors.Errorf("gateway returned %d", resp.StatusCode)
	}
}

const (
	statusApproved = "approved"
	statusDeclined = "declined"
)

type chargeResponse struct {
	Status        string
	TransactionID string
	Reason        string
}

func encodeChargeRequest(amount decimal.Decimal, token string) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("amount")
	e.Str(amount.StringFixed(2))
	e.FieldStart("token")
	e.Str(token)
	e.ObjEnd()
	return e.Bytes()
}

func decodeChargeResponse(data []byte) (chargeResponse, error) {
	var r chargeResponse
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "status":
			r.Status, err = d.Str()
		case "transaction_id":
			r.TransactionID, err = d.Str()
		case "reason":
			r.Reason, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	return r, err
}
