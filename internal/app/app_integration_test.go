//go:build integration

package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go/modules/compose"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	baseURL    string
	httpClient *http.Client
)

var uuidPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// Response types are local so the test stays black-box.

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

type userPayload struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Tier  string `json:"tier"`
}

type itemPayload struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

type checkoutRequest struct {
	User         userPayload   `json:"user"`
	Items        []itemPayload `json:"items"`
	PaymentToken string        `json:"paymentToken"`
}

type orderResponse struct {
	ID             string        `json:"id"`
	User           userPayload   `json:"user"`
	Items          []itemPayload `json:"items"`
	Amount         float64       `json:"amount"`
	TransactionRef string        `json:"transactionRef"`
	CreatedAt      time.Time     `json:"createdAt"`
}

type checkoutResponse struct {
	Status string         `json:"status"`
	Order  *orderResponse `json:"order,omitempty"`
	Reason string         `json:"reason,omitempty"`
}

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	dc, err := tc.NewDockerCompose("../../docker-compose.test.yml")
	if err != nil {
		log.Fatalf("compose init: %v", err)
	}

	// Start postgres + redis + api, wait until the API is ready.
	err = dc.
		WaitForService("api", wait.ForHTTP("/readyz").WithPort("8080/tcp")).
		Up(ctx, tc.Wait(true))
	if err != nil {
		log.Fatalf("compose up: %v", err)
	}

	apiContainer, err := dc.ServiceContainer(ctx, "api")
	if err != nil {
		log.Fatalf("api container: %v", err)
	}
	host, err := apiContainer.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	mappedPort, err := apiContainer.MappedPort(ctx, "8080/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	baseURL = fmt.Sprintf("http://%s:%s", host, mappedPort.Port())
	httpClient = &http.Client{Timeout: 10 * time.Second}
	log.Printf("API available at %s", baseURL)

	result := m.Run()

	// app.Run shuts down gracefully on SIGINT; the compose file sets stop_signal.
	stopTimeout := 30 * time.Second
	if err := apiContainer.Stop(ctx, &stopTimeout); err != nil {
		log.Printf("stop api container: %v", err)
	}
	if err := dc.Down(context.Background(), tc.RemoveOrphans(true)); err != nil {
		log.Printf("compose down: %v", err)
	}
	return result
}

// HTTP helpers.

func doGet(t *testing.T, path string) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, baseURL+path, nil)
	require.NoError(t, err)
	resp, err := httpClient.Do(req)
	require.NoError(t, err, "GET %s", path)
	return resp
}

func doCheckout(t *testing.T, body checkoutRequest, idempotencyKey string) *http.Response {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, baseURL+"/api/checkout", bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := httpClient.Do(req)
	require.NoError(t, err, "POST /api/checkout")
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v), "decode response")
	return v
}

func premiumCart(token string) checkoutRequest {
	return checkoutRequest{
		User:         userPayload{ID: "2", Name: "Usuário Premium", Email: "premium@email.com", Tier: "PREMIUM"},
		Items:        []itemPayload{{Name: "Produto 1", Price: 200}},
		PaymentToken: token,
	}
}

// Tests.

func TestHealth(t *testing.T) {
	for _, path := range []string{"/livez", "/readyz"} {
		t.Run(path, func(t *testing.T) {
			resp := doGet(t, path)
			defer resp.Body.Close()

			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "ok", decodeJSON[healthResponse](t, resp).Status)
		})
	}
}

func TestCheckout_PremiumApprovedAndPersisted(t *testing.T) {
	resp := doCheckout(t, premiumCart("cartao-teste-1234"), "")
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeJSON[checkoutResponse](t, resp)
	require.Equal(t, "approved", body.Status)
	require.NotNil(t, body.Order)
	assert.Regexp(t, uuidPattern, body.Order.ID)
	assert.InDelta(t, 180.0, body.Order.Amount, 0.001)
	assert.NotEmpty(t, body.Order.TransactionRef)

	got := doGet(t, "/api/orders/"+body.Order.ID)
	defer got.Body.Close()

	require.Equal(t, http.StatusOK, got.StatusCode)
	order := decodeJSON[orderResponse](t, got)
	assert.Equal(t, body.Order.ID, order.ID)
	assert.Equal(t, "premium@email.com", order.User.Email)
	assert.Equal(t, "PREMIUM", order.User.Tier)
	assert.InDelta(t, 180.0, order.Amount, 0.001)
	require.Len(t, order.Items, 1)
	assert.Equal(t, "Produto 1", order.Items[0].Name)
}

func TestCheckout_StandardDeclined(t *testing.T) {
	req := checkoutRequest{
		User:         userPayload{ID: "1", Name: "Usuário Padrão", Email: "normal@email.com", Tier: "PADRAO"},
		Items:        []itemPayload{{Name: "Item Padrão", Price: 100}},
		PaymentToken: "decline-cartao123",
	}
	resp := doCheckout(t, req, "")
	defer resp.Body.Close()

	require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	body := decodeJSON[checkoutResponse](t, resp)
	assert.Equal(t, "declined", body.Status)
	assert.Nil(t, body.Order)
}

func TestCheckout_Idempotent(t *testing.T) {
	key := fmt.Sprintf("it-%d", time.Now().UnixNano())

	first := doCheckout(t, premiumCart("cartao-idem"), key)
	defer first.Body.Close()
	require.Equal(t, http.StatusOK, first.StatusCode)
	firstBody := decodeJSON[checkoutResponse](t, first)

	second := doCheckout(t, premiumCart("cartao-idem"), key)
	defer second.Body.Close()
	require.Equal(t, http.StatusOK, second.StatusCode)
	assert.Equal(t, "true", second.Header.Get("Idempotent-Replayed"))
	secondBody := decodeJSON[checkoutResponse](t, second)

	require.NotNil(t, firstBody.Order)
	require.NotNil(t, secondBody.Order)
	assert.Equal(t, firstBody.Order.ID, secondBody.Order.ID)
}

func TestCheckout_InvalidBody(t *testing.T) {
	req := checkoutRequest{
		User:         userPayload{ID: "1"},
		PaymentToken: "tok",
	}
	resp := doCheckout(t, req, "")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetOrder_NotFound(t *testing.T) {
	resp := doGet(t, "/api/orders/00000000-0000-4000-8000-000000000000")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
