package razorpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/milkrun/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGateway(t *testing.T, baseURL string) *Gateway {
	t.Helper()
	gw, err := New(Config{
		BaseURL:       baseURL,
		KeyID:         "rzp_test_key",
		KeySecret:     "rzp_test_secret",
		WebhookSecret: "whsec",
	})
	require.NoError(t, err)
	return gw
}

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Config{KeyID: "id", KeySecret: "secret"})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestCreateOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/orders", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "rzp_test_key", user)
		assert.Equal(t, "rzp_test_secret", pass)

		var body orderBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, int64(20000), body.Amount)
		assert.Equal(t, "INR", body.Currency)
		assert.Equal(t, "42", body.Notes["customer_id"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(orderResponse{
			ID: "order_1", Amount: body.Amount, Currency: "INR", Receipt: body.Receipt, Status: "created",
		})
	}))
	defer srv.Close()

	ref, err := newGateway(t, srv.URL).CreateOrder(context.Background(), domain.OrderRequest{
		Amount:   20000,
		Currency: "inr",
		Receipt:  "topup_1",
		Notes:    map[string]string{"customer_id": "42"},
	})
	require.NoError(t, err)
	assert.Equal(t, "order_1", ref.ProviderOrderID)
	assert.Equal(t, "topup_1", ref.Receipt)
	assert.Equal(t, "created", ref.Status)
}

func TestCreateOrderSurfacesGatewayErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"amount too small"}}`))
	}))
	defer srv.Close()

	_, err := newGateway(t, srv.URL).CreateOrder(context.Background(), domain.OrderRequest{Amount: 1, Currency: "INR"})
	assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)
	assert.Contains(t, err.Error(), "amount too small")
}

func TestVerifySignature(t *testing.T) {
	gw := newGateway(t, "")
	payload := []byte(`{"event":"payment.captured"}`)

	assert.True(t, gw.VerifySignature(payload, sign("whsec", payload)))
	assert.False(t, gw.VerifySignature(payload, sign("other", payload)))
	assert.False(t, gw.VerifySignature(payload, ""))
}

func TestParseEvent(t *testing.T) {
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	customerID := node.Generate()
	notes := map[string]any{"customer_id": customerID.String()}

	tests := []struct {
		name     string
		event    map[string]any
		wantType string
		wantID   string
		amount   int64
	}{{
		name: "payment.captured",
		event: map[string]any{
			"event":      "payment.captured",
			"created_at": 1767225600,
			"payload": map[string]any{
				"payment": map[string]any{"entity": map[string]any{
					"id": "pay_1", "order_id": "order_1", "amount": 20000, "currency": "inr", "notes": notes,
				}},
			},
		},
		wantType: domain.EventTypePaymentSucceeded,
		wantID:   "payment.captured:pay_1",
		amount:   20000,
	}, {
		name: "refund.processed falls back to payment notes",
		event: map[string]any{
			"event": "refund.processed",
			"payload": map[string]any{
				"refund": map[string]any{"entity": map[string]any{
					"id": "rfnd_1", "payment_id": "pay_1", "amount": 5000, "currency": "INR",
				}},
				"payment": map[string]any{"entity": map[string]any{"id": "pay_1", "notes": notes}},
			},
		},
		wantType: domain.EventTypeRefunded,
		wantID:   "refund.processed:rfnd_1",
		amount:   5000,
	}}

	gw := newGateway(t, "")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := json.Marshal(tt.event)
			require.NoError(t, err)
			event, err := gw.ParseEvent(payload)
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, event.Type)
			assert.Equal(t, tt.wantID, event.ProviderEventID)
			assert.Equal(t, tt.amount, event.Amount)
			assert.Equal(t, customerID, event.CustomerID)
			assert.Equal(t, "INR", event.Currency)
		})
	}
}

func TestParseEventIgnoresUnrelatedEvents(t *testing.T) {
	gw := newGateway(t, "")
	_, err := gw.ParseEvent([]byte(`{"event":"order.paid","payload":{}}`))
	assert.ErrorIs(t, err, domain.ErrEventIgnored)

	_, err = gw.ParseEvent([]byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1","amount":1}}}}`))
	assert.ErrorIs(t, err, domain.ErrInvalidCustomer)
}
