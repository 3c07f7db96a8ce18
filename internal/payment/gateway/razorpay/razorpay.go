// Package razorpay implements the payment gateway over the Razorpay
// orders API and its webhooks.
package razorpay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/milkrun/internal/payment/domain"
)

const (
	Provider       = "razorpay"
	defaultBaseURL = "https://api.razorpay.com"
)

type Config struct {
	BaseURL       string
	KeyID         string
	KeySecret     string
	WebhookSecret string
	HTTPClient    *http.Client
}

type Gateway struct {
	baseURL       string
	keyID         string
	keySecret     string
	webhookSecret string
	client        *http.Client
}

func New(cfg Config) (*Gateway, error) {
	keyID := strings.TrimSpace(cfg.KeyID)
	keySecret := strings.TrimSpace(cfg.KeySecret)
	webhookSecret := strings.TrimSpace(cfg.WebhookSecret)
	if keyID == "" || keySecret == "" || webhookSecret == "" {
		return nil, domain.ErrInvalidConfig
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Gateway{
		baseURL:       baseURL,
		keyID:         keyID,
		keySecret:     keySecret,
		webhookSecret: webhookSecret,
		client:        client,
	}, nil
}

func (g *Gateway) Provider() string { return Provider }

func (g *Gateway) SignatureHeader() string { return "X-Razorpay-Signature" }

type orderBody struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type orderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type errorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func (g *Gateway) CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderRef, error) {
	if req.Amount <= 0 {
		return domain.OrderRef{}, domain.ErrInvalidAmount
	}
	body, err := json.Marshal(orderBody{
		Amount:   req.Amount,
		Currency: strings.ToUpper(strings.TrimSpace(req.Currency)),
		Receipt:  req.Receipt,
		Notes:    req.Notes,
	})
	if err != nil {
		return domain.OrderRef{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return domain.OrderRef{}, err
	}
	httpReq.SetBasicAuth(g.keyID, g.keySecret)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return domain.OrderRef{}, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.OrderRef{}, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr errorResponse
		_ = json.Unmarshal(raw, &apiErr)
		return domain.OrderRef{}, fmt.Errorf("%w: razorpay status %d %s",
			domain.ErrGatewayUnavailable, resp.StatusCode, apiErr.Error.Description)
	}

	var order orderResponse
	if err := json.Unmarshal(raw, &order); err != nil {
		return domain.OrderRef{}, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(order.ID) == "" {
		return domain.OrderRef{}, domain.ErrInvalidPayload
	}
	return domain.OrderRef{
		ProviderOrderID: order.ID,
		Receipt:         order.Receipt,
		Amount:          order.Amount,
		Currency:        strings.ToUpper(order.Currency),
		Status:          order.Status,
	}, nil
}

// VerifySignature checks the hex HMAC-SHA256 of the raw body under the
// webhook secret.
func (g *Gateway) VerifySignature(payload []byte, signature string) bool {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(g.webhookSecret))
	_, _ = mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

type webhookEvent struct {
	Event     string         `json:"event"`
	CreatedAt int64          `json:"created_at"`
	Payload   webhookPayload `json:"payload"`
}

type webhookPayload struct {
	Payment *struct {
		Entity payment `json:"entity"`
	} `json:"payment"`
	Refund *struct {
		Entity refund `json:"entity"`
	} `json:"refund"`
}

type payment struct {
	ID        string         `json:"id"`
	OrderID   string         `json:"order_id"`
	Amount    int64          `json:"amount"`
	Currency  string         `json:"currency"`
	Status    string         `json:"status"`
	Notes     map[string]any `json:"notes"`
	CreatedAt int64          `json:"created_at"`
}

type refund struct {
	ID        string         `json:"id"`
	PaymentID string         `json:"payment_id"`
	Amount    int64          `json:"amount"`
	Currency  string         `json:"currency"`
	Notes     map[string]any `json:"notes"`
	CreatedAt int64          `json:"created_at"`
}

// ParseEvent maps payment.captured, payment.failed and refund.processed.
// The event id is the event name plus the entity id, so each money
// movement dedupes on its own.
func (g *Gateway) ParseEvent(payload []byte) (*domain.PaymentEvent, error) {
	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}

	switch strings.TrimSpace(event.Event) {
	case "payment.captured":
		return g.parsePayment(event, payload, domain.EventTypePaymentSucceeded)
	case "payment.failed":
		return g.parsePayment(event, payload, domain.EventTypePaymentFailed)
	case "refund.processed":
		return g.parseRefund(event, payload)
	default:
		return nil, domain.ErrEventIgnored
	}
}

func (g *Gateway) parsePayment(event webhookEvent, payload []byte, eventType string) (*domain.PaymentEvent, error) {
	if event.Payload.Payment == nil || strings.TrimSpace(event.Payload.Payment.Entity.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}
	p := event.Payload.Payment.Entity
	customerID, err := domain.CustomerFromNotes(p.Notes)
	if err != nil {
		return nil, err
	}
	return &domain.PaymentEvent{
		Provider:          Provider,
		ProviderEventID:   event.Event + ":" + p.ID,
		ProviderPaymentID: p.ID,
		ProviderOrderID:   p.OrderID,
		Type:              eventType,
		CustomerID:        customerID,
		Amount:            p.Amount,
		Currency:          strings.ToUpper(strings.TrimSpace(p.Currency)),
		OccurredAt:        domain.UnixTime(p.CreatedAt, event.CreatedAt),
		RawPayload:        payload,
	}, nil
}

func (g *Gateway) parseRefund(event webhookEvent, payload []byte) (*domain.PaymentEvent, error) {
	if event.Payload.Refund == nil || strings.TrimSpace(event.Payload.Refund.Entity.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}
	r := event.Payload.Refund.Entity
	notes := r.Notes
	if _, err := domain.CustomerFromNotes(notes); err != nil && event.Payload.Payment != nil {
		notes = event.Payload.Payment.Entity.Notes
	}
	customerID, err := domain.CustomerFromNotes(notes)
	if err != nil {
		return nil, err
	}
	return &domain.PaymentEvent{
		Provider:          Provider,
		ProviderEventID:   event.Event + ":" + r.ID,
		ProviderPaymentID: r.PaymentID,
		Type:              domain.EventTypeRefunded,
		CustomerID:        customerID,
		Amount:            r.Amount,
		Currency:          strings.ToUpper(strings.TrimSpace(r.Currency)),
		OccurredAt:        domain.UnixTime(r.CreatedAt, event.CreatedAt),
		RawPayload:        payload,
	}, nil
}
