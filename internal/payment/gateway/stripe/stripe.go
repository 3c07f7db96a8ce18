// Package stripe implements the payment gateway over Stripe payment
// intents and its signed webhooks.
package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/milkrun/internal/payment/domain"
)

const (
	Provider       = "stripe"
	defaultBaseURL = "https://api.stripe.com"
)

type Config struct {
	BaseURL       string
	SecretKey     string
	WebhookSecret string
	HTTPClient    *http.Client
}

type Gateway struct {
	baseURL       string
	secretKey     string
	webhookSecret string
	client        *http.Client
}

func New(cfg Config) (*Gateway, error) {
	secretKey := strings.TrimSpace(cfg.SecretKey)
	webhookSecret := strings.TrimSpace(cfg.WebhookSecret)
	if secretKey == "" || webhookSecret == "" {
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
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		client:        client,
	}, nil
}

func (g *Gateway) Provider() string { return Provider }

func (g *Gateway) SignatureHeader() string { return "Stripe-Signature" }

// CreateOrder opens a payment intent; its id is the order reference.
func (g *Gateway) CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderRef, error) {
	if req.Amount <= 0 {
		return domain.OrderRef{}, domain.ErrInvalidAmount
	}
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.Amount, 10))
	form.Set("currency", strings.ToLower(strings.TrimSpace(req.Currency)))
	form.Set("metadata[receipt]", req.Receipt)
	for k, v := range req.Notes {
		form.Set("metadata["+k+"]", v)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/payment_intents", strings.NewReader(form.Encode()))
	if err != nil {
		return domain.OrderRef{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+g.secretKey)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Idempotency-Key", req.Receipt)

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
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(raw, &apiErr)
		return domain.OrderRef{}, fmt.Errorf("%w: stripe status %d %s",
			domain.ErrGatewayUnavailable, resp.StatusCode, apiErr.Error.Message)
	}

	var intent paymentIntent
	if err := json.Unmarshal(raw, &intent); err != nil || strings.TrimSpace(intent.ID) == "" {
		return domain.OrderRef{}, domain.ErrInvalidPayload
	}
	return domain.OrderRef{
		ProviderOrderID: intent.ID,
		Receipt:         req.Receipt,
		Amount:          intent.Amount,
		Currency:        strings.ToUpper(intent.Currency),
		Status:          intent.Status,
	}, nil
}

// VerifySignature checks a "t=<ts>,v1=<sig>" header against the HMAC of
// "<ts>.<payload>".
func (g *Gateway) VerifySignature(payload []byte, header string) bool {
	ts, signatures, err := parseSignature(header)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(g.webhookSecret))
	_, _ = mac.Write([]byte(ts + "." + string(payload)))
	expected := hex.EncodeToString(mac.Sum(nil))
	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return true
		}
	}
	return false
}

type event struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type paymentIntent struct {
	ID             string         `json:"id"`
	Amount         int64          `json:"amount"`
	AmountReceived int64          `json:"amount_received"`
	Currency       string         `json:"currency"`
	Status         string         `json:"status"`
	Created        int64          `json:"created"`
	Metadata       map[string]any `json:"metadata"`
}

type charge struct {
	ID             string         `json:"id"`
	PaymentIntent  string         `json:"payment_intent"`
	AmountRefunded int64          `json:"amount_refunded"`
	Currency       string         `json:"currency"`
	Created        int64          `json:"created"`
	Metadata       map[string]any `json:"metadata"`
}

// ParseEvent maps payment_intent.succeeded, payment_intent.payment_failed
// and charge.refunded. charge.succeeded is ignored because the intent
// event already carries the same money.
func (g *Gateway) ParseEvent(payload []byte) (*domain.PaymentEvent, error) {
	var evt event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(evt.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	switch strings.TrimSpace(evt.Type) {
	case "payment_intent.succeeded":
		return g.parseIntent(evt, payload, domain.EventTypePaymentSucceeded)
	case "payment_intent.payment_failed":
		return g.parseIntent(evt, payload, domain.EventTypePaymentFailed)
	case "charge.refunded":
		return g.parseRefund(evt, payload)
	default:
		return nil, domain.ErrEventIgnored
	}
}

func (g *Gateway) parseIntent(evt event, payload []byte, eventType string) (*domain.PaymentEvent, error) {
	var intent paymentIntent
	if err := json.Unmarshal(evt.Data.Object, &intent); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	customerID, err := domain.CustomerFromNotes(intent.Metadata)
	if err != nil {
		return nil, err
	}
	amount := intent.AmountReceived
	if amount <= 0 {
		amount = intent.Amount
	}
	return &domain.PaymentEvent{
		Provider:          Provider,
		ProviderEventID:   evt.ID,
		ProviderPaymentID: intent.ID,
		ProviderOrderID:   intent.ID,
		Type:              eventType,
		CustomerID:        customerID,
		Amount:            amount,
		Currency:          strings.ToUpper(strings.TrimSpace(intent.Currency)),
		OccurredAt:        domain.UnixTime(intent.Created, evt.Created),
		RawPayload:        payload,
	}, nil
}

func (g *Gateway) parseRefund(evt event, payload []byte) (*domain.PaymentEvent, error) {
	var ch charge
	if err := json.Unmarshal(evt.Data.Object, &ch); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	customerID, err := domain.CustomerFromNotes(ch.Metadata)
	if err != nil {
		return nil, err
	}
	return &domain.PaymentEvent{
		Provider:          Provider,
		ProviderEventID:   evt.ID,
		ProviderPaymentID: ch.ID,
		ProviderOrderID:   ch.PaymentIntent,
		Type:              domain.EventTypeRefunded,
		CustomerID:        customerID,
		Amount:            ch.AmountRefunded,
		Currency:          strings.ToUpper(strings.TrimSpace(ch.Currency)),
		OccurredAt:        domain.UnixTime(ch.Created, evt.Created),
		RawPayload:        payload,
	}, nil
}

func parseSignature(header string) (string, []string, error) {
	var ts string
	signatures := []string{}
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.TrimSpace(kv[0]) {
		case "t":
			ts = strings.TrimSpace(kv[1])
		case "v1":
			signatures = append(signatures, strings.TrimSpace(kv[1]))
		}
	}
	if ts == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return ts, signatures, nil
}
