package domain

import "context"

type OrderRequest struct {
	Amount   int64
	Currency string
	Receipt  string
	Notes    map[string]string
}

// OrderRef identifies an order on the gateway side.
type OrderRef struct {
	ProviderOrderID string
	Receipt         string
	Amount          int64
	Currency        string
	Status          string
}

// Gateway is a payment provider able to open top-up orders and to
// authenticate and parse its webhooks.
type Gateway interface {
	Provider() string
	// SignatureHeader names the HTTP header carrying the webhook signature.
	SignatureHeader() string
	CreateOrder(ctx context.Context, req OrderRequest) (OrderRef, error)
	VerifySignature(payload []byte, signature string) bool
	// ParseEvent returns ErrEventIgnored for events that carry no money
	// movement.
	ParseEvent(payload []byte) (*PaymentEvent, error)
}
