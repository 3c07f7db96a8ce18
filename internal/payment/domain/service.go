package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/milkrun/internal/billingerror"
	customerdomain "github.com/smallbiznis/milkrun/internal/customer/domain"
)

type TopUpRequest struct {
	CustomerID  snowflake.ID
	Amount      int64
	Description string
}

type AdminAdjustRequest struct {
	CustomerID  snowflake.ID
	Delta       int64
	Description string
}

type RefundRequest struct {
	CustomerID  snowflake.ID
	Amount      int64
	Description string
}

type CreateOrderRequest struct {
	CustomerID snowflake.ID
	Amount     int64
}

// WalletResult is the wallet state after a money movement and the status
// recomputation that follows it.
type WalletResult struct {
	TransactionID snowflake.ID          `json:"transaction_id"`
	NewBalance    int64                 `json:"new_balance"`
	NewStatus     customerdomain.Status `json:"new_status"`
}

// Service moves money into and out of customer wallets from outside the
// delivery cycle.
type Service interface {
	ApplyTopUp(ctx context.Context, req TopUpRequest) (WalletResult, error)
	AdminAdjust(ctx context.Context, req AdminAdjustRequest) (WalletResult, error)
	Refund(ctx context.Context, req RefundRequest) (WalletResult, error)
	CreateTopUpOrder(ctx context.Context, req CreateOrderRequest) (TopUpOrder, error)
	ProcessEvent(ctx context.Context, event *PaymentEvent) error
}

// WebhookService authenticates raw gateway webhooks and hands the parsed
// events to Service.
type WebhookService interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, signature string) error
	SignatureHeader(provider string) (string, error)
}

var (
	ErrInvalidEvent          = billingerror.New(billingerror.ErrInvalidRequest, "invalid_event")
	ErrInvalidProvider       = billingerror.New(billingerror.ErrInvalidRequest, "invalid_provider")
	ErrInvalidPayload        = billingerror.New(billingerror.ErrInvalidRequest, "invalid_payload")
	ErrInvalidSignature      = billingerror.New(billingerror.ErrInvalidRequest, "invalid_signature")
	ErrInvalidCustomer       = billingerror.New(billingerror.ErrInvalidRequest, "invalid_customer")
	ErrInvalidAmount         = billingerror.New(billingerror.ErrInvalidRequest, "invalid_amount")
	ErrInvalidConfig         = billingerror.New(billingerror.ErrInvalidRequest, "invalid_gateway_config")
	ErrProviderNotFound      = billingerror.New(billingerror.ErrNotFound, "payment_provider_not_found")
	ErrEventAlreadyProcessed = billingerror.New(billingerror.ErrInvalidState, "payment_event_already_processed")
	ErrEventIgnored          = errors.New("payment_event_ignored")
	ErrGatewayUnavailable    = errors.New("payment_gateway_unavailable")
)
