package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	auditdomain "github.com/smallbiznis/milkrun/internal/audit/domain"
	"github.com/smallbiznis/milkrun/internal/billingerror"
	"github.com/smallbiznis/milkrun/internal/clock"
	"github.com/smallbiznis/milkrun/internal/config"
	customerdomain "github.com/smallbiznis/milkrun/internal/customer/domain"
	ledgerdomain "github.com/smallbiznis/milkrun/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/milkrun/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/milkrun/internal/payment/domain"
	"github.com/smallbiznis/milkrun/internal/payment/gateway"
	"github.com/smallbiznis/milkrun/internal/status"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const referencePaymentEvent = "payment_event"

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Cfg        config.Config
	Repo       paymentdomain.Repository
	Customers  customerdomain.Repository
	Ledger     ledgerdomain.Service
	Status     *status.Engine
	Gateways   *gateway.Registry   `optional:"true"`
	AuditSvc   auditdomain.Service `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	currency   string
	repo       paymentdomain.Repository
	customers  customerdomain.Repository
	ledger     ledgerdomain.Service
	status     *status.Engine
	gateways   *gateway.Registry
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	currency := strings.ToUpper(strings.TrimSpace(p.Cfg.Gateway.Currency))
	if currency == "" {
		currency = "INR"
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		currency:   currency,
		repo:       p.Repo,
		customers:  p.Customers,
		ledger:     p.Ledger,
		status:     p.Status,
		gateways:   p.Gateways,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

// movement is one wallet change made outside the delivery cycle.
type movement struct {
	customerID  snowflake.ID
	delta       int64
	kind        ledgerdomain.TransactionKind
	description string
	reference   *ledgerdomain.Reference
	action      string
	metadata    map[string]any
}

func (s *Service) ApplyTopUp(ctx context.Context, req paymentdomain.TopUpRequest) (paymentdomain.WalletResult, error) {
	if req.Amount <= 0 {
		return paymentdomain.WalletResult{}, paymentdomain.ErrInvalidAmount
	}
	return s.apply(ctx, nil, movement{
		customerID:  req.CustomerID,
		delta:       req.Amount,
		kind:        ledgerdomain.KindTopUp,
		description: defaultString(req.Description, "wallet top-up"),
		action:      "wallet.topup",
	})
}

func (s *Service) AdminAdjust(ctx context.Context, req paymentdomain.AdminAdjustRequest) (paymentdomain.WalletResult, error) {
	if req.Delta == 0 {
		return paymentdomain.WalletResult{}, paymentdomain.ErrInvalidAmount
	}
	kind := ledgerdomain.KindAdminCredit
	if req.Delta < 0 {
		kind = ledgerdomain.KindAdminDebit
	}
	return s.apply(ctx, nil, movement{
		customerID:  req.CustomerID,
		delta:       req.Delta,
		kind:        kind,
		description: defaultString(req.Description, "admin adjustment"),
		action:      "wallet.adjust",
	})
}

// Refund credits money back to the wallet, for example for a charge that
// should not have happened.
func (s *Service) Refund(ctx context.Context, req paymentdomain.RefundRequest) (paymentdomain.WalletResult, error) {
	if req.Amount <= 0 {
		return paymentdomain.WalletResult{}, paymentdomain.ErrInvalidAmount
	}
	return s.apply(ctx, nil, movement{
		customerID:  req.CustomerID,
		delta:       req.Amount,
		kind:        ledgerdomain.KindRefund,
		description: defaultString(req.Description, "refund"),
		action:      "wallet.refund",
	})
}

// apply moves the wallet, recomputes status and writes the audit entry
// in one transaction. A non-nil tx is joined.
func (s *Service) apply(ctx context.Context, tx *gorm.DB, m movement) (paymentdomain.WalletResult, error) {
	if m.customerID == 0 {
		return paymentdomain.WalletResult{}, paymentdomain.ErrInvalidCustomer
	}

	var result paymentdomain.WalletResult
	run := func(tx *gorm.DB) error {
		wallet, err := s.ledger.WalletByCustomer(ctx, tx, m.customerID)
		if err != nil {
			return err
		}
		res, err := s.ledger.ApplyWalletDelta(ctx, tx, ledgerdomain.WalletDeltaRequest{
			WalletID:    wallet.ID,
			Delta:       m.delta,
			Kind:        m.kind,
			Description: m.description,
			Reference:   m.reference,
		})
		if err != nil {
			return err
		}
		newStatus, err := s.status.UpdateStatus(ctx, tx, m.customerID)
		if err != nil {
			return err
		}
		result = paymentdomain.WalletResult{
			TransactionID: res.TransactionID,
			NewBalance:    res.NewBalance,
			NewStatus:     newStatus,
		}

		if s.auditSvc != nil {
			metadata := map[string]any{
				"kind":        string(m.kind),
				"delta":       m.delta,
				"balance":     res.NewBalance,
				"status":      string(newStatus),
				"description": m.description,
			}
			for k, v := range m.metadata {
				metadata[k] = v
			}
			if err := s.auditSvc.AuditLog(ctx, tx, m.action, "customer", m.customerID.String(), metadata); err != nil {
				return err
			}
		}
		return nil
	}

	var err error
	if tx != nil {
		err = run(tx)
	} else {
		err = s.db.WithContext(ctx).Transaction(run)
	}
	if err != nil {
		err = billingerror.Aborted(err)
		if !billingerror.IsBusiness(err) {
			s.log.Error("wallet movement failed",
				zap.String("customer_id", m.customerID.String()),
				zap.String("kind", string(m.kind)),
				zap.Error(err),
			)
		}
		return paymentdomain.WalletResult{}, err
	}

	s.log.Info("wallet moved",
		zap.String("customer_id", m.customerID.String()),
		zap.String("kind", string(m.kind)),
		zap.Int64("delta", m.delta),
		zap.Int64("balance", result.NewBalance),
		zap.String("status", string(result.NewStatus)),
	)
	return result, nil
}

// CreateTopUpOrder opens an order on the primary gateway. The customer id
// travels in the order notes and comes back in the payment webhook.
func (s *Service) CreateTopUpOrder(ctx context.Context, req paymentdomain.CreateOrderRequest) (paymentdomain.TopUpOrder, error) {
	if req.Amount <= 0 {
		return paymentdomain.TopUpOrder{}, paymentdomain.ErrInvalidAmount
	}
	customer, err := s.customers.FindByID(ctx, s.db, req.CustomerID)
	if err != nil {
		return paymentdomain.TopUpOrder{}, err
	}
	if customer == nil {
		return paymentdomain.TopUpOrder{}, customerdomain.ErrCustomerNotFound
	}
	gw, err := s.gateways.Primary()
	if err != nil {
		return paymentdomain.TopUpOrder{}, err
	}

	receipt := "topup_" + ulid.Make().String()
	ref, err := gw.CreateOrder(ctx, paymentdomain.OrderRequest{
		Amount:   req.Amount,
		Currency: s.currency,
		Receipt:  receipt,
		Notes:    map[string]string{paymentdomain.NoteCustomerID: req.CustomerID.String()},
	})
	if err != nil {
		s.log.Warn("create top-up order failed",
			zap.String("provider", gw.Provider()),
			zap.String("customer_id", req.CustomerID.String()),
			zap.Error(err),
		)
		return paymentdomain.TopUpOrder{}, err
	}

	order := paymentdomain.TopUpOrder{
		ID:              s.genID.Generate(),
		CustomerID:      req.CustomerID,
		Provider:        gw.Provider(),
		ProviderOrderID: ref.ProviderOrderID,
		Receipt:         receipt,
		Amount:          req.Amount,
		Currency:        s.currency,
		Status:          paymentdomain.OrderStatusCreated,
		CreatedAt:       s.now(),
	}
	if err := s.repo.InsertOrder(ctx, s.db, &order); err != nil {
		return paymentdomain.TopUpOrder{}, err
	}
	return order, nil
}

// ProcessEvent applies a verified gateway event exactly once. The event
// row, the wallet movement and the processed stamp commit together, so a
// replay either finds a processed row or retries a rolled back one.
func (s *Service) ProcessEvent(ctx context.Context, event *paymentdomain.PaymentEvent) error {
	if err := validateEvent(event); err != nil {
		return err
	}
	payload := event.RawPayload
	if !json.Valid(payload) {
		return paymentdomain.ErrInvalidPayload
	}

	now := s.now()
	received := paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		CustomerID:      event.CustomerID,
		Amount:          event.Amount,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err := s.repo.InsertEvent(ctx, tx, &received)
		if err != nil {
			return err
		}
		stored := &received
		if !inserted {
			stored, err = s.repo.FindEventForUpdate(ctx, tx, event.Provider, event.ProviderEventID)
			if err != nil {
				return err
			}
			if stored == nil {
				return paymentdomain.ErrInvalidEvent
			}
			if stored.ProcessedAt != nil {
				return paymentdomain.ErrEventAlreadyProcessed
			}
		}

		txnID, err := s.settle(ctx, tx, stored, event)
		if err != nil {
			return err
		}
		return s.repo.MarkProcessed(ctx, tx, stored.ID, txnID, now)
	})
	if err != nil {
		return billingerror.Aborted(err)
	}

	s.obsMetrics.RecordPaymentEvent(ctx, event.Provider, event.Type)
	s.log.Info("payment event processed",
		zap.String("provider", event.Provider),
		zap.String("provider_event_id", event.ProviderEventID),
		zap.String("type", event.Type),
		zap.String("customer_id", event.CustomerID.String()),
		zap.Int64("amount", event.Amount),
	)
	return nil
}

func (s *Service) settle(ctx context.Context, tx *gorm.DB, stored *paymentdomain.EventRecord, event *paymentdomain.PaymentEvent) (*snowflake.ID, error) {
	order, err := s.matchOrder(ctx, tx, event)
	if err != nil {
		return nil, err
	}

	ref := &ledgerdomain.Reference{Type: referencePaymentEvent, ID: stored.ID}
	metadata := map[string]any{
		"provider":            event.Provider,
		"provider_event_id":   event.ProviderEventID,
		"provider_payment_id": event.ProviderPaymentID,
	}

	var m movement
	switch event.Type {
	case paymentdomain.EventTypePaymentSucceeded:
		m = movement{
			delta:       event.Amount,
			kind:        ledgerdomain.KindTopUp,
			description: fmt.Sprintf("%s payment %s", event.Provider, event.ProviderPaymentID),
			action:      "payment.received",
		}
	case paymentdomain.EventTypeRefunded:
		// money went back to the payer, so it leaves the wallet
		m = movement{
			delta:       -event.Amount,
			kind:        ledgerdomain.KindAdminDebit,
			description: fmt.Sprintf("%s refund of payment %s", event.Provider, event.ProviderPaymentID),
			action:      "payment.refunded",
		}
	case paymentdomain.EventTypePaymentFailed:
		if order != nil {
			if err := s.repo.UpdateOrderStatus(ctx, tx, order.ID, paymentdomain.OrderStatusFailed); err != nil {
				return nil, err
			}
		}
		if s.auditSvc != nil {
			return nil, s.auditSvc.AuditLog(ctx, tx, "payment.failed", "customer", event.CustomerID.String(), metadata)
		}
		return nil, nil
	default:
		return nil, paymentdomain.ErrInvalidEvent
	}

	m.customerID = event.CustomerID
	m.reference = ref
	m.metadata = metadata
	res, err := s.apply(ctx, tx, m)
	if err != nil {
		return nil, err
	}
	if order != nil && event.Type == paymentdomain.EventTypePaymentSucceeded {
		if err := s.repo.UpdateOrderStatus(ctx, tx, order.ID, paymentdomain.OrderStatusPaid); err != nil {
			return nil, err
		}
	}
	return &res.TransactionID, nil
}

// matchOrder finds the top-up order an event belongs to and rejects an
// event whose customer does not own the order.
func (s *Service) matchOrder(ctx context.Context, tx *gorm.DB, event *paymentdomain.PaymentEvent) (*paymentdomain.TopUpOrder, error) {
	if strings.TrimSpace(event.ProviderOrderID) == "" {
		return nil, nil
	}
	order, err := s.repo.FindOrderByProviderID(ctx, tx, event.ProviderOrderID)
	if err != nil || order == nil {
		return nil, err
	}
	if order.CustomerID != event.CustomerID {
		return nil, fmt.Errorf("%w: order %s belongs to another customer", paymentdomain.ErrInvalidCustomer, order.ProviderOrderID)
	}
	return order, nil
}

func validateEvent(event *paymentdomain.PaymentEvent) error {
	if event == nil {
		return paymentdomain.ErrInvalidEvent
	}
	event.Provider = strings.ToLower(strings.TrimSpace(event.Provider))
	if event.Provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	event.ProviderEventID = strings.TrimSpace(event.ProviderEventID)
	if event.ProviderEventID == "" {
		return paymentdomain.ErrInvalidEvent
	}
	if event.CustomerID == 0 {
		return paymentdomain.ErrInvalidCustomer
	}
	switch event.Type {
	case paymentdomain.EventTypePaymentSucceeded, paymentdomain.EventTypeRefunded:
		if event.Amount <= 0 {
			return paymentdomain.ErrInvalidAmount
		}
	case paymentdomain.EventTypePaymentFailed:
	default:
		return paymentdomain.ErrInvalidEvent
	}
	return nil
}

func defaultString(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}
