package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	paymentdomain "github.com/smallbiznis/milkrun/internal/payment/domain"
	"github.com/smallbiznis/milkrun/internal/payment/gateway"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	PaymentSvc paymentdomain.Service
	Gateways   *gateway.Registry `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	paymentSvc paymentdomain.Service
	gateways   *gateway.Registry
}

func NewService(p Params) paymentdomain.WebhookService {
	return &Service{
		log:        p.Log.Named("payment.webhook"),
		paymentSvc: p.PaymentSvc,
		gateways:   p.Gateways,
	}
}

func (s *Service) SignatureHeader(provider string) (string, error) {
	gw, err := s.gateways.Get(provider)
	if err != nil {
		return "", err
	}
	return gw.SignatureHeader(), nil
}

// IngestWebhook verifies and applies one gateway webhook. Ignored event
// types and replays of processed events succeed without effect so the
// gateway stops retrying them.
func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, signature string) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	gw, err := s.gateways.Get(provider)
	if err != nil {
		return err
	}
	if !json.Valid(payload) {
		return paymentdomain.ErrInvalidPayload
	}
	if !gw.VerifySignature(payload, signature) {
		s.log.Warn("payment webhook signature rejected", zap.String("provider", provider))
		return paymentdomain.ErrInvalidSignature
	}

	event, err := gw.ParseEvent(payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			return nil
		}
		if errors.Is(err, paymentdomain.ErrInvalidCustomer) {
			s.log.Warn("payment webhook missing customer mapping", zap.String("provider", provider))
		}
		return err
	}
	if event.RawPayload == nil {
		event.RawPayload = payload
	}
	event.Provider = provider

	err = s.paymentSvc.ProcessEvent(ctx, event)
	if errors.Is(err, paymentdomain.ErrEventAlreadyProcessed) {
		s.log.Info("payment webhook replay ignored",
			zap.String("provider", provider),
			zap.String("provider_event_id", event.ProviderEventID),
		)
		return nil
	}
	return err
}
