package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	apikeydomain "github.com/smallbiznis/milkrun/internal/apikey/domain"
	auditdomain "github.com/smallbiznis/milkrun/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectDelivery       = "delivery"
	ObjectCustomer       = "customer"
	ObjectPenalty        = "penalty"
	ObjectWallet         = "wallet"
	ObjectMonthlyPayment = "monthly_payment"
	ObjectJob            = "job"
	ObjectAPIKey         = "api_key"
	ObjectAuditLog       = "audit_log"
)

const (
	ActionDeliveryEnsure = "delivery.ensure"
	ActionDeliveryMark   = "delivery.mark"
	ActionDeliveryView   = "delivery.view"

	ActionCustomerStatusView = "customer.status_view"

	ActionPenaltyImpose = "penalty.impose"

	ActionWalletAdjust     = "wallet.adjust"
	ActionWalletRefund     = "wallet.refund"
	ActionWalletTopUpOrder = "wallet.topup_order"

	ActionMonthlyPaymentMarkPaid = "monthly_payment.mark_paid"

	ActionJobRun = "job.run"

	ActionAPIKeyView   = "api_key.view"
	ActionAPIKeyCreate = "api_key.create"
	ActionAPIKeyRotate = "api_key.rotate"
	ActionAPIKeyRevoke = "api_key.revoke"

	ActionAuditLogView = "audit_log.view"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

// NewEnforcer loads policies from the casbin_rule table through the gorm
// adapter and seeds the built-in role grants.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

// Authorize checks whether an API key acting in role may perform action
// on object. The key is linked to its role on first use.
func (s *ServiceImpl) Authorize(ctx context.Context, keyID string, role apikeydomain.Role, object string, action string) error {
	keyID = strings.TrimSpace(keyID)
	if keyID == "" || !role.Valid() {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject := fmt.Sprintf("api_key:%s", keyID)
	roleName := fmt.Sprintf("role:%s", role)
	if err := s.ensureGrouping(subject, roleName); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDecision(ctx, "authorization.denied", keyID, role, object, action)
		return ErrForbidden
	}

	if shouldAuditGrant(action) {
		s.auditDecision(ctx, "authorization.granted", keyID, role, object, action)
	}
	return nil
}

// ensureGrouping keeps exactly one role link per key, replacing a stale one
// when the key's role changed.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]interface{}, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			_, _ = s.enforcer.RemoveGroupingPolicy(params...)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func (s *ServiceImpl) auditDecision(ctx context.Context, decision string, keyID string, role apikeydomain.Role, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	if err := s.auditSvc.AuditLog(ctx, nil, decision, "api_key", keyID, map[string]any{
		"object": object,
		"action": action,
		"role":   string(role),
	}); err != nil {
		s.log.Warn("failed to audit authorization decision", zap.String("decision", decision), zap.Error(err))
	}
}

func shouldAuditGrant(action string) bool {
	switch action {
	case ActionWalletAdjust, ActionWalletRefund, ActionPenaltyImpose, ActionAPIKeyRotate, ActionAPIKeyRevoke:
		return true
	default:
		return false
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	agent := []string{
		ActionDeliveryEnsure,
		ActionDeliveryMark,
		ActionDeliveryView,
		ActionCustomerStatusView,
		ActionWalletTopUpOrder,
	}
	policies := [][]string{
		// Delivery agents work their route.
		{"role:delivery_agent", ObjectDelivery, ActionDeliveryEnsure},
		{"role:delivery_agent", ObjectDelivery, ActionDeliveryMark},
		{"role:delivery_agent", ObjectDelivery, ActionDeliveryView},
		{"role:delivery_agent", ObjectCustomer, ActionCustomerStatusView},
		{"role:delivery_agent", ObjectWallet, ActionWalletTopUpOrder},

		// Admins can do everything.
		{"role:admin", ObjectPenalty, ActionPenaltyImpose},
		{"role:admin", ObjectWallet, ActionWalletAdjust},
		{"role:admin", ObjectWallet, ActionWalletRefund},
		{"role:admin", ObjectMonthlyPayment, ActionMonthlyPaymentMarkPaid},
		{"role:admin", ObjectJob, ActionJobRun},
		{"role:admin", ObjectAPIKey, ActionAPIKeyView},
		{"role:admin", ObjectAPIKey, ActionAPIKeyCreate},
		{"role:admin", ObjectAPIKey, ActionAPIKeyRotate},
		{"role:admin", ObjectAPIKey, ActionAPIKeyRevoke},
		{"role:admin", ObjectAuditLog, ActionAuditLogView},
	}
	for _, action := range agent {
		policies = append(policies, []string{"role:admin", objectFor(action), action})
	}

	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}

func objectFor(action string) string {
	switch {
	case strings.HasPrefix(action, "delivery."):
		return ObjectDelivery
	case strings.HasPrefix(action, "customer."):
		return ObjectCustomer
	default:
		return ObjectWallet
	}
}
