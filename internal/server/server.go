package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	apikeydomain "github.com/smallbiznis/milkrun/internal/apikey/domain"
	auditdomain "github.com/smallbiznis/milkrun/internal/audit/domain"
	"github.com/smallbiznis/milkrun/internal/authorization"
	"github.com/smallbiznis/milkrun/internal/clock"
	"github.com/smallbiznis/milkrun/internal/config"
	customerdomain "github.com/smallbiznis/milkrun/internal/customer/domain"
	deliverydomain "github.com/smallbiznis/milkrun/internal/delivery/domain"
	ledgerdomain "github.com/smallbiznis/milkrun/internal/ledger/domain"
	monthlydomain "github.com/smallbiznis/milkrun/internal/monthlypayment/domain"
	obslogger "github.com/smallbiznis/milkrun/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/milkrun/internal/observability/metrics"
	obstracing "github.com/smallbiznis/milkrun/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/milkrun/internal/payment/domain"
	penaltydomain "github.com/smallbiznis/milkrun/internal/penalty/domain"
	milkredis "github.com/smallbiznis/milkrun/internal/redis"
	"github.com/smallbiznis/milkrun/internal/scheduler"
	"github.com/smallbiznis/milkrun/internal/status"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

// StatusReader computes a customer's status and delivery gate from fresh
// state.
type StatusReader interface {
	CalculateStatus(ctx context.Context, customerID snowflake.ID) (customerdomain.Status, error)
	CanReceiveDelivery(ctx context.Context, tx *gorm.DB, customerID snowflake.ID) (bool, error)
}

// JobRunner runs one scheduler job on demand.
type JobRunner interface {
	RunJob(ctx context.Context, name string) (scheduler.JobResult, error)
}

func NewEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine   *gin.Engine
	cfg      config.Config
	log      *zap.Logger
	calendar *clock.Calendar

	apiKeySvc apikeydomain.Service
	authzSvc  authorization.Service
	auditSvc  auditdomain.Service

	customerSvc customerdomain.Service
	statusSvc   StatusReader
	ledgerSvc   ledgerdomain.Service
	deliverySvc deliverydomain.Service
	penaltySvc  penaltydomain.Service
	monthlySvc  monthlydomain.Service
	paymentSvc  paymentdomain.Service
	webhookSvc  paymentdomain.WebhookService
	jobs        JobRunner
	limiter     WebhookLimiter
	obsMetrics  *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin      *gin.Engine
	Cfg      config.Config
	Log      *zap.Logger
	Calendar *clock.Calendar

	APIKeySvc apikeydomain.Service
	AuthzSvc  authorization.Service
	AuditSvc  auditdomain.Service

	CustomerSvc customerdomain.Service
	Status      *status.Engine
	LedgerSvc   ledgerdomain.Service
	DeliverySvc deliverydomain.Service
	PenaltySvc  penaltydomain.Service
	MonthlySvc  monthlydomain.Service
	PaymentSvc  paymentdomain.Service
	WebhookSvc  paymentdomain.WebhookService

	Scheduler   *scheduler.Scheduler   `optional:"true"`
	RateLimiter *milkredis.RateLimiter `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics    `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		log:         p.Log.Named("http.server"),
		calendar:    p.Calendar,
		apiKeySvc:   p.APIKeySvc,
		authzSvc:    p.AuthzSvc,
		auditSvc:    p.AuditSvc,
		customerSvc: p.CustomerSvc,
		statusSvc:   p.Status,
		ledgerSvc:   p.LedgerSvc,
		deliverySvc: p.DeliverySvc,
		penaltySvc:  p.PenaltySvc,
		monthlySvc:  p.MonthlySvc,
		paymentSvc:  p.PaymentSvc,
		webhookSvc:  p.WebhookSvc,
		obsMetrics:  p.ObsMetrics,
	}
	if p.Scheduler != nil {
		s.jobs = p.Scheduler
	}
	if p.RateLimiter != nil {
		s.limiter = p.RateLimiter
	}

	s.registerRoutes()
	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerRoutes() {
	// Gateways sign their webhooks; no API key.
	s.engine.POST("/webhooks/payments/:provider", s.WebhookRateLimit(), s.HandlePaymentWebhook)

	v1 := s.engine.Group("/v1", s.APIKeyRequired())

	// -------- Deliveries --------
	v1.POST("/delivery-persons/:id/deliveries/ensure", s.authorize(authorization.ObjectDelivery, authorization.ActionDeliveryEnsure), s.EnsureDeliveries)
	v1.GET("/delivery-persons/:id/deliveries", s.authorize(authorization.ObjectDelivery, authorization.ActionDeliveryView), s.ListDeliveries)
	v1.GET("/deliveries/:id", s.authorize(authorization.ObjectDelivery, authorization.ActionDeliveryView), s.GetDelivery)
	v1.POST("/deliveries/:id/mark", s.authorize(authorization.ObjectDelivery, authorization.ActionDeliveryMark), s.MarkDelivery)

	// -------- Customers --------
	v1.GET("/customers/:id/status", s.authorize(authorization.ObjectCustomer, authorization.ActionCustomerStatusView), s.GetCustomerStatus)
	v1.POST("/customers/:id/penalties", s.authorize(authorization.ObjectPenalty, authorization.ActionPenaltyImpose), s.ImposePenalty)

	// -------- Wallets --------
	v1.POST("/customers/:id/adjustments", s.authorize(authorization.ObjectWallet, authorization.ActionWalletAdjust), s.AdjustWallet)
	v1.POST("/customers/:id/refunds", s.authorize(authorization.ObjectWallet, authorization.ActionWalletRefund), s.RefundWallet)
	v1.POST("/customers/:id/topup-orders", s.authorize(authorization.ObjectWallet, authorization.ActionWalletTopUpOrder), s.CreateTopUpOrder)
	v1.GET("/customers/:id/transactions", s.authorize(authorization.ObjectWallet, authorization.ActionWalletAdjust), s.ListWalletTransactions)

	// -------- Monthly payments --------
	v1.POST("/monthly-payments/:id/mark-paid", s.authorize(authorization.ObjectMonthlyPayment, authorization.ActionMonthlyPaymentMarkPaid), s.MarkMonthlyPaymentPaid)

	// -------- Jobs --------
	v1.POST("/jobs/:name/run", s.authorize(authorization.ObjectJob, authorization.ActionJobRun), s.RunJob)

	// -------- API keys --------
	v1.GET("/api-keys", s.authorize(authorization.ObjectAPIKey, authorization.ActionAPIKeyView), s.ListAPIKeys)
	v1.POST("/api-keys", s.authorize(authorization.ObjectAPIKey, authorization.ActionAPIKeyCreate), s.CreateAPIKey)
	v1.POST("/api-keys/:key_id/rotate", s.authorize(authorization.ObjectAPIKey, authorization.ActionAPIKeyRotate), s.RotateAPIKey)
	v1.DELETE("/api-keys/:key_id", s.authorize(authorization.ObjectAPIKey, authorization.ActionAPIKeyRevoke), s.RevokeAPIKey)

	// -------- Audit --------
	v1.GET("/audit-logs", s.authorize(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)
}
