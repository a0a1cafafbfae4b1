package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/muanapay/internal/cache"
	"github.com/smallbiznis/muanapay/internal/clock"
	"github.com/smallbiznis/muanapay/internal/config"
	"github.com/smallbiznis/muanapay/internal/observability"
	obsmiddleware "github.com/smallbiznis/muanapay/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/muanapay/internal/observability/metrics"
	obstracing "github.com/smallbiznis/muanapay/internal/observability/tracing"
	"github.com/smallbiznis/muanapay/internal/payment"
	paymentdomain "github.com/smallbiznis/muanapay/internal/payment/domain"
	"github.com/smallbiznis/muanapay/internal/plan"
	plandomain "github.com/smallbiznis/muanapay/internal/plan/domain"
	"github.com/smallbiznis/muanapay/internal/profile"
	"github.com/smallbiznis/muanapay/internal/ratelimit"
	"github.com/smallbiznis/muanapay/internal/reconciliation"
	reconciliationdomain "github.com/smallbiznis/muanapay/internal/reconciliation/domain"
	"github.com/smallbiznis/muanapay/internal/subscription"
	subscriptiondomain "github.com/smallbiznis/muanapay/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	payment.Module,
	plan.Module,
	fx.Decorate(cache.DecoratePlans),
	profile.Module,
	ratelimit.Module,
	subscription.Module,
	reconciliation.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

const (
	readTimeout     = 15 * time.Second
	writeTimeout    = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	registerValidators()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	clock           clock.Clock
	paymentSvc      paymentdomain.Service
	planSvc         plandomain.Service
	reconSvc        reconciliationdomain.Service
	subscriptionSvc subscriptiondomain.Service
	verifyLimiter   *ratelimit.VerifyLimiter
	obsMetrics      *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Clock           clock.Clock
	PaymentSvc      paymentdomain.Service
	PlanSvc         plandomain.Service
	ReconSvc        reconciliationdomain.Service
	SubscriptionSvc subscriptiondomain.Service
	VerifyLimiter   *ratelimit.VerifyLimiter `optional:"true"`
	ObsMetrics      *obsmetrics.Metrics      `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		clock:           p.Clock,
		paymentSvc:      p.PaymentSvc,
		planSvc:         p.PlanSvc,
		reconSvc:        p.ReconSvc,
		subscriptionSvc: p.SubscriptionSvc,
		verifyLimiter:   p.VerifyLimiter,
		obsMetrics:      p.ObsMetrics,
	}

	svc.registerPublicRoutes()
	svc.registerInternalRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerPublicRoutes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/payments/verify", s.VerifyRateLimit(), s.VerifyPayment)
}

func (s *Server) registerInternalRoutes() {
	internal := s.engine.Group("/internal")
	internal.Use(s.InternalTokenRequired())

	// -------- Notifications --------
	internal.POST("/notifications", s.IngestNotification)
	internal.GET("/notifications", s.ListNotifications)
	internal.GET("/notifications/:id", s.GetNotificationByID)

	// -------- Plans --------
	internal.POST("/plans", s.CreatePlan)
	internal.GET("/plans", s.ListPlans)
	internal.GET("/plans/:id", s.GetPlanByID)

	// -------- Subscriptions --------
	internal.GET("/users/:user_id/subscription", s.GetActiveSubscription)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
