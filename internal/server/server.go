package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/feeledger/internal/clock"
	"github.com/smallbiznis/feeledger/internal/config"
	demandbilldomain "github.com/smallbiznis/feeledger/internal/demandbill/domain"
	feeconfigdomain "github.com/smallbiznis/feeledger/internal/feeconfig/domain"
	ledgerdomain "github.com/smallbiznis/feeledger/internal/ledger/domain"
	"github.com/smallbiznis/feeledger/internal/ledgerquery"
	"github.com/smallbiznis/feeledger/internal/observability"
	obslogger "github.com/smallbiznis/feeledger/internal/observability/logger"
	obstracing "github.com/smallbiznis/feeledger/internal/observability/tracing"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
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
	engine       *gin.Engine
	cfg          config.Config
	clock        clock.Clock
	fees         *config.FeeConfigHolder
	feeConfigSvc feeconfigdomain.Service
	ledgerSvc    ledgerdomain.Service
	billSvc      demandbilldomain.Service
	querySvc     *ledgerquery.Service
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	Clock        clock.Clock
	Fees         *config.FeeConfigHolder
	FeeConfigSvc feeconfigdomain.Service
	LedgerSvc    ledgerdomain.Service
	BillSvc      demandbilldomain.Service
	QuerySvc     *ledgerquery.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		clock:        p.Clock,
		fees:         p.Fees,
		feeConfigSvc: p.FeeConfigSvc,
		ledgerSvc:    p.LedgerSvc,
		billSvc:      p.BillSvc,
		querySvc:     p.QuerySvc,
	}

	svc.registerDemandBillRoutes()
	svc.registerLedgerRoutes()
	svc.registerFeeConfigRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerDemandBillRoutes() {
	bills := s.engine.Group("/demand-bill", s.SchoolContext())

	bills.POST("/preview", s.PreviewDemandBills)
	bills.POST("/preview-pdf", s.PreviewDemandBills)
	bills.POST("/generate", s.GenerateDemandBills)
	bills.GET("/student/:id", s.StudentBillHistory)
	bills.GET("/class/:id/history", s.ClassBillHistory)
	bills.GET("/class/:id/dues-summary", s.ClassDuesSummary)
	bills.GET("/class/:id/due-reminders", s.ClassDueReminders)
}

func (s *Server) registerLedgerRoutes() {
	api := s.engine.Group("", s.SchoolContext())

	api.POST("/fee-payments", s.ApplyPayment)
	api.GET("/students/:id/statement", s.StudentStatement)
}

func (s *Server) registerFeeConfigRoutes() {
	api := s.engine.Group("", s.SchoolContext())

	api.POST("/fee-categories", s.CreateFeeCategory)
	api.GET("/fee-categories", s.ListFeeCategories)
	api.GET("/fee-categories/:id", s.GetFeeCategory)
	api.PATCH("/fee-categories/:id", s.UpdateFeeCategory)
	api.POST("/fee-categories/:id/deactivate", s.DeactivateFeeCategory)

	api.POST("/fee-structures", s.CreateFeeStructure)
	api.GET("/fee-structures", s.ListFeeStructures)
	api.GET("/fee-structures/:id", s.GetFeeStructure)
	api.POST("/fee-structures/:id/amend", s.AmendFeeStructure)
	api.POST("/fee-structures/:id/deactivate", s.DeactivateFeeStructure)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
