package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/jmerrifield20/senderauth/internal/config"
	"github.com/jmerrifield20/senderauth/internal/domainauth/handler"
	"github.com/jmerrifield20/senderauth/internal/domainauth/service"
	"github.com/jmerrifield20/senderauth/internal/email"
	"github.com/jmerrifield20/senderauth/internal/identity"
	"github.com/jmerrifield20/senderauth/internal/metrics"
	"github.com/jmerrifield20/senderauth/internal/otp"
	"github.com/jmerrifield20/senderauth/internal/planner"
	"github.com/jmerrifield20/senderauth/internal/provider"
	"github.com/jmerrifield20/senderauth/internal/verifier"
	"github.com/jmerrifield20/senderauth/internal/webhooks"
)

const serviceName = "senderauth.v1.DomainAuth"

func main() {
	configPath := flag.String("config", "", "path to a config file (default: configs/senderauth.yaml if present)")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(*configPath, logger); err != nil {
		logger.Fatal("senderauth exited with error", zap.Error(err))
	}
}

func run(configPath string, logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Storage ──────────────────────────────────────────────────────────────
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// ── Verification engine ──────────────────────────────────────────────────
	resolver := newResolver(cfg, logger)

	plan, err := planner.New(cfg.PlannerSettings())
	if err != nil {
		return err
	}
	checker := verifier.New(resolver, cfg.VerifierSettings(), logger)
	detector := provider.NewDetector(resolver, logger)

	// ── Mail ─────────────────────────────────────────────────────────────────
	var sender email.Sender
	if cfg.Email.SMTPHost != "" {
		sender = email.NewSMTPSender(cfg.SMTPSettings())
		logger.Info("email: SMTP sender configured", zap.String("host", cfg.Email.SMTPHost))
	} else {
		sender = email.NewNoopSender(logger)
		logger.Info("email: SMTP not configured, using noop sender")
	}

	svc := service.New(store, otp.NewIssuer(cfg.OTPSettings()), sender, detector, plan, checker, logger)
	svc.SetPolicy(service.Policy{
		FailedAfterAttempts: cfg.Policy.FailedAfterAttempts,
		FailedAfter:         cfg.Policy.FailedAfter,
		BlockedDomains:      cfg.Policy.BlockedDomains,
	})
	svc.SetMailTemplate(email.OTPMail{Brand: cfg.Email.Brand, AppURL: cfg.Email.AppURL})

	// ── Webhooks ─────────────────────────────────────────────────────────────
	var sinks webhooks.Fanout
	if eps := cfg.Webhooks.Endpoints; len(eps) > 0 {
		dispatcher := webhooks.NewDispatcher(eps, logger)
		dispatcher.SetMetricsRecorder(metrics.RecordWebhookDelivery)
		sinks = append(sinks, dispatcher)
		logger.Info("webhooks: status change notifications enabled", zap.Int("endpoints", len(eps)))
	}
	if snsCfg := cfg.SNSSettings(); snsCfg.TopicARN != "" {
		client, err := webhooks.NewSNSClient(ctx, snsCfg)
		if err != nil {
			return fmt.Errorf("sns client: %w", err)
		}
		publisher := webhooks.NewSNSPublisher(client, snsCfg.TopicARN, logger)
		publisher.SetMetricsRecorder(metrics.RecordWebhookDelivery)
		sinks = append(sinks, publisher)
		logger.Info("webhooks: publishing status changes to SNS", zap.String("topic", snsCfg.TopicARN))
	}
	if len(sinks) > 0 {
		svc.SetNotifier(sinks)
	}

	// ── Identity ─────────────────────────────────────────────────────────────
	tokens, err := identity.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("account tokens: %w (set SENDERAUTH_AUTH_JWT_SECRET)", err)
	}

	domainHandler := handler.NewDomainHandler(svc, logger)
	if cfg.Server.OTPRateLimit > 0 {
		domainHandler.SetOTPLimiter(handler.RateLimiter(ctx, cfg.Server.OTPRateLimit, 3, handler.ByAccount))
	}

	// ── HTTP Router ──────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(handler.RequestLogger(logger))
	router.Use(metrics.PrometheusMiddleware())

	// CORS
	corsOrigins := cfg.Server.CORSOrigins
	if len(corsOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     corsOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept", handler.HeaderRequestID},
			ExposeHeaders:    []string{"Content-Length", handler.HeaderRequestID},
			AllowCredentials: !containsWildcard(corsOrigins),
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers
	router.Use(func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	})

	// Request body size limit
	maxBody := cfg.Server.MaxBodyBytes
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBody)
		c.Next()
	})

	// Per-IP rate limiting
	if rps := cfg.Server.RateLimitRPS; rps > 0 {
		router.Use(handler.RateLimiter(ctx, rps, int(rps*2)+1, handler.ByClientIP))
	}

	// Health and metrics (public, no auth)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", metrics.Handler())

	// API v1
	v1 := router.Group("/api/v1", requestTimeout(cfg.Server.RequestTimeout), identity.RequireAccount(tokens))
	domainHandler.Register(v1)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("senderauth HTTP listening", zap.Int("port", cfg.Server.Port))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP listen: %w", err)
		}
	}()

	// ── gRPC health ──────────────────────────────────────────────────────────
	var grpcServer *grpc.Server
	if port := cfg.Server.GRPCHealthPort; port > 0 {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			return fmt.Errorf("gRPC listen on :%d: %w", port, err)
		}
		grpcServer = grpc.NewServer()
		healthSvc := health.NewServer()
		grpc_health_v1.RegisterHealthServer(grpcServer, healthSvc)
		healthSvc.SetServingStatus(serviceName, grpc_health_v1.HealthCheckResponse_SERVING)
		reflection.Register(grpcServer)

		go func() {
			logger.Info("senderauth gRPC health listening", zap.Int("port", port))
			if err := grpcServer.Serve(lis); err != nil {
				errCh <- fmt.Errorf("gRPC serve: %w", err)
			}
		}()
	}

	// ── Graceful shutdown ────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server failed", zap.Error(err))
	}
	logger.Info("shutting down senderauth...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
	if err := sinks.Close(shutdownCtx); err != nil {
		logger.Warn("webhook deliveries still in flight at shutdown", zap.Error(err))
	}

	logger.Info("senderauth stopped")
	return nil
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

// requestTimeout bounds the context handed to the service layer.
func requestTimeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
