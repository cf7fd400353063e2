package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.25.0"

	"chatsync/internal/config"
	"chatsync/internal/engine"
	"chatsync/internal/httpapi"
	"chatsync/internal/observability"
	"chatsync/internal/rest"
	"chatsync/internal/supervisor"
	"chatsync/internal/telemetry"
	"chatsync/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := initTracing(ctx, cfg)
	if err != nil {
		log.Fatalf("tracing: %v", err)
	}
	defer shutdownTracing()

	publisher := observability.NewPublisher(cfg.AMQPURL, cfg.AuditExchange)
	defer publisher.Close()
	audit := telemetry.NewAuditEmitter(publisher, "sync_lifecycle.client", "chatsync", cfg.Environment)

	token := cfg.Token
	api := rest.NewClient(cfg.APIBaseURL, cfg.UserID, func() string { return token })

	var push transport.Push
	switch cfg.PushTransport {
	case "amqp":
		push = transport.NewAMQP(cfg.AMQPURL, cfg.UserID, cfg.PresenceExchange)
	default:
		push = transport.NewWebSocket(cfg.WebSocketURL)
	}

	eng := engine.New(cfg.UserID, api)
	sup := supervisor.New(eng, push, audit, cfg.UserID, cfg.Token, supervisor.Intervals{
		Conversations: cfg.PollConversations,
		Messages:      cfg.PollMessages,
		Heartbeat:     cfg.Heartbeat,
	})

	if err := sup.Start(ctx); err != nil {
		log.Fatalf("supervisor: %v", err)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("chatsync"))
	router.Use(observability.HTTPMetricsMiddleware())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	httpapi.NewHandler(eng, sup).Register(router)

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: router}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()
	log.Printf("chatsync listening on %s (user=%s transport=%s)", cfg.ListenAddr, cfg.UserID, cfg.PushTransport)

	<-ctx.Done()
	log.Printf("shutting down")

	// Teardown order matters: stop intake before the engine, then the
	// HTTP surface.
	sup.Stop()
	eng.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
}

// initTracing installs the OTLP tracer provider when an endpoint is
// configured; otherwise tracing stays on the default no-op provider.
func initTracing(ctx context.Context, cfg config.Config) (func(), error) {
	if cfg.OTLPEndpoint == "" {
		return func() {}, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("chatsync"),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			log.Printf("tracer shutdown: %v", err)
		}
	}, nil
}
