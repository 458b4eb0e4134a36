package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
)

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Preços trafegam como números JSON
	decimal.MarshalJSONWithoutQuotes = true

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize OpenTelemetry
	if cfg.TelemetryEnabled {
		tp, err := initTracer(cfg)
		if err != nil {
			log.Fatalf("Failed to initialize tracer: %v", err)
		}
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				log.Printf("Error shutting down tracer: %v", err)
			}
		}()

		mp, err := initMetrics(cfg)
		if err != nil {
			log.Fatalf("Failed to initialize metrics: %v", err)
		}
		defer func() {
			if err := mp.Shutdown(context.Background()); err != nil {
				log.Printf("Error shutting down meter provider: %v", err)
			}
		}()
	}

	tracer := otel.Tracer(cfg.ServiceName)
	metrics, err := NewMetrics(otel.Meter(cfg.ServiceName))
	if err != nil {
		log.Fatalf("Failed to initialize instruments: %v", err)
	}

	// Initialize ledger
	ledger, closeLedger, err := initLedger(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize ledger: %v", err)
	}
	defer closeLedger()

	hub := NewHub(metrics)
	defer hub.Stop()

	watcher, err := NewWatcher(
		WatchMode(cfg.WatchMode),
		ledger,
		hub,
		[]Collection{ProductsCollection(ledger), SalesCollection(ledger)},
		clockwork.NewRealClock(),
		cfg.PollInterval,
		metrics,
	)
	if err != nil {
		log.Fatalf("Failed to initialize watcher: %v", err)
	}
	go func() {
		if err := watcher.Start(ctx); err != nil {
			log.Printf("❌ [WATCHER] %v", err)
		}
	}()

	sales := NewSaleUseCase(ledger, tracer, metrics)
	queries := NewSalesQueryUseCase(ledger)
	products := NewProductUseCase(ledger)

	handler := NewInventoryHandler(sales, queries, products, hub, watcher, cfg.NodeID, tracer)
	r := setupRouter(handler, cfg.ServiceName)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("🚀 Inventory node %s listening on port %s", cfg.NodeID, cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("ℹ️ Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := gracefulShutdown(shutdownCtx, srv, hub); err != nil {
		log.Printf("Error shutting down server: %v", err)
	}
}

// gracefulShutdown para o Hub antes do servidor: streams SSE e conexões WebSocket
// só terminam quando suas assinaturas fecham.
func gracefulShutdown(ctx context.Context, srv *http.Server, hub *Hub) error {
	hub.Stop()
	return srv.Shutdown(ctx)
}

func initLedger(ctx context.Context, cfg *Config) (Ledger, func(), error) {
	if cfg.LedgerDriver == "memory" {
		ledger := NewMemoryLedger()
		seedMemoryLedger(ledger)
		log.Println("⚠️ Using in-memory ledger, data is lost on restart")
		return ledger, func() {}, nil
	}

	pool, err := initDB(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return NewPostgresLedger(pool, cfg.DatabaseURL), pool.Close, nil
}

func initDB(ctx context.Context, cfg *Config) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// Configure connection pool
	config.MaxConns = cfg.DatabaseMaxConns
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Wait for database to be ready
	for i := 0; i < 30; i++ {
		if err := pool.Ping(ctx); err == nil {
			log.Println("✅ Connected to inventory database with connection pool")
			return pool, nil
		}
		log.Printf("⏳ Waiting for database... (%d/30)", i+1)
		select {
		case <-ctx.Done():
			pool.Close()
			return nil, ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}

	pool.Close()
	return nil, fmt.Errorf("failed to connect to database after 30 attempts")
}

// seedMemoryLedger carrega usuários e produtos de demonstração
func seedMemoryLedger(ledger *MemoryLedger) {
	ledger.PutCashier(Cashier{ID: "manager-1", FullName: "Store Manager", Role: RoleManager})
	ledger.PutCashier(Cashier{ID: "cashier-1", FullName: "Front Cashier", Role: RoleCashier})

	ledger.PutProduct(Product{ID: "prod-coffee", Name: "Coffee Beans 1kg", Category: "Grocery", Price: decimal.RequireFromString("45.00"), Stock: 40})
	ledger.PutProduct(Product{ID: "prod-mug", Name: "Ceramic Mug", Category: "Kitchen", Price: decimal.RequireFromString("12.50"), Stock: 25})
	ledger.PutProduct(Product{ID: "prod-filter", Name: "Paper Filters", Category: "Grocery", Price: decimal.RequireFromString("3.90"), Stock: 120})
}
