package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/punchamoorthee/feeledger/internal/api"
	"github.com/punchamoorthee/feeledger/internal/config"
	"github.com/punchamoorthee/feeledger/internal/logging"
	"github.com/punchamoorthee/feeledger/internal/service"
	"github.com/punchamoorthee/feeledger/internal/store"
	"github.com/punchamoorthee/feeledger/internal/store/memory"
	"github.com/punchamoorthee/feeledger/internal/store/mongo"
	"github.com/punchamoorthee/feeledger/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal("unable to open store", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}
	defer st.Close(context.Background())

	// Initialize Layers
	svc := service.New(st, st, logger, service.Options{
		OverdueThreshold: decimal.NewNullDecimal(cfg.OverdueThreshold),
		MaxTxRetries:     uint(cfg.TxMaxRetries),
	})
	handler := api.NewHandler(svc, st, logger.Named("http"))
	limiter := api.NewRateLimiter(cfg.RateLimitAttempts, cfg.RateLimitWindow)
	if err := limiter.TrustProxies(cfg.TrustedProxies...); err != nil {
		logger.Fatal("invalid trusted proxies", zap.Error(err))
	}

	sweepDone := service.StartOverdueSweep(ctx, svc.Ledger, cfg.OverdueSweepInterval, logger.Named("sweep"))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(handler, limiter),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	<-sweepDone
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverMongo:
		s, err := mongo.New(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close(ctx)
			return nil, err
		}
		return s, nil
	case config.DriverMemory:
		return memory.New(), nil
	default:
		return postgres.New(ctx, cfg.DBSource)
	}
}
