package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asaskevich/EventBus"

	"usdtgate/internal/application/order"
	"usdtgate/internal/application/pool"
	"usdtgate/internal/infrastructure/blockchain"
	"usdtgate/internal/infrastructure/config"
	"usdtgate/internal/infrastructure/database"
	"usdtgate/internal/infrastructure/exchangerate"
	"usdtgate/internal/infrastructure/notify"
	"usdtgate/internal/infrastructure/persistence/models"
	"usdtgate/internal/infrastructure/repository"
	"usdtgate/internal/infrastructure/scheduler"
	httpapi "usdtgate/internal/interfaces/http"
	"usdtgate/internal/interfaces/http/handlers"
	"usdtgate/internal/shared/constants"
	"usdtgate/internal/shared/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "usdtgate: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := logger.Init(&cfg.Logger); err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	log := logger.NewLogger()
	log.Infow("starting usdtgate",
		"trc20", cfg.TRC20.Enabled, "spl", cfg.SPL.Enabled, "bep20", cfg.BEP20.Enabled)

	if err := database.Init(&cfg.Database); err != nil {
		return fmt.Errorf("failed to init database: %w", err)
	}
	defer database.Close()
	if err := database.Get().AutoMigrate(&models.OrderModel{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	amountPool := pool.NewAmountPool()
	orders := repository.NewOrderRepository(database.Get())
	rates := exchangerate.NewService(log)
	bus := EventBus.New()
	orderService := order.NewService(cfg, amountPool, orders, rates, bus, log)

	if err := bus.SubscribeAsync(constants.TopicOrderPaid, func(paid *models.OrderModel) {
		log.Infow("payment settled",
			"trade_no", paid.TradeNo, "order_no", paid.OrderNo,
			"chain", paid.ChainType, "tx_hash", paid.TxHash)
	}, false); err != nil {
		return fmt.Errorf("failed to subscribe paid events: %w", err)
	}

	dispatcher := notify.NewDispatcher(notify.NewSender(), orderService, bus, log)
	if err := dispatcher.Start(); err != nil {
		return fmt.Errorf("failed to start callback dispatcher: %w", err)
	}
	defer dispatcher.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Re-lock amounts for orders that survived a restart before any watcher
	// can observe transfers.
	if err := orderService.Reconcile(ctx); err != nil {
		return fmt.Errorf("failed to reconcile pending orders: %w", err)
	}

	watchers, err := blockchain.NewManager(cfg, amountPool, orderService, log)
	if err != nil {
		return fmt.Errorf("failed to build chain watchers: %w", err)
	}
	watchers.Start(ctx)
	defer watchers.Stop()

	jobs, err := scheduler.NewManager(log)
	if err != nil {
		return fmt.Errorf("failed to build scheduler: %w", err)
	}
	if err := jobs.RegisterJobs(
		scheduler.NewTimeoutSweeper(orders, orderService),
		scheduler.NewCallbackRetrier(orders, dispatcher),
		scheduler.NewPoolJanitor(amountPool, log),
	); err != nil {
		return fmt.Errorf("failed to register jobs: %w", err)
	}
	jobs.Start()
	defer jobs.Stop()

	router := httpapi.NewRouter(cfg, handlers.NewOrderHandler(orderService, log), log)
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("http server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Infow("shutting down", "signal", sig.String())
	case err := <-serverErr:
		return fmt.Errorf("http server failed: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("http server shutdown failed", "error", err)
	}
	return nil
}
