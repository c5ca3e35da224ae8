package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"papervenue/internal/accounts"
	"papervenue/internal/auth"
	"papervenue/internal/bankruptcy"
	"papervenue/internal/config"
	"papervenue/internal/db"
	"papervenue/internal/dlock"
	"papervenue/internal/events"
	"papervenue/internal/health"
	"papervenue/internal/httpserver"
	"papervenue/internal/ledger"
	"papervenue/internal/logging"
	"papervenue/internal/margin"
	"papervenue/internal/marketdata"
	"papervenue/internal/orders"
	"papervenue/internal/settlement"
	"papervenue/internal/tasks"
	"papervenue/internal/trigger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool, err := db.NewPool(ctx, cfg.DBDSN)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatal(err)
	}

	bus := events.NewBus()
	cache := marketdata.NewCache()
	market := marketdata.NewStore(pool)
	ledgerSvc := ledger.NewService(pool)
	marginSvc := margin.NewService(pool, ledgerSvc, cfg.Trading, logging.New("margin"))
	settleStore := settlement.NewStore(pool)
	sched := settlement.NewScheduler(pool, settleStore, marginSvc, bus, logging.New("settlement"))
	locks := dlock.NewService(pool)
	orderStore := orders.NewStore(pool)
	index := trigger.NewIndex()
	orderSvc := orders.NewService(orders.Deps{
		Pool:      pool,
		Store:     orderStore,
		Ledger:    ledgerSvc,
		Margin:    marginSvc,
		Settle:    settleStore,
		Scheduler: sched,
		Market:    market,
		Cache:     cache,
		Index:     index,
		Locks:     locks,
		Bus:       bus,
		Cfg:       cfg.Trading,
		Log:       logging.New("orders"),
	})
	bankSvc := bankruptcy.NewService(bankruptcy.Deps{
		Pool:   pool,
		Ledger: ledgerSvc,
		Margin: marginSvc,
		Orders: orderStore,
		Settle: settleStore,
		Market: market,
		Cache:  cache,
		Bus:    bus,
		Cfg:    cfg.Trading,
		Log:    logging.New("bankruptcy"),
	})

	if err := orderSvc.RebuildIndex(ctx); err != nil {
		log.Fatal(err)
	}
	if err := sched.Rebuild(ctx); err != nil {
		log.Fatal(err)
	}

	runner := tasks.NewRunner(orderSvc, marginSvc, bankSvc, sched, locks, cfg.Trading, logging.New("tasks"))
	runner.Start(ctx)

	if cfg.CryptoFeedURL != "" {
		feed := marketdata.NewFeed(cfg.CryptoFeedURL, cache, bus, orderSvc, logging.New("feed"))
		go feed.Run(ctx)
	}

	authSvc := auth.NewService(cfg.JWTIssuer, []byte(cfg.JWTSecret), cfg.JWTTTL)
	accountsHandler := accounts.NewHandler(ledgerSvc, bankSvc, authSvc, cfg.Trading)
	orderHandler := orders.NewHandler(orderSvc)
	healthHandler := health.NewHandler(pool)
	router := httpserver.NewRouter(httpserver.RouterDeps{
		AccountsHandler: accountsHandler,
		OrderHandler:    orderHandler,
		HealthHandler:   healthHandler,
		AuthService:     authSvc,
		Trading:         cfg.Trading,
	})
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	log.Printf("server listening on %s", cfg.HTTPAddr)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
		sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer scancel()
		_ = srv.Shutdown(sctx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}
