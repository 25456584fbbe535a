package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"github.com/leeplabs/leepdex/params"
	"github.com/leeplabs/leepdex/pkg/api"
	"github.com/leeplabs/leepdex/pkg/exchange"
	"github.com/leeplabs/leepdex/pkg/token"
	"github.com/leeplabs/leepdex/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	// ---- Token ledger: LeepCoin minted to the owner at deployment ----
	leep := token.Deploy(cfg.Token.Owner, cfg.Token.Name, cfg.Token.Symbol, cfg.Token.Supply)
	registry := token.NewRegistry()
	if err := registry.Register(leep); err != nil {
		sugar.Fatalw("token_register_failed", "err", err)
	}
	sugar.Infow("token_deployed",
		"name", leep.Name(), "symbol", leep.Symbol(),
		"address", leep.Address().Hex(), "supply", leep.TotalSupply().String())

	// ---- Persistent store ----
	store, err := exchange.OpenStore(cfg.Node.DBPath)
	if err != nil {
		sugar.Fatalw("store_open_failed", "path", cfg.Node.DBPath, "err", err)
	}
	defer store.Close()

	// ---- Exchange ----
	// The custody address is derived the same way token addresses are, so it
	// never collides with the ether sentinel or a registered token.
	custody := token.DeriveAddress(cfg.Exchange.FeeAccount, "LEEPDEX")

	ex, err := exchange.New(exchange.Config{
		Address:       custody,
		FeeAccount:    cfg.Exchange.FeeAccount,
		FeePercent:    cfg.Exchange.FeePercent,
		AllowSelfFill: cfg.Exchange.AllowSelfFill,
		Tokens: exchange.ResolverFunc(func(asset common.Address) (exchange.TokenLedger, error) {
			return registry.Get(asset)
		}),
		Store:  store,
		Clock:  util.RealClock{},
		Logger: sugar,
	})
	if err != nil {
		sugar.Fatalw("exchange_init_failed", "err", err)
	}
	sugar.Infow("exchange_deployed",
		"fee_account", ex.FeeAccount().Hex(),
		"fee_percent", ex.FeePercent(),
		"order_count", ex.OrderCount())

	// ---- API server ----
	server := api.NewServer(ex, registry, sugar)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.Node.Listen)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		sugar.Info("shutting down")
	case err := <-errCh:
		sugar.Errorw("api_server_stopped", "err", err)
	}
}
