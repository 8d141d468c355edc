package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/urfave/negroni"

	"github.com/ethpandaops/bankwatch/clients/execution"
	"github.com/ethpandaops/bankwatch/handlers/api"
	"github.com/ethpandaops/bankwatch/metrics"
	"github.com/ethpandaops/bankwatch/services"
	"github.com/ethpandaops/bankwatch/types"
	"github.com/ethpandaops/bankwatch/utils"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long:  "Track the execution node head and serve lock records, balances, the reconstructed ledger and permits over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command) error {
	cfg, logWriter, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logWriter.Dispose()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := execution.NewClient(ctx, &execution.ClientConfig{
		URL:              cfg.ExecutionApi.Endpoint,
		Name:             cfg.ExecutionApi.Name,
		Headers:          cfg.ExecutionApi.Headers,
		CallTimeout:      cfg.ExecutionApi.CallTimeout,
		HeadPollInterval: cfg.ExecutionApi.HeadPollInterval,
	}, logger.WithField("module", "execution"))
	if err != nil {
		return err
	}
	client.Start()
	defer client.Stop()

	bankService, err := newBankService(ctx, cfg, client.GetRPCClient(), client, logger)
	if err != nil {
		return err
	}

	headSubscription := client.SubscribeHeads(16)
	defer headSubscription.Unsubscribe()
	go bankService.FollowHeads(ctx, headSubscription.Channel())

	var rateLimiter *services.CallRateLimiter
	if cfg.RateLimit.Enabled {
		rateLimiter = services.NewCallRateLimiter(ctx, cfg.RateLimit.ProxyCount, cfg.RateLimit.Rate, cfg.RateLimit.Burst)
	}

	if cfg.Metrics.Enabled && !cfg.Metrics.Public {
		err = metrics.StartMetricsServer(ctx, logger.WithField("module", "metrics"), cfg.Metrics.Host, cfg.Metrics.Port)
		if err != nil {
			return err
		}
	}

	webserver, err := startWebserver(cfg, api.NewAPIHandler(bankService, rateLimiter, logger.WithField("module", "api")), logger)
	if err != nil {
		return err
	}

	utils.WaitForCtrlC()
	logger.Println("exiting...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return webserver.Shutdown(shutdownCtx)
}

func startWebserver(cfg *types.Config, handler *api.APIHandler, logger logrus.FieldLogger) (*http.Server, error) {
	router := mux.NewRouter()
	handler.RegisterRoutes(router)

	if cfg.Metrics.Enabled && cfg.Metrics.Public {
		router.Handle("/metrics", metrics.GetMetricsHandler())
	}

	n := negroni.New()
	n.Use(negroni.NewRecovery())
	n.UseHandler(router)

	if cfg.Server.HttpWriteTimeout == 0 {
		cfg.Server.HttpWriteTimeout = time.Second * 15
	}
	if cfg.Server.HttpReadTimeout == 0 {
		cfg.Server.HttpReadTimeout = time.Second * 15
	}
	if cfg.Server.HttpIdleTimeout == 0 {
		cfg.Server.HttpIdleTimeout = time.Second * 60
	}
	srv := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		WriteTimeout: cfg.Server.HttpWriteTimeout,
		ReadTimeout:  cfg.Server.HttpReadTimeout,
		IdleTimeout:  cfg.Server.HttpIdleTimeout,
		Handler:      n,
	}

	listener, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return nil, err
	}

	logger.Printf("http server listening on %v", srv.Addr)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Error serving api")
		}
	}()

	return srv, nil
}
