package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cosmossdk.io/log"
	"github.com/cometbft/cometbft/abci/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"beaconraffle/internal/app"
	"beaconraffle/internal/config"
	"beaconraffle/internal/httpapi"
	"beaconraffle/internal/registry"
)

func startCmd(v *viper.Viper) *cobra.Command {
	c := &cobra.Command{
		Use:   "start",
		Short: "Run the ABCI application and the optional HTTP query API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runNode(ctx, cfg)
		},
	}
	c.Flags().String("abci-addr", "", "ABCI listen address (overrides abci.addr)")
	c.Flags().String("http-addr", "", "HTTP query API address (overrides http.addr)")
	_ = v.BindPFlag("abci.addr", c.Flags().Lookup("abci-addr"))
	_ = v.BindPFlag("http.addr", c.Flags().Lookup("http-addr"))
	return c
}

func openRegistry(cfg config.Config, logger log.Logger) (registry.Registry, func() error, error) {
	if cfg.Registry.DSN == "" {
		logger.Info("using in-memory registry")
		return registry.NewMemory(), func() error { return nil }, nil
	}
	store, err := registry.OpenSQLStore(cfg.Registry.DSN)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("using sqlite registry", "path", cfg.Registry.DSN)
	return store, store.Close, nil
}

func runNode(ctx context.Context, cfg config.Config) error {
	logger, err := cfg.NewLogger(os.Stderr)
	if err != nil {
		return err
	}
	raffleCfg, err := cfg.RaffleConfig()
	if err != nil {
		return err
	}
	owner, err := cfg.Owner()
	if err != nil {
		return err
	}

	reg, closeReg, err := openRegistry(cfg, logger)
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	defer func() { _ = closeReg() }()

	a, err := app.New(app.Options{
		Home:     cfg.Home,
		Raffle:   raffleCfg,
		Owner:    owner,
		Registry: reg,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}

	srv, err := server.NewServer(cfg.ABCI.Addr, cfg.ABCI.Transport, a)
	if err != nil {
		return fmt.Errorf("create abci server: %w", err)
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("abci server start: %w", err)
	}
	defer func() { _ = srv.Stop() }()
	logger.Info("abci server listening", "addr", cfg.ABCI.Addr, "transport", cfg.ABCI.Transport)

	var httpSrv *http.Server
	errCh := make(chan error, 1)
	if cfg.HTTP.Addr != "" {
		httpSrv = &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           httpapi.New(a, logger),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("http api listening", "addr", cfg.HTTP.Addr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http api: %w", err)
	}

	if httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}
	logger.Info("shutting down")
	return nil
}
