package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"recordpad/config"
	"recordpad/config/database"
	"recordpad/internal/record/repository"
	"recordpad/internal/record/service"
	"recordpad/pkg/logger"
	"recordpad/pkg/metrics"
	"recordpad/router"
	"recordpad/socket"
	"recordpad/store"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the record service",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, conf.Server)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, sc config.Server) error {
	metrics.RegisterMetrics("recordpad")

	st, err := openStore(ctx, sc)
	if err != nil {
		return err
	}
	defer st.Close()

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := socket.NewHub()
	go hub.Run(hubCtx)

	svc := service.NewRecordService(st, hub, sc.CacheTTL)
	srv := &http.Server{
		Addr:              sc.Addr,
		Handler:           router.Setup(svc, hub, sc.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Sugar.Infof("Record service listening on %s (%s store)", sc.Addr, sc.Store)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Sugar.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Feed subscribers are hijacked connections, which Shutdown does not
	// wait for; stopping the hub closes them.
	stopHub()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func openStore(ctx context.Context, sc config.Server) (store.Store, error) {
	switch sc.Store {
	case config.StorePostgres:
		db, err := database.Connect(ctx, sc.PostgresDsn)
		if err != nil {
			return nil, err
		}
		repo := repository.NewPostgresRepository(db)
		if err := repo.Migrate(ctx); err != nil {
			repo.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return repo, nil
	case config.StoreLevelDB:
		return repository.NewLevelDBRepository(sc.LevelDBPath)
	default:
		return nil, fmt.Errorf("unknown store %q", sc.Store)
	}
}
