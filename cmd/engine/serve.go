package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/rawblock/factory-engine/internal/api"
	"github.com/rawblock/factory-engine/internal/batch"
	"github.com/rawblock/factory-engine/internal/db"
	"github.com/rawblock/factory-engine/internal/metrics"
	"github.com/rawblock/factory-engine/internal/shadow"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	log.Println("Starting RawBlock Factory Engine...")

	policy, err := batch.ParsePolicy(cfg.Solver.Policy)
	if err != nil {
		return err
	}

	// Postgres is optional; without it runs are not persisted.
	var dbConn *db.PostgresStore
	if cfg.Database.URL == "" {
		log.Println("Warning: DATABASE_URL not set, continuing without persisting runs.")
	} else if dbConn, err = db.Connect(cfg.Database.URL); err != nil {
		log.Printf("Warning: Failed to connect to PostgreSQL, continuing without persisting runs. Error: %v", err)
		dbConn = nil
	} else {
		defer dbConn.Close()
		if err := dbConn.InitSchema(); err != nil {
			log.Printf("Warning: DB schema init failed: %v", err)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Setup WebSocket Hub
	wsHub := api.NewHub(cfg.Server.AllowedOrigins)
	go wsHub.Run()

	batchSolver := batch.NewSolver(
		batch.WithWorkers(cfg.Solver.Workers),
		batch.WithPolicy(policy),
		batch.WithRecorder(metrics.NewRecorder(reg)),
		batch.WithEventFunc(api.BroadcastSolveEvent(wsHub)),
	)

	var shadowRunner *shadow.ShadowRunner
	if cfg.Shadow.Enabled {
		var pool *pgxpool.Pool
		if dbConn != nil {
			pool = dbConn.GetPool()
		}
		shadowRunner = shadow.NewShadowRunner(pool, cfg.Shadow.SnapshotID, cfg.Shadow.StateBudget)
		log.Printf("[Shadow] Enabled for snapshot %d (search budget %d states)", cfg.Shadow.SnapshotID, cfg.Shadow.StateBudget)
	}

	limiter := api.NewRateLimiter(cfg.Server.RateLimitPerMin, cfg.Server.RateLimitBurst)
	defer limiter.Stop()

	r := api.SetupRouter(api.Options{
		Server:   cfg.Server,
		Store:    dbConn,
		Hub:      wsHub,
		Solver:   batchSolver,
		Shadow:   shadowRunner,
		Limiter:  limiter,
		Gatherer: reg,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Engine running on :%s (%d workers, %s policy)", cfg.Server.Port, cfg.Solver.Workers, policy)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
