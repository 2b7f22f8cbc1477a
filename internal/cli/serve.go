package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gyrelabs/gyre/internal/admission"
	"github.com/gyrelabs/gyre/internal/config"
	"github.com/gyrelabs/gyre/internal/lock"
	"github.com/gyrelabs/gyre/internal/metrics"
	"github.com/gyrelabs/gyre/internal/pipeline"
	"github.com/gyrelabs/gyre/internal/repair"
	"github.com/gyrelabs/gyre/internal/server"
	"github.com/gyrelabs/gyre/internal/spiral"
	"github.com/gyrelabs/gyre/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return fmt.Errorf("resolve db path: %w", err)
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	index := spiral.NewIndex(db, nil)
	adm := admission.New(cfg.Admission.CeilingBytes, cfg.Admission.SafetyFactor)
	lk := lock.New(db, lock.Options{
		LeaseTTL:       cfg.Lock.LeaseTTL.Std(),
		AcquireTimeout: cfg.Lock.AcquireTimeout.Std(),
		RetryInterval:  cfg.Lock.RetryInterval.Std(),
	})
	m := metrics.New()

	pipe := pipeline.New(db, index, adm, lk, m, pipeline.Options{
		Workers:      cfg.Pipeline.Workers,
		QueueSize:    cfg.Pipeline.QueueSize,
		RequeueDelay: cfg.Pipeline.RequeueDelay.Std(),
		MaxAttempts:  cfg.Pipeline.MaxAttempts,
		JobTimeout:   cfg.Pipeline.JobTimeout.Std(),
	})
	pipe.Start()
	defer pipe.Stop()

	// The repairer shares the pipeline's lock instance, so audits and
	// jobs serialize inside this process as well as across processes.
	repairer := repair.New(db, index, lk, cfg.Repair.Epsilon)

	// Reconcile any drift left by a previous crash before taking traffic.
	if report, err := repairer.Rebuild(cmd.Context()); err != nil {
		fmt.Fprintf(os.Stderr, "warning: startup repair failed: %v\n", err)
	} else if report.DriftDetected() {
		fmt.Fprintf(os.Stderr, "  startup repair corrected drift (%d nodes scanned)\n", report.TotalNodesScanned)
	}

	srv := server.New(db, index, pipe, repairer, m, VersionString(), cfg.Server.MetricsToken)
	addr := cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		fmt.Fprintf(os.Stderr, "gyre serving on %s\n", addr)
		fmt.Fprintf(os.Stderr, "  db: %s\n", dbPath)
		if adm.Threshold() > 0 {
			fmt.Fprintf(os.Stderr, "  admission threshold: %d bytes\n", adm.Threshold())
		}
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}()

	<-done
	fmt.Fprintln(os.Stderr, "\nshutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return httpServer.Shutdown(ctx)
}
