package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bagleyctf/labrange/pkg/log"
	"github.com/bagleyctf/labrange/pkg/metrics"
	"github.com/bagleyctf/labrange/pkg/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator daemon",
	Long: `Run the long-lived orchestrator: the isolated lab network is
ensured, the expiry sweep loop starts, and Prometheus metrics are served
until interrupted.

The daemon holds the state database exclusively; other labrange
invocations fail with a locked-database error while it runs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		if err := a.driver.EnsureNetwork(ctx, a.cfg.Network.Name, a.cfg.Network.Subnet, a.cfg.Network.ProtectedRange); err != nil {
			return err
		}
		fmt.Println("✓ Lab network ready")

		sched := scheduler.NewScheduler(a.mgr, a.cfg.SweepInterval)
		sched.Start()
		fmt.Println("✓ Expiry sweep loop started")

		// Mirror lifecycle events into the main log
		sub := a.broker.Subscribe()
		defer a.broker.Unsubscribe(sub)
		eventLog := log.WithComponent("events")
		go func() {
			for event := range sub {
				eventLog.Info().
					Str("type", string(event.Type)).
					Str("owner", event.Owner).
					Str("instance", event.Instance).
					Msg(event.Message)
			}
		}()

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux}
		errCh := make(chan error, 1)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
		fmt.Printf("✓ Metrics on http://%s/metrics\n", a.cfg.MetricsAddr)

		fmt.Println()
		fmt.Println("Orchestrator is running. Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
		}

		sched.Stop()
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Errorf("failed to shut down metrics server", err)
		}

		fmt.Println("✓ Shutdown complete")
		return nil
	},
}
