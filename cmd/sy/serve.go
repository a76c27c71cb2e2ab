package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchyard/internal/call"
	"github.com/zulandar/switchyard/internal/db"
	"github.com/zulandar/switchyard/internal/enrich"
	"github.com/zulandar/switchyard/internal/events"
	"github.com/zulandar/switchyard/internal/httpapi"
	"github.com/zulandar/switchyard/internal/logging"
	"github.com/zulandar/switchyard/internal/notify"
	"github.com/zulandar/switchyard/internal/orchestrator"
	"github.com/zulandar/switchyard/internal/reaper"
	"github.com/zulandar/switchyard/internal/retry"
	"github.com/zulandar/switchyard/internal/sequencer"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion HTTP service",
		Long:  "Starts the packet ingestion API, the completion orchestrator and the live event streams.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchyard config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides server.port)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	defer db.Close(gormDB)
	if port > 0 {
		cfg.Server.Port = port
	}

	log := logging.New(cfg.Log, cmd.ErrOrStderr())

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	hub := events.NewHub()
	defer hub.Close()

	machine, err := call.NewMachine(call.Opts{DB: gormDB, Publisher: hub, Logger: log})
	if err != nil {
		return err
	}
	seq, err := sequencer.New(sequencer.Opts{
		DB:         gormDB,
		Publisher:  hub,
		LatePolicy: cfg.Ingest.LatePackets,
		MaxMissing: cfg.Ingest.MaxMissing,
		Logger:     log,
	})
	if err != nil {
		return err
	}
	enricher, err := enrich.New(cfg.Enrich)
	if err != nil {
		return err
	}
	// Orchestrations are not parented to ctx so that a shutdown lets
	// in-flight calls reach ARCHIVED or FAILED.
	orch, err := orchestrator.New(orchestrator.Opts{
		DB:           gormDB,
		Machine:      machine,
		Enricher:     enricher,
		Publisher:    hub,
		GracePeriod:  cfg.Orchestrator.GracePeriod,
		FastPath:     cfg.Orchestrator.FastPath,
		PollInterval: cfg.Orchestrator.PollInterval,
		Retry: retry.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			MaxTimeout:  cfg.Retry.MaxTimeout,
			BaseDelay:   cfg.Retry.BaseDelay,
		},
		Logger: log,
	})
	if err != nil {
		return err
	}

	sinks, err := notify.SinksFromConfig(cfg.Notify)
	if err != nil {
		return err
	}
	if len(sinks) > 0 {
		fwd, err := notify.NewForwarder(notify.ForwarderOpts{
			Hub:    hub,
			Sinks:  sinks,
			Events: cfg.Notify.Events,
			Buffer: cfg.Server.EventBuffer,
			Logger: log,
		})
		if err != nil {
			return err
		}
		go fwd.Run(ctx)
		fmt.Fprintf(out, "Forwarding %v to %d chat sink(s)\n", cfg.Notify.Events, len(sinks))
	}

	if cfg.Reaper.Schedule != "" {
		r, err := reaper.New(reaper.Opts{
			DB:         gormDB,
			Machine:    machine,
			Publisher:  hub,
			Active:     orch.Active,
			StaleAfter: cfg.Reaper.StaleAfter,
			Schedule:   cfg.Reaper.Schedule,
			Logger:     log,
		})
		if err != nil {
			return err
		}
		if err := r.Start(ctx); err != nil {
			return err
		}
		defer r.Stop()
	}

	log.Info("switchyard starting",
		"version", Version,
		"driver", cfg.Database.Driver,
		"enrich", cfg.Enrich.Provider,
		"late_packets", cfg.Ingest.LatePackets)

	serveErr := httpapi.Start(ctx, httpapi.StartOpts{
		RouterOpts: httpapi.RouterOpts{
			DB:          gormDB,
			Ingester:    seq,
			Completer:   orch,
			Hub:         hub,
			Version:     Version,
			EventBuffer: cfg.Server.EventBuffer,
			Logger:      log,
		},
		Port: cfg.Server.Port,
		Out:  out,
	})

	fmt.Fprintln(out, "Waiting for in-flight orchestrations...")
	orch.Wait()
	return serveErr
}
