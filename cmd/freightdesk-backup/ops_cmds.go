package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MacJediWizard/freightdesk/internal/api"
	"github.com/MacJediWizard/freightdesk/internal/db"
	"github.com/MacJediWizard/freightdesk/internal/scheduler"
)

func newConfigCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and check backup configuration",
	}

	cmd.AddCommand(
		newConfigShowCmd(flags),
		newConfigCheckCmd(flags),
	)
	return cmd
}

func newConfigShowCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(flags)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if path := a.provider.Path(); path != "" {
				fmt.Fprintf(out, "# config file: %s\n", path)
			} else {
				fmt.Fprintln(out, "# config file: none (defaults and environment)")
			}

			data, err := yaml.Marshal(a.cfg.Snapshot())
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			_, err = out.Write(data)
			return err
		},
	}
}

func newConfigCheckCmd(flags *globalFlags) *cobra.Command {
	var skipConnection bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate configuration and test the database connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(flags)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			problems := a.cfg.ValidateConfig()
			for _, p := range problems {
				fmt.Fprintf(out, "  - %s\n", p)
			}

			if !skipConnection {
				ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
				defer cancel()
				if err := a.database.TestConnection(ctx); err != nil {
					fmt.Fprintf(out, "  - Database connection failed: %v\n", err)
					problems = append(problems, err.Error())
				}
			}

			if len(problems) > 0 {
				return fmt.Errorf("configuration has %d problem(s)", len(problems))
			}
			fmt.Fprintln(out, "Configuration OK")
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipConnection, "skip-connection", false, "Do not connect to the database")
	return cmd
}

func newMigrateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply record store migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.openStore(cmd.Context()); err != nil {
				return err
			}

			if pg, ok := a.store.(*db.DB); ok {
				version, err := pg.CurrentVersion(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Record store at schema version %d\n", version)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Record store %s is up to date\n", a.server.SQLitePath)
			return nil
		},
	}
}

func newServeCmd(flags *globalFlags) *cobra.Command {
	var refresh time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the backup scheduler, health monitor and ops endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(cmd.Context(), a, refresh)
		},
	}

	cmd.Flags().DurationVar(&refresh, "schedule-refresh", scheduler.DefaultConfig().RefreshInterval,
		"How often to reload backup schedules")
	return cmd
}

func serve(ctx context.Context, a *app, refresh time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := a.logger
	logger.Info().
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Str("record_store", string(a.server.RecordStore)).
		Msg("starting backup service")

	svc, err := a.newService(ctx)
	if err != nil {
		return err
	}
	monitor, err := a.newMonitor(ctx)
	if err != nil {
		return err
	}

	if a.server.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	routerCfg := api.DefaultConfig()
	routerCfg.Version = Version
	routerCfg.Commit = Commit
	routerCfg.BuildDate = BuildDate
	router, err := api.NewRouter(routerCfg, api.Deps{
		Database: a.store,
		Monitor:  monitor,
		Service:  svc,
		Gatherer: a.registry,
	}, logger)
	if err != nil {
		return fmt.Errorf("create router: %w", err)
	}

	srv := &http.Server{
		Addr:              a.server.OpsAddr,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("ops server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sched := scheduler.New(a.store, svc, scheduler.Config{RefreshInterval: refresh}, logger)
	if err := sched.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to start backup scheduler")
	}

	if a.server.AlertMinutes > 0 {
		monitor.Start(ctx, time.Duration(a.server.AlertMinutes)*time.Minute)
		defer monitor.Stop()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down backup service")
	case err := <-serverErr:
		runErr = fmt.Errorf("ops server: %w", err)
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	select {
	case <-sched.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn().Msg("scheduled backups still running at shutdown")
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown ops server: %w", err)
	}

	logger.Info().Msg("backup service stopped")
	return runErr
}
