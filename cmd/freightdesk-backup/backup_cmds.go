package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/MacJediWizard/freightdesk/internal/backup"
	"github.com/MacJediWizard/freightdesk/internal/models"
	"github.com/MacJediWizard/freightdesk/internal/monitoring"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRunCmd(flags *globalFlags) *cobra.Command {
	var (
		backupType string
		name       string
		createdBy  string
		noDatabase bool
		noFiles    bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Create a database, files or full backup",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()

			svc, err := a.newService(cmd.Context())
			if err != nil {
				return err
			}

			opts := backup.Options{Type: backupType, Name: name, CreatedBy: createdBy}
			if cmd.Flags().Changed("no-database") {
				include := !noDatabase
				opts.IncludeDatabase = &include
			}
			if cmd.Flags().Changed("no-files") {
				include := !noFiles
				opts.IncludeFiles = &include
			}

			result := svc.CreateManualBackup(cmd.Context(), opts)
			return printResult(cmd, flags, result)
		},
	}

	cmd.Flags().StringVarP(&backupType, "type", "t", "full", "Backup type: database, files or full")
	cmd.Flags().StringVar(&name, "name", "", "Backup name (default: generated)")
	cmd.Flags().StringVar(&createdBy, "created-by", "", "Who requested the backup (default: system)")
	cmd.Flags().BoolVar(&noDatabase, "no-database", false, "Skip the database dump of a full backup")
	cmd.Flags().BoolVar(&noFiles, "no-files", false, "Skip the directory archives of a full backup")

	return cmd
}

func newPreRestoreCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "pre-restore",
		Short: "Snapshot every backup directory into one archive before a restore",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()

			svc, err := a.newService(cmd.Context())
			if err != nil {
				return err
			}
			return printResult(cmd, flags, svc.CreatePreRestoreBackup(cmd.Context()))
		},
	}
}

func printResult(cmd *cobra.Command, flags *globalFlags, result *backup.Result) error {
	out := cmd.OutOrStdout()
	if flags.jsonOutput {
		if err := printJSON(out, result); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(out, result.Message)
		if b := result.Backup; b != nil {
			fmt.Fprintf(out, "  ID:     %s\n", b.ID)
			fmt.Fprintf(out, "  Status: %s\n", b.Status)
			if b.Status == models.BackupStatusCompleted {
				fmt.Fprintf(out, "  Size:   %s\n", humanize.IBytes(uint64(b.FileSize)))
				if artifacts, err := b.Artifacts(); err == nil {
					for _, p := range artifacts.Paths() {
						fmt.Fprintf(out, "  File:   %s\n", p)
					}
				}
			}
		}
	}

	if !result.Success {
		return errors.New("backup failed")
	}
	return nil
}

func newStatusCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show backup statistics and health",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()

			svc, err := a.newService(cmd.Context())
			if err != nil {
				return err
			}

			st := svc.GetBackupStatus(cmd.Context())
			out := cmd.OutOrStdout()
			if flags.jsonOutput {
				return printJSON(out, map[string]any{
					"stats":           st.Stats,
					"success_rate":    st.SuccessRate(),
					"is_healthy":      st.IsHealthy(),
					"health_messages": st.HealthMessages(),
				})
			}

			health := "healthy"
			if !st.IsHealthy() {
				health = "unhealthy"
			}
			fmt.Fprintf(out, "Backups:      %d total, %d recent\n", st.Stats.TotalBackups, st.Stats.RecentBackups)
			fmt.Fprintf(out, "Recent:       %d completed, %d failed, %d pending\n",
				st.Stats.SuccessfulBackups, st.Stats.FailedBackups, st.Stats.PendingBackups)
			fmt.Fprintf(out, "Success rate: %.1f%%\n", st.SuccessRate())
			if st.Stats.LastBackup != nil {
				fmt.Fprintf(out, "Last backup:  %s (%s, %s)\n", st.Stats.LastBackup.Name, st.Stats.LastBackup.Status,
					humanize.Time(st.Stats.LastBackup.CreatedAt))
			}
			fmt.Fprintf(out, "Storage:      %s in %s\n", st.Stats.StorageUsage.Formatted, st.Stats.StoragePath)
			fmt.Fprintf(out, "Health:       %s\n", health)
			for _, msg := range st.HealthMessages() {
				fmt.Fprintf(out, "  - %s\n", msg)
			}
			return nil
		},
	}
}

func newHistoryCmd(flags *globalFlags) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the most recent backups",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()

			svc, err := a.newService(cmd.Context())
			if err != nil {
				return err
			}

			backups := svc.GetBackupHistory(cmd.Context(), limit)
			out := cmd.OutOrStdout()
			if flags.jsonOutput {
				return printJSON(out, backups)
			}
			if len(backups) == 0 {
				fmt.Fprintln(out, "No backups found.")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tTYPE\tSTATUS\tSIZE\tCREATED")
			for _, b := range backups {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					b.ID, b.Name, b.Type, b.Status, humanize.IBytes(uint64(b.FileSize)),
					b.CreatedAt.Local().Format("2006-01-02 15:04:05"))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of backups to show")
	return cmd
}

func newHealthCmd(flags *globalFlags) *cobra.Command {
	var alert bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check backup system health",
		Long: `Check backup system health: recent outcomes, storage usage and schedule
punctuality. Exits non-zero when health is critical. With --alert, a health
alert is sent through the configured channels when warranted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()

			monitor, err := a.newMonitor(cmd.Context())
			if err != nil {
				return err
			}

			var h *monitoring.SystemHealth
			if alert {
				h = monitor.Check(cmd.Context())
			} else {
				h = monitor.SystemHealth(cmd.Context())
			}

			out := cmd.OutOrStdout()
			if flags.jsonOutput {
				if err := printJSON(out, h); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(out, "Overall:   %s\n", strings.ToUpper(string(h.OverallStatus)))
				fmt.Fprintf(out, "Recent:    %d backups in %d days, %.1f%% successful\n",
					h.RecentBackups.Total, h.RecentBackups.WindowDays, h.RecentBackups.SuccessRate)
				fmt.Fprintf(out, "Storage:   %s of %s (%.1f%%)\n",
					h.Storage.UsedFormatted, h.Storage.MaxFormatted, h.Storage.UsagePercent)
				fmt.Fprintf(out, "Schedules: %d/%d healthy\n", h.Schedules.Healthy, h.Schedules.Total)
				for _, w := range h.Warnings {
					fmt.Fprintf(out, "  [%s] %s\n", w.Severity, w.Message)
				}
			}

			if h.OverallStatus == monitoring.StatusCritical {
				return errors.New("backup health is critical")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&alert, "alert", false, "Send a health alert when warranted")
	return cmd
}

func newVerifyCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <backup-id>",
		Short: "Validate every artifact of a recorded backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid backup id %q: %w", args[0], err)
			}

			a, err := loadApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()

			svc, err := a.newService(cmd.Context())
			if err != nil {
				return err
			}

			ok, err := svc.VerifyBackup(cmd.Context(), id)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "Backup %s is INVALID\n", id)
				return errors.New("backup verification failed")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backup %s is valid\n", id)
			return nil
		},
	}
}

func newValidateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <path-or-json>",
		Short: "Validate a dump, an archive or a recorded file_path value",
		Long: `Validate a .sql dump or .zip archive by path, or a JSON file_path value such as
{"database": "db.sql", "files": ["a.zip", "b.zip"]}. Every referenced file must
be valid.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(flags)
			if err != nil {
				return err
			}

			svc := backup.NewService(backup.Deps{
				Config:   a.cfg,
				Database: a.database,
				Files:    a.files,
			}, a.logger)

			if !svc.ValidateBackupIntegrity(args[0]) {
				fmt.Fprintln(cmd.OutOrStdout(), "invalid")
				return errors.New("backup validation failed")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "valid")
			return nil
		},
	}
}

func newContentsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "contents <archive.zip>",
		Short: "List the entries of a backup archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(flags)
			if err != nil {
				return err
			}

			if !a.files.ValidateArchive(args[0]) {
				return fmt.Errorf("%s is not a valid backup archive", args[0])
			}
			entries := a.files.ArchiveContents(args[0])

			out := cmd.OutOrStdout()
			if flags.jsonOutput {
				return printJSON(out, entries)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSIZE\tMODIFIED")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Name, humanize.IBytes(uint64(e.Size)),
					e.Modified.Format("2006-01-02 15:04:05"))
			}
			return tw.Flush()
		},
	}
}

func newExtractCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "extract <archive.zip> <destination>",
		Short: "Extract a backup archive into a directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(flags)
			if err != nil {
				return err
			}

			if !a.files.ExtractArchive(args[0], args[1]) {
				return fmt.Errorf("extract %s failed", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Extracted %s to %s\n", args[0], args[1])
			return nil
		},
	}
}
