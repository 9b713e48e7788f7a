package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bizflow/internal/app"
	"bizflow/internal/config"
	"bizflow/internal/db"
	"bizflow/internal/migrate"
	logx "bizflow/pkg/logx"
)

var rootCmd = &cobra.Command{
	Use:   "bizflow",
	Short: "Business automation and scheduling service",
	Long: `bizflow runs automation rules on business events (quotation approved,
contract signed, payment received, task completed, new inquiry), sends
due-date reminders and answers calendar availability queries.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	_ = godotenv.Load()
	viper.SetEnvPrefix("BIZFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("config", "c", "./bizflow.yaml", "config file (YAML or JSON)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(dispatchCmd())
	rootCmd.AddCommand(rulesCmd())
	rootCmd.AddCommand(slotsCmd())
	rootCmd.AddCommand(conflictsCmd())
	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(migrateCmd())
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, reminder scan and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.New(viper.GetString("config"))
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer stopCancel()
				_ = a.Stop(stopCtx, app.StopFatalError)
				return fmt.Errorf("start: %w", err)
			}
			_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

			reason := app.StopSIGTERM
			select {
			case <-ctx.Done():
			case <-a.Done():
				reason = app.StopFatalError
			}
			_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

			timeout := config.DurationOr(a.Config().Server.ShutdownTimeout, 10*time.Second)
			stopCtx, stopCancel := context.WithTimeout(context.Background(), timeout)
			defer stopCancel()
			if err := a.Stop(stopCtx, reason); err != nil {
				return err
			}
			if reason == app.StopFatalError {
				return a.Err()
			}
			return nil
		},
	}
}

// withApp builds the app for a one-shot command. Notification delivery runs
// for the duration of fn so channel sends are flushed before exit.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app.App) error) error {
	cfgm := config.NewManager(viper.GetString("config"))
	cfg, err := cfgm.Load()
	if err != nil {
		return err
	}
	a, err := app.Build(cfg)
	if err != nil {
		return err
	}
	a.Notifier().Start(ctx)
	runErr := fn(ctx, a)

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.Notifier().Stop(stopCtx); err != nil {
		a.Log().Warn("notifier drain incomplete", logx.Err(err))
	}
	a.Close()
	return runErr
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewManager(viper.GetString("config")).Load()
			if err != nil {
				return err
			}
			conn, err := db.Open(db.Config{
				Path:        cfg.Database.Path,
				BusyTimeout: config.DurationOr(cfg.Database.BusyTimeout, 5*time.Second),
			})
			if err != nil {
				return err
			}
			defer conn.Close()
			before, err := migrate.Version(cmd.Context(), conn)
			if err != nil {
				return err
			}
			version, err := migrate.Migrate(cmd.Context(), conn)
			if err != nil {
				return err
			}
			out := map[string]any{"from": before, "version": version, "path": cfg.Database.Path}
			if viper.GetBool("json") {
				return printJSON(out)
			}
			fmt.Printf("schema version %d -> %d (%s)\n", before, version, cfg.Database.Path)
			return nil
		},
	}
}

func parseContext(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("--context must be a JSON object: %w", err)
	}
	return out, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
