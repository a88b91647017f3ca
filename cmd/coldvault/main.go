// coldvault is the on-disk storage engine's operational CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/coldvault/coldvault/internal/backup"
	"github.com/coldvault/coldvault/internal/config"
	"github.com/coldvault/coldvault/internal/diskmon"
	"github.com/coldvault/coldvault/internal/lifecycle"
	"github.com/coldvault/coldvault/internal/metrics"
	"github.com/coldvault/coldvault/internal/store"
	"github.com/coldvault/coldvault/internal/stream"
	"github.com/coldvault/coldvault/internal/wipe"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

var (
	cfgFile  string
	logLevel string

	forceWipe bool
	sweepNow  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "coldvault",
		Short: "ColdVault - retention-enforcing on-disk storage engine",
		Long: `ColdVault persists structured entities as append-only record logs on a
local volume, enforces a guarded retention lifecycle, and erases expired
data with verified multi-pass overwrites.

Common operations:

  # Run the engine (sweep + disk monitor loops) until interrupted:
  coldvault serve --config /etc/coldvault.yaml

  # Inspect volume health and per-type usage:
  coldvault status

  # See which entities the next sweep would delete and why:
  coldvault preview reports

  # Snapshot a type and mark its entities backup_verified:
  coldvault backup reports

  # Securely erase one entity (guards apply unless --force):
  coldvault wipe reports r-2024-001`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine with its background loops",
		RunE:  runServe,
	}
	serveCmd.Flags().BoolVar(&sweepNow, "sweep-now", false, "run one retention sweep at startup")
	rootCmd.AddCommand(serveCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Report volume health, storage breakdown, and orphaned logs",
		RunE:  runStatus,
	}
	rootCmd.AddCommand(statusCmd)

	previewCmd := &cobra.Command{
		Use:   "preview [type...]",
		Short: "Show deletion-guard results without mutating anything",
		RunE:  runPreview,
	}
	rootCmd.AddCommand(previewCmd)

	wipeCmd := &cobra.Command{
		Use:   "wipe <type> <id>",
		Short: "Mark one entity for deletion and securely erase it",
		Args:  cobra.ExactArgs(2),
		RunE:  runWipe,
	}
	wipeCmd.Flags().BoolVar(&forceWipe, "force", false, "bypass deletion guards (not the state table)")
	rootCmd.AddCommand(wipeCmd)

	backupCmd := &cobra.Command{
		Use:   "backup <type>",
		Short: "Export a verified snapshot of one entity type",
		Args:  cobra.ExactArgs(1),
		RunE:  runBackup,
	}
	rootCmd.AddCommand(backupCmd)

	verifyCmd := &cobra.Command{
		Use:   "verify <type> <id>",
		Short: "Cross-check one entity's log against its index",
		Args:  cobra.ExactArgs(2),
		RunE:  runVerify,
	}
	rootCmd.AddCommand(verifyCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("coldvault %s (%s)\n", Version, Commit)
		},
	}
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func openStore(cfg *config.Config, m *metrics.EngineMetrics) (*store.Store, error) {
	return store.New(cfg.StorageRoot, log.Logger, m)
}

func openManager(s *store.Store, m *metrics.EngineMetrics) (*lifecycle.Manager, error) {
	w, err := wipe.New(s.TypeDir(store.TypeAudit), log.Logger, m)
	if err != nil {
		return nil, err
	}
	return lifecycle.New(s, w, log.Logger, m)
}

func runServe(cmd *cobra.Command, args []string) error {
	setupLogging()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	reg := metrics.NewRegistry()
	em := metrics.New(reg)

	s, err := openStore(cfg, em)
	if err != nil {
		return err
	}
	mgr, err := openManager(s, em)
	if err != nil {
		return err
	}

	log.Info().
		Str("version", Version).
		Str("root", cfg.StorageRoot).
		Msg("coldvault starting")

	if sweepNow {
		summary := mgr.Sweep(cmd.Context())
		log.Info().
			Int("checked", summary.Checked).
			Int("deleted", summary.Deleted).
			Int("skipped", summary.Skipped).
			Int("errors", len(summary.Errors)).
			Msg("startup sweep complete")
	}

	var sweeper *lifecycle.Sweeper
	if cfg.Sweep.Enabled {
		sweeper = lifecycle.NewSweeper(mgr, cfg.SweepInterval())
		sweeper.Start()
	}

	var monitor *diskmon.Monitor
	if cfg.Monitor.Enabled {
		monitor = diskmon.New(s, cfg.MonitorInterval(), log.Logger, em)
		monitor.SetMaxAlerts(cfg.Monitor.MaxAlerts)
		monitor.Start()
	}

	// The media path needs a signing secret; without one it stays off.
	// Constructing the streamer at startup makes a bad secret fail fast
	// instead of on the first token request.
	if cfg.Stream.SigningSecret != "" {
		_, err := stream.New(
			filepath.Join(cfg.StorageRoot, string(store.TypeVideos)),
			[]byte(cfg.Stream.SigningSecret),
			stream.Options{
				TokenTTL:   cfg.TokenTTL(),
				MaxStreams: cfg.Stream.MaxStreams,
				MaxPayload: cfg.Stream.MaxPayload.Bytes(),
			},
			log.Logger, em,
		)
		if err != nil {
			return fmt.Errorf("media streaming: %w", err)
		}
		log.Info().Msg("media streaming enabled")
	}

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listener started")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("metrics listener failed")
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	if metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(ctx)
	}
	if monitor != nil {
		if err := monitor.Stop(); err != nil {
			log.Warn().Err(err).Msg("disk monitor stop")
		}
	}
	if sweeper != nil {
		if err := sweeper.Stop(); err != nil {
			log.Warn().Err(err).Msg("sweeper stop")
		}
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	setupLogging()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openStore(cfg, nil)
	if err != nil {
		return err
	}
	mon := diskmon.New(s, 0, log.Logger, nil)

	status, err := mon.Status()
	if err != nil {
		return err
	}
	breakdown, err := mon.Breakdown()
	if err != nil {
		return err
	}
	orphans, err := mon.CheckIndexHealth()
	if err != nil {
		return err
	}

	return printJSON(map[string]any{
		"disk":      status,
		"breakdown": breakdown,
		"orphans":   orphans,
	})
}

func runPreview(cmd *cobra.Command, args []string) error {
	setupLogging()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openStore(cfg, nil)
	if err != nil {
		return err
	}
	mgr, err := openManager(s, nil)
	if err != nil {
		return err
	}

	types := make([]store.EntityType, 0, len(args))
	for _, a := range args {
		types = append(types, store.EntityType(a))
	}
	entries, err := mgr.DeletionPreview(types...)
	if err != nil {
		return err
	}
	return printJSON(entries)
}

func runWipe(cmd *cobra.Command, args []string) error {
	setupLogging()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openStore(cfg, nil)
	if err != nil {
		return err
	}
	mgr, err := openManager(s, nil)
	if err != nil {
		return err
	}

	typ, id := store.EntityType(args[0]), args[1]
	if err := mgr.Transition(typ, id, lifecycle.StateMarkedForDeletion, forceWipe); err != nil {
		return err
	}
	result, err := mgr.SecureDelete(typ, id)
	if err != nil {
		return err
	}
	if err := printJSON(result); err != nil {
		return err
	}
	if !result.AllVerified {
		return fmt.Errorf("wipe verification failed for %s/%s", typ, id)
	}
	return nil
}

func runBackup(cmd *cobra.Command, args []string) error {
	setupLogging()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openStore(cfg, nil)
	if err != nil {
		return err
	}
	mgr, err := openManager(s, nil)
	if err != nil {
		return err
	}
	exporter, err := backup.New(s, mgr, log.Logger)
	if err != nil {
		return err
	}

	snap, err := exporter.Export(store.EntityType(args[0]))
	if err != nil {
		return err
	}
	return printJSON(snap)
}

func runVerify(cmd *cobra.Command, args []string) error {
	setupLogging()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openStore(cfg, nil)
	if err != nil {
		return err
	}
	mgr, err := openManager(s, nil)
	if err != nil {
		return err
	}
	exporter, err := backup.New(s, mgr, log.Logger)
	if err != nil {
		return err
	}

	report, verr := exporter.VerifyIntegrity(store.EntityType(args[0]), args[1])
	if report != nil {
		if err := printJSON(report); err != nil {
			return err
		}
	}
	return verr
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
