// Package main is the CLI entry point for wellbeingd.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hearthos/wellbeingd/internal/bus"
	"github.com/hearthos/wellbeingd/internal/daemon"
	"github.com/hearthos/wellbeingd/internal/infra"
	"github.com/hearthos/wellbeingd/internal/overlay"
	"github.com/hearthos/wellbeingd/internal/usecase"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "wellbeingd",
	Short: "Digital wellbeing enforcement engine for the launcher",
	Long: `wellbeingd tracks time-boxed sessions granted to distracting apps.
When a session's time runs out it forces a decision - extend, close, or
solve a friction challenge - on top of whatever app is in the foreground.`,
	Version: Version,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the enforcement daemon",
	Long: `Starts the enforcement daemon in the background. The daemon polls for
expired sessions, watches the session store for launches, and drives the
countdown/decision flow through the overlay surface.`,
	RunE: runStart,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon, grant and session status",
	RunE:  runStatus,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List active timed sessions",
	RunE:  runSessions,
}

var launchCmd = &cobra.Command{
	Use:   "launch <package>",
	Short: "Launch a flagged app under a timed session",
	Args:  cobra.ExactArgs(1),
	RunE:  runLaunch,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Ask the running daemon to re-check for expired sessions now",
	RunE:  runCheck,
}

var respondCmd = &cobra.Command{
	Use:   "respond <extend|close|challenge|solve|dismiss> <package>",
	Short: "Submit a decision for the current enforcement",
	Args:  cobra.ExactArgs(2),
	RunE:  runRespond,
}

var overlayCmd = &cobra.Command{
	Use:   "overlay <grant|revoke|status|dismiss-prompt>",
	Short: "Manage the draw-over-apps grant",
	Args:  cobra.ExactArgs(1),
	RunE:  runOverlay,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run:   runVersion,
}

// Hidden daemon command - used for self-exec when spawning the daemon.
var daemonCmd = &cobra.Command{
	Use:    "daemon",
	Hidden: true,
	RunE:   runDaemon,
}

// Hidden overlay-surface command - the out-of-process presentation surface.
var overlaySurfaceCmd = &cobra.Command{
	Use:    "overlay-surface",
	Hidden: true,
	RunE:   runOverlaySurface,
}

var (
	dataDir        string
	launchMinutes  int
	respondMinutes int
	respondAnswer  int
	foreground     bool
	surfaceSocket  string
	jsonOutput     bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", infra.DefaultDataDir(), "Data directory")
	launchCmd.Flags().IntVar(&launchMinutes, "minutes", 15, "Granted session length in minutes")
	respondCmd.Flags().IntVar(&respondMinutes, "minutes", 0, "New duration for extend")
	respondCmd.Flags().IntVar(&respondAnswer, "answer", 0, "Challenge answer for solve")
	startCmd.Flags().BoolVar(&foreground, "foreground", false, "Run in the foreground instead of detaching")
	overlaySurfaceCmd.Flags().StringVar(&surfaceSocket, "socket", "", "Daemon bus socket path")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(launchCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(respondCmd)
	rootCmd.AddCommand(overlayCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(overlaySurfaceCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := infra.LoadConfig(dataDir)
	if err != nil {
		return err
	}

	if client, err := bus.Dial(cfg.SocketPath); err == nil {
		client.Close()
		fmt.Println("wellbeingd is already running")
		return nil
	}

	if foreground {
		return runDaemon(cmd, args)
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	// Self-exec the hidden daemon command, detached.
	child := exec.Command(executable, "daemon", "--data-dir", dataDir)
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	child.Stdin = nil
	child.Stdout = nil
	child.Stderr = nil
	if err := child.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Give the daemon a moment to bind its socket.
	time.Sleep(500 * time.Millisecond)

	fmt.Println("wellbeingd started")
	fmt.Printf("Data dir: %s\n", cfg.DataDir)
	fmt.Printf("Socket:   %s\n", cfg.SocketPath)
	if len(cfg.Apps) == 0 {
		fmt.Println("\nNo flagged apps configured yet. Add [[apps]] entries to config.toml.")
	} else {
		fmt.Println("\nTime-limited applications:")
		for _, app := range cfg.Apps {
			fmt.Printf("  - %s (%s)\n", app.Label, app.PackageID)
		}
	}
	return nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := infra.LoadConfig(dataDir)
	if err != nil {
		return err
	}

	logger := createLogger(cfg.DataDir)
	defer func() { _ = logger.Sync() }()

	key, err := infra.NewFileKeyProvider(cfg.DataDir).EnsureKey()
	if err != nil {
		return fmt.Errorf("failed to load encryption key: %w", err)
	}
	store, err := infra.NewSQLSessionStore(cfg.DataDir, key)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer store.Close()

	catalog := infra.NewConfigCatalog(cfg)
	settings := infra.NewFileSettingsProvider(cfg.DataDir)
	permission := infra.NewFileOverlayPermission(cfg.DataDir)
	notifier := infra.NewFileHostNotifier(cfg.DataDir, logger)
	launcher := infra.NewProcessLauncher(catalog, store, logger)
	scanner := usecase.NewExpiryScanner(store, logger)

	engineCfg := daemon.DefaultEngineConfig(cfg.SocketPath, store.DBPath())
	engineCfg.PollInterval = cfg.PollInterval()

	server := bus.NewServer(cfg.SocketPath, logger)
	gate := usecase.NewPermissionGate(permission, bus.NewSurface(server), launcher, notifier, logger)
	orchestrator := usecase.NewOrchestrator(store, settings, launcher, catalog, notifier, gate, scanner, logger)
	engine := daemon.NewEngine(engineCfg, orchestrator, server, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	return engine.Run(ctx)
}

func runOverlaySurface(cmd *cobra.Command, args []string) error {
	if surfaceSocket == "" {
		cfg, err := infra.LoadConfig(dataDir)
		if err != nil {
			return err
		}
		surfaceSocket = cfg.SocketPath
	}

	logger := createLogger(filepath.Dir(surfaceSocket))
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	return overlay.NewSurface(surfaceSocket, logger).Run(ctx)
}

func runLaunch(cmd *cobra.Command, args []string) error {
	cfg, err := infra.LoadConfig(dataDir)
	if err != nil {
		return err
	}

	logger, _ := zap.NewDevelopment()
	defer func() { _ = logger.Sync() }()

	key, err := infra.NewFileKeyProvider(cfg.DataDir).EnsureKey()
	if err != nil {
		return err
	}
	store, err := infra.NewSQLSessionStore(cfg.DataDir, key)
	if err != nil {
		return err
	}
	defer store.Close()

	catalog := infra.NewConfigCatalog(cfg)
	launcher := infra.NewProcessLauncher(catalog, store, logger)

	pkg := args[0]
	if err := launcher.RequestRelaunch(cmd.Context(), pkg, launchMinutes); err != nil {
		return err
	}

	fmt.Printf("Launched %s with a %d minute session\n", pkg, launchMinutes)
	return nil
}

func runSessions(cmd *cobra.Command, args []string) error {
	cfg, err := infra.LoadConfig(dataDir)
	if err != nil {
		return err
	}

	key, err := infra.NewFileKeyProvider(cfg.DataDir).EnsureKey()
	if err != nil {
		return err
	}
	store, err := infra.NewSQLSessionStore(cfg.DataDir, key)
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := store.ActiveSessions(cmd.Context())
	if err != nil {
		return err
	}

	if len(sessions) == 0 {
		fmt.Println("No active sessions.")
		return nil
	}

	fmt.Println("\n=== Active Sessions ===")
	now := time.Now()
	for _, s := range sessions {
		left := time.Until(s.ExpiresAt()).Round(time.Second)
		state := fmt.Sprintf("%s left", left)
		if s.ExpiredAt(now) {
			state = fmt.Sprintf("EXPIRED %s ago", (-left).Round(time.Second))
		}
		fmt.Printf("  %s  %dm granted  %s\n", s.PackageID, s.PlannedDurationMinutes, state)
	}
	fmt.Println("=======================")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := infra.LoadConfig(dataDir)
	if err != nil {
		return err
	}

	fmt.Println("\n=== wellbeingd Status ===")

	if client, err := bus.Dial(cfg.SocketPath); err == nil {
		client.Close()
		fmt.Println("Daemon: RUNNING")
	} else {
		fmt.Println("Daemon: NOT RUNNING")
		fmt.Println("\nRun 'wellbeingd start' to enable enforcement.")
	}

	permission := infra.NewFileOverlayPermission(cfg.DataDir)
	if permission.Granted() {
		fmt.Println("Overlay grant: present")
	} else {
		fmt.Println("Overlay grant: MISSING (expired apps will be force-closed)")
	}

	fmt.Println("\nTime-limited applications:")
	if len(cfg.Apps) == 0 {
		fmt.Println("  (none configured)")
	}
	for _, app := range cfg.Apps {
		fmt.Printf("  - %s (%s)\n", app.Label, app.PackageID)
	}
	fmt.Println("=========================")
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := infra.LoadConfig(dataDir)
	if err != nil {
		return err
	}
	client, err := bus.Dial(cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("daemon not running: %w", err)
	}
	defer client.Close()

	if err := client.Send(bus.Message{Kind: bus.KindRecheck}); err != nil {
		return err
	}
	fmt.Println("Re-check requested.")
	return nil
}

func runRespond(cmd *cobra.Command, args []string) error {
	cfg, err := infra.LoadConfig(dataDir)
	if err != nil {
		return err
	}
	client, err := bus.Dial(cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("daemon not running: %w", err)
	}
	defer client.Close()

	action, pkg := args[0], args[1]
	msg := bus.Message{PackageID: pkg}
	switch action {
	case "extend":
		if respondMinutes < 1 {
			return fmt.Errorf("extend requires --minutes")
		}
		msg.Kind = bus.KindExtend
		msg.Minutes = respondMinutes
	case "close":
		msg.Kind = bus.KindClose
	case "challenge":
		msg.Kind = bus.KindChallengeOpen
	case "solve":
		msg.Kind = bus.KindChallengeSolved
		msg.Answer = respondAnswer
	case "dismiss":
		msg.Kind = bus.KindChallengeDismissed
	default:
		return fmt.Errorf("unknown action %q", action)
	}

	if err := client.Send(msg); err != nil {
		return err
	}
	fmt.Printf("Sent %s for %s\n", action, pkg)
	return nil
}

func runOverlay(cmd *cobra.Command, args []string) error {
	cfg, err := infra.LoadConfig(dataDir)
	if err != nil {
		return err
	}
	permission := infra.NewFileOverlayPermission(cfg.DataDir)

	switch args[0] {
	case "grant":
		if err := permission.Grant(); err != nil {
			return err
		}
		fmt.Println("Overlay grant recorded.")
	case "revoke":
		if err := permission.Revoke(); err != nil {
			return err
		}
		fmt.Println("Overlay grant revoked.")
	case "status":
		fmt.Println("granted:", strconv.FormatBool(permission.Granted()))
	case "dismiss-prompt":
		logger, _ := zap.NewDevelopment()
		notifier := infra.NewFileHostNotifier(cfg.DataDir, logger)
		if err := notifier.ClearPrompt(); err != nil {
			return err
		}
		fmt.Println("Prompt dismissed.")
	default:
		return fmt.Errorf("unknown overlay action %q", args[0])
	}
	return nil
}

func createLogger(dataDir string) *zap.Logger {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{filepath.Join(dataDir, "wellbeingd.log")}
	config.ErrorOutputPaths = []string{filepath.Join(dataDir, "wellbeingd.error.log")}
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		// Fallback to stdout if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("wellbeingd %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
