// Package daemon runs the enforcement engine: orchestrator, expiry polling,
// the store change watcher and the cross-process bus.
package daemon

import (
	"context"
	"errors"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hearthos/wellbeingd/internal/bus"
	"github.com/hearthos/wellbeingd/internal/domain"
	"github.com/hearthos/wellbeingd/internal/usecase"
)

// EngineConfig holds daemon timing configuration.
type EngineConfig struct {
	PollInterval      time.Duration // expiry scan cadence
	KeepAliveInterval time.Duration // overlay process liveness check cadence
	SocketPath        string
	DBPath            string // session database file, watched for changes
}

// DefaultEngineConfig returns the default daemon timings.
func DefaultEngineConfig(socketPath, dbPath string) EngineConfig {
	return EngineConfig{
		PollInterval:      30 * time.Second,
		KeepAliveInterval: 5 * time.Second,
		SocketPath:        socketPath,
		DBPath:            dbPath,
	}
}

// Engine supervises the enforcement components. All inputs (poll ticks,
// store change notifications, bus messages) are funneled into the
// orchestrator's inbox; nothing here mutates enforcement state directly.
type Engine struct {
	config       EngineConfig
	orchestrator *usecase.Orchestrator
	server       *bus.Server
	spawnOverlay func() error
	logger       *zap.Logger
}

// NewEngine wires the daemon together. The engine installs itself as the
// bus server's inbound handler so every frame from the surface or the CLI
// is translated into an orchestrator input.
func NewEngine(
	config EngineConfig,
	orchestrator *usecase.Orchestrator,
	server *bus.Server,
	logger *zap.Logger,
) *Engine {
	e := &Engine{
		config:       config,
		orchestrator: orchestrator,
		server:       server,
		spawnOverlay: func() error { return SpawnOverlay(config.SocketPath) },
		logger:       logger,
	}
	server.SetHandler(e.handleBusMessage)
	return e
}

// Run blocks until the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("enforcement engine started",
		zap.String("socket", e.config.SocketPath),
		zap.Duration("poll_interval", e.config.PollInterval))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return e.orchestrator.Run(ctx) })
	g.Go(func() error { return e.server.Serve(ctx) })
	g.Go(func() error { return e.pollLoop(ctx) })
	g.Go(func() error { return e.watchStore(ctx) })
	g.Go(func() error { return e.keepAliveLoop(ctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// handleBusMessage translates inbound bus frames into orchestrator inputs.
// Unknown kinds are dropped; delivery is at-most-once by construction.
func (e *Engine) handleBusMessage(msg bus.Message) {
	switch msg.Kind {
	case bus.KindRecheck:
		e.orchestrator.Recheck()
	case bus.KindExtend:
		e.orchestrator.SubmitIntent(usecase.Intent{
			Kind:      usecase.IntentExtend,
			PackageID: msg.PackageID,
			Minutes:   msg.Minutes,
		})
	case bus.KindClose:
		e.orchestrator.SubmitIntent(usecase.Intent{
			Kind:      usecase.IntentClose,
			PackageID: msg.PackageID,
		})
	case bus.KindChallengeOpen:
		e.orchestrator.SubmitIntent(usecase.Intent{
			Kind:      usecase.IntentChallengeOpen,
			PackageID: msg.PackageID,
		})
	case bus.KindChallengeSolved:
		e.orchestrator.SubmitIntent(usecase.Intent{
			Kind:      usecase.IntentChallengeSolved,
			PackageID: msg.PackageID,
			Answer:    msg.Answer,
		})
	case bus.KindChallengeDismissed:
		e.orchestrator.SubmitIntent(usecase.Intent{
			Kind:      usecase.IntentChallengeDismissed,
			PackageID: msg.PackageID,
		})
	default:
		e.logger.Debug("ignoring bus frame", zap.String("kind", string(msg.Kind)))
	}
}

// pollLoop requests a periodic expiry scan. The request goes through the
// orchestrator's inbox like every other re-check path, so the scan itself
// always runs on the orchestrator's goroutine. An immediate request on
// startup resumes enforcement for sessions that expired while the daemon
// was down.
func (e *Engine) pollLoop(ctx context.Context) error {
	e.orchestrator.Recheck()

	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.orchestrator.Recheck()
		}
	}
}

// watchStore subscribes to session database changes so a freshly created
// session (a launch from the host UI) is picked up without waiting for the
// next poll. Watch failures degrade to polling only.
func (e *Engine) watchStore(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		e.logger.Warn("store watch unavailable, polling only", zap.Error(err))
		<-ctx.Done()
		return ctx.Err()
	}
	defer watcher.Close()

	if err := watcher.Add(e.config.DBPath); err != nil {
		e.logger.Warn("store watch unavailable, polling only",
			zap.String("path", e.config.DBPath), zap.Error(err))
		<-ctx.Done()
		return ctx.Err()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				e.orchestrator.Recheck()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			e.logger.Warn("store watch error", zap.Error(err))
		}
	}
}

// keepAliveLoop respawns the overlay surface process whenever an
// enforcement phase is active but no surface is connected, so the operating
// system reclaiming the overlay mid-countdown does not blank the flow.
func (e *Engine) keepAliveLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.config.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			snap := e.orchestrator.Snapshot()
			if snap.Phase == domain.PhaseIdle || snap.Phase == "" {
				continue
			}
			if e.server.PeerCount() > 0 {
				continue
			}
			e.logger.Info("overlay surface missing during enforcement, respawning",
				zap.String("phase", string(snap.Phase)))
			if err := e.spawnOverlay(); err != nil {
				e.logger.Error("failed to spawn overlay surface", zap.Error(err))
			}
		}
	}
}
