package infra

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/hearthos/wellbeingd/internal/domain"
)

// closeConfirmTimeout bounds how long RequestClose waits for the target
// processes to actually exit before reporting failure.
const closeConfirmTimeout = 5 * time.Second

// ProcessLauncher implements domain.AppLauncher using gopsutil for process
// discovery and plain exec for (re)launching. It is the only component that
// creates sessions.
type ProcessLauncher struct {
	catalog domain.AppCatalog
	store   domain.SessionStore
	logger  *zap.Logger
}

// NewProcessLauncher creates a launcher over the flagged-app catalog.
func NewProcessLauncher(catalog domain.AppCatalog, store domain.SessionStore, logger *zap.Logger) *ProcessLauncher {
	return &ProcessLauncher{catalog: catalog, store: store, logger: logger}
}

// processName returns the process name the package is expected to run under.
func (l *ProcessLauncher) processName(packageID string) string {
	if app := l.catalog.Lookup(packageID); app != nil && len(app.Command) > 0 {
		return filepath.Base(app.Command[0])
	}
	return packageID
}

// findPIDs returns PIDs of processes matching the package's process name
// (case-insensitive).
func (l *ProcessLauncher) findPIDs(packageID string) ([]int32, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	pattern := strings.ToLower(l.processName(packageID))
	var found []int32
	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue // Process may have exited
		}
		if strings.Contains(strings.ToLower(name), pattern) {
			found = append(found, p.Pid)
		}
	}
	return found, nil
}

// IsRunning reports whether the flagged app currently has a live process.
func (l *ProcessLauncher) IsRunning(packageID string) bool {
	pids, err := l.findPIDs(packageID)
	return err == nil && len(pids) > 0
}

// RequestClose terminates the flagged app's processes and waits (bounded)
// until they are gone. A failure here is surfaced to the caller rather than
// swallowed, because the session record must not be ended on a silently
// failed close.
func (l *ProcessLauncher) RequestClose(ctx context.Context, packageID string) error {
	pids, err := l.findPIDs(packageID)
	if err != nil {
		return fmt.Errorf("failed to enumerate processes: %w", err)
	}
	if len(pids) == 0 {
		return nil
	}

	for _, pid := range pids {
		p, err := process.NewProcess(pid)
		if err != nil {
			continue
		}
		if err := p.Kill(); err != nil {
			l.logger.Warn("failed to kill process",
				zap.String("package", packageID),
				zap.Int32("pid", pid),
				zap.Error(err))
		} else {
			l.logger.Info("closed flagged app process",
				zap.String("package", packageID),
				zap.Int32("pid", pid))
		}
	}

	deadline := time.Now().Add(closeConfirmTimeout)
	for time.Now().Before(deadline) {
		if !l.IsRunning(packageID) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return fmt.Errorf("app %s still running after close request", packageID)
}

// RequestRelaunch closes the app if running, starts a fresh session with the
// new duration, and reopens the app under it.
func (l *ProcessLauncher) RequestRelaunch(ctx context.Context, packageID string, minutes int) error {
	app := l.catalog.Lookup(packageID)
	if app == nil {
		return fmt.Errorf("package %s is not on the time-limited list", packageID)
	}

	if l.IsRunning(packageID) {
		if err := l.RequestClose(ctx, packageID); err != nil {
			return fmt.Errorf("failed to close before relaunch: %w", err)
		}
	}

	session, err := l.store.StartSession(ctx, packageID, minutes)
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	if len(app.Command) == 0 {
		return fmt.Errorf("no launch command configured for %s", packageID)
	}

	cmd := exec.Command(app.Command[0], app.Command[1:]...)
	// Detach so the app outlives the daemon process.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to launch %s: %w", packageID, err)
	}

	l.logger.Info("relaunched flagged app",
		zap.String("package", packageID),
		zap.String("session", session.ID),
		zap.Int("minutes", minutes),
		zap.Int("pid", cmd.Process.Pid))
	return nil
}

// Ensure ProcessLauncher implements domain.AppLauncher.
var _ domain.AppLauncher = (*ProcessLauncher)(nil)
