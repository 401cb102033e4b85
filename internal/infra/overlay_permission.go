package infra

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hearthos/wellbeingd/internal/domain"
)

const (
	grantFileName  = "overlay.granted"
	promptFileName = "overlay.prompt"
)

// FileOverlayPermission models the system "draw over other apps" grant as a
// marker file, toggled by `wellbeingd overlay grant|revoke`. The check runs
// against the filesystem on every call because the grant can be revoked
// between countdown ticks.
type FileOverlayPermission struct {
	grantPath string
}

// NewFileOverlayPermission creates the grant check for the data directory.
func NewFileOverlayPermission(dataDir string) *FileOverlayPermission {
	return &FileOverlayPermission{grantPath: filepath.Join(dataDir, grantFileName)}
}

// Granted reports whether the overlay grant marker is present.
func (p *FileOverlayPermission) Granted() bool {
	_, err := os.Stat(p.grantPath)
	return err == nil
}

// Grant creates the grant marker.
func (p *FileOverlayPermission) Grant() error {
	if err := os.MkdirAll(filepath.Dir(p.grantPath), 0700); err != nil {
		return err
	}
	return os.WriteFile(p.grantPath, []byte{}, 0600)
}

// Revoke removes the grant marker.
func (p *FileOverlayPermission) Revoke() error {
	err := os.Remove(p.grantPath)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// FileHostNotifier surfaces one-shot messages to the host launcher UI by
// logging them and dropping a prompt marker the host picks up on its next
// foreground pass.
type FileHostNotifier struct {
	promptPath string
	logger     *zap.Logger
}

// NewFileHostNotifier creates a notifier rooted at the data directory.
func NewFileHostNotifier(dataDir string, logger *zap.Logger) *FileHostNotifier {
	return &FileHostNotifier{
		promptPath: filepath.Join(dataDir, promptFileName),
		logger:     logger,
	}
}

// PermissionRequired records that the host must ask the user for the overlay
// grant before enforcement can be presented.
func (n *FileHostNotifier) PermissionRequired(appLabel string) {
	n.logger.Warn("overlay permission missing, prompting host",
		zap.String("app", appLabel))
	msg := fmt.Sprintf("grant required to enforce limit on %s\n", appLabel)
	if err := os.WriteFile(n.promptPath, []byte(msg), 0600); err != nil {
		n.logger.Warn("failed to write permission prompt marker", zap.Error(err))
	}
}

// ClearPrompt removes a pending prompt marker, e.g. after the user
// dismissed it or opened the grant settings.
func (n *FileHostNotifier) ClearPrompt() error {
	err := os.Remove(n.promptPath)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// LaunchFailure reports a recoverable close/relaunch failure.
func (n *FileHostNotifier) LaunchFailure(packageID string, err error) {
	n.logger.Error("app launch collaborator failure",
		zap.String("package", packageID),
		zap.Error(err))
}

var (
	_ domain.OverlayPermission = (*FileOverlayPermission)(nil)
	_ domain.HostNotifier      = (*FileHostNotifier)(nil)
)
