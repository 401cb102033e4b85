package domain

import "context"

// SessionStore is the durable record of timed sessions.
// Implementation: SQLCipher encrypted SQLite database.
type SessionStore interface {
	// StartSession creates a new active session for the package, ending any
	// prior active session for the same package in the same transaction.
	StartSession(ctx context.Context, packageID string, minutes int) (AppSession, error)

	// GetActiveSession returns the active session for the package, or nil.
	GetActiveSession(ctx context.Context, packageID string) (*AppSession, error)

	// ActiveSessions returns all sessions currently marked active.
	ActiveSessions(ctx context.Context) ([]AppSession, error)

	// EndSession marks the session inactive and stamps its end time.
	EndSession(ctx context.Context, sessionID string) error

	// Close releases the underlying database connection.
	Close() error
}

// SettingsProvider yields a fresh enforcement settings snapshot. It is read
// once per enforcement cycle, never cached across cycles.
type SettingsProvider interface {
	Snapshot() (EnforcementSettings, error)
}

// AppLauncher is the app-launch collaborator. It is the only component that
// creates sessions (on explicit user launch); the orchestrator is the only
// component that ends them.
type AppLauncher interface {
	// RequestClose forces the flagged app out of the foreground. It returns
	// only once the close has been confirmed or has observably failed.
	RequestClose(ctx context.Context, packageID string) error

	// RequestRelaunch closes the app if running, starts a fresh session with
	// the new duration, and reopens the app under it.
	RequestRelaunch(ctx context.Context, packageID string, minutes int) error
}

// OverlayPermission reports whether the system-level "draw over other apps"
// grant is present. The grant can be revoked at any moment, so callers must
// re-evaluate before every presentation attempt.
type OverlayPermission interface {
	Granted() bool
}

// PresentationSurface is the always-on-top surface that mirrors the
// orchestrator's phase. It lives in its own process; every call is
// best-effort and must not block enforcement.
type PresentationSurface interface {
	ShowCountdown(ctx context.Context, label, packageID string, remaining, total int) error
	ShowDecision(ctx context.Context, label, packageID string, challengeOfferable bool, question string) error
	Hide(ctx context.Context) error
}

// HostNotifier surfaces one-shot messages to the host launcher UI.
type HostNotifier interface {
	// PermissionRequired asks the host to walk the user through granting the
	// overlay permission. Fired at most once per enforcement cycle.
	PermissionRequired(appLabel string)

	// LaunchFailure reports a recoverable close/relaunch failure.
	LaunchFailure(packageID string, err error)
}

// AppCatalog resolves flagged apps to their labels and launch commands.
type AppCatalog interface {
	// Lookup returns the flagged-app entry, or nil if the package is not on
	// the time-limited list.
	Lookup(packageID string) *LimitedApp
}
