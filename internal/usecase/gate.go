package usecase

import (
	"context"

	"go.uber.org/zap"

	"github.com/hearthos/wellbeingd/internal/domain"
)

// PermissionGate wraps every presentation attempt with the overlay-grant
// check. The grant is re-evaluated on each call, never cached: the user can
// revoke it between two countdown ticks.
//
// The one-prompt-per-cycle flag lives on the orchestrator's state, not here;
// each show call takes the current flag and reports whether it fired the
// prompt, so the gate itself stays stateless and testable.
type PermissionGate struct {
	permission domain.OverlayPermission
	surface    domain.PresentationSurface
	launcher   domain.AppLauncher
	notifier   domain.HostNotifier
	logger     *zap.Logger
}

// NewPermissionGate creates the gate over its collaborators.
func NewPermissionGate(
	permission domain.OverlayPermission,
	surface domain.PresentationSurface,
	launcher domain.AppLauncher,
	notifier domain.HostNotifier,
	logger *zap.Logger,
) *PermissionGate {
	return &PermissionGate{
		permission: permission,
		surface:    surface,
		launcher:   launcher,
		notifier:   notifier,
		logger:     logger,
	}
}

// ensureGranted checks the grant. When absent it enforces the fallback:
// close the flagged app immediately (denying the overlay must not bypass
// enforcement) and fire the host prompt if this cycle has not prompted yet.
// Returns whether presentation may proceed and whether the prompt fired.
func (g *PermissionGate) ensureGranted(ctx context.Context, label, packageID string, alreadyPrompted bool) (granted, prompted bool) {
	if g.permission.Granted() {
		return true, false
	}

	if !alreadyPrompted {
		prompted = true
		g.notifier.PermissionRequired(label)
		if err := g.launcher.RequestClose(ctx, packageID); err != nil {
			g.logger.Error("fallback close failed",
				zap.String("package", packageID),
				zap.Error(err))
			g.notifier.LaunchFailure(packageID, err)
		}
	}
	return false, prompted
}

// ShowCountdown presents the countdown phase if the grant allows it. The
// returned granted reflects the grant check, not the render: a failed render
// with the grant present is logged and treated as best-effort delivery.
func (g *PermissionGate) ShowCountdown(ctx context.Context, label, packageID string, remaining, total int, alreadyPrompted bool) (granted, prompted bool) {
	granted, prompted = g.ensureGranted(ctx, label, packageID, alreadyPrompted)
	if !granted {
		return false, prompted
	}
	if err := g.surface.ShowCountdown(ctx, label, packageID, remaining, total); err != nil {
		g.logger.Warn("countdown render failed", zap.Error(err))
	}
	return true, prompted
}

// ShowDecision presents the decision prompt if the grant allows it.
func (g *PermissionGate) ShowDecision(ctx context.Context, label, packageID string, challengeOfferable bool, question string, alreadyPrompted bool) (granted, prompted bool) {
	granted, prompted = g.ensureGranted(ctx, label, packageID, alreadyPrompted)
	if !granted {
		return false, prompted
	}
	if err := g.surface.ShowDecision(ctx, label, packageID, challengeOfferable, question); err != nil {
		g.logger.Warn("decision render failed", zap.Error(err))
	}
	return true, prompted
}

// Hide dismisses the overlay. Not gated: hiding never needs the grant.
func (g *PermissionGate) Hide(ctx context.Context) {
	if err := g.surface.Hide(ctx); err != nil {
		g.logger.Warn("overlay hide failed", zap.Error(err))
	}
}
