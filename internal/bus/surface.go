package bus

import (
	"context"

	"github.com/hearthos/wellbeingd/internal/domain"
)

// Surface implements domain.PresentationSurface by broadcasting render
// frames to whatever overlay process is currently connected. With no peer
// connected the frame is simply lost; the daemon's keep-alive respawns the
// overlay and the next tick re-renders.
type Surface struct {
	server *Server
}

// NewSurface wraps the bus server as a presentation surface.
func NewSurface(server *Server) *Surface {
	return &Surface{server: server}
}

// ShowCountdown renders the countdown phase.
func (s *Surface) ShowCountdown(ctx context.Context, label, packageID string, remaining, total int) error {
	s.server.Broadcast(Message{
		Kind:      KindCountdown,
		PackageID: packageID,
		Label:     label,
		Remaining: remaining,
		Total:     total,
	})
	return nil
}

// ShowDecision renders the decision prompt.
func (s *Surface) ShowDecision(ctx context.Context, label, packageID string, challengeOfferable bool, question string) error {
	s.server.Broadcast(Message{
		Kind:               KindDecision,
		PackageID:          packageID,
		Label:              label,
		ChallengeOfferable: challengeOfferable,
		Question:           question,
	})
	return nil
}

// Hide dismisses the overlay.
func (s *Surface) Hide(ctx context.Context) error {
	s.server.Broadcast(Message{Kind: KindHide})
	return nil
}

// Ensure Surface implements domain.PresentationSurface.
var _ domain.PresentationSurface = (*Surface)(nil)
