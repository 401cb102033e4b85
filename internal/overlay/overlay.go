// Package overlay implements the always-on-top presentation surface. It
// runs as its own process with a lifecycle independent of the daemon,
// mirrors the orchestrator's current phase, and forwards user taps back
// over the bus.
package overlay

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/hearthos/wellbeingd/internal/bus"
)

const stateFileName = "overlay.state"

// Frame is what the surface currently displays. It is persisted next to the
// socket so the window layer (and tests) can read the live frame.
type Frame struct {
	Visible            bool   `json:"visible"`
	Mode               string `json:"mode,omitempty"` // "countdown" or "decision"
	PackageID          string `json:"package,omitempty"`
	Label              string `json:"label,omitempty"`
	Remaining          int    `json:"remaining,omitempty"`
	Total              int    `json:"total,omitempty"`
	ChallengeOfferable bool   `json:"challenge_offerable,omitempty"`
	Question           string `json:"question,omitempty"`
	UpdatedAt          int64  `json:"updated_at"`
}

// Surface is the overlay process runtime.
type Surface struct {
	socketPath string
	statePath  string
	logger     *zap.Logger
}

// NewSurface creates the surface runtime. State is written alongside the
// socket.
func NewSurface(socketPath string, logger *zap.Logger) *Surface {
	return &Surface{
		socketPath: socketPath,
		statePath:  filepath.Join(filepath.Dir(socketPath), stateFileName),
		logger:     logger,
	}
}

// Run connects to the daemon and mirrors its frames until the context is
// cancelled. Lost connections are retried: the surface outlives daemon
// restarts.
func (s *Surface) Run(ctx context.Context) error {
	for {
		client, err := bus.Dial(s.socketPath)
		if err != nil {
			s.logger.Debug("daemon not reachable, retrying", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(2 * time.Second):
				continue
			}
		}

		s.logger.Info("overlay surface connected", zap.String("socket", s.socketPath))
		err = client.Listen(ctx, s.apply)
		client.Close()
		if ctx.Err() != nil {
			s.clear()
			return ctx.Err()
		}
		s.logger.Warn("bus connection lost, reconnecting", zap.Error(err))
	}
}

// apply renders one frame from the daemon.
func (s *Surface) apply(msg bus.Message) {
	switch msg.Kind {
	case bus.KindCountdown:
		s.write(Frame{
			Visible:   true,
			Mode:      "countdown",
			PackageID: msg.PackageID,
			Label:     msg.Label,
			Remaining: msg.Remaining,
			Total:     msg.Total,
		})
	case bus.KindDecision:
		s.write(Frame{
			Visible:            true,
			Mode:               "decision",
			PackageID:          msg.PackageID,
			Label:              msg.Label,
			ChallengeOfferable: msg.ChallengeOfferable,
			Question:           msg.Question,
		})
	case bus.KindHide:
		s.clear()
	}
}

func (s *Surface) write(frame Frame) {
	frame.UpdatedAt = time.Now().Unix()
	payload, err := json.Marshal(frame)
	if err != nil {
		s.logger.Warn("failed to encode overlay frame", zap.Error(err))
		return
	}
	if err := os.WriteFile(s.statePath, payload, 0600); err != nil {
		s.logger.Warn("failed to write overlay frame", zap.Error(err))
		return
	}
	s.logger.Debug("overlay frame rendered",
		zap.String("mode", frame.Mode),
		zap.String("package", frame.PackageID),
		zap.Int("remaining", frame.Remaining))
}

func (s *Surface) clear() {
	s.write(Frame{Visible: false})
}
