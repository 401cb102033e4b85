// Package usecase contains application business logic.
package usecase

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hearthos/wellbeingd/internal/domain"
)

// expiryKey identifies one reported expiry. StartTime is part of the key so
// that re-launching the app (a new session with a fresh start time) re-arms
// reporting for the same package.
type expiryKey struct {
	packageID string
	startUnix int64
}

// ExpiryScanner discovers active sessions whose planned duration has passed
// and emits each exactly once. It never mutates the store; ending the
// session (which the orchestrator does on resolution) is what clears a
// package for future reporting.
type ExpiryScanner struct {
	store  domain.SessionStore
	logger *zap.Logger

	// now is swappable for deterministic tests.
	now func() time.Time

	mu       sync.Mutex
	reported map[expiryKey]struct{}
}

// NewExpiryScanner creates a scanner over the session store.
func NewExpiryScanner(store domain.SessionStore, logger *zap.Logger) *ExpiryScanner {
	return &ExpiryScanner{
		store:    store,
		logger:   logger,
		now:      time.Now,
		reported: make(map[expiryKey]struct{}),
	}
}

// CheckExpired returns new expiry events. Safe to call from any of the
// re-check paths (poll tick, store change notification, manual re-check) and
// from any goroutine: a session already reported and not yet resolved yields
// nothing. Store read errors are non-fatal; the call logs and yields no
// events.
func (s *ExpiryScanner) CheckExpired(ctx context.Context) []domain.ExpiryEvent {
	sessions, err := s.store.ActiveSessions(ctx)
	if err != nil {
		s.logger.Warn("expiry scan failed, skipping cycle", zap.Error(err))
		return nil
	}

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Prune record of sessions that are gone or re-activated, so the
	// reported set does not grow without bound.
	live := make(map[expiryKey]struct{}, len(sessions))
	for _, session := range sessions {
		live[expiryKey{session.PackageID, session.StartTime.UnixNano()}] = struct{}{}
	}
	for key := range s.reported {
		if _, ok := live[key]; !ok {
			delete(s.reported, key)
		}
	}

	var events []domain.ExpiryEvent
	for _, session := range sessions {
		if !session.ExpiredAt(now) {
			continue
		}
		key := expiryKey{session.PackageID, session.StartTime.UnixNano()}
		if _, seen := s.reported[key]; seen {
			continue
		}
		s.reported[key] = struct{}{}
		events = append(events, domain.ExpiryEvent{
			PackageID: session.PackageID,
			Session:   session,
		})
		s.logger.Info("session expired",
			zap.String("package", session.PackageID),
			zap.Time("started", session.StartTime),
			zap.Int("minutes", session.PlannedDurationMinutes))
	}
	return events
}
