package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hearthos/wellbeingd/internal/domain"
)

// mockSessionStore implements domain.SessionStore for testing.
type mockSessionStore struct {
	active    []domain.AppSession
	activeErr error
	endedIDs  []string
	endErr    error
	started   []domain.AppSession
	startErr  error
}

func (m *mockSessionStore) StartSession(ctx context.Context, packageID string, minutes int) (domain.AppSession, error) {
	if m.startErr != nil {
		return domain.AppSession{}, m.startErr
	}
	session := domain.AppSession{
		ID:                     "new-" + packageID,
		PackageID:              packageID,
		StartTime:              time.Now(),
		PlannedDurationMinutes: minutes,
		IsActive:               true,
	}
	m.started = append(m.started, session)
	return session, nil
}

func (m *mockSessionStore) GetActiveSession(ctx context.Context, packageID string) (*domain.AppSession, error) {
	for i := range m.active {
		if m.active[i].PackageID == packageID && m.active[i].IsActive {
			return &m.active[i], nil
		}
	}
	return nil, nil
}

func (m *mockSessionStore) ActiveSessions(ctx context.Context) ([]domain.AppSession, error) {
	if m.activeErr != nil {
		return nil, m.activeErr
	}
	var out []domain.AppSession
	for _, s := range m.active {
		if s.IsActive {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockSessionStore) EndSession(ctx context.Context, sessionID string) error {
	if m.endErr != nil {
		return m.endErr
	}
	m.endedIDs = append(m.endedIDs, sessionID)
	for i := range m.active {
		if m.active[i].ID == sessionID {
			m.active[i].IsActive = false
		}
	}
	return nil
}

func (m *mockSessionStore) Close() error { return nil }

func session(pkg string, startedAgo time.Duration, minutes int) domain.AppSession {
	return domain.AppSession{
		ID:                     "sess-" + pkg,
		PackageID:              pkg,
		StartTime:              time.Now().Add(-startedAgo),
		PlannedDurationMinutes: minutes,
		IsActive:               true,
	}
}

func TestCheckExpired_EmitsExpiredOnce(t *testing.T) {
	store := &mockSessionStore{active: []domain.AppSession{
		session("com.social.feed", 20*time.Minute, 15),
		session("com.video.clips", 5*time.Minute, 30),
	}}
	scanner := NewExpiryScanner(store, zap.NewNop())

	events := scanner.CheckExpired(context.Background())
	require.Len(t, events, 1)
	assert.Equal(t, "com.social.feed", events[0].PackageID)

	// A second immediate call must not report the same session again.
	assert.Empty(t, scanner.CheckExpired(context.Background()))
}

func TestCheckExpired_ExactBoundaryCounts(t *testing.T) {
	store := &mockSessionStore{active: []domain.AppSession{
		session("com.social.feed", 10*time.Minute, 10),
	}}
	scanner := NewExpiryScanner(store, zap.NewNop())
	// startTime + plannedDuration <= now is expired, inclusive.
	events := scanner.CheckExpired(context.Background())
	assert.Len(t, events, 1)
}

func TestCheckExpired_RelaunchRearmsReporting(t *testing.T) {
	store := &mockSessionStore{active: []domain.AppSession{
		session("com.social.feed", 20*time.Minute, 15),
	}}
	scanner := NewExpiryScanner(store, zap.NewNop())

	require.Len(t, scanner.CheckExpired(context.Background()), 1)

	// Session resolved, then the app relaunched with a fresh session that
	// also already expired (e.g. clock jumped while the host slept).
	store.active[0].IsActive = false
	store.active = append(store.active, domain.AppSession{
		ID:                     "sess-2",
		PackageID:              "com.social.feed",
		StartTime:              time.Now().Add(-30 * time.Minute),
		PlannedDurationMinutes: 10,
		IsActive:               true,
	})

	events := scanner.CheckExpired(context.Background())
	require.Len(t, events, 1)
	assert.Equal(t, "sess-2", events[0].Session.ID)
}

func TestCheckExpired_StoreErrorYieldsNothing(t *testing.T) {
	store := &mockSessionStore{activeErr: errors.New("disk io")}
	scanner := NewExpiryScanner(store, zap.NewNop())
	assert.Empty(t, scanner.CheckExpired(context.Background()))

	// Recovery: once the store works again the session is reported.
	store.activeErr = nil
	store.active = []domain.AppSession{session("com.social.feed", 20*time.Minute, 15)}
	assert.Len(t, scanner.CheckExpired(context.Background()), 1)
}

func TestCheckExpired_ConcurrentCallsAreSafe(t *testing.T) {
	store := &mockSessionStore{active: []domain.AppSession{
		session("com.social.feed", 20*time.Minute, 15),
		session("com.video.clips", 45*time.Minute, 30),
		session("com.games.idle", 90*time.Minute, 60),
	}}
	scanner := NewExpiryScanner(store, zap.NewNop())

	// The poll tick and the re-check paths may scan at the same instant;
	// the reported set must survive that without corruption.
	var wg sync.WaitGroup
	total := make([]int, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				total[n] += len(scanner.CheckExpired(context.Background()))
			}
		}(i)
	}
	wg.Wait()

	// Exactly one scan, whichever won, gets to report each session.
	reported := 0
	for _, n := range total {
		reported += n
	}
	assert.Equal(t, 3, reported)
}

func TestCheckExpired_PrunesResolvedSessions(t *testing.T) {
	store := &mockSessionStore{active: []domain.AppSession{
		session("com.social.feed", 20*time.Minute, 15),
	}}
	scanner := NewExpiryScanner(store, zap.NewNop())

	require.Len(t, scanner.CheckExpired(context.Background()), 1)
	store.active[0].IsActive = false
	scanner.CheckExpired(context.Background())

	assert.Empty(t, scanner.reported)
}
