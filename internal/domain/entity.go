// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import "time"

// AppSession records that a flagged app was granted a number of minutes of
// use starting at a given time. At most one active session may exist per
// package at a time; the store enforces this on creation.
type AppSession struct {
	ID                     string
	PackageID              string
	StartTime              time.Time
	PlannedDurationMinutes int
	IsActive               bool
	EndTime                *time.Time
}

// ExpiresAt returns the instant the session's granted time runs out.
func (s AppSession) ExpiresAt() time.Time {
	return s.StartTime.Add(time.Duration(s.PlannedDurationMinutes) * time.Minute)
}

// ExpiredAt reports whether the session is active and past its planned
// duration at the given instant.
func (s AppSession) ExpiredAt(now time.Time) bool {
	return s.IsActive && !s.ExpiresAt().After(now)
}

// ChallengeDifficulty selects how hard the friction challenge is.
type ChallengeDifficulty string

const (
	DifficultyEasy   ChallengeDifficulty = "easy"
	DifficultyMedium ChallengeDifficulty = "medium"
	DifficultyHard   ChallengeDifficulty = "hard"
)

// EnforcementSettings is a read-only snapshot of the user's enforcement
// preferences, taken once per enforcement cycle.
type EnforcementSettings struct {
	CountdownSeconds    int
	ChallengeEnabled    bool
	ChallengeDifficulty ChallengeDifficulty
}

// ExpiryEvent is emitted by the expiry scanner for a session whose planned
// duration has elapsed. Transient; identity for de-duplication is PackageID
// within one enforcement lifetime.
type ExpiryEvent struct {
	PackageID string
	Session   AppSession
}

// Phase is the orchestrator's current position in the enforcement flow.
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseCountdown       Phase = "countdown"
	PhaseDecision        Phase = "decision"
	PhaseChallengeActive Phase = "challenge"
)

// EnforcementSnapshot is the observable enforcement state exposed to the
// host UI for rendering.
type EnforcementSnapshot struct {
	Phase              Phase
	PackageID          string
	AppLabel           string
	CountdownRemaining int
	CountdownTotal     int
	QueueLength        int
	ChallengeQuestion  string
}

// LimitedApp is one entry of the flagged ("distracting") app list the
// launcher maintains. Command is what the launch collaborator executes to
// (re)open the app.
type LimitedApp struct {
	PackageID string
	Label     string
	Command   []string
}

// MathChallenge is one generated friction challenge.
type MathChallenge struct {
	Question string
	Answer   int
}
