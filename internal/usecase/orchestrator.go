package usecase

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hearthos/wellbeingd/internal/domain"
)

// IntentKind names a user decision delivered to the orchestrator.
type IntentKind string

const (
	IntentExtend             IntentKind = "extend"
	IntentClose              IntentKind = "close"
	IntentChallengeOpen      IntentKind = "challenge_open"
	IntentChallengeSolved    IntentKind = "challenge_solved"
	IntentChallengeDismissed IntentKind = "challenge_dismissed"
)

// Intent is one user decision from the presentation surface or the host UI.
type Intent struct {
	Kind      IntentKind
	PackageID string
	Minutes   int // extend: the newly chosen duration
	Answer    int // challenge_solved: the submitted answer
}

// Inbox message types. All state mutation happens on the Run goroutine;
// every input source hands off through the inbox instead of touching state.
type message interface{ isMessage() }

type expiryMsg struct{ events []domain.ExpiryEvent }
type tickMsg struct{ gen uint64 }
type intentMsg struct{ intent Intent }
type recheckMsg struct{}

func (expiryMsg) isMessage()  {}
func (tickMsg) isMessage()    {}
func (intentMsg) isMessage()  {}
func (recheckMsg) isMessage() {}

// Orchestrator is the session expiry state machine. A single goroutine owns
// all of its mutable state; expiry events, countdown ticks and user intents
// arrive as messages on one inbox channel.
type Orchestrator struct {
	store    domain.SessionStore
	settings domain.SettingsProvider
	launcher domain.AppLauncher
	catalog  domain.AppCatalog
	notifier domain.HostNotifier
	gate     *PermissionGate
	scanner  *ExpiryScanner
	logger   *zap.Logger

	// tickInterval is one second in production; tests shorten it.
	tickInterval time.Duration

	inbox chan message
	done  chan struct{}

	// State below is owned by the Run goroutine.
	phase                 domain.Phase
	current               *domain.ExpiryEvent
	queue                 []domain.ExpiryEvent
	countdownRemaining    int
	countdownTotal        int
	permissionPromptShown bool
	cycleSettings         domain.EnforcementSettings
	challenge             *domain.MathChallenge
	tickCancel            context.CancelFunc
	tickGen               uint64

	snapshot atomic.Pointer[domain.EnforcementSnapshot]
}

// NewOrchestrator wires the state machine to its collaborators.
func NewOrchestrator(
	store domain.SessionStore,
	settings domain.SettingsProvider,
	launcher domain.AppLauncher,
	catalog domain.AppCatalog,
	notifier domain.HostNotifier,
	gate *PermissionGate,
	scanner *ExpiryScanner,
	logger *zap.Logger,
) *Orchestrator {
	o := &Orchestrator{
		store:        store,
		settings:     settings,
		launcher:     launcher,
		catalog:      catalog,
		notifier:     notifier,
		gate:         gate,
		scanner:      scanner,
		logger:       logger,
		tickInterval: time.Second,
		inbox:        make(chan message, 64),
		done:         make(chan struct{}),
		phase:        domain.PhaseIdle,
	}
	o.publishSnapshot()
	return o
}

// SetTickInterval overrides the countdown tick cadence. For tests.
func (o *Orchestrator) SetTickInterval(d time.Duration) {
	o.tickInterval = d
}

// Run processes inbox messages until the context is cancelled. On teardown
// any running tick is cancelled, the overlay is hidden, and unresolved work
// is discarded; the next startup's re-check rediscovers still-expired
// sessions.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer close(o.done)
	for {
		select {
		case <-ctx.Done():
			o.cancelTick()
			o.gate.Hide(context.Background())
			o.logger.Info("orchestrator stopping")
			return ctx.Err()

		case msg := <-o.inbox:
			switch m := msg.(type) {
			case expiryMsg:
				o.handleExpiries(ctx, m.events)
			case tickMsg:
				o.handleTick(ctx, m.gen)
			case intentMsg:
				o.handleIntent(ctx, m.intent)
			case recheckMsg:
				o.handleExpiries(ctx, o.scanner.CheckExpired(ctx))
			}
			o.publishSnapshot()
		}
	}
}

// Deliver feeds expiry events into the state machine. Safe from any
// goroutine.
func (o *Orchestrator) Deliver(events []domain.ExpiryEvent) {
	if len(events) == 0 {
		return
	}
	o.send(expiryMsg{events: events})
}

// SubmitIntent delivers a user decision. Duplicate or stale intents are
// no-ops once inside the loop.
func (o *Orchestrator) SubmitIntent(intent Intent) {
	o.send(intentMsg{intent: intent})
}

// Recheck re-runs the expiry scan and feeds new events through the normal
// enqueue path. Safe to call in any state.
func (o *Orchestrator) Recheck() {
	o.send(recheckMsg{})
}

// Snapshot returns the current observable enforcement state.
func (o *Orchestrator) Snapshot() domain.EnforcementSnapshot {
	return *o.snapshot.Load()
}

func (o *Orchestrator) send(msg message) {
	select {
	case o.inbox <- msg:
	case <-o.done:
	}
}

// handleExpiries routes new expiry events: the first becomes the current
// enforcement when idle; the rest queue FIFO. A package already being
// enforced or already queued is never enqueued twice.
func (o *Orchestrator) handleExpiries(ctx context.Context, events []domain.ExpiryEvent) {
	for _, ev := range events {
		if o.current != nil && o.current.PackageID == ev.PackageID {
			continue
		}
		if o.queued(ev.PackageID) {
			continue
		}
		if o.current == nil {
			o.begin(ctx, ev)
		} else {
			o.queue = append(o.queue, ev)
			o.logger.Info("expiry queued behind current enforcement",
				zap.String("package", ev.PackageID),
				zap.Int("queue_length", len(o.queue)))
		}
	}
}

func (o *Orchestrator) queued(packageID string) bool {
	for _, ev := range o.queue {
		if ev.PackageID == packageID {
			return true
		}
	}
	return false
}

// begin starts one enforcement cycle for the event.
func (o *Orchestrator) begin(ctx context.Context, ev domain.ExpiryEvent) {
	o.current = &ev

	settings, err := o.settings.Snapshot()
	if err != nil {
		// Degrade to the safest flow: no countdown grace, no challenge
		// escape hatch, straight to the decision prompt.
		o.logger.Warn("settings snapshot failed, using safe defaults", zap.Error(err))
		settings = domain.EnforcementSettings{}
	}
	o.cycleSettings = settings

	o.logger.Info("enforcement started",
		zap.String("package", ev.PackageID),
		zap.Int("countdown_seconds", settings.CountdownSeconds))

	if settings.CountdownSeconds > 0 {
		o.phase = domain.PhaseCountdown
		o.countdownTotal = settings.CountdownSeconds
		o.countdownRemaining = settings.CountdownSeconds
		o.renderCountdown(ctx)
		o.startTick(ctx)
	} else {
		o.enterDecision(ctx)
	}
}

// startTick launches the one-second countdown loop. Exactly one tick loop
// is live at a time: any prior loop is cancelled first, and a generation
// counter lets the handler discard stragglers from a cancelled loop.
func (o *Orchestrator) startTick(ctx context.Context) {
	o.cancelTick()
	o.tickGen++
	gen := o.tickGen

	tickCtx, cancel := context.WithCancel(ctx)
	o.tickCancel = cancel

	go func() {
		ticker := time.NewTicker(o.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-tickCtx.Done():
				return
			case <-ticker.C:
				select {
				case o.inbox <- tickMsg{gen: gen}:
				case <-tickCtx.Done():
					return
				}
			}
		}
	}()
}

func (o *Orchestrator) cancelTick() {
	if o.tickCancel != nil {
		o.tickCancel()
		o.tickCancel = nil
	}
}

func (o *Orchestrator) handleTick(ctx context.Context, gen uint64) {
	if gen != o.tickGen || o.phase != domain.PhaseCountdown {
		return // stale tick from a cancelled loop
	}
	o.countdownRemaining--
	if o.countdownRemaining <= 0 {
		o.cancelTick()
		o.enterDecision(ctx)
		return
	}
	o.renderCountdown(ctx)
}

func (o *Orchestrator) renderCountdown(ctx context.Context) {
	granted, prompted := o.gate.ShowCountdown(ctx,
		o.currentLabel(), o.current.PackageID,
		o.countdownRemaining, o.countdownTotal,
		o.permissionPromptShown)
	o.notePromptOutcome(granted, prompted)
}

// notePromptOutcome tracks the one-prompt-per-cycle flag: a present grant
// clears it, whether or not the render got through, re-arming the prompt
// for a later revocation within the same cycle.
func (o *Orchestrator) notePromptOutcome(granted, prompted bool) {
	if granted {
		o.permissionPromptShown = false
	} else if prompted {
		o.permissionPromptShown = true
	}
}

func (o *Orchestrator) enterDecision(ctx context.Context) {
	o.phase = domain.PhaseDecision
	o.countdownRemaining = 0
	granted, prompted := o.gate.ShowDecision(ctx,
		o.currentLabel(), o.current.PackageID,
		o.cycleSettings.ChallengeEnabled, "",
		o.permissionPromptShown)
	o.notePromptOutcome(granted, prompted)
}

// handleIntent applies one user decision. Intents that do not match the
// current package and phase are stale deliveries and ignored.
func (o *Orchestrator) handleIntent(ctx context.Context, intent Intent) {
	if o.current == nil || intent.PackageID != o.current.PackageID {
		o.logger.Debug("ignoring stale intent",
			zap.String("kind", string(intent.Kind)),
			zap.String("package", intent.PackageID))
		return
	}

	switch intent.Kind {
	case IntentExtend:
		if o.phase != domain.PhaseDecision || intent.Minutes < 1 {
			return
		}
		o.extend(ctx, intent.Minutes)

	case IntentClose:
		if o.phase != domain.PhaseDecision {
			return
		}
		o.closeAndResolve(ctx)

	case IntentChallengeOpen:
		if o.phase != domain.PhaseDecision {
			return
		}
		if !o.cycleSettings.ChallengeEnabled {
			// The challenge path is not offered; an attempt to take it
			// anyway falls back to the safe default for an expired session.
			o.closeAndResolve(ctx)
			return
		}
		o.openChallenge(ctx)

	case IntentChallengeSolved:
		if o.phase != domain.PhaseChallengeActive || o.challenge == nil {
			return
		}
		if intent.Answer != o.challenge.Answer {
			o.logger.Info("challenge answer wrong",
				zap.String("package", intent.PackageID))
			o.renderChallenge(ctx)
			return
		}
		// Success was reached only from an expiry, so it still means close.
		o.closeAndResolve(ctx)

	case IntentChallengeDismissed:
		if o.phase != domain.PhaseChallengeActive {
			return
		}
		// Abandoning the challenge for an expired session must not leave
		// the app open.
		o.closeAndResolve(ctx)
	}
}

// extend ends the current session and relaunches the app under a new one
// with the chosen duration.
func (o *Orchestrator) extend(ctx context.Context, minutes int) {
	pkg := o.current.PackageID
	if err := o.launcher.RequestRelaunch(ctx, pkg, minutes); err != nil {
		o.logger.Error("relaunch failed", zap.String("package", pkg), zap.Error(err))
		o.notifier.LaunchFailure(pkg, err)
	}
	// End the expired session record regardless; leaving it active would
	// re-enter enforcement in a loop.
	if err := o.store.EndSession(ctx, o.current.Session.ID); err != nil {
		o.logger.Error("failed to end session", zap.String("package", pkg), zap.Error(err))
	}
	o.logger.Info("session extended",
		zap.String("package", pkg),
		zap.Int("minutes", minutes))
	o.resolve(ctx)
}

// closeAndResolve is the shared terminal path for close, challenge success,
// challenge dismissal and the disabled-challenge fallback.
func (o *Orchestrator) closeAndResolve(ctx context.Context) {
	pkg := o.current.PackageID
	if err := o.launcher.RequestClose(ctx, pkg); err != nil {
		o.logger.Error("close failed", zap.String("package", pkg), zap.Error(err))
		o.notifier.LaunchFailure(pkg, err)
	}
	if err := o.store.EndSession(ctx, o.current.Session.ID); err != nil {
		o.logger.Error("failed to end session", zap.String("package", pkg), zap.Error(err))
	}
	o.logger.Info("session closed", zap.String("package", pkg))
	o.resolve(ctx)
}

func (o *Orchestrator) openChallenge(ctx context.Context) {
	o.phase = domain.PhaseChallengeActive
	challenge := GenerateChallenge(o.cycleSettings.ChallengeDifficulty)
	o.challenge = &challenge
	o.renderChallenge(ctx)
}

func (o *Orchestrator) renderChallenge(ctx context.Context) {
	granted, prompted := o.gate.ShowDecision(ctx,
		o.currentLabel(), o.current.PackageID,
		true, o.challenge.Question,
		o.permissionPromptShown)
	o.notePromptOutcome(granted, prompted)
}

// resolve finishes the current cycle: tick cancelled first (even on
// abnormal paths), overlay hidden, per-cycle state cleared, and the next
// queued expiry (if any) begins immediately.
func (o *Orchestrator) resolve(ctx context.Context) {
	o.cancelTick()
	o.gate.Hide(ctx)
	o.countdownRemaining = 0
	o.countdownTotal = 0
	o.permissionPromptShown = false
	o.challenge = nil
	o.current = nil
	o.phase = domain.PhaseIdle

	if len(o.queue) > 0 {
		next := o.queue[0]
		o.queue = o.queue[1:]
		o.begin(ctx, next)
	}
}

func (o *Orchestrator) currentLabel() string {
	if app := o.catalog.Lookup(o.current.PackageID); app != nil && app.Label != "" {
		return app.Label
	}
	return o.current.PackageID
}

func (o *Orchestrator) publishSnapshot() {
	snap := domain.EnforcementSnapshot{
		Phase:              o.phase,
		CountdownRemaining: o.countdownRemaining,
		CountdownTotal:     o.countdownTotal,
		QueueLength:        len(o.queue),
	}
	if o.current != nil {
		snap.PackageID = o.current.PackageID
		snap.AppLabel = o.currentLabel()
	}
	if o.challenge != nil {
		snap.ChallengeQuestion = o.challenge.Question
	}
	o.snapshot.Store(&snap)
}
