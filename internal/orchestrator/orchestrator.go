// Package orchestrator implements the Command Orchestrator: the
// per-command state machine that gates dispatch on entropy settlement,
// fans pre-checks out to READY Sentinels, tallies votes, and resolves
// hijack/retry/dispatch. All state transitions of a command happen on
// the one goroutine running Submit; Sentinel input arrives through
// OnVote/OnResume/OnAction and is folded in at defined points.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/starlight-protocol/starlight/internal/entropy"
	"github.com/starlight-protocol/starlight/internal/hubmetrics"
	"github.com/starlight-protocol/starlight/internal/registry"
	"github.com/starlight-protocol/starlight/internal/security"
	"github.com/starlight-protocol/starlight/internal/trace"
	"github.com/starlight-protocol/starlight/internal/wire"
)

// Config holds the hub.* / aura.* timing knobs.
type Config struct {
	SyncBudget       time.Duration
	MissionTimeout   time.Duration
	BucketSize       time.Duration
	PredictiveWait   time.Duration
	MaxVetoCount     int
	BaseSettlement   time.Duration
	LockTTL          time.Duration
	ScreenshotMaxAge time.Duration
}

// Outcome is a command's terminal result.
type Outcome struct {
	Success    bool
	ErrorKind  string
	Screenshot string
}

// Driver executes actions against the browser. The real implementation
// lives in the operator's driver process; this interface is the Hub's
// only view of it.
type Driver interface {
	Dispatch(ctx context.Context, kind string, action wire.ActionParams) (Outcome, error)
}

// Intent is one submitted command.
type Intent struct {
	Kind            string
	Action          wire.ActionParams
	TargetHint      string
	URL             string
	StabilityHintMs int64
	PageText        string
	Screenshot      string
	Viewport        *wire.Viewport
}

// VoteRecord is one entry in a command's vote ledger.
type VoteRecord struct {
	SentinelID   string
	Layer        string
	Verdict      string
	Confidence   float64
	RetryAfterMs int64
	Timestamp    time.Time
}

// Result is returned to the intent client.
type Result struct {
	CommandID int64
	Kind      string
	State     string
	Outcome   Outcome
	Ledger    []VoteRecord
	Retries   int
}

const (
	verdictClear  = "clear"
	verdictWait   = "wait"
	verdictHijack = "hijack"
)

// ErrStaleVote is returned by OnVote for votes arriving after the
// command slot's lock expired (sync budget plus lock TTL past the
// pre-check fan-out). Late hijacks inside the TTL are still honored;
// anything later is answered with a stale-intent protocol error.
var ErrStaleVote = errors.New("vote arrived after command slot lock expired")

// activeCommand is the mutable state of the one command currently in
// flight for this Orchestrator's mission.
type activeCommand struct {
	id int64

	votesMu  sync.Mutex
	votes    map[string]VoteRecord // sentinelID -> latest vote; later votes overwrite up to the decision point
	hijacked map[string]bool       // sentinelID -> already hijacked once (protocol error on second)

	preCheckAt time.Time // when the current pre-check was fanned out, for vote-latency metrics

	resumeCh chan resumeSignal
}

type resumeSignal struct {
	reCheck bool
}

func newActiveCommand(id int64) *activeCommand {
	return &activeCommand{
		id:       id,
		votes:    make(map[string]VoteRecord),
		hijacked: make(map[string]bool),
		// Allocated up front, buffered: a resume arriving on the read
		// loop before Submit's goroutine reaches runHijack is latched
		// here instead of being lost.
		resumeCh: make(chan resumeSignal, 1),
	}
}

// resetVotes clears the ledger for a fresh pre-check cycle and drains
// any resume signal left over from an earlier hijack of this command.
func (ac *activeCommand) resetVotes() {
	ac.votesMu.Lock()
	ac.votes = make(map[string]VoteRecord)
	ac.votesMu.Unlock()
	select {
	case <-ac.resumeCh:
	default:
	}
}

func (ac *activeCommand) snapshot() []VoteRecord {
	ac.votesMu.Lock()
	defer ac.votesMu.Unlock()
	out := make([]VoteRecord, 0, len(ac.votes))
	for _, v := range ac.votes {
		out = append(out, v)
	}
	return out
}

// Orchestrator owns one mission's command state machine. Submit calls
// serialize on mu, realizing the "at most one command active per
// mission" invariant directly: a blocked caller is QUEUED.
type Orchestrator struct {
	mu sync.Mutex

	reg     *registry.Registry
	monitor *entropy.Monitor
	rec     *trace.Recorder
	pii     *security.Guard
	driver  Driver
	cfg     Config
	log     zerolog.Logger
	metrics *hubmetrics.Metrics

	activeMu sync.Mutex
	active   *activeCommand
	cancel   context.CancelFunc
	aborted  bool

	nextID uint64
}

func New(reg *registry.Registry, monitor *entropy.Monitor, rec *trace.Recorder, pii *security.Guard, driver Driver, cfg Config, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		reg:     reg,
		monitor: monitor,
		rec:     rec,
		pii:     pii,
		driver:  driver,
		cfg:     cfg,
		log:     log.With().Str("subsystem", "orchestrator").Logger(),
	}
}

// WithMetrics attaches a Prometheus sink; nil disables metrics entirely
// (hubmetrics.Metrics methods are nil-receiver safe).
func (o *Orchestrator) WithMetrics(m *hubmetrics.Metrics) *Orchestrator {
	o.metrics = m
	return o
}

func (o *Orchestrator) setActive(ac *activeCommand) {
	o.activeMu.Lock()
	o.active = ac
	o.activeMu.Unlock()
}

func (o *Orchestrator) getActive() *activeCommand {
	o.activeMu.Lock()
	defer o.activeMu.Unlock()
	return o.active
}

// Submit runs intent through the full state machine and returns its
// terminal outcome. Safe to call concurrently; calls queue on mu.
func (o *Orchestrator) Submit(ctx context.Context, intent Intent) (*Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.nextID++
	cmdID := int64(o.nextID)

	deadline := time.Now().Add(o.cfg.MissionTimeout)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	o.activeMu.Lock()
	o.cancel = cancel
	o.aborted = false
	o.activeMu.Unlock()

	ac := newActiveCommand(cmdID)
	o.setActive(ac)
	defer func() {
		o.activeMu.Lock()
		o.active = nil
		o.cancel = nil
		o.activeMu.Unlock()
	}()

	o.rec.Emit("queued", cmdID, map[string]any{"kind": intent.Kind})

	retries := 0
	attempt := 1
	waitCount := 0
	submittedAt := time.Now()

	for {
		select {
		case <-ctx.Done():
			return o.ctxTerminal(cmdID, intent.Kind, ac, retries), ctx.Err()
		default:
		}

		// AWAITING_SETTLEMENT
		stable := o.awaitSettlement(ctx, intent.StabilityHintMs)
		if !stable {
			retries++
			o.rec.Emit("forced_retry_bucket", cmdID, map[string]any{"attempt": attempt})
		}

		// PRE_CHECK
		targets := o.reg.Ready()
		payload := o.buildPreCheck(cmdID, intent, targets, submittedAt)

		if o.pii != nil && payload.PageText != "" && o.pii.Scan(payload.PageText) {
			switch o.pii.Mode() {
			case security.ModeBlock:
				o.rec.Emit("pii_block", cmdID, map[string]any{"sample": o.pii.Redact(payload.PageText)})
				return &Result{
					CommandID: cmdID,
					Kind:      intent.Kind,
					State:     "FAILED",
					Outcome:   Outcome{Success: false, ErrorKind: "blocked"},
					Ledger:    ac.snapshot(),
					Retries:   retries,
				}, nil
			case security.ModeRedact:
				payload.PageText = o.pii.Redact(payload.PageText)
			default:
				o.rec.Emit("pii_alert", cmdID, map[string]any{"sample": o.pii.Redact(payload.PageText)})
			}
		}

		ac.resetVotes()
		ac.preCheckAt = time.Now()
		o.fanOutPreCheck(cmdID, payload, targets)
		o.rec.Emit("pre_check", cmdID, map[string]any{"targets": len(targets), "attempt": attempt})

		// VOTING
		o.collectVotes(ctx, ac, targets)
		verdict, winner, delay := o.decide(ac, targets)

		switch verdict {
		case verdictHijack:
			o.metrics.IncHijack()
			o.rec.Emit("hijack", cmdID, map[string]any{"layer": winner.Layer, "priority": winner.Priority})
			reCheck, err := o.runHijack(ctx, cmdID, ac, winner)
			if err != nil {
				return o.ctxTerminal(cmdID, intent.Kind, ac, retries), err
			}
			if reCheck {
				attempt++
				continue
			}
			// fall through to dispatch

		case verdictWait:
			waitCount++
			if waitCount >= o.cfg.MaxVetoCount {
				o.metrics.IncForceClear()
				o.rec.Emit("force_clear", cmdID, map[string]any{"waitCount": waitCount})
				break
			}
			o.rec.Emit("retry_backoff", cmdID, map[string]any{"delayMs": delay.Milliseconds()})
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return o.ctxTerminal(cmdID, intent.Kind, ac, retries), ctx.Err()
			}
			attempt++
			continue
		}

		// DISPATCHED
		o.rec.Emit("dispatched", cmdID, map[string]any{"kind": intent.Kind, "attempt": attempt})
		outcome, err := o.driver.Dispatch(ctx, intent.Kind, intent.Action)
		if err != nil {
			outcome = Outcome{Success: false, ErrorKind: "driver_crash"}
		}
		o.rec.Emit("complete", cmdID, outcome)
		o.broadcastComplete(cmdID, outcome, targets)

		state := "COMPLETE"
		outcomeLabel := "success"
		if !outcome.Success {
			state = "FAILED"
			outcomeLabel = outcome.ErrorKind
		}
		o.metrics.ObserveCommand(intent.Kind, outcomeLabel)
		return &Result{CommandID: cmdID, Kind: intent.Kind, State: state, Outcome: outcome, Ledger: ac.snapshot(), Retries: retries}, nil
	}
}

func (o *Orchestrator) timedOut(cmdID int64, kind string, ac *activeCommand, retries int) *Result {
	o.rec.Emit("timed_out", cmdID, nil)
	o.metrics.ObserveCommand(kind, "timeout")
	return &Result{
		CommandID: cmdID,
		Kind:      kind,
		State:     "TIMED_OUT",
		Outcome:   Outcome{Success: false, ErrorKind: "timeout"},
		Ledger:    ac.snapshot(),
		Retries:   retries,
	}
}

// ctxTerminal resolves a cancelled context into the right terminal
// result: an explicit Abort() call yields FAILED/"aborted", anything
// else yields TIMED_OUT/"timeout".
func (o *Orchestrator) ctxTerminal(cmdID int64, kind string, ac *activeCommand, retries int) *Result {
	o.activeMu.Lock()
	aborted := o.aborted
	o.activeMu.Unlock()
	if !aborted {
		return o.timedOut(cmdID, kind, ac, retries)
	}

	o.rec.Emit("aborted", cmdID, nil)
	o.metrics.ObserveCommand(kind, "aborted")
	return &Result{
		CommandID: cmdID,
		Kind:      kind,
		State:     "FAILED",
		Outcome:   Outcome{Success: false, ErrorKind: "aborted"},
		Ledger:    ac.snapshot(),
		Retries:   retries,
	}
}

// Abort cancels the command currently in flight, if any, failing it
// with kind "aborted". In-flight remediation drains best-effort:
// runHijack's resumeCh select also observes ctx.Done and returns
// immediately rather than waiting on the hijacking Sentinel.
func (o *Orchestrator) Abort() {
	o.activeMu.Lock()
	defer o.activeMu.Unlock()
	if o.cancel == nil {
		return
	}
	o.aborted = true
	o.cancel()
}

// awaitSettlement polls the entropy monitor every bucket-size until
// stable or the predictive-wait budget elapses.
func (o *Orchestrator) awaitSettlement(ctx context.Context, hintMs int64) bool {
	window := entropy.EffectiveWindow(hintMs, o.cfg.BaseSettlement)
	bucket := o.cfg.BucketSize
	if bucket <= 0 {
		bucket = 100 * time.Millisecond
	}
	deadline := time.Now().Add(o.cfg.PredictiveWait)

	ticker := time.NewTicker(bucket)
	defer ticker.Stop()

	if d := o.monitor.Evaluate(window); d.Stable {
		return true
	}
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if d := o.monitor.Evaluate(window); d.Stable {
				return true
			}
			if time.Now().After(deadline) {
				return false
			}
		}
	}
}

// buildPreCheck composes the pre-check payload, attaching
// screenshot/page-text/viewport only if some READY Sentinel declared a
// capability that needs it. A screenshot captured at submission goes
// stale across retries; past ScreenshotMaxAge it is left out rather
// than letting a vision Sentinel vote on an outdated frame.
func (o *Orchestrator) buildPreCheck(cmdID int64, intent Intent, targets []*registry.Sentinel, submittedAt time.Time) wire.PreCheckParams {
	needsVision, needsA11y := false, false
	for _, s := range targets {
		if s.HasCapability("vision") {
			needsVision = true
		}
		if s.HasCapability("accessibility") {
			needsA11y = true
		}
	}

	p := wire.PreCheckParams{
		Command: wire.CommandDescriptor{
			ID:     cmdID,
			Kind:   intent.Kind,
			Params: intent.Action,
			Target: intent.TargetHint,
		},
		URL:             intent.URL,
		StabilityHintMs: intent.StabilityHintMs,
	}
	if needsVision {
		p.Viewport = intent.Viewport
		p.Screenshot = intent.Screenshot
		p.PageText = intent.PageText
		if o.cfg.ScreenshotMaxAge > 0 && time.Since(submittedAt) > o.cfg.ScreenshotMaxAge {
			p.Screenshot = ""
		}
	}
	// a11y_snapshot is sourced from the browser driver out-of-band and
	// attached by the caller when needsA11y; nothing further to do here.
	_ = needsA11y
	return p
}

func (o *Orchestrator) fanOutPreCheck(cmdID int64, payload wire.PreCheckParams, targets []*registry.Sentinel) {
	frame, err := wire.NewNotification(wire.MethodPreCheck, payload)
	if err != nil {
		o.log.Error().Err(err).Int64("cmd", cmdID).Msg("failed to build pre_check frame")
		return
	}
	for _, s := range targets {
		if err := s.Send(frame); err != nil {
			o.log.Warn().Str("layer", s.Layer).Err(err).Msg("pre_check send failed, marking degraded")
			s.MarkDegraded()
		}
	}
}

// collectVotes waits until every target has voted or the sync budget
// elapses, whichever comes first.
func (o *Orchestrator) collectVotes(ctx context.Context, ac *activeCommand, targets []*registry.Sentinel) {
	deadline := time.NewTimer(o.cfg.SyncBudget)
	defer deadline.Stop()

	poll := time.NewTicker(10 * time.Millisecond)
	defer poll.Stop()

	for {
		if o.allVoted(ac, targets) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-poll.C:
		}
	}
}

// allVoted ignores Sentinels that dropped out of READY since fan-out:
// a crashed or degraded voter must not hold the command for the whole
// sync budget.
func (o *Orchestrator) allVoted(ac *activeCommand, targets []*registry.Sentinel) bool {
	ac.votesMu.Lock()
	defer ac.votesMu.Unlock()
	for _, s := range targets {
		if s.State() != registry.Ready {
			continue
		}
		if _, ok := ac.votes[s.AssignedID]; !ok {
			return false
		}
	}
	return true
}

// decide resolves the collected votes: any hijack wins (highest
// priority first), else any wait backs the command off, else dispatch.
// Non-voters are treated as implicit clear; votes from Sentinels that
// left READY since fan-out are discarded.
func (o *Orchestrator) decide(ac *activeCommand, targets []*registry.Sentinel) (string, *registry.Sentinel, time.Duration) {
	ac.votesMu.Lock()
	votes := make(map[string]VoteRecord, len(ac.votes))
	for k, v := range ac.votes {
		votes[k] = v
	}
	ac.votesMu.Unlock()

	var hijacker *registry.Sentinel
	var maxDelay time.Duration
	anyWait := false

	// targets is priority-asc, arrival-asc ordered (registry.Ready()),
	// lower priority number outranks; the first hijack vote encountered
	// in that order is the highest-priority / earliest-arrival winner.
	for _, s := range targets {
		if s.State() != registry.Ready {
			continue
		}
		v, ok := votes[s.AssignedID]
		if !ok {
			continue // implicit clear
		}
		switch v.Verdict {
		case verdictHijack:
			if hijacker == nil {
				hijacker = s
			}
		case verdictWait:
			anyWait = true
			delay := time.Duration(v.RetryAfterMs) * time.Millisecond
			if delay > maxDelay {
				maxDelay = delay
			}
		}
	}

	if hijacker != nil {
		return verdictHijack, hijacker, 0
	}
	if anyWait {
		if maxDelay <= 0 {
			maxDelay = o.cfg.SyncBudget
		}
		return verdictWait, nil, maxDelay
	}
	return verdictClear, nil, 0
}

// runHijack blocks until the hijacking Sentinel sends resume; forwarded
// actions are handled by OnAction concurrently with this wait. The
// resume channel is buffered and lives for the whole command, so a
// Sentinel that resumes before this goroutine gets here is not lost.
func (o *Orchestrator) runHijack(ctx context.Context, cmdID int64, ac *activeCommand, winner *registry.Sentinel) (bool, error) {
	select {
	case sig := <-ac.resumeCh:
		return sig.reCheck, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (o *Orchestrator) broadcastComplete(cmdID int64, outcome Outcome, targets []*registry.Sentinel) {
	frame, err := wire.NewNotification(wire.MethodCommandComplete, wire.CommandCompleteParams{
		CommandID:  cmdID,
		Success:    outcome.Success,
		ErrorKind:  outcome.ErrorKind,
		Screenshot: outcome.Screenshot,
	})
	if err != nil {
		return
	}
	for _, s := range targets {
		_ = s.Send(frame)
	}
}

// OnVote records a clear/wait/hijack vote from a Sentinel for the
// command currently in flight, if any. A second hijack vote from the
// same Sentinel is a protocol error; only the first is honored. Votes
// landing after the slot lock (sync budget + lock TTL past fan-out)
// are rejected with ErrStaleVote.
func (o *Orchestrator) OnVote(s *registry.Sentinel, verdict string, confidence float64, retryAfterMs int64) error {
	ac := o.getActive()
	if ac == nil {
		return nil
	}

	ac.votesMu.Lock()
	defer ac.votesMu.Unlock()

	if !ac.preCheckAt.IsZero() && time.Since(ac.preCheckAt) > o.cfg.SyncBudget+o.cfg.LockTTL {
		return fmt.Errorf("%s vote from %s on command %d: %w", verdict, s.Layer, ac.id, ErrStaleVote)
	}

	if verdict == verdictHijack {
		if ac.hijacked[s.AssignedID] {
			return fmt.Errorf("sentinel %s already hijacked command %d", s.AssignedID, ac.id)
		}
		ac.hijacked[s.AssignedID] = true
	}

	now := time.Now()
	ac.votes[s.AssignedID] = VoteRecord{
		SentinelID:   s.AssignedID,
		Layer:        s.Layer,
		Verdict:      verdict,
		Confidence:   confidence,
		RetryAfterMs: retryAfterMs,
		Timestamp:    now,
	}
	o.rec.Emit("vote", ac.id, map[string]any{
		"layer":      s.Layer,
		"verdict":    verdict,
		"confidence": confidence,
	})
	if !ac.preCheckAt.IsZero() {
		o.metrics.ObserveVote(verdict, now.Sub(ac.preCheckAt))
	}
	return nil
}

// OnResume ends the active hijack. The send is non-blocking into a
// buffered channel: a resume arriving before runHijack starts waiting
// is latched for it, and duplicates beyond the first are dropped.
func (o *Orchestrator) OnResume(reCheck bool) {
	ac := o.getActive()
	if ac == nil {
		return
	}
	select {
	case ac.resumeCh <- resumeSignal{reCheck: reCheck}:
	default:
	}
}

// OnAction forwards a hijacking Sentinel's action to the browser driver
// synchronously and returns the outcome to echo back as a
// starlight.command_complete side message.
func (o *Orchestrator) OnAction(ctx context.Context, action wire.ActionParams) Outcome {
	ac := o.getActive()
	cmdID := int64(0)
	if ac != nil {
		cmdID = ac.id
	}
	outcome, err := o.driver.Dispatch(ctx, action.Action, action)
	if err != nil {
		outcome = Outcome{Success: false, ErrorKind: "driver_crash"}
	}
	o.rec.Emit("hijack_action", cmdID, map[string]any{"action": action.Action, "success": outcome.Success})
	return outcome
}
