// Package engine wires the pipeline together: ingestion limiting,
// envelope validation, classification, ledger application, lifecycle
// transitions, and fact publication. Operations on different
// identities run in parallel; operations on the same identity are
// serialized through one worker so mutate, threshold-check, and
// transition stay linearizable.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samsara-labs/samsara/core/pkg/bus"
	"github.com/samsara-labs/samsara/core/pkg/classifier"
	"github.com/samsara-labs/samsara/core/pkg/event"
	"github.com/samsara-labs/samsara/core/pkg/evidence"
	"github.com/samsara-labs/samsara/core/pkg/feedback"
	"github.com/samsara-labs/samsara/core/pkg/ledger"
	"github.com/samsara-labs/samsara/core/pkg/lifecycle"
	"github.com/samsara-labs/samsara/core/pkg/oracle"
	"github.com/samsara-labs/samsara/core/pkg/store"
	"github.com/samsara-labs/samsara/core/pkg/token"
)

// ErrShuttingDown rejects submissions after Close.
var ErrShuttingDown = errors.New("engine: shutting down")

// Config tunes the pipeline.
type Config struct {
	// ClassifyTimeout bounds one classification call; on expiry the
	// event commits with a zero-delta fallback. Default 200ms.
	ClassifyTimeout time.Duration
	// QueueSize bounds each per-identity queue. Default 256.
	QueueSize int
	// IdleWorkerTTL retires a per-identity worker after this long
	// without work; a later event recreates it. Default 1m.
	IdleWorkerTTL time.Duration
}

func (c *Config) defaults() {
	if c.ClassifyTimeout <= 0 {
		c.ClassifyTimeout = 200 * time.Millisecond
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.IdleWorkerTTL <= 0 {
		c.IdleWorkerTTL = time.Minute
	}
}

// Result is what a fully-processed event yields.
type Result struct {
	Event          *event.KarmicEvent         `json:"event"`
	Snapshot       *ledger.Snapshot           `json:"snapshot"`
	Classification *classifier.Classification `json:"classification,omitempty"`
	// Warning is set when a fallback classification was applied.
	Warning *ClassificationFallbackWarning `json:"warning,omitempty"`
	// Stats is set for stats_request events instead of Snapshot mutation.
	Stats *Stats `json:"stats,omitempty"`
}

// Stats is the read-only answer to a stats_request.
type Stats struct {
	Snapshot    *ledger.Snapshot          `json:"snapshot"`
	Signal      *feedback.Signal          `json:"signal,omitempty"`
	Transitions []store.TransitionRecord  `json:"transitions,omitempty"`
	Debts       []store.DebtEntry         `json:"debts,omitempty"`
	Prediction  *oracle.Recommendation    `json:"prediction,omitempty"`
}

// Engine is the event-driven core.
type Engine struct {
	cfg        Config
	classifier *classifier.Classifier
	ledger     *ledger.TokenLedger
	feedback   *feedback.Engine
	bus        *bus.Bus
	limiter    Limiter
	oracle     oracle.ScoringOracle
	evidence   evidence.Store
	log        *slog.Logger

	mu      sync.RWMutex
	workers map[string]*worker
	closed  bool
	wg      sync.WaitGroup
}

// Option configures optional collaborators.
type Option func(*Engine)

// WithLimiter enables per-source ingestion limiting.
func WithLimiter(l Limiter) Option { return func(e *Engine) { e.limiter = l } }

// WithOracle attaches trajectory prediction to stats answers.
func WithOracle(o oracle.ScoringOracle) Option { return func(e *Engine) { e.oracle = o } }

// WithFeedback attaches the normalization engine to stats answers.
func WithFeedback(f *feedback.Engine) Option { return func(e *Engine) { e.feedback = f } }

// WithEvidence verifies atonement evidence references against the
// store before the event commits.
func WithEvidence(st evidence.Store) Option { return func(e *Engine) { e.evidence = st } }

func New(cfg Config, cl *classifier.Classifier, led *ledger.TokenLedger, b *bus.Bus, log *slog.Logger, opts ...Option) *Engine {
	cfg.defaults()
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		cfg:        cfg,
		classifier: cl,
		ledger:     led,
		bus:        b,
		log:        log,
		workers:    make(map[string]*worker),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type task struct {
	ev   *event.KarmicEvent
	done chan taskResult
}

type taskResult struct {
	result *Result
	err    error
}

type worker struct {
	tasks chan task
}

// Submit validates the inbound envelope and runs the event through the
// pipeline. Once an event is queued it is guaranteed to apply or fail
// explicitly; cancelling the caller's context abandons the wait, not
// the work.
func (e *Engine) Submit(ctx context.Context, in event.Inbound) (*Result, error) {
	if e.limiter != nil {
		allowed, err := e.limiter.Allow(ctx, in.Source, 1)
		if err != nil {
			return nil, &DependencyError{Err: err}
		}
		if !allowed {
			return nil, &RateLimitedError{Source: in.Source}
		}
	}

	ev, err := event.FromInbound(in, time.Now().UTC())
	if err != nil {
		return nil, &ValidationError{Err: err}
	}

	// stats_request never mutates; serve it directly, possibly stale.
	if ev.Type == event.TypeStatsRequest {
		return e.statsResult(ctx, ev)
	}

	t := task{ev: ev, done: make(chan taskResult, 1)}
	if err := e.enqueue(ev.IdentityID, t); err != nil {
		return nil, err
	}

	select {
	case res := <-t.done:
		return res.result, res.err
	case <-ctx.Done():
		// The queued event still applies; the caller just stopped waiting.
		return nil, ctx.Err()
	}
}

// enqueue hands the task to the identity's worker. The send happens
// while the lock is held so Close cannot close the queue between the
// shutdown check and the send.
func (e *Engine) enqueue(identityID string, t task) error {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return ErrShuttingDown
	}
	if w, ok := e.workers[identityID]; ok {
		w.tasks <- t
		e.mu.RUnlock()
		return nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrShuttingDown
	}
	w, ok := e.workers[identityID]
	if !ok {
		w = &worker{tasks: make(chan task, e.cfg.QueueSize)}
		e.workers[identityID] = w
		e.wg.Add(1)
		go e.runWorker(identityID, w)
	}
	w.tasks <- t
	e.mu.Unlock()
	return nil
}

func (e *Engine) runWorker(identityID string, w *worker) {
	defer e.wg.Done()
	idle := time.NewTimer(e.cfg.IdleWorkerTTL)
	defer idle.Stop()
	for {
		select {
		case t, ok := <-w.tasks:
			if !ok {
				return
			}
			res, err := e.process(context.Background(), t.ev)
			t.done <- taskResult{result: res, err: err}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(e.cfg.IdleWorkerTTL)
		case <-idle.C:
			if e.retireWorker(identityID, w) {
				return
			}
			idle.Reset(e.cfg.IdleWorkerTTL)
		}
	}
}

// retireWorker removes an idle worker so a long-lived node does not
// keep one goroutine per identity ever seen. A later event for the
// identity simply creates a fresh worker.
func (e *Engine) retireWorker(identityID string, w *worker) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	// During shutdown the queue is drained via Close instead.
	if e.closed || len(w.tasks) > 0 {
		return false
	}
	delete(e.workers, identityID)
	return true
}

// Close drains the per-identity queues and stops the workers. Queued
// events finish applying; new submissions fail with ErrShuttingDown.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for _, w := range e.workers {
		close(w.tasks)
	}
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *Engine) process(ctx context.Context, ev *event.KarmicEvent) (*Result, error) {
	switch ev.Type {
	case event.TypeLifeEvent, event.TypeAtonement, event.TypeAppeal:
		return e.processMutation(ctx, ev)
	case event.TypeDeathEvent:
		return e.processRebirth(ctx, ev)
	default:
		return nil, &ValidationError{Err: &event.UnsupportedEventTypeError{Type: string(ev.Type)}}
	}
}

// checkEvidence rejects atonement events whose evidence_ref names a
// blob the store does not hold. Without a configured store the
// reference passes through unverified.
func (e *Engine) checkEvidence(ctx context.Context, ev *event.KarmicEvent) error {
	if e.evidence == nil {
		return nil
	}
	p, ok := ev.Payload.(event.AtonementPayload)
	if !ok || p.EvidenceRef == "" {
		return nil
	}
	found, err := e.evidence.Exists(ctx, p.EvidenceRef)
	if err != nil {
		return &ValidationError{Err: err}
	}
	if !found {
		return &ValidationError{Err: fmt.Errorf("evidence %s not found in store", p.EvidenceRef)}
	}
	return nil
}

func (e *Engine) processMutation(ctx context.Context, ev *event.KarmicEvent) (*Result, error) {
	if err := e.checkEvidence(ctx, ev); err != nil {
		return nil, err
	}
	cls, warning, err := e.classify(ctx, ev)
	if err != nil {
		return nil, err
	}
	ev.Classification = cls.Map()
	ev.AppliedDeltas = cls.Deltas

	snap, err := e.ledger.Apply(ctx, ev, cls.Deltas)
	if err != nil {
		return nil, mapLedgerError(ev.IdentityID, err)
	}

	if warning != nil {
		e.log.WarnContext(ctx, "classification fallback applied",
			"event_id", ev.EventID, "reason", warning.Reason)
	}

	e.publishMutation(ev, snap)
	return &Result{Event: ev, Snapshot: snap, Classification: cls, Warning: warning}, nil
}

// classify runs the classifier under the configured timeout. Timeouts
// and internal failures degrade to a zero-delta classification; only a
// genuinely unclassifiable event is a validation failure.
func (e *Engine) classify(ctx context.Context, ev *event.KarmicEvent) (*classifier.Classification, *ClassificationFallbackWarning, error) {
	type outcome struct {
		cls *classifier.Classification
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		cls, err := e.classifier.Classify(ev)
		ch <- outcome{cls: cls, err: err}
	}()

	timer := time.NewTimer(e.cfg.ClassifyTimeout)
	defer timer.Stop()

	select {
	case out := <-ch:
		if out.err != nil {
			var unclassified *classifier.UnclassifiedActionError
			if errors.As(out.err, &unclassified) {
				return nil, nil, &ValidationError{Err: out.err}
			}
			warning := &ClassificationFallbackWarning{EventID: ev.EventID, Reason: out.err.Error()}
			return classifier.ZeroClassification("classification_error"), warning, nil
		}
		return out.cls, nil, nil
	case <-timer.C:
		warning := &ClassificationFallbackWarning{
			EventID: ev.EventID,
			Reason:  fmt.Sprintf("classification exceeded %s", e.cfg.ClassifyTimeout),
		}
		return classifier.ZeroClassification("classification_timeout"), warning, nil
	}
}

func (e *Engine) processRebirth(ctx context.Context, ev *event.KarmicEvent) (*Result, error) {
	snap, err := e.ledger.Rebirth(ctx, ev)
	if err != nil {
		return nil, mapLedgerError(ev.IdentityID, err)
	}

	if snap.Reborn && !snap.Replayed {
		e.bus.Publish(bus.Fact{
			Kind:       bus.RebirthProcessed,
			IdentityID: ev.IdentityID,
			Generation: snap.Generation,
			Timestamp:  time.Now().UTC(),
			Payload: map[string]interface{}{
				"new_identity_id":    snap.IdentityID,
				"inherited_sanchita": snap.Balances.Get(token.SanchitaKarma).String(),
			},
		})
	}
	return &Result{Event: ev, Snapshot: snap}, nil
}

func (e *Engine) publishMutation(ev *event.KarmicEvent, snap *ledger.Snapshot) {
	if snap.Replayed {
		return
	}
	now := time.Now().UTC()
	e.bus.Publish(bus.Fact{
		Kind:       bus.LedgerMutated,
		IdentityID: snap.IdentityID,
		Generation: snap.Generation,
		Seq:        snap.Seq,
		Timestamp:  now,
		Payload: map[string]interface{}{
			"event_id":   ev.EventID,
			"event_type": string(ev.Type),
		},
	})
	if snap.Died {
		e.bus.Publish(bus.Fact{
			Kind:       bus.DeathProcessed,
			IdentityID: snap.IdentityID,
			Generation: snap.Generation,
			Seq:        snap.Seq,
			Timestamp:  now,
			Payload: map[string]interface{}{
				"trigger":            ev.EventID,
				"inherited_sanchita": snap.Transition.InheritedSanchita.String(),
			},
		})
	}
}

func (e *Engine) statsResult(ctx context.Context, ev *event.KarmicEvent) (*Result, error) {
	stats, err := e.GetStats(ctx, ev.IdentityID)
	if err != nil {
		return nil, err
	}
	return &Result{Event: ev, Stats: stats, Snapshot: stats.Snapshot}, nil
}

// GetLedger returns a read-only snapshot of an identity.
func (e *Engine) GetLedger(ctx context.Context, identityID string) (*ledger.Snapshot, error) {
	snap, err := e.ledger.Snapshot(ctx, identityID)
	if err != nil {
		return nil, mapLedgerError(identityID, err)
	}
	return snap, nil
}

// GetHistory returns the identity's committed events, newest first.
func (e *Engine) GetHistory(ctx context.Context, identityID string, limit int) ([]store.EventRecord, error) {
	return e.ledger.History(ctx, identityID, limit)
}

// GetFeedbackSignal computes the normalized score for an identity.
func (e *Engine) GetFeedbackSignal(ctx context.Context, identityID string) (*feedback.Signal, error) {
	if e.feedback == nil {
		return nil, &DependencyError{Err: errors.New("feedback engine not configured")}
	}
	sig, err := e.feedback.ComputeSignal(ctx, identityID)
	if err != nil {
		return nil, mapLedgerError(identityID, err)
	}
	return sig, nil
}

// GetStats assembles the read-only stats answer: snapshot, signal,
// transitions, open debts, and an optional prediction.
func (e *Engine) GetStats(ctx context.Context, identityID string) (*Stats, error) {
	snap, err := e.GetLedger(ctx, identityID)
	if err != nil {
		return nil, err
	}
	stats := &Stats{Snapshot: snap}

	if e.feedback != nil {
		if sig, err := e.feedback.ComputeSignal(ctx, identityID); err == nil {
			stats.Signal = sig
		}
	}
	if trs, err := e.ledger.Transitions(ctx, identityID); err == nil {
		stats.Transitions = trs
	}
	if debts, err := e.ledger.Debts(ctx, identityID); err == nil {
		stats.Debts = debts
	}
	if e.oracle != nil {
		if pred, err := e.oracle.Predict(ctx, identityID); err == nil {
			stats.Prediction = pred
		}
	}
	return stats, nil
}

// mapLedgerError translates storage and lifecycle errors into the
// caller-facing taxonomy.
func mapLedgerError(identityID string, err error) error {
	var deceased *ledger.IdentityDeceasedError
	var notDeceased *lifecycle.NotDeceasedError
	var alreadyReborn *lifecycle.AlreadyRebornError
	switch {
	case errors.As(err, &deceased), errors.As(err, &notDeceased), errors.As(err, &alreadyReborn):
		return &StateConflictError{IdentityID: identityID, Err: err}
	case errors.Is(err, token.ErrUnknownToken):
		return &ValidationError{Err: err}
	case errors.Is(err, store.ErrNotFound):
		return err
	case err != nil:
		return &DependencyError{Err: err}
	}
	return nil
}
