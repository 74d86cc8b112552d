// Package gap resolves holes in conversation history by fetching missing
// ranges from the remote side and reconciling them into local storage.
package gap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/adamavenir/histkeep/internal/holes"
	"github.com/adamavenir/histkeep/internal/logging"
	"github.com/adamavenir/histkeep/internal/types"
)

const component = "histkeep.gap"

var errFetchTimeout = errors.New("range fetch timed out")

type conversation struct {
	mu     sync.Mutex
	status Status
	ticket *Ticket
	cancel context.CancelFunc
}

type request struct {
	ctx    context.Context
	scope  int64
	near   types.MessageIndex
	conv   *conversation
	ticket *Ticket
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithTracer overrides the tracer used for fetch spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Resolver) {
		r.tracer = tracer
	}
}

// WithSleep replaces the backoff wait. fn must return ctx.Err() when ctx
// ends first.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Resolver) {
		r.sleep = fn
	}
}

// WithObserver registers fn to receive every status change. fn runs on the
// resolver's goroutines and must not block.
func WithObserver(fn func(Status)) Option {
	return func(r *Resolver) {
		r.observe = fn
	}
}

// Resolver drives hole resolution for many conversations. At most one
// resolution per conversation is queued or in flight; conversations are
// resolved in parallel, started in request arrival order.
type Resolver struct {
	cfg       Config
	transport Transport
	store     Persister
	arena     *holes.Arena
	convs     *xsync.MapOf[int64, *conversation]
	tracer    trace.Tracer
	sleep     func(ctx context.Context, d time.Duration) error
	observe   func(Status)

	queueMu sync.Mutex
	queue   []request
	closed  bool
	wake    chan struct{}
	slots   chan struct{}

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
}

// New starts a resolver. store may be nil for a purely in-memory index.
func New(transport Transport, store Persister, cfg Config, opts ...Option) *Resolver {
	cfg = cfg.withDefaults()
	ctx, stop := context.WithCancel(context.Background())
	r := &Resolver{
		cfg:       cfg,
		transport: transport,
		store:     store,
		convs:     xsync.NewMapOf[int64, *conversation](),
		tracer:    otel.Tracer("github.com/adamavenir/histkeep/internal/gap"),
		sleep:     sleepContext,
		wake:      make(chan struct{}, 1),
		ctx:       ctx,
		stop:      stop,
	}
	for _, opt := range opts {
		opt(r)
	}
	if cfg.MaxConcurrent > 0 {
		r.slots = make(chan struct{}, cfg.MaxConcurrent)
	}
	r.arena = holes.NewArena(r.loadHoles)

	r.wg.Add(1)
	go r.dispatch()
	return r
}

func (r *Resolver) loadHoles(scopeID int64) (*holes.Set, error) {
	if r.store == nil {
		return holes.NewSet(scopeID), nil
	}
	stored, err := r.store.LoadHoles(r.ctx, scopeID)
	if err != nil {
		return nil, fmt.Errorf("load holes for scope %d: %w", scopeID, err)
	}
	return holes.NewSet(scopeID, stored...), nil
}

func (r *Resolver) conversation(scopeID int64) *conversation {
	conv, _ := r.convs.LoadOrCompute(scopeID, func() *conversation {
		return &conversation{status: Status{ScopeID: scopeID, StateName: StateIdle.String()}}
	})
	return conv
}

// RequestResolution asks for the hole nearest to near to be resolved. If a
// resolution of the conversation is already queued or running, the request
// joins it and the same ticket is returned.
func (r *Resolver) RequestResolution(scopeID int64, near types.MessageIndex) *Ticket {
	conv := r.conversation(scopeID)

	conv.mu.Lock()
	if conv.ticket != nil {
		ticket := conv.ticket
		conv.mu.Unlock()
		return ticket
	}
	ticket := newTicket()
	ctx, cancel := context.WithCancel(r.ctx)
	conv.ticket = ticket
	conv.cancel = cancel
	conv.mu.Unlock()

	req := request{ctx: ctx, scope: scopeID, near: near, conv: conv, ticket: ticket}
	if !r.enqueue(req) {
		r.finish(req, Outcome{ScopeID: scopeID, Kind: OutcomeCancelled, Err: context.Canceled})
	}
	return ticket
}

func (r *Resolver) enqueue(req request) bool {
	r.queueMu.Lock()
	if r.closed {
		r.queueMu.Unlock()
		return false
	}
	r.queue = append(r.queue, req)
	r.queueMu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	return true
}

func (r *Resolver) next() (request, bool) {
	for {
		r.queueMu.Lock()
		if len(r.queue) > 0 {
			req := r.queue[0]
			r.queue[0] = request{}
			r.queue = r.queue[1:]
			r.queueMu.Unlock()
			return req, true
		}
		r.queueMu.Unlock()

		select {
		case <-r.wake:
		case <-r.ctx.Done():
			return request{}, false
		}
	}
}

func (r *Resolver) dispatch() {
	defer r.wg.Done()
	for {
		req, ok := r.next()
		if !ok {
			return
		}
		if r.slots != nil {
			select {
			case r.slots <- struct{}{}:
			case <-r.ctx.Done():
				r.finish(req, Outcome{ScopeID: req.scope, Kind: OutcomeCancelled, Err: r.ctx.Err()})
				return
			}
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if r.slots != nil {
				defer func() { <-r.slots }()
			}
			r.resolve(req)
		}()
	}
}

func (r *Resolver) resolve(req request) {
	ctx := logging.WithLogFields(req.ctx, logging.LogFields{
		ScopeID:   logging.Ptr(req.scope),
		Component: component,
	})
	if err := ctx.Err(); err != nil {
		r.finish(req, Outcome{ScopeID: req.scope, Kind: OutcomeCancelled, Err: err})
		return
	}

	guarded, err := r.current(req.scope)
	if err != nil {
		r.degrade(ctx, req, holes.Hole{}, 0, err)
		return
	}

	var hole holes.Hole
	var found bool
	guarded.View(func(set *holes.Set) {
		hole, found = set.NearestHole(req.near, holes.Around)
	})
	if !found {
		slog.DebugContext(ctx, "no hole to resolve", "near", req.near.String())
		r.finish(req, Outcome{ScopeID: req.scope, Kind: OutcomeNoHole})
		return
	}

	if r.setStatus(req.conv, StateResolving, hole, 0) {
		r.clearDegraded(ctx, req.scope)
	}
	ResolutionsInFlight.Inc()
	defer ResolutionsInFlight.Dec()

	slog.InfoContext(ctx, "resolving hole", "hole", hole.String(), "edge", hole.Edge().String())

	for attempt := 1; ; attempt++ {
		result, err := r.fetchOnce(ctx, req.scope, hole, attempt)
		if err == nil {
			r.applyResult(ctx, req, guarded, hole, result, attempt)
			return
		}
		if ctx.Err() != nil {
			slog.InfoContext(ctx, "resolution cancelled", "hole", hole.String())
			r.finish(req, Outcome{ScopeID: req.scope, Kind: OutcomeCancelled, Hole: hole, Attempts: attempt, Err: ctx.Err()})
			return
		}

		switch types.KindOf(err) {
		case types.KindPermanentGap:
			slog.InfoContext(ctx, "server reports no such range; closing hole", "hole", hole.String())
			r.applyResult(ctx, req, guarded, hole, RangeResult{Actual: hole}, attempt)
			return
		case types.KindTransientNetwork:
			if attempt >= r.cfg.MaxAttempts {
				r.degrade(ctx, req, hole, attempt, err)
				return
			}
			delay := r.cfg.backoffDelay(attempt)
			slog.WarnContext(ctx, "range fetch failed; backing off",
				"hole", hole.String(), "attempt", attempt, "delay", delay, "error", err)
			r.setStatus(req.conv, StateBackoff, hole, attempt)
			if err := r.sleep(ctx, delay); err != nil {
				r.finish(req, Outcome{ScopeID: req.scope, Kind: OutcomeCancelled, Hole: hole, Attempts: attempt, Err: err})
				return
			}
			r.setStatus(req.conv, StateResolving, hole, attempt)
		default:
			r.degrade(ctx, req, hole, attempt, err)
			return
		}
	}
}

type fetchReply struct {
	result RangeResult
	err    error
}

// fetchOnce performs one bounded range fetch. A transport that ignores its
// context is abandoned when the attempt times out.
func (r *Resolver) fetchOnce(ctx context.Context, scopeID int64, hole holes.Hole, attempt int) (RangeResult, error) {
	ctx, span := r.tracer.Start(ctx, "gap.fetch_range", trace.WithAttributes(
		attribute.Int64("scope_id", scopeID),
		attribute.Int("attempt", attempt),
		attribute.String("hole", hole.String()),
	))
	defer span.End()

	attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()

	started := time.Now()
	replies := make(chan fetchReply, 1)
	go func() {
		result, err := r.transport.FetchRange(attemptCtx, scopeID, hole.Low, hole.High, r.cfg.PageLimit)
		replies <- fetchReply{result: result, err: err}
	}()

	var reply fetchReply
	select {
	case reply = <-replies:
	case <-attemptCtx.Done():
		reply.err = attemptCtx.Err()
	}
	FetchDuration.Observe(time.Since(started).Seconds())

	err := reply.err
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		err = types.NewFetchError(types.KindTransientNetwork, "fetch_range", errFetchTimeout)
	}
	if err != nil {
		FetchAttempts.WithLabelValues(types.KindOf(err).String()).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return RangeResult{}, err
	}
	FetchAttempts.WithLabelValues("ok").Inc()
	span.SetAttributes(
		attribute.Int("messages", len(reply.result.Messages)),
		attribute.String("actual", reply.result.Actual.String()),
	)
	return reply.result, nil
}

func (r *Resolver) applyResult(ctx context.Context, req request, guarded *holes.Guarded, hole holes.Hole, result RangeResult, attempt int) {
	filled, stored, err := r.reconcile(ctx, guarded, req.scope, hole, result)
	if err != nil {
		if ctx.Err() != nil {
			r.finish(req, Outcome{ScopeID: req.scope, Kind: OutcomeCancelled, Hole: hole, Attempts: attempt, Err: ctx.Err()})
			return
		}
		r.degrade(ctx, req, hole, attempt, err)
		return
	}
	slog.InfoContext(ctx, "hole resolved",
		"hole", hole.String(), "filled", filled.String(), "messages", stored, "attempts", attempt)
	r.finish(req, Outcome{
		ScopeID:  req.scope,
		Kind:     OutcomeResolved,
		Hole:     hole,
		Filled:   filled,
		Messages: stored,
		Attempts: attempt,
	})
}

// reconcile applies a fetched range as a unit. With a store the fill runs on
// the stored holes in the same transaction as the messages, so holes other
// processes recorded meanwhile survive, and the written set then replaces
// the cached one. Without a store the fill runs on a copy of the cached set.
func (r *Resolver) reconcile(ctx context.Context, guarded *holes.Guarded, scopeID int64, requested holes.Hole, result RangeResult) (holes.Hole, int, error) {
	var filled holes.Hole
	hasRange := false
	if !result.Actual.Empty() {
		clamped, ok := result.Actual.Intersect(requested)
		if !requested.Covers(result.Actual) {
			slog.WarnContext(ctx, "transport reported a range outside the request; clamping",
				"requested", requested.String(), "actual", result.Actual.String())
		}
		filled, hasRange = clamped, ok
	}

	messages := make([]types.Message, 0, len(result.Messages))
	for _, msg := range result.Messages {
		if hasRange && filled.Contains(msg.Index) {
			messages = append(messages, msg)
		}
	}
	if dropped := len(result.Messages) - len(messages); dropped > 0 {
		slog.WarnContext(ctx, "dropping messages outside the covered range", "dropped", dropped)
	}
	if !hasRange {
		return holes.Hole{}, 0, nil
	}

	fill := func(set *holes.Set) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		set.MarkRangeFilled(filled.Low, filled.High)
		return nil
	}
	var err error
	if r.store == nil {
		err = guarded.Update(fill)
	} else {
		err = guarded.Replace(func(*holes.Set) (*holes.Set, error) {
			return r.store.CommitRange(ctx, scopeID, messages, fill)
		})
	}
	if err != nil {
		return holes.Hole{}, 0, err
	}
	return filled, len(messages), nil
}

func (r *Resolver) degrade(ctx context.Context, req request, hole holes.Hole, attempt int, cause error) {
	if hole.Empty() {
		slog.ErrorContext(ctx, "failed to load holes; conversation degraded", "error", cause)
	} else {
		slog.ErrorContext(ctx, "hole left unresolved; conversation degraded",
			"hole", hole.String(), "attempts", attempt, "error", cause)
	}
	if r.store != nil {
		if err := r.store.SetDegraded(context.WithoutCancel(ctx), req.scope, true, cause.Error()); err != nil {
			slog.ErrorContext(ctx, "failed to persist degraded flag", "error", err)
		}
	}
	r.finish(req, Outcome{ScopeID: req.scope, Kind: OutcomeDegraded, Hole: hole, Attempts: attempt, Err: cause})
}

func (r *Resolver) clearDegraded(ctx context.Context, scopeID int64) {
	if r.store == nil {
		return
	}
	if err := r.store.SetDegraded(ctx, scopeID, false, ""); err != nil {
		slog.WarnContext(ctx, "failed to clear degraded flag", "error", err)
	}
}

// setStatus moves the conversation to state and reports whether a new
// resolution is starting; a start clears the degraded flag, including one
// persisted by an earlier process.
func (r *Resolver) setStatus(conv *conversation, state State, hole holes.Hole, attempt int) bool {
	starting := state == StateResolving && attempt == 0
	conv.mu.Lock()
	conv.status.State = state
	conv.status.StateName = state.String()
	conv.status.Hole = hole
	conv.status.Attempt = attempt
	if starting {
		conv.status.Degraded = false
		conv.status.LastError = ""
	}
	status := conv.status
	conv.mu.Unlock()
	r.notify(status)
	return starting
}

func (r *Resolver) finish(req request, outcome Outcome) {
	conv := req.conv
	conv.mu.Lock()
	var cancel context.CancelFunc
	if conv.ticket == req.ticket {
		cancel = conv.cancel
		conv.ticket = nil
		conv.cancel = nil
	}
	conv.status.State = StateIdle
	conv.status.StateName = StateIdle.String()
	conv.status.Hole = holes.Hole{}
	conv.status.Attempt = 0
	if outcome.Kind == OutcomeDegraded {
		conv.status.Degraded = true
		if outcome.Err != nil {
			conv.status.LastError = outcome.Err.Error()
		}
	}
	status := conv.status
	conv.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	ResolutionCount.WithLabelValues(outcome.Kind.String()).Inc()
	r.notify(status)
	req.ticket.complete(outcome)
}

func (r *Resolver) notify(status Status) {
	if r.observe != nil {
		r.observe(status)
	}
}

// Status returns the current resolver state of a conversation.
func (r *Resolver) Status(scopeID int64) Status {
	conv, ok := r.convs.Load(scopeID)
	if !ok {
		return Status{ScopeID: scopeID, StateName: StateIdle.String()}
	}
	conv.mu.Lock()
	defer conv.mu.Unlock()
	return conv.status
}

// Cancel abandons the queued or running resolution of a conversation. It
// reports whether there was one.
func (r *Resolver) Cancel(scopeID int64) bool {
	conv, ok := r.convs.Load(scopeID)
	if !ok {
		return false
	}
	conv.mu.Lock()
	cancel := conv.cancel
	conv.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// Forget cancels any resolution, waits for it to settle, and removes every
// trace of the conversation.
func (r *Resolver) Forget(ctx context.Context, scopeID int64) error {
	if conv, ok := r.convs.Load(scopeID); ok {
		conv.mu.Lock()
		ticket := conv.ticket
		cancel := conv.cancel
		conv.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if ticket != nil {
			if _, err := ticket.Wait(ctx); err != nil {
				return err
			}
		}
	}
	r.arena.Delete(scopeID)
	r.convs.Delete(scopeID)
	if r.store == nil {
		return nil
	}
	return r.store.DeleteConversation(ctx, scopeID)
}

// current returns the guarded set of scopeID. With a store the set is
// reloaded first, since other processes may have edited the same database.
func (r *Resolver) current(scopeID int64) (*holes.Guarded, error) {
	guarded, err := r.arena.Get(scopeID)
	if err != nil || r.store == nil {
		return guarded, err
	}
	err = guarded.Replace(func(*holes.Set) (*holes.Set, error) {
		return r.loadHoles(scopeID)
	})
	if err != nil {
		return nil, err
	}
	return guarded, nil
}

// Holes returns the current holes of a conversation in ascending order.
func (r *Resolver) Holes(scopeID int64) ([]holes.Hole, error) {
	guarded, err := r.current(scopeID)
	if err != nil {
		return nil, err
	}
	return guarded.Snapshot().Holes(), nil
}

// HoleContaining returns the hole of a conversation that contains idx.
func (r *Resolver) HoleContaining(idx types.MessageIndex) (holes.Hole, bool, error) {
	guarded, err := r.current(idx.ScopeID)
	if err != nil {
		return holes.Hole{}, false, err
	}
	var hole holes.Hole
	var ok bool
	guarded.View(func(set *holes.Set) {
		hole, ok = set.HoleContaining(idx)
	})
	return hole, ok, nil
}

// MarkRangeMissing records [low, high) as missing and persists the result.
func (r *Resolver) MarkRangeMissing(ctx context.Context, low, high types.MessageIndex) error {
	return r.mutate(ctx, low.ScopeID, func(set *holes.Set) {
		set.MarkRangeMissing(low, high)
	})
}

// MarkRangeFilled records [low, high) as present and persists the result.
func (r *Resolver) MarkRangeFilled(ctx context.Context, low, high types.MessageIndex) error {
	return r.mutate(ctx, low.ScopeID, func(set *holes.Set) {
		set.MarkRangeFilled(low, high)
	})
}

func (r *Resolver) mutate(ctx context.Context, scopeID int64, fn func(*holes.Set)) error {
	guarded, err := r.arena.Get(scopeID)
	if err != nil {
		return err
	}
	edit := func(set *holes.Set) error {
		fn(set)
		return nil
	}
	if r.store == nil {
		return guarded.Update(edit)
	}
	return guarded.Replace(func(*holes.Set) (*holes.Set, error) {
		return r.store.SaveHoles(ctx, scopeID, edit)
	})
}

// Close stops the resolver. Queued and running resolutions end as cancelled.
func (r *Resolver) Close() {
	r.queueMu.Lock()
	r.closed = true
	r.queueMu.Unlock()

	r.stop()
	r.wg.Wait()

	r.queueMu.Lock()
	pending := r.queue
	r.queue = nil
	r.queueMu.Unlock()
	for _, req := range pending {
		r.finish(req, Outcome{ScopeID: req.scope, Kind: OutcomeCancelled, Err: context.Canceled})
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
