// Package fetch tracks the download state of media resources and runs at
// most one fetch per resource, fanning its progress out to every subscriber.
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/adamavenir/histkeep/internal/logging"
	"github.com/adamavenir/histkeep/internal/types"
)

const component = "histkeep.fetch"

// Fetcher downloads a resource. progress may be called any number of times
// with values in [0, 1] before FetchResource returns.
type Fetcher interface {
	FetchResource(ctx context.Context, resourceID string, progress func(float32)) (types.LocalHandle, error)
}

// StatusStore persists resource status across restarts.
type StatusStore interface {
	LoadResourceStatus(ctx context.Context, resourceID string) (*types.ResourceRecord, error)
	SaveResourceStatus(ctx context.Context, record types.ResourceRecord) error
}

type entry struct {
	resourceID string

	mu       sync.Mutex
	loaded   bool
	status   types.ResourceFetchStatus
	handle   *types.LocalHandle
	fetching bool
	gen      uint64
	cancel   context.CancelFunc
	subs     map[uuid.UUID]*Subscription
	order    []uuid.UUID
}

// publishLocked delivers update to every subscriber in subscription order.
// Holding e.mu while pushing keeps the order identical for all of them.
func (e *entry) publishLocked(update Update) {
	update.ResourceID = e.resourceID
	live := e.order[:0]
	for _, id := range e.order {
		sub, ok := e.subs[id]
		if !ok {
			continue
		}
		live = append(live, id)
		sub.push(update)
	}
	e.order = live
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithStatusStore persists statuses in store.
func WithStatusStore(store StatusStore) Option {
	return func(c *Coordinator) {
		c.store = store
	}
}

// WithTracer overrides the tracer used for fetch spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Coordinator) {
		c.tracer = tracer
	}
}

// Coordinator maps resource ids to their fetch status.
type Coordinator struct {
	fetcher Fetcher
	store   StatusStore
	tracer  trace.Tracer
	entries *xsync.MapOf[string, *entry]

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
}

func New(fetcher Fetcher, opts ...Option) *Coordinator {
	ctx, stop := context.WithCancel(context.Background())
	c := &Coordinator{
		fetcher: fetcher,
		tracer:  otel.Tracer("github.com/adamavenir/histkeep/internal/fetch"),
		entries: xsync.NewMapOf[string, *entry](),
		ctx:     ctx,
		stop:    stop,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) entry(resourceID string) *entry {
	e, _ := c.entries.LoadOrCompute(resourceID, func() *entry {
		return &entry{resourceID: resourceID, subs: map[uuid.UUID]*Subscription{}}
	})
	return e
}

// syncLocked reads the persisted status of an entry that has no fetch
// running. Other processes sharing the store fetch and evict too, so the
// store wins over what this coordinator last saw. A persisted fetching
// status belongs to a fetch that did not survive and is read as remote.
func (c *Coordinator) syncLocked(e *entry) {
	if e.fetching {
		return
	}
	first := !e.loaded
	if first {
		e.loaded = true
		e.status = types.StatusRemote()
	}
	if c.store == nil {
		return
	}
	ctx := logging.WithLogFields(c.ctx, logging.LogFields{ResourceID: logging.Ptr(e.resourceID), Component: component})
	record, err := c.store.LoadResourceStatus(ctx, e.resourceID)
	if err != nil {
		slog.WarnContext(ctx, "failed to load resource status; keeping current", "status", e.status.String(), "error", err)
		return
	}

	prior := e.status
	if record == nil || record.Status.State != types.ResourceLocal {
		e.status = types.StatusRemote()
		e.handle = nil
	} else {
		e.status = types.StatusLocal()
		handle := types.LocalHandle{ResourceID: record.ResourceID, Size: record.Size}
		if record.LocalPath != nil {
			handle.Path = *record.LocalPath
		}
		e.handle = &handle
	}
	if !first && !prior.Equal(e.status) {
		slog.DebugContext(ctx, "resource status changed in store", "from", prior.String(), "to", e.status.String())
		e.publishLocked(Update{Status: e.status})
	}
}

// Request begins or joins the fetch of resourceID. The subscription first
// receives the current status. A resource that is already local is not
// fetched again.
func (c *Coordinator) Request(resourceID string) *Subscription {
	e := c.entry(resourceID)
	sub := newSubscription(c, e)

	e.mu.Lock()
	c.syncLocked(e)
	if c.ctx.Err() != nil {
		e.mu.Unlock()
		sub.shutdown()
		return sub
	}
	e.subs[sub.ID] = sub
	e.order = append(e.order, sub.ID)
	sub.push(Update{ResourceID: resourceID, Status: e.status})
	c.startLocked(e)
	e.mu.Unlock()
	return sub
}

// Status returns the current status of resourceID.
func (c *Coordinator) Status(resourceID string) types.ResourceFetchStatus {
	e := c.entry(resourceID)
	e.mu.Lock()
	defer e.mu.Unlock()
	c.syncLocked(e)
	return e.status
}

// Handle returns the local handle of a resource that is local.
func (c *Coordinator) Handle(resourceID string) (types.LocalHandle, bool) {
	e := c.entry(resourceID)
	e.mu.Lock()
	defer e.mu.Unlock()
	c.syncLocked(e)
	if e.status.State != types.ResourceLocal || e.handle == nil {
		return types.LocalHandle{}, false
	}
	return *e.handle, true
}

func (c *Coordinator) start(e *entry) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	c.syncLocked(e)
	return c.startLocked(e)
}

func (c *Coordinator) startLocked(e *entry) bool {
	if e.fetching || e.status.State == types.ResourceLocal || c.ctx.Err() != nil {
		return false
	}
	prior := e.status
	ctx, cancel := context.WithCancel(c.ctx)
	e.fetching = true
	e.gen++
	e.cancel = cancel
	e.status = types.StatusFetching(0)
	e.publishLocked(Update{Status: e.status})

	FetchesStarted.Inc()
	ActiveFetches.Inc()
	c.wg.Add(1)
	go c.run(ctx, e, e.gen, prior)
	return true
}

func (c *Coordinator) run(ctx context.Context, e *entry, gen uint64, prior types.ResourceFetchStatus) {
	defer c.wg.Done()
	defer ActiveFetches.Dec()

	ctx = logging.WithLogFields(ctx, logging.LogFields{ResourceID: logging.Ptr(e.resourceID), Component: component})
	ctx, span := c.tracer.Start(ctx, "fetch.resource", trace.WithAttributes(
		attribute.String("resource_id", e.resourceID),
	))
	defer span.End()

	slog.DebugContext(ctx, "fetching resource")
	started := time.Now()
	handle, err := c.fetcher.FetchResource(ctx, e.resourceID, func(p float32) {
		c.progress(e, gen, p)
	})

	if err == nil {
		err = c.persist(ctx, e.resourceID, handle)
	}

	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	e.fetching = false
	e.cancel = nil
	if err != nil {
		e.status = prior
		e.publishLocked(Update{Status: prior, Err: err})
		e.mu.Unlock()

		FetchResults.WithLabelValues(types.KindOf(err).String()).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.WarnContext(ctx, "resource fetch failed", "error", err, "restored", prior.String())
		return
	}
	e.status = types.StatusLocal()
	e.handle = &handle
	e.publishLocked(Update{Status: e.status})
	e.mu.Unlock()

	FetchResults.WithLabelValues("ok").Inc()
	span.SetAttributes(attribute.Int64("bytes", handle.Size))
	slog.InfoContext(ctx, "resource fetched", "bytes", handle.Size, "duration", time.Since(started))
}

func (c *Coordinator) persist(ctx context.Context, resourceID string, handle types.LocalHandle) error {
	if c.store == nil {
		return nil
	}
	path := handle.Path
	record := types.ResourceRecord{
		ResourceID: resourceID,
		Status:     types.StatusLocal(),
		LocalPath:  &path,
		Size:       handle.Size,
		UpdatedAt:  time.Now().Unix(),
	}
	if err := c.store.SaveResourceStatus(context.WithoutCancel(ctx), record); err != nil {
		return fmt.Errorf("persist status of %s: %w", resourceID, err)
	}
	return nil
}

// progress applies a progress report from fetch generation gen. Reports
// from a finished fetch, reports that do not move forward, and reports
// within ProgressEpsilon of the current value are dropped.
func (c *Coordinator) progress(e *entry, gen uint64, p float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.fetching || e.gen != gen {
		return
	}
	next := types.StatusFetching(p)
	if next.Progress <= e.status.Progress || next.Equal(e.status) {
		return
	}
	e.status = next
	e.publishLocked(Update{Status: next})
}

// Evict moves a local resource back to remote, the only way a status
// regresses. It reports whether the resource was local.
func (c *Coordinator) Evict(ctx context.Context, resourceID string) (bool, error) {
	e := c.entry(resourceID)
	e.mu.Lock()
	c.syncLocked(e)
	if e.status.State != types.ResourceLocal {
		e.mu.Unlock()
		return false, nil
	}
	e.status = types.StatusRemote()
	e.handle = nil
	e.publishLocked(Update{Status: e.status})
	e.mu.Unlock()

	Evictions.Inc()
	ctx = logging.WithLogFields(ctx, logging.LogFields{ResourceID: logging.Ptr(resourceID), Component: component})
	slog.InfoContext(ctx, "resource evicted")
	if c.store == nil {
		return true, nil
	}
	record := types.ResourceRecord{
		ResourceID: resourceID,
		Status:     types.StatusRemote(),
		UpdatedAt:  time.Now().Unix(),
	}
	if err := c.store.SaveResourceStatus(ctx, record); err != nil {
		return true, fmt.Errorf("persist eviction of %s: %w", resourceID, err)
	}
	return true, nil
}

// Close cancels active fetches, waits for them, and closes every
// subscription.
func (c *Coordinator) Close() {
	c.stop()
	c.wg.Wait()
	c.entries.Range(func(_ string, e *entry) bool {
		e.mu.Lock()
		subs := make([]*Subscription, 0, len(e.subs))
		for _, sub := range e.subs {
			subs = append(subs, sub)
		}
		e.subs = map[uuid.UUID]*Subscription{}
		e.order = nil
		e.mu.Unlock()
		for _, sub := range subs {
			sub.shutdown()
		}
		return true
	})
}
