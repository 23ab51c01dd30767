package coordinator

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	errorvalues "github.com/limbo/routinesync/internal/error_values"
	"github.com/limbo/routinesync/internal/remote"
	"github.com/limbo/routinesync/pkg/entity"
)

// remoteTimeout bounds every remote round-trip issued by the coordinator.
const remoteTimeout = 10 * time.Second

// Coordinator binds the local cache, the remote store and the change
// subscription together for one owner session. Reads come from the cache
// (instant, offline-tolerant); writes go to the remote store first and are
// mirrored into the cache only once the server has accepted them, so
// server-assigned fields never need speculative reconciliation.
type Coordinator struct {
	cache      LocalCacheI
	remote     remote.RoutinesRepositoryI
	subscriber SubscriberI
	ownerID    uuid.UUID
	logger     *slog.Logger

	mu      sync.Mutex
	loading bool
	syncing bool
	started bool
	stopped bool
	sub     SubscriptionI
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(cache LocalCacheI, routinesRepo remote.RoutinesRepositoryI, subscriber SubscriberI, ownerID uuid.UUID, logger *slog.Logger) *Coordinator {
	if cache == nil || routinesRepo == nil {
		log.Fatal("provided nil stores to coordinator")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		cache:      cache,
		remote:     routinesRepo,
		subscriber: subscriber,
		ownerID:    ownerID,
		logger:     logger.With(slog.String("owner_id", ownerID.String())),
		loading:    true,
	}
}

// Start performs the initial cache read synchronously, then kicks off the
// background remote fetch and the change subscription. Only a cache fault
// fails Start; remote trouble degrades to stale-but-available data.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("coordinator already started")
	}
	c.started = true
	c.mu.Unlock()

	if _, err := c.cache.GetAll(ctx); err != nil {
		return errors.New("initial cache read error: " + err.Error())
	}
	c.mu.Lock()
	c.loading = false
	c.mu.Unlock()

	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.refresh(sessionCtx)
		c.runSubscription(sessionCtx)
	}()
	return nil
}

// Stop tears the session down. Idempotent.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.stopped || !c.started {
		c.stopped = true
		c.mu.Unlock()
		return
	}
	c.stopped = true
	cancel := c.cancel
	sub := c.sub
	c.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}

// SignOut stops the session and wipes the device-local cache.
func (c *Coordinator) SignOut(ctx context.Context) error {
	c.Stop()
	return c.cache.Clear(ctx)
}

// Snapshot returns the current cached list plus the progress flags.
func (c *Coordinator) Snapshot(ctx context.Context) (*Snapshot, error) {
	routines, err := c.cache.GetAll(ctx)
	if err != nil {
		return nil, errors.New("cache read error: " + err.Error())
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return &Snapshot{
		Routines: routines,
		Loading:  c.loading,
		Syncing:  c.syncing,
	}, nil
}

// Create validates the input, asks the remote store to create the routine
// (which assigns id and timestamps) and mirrors the accepted record into the
// cache.
func (c *Coordinator) Create(ctx context.Context, input *entity.RoutineInput) (*entity.Routine, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if err := validateInput(input); err != nil {
		return nil, err
	}
	tctx, cancel := context.WithTimeout(ctx, remoteTimeout)
	defer cancel()
	r, err := c.remote.Create(tctx, c.ownerID, input)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Save(ctx, r); err != nil {
		return nil, errors.New("mirroring created routine error: " + err.Error())
	}
	return r, nil
}

// Update applies a partial update remote-first. The routine must belong to
// the session owner.
func (c *Coordinator) Update(ctx context.Context, patch *entity.RoutinePatch) (*entity.Routine, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if err := validatePatch(patch); err != nil {
		return nil, err
	}
	tctx, cancel := context.WithTimeout(ctx, remoteTimeout)
	defer cancel()
	if err := c.checkOwnership(tctx, patch.ID); err != nil {
		return nil, err
	}
	r, err := c.remote.Update(tctx, patch)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Save(ctx, r); err != nil {
		return nil, errors.New("mirroring updated routine error: " + err.Error())
	}
	return r, nil
}

// ToggleComplete sets or clears completed_at on the remote store and mirrors
// the result.
func (c *Coordinator) ToggleComplete(ctx context.Context, id uuid.UUID, completed bool) (*entity.Routine, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	tctx, cancel := context.WithTimeout(ctx, remoteTimeout)
	defer cancel()
	if err := c.checkOwnership(tctx, id); err != nil {
		return nil, err
	}
	r, err := c.remote.ToggleComplete(tctx, id, completed)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Save(ctx, r); err != nil {
		return nil, errors.New("mirroring toggled routine error: " + err.Error())
	}
	return r, nil
}

// Delete removes the routine remotely; only on success is the cache entry
// dropped. A remote failure leaves the cache in its last-known-good state.
func (c *Coordinator) Delete(ctx context.Context, id uuid.UUID) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	tctx, cancel := context.WithTimeout(ctx, remoteTimeout)
	defer cancel()
	if err := c.checkOwnership(tctx, id); err != nil {
		return err
	}
	if err := c.remote.Delete(tctx, id); err != nil {
		return err
	}
	if err := c.cache.Delete(ctx, id); err != nil {
		return errors.New("removing cached routine error: " + err.Error())
	}
	return nil
}

// checkOpen rejects writes once the session is torn down; a stopped session
// can no longer mirror accepted writes into the cache.
func (c *Coordinator) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return errorvalues.ErrSessionClosed
	}
	return nil
}

func (c *Coordinator) checkOwnership(ctx context.Context, id uuid.UUID) error {
	r, err := c.remote.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, errorvalues.ErrRoutineNotFound) {
			return err
		}
		return errors.New("remote store error: " + err.Error())
	}
	if r.OwnerID != c.ownerID {
		return errorvalues.ErrWrongOwner
	}
	return nil
}

// refresh is the background getAll-merge pass. Remote records replace cached
// ones only when strictly newer by updated_at; records present only locally
// are left alone (deletion is an explicit write path, never inferred from a
// fetch). Errors are logged, never escalated.
func (c *Coordinator) refresh(ctx context.Context) {
	c.setSyncing(true)
	defer c.setSyncing(false)

	tctx, cancel := context.WithTimeout(ctx, remoteTimeout)
	defer cancel()
	records, err := c.remote.GetAll(tctx, c.ownerID)
	if err != nil {
		c.logger.Warn("background fetch failed, serving cached data", slog.String("error", err.Error()))
		return
	}

	for i := range records {
		if err := c.mergeRecord(ctx, &records[i]); err != nil {
			c.logger.Error("merging remote routine failed", slog.String("routine_id", records[i].ID.String()), slog.String("error", err.Error()))
		}
	}

	// Everything recorded locally up to this point has been reconciled
	// against the authoritative store.
	if err := c.cache.ClearSyncQueue(ctx); err != nil {
		c.logger.Error("clearing acknowledged sync queue failed", slog.String("error", err.Error()))
	}
}

func (c *Coordinator) mergeRecord(ctx context.Context, r *entity.Routine) error {
	local, err := c.cache.GetByID(ctx, r.ID)
	if err != nil {
		if errors.Is(err, errorvalues.ErrRoutineNotFound) {
			return c.cache.Save(ctx, r)
		}
		return err
	}
	if r.UpdatedAt.After(local.UpdatedAt) {
		return c.cache.Save(ctx, r)
	}
	return nil
}

func (c *Coordinator) runSubscription(ctx context.Context) {
	if c.subscriber == nil {
		return
	}
	sub, err := c.subscriber.Subscribe(ctx, c.ownerID)
	if err != nil {
		c.logger.Warn("change subscription unavailable, live updates disabled", slog.String("error", err.Error()))
		return
	}
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		sub.Close()
		return
	}
	c.sub = sub
	c.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			c.apply(ctx, ev)
		}
	}
}

// apply folds one change event into the cache. Events are idempotent:
// replaying one produces the same cache state, because Save carries its own
// recency guard and Delete tolerates absent rows.
func (c *Coordinator) apply(ctx context.Context, ev entity.ChangeEvent) {
	switch ev.Kind {
	case entity.EventInsert, entity.EventUpdate:
		if ev.Routine == nil {
			c.logger.Error("change event without payload", slog.String("kind", string(ev.Kind)))
			return
		}
		if err := c.cache.Save(ctx, ev.Routine); err != nil {
			c.logger.Error("applying change event failed", slog.String("routine_id", ev.Routine.ID.String()), slog.String("error", err.Error()))
		}
	case entity.EventDelete:
		if err := c.cache.Delete(ctx, ev.RoutineID); err != nil {
			c.logger.Error("applying delete event failed", slog.String("routine_id", ev.RoutineID.String()), slog.String("error", err.Error()))
		}
	case entity.EventResync:
		c.logger.Info("subscription resynced, running merge pass")
		c.refresh(ctx)
	}
}

func (c *Coordinator) setSyncing(v bool) {
	c.mu.Lock()
	c.syncing = v
	c.mu.Unlock()
}
