package ha

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/paddock/pkg/agent"
	"github.com/cuemby/paddock/pkg/config"
	"github.com/cuemby/paddock/pkg/draining"
	"github.com/cuemby/paddock/pkg/events"
	"github.com/cuemby/paddock/pkg/inventory"
	"github.com/cuemby/paddock/pkg/lease"
	"github.com/cuemby/paddock/pkg/log"
	"github.com/cuemby/paddock/pkg/metrics"
	"github.com/cuemby/paddock/pkg/types"
	"github.com/rs/zerolog"
)

// healthComponent names the scan loop in the readiness registry
const healthComponent = "ha"

// WorkItemStore persists HA work items
type WorkItemStore interface {
	SaveWorkItem(item *types.HAWorkItem) error
	GetWorkItem(id string) (*types.HAWorkItem, error)
	ListWorkItems() ([]*types.HAWorkItem, error)
	ListNonTerminalWorkItems() ([]*types.HAWorkItem, error)
	DeleteWorkItem(id string) error
}

// Deployer plans and reserves restart and migration destinations
type Deployer interface {
	Deploy(ctx context.Context, profile *types.WorkloadProfile, plan types.DeploymentPlan, exclude *types.ExcludeList, plannerHint string) (*types.Reservation, error)
	ConfirmReservation(ctx context.Context, token string) (*types.Reservation, error)
	CancelReservation(ctx context.Context, token string) error
}

// Leader gates background loops to the raft leader
type Leader interface {
	IsLeader() bool
}

// Options wires the optional collaborators of the engine
type Options struct {
	Investigators []Investigator
	Fencers       []Fencer
	Alerts        events.Alerting
	Broker        *events.Broker
	// Leader is optional; without it the loops always run
	Leader Leader
}

// Engine drives HA work items through the recovery state machine. Items
// are persisted after every transition so a restarted engine resumes them.
type Engine struct {
	inv      inventory.Inventory
	store    WorkItemStore
	exec     agent.Executor
	deployer Deployer
	draining *draining.Manager
	leases   *lease.Manager
	cfg      config.HAConfig
	opts     Options
	logger   zerolog.Logger

	mu        sync.Mutex
	inflight  map[string]bool
	cancelled map[string]bool
	// last time the host scan saw each host healthy
	seenUp    map[string]time.Time

	work   chan string
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewEngine creates an HA engine
func NewEngine(
	inv inventory.Inventory,
	store WorkItemStore,
	exec agent.Executor,
	deployer Deployer,
	leases *lease.Manager,
	cfg config.HAConfig,
	opts Options,
) *Engine {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.StartRetry < 1 {
		cfg.StartRetry = 1
	}
	if opts.Alerts == nil {
		opts.Alerts = events.NewAlerter(opts.Broker)
	}
	if len(opts.Investigators) == 0 {
		opts.Investigators = []Investigator{
			NewAgentInvestigator(ProbeFor(cfg.AgentProbe, cfg.AgentHealthPath)),
			NewNeighborInvestigator(inv, exec),
		}
	}
	if len(opts.Fencers) == 0 {
		opts.Fencers = []Fencer{NewNeighborFencer(inv, exec)}
		if len(cfg.FenceCommand) > 0 {
			opts.Fencers = append(opts.Fencers, NewExecFencer(cfg.FenceCommand, cfg.VmOpWaitInterval))
		}
	}

	return &Engine{
		inv:       inv,
		store:     store,
		exec:      exec,
		deployer:  deployer,
		draining:  draining.NewManager(inv),
		leases:    leases,
		cfg:       cfg,
		opts:      opts,
		logger:    log.WithComponent("ha"),
		inflight:  make(map[string]bool),
		cancelled: make(map[string]bool),
		seenUp:    make(map[string]time.Time),
		work:      make(chan string, 256),
		stopCh:    make(chan struct{}),
	}
}

// ScheduleRestart schedules an HA restart of a workload away from its
// current host. Scheduling is idempotent: a pending item for the same
// workload and type is returned instead of a new one.
func (e *Engine) ScheduleRestart(ctx context.Context, w *types.WorkloadProfile, investigateFirst bool) (*types.HAWorkItem, error) {
	return e.schedule(w.ID, w.HostID, types.WorkHA, investigateFirst)
}

// ScheduleStop schedules a stop of a workload on hostID. workType is one of
// WorkStop, WorkCheckStop or WorkForceStop.
func (e *Engine) ScheduleStop(ctx context.Context, w *types.WorkloadProfile, hostID string, workType types.WorkType) (*types.HAWorkItem, error) {
	switch workType {
	case types.WorkStop, types.WorkCheckStop, types.WorkForceStop:
	default:
		return nil, fmt.Errorf("invalid stop type %q", workType)
	}
	return e.schedule(w.ID, hostID, workType, false)
}

// ScheduleMigration schedules a live migration off the workload's host
func (e *Engine) ScheduleMigration(ctx context.Context, w *types.WorkloadProfile) (*types.HAWorkItem, error) {
	if w.HostID == "" {
		return nil, fmt.Errorf("workload %s is not placed", w.ID)
	}
	return e.schedule(w.ID, w.HostID, types.WorkMigration, false)
}

// ScheduleDestroy schedules destruction of a workload on hostID
func (e *Engine) ScheduleDestroy(ctx context.Context, w *types.WorkloadProfile, hostID string) (*types.HAWorkItem, error) {
	return e.schedule(w.ID, hostID, types.WorkDestroy, false)
}

func (e *Engine) schedule(workloadID, hostID string, workType types.WorkType, investigateFirst bool) (*types.HAWorkItem, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	existing, err := e.findPending(func(it *types.HAWorkItem) bool {
		return it.WorkloadID == workloadID && it.Type == workType
	})
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		e.logger.Debug().
			Str("workload_id", workloadID).
			Str("work_item_id", existing[0].ID).
			Msg("work item already pending")
		return existing[0], nil
	}

	item := types.NewHAWorkItem(workloadID, hostID, workType, investigateFirst)
	if err := e.store.SaveWorkItem(item); err != nil {
		return nil, fmt.Errorf("failed to save work item: %w", err)
	}

	e.logger.Info().
		Str("work_item_id", item.ID).
		Str("workload_id", workloadID).
		Str("host_id", hostID).
		Str("type", string(workType)).
		Msg("scheduled work item")
	e.publish(events.EventHAScheduled, item, "scheduled "+string(workType))
	e.enqueue(item.ID)
	return item, nil
}

func (e *Engine) findPending(match func(*types.HAWorkItem) bool) ([]*types.HAWorkItem, error) {
	items, err := e.store.ListNonTerminalWorkItems()
	if err != nil {
		return nil, fmt.Errorf("failed to list work items: %w", err)
	}
	var out []*types.HAWorkItem
	for _, it := range items {
		if match(it) {
			out = append(out, it)
		}
	}
	return out, nil
}

// CancelScheduledMigrations cancels the pending migrations off hostID and
// returns how many were cancelled. An item whose step is running finishes
// that step first.
func (e *Engine) CancelScheduledMigrations(ctx context.Context, hostID string) (int, error) {
	return e.cancel(func(it *types.HAWorkItem) bool {
		return it.Type == types.WorkMigration && it.HostID == hostID
	})
}

// CancelDestroy cancels a pending destroy of workloadID on hostID
func (e *Engine) CancelDestroy(ctx context.Context, workloadID, hostID string) error {
	n, err := e.cancel(func(it *types.HAWorkItem) bool {
		return it.Type == types.WorkDestroy && it.WorkloadID == workloadID && it.HostID == hostID
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no pending destroy for workload %s: %w", workloadID, types.ErrNotFound)
	}
	return nil
}

func (e *Engine) cancel(match func(*types.HAWorkItem) bool) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	items, err := e.findPending(match)
	if err != nil {
		return 0, err
	}
	for _, it := range items {
		if e.inflight[it.ID] {
			e.cancelled[it.ID] = true
			continue
		}
		if err := e.transition(it, types.StepCancelled); err != nil {
			return 0, err
		}
		e.publish(events.EventHACancelled, it, "cancelled")
	}
	return len(items), nil
}

// HasPendingHaWork reports whether a workload has any non-terminal work item
func (e *Engine) HasPendingHaWork(ctx context.Context, workloadID string) (bool, error) {
	items, err := e.findPending(func(it *types.HAWorkItem) bool {
		return it.WorkloadID == workloadID
	})
	if err != nil {
		return false, err
	}
	return len(items) > 0, nil
}

// ListWorkItems returns every persisted work item
func (e *Engine) ListWorkItems(ctx context.Context) ([]*types.HAWorkItem, error) {
	return e.store.ListWorkItems()
}

// Investigate asks each investigator in turn whether hostID is down. The
// first conclusive answer wins; errors and inconclusive answers fall
// through, and StatusUnknown is returned when nobody could decide.
func (e *Engine) Investigate(ctx context.Context, hostID string) (types.Status, error) {
	host, err := e.inv.GetHost(ctx, hostID)
	if err != nil {
		return types.StatusUnknown, fmt.Errorf("failed to get host %s: %w", hostID, err)
	}

	for _, inv := range e.opts.Investigators {
		status, err := inv.Investigate(ctx, host)
		if err != nil {
			e.logger.Warn().Err(err).
				Str("host_id", hostID).
				Str("investigator", inv.Name()).
				Msg("investigator failed")
			continue
		}
		if status != types.StatusUnknown {
			e.logger.Info().
				Str("host_id", hostID).
				Str("investigator", inv.Name()).
				Str("status", string(status)).
				Msg("host investigated")
			return status, nil
		}
	}
	return types.StatusUnknown, nil
}

// HandleHostDown schedules an investigated HA item for every workload on a
// suspected host and returns how many were scheduled. Workloads without HA
// are stopped by the same item instead of restarted. A workload whose HA
// item for this host already finished since the host was last seen healthy
// is left alone until the host recovers or the item is removed.
func (e *Engine) HandleHostDown(ctx context.Context, hostID string) (int, error) {
	workloads, err := e.inv.ListWorkloadsByHost(ctx, hostID)
	if err != nil {
		return 0, fmt.Errorf("failed to list workloads on host %s: %w", hostID, err)
	}
	settled, err := e.settledOn(hostID)
	if err != nil {
		return 0, err
	}

	scheduled := 0
	for _, w := range workloads {
		if w.State == types.WorkloadDestroyed || settled[w.ID] {
			continue
		}
		if _, err := e.ScheduleRestart(ctx, w, true); err != nil {
			return scheduled, err
		}
		scheduled++
	}

	if scheduled > 0 {
		if e.opts.Broker != nil {
			e.opts.Broker.Publish(&events.Event{
				Type:     events.EventHostDown,
				Message:  fmt.Sprintf("host %s suspected down", hostID),
				Metadata: map[string]string{"host_id": hostID},
			})
		}
		e.logger.Warn().
			Str("host_id", hostID).
			Int("workloads", scheduled).
			Msg("host suspected down")
	}
	return scheduled, nil
}

// settledOn returns the workloads with an HA item for hostID that reached
// Done or Error during the current outage of the host
func (e *Engine) settledOn(hostID string) (map[string]bool, error) {
	e.mu.Lock()
	since := e.seenUp[hostID]
	e.mu.Unlock()

	items, err := e.store.ListWorkItems()
	if err != nil {
		return nil, fmt.Errorf("failed to list work items: %w", err)
	}
	settled := make(map[string]bool)
	for _, it := range items {
		if it.Type != types.WorkHA || it.HostID != hostID {
			continue
		}
		if it.Step != types.StepDone && it.Step != types.StepError {
			continue
		}
		if it.CreatedAt.After(since) {
			settled[it.WorkloadID] = true
		}
	}
	return settled, nil
}

// Start begins the worker pool and the scan and cleanup loops
func (e *Engine) Start() {
	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	metrics.RegisterLoop(healthComponent, 3*e.pingInterval())
	e.wg.Add(2)
	go e.scanLoop()
	go e.cleanupLoop()
	e.logger.Info().Int("workers", e.cfg.Workers).Msg("HA engine started")
}

// Stop stops the loops and waits for running steps to finish
func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()
	metrics.UnregisterComponent(healthComponent)
}

func (e *Engine) pingInterval() time.Duration {
	if e.cfg.PingInterval <= 0 {
		return time.Minute
	}
	return e.cfg.PingInterval
}

func (e *Engine) enqueue(id string) {
	select {
	case e.work <- id:
	default:
		// picked up by the next scan
	}
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for {
		select {
		case id := <-e.work:
			e.process(context.Background(), id)
		case <-e.stopCh:
			return
		}
	}
}

func (e *Engine) scanLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.pingInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !e.isLeader() {
				metrics.Heartbeat(healthComponent, nil)
				continue
			}
			metrics.Heartbeat(healthComponent, e.scanOnce(context.Background()))
		case <-e.stopCh:
			return
		}
	}
}

func (e *Engine) cleanupLoop() {
	defer e.wg.Done()

	interval := e.cfg.VmOpCleanupInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !e.isLeader() {
				continue
			}
			if n, err := e.cleanup(time.Now()); err != nil {
				e.logger.Error().Err(err).Msg("work item cleanup failed")
			} else if n > 0 {
				e.logger.Info().Int("removed", n).Msg("removed finished work items")
			}
		case <-e.stopCh:
			return
		}
	}
}

// scanOnce runs one host check and work item scan
func (e *Engine) scanOnce(ctx context.Context) error {
	hostErr := e.checkHosts(ctx)
	if hostErr != nil {
		e.logger.Error().Err(hostErr).Msg("host check failed")
	}
	scanErr := e.scan(ctx)
	if scanErr != nil {
		e.logger.Error().Err(scanErr).Msg("work item scan failed")
	}
	confirmErr := e.confirmLeftovers(ctx)
	if confirmErr != nil {
		e.logger.Error().Err(confirmErr).Msg("reservation confirm scan failed")
	}
	return errors.Join(hostErr, scanErr, confirmErr)
}

func (e *Engine) isLeader() bool {
	return e.opts.Leader == nil || e.opts.Leader.IsLeader()
}

// scan queues every due item and fails items past the cancel interval
func (e *Engine) scan(ctx context.Context) error {
	items, err := e.store.ListNonTerminalWorkItems()
	if err != nil {
		return fmt.Errorf("failed to list work items: %w", err)
	}

	now := time.Now()
	for _, it := range items {
		if e.expired(it, now) {
			e.mu.Lock()
			busy := e.inflight[it.ID]
			e.mu.Unlock()
			if !busy {
				e.fail(it, fmt.Errorf("not finished after %s: %w", e.cfg.VmOpCancelInterval, types.ErrTimeout))
			}
			continue
		}
		if !it.TimeToTry.After(now) {
			e.enqueue(it.ID)
		}
	}
	return nil
}

func (e *Engine) expired(it *types.HAWorkItem, now time.Time) bool {
	return e.cfg.VmOpCancelInterval > 0 && now.Sub(it.CreatedAt) > e.cfg.VmOpCancelInterval
}

// checkHosts schedules recovery for hosts reported disconnected or down
func (e *Engine) checkHosts(ctx context.Context) error {
	hosts, err := e.inv.ListCandidateHosts(ctx, types.Scope{}, nil)
	if err != nil {
		return fmt.Errorf("failed to list hosts: %w", err)
	}
	now := time.Now()
	for _, h := range hosts {
		if h.Status != types.ResourceDisconnected && h.Status != types.ResourceDown {
			e.mu.Lock()
			e.seenUp[h.ID] = now
			e.mu.Unlock()
			continue
		}
		if _, err := e.HandleHostDown(ctx, h.ID); err != nil {
			e.logger.Error().Err(err).Str("host_id", h.ID).Msg("failed to handle host down")
		}
	}
	return nil
}

// cleanup removes terminal items older than the cleanup wait
func (e *Engine) cleanup(now time.Time) (int, error) {
	items, err := e.store.ListWorkItems()
	if err != nil {
		return 0, fmt.Errorf("failed to list work items: %w", err)
	}
	removed := 0
	for _, it := range items {
		if !it.Step.IsTerminal() || now.Sub(it.UpdatedAt) < e.cfg.VmOpCleanupWait {
			continue
		}
		if err := e.store.DeleteWorkItem(it.ID); err != nil {
			return removed, fmt.Errorf("failed to delete work item %s: %w", it.ID, err)
		}
		removed++
	}
	return removed, nil
}

// process runs an item forward until it reaches a terminal step, fails a
// step, or is cancelled between steps.
func (e *Engine) process(ctx context.Context, id string) {
	e.mu.Lock()
	if e.inflight[id] {
		e.mu.Unlock()
		return
	}
	e.inflight[id] = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.inflight, id)
		delete(e.cancelled, id)
		e.mu.Unlock()
	}()

	item, err := e.store.GetWorkItem(id)
	if err != nil {
		e.logger.Error().Err(err).Str("work_item_id", id).Msg("failed to load work item")
		return
	}

	ctx = lease.WithOwner(ctx, "ha/"+item.ID)
	for !item.Step.IsTerminal() {
		if e.expired(item, time.Now()) {
			e.fail(item, fmt.Errorf("not finished after %s: %w", e.cfg.VmOpCancelInterval, types.ErrTimeout))
			return
		}
		if !e.step(ctx, item) {
			return
		}
	}
}

// step runs the current step of item and reports whether to continue
func (e *Engine) step(ctx context.Context, item *types.HAWorkItem) bool {
	if e.isCancelled(item.ID) {
		e.honorCancel(item, item.Step)
		return false
	}

	release, err := e.leases.Acquire(ctx, item.WorkloadID)
	if err != nil {
		// someone else is operating on the workload, not a failure of this item
		item.TimeToTry = time.Now().Add(e.cfg.RetryInterval)
		item.LastError = err.Error()
		e.save(item)
		return false
	}

	stepCtx := ctx
	if e.cfg.VmOpWaitInterval > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, e.cfg.VmOpWaitInterval)
		defer cancel()
	}

	from := item.Step
	next, err := e.advance(stepCtx, item)
	release()

	if e.isCancelled(item.ID) {
		e.honorCancel(item, from)
		return false
	}
	if err != nil {
		e.retry(item, err)
		return false
	}

	if err := e.transition(item, next); err != nil {
		e.logger.Error().Err(err).Str("work_item_id", item.ID).Msg("failed to persist transition")
		return false
	}
	e.logger.Info().
		Str("work_item_id", item.ID).
		Str("workload_id", item.WorkloadID).
		Str("from", string(from)).
		Str("to", string(next)).
		Msg("work item transition")
	e.publish(events.EventHATransition, item, fmt.Sprintf("%s -> %s", from, next))
	return true
}

func (e *Engine) isCancelled(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled[id]
}

func (e *Engine) honorCancel(item *types.HAWorkItem, after types.Step) {
	e.logger.Info().
		Str("work_item_id", item.ID).
		Str("step", string(after)).
		Msg("work item cancelled")
	if err := e.transition(item, types.StepCancelled); err != nil {
		e.logger.Error().Err(err).Str("work_item_id", item.ID).Msg("failed to persist cancellation")
		return
	}
	e.publish(events.EventHACancelled, item, "cancelled")
}

// retry records a failed step. Permanent failures and items out of
// attempts go to Error; the rest are retried after RetryInterval.
func (e *Engine) retry(item *types.HAWorkItem, err error) {
	item.TimesTried++
	item.LastError = err.Error()

	if isPermanent(err) || item.TimesTried >= e.cfg.StartRetry {
		e.fail(item, err)
		return
	}

	item.TimeToTry = time.Now().Add(e.cfg.RetryInterval)
	e.logger.Warn().Err(err).
		Str("work_item_id", item.ID).
		Str("step", string(item.Step)).
		Int("times_tried", item.TimesTried).
		Msg("step failed, will retry")
	e.save(item)
}

func (e *Engine) fail(item *types.HAWorkItem, err error) {
	item.LastError = err.Error()
	if terr := e.transition(item, types.StepError); terr != nil {
		e.logger.Error().Err(terr).Str("work_item_id", item.ID).Msg("failed to persist error state")
		return
	}
	metrics.HAErrors.WithLabelValues(string(item.Type)).Inc()
	e.opts.Alerts.Send(events.AlertHAError, item.WorkloadID,
		fmt.Sprintf("%s work for workload %s on host %s failed after %d attempts: %v",
			item.Type, item.WorkloadID, item.HostID, item.TimesTried, err))
}

func (e *Engine) transition(item *types.HAWorkItem, step types.Step) error {
	item.Step = step
	item.TimeToTry = time.Now()
	item.UpdatedAt = item.TimeToTry
	if err := e.store.SaveWorkItem(item); err != nil {
		return fmt.Errorf("failed to save work item: %w", err)
	}
	metrics.HATransitions.WithLabelValues(string(step)).Inc()
	return nil
}

func (e *Engine) save(item *types.HAWorkItem) {
	item.UpdatedAt = time.Now()
	if err := e.store.SaveWorkItem(item); err != nil {
		e.logger.Error().Err(err).Str("work_item_id", item.ID).Msg("failed to save work item")
	}
}

func (e *Engine) publish(t events.EventType, item *types.HAWorkItem, msg string) {
	if e.opts.Broker == nil {
		return
	}
	e.opts.Broker.Publish(&events.Event{
		Type:    t,
		Message: msg,
		Metadata: map[string]string{
			"work_item_id": item.ID,
			"workload_id":  item.WorkloadID,
			"host_id":      item.HostID,
			"type":         string(item.Type),
			"step":         string(item.Step),
		},
	})
}

func isPermanent(err error) bool {
	return errors.Is(err, types.ErrAffinityConflict) || errors.Is(err, types.ErrNotFound)
}
