package deploy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/paddock/pkg/affinity"
	"github.com/cuemby/paddock/pkg/allocator"
	"github.com/cuemby/paddock/pkg/draining"
	"github.com/cuemby/paddock/pkg/events"
	"github.com/cuemby/paddock/pkg/inventory"
	"github.com/cuemby/paddock/pkg/lease"
	"github.com/cuemby/paddock/pkg/log"
	"github.com/cuemby/paddock/pkg/metrics"
	"github.com/cuemby/paddock/pkg/planner"
	"github.com/cuemby/paddock/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ReservationStore persists reservations
type ReservationStore interface {
	SaveReservation(r *types.Reservation) error
	GetReservation(token string) (*types.Reservation, error)
	ListReservations() ([]*types.Reservation, error)
	DeleteReservation(token string) error
}

// Leader gates background loops to the raft leader
type Leader interface {
	IsLeader() bool
}

// Options tunes the planning manager
type Options struct {
	ReservationTTL    time.Duration
	CleanupInterval   time.Duration
	MaxDeployAttempts int
	// Leader is optional; without it the sweeper always runs
	Leader Leader
	// Broker is optional
	Broker *events.Broker
}

// Manager is the deployment planning manager. It runs affinity processing,
// planner selection and allocation for a placement, then reserves the result.
type Manager struct {
	inv        inventory.Inventory
	store      ReservationStore
	planners   *planner.Registry
	hosts      *allocator.Allocator
	pools      *allocator.Allocator
	processors []affinity.Processor
	draining   *draining.Manager
	leases     *lease.Manager
	opts       Options
	logger     zerolog.Logger
	stopCh     chan struct{}
}

// NewManager creates a planning manager
func NewManager(
	inv inventory.Inventory,
	store ReservationStore,
	planners *planner.Registry,
	hosts, pools *allocator.Allocator,
	leases *lease.Manager,
	opts Options,
) *Manager {
	if opts.MaxDeployAttempts < 1 {
		opts.MaxDeployAttempts = 1
	}
	return &Manager{
		inv:        inv,
		store:      store,
		planners:   planners,
		hosts:      hosts,
		pools:      pools,
		processors: affinity.Defaults(inv),
		draining:   draining.NewManager(inv),
		leases:     leases,
		opts:       opts,
		logger:     log.WithComponent("planner"),
		stopCh:     make(chan struct{}),
	}
}

// PlanDeployment finds a destination for profile. Pins in plan are honored
// exactly and exclude entries are hard exclusions; clusters that yield no
// host or pool are added to exclude. Nothing is reserved.
func (m *Manager) PlanDeployment(ctx context.Context, profile *types.WorkloadProfile, plan types.DeploymentPlan, exclude *types.ExcludeList, plannerHint string) (*types.Destination, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PlacementLatency)

	if exclude == nil {
		exclude = types.NewExcludeList()
	}

	p, err := m.planners.Get(plannerHint)
	if err != nil {
		return nil, err
	}

	dest, err := m.plan(ctx, profile, plan, exclude, p)
	metrics.PlacementAttempts.WithLabelValues(p.Name(), resultLabel(err)).Inc()
	if err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("workload_id", profile.ID).
		Str("planner", p.Name()).
		Str("cluster_id", dest.ClusterID).
		Str("host_id", dest.HostID).
		Str("pool_id", dest.PoolID).
		Msg("planned deployment")
	return dest, nil
}

func (m *Manager) plan(ctx context.Context, profile *types.WorkloadProfile, plan types.DeploymentPlan, exclude *types.ExcludeList, p planner.Planner) (*types.Destination, error) {
	if err := m.draining.AddDrainingToAvoids(ctx, plan.ZoneID, exclude); err != nil {
		return nil, err
	}

	// Processors narrow a copy; the caller's plan is never modified
	narrowed := plan
	for _, proc := range m.processors {
		if err := proc.Process(ctx, profile, &narrowed, exclude); err != nil {
			return nil, fmt.Errorf("affinity processor %s: %w", proc.Name(), err)
		}
	}

	if narrowed.HostID != "" {
		return m.planPinnedHost(ctx, profile, narrowed, exclude)
	}

	clusters, err := p.OrderClusters(ctx, profile, narrowed, exclude)
	if err != nil {
		return nil, fmt.Errorf("planner %s failed: %w", p.Name(), err)
	}

	for _, c := range clusters {
		if exclude.ShouldAvoidCluster(c) {
			continue
		}
		dest, err := m.tryCluster(ctx, profile, narrowed, c.Scope(), exclude)
		if err != nil {
			return nil, err
		}
		if dest != nil {
			return dest, nil
		}
		m.logger.Debug().Str("cluster_id", c.ID).Str("workload_id", profile.ID).Msg("cluster has no fit, excluding")
		exclude.AddCluster(c.ID)
	}

	return nil, fmt.Errorf("no destination for workload %s in zone %s: %w", profile.ID, plan.ZoneID, types.ErrInsufficientCapacity)
}

func (m *Manager) planPinnedHost(ctx context.Context, profile *types.WorkloadProfile, plan types.DeploymentPlan, exclude *types.ExcludeList) (*types.Destination, error) {
	host, err := m.inv.GetHost(ctx, plan.HostID)
	if err != nil {
		return nil, fmt.Errorf("failed to get pinned host: %w", err)
	}
	if plan.ClusterID != "" && plan.ClusterID != host.Scope.ClusterID {
		return nil, fmt.Errorf("pinned host %s is not in pinned cluster %s: %w", host.ID, plan.ClusterID, types.ErrAffinityConflict)
	}

	// Only the pinned host is eligible
	hosts, err := m.hosts.Allocate(ctx, profile, host.Scope, exclude)
	if err != nil {
		return nil, err
	}
	for _, h := range hosts {
		if h.ID != host.ID {
			continue
		}
		dest, err := m.tryPools(ctx, profile, plan, host.Scope, exclude, h)
		if err != nil || dest != nil {
			return dest, err
		}
		break
	}
	return nil, fmt.Errorf("pinned host %s cannot take workload %s: %w", host.ID, profile.ID, types.ErrInsufficientCapacity)
}

// tryCluster returns nil when the cluster has no host or no pool for profile
func (m *Manager) tryCluster(ctx context.Context, profile *types.WorkloadProfile, plan types.DeploymentPlan, scope types.Scope, exclude *types.ExcludeList) (*types.Destination, error) {
	hosts, err := m.hosts.Allocate(ctx, profile, scope, exclude)
	if err != nil {
		return nil, err
	}
	if len(hosts) == 0 {
		return nil, nil
	}
	return m.tryPools(ctx, profile, plan, scope, exclude, hosts[0])
}

func (m *Manager) tryPools(ctx context.Context, profile *types.WorkloadProfile, plan types.DeploymentPlan, scope types.Scope, exclude *types.ExcludeList, host *types.ResourceCandidate) (*types.Destination, error) {
	dest := &types.Destination{
		ZoneID:    host.Scope.ZoneID,
		PodID:     host.Scope.PodID,
		ClusterID: host.Scope.ClusterID,
		HostID:    host.ID,
	}

	if plan.PoolID != "" {
		ok, err := m.poolReachable(ctx, profile, plan.PoolID, scope, exclude)
		if err != nil || !ok {
			return nil, err
		}
		dest.PoolID = plan.PoolID
		return dest, nil
	}

	pools, err := m.pools.Allocate(ctx, profile, scope, exclude)
	if err != nil {
		return nil, err
	}
	if len(pools) == 0 {
		return nil, nil
	}
	dest.PoolID = pools[0].ID
	return dest, nil
}

// poolReachable checks a pinned pool. The workload's current pool already
// holds its disk, so its capacity is not checked again.
func (m *Manager) poolReachable(ctx context.Context, profile *types.WorkloadProfile, poolID string, scope types.Scope, exclude *types.ExcludeList) (bool, error) {
	pool, err := m.inv.GetStoragePool(ctx, poolID)
	if err != nil {
		return false, fmt.Errorf("failed to get pinned pool: %w", err)
	}
	if exclude.ShouldAvoid(pool) || !pool.Usable() {
		return false, nil
	}
	if !scope.Contains(pool.Scope) && !pool.Scope.Contains(scope) {
		return false, nil
	}
	if poolID == profile.PoolID {
		return true, nil
	}
	return allocator.HasCapacity(pool, profile.Requirements), nil
}

// FinalizeReservation reserves the destination under the workload's lease.
// Capacity is re-validated by the inventory. On failure the rejected resource
// is added to exclude and types.ErrResourceUnavailable is returned; the
// caller re-plans, nothing is retried here.
func (m *Manager) FinalizeReservation(ctx context.Context, dest *types.Destination, profile *types.WorkloadProfile, plan types.DeploymentPlan, exclude *types.ExcludeList, plannerName string) (string, error) {
	release, err := m.leases.Acquire(ctx, profile.ID)
	if err != nil {
		return "", err
	}
	defer release()

	if exclude == nil {
		exclude = types.NewExcludeList()
	}

	if pending, err := m.pendingReservation(profile.ID); err != nil {
		return "", err
	} else if pending != nil {
		return "", fmt.Errorf("workload %s already holds reservation %s: %w", profile.ID, pending.Token, types.ErrLockContention)
	}

	hostToken, err := m.inv.Reserve(ctx, dest.HostID, profile)
	if err != nil {
		exclude.AddHost(dest.HostID)
		return "", unavailable("host", dest.HostID, err)
	}

	var poolToken string
	if dest.PoolID != "" && dest.PoolID != profile.PoolID {
		poolToken, err = m.inv.Reserve(ctx, dest.PoolID, profile)
		if err != nil {
			m.releaseQuietly(ctx, hostToken)
			exclude.AddPool(dest.PoolID)
			return "", unavailable("storage pool", dest.PoolID, err)
		}
	}

	r := &types.Reservation{
		Token:       uuid.New().String(),
		WorkloadID:  profile.ID,
		Destination: *dest,
		Planner:     plannerName,
		HostToken:   hostToken,
		PoolToken:   poolToken,
		CreatedAt:   time.Now(),
	}
	if err := m.store.SaveReservation(r); err != nil {
		m.releaseQuietly(ctx, hostToken)
		m.releaseQuietly(ctx, poolToken)
		return "", fmt.Errorf("failed to save reservation: %w", err)
	}

	m.logger.Info().
		Str("workload_id", profile.ID).
		Str("reservation", r.Token).
		Str("host_id", dest.HostID).
		Msg("reserved destination")
	return r.Token, nil
}

func unavailable(kind, id string, err error) error {
	if errors.Is(err, types.ErrResourceUnavailable) {
		return fmt.Errorf("failed to reserve %s %s: %w", kind, id, err)
	}
	return fmt.Errorf("failed to reserve %s %s: %v: %w", kind, id, err, types.ErrResourceUnavailable)
}

func (m *Manager) pendingReservation(workloadID string) (*types.Reservation, error) {
	reservations, err := m.store.ListReservations()
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	for _, r := range reservations {
		if r.WorkloadID == workloadID && !r.Confirmed {
			return r, nil
		}
	}
	return nil, nil
}

func (m *Manager) releaseQuietly(ctx context.Context, token string) {
	if token == "" {
		return
	}
	if err := m.inv.Release(ctx, token); err != nil && !errors.Is(err, types.ErrNotFound) {
		m.logger.Warn().Err(err).Str("token", token).Msg("failed to release inventory hold")
	}
}

// ConfirmReservation turns a reservation into usage. Confirmed reservations
// are never swept. A confirmation that stopped after the host commit is
// resumed by calling it again.
func (m *Manager) ConfirmReservation(ctx context.Context, token string) (*types.Reservation, error) {
	r, err := m.store.GetReservation(token)
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	if r.Confirmed {
		return r, nil
	}

	if !r.HostCommitted {
		if err := m.inv.Commit(ctx, r.HostToken); err != nil {
			return nil, fmt.Errorf("failed to commit host reservation: %w", err)
		}
		r.HostCommitted = true
		if err := m.store.SaveReservation(r); err != nil {
			return nil, fmt.Errorf("failed to save reservation: %w", err)
		}
	}
	if r.PoolToken != "" {
		if err := m.inv.Commit(ctx, r.PoolToken); err != nil {
			return nil, fmt.Errorf("failed to commit pool reservation: %w", err)
		}
	}

	r.Confirmed = true
	r.ConfirmedAt = time.Now()
	if err := m.store.SaveReservation(r); err != nil {
		return nil, fmt.Errorf("failed to save reservation: %w", err)
	}

	if m.opts.Broker != nil {
		m.opts.Broker.Publish(&events.Event{
			Type:    events.EventWorkloadPlaced,
			Message: fmt.Sprintf("workload %s placed on host %s", r.WorkloadID, r.Destination.HostID),
			Metadata: map[string]string{
				"workload_id": r.WorkloadID,
				"host_id":     r.Destination.HostID,
				"pool_id":     r.Destination.PoolID,
			},
		})
	}
	return r, nil
}

// CancelReservation releases an unconfirmed reservation
func (m *Manager) CancelReservation(ctx context.Context, token string) error {
	r, err := m.store.GetReservation(token)
	if err != nil {
		return fmt.Errorf("failed to get reservation: %w", err)
	}
	if r.Confirmed {
		return fmt.Errorf("reservation %s is already confirmed", token)
	}
	if r.HostCommitted {
		return fmt.Errorf("reservation %s is partially confirmed", token)
	}

	m.releaseQuietly(ctx, r.HostToken)
	m.releaseQuietly(ctx, r.PoolToken)
	if err := m.store.DeleteReservation(token); err != nil {
		return fmt.Errorf("failed to delete reservation: %w", err)
	}
	return nil
}

// CleanupVMReservations releases unconfirmed reservations older than the
// TTL and drops confirmed records past it. It returns how many unconfirmed
// reservations were released.
func (m *Manager) CleanupVMReservations(ctx context.Context) (int, error) {
	reservations, err := m.store.ListReservations()
	if err != nil {
		return 0, fmt.Errorf("failed to list reservations: %w", err)
	}

	cutoff := time.Now().Add(-m.opts.ReservationTTL)
	released := 0
	for _, r := range reservations {
		if r.Confirmed {
			if r.ConfirmedAt.Before(cutoff) {
				if err := m.store.DeleteReservation(r.Token); err != nil {
					m.logger.Warn().Err(err).Str("reservation", r.Token).Msg("failed to drop confirmed reservation")
				}
			}
			continue
		}
		if !r.CreatedAt.Before(cutoff) {
			continue
		}
		if r.HostCommitted {
			// the workload already runs on the host
			if _, err := m.ConfirmReservation(ctx, r.Token); err != nil {
				m.logger.Warn().Err(err).Str("reservation", r.Token).Msg("failed to complete partial confirmation")
			}
			continue
		}

		m.releaseQuietly(ctx, r.HostToken)
		m.releaseQuietly(ctx, r.PoolToken)
		if err := m.store.DeleteReservation(r.Token); err != nil {
			m.logger.Warn().Err(err).Str("reservation", r.Token).Msg("failed to delete expired reservation")
			continue
		}
		released++
		metrics.ReservationsExpired.Inc()

		m.logger.Warn().
			Str("workload_id", r.WorkloadID).
			Str("reservation", r.Token).
			Dur("age", time.Since(r.CreatedAt)).
			Msg("released expired reservation")
		if m.opts.Broker != nil {
			m.opts.Broker.Publish(&events.Event{
				Type:     events.EventReservationExpired,
				Message:  fmt.Sprintf("reservation %s for workload %s expired", r.Token, r.WorkloadID),
				Metadata: map[string]string{"workload_id": r.WorkloadID, "reservation": r.Token},
			})
		}
	}
	return released, nil
}

// Deploy plans and reserves in one call. A reservation rejected by the
// inventory excludes the resource and re-plans, up to MaxDeployAttempts.
// exclude is carried across attempts and may be nil.
func (m *Manager) Deploy(ctx context.Context, profile *types.WorkloadProfile, plan types.DeploymentPlan, exclude *types.ExcludeList, plannerHint string) (*types.Reservation, error) {
	if exclude == nil {
		exclude = types.NewExcludeList()
	}
	p, err := m.planners.Get(plannerHint)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= m.opts.MaxDeployAttempts; attempt++ {
		dest, err := m.PlanDeployment(ctx, profile, plan, exclude, p.Name())
		if err != nil {
			return nil, err
		}

		token, err := m.FinalizeReservation(ctx, dest, profile, plan, exclude, p.Name())
		if err == nil {
			return m.store.GetReservation(token)
		}
		if !errors.Is(err, types.ErrResourceUnavailable) {
			return nil, err
		}

		lastErr = err
		m.logger.Warn().Err(err).
			Str("workload_id", profile.ID).
			Int("attempt", attempt).
			Msg("reservation rejected, re-planning")
	}
	return nil, fmt.Errorf("no reservation after %d attempts: %v: %w", m.opts.MaxDeployAttempts, lastErr, types.ErrInsufficientCapacity)
}

// healthComponent names the sweeper in the readiness registry
const healthComponent = "planner"

// Start begins the reservation sweeper loop
func (m *Manager) Start() {
	metrics.RegisterLoop(healthComponent, 3*m.cleanupInterval())
	go m.run()
}

// Stop stops the sweeper
func (m *Manager) Stop() {
	close(m.stopCh)
	metrics.UnregisterComponent(healthComponent)
}

func (m *Manager) cleanupInterval() time.Duration {
	if m.opts.CleanupInterval <= 0 {
		return time.Minute
	}
	return m.opts.CleanupInterval
}

func (m *Manager) run() {
	ticker := time.NewTicker(m.cleanupInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if m.opts.Leader != nil && !m.opts.Leader.IsLeader() {
				metrics.Heartbeat(healthComponent, nil)
				continue
			}
			_, err := m.CleanupVMReservations(context.Background())
			if err != nil {
				m.logger.Error().Err(err).Msg("reservation sweep failed")
			}
			metrics.Heartbeat(healthComponent, err)
			if n := m.leases.CleanupExpired(); n > 0 {
				m.logger.Debug().Int("leases", n).Msg("removed expired leases")
			}
		case <-m.stopCh:
			return
		}
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, types.ErrAffinityConflict):
		return "affinity_conflict"
	case errors.Is(err, types.ErrInsufficientCapacity):
		return "insufficient_capacity"
	default:
		return "error"
	}
}
