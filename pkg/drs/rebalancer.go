package drs

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cuemby/paddock/pkg/agent"
	"github.com/cuemby/paddock/pkg/allocator"
	"github.com/cuemby/paddock/pkg/config"
	"github.com/cuemby/paddock/pkg/events"
	"github.com/cuemby/paddock/pkg/inventory"
	"github.com/cuemby/paddock/pkg/lease"
	"github.com/cuemby/paddock/pkg/log"
	"github.com/cuemby/paddock/pkg/metrics"
	"github.com/cuemby/paddock/pkg/types"
	"github.com/rs/zerolog"
)

// Settings resolves the effective DRS settings of a cluster
type Settings interface {
	DRSForCluster(clusterID string) config.ClusterDRS
}

// Deployer reserves and confirms migration targets
type Deployer interface {
	Deploy(ctx context.Context, profile *types.WorkloadProfile, plan types.DeploymentPlan, exclude *types.ExcludeList, plannerHint string) (*types.Reservation, error)
	ConfirmReservation(ctx context.Context, token string) (*types.Reservation, error)
	CancelReservation(ctx context.Context, token string) error
}

// PendingWork reports workloads that HA is already acting on
type PendingWork interface {
	HasPendingHaWork(ctx context.Context, workloadID string) (bool, error)
}

// Leader gates the automatic loops to the raft leader
type Leader interface {
	IsLeader() bool
}

// Options wires the optional collaborators of the rebalancer
type Options struct {
	Pending PendingWork
	Leader  Leader
	Broker  *events.Broker
	Alerts  events.Alerting
}

// Round is the outcome of one rebalance pass over a cluster
type Round struct {
	Plan      *types.RebalancePlan `json:"plan"`
	Algorithm string               `json:"algorithm"`
	Threshold float64              `json:"threshold"`
	DryRun    bool                 `json:"dry_run"`
	Executed  int                  `json:"executed"`
	Failed    int                  `json:"failed"`
	Skipped   int                  `json:"skipped"`
}

// Rebalancer computes cluster imbalance and moves workloads to reduce it
type Rebalancer struct {
	inv      inventory.Inventory
	deployer Deployer
	exec     agent.Executor
	leases   *lease.Manager
	settings Settings
	opts     Options
	logger   zerolog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRebalancer creates a rebalancer
func NewRebalancer(
	inv inventory.Inventory,
	deployer Deployer,
	exec agent.Executor,
	leases *lease.Manager,
	settings Settings,
	opts Options,
) *Rebalancer {
	if opts.Alerts == nil {
		opts.Alerts = events.NewAlerter(opts.Broker)
	}
	return &Rebalancer{
		inv:      inv,
		deployer: deployer,
		exec:     exec,
		leases:   leases,
		settings: settings,
		opts:     opts,
		logger:   log.WithComponent("drs"),
		stopCh:   make(chan struct{}),
	}
}

func (r *Rebalancer) normalizer(cfg config.ClusterDRS) (Normalizer, error) {
	return NewRatioNormalizer(types.Metric(cfg.Metric), cfg.MetricType, cfg.SkipThreshold)
}

func (r *Rebalancer) usableHosts(ctx context.Context, clusterID string) (*types.Cluster, []*types.ResourceCandidate, error) {
	c, err := r.inv.GetCluster(ctx, clusterID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get cluster %s: %w", clusterID, err)
	}
	hosts, err := r.inv.ListCandidateHosts(ctx, c.Scope(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list hosts of cluster %s: %w", clusterID, err)
	}
	var out []*types.ResourceCandidate
	for _, h := range hosts {
		if h.Usable() {
			out = append(out, h)
		}
	}
	return c, out, nil
}

// GetClusterImbalance returns the imbalance score of a cluster, or NoScore
// when it is undefined.
func (r *Rebalancer) GetClusterImbalance(ctx context.Context, clusterID string) (float64, error) {
	n, err := r.normalizer(r.settings.DRSForCluster(clusterID))
	if err != nil {
		return NoScore, err
	}
	_, hosts, err := r.usableHosts(ctx, clusterID)
	if err != nil {
		return NoScore, err
	}

	score := Score(n, hosts)
	metrics.ClusterImbalance.WithLabelValues(clusterID).Set(score)
	return score, nil
}

// FindResourcesToBalance returns the usable hosts of a cluster that take
// part in the comparison. Hosts past the skip threshold are left out.
func (r *Rebalancer) FindResourcesToBalance(ctx context.Context, clusterID string) ([]*types.ResourceCandidate, error) {
	n, err := r.normalizer(r.settings.DRSForCluster(clusterID))
	if err != nil {
		return nil, err
	}
	_, hosts, err := r.usableHosts(ctx, clusterID)
	if err != nil {
		return nil, err
	}

	var out []*types.ResourceCandidate
	for _, h := range hosts {
		if _, ok := n.Normalize(h); ok {
			out = append(out, h)
		}
	}
	return out, nil
}

// FindWorkloadsToBalance returns the running workloads that may move this
// round: those on balanced resources, outside host-affinity groups, and
// without pending HA work.
func (r *Rebalancer) FindWorkloadsToBalance(ctx context.Context, clusterID string) ([]*types.WorkloadProfile, error) {
	resources, err := r.FindResourcesToBalance(ctx, clusterID)
	if err != nil {
		return nil, err
	}
	onResource := make(map[string]bool, len(resources))
	for _, h := range resources {
		onResource[h.ID] = true
	}

	c, err := r.inv.GetCluster(ctx, clusterID)
	if err != nil {
		return nil, fmt.Errorf("failed to get cluster %s: %w", clusterID, err)
	}
	workloads, err := r.inv.ListWorkloads(ctx, c.Scope())
	if err != nil {
		return nil, fmt.Errorf("failed to list workloads of cluster %s: %w", clusterID, err)
	}

	var out []*types.WorkloadProfile
	for _, w := range workloads {
		if w.State != types.WorkloadRunning || !onResource[w.HostID] || hasGroup(w, types.AffinityHost) {
			continue
		}
		if r.opts.Pending != nil {
			pending, err := r.opts.Pending.HasPendingHaWork(ctx, w.ID)
			if err != nil {
				return nil, err
			}
			if pending {
				continue
			}
		}
		out = append(out, w)
	}
	return out, nil
}

func hasGroup(w *types.WorkloadProfile, t types.AffinityType) bool {
	for _, g := range w.AffinityGroups {
		if g.Type == t {
			return true
		}
	}
	return false
}

func antiAffinityPeers(a, b *types.WorkloadProfile) bool {
	for _, ga := range a.AffinityGroups {
		if ga.Type != types.AntiAffinityHost {
			continue
		}
		for _, gb := range b.AffinityGroups {
			if gb.ID == ga.ID {
				return true
			}
		}
	}
	return false
}

// simulation is the scratch state of one planning pass
type simulation struct {
	norm   Normalizer
	order  []string
	hosts  map[string]*types.ResourceCandidate
	onHost map[string][]*types.WorkloadProfile
}

func newSimulation(n Normalizer, resources []*types.ResourceCandidate, workloads []*types.WorkloadProfile) *simulation {
	s := &simulation{
		norm:   n,
		hosts:  make(map[string]*types.ResourceCandidate, len(resources)),
		onHost: make(map[string][]*types.WorkloadProfile),
	}
	for _, h := range resources {
		cp := *h
		s.hosts[h.ID] = &cp
		s.order = append(s.order, h.ID)
	}
	for _, w := range workloads {
		s.onHost[w.HostID] = append(s.onHost[w.HostID], w)
	}
	return s
}

func (s *simulation) score() float64 {
	list := make([]*types.ResourceCandidate, 0, len(s.order))
	for _, id := range s.order {
		list = append(list, s.hosts[id])
	}
	return Score(s.norm, list)
}

// scoreAfter scores the cluster as if w moved from src to dst. ok is false
// when the move would push a host out of the comparison set.
func (s *simulation) scoreAfter(w *types.WorkloadProfile, src, dst string) (float64, bool) {
	from, to := *s.hosts[src], *s.hosts[dst]
	shift(&from, &to, w.Requirements)

	values := make([]float64, 0, len(s.order))
	for _, id := range s.order {
		h := s.hosts[id]
		switch id {
		case src:
			h = &from
		case dst:
			h = &to
		}
		v, ok := s.norm.Normalize(h)
		if !ok {
			return NoScore, false
		}
		values = append(values, v)
	}
	return Imbalance(values), true
}

func (s *simulation) apply(m *types.RebalanceMove) {
	shift(s.hosts[m.SourceID], s.hosts[m.TargetID], m.Workload.Requirements)

	peers := s.onHost[m.SourceID]
	for i, w := range peers {
		if w.ID == m.Workload.ID {
			s.onHost[m.SourceID] = append(peers[:i:i], peers[i+1:]...)
			break
		}
	}
	s.onHost[m.TargetID] = append(s.onHost[m.TargetID], m.Workload)
}

func (s *simulation) conflicts(w *types.WorkloadProfile, hostID string) bool {
	for _, other := range s.onHost[hostID] {
		if antiAffinityPeers(w, other) {
			return true
		}
	}
	return false
}

func shift(from, to *types.ResourceCandidate, req types.Requirements) {
	for _, m := range allocator.MetricsFor(types.ResourceHost) {
		src := from.Capacity.Ref(m)
		src.Used = math.Max(0, src.Used-req.Get(m))
		to.Capacity.Ref(m).Used += req.Get(m)
	}
}

// Plan proposes the moves of one round without executing them. The plan
// is empty when the algorithm finds nothing to do.
func (r *Rebalancer) Plan(ctx context.Context, clusterID string) (*types.RebalancePlan, error) {
	cfg := r.settings.DRSForCluster(clusterID)
	alg, err := NewAlgorithm(cfg.Algorithm)
	if err != nil {
		return nil, err
	}
	n, err := r.normalizer(cfg)
	if err != nil {
		return nil, err
	}

	resources, err := r.FindResourcesToBalance(ctx, clusterID)
	if err != nil {
		return nil, err
	}
	movable, err := r.FindWorkloadsToBalance(ctx, clusterID)
	if err != nil {
		return nil, err
	}
	c, err := r.inv.GetCluster(ctx, clusterID)
	if err != nil {
		return nil, fmt.Errorf("failed to get cluster %s: %w", clusterID, err)
	}
	all, err := r.inv.ListWorkloads(ctx, c.Scope())
	if err != nil {
		return nil, fmt.Errorf("failed to list workloads of cluster %s: %w", clusterID, err)
	}

	sim := newSimulation(n, resources, all)
	current := sim.score()
	metrics.ClusterImbalance.WithLabelValues(clusterID).Set(current)

	plan := &types.RebalancePlan{ClusterID: clusterID, Before: current, After: current}
	if !alg.NeedsRebalance(current, cfg.ImbalanceThreshold) {
		return plan, nil
	}

	maxMoves := MaxMoves(len(movable), cfg.IterationsFraction)
	moved := make(map[string]bool)
	seq := 0

	for len(plan.Moves) < maxMoves {
		var candidates []*types.RebalanceMove
		for _, w := range movable {
			if moved[w.ID] {
				continue
			}
			for _, target := range sim.order {
				if target == w.HostID || sim.conflicts(w, target) {
					continue
				}
				if !allocator.HasCapacity(sim.hosts[target], w.Requirements) {
					continue
				}
				after, ok := sim.scoreAfter(w, w.HostID, target)
				if !ok {
					continue
				}
				benefit := alg.Benefit(current, after)
				if benefit <= 0 {
					continue
				}
				seq++
				candidates = append(candidates, &types.RebalanceMove{
					Workload: w,
					SourceID: w.HostID,
					TargetID: target,
					Cost:     w.Requirements.Memory,
					Benefit:  benefit,
					Sequence: seq,
				})
			}
		}
		if len(candidates) == 0 {
			break
		}

		rank(candidates)
		best := candidates[0]
		sim.apply(best)
		moved[best.Workload.ID] = true
		current = sim.score()
		plan.Moves = append(plan.Moves, best)
	}

	plan.After = current
	return plan, nil
}

// Balance runs one round on a cluster. With dryRun the plan is returned
// and nothing moves.
func (r *Rebalancer) Balance(ctx context.Context, clusterID string, dryRun bool) (*Round, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RebalanceDuration)

	cfg := r.settings.DRSForCluster(clusterID)
	plan, err := r.Plan(ctx, clusterID)
	if err != nil {
		return nil, err
	}

	round := &Round{
		Plan:      plan,
		Algorithm: cfg.Algorithm,
		Threshold: cfg.ImbalanceThreshold,
		DryRun:    dryRun,
	}
	r.logger.Info().
		Str("cluster_id", clusterID).
		Float64("imbalance", plan.Before).
		Float64("projected", plan.After).
		Int("moves", len(plan.Moves)).
		Bool("dry_run", dryRun).
		Msg("rebalance round planned")

	if dryRun {
		return round, nil
	}

	for _, m := range plan.Moves {
		err := r.executeMove(ctx, clusterID, m)
		switch {
		case err == nil:
			round.Executed++
			metrics.RebalanceMoves.WithLabelValues("success").Inc()
		case errors.Is(err, errSkipped):
			round.Skipped++
			metrics.RebalanceMoves.WithLabelValues("skipped").Inc()
			r.logger.Debug().Err(err).Str("workload_id", m.Workload.ID).Msg("move skipped")
		default:
			round.Failed++
			metrics.RebalanceMoves.WithLabelValues("failed").Inc()
			r.logger.Warn().Err(err).Str("workload_id", m.Workload.ID).Msg("move failed")
		}
	}

	if round.Failed > 0 {
		r.opts.Alerts.Send(events.AlertRebalanceError, clusterID,
			fmt.Sprintf("%d of %d rebalance moves failed in cluster %s", round.Failed, len(plan.Moves), clusterID))
	}
	if _, err := r.GetClusterImbalance(ctx, clusterID); err != nil {
		r.logger.Warn().Err(err).Str("cluster_id", clusterID).Msg("failed to refresh imbalance")
	}
	return round, nil
}

var errSkipped = errors.New("move skipped")

// executeMove migrates one workload through the planning engine, with the
// source host excluded so the move cannot stay put.
func (r *Rebalancer) executeMove(ctx context.Context, clusterID string, m *types.RebalanceMove) error {
	ctx = lease.WithOwner(ctx, "drs/"+m.Workload.ID)
	release, err := r.leases.Acquire(ctx, m.Workload.ID)
	if err != nil {
		return fmt.Errorf("%v: %w", err, errSkipped)
	}
	defer release()

	if r.opts.Pending != nil {
		pending, err := r.opts.Pending.HasPendingHaWork(ctx, m.Workload.ID)
		if err != nil {
			return err
		}
		if pending {
			return fmt.Errorf("workload %s has pending HA work: %w", m.Workload.ID, errSkipped)
		}
	}

	w, err := r.inv.GetWorkload(ctx, m.Workload.ID)
	if err != nil {
		return fmt.Errorf("failed to get workload %s: %w", m.Workload.ID, err)
	}
	if w.HostID != m.SourceID || w.State != types.WorkloadRunning {
		return fmt.Errorf("workload %s moved since planning: %w", w.ID, errSkipped)
	}

	exclude := types.NewExcludeList()
	exclude.AddHost(m.SourceID)
	plan := types.DeploymentPlan{
		ZoneID:    w.ZoneID,
		ClusterID: clusterID,
		HostID:    m.TargetID,
		PoolID:    w.PoolID,
	}
	res, err := r.deployer.Deploy(ctx, w, plan, exclude, "")
	if err != nil {
		return fmt.Errorf("failed to reserve %s for %s: %w", m.TargetID, w.ID, err)
	}

	source := types.Destination{ZoneID: w.ZoneID, ClusterID: clusterID, HostID: m.SourceID, PoolID: w.PoolID}
	answer, err := r.exec.Apply(ctx, source, types.Command{
		Type:        types.CommandMigrate,
		WorkloadID:  w.ID,
		Destination: res.Destination,
	})
	if err == nil && !answer.Result {
		err = fmt.Errorf("migration refused: %s: %w", answer.Details, types.ErrResourceUnavailable)
	}
	if err != nil {
		if cerr := r.deployer.CancelReservation(ctx, res.Token); cerr != nil {
			r.logger.Warn().Err(cerr).Str("reservation", res.Token).Msg("failed to cancel reservation")
		}
		return fmt.Errorf("failed to migrate %s: %w", w.ID, err)
	}

	if _, err := r.deployer.ConfirmReservation(ctx, res.Token); err != nil {
		return fmt.Errorf("failed to confirm reservation: %w", err)
	}

	r.logger.Info().
		Str("workload_id", w.ID).
		Str("from", m.SourceID).
		Str("to", res.Destination.HostID).
		Msg("workload rebalanced")
	if r.opts.Broker != nil {
		r.opts.Broker.Publish(&events.Event{
			Type:    events.EventRebalanceMove,
			Message: fmt.Sprintf("moved %s from %s to %s", w.ID, m.SourceID, res.Destination.HostID),
			Metadata: map[string]string{
				"cluster_id":  clusterID,
				"workload_id": w.ID,
				"source_id":   m.SourceID,
				"target_id":   res.Destination.HostID,
			},
		})
	}
	return nil
}

// Start runs one automatic timer per cluster with automatic DRS enabled
func (r *Rebalancer) Start() error {
	clusters, err := r.inv.ListClusters(context.Background(), "")
	if err != nil {
		return fmt.Errorf("failed to list clusters: %w", err)
	}

	for _, c := range clusters {
		cfg := r.settings.DRSForCluster(c.ID)
		if !cfg.AutomaticEnable || cfg.AutomaticInterval <= 0 {
			continue
		}
		metrics.RegisterLoop(healthComponent(c.ID), 3*cfg.AutomaticInterval)
		r.wg.Add(1)
		go r.runCluster(c.ID, cfg.AutomaticInterval)
		r.logger.Info().
			Str("cluster_id", c.ID).
			Dur("interval", cfg.AutomaticInterval).
			Msg("automatic DRS enabled")
	}
	return nil
}

// Stop stops the automatic timers
func (r *Rebalancer) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

// healthComponent names a cluster's DRS timer in the readiness registry
func healthComponent(clusterID string) string {
	return "drs/" + clusterID
}

func (r *Rebalancer) runCluster(clusterID string, interval time.Duration) {
	defer r.wg.Done()
	defer metrics.UnregisterComponent(healthComponent(clusterID))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if r.opts.Leader != nil && !r.opts.Leader.IsLeader() {
				metrics.Heartbeat(healthComponent(clusterID), nil)
				continue
			}
			_, err := r.Balance(context.Background(), clusterID, false)
			if err != nil {
				r.logger.Error().Err(err).Str("cluster_id", clusterID).Msg("automatic rebalance failed")
			}
			metrics.Heartbeat(healthComponent(clusterID), err)
		case <-r.stopCh:
			return
		}
	}
}
