package inventory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/paddock/pkg/types"
	"github.com/google/uuid"
)

type hold struct {
	resourceID string
	kind       types.ResourceKind
	req        types.Requirements
}

var _ Inventory = (*Memory)(nil)

// Memory is a thread-safe in-memory Inventory. It backs `paddock serve`
// with a static inventory file and every package's tests.
type Memory struct {
	mu        sync.RWMutex
	clusters  map[string]*types.Cluster
	hosts     map[string]*types.ResourceCandidate
	pools     map[string]*types.ResourceCandidate
	workloads map[string]*types.WorkloadProfile
	holds     map[string]hold
}

// NewMemory creates an empty inventory
func NewMemory() *Memory {
	return &Memory{
		clusters:  make(map[string]*types.Cluster),
		hosts:     make(map[string]*types.ResourceCandidate),
		pools:     make(map[string]*types.ResourceCandidate),
		workloads: make(map[string]*types.WorkloadProfile),
		holds:     make(map[string]hold),
	}
}

// AddCluster adds or replaces a cluster
func (m *Memory) AddCluster(c *types.Cluster) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	if cp.AllocationState == "" {
		cp.AllocationState = types.AllocationEnabled
	}
	m.clusters[c.ID] = &cp
}

// AddHost adds or replaces a host
func (m *Memory) AddHost(h *types.ResourceCandidate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hosts[h.ID] = normalize(h, types.ResourceHost)
}

// AddStoragePool adds or replaces a storage pool. A pool without a cluster id
// is zone-wide.
func (m *Memory) AddStoragePool(p *types.ResourceCandidate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pools[p.ID] = normalize(p, types.ResourceStoragePool)
}

// AddWorkload adds or replaces a workload. Host usage is not adjusted;
// fixtures declare usage explicitly.
func (m *Memory) AddWorkload(w *types.WorkloadProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *w
	if cp.State == "" {
		cp.State = types.WorkloadRunning
	}
	m.workloads[w.ID] = &cp
}

func normalize(r *types.ResourceCandidate, kind types.ResourceKind) *types.ResourceCandidate {
	cp := *r
	cp.Kind = kind
	if cp.AllocationState == "" {
		cp.AllocationState = types.AllocationEnabled
	}
	if cp.Status == "" {
		cp.Status = types.ResourceUp
	}
	return &cp
}

// SetHostStatus changes a host's operational state
func (m *Memory) SetHostStatus(id string, status types.ResourceStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hosts[id]
	if !ok {
		return fmt.Errorf("host %s: %w", id, types.ErrNotFound)
	}
	h.Status = status
	return nil
}

// SetHostAllocationState enables or disables a host
func (m *Memory) SetHostAllocationState(id string, state types.AllocationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hosts[id]
	if !ok {
		return fmt.Errorf("host %s: %w", id, types.ErrNotFound)
	}
	h.AllocationState = state
	return nil
}

// SetClusterState changes a cluster's allocation state and drain flag
func (m *Memory) SetClusterState(id string, state types.AllocationState, draining bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clusters[id]
	if !ok {
		return fmt.Errorf("cluster %s: %w", id, types.ErrNotFound)
	}
	c.AllocationState = state
	c.Draining = draining
	return nil
}

// SetWorkloadState records a workload's lifecycle state
func (m *Memory) SetWorkloadState(id string, state types.WorkloadState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workloads[id]
	if !ok {
		return fmt.Errorf("workload %s: %w", id, types.ErrNotFound)
	}
	w.State = state
	return nil
}

// PlaceWorkload records a workload at a destination and frees the usage it
// held at its previous host and pool. Usage at the destination comes from
// committing its reservation.
func (m *Memory) PlaceWorkload(id string, dest types.Destination) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workloads[id]
	if !ok {
		return fmt.Errorf("workload %s: %w", id, types.ErrNotFound)
	}
	if w.HostID != dest.HostID {
		m.freeHostLocked(w)
	}
	if w.PoolID != dest.PoolID {
		m.freePoolLocked(w)
	}
	w.HostID = dest.HostID
	w.PoolID = dest.PoolID
	w.ZoneID = dest.ZoneID
	w.State = types.WorkloadRunning
	return nil
}

// EvictWorkload frees the workload's host usage and clears its host.
// The storage pool is kept; the disk stays where it is.
func (m *Memory) EvictWorkload(id string, state types.WorkloadState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workloads[id]
	if !ok {
		return fmt.Errorf("workload %s: %w", id, types.ErrNotFound)
	}
	m.freeHostLocked(w)
	w.HostID = ""
	w.State = state
	if state == types.WorkloadDestroyed {
		m.freePoolLocked(w)
		w.PoolID = ""
	}
	return nil
}

func (m *Memory) freeHostLocked(w *types.WorkloadProfile) {
	h, ok := m.hosts[w.HostID]
	if !ok {
		return
	}
	subUsed(&h.Capacity.CPU, w.Requirements.CPU)
	subUsed(&h.Capacity.Memory, w.Requirements.Memory)
}

func (m *Memory) freePoolLocked(w *types.WorkloadProfile) {
	p, ok := m.pools[w.PoolID]
	if !ok {
		return
	}
	subUsed(&p.Capacity.Storage, w.Requirements.Storage)
}

func subUsed(u *types.Usage, v float64) {
	u.Used -= v
	if u.Used < 0 {
		u.Used = 0
	}
}

func (m *Memory) ListCandidateHosts(ctx context.Context, scope types.Scope, tags []string) ([]*types.ResourceCandidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*types.ResourceCandidate
	for _, h := range m.hosts {
		if scope.Contains(h.Scope) && h.HasTags(tags) {
			cp := *h
			out = append(out, &cp)
		}
	}
	sortByID(out)
	return out, nil
}

func (m *Memory) ListCandidateStoragePools(ctx context.Context, scope types.Scope, tags []string) ([]*types.ResourceCandidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*types.ResourceCandidate
	for _, p := range m.pools {
		// Zone-wide pools serve every cluster of their zone
		if !scope.Contains(p.Scope) && !p.Scope.Contains(scope) {
			continue
		}
		if p.HasTags(tags) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sortByID(out)
	return out, nil
}

func sortByID(rs []*types.ResourceCandidate) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].ID < rs[j].ID })
}

func (m *Memory) GetHost(ctx context.Context, id string) (*types.ResourceCandidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.hosts[id]
	if !ok {
		return nil, fmt.Errorf("host %s: %w", id, types.ErrNotFound)
	}
	cp := *h
	return &cp, nil
}

func (m *Memory) GetStoragePool(ctx context.Context, id string) (*types.ResourceCandidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[id]
	if !ok {
		return nil, fmt.Errorf("storage pool %s: %w", id, types.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) GetCluster(ctx context.Context, id string) (*types.Cluster, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clusters[id]
	if !ok {
		return nil, fmt.Errorf("cluster %s: %w", id, types.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) ListClusters(ctx context.Context, zoneID string) ([]*types.Cluster, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.Cluster
	for _, c := range m.clusters {
		if zoneID == "" || c.ZoneID == zoneID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetWorkload(ctx context.Context, id string) (*types.WorkloadProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.workloads[id]
	if !ok {
		return nil, fmt.Errorf("workload %s: %w", id, types.ErrNotFound)
	}
	cp := *w
	return &cp, nil
}

func (m *Memory) ListWorkloads(ctx context.Context, scope types.Scope) ([]*types.WorkloadProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.WorkloadProfile
	for _, w := range m.workloads {
		h, ok := m.hosts[w.HostID]
		if !ok {
			if scope == (types.Scope{}) {
				cp := *w
				out = append(out, &cp)
			}
			continue
		}
		if scope.Contains(h.Scope) {
			cp := *w
			out = append(out, &cp)
		}
	}
	sortWorkloads(out)
	return out, nil
}

func (m *Memory) ListWorkloadsByHost(ctx context.Context, hostID string) ([]*types.WorkloadProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.WorkloadProfile
	for _, w := range m.workloads {
		if w.HostID == hostID {
			cp := *w
			out = append(out, &cp)
		}
	}
	sortWorkloads(out)
	return out, nil
}

func (m *Memory) ListAffinityGroupMembers(ctx context.Context, groupID string) ([]*types.WorkloadProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.WorkloadProfile
	for _, w := range m.workloads {
		for _, g := range w.AffinityGroups {
			if g.ID == groupID {
				cp := *w
				out = append(out, &cp)
				break
			}
		}
	}
	sortWorkloads(out)
	return out, nil
}

func sortWorkloads(ws []*types.WorkloadProfile) {
	sort.Slice(ws, func(i, j int) bool { return ws[i].ID < ws[j].ID })
}

// Reserve re-validates state and free capacity under the write lock, so two
// racing reservations cannot both succeed on the last unit of capacity.
func (m *Memory) Reserve(ctx context.Context, candidateID string, profile *types.WorkloadProfile) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		r       *types.ResourceCandidate
		kind    types.ResourceKind
		metrics []types.Metric
	)
	if h, ok := m.hosts[candidateID]; ok {
		r, kind, metrics = h, types.ResourceHost, []types.Metric{types.MetricCPU, types.MetricMemory}
	} else if p, ok := m.pools[candidateID]; ok {
		r, kind, metrics = p, types.ResourceStoragePool, []types.Metric{types.MetricStorage}
	} else {
		return "", fmt.Errorf("resource %s: %w", candidateID, types.ErrNotFound)
	}

	if !r.Usable() {
		return "", fmt.Errorf("%s %s is %s/%s: %w", kind, candidateID, r.AllocationState, r.Status, types.ErrResourceUnavailable)
	}
	for _, metric := range metrics {
		need := profile.Requirements.Get(metric)
		if free := r.Capacity.Get(metric).Free(); free < need {
			return "", fmt.Errorf("%s %s has %.2f %s free, need %.2f: %w", kind, candidateID, free, metric, need, types.ErrResourceUnavailable)
		}
	}
	for _, metric := range metrics {
		r.Capacity.Ref(metric).Reserved += profile.Requirements.Get(metric)
	}

	token := uuid.New().String()
	m.holds[token] = hold{resourceID: candidateID, kind: kind, req: profile.Requirements}
	return token, nil
}

func (m *Memory) Release(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holds[token]
	if !ok {
		return fmt.Errorf("reservation %s: %w", token, types.ErrNotFound)
	}
	delete(m.holds, token)
	m.adjustLocked(h, false)
	return nil
}

func (m *Memory) Commit(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holds[token]
	if !ok {
		return fmt.Errorf("reservation %s: %w", token, types.ErrNotFound)
	}
	delete(m.holds, token)
	m.adjustLocked(h, true)
	return nil
}

// adjustLocked drops a hold's reserved amounts, moving them to used on commit
func (m *Memory) adjustLocked(h hold, commit bool) {
	var (
		r       *types.ResourceCandidate
		metrics []types.Metric
	)
	if h.kind == types.ResourceHost {
		r, metrics = m.hosts[h.resourceID], []types.Metric{types.MetricCPU, types.MetricMemory}
	} else {
		r, metrics = m.pools[h.resourceID], []types.Metric{types.MetricStorage}
	}
	if r == nil {
		return
	}
	for _, metric := range metrics {
		u := r.Capacity.Ref(metric)
		v := h.req.Get(metric)
		u.Reserved -= v
		if u.Reserved < 0 {
			u.Reserved = 0
		}
		if commit {
			u.Used += v
		}
	}
}

// HeldReservations returns the number of outstanding reservation holds
func (m *Memory) HeldReservations() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.holds)
}
