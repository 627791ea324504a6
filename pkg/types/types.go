package types

import (
	"time"
)

// Scope locates a resource in the zone/pod/cluster hierarchy.
// Empty fields mean "any".
type Scope struct {
	ZoneID    string `json:"zone_id,omitempty" yaml:"zone"`
	PodID     string `json:"pod_id,omitempty" yaml:"pod"`
	ClusterID string `json:"cluster_id,omitempty" yaml:"cluster"`
}

// Contains reports whether other lies inside s.
func (s Scope) Contains(other Scope) bool {
	if s.ZoneID != "" && s.ZoneID != other.ZoneID {
		return false
	}
	if s.PodID != "" && s.PodID != other.PodID {
		return false
	}
	if s.ClusterID != "" && s.ClusterID != other.ClusterID {
		return false
	}
	return true
}

// Metric names a capacity dimension
type Metric string

const (
	MetricCPU     Metric = "cpu"
	MetricMemory  Metric = "memory"
	MetricStorage Metric = "storage"
)

// Usage tracks one capacity dimension of a resource
type Usage struct {
	Total    float64 `json:"total" yaml:"total"`
	Used     float64 `json:"used" yaml:"used"`
	Reserved float64 `json:"reserved" yaml:"reserved"` // held by unconfirmed reservations
}

// Free returns the capacity not consumed by usage or reservations
func (u Usage) Free() float64 {
	free := u.Total - u.Used - u.Reserved
	if free < 0 {
		return 0
	}
	return free
}

// UsedRatio returns (used+reserved)/total, or 0 for a zero-capacity dimension
func (u Usage) UsedRatio() float64 {
	if u.Total <= 0 {
		return 0
	}
	return (u.Used + u.Reserved) / u.Total
}

// Capacity tracks capacity per metric
type Capacity struct {
	CPU     Usage `json:"cpu" yaml:"cpu"`         // cores
	Memory  Usage `json:"memory" yaml:"memory"`   // bytes
	Storage Usage `json:"storage" yaml:"storage"` // bytes
}

// Get returns the usage for a metric
func (c Capacity) Get(m Metric) Usage {
	switch m {
	case MetricCPU:
		return c.CPU
	case MetricMemory:
		return c.Memory
	case MetricStorage:
		return c.Storage
	}
	return Usage{}
}

// Ref returns a pointer to the usage for a metric so it can be adjusted in place
func (c *Capacity) Ref(m Metric) *Usage {
	switch m {
	case MetricCPU:
		return &c.CPU
	case MetricMemory:
		return &c.Memory
	case MetricStorage:
		return &c.Storage
	}
	return nil
}

// ResourceKind distinguishes hosts from storage pools
type ResourceKind string

const (
	ResourceHost        ResourceKind = "host"
	ResourceStoragePool ResourceKind = "storage_pool"
)

// AllocationState is the administrative state of a resource
type AllocationState string

const (
	AllocationEnabled  AllocationState = "enabled"
	AllocationDisabled AllocationState = "disabled"
)

// ResourceStatus is the operational state of a resource
type ResourceStatus string

const (
	ResourceUp           ResourceStatus = "up"
	ResourceDisconnected ResourceStatus = "disconnected"
	ResourceDown         ResourceStatus = "down"
	ResourceMaintenance  ResourceStatus = "maintenance"
)

// ResourceCandidate is a host or storage pool as seen by the scheduler.
// It is a read snapshot; capacity may change before a reservation commits.
type ResourceCandidate struct {
	ID              string          `json:"id" yaml:"id"`
	Name            string          `json:"name,omitempty" yaml:"name"`
	Kind            ResourceKind    `json:"kind" yaml:"kind"`
	Scope           Scope           `json:"scope" yaml:",inline"`
	Address         string          `json:"address,omitempty" yaml:"address"`
	Capacity        Capacity        `json:"capacity" yaml:"capacity"`
	Tags            []string        `json:"tags,omitempty" yaml:"tags"`
	AllocationState AllocationState `json:"allocation_state" yaml:"allocationState"`
	Status          ResourceStatus  `json:"status" yaml:"status"`
}

// HasTags reports whether the candidate carries every required tag
func (r *ResourceCandidate) HasTags(required []string) bool {
	for _, want := range required {
		found := false
		for _, tag := range r.Tags {
			if tag == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Usable reports whether the candidate is enabled and up
func (r *ResourceCandidate) Usable() bool {
	return r.AllocationState != AllocationDisabled && r.Status == ResourceUp
}

// Cluster groups hosts and cluster-scoped storage pools
type Cluster struct {
	ID              string          `json:"id" yaml:"id"`
	Name            string          `json:"name,omitempty" yaml:"name"`
	ZoneID          string          `json:"zone_id" yaml:"zone"`
	PodID           string          `json:"pod_id" yaml:"pod"`
	AllocationState AllocationState `json:"allocation_state" yaml:"allocationState"`
	Draining        bool            `json:"draining" yaml:"draining"`
}

// Scope returns the scope that covers the whole cluster
func (c *Cluster) Scope() Scope {
	return Scope{ZoneID: c.ZoneID, PodID: c.PodID, ClusterID: c.ID}
}

// Requirements is the capacity a workload needs
type Requirements struct {
	CPU     float64 `json:"cpu" yaml:"cpu"`
	Memory  float64 `json:"memory" yaml:"memory"`
	Storage float64 `json:"storage" yaml:"storage"`
}

// Get returns the requirement for a metric
func (r Requirements) Get(m Metric) float64 {
	switch m {
	case MetricCPU:
		return r.CPU
	case MetricMemory:
		return r.Memory
	case MetricStorage:
		return r.Storage
	}
	return 0
}

// WorkloadState is the lifecycle state of a workload
type WorkloadState string

const (
	WorkloadRunning   WorkloadState = "running"
	WorkloadStopped   WorkloadState = "stopped"
	WorkloadMigrating WorkloadState = "migrating"
	WorkloadDestroyed WorkloadState = "destroyed"
)

// AffinityType selects how members of an affinity group relate
type AffinityType string

const (
	AffinityHost     AffinityType = "host-affinity"
	AntiAffinityHost AffinityType = "host-anti-affinity"
)

// AffinityGroup is a membership reference carried by a workload
type AffinityGroup struct {
	ID   string       `json:"id" yaml:"id"`
	Type AffinityType `json:"type" yaml:"type"`
}

// WorkloadProfile describes a virtual workload. Read-only to the scheduler.
type WorkloadProfile struct {
	ID             string          `json:"id" yaml:"id"`
	Name           string          `json:"name,omitempty" yaml:"name"`
	OwnerID        string          `json:"owner_id,omitempty" yaml:"owner"`
	ZoneID         string          `json:"zone_id,omitempty" yaml:"zone"`
	Requirements   Requirements    `json:"requirements" yaml:"requirements"`
	HostTags       []string        `json:"host_tags,omitempty" yaml:"hostTags"`
	StorageTags    []string        `json:"storage_tags,omitempty" yaml:"storageTags"`
	HostID         string          `json:"host_id,omitempty" yaml:"host"`
	PoolID         string          `json:"pool_id,omitempty" yaml:"pool"`
	HAEnabled      bool            `json:"ha_enabled" yaml:"haEnabled"`
	AffinityGroups []AffinityGroup `json:"affinity_groups,omitempty" yaml:"affinityGroups"`
	State          WorkloadState   `json:"state" yaml:"state"`
}

// DeploymentPlan constrains one planning attempt. Pinned ids are honored exactly.
type DeploymentPlan struct {
	ZoneID            string `json:"zone_id"`
	PodID             string `json:"pod_id,omitempty"`
	ClusterID         string `json:"cluster_id,omitempty"`
	HostID            string `json:"host_id,omitempty"`
	PoolID            string `json:"pool_id,omitempty"`
	PhysicalNetworkID string `json:"physical_network_id,omitempty"`
}

// Scope returns the pinned scope of the plan
func (p DeploymentPlan) Scope() Scope {
	return Scope{ZoneID: p.ZoneID, PodID: p.PodID, ClusterID: p.ClusterID}
}

// Destination is a fully resolved placement
type Destination struct {
	ZoneID    string `json:"zone_id"`
	PodID     string `json:"pod_id"`
	ClusterID string `json:"cluster_id"`
	HostID    string `json:"host_id"`
	PoolID    string `json:"pool_id"`
}

// Reservation holds capacity at a destination until it is confirmed or swept
type Reservation struct {
	Token       string      `json:"token"`
	WorkloadID  string      `json:"workload_id"`
	Destination Destination `json:"destination"`
	Planner     string      `json:"planner"`
	HostToken   string      `json:"host_token"`
	PoolToken   string      `json:"pool_token,omitempty"`
	Confirmed   bool        `json:"confirmed"`
	CreatedAt   time.Time   `json:"created_at"`
	ConfirmedAt time.Time   `json:"confirmed_at,omitempty"`
	// HostCommitted is set once the host hold became usage; the record is
	// then only ever completed, never released
	HostCommitted bool `json:"host_committed,omitempty"`
}

// Status is the outcome of an investigation
type Status string

const (
	StatusUp      Status = "up"
	StatusDown    Status = "down"
	StatusUnknown Status = "unknown"
)

// CommandType is an action sent to a host agent
type CommandType string

const (
	CommandStart      CommandType = "start"
	CommandStop       CommandType = "stop"
	CommandForceStop  CommandType = "force_stop"
	CommandMigrate    CommandType = "migrate"
	CommandDestroy    CommandType = "destroy"
	CommandCheckState CommandType = "check_state"
	CommandPingHost   CommandType = "ping_host"
	CommandFence      CommandType = "fence"
)

// Command is sent through the executor boundary to a host
type Command struct {
	Type         CommandType `json:"type"`
	WorkloadID   string      `json:"workload_id,omitempty"`
	TargetHostID string      `json:"target_host_id,omitempty"`
	Destination  Destination `json:"destination,omitempty"`
}

// Answer is the agent's reply to a command
type Answer struct {
	Result  bool   `json:"result"`
	Details string `json:"details,omitempty"`
	// State reports the workload state for check_state commands
	State WorkloadState `json:"state,omitempty"`
}

// ClusterMetricSample holds one metric across the resources of a cluster
type ClusterMetricSample struct {
	ClusterID string             `json:"cluster_id"`
	Metric    Metric             `json:"metric"`
	Values    map[string]float64 `json:"values"` // resource id -> normalized value
}

// RebalanceMove moves one workload between two hosts
type RebalanceMove struct {
	Workload *WorkloadProfile `json:"workload"`
	SourceID string           `json:"source_id"`
	TargetID string           `json:"target_id"`
	Cost     float64          `json:"cost"`
	Benefit  float64          `json:"benefit"`
	Sequence int              `json:"sequence"` // discovery order
}

// RebalancePlan is an ordered list of moves. Never mutated after construction.
type RebalancePlan struct {
	ClusterID string           `json:"cluster_id"`
	Moves     []*RebalanceMove `json:"moves"`
	Before    float64          `json:"before"`
	After     float64          `json:"after"`
}
