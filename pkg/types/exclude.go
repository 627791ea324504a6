package types

import (
	"sort"
)

// ExcludeList is the set of resources a planning attempt must not select.
// It is owned by one attempt and mutated in place; excluding a parent scope
// excludes every child beneath it.
type ExcludeList struct {
	zones    map[string]struct{}
	pods     map[string]struct{}
	clusters map[string]struct{}
	hosts    map[string]struct{}
	pools    map[string]struct{}
}

// NewExcludeList creates an empty exclude list
func NewExcludeList() *ExcludeList {
	return &ExcludeList{
		zones:    make(map[string]struct{}),
		pods:     make(map[string]struct{}),
		clusters: make(map[string]struct{}),
		hosts:    make(map[string]struct{}),
		pools:    make(map[string]struct{}),
	}
}

func (e *ExcludeList) AddZone(id string) { e.zones[id] = struct{}{} }
func (e *ExcludeList) AddPod(id string) { e.pods[id] = struct{}{} }
func (e *ExcludeList) AddCluster(id string) { e.clusters[id] = struct{}{} }
func (e *ExcludeList) AddHost(id string) { e.hosts[id] = struct{}{} }
func (e *ExcludeList) AddPool(id string) { e.pools[id] = struct{}{} }

// AddResource excludes a host or storage pool by kind
func (e *ExcludeList) AddResource(r *ResourceCandidate) {
	if r.Kind == ResourceStoragePool {
		e.AddPool(r.ID)
		return
	}
	e.AddHost(r.ID)
}

// ShouldAvoidScope reports whether any level of the scope is excluded
func (e *ExcludeList) ShouldAvoidScope(s Scope) bool {
	if e == nil {
		return false
	}
	if _, ok := e.zones[s.ZoneID]; ok && s.ZoneID != "" {
		return true
	}
	if _, ok := e.pods[s.PodID]; ok && s.PodID != "" {
		return true
	}
	if _, ok := e.clusters[s.ClusterID]; ok && s.ClusterID != "" {
		return true
	}
	return false
}

// ShouldAvoidCluster reports whether the cluster or one of its parents is excluded
func (e *ExcludeList) ShouldAvoidCluster(c *Cluster) bool {
	return e.ShouldAvoidScope(c.Scope())
}

// ShouldAvoid reports whether a host or pool is excluded directly or through its scope
func (e *ExcludeList) ShouldAvoid(r *ResourceCandidate) bool {
	if e == nil {
		return false
	}
	if e.ShouldAvoidScope(r.Scope) {
		return true
	}
	if r.Kind == ResourceStoragePool {
		_, ok := e.pools[r.ID]
		return ok
	}
	_, ok := e.hosts[r.ID]
	return ok
}

// IsHostExcluded reports whether the host id itself was excluded
func (e *ExcludeList) IsHostExcluded(id string) bool {
	if e == nil {
		return false
	}
	_, ok := e.hosts[id]
	return ok
}

// Clone copies the list so a follow-up attempt can carry exclusions forward
// without sharing the original.
func (e *ExcludeList) Clone() *ExcludeList {
	out := NewExcludeList()
	if e == nil {
		return out
	}
	for _, pair := range []struct{ src, dst map[string]struct{} }{
		{e.zones, out.zones},
		{e.pods, out.pods},
		{e.clusters, out.clusters},
		{e.hosts, out.hosts},
		{e.pools, out.pools},
	} {
		for id := range pair.src {
			pair.dst[id] = struct{}{}
		}
	}
	return out
}

// Clusters returns the excluded cluster ids, sorted
func (e *ExcludeList) Clusters() []string { return sortedKeys(e.clusters) }

// Hosts returns the excluded host ids, sorted
func (e *ExcludeList) Hosts() []string { return sortedKeys(e.hosts) }

// Pools returns the excluded pool ids, sorted
func (e *ExcludeList) Pools() []string { return sortedKeys(e.pools) }

// Empty reports whether nothing is excluded
func (e *ExcludeList) Empty() bool {
	return e == nil || len(e.zones)+len(e.pods)+len(e.clusters)+len(e.hosts)+len(e.pools) == 0
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
