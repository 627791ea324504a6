package inventory

import (
	"fmt"
	"os"

	"github.com/cuemby/paddock/pkg/types"
	"gopkg.in/yaml.v3"
)

// File is the YAML layout of a static inventory
type File struct {
	Clusters     []*types.Cluster           `yaml:"clusters"`
	Hosts        []*types.ResourceCandidate `yaml:"hosts"`
	StoragePools []*types.ResourceCandidate `yaml:"storagePools"`
	Workloads    []*types.WorkloadProfile   `yaml:"workloads"`
}

// LoadFile builds a Memory inventory from a YAML file
func LoadFile(path string) (*Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Memory inventory from YAML bytes
func Parse(data []byte) (*Memory, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse inventory: %w", err)
	}

	m := NewMemory()
	clusters := make(map[string]*types.Cluster)
	for _, c := range f.Clusters {
		if c.ID == "" {
			return nil, fmt.Errorf("cluster without id")
		}
		clusters[c.ID] = c
		m.AddCluster(c)
	}

	for _, h := range f.Hosts {
		if h.ID == "" {
			return nil, fmt.Errorf("host without id")
		}
		c, ok := clusters[h.Scope.ClusterID]
		if !ok {
			return nil, fmt.Errorf("host %s references unknown cluster %q", h.ID, h.Scope.ClusterID)
		}
		// Zone and pod follow from the cluster when omitted
		if h.Scope.ZoneID == "" {
			h.Scope.ZoneID = c.ZoneID
		}
		if h.Scope.PodID == "" {
			h.Scope.PodID = c.PodID
		}
		m.AddHost(h)
	}

	for _, p := range f.StoragePools {
		if p.ID == "" {
			return nil, fmt.Errorf("storage pool without id")
		}
		if p.Scope.ClusterID != "" {
			c, ok := clusters[p.Scope.ClusterID]
			if !ok {
				return nil, fmt.Errorf("storage pool %s references unknown cluster %q", p.ID, p.Scope.ClusterID)
			}
			if p.Scope.ZoneID == "" {
				p.Scope.ZoneID = c.ZoneID
			}
			if p.Scope.PodID == "" {
				p.Scope.PodID = c.PodID
			}
		}
		m.AddStoragePool(p)
	}

	for _, w := range f.Workloads {
		if w.ID == "" {
			return nil, fmt.Errorf("workload without id")
		}
		m.AddWorkload(w)
	}

	return m, nil
}
