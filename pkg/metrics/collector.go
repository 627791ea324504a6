package metrics

import (
	"time"

	"github.com/cuemby/paddock/pkg/types"
)

// StateSource is the durable scheduler state the collector samples
type StateSource interface {
	ListWorkItems() ([]*types.HAWorkItem, error)
	ListReservations() ([]*types.Reservation, error)
}

// RaftSource exposes replication state. It is optional.
type RaftSource interface {
	IsLeader() bool
	GetRaftStats() map[string]interface{}
}

// Collector periodically refreshes gauges derived from stored state
type Collector struct {
	state  StateSource
	raft   RaftSource
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector. raft may be nil.
func NewCollector(state StateSource, raft RaftSource) *Collector {
	return &Collector{
		state:  state,
		raft:   raft,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectWorkItemMetrics()
	c.collectReservationMetrics()
	c.collectRaftMetrics()
}

func (c *Collector) collectWorkItemMetrics() {
	items, err := c.state.ListWorkItems()
	if err != nil {
		return
	}

	counts := make(map[types.WorkType]map[types.Step]int)
	for _, item := range items {
		if counts[item.Type] == nil {
			counts[item.Type] = make(map[types.Step]int)
		}
		counts[item.Type][item.Step]++
	}

	// Stale label pairs would otherwise keep their last value
	HAWorkItems.Reset()
	for workType, steps := range counts {
		for step, count := range steps {
			HAWorkItems.WithLabelValues(string(workType), string(step)).Set(float64(count))
		}
	}
}

func (c *Collector) collectReservationMetrics() {
	reservations, err := c.state.ListReservations()
	if err != nil {
		return
	}

	active := 0
	for _, r := range reservations {
		if !r.Confirmed {
			active++
		}
	}
	ReservationsActive.Set(float64(active))
}

func (c *Collector) collectRaftMetrics() {
	if c.raft == nil {
		return
	}

	if c.raft.IsLeader() {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}

	stats := c.raft.GetRaftStats()
	if stats != nil {
		if lastIndex, ok := stats["last_log_index"].(uint64); ok {
			RaftLogIndex.Set(float64(lastIndex))
		}
		if appliedIndex, ok := stats["applied_index"].(uint64); ok {
			RaftAppliedIndex.Set(float64(appliedIndex))
		}
	}
}
