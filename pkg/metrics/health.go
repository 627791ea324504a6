package metrics

import (
	"sort"
	"sync"
	"time"
)

// Component is the last reported state of a background loop or subsystem
type Component struct {
	Name    string    `json:"name"`
	Healthy bool      `json:"healthy"`
	Message string    `json:"message,omitempty"`
	Updated time.Time `json:"updated"`

	// StaleAfter marks the component unhealthy when no report arrives in
	// time. Zero never goes stale.
	StaleAfter time.Duration `json:"stale_after,omitempty"`
}

func (c Component) at(now time.Time) Component {
	if c.StaleAfter > 0 && now.Sub(c.Updated) > c.StaleAfter {
		c.Healthy = false
		c.Message = "no heartbeat for " + now.Sub(c.Updated).Truncate(time.Second).String()
	}
	return c
}

type registry struct {
	mu         sync.RWMutex
	components map[string]Component
}

var components = &registry{components: make(map[string]Component)}

// RegisterLoop registers a background loop that reports through Heartbeat at
// least once every staleAfter
func RegisterLoop(name string, staleAfter time.Duration) {
	components.mu.Lock()
	defer components.mu.Unlock()
	components.components[name] = Component{
		Name:       name,
		Healthy:    true,
		Message:    "starting",
		Updated:    time.Now(),
		StaleAfter: staleAfter,
	}
}

// Heartbeat records one pass of a registered loop. A non-nil err marks it
// unhealthy until the next clean pass. Loops that are not registered are
// ignored.
func Heartbeat(name string, err error) {
	components.mu.Lock()
	defer components.mu.Unlock()
	c, ok := components.components[name]
	if !ok {
		return
	}
	c.Healthy = err == nil
	c.Message = ""
	if err != nil {
		c.Message = err.Error()
	}
	c.Updated = time.Now()
	components.components[name] = c
}

// UpdateComponent sets the state of a component, keeping its staleness bound
func UpdateComponent(name string, healthy bool, message string) {
	components.mu.Lock()
	defer components.mu.Unlock()
	c := components.components[name]
	c.Name = name
	c.Healthy = healthy
	c.Message = message
	c.Updated = time.Now()
	components.components[name] = c
}

// UnregisterComponent drops a component, e.g. when its loop stops
func UnregisterComponent(name string) {
	components.mu.Lock()
	defer components.mu.Unlock()
	delete(components.components, name)
}

// Components returns every registered component, sorted by name
func Components() []Component {
	return componentsAt(time.Now())
}

func componentsAt(now time.Time) []Component {
	components.mu.RLock()
	defer components.mu.RUnlock()

	out := make([]Component, 0, len(components.components))
	for _, c := range components.components {
		out = append(out, c.at(now))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Ready reports whether every registered component is healthy, along with
// the unhealthy ones
func Ready() (bool, []Component) {
	var failing []Component
	for _, c := range Components() {
		if !c.Healthy {
			failing = append(failing, c)
		}
	}
	return len(failing) == 0, failing
}
