package relay

import (
	"slices"
	"time"
)

// MaxChildren is how many detector nodes the collector tracks.
const MaxChildren = 10

// Child is a detector node the collector has heard from.
type Child struct {
	Node       int
	FirstSeen  time.Time
	LastSeen   time.Time
	Detections int
	Online     bool
	LastSensor string
	LastCar    int
}

// Registry tracks up to MaxChildren nodes in registration order.
// Not safe for concurrent use.
type Registry struct {
	children []Child
}

// Observe records a detection from node. It reports whether the node was
// newly registered and whether it is tracked at all; nodes beyond
// MaxChildren are never tracked.
func (r *Registry) Observe(node int, at time.Time, sensor string, car int) (registered, tracked bool) {
	c := r.find(node)
	if c == nil {
		if len(r.children) >= MaxChildren {
			return false, false
		}
		r.children = append(r.children, Child{Node: node, FirstSeen: at})
		c = &r.children[len(r.children)-1]
		registered = true
	}
	c.LastSeen = at
	c.Online = true
	c.Detections++
	c.LastSensor = sensor
	c.LastCar = car
	return registered, true
}

// SetOnline marks a known node online or offline. Unknown nodes are ignored.
func (r *Registry) SetOnline(node int, at time.Time, online bool) bool {
	c := r.find(node)
	if c == nil {
		return false
	}
	c.Online = online
	c.LastSeen = at
	return true
}

// Len returns the number of tracked nodes.
func (r *Registry) Len() int { return len(r.children) }

// Children returns a copy of the tracked nodes in registration order.
func (r *Registry) Children() []Child {
	return slices.Clone(r.children)
}

func (r *Registry) find(node int) *Child {
	for i := range r.children {
		if r.children[i].Node == node {
			return &r.children[i]
		}
	}
	return nil
}
