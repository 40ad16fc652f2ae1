package hook

import (
	"fmt"
	"slices"

	"l3sim/domain/orderbook"
)

const DefaultMaxLevel = 10

type entry struct {
	name     string
	hook     Hook
	maxLevel int
}

// Registry keeps hooks in registration order.
type Registry struct {
	entries []entry
}

// Register adds h under name. Re-registering a name replaces the hook in place.
func (r *Registry) Register(name string, h Hook, maxLevel int) error {
	if name == "" || h == nil {
		return fmt.Errorf("hook %q: %w", name, orderbook.ErrInvalidOrderRequest)
	}
	if maxLevel <= 0 {
		maxLevel = DefaultMaxLevel
	}
	e := entry{name: name, hook: h, maxLevel: maxLevel}
	for i := range r.entries {
		if r.entries[i].name == name {
			r.entries[i] = e
			return nil
		}
	}
	r.entries = append(r.entries, e)
	return nil
}

func (r *Registry) Remove(name string) bool {
	n := len(r.entries)
	r.entries = slices.DeleteFunc(r.entries, func(e entry) bool { return e.name == name })
	return len(r.entries) != n
}

func (r *Registry) Len() int {
	return len(r.entries)
}

// Fire calls every hook and returns the names of those that returned false.
// Levels are exported once at the deepest requested count.
func (r *Registry) Fire(info StatisticsInfo, d *orderbook.MarketDepth, order *orderbook.L3Order) []string {
	if len(r.entries) == 0 {
		return nil
	}
	depth := 0
	for _, e := range r.entries {
		depth = max(depth, e.maxLevel)
	}
	bids := Levels(d, orderbook.Buy, depth)
	asks := Levels(d, orderbook.Sell, depth)

	var rejected []string
	for _, e := range r.entries {
		nb, na := min(e.maxLevel, len(bids)), min(e.maxLevel, len(asks))
		if !e.hook.OnEvent(info, bids[:nb:nb], asks[:na:na], order) {
			rejected = append(rejected, e.name)
		}
	}
	return rejected
}
