package task

import (
	"fmt"
	"strings"

	"github.com/guildly/taskcore/internal/domain"
)

// QueueBinding maps a task-type pattern and tenant-tier filter to a queue.
// Patterns are either exact task types ("send_email") or prefix wildcards
// ("report_*"); the bare "*" is the catch-all. An empty Tier matches every
// tier.
type QueueBinding struct {
	TypePattern string
	Tier        domain.TenantTier
	Queue       string
}

// matches reports whether the binding applies to the given type and tier.
func (b QueueBinding) matches(taskType string, tier domain.TenantTier) bool {
	if b.Tier != "" && b.Tier != tier {
		return false
	}

	if strings.HasSuffix(b.TypePattern, "*") {
		return strings.HasPrefix(taskType, strings.TrimSuffix(b.TypePattern, "*"))
	}
	return b.TypePattern == taskType
}

// specificity orders bindings: exact type beats a wildcard, a longer
// wildcard prefix beats a shorter one, and a tier filter beats no filter.
func (b QueueBinding) specificity() int {
	score := 0
	if strings.HasSuffix(b.TypePattern, "*") {
		score = len(b.TypePattern) - 1
	} else {
		// Any exact type outranks every wildcard.
		score = 1 << 16
	}
	if b.Tier != "" {
		score++
	}
	return score
}

// Router deterministically assigns envelopes to named queues from a
// static, ordered binding table. Given the same task type and tier it
// always returns the same queue.
//
// Tie-break: the most specific matching binding wins; among equally
// specific matches the first declared wins, so declaration order is part
// of the table's contract and must be versioned with it.
type Router struct {
	bindings []QueueBinding
}

// NewRouter validates the binding table and creates a Router. The table
// must contain a catch-all ("*" pattern, no tier filter) so routing is
// total; its absence is a startup error, not a dispatch-time surprise.
func NewRouter(bindings []QueueBinding) (*Router, error) {
	hasCatchAll := false
	for i, b := range bindings {
		if b.Queue == "" {
			return nil, fmt.Errorf("binding %d (%q) has no queue name", i, b.TypePattern)
		}
		if b.TypePattern == "" {
			return nil, fmt.Errorf("binding %d has no type pattern", i)
		}
		if b.TypePattern == "*" && b.Tier == "" {
			hasCatchAll = true
		}
	}
	if !hasCatchAll {
		return nil, ErrQueueMissingCatchAll
	}

	table := make([]QueueBinding, len(bindings))
	copy(table, bindings)
	return &Router{bindings: table}, nil
}

// DefaultBindings returns the binding table used when none is configured:
// everything routes to the "default" queue.
func DefaultBindings() []QueueBinding {
	return []QueueBinding{
		{TypePattern: "*", Queue: "default"},
	}
}

// Route returns the queue for the given task type and tenant tier.
func (r *Router) Route(taskType string, tier domain.TenantTier) string {
	best := -1
	bestScore := -1
	for i, b := range r.bindings {
		if !b.matches(taskType, tier) {
			continue
		}
		// Strict inequality keeps the first declared among equals.
		if s := b.specificity(); s > bestScore {
			best = i
			bestScore = s
		}
	}
	// A catch-all exists, so a match is guaranteed.
	return r.bindings[best].Queue
}

// Queues returns the distinct queue names in declaration order.
func (r *Router) Queues() []string {
	seen := make(map[string]bool)
	var queues []string
	for _, b := range r.bindings {
		if !seen[b.Queue] {
			seen[b.Queue] = true
			queues = append(queues, b.Queue)
		}
	}
	return queues
}
