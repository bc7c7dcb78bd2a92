package unit

import (
	"fmt"
	"strings"
)

// Priority is the routing class of a unit. Its value is the name of the
// Temporal task queue the unit is served on.
type Priority string

const (
	// PriorityDefault routes to the DEFAULT task queue.
	PriorityDefault Priority = "DEFAULT"
	// PriorityCritical routes to the CRITICAL task queue.
	PriorityCritical Priority = "CRITICAL"
)

// Priorities lists all priorities in queue start order.
func Priorities() []Priority {
	return []Priority{PriorityDefault, PriorityCritical}
}

// ParsePriority parses s case-insensitively. The empty string yields
// PriorityDefault.
func ParsePriority(s string) (Priority, error) {
	if s == "" {
		return PriorityDefault, nil
	}
	p := Priority(strings.ToUpper(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown priority %q", s)
	}
	return p, nil
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	return p == PriorityDefault || p == PriorityCritical
}

// TaskQueue returns the task queue name for p.
func (p Priority) TaskQueue() string {
	return string(p)
}
