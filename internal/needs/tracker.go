// Package needs tracks the last storage level each station reported per
// component type and classifies it for production decisions.
package needs

import (
	"sync"
	"time"
)

// DefaultLowWatermark is the percentage at or below which a zone counts as low.
const DefaultLowWatermark = 20

// Class is the production need derived from a storage level.
type Class uint8

const (
	ClassOk Class = iota
	ClassEmpty
	ClassLow
	ClassFull
)

func (c Class) String() string {
	switch c {
	case ClassOk:
		return "ok"
	case ClassEmpty:
		return "empty"
	case ClassLow:
		return "low"
	case ClassFull:
		return "full"
	}
	return "invalid"
}

// WantsProduction reports whether the class asks for machines to be started.
func (c Class) WantsProduction() bool {
	return c == ClassEmpty || c == ClassLow
}

// Policy holds the thresholds shared by the controller and the stations.
type Policy struct {
	LowWatermark int `yaml:"low_watermark"`
}

// DefaultPolicy returns the 20% low watermark policy.
func DefaultPolicy() Policy {
	return Policy{LowWatermark: DefaultLowWatermark}
}

// Classify maps a level (0-100) to its class. Pure; no side effects.
func (p Policy) Classify(level int) Class {
	switch {
	case level <= 0:
		return ClassEmpty
	case level >= 100:
		return ClassFull
	case level <= p.LowWatermark:
		return ClassLow
	default:
		return ClassOk
	}
}

// Percent converts an occupancy count into a 0-100 level.
func Percent(count, capacity int) int {
	if capacity <= 0 {
		return 0
	}
	return Clamp(count * 100 / capacity)
}

// Clamp bounds a level into 0..100.
func Clamp(level int) int {
	if level < 0 {
		return 0
	}
	if level > 100 {
		return 100
	}
	return level
}

// Entry is the last reported level for one component type.
type Entry struct {
	Type       string    `json:"type"`
	Level      int       `json:"level"`
	Class      string    `json:"class"`
	ReportedAt time.Time `json:"reported_at"`
}

// Tracker stores the last level reported per type. Last write wins; there is
// no history. Safe for concurrent use.
type Tracker struct {
	policy Policy
	now    func() time.Time

	mu      sync.RWMutex
	order   []string
	entries map[string]Entry
}

// NewTracker returns an empty tracker classifying with policy.
func NewTracker(policy Policy) *Tracker {
	return &Tracker{
		policy:  policy,
		now:     time.Now,
		entries: make(map[string]Entry),
	}
}

// Policy returns the thresholds the tracker classifies with.
func (t *Tracker) Policy() Policy {
	return t.policy
}

// Report overwrites the level for componentType and returns its new class.
func (t *Tracker) Report(componentType string, level int) Class {
	level = Clamp(level)
	class := t.policy.Classify(level)

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[componentType]; !ok {
		t.order = append(t.order, componentType)
	}
	t.entries[componentType] = Entry{
		Type:       componentType,
		Level:      level,
		Class:      class.String(),
		ReportedAt: t.now().UTC(),
	}
	return class
}

// Level returns the last level for componentType.
func (t *Tracker) Level(componentType string) (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[componentType]
	return e.Level, ok
}

// Class classifies the last level for componentType. Untracked types are Ok.
func (t *Tracker) Class(componentType string) (Class, bool) {
	level, ok := t.Level(componentType)
	if !ok {
		return ClassOk, false
	}
	return t.policy.Classify(level), true
}

// Types returns the tracked types in the order they were first reported.
func (t *Tracker) Types() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Snapshot returns every entry in first-report order.
func (t *Tracker) Snapshot() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, 0, len(t.order))
	for _, typ := range t.order {
		out = append(out, t.entries[typ])
	}
	return out
}
