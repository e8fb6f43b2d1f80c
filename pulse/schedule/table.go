package schedule

import (
	"sort"
	"sync"
	"time"
)

// Table holds one (trigger, next fire time) pair per scheduled pipeline
type Table struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	trigger Trigger
	next    time.Time
}

// Upcoming is one scheduled pipeline and its next fire time
type Upcoming struct {
	Name    string
	Trigger Trigger
	Next    time.Time
}

// NewTable creates an empty trigger table
func NewTable() *Table {
	return &Table{entries: make(map[string]*entry)}
}

// Set registers or replaces the trigger for name. An unchanged trigger
// keeps its pending fire time.
func (t *Table) Set(name string, trig Trigger, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[name]; ok && e.trigger == trig {
		return
	}
	t.entries[name] = &entry{trigger: trig, next: trig.Next(now)}
}

// Remove drops name from the table
func (t *Table) Remove(name string) {
	t.mu.Lock()
	delete(t.entries, name)
	t.mu.Unlock()
}

// Replace makes the table hold exactly triggers. Entries whose trigger is
// unchanged keep their pending fire time.
func (t *Table) Replace(triggers map[string]Trigger, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for name := range t.entries {
		if _, ok := triggers[name]; !ok {
			delete(t.entries, name)
		}
	}
	for name, trig := range triggers {
		if e, ok := t.entries[name]; ok && e.trigger == trig {
			continue
		}
		t.entries[name] = &entry{trigger: trig, next: trig.Next(now)}
	}
}

// Due returns the names whose fire time is at or before now, sorted, and
// advances each of them to its next fire time after now. A fire time
// missed by several periods fires once.
func (t *Table) Due(now time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var due []string
	for name, e := range t.entries {
		if !e.next.After(now) {
			due = append(due, name)
			e.next = e.trigger.Next(now)
		}
	}
	sort.Strings(due)
	return due
}

// Next returns the pending fire time of name
func (t *Table) Next(name string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[name]
	if !ok {
		return time.Time{}, false
	}
	return e.next, true
}

// Upcoming lists every entry ordered by next fire time
func (t *Table) Upcoming() []Upcoming {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Upcoming, 0, len(t.entries))
	for name, e := range t.entries {
		out = append(out, Upcoming{Name: name, Trigger: e.trigger, Next: e.next})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Next.Equal(out[j].Next) {
			return out[i].Name < out[j].Name
		}
		return out[i].Next.Before(out[j].Next)
	})
	return out
}

// Len returns the number of registered triggers
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
