package ability

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"jacPIMulator/src/simulator/dpu/results"
)

var (
	ErrUnknownAbility = errors.New("unknown ability tag")
	ErrDuplicateTag   = errors.New("ability tag already registered")
	ErrDuplicateName  = errors.New("ability name already registered")
)

// Tag identifies an ability inside a trace entry.
type Tag uint64

// Context carries the per-entry parameters an ability may need besides the
// staged buffers.
type Context struct {
	Tasklet int
	Step    uint64
	NodeID  uint64
	EdgeNum uint64
	Results results.Recorder
}

// Ability mutates the staged walker and node buffers in place. A returned
// error faults the tasklet that dispatched it.
type Ability func(walker []byte, node []byte, ctx *Context) error

// Entry is one registered ability.
type Entry struct {
	Tag  Tag
	Name string
	Fn   Ability
}

// Table maps tags to the abilities of one compiled program. It is filled
// before a run starts and only read while tasklets dispatch.
type Table struct {
	mu      sync.RWMutex
	entries map[Tag]Entry
	names   map[string]Tag
}

func NewTable() *Table {
	return &Table{
		entries: make(map[Tag]Entry),
		names:   make(map[string]Tag),
	}
}

func (t *Table) Register(tag Tag, name string, fn Ability) error {
	if fn == nil {
		return fmt.Errorf("ability %q (tag %d) has no body", name, tag)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.entries[tag]; ok {
		return fmt.Errorf("%w: tag %d is %q", ErrDuplicateTag, tag, existing.Name)
	}
	if name != "" {
		if existing, ok := t.names[name]; ok {
			return fmt.Errorf("%w: %q is tag %d", ErrDuplicateName, name, existing)
		}
		t.names[name] = tag
	}

	t.entries[tag] = Entry{Tag: tag, Name: name, Fn: fn}
	return nil
}

// MustRegister is Register for program setup code; a clash is a build error
// of the program, so it panics.
func (t *Table) MustRegister(tag Tag, name string, fn Ability) {
	if err := t.Register(tag, name, fn); err != nil {
		panic(err)
	}
}

func (t *Table) Lookup(tag Tag) (Entry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entry, ok := t.entries[tag]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %d", ErrUnknownAbility, tag)
	}
	return entry, nil
}

func (t *Table) TagByName(name string) (Tag, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tag, ok := t.names[name]
	return tag, ok
}

// Name returns the registered name of tag, or a placeholder for logs.
func (t *Table) Name(tag Tag) string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if entry, ok := t.entries[tag]; ok && entry.Name != "" {
		return entry.Name
	}
	return fmt.Sprintf("ability#%d", tag)
}

// Tags returns the registered tags in ascending order.
func (t *Table) Tags() []Tag {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tags := make([]Tag, 0, len(t.entries))
	for tag := range t.entries {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
