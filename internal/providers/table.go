package providers

import (
	"fmt"
	"sort"
)

// Table is an immutable snapshot of the model descriptor set. The engine
// holds the current Table behind an atomic pointer; config reload swaps the
// whole snapshot so readers never see a partial update.
type Table struct {
	byID     map[string]*ModelDescriptor
	ordered  []*ModelDescriptor
	defaults []string
}

// NewTable builds a Table from descriptors and the default model id list.
// Descriptor ids must be unique; defaults must reference enabled models.
func NewTable(descriptors []*ModelDescriptor, defaults []string) (*Table, error) {
	t := &Table{
		byID:    make(map[string]*ModelDescriptor, len(descriptors)),
		ordered: make([]*ModelDescriptor, 0, len(descriptors)),
	}

	for _, d := range descriptors {
		if d.ID == "" {
			return nil, fmt.Errorf("providers: descriptor with empty id")
		}
		if _, dup := t.byID[d.ID]; dup {
			return nil, fmt.Errorf("providers: duplicate model id %q", d.ID)
		}
		t.byID[d.ID] = d
		t.ordered = append(t.ordered, d)
	}

	sort.Slice(t.ordered, func(i, j int) bool { return t.ordered[i].ID < t.ordered[j].ID })

	for _, id := range defaults {
		d, ok := t.byID[id]
		if !ok {
			return nil, fmt.Errorf("providers: default model %q not in descriptor set", id)
		}
		if !d.Enabled {
			continue
		}
		t.defaults = append(t.defaults, id)
	}

	return t, nil
}

// ByID returns the descriptor for id.
func (t *Table) ByID(id string) (*ModelDescriptor, bool) {
	d, ok := t.byID[id]
	return d, ok
}

// All returns every descriptor ordered by id.
func (t *Table) All() []*ModelDescriptor {
	return t.ordered
}

// Defaults returns the enabled default model ids in configuration order.
func (t *Table) Defaults() []string {
	return t.defaults
}

// Len returns the descriptor count.
func (t *Table) Len() int { return len(t.ordered) }
