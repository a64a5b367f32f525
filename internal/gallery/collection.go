package gallery

import "sync"

// Collection is the externally observable ordered sequence of entities
// the engine maintains: a position holds either an entity or a hole
// (nil, not yet reconciled), alongside an id-to-position index that is
// consistent with collection content at every commit point, never
// mid-batch.
//
// Writes happen only through the engine; readers must treat references
// into the collection as valid only between commits.
type Collection struct {
	mu      sync.RWMutex
	items   []*Entity
	index   map[string]int
	version uint64
	loaded  int
	broken  int

	// onCommit, when set, is invoked after every commit point with the
	// new version and the loaded/total counters. Never called
	// mid-batch.
	onCommit func(version uint64, loaded, total int)
}

// NewCollection creates an empty collection.
func NewCollection() *Collection {
	return &Collection{index: make(map[string]int)}
}

// SetCommitHook registers the change notification callback. Any
// reactive layer sits on top of this explicit commit point.
func (c *Collection) SetCommitHook(fn func(version uint64, loaded, total int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCommit = fn
}

// Snapshot returns the current items and index for use as the "old"
// state of one reconciliation run. The slice and map are copies; the
// entities are shared.
func (c *Collection) Snapshot() ([]*Entity, map[string]int) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	items := make([]*Entity, len(c.items))
	copy(items, c.items)

	index := make(map[string]int, len(c.index))
	for id, pos := range c.index {
		index[id] = pos
	}

	return items, index
}

// BeginRun resizes the collection to total holes and clears the index,
// counting as one commit point. The newer epoch's batches will fill
// the holes progressively.
func (c *Collection) BeginRun(total int) {
	c.mu.Lock()
	c.items = make([]*Entity, total)
	c.index = make(map[string]int, total)
	c.loaded = 0
	c.broken = 0
	c.version++
	notify, version, loaded := c.onCommit, c.version, c.loaded
	c.mu.Unlock()

	if notify != nil {
		notify(version, loaded, total)
	}
}

// CommitBatch writes a computed batch into the live collection starting
// at position start, updating the index incrementally. Positions commit
// in ascending order within the batch; the whole batch is one commit
// point.
func (c *Collection) CommitBatch(start int, batch []*Entity) {
	c.mu.Lock()
	for i, ent := range batch {
		pos := start + i
		c.items[pos] = ent
		c.index[ent.ID] = pos

		if ent.Broken {
			c.broken++
		}
	}

	c.loaded += len(batch)
	c.version++
	notify, version, loaded, total := c.onCommit, c.version, c.loaded, len(c.items)
	c.mu.Unlock()

	if notify != nil {
		notify(version, loaded, total)
	}
}

// SetBroken updates the broken flag for a batch of ids, skipping ids
// that have left the collection since the probe was issued. One commit
// point for the whole batch.
func (c *Collection) SetBroken(missing map[string]bool) {
	c.mu.Lock()
	for id, broken := range missing {
		pos, ok := c.index[id]
		if !ok {
			continue
		}

		ent := c.items[pos]
		if ent == nil || ent.Broken == broken {
			continue
		}

		ent.Broken = broken
		if broken {
			c.broken++
		} else {
			c.broken--
		}
	}

	c.version++
	notify, version, loaded, total := c.onCommit, c.version, c.loaded, len(c.items)
	c.mu.Unlock()

	if notify != nil {
		notify(version, loaded, total)
	}
}

// Len returns the total number of positions, holes included.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.items)
}

// Get returns the entity at a position, or nil for a hole or an
// out-of-range position.
func (c *Collection) Get(pos int) *Entity {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if pos < 0 || pos >= len(c.items) {
		return nil
	}

	return c.items[pos]
}

// ByID returns the entity with the given id, or nil if absent.
func (c *Collection) ByID(id string) *Entity {
	c.mu.RLock()
	defer c.mu.RUnlock()

	pos, ok := c.index[id]
	if !ok {
		return nil
	}

	return c.items[pos]
}

// Version returns the commit counter. It increases on every commit
// point and never mid-batch.
func (c *Collection) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.version
}

// Counts returns the total, loaded-so-far, and broken counters.
func (c *Collection) Counts() (total, loaded, broken int) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.items), c.loaded, c.broken
}

// Entities returns the non-hole entities in position order. Used by the
// existence verifier after a successful run.
func (c *Collection) Entities() []*Entity {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Entity, 0, c.loaded)
	for _, ent := range c.items {
		if ent != nil {
			out = append(out, ent)
		}
	}

	return out
}
