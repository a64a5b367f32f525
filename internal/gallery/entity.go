package gallery

// Entity is the client-owned, observable wrapper around one library
// record. DisplayPath is derived once at creation and preserved across
// reconciliations so identity reuse keeps the cache warm. TagIDs and
// Extra track the record's mutable fields; Broken is set by the
// existence verifier.
type Entity struct {
	ID          string
	Locator     string
	TagIDs      []string
	Extra       map[string]string
	DisplayPath string
	Broken      bool

	// onRelease tears down any subscriptions held on behalf of
	// observers. Cleared on first Release so a release is observable
	// at most once.
	onRelease func()
}

// SetReleaseHook registers a teardown callback invoked when the entity
// is disposed after disappearing from the collection.
func (e *Entity) SetReleaseHook(fn func()) {
	e.onRelease = fn
}

// Release disposes the entity. The scheduler calls it exactly once per
// reconciliation pass, only for entities confirmed absent from the
// newly committed collection.
func (e *Entity) Release() {
	if e.onRelease != nil {
		e.onRelease()
		e.onRelease = nil
	}
}

// reconcile merges a source record into an existing entity, or creates
// a new one. When the record's mutable fields are unchanged the
// existing entity is returned without any write, so observers see no
// spurious change. When changed, the fields are mutated in place and
// the same identity returned, preserving the derived display path.
func reconcile(existing *Entity, rec SourceRecord, derive DerivePath) *Entity {
	if existing != nil {
		if tagSetsEqual(existing.TagIDs, rec.TagIDs) && extrasEqual(existing.Extra, rec.Extra) {
			return existing
		}

		existing.TagIDs = cloneTags(rec.TagIDs)
		existing.Extra = cloneExtra(rec.Extra)

		return existing
	}

	// New entity: derive the display path eagerly, even though the
	// resource is unverified, so consumers can render optimistically
	// before the existence pass confirms it.
	return &Entity{
		ID:          rec.ID,
		Locator:     rec.Locator,
		TagIDs:      cloneTags(rec.TagIDs),
		Extra:       cloneExtra(rec.Extra),
		DisplayPath: derive(rec.Locator),
	}
}

// tagSetsEqual compares tag id slices as sets: order does not matter,
// duplicates do not count twice.
func tagSetsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}

	if len(a) == 0 {
		return true
	}

	seen := make(map[string]int, len(a))
	for _, id := range a {
		seen[id]++
	}

	for _, id := range b {
		seen[id]--
		if seen[id] < 0 {
			return false
		}
	}

	return true
}

func extrasEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}

	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}

	return true
}

func cloneTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}

	out := make([]string, len(tags))
	copy(out, tags)

	return out
}

func cloneExtra(extra map[string]string) map[string]string {
	if len(extra) == 0 {
		return nil
	}

	out := make(map[string]string, len(extra))
	for k, v := range extra {
		out[k] = v
	}

	return out
}
