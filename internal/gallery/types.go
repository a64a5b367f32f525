package gallery

import "context"

//go:generate mockgen -source=types.go -destination=mock_gallery_test.go -package=gallery

// OrderBy selects the record field a fetch is ordered on.
type OrderBy string

const (
	OrderByName     OrderBy = "name"
	OrderBySize     OrderBy = "size"
	OrderByModified OrderBy = "modified"

	// OrderByExtra orders on the extra-property named by Order.ExtraKey.
	OrderByExtra OrderBy = "extra"

	// OrderByRandom shuffles deterministically on record id, so the
	// order is stable across rescans until the record set changes.
	OrderByRandom OrderBy = "random"
)

// Direction is the sort direction of a fetch.
type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

// Order describes how the record source should order its result set.
// Natural enables numeric-aware name comparison ("img2" before "img10")
// and only applies when ordering by name.
type Order struct {
	By        OrderBy
	Direction Direction
	Natural   bool
	ExtraKey  string
}

// Operator is a search criteria operator.
type Operator string

const (
	OpEquals   Operator = "equals"
	OpContains Operator = "contains"
	OpGreater  Operator = "greater"
	OpLess     Operator = "less"
)

// ValueType tells the source how to interpret a criteria value.
type ValueType string

const (
	ValueString ValueType = "string"
	ValueNumber ValueType = "number"
)

// Criteria is one search filter. Key is "tag", "name", "size", or an
// extra-property key.
type Criteria struct {
	Key       string
	Operator  Operator
	Value     string
	ValueType ValueType
}

// SourceRecord is an immutable-for-one-sync snapshot of a single
// library item, owned by the record source. The engine never mutates it.
type SourceRecord struct {
	ID      string
	Locator string
	TagIDs  []string
	Extra   map[string]string
	Size    int64
	MTime   int64
}

// RecordSource turns order and filter parameters into an ordered record
// set. Consumed as an opaque call; a failure propagates to the caller
// of Fetch/Search with the collection left untouched.
type RecordSource interface {
	Fetch(ctx context.Context, order Order) ([]SourceRecord, error)
	Search(ctx context.Context, criteria []Criteria, order Order, matchAny bool) ([]SourceRecord, error)
}

// Prober checks whether the resource behind a locator still exists.
// An error is treated the same as "missing" by the verifier.
type Prober interface {
	Exists(ctx context.Context, locator string) (bool, error)
}

// DerivePath resolves a locator to the display path shown to the user.
// Pure function; must not touch the filesystem.
type DerivePath func(locator string) string

// Shape summarizes one finished request for fetch time classification.
type Shape struct {
	View     string
	Criteria []Criteria
}
