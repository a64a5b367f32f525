package library

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"

	apperrors "github.com/pianissi/gallery-sync/internal/errors"
	"github.com/pianissi/gallery-sync/internal/gallery"
	"github.com/pianissi/gallery-sync/internal/state"
)

// tagsFileName is the per-directory sidecar assigning tag ids to the
// files in that directory.
const tagsFileName = ".tags.yaml"

// sidecarSuffix is appended to an image path to locate its JSON
// sidecar of extra properties ("cat.jpg" -> "cat.jpg.json").
const sidecarSuffix = ".json"

// imageExts are the file extensions indexed as library records.
var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
}

// Library is a filesystem-backed record source: it walks a directory
// tree and turns each image file into a SourceRecord with a stable id,
// tag ids from the directory's tags sidecar, and extra properties from
// the file's JSON sidecar. Ids are minted once per path and persisted,
// so a file keeps its identity across scans.
type Library struct {
	root   string
	state  *state.State
	logger *slog.Logger
}

// New creates a record source over the given library root.
func New(root string, st *state.State, logger *slog.Logger) (*Library, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrLibraryNotFound, root)
	}

	return &Library{root: root, state: st, logger: logger}, nil
}

// Root returns the absolute library root directory.
func (l *Library) Root() string {
	return l.root
}

// DisplayPath resolves a locator to the path shown to the user:
// relative to the library root, forward slashes. Pure string work, no
// filesystem access.
func (l *Library) DisplayPath(locator string) string {
	rel, err := filepath.Rel(l.root, locator)
	if err != nil || strings.HasPrefix(rel, "..") {
		return locator
	}

	return filepath.ToSlash(rel)
}

// Fetch scans the library and returns every record in the requested order.
func (l *Library) Fetch(ctx context.Context, order gallery.Order) ([]gallery.SourceRecord, error) {
	records, err := l.scan(ctx)
	if err != nil {
		return nil, err
	}

	sortRecords(records, order)

	return records, nil
}

// Search scans the library and returns the records matching the given
// criteria, in the requested order.
func (l *Library) Search(ctx context.Context, criteria []gallery.Criteria, order gallery.Order, matchAny bool) ([]gallery.SourceRecord, error) {
	records, err := l.scan(ctx)
	if err != nil {
		return nil, err
	}

	filtered := records[:0]

	for _, rec := range records {
		if matchesAll(rec, criteria, matchAny) {
			filtered = append(filtered, rec)
		}
	}

	sortRecords(filtered, order)

	return filtered, nil
}

// scan walks the library root and builds the full record set. Newly
// discovered paths get a fresh ULID persisted before the scan returns,
// so two scans never hand out different ids for the same file.
func (l *Library) scan(ctx context.Context) ([]gallery.SourceRecord, error) {
	ids, err := l.state.AllFileIDs()
	if err != nil {
		return nil, fmt.Errorf("loading file ids: %w", err)
	}

	newIDs := make(map[string]string)
	dirTags := make(map[string]map[string][]string)

	var records []gallery.SourceRecord

	err = filepath.WalkDir(l.root, func(absPath string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		base := filepath.Base(absPath)

		if d.IsDir() {
			if absPath != l.root && strings.HasPrefix(base, ".") {
				return filepath.SkipDir
			}

			return nil
		}

		if strings.HasPrefix(base, ".") {
			return nil
		}

		// Skip symlinks to avoid following links outside the library
		// or to special files.
		if d.Type()&os.ModeSymlink != 0 {
			l.logger.Debug("skipping symlink during scan", slog.String("path", absPath))
			return nil
		}

		if !imageExts[strings.ToLower(filepath.Ext(base))] {
			return nil
		}

		rel, err := filepath.Rel(l.root, absPath)
		if err != nil {
			return err
		}

		rel = filepath.ToSlash(rel)

		id := ids[rel]
		if id == "" {
			id = ulid.Make().String()
			newIDs[rel] = id
		}

		dir := filepath.Dir(absPath)

		tags, ok := dirTags[dir]
		if !ok {
			tags = l.loadDirTags(dir)
			dirTags[dir] = tags
		}

		info, err := d.Info()
		if err != nil {
			l.logger.Warn("stat failed during scan", slog.String("path", rel), slog.String("error", err.Error()))
			return nil
		}

		records = append(records, gallery.SourceRecord{
			ID:      id,
			Locator: absPath,
			TagIDs:  tags[base],
			Extra:   l.loadSidecar(absPath + sidecarSuffix),
			Size:    info.Size(),
			MTime:   info.ModTime().UnixMilli(),
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning library: %w", err)
	}

	if len(newIDs) > 0 {
		if err := l.state.SetFileIDs(newIDs); err != nil {
			return nil, fmt.Errorf("persisting new file ids: %w", err)
		}

		l.logger.Debug("assigned ids to new files", slog.Int("count", len(newIDs)))
	}

	return records, nil
}

// loadDirTags reads a directory's tags sidecar: a YAML map from file
// name to tag id list. Missing or malformed sidecars yield no tags.
func (l *Library) loadDirTags(dir string) map[string][]string {
	data, err := os.ReadFile(filepath.Join(dir, tagsFileName))
	if err != nil {
		return nil
	}

	var tags map[string][]string
	if err := yaml.Unmarshal(data, &tags); err != nil {
		l.logger.Warn("malformed tags sidecar",
			slog.String("dir", dir),
			slog.String("error", err.Error()),
		)

		return nil
	}

	return tags
}

// loadSidecar reads a file's JSON sidecar into a flat extra-property
// map. Only top-level scalar fields are kept; nested values are
// flattened to their JSON string form.
func (l *Library) loadSidecar(path string) map[string]string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	parsed := gjson.ParseBytes(data)
	if !parsed.IsObject() {
		l.logger.Warn("sidecar is not a JSON object", slog.String("path", path))
		return nil
	}

	extra := make(map[string]string)

	parsed.ForEach(func(key, value gjson.Result) bool {
		extra[key.String()] = value.String()
		return true
	})

	if len(extra) == 0 {
		return nil
	}

	return extra
}

// sortRecords orders records in place. Ties always break on locator so
// the result set order is deterministic.
func sortRecords(records []gallery.SourceRecord, order gallery.Order) {
	less := lessFunc(order)

	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]

		if less != nil {
			switch {
			case less(a, b):
				return order.Direction != gallery.Descending
			case less(b, a):
				return order.Direction == gallery.Descending
			}
		}

		return a.Locator < b.Locator
	})
}

func lessFunc(order gallery.Order) func(a, b gallery.SourceRecord) bool {
	switch order.By {
	case gallery.OrderByName:
		if order.Natural {
			return func(a, b gallery.SourceRecord) bool {
				return naturalLess(filepath.Base(a.Locator), filepath.Base(b.Locator))
			}
		}

		return func(a, b gallery.SourceRecord) bool {
			return filepath.Base(a.Locator) < filepath.Base(b.Locator)
		}

	case gallery.OrderBySize:
		return func(a, b gallery.SourceRecord) bool { return a.Size < b.Size }

	case gallery.OrderByModified:
		return func(a, b gallery.SourceRecord) bool { return a.MTime < b.MTime }

	case gallery.OrderByRandom:
		return func(a, b gallery.SourceRecord) bool { return idHash(a.ID) < idHash(b.ID) }

	case gallery.OrderByExtra:
		key := order.ExtraKey

		return func(a, b gallery.SourceRecord) bool {
			av, bv := a.Extra[key], b.Extra[key]
			if an, aerr := strconv.ParseFloat(av, 64); aerr == nil {
				if bn, berr := strconv.ParseFloat(bv, 64); berr == nil {
					return an < bn
				}
			}

			return av < bv
		}

	default:
		return nil
	}
}

// idHash shuffles records deterministically for random ordering. Ids
// are stable across scans, so the shuffle is too.
func idHash(id string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))

	return h.Sum64()
}

// naturalLess compares names digit-run aware, so "img2" sorts before
// "img10".
func naturalLess(a, b string) bool {
	for len(a) > 0 && len(b) > 0 {
		aDigits, aRest := splitDigits(a)
		bDigits, bRest := splitDigits(b)

		if aDigits != "" && bDigits != "" {
			an, _ := strconv.ParseInt(aDigits, 10, 64)
			bn, _ := strconv.ParseInt(bDigits, 10, 64)

			if an != bn {
				return an < bn
			}

			a, b = aRest, bRest

			continue
		}

		if a[0] != b[0] {
			return a[0] < b[0]
		}

		a, b = a[1:], b[1:]
	}

	return len(a) < len(b)
}

// splitDigits returns the leading digit run of s and the remainder.
func splitDigits(s string) (digits, rest string) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}

	return s[:i], s[i:]
}

// matchesAll reports whether a record satisfies the criteria set,
// combined with OR when matchAny is set and AND otherwise. An empty
// criteria list matches everything.
func matchesAll(rec gallery.SourceRecord, criteria []gallery.Criteria, matchAny bool) bool {
	if len(criteria) == 0 {
		return true
	}

	for _, c := range criteria {
		ok := matches(rec, c)

		if matchAny && ok {
			return true
		}

		if !matchAny && !ok {
			return false
		}
	}

	return !matchAny
}

func matches(rec gallery.SourceRecord, c gallery.Criteria) bool {
	switch c.Key {
	case "tag":
		return matchTag(rec.TagIDs, c)

	case "name":
		return matchString(filepath.Base(rec.Locator), c)

	case "size":
		return matchNumber(float64(rec.Size), c)

	default:
		v, ok := rec.Extra[c.Key]
		if !ok {
			return false
		}

		if c.ValueType == gallery.ValueNumber {
			n, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return false
			}

			return matchNumber(n, c)
		}

		return matchString(v, c)
	}
}

func matchTag(tagIDs []string, c gallery.Criteria) bool {
	for _, id := range tagIDs {
		switch c.Operator {
		case gallery.OpEquals:
			if id == c.Value {
				return true
			}

		case gallery.OpContains:
			if strings.Contains(id, c.Value) {
				return true
			}
		}
	}

	return false
}

func matchString(v string, c gallery.Criteria) bool {
	switch c.Operator {
	case gallery.OpEquals:
		return v == c.Value
	case gallery.OpContains:
		return strings.Contains(v, c.Value)
	case gallery.OpGreater:
		return v > c.Value
	case gallery.OpLess:
		return v < c.Value
	default:
		return false
	}
}

func matchNumber(n float64, c gallery.Criteria) bool {
	want, err := strconv.ParseFloat(c.Value, 64)
	if err != nil {
		return false
	}

	switch c.Operator {
	case gallery.OpEquals:
		return n == want
	case gallery.OpGreater:
		return n > want
	case gallery.OpLess:
		return n < want
	default:
		return false
	}
}
