package span

import (
	"sort"

	"github.com/RoaringBitmap/roaring"
)

// Tracker records which node IDs carry a valid span and which file each
// tracked node came from. Node IDs are the tree arena's uint32 IDs.
//
// Two roaring bitmaps make the common operations cheap: validity is a
// single bitmap membership test and dropping a reloaded file walks only
// that file's bitmap.
type Tracker struct {
	enabled bool
	valid   *roaring.Bitmap
	files   map[string]*roaring.Bitmap
}

// NewTracker returns a tracker. A disabled tracker records nothing and
// reports every span as invalid.
func NewTracker(enabled bool) *Tracker {
	return &Tracker{
		enabled: enabled,
		valid:   roaring.New(),
		files:   make(map[string]*roaring.Bitmap),
	}
}

// Enabled reports whether new spans are being recorded.
func (t *Tracker) Enabled() bool { return t.enabled }

// SetEnabled switches recording on or off. Spans already recorded stay
// valid until invalidated; switching off does not forget them, matching
// the load-time semantics of the span switch.
func (t *Tracker) SetEnabled(on bool) { t.enabled = on }

// Track marks id as carrying a valid span from file.
func (t *Tracker) Track(file string, id uint32) {
	if !t.enabled {
		return
	}
	t.valid.Add(id)
	bm, ok := t.files[file]
	if !ok {
		bm = roaring.New()
		t.files[file] = bm
	}
	bm.Add(id)
}

// Valid reports whether id still has a trustworthy span.
func (t *Tracker) Valid(id uint32) bool {
	return t.valid.Contains(id)
}

// Invalidate marks the given nodes as having no span. The file index
// keeps them so DropFile still finds them.
func (t *Tracker) Invalidate(ids ...uint32) {
	for _, id := range ids {
		t.valid.Remove(id)
	}
}

// Forget removes nodes that no longer exist in the tree.
func (t *Tracker) Forget(ids ...uint32) {
	if len(ids) == 0 {
		return
	}
	gone := roaring.BitmapOf(ids...)
	t.valid.AndNot(gone)
	for file, bm := range t.files {
		bm.AndNot(gone)
		if bm.IsEmpty() {
			delete(t.files, file)
		}
	}
}

// DropFile invalidates and unindexes every node tracked for file and
// returns their IDs in ascending order.
func (t *Tracker) DropFile(file string) []uint32 {
	bm, ok := t.files[file]
	if !ok {
		return nil
	}
	ids := bm.ToArray()
	t.valid.AndNot(bm)
	delete(t.files, file)
	return ids
}

// Count returns the number of nodes with a valid span from file.
func (t *Tracker) Count(file string) uint64 {
	bm, ok := t.files[file]
	if !ok {
		return 0
	}
	return roaring.And(bm, t.valid).GetCardinality()
}

// Files lists the files with at least one indexed node, sorted.
func (t *Tracker) Files() []string {
	out := make([]string, 0, len(t.files))
	for f := range t.files {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Reset drops everything.
func (t *Tracker) Reset() {
	t.valid.Clear()
	t.files = make(map[string]*roaring.Bitmap)
}
