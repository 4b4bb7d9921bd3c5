// Package crdt implements the character-sequence CRDT backing collaborative
// documents. Replicas converge for any interleaving of operation delivery,
// including duplicates and out-of-order batches.
package crdt

import (
	"sort"
	"strings"
)

const (
	// maxDigit bounds one level of the dense position space.
	maxDigit uint32 = 1 << 16
)

type element struct {
	ch      Char
	deleted bool
}

// Document is one replica of a shared text sequence. It is not safe for
// concurrent use; owners serialize access (the document store holds the lock).
type Document struct {
	site  string
	clock uint64

	elems []*element
	byID  map[CharID]*element

	// deletes that arrived before their insert; the insert lands tombstoned.
	pendingDeletes map[CharID]struct{}
}

func New(site string) *Document {
	return &Document{
		site:           site,
		byID:           make(map[CharID]*element),
		pendingDeletes: make(map[CharID]struct{}),
	}
}

// Len returns the number of visible (non-tombstoned) characters.
func (d *Document) Len() int {
	n := 0
	for _, e := range d.elems {
		if !e.deleted {
			n++
		}
	}
	return n
}

// Text materializes the visible sequence.
func (d *Document) Text() string {
	var b strings.Builder
	for _, e := range d.elems {
		if !e.deleted {
			b.WriteString(e.ch.Value)
		}
	}
	return b.String()
}

// InsertAt inserts text at a visible index and returns the ops to broadcast.
// Index is clamped to [0, Len()].
func (d *Document) InsertAt(index int, text string) []Op {
	if index < 0 {
		index = 0
	}
	if n := d.Len(); index > n {
		index = n
	}

	ops := make([]Op, 0, len(text))
	rightSlice := d.insertionPoint(index)
	var leftPos []Identifier
	if rightSlice > 0 {
		leftPos = d.elems[rightSlice-1].ch.Position
	}
	for _, r := range text {
		var rightPos []Identifier
		if rightSlice < len(d.elems) {
			rightPos = d.elems[rightSlice].ch.Position
		}
		pos := d.positionBetween(leftPos, rightPos)

		d.clock++
		ch := Char{
			ID:       CharID{Clock: d.clock, Site: d.site},
			Value:    string(r),
			Position: pos,
		}
		e := &element{ch: ch}
		d.insertElement(e, rightSlice)
		d.byID[ch.ID] = e

		leftPos = pos
		rightSlice++
		ops = append(ops, Op{Action: ActionInsert, Char: ch})
	}
	return ops
}

// DeleteAt tombstones n visible characters starting at index and returns the
// ops to broadcast. Out-of-range spans are clamped.
func (d *Document) DeleteAt(index, n int) []Op {
	if index < 0 {
		n += index
		index = 0
	}
	if n <= 0 {
		return nil
	}

	var ops []Op
	visible := -1
	for _, e := range d.elems {
		if e.deleted {
			continue
		}
		visible++
		if visible < index {
			continue
		}
		if visible >= index+n {
			break
		}
		e.deleted = true
		ops = append(ops, Op{Action: ActionDelete, Char: e.ch})
	}
	return ops
}

// Patch is the visible-buffer effect of one applied remote op, expressed as a
// targeted range edit at the index valid at application time.
type Patch struct {
	Action Action
	Index  int
	Value  string
}

// Apply merges a remote op batch. Duplicate and out-of-order delivery are
// no-ops for already-seen ops; a delete arriving before its insert is held
// and the insert lands already tombstoned. The returned patches describe what
// changed in the visible text, in application order.
func (d *Document) Apply(ops []Op) []Patch {
	var patches []Patch
	for _, op := range ops {
		switch op.Action {
		case ActionInsert:
			if p, ok := d.applyInsert(op.Char); ok {
				patches = append(patches, p)
			}
		case ActionDelete:
			if p, ok := d.applyDelete(op.Char.ID); ok {
				patches = append(patches, p)
			}
		}
	}
	return patches
}

func (d *Document) applyInsert(ch Char) (Patch, bool) {
	if _, seen := d.byID[ch.ID]; seen {
		return Patch{}, false
	}
	e := &element{ch: ch}
	if _, del := d.pendingDeletes[ch.ID]; del {
		e.deleted = true
		delete(d.pendingDeletes, ch.ID)
	}

	at := sort.Search(len(d.elems), func(i int) bool {
		return compareChars(&d.elems[i].ch, &e.ch) >= 0
	})
	d.insertElement(e, at)
	d.byID[ch.ID] = e

	if e.deleted {
		return Patch{}, false
	}
	return Patch{Action: ActionInsert, Index: d.visibleIndexOf(at), Value: ch.Value}, true
}

func (d *Document) applyDelete(id CharID) (Patch, bool) {
	e, ok := d.byID[id]
	if !ok {
		d.pendingDeletes[id] = struct{}{}
		return Patch{}, false
	}
	if e.deleted {
		return Patch{}, false
	}

	at := d.sliceIndexOf(e)
	idx := d.visibleIndexOf(at)
	e.deleted = true
	return Patch{Action: ActionDelete, Index: idx, Value: e.ch.Value}, true
}

func (d *Document) insertElement(e *element, at int) {
	d.elems = append(d.elems, nil)
	copy(d.elems[at+1:], d.elems[at:])
	d.elems[at] = e
}

// insertionPoint maps a visible index to the slice index to insert at: just
// before the visible element currently at that index, after any tombstones
// that precede it.
func (d *Document) insertionPoint(index int) int {
	visible := 0
	for i, e := range d.elems {
		if e.deleted {
			continue
		}
		if visible == index {
			return i
		}
		visible++
	}
	return len(d.elems)
}

func (d *Document) sliceIndexOf(e *element) int {
	at := sort.Search(len(d.elems), func(i int) bool {
		return compareChars(&d.elems[i].ch, &e.ch) >= 0
	})
	// identical compare keys are impossible across distinct chars, so at is exact
	return at
}

func (d *Document) visibleIndexOf(sliceIdx int) int {
	n := 0
	for i := 0; i < sliceIdx; i++ {
		if !d.elems[i].deleted {
			n++
		}
	}
	return n
}

// positionBetween allocates a position strictly between left and right,
// stamping the final level with this replica's site id. Nil bounds mean the
// start/end of the space.
func (d *Document) positionBetween(left, right []Identifier) []Identifier {
	var pos []Identifier
	leftBounds, rightBounds := true, true
	for level := 0; ; level++ {
		var lo Identifier
		if leftBounds && level < len(left) {
			lo = left[level]
		}
		hi := Identifier{Digit: maxDigit}
		if rightBounds && level < len(right) {
			hi = right[level]
		}

		if hi.Digit-lo.Digit > 1 {
			return append(pos, Identifier{Digit: lo.Digit + (hi.Digit-lo.Digit)/2, Site: d.site})
		}

		pos = append(pos, lo)
		if compareIdentifiers(lo, hi) < 0 {
			// committed below right's pair; right no longer bounds deeper levels
			rightBounds = false
		}
		if !leftBounds || level >= len(left)-1 {
			// left exhausted: anything > 0 at the next level works
			leftBounds = false
		}
	}
}
