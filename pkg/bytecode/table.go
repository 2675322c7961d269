package bytecode

// ---------------------------------------------------------------------------
// Open-addressed hash table keyed by interned strings
// ---------------------------------------------------------------------------

// tableMaxLoad is the load limit (live entries plus tombstones over
// capacity) past which the table grows.
const tableMaxLoad = 0.75

const tableInitialCapacity = 8

// bucketState discriminates the three bucket states explicitly rather than
// encoding tombstones in the value.
type bucketState uint8

const (
	bucketEmpty bucketState = iota
	bucketTombstone
	bucketLive
)

type bucket struct {
	state bucketState
	key   Handle // string object; valid only when live
	value Value
}

// Table is an open-addressed, linear-probing hash table with string-object
// keys. It backs the global environment, class method tables, instance
// field tables, and the intern set. Capacity is always a power of two.
type Table struct {
	buckets []bucket
	// count includes tombstones; they hold probe sequences together and
	// still cost load.
	count int
	live  int
}

// Size returns the number of live entries.
func (t *Table) Size() int { return t.live }

// Capacity returns the current bucket count.
func (t *Table) Capacity() int { return len(t.buckets) }

// findBucket locates the bucket for key: either the live bucket holding it,
// or the first reusable bucket (preferring an earlier tombstone) where an
// insertion would go. Keys are interned, so comparison is handle identity.
func (t *Table) findBucket(h *Heap, buckets []bucket, key Handle) *bucket {
	index := h.str(key).Hash & uint32(len(buckets)-1)
	var tombstone *bucket

	for {
		b := &buckets[index]
		switch b.state {
		case bucketEmpty:
			if tombstone != nil {
				return tombstone
			}
			return b
		case bucketTombstone:
			if tombstone == nil {
				tombstone = b
			}
		case bucketLive:
			if b.key == key {
				return b
			}
		}
		index = (index + 1) & uint32(len(buckets)-1)
	}
}

// Get looks up key and reports whether it was present.
func (t *Table) Get(h *Heap, key Handle) (Value, bool) {
	if t.count == 0 {
		return NilValue(), false
	}
	b := t.findBucket(h, t.buckets, key)
	if b.state != bucketLive {
		return NilValue(), false
	}
	return b.value, true
}

// Set inserts or overwrites key and reports whether the key was new.
func (t *Table) Set(h *Heap, key Handle, value Value) bool {
	if float64(t.count+1) > float64(len(t.buckets))*tableMaxLoad {
		t.grow(h)
	}

	b := t.findBucket(h, t.buckets, key)
	isNew := b.state != bucketLive
	if isNew {
		t.live++
		// A fresh empty bucket raises the load; a reused tombstone was
		// already counted.
		if b.state == bucketEmpty {
			t.count++
		}
	}
	b.state = bucketLive
	b.key = key
	b.value = value
	return isNew
}

// Delete removes key, leaving a tombstone so later probe sequences still
// pass through. Reports whether the key was present.
func (t *Table) Delete(h *Heap, key Handle) bool {
	if t.count == 0 {
		return false
	}
	b := t.findBucket(h, t.buckets, key)
	if b.state != bucketLive {
		return false
	}
	b.state = bucketTombstone
	b.key = NilHandle
	b.value = NilValue()
	t.live--
	return true
}

// AddAll copies every live entry of src into t.
func (t *Table) AddAll(h *Heap, src *Table) {
	for i := range src.buckets {
		b := &src.buckets[i]
		if b.state == bucketLive {
			t.Set(h, b.key, b.value)
		}
	}
}

// grow rehashes every live entry into a larger bucket array, dropping
// tombstones.
func (t *Table) grow(h *Heap) {
	capacity := tableInitialCapacity
	if len(t.buckets) > 0 {
		capacity = len(t.buckets) * 2
	}

	buckets := make([]bucket, capacity)
	t.count = 0
	t.live = 0
	for i := range t.buckets {
		old := &t.buckets[i]
		if old.state != bucketLive {
			continue
		}
		dst := t.findBucket(h, buckets, old.key)
		*dst = *old
		t.count++
		t.live++
	}
	t.buckets = buckets
}

// FindString looks up an interned string by content. It compares length and
// hash before contents, and is the one lookup that runs before a key object
// exists. Returns NilHandle when absent.
func (t *Table) FindString(h *Heap, chars string, hash uint32) Handle {
	if t.count == 0 {
		return NilHandle
	}

	index := hash & uint32(len(t.buckets)-1)
	for {
		b := &t.buckets[index]
		switch b.state {
		case bucketEmpty:
			return NilHandle
		case bucketLive:
			s := h.str(b.key)
			if len(s.Chars) == len(chars) && s.Hash == hash && s.Chars == chars {
				return b.key
			}
		}
		index = (index + 1) & uint32(len(t.buckets)-1)
	}
}

// removeUnmarked deletes every entry whose key is not marked. The collector
// runs this over the intern set before sweeping so freed strings cannot
// linger as keys.
func (t *Table) removeUnmarked(h *Heap) {
	for i := range t.buckets {
		b := &t.buckets[i]
		if b.state == bucketLive && !h.isMarked(b.key) {
			b.state = bucketTombstone
			b.key = NilHandle
			b.value = NilValue()
			t.live--
		}
	}
}

// mark marks every live key and value as reachable.
func (t *Table) mark(h *Heap) {
	for i := range t.buckets {
		b := &t.buckets[i]
		if b.state == bucketLive {
			h.markObject(b.key)
			h.markValue(b.value)
		}
	}
}

// each calls fn for every live entry. Mutating t during iteration is not
// allowed.
func (t *Table) each(fn func(key Handle, value Value)) {
	for i := range t.buckets {
		b := &t.buckets[i]
		if b.state == bucketLive {
			fn(b.key, b.value)
		}
	}
}
