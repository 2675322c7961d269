package bytecode

import (
	"fmt"
	"testing"
)

func TestTableSetGet(t *testing.T) {
	heap := NewHeap()
	var table Table

	key := heap.InternString("answer")
	if !table.Set(heap, key, NumberValue(42)) {
		t.Error("first Set should report a new key")
	}
	if table.Set(heap, key, NumberValue(43)) {
		t.Error("overwrite should not report a new key")
	}

	v, ok := table.Get(heap, key)
	if !ok {
		t.Fatal("key should be present")
	}
	if v.Num != 43 {
		t.Errorf("expected 43, got %v", v.Num)
	}
}

func TestTableGetMissing(t *testing.T) {
	heap := NewHeap()
	var table Table

	if _, ok := table.Get(heap, heap.InternString("nope")); ok {
		t.Error("empty table should not contain anything")
	}

	table.Set(heap, heap.InternString("a"), NilValue())
	if _, ok := table.Get(heap, heap.InternString("b")); ok {
		t.Error("missing key should not be found")
	}
}

func TestTableDelete(t *testing.T) {
	heap := NewHeap()
	var table Table

	key := heap.InternString("gone")
	table.Set(heap, key, BoolValue(true))

	if !table.Delete(heap, key) {
		t.Error("delete of present key should report true")
	}
	if table.Delete(heap, key) {
		t.Error("second delete should report false")
	}
	if _, ok := table.Get(heap, key); ok {
		t.Error("deleted key should not be found")
	}
	if table.Size() != 0 {
		t.Errorf("size should be 0 after delete, got %d", table.Size())
	}
}

func TestTableProbingPastTombstones(t *testing.T) {
	heap := NewHeap()
	var table Table

	keys := make([]Handle, 64)
	for i := range keys {
		keys[i] = heap.InternString(fmt.Sprintf("key%d", i))
		table.Set(heap, keys[i], NumberValue(float64(i)))
	}

	// Punch holes, then verify every survivor is still reachable through
	// any tombstones on its probe path.
	for i := 0; i < len(keys); i += 2 {
		table.Delete(heap, keys[i])
	}
	for i := 1; i < len(keys); i += 2 {
		v, ok := table.Get(heap, keys[i])
		if !ok {
			t.Fatalf("key%d lost after neighboring deletes", i)
		}
		if v.Num != float64(i) {
			t.Errorf("key%d: expected %d, got %v", i, i, v.Num)
		}
	}

	// Reinsertion reuses tombstones.
	for i := 0; i < len(keys); i += 2 {
		table.Set(heap, keys[i], NumberValue(float64(-i)))
	}
	for i := 0; i < len(keys); i += 2 {
		v, ok := table.Get(heap, keys[i])
		if !ok || v.Num != float64(-i) {
			t.Errorf("key%d not correctly reinserted", i)
		}
	}
}

func TestTableGrowthKeepsEntries(t *testing.T) {
	heap := NewHeap()
	var table Table

	const n = 500
	for i := 0; i < n; i++ {
		table.Set(heap, heap.InternString(fmt.Sprintf("entry%d", i)), NumberValue(float64(i)))
	}

	if table.Size() != n {
		t.Errorf("expected %d live entries, got %d", n, table.Size())
	}
	if float64(table.Size()) > float64(table.Capacity())*tableMaxLoad {
		t.Errorf("load invariant violated: %d live in %d buckets", table.Size(), table.Capacity())
	}

	for i := 0; i < n; i++ {
		v, ok := table.Get(heap, heap.InternString(fmt.Sprintf("entry%d", i)))
		if !ok {
			t.Fatalf("entry%d lost after growth", i)
		}
		if v.Num != float64(i) {
			t.Errorf("entry%d: expected %d, got %v", i, i, v.Num)
		}
	}
}

func TestTableAddAll(t *testing.T) {
	heap := NewHeap()
	var src, dst Table

	for i := 0; i < 10; i++ {
		src.Set(heap, heap.InternString(fmt.Sprintf("m%d", i)), NumberValue(float64(i)))
	}
	dst.Set(heap, heap.InternString("m3"), NumberValue(-1)) // will be overwritten

	dst.AddAll(heap, &src)

	if dst.Size() != 10 {
		t.Errorf("expected 10 entries, got %d", dst.Size())
	}
	v, _ := dst.Get(heap, heap.InternString("m3"))
	if v.Num != 3 {
		t.Errorf("AddAll should overwrite, got %v", v.Num)
	}
}

func TestFindString(t *testing.T) {
	heap := NewHeap()

	if heap.strings.FindString(heap, "absent", hashString("absent")) != NilHandle {
		t.Error("FindString on missing contents should return NilHandle")
	}

	h := heap.InternString("present")
	found := heap.strings.FindString(heap, "present", hashString("present"))
	if found != h {
		t.Errorf("FindString should return the interned handle %d, got %d", h, found)
	}
}

func TestFindStringDistinguishesContents(t *testing.T) {
	heap := NewHeap()
	heap.InternString("aa")

	if heap.strings.FindString(heap, "ab", hashString("ab")) != NilHandle {
		t.Error("different contents must not be found")
	}
}
