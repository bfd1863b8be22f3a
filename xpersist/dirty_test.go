package xpersist

import "testing"

func TestDirtyPageSet_InsertAndGet(t *testing.T) {
	d := newDirtyPageSet()
	pi := &pageInfo{pageNo: 3}
	d.insert(3, pi)

	got, ok := d.get(3)
	if !ok || got != pi {
		t.Fatalf("get(3) = %v, %v; want %v, true", got, ok, pi)
	}
	if d.len() != 1 {
		t.Fatalf("len() = %d, want 1", d.len())
	}
}

func TestDirtyPageSet_InsertOverwritesOnRepeat(t *testing.T) {
	d := newDirtyPageSet()
	first := &pageInfo{pageNo: 5, shared: false}
	second := &pageInfo{pageNo: 5, shared: true}

	d.insert(5, first)
	d.insert(5, second)

	if d.len() != 1 {
		t.Fatalf("len() = %d, want 1 after repeated insert of same page", d.len())
	}
	got, ok := d.get(5)
	if !ok || got != second {
		t.Fatalf("get(5) = %v, %v; want the second inserted record", got, ok)
	}
	if len(d.sorted()) != 1 {
		t.Fatalf("sorted() len = %d, want 1 (no duplicate page numbers)", len(d.sorted()))
	}
}

func TestDirtyPageSet_SortedOrder(t *testing.T) {
	d := newDirtyPageSet()
	for _, pn := range []int{7, 1, 4, 2} {
		d.insert(pn, &pageInfo{pageNo: pn})
	}

	sorted := d.sorted()
	want := []int{1, 2, 4, 7}
	if len(sorted) != len(want) {
		t.Fatalf("sorted() = %v, want %v", sorted, want)
	}
	for i, v := range want {
		if sorted[i] != v {
			t.Fatalf("sorted()[%d] = %d, want %d", i, sorted[i], v)
		}
	}
}

func TestDirtyPageSet_EntriesMatchesSortedOrder(t *testing.T) {
	d := newDirtyPageSet()
	piA := &pageInfo{pageNo: 9}
	piB := &pageInfo{pageNo: 3}
	d.insert(9, piA)
	d.insert(3, piB)

	entries := d.entries()
	if len(entries) != 2 {
		t.Fatalf("entries() len = %d, want 2", len(entries))
	}
	if entries[0] != piB || entries[1] != piA {
		t.Fatalf("entries() not in page-number order: %+v", entries)
	}
}

func TestDirtyPageSet_Clear(t *testing.T) {
	d := newDirtyPageSet()
	d.insert(1, &pageInfo{pageNo: 1})
	d.insert(2, &pageInfo{pageNo: 2})

	d.clear()

	if d.len() != 0 {
		t.Fatalf("len() = %d after clear, want 0", d.len())
	}
	if len(d.sorted()) != 0 {
		t.Fatalf("sorted() = %v after clear, want empty", d.sorted())
	}
	if _, ok := d.get(1); ok {
		t.Fatal("get(1) found an entry after clear")
	}
}

func TestDirtyPageSet_ReinsertAfterClear(t *testing.T) {
	d := newDirtyPageSet()
	d.insert(1, &pageInfo{pageNo: 1})
	d.clear()

	pi := &pageInfo{pageNo: 1, shared: true}
	d.insert(1, pi)

	if d.len() != 1 {
		t.Fatalf("len() = %d, want 1", d.len())
	}
	got, ok := d.get(1)
	if !ok || got != pi {
		t.Fatalf("get(1) = %v, %v; want %v, true", got, ok, pi)
	}
}
