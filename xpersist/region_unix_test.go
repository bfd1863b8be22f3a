//go:build unix

package xpersist

import (
	"testing"

	"golang.org/x/sys/unix"
)

// openAnonBuffer returns an anonymous mmap'd buffer, suitable as an
// OpenRegion globals init argument: its address is stable across GC,
// unlike a plain heap-allocated slice.
func openAnonBuffer(n int) ([]byte, error) {
	return unix.Mmap(-1, 0, pageAlign(n), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
}

func mustOpenRegion(t *testing.T, n int, opts ...RegionOption) *Region {
	t.Helper()
	r, err := OpenRegion(n, nil, opts...)
	if err != nil {
		t.Fatalf("OpenRegion(%d): %v", n, err)
	}
	t.Cleanup(func() {
		if err := r.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return r
}

func TestPageAlign(t *testing.T) {
	tests := []struct {
		name string
		in   int
		want int
	}{
		{"zero", 0, PageSize},
		{"negative", -1, PageSize},
		{"one", 1, PageSize},
		{"exact page", PageSize, PageSize},
		{"page plus one", PageSize + 1, PageSize * 2},
		{"three pages", PageSize * 3, PageSize * 3},
		{"mid second page", PageSize + 500, PageSize * 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pageAlign(tt.in)
			if got != tt.want {
				t.Errorf("pageAlign(%d) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestOpenRegion_HeapBasic(t *testing.T) {
	r := mustOpenRegion(t, 4*PageSize)

	if r.Kind() != HeapRegion {
		t.Errorf("Kind() = %v, want HeapRegion", r.Kind())
	}
	if r.Size() != 4*PageSize {
		t.Errorf("Size() = %d, want %d", r.Size(), 4*PageSize)
	}
	if r.Base() == 0 {
		t.Error("Base() returned zero address")
	}
}

func TestOpenRegion_InvalidSize(t *testing.T) {
	if _, err := OpenRegion(0, nil); err == nil {
		t.Fatal("expected error for zero size")
	}
	if _, err := OpenRegion(-1, nil); err == nil {
		t.Fatal("expected error for negative size")
	}
}

func TestOpenRegion_GlobalsInit(t *testing.T) {
	n := 2 * PageSize
	init, err := openAnonBuffer(n)
	if err != nil {
		t.Fatalf("openAnonBuffer: %v", err)
	}
	copy(init, []byte("globals payload"))

	r, err := OpenRegion(n, init)
	if err != nil {
		t.Fatalf("OpenRegion with init: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })

	if r.Kind() != GlobalsRegion {
		t.Errorf("Kind() = %v, want GlobalsRegion", r.Kind())
	}
	master, err := r.ReadBytes(0, len("globals payload"))
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if string(master) != "globals payload" {
		t.Errorf("master bytes = %q, want %q", master, "globals payload")
	}
}

func TestOpenRegion_GlobalsInitTooSmall(t *testing.T) {
	n := 2 * PageSize
	init, err := openAnonBuffer(PageSize)
	if err != nil {
		t.Fatalf("openAnonBuffer: %v", err)
	}
	if _, err := OpenRegion(n, init); err == nil {
		t.Fatal("expected error when init is smaller than region size")
	}
}

func TestOpenProtectionCloseProtection(t *testing.T) {
	r := mustOpenRegion(t, PageSize)

	if err := r.OpenProtection(); err != nil {
		t.Fatalf("OpenProtection: %v", err)
	}
	if !r.protected.Load() {
		t.Error("protected flag not set after OpenProtection")
	}

	if err := r.CloseProtection(); err != nil {
		t.Fatalf("CloseProtection: %v", err)
	}
	if r.protected.Load() {
		t.Error("protected flag still set after CloseProtection")
	}
}

func TestInRange(t *testing.T) {
	r := mustOpenRegion(t, 2*PageSize)

	if !r.InRange(r.Base()) {
		t.Error("base address should be in range")
	}
	if !r.InRange(r.Base() + uintptr(2*PageSize) - 1) {
		t.Error("last byte should be in range")
	}
	if r.InRange(r.Base() + uintptr(2*PageSize)) {
		t.Error("one past end should not be in range")
	}
	if r.InRange(r.Base() - 1) {
		t.Error("one before base should not be in range")
	}
}

func TestRegionClose_Idempotent(t *testing.T) {
	r, err := OpenRegion(PageSize, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
}

func TestOpenRegion_MaxDirtyPagesOption(t *testing.T) {
	r := mustOpenRegion(t, PageSize, WithMaxDirtyPages(2))
	if r.pages.cap != 2 {
		t.Errorf("pagePool.cap = %d, want 2", r.pages.cap)
	}
	if r.twins.wordCap != 2 {
		t.Errorf("twinPool.wordCap = %d, want 2", r.twins.wordCap)
	}
}
