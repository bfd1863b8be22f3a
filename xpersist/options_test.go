package xpersist

import "testing"

func TestApplyRegionOptions_Defaults(t *testing.T) {
	cfg := applyRegionOptions(nil)
	if cfg.reserveVA != DefaultReserveVA {
		t.Errorf("reserveVA = %d, want %d", cfg.reserveVA, DefaultReserveVA)
	}
	if cfg.maxDirtyPages != DefaultMaxDirtyPages {
		t.Errorf("maxDirtyPages = %d, want %d", cfg.maxDirtyPages, DefaultMaxDirtyPages)
	}
	if cfg.tracker != nil {
		t.Error("tracker should be nil by default")
	}
}

func TestApplyRegionOptions_WithReserveVA(t *testing.T) {
	cfg := applyRegionOptions([]RegionOption{WithReserveVA(1 << 20)})
	if cfg.reserveVA != 1<<20 {
		t.Errorf("reserveVA = %d, want %d", cfg.reserveVA, 1<<20)
	}
	if cfg.maxDirtyPages != DefaultMaxDirtyPages {
		t.Errorf("maxDirtyPages changed unexpectedly: %d", cfg.maxDirtyPages)
	}
}

func TestApplyRegionOptions_WithMaxDirtyPages(t *testing.T) {
	cfg := applyRegionOptions([]RegionOption{WithMaxDirtyPages(16)})
	if cfg.maxDirtyPages != 16 {
		t.Errorf("maxDirtyPages = %d, want 16", cfg.maxDirtyPages)
	}
}

type stubTracker struct{}

func (stubTracker) Finalize(Snapshot) {}

func TestApplyRegionOptions_WithTracker(t *testing.T) {
	tr := stubTracker{}
	cfg := applyRegionOptions([]RegionOption{WithTracker(tr)})
	if cfg.tracker == nil {
		t.Fatal("tracker should be set")
	}
}

func TestApplyRegionOptions_Combined(t *testing.T) {
	cfg := applyRegionOptions([]RegionOption{
		WithReserveVA(2 << 20),
		WithMaxDirtyPages(8),
		WithTracker(stubTracker{}),
	})
	if cfg.reserveVA != 2<<20 || cfg.maxDirtyPages != 8 || cfg.tracker == nil {
		t.Errorf("unexpected combined config: %+v", cfg)
	}
}
