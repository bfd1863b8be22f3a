//go:build unix

package xpersist

import "testing"

func TestReadWriteByte(t *testing.T) {
	r := mustOpenRegion(t, PageSize)

	if err := r.WriteByte(8, 0x42); err != nil {
		t.Fatal(err)
	}
	got, err := r.ReadByte(8)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0x42 {
		t.Errorf("ReadByte = %#x, want 0x42", got)
	}
}

func TestReadByte_OutOfRange(t *testing.T) {
	r := mustOpenRegion(t, PageSize)

	if _, err := r.ReadByte(uint32(PageSize)); err == nil {
		t.Fatal("expected out-of-range error")
	}
}

func TestReadWriteUint32(t *testing.T) {
	r := mustOpenRegion(t, PageSize)

	if err := r.WriteUint32(16, 0xDEADBEEF); err != nil {
		t.Fatal(err)
	}
	got, err := r.ReadUint32(16)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0xDEADBEEF {
		t.Errorf("ReadUint32 = %#x, want 0xDEADBEEF", got)
	}
}

func TestReadUint32_OutOfRange(t *testing.T) {
	r := mustOpenRegion(t, PageSize)

	if _, err := r.ReadUint32(uint32(PageSize - 1)); err == nil {
		t.Fatal("expected out-of-range error for straddling read")
	}
}

func TestReadWriteUint64(t *testing.T) {
	r := mustOpenRegion(t, PageSize)

	want := uint64(0x0102030405060708)
	if err := r.WriteUint64(32, want); err != nil {
		t.Fatal(err)
	}
	got, err := r.ReadUint64(32)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("ReadUint64 = %#x, want %#x", got, want)
	}
}

func TestReadBytes_RoundTrip(t *testing.T) {
	r := mustOpenRegion(t, PageSize)

	payload := []byte("false sharing detector")
	if err := r.WriteBytes(64, payload); err != nil {
		t.Fatal(err)
	}
	got, err := r.ReadBytes(64, len(payload))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(payload) {
		t.Errorf("ReadBytes = %q, want %q", got, payload)
	}
}

func TestReadBytes_IsACopy(t *testing.T) {
	r := mustOpenRegion(t, PageSize)

	if err := r.WriteBytes(0, []byte("abc")); err != nil {
		t.Fatal(err)
	}
	got, err := r.ReadBytes(0, 3)
	if err != nil {
		t.Fatal(err)
	}
	got[0] = 'X'

	again, err := r.ReadBytes(0, 3)
	if err != nil {
		t.Fatal(err)
	}
	if string(again) != "abc" {
		t.Errorf("mutating a ReadBytes result affected the master mapping: %q", again)
	}
}

func TestSharemem_ReadSeesDirectMasterWrite(t *testing.T) {
	// sharemem reads and writes both go through the master mapping, so
	// a direct master write is readable at once, with no Commit.
	r := mustOpenRegion(t, PageSize)

	if err := r.WriteUint32(0, 0xAAAAAAAA); err != nil {
		t.Fatal(err)
	}
	got, err := r.ReadUint32(0)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0xAAAAAAAA {
		t.Errorf("direct master write should be immediately readable, got %#x", got)
	}
}
