package xpersist

import "testing"

func TestSeqBeginWrite_EndWrite(t *testing.T) {
	r := mustOpenRegion(t, PageSize)

	seq0 := r.SeqReadBegin(0)
	if seq0 != 0 {
		t.Fatalf("initial seq = %d, want 0", seq0)
	}

	r.SeqBeginWrite(0)
	seq1 := r.SeqReadBegin(0)
	if seq1&1 != 1 {
		t.Errorf("seq after BeginWrite = %d, want odd", seq1)
	}

	r.SeqEndWrite(0)
	seq2 := r.SeqReadBegin(0)
	if seq2&1 != 0 {
		t.Errorf("seq after EndWrite = %d, want even", seq2)
	}
	if seq2 != 2 {
		t.Errorf("seq after full cycle = %d, want 2", seq2)
	}
}

func TestSeqReadValid_EvenAndMatching(t *testing.T) {
	r := mustOpenRegion(t, PageSize)

	seq := r.SeqReadBegin(8)
	if !r.SeqReadValid(8, seq) {
		t.Error("fresh even seq with no intervening write should be valid")
	}
}

func TestSeqReadValid_OddIsInvalid(t *testing.T) {
	r := mustOpenRegion(t, PageSize)

	r.SeqBeginWrite(8)
	seq := r.SeqReadBegin(8)
	if r.SeqReadValid(8, seq) {
		t.Error("odd seq (write in progress) should never be valid")
	}
}

func TestSeqReadValid_ChangedDuringRead(t *testing.T) {
	r := mustOpenRegion(t, PageSize)

	seq := r.SeqReadBegin(8)
	r.SeqBeginWrite(8)
	r.SeqEndWrite(8)

	if r.SeqReadValid(8, seq) {
		t.Error("seq changed during read window should be invalid")
	}
}

func TestSeqLock_IndependentOffsets(t *testing.T) {
	r := mustOpenRegion(t, PageSize)

	r.SeqBeginWrite(0)
	seqOther := r.SeqReadBegin(16)
	if seqOther != 0 {
		t.Errorf("writing offset 0 should not disturb offset 16, got %d", seqOther)
	}
}
