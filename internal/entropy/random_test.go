package entropy

import "testing"

func TestSeededDeterministic(t *testing.T) {
	a := NewSeeded(42)
	b := NewSeeded(42)
	for i := 0; i < 100; i++ {
		va, vb := a.Float(), b.Float()
		if va != vb {
			t.Fatalf("draw %d differs: %f vs %f", i, va, vb)
		}
		if va < 0 || va >= 1 {
			t.Fatalf("draw %d out of range: %f", i, va)
		}
	}
}

func TestSequenceWraps(t *testing.T) {
	s := NewSequence(0.1, 0.2, 0.3)
	want := []float64{0.1, 0.2, 0.3, 0.1, 0.2}
	for i, w := range want {
		if got := s.Float(); got != w {
			t.Fatalf("draw %d = %f, want %f", i, got, w)
		}
	}

	if got := NewSequence().Float(); got != 0 {
		t.Fatalf("empty sequence should yield 0, got %f", got)
	}
}

func TestRangeAndJitter(t *testing.T) {
	if got := Range(Constant(0.5), 3, 8); got != 5.5 {
		t.Fatalf("Range = %f, want 5.5", got)
	}
	if got := Jitter(Constant(0)); got != -0.5 {
		t.Fatalf("Jitter = %f, want -0.5", got)
	}
}

func TestCryptoInRange(t *testing.T) {
	var c Crypto
	for i := 0; i < 50; i++ {
		if v := c.Float(); v < 0 || v >= 1 {
			t.Fatalf("crypto float out of range: %f", v)
		}
	}
}
