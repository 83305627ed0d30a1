package consensus

import (
	"math/big"
	"testing"
)

func TestCompactTargetRoundTrip(t *testing.T) {
	cases := []uint32{0x2000ffff, 0x1d00ffff, 0x207fffff}
	for _, bits := range cases {
		target, err := CompactToTarget(bits)
		if err != nil {
			t.Fatalf("CompactToTarget(%#x): %v", bits, err)
		}
		back := TargetToCompact(target)
		if back != bits {
			t.Errorf("TargetToCompact(CompactToTarget(%#x)) = %#x, want %#x", bits, back, bits)
		}
	}
}

func TestRetargetFixedPointAtDeviationOne(t *testing.T) {
	bits := uint32(0x2000ffff)
	got := RetargetDifficulty(bits, 1.0)
	if got != bits {
		t.Fatalf("retarget at deviation 1.0 = %#x, want fixed point %#x", got, bits)
	}
}

func TestRetargetReciprocalRoundTrip(t *testing.T) {
	bits := uint32(0x2000ffff)
	harder := RetargetDifficulty(bits, 2.0)
	back := RetargetDifficulty(harder, 0.5)

	origTarget, _ := CompactToTarget(bits)
	backTarget, _ := CompactToTarget(back)
	diff := new(big.Int).Sub(origTarget, backTarget)
	diff.Abs(diff)
	// One mantissa ULP at this exponent is 256^(e-3).
	ulp := new(big.Int).Lsh(big.NewInt(1), uint(8*(int(bits>>24)-3)))
	if diff.Cmp(ulp) > 0 {
		t.Fatalf("round trip drifted by more than one mantissa ULP: orig=%#x back=%#x", bits, back)
	}
}

func TestRetargetClampsDeviation(t *testing.T) {
	bits := uint32(0x2000ffff)
	extreme := RetargetDifficulty(bits, 1000.0)
	clamped := RetargetDifficulty(bits, 2.0)
	if extreme != clamped {
		t.Fatalf("deviation above 2.0 was not clamped: got %#x want %#x", extreme, clamped)
	}
}

func TestRetargetCapsAtMaximum(t *testing.T) {
	got := RetargetDifficulty(MaxCompactDifficulty, 0.5)
	if got != MaxCompactDifficulty {
		t.Fatalf("retarget exceeded cap: got %#x", got)
	}
}

func TestPowSatisfied(t *testing.T) {
	bits := uint32(0x20ffffff) // easiest possible target
	var hash [32]byte
	hash[31] = 1 // smallest nonzero hash
	ok, err := PowSatisfied(hash, bits)
	if err != nil {
		t.Fatalf("PowSatisfied: %v", err)
	}
	if !ok {
		t.Fatalf("expected smallest nonzero hash to satisfy easiest target")
	}

	var maxHash [32]byte
	for i := range maxHash {
		maxHash[i] = 0xff
	}
	ok, err = PowSatisfied(maxHash, bits)
	if err != nil {
		t.Fatalf("PowSatisfied: %v", err)
	}
	if ok {
		t.Fatalf("expected maximal hash to fail even the easiest target")
	}
}
