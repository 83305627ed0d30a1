package consensus

import "math/big"

// MaxCompactDifficulty is the ceiling spec.md §4.1 places on any retargeted value.
const MaxCompactDifficulty uint32 = 0x20FFFFFF

// MaxEffectiveBits bounds a compact difficulty value to 30 effective bits per spec.md §3.
const MaxEffectiveBits = 30

// CompactToTarget expands a 32-bit compact difficulty (spec.md §4.1: high byte exponent
// e, low three bytes mantissa m; target = m * 256^(e-3)) into its 256-bit big-endian
// integer target.
func CompactToTarget(bits uint32) (*big.Int, error) {
	exp := byte(bits >> 24)
	mantissa := int64(bits & 0x00FFFFFF)

	target := big.NewInt(mantissa)
	shift := (int(exp) - 3) * 8
	switch {
	case shift > 0:
		target.Lsh(target, uint(shift))
	case shift < 0:
		target.Rsh(target, uint(-shift))
	}
	if target.BitLen() > 256 {
		return nil, cerr(ErrInvalidDifficulty, "target overflows 256 bits")
	}
	return target, nil
}

// TargetToCompact packs a 256-bit big-endian target back into compact form,
// renormalizing the mantissa into a 3-byte window whose top bit is clear.
func TargetToCompact(target *big.Int) uint32 {
	if target.Sign() <= 0 {
		return 0
	}
	b := target.Bytes()
	exp := len(b)
	var mantissa uint32
	switch {
	case exp <= 3:
		mantissa = uint32(new(big.Int).Lsh(target, uint(8*(3-exp))).Uint64())
	default:
		mantissa = uint32(new(big.Int).Rsh(target, uint(8*(exp-3))).Uint64())
	}
	// The sign bit of the top mantissa byte cannot be set (compact-target convention);
	// shift one more byte right and bump the exponent if it would be.
	if mantissa&0x00800000 != 0 {
		mantissa >>= 8
		exp++
	}
	compact := (uint32(exp) << 24) | (mantissa & 0x00FFFFFF)
	if compact > MaxCompactDifficulty {
		return MaxCompactDifficulty
	}
	return compact
}

// PowSatisfied reports whether hash, interpreted as a big-endian 256-bit integer, is
// strictly below the target encoded by bits (spec.md §4.1, §4.4).
func PowSatisfied(hash [32]byte, bits uint32) (bool, error) {
	target, err := CompactToTarget(bits)
	if err != nil {
		return false, err
	}
	h := new(big.Int).SetBytes(hash[:])
	return h.Cmp(target) < 0, nil
}

// RetargetDifficulty implements spec.md §4.1's retarget formula: given the previous
// chunk's compact target and a deviation d = target_blocktime / observed_seconds_per_block,
// clamp d into [0.5, 2.0], rescale the mantissa, renormalize the exponent, and cap the
// result at MaxCompactDifficulty.
func RetargetDifficulty(prevBits uint32, deviation float64) uint32 {
	const (
		minDeviation = 0.5
		maxDeviation = 2.0
	)
	if deviation < minDeviation {
		deviation = minDeviation
	}
	if deviation > maxDeviation {
		deviation = maxDeviation
	}

	exp := int(prevBits >> 24)
	mantissa := int64(prevBits & 0x00FFFFFF)

	newMantissa := int64(float64(mantissa)/deviation + 0.5)
	if newMantissa < 1 {
		newMantissa = 1
	}

	for newMantissa > 0x00FFFFFF {
		newMantissa >>= 8
		exp++
	}
	for newMantissa < 0x00008000 && exp > 3 {
		newMantissa <<= 8
		exp--
	}
	if newMantissa < 1 {
		newMantissa = 1
	}

	compact := (uint32(exp) << 24) | (uint32(newMantissa) & 0x00FFFFFF)
	if compact > MaxCompactDifficulty {
		return MaxCompactDifficulty
	}
	return compact
}

// ObservedSecondsPerBlock computes max(0.01, (t1-t0)/windowSize), the denominator
// spec.md §4.9 feeds into the deviation ratio for a closed retarget window.
func ObservedSecondsPerBlock(t0, t1 uint64, windowSize uint64) float64 {
	var delta float64
	if t1 > t0 {
		delta = float64(t1 - t0)
	}
	observed := delta / float64(windowSize)
	if observed < 0.01 {
		observed = 0.01
	}
	return observed
}
