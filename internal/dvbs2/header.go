package dvbs2

import "math"

const (
	sofWord      = 0x18D2E82
	plscScramble = 0x719D83C953422DFA
)

// Reed-Muller (32,6) generator rows, MSB first.
var plscGenerator = [6]uint32{
	0x55555555,
	0x33333333,
	0x0F0F0F0F,
	0x00FF00FF,
	0x0000FFFF,
	0xFFFFFFFF,
}

var invSqrt2 = float32(1 / math.Sqrt2)

// PLS returns the 7-bit PLS field: MODCOD in the upper five bits followed
// by the short-frame and pilot flags.
func (m ModCod) PLS() uint8 {
	pls := uint8(m.ID&0x1F) << 2
	if m.Short {
		pls |= 0x2
	}
	if m.Pilots {
		pls |= 0x1
	}
	return pls
}

// PLSCode encodes a PLS field into the 64-bit scrambled PLS code, MSB first.
func PLSCode(pls uint8) uint64 {
	var y uint32
	for i := 0; i < 6; i++ {
		if pls&(0x40>>i) != 0 {
			y ^= plscGenerator[i]
		}
	}
	b := uint64(pls & 1)
	var code uint64
	for i := 31; i >= 0; i-- {
		bit := uint64(y>>i) & 1
		code = code<<2 | bit<<1 | (bit ^ b)
	}
	return code ^ plscScramble
}

// HeaderBits returns the 90 header bits (SOF followed by the PLS code).
func HeaderBits(pls uint8) []uint8 {
	out := make([]uint8, HeaderSize)
	for i := 0; i < SOFSize; i++ {
		out[i] = uint8((uint32(sofWord) >> (SOFSize - 1 - i)) & 1)
	}
	code := PLSCode(pls)
	for i := 0; i < PLSCSize; i++ {
		out[SOFSize+i] = uint8(code>>(PLSCSize-1-i)) & 1
	}
	return out
}

// PiOver2BPSK maps bits onto the π/2-BPSK constellation used by the PL
// header. Symbol i is rotated by π/2 relative to symbol i-1.
func PiOver2BPSK(in []uint8, out []complex64) {
	for i, b := range in {
		var s complex64
		if i&1 == 0 {
			s = complex(invSqrt2, invSqrt2)
		} else {
			s = complex(-invSqrt2, invSqrt2)
		}
		if b&1 != 0 {
			s = -s
		}
		out[i] = s
	}
}

// Header returns the modulated PL header of the MODCOD.
func Header(m ModCod) []complex64 {
	out := make([]complex64, HeaderSize)
	PiOver2BPSK(HeaderBits(m.PLS()), out)
	return out
}

// DecodePLS recovers the PLS field from the 64 PLSC symbols of a phase
// corrected header by maximum correlation over all 128 codewords. The
// returned score is the normalised correlation in [-1, 1].
func DecodePLS(plsc []complex64) (uint8, float64) {
	if len(plsc) < PLSCSize {
		return 0, 0
	}
	soft := make([]float64, PLSCSize)
	for i := 0; i < PLSCSize; i++ {
		// Project onto the bit-0 point of the symbol's π/2-BPSK axis.
		k := SOFSize + i
		x := plsc[i]
		if k&1 == 0 {
			soft[i] = float64(real(x)+imag(x)) * float64(invSqrt2)
		} else {
			soft[i] = float64(imag(x)-real(x)) * float64(invSqrt2)
		}
	}
	var energy float64
	for _, v := range soft {
		energy += math.Abs(v)
	}
	best, bestScore := uint8(0), math.Inf(-1)
	for pls := 0; pls < 128; pls++ {
		code := PLSCode(uint8(pls))
		var score float64
		for i := 0; i < PLSCSize; i++ {
			if (code>>(PLSCSize-1-i))&1 == 0 {
				score += soft[i]
			} else {
				score -= soft[i]
			}
		}
		if score > bestScore {
			best, bestScore = uint8(pls), score
		}
	}
	if energy == 0 {
		return best, 0
	}
	return best, bestScore / energy
}

// LookupPLS returns the MODCOD described by a decoded PLS field.
func LookupPLS(pls uint8) (ModCod, bool) {
	for _, m := range modcods {
		if m.PLS() == pls {
			return m, true
		}
	}
	return ModCod{}, false
}

// SyncReference returns the conjugated differential reference of the
// SOF and PLSC used by the frame correlator. Entry k pairs header symbols
// k and k+1. The PLSC part only keeps the pair-internal differentials,
// which depend on the pilot flag alone.
func SyncReference() []complex64 {
	h := make([]complex64, HeaderSize)
	PiOver2BPSK(HeaderBits(0), h)
	ref := make([]complex64, HeaderSize-1)
	for k := 0; k < SOFSize-1; k++ {
		ref[k] = conj(h[k] * conj(h[k+1]))
	}
	for k := SOFSize; k < HeaderSize-1; k += 2 {
		ref[k] = conj(h[k] * conj(h[k+1]))
	}
	return ref
}

// SOFLength is the number of differential SOF terms in SyncReference.
const SOFLength = SOFSize - 1

func conj(x complex64) complex64 { return complex(real(x), -imag(x)) }
