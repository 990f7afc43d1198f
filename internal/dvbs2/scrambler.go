package dvbs2

import "math"

// GoldSequence returns n PL scrambling values R in {0,1,2,3} for Gold code
// number 0.
func GoldSequence(n int) []uint8 {
	out := make([]uint8, n)
	x := uint32(0x00001)
	y := uint32(0x3FFFF)
	for i := 0; i < n; i++ {
		zx := (x>>4 ^ x>>6 ^ x>>15) & 1
		zy := (y>>5 ^ y>>6 ^ y>>8 ^ y>>9 ^ y>>10 ^ y>>11 ^ y>>12 ^ y>>13 ^ y>>14 ^ y>>15) & 1
		out[i] = uint8((x^y)&1 | (zx^zy)<<1)

		fbx := (x ^ x>>7) & 1
		fby := (y ^ y>>5 ^ y>>7 ^ y>>10) & 1
		x = x>>1 | fbx<<17
		y = y>>1 | fby<<17
	}
	return out
}

// ScramblingSequence returns R for every position of a PL frame. Header
// positions are not scrambled and hold 0.
func ScramblingSequence(frameSize int) []uint8 {
	out := make([]uint8, frameSize)
	if frameSize > HeaderSize {
		copy(out[HeaderSize:], GoldSequence(frameSize-HeaderSize))
	}
	return out
}

// rotateQuarter multiplies x by j^r.
func rotateQuarter(x complex64, r uint8) complex64 {
	switch r & 3 {
	case 1:
		return complex(-imag(x), real(x))
	case 2:
		return -x
	case 3:
		return complex(imag(x), -real(x))
	}
	return x
}

// Scramble rotates every symbol by j^R. in and out may alias.
func Scramble(seq []uint8, in, out []complex64) {
	for i := range in {
		out[i] = rotateQuarter(in[i], seq[i])
	}
}

// Descramble undoes Scramble. in and out may alias.
func Descramble(seq []uint8, in, out []complex64) {
	for i := range in {
		out[i] = rotateQuarter(in[i], 4-seq[i]&3)
	}
}

// PilotSymbol is the unscrambled pilot value.
var PilotSymbol = complex64(complex(invSqrt2, invSqrt2))

// ScrambledPilots returns the transmitted value exp(jπ/2·(R+0.5)) of a
// pilot placed at every frame position. Only pilot positions are meaningful.
func ScrambledPilots(frameSize int) []complex64 {
	seq := ScramblingSequence(frameSize)
	out := make([]complex64, frameSize)
	for i, r := range seq {
		ph := math.Pi / 2 * (float64(r) + 0.5)
		out[i] = complex(float32(math.Cos(ph)), float32(math.Sin(ph)))
	}
	return out
}
