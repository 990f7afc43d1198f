package dvbs2

import (
	"fmt"
	"math"
)

// Modulator maps bits onto constellation symbols.
type Modulator interface {
	BitsPerSymbol() int
	Modulate(bits []uint8, out []complex64) error
}

// HardDemodulator produces hard bit decisions.
type HardDemodulator interface {
	DemodulateHard(symbols []complex64, bits []uint8) error
}

// SoftDemodulator produces log-likelihood ratios. A positive LLR favours
// bit 0.
type SoftDemodulator interface {
	DemodulateSoft(symbols []complex64, noiseVar float64, llr []float64) error
}

// PSK is a unit-energy phase shift keying constellation. It implements
// Modulator, HardDemodulator and SoftDemodulator.
type PSK struct {
	bits   int
	points []complex64 // indexed by the bit label, MSB first
}

// NewModem returns the constellation of the MODCOD.
func NewModem(m ModCod) (*PSK, error) {
	switch m.BitsPerSymbol {
	case 2:
		return NewQPSK(), nil
	case 3:
		return New8PSK(), nil
	}
	return nil, fmt.Errorf("%w: modem for %s", ErrUnsupported, m.Name)
}

// NewQPSK returns the Gray mapped DVB-S2 QPSK constellation.
func NewQPSK() *PSK {
	return &PSK{bits: 2, points: []complex64{
		complex(invSqrt2, invSqrt2),
		complex(invSqrt2, -invSqrt2),
		complex(-invSqrt2, invSqrt2),
		complex(-invSqrt2, -invSqrt2),
	}}
}

// New8PSK returns the DVB-S2 8PSK constellation.
func New8PSK() *PSK {
	angles := [8]float64{
		math.Pi / 4, 0, math.Pi, 5 * math.Pi / 4,
		math.Pi / 2, 7 * math.Pi / 4, 3 * math.Pi / 4, 3 * math.Pi / 2,
	}
	points := make([]complex64, len(angles))
	for i, a := range angles {
		points[i] = complex(float32(math.Cos(a)), float32(math.Sin(a)))
	}
	return &PSK{bits: 3, points: points}
}

// BitsPerSymbol returns the label width.
func (p *PSK) BitsPerSymbol() int { return p.bits }

// Points returns the constellation indexed by label.
func (p *PSK) Points() []complex64 { return p.points }

// Modulate maps len(out)*BitsPerSymbol bits, MSB first per symbol.
func (p *PSK) Modulate(bits []uint8, out []complex64) error {
	if len(bits) != len(out)*p.bits {
		return fmt.Errorf("dvbs2: modulate: %d bits for %d symbols", len(bits), len(out))
	}
	for i := range out {
		label := 0
		for b := 0; b < p.bits; b++ {
			label = label<<1 | int(bits[i*p.bits+b]&1)
		}
		out[i] = p.points[label]
	}
	return nil
}

// Slice returns the label of the nearest constellation point.
func (p *PSK) Slice(x complex64) int {
	best, bestDist := 0, float32(math.MaxFloat32)
	for label, s := range p.points {
		d := sqDist(x, s)
		if d < bestDist {
			best, bestDist = label, d
		}
	}
	return best
}

// DemodulateHard writes the bits of the nearest point of every symbol.
func (p *PSK) DemodulateHard(symbols []complex64, bits []uint8) error {
	if len(bits) != len(symbols)*p.bits {
		return fmt.Errorf("dvbs2: demodulate: %d bits for %d symbols", len(bits), len(symbols))
	}
	for i, x := range symbols {
		label := p.Slice(x)
		for b := 0; b < p.bits; b++ {
			bits[i*p.bits+b] = uint8(label>>(p.bits-1-b)) & 1
		}
	}
	return nil
}

// DemodulateSoft computes max-log LLRs for complex AWGN of variance
// noiseVar.
func (p *PSK) DemodulateSoft(symbols []complex64, noiseVar float64, llr []float64) error {
	if len(llr) != len(symbols)*p.bits {
		return fmt.Errorf("dvbs2: demodulate: %d llrs for %d symbols", len(llr), len(symbols))
	}
	if noiseVar <= 0 {
		return fmt.Errorf("dvbs2: demodulate: noise variance %.3g must be positive", noiseVar)
	}
	for i, x := range symbols {
		for b := 0; b < p.bits; b++ {
			mask := 1 << (p.bits - 1 - b)
			d0, d1 := math.Inf(1), math.Inf(1)
			for label, s := range p.points {
				d := float64(sqDist(x, s))
				if label&mask == 0 {
					d0 = math.Min(d0, d)
				} else {
					d1 = math.Min(d1, d)
				}
			}
			llr[i*p.bits+b] = (d1 - d0) / noiseVar
		}
	}
	return nil
}

// SymbolErrors counts symbols whose nearest point differs from the
// reference symbols.
func (p *PSK) SymbolErrors(got, want []complex64) int {
	n := len(got)
	if len(want) < n {
		n = len(want)
	}
	errs := 0
	for i := 0; i < n; i++ {
		if p.Slice(got[i]) != p.Slice(want[i]) {
			errs++
		}
	}
	return errs
}

func sqDist(a, b complex64) float32 {
	dr := real(a) - real(b)
	di := imag(a) - imag(b)
	return dr*dr + di*di
}
