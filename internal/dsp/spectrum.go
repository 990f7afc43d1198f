package dsp

import (
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Spectrum caches a Hamming window and an FFT plan so that power spectra of
// received blocks can be computed repeatedly without reallocating them.
type Spectrum struct {
	mu        sync.Mutex
	window    []float64
	windowSum float64
	size      int
	fft       *fourier.CmplxFFT
}

// NewSpectrum prepares a spectrum analyzer for blocks of size samples.
func NewSpectrum(size int) *Spectrum {
	if size < 1 {
		size = 1
	}
	window := Hamming(size)
	return &Spectrum{
		window:    window,
		windowSum: WindowGain(window),
		size:      size,
		fft:       fourier.NewCmplxFFT(size),
	}
}

// Size returns the FFT length.
func (s *Spectrum) Size() int { return s.size }

// DBFS returns the DC-centered magnitude spectrum of the first Size() samples
// in dB relative to a unit-amplitude tone. Shorter inputs are zero padded.
func (s *Spectrum) DBFS(samples []complex64) []float64 {
	block := make([]complex64, s.size)
	copy(block, samples)
	windowed := ApplyWindow(block, s.window)

	s.mu.Lock()
	coeffs := s.fft.Coefficients(nil, windowed)
	s.mu.Unlock()

	shifted := FFTShift(coeffs)
	dbfs := make([]float64, len(shifted))
	for i, v := range shifted {
		mag := cmplx.Abs(v) / s.windowSum
		if mag == 0 {
			dbfs[i] = math.Inf(-1)
			continue
		}
		dbfs[i] = 20 * math.Log10(mag)
	}
	return dbfs
}

// PeakFrequency returns the normalized frequency (cycles per sample) of the
// strongest bin in a spectrum produced by DBFS.
func PeakFrequency(dbfs []float64) float64 {
	n := len(dbfs)
	if n == 0 {
		return 0
	}
	best := 0
	for i, v := range dbfs {
		if v > dbfs[best] {
			best = i
		}
	}
	return float64(best-n/2) / float64(n)
}

// FFTShift returns the FFT output shifted so that DC is centered.
func FFTShift(data []complex128) []complex128 {
	n := len(data)
	if n == 0 {
		return []complex128{}
	}
	half := n / 2
	shifted := make([]complex128, 0, n)
	shifted = append(shifted, data[half:]...)
	shifted = append(shifted, data[:half]...)
	return shifted
}
