package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// Analyser defaults, matching a browser AnalyserNode.
const (
	DefaultFFTSize     = 256
	DefaultSmoothing   = 0.8
	DefaultMinDecibels = -100.0
	DefaultMaxDecibels = -30.0

	minFFTSize = 32
	maxFFTSize = 32768
)

// Analyser turns interleaved S16LE PCM into byte frequency magnitudes.
// Write feeds it samples; ReadMagnitudes takes a snapshot of the spectrum of
// the most recent FFTSize mono samples. It is safe for concurrent use.
type Analyser struct {
	format    Format
	size      int
	smoothing float64
	minDB     float64
	maxDB     float64

	mu       sync.Mutex
	ring     []float64
	pos      int
	carry    []byte
	smoothed []float64
	weights  []float64
	seq      []float64
	coeffs   []complex128
	fft      *fourier.FFT
}

// NewAnalyser creates an analyser over a rolling window of fftSize samples.
// fftSize must be a power of two between 32 and 32768.
func NewAnalyser(f Format, fftSize int) (*Analyser, error) {
	if fftSize < minFFTSize || fftSize > maxFFTSize || bits.OnesCount(uint(fftSize)) != 1 {
		return nil, fmt.Errorf("fft size %d must be a power of two between %d and %d", fftSize, minFFTSize, maxFFTSize)
	}
	if f.Channels < 1 {
		return nil, fmt.Errorf("invalid channel count %d", f.Channels)
	}

	weights := make([]float64, fftSize)
	for i := range weights {
		weights[i] = 1
	}

	return &Analyser{
		format:    f,
		size:      fftSize,
		smoothing: DefaultSmoothing,
		minDB:     DefaultMinDecibels,
		maxDB:     DefaultMaxDecibels,
		ring:      make([]float64, fftSize),
		smoothed:  make([]float64, fftSize/2),
		weights:   window.Blackman(weights),
		seq:       make([]float64, fftSize),
		coeffs:    make([]complex128, fftSize/2+1),
		fft:       fourier.NewFFT(fftSize),
	}, nil
}

// FrequencyBinCount returns the number of magnitudes ReadMagnitudes produces.
func (a *Analyser) FrequencyBinCount() int {
	return a.size / 2
}

// Write mixes the interleaved frames in p down to mono and appends them to
// the window. Partial frames are kept until the next call. It never fails.
func (a *Analyser) Write(p []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	buf := p
	if len(a.carry) > 0 {
		buf = append(a.carry, p...)
	}

	frame := a.format.FrameSize()
	channels := float64(a.format.Channels)
	n := len(buf) - len(buf)%frame
	for i := 0; i < n; i += frame {
		var sum float64
		for c := 0; c < frame; c += 2 {
			sum += float64(int16(binary.LittleEndian.Uint16(buf[i+c:])))
		}
		a.ring[a.pos] = sum / channels / MaxSampleValue
		a.pos = (a.pos + 1) % a.size
	}

	a.carry = append(a.carry[:0], buf[n:]...)
	return len(p), nil
}

// ReadMagnitudes fills dst with up to FrequencyBinCount byte magnitudes and
// returns how many were written. Each call advances the smoothing state.
func (a *Analyser) ReadMagnitudes(dst []uint8) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.seq {
		a.seq[i] = a.ring[(a.pos+i)%a.size] * a.weights[i]
	}
	a.coeffs = a.fft.Coefficients(a.coeffs, a.seq)

	n := min(len(dst), len(a.smoothed))
	scale := 255 / (a.maxDB - a.minDB)
	for k := range a.smoothed {
		mag := cmplx.Abs(a.coeffs[k]) / float64(a.size)
		a.smoothed[k] = a.smoothing*a.smoothed[k] + (1-a.smoothing)*mag
		if k >= n {
			continue
		}
		if a.smoothed[k] <= 0 {
			dst[k] = 0
			continue
		}
		db := 20 * math.Log10(a.smoothed[k])
		dst[k] = uint8(math.Floor(math.Min(math.Max(scale*(db-a.minDB), 0), 255)))
	}
	return n
}

// Levels meters the current window.
func (a *Analyser) Levels() Levels {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Meter(a.ring)
}
